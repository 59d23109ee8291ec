package domain

import "encoding/json"

type AgentStatus string

const (
	AgentStatusPending   AgentStatus = "pending"
	AgentStatusCompleted AgentStatus = "completed"
	AgentStatusError     AgentStatus = "error"
)

// Terminal reports whether no further transitions are expected.
func (s AgentStatus) Terminal() bool {
	return s == AgentStatusCompleted || s == AgentStatusError
}

// AgentResult is one agent's report for a check. Result is kept verbatim.
type AgentResult struct {
	AgentID string          `json:"agent_id"`
	Status  AgentStatus     `json:"status"`
	Log     string          `json:"log,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// CheckResult is the body of GET /check/{id}.
type CheckResult struct {
	Results []AgentResult `json:"results,omitempty"`
}

// CloneResults deep-copies agent results, keeping nil as nil.
func CloneResults(in []AgentResult) []AgentResult {
	if in == nil {
		return nil
	}
	out := make([]AgentResult, len(in))
	for i, r := range in {
		out[i] = r
		if r.Result != nil {
			out[i].Result = append(json.RawMessage(nil), r.Result...)
		}
	}
	return out
}

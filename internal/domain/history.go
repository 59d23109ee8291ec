package domain

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

type CheckStatus string

const (
	StatusPending   CheckStatus = "pending"
	StatusRunning   CheckStatus = "running"
	StatusCompleted CheckStatus = "completed"
	StatusError     CheckStatus = "error"
)

// CheckRecord is a history entry for a submitted check and its evolving results.
type CheckRecord struct {
	ID        string        `json:"id"`
	Target    string        `json:"target"`
	Checks    []CheckType   `json:"checks"`
	Status    CheckStatus   `json:"status"`
	CreatedAt Timestamp     `json:"created_at,omitzero"`
	UpdatedAt Timestamp     `json:"updated_at,omitzero"`
	Millis    int64         `json:"timestamp,omitempty"`
	Results   []AgentResult `json:"results,omitempty"`
}

// SortTime is created_at, falling back to the numeric millisecond timestamp.
func (r CheckRecord) SortTime() time.Time {
	if !r.CreatedAt.IsZero() {
		return r.CreatedAt.Time
	}
	if r.Millis > 0 {
		return time.UnixMilli(r.Millis).UTC()
	}
	return time.Time{}
}

func (r CheckRecord) Clone() CheckRecord {
	out := r
	if r.Checks != nil {
		out.Checks = append([]CheckType(nil), r.Checks...)
	}
	out.Results = CloneResults(r.Results)
	return out
}

// CloneRecords deep-copies a record slice.
func CloneRecords(in []CheckRecord) []CheckRecord {
	out := make([]CheckRecord, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
}

// Timestamp is a time that tolerates the ISO variants the backend emits.
// Values without a zone are read as UTC; unparsable values decode as zero.
type Timestamp struct {
	time.Time
}

func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format(time.RFC3339Nano))
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		t.Time = time.Time{}
		return nil
	}

	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Time = time.Time{}
		return nil
	}

	raw = strings.TrimSpace(raw)
	for _, layout := range timestampLayouts {
		if parsed, err := time.Parse(layout, raw); err == nil {
			t.Time = parsed.UTC()
			return nil
		}
	}

	t.Time = time.Time{}
	return nil
}

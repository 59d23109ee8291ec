package domain

const AgentStatusOnline = "online"

// Agent is an entry of GET /agents.
type Agent struct {
	Name         string `json:"name"`
	Status       string `json:"status"`
	Location     string `json:"location"`
	ActiveChecks int    `json:"active_checks"`
}

// AgentStats summarises the agent fleet as the dashboard shows it.
type AgentStats struct {
	Total        int `json:"total"`
	Online       int `json:"online"`
	ActiveChecks int `json:"active_checks"`
}

func ComputeAgentStats(agents []Agent) AgentStats {
	stats := AgentStats{Total: len(agents)}
	for _, a := range agents {
		if a.Status == AgentStatusOnline {
			stats.Online++
		}
		stats.ActiveChecks += a.ActiveChecks
	}
	return stats
}

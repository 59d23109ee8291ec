package domain

import "time"

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
	Client    string       `json:"client"`
	Message   string       `json:"message,omitempty"`
}

// ComponentHealth статус здоровья компонента
type ComponentHealth struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// DetailedHealthResponse детальный ответ о здоровье
type DetailedHealthResponse struct {
	Status     HealthStatus      `json:"status"`
	Timestamp  time.Time         `json:"timestamp"`
	Client     string            `json:"client"`
	Components []ComponentHealth `json:"components"`
	Version    string            `json:"version"`
}

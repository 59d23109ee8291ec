package http

import (
	"context"
	"net/http"
	"time"

	"ozzus/client-aeza/internal/domain"

	"github.com/gin-gonic/gin"
)

const version = "1.0.0"

type StatusProvider interface {
	HealthCheck(ctx context.Context) error
	GetStatus() map[string]interface{}
}

type RefreshReporter interface {
	LastRefresh() (time.Time, error)
}

type HealthController struct {
	service    StatusProvider
	agents     RefreshReporter
	clientName string
}

func NewHealthController(service StatusProvider, agents RefreshReporter, clientName string) *HealthController {
	return &HealthController{
		service:    service,
		agents:     agents,
		clientName: clientName,
	}
}

// Health handler для проверки работоспособности клиента
func (h *HealthController) Health(c *gin.Context) {
	if err := h.service.HealthCheck(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, domain.HealthResponse{
			Status:    domain.HealthStatusUnhealthy,
			Timestamp: time.Now(),
			Client:    h.clientName,
			Message:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, domain.HealthResponse{
		Status:    domain.HealthStatusHealthy,
		Timestamp: time.Now(),
		Client:    h.clientName,
		Message:   "Client is running",
	})
}

// Ready reports per-component readiness. The backend counts as reachable once
// the agents refresher has succeeded at least once.
func (h *HealthController) Ready(c *gin.Context) {
	resp := domain.DetailedHealthResponse{
		Status:    domain.HealthStatusHealthy,
		Timestamp: time.Now(),
		Client:    h.clientName,
		Version:   version,
	}

	checks := domain.ComponentHealth{Name: "checks", Status: string(domain.HealthStatusHealthy)}
	if err := h.service.HealthCheck(c.Request.Context()); err != nil {
		checks.Status = string(domain.HealthStatusUnhealthy)
		checks.Message = err.Error()
		resp.Status = domain.HealthStatusUnhealthy
	}

	backend := domain.ComponentHealth{Name: "backend", Status: string(domain.HealthStatusHealthy)}
	if h.agents != nil {
		at, err := h.agents.LastRefresh()
		switch {
		case at.IsZero():
			backend.Status = string(domain.HealthStatusUnhealthy)
			backend.Message = "backend not reached yet"
			resp.Status = domain.HealthStatusUnhealthy
		case err != nil:
			backend.Message = "last refresh failed: " + err.Error()
		}
	}

	resp.Components = []domain.ComponentHealth{checks, backend}

	status := http.StatusOK
	if resp.Status != domain.HealthStatusHealthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// Status handler для получения детального статуса клиента
func (h *HealthController) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"client":    h.clientName,
		"version":   version,
		"status":    h.service.GetStatus(),
		"timestamp": time.Now(),
	})
}

package http

import (
	"context"
	"errors"
	"net/http"

	"ozzus/client-aeza/internal/agents"
	"ozzus/client-aeza/internal/backend"
	"ozzus/client-aeza/internal/domain"
	"ozzus/client-aeza/internal/service"

	"github.com/gin-gonic/gin"
)

type AgentsView interface {
	Agents() ([]domain.Agent, error)
	Stats() (domain.AgentStats, error)
}

type StatsSource interface {
	GetStats(ctx context.Context) (map[string]any, error)
}

type CheckController struct {
	checks *service.CheckService
	agents AgentsView
	stats  StatsSource
}

func NewCheckController(checks *service.CheckService, agents AgentsView, stats StatsSource) *CheckController {
	return &CheckController{
		checks: checks,
		agents: agents,
		stats:  stats,
	}
}

func (h *CheckController) ListHistory(c *gin.Context) {
	c.JSON(http.StatusOK, h.checks.History().Records())
}

// SyncHistory merges server history into the local cache. An unreachable
// server is not an error; the response is flagged as degraded.
func (h *CheckController) SyncHistory(c *gin.Context) {
	snap := h.checks.History().Initialize(c.Request.Context())

	resp := gin.H{
		"records":  snap.Records,
		"degraded": snap.Degraded,
	}
	if snap.Cause != nil {
		resp["error"] = snap.Cause.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CheckController) ClearHistory(c *gin.Context) {
	if c.Query("confirm") != "true" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "clearing history requires confirm=true"})
		return
	}

	h.checks.ClearAll()
	c.Status(http.StatusNoContent)
}

func (h *CheckController) CreateCheck(c *gin.Context) {
	var req domain.CheckRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	record, err := h.checks.CreateCheck(c.Request.Context(), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (h *CheckController) GetCheck(c *gin.Context) {
	record, ok := h.checks.History().Get(c.Param("id"))
	if !ok {
		writeError(c, service.ErrRecordNotFound)
		return
	}

	c.JSON(http.StatusOK, record)
}

func (h *CheckController) DeleteCheck(c *gin.Context) {
	h.checks.DeleteRecord(c.Param("id"))
	c.Status(http.StatusNoContent)
}

func (h *CheckController) StartPoll(c *gin.Context) {
	id := c.Param("id")
	if _, ok := h.checks.History().Get(id); !ok {
		writeError(c, service.ErrRecordNotFound)
		return
	}

	if !h.checks.StartPollingFor(id) {
		writeError(c, service.ErrShutdown)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"check_id": id, "polling": true})
}

func (h *CheckController) CancelPoll(c *gin.Context) {
	id := c.Param("id")
	c.JSON(http.StatusOK, gin.H{"check_id": id, "canceled": h.checks.CancelPoll(id)})
}

func (h *CheckController) Repeat(c *gin.Context) {
	record, err := h.checks.Repeat(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, record)
}

func (h *CheckController) ListAgents(c *gin.Context) {
	list, err := h.agents.Agents()
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, list)
}

// Stats returns client-side agent stats and, when reachable, the backend's
// own stats.
func (h *CheckController) Stats(c *gin.Context) {
	agentStats, err := h.agents.Stats()
	if err != nil {
		writeError(c, err)
		return
	}

	resp := gin.H{"agents": agentStats}

	server, err := h.stats.GetStats(c.Request.Context())
	if err != nil {
		resp["server_error"] = err.Error()
	} else {
		resp["server"] = server
	}

	c.JSON(http.StatusOK, resp)
}

func writeError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

func statusFor(err error) int {
	var apiErr *backend.APIError

	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRecordNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrShutdown), errors.Is(err, agents.ErrNoData):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		return apiErr.StatusCode
	case backend.IsNetworkError(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

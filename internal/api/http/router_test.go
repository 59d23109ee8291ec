package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"ozzus/client-aeza/internal/agents"
	"ozzus/client-aeza/internal/backend"
	"ozzus/client-aeza/internal/domain"
	"ozzus/client-aeza/internal/history"
	"ozzus/client-aeza/internal/poller"
	"ozzus/client-aeza/internal/service"
	"ozzus/client-aeza/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopRemote struct {
	err error
}

func (r nopRemote) GetHistory(ctx context.Context) ([]domain.CheckRecord, error) {
	return nil, r.err
}
func (nopRemote) SyncHistory(ctx context.Context, rec domain.CheckRecord) error { return nil }
func (nopRemote) DeleteCheck(ctx context.Context, id string) error              { return nil }
func (nopRemote) ClearHistory(ctx context.Context) error                        { return nil }

type fakeBackend struct {
	mu        sync.Mutex
	n         int
	createErr error
}

func (f *fakeBackend) CreateCheck(ctx context.Context, req domain.CheckRequest) (*domain.CreateCheckResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.n++
	return &domain.CreateCheckResponse{CheckID: fmt.Sprintf("chk-%d", f.n)}, nil
}

func (f *fakeBackend) GetCheckResult(ctx context.Context, id string) (*domain.CheckResult, error) {
	return &domain.CheckResult{Results: []domain.AgentResult{{AgentID: "msk-1", Status: domain.AgentStatusPending}}}, nil
}

func (f *fakeBackend) GetStats(ctx context.Context) (map[string]any, error) {
	return map[string]any{"total_checks": 7}, nil
}

type fakeAgents struct {
	list []domain.Agent
	err  error
	at   time.Time
}

func (f fakeAgents) Agents() ([]domain.Agent, error) { return f.list, f.err }
func (f fakeAgents) Stats() (domain.AgentStats, error) {
	if f.err != nil {
		return domain.AgentStats{}, f.err
	}
	return domain.ComputeAgentStats(f.list), nil
}
func (f fakeAgents) LastRefresh() (time.Time, error) { return f.at, f.err }

type testAPI struct {
	router  *gin.Engine
	svc     *service.CheckService
	backend *fakeBackend
}

func newTestAPI(t *testing.T, remote history.Remote, ag fakeAgents) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	b := &fakeBackend{}
	store := history.New(storage.NewMemorySlot(), remote)
	p := poller.New(b, poller.WithInterval(time.Hour))
	svc := service.NewCheckService(b, store, p, log)
	t.Cleanup(svc.Shutdown)

	router := NewRouter(
		NewHealthController(svc, ag, "test-client"),
		NewCheckController(svc, ag, b),
		log,
	)

	return &testAPI{router: router, svc: svc, backend: b}
}

func (a *testAPI) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, r)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

var onlineAgents = fakeAgents{
	list: []domain.Agent{
		{Name: "msk-1", Status: "online", Location: "Moscow", ActiveChecks: 2},
		{Name: "ams-1", Status: "offline", Location: "Amsterdam"},
	},
	at: time.Now(),
}

func TestHealthAndReady(t *testing.T) {
	api := newTestAPI(t, nopRemote{}, onlineAgents)

	rec := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.HealthStatusHealthy, decode[domain.HealthResponse](t, rec).Status)

	rec = api.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[domain.DetailedHealthResponse](t, rec).Components, 2)

	api.svc.Shutdown()
	rec = api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestReadyBeforeFirstRefresh(t *testing.T) {
	api := newTestAPI(t, nopRemote{}, fakeAgents{})

	rec := api.do(t, http.MethodGet, "/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCreateAndGetCheck(t *testing.T) {
	api := newTestAPI(t, nopRemote{}, onlineAgents)

	rec := api.do(t, http.MethodPost, "/api/checks", domain.CheckRequest{
		Target: "example.com",
		Checks: []domain.CheckType{domain.CheckTypePing, domain.CheckTypeHTTP},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	created := decode[domain.CheckRecord](t, rec)
	assert.Equal(t, "chk-1", created.ID)
	assert.Equal(t, domain.StatusPending, created.Status)

	rec = api.do(t, http.MethodGet, "/api/checks/chk-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "example.com", decode[domain.CheckRecord](t, rec).Target)

	rec = api.do(t, http.MethodGet, "/api/history", nil)
	assert.Len(t, decode[[]domain.CheckRecord](t, rec), 1)

	rec = api.do(t, http.MethodGet, "/api/checks/unknown", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCheckValidation(t *testing.T) {
	api := newTestAPI(t, nopRemote{}, onlineAgents)

	rec := api.do(t, http.MethodPost, "/api/checks", domain.CheckRequest{Target: "", Checks: []domain.CheckType{domain.CheckTypePing}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, decode[map[string]string](t, rec)["error"], "target is required")

	req := httptest.NewRequest(http.MethodPost, "/api/checks", bytes.NewBufferString("{not json"))
	raw := httptest.NewRecorder()
	api.router.ServeHTTP(raw, req)
	assert.Equal(t, http.StatusBadRequest, raw.Code)
}

func TestCreateCheckBackendErrors(t *testing.T) {
	api := newTestAPI(t, nopRemote{}, onlineAgents)
	body := domain.CheckRequest{Target: "example.com", Checks: []domain.CheckType{domain.CheckTypePing}}

	api.backend.createErr = &backend.APIError{StatusCode: http.StatusUnprocessableEntity, Message: "unsupported check"}
	rec := api.do(t, http.MethodPost, "/api/checks", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "unsupported check")

	api.backend.createErr = &backend.NetworkError{Method: "POST", URL: "http://localhost:8000/api/check", Err: errors.New("connection refused")}
	rec = api.do(t, http.MethodPost, "/api/checks", body)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestPollLifecycle(t *testing.T) {
	api := newTestAPI(t, nopRemote{}, onlineAgents)

	rec := api.do(t, http.MethodPost, "/api/checks/missing/poll", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/checks", domain.CheckRequest{Target: "example.com", Checks: []domain.CheckType{domain.CheckTypeDNS}})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = api.do(t, http.MethodPost, "/api/checks/chk-1/poll", nil)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/checks/chk-1/poll", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["canceled"])

	rec = api.do(t, http.MethodDelete, "/api/checks/chk-1/poll", nil)
	assert.Equal(t, false, decode[map[string]any](t, rec)["canceled"])
}

func TestRepeatAndDelete(t *testing.T) {
	api := newTestAPI(t, nopRemote{}, onlineAgents)

	api.do(t, http.MethodPost, "/api/checks", domain.CheckRequest{Target: "example.com:8080", Checks: []domain.CheckType{domain.CheckTypeTCP}})

	rec := api.do(t, http.MethodPost, "/api/checks/chk-1/repeat", nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	repeated := decode[domain.CheckRecord](t, rec)
	assert.Equal(t, "chk-2", repeated.ID)
	assert.Equal(t, "example.com:8080", repeated.Target)

	rec = api.do(t, http.MethodPost, "/api/checks/nope/repeat", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = api.do(t, http.MethodDelete, "/api/checks/chk-1", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 1, api.svc.History().Len())
}

func TestClearHistoryNeedsConfirmation(t *testing.T) {
	api := newTestAPI(t, nopRemote{}, onlineAgents)
	api.do(t, http.MethodPost, "/api/checks", domain.CheckRequest{Target: "example.com", Checks: []domain.CheckType{domain.CheckTypePing}})

	rec := api.do(t, http.MethodDelete, "/api/history", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 1, api.svc.History().Len())

	rec = api.do(t, http.MethodDelete, "/api/history?confirm=true", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Zero(t, api.svc.History().Len())
}

func TestSyncHistoryDegraded(t *testing.T) {
	api := newTestAPI(t, nopRemote{err: errors.New("connection refused")}, onlineAgents)

	rec := api.do(t, http.MethodPost, "/api/history/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, true, body["degraded"])
	assert.Equal(t, "connection refused", body["error"])
}

func TestAgentsAndStats(t *testing.T) {
	api := newTestAPI(t, nopRemote{}, onlineAgents)

	rec := api.do(t, http.MethodGet, "/api/agents", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]domain.Agent](t, rec), 2)

	rec = api.do(t, http.MethodGet, "/api/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Agents domain.AgentStats `json:"agents"`
		Server map[string]any    `json:"server"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, domain.AgentStats{Total: 2, Online: 1, ActiveChecks: 2}, body.Agents)
	assert.EqualValues(t, 7, body.Server["total_checks"])
}

func TestAgentsUnavailable(t *testing.T) {
	api := newTestAPI(t, nopRemote{}, fakeAgents{err: agents.ErrNoData})

	rec := api.do(t, http.MethodGet, "/api/agents", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	api := newTestAPI(t, nopRemote{}, onlineAgents)

	rec := api.do(t, http.MethodOptions, "/api/checks", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ozzus/client-aeza/internal/domain"
	"ozzus/client-aeza/internal/history"
	"ozzus/client-aeza/internal/poller"
	"ozzus/client-aeza/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopRemote struct{}

func (nopRemote) GetHistory(ctx context.Context) ([]domain.CheckRecord, error) { return nil, nil }
func (nopRemote) SyncHistory(ctx context.Context, r domain.CheckRecord) error  { return nil }
func (nopRemote) DeleteCheck(ctx context.Context, id string) error             { return nil }
func (nopRemote) ClearHistory(ctx context.Context) error                       { return nil }

// fakeBackend hands out sequential ids and answers every poll with the
// configured result.
type fakeBackend struct {
	mu        sync.Mutex
	created   []domain.CheckRequest
	result    *domain.CheckResult
	fetchErr  error
	createErr error
	fetches   int
}

func (f *fakeBackend) CreateCheck(ctx context.Context, req domain.CheckRequest) (*domain.CreateCheckResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.created = append(f.created, req)
	return &domain.CreateCheckResponse{CheckID: "chk-" + string(rune('0'+len(f.created)))}, nil
}

func (f *fakeBackend) GetCheckResult(ctx context.Context, id string) (*domain.CheckResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := *f.result
	out.Results = domain.CloneResults(f.result.Results)
	return &out, nil
}

func noSleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

func agentResults(statuses ...domain.AgentStatus) *domain.CheckResult {
	out := &domain.CheckResult{}
	for _, st := range statuses {
		out.Results = append(out.Results, domain.AgentResult{AgentID: "agent", Status: st})
	}
	return out
}

func newTestService(t *testing.T, b *fakeBackend, opts ...poller.Option) (*CheckService, chan poller.Report) {
	t.Helper()

	store := history.New(storage.NewMemorySlot(), nopRemote{})
	p := poller.New(b, append([]poller.Option{poller.WithSleep(noSleep)}, opts...)...)
	svc := NewCheckService(b, store, p, nil)

	finished := make(chan poller.Report, 8)
	svc.OnFinish(func(r poller.Report) { finished <- r })
	t.Cleanup(svc.Shutdown)

	return svc, finished
}

func waitReport(t *testing.T, ch chan poller.Report) poller.Report {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("poll did not finish")
		return poller.Report{}
	}
}

func TestCreateCheckRejectsInvalidInput(t *testing.T) {
	b := &fakeBackend{result: agentResults(domain.AgentStatusCompleted)}
	svc, _ := newTestService(t, b)

	_, err := svc.CreateCheck(context.Background(), domain.CheckRequest{Target: "bad target!", Checks: []domain.CheckType{domain.CheckTypePing}})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.ErrorIs(t, err, domain.ErrInvalidTarget)

	_, err = svc.CreateCheck(context.Background(), domain.CheckRequest{Target: "example.com"})
	assert.ErrorIs(t, err, domain.ErrNoChecks)

	assert.Empty(t, b.created)
	assert.Zero(t, svc.History().Len())
}

func TestCreateCheckBackendError(t *testing.T) {
	boom := errors.New("HTTP Error: 500 Internal Server Error")
	svc, _ := newTestService(t, &fakeBackend{createErr: boom})

	_, err := svc.CreateCheck(context.Background(), domain.CheckRequest{Target: "example.com", Checks: []domain.CheckType{domain.CheckTypePing}})
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, svc.History().Len())
}

func TestCreateCheckPollsToCompletion(t *testing.T) {
	b := &fakeBackend{result: agentResults(domain.AgentStatusCompleted, domain.AgentStatusError)}
	svc, finished := newTestService(t, b)

	var increments int
	var mu sync.Mutex
	svc.OnResult(func(id string, r domain.CheckResult) {
		mu.Lock()
		increments++
		mu.Unlock()
	})

	rec, err := svc.CreateCheck(context.Background(), domain.CheckRequest{
		Target: " example.com ",
		Checks: []domain.CheckType{domain.CheckTypePing, domain.CheckTypeDNS, domain.CheckTypePing},
	})
	require.NoError(t, err)
	assert.Equal(t, "example.com", rec.Target)
	assert.Equal(t, []domain.CheckType{domain.CheckTypePing, domain.CheckTypeDNS}, rec.Checks)
	assert.Equal(t, domain.StatusPending, rec.Status)

	report := waitReport(t, finished)
	assert.Equal(t, poller.OutcomeCompleted, report.Outcome)

	got, ok := svc.History().Get(rec.ID)
	require.True(t, ok)
	assert.Equal(t, domain.StatusCompleted, got.Status)
	assert.Len(t, got.Results, 2)

	mu.Lock()
	assert.Equal(t, 1, increments)
	mu.Unlock()
}

func TestAllAgentsFailedMarksError(t *testing.T) {
	b := &fakeBackend{result: agentResults(domain.AgentStatusError, domain.AgentStatusError)}
	svc, finished := newTestService(t, b)

	rec, err := svc.CreateCheck(context.Background(), domain.CheckRequest{Target: "example.com", Checks: []domain.CheckType{domain.CheckTypeHTTP}})
	require.NoError(t, err)
	waitReport(t, finished)

	got, _ := svc.History().Get(rec.ID)
	assert.Equal(t, domain.StatusError, got.Status)
}

func TestFetchFailureMarksError(t *testing.T) {
	b := &fakeBackend{fetchErr: errors.New("connection refused")}
	svc, finished := newTestService(t, b)

	rec, err := svc.CreateCheck(context.Background(), domain.CheckRequest{Target: "example.com", Checks: []domain.CheckType{domain.CheckTypeTCP}})
	require.NoError(t, err)

	report := waitReport(t, finished)
	assert.Equal(t, poller.OutcomeFailed, report.Outcome)

	got, _ := svc.History().Get(rec.ID)
	assert.Equal(t, domain.StatusError, got.Status)
}

func TestTimeoutKeepsInterimStatus(t *testing.T) {
	b := &fakeBackend{result: agentResults(domain.AgentStatusPending)}
	svc, finished := newTestService(t, b, poller.WithMaxAttempts(3))

	rec, err := svc.CreateCheck(context.Background(), domain.CheckRequest{Target: "example.com", Checks: []domain.CheckType{domain.CheckTypePing}})
	require.NoError(t, err)

	report := waitReport(t, finished)
	assert.Equal(t, poller.OutcomeTimedOut, report.Outcome)
	assert.Equal(t, 3, b.fetches)

	got, _ := svc.History().Get(rec.ID)
	assert.Equal(t, domain.StatusRunning, got.Status)
}

func TestCancelPoll(t *testing.T) {
	b := &fakeBackend{result: agentResults(domain.AgentStatusPending)}
	store := history.New(storage.NewMemorySlot(), nopRemote{})
	svc := NewCheckService(b, store, poller.New(b, poller.WithInterval(time.Hour)), nil)
	t.Cleanup(svc.Shutdown)

	started := make(chan struct{}, 1)
	svc.OnResult(func(string, domain.CheckResult) {
		select {
		case started <- struct{}{}:
		default:
		}
	})
	finished := make(chan poller.Report, 1)
	svc.OnFinish(func(r poller.Report) { finished <- r })

	rec, err := svc.CreateCheck(context.Background(), domain.CheckRequest{Target: "example.com", Checks: []domain.CheckType{domain.CheckTypePing}})
	require.NoError(t, err)
	<-started

	assert.Equal(t, []string{rec.ID}, svc.ActivePolls())
	assert.True(t, svc.CancelPoll(rec.ID))
	assert.False(t, svc.CancelPoll(rec.ID))

	report := waitReport(t, finished)
	assert.Equal(t, poller.OutcomeCanceled, report.Outcome)
	assert.Empty(t, svc.ActivePolls())
}

func TestDeleteAndClear(t *testing.T) {
	b := &fakeBackend{result: agentResults(domain.AgentStatusCompleted)}
	svc, finished := newTestService(t, b)

	first, err := svc.CreateCheck(context.Background(), domain.CheckRequest{Target: "a.example.com", Checks: []domain.CheckType{domain.CheckTypePing}})
	require.NoError(t, err)
	waitReport(t, finished)
	_, err = svc.CreateCheck(context.Background(), domain.CheckRequest{Target: "b.example.com", Checks: []domain.CheckType{domain.CheckTypePing}})
	require.NoError(t, err)
	waitReport(t, finished)

	svc.DeleteRecord(first.ID)
	_, ok := svc.History().Get(first.ID)
	assert.False(t, ok)
	assert.Equal(t, 1, svc.History().Len())

	svc.DeleteRecord("missing")
	assert.Equal(t, 1, svc.History().Len())

	svc.ClearAll()
	assert.Zero(t, svc.History().Len())
}

func TestRepeat(t *testing.T) {
	b := &fakeBackend{result: agentResults(domain.AgentStatusCompleted)}
	svc, finished := newTestService(t, b)

	_, err := svc.Repeat(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	rec, err := svc.CreateCheck(context.Background(), domain.CheckRequest{Target: "example.com:443", Checks: []domain.CheckType{domain.CheckTypeHTTPS}})
	require.NoError(t, err)
	waitReport(t, finished)

	again, err := svc.Repeat(context.Background(), rec.ID)
	require.NoError(t, err)
	waitReport(t, finished)

	assert.NotEqual(t, rec.ID, again.ID)
	assert.Equal(t, rec.Target, again.Target)
	require.Len(t, b.created, 2)
	assert.Equal(t, b.created[0], b.created[1])
}

func TestShutdownStopsService(t *testing.T) {
	b := &fakeBackend{result: agentResults(domain.AgentStatusCompleted)}
	store := history.New(storage.NewMemorySlot(), nopRemote{})
	svc := NewCheckService(b, store, poller.New(b, poller.WithSleep(noSleep)), nil)

	require.NoError(t, svc.HealthCheck(context.Background()))
	svc.Shutdown()

	assert.ErrorIs(t, svc.HealthCheck(context.Background()), ErrShutdown)
	assert.False(t, svc.StartPollingFor("x"))

	_, err := svc.CreateCheck(context.Background(), domain.CheckRequest{Target: "example.com", Checks: []domain.CheckType{domain.CheckTypePing}})
	assert.ErrorIs(t, err, ErrShutdown)
}

func TestPollOnceSynchronous(t *testing.T) {
	b := &fakeBackend{result: agentResults(domain.AgentStatusCompleted)}
	svc, _ := newTestService(t, b)

	rec, err := svc.Submit(context.Background(), domain.CheckRequest{Target: "example.com", Checks: []domain.CheckType{domain.CheckTypeDNS}})
	require.NoError(t, err)
	assert.Empty(t, svc.ActivePolls())

	var emitted int
	report := svc.PollOnce(context.Background(), rec.ID, func(domain.CheckResult) { emitted++ })

	assert.Equal(t, poller.OutcomeCompleted, report.Outcome)
	assert.Equal(t, 1, emitted)
	got, _ := svc.History().Get(rec.ID)
	assert.Equal(t, domain.StatusCompleted, got.Status)
}

package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"ozzus/client-aeza/internal/domain"
	"ozzus/client-aeza/internal/history"
	"ozzus/client-aeza/internal/lib/logger/sl"
	"ozzus/client-aeza/internal/poller"
)

var (
	ErrInvalidRequest = errors.New("invalid check request")
	ErrRecordNotFound = errors.New("check not found in history")
	ErrShutdown       = errors.New("service is shut down")
)

type Backend interface {
	CreateCheck(ctx context.Context, req domain.CheckRequest) (*domain.CreateCheckResponse, error)
}

type ResultListener func(checkID string, result domain.CheckResult)

type FinishListener func(report poller.Report)

type pollHandle struct {
	cancel context.CancelFunc
}

// CheckService ties submission, polling and history together. Every poll
// increment is written back to the history store.
type CheckService struct {
	backend Backend
	store   *history.Store
	poller  *poller.Poller
	log     *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	polls map[string]*pollHandle

	listenersMu     sync.RWMutex
	resultListeners []ResultListener
	finishListeners []FinishListener
}

func NewCheckService(backend Backend, store *history.Store, p *poller.Poller, log *slog.Logger) *CheckService {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &CheckService{
		backend: backend,
		store:   store,
		poller:  p,
		log:     log.With(slog.String("component", "checks")),
		ctx:     ctx,
		cancel:  cancel,
		polls:   make(map[string]*pollHandle),
	}
}

func (s *CheckService) History() *history.Store {
	return s.store
}

// OnResult registers l for every poll increment of every check.
func (s *CheckService) OnResult(l ResultListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.resultListeners = append(s.resultListeners, l)
}

// OnFinish registers l for the final report of background polls.
func (s *CheckService) OnFinish(l FinishListener) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()
	s.finishListeners = append(s.finishListeners, l)
}

// CreateCheck validates req, submits it, records it as pending and starts
// polling in the background.
func (s *CheckService) CreateCheck(ctx context.Context, req domain.CheckRequest) (domain.CheckRecord, error) {
	record, err := s.Submit(ctx, req)
	if err != nil {
		return domain.CheckRecord{}, err
	}

	s.StartPollingFor(record.ID)
	return record, nil
}

// Submit is CreateCheck without the background poll.
func (s *CheckService) Submit(ctx context.Context, req domain.CheckRequest) (domain.CheckRecord, error) {
	if s.ctx.Err() != nil {
		return domain.CheckRecord{}, ErrShutdown
	}

	valid, err := domain.NewCheckRequest(req.Target, req.Checks)
	if err != nil {
		return domain.CheckRecord{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	resp, err := s.backend.CreateCheck(ctx, valid)
	if err != nil {
		return domain.CheckRecord{}, fmt.Errorf("failed to create check: %w", err)
	}

	record := s.store.RecordCreated(valid.Target, valid.Checks, resp.CheckID)

	s.log.Info("check created",
		slog.String("check_id", record.ID),
		slog.String("target", record.Target),
		slog.Int("checks", len(record.Checks)),
	)

	return record, nil
}

// StartPollingFor polls id in the background, replacing a running poll of the
// same id. It reports false after Shutdown.
func (s *CheckService) StartPollingFor(id string) bool {
	if s.ctx.Err() != nil {
		return false
	}

	ctx, cancel := context.WithCancel(s.ctx)
	h := &pollHandle{cancel: cancel}

	s.mu.Lock()
	prev := s.polls[id]
	s.polls[id] = h
	s.wg.Add(1)
	s.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}

	go func() {
		defer s.wg.Done()
		defer cancel()

		report := s.PollOnce(ctx, id, nil)

		s.mu.Lock()
		if s.polls[id] == h {
			delete(s.polls, id)
		}
		s.mu.Unlock()

		s.notifyFinish(report)
	}()

	return true
}

// PollOnce polls id on the calling goroutine and applies every increment and
// the outcome to the history store.
func (s *CheckService) PollOnce(ctx context.Context, id string, emit func(domain.CheckResult)) poller.Report {
	report := s.poller.Poll(ctx, id, func(r domain.CheckResult) {
		s.store.UpdateStatus(id, domain.StatusRunning, r.Results)
		s.notifyResult(id, r)
		if emit != nil {
			emit(r)
		}
	})

	s.applyOutcome(report)
	return report
}

// CancelPoll stops the background poll of id, if any. It does not wait for
// the poll goroutine to exit.
func (s *CheckService) CancelPoll(id string) bool {
	s.mu.Lock()
	h, ok := s.polls[id]
	delete(s.polls, id)
	s.mu.Unlock()

	if ok {
		h.cancel()
	}
	return ok
}

// ActivePolls returns the ids being polled, sorted.
func (s *CheckService) ActivePolls() []string {
	s.mu.Lock()
	ids := make([]string, 0, len(s.polls))
	for id := range s.polls {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	slices.Sort(ids)
	return ids
}

func (s *CheckService) DeleteRecord(id string) {
	s.CancelPoll(id)
	s.store.Delete(id)
}

func (s *CheckService) ClearAll() {
	for _, id := range s.ActivePolls() {
		s.CancelPoll(id)
	}
	s.store.Clear()
}

// Repeat submits the target and checks of an existing record as a new check.
func (s *CheckService) Repeat(ctx context.Context, id string) (domain.CheckRecord, error) {
	rec, ok := s.store.Get(id)
	if !ok {
		return domain.CheckRecord{}, fmt.Errorf("%w: %s", ErrRecordNotFound, id)
	}

	return s.CreateCheck(ctx, domain.CheckRequest{Target: rec.Target, Checks: rec.Checks})
}

// Shutdown cancels every poll and waits for polls and history sync to finish.
func (s *CheckService) Shutdown() {
	s.cancel()
	s.wg.Wait()
	s.store.Wait()
	s.log.Info("check service stopped")
}

func (s *CheckService) HealthCheck(ctx context.Context) error {
	if s.ctx.Err() != nil {
		return ErrShutdown
	}
	return ctx.Err()
}

func (s *CheckService) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"running":      s.ctx.Err() == nil,
		"active_polls": len(s.ActivePolls()),
		"history_size": s.store.Len(),
	}
}

func (s *CheckService) applyOutcome(report poller.Report) {
	log := s.log.With(slog.String("check_id", report.CheckID), slog.String("outcome", string(report.Outcome)))

	switch report.Outcome {
	case poller.OutcomeCompleted:
		status := domain.StatusCompleted
		if report.Last != nil && allFailed(report.Last.Results) {
			status = domain.StatusError
		}
		var results []domain.AgentResult
		if report.Last != nil {
			results = report.Last.Results
		}
		s.store.UpdateStatus(report.CheckID, status, results)
		log.Info("check finished", slog.Int("attempts", report.Attempts))
	case poller.OutcomeFailed:
		s.store.UpdateStatus(report.CheckID, domain.StatusError, nil)
		log.Error("check polling failed", sl.Err(report.Err))
	case poller.OutcomeTimedOut:
		log.Warn("check polling timed out", slog.Int("attempts", report.Attempts))
	default:
		log.Debug("check polling stopped")
	}
}

func allFailed(results []domain.AgentResult) bool {
	if len(results) == 0 {
		return false
	}
	for _, r := range results {
		if r.Status != domain.AgentStatusError {
			return false
		}
	}
	return true
}

func (s *CheckService) notifyResult(id string, r domain.CheckResult) {
	s.listenersMu.RLock()
	listeners := slices.Clone(s.resultListeners)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(id, r)
	}
}

func (s *CheckService) notifyFinish(report poller.Report) {
	s.listenersMu.RLock()
	listeners := slices.Clone(s.finishListeners)
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(report)
	}
}

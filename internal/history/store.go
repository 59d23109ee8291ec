// Package history keeps the client-side cache of submitted checks and
// reconciles it with the server's history.
package history

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"ozzus/client-aeza/internal/domain"
	"ozzus/client-aeza/internal/lib/logger/sl"
	"ozzus/client-aeza/internal/storage"
)

const (
	StorageKey         = "checkHistory"
	DefaultLimit       = 50
	DefaultSyncTimeout = 10 * time.Second
)

// Remote is the server of record for history.
type Remote interface {
	GetHistory(ctx context.Context) ([]domain.CheckRecord, error)
	SyncHistory(ctx context.Context, record domain.CheckRecord) error
	DeleteCheck(ctx context.Context, checkID string) error
	ClearHistory(ctx context.Context) error
}

type EventKind string

const (
	EventCreated    EventKind = "created"
	EventUpdated    EventKind = "updated"
	EventDeleted    EventKind = "deleted"
	EventCleared    EventKind = "cleared"
	EventReconciled EventKind = "reconciled"
)

// Event describes one store mutation. Record is zero for cleared and reconciled.
type Event struct {
	Kind   EventKind
	Record domain.CheckRecord
}

type Listener func(Event)

// ErrorSink receives failures of background work and local persistence.
type ErrorSink func(op string, err error)

// Snapshot is the result of Initialize. Degraded is set when the server could
// not be reached and Records is the local cache alone.
type Snapshot struct {
	Records  []domain.CheckRecord
	Degraded bool
	Cause    error
}

type Store struct {
	slot   storage.Slot
	remote Remote
	log    *slog.Logger

	limit       int
	syncTimeout time.Duration
	now         func() time.Time
	sink        ErrorSink

	mu      sync.Mutex
	records []domain.CheckRecord

	listenersMu sync.RWMutex
	listeners   map[int]Listener
	nextID      int

	bg sync.WaitGroup
}

type Option func(*Store)

func WithLogger(log *slog.Logger) Option {
	return func(s *Store) {
		if log != nil {
			s.log = log
		}
	}
}

func WithLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.limit = limit
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithErrorSink routes background failures to sink in addition to the log.
func WithErrorSink(sink ErrorSink) Option {
	return func(s *Store) {
		s.sink = sink
	}
}

func WithSyncTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.syncTimeout = d
		}
	}
}

// New builds a store and loads the local cache from slot.
func New(slot storage.Slot, remote Remote, opts ...Option) *Store {
	s := &Store{
		slot:        slot,
		remote:      remote,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		limit:       DefaultLimit,
		syncTimeout: DefaultSyncTimeout,
		now:         func() time.Time { return time.Now().UTC() },
		listeners:   make(map[int]Listener),
	}

	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.With(slog.String("component", "history"))

	records := s.Load()

	s.mu.Lock()
	s.records = truncate(records, s.limit)
	s.mu.Unlock()

	return s
}

// Load reads the local slot. A missing or corrupt value yields an empty list.
func (s *Store) Load() []domain.CheckRecord {
	data, err := s.slot.Get(StorageKey)
	if errors.Is(err, storage.ErrNotFound) {
		return []domain.CheckRecord{}
	}
	if err != nil {
		s.reportError("load", err)
		return []domain.CheckRecord{}
	}

	var records []domain.CheckRecord
	if err := json.Unmarshal(data, &records); err != nil {
		s.reportError("load", &storage.StorageError{Op: "decode", Key: StorageKey, Err: err})
		return []domain.CheckRecord{}
	}
	if records == nil {
		records = []domain.CheckRecord{}
	}

	return records
}

// Initialize merges server history into the local cache. It never fails: when
// the server is unreachable the local cache is returned with Degraded set.
func (s *Store) Initialize(ctx context.Context) Snapshot {
	server, err := s.remote.GetHistory(ctx)
	if err != nil {
		s.log.Warn("server history unavailable, using local cache", sl.Err(err))
		return Snapshot{Records: s.Records(), Degraded: true, Cause: err}
	}

	s.mu.Lock()
	s.records = truncate(Merge(server, s.records), s.limit)
	persistErr := s.persistLocked()
	out := domain.CloneRecords(s.records)
	s.mu.Unlock()

	if persistErr != nil {
		s.reportError("persist", persistErr)
	}

	s.log.Debug("history reconciled", slog.Int("server", len(server)), slog.Int("total", len(out)))
	s.notify(Event{Kind: EventReconciled})

	return Snapshot{Records: out}
}

// RecordCreated adds a pending record for a freshly submitted check and pushes
// it to the server in the background.
func (s *Store) RecordCreated(target string, checks []domain.CheckType, id string) domain.CheckRecord {
	now := s.now()
	record := domain.CheckRecord{
		ID:        id,
		Target:    target,
		Checks:    append([]domain.CheckType(nil), checks...),
		Status:    domain.StatusPending,
		CreatedAt: domain.NewTimestamp(now),
		Millis:    now.UnixMilli(),
	}

	s.mu.Lock()
	if idx := s.indexLocked(id); idx >= 0 {
		s.records = append(s.records[:idx:idx], s.records[idx+1:]...)
	}
	s.records = append([]domain.CheckRecord{record}, s.records...)
	s.records = truncate(s.records, s.limit)
	persistErr := s.persistLocked()
	s.mu.Unlock()

	if persistErr != nil {
		s.reportError("persist", persistErr)
	}

	s.notify(Event{Kind: EventCreated, Record: record.Clone()})

	pushed := record.Clone()
	s.background("sync", func(ctx context.Context) error {
		return s.remote.SyncHistory(ctx, pushed)
	})

	return record.Clone()
}

// UpdateStatus sets the status of id and, when results is non-nil, its results.
// It reports false without error when id is unknown.
func (s *Store) UpdateStatus(id string, status domain.CheckStatus, results []domain.AgentResult) bool {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		return false
	}

	rec := &s.records[idx]
	rec.Status = status
	if results != nil {
		rec.Results = domain.CloneResults(results)
	}
	rec.UpdatedAt = domain.NewTimestamp(s.now())
	updated := rec.Clone()
	persistErr := s.persistLocked()
	s.mu.Unlock()

	if persistErr != nil {
		s.reportError("persist", persistErr)
	}

	s.notify(Event{Kind: EventUpdated, Record: updated})
	return true
}

func (s *Store) Get(id string) (domain.CheckRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.indexLocked(id)
	if idx < 0 {
		return domain.CheckRecord{}, false
	}
	return s.records[idx].Clone(), true
}

// Records returns a copy of the history, newest first.
func (s *Store) Records() []domain.CheckRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	return domain.CloneRecords(s.records)
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.records)
}

// Delete removes id locally and then from the server in the background. The
// local removal stands even if the server call fails. An id missing from the
// local history leaves it untouched and emits no event, but the server delete
// is still sent since the check may exist there.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	idx := s.indexLocked(id)
	if idx < 0 {
		s.mu.Unlock()
		s.background("delete", func(ctx context.Context) error {
			return s.remote.DeleteCheck(ctx, id)
		})
		return
	}

	removed := s.records[idx].Clone()
	s.records = append(s.records[:idx:idx], s.records[idx+1:]...)
	persistErr := s.persistLocked()
	s.mu.Unlock()

	if persistErr != nil {
		s.reportError("persist", persistErr)
	}

	s.notify(Event{Kind: EventDeleted, Record: removed})

	s.background("delete", func(ctx context.Context) error {
		return s.remote.DeleteCheck(ctx, id)
	})
}

// Clear empties the history and removes the local slot entry. Asking the user
// for confirmation is the caller's job.
func (s *Store) Clear() {
	s.mu.Lock()
	s.records = []domain.CheckRecord{}
	deleteErr := s.slot.Delete(StorageKey)
	s.mu.Unlock()

	if deleteErr != nil {
		s.reportError("clear", deleteErr)
	}

	s.notify(Event{Kind: EventCleared})

	s.background("clear", func(ctx context.Context) error {
		return s.remote.ClearHistory(ctx)
	})
}

// OnChange registers l for every mutation and returns a func that removes it.
// Listeners run on the mutating goroutine after the store lock is released.
func (s *Store) OnChange(l Listener) (unsubscribe func()) {
	s.listenersMu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// Wait blocks until background server calls have finished.
func (s *Store) Wait() {
	s.bg.Wait()
}

func (s *Store) indexLocked(id string) int {
	for i := range s.records {
		if s.records[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) persistLocked() error {
	data, err := json.Marshal(s.records)
	if err != nil {
		return &storage.StorageError{Op: "encode", Key: StorageKey, Err: err}
	}

	return s.slot.Set(StorageKey, data)
}

func (s *Store) notify(e Event) {
	s.listenersMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		listeners = append(listeners, l)
	}
	s.listenersMu.RUnlock()

	for _, l := range listeners {
		l(e)
	}
}

// background runs fn detached from the caller. Its failure is logged and sent
// to the error sink; it never touches local state.
func (s *Store) background(op string, fn func(ctx context.Context) error) {
	s.bg.Add(1)
	go func() {
		defer s.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.syncTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			s.reportError(op, err)
		}
	}()
}

func (s *Store) reportError(op string, err error) {
	s.log.Error("history operation failed", slog.String("op", op), sl.Err(err))
	if s.sink != nil {
		s.sink(op, err)
	}
}

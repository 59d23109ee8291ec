package repository

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"ozzus/client-aeza/internal/domain"
	"ozzus/client-aeza/internal/history"
	"ozzus/client-aeza/internal/lib/logger/sl"
)

// HistoryEvent is the wire form of a history change on the event topic.
type HistoryEvent struct {
	Kind     history.EventKind   `json:"kind"`
	CheckID  string              `json:"check_id,omitempty"`
	Record   *domain.CheckRecord `json:"record,omitempty"`
	Client   string              `json:"client"`
	Occurred time.Time           `json:"occurred_at"`
}

type Publisher interface {
	PublishEvent(ctx context.Context, key string, event interface{}) error
	Topic() string
}

type EventRepository interface {
	SendEvent(ctx context.Context, event HistoryEvent) error
}

type KafkaEventRepository struct {
	producer Publisher
	log      *slog.Logger
}

func NewKafkaEventRepository(producer Publisher, log *slog.Logger) *KafkaEventRepository {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &KafkaEventRepository{
		producer: producer,
		log:      log.With(slog.String("component", "events")),
	}
}

func (r *KafkaEventRepository) SendEvent(ctx context.Context, event HistoryEvent) error {
	key := event.CheckID
	if key == "" {
		key = string(event.Kind)
	}

	if err := r.producer.PublishEvent(ctx, key, event); err != nil {
		return fmt.Errorf("failed to publish history event: %w", err)
	}

	r.log.Debug("sent history event",
		slog.String("kind", string(event.Kind)),
		slog.String("check_id", event.CheckID),
		slog.String("topic", r.producer.Topic()),
	)
	return nil
}

// Mirror forwards history changes to an EventRepository from its own
// goroutine so a slow or unreachable broker never stalls the store. Events
// are published in the order they were observed. When the buffer is full
// new events are dropped and logged.
type Mirror struct {
	repo    EventRepository
	client  string
	timeout time.Duration
	log     *slog.Logger

	mu     sync.Mutex
	closed bool
	queue  chan HistoryEvent
	done   chan struct{}
}

func NewMirror(repo EventRepository, client string, timeout time.Duration, buffer int, log *slog.Logger) *Mirror {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if buffer <= 0 {
		buffer = 1
	}

	m := &Mirror{
		repo:    repo,
		client:  client,
		timeout: timeout,
		log:     log,
		queue:   make(chan HistoryEvent, buffer),
		done:    make(chan struct{}),
	}
	go m.run()

	return m
}

// Listen is a history.Listener. It never blocks on the broker.
func (m *Mirror) Listen(e history.Event) {
	event := HistoryEvent{
		Kind:     e.Kind,
		CheckID:  e.Record.ID,
		Client:   m.client,
		Occurred: time.Now().UTC(),
	}
	if e.Record.ID != "" {
		rec := e.Record.Clone()
		event.Record = &rec
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return
	}

	select {
	case m.queue <- event:
	default:
		m.log.Warn("history event dropped, publish queue is full",
			slog.String("kind", string(e.Kind)),
			slog.String("check_id", e.Record.ID),
		)
	}
}

// Close stops accepting events and waits for the queued ones to be sent.
func (m *Mirror) Close() error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()

	<-m.done
	return nil
}

func (m *Mirror) run() {
	defer close(m.done)

	for event := range m.queue {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		if err := m.repo.SendEvent(ctx, event); err != nil {
			m.log.Error("history event not published", slog.String("kind", string(event.Kind)), sl.Err(err))
		}
		cancel()
	}
}

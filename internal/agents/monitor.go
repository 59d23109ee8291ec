// Package agents keeps a periodically refreshed view of the agent fleet,
// independent of any in-flight poll.
package agents

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"ozzus/client-aeza/internal/domain"
	"ozzus/client-aeza/internal/lib/logger/sl"

	"github.com/patrickmn/go-cache"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultRefreshInterval = 10 * time.Second
	DefaultCacheTTL        = time.Minute

	agentsKey = "agents"
	statsKey  = "stats"
)

// ErrNoData is returned before the first successful refresh or after the
// cached value expired.
var ErrNoData = errors.New("agents: no data available yet")

type Source interface {
	GetAgents(ctx context.Context) ([]domain.Agent, error)
}

type Monitor struct {
	source   Source
	interval time.Duration
	timeout  time.Duration
	log      *slog.Logger

	cache *cache.Cache
	cron  *cron.Cron
	group singleflight.Group

	mu      sync.Mutex
	lastErr error
	lastAt  time.Time
}

func NewMonitor(source Source, interval, ttl time.Duration, log *slog.Logger) *Monitor {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Monitor{
		source:   source,
		interval: interval,
		timeout:  interval,
		log:      log.With(slog.String("component", "agents")),
		cache:    cache.New(ttl, 2*ttl),
		cron:     cron.New(),
	}
}

// Start refreshes once and then every interval until ctx is done.
func (m *Monitor) Start(ctx context.Context) error {
	m.Refresh(ctx)

	schedule := fmt.Sprintf("@every %s", m.interval)
	if _, err := m.cron.AddFunc(schedule, func() { m.Refresh(ctx) }); err != nil {
		return fmt.Errorf("schedule agents refresh: %w", err)
	}

	m.cron.Start()
	m.log.Info("agents refresher started", slog.Duration("interval", m.interval))

	<-ctx.Done()

	stopped := m.cron.Stop()
	<-stopped.Done()
	m.log.Debug("agents refresher stopped")

	return nil
}

// Refresh fetches the agent list once. Failures keep the previous cached value.
// Concurrent calls share one request.
func (m *Monitor) Refresh(ctx context.Context) {
	_, _, _ = m.group.Do(agentsKey, func() (any, error) {
		m.refresh(ctx)
		return nil, nil
	})
}

func (m *Monitor) refresh(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	list, err := m.source.GetAgents(reqCtx)

	m.mu.Lock()
	m.lastErr = err
	if err == nil {
		m.lastAt = time.Now()
	}
	m.mu.Unlock()

	if err != nil {
		m.log.Error("failed to refresh agents", sl.Err(err))
		return
	}

	m.cache.SetDefault(agentsKey, list)
	m.cache.SetDefault(statsKey, domain.ComputeAgentStats(list))

	m.log.Debug("agents refreshed", slog.Int("count", len(list)))
}

func (m *Monitor) Agents() ([]domain.Agent, error) {
	v, ok := m.cache.Get(agentsKey)
	if !ok {
		return nil, m.noData()
	}

	list := v.([]domain.Agent)
	return append([]domain.Agent(nil), list...), nil
}

func (m *Monitor) Stats() (domain.AgentStats, error) {
	v, ok := m.cache.Get(statsKey)
	if !ok {
		return domain.AgentStats{}, m.noData()
	}
	return v.(domain.AgentStats), nil
}

// LastRefresh reports when the last successful refresh happened and the error
// of the most recent attempt.
func (m *Monitor) LastRefresh() (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastAt, m.lastErr
}

func (m *Monitor) noData() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lastErr != nil {
		return fmt.Errorf("%w: %v", ErrNoData, m.lastErr)
	}
	return ErrNoData
}

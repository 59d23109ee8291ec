// Package poller tracks an asynchronous multi-agent check until every agent
// reports a terminal status or the attempt budget runs out.
package poller

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"ozzus/client-aeza/internal/domain"
	"ozzus/client-aeza/internal/lib/logger/sl"
)

const (
	DefaultMaxAttempts = 60
	DefaultInterval    = 2 * time.Second
)

type ResultFetcher interface {
	GetCheckResult(ctx context.Context, checkID string) (*domain.CheckResult, error)
}

type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeTimedOut  Outcome = "timed_out"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Report is the single outcome of one Poll call. Last is the most recent
// result received, nil if no fetch succeeded.
type Report struct {
	CheckID  string
	Outcome  Outcome
	Attempts int
	Last     *domain.CheckResult
	Err      error
}

func (r Report) String() string {
	switch r.Outcome {
	case OutcomeTimedOut:
		return fmt.Sprintf("check %s timed out after %d attempts", r.CheckID, r.Attempts)
	case OutcomeFailed:
		return fmt.Sprintf("check %s failed on attempt %d: %v", r.CheckID, r.Attempts, r.Err)
	case OutcomeCanceled:
		return fmt.Sprintf("check %s polling canceled after %d attempts", r.CheckID, r.Attempts)
	default:
		return fmt.Sprintf("check %s completed after %d attempts", r.CheckID, r.Attempts)
	}
}

// SleepFunc waits for d or until ctx is done, returning ctx.Err() in that case.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Poller struct {
	fetcher     ResultFetcher
	maxAttempts int
	interval    time.Duration
	sleep       SleepFunc
	log         *slog.Logger
}

type Option func(*Poller)

func WithMaxAttempts(n int) Option {
	return func(p *Poller) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *Poller) {
		if d >= 0 {
			p.interval = d
		}
	}
}

func WithSleep(sleep SleepFunc) Option {
	return func(p *Poller) {
		if sleep != nil {
			p.sleep = sleep
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(p *Poller) {
		if log != nil {
			p.log = log
		}
	}
}

func New(fetcher ResultFetcher, opts ...Option) *Poller {
	p := &Poller{
		fetcher:     fetcher,
		maxAttempts: DefaultMaxAttempts,
		interval:    DefaultInterval,
		sleep:       sleepContext,
		log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(slog.String("component", "poller"))

	return p
}

// Poll fetches the result of checkID up to maxAttempts times, interval apart.
// emit is called with every fetched result before completion is tested. A
// fetch error ends polling at once; there is no retry.
func (p *Poller) Poll(ctx context.Context, checkID string, emit func(domain.CheckResult)) Report {
	report := Report{CheckID: checkID}
	log := p.log.With(slog.String("check_id", checkID))

	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			report.Outcome = OutcomeCanceled
			report.Err = err
			return report
		}

		report.Attempts = attempt

		result, err := p.fetcher.GetCheckResult(ctx, checkID)
		if err != nil {
			if ctx.Err() != nil {
				report.Outcome = OutcomeCanceled
				report.Err = ctx.Err()
				return report
			}
			log.Error("poll attempt failed", slog.Int("attempt", attempt), sl.Err(err))
			report.Outcome = OutcomeFailed
			report.Err = err
			return report
		}
		if result == nil {
			result = &domain.CheckResult{}
		}

		report.Last = result
		if emit != nil {
			emit(*result)
		}

		if IsComplete(*result) {
			log.Info("check complete", slog.Int("attempts", attempt))
			report.Outcome = OutcomeCompleted
			return report
		}

		if attempt == p.maxAttempts {
			break
		}

		if err := p.sleep(ctx, p.interval); err != nil {
			report.Outcome = OutcomeCanceled
			report.Err = err
			return report
		}
	}

	log.Warn("check did not complete in time", slog.Int("attempts", report.Attempts))
	report.Outcome = OutcomeTimedOut
	return report
}

// IsComplete reports whether there is at least one agent result and every
// agent reached a terminal status. Absent results are incomplete, not an error.
func IsComplete(result domain.CheckResult) bool {
	if len(result.Results) == 0 {
		return false
	}

	for _, r := range result.Results {
		if !r.Status.Terminal() {
			return false
		}
	}

	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"ozzus/client-aeza/internal/lib/logger/sl"
	"ozzus/client-aeza/internal/repository"
	"ozzus/client-aeza/internal/repository/kafka"

	kafkago "github.com/segmentio/kafka-go"
)

type eventSource interface {
	ReadEvent(ctx context.Context, v interface{}) (kafkago.Message, error)
}

// readBackoff is the wait after a failed read. It doubles per consecutive
// failure up to Max and resets after a successful read.
type readBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

var defaultReadBackoff = readBackoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second}

func (b readBackoff) delay(failures int) time.Duration {
	d := b.Initial
	for i := 1; i < failures && d < b.Max; i++ {
		d *= 2
	}
	return min(d, b.Max)
}

// tailEvents prints history events until ctx is done. Undecodable messages
// are skipped right away; broker errors are retried with backoff.
func tailEvents(ctx context.Context, src eventSource, out io.Writer, log *slog.Logger, backoff readBackoff) error {
	failures := 0
	for {
		var event repository.HistoryEvent
		_, err := src.ReadEvent(ctx, &event)
		if ctx.Err() != nil {
			return nil
		}

		if errors.Is(err, kafka.ErrDecode) {
			log.Warn("skipping history event", sl.Err(err))
			continue
		}
		if err != nil {
			failures++
			wait := backoff.delay(failures)
			log.Warn("failed to read history event",
				slog.Int("failures", failures),
				slog.Duration("retry_in", wait),
				sl.Err(err),
			)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}
			continue
		}
		failures = 0

		line := fmt.Sprintf("%s  %-10s %s", event.Occurred.Local().Format(time.DateTime), event.Kind, event.Client)
		if event.Record != nil {
			line += fmt.Sprintf("  %s %s %s", event.Record.ID, event.Record.Target,
				statusColor(string(event.Record.Status)).Sprint(event.Record.Status))
		}
		fmt.Fprintln(out, line)
	}
}

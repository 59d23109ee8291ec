package main

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"ozzus/client-aeza/internal/backend"
	"ozzus/client-aeza/internal/config"
	"ozzus/client-aeza/internal/history"
	"ozzus/client-aeza/internal/lib/logger/sl"
	"ozzus/client-aeza/internal/poller"
	"ozzus/client-aeza/internal/repository"
	"ozzus/client-aeza/internal/repository/kafka"
	"ozzus/client-aeza/internal/service"
	"ozzus/client-aeza/internal/storage"
)

const (
	eventPublishTimeout = 5 * time.Second
	eventQueueSize      = 256
)

// app holds the components shared by every command.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	backend *backend.Client
	store   *history.Store
	checks  *service.CheckService

	closers []func() error
}

func newApp(cfg *config.Config, log *slog.Logger) (*app, error) {
	client, err := backend.NewClient(cfg.Backend.URL, cfg.GetBackendTimeout(), log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize backend client: %w", err)
	}

	slot, err := openSlot(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open local storage: %w", err)
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		backend: client,
		closers: []func() error{slot.Close},
	}

	a.store = history.New(slot, client,
		history.WithLogger(log),
		history.WithLimit(cfg.History.Limit),
		history.WithSyncTimeout(cfg.GetSyncTimeout()),
	)

	if cfg.Kafka.Enabled {
		producer := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topics.History)
		a.closers = append(a.closers, producer.Close)

		events := repository.NewKafkaEventRepository(producer, log)
		mirror := repository.NewMirror(events, cfg.Client.Name, eventPublishTimeout, eventQueueSize, log)
		a.store.OnChange(mirror.Listen)
		// closers run in reverse, so the queue drains before the producer closes
		a.closers = append(a.closers, mirror.Close)

		log.Info("history events enabled",
			slog.Any("brokers", cfg.Kafka.Brokers),
			slog.String("topic", cfg.Kafka.Topics.History),
		)
	}

	p := poller.New(client,
		poller.WithMaxAttempts(cfg.Poller.MaxAttempts),
		poller.WithInterval(cfg.GetPollInterval()),
		poller.WithLogger(log),
	)
	a.checks = service.NewCheckService(client, a.store, p, log)

	return a, nil
}

// Close stops polls, waits for background history sync and releases storage.
func (a *app) Close() {
	a.checks.Shutdown()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		a.log.Error("failed to close resources", sl.Err(err))
	}
}

func openSlot(cfg config.StorageConfig) (storage.Slot, error) {
	if cfg.Driver == config.StorageDriverSQLite {
		slot, err := storage.NewSQLiteSlot(filepath.Join(cfg.Path, "history.db"))
		if err != nil {
			return nil, err
		}
		return slot, nil
	}

	slot, err := storage.NewFileSlot(cfg.Path)
	if err != nil {
		return nil, err
	}
	return slot, nil
}

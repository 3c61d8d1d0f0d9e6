package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"carelink/internal/adapters"
	"carelink/internal/amqp"
	"carelink/internal/realtime"
	"carelink/internal/storage"
	"carelink/internal/storage/memory"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *slog.Logger
	dial   func(url, exchange, queue string) (*amqp.Client, error)
}

func NewFactory(logger *slog.Logger) Factory {
	if logger == nil {
		logger = slog.Default()
	}
	return &DefaultFactory{
		logger: logger,
		dial:   amqp.NewClient,
	}
}

// CreateBackend opens the store and wires change notification: through the
// AMQP exchange when one is reachable, falling back to the local broker.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		store storage.Store
		err   error
	)
	switch config.Type {
	case SQLiteBackend:
		store, err = f.createSQLiteStore(config)
	case MemoryBackend:
		store = memory.New()
		f.logger.InfoContext(ctx, "Initialized memory backend")
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	broker := realtime.NewBroker()
	result := &BackendResult{
		Store:    store,
		Broker:   broker,
		Notifier: broker,
	}

	if config.AMQPURL != "" {
		// An exclusive queue: every web process receives every change.
		client, err := f.dial(config.AMQPURL, config.AMQPExchange, "")
		if err != nil {
			f.logger.WarnContext(ctx, "Failed to initialize AMQP client, changes stay local", "error", err)
		} else {
			f.logger.InfoContext(ctx, "Initialized AMQP client", "exchange", config.AMQPExchange)
			result.AMQP = client
			result.Notifier = adapters.NewFallbackNotifier(client, broker)
		}
	}

	result.Cleanup = func() error {
		var errs []error
		if result.AMQP != nil {
			errs = append(errs, result.AMQP.Close())
		}
		broker.Close()
		errs = append(errs, store.Close())
		return errors.Join(errs...)
	}
	return result, nil
}

func (f *DefaultFactory) createSQLiteStore(config Config) (storage.Store, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}
	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)
	return repo, nil
}

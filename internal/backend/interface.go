package backend

import (
	"context"

	"carelink/internal/adapters"
	"carelink/internal/amqp"
	"carelink/internal/realtime"
	"carelink/internal/storage"
)

// CleanupFunc releases the resources of a backend.
type CleanupFunc func() error

// BackendResult is everything the web process needs to persist entries and
// spread change signals.
type BackendResult struct {
	Store storage.Store
	// Broker fans changes out to the clients connected to this process.
	Broker *realtime.Broker
	// AMQP is nil when no broker URL is configured or the dial failed.
	AMQP *amqp.Client
	// Notifier is handed to the journal service.
	Notifier adapters.Notifier
	Cleanup  CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string

	// AMQP is optional for either store.
	AMQPURL      string
	AMQPExchange string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

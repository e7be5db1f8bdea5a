package backend

import (
	"context"

	"aidat/internal/kv"
	"aidat/internal/services"
)

// CleanupFunc releases resources held by a backend.
type CleanupFunc func() error

// BackendResult bundles everything a process needs to persist and announce
// ledger changes. Publisher and Mirror are nil when not configured.
type BackendResult struct {
	Store     kv.Store
	Publisher services.Publisher
	Mirror    kv.Store
	// Ready reports whether the primary store is reachable.
	Ready   func(ctx context.Context) error
	Cleanup CleanupFunc
}

// Close runs Cleanup when set.
func (r *BackendResult) Close() error {
	if r == nil || r.Cleanup == nil {
		return nil
	}
	return r.Cleanup()
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite specific
	SQLiteDBPath string

	// AMQP, optional for every backend type
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets, used by the sheets backend and by the mirror
	GoogleSpreadsheetID      string
	GoogleStoreSheetName     string
	GoogleServiceAccountJSON string
	GoogleServiceAccountFile string

	// EnableMirror opens a Sheets store next to a non-sheets primary.
	EnableMirror bool
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	SheetsBackend BackendType = "sheets"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid returns true if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, SheetsBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

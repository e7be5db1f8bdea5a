package backend

import (
	"context"
	"errors"
	"fmt"

	"aidat/internal/amqp"
	"aidat/internal/kv"
	"aidat/internal/kv/memory"
	gsheets "aidat/internal/kv/sheets"
	applog "aidat/internal/log"
	"aidat/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *applog.Logger
}

// NewFactory creates a new backend factory
func NewFactory(logger *applog.Logger) Factory {
	if logger == nil {
		logger = applog.New(applog.DefaultConfig())
	}
	return &DefaultFactory{logger: logger.WithComponent(applog.ComponentBackend)}
}

// CreateBackend opens the primary store, then the optional publisher and
// mirror. A failing publisher is logged and skipped; a failing mirror is an
// error because the caller asked for it explicitly.
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		result *BackendResult
		err    error
	)
	switch config.Type {
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(config)
	case SheetsBackend:
		result, err = f.createSheetsBackend(ctx, config)
	case MemoryBackend:
		result, err = f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	cleanups := []CleanupFunc{result.Cleanup}

	if config.EnableMirror {
		mirror, err := gsheets.New(ctx, sheetsOptions(config))
		if err != nil {
			_ = result.Close()
			return nil, fmt.Errorf("failed to initialize Google Sheets mirror: %w", err)
		}
		result.Mirror = mirror
		f.logger.Info("Initialized Google Sheets mirror", "sheet", config.GoogleStoreSheetName)
	}

	if config.AMQPURL != "" {
		client, err := amqp.NewClient(config.AMQPURL, config.AMQPExchange, config.AMQPQueue)
		if err != nil {
			f.logger.Warn("Failed to initialize AMQP client, continuing without slot events", applog.FieldError, err)
		} else {
			result.Publisher = client
			cleanups = append(cleanups, client.Close)
			f.logger.Info("Initialized AMQP client",
				"exchange", config.AMQPExchange,
				"queue", config.AMQPQueue)
		}
	}

	result.Cleanup = joinCleanups(cleanups)
	return result, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	store, err := storage.NewSQLiteStore(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
	}

	f.logger.Info("Initialized SQLite backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Store:   store,
		Ready:   store.Ping,
		Cleanup: store.Close,
	}, nil
}

func (f *DefaultFactory) createSheetsBackend(ctx context.Context, config Config) (*BackendResult, error) {
	client, err := gsheets.New(ctx, sheetsOptions(config))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Google Sheets client: %w", err)
	}

	f.logger.Info("Initialized Google Sheets backend", "sheet", config.GoogleStoreSheetName)

	return &BackendResult{
		Store: client,
		Ready: func(ctx context.Context) error {
			_, _, err := client.Get(ctx, kv.SlotSettings)
			return err
		},
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	f.logger.Info("Initialized memory backend, data is lost on restart")

	return &BackendResult{
		Store: memory.New(),
		Ready: func(context.Context) error { return nil },
	}, nil
}

func sheetsOptions(config Config) gsheets.Options {
	return gsheets.Options{
		SpreadsheetID:   config.GoogleSpreadsheetID,
		SheetName:       config.GoogleStoreSheetName,
		CredentialsJSON: config.GoogleServiceAccountJSON,
		CredentialsFile: config.GoogleServiceAccountFile,
	}
}

// joinCleanups runs every cleanup in reverse order and joins their errors.
func joinCleanups(fns []CleanupFunc) CleanupFunc {
	return func() error {
		var errs []error
		for i := len(fns) - 1; i >= 0; i-- {
			if fns[i] == nil {
				continue
			}
			if err := fns[i](); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

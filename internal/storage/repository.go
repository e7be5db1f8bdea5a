package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"aidat/internal/kv"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the primary kv.Store: one row per slot, versioned on every
// write so the mirror worker can tell which slots moved.
type SQLiteStore struct {
	db *sql.DB
}

var _ kv.BatchStore = (*SQLiteStore)(nil)

const upsertSlot = `
	INSERT INTO slots (name, value, version, updated_at)
	VALUES (?, ?, 1, CURRENT_TIMESTAMP)
	ON CONFLICT(name) DO UPDATE SET
		value = excluded.value,
		version = slots.version + 1,
		updated_at = CURRENT_TIMESTAMP`

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// Slot writes are tiny; a single connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping reports whether the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Get implements kv.Store.
func (s *SQLiteStore) Get(ctx context.Context, slot kv.Slot) ([]byte, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM slots WHERE name = ?`, string(slot)).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get slot %s: %w", slot, err)
	}
	return []byte(value), true, nil
}

// Set implements kv.Store.
func (s *SQLiteStore) Set(ctx context.Context, slot kv.Slot, value []byte) error {
	if _, err := s.db.ExecContext(ctx, upsertSlot, string(slot), string(value)); err != nil {
		return fmt.Errorf("set slot %s: %w", slot, err)
	}
	slog.DebugContext(ctx, "Slot saved to SQLite", "slot", slot, "bytes", len(value))
	return nil
}

// SetMany implements kv.BatchStore. The slots are written in one transaction.
func (s *SQLiteStore) SetMany(ctx context.Context, values map[kv.Slot][]byte) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin slot batch: %w", err)
	}
	defer tx.Rollback()

	for slot, value := range values {
		if _, err := tx.ExecContext(ctx, upsertSlot, string(slot), string(value)); err != nil {
			return fmt.Errorf("set slot %s: %w", slot, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit slot batch: %w", err)
	}
	slog.DebugContext(ctx, "Slots saved to SQLite", "slots", len(values))
	return nil
}

// Versions returns the write counter of every stored slot.
func (s *SQLiteStore) Versions(ctx context.Context) (map[kv.Slot]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, version FROM slots`)
	if err != nil {
		return nil, fmt.Errorf("list slot versions: %w", err)
	}
	defer rows.Close()

	out := map[kv.Slot]int64{}
	for rows.Next() {
		var (
			name    string
			version int64
		)
		if err := rows.Scan(&name, &version); err != nil {
			return nil, fmt.Errorf("scan slot version: %w", err)
		}
		out[kv.Slot(name)] = version
	}
	return out, rows.Err()
}

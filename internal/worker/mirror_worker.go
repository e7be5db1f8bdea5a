package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"aidat/internal/amqp"
	"aidat/internal/kv"
	"aidat/internal/metrics"
)

// VersionSource is implemented by primary stores that count slot writes.
// When available, sweeps skip slots whose version was already mirrored.
type VersionSource interface {
	Versions(ctx context.Context) (map[kv.Slot]int64, error)
}

// MirrorWorker copies slots from the primary store to a mirror store, on
// demand from slot change events and periodically as a backstop for lost
// messages.
type MirrorWorker struct {
	primary kv.Store
	mirror  kv.Store
	metrics *metrics.Metrics

	mu       sync.Mutex
	mirrored map[kv.Slot]int64
}

func NewMirrorWorker(primary, mirror kv.Store, m *metrics.Metrics) *MirrorWorker {
	return &MirrorWorker{
		primary:  primary,
		mirror:   mirror,
		metrics:  m,
		mirrored: map[kv.Slot]int64{},
	}
}

// HandleSlotChanged mirrors the slot named in msg. Unknown slots are logged
// and acknowledged so they are not redelivered forever.
func (w *MirrorWorker) HandleSlotChanged(ctx context.Context, msg *amqp.SlotChangedMessage) error {
	slot, err := kv.ParseSlot(msg.Slot)
	if err != nil {
		slog.WarnContext(ctx, "Dropping slot change for unknown slot", "slot", msg.Slot, "revision", msg.Revision)
		return nil
	}
	slog.InfoContext(ctx, "Processing slot change", "slot", slot, "revision", msg.Revision)
	return w.mirrorSlot(ctx, slot, -1)
}

// mirrorSlot copies one slot. version is recorded on success when >= 0.
func (w *MirrorWorker) mirrorSlot(ctx context.Context, slot kv.Slot, version int64) error {
	value, found, err := w.primary.Get(ctx, slot)
	if err != nil {
		w.metrics.ObserveMirror(string(slot), err)
		return fmt.Errorf("read %s from primary: %w", slot, err)
	}
	if !found {
		return nil
	}
	if err := w.mirror.Set(ctx, slot, value); err != nil {
		w.metrics.ObserveMirror(string(slot), err)
		return fmt.Errorf("write %s to mirror: %w", slot, err)
	}
	w.metrics.ObserveMirror(string(slot), nil)

	if version >= 0 {
		w.mu.Lock()
		w.mirrored[slot] = version
		w.mu.Unlock()
	}
	slog.DebugContext(ctx, "Slot mirrored", "slot", slot, "bytes", len(value))
	return nil
}

// Sweep mirrors every slot that changed since the last sweep, or every slot
// when the primary store cannot report versions. It returns the number of
// slots copied.
func (w *MirrorWorker) Sweep(ctx context.Context) (int, error) {
	var versions map[kv.Slot]int64
	if vs, ok := w.primary.(VersionSource); ok {
		v, err := vs.Versions(ctx)
		if err != nil {
			return 0, fmt.Errorf("read slot versions: %w", err)
		}
		versions = v
	}

	copied := 0
	var errs []error
	for _, slot := range kv.AllSlots {
		version := int64(-1)
		if versions != nil {
			v, ok := versions[slot]
			if !ok {
				continue
			}
			w.mu.Lock()
			last, seen := w.mirrored[slot]
			w.mu.Unlock()
			if seen && last == v {
				continue
			}
			version = v
		}
		if err := w.mirrorSlot(ctx, slot, version); err != nil {
			errs = append(errs, err)
			continue
		}
		copied++
	}
	return copied, errors.Join(errs...)
}

// Run sweeps once at startup and then every interval until ctx is done.
func (w *MirrorWorker) Run(ctx context.Context, interval time.Duration) error {
	if n, err := w.Sweep(ctx); err != nil {
		slog.ErrorContext(ctx, "Startup mirror sweep failed", "error", err)
	} else {
		slog.InfoContext(ctx, "Startup mirror sweep completed", "copied", n)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			n, err := w.Sweep(ctx)
			if err != nil {
				slog.ErrorContext(ctx, "Mirror sweep failed", "error", err)
				continue
			}
			if n > 0 {
				slog.InfoContext(ctx, "Mirror sweep completed", "copied", n)
			}
		}
	}
}

// Package kv persists the ledger as four independent JSON documents
// ("slots") in any string-keyed store.
package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"aidat/internal/core"
)

// Slot names one persisted document.
type Slot string

const (
	SlotResidents Slot = "residents"
	SlotDues      Slot = "dues"
	SlotExpenses  Slot = "expenses"
	SlotSettings  Slot = "settings"
)

// AllSlots lists every slot in a stable order.
var AllSlots = []Slot{SlotResidents, SlotDues, SlotExpenses, SlotSettings}

var ErrUnknownSlot = errors.New("unknown slot")

// Store is the persistence port. Get reports found=false for a slot that was
// never written.
type Store interface {
	Get(ctx context.Context, slot Slot) (value []byte, found bool, err error)
	Set(ctx context.Context, slot Slot, value []byte) error
}

// BatchStore is a Store that can write several slots all-or-nothing.
type BatchStore interface {
	Store
	SetMany(ctx context.Context, values map[Slot][]byte) error
}

// ParseSlot validates a slot name coming from outside the process.
func ParseSlot(s string) (Slot, error) {
	for _, slot := range AllSlots {
		if string(slot) == s {
			return slot, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownSlot, s)
}

// Encode serializes the part of snap stored in slot.
func Encode(snap core.Snapshot, slot Slot) ([]byte, error) {
	var v any
	switch slot {
	case SlotResidents:
		v = snap.Residents
	case SlotDues:
		v = snap.Periods
	case SlotExpenses:
		v = snap.Expenses
	case SlotSettings:
		v = snap.Settings
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", slot, err)
	}
	return b, nil
}

// decode fills the part of snap stored in slot.
func decode(snap *core.Snapshot, slot Slot, b []byte) error {
	var err error
	switch slot {
	case SlotResidents:
		var v []core.Resident
		if err = json.Unmarshal(b, &v); err == nil && v != nil {
			snap.Residents = v
		}
	case SlotDues:
		var v []core.DuesPeriod
		if err = json.Unmarshal(b, &v); err == nil && v != nil {
			core.NormalizePeriods(v)
			snap.Periods = v
		}
	case SlotExpenses:
		var v []core.Expense
		if err = json.Unmarshal(b, &v); err == nil && v != nil {
			snap.Expenses = v
		}
	case SlotSettings:
		var v core.Settings
		if err = json.Unmarshal(b, &v); err == nil {
			snap.Settings = v
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownSlot, slot)
	}
	if err != nil {
		return fmt.Errorf("decode %s: %w", slot, err)
	}
	return nil
}

// Load reads all slots concurrently. A slot that is missing, empty, null,
// unreadable or undecodable falls back to its default independently of the others, so
// Load never fails: the returned report lists which slots were defaulted.
func Load(ctx context.Context, store Store, now time.Time) (core.Snapshot, []Slot) {
	defaults := core.DefaultSnapshot(now)
	raw := make([][]byte, len(AllSlots))

	var g errgroup.Group
	for i, slot := range AllSlots {
		g.Go(func() error {
			b, found, err := store.Get(ctx, slot)
			if err != nil {
				slog.WarnContext(ctx, "Failed to read slot, using default", "slot", slot, "error", err)
				return nil
			}
			if found && !isEmptyDocument(b) {
				raw[i] = b
			}
			return nil
		})
	}
	_ = g.Wait()

	snap := defaults.Clone()
	var defaulted []Slot
	for i, slot := range AllSlots {
		if raw[i] == nil {
			defaulted = append(defaulted, slot)
			continue
		}
		var decoded core.Snapshot
		if err := decode(&decoded, slot, raw[i]); err != nil {
			slog.WarnContext(ctx, "Corrupt slot, using default", "slot", slot, "error", err)
			defaulted = append(defaulted, slot)
			continue
		}
		switch slot {
		case SlotResidents:
			snap.Residents = nonNil(decoded.Residents)
		case SlotDues:
			snap.Periods = nonNil(decoded.Periods)
		case SlotExpenses:
			snap.Expenses = nonNil(decoded.Expenses)
		case SlotSettings:
			snap.Settings = decoded.Settings
		}
	}
	return snap, defaulted
}

// Save writes the given slots of snap, or every slot when none are given.
// A BatchStore gets all of them in one SetMany; otherwise writes run
// concurrently, the first error is returned and earlier writes stay.
func Save(ctx context.Context, store Store, snap core.Snapshot, slots ...Slot) error {
	if len(slots) == 0 {
		slots = AllSlots
	}
	values := make(map[Slot][]byte, len(slots))
	for _, slot := range slots {
		b, err := Encode(snap, slot)
		if err != nil {
			return err
		}
		values[slot] = b
	}

	if bs, ok := store.(BatchStore); ok && len(values) > 1 {
		if err := bs.SetMany(ctx, values); err != nil {
			return fmt.Errorf("save %v: %w", slots, err)
		}
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	for slot, b := range values {
		g.Go(func() error {
			if err := store.Set(ctx, slot, b); err != nil {
				return fmt.Errorf("save %s: %w", slot, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// isEmptyDocument reports a stored value that carries no data: blank or JSON
// null. Such slots load as absent.
func isEmptyDocument(b []byte) bool {
	b = bytes.TrimSpace(b)
	return len(b) == 0 || bytes.Equal(b, []byte("null"))
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

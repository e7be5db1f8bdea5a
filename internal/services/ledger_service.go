package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"aidat/internal/cache"
	"aidat/internal/core"
	"aidat/internal/kv"
	"aidat/internal/metrics"
)

// ErrPersist wraps store failures after a mutation was committed in memory.
var ErrPersist = errors.New("ledger changed but could not be saved")

// Publisher announces rewritten slots to out-of-process consumers.
type Publisher interface {
	PublishSlotChanged(ctx context.Context, slot string, revision int64) error
}

// Summary is the dashboard view of one revision.
type Summary struct {
	Revision      int64               `json:"revision"`
	ApartmentName string              `json:"apartmentName"`
	Totals        core.Totals         `json:"totals"`
	BalanceText   string              `json:"balanceText"`
	Debtors       []core.Resident     `json:"debtors"`
	LatestPeriod  *core.DuesPeriod    `json:"latestPeriod,omitempty"`
	Series        []core.MonthlyPoint `json:"series"`
	Unread        int                 `json:"unreadNotifications"`
}

type Option func(*LedgerService)

func WithClock(now func() time.Time) Option {
	return func(s *LedgerService) { s.now = now }
}

func WithIDGenerator(newID func() string) Option {
	return func(s *LedgerService) { s.newID = newID }
}

func WithPublisher(p Publisher) Option {
	return func(s *LedgerService) { s.publisher = p }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *LedgerService) { s.metrics = m }
}

// WithSummaryCache memoizes summaries per revision for ttl.
func WithSummaryCache(ttl time.Duration) Option {
	return func(s *LedgerService) {
		if ttl > 0 {
			s.summaries = cache.NewLRUCache[Summary](8, ttl)
		}
	}
}

// LedgerService is the single owner of the ledger snapshot. Every mutation
// reads the current snapshot, computes the next one and installs it under
// one lock, then writes the changed slots through to the store.
type LedgerService struct {
	mu       sync.Mutex
	snap     core.Snapshot
	revision int64
	notes    *core.NotificationLog

	store     kv.Store
	publisher Publisher
	metrics   *metrics.Metrics
	summaries *cache.LRUCache[Summary]
	now       func() time.Time
	newID     func() string
}

// NewLedgerService loads the snapshot from store, installing defaults for
// missing slots and writing them back.
func NewLedgerService(ctx context.Context, store kv.Store, opts ...Option) *LedgerService {
	s := &LedgerService{
		store: store,
		notes: core.NewNotificationLog(),
		now:   time.Now,
		newID: core.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}

	snap, defaulted := kv.Load(ctx, store, s.now())
	s.snap = snap
	if len(defaulted) > 0 {
		slog.InfoContext(ctx, "Installing defaults for missing slots", "slots", defaulted)
		if err := kv.Save(ctx, store, snap, defaulted...); err != nil {
			slog.WarnContext(ctx, "Failed to persist defaults", "error", err)
		}
	}
	s.updateGauges(snap)
	return s
}

// change is the outcome of one transition. No slots means nothing changed.
type change struct {
	next  core.Snapshot
	note  string
	slots []kv.Slot
}

// apply runs fn against the current snapshot and commits its result.
func (s *LedgerService) apply(ctx context.Context, op string, fn func(cur core.Snapshot) (change, error)) error {
	s.mu.Lock()
	ch, err := fn(s.snap)
	if err != nil {
		s.mu.Unlock()
		s.metrics.ObserveMutation(op, err)
		return err
	}
	if ch.note != "" {
		s.notes.Add(s.now(), ch.note)
	}
	if len(ch.slots) == 0 {
		s.mu.Unlock()
		s.metrics.ObserveMutation(op, nil)
		return nil
	}
	s.snap = ch.next
	s.revision++
	rev := s.revision
	perr := s.persistLocked(ctx, ch.slots)
	next := s.snap
	s.mu.Unlock()

	s.metrics.ObserveMutation(op, perr)
	s.updateGauges(next)
	s.publish(ctx, rev, ch.slots)

	slog.DebugContext(ctx, "Ledger mutation committed", "operation", op, "revision", rev, "slots", ch.slots)
	return perr
}

func (s *LedgerService) persistLocked(ctx context.Context, slots []kv.Slot) error {
	if err := kv.Save(ctx, s.store, s.snap, slots...); err != nil {
		for _, slot := range slots {
			s.metrics.IncrementPersistFailure(string(slot))
		}
		slog.ErrorContext(ctx, "Failed to persist ledger", "slots", slots, "error", err)
		return fmt.Errorf("%w: %v", ErrPersist, err)
	}
	return nil
}

func (s *LedgerService) publish(ctx context.Context, rev int64, slots []kv.Slot) {
	if s.publisher == nil {
		return
	}
	for _, slot := range slots {
		if err := s.publisher.PublishSlotChanged(ctx, string(slot), rev); err != nil {
			s.metrics.IncrementPublishFailure()
			slog.WarnContext(ctx, "Failed to publish slot change", "slot", slot, "revision", rev, "error", err)
		}
	}
}

func (s *LedgerService) updateGauges(snap core.Snapshot) {
	t := core.ComputeTotals(snap)
	s.metrics.SetLedgerGauges(t.UnpaidDuesCount, t.Balance.InexactFloat64())
}

// Snapshot returns a copy of the current state.
func (s *LedgerService) Snapshot() core.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap.Clone()
}

// Revision increases by one with every committed change.
func (s *LedgerService) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

func (s *LedgerService) read() (core.Snapshot, int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.revision
}

// Residents

func (s *LedgerService) AddResident(ctx context.Context, r core.Resident) (core.Resident, error) {
	r.FullName = strings.TrimSpace(r.FullName)
	if err := r.Validate(); err != nil {
		return core.Resident{}, err
	}
	if r.ID == "" {
		r.ID = s.newID()
	}
	err := s.apply(ctx, "add_resident", func(cur core.Snapshot) (change, error) {
		return change{
			next:  core.AddResident(cur, r),
			note:  core.MsgResidentAdded(r),
			slots: []kv.Slot{kv.SlotResidents, kv.SlotDues},
		}, nil
	})
	return r, err
}

func (s *LedgerService) UpdateResident(ctx context.Context, r core.Resident) error {
	r.FullName = strings.TrimSpace(r.FullName)
	if err := r.Validate(); err != nil {
		return err
	}
	return s.apply(ctx, "update_resident", func(cur core.Snapshot) (change, error) {
		next, err := core.UpdateResident(cur, r)
		if err != nil {
			return change{}, err
		}
		return change{next: next, note: core.MsgResidentUpdated(r), slots: []kv.Slot{kv.SlotResidents}}, nil
	})
}

func (s *LedgerService) DeleteResident(ctx context.Context, id string) error {
	return s.apply(ctx, "delete_resident", func(cur core.Snapshot) (change, error) {
		next, removed, err := core.DeleteResident(cur, id)
		if err != nil {
			return change{}, err
		}
		return change{
			next:  next,
			note:  core.MsgResidentDeleted(removed.FullName),
			slots: []kv.Slot{kv.SlotResidents, kv.SlotDues},
		}, nil
	})
}

// Dues

// AddDuesPeriod creates a period with an unpaid entry for every current
// resident. The label must be "<MonthName> <Year>".
func (s *LedgerService) AddDuesPeriod(ctx context.Context, p core.DuesPeriod) (core.DuesPeriod, error) {
	p.Label = strings.TrimSpace(p.Label)
	if p.ID == "" {
		p.ID = s.newID()
	}
	var created core.DuesPeriod
	err := s.apply(ctx, "add_dues_period", func(cur core.Snapshot) (change, error) {
		next, added, err := core.AddDuesPeriod(cur, p)
		if err != nil {
			return change{}, err
		}
		created = added
		return change{next: next, note: core.MsgPeriodAdded(added), slots: []kv.Slot{kv.SlotDues}}, nil
	})
	return created, err
}

// TogglePayment sets one paid flag. An unknown period is ErrPeriodNotFound;
// a resident without an entry in it is a silent no-op reported as found=false.
func (s *LedgerService) TogglePayment(ctx context.Context, periodID, residentID string, paid bool) (bool, error) {
	var found bool
	err := s.apply(ctx, "toggle_payment", func(cur core.Snapshot) (change, error) {
		if _, ok := cur.PeriodByID(periodID); !ok {
			return change{}, fmt.Errorf("toggle %s: %w", periodID, core.ErrPeriodNotFound)
		}
		next, ok := core.TogglePayment(cur, periodID, residentID, paid)
		found = ok
		if !ok {
			return change{}, nil
		}
		return change{next: next, slots: []kv.Slot{kv.SlotDues}}, nil
	})
	return found, err
}

// UpdateDuesByUnitNumber marks the latest period of the resident living in
// unit as paid or unpaid. The returned text is meant to be relayed verbatim;
// ok is false when nothing could be marked.
func (s *LedgerService) UpdateDuesByUnitNumber(ctx context.Context, unit int, paid bool) (string, bool) {
	var (
		reply string
		ok    bool
	)
	err := s.apply(ctx, "update_dues_by_unit", func(cur core.Snapshot) (change, error) {
		r, found := cur.ResidentByUnit(unit)
		if !found {
			reply = core.MsgUnitNotFound(unit)
			return change{}, nil
		}
		latest, found := core.LatestPeriod(cur.Periods)
		if !found {
			reply = core.MsgNoPeriods
			return change{}, nil
		}
		ok = true
		reply = core.MsgDuesConfirmed(unit, latest, paid)
		ch := change{note: core.MsgDuesMarked(r, latest, paid)}
		if next, toggled := core.TogglePayment(cur, latest.ID, r.ID, paid); toggled {
			ch.next = next
			ch.slots = []kv.Slot{kv.SlotDues}
		}
		return ch, nil
	})
	if err != nil {
		slog.WarnContext(ctx, "Dues command committed with errors", "unit", unit, "error", err)
	}
	return reply, ok
}

// Expenses

func (s *LedgerService) AddExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	e.Description = strings.TrimSpace(e.Description)
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}
	if e.ID == "" {
		e.ID = s.newID()
	}
	err := s.apply(ctx, "add_expense", func(cur core.Snapshot) (change, error) {
		return change{next: core.AddExpense(cur, e), note: core.MsgExpenseAdded(e), slots: []kv.Slot{kv.SlotExpenses}}, nil
	})
	return e, err
}

func (s *LedgerService) UpdateExpense(ctx context.Context, e core.Expense) error {
	e.Description = strings.TrimSpace(e.Description)
	if err := e.Validate(); err != nil {
		return err
	}
	return s.apply(ctx, "update_expense", func(cur core.Snapshot) (change, error) {
		next, err := core.UpdateExpense(cur, e)
		if err != nil {
			return change{}, err
		}
		return change{next: next, note: core.MsgExpenseUpdated(e), slots: []kv.Slot{kv.SlotExpenses}}, nil
	})
}

func (s *LedgerService) DeleteExpense(ctx context.Context, id string) error {
	return s.apply(ctx, "delete_expense", func(cur core.Snapshot) (change, error) {
		next, removed, err := core.DeleteExpense(cur, id)
		if err != nil {
			return change{}, err
		}
		return change{next: next, note: core.MsgExpenseDeleted(removed.Description), slots: []kv.Slot{kv.SlotExpenses}}, nil
	})
}

// AddExpenseByDescription records an expense dated today. The category is
// passed through as given.
func (s *LedgerService) AddExpenseByDescription(ctx context.Context, description string, amount decimal.Decimal, category string) (string, bool) {
	e := core.Expense{
		Description: description,
		Amount:      amount,
		Date:        core.DateOf(s.now()),
		Category:    category,
	}
	added, err := s.AddExpense(ctx, e)
	if err != nil && !errors.Is(err, ErrPersist) {
		return core.MsgExpenseRejected(err), false
	}
	return core.MsgExpenseConfirmed(added), true
}

// Settings and bulk replace

func (s *LedgerService) UpdateSettings(ctx context.Context, settings core.Settings) error {
	settings.ApartmentName = strings.TrimSpace(settings.ApartmentName)
	return s.apply(ctx, "update_settings", func(cur core.Snapshot) (change, error) {
		next := cur.Clone()
		next.Settings = settings
		return change{next: next, note: core.MsgSettingsUpdated, slots: []kv.Slot{kv.SlotSettings}}, nil
	})
}

// BulkReplace installs d verbatim. Cross references are not checked.
func (s *LedgerService) BulkReplace(ctx context.Context, d core.Dataset) error {
	return s.apply(ctx, "bulk_replace", func(cur core.Snapshot) (change, error) {
		return change{
			next:  core.ReplaceDataset(cur, d),
			note:  core.MsgDataImported,
			slots: []kv.Slot{kv.SlotResidents, kv.SlotDues, kv.SlotExpenses},
		}, nil
	})
}

// Queries

func (s *LedgerService) Totals() core.Totals {
	snap, _ := s.read()
	return core.ComputeTotals(snap)
}

func (s *LedgerService) CurrentDebtors() []core.Resident {
	snap, _ := s.read()
	return core.CurrentDebtors(snap)
}

func (s *LedgerService) MonthlySeries() []core.MonthlyPoint {
	snap, _ := s.read()
	return core.MonthlySeries(snap)
}

func (s *LedgerService) ResidentLedger(id string) (core.ResidentLedger, error) {
	snap, _ := s.read()
	if _, ok := snap.ResidentByID(id); !ok {
		return core.ResidentLedger{}, fmt.Errorf("ledger %s: %w", id, core.ErrResidentNotFound)
	}
	return core.ComputeResidentLedger(snap, id), nil
}

// NewPeriodDraft prefills a period for the current month.
func (s *LedgerService) NewPeriodDraft() core.DuesPeriod {
	snap, _ := s.read()
	return core.NewPeriodDraft(s.now(), snap.Settings)
}

// Summary returns the dashboard figures of the current revision.
func (s *LedgerService) Summary() Summary {
	snap, rev := s.read()
	build := func() Summary {
		totals := core.ComputeTotals(snap)
		sum := Summary{
			Revision:      rev,
			ApartmentName: snap.Settings.ApartmentName,
			Totals:        totals,
			BalanceText:   core.FormatLira(totals.Balance),
			Debtors:       core.CurrentDebtors(snap),
			Series:        core.MonthlySeries(snap),
		}
		if latest, ok := core.LatestPeriod(snap.Periods); ok {
			sum.LatestPeriod = &latest
		}
		return sum
	}
	var sum Summary
	if s.summaries != nil {
		sum = s.summaries.GetOrCompute(strconv.FormatInt(rev, 10), build)
	} else {
		sum = build()
	}
	sum.Unread = s.UnreadCount()
	return sum
}

// CleanExpired drops stale summaries so a cache.Manager can sweep them.
func (s *LedgerService) CleanExpired() int {
	if s.summaries == nil {
		return 0
	}
	return s.summaries.CleanExpired()
}

// Notifications

func (s *LedgerService) Notifications() []core.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notes.List()
}

func (s *LedgerService) UnreadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.notes.Unread()
}

func (s *LedgerService) MarkNotificationsRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notes.MarkAllRead()
}

// NotifyOverdue adds one notification per unpaid entry of every period
// whose due date has passed, skipping pairs already mentioned. It returns
// the number of notifications added.
func (s *LedgerService) NotifyOverdue(ctx context.Context) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	added := 0
	for _, n := range core.OverdueNotices(s.snap, core.DateOf(now)) {
		if s.notes.Mentions(n.Resident.FullName, n.Period.Label) {
			continue
		}
		s.notes.Add(now, core.MsgOverdue(n.Resident, n.Period))
		added++
	}
	if added > 0 {
		slog.InfoContext(ctx, "Overdue dues detected", "count", added)
	}
	return added
}

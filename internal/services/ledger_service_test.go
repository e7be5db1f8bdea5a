package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"

	"aidat/internal/core"
	"aidat/internal/kv"
	"aidat/internal/kv/memory"
	"aidat/internal/metrics"
)

var testNow = time.Date(2025, time.May, 20, 10, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
	err    error
}

func (p *recordingPublisher) PublishSlotChanged(_ context.Context, slot string, revision int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, fmt.Sprintf("%s@%d", slot, revision))
	return nil
}

func newTestService(t *testing.T, opts ...Option) (*LedgerService, *memory.Store, *recordingPublisher) {
	t.Helper()
	store := memory.New()
	pub := &recordingPublisher{}
	seq := 0
	base := []Option{
		WithClock(func() time.Time { return testNow }),
		WithIDGenerator(func() string { seq++; return fmt.Sprintf("id-%d", seq) }),
		WithPublisher(pub),
	}
	svc := NewLedgerService(context.Background(), store, append(base, opts...)...)
	return svc, store, pub
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestNewLedgerServiceInstallsAndPersistsDefaults(t *testing.T) {
	svc, store, _ := newTestService(t)

	snap := svc.Snapshot()
	if len(snap.Residents) != 5 || len(snap.Periods) != 3 || len(snap.Expenses) != 4 {
		t.Fatalf("unexpected default snapshot sizes")
	}
	if store.Writes() != len(kv.AllSlots) {
		t.Fatalf("expected defaults written back, got %d writes", store.Writes())
	}
	if svc.Revision() != 0 {
		t.Fatalf("loading must not bump the revision")
	}

	// A second service over the same store sees the same data without rewriting it.
	again := NewLedgerService(context.Background(), store, WithClock(func() time.Time { return testNow }))
	if store.Writes() != len(kv.AllSlots) {
		t.Fatalf("reload rewrote slots")
	}
	if !again.Totals().Balance.Equal(svc.Totals().Balance) {
		t.Fatalf("reloaded balance differs")
	}
}

func TestAddResidentBackfillsAndPersists(t *testing.T) {
	ctx := context.Background()
	svc, store, pub := newTestService(t)
	before := svc.Totals().UnpaidDuesCount

	r, err := svc.AddResident(ctx, core.Resident{FullName: "  Zeynep Ak ", UnitNumber: 6})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ID != "id-1" || r.FullName != "Zeynep Ak" {
		t.Fatalf("unexpected resident %+v", r)
	}
	if got := svc.Totals().UnpaidDuesCount; got != before+3 {
		t.Fatalf("expected %d unpaid, got %d", before+3, got)
	}

	reloaded, _ := kv.Load(ctx, store, testNow)
	for _, p := range reloaded.Periods {
		if _, ok := p.EntryFor("id-1"); !ok {
			t.Fatalf("persisted period %s lacks the backfilled entry", p.Label)
		}
	}
	if strings.Join(pub.events, ",") != "residents@1,dues@1" {
		t.Fatalf("unexpected events %v", pub.events)
	}
	if n := svc.Notifications(); len(n) != 1 || n[0].Message != "Zeynep Ak yeni sakin olarak eklendi." {
		t.Fatalf("unexpected notifications %+v", n)
	}
}

func TestAddResidentValidation(t *testing.T) {
	svc, store, _ := newTestService(t)
	writes := store.Writes()

	cases := []struct {
		name string
		r    core.Resident
		want error
	}{
		{"empty name", core.Resident{FullName: "  ", UnitNumber: 1}, core.ErrEmptyName},
		{"bad unit", core.Resident{FullName: "A", UnitNumber: 0}, core.ErrInvalidUnit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := svc.AddResident(context.Background(), tc.r); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
	if store.Writes() != writes || svc.Revision() != 0 {
		t.Fatalf("rejected input must not change state")
	}
}

func TestDeleteResidentCascadesAndNotifies(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	if err := svc.DeleteResident(ctx, "sakin-2"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, p := range svc.Snapshot().Periods {
		if _, ok := p.EntryFor("sakin-2"); ok {
			t.Fatalf("entry left in %s", p.Label)
		}
	}
	if svc.Notifications()[0].Message != "Ayşe Kaya sistemden silindi." {
		t.Fatalf("unexpected notification %q", svc.Notifications()[0].Message)
	}
	if err := svc.DeleteResident(ctx, "sakin-2"); !errors.Is(err, core.ErrResidentNotFound) {
		t.Fatalf("expected ErrResidentNotFound, got %v", err)
	}
}

func TestDeleteOnlyResidentReducesUnpaidByPeriodCount(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	if err := svc.BulkReplace(ctx, core.Dataset{}); err != nil {
		t.Fatal(err)
	}
	r, _ := svc.AddResident(ctx, core.Resident{FullName: "Tek Sakin", UnitNumber: 1})
	for _, label := range []string{"Mart 2025", "Nisan 2025"} {
		if _, err := svc.AddDuesPeriod(ctx, core.DuesPeriod{Label: label, Amount: dec("500")}); err != nil {
			t.Fatal(err)
		}
	}
	if got := svc.Totals().UnpaidDuesCount; got != 2 {
		t.Fatalf("expected 2 unpaid, got %d", got)
	}
	if err := svc.DeleteResident(ctx, r.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := svc.Totals().UnpaidDuesCount; got != 0 {
		t.Fatalf("expected 0 unpaid, got %d", got)
	}
}

func TestAddDuesPeriodRejectsBadLabel(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.AddDuesPeriod(context.Background(), core.DuesPeriod{Label: "Haziran", Amount: dec("1")})
	if !errors.Is(err, core.ErrInvalidPeriodLabel) {
		t.Fatalf("expected ErrInvalidPeriodLabel, got %v", err)
	}
	if len(svc.Snapshot().Periods) != 3 {
		t.Fatalf("failed creation must not add a period")
	}
}

func TestTogglePaymentIsSilentAndIdempotent(t *testing.T) {
	ctx := context.Background()
	svc, _, pub := newTestService(t)

	found, err := svc.TogglePayment(ctx, "aidat-1", "sakin-1", true)
	if err != nil || !found {
		t.Fatalf("unexpected result found=%v err=%v", found, err)
	}
	first := svc.Totals()
	if _, err := svc.TogglePayment(ctx, "aidat-1", "sakin-1", true); err != nil {
		t.Fatal(err)
	}
	second := svc.Totals()
	if !first.TotalIncome.Equal(second.TotalIncome) || first.UnpaidDuesCount != second.UnpaidDuesCount {
		t.Fatalf("toggle is not idempotent")
	}
	if len(svc.Notifications()) != 0 {
		t.Fatalf("toggle must not notify")
	}

	rev := svc.Revision()
	found, err = svc.TogglePayment(ctx, "aidat-1", "nobody", true)
	if err != nil || found {
		t.Fatalf("missing entry: found=%v err=%v", found, err)
	}
	if svc.Revision() != rev || len(pub.events) != 2 {
		t.Fatalf("no-op toggle must not commit")
	}

	found, err = svc.TogglePayment(ctx, "missing", "sakin-1", true)
	if !errors.Is(err, core.ErrPeriodNotFound) || found {
		t.Fatalf("unknown period: found=%v err=%v", found, err)
	}
	if svc.Revision() != rev {
		t.Fatalf("unknown period must not commit")
	}
}

func TestUpdateDuesByUnitNumber(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	// aidat-1 is the latest default period and unit 4 starts unpaid there.
	reply, ok := svc.UpdateDuesByUnitNumber(ctx, 4, true)
	if !ok {
		t.Fatalf("expected success, got %q", reply)
	}
	if reply != "Tamamdır, 4 numaralı dairenin Mayıs 2025 dönemi aidatı ödendi olarak işaretlendi." {
		t.Fatalf("unexpected reply %q", reply)
	}
	latest, _ := core.LatestPeriod(svc.Snapshot().Periods)
	if e, _ := latest.EntryFor("sakin-4"); !e.Paid {
		t.Fatalf("entry not marked paid")
	}
	if svc.Notifications()[0].Message != "Fatma Çelik (Daire 4) - Mayıs 2025 aidatı ödendi olarak işaretlendi." {
		t.Fatalf("unexpected notification %q", svc.Notifications()[0].Message)
	}
}

func TestUpdateDuesByUnitNumberFailures(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	writes := store.Writes()

	reply, ok := svc.UpdateDuesByUnitNumber(ctx, 99, true)
	if ok || reply != "Hata: 99 numaralı daire bulunamadı." {
		t.Fatalf("unexpected result %q %v", reply, ok)
	}
	if store.Writes() != writes || svc.Revision() != 0 || len(svc.Notifications()) != 0 {
		t.Fatalf("failed command must not mutate")
	}

	if err := svc.BulkReplace(ctx, core.Dataset{Residents: []core.Resident{{ID: "x", FullName: "X", UnitNumber: 1}}}); err != nil {
		t.Fatal(err)
	}
	reply, ok = svc.UpdateDuesByUnitNumber(ctx, 1, true)
	if ok || reply != "Hata: Henüz aidat dönemi oluşturulmamış." {
		t.Fatalf("unexpected result %q %v", reply, ok)
	}
}

func TestAddExpenseByDescription(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	before := svc.Totals().TotalExpense

	reply, ok := svc.AddExpenseByDescription(ctx, "Çatı tamiri", dec("1500"), "Tamirat")
	if !ok || reply != "Anlaşıldı, 1500 TL tutarında Çatı tamiri masrafı Tamirat kategorisine eklendi." {
		t.Fatalf("unexpected reply %q", reply)
	}
	snap := svc.Snapshot()
	added := snap.Expenses[len(snap.Expenses)-1]
	if added.Date.String() != "2025-05-20" || added.Category != "Tamirat" {
		t.Fatalf("unexpected expense %+v", added)
	}
	if !svc.Totals().TotalExpense.Equal(before.Add(dec("1500"))) {
		t.Fatalf("expense not counted")
	}

	reply, ok = svc.AddExpenseByDescription(ctx, "Boş", dec("0"), core.CategoryOther)
	if ok || !strings.HasPrefix(reply, "Hata:") {
		t.Fatalf("expected rejection, got %q", reply)
	}
}

func TestExpenseCRUD(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	e, err := svc.AddExpense(ctx, core.Expense{Description: "Boya", Amount: dec("250"), Date: core.NewDate(2025, 5, 1), Category: core.CategoryFixture})
	if err != nil {
		t.Fatal(err)
	}
	e.Amount = dec("300")
	if err := svc.UpdateExpense(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteExpense(ctx, e.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.DeleteExpense(ctx, e.ID); !errors.Is(err, core.ErrExpenseNotFound) {
		t.Fatalf("expected ErrExpenseNotFound, got %v", err)
	}
	want := []string{"Boya masrafı silindi.", "Boya masrafı güncellendi.", "Boya masrafı eklendi."}
	for i, n := range svc.Notifications()[:3] {
		if n.Message != want[i] {
			t.Fatalf("notification %d: expected %q, got %q", i, want[i], n.Message)
		}
	}
}

func TestUpdateSettingsAndBulkReplace(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)

	if err := svc.UpdateSettings(ctx, core.Settings{ApartmentName: "Deniz Apartmanı", DefaultDueAmount: dec("700")}); err != nil {
		t.Fatal(err)
	}
	if err := svc.BulkReplace(ctx, core.Dataset{}); err != nil {
		t.Fatal(err)
	}
	snap := svc.Snapshot()
	if snap.Settings.ApartmentName != "Deniz Apartmanı" || len(snap.Residents) != 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	if draft := svc.NewPeriodDraft(); !draft.Amount.Equal(dec("700")) || draft.Label != "Mayıs 2025" {
		t.Fatalf("unexpected draft %+v", draft)
	}
	reloaded, _ := kv.Load(ctx, store, testNow)
	if len(reloaded.Residents) != 0 || reloaded.Settings.ApartmentName != "Deniz Apartmanı" {
		t.Fatalf("bulk replace not persisted")
	}
	if svc.Notifications()[0].Message != core.MsgDataImported {
		t.Fatalf("unexpected notification")
	}
}

func TestPersistFailureIsReportedButCommitted(t *testing.T) {
	m := metrics.New()
	svc, store, _ := newTestService(t, WithMetrics(m))
	store.FailSlot(kv.SlotExpenses, true)

	_, err := svc.AddExpense(context.Background(), core.Expense{Description: "X", Amount: dec("1"), Date: core.NewDate(2025, 5, 1)})
	if !errors.Is(err, ErrPersist) {
		t.Fatalf("expected ErrPersist, got %v", err)
	}
	if len(svc.Snapshot().Expenses) != 5 {
		t.Fatalf("in-memory state should hold the committed expense")
	}
	if got := testutil.ToFloat64(m.PersistFailures.WithLabelValues("expenses")); got != 1 {
		t.Fatalf("expected persist failure metric, got %v", got)
	}
}

func TestPublishFailureDoesNotFailMutation(t *testing.T) {
	svc, _, pub := newTestService(t)
	pub.err = errors.New("broker down")
	if err := svc.UpdateSettings(context.Background(), core.DefaultSettings()); err != nil {
		t.Fatalf("publish errors must not surface: %v", err)
	}
}

func TestQueries(t *testing.T) {
	svc, _, _ := newTestService(t, WithSummaryCache(time.Minute))

	if _, err := svc.ResidentLedger("missing"); !errors.Is(err, core.ErrResidentNotFound) {
		t.Fatalf("expected ErrResidentNotFound, got %v", err)
	}
	l, err := svc.ResidentLedger("sakin-1")
	if err != nil || len(l.Lines) != 3 || !l.Balance.Equal(l.TotalDebt.Neg()) {
		t.Fatalf("unexpected ledger %+v %v", l, err)
	}

	sum := svc.Summary()
	if sum.LatestPeriod == nil || sum.LatestPeriod.ID != "aidat-1" || sum.ApartmentName != "Emir Apartmanı" {
		t.Fatalf("unexpected summary %+v", sum)
	}
	if sum.BalanceText != core.FormatLira(sum.Totals.Balance) || !strings.HasPrefix(strings.TrimPrefix(sum.BalanceText, "-"), "₺") {
		t.Fatalf("unexpected balance text %q", sum.BalanceText)
	}
	if len(sum.Debtors) != len(svc.CurrentDebtors()) || len(sum.Series) != len(svc.MonthlySeries()) {
		t.Fatalf("summary disagrees with queries")
	}

	if _, err := svc.TogglePayment(context.Background(), "aidat-1", sum.Debtors[0].ID, true); err != nil {
		t.Fatal(err)
	}
	if after := svc.Summary(); after.Revision != 1 || len(after.Debtors) != len(sum.Debtors)-1 {
		t.Fatalf("summary not refreshed after mutation: %+v", after)
	}
}

func TestNotifyOverdue(t *testing.T) {
	svc, _, _ := newTestService(t)

	// The two older default periods are past due on 2025-05-20.
	snap := svc.Snapshot()
	want := 0
	for _, p := range snap.Periods {
		if p.DueDate.Before(testNow) {
			for _, e := range p.Entries {
				if !e.Paid {
					want++
				}
			}
		}
	}
	if got := svc.NotifyOverdue(context.Background()); got != want {
		t.Fatalf("expected %d overdue notifications, got %d", want, got)
	}
	if got := svc.NotifyOverdue(context.Background()); got != 0 {
		t.Fatalf("second scan must not duplicate, added %d", got)
	}
	if svc.UnreadCount() != want {
		t.Fatalf("expected %d unread", want)
	}
	svc.MarkNotificationsRead()
	if svc.UnreadCount() != 0 {
		t.Fatalf("expected all read")
	}
}

func TestSummaryCacheSweep(t *testing.T) {
	svc, _, _ := newTestService(t, WithSummaryCache(time.Millisecond))
	if n := svc.CleanExpired(); n != 0 {
		t.Fatalf("empty cache removed %d", n)
	}
	svc.Summary()
	time.Sleep(5 * time.Millisecond)
	if n := svc.CleanExpired(); n != 1 {
		t.Fatalf("expected one expired summary, removed %d", n)
	}

	uncached, _, _ := newTestService(t)
	uncached.Summary()
	if n := uncached.CleanExpired(); n != 0 {
		t.Fatalf("uncached service removed %d", n)
	}
}

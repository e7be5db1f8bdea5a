package core

import (
	"slices"

	"github.com/shopspring/decimal"
)

// Totals are all-time aggregates over the whole snapshot, not period-scoped.
type Totals struct {
	TotalIncome     decimal.Decimal `json:"totalIncome"`
	TotalExpense    decimal.Decimal `json:"totalExpense"`
	Balance         decimal.Decimal `json:"balance"`
	UnpaidDuesCount int             `json:"unpaidDuesCount"`
	TotalDuesAmount decimal.Decimal `json:"totalDuesAmount"`
}

// MonthlyPoint is one bucket of the income/expense time series.
type MonthlyPoint struct {
	Period  Period          `json:"period"`
	Label   string          `json:"label"`
	Name    string          `json:"name"`
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
}

// LedgerLine is one period as seen by a single resident.
type LedgerLine struct {
	PeriodID string          `json:"periodId"`
	Label    string          `json:"periodLabel"`
	Amount   decimal.Decimal `json:"amount"`
	DueDate  Date            `json:"dueDate"`
	Paid     bool            `json:"paid"`
}

// ResidentLedger is the payment history of one resident. Balance is always
// the negative of TotalDebt, never a net cash position.
type ResidentLedger struct {
	ResidentID string          `json:"residentId"`
	Lines      []LedgerLine    `json:"lines"`
	TotalPaid  decimal.Decimal `json:"totalPaid"`
	TotalDebt  decimal.Decimal `json:"totalDebt"`
	Balance    decimal.Decimal `json:"balance"`
}

// ComputeTotals derives income, expense, balance and unpaid counts.
func ComputeTotals(s Snapshot) Totals {
	t := Totals{
		TotalIncome:     decimal.Zero,
		TotalDuesAmount: decimal.Zero,
	}
	for _, p := range s.Periods {
		for _, e := range p.Entries {
			if e.Paid {
				t.TotalIncome = t.TotalIncome.Add(p.Amount)
			} else {
				t.UnpaidDuesCount++
			}
			t.TotalDuesAmount = t.TotalDuesAmount.Add(p.Amount)
		}
	}
	amounts := make([]decimal.Decimal, len(s.Expenses))
	for i, e := range s.Expenses {
		amounts[i] = e.Amount
	}
	t.TotalExpense = sumAmounts(amounts...)
	t.Balance = t.TotalIncome.Sub(t.TotalExpense)
	return t
}

// CurrentDebtors lists residents unpaid in the latest period, in entry
// order. Residents without an entry there are not debtors, and entries whose
// resident no longer resolves are skipped.
func CurrentDebtors(s Snapshot) []Resident {
	latest, ok := LatestPeriod(s.Periods)
	if !ok {
		return []Resident{}
	}
	debtors := []Resident{}
	for _, e := range latest.Entries {
		if e.Paid {
			continue
		}
		if r, ok := s.ResidentByID(e.ResidentID); ok {
			debtors = append(debtors, r)
		}
	}
	return debtors
}

// MonthlySeries buckets paid dues and expenses by (year, month), oldest first.
// Dues and expenses of the same calendar month always share a bucket.
func MonthlySeries(s Snapshot) []MonthlyPoint {
	buckets := map[Period]*MonthlyPoint{}
	bucket := func(p Period) *MonthlyPoint {
		if b, ok := buckets[p]; ok {
			return b
		}
		b := &MonthlyPoint{
			Period:  p,
			Label:   p.Label(),
			Name:    p.MonthName(),
			Income:  decimal.Zero,
			Expense: decimal.Zero,
		}
		buckets[p] = b
		return b
	}

	for _, p := range s.Periods {
		paid := 0
		for _, e := range p.Entries {
			if e.Paid {
				paid++
			}
		}
		b := bucket(p.Key)
		b.Income = b.Income.Add(p.Amount.Mul(decimal.NewFromInt(int64(paid))))
	}
	for _, e := range s.Expenses {
		b := bucket(PeriodOf(e.Date.Time))
		b.Expense = b.Expense.Add(e.Amount)
	}

	out := make([]MonthlyPoint, 0, len(buckets))
	for _, b := range buckets {
		out = append(out, *b)
	}
	slices.SortFunc(out, func(a, b MonthlyPoint) int {
		return a.Period.Compare(b.Period)
	})
	return out
}

// ComputeResidentLedger lists every period, newest first, from the point of
// view of one resident. A missing entry counts as unpaid here.
func ComputeResidentLedger(s Snapshot, residentID string) ResidentLedger {
	l := ResidentLedger{
		ResidentID: residentID,
		Lines:      make([]LedgerLine, 0, len(s.Periods)),
		TotalPaid:  decimal.Zero,
		TotalDebt:  decimal.Zero,
	}
	for _, p := range SortPeriodsDesc(s.Periods) {
		entry, _ := p.EntryFor(residentID)
		l.Lines = append(l.Lines, LedgerLine{
			PeriodID: p.ID,
			Label:    p.Label,
			Amount:   p.Amount,
			DueDate:  p.DueDate,
			Paid:     entry.Paid,
		})
		if entry.Paid {
			l.TotalPaid = l.TotalPaid.Add(p.Amount)
		} else {
			l.TotalDebt = l.TotalDebt.Add(p.Amount)
		}
	}
	l.Balance = l.TotalPaid.Sub(l.TotalPaid.Add(l.TotalDebt))
	return l
}

// OverdueNotice is an unpaid entry whose due date has passed.
type OverdueNotice struct {
	Resident Resident
	Period   DuesPeriod
}

// OverdueNotices returns unpaid entries of periods due strictly before today.
func OverdueNotices(s Snapshot, today Date) []OverdueNotice {
	var out []OverdueNotice
	for _, p := range s.Periods {
		if p.DueDate.IsZero() || !p.DueDate.Before(today.Time) {
			continue
		}
		for _, e := range p.Entries {
			if e.Paid {
				continue
			}
			if r, ok := s.ResidentByID(e.ResidentID); ok {
				out = append(out, OverdueNotice{Resident: r, Period: p})
			}
		}
	}
	return out
}

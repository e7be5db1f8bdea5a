package core

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultSettings is used when no settings were ever saved.
func DefaultSettings() Settings {
	return Settings{
		ApartmentName:    "Emir Apartmanı",
		DefaultDueAmount: decimal.NewFromInt(550),
	}
}

// DefaultResidents is the seed resident list.
func DefaultResidents() []Resident {
	return []Resident{
		{ID: "sakin-1", FullName: "Ahmet Yılmaz", UnitNumber: 1, Phone: "0555 123 4567", MoveInDate: NewDate(2022, 1, 15)},
		{ID: "sakin-2", FullName: "Ayşe Kaya", UnitNumber: 2, Phone: "0555 234 5678", MoveInDate: NewDate(2021, 3, 20)},
		{ID: "sakin-3", FullName: "Mehmet Demir", UnitNumber: 3, Phone: "0555 345 6789", MoveInDate: NewDate(2023, 7, 1)},
		{ID: "sakin-4", FullName: "Fatma Çelik", UnitNumber: 4, Phone: "0555 456 7890", MoveInDate: NewDate(2020, 11, 10)},
		{ID: "sakin-5", FullName: "Ali Vural", UnitNumber: 5, Phone: "0555 567 8901", MoveInDate: NewDate(2023, 9, 5)},
	}
}

// DefaultPeriods seeds the three periods ending with the month of now,
// oldest first. Amounts grow backwards in time: 600, 575, 550.
func DefaultPeriods(now time.Time) []DuesPeriod {
	residents := DefaultResidents()
	current := PeriodOf(now)
	periods := make([]DuesPeriod, 0, 3)
	for i := 2; i >= 0; i-- {
		first := time.Date(current.Year, time.Month(current.Month+1-i), 1, 0, 0, 0, 0, time.UTC)
		key := PeriodOf(first)
		entries := make([]PaymentEntry, len(residents))
		for j, r := range residents {
			// deterministic stand-in for a random ~70% paid ratio
			entries[j] = PaymentEntry{ResidentID: r.ID, Paid: (i+j)%3 != 0}
		}
		periods = append(periods, DuesPeriod{
			ID:      fmt.Sprintf("aidat-%d", i+1),
			Label:   key.Label(),
			Key:     key,
			Amount:  decimal.NewFromInt(int64(550 + i*25)),
			DueDate: key.LastDay(),
			Entries: entries,
		})
	}
	return periods
}

// DefaultExpenses seeds expenses in the current and previous month.
func DefaultExpenses(now time.Time) []Expense {
	cur := PeriodOf(now)
	prevFirst := time.Date(cur.Year, time.Month(cur.Month), 1, 0, 0, 0, 0, time.UTC)
	prev := PeriodOf(prevFirst)
	on := func(p Period, day int) Date { return NewDate(p.Year, p.Month+1, day) }
	return []Expense{
		{ID: "masraf-1", Description: "Elektrik Faturası", Amount: decimal.RequireFromString("450.75"), Date: on(cur, 5), Category: CategoryBill},
		{ID: "masraf-2", Description: "Asansör Aylık Bakım", Amount: decimal.RequireFromString("300.00"), Date: on(cur, 10), Category: CategoryUpkeep},
		{ID: "masraf-3", Description: "Temizlik Personeli Maaş", Amount: decimal.RequireFromString("1200.00"), Date: on(prev, 28), Category: CategoryStaff},
		{ID: "masraf-4", Description: "Bahçe Peyzaj Düzenlemesi", Amount: decimal.RequireFromString("600.50"), Date: on(prev, 15), Category: CategoryUpkeep},
	}
}

// DefaultSnapshot is the dataset installed on first start.
func DefaultSnapshot(now time.Time) Snapshot {
	return Snapshot{
		Residents: DefaultResidents(),
		Periods:   DefaultPeriods(now),
		Expenses:  DefaultExpenses(now),
		Settings:  DefaultSettings(),
	}
}

// NewPeriodDraft prefills a period for the month of now: the label, the
// default amount from settings and the last day of the month as due date.
func NewPeriodDraft(now time.Time, settings Settings) DuesPeriod {
	key := PeriodOf(now)
	return DuesPeriod{
		Label:   key.Label(),
		Key:     key,
		Amount:  settings.DefaultDueAmount,
		DueDate: key.LastDay(),
	}
}

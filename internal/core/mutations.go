package core

import "fmt"

// The functions below are the state transitions behind every ledger
// mutation. Each takes a snapshot and returns a new one; the input is never
// modified, so a failed transition leaves the caller's state intact.

// AddResident appends r and backfills an unpaid entry for it into every
// existing period.
func AddResident(s Snapshot, r Resident) Snapshot {
	next := s.Clone()
	next.Residents = append(next.Residents, r)
	for i := range next.Periods {
		if _, ok := next.Periods[i].EntryFor(r.ID); ok {
			continue
		}
		next.Periods[i].Entries = append(next.Periods[i].Entries, PaymentEntry{ResidentID: r.ID})
	}
	return next
}

// UpdateResident replaces the resident with the same id in place.
func UpdateResident(s Snapshot, r Resident) (Snapshot, error) {
	next := s.Clone()
	for i := range next.Residents {
		if next.Residents[i].ID == r.ID {
			next.Residents[i] = r
			return next, nil
		}
	}
	return s, fmt.Errorf("update %s: %w", r.ID, ErrResidentNotFound)
}

// DeleteResident removes the resident and retracts its entry from every
// period. The removed resident is returned for messaging.
func DeleteResident(s Snapshot, id string) (Snapshot, Resident, error) {
	removed, ok := s.ResidentByID(id)
	if !ok {
		return s, Resident{}, fmt.Errorf("delete %s: %w", id, ErrResidentNotFound)
	}
	next := s.Clone()
	residents := next.Residents[:0]
	for _, r := range next.Residents {
		if r.ID != id {
			residents = append(residents, r)
		}
	}
	next.Residents = residents
	for i := range next.Periods {
		entries := next.Periods[i].Entries[:0]
		for _, e := range next.Periods[i].Entries {
			if e.ResidentID != id {
				entries = append(entries, e)
			}
		}
		next.Periods[i].Entries = entries
	}
	return next, removed, nil
}

// AddDuesPeriod appends p with one unpaid entry per current resident. The
// label must parse; its normalized key is stored alongside it.
func AddDuesPeriod(s Snapshot, p DuesPeriod) (Snapshot, DuesPeriod, error) {
	key, err := ParsePeriodLabel(p.Label)
	if err != nil {
		return s, DuesPeriod{}, err
	}
	if !p.Amount.IsPositive() {
		return s, DuesPeriod{}, ErrInvalidAmount
	}
	p.Key = key
	p.Entries = make([]PaymentEntry, len(s.Residents))
	for i, r := range s.Residents {
		p.Entries[i] = PaymentEntry{ResidentID: r.ID}
	}
	next := s.Clone()
	next.Periods = append(next.Periods, p)
	return next, p, nil
}

// TogglePayment sets the paid flag of one entry. The second result reports
// whether the entry existed; when it does not, s is returned unchanged.
func TogglePayment(s Snapshot, periodID, residentID string, paid bool) (Snapshot, bool) {
	for i, p := range s.Periods {
		if p.ID != periodID {
			continue
		}
		for j, e := range p.Entries {
			if e.ResidentID != residentID {
				continue
			}
			next := s.Clone()
			next.Periods[i].Entries[j].Paid = paid
			return next, true
		}
		return s, false
	}
	return s, false
}

// AddExpense appends e.
func AddExpense(s Snapshot, e Expense) Snapshot {
	next := s.Clone()
	next.Expenses = append(next.Expenses, e)
	return next
}

// UpdateExpense replaces the expense with the same id in place.
func UpdateExpense(s Snapshot, e Expense) (Snapshot, error) {
	next := s.Clone()
	for i := range next.Expenses {
		if next.Expenses[i].ID == e.ID {
			next.Expenses[i] = e
			return next, nil
		}
	}
	return s, fmt.Errorf("update %s: %w", e.ID, ErrExpenseNotFound)
}

// DeleteExpense removes the expense and returns it.
func DeleteExpense(s Snapshot, id string) (Snapshot, Expense, error) {
	next := s.Clone()
	for i, e := range next.Expenses {
		if e.ID == id {
			next.Expenses = append(next.Expenses[:i], next.Expenses[i+1:]...)
			return next, e, nil
		}
	}
	return s, Expense{}, fmt.Errorf("delete %s: %w", id, ErrExpenseNotFound)
}

// ReplaceDataset installs d verbatim, keeping settings. Cross references are
// not validated; period keys are re-derived from their labels.
func ReplaceDataset(s Snapshot, d Dataset) Snapshot {
	next := Snapshot{
		Residents: d.Residents,
		Periods:   d.Periods,
		Expenses:  d.Expenses,
		Settings:  s.Settings,
	}.Clone()
	NormalizePeriods(next.Periods)
	return next
}

// NormalizePeriods re-derives every period key from its label in place.
func NormalizePeriods(periods []DuesPeriod) {
	for i := range periods {
		periods[i].normalize()
	}
}

package core

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

// Expense categories offered to callers. Not enforced on input.
const (
	CategoryBill      = "Fatura"
	CategoryUpkeep    = "Bakım"
	CategoryStaff     = "Personel"
	CategoryFixture   = "Demirbaş"
	CategoryOther     = "Diğer"
	DefaultCategory   = CategoryBill
	maxDescriptionLen = 200
)

// ExpenseCategories returns the fixed category set in display order.
func ExpenseCategories() []string {
	return []string{CategoryBill, CategoryUpkeep, CategoryStaff, CategoryFixture, CategoryOther}
}

type (
	Date struct {
		time.Time
	}

	Resident struct {
		ID         string `json:"id"`
		FullName   string `json:"fullName"`
		UnitNumber int    `json:"unitNumber"`
		Phone      string `json:"phone"`
		MoveInDate Date   `json:"moveInDate"`
	}

	// PaymentEntry references a resident by id only; readers re-resolve it.
	PaymentEntry struct {
		ResidentID string `json:"residentId"`
		Paid       bool   `json:"paid"`
	}

	DuesPeriod struct {
		ID      string          `json:"id"`
		Label   string          `json:"periodLabel"`
		Key     Period          `json:"key"`
		Amount  decimal.Decimal `json:"amount"`
		DueDate Date            `json:"dueDate"`
		Entries []PaymentEntry  `json:"entries"`
	}

	Expense struct {
		ID          string          `json:"id"`
		Description string          `json:"description"`
		Amount      decimal.Decimal `json:"amount"`
		Date        Date            `json:"date"`
		Category    string          `json:"category"`
	}

	Settings struct {
		ApartmentName    string          `json:"apartmentName"`
		DefaultDueAmount decimal.Decimal `json:"defaultDueAmount"`
	}

	// Dataset is the bulk-replaceable part of the state.
	Dataset struct {
		Residents []Resident   `json:"residents"`
		Periods   []DuesPeriod `json:"duesPeriods"`
		Expenses  []Expense    `json:"expenses"`
	}

	// Snapshot is the complete application state at one point in time.
	Snapshot struct {
		Residents []Resident   `json:"residents"`
		Periods   []DuesPeriod `json:"duesPeriods"`
		Expenses  []Expense    `json:"expenses"`
		Settings  Settings     `json:"settings"`
	}
)

var (
	ErrResidentNotFound   = errors.New("resident not found")
	ErrExpenseNotFound    = errors.New("expense not found")
	ErrPeriodNotFound     = errors.New("dues period not found")
	ErrInvalidPeriodLabel = errors.New("invalid period label")
	ErrEmptyName          = errors.New("empty full name")
	ErrInvalidUnit        = errors.New("invalid unit number")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrEmptyDescription   = errors.New("empty description")
	ErrInvalidDate        = errors.New("invalid date")
)

// NewID returns a fresh opaque identifier.
func NewID() string {
	return uuid.NewString()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

func (r Resident) Validate() error {
	if strings.TrimSpace(r.FullName) == "" {
		return ErrEmptyName
	}
	if r.UnitNumber <= 0 {
		return ErrInvalidUnit
	}
	return nil
}

func (e Expense) Validate() error {
	if len(strings.TrimSpace(e.Description)) == 0 {
		return ErrEmptyDescription
	}
	if len(e.Description) > maxDescriptionLen {
		return errors.New("description too long (max 200 characters)")
	}
	if !e.Amount.IsPositive() {
		return ErrInvalidAmount
	}
	return e.Date.Validate()
}

// EntryFor returns the payment entry of the given resident, if any.
func (p DuesPeriod) EntryFor(residentID string) (PaymentEntry, bool) {
	for _, e := range p.Entries {
		if e.ResidentID == residentID {
			return e, true
		}
	}
	return PaymentEntry{}, false
}

// ResidentByID resolves a resident reference.
func (s Snapshot) ResidentByID(id string) (Resident, bool) {
	for _, r := range s.Residents {
		if r.ID == id {
			return r, true
		}
	}
	return Resident{}, false
}

// ResidentByUnit returns the first resident living in the given unit.
func (s Snapshot) ResidentByUnit(unit int) (Resident, bool) {
	for _, r := range s.Residents {
		if r.UnitNumber == unit {
			return r, true
		}
	}
	return Resident{}, false
}

// PeriodByID resolves a dues period by id.
func (s Snapshot) PeriodByID(id string) (DuesPeriod, bool) {
	for _, p := range s.Periods {
		if p.ID == id {
			return p, true
		}
	}
	return DuesPeriod{}, false
}

// Clone returns a deep copy that shares no slices with s.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Residents: append(make([]Resident, 0, len(s.Residents)), s.Residents...),
		Expenses:  append(make([]Expense, 0, len(s.Expenses)), s.Expenses...),
		Settings:  s.Settings,
		Periods:   make([]DuesPeriod, len(s.Periods)),
	}
	for i, p := range s.Periods {
		p.Entries = append(make([]PaymentEntry, 0, len(p.Entries)), p.Entries...)
		out.Periods[i] = p
	}
	return out
}

// Dataset returns the bulk-replaceable collections of s.
func (s Snapshot) Dataset() Dataset {
	c := s.Clone()
	return Dataset{Residents: c.Residents, Periods: c.Periods, Expenses: c.Expenses}
}

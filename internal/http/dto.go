package http

import (
	"bytes"
	"encoding/json"

	"github.com/shopspring/decimal"

	"aidat/internal/core"
)

// amountInput accepts both JSON numbers and strings such as "450,75".
type amountInput string

func (a *amountInput) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = amountInput(s)
		return nil
	}
	*a = amountInput(b)
	return nil
}

func (a amountInput) decimal() (decimal.Decimal, error) {
	return core.ParseAmount(string(a))
}

type residentRequest struct {
	FullName   string `json:"fullName" validate:"required,max=120"`
	UnitNumber int    `json:"unitNumber" validate:"required,gt=0"`
	Phone      string `json:"phone" validate:"max=32"`
	MoveInDate string `json:"moveInDate" validate:"required,datetime=2006-01-02"`
}

func (req *residentRequest) toResident(id string) (core.Resident, error) {
	date, err := core.ParseDate(req.MoveInDate)
	if err != nil {
		return core.Resident{}, err
	}
	return core.Resident{
		ID:         id,
		FullName:   req.FullName,
		UnitNumber: req.UnitNumber,
		Phone:      req.Phone,
		MoveInDate: date,
	}, nil
}

type duesPeriodRequest struct {
	Label   string      `json:"periodLabel" validate:"required"`
	Amount  amountInput `json:"amount" validate:"required"`
	DueDate string      `json:"dueDate" validate:"required,datetime=2006-01-02"`
}

func (req *duesPeriodRequest) toPeriod() (core.DuesPeriod, error) {
	amount, err := req.Amount.decimal()
	if err != nil {
		return core.DuesPeriod{}, err
	}
	due, err := core.ParseDate(req.DueDate)
	if err != nil {
		return core.DuesPeriod{}, err
	}
	return core.DuesPeriod{Label: req.Label, Amount: amount, DueDate: due}, nil
}

type paymentRequest struct {
	Paid *bool `json:"paid" validate:"required"`
}

type expenseRequest struct {
	Description string      `json:"description" validate:"required,max=200"`
	Amount      amountInput `json:"amount" validate:"required"`
	Date        string      `json:"date" validate:"required,datetime=2006-01-02"`
	Category    string      `json:"category" validate:"required,oneof=Fatura Bakım Personel Demirbaş Diğer"`
}

func (req *expenseRequest) toExpense(id string) (core.Expense, error) {
	amount, err := req.Amount.decimal()
	if err != nil {
		return core.Expense{}, err
	}
	date, err := core.ParseDate(req.Date)
	if err != nil {
		return core.Expense{}, err
	}
	return core.Expense{
		ID:          id,
		Description: req.Description,
		Amount:      amount,
		Date:        date,
		Category:    req.Category,
	}, nil
}

type settingsRequest struct {
	ApartmentName    string      `json:"apartmentName" validate:"required,max=120"`
	DefaultDueAmount amountInput `json:"defaultDueAmount" validate:"required"`
}

func (req *settingsRequest) toSettings() (core.Settings, error) {
	amount, err := req.DefaultDueAmount.decimal()
	if err != nil {
		return core.Settings{}, err
	}
	return core.Settings{ApartmentName: req.ApartmentName, DefaultDueAmount: amount}, nil
}

// importRequest carries a full dataset. Records arrive typed and are
// checked one by one before the replace.
type importRequest struct {
	Residents []core.Resident   `json:"residents" validate:"required"`
	Periods   []core.DuesPeriod `json:"duesPeriods" validate:"required"`
	Expenses  []core.Expense    `json:"expenses" validate:"required"`
}

func (req *importRequest) toDataset() (core.Dataset, error) {
	for i, r := range req.Residents {
		if r.ID == "" {
			return core.Dataset{}, invalidf("residents[%d]: missing id", i)
		}
		if err := r.Validate(); err != nil {
			return core.Dataset{}, invalidf("residents[%d]: %v", i, err)
		}
	}
	for i, p := range req.Periods {
		if p.ID == "" {
			return core.Dataset{}, invalidf("duesPeriods[%d]: missing id", i)
		}
		if p.Amount.IsNegative() {
			return core.Dataset{}, invalidf("duesPeriods[%d]: %v", i, core.ErrInvalidAmount)
		}
	}
	for i, e := range req.Expenses {
		if e.ID == "" {
			return core.Dataset{}, invalidf("expenses[%d]: missing id", i)
		}
		if err := e.Validate(); err != nil {
			return core.Dataset{}, invalidf("expenses[%d]: %v", i, err)
		}
	}
	return core.Dataset{Residents: req.Residents, Periods: req.Periods, Expenses: req.Expenses}, nil
}

type duesByUnitRequest struct {
	UnitNumber int   `json:"unitNumber" validate:"required,gt=0"`
	Paid       *bool `json:"paid" validate:"required"`
}

// expenseCommandRequest leaves the category unchecked; the command path
// stores whatever the caller names.
type expenseCommandRequest struct {
	Description string      `json:"description" validate:"required,max=200"`
	Amount      amountInput `json:"amount" validate:"required"`
	Category    string      `json:"category" validate:"required"`
}

type commandResponse struct {
	Message string `json:"message"`
	OK      bool   `json:"ok"`
}

type paymentResponse struct {
	PeriodID   string `json:"periodId"`
	ResidentID string `json:"residentId"`
	Paid       bool   `json:"paid"`
}

type notificationsResponse struct {
	Unread        int                 `json:"unread"`
	Notifications []core.Notification `json:"notifications"`
}

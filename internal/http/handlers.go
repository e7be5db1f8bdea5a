package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"aidat/internal/core"
	applog "aidat/internal/log"
)

// handleHealth performs basic liveness check
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
		"uptime":    time.Since(s.started).String(),
	})
}

// handleReady checks the primary store and reports ledger counters.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{}

	if s.ready != nil {
		if err := s.ready(ctx); err != nil {
			checks["store"] = "failed: " + err.Error()
			status = "not_ready"
			httpStatus = http.StatusServiceUnavailable
		} else {
			checks["store"] = "ok"
		}
	} else {
		checks["store"] = "not_configured"
	}

	checks["ledger"] = map[string]any{"revision": s.ledger.Revision()}
	checks["rate_limiter"] = map[string]any{
		"active_clients": s.limiter.ActiveClients(),
		"rejected":       s.limiter.Rejected(),
	}
	checks["security"] = map[string]any{"suspicious_requests": s.detector.SuspiciousRequests()}
	checks["requests"] = s.tracer.TotalRequests()

	writeJSON(w, httpStatus, map[string]any{
		"status":    status,
		"timestamp": time.Now().Format(time.RFC3339),
		"checks":    checks,
	})
}

// Queries

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Snapshot())
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.Summary())
}

func (s *Server) handleDebtors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.CurrentDebtors())
}

func (s *Server) handleSeries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.MonthlySeries())
}

func (s *Server) handleResidentLedger(w http.ResponseWriter, r *http.Request) {
	ledger, err := s.ledger.ResidentLedger(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ledger)
}

// Residents

func (s *Server) handleCreateResident(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAndValidate[residentRequest](w, r)
	if !ok {
		return
	}
	resident, err := req.toResident("")
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.ledger.AddResident(r.Context(), resident)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Resident added",
		applog.FieldResidentID, created.ID, applog.FieldUnitNumber, created.UnitNumber)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateResident(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAndValidate[residentRequest](w, r)
	if !ok {
		return
	}
	resident, err := req.toResident(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.UpdateResident(r.Context(), resident); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resident)
}

func (s *Server) handleDeleteResident(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.ledger.DeleteResident(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Resident deleted", applog.FieldResidentID, id)
	w.WriteHeader(http.StatusNoContent)
}

// Dues

func (s *Server) handleCreatePeriod(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAndValidate[duesPeriodRequest](w, r)
	if !ok {
		return
	}
	period, err := req.toPeriod()
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.ledger.AddDuesPeriod(r.Context(), period)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Dues period added",
		applog.FieldPeriodID, created.ID, "label", created.Label)
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handlePeriodDraft(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ledger.NewPeriodDraft())
}

func (s *Server) handleTogglePayment(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAndValidate[paymentRequest](w, r)
	if !ok {
		return
	}
	periodID, residentID := chi.URLParam(r, "periodID"), chi.URLParam(r, "residentID")
	found, err := s.ledger.TogglePayment(r.Context(), periodID, residentID, *req.Paid)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if !found {
		writeProblem(w, http.StatusNotFound, "not_found", "payment entry not found")
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{PeriodID: periodID, ResidentID: residentID, Paid: *req.Paid})
}

// Expenses

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAndValidate[expenseRequest](w, r)
	if !ok {
		return
	}
	expense, err := req.toExpense("")
	if err != nil {
		writeError(w, r, err)
		return
	}
	created, err := s.ledger.AddExpense(r.Context(), expense)
	if err != nil {
		writeError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Expense added",
		applog.FieldExpenseID, created.ID, applog.FieldAmount, created.Amount.String())
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateExpense(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAndValidate[expenseRequest](w, r)
	if !ok {
		return
	}
	expense, err := req.toExpense(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.UpdateExpense(r.Context(), expense); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, expense)
}

func (s *Server) handleDeleteExpense(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.DeleteExpense(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExpenseCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, core.ExpenseCategories())
}

// Settings and import

func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAndValidate[settingsRequest](w, r)
	if !ok {
		return
	}
	settings, err := req.toSettings()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.UpdateSettings(r.Context(), settings); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAndValidate[importRequest](w, r)
	if !ok {
		return
	}
	dataset, err := req.toDataset()
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.ledger.BulkReplace(r.Context(), dataset); err != nil {
		writeError(w, r, err)
		return
	}
	applog.FromContext(r.Context()).InfoContext(r.Context(), "Dataset imported",
		"residents", len(dataset.Residents), "periods", len(dataset.Periods), "expenses", len(dataset.Expenses))
	writeJSON(w, http.StatusOK, s.ledger.Snapshot())
}

// Commands always answer 200; ok tells the caller whether anything was recorded.

func (s *Server) handleDuesByUnitCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAndValidate[duesByUnitRequest](w, r)
	if !ok {
		return
	}
	msg, done := s.ledger.UpdateDuesByUnitNumber(r.Context(), req.UnitNumber, *req.Paid)
	writeJSON(w, http.StatusOK, commandResponse{Message: msg, OK: done})
}

func (s *Server) handleExpenseCommand(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeAndValidate[expenseCommandRequest](w, r)
	if !ok {
		return
	}
	amount, err := req.Amount.decimal()
	if err != nil {
		writeJSON(w, http.StatusOK, commandResponse{Message: core.MsgExpenseRejected(err), OK: false})
		return
	}
	msg, done := s.ledger.AddExpenseByDescription(r.Context(), req.Description, amount, req.Category)
	writeJSON(w, http.StatusOK, commandResponse{Message: msg, OK: done})
}

// Notifications

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, notificationsResponse{
		Unread:        s.ledger.UnreadCount(),
		Notifications: s.ledger.Notifications(),
	})
}

func (s *Server) handleMarkNotificationsRead(w http.ResponseWriter, r *http.Request) {
	s.ledger.MarkNotificationsRead()
	w.WriteHeader(http.StatusNoContent)
}

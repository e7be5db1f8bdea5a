package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"aidat/internal/core"
	applog "aidat/internal/log"
	"aidat/internal/services"
)

// maxBodyBytes bounds request bodies; bulk imports are the largest payloads.
const maxBodyBytes = 4 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(body)
}

func writeProblem(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}

// writeError maps service and domain errors to HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve validator.ValidationErrors
	switch {
	case errors.As(err, &ve):
		fields := make(map[string]string, len(ve))
		for _, fe := range ve {
			fields[fe.Field()] = fe.Tag()
		}
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: "validation_error", Message: "invalid request", Fields: fields})
	case errors.Is(err, core.ErrResidentNotFound),
		errors.Is(err, core.ErrExpenseNotFound),
		errors.Is(err, core.ErrPeriodNotFound):
		writeProblem(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, core.ErrInvalidPeriodLabel),
		errors.Is(err, core.ErrEmptyName),
		errors.Is(err, core.ErrInvalidUnit),
		errors.Is(err, core.ErrInvalidAmount),
		errors.Is(err, core.ErrEmptyDescription),
		errors.Is(err, core.ErrInvalidDate),
		errors.Is(err, errInvalidInput):
		writeProblem(w, http.StatusUnprocessableEntity, "validation_error", err.Error())
	case errors.Is(err, services.ErrPersist):
		applog.LogError(r.Context(), "Ledger change not persisted", err, applog.ComponentHTTP, r.Method, nil)
		writeProblem(w, http.StatusInternalServerError, "persist_failed", "change applied but could not be saved")
	default:
		applog.LogError(r.Context(), "Unhandled request error", err, applog.ComponentHTTP, r.Method, nil)
		writeProblem(w, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

var errInvalidInput = errors.New("invalid input")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalidInput, fmt.Sprintf(format, args...))
}

// decodeAndValidate reads a JSON body into T and runs struct validation.
// On failure it writes the response and returns false.
func decodeAndValidate[T any](w http.ResponseWriter, r *http.Request) (*T, bool) {
	var req T
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		applog.FromContext(r.Context()).WarnContext(r.Context(), "Failed to decode request body", applog.FieldError, err)
		writeProblem(w, http.StatusBadRequest, "bad_request", "invalid request body")
		return nil, false
	}
	if err := validate.Struct(&req); err != nil {
		writeError(w, r, err)
		return nil, false
	}
	return &req, true
}

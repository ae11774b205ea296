package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"microtask-backend/core/marketplace"
	"microtask-backend/metrics"
)

// JSON writes a JSON response with status code.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// ErrorResponse represents a standard error response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// Error sends a standardized error response.
func Error(w http.ResponseWriter, code int, message string) {
	JSON(w, code, ErrorResponse{Error: message})
}

// DomainError maps a domain error to its HTTP status and writes it.
// Conflict-class errors (guards, terminal-state re-entry) get 409 so a
// client can tell "no confirmed state change" from malformed input.
func DomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, marketplace.ErrValidation),
		errors.Is(err, marketplace.ErrInvalidRole),
		errors.Is(err, marketplace.ErrInvalidAction):
		Error(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, marketplace.ErrNotAuthorized):
		Error(w, http.StatusForbidden, err.Error())
	case errors.Is(err, marketplace.ErrAccountNotFound),
		errors.Is(err, marketplace.ErrTaskNotFound),
		errors.Is(err, marketplace.ErrSubmissionNotFound),
		errors.Is(err, marketplace.ErrWithdrawalNotFound),
		errors.Is(err, marketplace.ErrNotificationNotFound):
		Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, marketplace.ErrInsufficientFunds),
		errors.Is(err, marketplace.ErrTaskFull),
		errors.Is(err, marketplace.ErrAlreadySubmitted),
		errors.Is(err, marketplace.ErrAlreadyProcessed),
		errors.Is(err, marketplace.ErrBelowMinimum),
		errors.Is(err, marketplace.ErrAccountExists):
		Error(w, http.StatusConflict, err.Error())
	default:
		Error(w, http.StatusInternalServerError, err.Error())
	}
}

// CORS middleware for handling cross-origin requests.
func CORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// Instrument counts requests for a route by status class.
func Instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		class := strconv.Itoa(rec.status/100) + "xx"
		metrics.RequestsTotal.WithLabelValues(route, class).Inc()
	}
}

type contextKey string

const accountKey contextKey = "marketplace-account"

// WithAccount attaches the authenticated account to the request context.
func WithAccount(ctx context.Context, acct marketplace.Account) context.Context {
	return context.WithValue(ctx, accountKey, acct)
}

// AccountFrom returns the authenticated account, if any.
func AccountFrom(ctx context.Context) (marketplace.Account, bool) {
	acct, ok := ctx.Value(accountKey).(marketplace.Account)
	return acct, ok
}

// BearerToken extracts a bearer token from the Authorization header.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

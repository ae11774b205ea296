package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"microtask-backend/core/marketplace"
	"microtask-backend/metrics"
	"microtask-backend/middleware/marketplace/middleware"
	"microtask-backend/services"
	storemkt "microtask-backend/storage/marketplace"
)

// SubmissionHandler handles the submission workflow HTTP endpoints.
type SubmissionHandler struct {
	store    storemkt.Store
	notifier *services.Notifier
	log      *logrus.Logger
}

// NewSubmissionHandler creates a new submission handler.
func NewSubmissionHandler(store storemkt.Store, notifier *services.Notifier, log *logrus.Logger) *SubmissionHandler {
	return &SubmissionHandler{store: store, notifier: notifier, log: log}
}

// Submissions handles /submissions and /submissions/{id}.
func (h *SubmissionHandler) Submissions(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/marketplace/submissions")
	path = strings.Trim(path, "/")

	switch r.Method {
	case http.MethodGet:
		if path == "" {
			h.handleListSubmissions(w, r)
			return
		}
		h.handleGetSubmission(w, r, path)
	case http.MethodPost:
		h.handleSubmit(w, r)
	case http.MethodPut:
		if path == "" {
			middleware.Error(w, http.StatusBadRequest, "expected /submissions/{id}")
			return
		}
		h.handleResolve(w, r, path)
	default:
		middleware.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleListSubmissions handles GET /submissions. Workers see their own
// entries, buyers the entries against their tasks; admins see all.
func (h *SubmissionHandler) handleListSubmissions(w http.ResponseWriter, r *http.Request) {
	acct, _ := middleware.AccountFrom(r.Context())

	filter := marketplace.SubmissionFilter{
		Status: r.URL.Query().Get("status"),
		TaskID: r.URL.Query().Get("taskId"),
	}
	switch acct.Role {
	case marketplace.RoleWorker:
		filter.WorkerEmail = acct.Email
	case marketplace.RoleBuyer:
		filter.BuyerEmail = acct.Email
	}

	page := intFromQuery(r, "page", 1)
	limit := intFromQuery(r, "limit", 10)
	filter.Limit = limit
	filter.Offset = (page - 1) * limit

	subs, total, err := h.store.ListSubmissions(r.Context(), filter)
	if err != nil {
		middleware.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if subs == nil {
		subs = []marketplace.Submission{}
	}
	totalPages := (total + limit - 1) / limit
	middleware.JSON(w, http.StatusOK, map[string]interface{}{
		"submissions": subs,
		"total":       total,
		"page":        page,
		"total_pages": totalPages,
	})
}

// handleGetSubmission handles GET /submissions/{id}.
func (h *SubmissionHandler) handleGetSubmission(w http.ResponseWriter, r *http.Request, id string) {
	sub, err := h.store.GetSubmission(r.Context(), id)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSON(w, http.StatusOK, sub)
}

// handleSubmit handles POST /submissions. Capacity is consumed through
// the store's guarded decrement; under two concurrent submits against a
// single remaining slot exactly one lands here with a submission.
func (h *SubmissionHandler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	acct, _ := middleware.AccountFrom(r.Context())
	if acct.Role != marketplace.RoleWorker {
		middleware.Error(w, http.StatusForbidden, "only workers submit tasks")
		return
	}

	var body struct {
		TaskID  string `json:"task_id"`
		Details string `json:"details"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.TaskID) == "" {
		middleware.Error(w, http.StatusBadRequest, "task_id and details required")
		return
	}

	sub, err := h.store.CreateSubmission(r.Context(), acct, body.TaskID, body.Details)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}

	h.notifier.SubmissionReceived(r.Context(), sub)
	middleware.JSON(w, http.StatusCreated, map[string]interface{}{
		"submission_id": sub.ID,
		"submission":    sub,
	})
}

// handleResolve handles PUT /submissions/{id}. Approval settles the
// snapshot amount to the worker; rejection frees the slot.
func (h *SubmissionHandler) handleResolve(w http.ResponseWriter, r *http.Request, id string) {
	acct, _ := middleware.AccountFrom(r.Context())
	if acct.Role != marketplace.RoleBuyer {
		middleware.Error(w, http.StatusForbidden, "only buyers resolve submissions")
		return
	}

	var body struct {
		Action string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	action, err := marketplace.ParseAction(body.Action)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}

	sub, err := h.store.ResolveSubmission(r.Context(), acct, id, action)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}

	metrics.SubmissionsResolved.WithLabelValues(sub.Status).Inc()
	switch action {
	case marketplace.ActionApprove:
		metrics.CoinsSettled.Add(float64(sub.PayableAmount))
		h.notifier.SubmissionApproved(r.Context(), sub)
	case marketplace.ActionReject:
		h.notifier.SubmissionRejected(r.Context(), sub)
	}
	h.log.WithFields(logrus.Fields{"submission": sub.ID, "status": sub.Status}).Info("submission resolved")
	middleware.JSON(w, http.StatusOK, map[string]string{"status": sub.Status})
}

func intFromQuery(r *http.Request, key string, defaultValue int) int {
	if value := r.URL.Query().Get(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil && intValue > 0 {
			return intValue
		}
	}
	return defaultValue
}

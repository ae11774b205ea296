package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"microtask-backend/core/marketplace"
	"microtask-backend/metrics"
	"microtask-backend/middleware/marketplace/middleware"
	"microtask-backend/services"
	storemkt "microtask-backend/storage/marketplace"
)

// WithdrawalHandler handles the withdrawal workflow HTTP endpoints.
type WithdrawalHandler struct {
	store    storemkt.Store
	notifier *services.Notifier
	log      *logrus.Logger
}

// NewWithdrawalHandler creates a new withdrawal handler.
func NewWithdrawalHandler(store storemkt.Store, notifier *services.Notifier, log *logrus.Logger) *WithdrawalHandler {
	return &WithdrawalHandler{store: store, notifier: notifier, log: log}
}

// Withdrawals handles /withdrawals and /withdrawals/{id}.
func (h *WithdrawalHandler) Withdrawals(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/marketplace/withdrawals")
	path = strings.Trim(path, "/")

	switch r.Method {
	case http.MethodGet:
		h.handleListWithdrawals(w, r)
	case http.MethodPost:
		h.handleRequestWithdrawal(w, r)
	case http.MethodPut:
		if path == "" {
			middleware.Error(w, http.StatusBadRequest, "expected /withdrawals/{id}")
			return
		}
		h.handleDecideWithdrawal(w, r, path)
	default:
		middleware.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleListWithdrawals handles GET /withdrawals. Workers see only their
// own requests; admins see everything, optionally filtered by status.
func (h *WithdrawalHandler) handleListWithdrawals(w http.ResponseWriter, r *http.Request) {
	acct, _ := middleware.AccountFrom(r.Context())

	filter := marketplace.WithdrawalFilter{Status: r.URL.Query().Get("status")}
	switch acct.Role {
	case marketplace.RoleWorker:
		filter.WorkerEmail = acct.Email
	case marketplace.RoleAdmin:
	default:
		middleware.Error(w, http.StatusForbidden, "buyers have no withdrawals")
		return
	}

	withdrawals, err := h.store.ListWithdrawals(r.Context(), filter)
	if err != nil {
		middleware.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if withdrawals == nil {
		withdrawals = []marketplace.Withdrawal{}
	}
	middleware.JSON(w, http.StatusOK, map[string]interface{}{"withdrawals": withdrawals})
}

// handleRequestWithdrawal handles POST /withdrawals. Coins are not held:
// the balance is only checked at request time and debited on approval.
func (h *WithdrawalHandler) handleRequestWithdrawal(w http.ResponseWriter, r *http.Request) {
	acct, _ := middleware.AccountFrom(r.Context())
	if acct.Role != marketplace.RoleWorker {
		middleware.Error(w, http.StatusForbidden, "only workers withdraw coins")
		return
	}

	var body struct {
		CoinAmount    int64  `json:"coin_amount"`
		PaymentSystem string `json:"payment_system"`
		AccountNumber string `json:"account_number"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.PaymentSystem) == "" || strings.TrimSpace(body.AccountNumber) == "" {
		middleware.Error(w, http.StatusBadRequest, "payment_system and account_number required")
		return
	}

	wd, err := h.store.CreateWithdrawal(r.Context(), acct, body.CoinAmount, body.PaymentSystem, body.AccountNumber)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}

	h.notifier.WithdrawalRequested(r.Context(), wd)
	middleware.JSON(w, http.StatusCreated, map[string]interface{}{
		"withdrawal_id": wd.ID,
		"withdrawal":    wd,
	})
}

// handleDecideWithdrawal handles PUT /withdrawals/{id}. Admin only.
// Approval debits the coins; if the worker spent them since requesting,
// the request stays pending and the caller gets an insufficient funds
// error.
func (h *WithdrawalHandler) handleDecideWithdrawal(w http.ResponseWriter, r *http.Request, id string) {
	acct, _ := middleware.AccountFrom(r.Context())
	if acct.Role != marketplace.RoleAdmin {
		middleware.Error(w, http.StatusForbidden, "only admins decide withdrawals")
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

	wd, err := h.store.DecideWithdrawal(r.Context(), id, action)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}

	metrics.WithdrawalsDecided.WithLabelValues(wd.Status).Inc()
	h.notifier.WithdrawalDecided(r.Context(), wd)
	h.log.WithFields(logrus.Fields{"withdrawal": wd.ID, "status": wd.Status}).Info("withdrawal decided")
	middleware.JSON(w, http.StatusOK, map[string]string{"status": wd.Status})
}

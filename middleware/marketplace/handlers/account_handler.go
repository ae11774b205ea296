package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"microtask-backend/core/marketplace"
	"microtask-backend/middleware/marketplace/middleware"
	"microtask-backend/storage/auth"
	storemkt "microtask-backend/storage/marketplace"
)

// AccountHandler handles registration and account administration.
type AccountHandler struct {
	store  storemkt.Store
	tokens auth.TokenIssuer
	log    *logrus.Logger
}

// NewAccountHandler creates a new account handler.
func NewAccountHandler(store storemkt.Store, tokens auth.TokenIssuer, log *logrus.Logger) *AccountHandler {
	return &AccountHandler{store: store, tokens: tokens, log: log}
}

// Register handles POST /auth/register. Admin accounts cannot be
// self-registered; they are created by operators through marketctl.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		middleware.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		PhotoURL string `json:"photo_url"`
		Role     string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		middleware.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	role, err := marketplace.ParseRole(body.Role)
	if err != nil || role == marketplace.RoleAdmin {
		middleware.Error(w, http.StatusBadRequest, "role must be worker or buyer")
		return
	}

	acct, err := h.store.CreateAccount(r.Context(), body.Email, body.Name, body.PhotoURL, role)
	if err != nil {
		middleware.DomainError(w, err)
		return
	}

	token, err := h.tokens.Issue(acct.ID, acct.Email, "registration")
	if err != nil {
		middleware.Error(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.log.WithFields(logrus.Fields{"email": acct.Email, "role": acct.Role}).Info("account registered")
	middleware.JSON(w, http.StatusCreated, map[string]interface{}{
		"account": acct,
		"token":   token.Token,
	})
}

// Me handles GET /users/me.
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		middleware.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	acct, _ := middleware.AccountFrom(r.Context())
	middleware.JSON(w, http.StatusOK, acct)
}

// BestWorkers handles GET /users/best-workers. It is public and
// degrades to an empty list on store failure, like the landing page
// expects.
func (h *AccountHandler) BestWorkers(w http.ResponseWriter, r *http.Request) {
	workers, err := h.store.TopWorkers(r.Context(), 6)
	if err != nil {
		h.log.WithError(err).Warn("best workers lookup failed")
		middleware.JSON(w, http.StatusOK, []marketplace.Account{})
		return
	}
	if workers == nil {
		workers = []marketplace.Account{}
	}
	middleware.JSON(w, http.StatusOK, workers)
}

// Users handles GET/PUT/DELETE /users (admin only, gated upstream).
func (h *AccountHandler) Users(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		accounts, err := h.store.ListAccounts(r.Context())
		if err != nil {
			middleware.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		middleware.JSON(w, http.StatusOK, accounts)
	case http.MethodPut:
		var body struct {
			UserID string `json:"user_id"`
			Role   string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.UserID) == "" {
			middleware.Error(w, http.StatusBadRequest, "user_id and role required")
			return
		}
		role, err := marketplace.ParseRole(body.Role)
		if err != nil {
			middleware.DomainError(w, err)
			return
		}
		if err := h.store.UpdateAccountRole(r.Context(), body.UserID, role); err != nil {
			middleware.DomainError(w, err)
			return
		}
		middleware.JSON(w, http.StatusOK, map[string]bool{"success": true})
	case http.MethodDelete:
		userID := r.URL.Query().Get("userId")
		if userID == "" {
			middleware.Error(w, http.StatusBadRequest, "userId required")
			return
		}
		if err := h.store.DeleteAccount(r.Context(), userID); err != nil {
			middleware.DomainError(w, err)
			return
		}
		middleware.JSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		middleware.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

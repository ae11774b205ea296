package handlers

import (
	"net/http"
	"strings"

	"microtask-backend/core/marketplace"
	"microtask-backend/middleware/marketplace/middleware"
	storemkt "microtask-backend/storage/marketplace"
)

const notificationPageSize = 50

// NotificationHandler serves the per-account notification inbox.
type NotificationHandler struct {
	store storemkt.Store
}

// NewNotificationHandler creates a new notification handler.
func NewNotificationHandler(store storemkt.Store) *NotificationHandler {
	return &NotificationHandler{store: store}
}

// Notifications handles /notifications and /notifications/{id}/read.
func (h *NotificationHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/marketplace/notifications")
	path = strings.Trim(path, "/")

	switch {
	case r.Method == http.MethodGet && path == "":
		h.handleList(w, r)
	case r.Method == http.MethodPut && strings.HasSuffix(path, "/read"):
		h.handleMarkRead(w, r, strings.TrimSuffix(path, "/read"))
	default:
		middleware.Error(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *NotificationHandler) handleList(w http.ResponseWriter, r *http.Request) {
	acct, _ := middleware.AccountFrom(r.Context())

	notifications, err := h.store.ListNotifications(r.Context(), acct.Email, notificationPageSize)
	if err != nil {
		middleware.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	if notifications == nil {
		notifications = []marketplace.Notification{}
	}
	middleware.JSON(w, http.StatusOK, map[string]interface{}{"notifications": notifications})
}

// handleMarkRead scopes the update to the caller's own inbox so one
// account cannot mark another's notifications.
func (h *NotificationHandler) handleMarkRead(w http.ResponseWriter, r *http.Request, id string) {
	acct, _ := middleware.AccountFrom(r.Context())

	if err := h.store.MarkNotificationRead(r.Context(), id, acct.Email); err != nil {
		middleware.DomainError(w, err)
		return
	}
	middleware.JSON(w, http.StatusOK, map[string]bool{"success": true})
}

package handlers

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"microtask-backend/core/marketplace"
	"microtask-backend/middleware/marketplace/middleware"
	storemkt "microtask-backend/storage/marketplace"
)

// StatsHandler serves the public platform counters and the per-role
// dashboard summaries.
type StatsHandler struct {
	store storemkt.Store
	log   *logrus.Logger
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(store storemkt.Store, log *logrus.Logger) *StatsHandler {
	return &StatsHandler{store: store, log: log}
}

// Platform handles GET /stats, the unauthenticated landing-page counters.
func (h *StatsHandler) Platform(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		middleware.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := h.store.PlatformStats(r.Context())
	if err != nil {
		middleware.Error(w, http.StatusInternalServerError, err.Error())
		return
	}
	middleware.JSON(w, http.StatusOK, stats)
}

// Dashboard handles GET /dashboard/{admin-stats|worker-stats|buyer-stats}.
func (h *StatsHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		middleware.Error(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	acct, _ := middleware.AccountFrom(r.Context())
	path := strings.TrimPrefix(r.URL.Path, "/api/marketplace/dashboard")
	path = strings.Trim(path, "/")

	switch path {
	case "admin-stats":
		if acct.Role != marketplace.RoleAdmin {
			middleware.Error(w, http.StatusForbidden, "forbidden")
			return
		}
		stats, err := h.store.AdminStats(r.Context())
		if err != nil {
			middleware.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		middleware.JSON(w, http.StatusOK, stats)
	case "worker-stats":
		if acct.Role != marketplace.RoleWorker {
			middleware.Error(w, http.StatusForbidden, "forbidden")
			return
		}
		stats, err := h.store.WorkerStats(r.Context(), acct.Email)
		if err != nil {
			middleware.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		middleware.JSON(w, http.StatusOK, stats)
	case "buyer-stats":
		if acct.Role != marketplace.RoleBuyer {
			middleware.Error(w, http.StatusForbidden, "forbidden")
			return
		}
		stats, err := h.store.BuyerStats(r.Context(), acct.Email)
		if err != nil {
			middleware.Error(w, http.StatusInternalServerError, err.Error())
			return
		}
		middleware.JSON(w, http.StatusOK, stats)
	default:
		middleware.Error(w, http.StatusNotFound, "unknown dashboard")
	}
}

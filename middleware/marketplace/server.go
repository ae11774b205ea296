package marketplace

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	coremkt "microtask-backend/core/marketplace"
	"microtask-backend/middleware/marketplace/handlers"
	"microtask-backend/middleware/marketplace/middleware"
	"microtask-backend/services"
	"microtask-backend/storage/auth"
	storemkt "microtask-backend/storage/marketplace"
)

// Server wires the marketplace HTTP surface: per-resource handlers over
// the store, bearer-token auth, CORS, and request instrumentation.
type Server struct {
	store    storemkt.Store
	tokens   auth.TokenValidator
	log      *logrus.Logger
	accounts *handlers.AccountHandler
	tasks    *handlers.TaskHandler
	subs     *handlers.SubmissionHandler
	wd       *handlers.WithdrawalHandler
	notifs   *handlers.NotificationHandler
	payments *handlers.PaymentHandler
	stats    *handlers.StatsHandler
}

// NewServer creates a server over a store, a token store, and a notifier.
func NewServer(store storemkt.Store, tokens interface {
	auth.TokenValidator
	auth.TokenIssuer
}, notifier *services.Notifier, log *logrus.Logger) *Server {
	return &Server{
		store:    store,
		tokens:   tokens,
		log:      log,
		accounts: handlers.NewAccountHandler(store, tokens, log),
		tasks:    handlers.NewTaskHandler(store, notifier, log),
		subs:     handlers.NewSubmissionHandler(store, notifier, log),
		wd:       handlers.NewWithdrawalHandler(store, notifier, log),
		notifs:   handlers.NewNotificationHandler(store),
		payments: handlers.NewPaymentHandler(store, log),
		stats:    handlers.NewStatsHandler(store, log),
	}
}

// RegisterRoutes attaches handlers to the mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	public := func(route string, h http.HandlerFunc) http.HandlerFunc {
		return middleware.Instrument(route, middleware.CORS(h))
	}
	authed := func(route string, h http.HandlerFunc) http.HandlerFunc {
		return middleware.Instrument(route, middleware.CORS(s.authWrap(h)))
	}

	mux.HandleFunc("/api/marketplace/auth/register", public("register", s.accounts.Register))
	mux.HandleFunc("/api/marketplace/stats", public("stats", s.stats.Platform))
	mux.HandleFunc("/api/marketplace/users/best-workers", public("best-workers", s.accounts.BestWorkers))

	mux.HandleFunc("/api/marketplace/users/me", authed("me", s.accounts.Me))
	mux.HandleFunc("/api/marketplace/users", authed("users", s.requireRole(s.accounts.Users, coremkt.RoleAdmin)))
	mux.HandleFunc("/api/marketplace/users/", authed("users", s.requireRole(s.accounts.Users, coremkt.RoleAdmin)))
	mux.HandleFunc("/api/marketplace/tasks", authed("tasks", s.tasks.Tasks))
	mux.HandleFunc("/api/marketplace/tasks/", authed("tasks", s.tasks.Tasks))
	mux.HandleFunc("/api/marketplace/submissions", authed("submissions", s.subs.Submissions))
	mux.HandleFunc("/api/marketplace/submissions/", authed("submissions", s.subs.Submissions))
	mux.HandleFunc("/api/marketplace/withdrawals", authed("withdrawals", s.wd.Withdrawals))
	mux.HandleFunc("/api/marketplace/withdrawals/", authed("withdrawals", s.wd.Withdrawals))
	mux.HandleFunc("/api/marketplace/notifications", authed("notifications", s.notifs.Notifications))
	mux.HandleFunc("/api/marketplace/notifications/", authed("notifications", s.notifs.Notifications))
	mux.HandleFunc("/api/marketplace/payments", authed("payments", s.requireRole(s.payments.Payments, coremkt.RoleBuyer)))
	mux.HandleFunc("/api/marketplace/payments/", authed("payments", s.requireRole(s.payments.Payments, coremkt.RoleBuyer)))
	mux.HandleFunc("/api/marketplace/dashboard/", authed("dashboard", s.stats.Dashboard))
}

// authWrap resolves the bearer token to an account and injects it into
// the request context.
func (s *Server) authWrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := middleware.BearerToken(r)
		if token == "" {
			middleware.Error(w, http.StatusUnauthorized, "authorization required")
			return
		}
		rec, ok := s.tokens.Get(token)
		if !ok {
			middleware.Error(w, http.StatusUnauthorized, "invalid token")
			return
		}
		acct, err := s.store.GetAccount(r.Context(), rec.AccountID)
		if err != nil {
			middleware.Error(w, http.StatusUnauthorized, "unknown account")
			return
		}
		next(w, r.WithContext(middleware.WithAccount(r.Context(), acct)))
	}
}

// requireRole gates a handler on the closed role set.
func (s *Server) requireRole(next http.HandlerFunc, roles ...coremkt.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acct, ok := middleware.AccountFrom(r.Context())
		if !ok {
			middleware.Error(w, http.StatusUnauthorized, "authorization required")
			return
		}
		for _, role := range roles {
			if acct.Role == role {
				next(w, r)
				return
			}
		}
		middleware.Error(w, http.StatusForbidden, "forbidden")
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	middleware.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

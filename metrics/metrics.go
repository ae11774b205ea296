// Package metrics exposes the Prometheus collectors for the
// marketplace server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts HTTP requests by route and status class.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_http_requests_total",
		Help: "HTTP requests served, by route and status class.",
	}, []string{"route", "status"})

	// SubmissionsResolved counts submission settlements by outcome.
	SubmissionsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_submissions_resolved_total",
		Help: "Submissions resolved, by outcome.",
	}, []string{"outcome"})

	// CoinsSettled totals coins credited to workers through approvals.
	CoinsSettled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_coins_settled_total",
		Help: "Coins credited to workers via approved submissions.",
	})

	// WithdrawalsDecided counts withdrawal decisions by outcome.
	WithdrawalsDecided = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "marketplace_withdrawals_decided_total",
		Help: "Withdrawals decided, by outcome.",
	}, []string{"outcome"})

	// NotificationsDropped counts best-effort notification failures.
	NotificationsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "marketplace_notifications_dropped_total",
		Help: "Notifications dropped after a failed append.",
	})
)

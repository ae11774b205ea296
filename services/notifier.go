package services

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"

	"microtask-backend/core/marketplace"
	"microtask-backend/metrics"
)

// NotificationSink is where notifications land. Satisfied by the
// marketplace stores.
type NotificationSink interface {
	AppendNotification(ctx context.Context, n marketplace.Notification) error
}

// Notifier appends inbox notifications best-effort. A failed append is
// logged and swallowed: notification delivery sits outside the
// consistency boundary of whatever ledger or workflow mutation
// triggered it, and must never roll it back.
type Notifier struct {
	sink       NotificationSink
	log        *logrus.Logger
	adminEmail string
}

// NewNotifier creates a notifier. adminEmail is the administrative
// recipient for withdrawal requests.
func NewNotifier(sink NotificationSink, log *logrus.Logger, adminEmail string) *Notifier {
	return &Notifier{sink: sink, log: log, adminEmail: adminEmail}
}

// Notify appends one inbox entry for the recipient.
func (n *Notifier) Notify(ctx context.Context, toEmail, message, actionRoute string) {
	err := n.sink.AppendNotification(ctx, marketplace.Notification{
		ToEmail:     toEmail,
		Message:     message,
		ActionRoute: actionRoute,
	})
	if err != nil {
		metrics.NotificationsDropped.Inc()
		n.log.WithError(err).WithField("to", toEmail).Warn("notification append failed, dropping")
	}
}

// SubmissionReceived tells a buyer a worker submitted against their task.
func (n *Notifier) SubmissionReceived(ctx context.Context, sub marketplace.Submission) {
	msg := fmt.Sprintf("%s has submitted a task: %s", sub.WorkerName, sub.TaskTitle)
	n.Notify(ctx, sub.BuyerEmail, msg, "/dashboard/task-review")
}

// SubmissionApproved tells a worker their submission settled.
func (n *Notifier) SubmissionApproved(ctx context.Context, sub marketplace.Submission) {
	msg := fmt.Sprintf("You have earned %d coins from %s for completing %s", sub.PayableAmount, sub.BuyerName, sub.TaskTitle)
	n.Notify(ctx, sub.WorkerEmail, msg, "/dashboard/my-submissions")
}

// SubmissionRejected tells a worker their submission was rejected.
func (n *Notifier) SubmissionRejected(ctx context.Context, sub marketplace.Submission) {
	msg := fmt.Sprintf("Your submission for %s has been rejected by %s", sub.TaskTitle, sub.BuyerName)
	n.Notify(ctx, sub.WorkerEmail, msg, "/dashboard/my-submissions")
}

// WithdrawalRequested tells the administrative recipient about a new request.
func (n *Notifier) WithdrawalRequested(ctx context.Context, w marketplace.Withdrawal) {
	msg := fmt.Sprintf("%s has requested a withdrawal of $%s", w.WorkerName, w.PayoutAmount.StringFixed(2))
	n.Notify(ctx, n.adminEmail, msg, "/dashboard/withdraw-requests")
}

// WithdrawalDecided tells a worker the outcome of their request.
func (n *Notifier) WithdrawalDecided(ctx context.Context, w marketplace.Withdrawal) {
	var msg string
	if w.Status == marketplace.StatusApproved {
		msg = fmt.Sprintf("Your withdrawal request of $%s has been approved", w.PayoutAmount.StringFixed(2))
	} else {
		msg = fmt.Sprintf("Your withdrawal request of $%s has been rejected", w.PayoutAmount.StringFixed(2))
	}
	n.Notify(ctx, w.WorkerEmail, msg, "/dashboard/withdrawals")
}

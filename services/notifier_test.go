package services

import (
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"microtask-backend/core/marketplace"
)

type captureSink struct {
	entries []marketplace.Notification
	err     error
}

func (c *captureSink) AppendNotification(ctx context.Context, n marketplace.Notification) error {
	if c.err != nil {
		return c.err
	}
	c.entries = append(c.entries, n)
	return nil
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return log
}

func TestNotifySwallowsSinkErrors(t *testing.T) {
	sink := &captureSink{err: context.DeadlineExceeded}
	n := NewNotifier(sink, testLogger(), "admin@example.com")

	// Must not panic or propagate.
	n.Notify(context.Background(), "worker@example.com", "hello", "/dashboard")
}

func TestSubmissionReceivedTargetsBuyer(t *testing.T) {
	sink := &captureSink{}
	n := NewNotifier(sink, testLogger(), "admin@example.com")

	n.SubmissionReceived(context.Background(), marketplace.Submission{
		WorkerName: "Wendy Worker",
		BuyerEmail: "buyer@example.com",
		TaskTitle:  "Label images",
	})

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sink.entries))
	}
	got := sink.entries[0]
	if got.ToEmail != "buyer@example.com" {
		t.Fatalf("recipient: %s", got.ToEmail)
	}
	if !strings.Contains(got.Message, "Wendy Worker") || !strings.Contains(got.Message, "Label images") {
		t.Fatalf("message: %s", got.Message)
	}
}

func TestSubmissionApprovedMentionsEarnings(t *testing.T) {
	sink := &captureSink{}
	n := NewNotifier(sink, testLogger(), "admin@example.com")

	n.SubmissionApproved(context.Background(), marketplace.Submission{
		WorkerEmail:   "worker@example.com",
		BuyerName:     "Bob Buyer",
		TaskTitle:     "Label images",
		PayableAmount: 30,
	})

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sink.entries))
	}
	got := sink.entries[0]
	if got.ToEmail != "worker@example.com" {
		t.Fatalf("recipient: %s", got.ToEmail)
	}
	if !strings.Contains(got.Message, "30") {
		t.Fatalf("message missing amount: %s", got.Message)
	}
}

func TestWithdrawalRequestedTargetsAdmin(t *testing.T) {
	sink := &captureSink{}
	n := NewNotifier(sink, testLogger(), "admin@example.com")

	n.WithdrawalRequested(context.Background(), marketplace.Withdrawal{
		WorkerName:   "Wendy Worker",
		CoinAmount:   200,
		PayoutAmount: marketplace.PayoutFor(200),
	})

	if len(sink.entries) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sink.entries))
	}
	if sink.entries[0].ToEmail != "admin@example.com" {
		t.Fatalf("recipient: %s", sink.entries[0].ToEmail)
	}
}

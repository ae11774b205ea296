package marketplace

import (
	"context"
	"testing"
	"time"

	"microtask-backend/core/marketplace"
)

func testDraft(capacity int, payable int64) marketplace.TaskDraft {
	return marketplace.TaskDraft{
		Title:          "Label 50 images",
		Detail:         "Draw bounding boxes around street signs",
		Capacity:       capacity,
		PayableAmount:  payable,
		Deadline:       time.Now().Add(72 * time.Hour),
		SubmissionInfo: "Link to the completed label set",
	}
}

func TestCreateTaskDebitsEscrow(t *testing.T) {
	s := NewMemoryStore()
	buyer := newTestAccount(t, s, "buyer@example.com", marketplace.RoleBuyer)
	fundAccount(t, s, buyer.ID, 200) // balance 250

	task, err := s.CreateTask(context.Background(), buyer, testDraft(5, 10))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if got := accountBalance(t, s, buyer.ID); got != 200 {
		t.Fatalf("escrow debit: balance got %d, want 200", got)
	}
	if task.Capacity != 5 || task.OriginalCapacity != 5 {
		t.Fatalf("capacity: got %d/%d, want 5/5", task.Capacity, task.OriginalCapacity)
	}
}

func TestCreateTaskFailsClosed(t *testing.T) {
	s := NewMemoryStore()
	buyer := newTestAccount(t, s, "buyer@example.com", marketplace.RoleBuyer)
	// balance 50, escrow needs 5*20=100

	_, err := s.CreateTask(context.Background(), buyer, testDraft(5, 20))
	if err != marketplace.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := accountBalance(t, s, buyer.ID); got != marketplace.BuyerSignupGrant {
		t.Fatalf("failed create mutated balance: got %d", got)
	}
	tasks, err := s.ListTasks(context.Background(), marketplace.TaskFilter{})
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("failed create left a task behind: %+v", tasks)
	}
}

func TestCreateTaskValidation(t *testing.T) {
	s := NewMemoryStore()
	buyer := newTestAccount(t, s, "buyer@example.com", marketplace.RoleBuyer)

	draft := testDraft(0, 10)
	if _, err := s.CreateTask(context.Background(), buyer, draft); err != marketplace.ErrValidation {
		t.Fatalf("zero capacity: expected ErrValidation, got %v", err)
	}
	draft = testDraft(5, 0)
	if _, err := s.CreateTask(context.Background(), buyer, draft); err != marketplace.ErrValidation {
		t.Fatalf("zero payable: expected ErrValidation, got %v", err)
	}
	draft = testDraft(1, 1)
	draft.Title = "  "
	if _, err := s.CreateTask(context.Background(), buyer, draft); err != marketplace.ErrValidation {
		t.Fatalf("blank title: expected ErrValidation, got %v", err)
	}
}

func TestUpdateTaskImmutableFields(t *testing.T) {
	s := NewMemoryStore()
	buyer := newTestAccount(t, s, "buyer@example.com", marketplace.RoleBuyer)
	fundAccount(t, s, buyer.ID, 100)
	task, err := s.CreateTask(context.Background(), buyer, testDraft(3, 10))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if err := s.UpdateTask(context.Background(), buyer, task.ID, marketplace.TaskUpdate{Title: "New title"}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}
	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "New title" {
		t.Fatalf("title not updated: %s", got.Title)
	}
	if got.Capacity != 3 || got.PayableAmount != 10 {
		t.Fatalf("update touched escrow fields: %+v", got)
	}

	other := newTestAccount(t, s, "other@example.com", marketplace.RoleBuyer)
	if err := s.UpdateTask(context.Background(), other, task.ID, marketplace.TaskUpdate{Title: "Hijack"}); err != marketplace.ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestDeleteTaskRefundsRemainingEscrow(t *testing.T) {
	s := NewMemoryStore()
	buyer := newTestAccount(t, s, "buyer@example.com", marketplace.RoleBuyer)
	worker := newTestAccount(t, s, "worker@example.com", marketplace.RoleWorker)
	fundAccount(t, s, buyer.ID, 50) // balance 100

	task, err := s.CreateTask(context.Background(), buyer, testDraft(5, 10))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	// balance 50, escrow 50

	if _, err := s.CreateSubmission(context.Background(), worker, task.ID, "done"); err != nil {
		t.Fatalf("CreateSubmission: %v", err)
	}
	// capacity now 4, remaining escrow 40

	refund, err := s.DeleteTask(context.Background(), buyer, task.ID)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if refund != 40 {
		t.Fatalf("refund: got %d, want 40", refund)
	}
	if got := accountBalance(t, s, buyer.ID); got != 90 {
		t.Fatalf("balance after refund: got %d, want 90", got)
	}

	// cascade removed the submission
	_, total, err := s.ListSubmissions(context.Background(), marketplace.SubmissionFilter{TaskID: task.ID})
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if total != 0 {
		t.Fatalf("cascade left %d submissions", total)
	}
}

func TestAdminDeleteDoesNotRefund(t *testing.T) {
	s := NewMemoryStore()
	buyer := newTestAccount(t, s, "buyer@example.com", marketplace.RoleBuyer)
	admin := newTestAccount(t, s, "admin@example.com", marketplace.RoleAdmin)

	task, err := s.CreateTask(context.Background(), buyer, testDraft(5, 10))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	// buyer balance now 0

	refund, err := s.DeleteTask(context.Background(), admin, task.ID)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if refund != 0 {
		t.Fatalf("admin delete refunded %d coins", refund)
	}
	if got := accountBalance(t, s, buyer.ID); got != 0 {
		t.Fatalf("admin delete credited the buyer: %d", got)
	}
	if _, err := s.GetTask(context.Background(), task.ID); err != marketplace.ErrTaskNotFound {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestDeleteTaskAuthorization(t *testing.T) {
	s := NewMemoryStore()
	buyer := newTestAccount(t, s, "buyer@example.com", marketplace.RoleBuyer)
	other := newTestAccount(t, s, "other@example.com", marketplace.RoleBuyer)

	task, err := s.CreateTask(context.Background(), buyer, testDraft(2, 10))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := s.DeleteTask(context.Background(), other, task.ID); err != marketplace.ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

// Escrow arithmetic over a full lifecycle: create with capacity 5 at 10
// coins, settle two approvals and one rejection, then delete. The refund
// must equal the remaining capacity times the payable amount.
func TestEscrowArithmeticAcrossLifecycle(t *testing.T) {
	s := NewMemoryStore()
	buyer := newTestAccount(t, s, "buyer@example.com", marketplace.RoleBuyer)
	fundAccount(t, s, buyer.ID, 50) // balance 100

	task, err := s.CreateTask(context.Background(), buyer, testDraft(5, 10))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if got := accountBalance(t, s, buyer.ID); got != 50 {
		t.Fatalf("escrow debit: got %d, want 50", got)
	}

	var subs []marketplace.Submission
	for _, email := range []string{"w1@example.com", "w2@example.com", "w3@example.com"} {
		w := newTestAccount(t, s, email, marketplace.RoleWorker)
		sub, err := s.CreateSubmission(context.Background(), w, task.ID, "work")
		if err != nil {
			t.Fatalf("CreateSubmission(%s): %v", email, err)
		}
		subs = append(subs, sub)
	}

	for _, sub := range subs[:2] {
		if _, err := s.ResolveSubmission(context.Background(), buyer, sub.ID, marketplace.ActionApprove); err != nil {
			t.Fatalf("approve: %v", err)
		}
	}
	if _, err := s.ResolveSubmission(context.Background(), buyer, subs[2].ID, marketplace.ActionReject); err != nil {
		t.Fatalf("reject: %v", err)
	}

	got, err := s.GetTask(context.Background(), task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	// 5 - 3 consumed + 1 freed by the rejection
	if got.Capacity != 3 {
		t.Fatalf("capacity after settlement: got %d, want 3", got.Capacity)
	}

	refund, err := s.DeleteTask(context.Background(), buyer, task.ID)
	if err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	if refund != 30 {
		t.Fatalf("refund: got %d, want 30", refund)
	}
	if bal := accountBalance(t, s, buyer.ID); bal != 80 {
		t.Fatalf("final buyer balance: got %d, want 80", bal)
	}
}

package marketplace

import (
	"context"
	"sync"
	"testing"

	"microtask-backend/core/marketplace"
)

func newTestAccount(t *testing.T, s *MemoryStore, email string, role marketplace.Role) marketplace.Account {
	t.Helper()
	acct, err := s.CreateAccount(context.Background(), email, "Test "+email, "", role)
	if err != nil {
		t.Fatalf("CreateAccount(%s): %v", email, err)
	}
	return acct
}

func fundAccount(t *testing.T, s *MemoryStore, id string, amount int64) {
	t.Helper()
	if err := s.Credit(context.Background(), id, amount); err != nil {
		t.Fatalf("Credit: %v", err)
	}
}

func accountBalance(t *testing.T, s *MemoryStore, id string) int64 {
	t.Helper()
	acct, err := s.GetAccount(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return acct.Balance
}

func TestSignupGrants(t *testing.T) {
	s := NewMemoryStore()
	buyer := newTestAccount(t, s, "buyer@example.com", marketplace.RoleBuyer)
	worker := newTestAccount(t, s, "worker@example.com", marketplace.RoleWorker)

	if buyer.Balance != marketplace.BuyerSignupGrant {
		t.Fatalf("buyer grant: got %d, want %d", buyer.Balance, marketplace.BuyerSignupGrant)
	}
	if worker.Balance != marketplace.WorkerSignupGrant {
		t.Fatalf("worker grant: got %d, want %d", worker.Balance, marketplace.WorkerSignupGrant)
	}
}

func TestDuplicateEmailRejected(t *testing.T) {
	s := NewMemoryStore()
	newTestAccount(t, s, "dup@example.com", marketplace.RoleWorker)
	_, err := s.CreateAccount(context.Background(), "DUP@example.com", "Dup", "", marketplace.RoleBuyer)
	if err != marketplace.ErrAccountExists {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
}

func TestDebitNeverOverdraws(t *testing.T) {
	s := NewMemoryStore()
	worker := newTestAccount(t, s, "worker@example.com", marketplace.RoleWorker)
	fundAccount(t, s, worker.ID, 90) // balance 100

	if err := s.Debit(context.Background(), worker.ID, 101); err != marketplace.ErrInsufficientFunds {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := accountBalance(t, s, worker.ID); got != 100 {
		t.Fatalf("failed debit mutated balance: got %d, want 100", got)
	}

	if err := s.Debit(context.Background(), worker.ID, 100); err != nil {
		t.Fatalf("Debit: %v", err)
	}
	if got := accountBalance(t, s, worker.ID); got != 0 {
		t.Fatalf("balance after full debit: got %d, want 0", got)
	}
}

func TestConcurrentDebitsStopAtZero(t *testing.T) {
	s := NewMemoryStore()
	worker := newTestAccount(t, s, "worker@example.com", marketplace.RoleWorker)
	fundAccount(t, s, worker.ID, 90) // balance 100

	const attempts = 20
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.Debit(context.Background(), worker.ID, 10)
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	for err := range results {
		if err == nil {
			succeeded++
		} else if err != marketplace.ErrInsufficientFunds {
			t.Fatalf("unexpected debit error: %v", err)
		}
	}
	if succeeded != 10 {
		t.Fatalf("expected exactly 10 debits to succeed, got %d", succeeded)
	}
	if got := accountBalance(t, s, worker.ID); got != 0 {
		t.Fatalf("final balance: got %d, want 0", got)
	}
}

func TestDebitUnknownAccount(t *testing.T) {
	s := NewMemoryStore()
	if err := s.Debit(context.Background(), "missing", 10); err != marketplace.ErrAccountNotFound {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}

func TestTopWorkersOrdering(t *testing.T) {
	s := NewMemoryStore()
	a := newTestAccount(t, s, "a@example.com", marketplace.RoleWorker)
	b := newTestAccount(t, s, "b@example.com", marketplace.RoleWorker)
	newTestAccount(t, s, "buyer@example.com", marketplace.RoleBuyer)
	fundAccount(t, s, b.ID, 500)
	fundAccount(t, s, a.ID, 100)

	workers, err := s.TopWorkers(context.Background(), 1)
	if err != nil {
		t.Fatalf("TopWorkers: %v", err)
	}
	if len(workers) != 1 || workers[0].ID != b.ID {
		t.Fatalf("expected richest worker %s first, got %+v", b.ID, workers)
	}
}

package marketplace

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"microtask-backend/core/marketplace"
)

// MemoryStore holds marketplace data in memory with proper concurrency
// control. The single RWMutex makes each workflow operation atomic
// across the maps it touches, which is what keeps the balance and
// capacity invariants under concurrent handlers.
type MemoryStore struct {
	mu            sync.RWMutex
	accounts      map[string]marketplace.Account
	emailIndex    map[string]string
	tasks         map[string]marketplace.Task
	submissions   map[string]marketplace.Submission
	withdrawals   map[string]marketplace.Withdrawal
	payments      map[string]marketplace.Payment
	notifications map[string]marketplace.Notification
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:      make(map[string]marketplace.Account),
		emailIndex:    make(map[string]string),
		tasks:         make(map[string]marketplace.Task),
		submissions:   make(map[string]marketplace.Submission),
		withdrawals:   make(map[string]marketplace.Withdrawal),
		payments:      make(map[string]marketplace.Payment),
		notifications: make(map[string]marketplace.Notification),
	}
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() {}

// CreateAccount registers a new account with its role's signup grant.
func (s *MemoryStore) CreateAccount(ctx context.Context, email, name, photoURL string, role marketplace.Role) (marketplace.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(name) == "" {
		return marketplace.Account{}, marketplace.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.emailIndex[email]; exists {
		return marketplace.Account{}, marketplace.ErrAccountExists
	}
	acct := marketplace.Account{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		PhotoURL:  photoURL,
		Role:      role,
		Balance:   role.SignupGrant(),
		CreatedAt: time.Now(),
	}
	s.accounts[acct.ID] = acct
	s.emailIndex[email] = acct.ID
	return acct, nil
}

// GetAccount returns an account by ID.
func (s *MemoryStore) GetAccount(ctx context.Context, id string) (marketplace.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[id]
	if !ok {
		return marketplace.Account{}, marketplace.ErrAccountNotFound
	}
	return acct, nil
}

// GetAccountByEmail returns an account by email.
func (s *MemoryStore) GetAccountByEmail(ctx context.Context, email string) (marketplace.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.emailIndex[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return marketplace.Account{}, marketplace.ErrAccountNotFound
	}
	return s.accounts[id], nil
}

// ListAccounts returns all accounts, newest first.
func (s *MemoryStore) ListAccounts(ctx context.Context) ([]marketplace.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]marketplace.Account, 0, len(s.accounts))
	for _, a := range s.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// UpdateAccountRole changes an account's role.
func (s *MemoryStore) UpdateAccountRole(ctx context.Context, id string, role marketplace.Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return marketplace.ErrAccountNotFound
	}
	acct.Role = role
	s.accounts[id] = acct
	return nil
}

// DeleteAccount removes an account.
func (s *MemoryStore) DeleteAccount(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	acct, ok := s.accounts[id]
	if !ok {
		return marketplace.ErrAccountNotFound
	}
	delete(s.emailIndex, acct.Email)
	delete(s.accounts, id)
	return nil
}

// TopWorkers returns workers ordered by balance descending.
func (s *MemoryStore) TopWorkers(ctx context.Context, limit int) ([]marketplace.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.Account
	for _, a := range s.accounts {
		if a.Role == marketplace.RoleWorker {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Balance > out[j].Balance })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// Credit unconditionally increases a balance.
func (s *MemoryStore) Credit(ctx context.Context, accountID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creditLocked(accountID, amount)
}

// Debit decreases a balance, failing if it would go negative.
func (s *MemoryStore) Debit(ctx context.Context, accountID string, amount int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.debitLocked(accountID, amount)
}

func (s *MemoryStore) creditLocked(accountID string, amount int64) error {
	acct, ok := s.accounts[accountID]
	if !ok {
		return marketplace.ErrAccountNotFound
	}
	acct.Balance += amount
	s.accounts[accountID] = acct
	return nil
}

func (s *MemoryStore) debitLocked(accountID string, amount int64) error {
	acct, ok := s.accounts[accountID]
	if !ok {
		return marketplace.ErrAccountNotFound
	}
	if acct.Balance < amount {
		return marketplace.ErrInsufficientFunds
	}
	acct.Balance -= amount
	s.accounts[accountID] = acct
	return nil
}

// CreateTask debits the buyer's escrow and creates the task. On
// insufficient funds no task is created.
func (s *MemoryStore) CreateTask(ctx context.Context, buyer marketplace.Account, draft marketplace.TaskDraft) (marketplace.Task, error) {
	if err := draft.Validate(); err != nil {
		return marketplace.Task{}, err
	}
	total := int64(draft.Capacity) * draft.PayableAmount

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.debitLocked(buyer.ID, total); err != nil {
		return marketplace.Task{}, err
	}
	task := marketplace.Task{
		ID:               uuid.NewString(),
		BuyerID:          buyer.ID,
		BuyerEmail:       buyer.Email,
		BuyerName:        buyer.Name,
		Title:            draft.Title,
		Detail:           draft.Detail,
		Capacity:         draft.Capacity,
		OriginalCapacity: draft.Capacity,
		PayableAmount:    draft.PayableAmount,
		Deadline:         draft.Deadline,
		SubmissionInfo:   draft.SubmissionInfo,
		ImageURL:         draft.ImageURL,
		CreatedAt:        time.Now(),
	}
	s.tasks[task.ID] = task
	return task, nil
}

// ListTasks returns tasks matching the filter, newest deadline first.
func (s *MemoryStore) ListTasks(ctx context.Context, filter marketplace.TaskFilter) ([]marketplace.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.Task
	for _, t := range s.tasks {
		if filter.BuyerEmail != "" && !strings.EqualFold(t.BuyerEmail, filter.BuyerEmail) {
			continue
		}
		if filter.OpenOnly && t.Capacity <= 0 {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Deadline.After(out[j].Deadline) })
	return out, nil
}

// GetTask returns a task by ID.
func (s *MemoryStore) GetTask(ctx context.Context, id string) (marketplace.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return marketplace.Task{}, marketplace.ErrTaskNotFound
	}
	return t, nil
}

// UpdateTask edits the mutable fields of an owned task.
func (s *MemoryStore) UpdateTask(ctx context.Context, requester marketplace.Account, id string, update marketplace.TaskUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return marketplace.ErrTaskNotFound
	}
	if t.BuyerID != requester.ID {
		return marketplace.ErrNotAuthorized
	}
	if strings.TrimSpace(update.Title) != "" {
		t.Title = update.Title
	}
	if strings.TrimSpace(update.Detail) != "" {
		t.Detail = update.Detail
	}
	if strings.TrimSpace(update.SubmissionInfo) != "" {
		t.SubmissionInfo = update.SubmissionInfo
	}
	s.tasks[id] = t
	return nil
}

// DeleteTask removes a task and every submission referencing it,
// refunding the unconsumed escrow to the buyer when the owner deletes.
// Admin deletion of another buyer's task is non-refunding.
func (s *MemoryStore) DeleteTask(ctx context.Context, requester marketplace.Account, id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return 0, marketplace.ErrTaskNotFound
	}
	if t.BuyerID != requester.ID && requester.Role != marketplace.RoleAdmin {
		return 0, marketplace.ErrNotAuthorized
	}

	var refund int64
	if t.BuyerID == requester.ID {
		refund = int64(t.Capacity) * t.PayableAmount
		if refund > 0 {
			if err := s.creditLocked(t.BuyerID, refund); err != nil {
				return 0, err
			}
		}
	}

	delete(s.tasks, id)
	for sid, sub := range s.submissions {
		if sub.TaskID == id {
			delete(s.submissions, sid)
		}
	}
	return refund, nil
}

// CreateSubmission consumes one unit of task capacity and records a
// pending submission with the payable amount snapshotted.
func (s *MemoryStore) CreateSubmission(ctx context.Context, worker marketplace.Account, taskID, details string) (marketplace.Submission, error) {
	if strings.TrimSpace(details) == "" {
		return marketplace.Submission{}, marketplace.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[taskID]
	if !ok {
		return marketplace.Submission{}, marketplace.ErrTaskNotFound
	}
	if t.Capacity <= 0 {
		return marketplace.Submission{}, marketplace.ErrTaskFull
	}
	for _, sub := range s.submissions {
		if sub.TaskID == taskID && sub.WorkerID == worker.ID {
			return marketplace.Submission{}, marketplace.ErrAlreadySubmitted
		}
	}

	t.Capacity--
	s.tasks[taskID] = t

	sub := marketplace.Submission{
		ID:            uuid.NewString(),
		TaskID:        taskID,
		TaskTitle:     t.Title,
		WorkerID:      worker.ID,
		WorkerEmail:   worker.Email,
		WorkerName:    worker.Name,
		BuyerID:       t.BuyerID,
		BuyerEmail:    t.BuyerEmail,
		BuyerName:     t.BuyerName,
		Details:       details,
		Status:        marketplace.StatusPending,
		PayableAmount: t.PayableAmount,
		CreatedAt:     time.Now(),
	}
	s.submissions[sub.ID] = sub
	return sub, nil
}

// ListSubmissions returns submissions matching the filter, newest
// first, with the unpaginated total.
func (s *MemoryStore) ListSubmissions(ctx context.Context, filter marketplace.SubmissionFilter) ([]marketplace.Submission, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.Submission
	for _, sub := range s.submissions {
		if filter.WorkerEmail != "" && !strings.EqualFold(sub.WorkerEmail, filter.WorkerEmail) {
			continue
		}
		if filter.BuyerEmail != "" && !strings.EqualFold(sub.BuyerEmail, filter.BuyerEmail) {
			continue
		}
		if filter.TaskID != "" && sub.TaskID != filter.TaskID {
			continue
		}
		if filter.Status != "" && sub.Status != filter.Status {
			continue
		}
		out = append(out, sub)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	total := len(out)
	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			out = nil
		} else {
			out = out[filter.Offset:]
		}
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, total, nil
}

// GetSubmission returns a submission by ID.
func (s *MemoryStore) GetSubmission(ctx context.Context, id string) (marketplace.Submission, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.submissions[id]
	if !ok {
		return marketplace.Submission{}, marketplace.ErrSubmissionNotFound
	}
	return sub, nil
}

// ResolveSubmission settles a pending submission. Approval credits the
// worker the snapshot amount and leaves the slot consumed; rejection
// frees the slot. The pending check and the status write happen under
// the same lock so a submission settles at most once.
func (s *MemoryStore) ResolveSubmission(ctx context.Context, buyer marketplace.Account, id string, action marketplace.Action) (marketplace.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, ok := s.submissions[id]
	if !ok {
		return marketplace.Submission{}, marketplace.ErrSubmissionNotFound
	}
	if sub.BuyerID != buyer.ID {
		return marketplace.Submission{}, marketplace.ErrNotAuthorized
	}
	if sub.Status != marketplace.StatusPending {
		return marketplace.Submission{}, marketplace.ErrAlreadyProcessed
	}

	switch action {
	case marketplace.ActionApprove:
		sub.Status = marketplace.StatusApproved
		if err := s.creditLocked(sub.WorkerID, sub.PayableAmount); err != nil {
			return marketplace.Submission{}, err
		}
	case marketplace.ActionReject:
		sub.Status = marketplace.StatusRejected
		if t, ok := s.tasks[sub.TaskID]; ok && t.Capacity < t.OriginalCapacity {
			t.Capacity++
			s.tasks[sub.TaskID] = t
		}
	default:
		return marketplace.Submission{}, marketplace.ErrInvalidAction
	}

	s.submissions[id] = sub
	return sub, nil
}

// CreateWithdrawal records a pending payout request. Coins are only
// checked, not held; the balance stays spendable until an admin
// decides.
func (s *MemoryStore) CreateWithdrawal(ctx context.Context, worker marketplace.Account, coins int64, paymentSystem, accountNumber string) (marketplace.Withdrawal, error) {
	if strings.TrimSpace(paymentSystem) == "" || strings.TrimSpace(accountNumber) == "" {
		return marketplace.Withdrawal{}, marketplace.ErrValidation
	}
	if coins < marketplace.WithdrawalMinimum {
		return marketplace.Withdrawal{}, marketplace.ErrBelowMinimum
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	acct, ok := s.accounts[worker.ID]
	if !ok {
		return marketplace.Withdrawal{}, marketplace.ErrAccountNotFound
	}
	if acct.Balance < coins {
		return marketplace.Withdrawal{}, marketplace.ErrInsufficientFunds
	}

	w := marketplace.Withdrawal{
		ID:            uuid.NewString(),
		WorkerID:      worker.ID,
		WorkerEmail:   worker.Email,
		WorkerName:    worker.Name,
		CoinAmount:    coins,
		PayoutAmount:  marketplace.PayoutFor(coins),
		PaymentSystem: paymentSystem,
		AccountNumber: accountNumber,
		Status:        marketplace.StatusPending,
		CreatedAt:     time.Now(),
	}
	s.withdrawals[w.ID] = w
	return w, nil
}

// ListWithdrawals returns withdrawals matching the filter, newest first.
func (s *MemoryStore) ListWithdrawals(ctx context.Context, filter marketplace.WithdrawalFilter) ([]marketplace.Withdrawal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.Withdrawal
	for _, w := range s.withdrawals {
		if filter.WorkerEmail != "" && !strings.EqualFold(w.WorkerEmail, filter.WorkerEmail) {
			continue
		}
		if filter.Status != "" && w.Status != filter.Status {
			continue
		}
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// DecideWithdrawal settles a pending withdrawal. Approval re-checks the
// worker's balance at decision time; if the coins are gone the request
// stays pending and ErrInsufficientFunds is returned. Rejection never
// touches the balance, since the coins were never held.
func (s *MemoryStore) DecideWithdrawal(ctx context.Context, id string, action marketplace.Action) (marketplace.Withdrawal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.withdrawals[id]
	if !ok {
		return marketplace.Withdrawal{}, marketplace.ErrWithdrawalNotFound
	}
	if w.Status != marketplace.StatusPending {
		return marketplace.Withdrawal{}, marketplace.ErrAlreadyProcessed
	}

	switch action {
	case marketplace.ActionApprove:
		if err := s.debitLocked(w.WorkerID, w.CoinAmount); err != nil {
			return marketplace.Withdrawal{}, err
		}
		w.Status = marketplace.StatusApproved
	case marketplace.ActionReject:
		w.Status = marketplace.StatusRejected
	default:
		return marketplace.Withdrawal{}, marketplace.ErrInvalidAction
	}

	s.withdrawals[id] = w
	return w, nil
}

// RecordPayment records a completed top-up and credits the buyer.
func (s *MemoryStore) RecordPayment(ctx context.Context, buyer marketplace.Account, coinAmount int64, amountPaid string, paymentRef string) (marketplace.Payment, error) {
	if coinAmount <= 0 || strings.TrimSpace(paymentRef) == "" {
		return marketplace.Payment{}, marketplace.ErrValidation
	}
	paid, err := decimal.NewFromString(amountPaid)
	if err != nil {
		return marketplace.Payment{}, marketplace.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.creditLocked(buyer.ID, coinAmount); err != nil {
		return marketplace.Payment{}, err
	}
	p := marketplace.Payment{
		ID:         uuid.NewString(),
		BuyerID:    buyer.ID,
		BuyerEmail: buyer.Email,
		BuyerName:  buyer.Name,
		CoinAmount: coinAmount,
		AmountPaid: paid,
		PaymentRef: paymentRef,
		CreatedAt:  time.Now(),
	}
	s.payments[p.ID] = p
	return p, nil
}

// ListPayments returns a buyer's payments, newest first.
func (s *MemoryStore) ListPayments(ctx context.Context, buyerEmail string) ([]marketplace.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.Payment
	for _, p := range s.payments {
		if strings.EqualFold(p.BuyerEmail, buyerEmail) {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// AppendNotification stores an inbox entry.
func (s *MemoryStore) AppendNotification(ctx context.Context, n marketplace.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	s.notifications[n.ID] = n
	return nil
}

// ListNotifications returns a recipient's inbox, newest first.
func (s *MemoryStore) ListNotifications(ctx context.Context, toEmail string, limit int) ([]marketplace.Notification, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []marketplace.Notification
	for _, n := range s.notifications {
		if strings.EqualFold(n.ToEmail, toEmail) {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// MarkNotificationRead flags an entry read, scoped to its recipient.
func (s *MemoryStore) MarkNotificationRead(ctx context.Context, id, toEmail string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.notifications[id]
	if !ok || !strings.EqualFold(n.ToEmail, toEmail) {
		return marketplace.ErrNotificationNotFound
	}
	n.Read = true
	s.notifications[id] = n
	return nil
}

// PlatformStats returns the public counters.
func (s *MemoryStore) PlatformStats(ctx context.Context) (marketplace.PlatformStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := marketplace.PlatformStats{
		TotalUsers: len(s.accounts),
		TotalTasks: len(s.tasks),
	}
	for _, a := range s.accounts {
		stats.TotalCoins += a.Balance
	}
	for _, sub := range s.submissions {
		if sub.Status == marketplace.StatusApproved {
			stats.CompletedTasks++
		}
	}
	return stats, nil
}

// AdminStats returns the admin dashboard counters.
func (s *MemoryStore) AdminStats(ctx context.Context) (marketplace.AdminStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := marketplace.AdminStats{TotalPayments: decimal.Zero}
	for _, a := range s.accounts {
		switch a.Role {
		case marketplace.RoleWorker:
			stats.TotalWorkers++
		case marketplace.RoleBuyer:
			stats.TotalBuyers++
		}
		stats.TotalCoins += a.Balance
	}
	for _, p := range s.payments {
		stats.TotalPayments = stats.TotalPayments.Add(p.AmountPaid)
	}
	return stats, nil
}

// WorkerStats returns a worker's dashboard counters.
func (s *MemoryStore) WorkerStats(ctx context.Context, workerEmail string) (marketplace.WorkerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stats marketplace.WorkerStats
	for _, sub := range s.submissions {
		if !strings.EqualFold(sub.WorkerEmail, workerEmail) {
			continue
		}
		stats.TotalSubmissions++
		switch sub.Status {
		case marketplace.StatusPending:
			stats.PendingSubmissions++
		case marketplace.StatusApproved:
			stats.TotalEarnings += sub.PayableAmount
		}
	}
	return stats, nil
}

// BuyerStats returns a buyer's dashboard counters.
func (s *MemoryStore) BuyerStats(ctx context.Context, buyerEmail string) (marketplace.BuyerStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := marketplace.BuyerStats{TotalPayments: decimal.Zero}
	for _, t := range s.tasks {
		if strings.EqualFold(t.BuyerEmail, buyerEmail) {
			stats.TotalTasks++
			stats.PendingSlots += t.Capacity
		}
	}
	for _, p := range s.payments {
		if strings.EqualFold(p.BuyerEmail, buyerEmail) {
			stats.TotalPayments = stats.TotalPayments.Add(p.AmountPaid)
		}
	}
	return stats, nil
}

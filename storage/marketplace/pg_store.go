package marketplace

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"microtask-backend/core/marketplace"
)

// PGStore persists marketplace state in Postgres. Every multi-step
// workflow runs inside a single transaction, and the two hot counters
// (balance, capacity) are only mutated through conditional UPDATEs with
// floor guards in the WHERE clause.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore connects and initializes the schema.
func NewPGStore(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PGStore{pool: pool}
	if err := s.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the pool.
func (s *PGStore) Close() { s.pool.Close() }

func (s *PGStore) initSchema(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS marketplace_accounts (
  account_id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT NOT NULL,
  photo_url TEXT,
  role TEXT NOT NULL,
  balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS marketplace_tasks (
  task_id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  buyer_email TEXT NOT NULL,
  buyer_name TEXT NOT NULL,
  title TEXT NOT NULL,
  detail TEXT NOT NULL,
  capacity INT NOT NULL CHECK (capacity >= 0),
  original_capacity INT NOT NULL,
  payable_amount BIGINT NOT NULL,
  deadline TIMESTAMPTZ NOT NULL,
  submission_info TEXT NOT NULL,
  image_url TEXT,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  CHECK (capacity <= original_capacity)
);
CREATE TABLE IF NOT EXISTS marketplace_submissions (
  submission_id TEXT PRIMARY KEY,
  task_id TEXT NOT NULL,
  task_title TEXT NOT NULL,
  worker_id TEXT NOT NULL,
  worker_email TEXT NOT NULL,
  worker_name TEXT NOT NULL,
  buyer_id TEXT NOT NULL,
  buyer_email TEXT NOT NULL,
  buyer_name TEXT NOT NULL,
  details TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  payable_amount BIGINT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  UNIQUE (task_id, worker_id)
);
CREATE TABLE IF NOT EXISTS marketplace_withdrawals (
  withdrawal_id TEXT PRIMARY KEY,
  worker_id TEXT NOT NULL,
  worker_email TEXT NOT NULL,
  worker_name TEXT NOT NULL,
  coin_amount BIGINT NOT NULL,
  payout_amount NUMERIC(12,2) NOT NULL,
  payment_system TEXT NOT NULL,
  account_number TEXT NOT NULL,
  status TEXT NOT NULL DEFAULT 'pending',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS marketplace_payments (
  payment_id TEXT PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  buyer_email TEXT NOT NULL,
  buyer_name TEXT NOT NULL,
  coin_amount BIGINT NOT NULL,
  amount_paid NUMERIC(12,2) NOT NULL,
  payment_ref TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS marketplace_notifications (
  notification_id TEXT PRIMARY KEY,
  to_email TEXT NOT NULL,
  message TEXT NOT NULL,
  action_route TEXT,
  read BOOLEAN NOT NULL DEFAULT FALSE,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_marketplace_submissions_task ON marketplace_submissions(task_id);
CREATE INDEX IF NOT EXISTS idx_marketplace_submissions_worker ON marketplace_submissions(worker_email);
CREATE INDEX IF NOT EXISTS idx_marketplace_submissions_buyer ON marketplace_submissions(buyer_email, status);
CREATE INDEX IF NOT EXISTS idx_marketplace_withdrawals_status ON marketplace_withdrawals(status);
CREATE INDEX IF NOT EXISTS idx_marketplace_notifications_to ON marketplace_notifications(to_email, created_at);
`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

// CreateAccount registers a new account with its role's signup grant.
func (s *PGStore) CreateAccount(ctx context.Context, email, name, photoURL string, role marketplace.Role) (marketplace.Account, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || strings.TrimSpace(name) == "" {
		return marketplace.Account{}, marketplace.ErrValidation
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
	_, err := s.pool.Exec(ctx, `
INSERT INTO marketplace_accounts (account_id, email, name, photo_url, role, balance, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, acct.ID, acct.Email, acct.Name, acct.PhotoURL, string(acct.Role), acct.Balance, acct.CreatedAt)
	if isUniqueViolation(err) {
		return marketplace.Account{}, marketplace.ErrAccountExists
	}
	if err != nil {
		return marketplace.Account{}, err
	}
	return acct, nil
}

const accountColumns = `account_id, email, name, photo_url, role, balance, created_at`

func scanAccount(row pgx.Row) (marketplace.Account, error) {
	var a marketplace.Account
	var role string
	var photo *string
	if err := row.Scan(&a.ID, &a.Email, &a.Name, &photo, &role, &a.Balance, &a.CreatedAt); err != nil {
		return marketplace.Account{}, err
	}
	if photo != nil {
		a.PhotoURL = *photo
	}
	a.Role = marketplace.Role(role)
	return a, nil
}

// GetAccount returns an account by ID.
func (s *PGStore) GetAccount(ctx context.Context, id string) (marketplace.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM marketplace_accounts WHERE account_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.Account{}, marketplace.ErrAccountNotFound
	}
	return a, err
}

// GetAccountByEmail returns an account by email.
func (s *PGStore) GetAccountByEmail(ctx context.Context, email string) (marketplace.Account, error) {
	a, err := scanAccount(s.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM marketplace_accounts WHERE email=$1`, strings.ToLower(strings.TrimSpace(email))))
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.Account{}, marketplace.ErrAccountNotFound
	}
	return a, err
}

// ListAccounts returns all accounts, newest first.
func (s *PGStore) ListAccounts(ctx context.Context) ([]marketplace.Account, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+accountColumns+` FROM marketplace_accounts ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// UpdateAccountRole changes an account's role.
func (s *PGStore) UpdateAccountRole(ctx context.Context, id string, role marketplace.Role) error {
	tag, err := s.pool.Exec(ctx, `UPDATE marketplace_accounts SET role=$2 WHERE account_id=$1`, id, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return marketplace.ErrAccountNotFound
	}
	return nil
}

// DeleteAccount removes an account.
func (s *PGStore) DeleteAccount(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM marketplace_accounts WHERE account_id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return marketplace.ErrAccountNotFound
	}
	return nil
}

// TopWorkers returns workers ordered by balance descending.
func (s *PGStore) TopWorkers(ctx context.Context, limit int) ([]marketplace.Account, error) {
	if limit <= 0 {
		limit = 6
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+accountColumns+` FROM marketplace_accounts WHERE role='worker' ORDER BY balance DESC LIMIT $1
`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Credit unconditionally increases a balance.
func (s *PGStore) Credit(ctx context.Context, accountID string, amount int64) error {
	tag, err := s.pool.Exec(ctx, `UPDATE marketplace_accounts SET balance = balance + $2 WHERE account_id=$1`, accountID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return marketplace.ErrAccountNotFound
	}
	return nil
}

// Debit decreases a balance through a single conditional update, so
// concurrent debits can never drive it negative.
func (s *PGStore) Debit(ctx context.Context, accountID string, amount int64) error {
	return debitTx(ctx, s.pool, accountID, amount)
}

// executor covers both the pool and an open transaction.
type executor interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func debitTx(ctx context.Context, q executor, accountID string, amount int64) error {
	tag, err := q.Exec(ctx, `
UPDATE marketplace_accounts SET balance = balance - $2 WHERE account_id=$1 AND balance >= $2
`, accountID, amount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM marketplace_accounts WHERE account_id=$1)`, accountID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return marketplace.ErrAccountNotFound
		}
		return marketplace.ErrInsufficientFunds
	}
	return nil
}

// CreateTask debits the buyer's escrow and inserts the task in one
// transaction. On insufficient funds the transaction rolls back and no
// task row exists.
func (s *PGStore) CreateTask(ctx context.Context, buyer marketplace.Account, draft marketplace.TaskDraft) (marketplace.Task, error) {
	if err := draft.Validate(); err != nil {
		return marketplace.Task{}, err
	}
	total := int64(draft.Capacity) * draft.PayableAmount

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return marketplace.Task{}, err
	}
	defer tx.Rollback(ctx)

	if err := debitTx(ctx, tx, buyer.ID, total); err != nil {
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
	if _, err := tx.Exec(ctx, `
INSERT INTO marketplace_tasks (task_id, buyer_id, buyer_email, buyer_name, title, detail, capacity, original_capacity, payable_amount, deadline, submission_info, image_url, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, task.ID, task.BuyerID, task.BuyerEmail, task.BuyerName, task.Title, task.Detail, task.Capacity, task.OriginalCapacity, task.PayableAmount, task.Deadline, task.SubmissionInfo, task.ImageURL, task.CreatedAt); err != nil {
		return marketplace.Task{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return marketplace.Task{}, err
	}
	return task, nil
}

const taskColumns = `task_id, buyer_id, buyer_email, buyer_name, title, detail, capacity, original_capacity, payable_amount, deadline, submission_info, image_url, created_at`

func scanTask(row pgx.Row) (marketplace.Task, error) {
	var t marketplace.Task
	var image *string
	if err := row.Scan(&t.ID, &t.BuyerID, &t.BuyerEmail, &t.BuyerName, &t.Title, &t.Detail, &t.Capacity, &t.OriginalCapacity, &t.PayableAmount, &t.Deadline, &t.SubmissionInfo, &image, &t.CreatedAt); err != nil {
		return marketplace.Task{}, err
	}
	if image != nil {
		t.ImageURL = *image
	}
	return t, nil
}

// ListTasks returns tasks matching the filter, newest deadline first.
func (s *PGStore) ListTasks(ctx context.Context, filter marketplace.TaskFilter) ([]marketplace.Task, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+taskColumns+` FROM marketplace_tasks
WHERE ($1 = '' OR lower(buyer_email) = lower($1))
AND (NOT $2 OR capacity > 0)
ORDER BY deadline DESC
`, filter.BuyerEmail, filter.OpenOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTask returns a task by ID.
func (s *PGStore) GetTask(ctx context.Context, id string) (marketplace.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM marketplace_tasks WHERE task_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.Task{}, marketplace.ErrTaskNotFound
	}
	return t, err
}

// UpdateTask edits the mutable fields of an owned task.
func (s *PGStore) UpdateTask(ctx context.Context, requester marketplace.Account, id string, update marketplace.TaskUpdate) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE marketplace_tasks SET
  title = CASE WHEN $3 = '' THEN title ELSE $3 END,
  detail = CASE WHEN $4 = '' THEN detail ELSE $4 END,
  submission_info = CASE WHEN $5 = '' THEN submission_info ELSE $5 END
WHERE task_id=$1 AND buyer_id=$2
`, id, requester.ID, update.Title, update.Detail, update.SubmissionInfo)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM marketplace_tasks WHERE task_id=$1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return marketplace.ErrTaskNotFound
		}
		return marketplace.ErrNotAuthorized
	}
	return nil
}

// DeleteTask removes a task and cascades deletion of its submissions,
// refunding the unconsumed escrow when the owner deletes. Admin
// deletion of another buyer's task is non-refunding.
func (s *PGStore) DeleteTask(ctx context.Context, requester marketplace.Account, id string) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM marketplace_tasks WHERE task_id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, marketplace.ErrTaskNotFound
	}
	if err != nil {
		return 0, err
	}
	if t.BuyerID != requester.ID && requester.Role != marketplace.RoleAdmin {
		return 0, marketplace.ErrNotAuthorized
	}

	var refund int64
	if t.BuyerID == requester.ID {
		refund = int64(t.Capacity) * t.PayableAmount
		if refund > 0 {
			if _, err := tx.Exec(ctx, `UPDATE marketplace_accounts SET balance = balance + $2 WHERE account_id=$1`, t.BuyerID, refund); err != nil {
				return 0, err
			}
		}
	}
	if _, err := tx.Exec(ctx, `DELETE FROM marketplace_submissions WHERE task_id=$1`, id); err != nil {
		return 0, err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM marketplace_tasks WHERE task_id=$1`, id); err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return refund, nil
}

// CreateSubmission consumes a capacity slot and inserts the pending
// submission atomically. The row lock on the task serializes concurrent
// submits; the capacity guard in the UPDATE keeps the counter from
// going below zero; the (task_id, worker_id) unique index rejects a
// second submission by the same worker whatever its status.
func (s *PGStore) CreateSubmission(ctx context.Context, worker marketplace.Account, taskID, details string) (marketplace.Submission, error) {
	if strings.TrimSpace(details) == "" {
		return marketplace.Submission{}, marketplace.ErrValidation
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return marketplace.Submission{}, err
	}
	defer tx.Rollback(ctx)

	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM marketplace_tasks WHERE task_id=$1 FOR UPDATE`, taskID))
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.Submission{}, marketplace.ErrTaskNotFound
	}
	if err != nil {
		return marketplace.Submission{}, err
	}

	tag, err := tx.Exec(ctx, `UPDATE marketplace_tasks SET capacity = capacity - 1 WHERE task_id=$1 AND capacity > 0`, taskID)
	if err != nil {
		return marketplace.Submission{}, err
	}
	if tag.RowsAffected() == 0 {
		return marketplace.Submission{}, marketplace.ErrTaskFull
	}

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
	_, err = tx.Exec(ctx, `
INSERT INTO marketplace_submissions (submission_id, task_id, task_title, worker_id, worker_email, worker_name, buyer_id, buyer_email, buyer_name, details, status, payable_amount, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`, sub.ID, sub.TaskID, sub.TaskTitle, sub.WorkerID, sub.WorkerEmail, sub.WorkerName, sub.BuyerID, sub.BuyerEmail, sub.BuyerName, sub.Details, sub.Status, sub.PayableAmount, sub.CreatedAt)
	if isUniqueViolation(err) {
		return marketplace.Submission{}, marketplace.ErrAlreadySubmitted
	}
	if err != nil {
		return marketplace.Submission{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return marketplace.Submission{}, err
	}
	return sub, nil
}

const submissionColumns = `submission_id, task_id, task_title, worker_id, worker_email, worker_name, buyer_id, buyer_email, buyer_name, details, status, payable_amount, created_at`

func scanSubmission(row pgx.Row) (marketplace.Submission, error) {
	var sub marketplace.Submission
	if err := row.Scan(&sub.ID, &sub.TaskID, &sub.TaskTitle, &sub.WorkerID, &sub.WorkerEmail, &sub.WorkerName, &sub.BuyerID, &sub.BuyerEmail, &sub.BuyerName, &sub.Details, &sub.Status, &sub.PayableAmount, &sub.CreatedAt); err != nil {
		return marketplace.Submission{}, err
	}
	return sub, nil
}

// ListSubmissions returns submissions matching the filter, newest
// first, with the unpaginated total.
func (s *PGStore) ListSubmissions(ctx context.Context, filter marketplace.SubmissionFilter) ([]marketplace.Submission, int, error) {
	where := `
WHERE ($1 = '' OR lower(worker_email) = lower($1))
AND ($2 = '' OR lower(buyer_email) = lower($2))
AND ($3 = '' OR task_id = $3)
AND ($4 = '' OR status = $4)
`
	var total int
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM marketplace_submissions `+where,
		filter.WorkerEmail, filter.BuyerEmail, filter.TaskID, filter.Status).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = total + 1
	}
	rows, err := s.pool.Query(ctx, `
SELECT `+submissionColumns+` FROM marketplace_submissions `+where+`
ORDER BY created_at DESC OFFSET $5 LIMIT $6
`, filter.WorkerEmail, filter.BuyerEmail, filter.TaskID, filter.Status, filter.Offset, limit)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var out []marketplace.Submission
	for rows.Next() {
		sub, err := scanSubmission(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, sub)
	}
	return out, total, rows.Err()
}

// GetSubmission returns a submission by ID.
func (s *PGStore) GetSubmission(ctx context.Context, id string) (marketplace.Submission, error) {
	sub, err := scanSubmission(s.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM marketplace_submissions WHERE submission_id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.Submission{}, marketplace.ErrSubmissionNotFound
	}
	return sub, err
}

// ResolveSubmission settles a pending submission. The status change is
// a compare-and-set from 'pending' so concurrent resolutions apply at
// most one credit or one capacity restoration; credit and restore run
// in the same transaction as the CAS.
func (s *PGStore) ResolveSubmission(ctx context.Context, buyer marketplace.Account, id string, action marketplace.Action) (marketplace.Submission, error) {
	var status string
	switch action {
	case marketplace.ActionApprove:
		status = marketplace.StatusApproved
	case marketplace.ActionReject:
		status = marketplace.StatusRejected
	default:
		return marketplace.Submission{}, marketplace.ErrInvalidAction
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return marketplace.Submission{}, err
	}
	defer tx.Rollback(ctx)

	sub, err := scanSubmission(tx.QueryRow(ctx, `SELECT `+submissionColumns+` FROM marketplace_submissions WHERE submission_id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.Submission{}, marketplace.ErrSubmissionNotFound
	}
	if err != nil {
		return marketplace.Submission{}, err
	}
	if sub.BuyerID != buyer.ID {
		return marketplace.Submission{}, marketplace.ErrNotAuthorized
	}

	tag, err := tx.Exec(ctx, `
UPDATE marketplace_submissions SET status=$2 WHERE submission_id=$1 AND status='pending'
`, id, status)
	if err != nil {
		return marketplace.Submission{}, err
	}
	if tag.RowsAffected() == 0 {
		return marketplace.Submission{}, marketplace.ErrAlreadyProcessed
	}

	switch action {
	case marketplace.ActionApprove:
		// Settlement uses the amount snapshotted at submission time.
		if _, err := tx.Exec(ctx, `UPDATE marketplace_accounts SET balance = balance + $2 WHERE account_id=$1`, sub.WorkerID, sub.PayableAmount); err != nil {
			return marketplace.Submission{}, err
		}
	case marketplace.ActionReject:
		if _, err := tx.Exec(ctx, `
UPDATE marketplace_tasks SET capacity = capacity + 1 WHERE task_id=$1 AND capacity < original_capacity
`, sub.TaskID); err != nil {
			return marketplace.Submission{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return marketplace.Submission{}, err
	}
	sub.Status = status
	return sub, nil
}

// CreateWithdrawal records a pending payout request. The balance is
// checked, not held.
func (s *PGStore) CreateWithdrawal(ctx context.Context, worker marketplace.Account, coins int64, paymentSystem, accountNumber string) (marketplace.Withdrawal, error) {
	if strings.TrimSpace(paymentSystem) == "" || strings.TrimSpace(accountNumber) == "" {
		return marketplace.Withdrawal{}, marketplace.ErrValidation
	}
	if coins < marketplace.WithdrawalMinimum {
		return marketplace.Withdrawal{}, marketplace.ErrBelowMinimum
	}

	var balance int64
	err := s.pool.QueryRow(ctx, `SELECT balance FROM marketplace_accounts WHERE account_id=$1`, worker.ID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.Withdrawal{}, marketplace.ErrAccountNotFound
	}
	if err != nil {
		return marketplace.Withdrawal{}, err
	}
	if balance < coins {
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
	_, err = s.pool.Exec(ctx, `
INSERT INTO marketplace_withdrawals (withdrawal_id, worker_id, worker_email, worker_name, coin_amount, payout_amount, payment_system, account_number, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
`, w.ID, w.WorkerID, w.WorkerEmail, w.WorkerName, w.CoinAmount, w.PayoutAmount.String(), w.PaymentSystem, w.AccountNumber, w.Status, w.CreatedAt)
	if err != nil {
		return marketplace.Withdrawal{}, err
	}
	return w, nil
}

const withdrawalColumns = `withdrawal_id, worker_id, worker_email, worker_name, coin_amount, payout_amount::text, payment_system, account_number, status, created_at`

func scanWithdrawal(row pgx.Row) (marketplace.Withdrawal, error) {
	var w marketplace.Withdrawal
	var payout string
	if err := row.Scan(&w.ID, &w.WorkerID, &w.WorkerEmail, &w.WorkerName, &w.CoinAmount, &payout, &w.PaymentSystem, &w.AccountNumber, &w.Status, &w.CreatedAt); err != nil {
		return marketplace.Withdrawal{}, err
	}
	amount, err := decimal.NewFromString(payout)
	if err != nil {
		return marketplace.Withdrawal{}, err
	}
	w.PayoutAmount = amount
	return w, nil
}

// ListWithdrawals returns withdrawals matching the filter, newest first.
func (s *PGStore) ListWithdrawals(ctx context.Context, filter marketplace.WithdrawalFilter) ([]marketplace.Withdrawal, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+withdrawalColumns+` FROM marketplace_withdrawals
WHERE ($1 = '' OR lower(worker_email) = lower($1))
AND ($2 = '' OR status = $2)
ORDER BY created_at DESC
`, filter.WorkerEmail, filter.Status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.Withdrawal
	for rows.Next() {
		w, err := scanWithdrawal(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// DecideWithdrawal settles a pending withdrawal. Approval re-checks the
// balance through the conditional debit inside the same transaction as
// the status CAS; if the debit finds no coins the whole transaction
// rolls back and the request stays pending.
func (s *PGStore) DecideWithdrawal(ctx context.Context, id string, action marketplace.Action) (marketplace.Withdrawal, error) {
	var status string
	switch action {
	case marketplace.ActionApprove:
		status = marketplace.StatusApproved
	case marketplace.ActionReject:
		status = marketplace.StatusRejected
	default:
		return marketplace.Withdrawal{}, marketplace.ErrInvalidAction
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return marketplace.Withdrawal{}, err
	}
	defer tx.Rollback(ctx)

	w, err := scanWithdrawal(tx.QueryRow(ctx, `SELECT `+withdrawalColumns+` FROM marketplace_withdrawals WHERE withdrawal_id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return marketplace.Withdrawal{}, marketplace.ErrWithdrawalNotFound
	}
	if err != nil {
		return marketplace.Withdrawal{}, err
	}

	tag, err := tx.Exec(ctx, `
UPDATE marketplace_withdrawals SET status=$2 WHERE withdrawal_id=$1 AND status='pending'
`, id, status)
	if err != nil {
		return marketplace.Withdrawal{}, err
	}
	if tag.RowsAffected() == 0 {
		return marketplace.Withdrawal{}, marketplace.ErrAlreadyProcessed
	}

	if action == marketplace.ActionApprove {
		if err := debitTx(ctx, tx, w.WorkerID, w.CoinAmount); err != nil {
			return marketplace.Withdrawal{}, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return marketplace.Withdrawal{}, err
	}
	w.Status = status
	return w, nil
}

// RecordPayment records a completed top-up and credits the buyer in one
// transaction.
func (s *PGStore) RecordPayment(ctx context.Context, buyer marketplace.Account, coinAmount int64, amountPaid string, paymentRef string) (marketplace.Payment, error) {
	if coinAmount <= 0 || strings.TrimSpace(paymentRef) == "" {
		return marketplace.Payment{}, marketplace.ErrValidation
	}
	paid, err := decimal.NewFromString(amountPaid)
	if err != nil {
		return marketplace.Payment{}, marketplace.ErrValidation
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return marketplace.Payment{}, err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE marketplace_accounts SET balance = balance + $2 WHERE account_id=$1`, buyer.ID, coinAmount)
	if err != nil {
		return marketplace.Payment{}, err
	}
	if tag.RowsAffected() == 0 {
		return marketplace.Payment{}, marketplace.ErrAccountNotFound
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
	if _, err := tx.Exec(ctx, `
INSERT INTO marketplace_payments (payment_id, buyer_id, buyer_email, buyer_name, coin_amount, amount_paid, payment_ref, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, p.ID, p.BuyerID, p.BuyerEmail, p.BuyerName, p.CoinAmount, p.AmountPaid.String(), p.PaymentRef, p.CreatedAt); err != nil {
		return marketplace.Payment{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return marketplace.Payment{}, err
	}
	return p, nil
}

// ListPayments returns a buyer's payments, newest first.
func (s *PGStore) ListPayments(ctx context.Context, buyerEmail string) ([]marketplace.Payment, error) {
	rows, err := s.pool.Query(ctx, `
SELECT payment_id, buyer_id, buyer_email, buyer_name, coin_amount, amount_paid::text, payment_ref, created_at
FROM marketplace_payments WHERE lower(buyer_email) = lower($1) ORDER BY created_at DESC
`, buyerEmail)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.Payment
	for rows.Next() {
		var p marketplace.Payment
		var paid string
		if err := rows.Scan(&p.ID, &p.BuyerID, &p.BuyerEmail, &p.BuyerName, &p.CoinAmount, &paid, &p.PaymentRef, &p.CreatedAt); err != nil {
			return nil, err
		}
		amount, err := decimal.NewFromString(paid)
		if err != nil {
			return nil, err
		}
		p.AmountPaid = amount
		out = append(out, p)
	}
	return out, rows.Err()
}

// AppendNotification stores an inbox entry.
func (s *PGStore) AppendNotification(ctx context.Context, n marketplace.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO marketplace_notifications (notification_id, to_email, message, action_route, read, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`, n.ID, n.ToEmail, n.Message, n.ActionRoute, n.Read, n.CreatedAt)
	return err
}

// ListNotifications returns a recipient's inbox, newest first.
func (s *PGStore) ListNotifications(ctx context.Context, toEmail string, limit int) ([]marketplace.Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.pool.Query(ctx, `
SELECT notification_id, to_email, message, action_route, read, created_at
FROM marketplace_notifications WHERE lower(to_email) = lower($1)
ORDER BY created_at DESC LIMIT $2
`, toEmail, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []marketplace.Notification
	for rows.Next() {
		var n marketplace.Notification
		var route *string
		if err := rows.Scan(&n.ID, &n.ToEmail, &n.Message, &route, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		if route != nil {
			n.ActionRoute = *route
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkNotificationRead flags an entry read, scoped to its recipient.
func (s *PGStore) MarkNotificationRead(ctx context.Context, id, toEmail string) error {
	tag, err := s.pool.Exec(ctx, `
UPDATE marketplace_notifications SET read=TRUE WHERE notification_id=$1 AND lower(to_email) = lower($2)
`, id, toEmail)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return marketplace.ErrNotificationNotFound
	}
	return nil
}

// PlatformStats returns the public counters.
func (s *PGStore) PlatformStats(ctx context.Context) (marketplace.PlatformStats, error) {
	var stats marketplace.PlatformStats
	err := s.pool.QueryRow(ctx, `
SELECT
  (SELECT count(*) FROM marketplace_accounts),
  (SELECT count(*) FROM marketplace_tasks),
  (SELECT COALESCE(sum(balance), 0) FROM marketplace_accounts),
  (SELECT count(*) FROM marketplace_submissions WHERE status='approved')
`).Scan(&stats.TotalUsers, &stats.TotalTasks, &stats.TotalCoins, &stats.CompletedTasks)
	return stats, err
}

// AdminStats returns the admin dashboard counters.
func (s *PGStore) AdminStats(ctx context.Context) (marketplace.AdminStats, error) {
	var stats marketplace.AdminStats
	var payments string
	err := s.pool.QueryRow(ctx, `
SELECT
  (SELECT count(*) FROM marketplace_accounts WHERE role='worker'),
  (SELECT count(*) FROM marketplace_accounts WHERE role='buyer'),
  (SELECT COALESCE(sum(balance), 0) FROM marketplace_accounts),
  (SELECT COALESCE(sum(amount_paid), 0)::text FROM marketplace_payments)
`).Scan(&stats.TotalWorkers, &stats.TotalBuyers, &stats.TotalCoins, &payments)
	if err != nil {
		return marketplace.AdminStats{}, err
	}
	stats.TotalPayments, err = decimal.NewFromString(payments)
	return stats, err
}

// WorkerStats returns a worker's dashboard counters.
func (s *PGStore) WorkerStats(ctx context.Context, workerEmail string) (marketplace.WorkerStats, error) {
	var stats marketplace.WorkerStats
	err := s.pool.QueryRow(ctx, `
SELECT
  count(*),
  count(*) FILTER (WHERE status='pending'),
  COALESCE(sum(payable_amount) FILTER (WHERE status='approved'), 0)
FROM marketplace_submissions WHERE lower(worker_email) = lower($1)
`, workerEmail).Scan(&stats.TotalSubmissions, &stats.PendingSubmissions, &stats.TotalEarnings)
	return stats, err
}

// BuyerStats returns a buyer's dashboard counters.
func (s *PGStore) BuyerStats(ctx context.Context, buyerEmail string) (marketplace.BuyerStats, error) {
	var stats marketplace.BuyerStats
	var payments string
	err := s.pool.QueryRow(ctx, `
SELECT
  (SELECT count(*) FROM marketplace_tasks WHERE lower(buyer_email) = lower($1)),
  (SELECT COALESCE(sum(capacity), 0) FROM marketplace_tasks WHERE lower(buyer_email) = lower($1)),
  (SELECT COALESCE(sum(amount_paid), 0)::text FROM marketplace_payments WHERE lower(buyer_email) = lower($1))
`, buyerEmail).Scan(&stats.TotalTasks, &stats.PendingSlots, &payments)
	if err != nil {
		return marketplace.BuyerStats{}, err
	}
	stats.TotalPayments, err = decimal.NewFromString(payments)
	return stats, err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

package marketplace

import (
	"context"

	"microtask-backend/core/marketplace"
)

// Store abstracts marketplace persistence. Both implementations make
// each workflow operation all-or-nothing: the Postgres store wraps the
// steps in a single transaction, the memory store holds its mutex for
// the whole operation. Balance and capacity are only ever mutated
// through guarded conditional updates, never read-then-write.
type Store interface {
	// Accounts
	CreateAccount(ctx context.Context, email, name, photoURL string, role marketplace.Role) (marketplace.Account, error)
	GetAccount(ctx context.Context, id string) (marketplace.Account, error)
	GetAccountByEmail(ctx context.Context, email string) (marketplace.Account, error)
	ListAccounts(ctx context.Context) ([]marketplace.Account, error)
	UpdateAccountRole(ctx context.Context, id string, role marketplace.Role) error
	DeleteAccount(ctx context.Context, id string) error
	TopWorkers(ctx context.Context, limit int) ([]marketplace.Account, error)

	// Ledger
	Credit(ctx context.Context, accountID string, amount int64) error
	Debit(ctx context.Context, accountID string, amount int64) error

	// Task lifecycle
	CreateTask(ctx context.Context, buyer marketplace.Account, draft marketplace.TaskDraft) (marketplace.Task, error)
	ListTasks(ctx context.Context, filter marketplace.TaskFilter) ([]marketplace.Task, error)
	GetTask(ctx context.Context, id string) (marketplace.Task, error)
	UpdateTask(ctx context.Context, requester marketplace.Account, id string, update marketplace.TaskUpdate) error
	DeleteTask(ctx context.Context, requester marketplace.Account, id string) (refund int64, err error)

	// Submission workflow
	CreateSubmission(ctx context.Context, worker marketplace.Account, taskID, details string) (marketplace.Submission, error)
	ListSubmissions(ctx context.Context, filter marketplace.SubmissionFilter) ([]marketplace.Submission, int, error)
	GetSubmission(ctx context.Context, id string) (marketplace.Submission, error)
	ResolveSubmission(ctx context.Context, buyer marketplace.Account, id string, action marketplace.Action) (marketplace.Submission, error)

	// Withdrawal workflow
	CreateWithdrawal(ctx context.Context, worker marketplace.Account, coins int64, paymentSystem, accountNumber string) (marketplace.Withdrawal, error)
	ListWithdrawals(ctx context.Context, filter marketplace.WithdrawalFilter) ([]marketplace.Withdrawal, error)
	DecideWithdrawal(ctx context.Context, id string, action marketplace.Action) (marketplace.Withdrawal, error)

	// Payments
	RecordPayment(ctx context.Context, buyer marketplace.Account, coinAmount int64, amountPaid string, paymentRef string) (marketplace.Payment, error)
	ListPayments(ctx context.Context, buyerEmail string) ([]marketplace.Payment, error)

	// Notifications
	AppendNotification(ctx context.Context, n marketplace.Notification) error
	ListNotifications(ctx context.Context, toEmail string, limit int) ([]marketplace.Notification, error)
	MarkNotificationRead(ctx context.Context, id, toEmail string) error

	// Stats
	PlatformStats(ctx context.Context) (marketplace.PlatformStats, error)
	AdminStats(ctx context.Context) (marketplace.AdminStats, error)
	WorkerStats(ctx context.Context, workerEmail string) (marketplace.WorkerStats, error)
	BuyerStats(ctx context.Context, buyerEmail string) (marketplace.BuyerStats, error)

	Close()
}

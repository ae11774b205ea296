package marketplace

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Economic constants. Coins are integral; payouts convert at a fixed rate.
const (
	BuyerSignupGrant  int64 = 50
	WorkerSignupGrant int64 = 10
	WithdrawalMinimum int64 = 200
	CoinsPerUnit      int64 = 20
)

// Role is the closed set of account roles. Every workflow boundary
// validates through ParseRole so an unknown value can never pass a check.
type Role string

const (
	RoleWorker Role = "worker"
	RoleBuyer  Role = "buyer"
	RoleAdmin  Role = "admin"
)

// ParseRole validates a raw role string against the closed set.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.ToLower(strings.TrimSpace(raw))) {
	case RoleWorker:
		return RoleWorker, nil
	case RoleBuyer:
		return RoleBuyer, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", ErrInvalidRole
	}
}

// SignupGrant returns the coin grant a new account of this role receives.
func (r Role) SignupGrant() int64 {
	switch r {
	case RoleBuyer:
		return BuyerSignupGrant
	case RoleWorker:
		return WorkerSignupGrant
	default:
		return 0
	}
}

// Submission and withdrawal resolution states.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Action is a resolution decision on a pending submission or withdrawal.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// ParseAction validates a raw action string.
func ParseAction(raw string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(raw))) {
	case ActionApprove:
		return ActionApprove, nil
	case ActionReject:
		return ActionReject, nil
	default:
		return "", ErrInvalidAction
	}
}

// Account is a marketplace participant with a coin balance.
type Account struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	PhotoURL  string    `json:"photo_url,omitempty"`
	Role      Role      `json:"role"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a buyer-funded unit of work with remaining worker slots.
// OriginalCapacity is fixed at creation and bounds capacity from above;
// the buyer's escrow equals capacity x payable_amount at any moment.
type Task struct {
	ID               string    `json:"id"`
	BuyerID          string    `json:"buyer_id"`
	BuyerEmail       string    `json:"buyer_email"`
	BuyerName        string    `json:"buyer_name"`
	Title            string    `json:"title"`
	Detail           string    `json:"detail"`
	Capacity         int       `json:"capacity"`
	OriginalCapacity int       `json:"original_capacity"`
	PayableAmount    int64     `json:"payable_amount"`
	Deadline         time.Time `json:"deadline"`
	SubmissionInfo   string    `json:"submission_info"`
	ImageURL         string    `json:"image_url,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// TaskDraft carries the validated fields for task creation.
type TaskDraft struct {
	Title          string    `json:"title"`
	Detail         string    `json:"detail"`
	Capacity       int       `json:"capacity"`
	PayableAmount  int64     `json:"payable_amount"`
	Deadline       time.Time `json:"deadline"`
	SubmissionInfo string    `json:"submission_info"`
	ImageURL       string    `json:"image_url"`
}

// Validate checks all required fields are present and positive.
func (d TaskDraft) Validate() error {
	if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.Detail) == "" || strings.TrimSpace(d.SubmissionInfo) == "" {
		return ErrValidation
	}
	if d.Capacity <= 0 || d.PayableAmount <= 0 || d.Deadline.IsZero() {
		return ErrValidation
	}
	return nil
}

// TaskUpdate carries the fields an owner may edit after creation.
// Capacity, payable amount, and deadline are immutable: they back the
// escrow arithmetic and submission snapshots.
type TaskUpdate struct {
	Title          string `json:"title"`
	Detail         string `json:"detail"`
	SubmissionInfo string `json:"submission_info"`
}

// Submission is one worker's entry against a task. PayableAmount is
// snapshotted at creation and is the settlement amount regardless of
// later task edits.
type Submission struct {
	ID            string    `json:"id"`
	TaskID        string    `json:"task_id"`
	TaskTitle     string    `json:"task_title"`
	WorkerID      string    `json:"worker_id"`
	WorkerEmail   string    `json:"worker_email"`
	WorkerName    string    `json:"worker_name"`
	BuyerID       string    `json:"buyer_id"`
	BuyerEmail    string    `json:"buyer_email"`
	BuyerName     string    `json:"buyer_name"`
	Details       string    `json:"details"`
	Status        string    `json:"status"`
	PayableAmount int64     `json:"payable_amount"`
	CreatedAt     time.Time `json:"created_at"`
}

// Withdrawal is a worker's request to convert coins into an external
// payout. Coins stay spendable until an admin approves; PayoutAmount is
// fixed at CoinAmount / CoinsPerUnit.
type Withdrawal struct {
	ID            string          `json:"id"`
	WorkerID      string          `json:"worker_id"`
	WorkerEmail   string          `json:"worker_email"`
	WorkerName    string          `json:"worker_name"`
	CoinAmount    int64           `json:"coin_amount"`
	PayoutAmount  decimal.Decimal `json:"payout_amount"`
	PaymentSystem string          `json:"payment_system"`
	AccountNumber string          `json:"account_number"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// PayoutFor converts a coin amount to the external payout amount.
func PayoutFor(coins int64) decimal.Decimal {
	return decimal.NewFromInt(coins).Div(decimal.NewFromInt(CoinsPerUnit))
}

// Notification is a durable inbox entry. Emission is best-effort and
// outside the consistency boundary of the operation that triggers it.
type Notification struct {
	ID          string    `json:"id"`
	ToEmail     string    `json:"to_email"`
	Message     string    `json:"message"`
	ActionRoute string    `json:"action_route"`
	Read        bool      `json:"read"`
	CreatedAt   time.Time `json:"created_at"`
}

// Payment records a completed coin top-up by a buyer.
type Payment struct {
	ID         string          `json:"id"`
	BuyerID    string          `json:"buyer_id"`
	BuyerEmail string          `json:"buyer_email"`
	BuyerName  string          `json:"buyer_name"`
	CoinAmount int64           `json:"coin_amount"`
	AmountPaid decimal.Decimal `json:"amount_paid"`
	PaymentRef string          `json:"payment_ref"`
	CreatedAt  time.Time       `json:"created_at"`
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	BuyerEmail string
	OpenOnly   bool
}

// SubmissionFilter narrows submission listings.
type SubmissionFilter struct {
	WorkerEmail string
	BuyerEmail  string
	TaskID      string
	Status      string
	Limit       int
	Offset      int
}

// WithdrawalFilter narrows withdrawal listings.
type WithdrawalFilter struct {
	WorkerEmail string
	Status      string
}

// PlatformStats is the public landing-page counter set.
type PlatformStats struct {
	TotalUsers     int   `json:"total_users"`
	TotalTasks     int   `json:"total_tasks"`
	TotalCoins     int64 `json:"total_coins"`
	CompletedTasks int   `json:"completed_tasks"`
}

// AdminStats summarizes the platform for the admin dashboard.
type AdminStats struct {
	TotalWorkers  int             `json:"total_workers"`
	TotalBuyers   int             `json:"total_buyers"`
	TotalCoins    int64           `json:"total_coins"`
	TotalPayments decimal.Decimal `json:"total_payments"`
}

// WorkerStats summarizes a worker's submissions and earnings.
type WorkerStats struct {
	TotalSubmissions   int   `json:"total_submissions"`
	PendingSubmissions int   `json:"pending_submissions"`
	TotalEarnings      int64 `json:"total_earnings"`
}

// BuyerStats summarizes a buyer's tasks and spending.
type BuyerStats struct {
	TotalTasks    int             `json:"total_tasks"`
	PendingSlots  int             `json:"pending_slots"`
	TotalPayments decimal.Decimal `json:"total_payments"`
}

package marketplace

// Err is a simple string error helper.
type Err string

func (e Err) Error() string { return string(e) }

// Domain error taxonomy. Handlers map these to HTTP statuses; callers
// must treat any of them as "no confirmed state change".
var (
	ErrValidation        = Err("missing or invalid fields")
	ErrInvalidRole       = Err("invalid role")
	ErrInvalidAction     = Err("invalid action, must be approve or reject")
	ErrNotAuthorized     = Err("not authorized")
	ErrInsufficientFunds = Err("insufficient coins")
	ErrTaskFull          = Err("task is full")
	ErrAlreadySubmitted  = Err("already submitted for this task")
	ErrAlreadyProcessed  = Err("already processed")
	ErrBelowMinimum      = Err("below minimum withdrawal of 200 coins")
	ErrAccountNotFound   = Err("account not found")
	ErrAccountExists     = Err("account already exists")
	ErrTaskNotFound      = Err("task not found")
	ErrSubmissionNotFound = Err("submission not found")
	ErrWithdrawalNotFound = Err("withdrawal not found")
	ErrNotificationNotFound = Err("notification not found")
)

package ledger

import "errors"

// Business-rule failures. All of them are recoverable by the caller and
// leave no partial state behind; the atomic unit that raised them rolls
// back completely.
var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrDailyLimitExceeded  = errors.New("daily limit exceeded")
	ErrInvalidRoundState   = errors.New("invalid round state")
	ErrInvalidBetState     = errors.New("invalid bet state")
	ErrTooLate             = errors.New("cash-out after crash")
	ErrAccountNotFound     = errors.New("account not found")
	ErrRoundNotFound       = errors.New("round not found")
	ErrBetNotFound         = errors.New("bet not found")
	ErrNotRevealable       = errors.New("server seed not yet revealable")
)

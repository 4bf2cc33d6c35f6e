package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type BetStatus string

const (
	BetActive    BetStatus = "ACTIVE"
	BetCashedOut BetStatus = "CASHED_OUT"
	BetLost      BetStatus = "LOST"
)

// Terminal reports whether the status admits no further transition.
func (s BetStatus) Terminal() bool {
	return s == BetCashedOut || s == BetLost
}

type Bet struct {
	ID          string           `json:"id"`
	UserID      int64            `json:"user_id"`
	RoundID     string           `json:"round_id"`
	Amount      decimal.Decimal  `json:"amount"`
	AutoCashout *decimal.Decimal `json:"auto_cashout,omitempty"`
	Status      BetStatus        `json:"status"`
	Multiplier  *decimal.Decimal `json:"multiplier,omitempty"` // set at settlement
	Payout      *decimal.Decimal `json:"payout,omitempty"`     // set at settlement
	CreatedAt   time.Time        `json:"created_at"`
	SettledAt   *time.Time       `json:"settled_at,omitempty"`
}

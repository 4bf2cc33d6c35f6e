package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Account represents the accounts table in the database.
// Balance is only ever mutated through ledger transactions.
type Account struct {
	UserID       int64           `json:"user_id"`
	Balance      decimal.Decimal `json:"balance"`
	TotalWagered decimal.Decimal `json:"total_wagered"`
	TotalWon     decimal.Decimal `json:"total_won"`
	TotalLost    decimal.Decimal `json:"total_lost"`
	XP           int64           `json:"xp"`
	Level        int             `json:"level"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// LevelForXP maps accumulated experience to a level, 1000 XP per level.
func LevelForXP(xp int64) int {
	return int(xp/1000) + 1
}

package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TxBetPlaced  TransactionType = "BET_PLACED"
	TxBetWon     TransactionType = "BET_WON"
	TxBetLost    TransactionType = "BET_LOST"
	TxDeposit    TransactionType = "DEPOSIT"
	TxWithdrawal TransactionType = "WITHDRAWAL"
)

// Transaction is an immutable audit record of one balance mutation.
// The ledger appends exactly one row per balance-affecting operation;
// BalanceAfter - BalanceBefore is the signed delta.
type Transaction struct {
	ID            string          `json:"id"`
	UserID        int64           `json:"user_id"`
	Type          TransactionType `json:"type"`
	Amount        decimal.Decimal `json:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	BetID         string          `json:"bet_id,omitempty"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

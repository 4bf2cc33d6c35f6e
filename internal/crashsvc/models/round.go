package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoundStatus string

const (
	RoundBetting RoundStatus = "BETTING"
	RoundRunning RoundStatus = "RUNNING"
	RoundCrashed RoundStatus = "CRASHED"
)

// roundRank orders statuses; transitions must advance by exactly one.
func (s RoundStatus) rank() int {
	switch s {
	case RoundBetting:
		return 0
	case RoundRunning:
		return 1
	case RoundCrashed:
		return 2
	}
	return -1
}

// CanAdvanceTo reports whether next is the legal successor of s.
func (s RoundStatus) CanAdvanceTo(next RoundStatus) bool {
	return next.rank() == s.rank()+1
}

type GameRound struct {
	ID             string          `json:"id"`
	Nonce          int64           `json:"nonce"`
	ServerSeed     string          `json:"-"` // hidden until revealed
	ServerSeedHash string          `json:"server_seed_hash"`
	ClientSeed     string          `json:"client_seed"`
	CrashPoint     decimal.Decimal `json:"-"` // hidden until crash
	Status         RoundStatus     `json:"status"`
	Revealed       bool            `json:"revealed"`
	CreatedAt      time.Time       `json:"created_at"`
	StartedAt      *time.Time      `json:"started_at,omitempty"`
	CrashedAt      *time.Time      `json:"crashed_at,omitempty"`
}

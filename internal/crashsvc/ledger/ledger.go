package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/scrsdk/tonojet-services/internal/crashsvc/models"
)

// Limits are the per-account, per-calendar-day caps enforced alongside
// every wager.
type Limits struct {
	MaxDailyWager decimal.Decimal
	MaxDailyLoss  decimal.Decimal
	MaxDailyGames int
}

type Config struct {
	Limits          Limits
	DisclosureDelay time.Duration // minimum wait after crash before seed reveal
}

func (c Config) withDefaults() Config {
	if c.Limits.MaxDailyWager.IsZero() {
		c.Limits.MaxDailyWager = decimal.NewFromInt(10000)
	}
	if c.Limits.MaxDailyLoss.IsZero() {
		c.Limits.MaxDailyLoss = decimal.NewFromInt(5000)
	}
	if c.Limits.MaxDailyGames == 0 {
		c.Limits.MaxDailyGames = 500
	}
	if c.DisclosureDelay == 0 {
		c.DisclosureDelay = 5 * time.Minute
	}
	return c
}

// Engine is the transactional settlement store. Every mutating method
// runs as one atomic unit: either all of its row changes commit, or
// none do. Implementations must serialize conflicting operations on the
// same account or bet.
type Engine interface {
	// Accounts
	GetOrCreateAccount(ctx context.Context, userID int64) (*models.Account, error)
	GetAccount(ctx context.Context, userID int64) (*models.Account, error)
	// AdjustBalance applies a signed delta, appending the matching
	// DEPOSIT or WITHDRAWAL transaction row in the same unit.
	AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal, description string) (*models.Account, error)

	// Bet lifecycle. PlaceBet debits the stake, creates the ACTIVE bet,
	// appends the BET_PLACED row and bumps the daily wager/games
	// counters, all in one unit. CashOut and SettleLoss move an ACTIVE
	// bet to its terminal state exactly once; a lost race surfaces as
	// ErrInvalidBetState (cash-out) or a no-op (settle).
	PlaceBet(ctx context.Context, userID int64, roundID string, amount decimal.Decimal, autoCashout *decimal.Decimal) (*models.Bet, error)
	CashOut(ctx context.Context, betID string, multiplier decimal.Decimal) (*models.Bet, error)
	SettleLoss(ctx context.Context, betID string, crashPoint decimal.Decimal) (bet *models.Bet, settled bool, err error)
	GetBet(ctx context.Context, betID string) (*models.Bet, error)
	ActiveBets(ctx context.Context, roundID string) ([]*models.Bet, error)

	// Rounds
	CreateRound(ctx context.Context, round *models.GameRound) error
	GetRound(ctx context.Context, roundID string) (*models.GameRound, error)
	// SetRoundStatus advances the round status by exactly one step;
	// anything else is ErrInvalidRoundState.
	SetRoundStatus(ctx context.Context, roundID string, status models.RoundStatus) (*models.GameRound, error)
	// RevealRound marks the server seed public, only once the round has
	// crashed and the disclosure delay has elapsed at the given time.
	RevealRound(ctx context.Context, roundID string, now time.Time) (*models.GameRound, error)
	MaxNonce(ctx context.Context) (int64, error)

	// Audit reads
	DailyUsage(ctx context.Context, userID int64, day string) (*models.DailyLimit, error)
	TransactionsForAccount(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error)
}

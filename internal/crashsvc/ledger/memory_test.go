package ledger_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrsdk/tonojet-services/internal/crashsvc/ledger"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/models"
)

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newEngine(t *testing.T, cfg ledger.Config) *ledger.Memory {
	t.Helper()
	return ledger.NewMemory(cfg)
}

// fundedAccount creates an account and deposits the given amount.
func fundedAccount(t *testing.T, eng ledger.Engine, userID, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := eng.GetOrCreateAccount(ctx, userID)
	require.NoError(t, err)
	_, err = eng.AdjustBalance(ctx, userID, dec(amount), "test deposit")
	require.NoError(t, err)
}

func bettingRound(t *testing.T, eng ledger.Engine, crashPoint string) *models.GameRound {
	t.Helper()
	cp, err := decimal.NewFromString(crashPoint)
	require.NoError(t, err)
	round := &models.GameRound{
		ID:             uuid.New().String(),
		Nonce:          1,
		ServerSeed:     "seed",
		ServerSeedHash: "hash",
		ClientSeed:     "client",
		CrashPoint:     cp,
		Status:         models.RoundBetting,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, eng.CreateRound(context.Background(), round))
	return round
}

func advanceToCrashed(t *testing.T, eng ledger.Engine, roundID string) {
	t.Helper()
	ctx := context.Background()
	_, err := eng.SetRoundStatus(ctx, roundID, models.RoundRunning)
	require.NoError(t, err)
	_, err = eng.SetRoundStatus(ctx, roundID, models.RoundCrashed)
	require.NoError(t, err)
}

func TestPlaceBetDebitsStake(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})
	fundedAccount(t, eng, 1, 1000)
	round := bettingRound(t, eng, "2.00")

	bet, err := eng.PlaceBet(ctx, 1, round.ID, dec(500), nil)
	require.NoError(t, err)
	assert.Equal(t, models.BetActive, bet.Status)

	a, err := eng.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec(500)), "balance %s", a.Balance)
	assert.True(t, a.TotalWagered.Equal(dec(500)))

	txs, err := eng.TransactionsForAccount(ctx, 1, 0)
	require.NoError(t, err)
	require.Len(t, txs, 2) // deposit + bet placed
	assert.Equal(t, models.TxBetPlaced, txs[0].Type)
	assert.Equal(t, bet.ID, txs[0].BetID)

	day := time.Now().Format(models.DayFormat)
	dl, err := eng.DailyUsage(ctx, 1, day)
	require.NoError(t, err)
	assert.True(t, dl.Wagered.Equal(dec(500)))
	assert.Equal(t, 1, dl.Games)
}

func TestCashOutThenSettleLossIsNoOp(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})
	fundedAccount(t, eng, 1, 1000)
	round := bettingRound(t, eng, "3.00")

	bet, err := eng.PlaceBet(ctx, 1, round.ID, dec(500), nil)
	require.NoError(t, err)

	_, err = eng.SetRoundStatus(ctx, round.ID, models.RoundRunning)
	require.NoError(t, err)

	out, err := eng.CashOut(ctx, bet.ID, decimal.RequireFromString("2.0"))
	require.NoError(t, err)
	assert.Equal(t, models.BetCashedOut, out.Status)
	require.NotNil(t, out.Payout)
	assert.True(t, out.Payout.Equal(dec(1000)), "payout %s", out.Payout)

	a, err := eng.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec(1500)), "balance %s", a.Balance)

	// loss settlement after cash-out must not touch anything
	settled, changed, err := eng.SettleLoss(ctx, bet.ID, decimal.RequireFromString("3.0"))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.BetCashedOut, settled.Status)

	a, err = eng.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec(1500)))
}

func TestSettleLossKeepsStakeDebited(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})
	fundedAccount(t, eng, 1, 1000)
	round := bettingRound(t, eng, "3.00")

	bet, err := eng.PlaceBet(ctx, 1, round.ID, dec(500), nil)
	require.NoError(t, err)
	advanceToCrashed(t, eng, round.ID)

	lost, changed, err := eng.SettleLoss(ctx, bet.ID, decimal.RequireFromString("3.0"))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.BetLost, lost.Status)

	a, err := eng.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec(500)), "no further deduction, balance %s", a.Balance)
	assert.True(t, a.TotalLost.Equal(dec(500)))

	day := time.Now().Format(models.DayFormat)
	dl, err := eng.DailyUsage(ctx, 1, day)
	require.NoError(t, err)
	assert.True(t, dl.Lost.Equal(dec(500)))
}

func TestCashOutAfterCrashBelowPoint(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})
	fundedAccount(t, eng, 1, 1000)
	round := bettingRound(t, eng, "2.00")

	bet, err := eng.PlaceBet(ctx, 1, round.ID, dec(100), nil)
	require.NoError(t, err)
	advanceToCrashed(t, eng, round.ID)

	// requested above the crash point: the race was lost
	_, err = eng.CashOut(ctx, bet.ID, decimal.RequireFromString("3.0"))
	assert.ErrorIs(t, err, ledger.ErrTooLate)

	// at or below the crash point the cash-out was timely
	out, err := eng.CashOut(ctx, bet.ID, decimal.RequireFromString("1.5"))
	require.NoError(t, err)
	assert.Equal(t, models.BetCashedOut, out.Status)
}

func TestDuplicateCashOut(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})
	fundedAccount(t, eng, 1, 1000)
	round := bettingRound(t, eng, "5.00")

	bet, err := eng.PlaceBet(ctx, 1, round.ID, dec(100), nil)
	require.NoError(t, err)
	_, err = eng.SetRoundStatus(ctx, round.ID, models.RoundRunning)
	require.NoError(t, err)

	_, err = eng.CashOut(ctx, bet.ID, decimal.RequireFromString("2.0"))
	require.NoError(t, err)

	_, err = eng.CashOut(ctx, bet.ID, decimal.RequireFromString("2.0"))
	assert.ErrorIs(t, err, ledger.ErrInvalidBetState)
}

func TestPlaceBetOutsideBettingWindow(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})
	fundedAccount(t, eng, 1, 1000)
	round := bettingRound(t, eng, "2.00")

	_, err := eng.SetRoundStatus(ctx, round.ID, models.RoundRunning)
	require.NoError(t, err)

	_, err = eng.PlaceBet(ctx, 1, round.ID, dec(100), nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidRoundState)
}

func TestInsufficientBalance(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})
	fundedAccount(t, eng, 1, 100)
	round := bettingRound(t, eng, "2.00")

	_, err := eng.PlaceBet(ctx, 1, round.ID, dec(200), nil)
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	// nothing was persisted for the failed attempt
	a, err := eng.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec(100)))
	bets, err := eng.ActiveBets(ctx, round.ID)
	require.NoError(t, err)
	assert.Empty(t, bets)
}

func TestConcurrentOverdraw(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})
	fundedAccount(t, eng, 1, 100)
	round := bettingRound(t, eng, "2.00")

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := eng.PlaceBet(ctx, 1, round.ID, dec(60), nil); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	// only one 60 fits in a balance of 100
	assert.Equal(t, 1, successes)
	a, err := eng.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec(40)), "balance %s", a.Balance)
}

func TestDailyWagerLimitRace(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{
		Limits: ledger.Limits{MaxDailyWager: dec(100)},
	})
	fundedAccount(t, eng, 1, 1000)
	round := bettingRound(t, eng, "2.00")

	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0
	var failure error
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := eng.PlaceBet(ctx, 1, round.ID, dec(60), nil)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				successes++
			} else {
				failure = err
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.ErrorIs(t, failure, ledger.ErrDailyLimitExceeded)
}

func TestDailyGamesCap(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{
		Limits: ledger.Limits{MaxDailyGames: 2},
	})
	fundedAccount(t, eng, 1, 1000)
	round := bettingRound(t, eng, "2.00")

	for i := 0; i < 2; i++ {
		_, err := eng.PlaceBet(ctx, 1, round.ID, dec(10), nil)
		require.NoError(t, err)
	}
	_, err := eng.PlaceBet(ctx, 1, round.ID, dec(10), nil)
	assert.ErrorIs(t, err, ledger.ErrDailyLimitExceeded)
}

func TestExactlyOnceSettlement(t *testing.T) {
	ctx := context.Background()

	// race cash-out against loss settlement many times; exactly one
	// side must win every time
	for i := 0; i < 50; i++ {
		eng := newEngine(t, ledger.Config{})
		fundedAccount(t, eng, 1, 1000)
		round := bettingRound(t, eng, "2.00")

		bet, err := eng.PlaceBet(ctx, 1, round.ID, dec(100), nil)
		require.NoError(t, err)
		advanceToCrashed(t, eng, round.ID)

		var wg sync.WaitGroup
		var cashErr error
		var lossSettled bool
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cashErr = eng.CashOut(ctx, bet.ID, decimal.RequireFromString("1.5"))
		}()
		go func() {
			defer wg.Done()
			_, lossSettled, _ = eng.SettleLoss(ctx, bet.ID, decimal.RequireFromString("2.0"))
		}()
		wg.Wait()

		cashWon := cashErr == nil
		require.NotEqual(t, cashWon, lossSettled, "exactly one resolution must win")

		a, err := eng.GetAccount(ctx, 1)
		require.NoError(t, err)
		if cashWon {
			assert.True(t, a.Balance.Equal(dec(1050)), "balance %s", a.Balance)
		} else {
			assert.True(t, a.Balance.Equal(dec(900)), "balance %s", a.Balance)
		}
	}
}

func TestLedgerConservation(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})
	fundedAccount(t, eng, 1, 1000)
	round := bettingRound(t, eng, "4.00")

	bet1, err := eng.PlaceBet(ctx, 1, round.ID, dec(300), nil)
	require.NoError(t, err)
	bet2, err := eng.PlaceBet(ctx, 1, round.ID, dec(200), nil)
	require.NoError(t, err)

	_, err = eng.SetRoundStatus(ctx, round.ID, models.RoundRunning)
	require.NoError(t, err)
	_, err = eng.CashOut(ctx, bet1.ID, decimal.RequireFromString("2.0"))
	require.NoError(t, err)
	_, err = eng.SetRoundStatus(ctx, round.ID, models.RoundCrashed)
	require.NoError(t, err)
	_, _, err = eng.SettleLoss(ctx, bet2.ID, decimal.RequireFromString("4.0"))
	require.NoError(t, err)

	// sum of recorded deltas must equal the balance movement
	txs, err := eng.TransactionsForAccount(ctx, 1, 0)
	require.NoError(t, err)
	sum := decimal.Zero
	for _, tx := range txs {
		sum = sum.Add(tx.BalanceAfter.Sub(tx.BalanceBefore))
	}

	a, err := eng.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, sum.Equal(a.Balance), "tx deltas %s vs balance %s", sum, a.Balance)
}

func TestAdjustBalanceNeverNegative(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})
	fundedAccount(t, eng, 1, 50)

	_, err := eng.AdjustBalance(ctx, 1, dec(-100), "too large withdrawal")
	assert.ErrorIs(t, err, ledger.ErrInsufficientBalance)

	a, err := eng.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec(50)))
}

func TestRoundStatusMonotonic(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})
	round := bettingRound(t, eng, "2.00")

	// no skipping
	_, err := eng.SetRoundStatus(ctx, round.ID, models.RoundCrashed)
	assert.ErrorIs(t, err, ledger.ErrInvalidRoundState)

	_, err = eng.SetRoundStatus(ctx, round.ID, models.RoundRunning)
	require.NoError(t, err)

	// no regressing
	_, err = eng.SetRoundStatus(ctx, round.ID, models.RoundBetting)
	assert.ErrorIs(t, err, ledger.ErrInvalidRoundState)

	_, err = eng.SetRoundStatus(ctx, round.ID, models.RoundCrashed)
	require.NoError(t, err)
	_, err = eng.SetRoundStatus(ctx, round.ID, models.RoundRunning)
	assert.ErrorIs(t, err, ledger.ErrInvalidRoundState)
}

func TestRevealGating(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{DisclosureDelay: 5 * time.Minute})
	round := bettingRound(t, eng, "2.00")

	_, err := eng.RevealRound(ctx, round.ID, time.Now())
	assert.ErrorIs(t, err, ledger.ErrNotRevealable)

	advanceToCrashed(t, eng, round.ID)

	_, err = eng.RevealRound(ctx, round.ID, time.Now())
	assert.ErrorIs(t, err, ledger.ErrNotRevealable)

	revealed, err := eng.RevealRound(ctx, round.ID, time.Now().Add(10*time.Minute))
	require.NoError(t, err)
	assert.True(t, revealed.Revealed)
	assert.Equal(t, "seed", revealed.ServerSeed)
}

func TestAccountNotFound(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})

	_, err := eng.GetAccount(ctx, 42)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	round := bettingRound(t, eng, "2.00")
	_, err = eng.PlaceBet(ctx, 42, round.ID, dec(10), nil)
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)
}

func TestMaxNonce(t *testing.T) {
	ctx := context.Background()
	eng := newEngine(t, ledger.Config{})

	n, err := eng.MaxNonce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	bettingRound(t, eng, "2.00")
	r2 := &models.GameRound{ID: uuid.New().String(), Nonce: 7, Status: models.RoundBetting, CreatedAt: time.Now()}
	require.NoError(t, eng.CreateRound(ctx, r2))

	n, err = eng.MaxNonce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(7), n)
}

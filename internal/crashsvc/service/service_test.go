package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrsdk/tonojet-services/internal/crashsvc/fair"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/ledger"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/models"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/service"
)

// recorder captures published events in order instead of hitting NATS.
type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) Publish(subject, eventType string, payload interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, eventType)
	return nil
}

func (r *recorder) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) count(eventType string) int {
	n := 0
	for _, e := range r.all() {
		if e == eventType {
			n++
		}
	}
	return n
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func setup(t *testing.T, cfg ledger.Config) (*ledger.Memory, *service.BetService, *recorder) {
	t.Helper()
	eng := ledger.NewMemory(cfg)
	rec := &recorder{}
	return eng, service.NewBetService(eng, rec), rec
}

func fund(t *testing.T, eng ledger.Engine, userID, amount int64) {
	t.Helper()
	ctx := context.Background()
	_, err := eng.GetOrCreateAccount(ctx, userID)
	require.NoError(t, err)
	_, err = eng.AdjustBalance(ctx, userID, dec(amount), "test deposit")
	require.NoError(t, err)
}

func TestBetServicePublishesLifecycleEvents(t *testing.T) {
	ctx := context.Background()
	eng, bets, rec := setup(t, ledger.Config{})
	fund(t, eng, 1, 1000)

	round := &models.GameRound{ID: "r1", Nonce: 1, CrashPoint: decimal.RequireFromString("3.00"), Status: models.RoundBetting, CreatedAt: time.Now()}
	require.NoError(t, eng.CreateRound(ctx, round))

	bet, err := bets.PlaceBet(ctx, 1, round.ID, dec(500), nil)
	require.NoError(t, err)

	_, err = eng.SetRoundStatus(ctx, round.ID, models.RoundRunning)
	require.NoError(t, err)

	_, err = bets.CashOut(ctx, bet.ID, decimal.RequireFromString("2.0"))
	require.NoError(t, err)

	// a retried loss settlement on the cashed-out bet publishes nothing
	_, err = bets.SettleLoss(ctx, bet.ID, decimal.RequireFromString("3.0"))
	require.NoError(t, err)

	assert.Equal(t, []string{"bet-placed", "bet-cashed-out"}, rec.all())
}

func TestBetServiceLossEventOnlyOnce(t *testing.T) {
	ctx := context.Background()
	eng, bets, rec := setup(t, ledger.Config{})
	fund(t, eng, 1, 1000)

	round := &models.GameRound{ID: "r1", Nonce: 1, CrashPoint: decimal.RequireFromString("2.00"), Status: models.RoundBetting, CreatedAt: time.Now()}
	require.NoError(t, eng.CreateRound(ctx, round))

	bet, err := bets.PlaceBet(ctx, 1, round.ID, dec(100), nil)
	require.NoError(t, err)

	_, err = eng.SetRoundStatus(ctx, round.ID, models.RoundRunning)
	require.NoError(t, err)
	_, err = eng.SetRoundStatus(ctx, round.ID, models.RoundCrashed)
	require.NoError(t, err)

	_, err = bets.SettleLoss(ctx, bet.ID, round.CrashPoint)
	require.NoError(t, err)
	_, err = bets.SettleLoss(ctx, bet.ID, round.CrashPoint)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.count("bet-lost"))
}

func newRoundService(t *testing.T, eng ledger.Engine, bets *service.BetService, rec *recorder, cfg service.RoundConfig) *service.RoundService {
	t.Helper()
	rs, err := service.NewRoundService(context.Background(), eng, fair.New(fair.Config{}), bets, rec, cfg)
	require.NoError(t, err)
	return rs
}

func TestOpenRoundPublishesCommitmentNotSeed(t *testing.T) {
	ctx := context.Background()
	eng, bets, rec := setup(t, ledger.Config{})
	rs := newRoundService(t, eng, bets, rec, service.RoundConfig{})

	round, err := rs.OpenRound(ctx, "player-seed")
	require.NoError(t, err)
	assert.Equal(t, models.RoundBetting, round.Status)
	assert.Equal(t, int64(1), round.Nonce)
	assert.NotEmpty(t, round.ServerSeedHash)
	assert.Equal(t, "player-seed", round.ClientSeed)
	assert.Equal(t, []string{"round-opened"}, rec.all())

	// nonce sequence is monotonic
	second, err := rs.OpenRound(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Nonce)
}

func TestNonceSeededFromStore(t *testing.T) {
	ctx := context.Background()
	eng, bets, rec := setup(t, ledger.Config{})

	existing := &models.GameRound{ID: "old", Nonce: 41, Status: models.RoundCrashed, CreatedAt: time.Now()}
	require.NoError(t, eng.CreateRound(ctx, existing))

	rs := newRoundService(t, eng, bets, rec, service.RoundConfig{})
	round, err := rs.OpenRound(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, int64(42), round.Nonce)
}

func TestCrashRoundResolvesAllOpenBets(t *testing.T) {
	ctx := context.Background()
	eng, bets, rec := setup(t, ledger.Config{})
	fund(t, eng, 1, 1000)
	fund(t, eng, 2, 1000)
	fund(t, eng, 3, 1000)

	round := &models.GameRound{ID: "r1", Nonce: 1, CrashPoint: decimal.RequireFromString("3.00"), Status: models.RoundBetting, CreatedAt: time.Now()}
	require.NoError(t, eng.CreateRound(ctx, round))
	rs := newRoundService(t, eng, bets, rec, service.RoundConfig{})

	lowAuto := decimal.RequireFromString("2.00")  // under the crash point, wins
	highAuto := decimal.RequireFromString("5.00") // over it, loses

	winner, err := bets.PlaceBet(ctx, 1, round.ID, dec(100), &lowAuto)
	require.NoError(t, err)
	loserAuto, err := bets.PlaceBet(ctx, 2, round.ID, dec(100), &highAuto)
	require.NoError(t, err)
	loserPlain, err := bets.PlaceBet(ctx, 3, round.ID, dec(100), nil)
	require.NoError(t, err)

	_, err = rs.StartRound(ctx, round.ID)
	require.NoError(t, err)
	_, err = rs.CrashRound(ctx, round.ID)
	require.NoError(t, err)

	b, err := eng.GetBet(ctx, winner.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BetCashedOut, b.Status)
	require.NotNil(t, b.Payout)
	assert.True(t, b.Payout.Equal(dec(200)))

	b, err = eng.GetBet(ctx, loserAuto.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BetLost, b.Status)

	b, err = eng.GetBet(ctx, loserPlain.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BetLost, b.Status)

	a, err := eng.GetAccount(ctx, 1)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(dec(1100)), "balance %s", a.Balance)

	assert.Equal(t, 1, rec.count("bet-cashed-out"))
	assert.Equal(t, 2, rec.count("bet-lost"))
	assert.Equal(t, 1, rec.count("round-crashed"))
}

func TestRevealAfterDisclosureDelay(t *testing.T) {
	ctx := context.Background()
	eng := ledger.NewMemory(ledger.Config{DisclosureDelay: 10 * time.Millisecond})
	rec := &recorder{}
	bets := service.NewBetService(eng, rec)
	rs := newRoundService(t, eng, bets, rec, service.RoundConfig{DisclosureDelay: 10 * time.Millisecond})

	round, err := rs.OpenRound(ctx, "")
	require.NoError(t, err)
	_, err = rs.StartRound(ctx, round.ID)
	require.NoError(t, err)
	_, err = rs.CrashRound(ctx, round.ID)
	require.NoError(t, err)

	// too early
	_, err = rs.RevealRound(ctx, round.ID)
	assert.ErrorIs(t, err, ledger.ErrNotRevealable)

	time.Sleep(20 * time.Millisecond)

	revealed, err := rs.RevealRound(ctx, round.ID)
	require.NoError(t, err)
	assert.True(t, revealed.Revealed)

	// the revealed seed verifies the published crash point
	cp, _ := revealed.CrashPoint.Float64()
	e := fair.New(fair.Config{})
	assert.True(t, e.Verify(revealed.ServerSeed, revealed.ClientSeed, revealed.Nonce, cp))
	assert.Equal(t, 1, rec.count("seed-revealed"))
}

func TestPlaceBetRejectedAfterStart(t *testing.T) {
	ctx := context.Background()
	eng, bets, rec := setup(t, ledger.Config{})
	fund(t, eng, 1, 1000)
	rs := newRoundService(t, eng, bets, rec, service.RoundConfig{})

	round, err := rs.OpenRound(ctx, "")
	require.NoError(t, err)
	_, err = rs.StartRound(ctx, round.ID)
	require.NoError(t, err)

	_, err = bets.PlaceBet(ctx, 1, round.ID, dec(100), nil)
	assert.ErrorIs(t, err, ledger.ErrInvalidRoundState)
}

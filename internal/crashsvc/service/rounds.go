package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/scrsdk/tonojet-services/internal/comm"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/broker"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/fair"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/ledger"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/models"
)

type RoundConfig struct {
	BettingWindow   time.Duration // how long a round accepts bets
	TickInterval    time.Duration // multiplier climbs 0.01 per tick while running
	DisclosureDelay time.Duration // wait after crash before revealing the seed
}

func (c RoundConfig) withDefaults() RoundConfig {
	if c.BettingWindow == 0 {
		c.BettingWindow = 10 * time.Second
	}
	if c.TickInterval == 0 {
		c.TickInterval = 100 * time.Millisecond
	}
	if c.DisclosureDelay == 0 {
		c.DisclosureDelay = 5 * time.Minute
	}
	return c
}

// RoundService coordinates one round at a time: fairness outcome,
// betting window, crash resolution, delayed seed reveal. The nonce
// sequence is owned here and never reused.
type RoundService struct {
	engine ledger.Engine
	fair   *fair.Engine
	bets   *BetService
	pub    broker.Publisher
	cfg    RoundConfig
	nonce  atomic.Int64
}

func NewRoundService(ctx context.Context, engine ledger.Engine, fairEngine *fair.Engine, bets *BetService, pub broker.Publisher, cfg RoundConfig) (*RoundService, error) {
	s := &RoundService{
		engine: engine,
		fair:   fairEngine,
		bets:   bets,
		pub:    pub,
		cfg:    cfg.withDefaults(),
	}
	max, err := engine.MaxNonce(ctx)
	if err != nil {
		return nil, err
	}
	s.nonce.Store(max)
	return s, nil
}

func (s *RoundService) publish(eventType string, payload interface{}) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(comm.SubjectRound, eventType, payload); err != nil {
		log.Errorf("publish %s: %v", eventType, err)
	}
}

// OpenRound asks the fairness engine for a fresh outcome and persists
// the round in BETTING. The commitment goes public immediately; the
// seed stays internal until RevealRound.
func (s *RoundService) OpenRound(ctx context.Context, clientSeed string) (*models.GameRound, error) {
	fr := s.fair.GenerateRound(clientSeed, s.nonce.Add(1))

	round := &models.GameRound{
		ID:             uuid.New().String(),
		Nonce:          fr.Nonce,
		ServerSeed:     fr.ServerSeed,
		ServerSeedHash: fr.ServerSeedHash,
		ClientSeed:     fr.ClientSeed,
		CrashPoint:     decimal.NewFromFloat(fr.CrashPoint),
		Status:         models.RoundBetting,
		CreatedAt:      time.Now(),
	}
	if err := s.engine.CreateRound(ctx, round); err != nil {
		return nil, err
	}

	s.publish("round-opened", comm.RoundOpened{
		RoundID:        round.ID,
		ServerSeedHash: round.ServerSeedHash,
		ClientSeed:     round.ClientSeed,
		Nonce:          round.Nonce,
		Timestamp:      time.Now().Unix(),
	})

	return round, nil
}

// StartRound closes the betting window. Placement rejects from here on
// because the status check runs inside placeBet's atomic unit.
func (s *RoundService) StartRound(ctx context.Context, roundID string) (*models.GameRound, error) {
	return s.engine.SetRoundStatus(ctx, roundID, models.RoundRunning)
}

// CrashRound moves the round to CRASHED and resolves every bet still
// active: auto-cashouts at or under the crash point settle as wins at
// their requested multiplier, the rest as losses. Resolution of
// distinct bets is independent; one failing does not stop the others.
func (s *RoundService) CrashRound(ctx context.Context, roundID string) (*models.GameRound, error) {
	round, err := s.engine.SetRoundStatus(ctx, roundID, models.RoundCrashed)
	if err != nil {
		return nil, err
	}

	open, err := s.engine.ActiveBets(ctx, roundID)
	if err != nil {
		return nil, err
	}

	for _, bet := range open {
		if bet.AutoCashout != nil && bet.AutoCashout.LessThanOrEqual(round.CrashPoint) {
			if _, err := s.bets.CashOut(ctx, bet.ID, *bet.AutoCashout); err != nil {
				log.Errorf("auto cash-out bet %s: %v", bet.ID, err)
			}
			continue
		}
		if _, err := s.bets.SettleLoss(ctx, bet.ID, round.CrashPoint); err != nil {
			log.Errorf("settle loss bet %s: %v", bet.ID, err)
		}
	}

	s.publish("round-crashed", comm.RoundCrashed{
		RoundID:    round.ID,
		CrashPoint: round.CrashPoint.StringFixed(2),
		Timestamp:  time.Now().Unix(),
	})

	return round, nil
}

// RevealRound publishes the server seed once the disclosure delay has
// elapsed, completing the provably-fair loop for the round.
func (s *RoundService) RevealRound(ctx context.Context, roundID string) (*models.GameRound, error) {
	round, err := s.engine.RevealRound(ctx, roundID, time.Now())
	if err != nil {
		return nil, err
	}

	s.publish("seed-revealed", comm.SeedRevealed{
		RoundID:        round.ID,
		ServerSeed:     round.ServerSeed,
		ServerSeedHash: round.ServerSeedHash,
		ClientSeed:     round.ClientSeed,
		Nonce:          round.Nonce,
		CrashPoint:     round.CrashPoint.StringFixed(2),
		Timestamp:      time.Now().Unix(),
	})

	return round, nil
}

func (s *RoundService) GetRound(ctx context.Context, roundID string) (*models.GameRound, error) {
	return s.engine.GetRound(ctx, roundID)
}

// runDuration derives the wall-clock time until crash from the
// elapsed-time-to-multiplier curve: 0.01 per tick from 1.00.
func (s *RoundService) runDuration(crashPoint decimal.Decimal) time.Duration {
	cp, _ := crashPoint.Float64()
	ticks := (cp - 1.0) * 100
	if ticks < 0 {
		ticks = 0
	}
	return time.Duration(ticks) * s.cfg.TickInterval
}

// Run drives rounds back to back until the context is canceled. Once a
// round is RUNNING it always runs to CRASHED; infrastructure errors are
// logged and the loop moves on to a fresh round rather than retrying a
// mutating step blindly.
func (s *RoundService) Run(ctx context.Context) error {
	for {
		round, err := s.OpenRound(ctx, "")
		if err != nil {
			log.Errorf("open round: %v", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(5 * time.Second):
				continue
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.BettingWindow):
		}

		if _, err := s.StartRound(ctx, round.ID); err != nil {
			log.Errorf("start round %s: %v", round.ID, err)
			continue
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.runDuration(round.CrashPoint)):
		}

		if _, err := s.CrashRound(ctx, round.ID); err != nil {
			log.Errorf("crash round %s: %v", round.ID, err)
			continue
		}

		go s.scheduleReveal(ctx, round.ID)
	}
}

func (s *RoundService) scheduleReveal(ctx context.Context, roundID string) {
	select {
	case <-ctx.Done():
		return
	case <-time.After(s.cfg.DisclosureDelay):
	}
	if _, err := s.RevealRound(ctx, roundID); err != nil {
		log.Errorf("reveal round %s: %v", roundID, err)
	}
}

package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/scrsdk/tonojet-services/internal/comm"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/broker"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/ledger"
	"github.com/scrsdk/tonojet-services/internal/crashsvc/models"
)

// BetService owns the bet lifecycle: placement, cash-out, loss. Each
// transition is one ledger atomic unit; the settlement event goes out
// after commit and never affects the unit's outcome.
type BetService struct {
	engine ledger.Engine
	pub    broker.Publisher
}

func NewBetService(engine ledger.Engine, pub broker.Publisher) *BetService {
	return &BetService{engine: engine, pub: pub}
}

func (s *BetService) publish(eventType string, payload interface{}) {
	if s.pub == nil {
		return
	}
	if err := s.pub.Publish(comm.SubjectSettlement, eventType, payload); err != nil {
		log.Errorf("publish %s: %v", eventType, err)
	}
}

func (s *BetService) PlaceBet(ctx context.Context, userID int64, roundID string, amount decimal.Decimal, autoCashout *decimal.Decimal) (*models.Bet, error) {
	bet, err := s.engine.PlaceBet(ctx, userID, roundID, amount, autoCashout)
	if err != nil {
		return nil, err
	}

	ev := comm.BetPlaced{
		UserID:    bet.UserID,
		BetID:     bet.ID,
		RoundID:   bet.RoundID,
		Amount:    bet.Amount.StringFixed(2),
		Timestamp: time.Now().Unix(),
	}
	if bet.AutoCashout != nil {
		ev.AutoCashout = bet.AutoCashout.StringFixed(2)
	}
	s.publish("bet-placed", ev)

	return bet, nil
}

func (s *BetService) CashOut(ctx context.Context, betID string, multiplier decimal.Decimal) (*models.Bet, error) {
	bet, err := s.engine.CashOut(ctx, betID, multiplier)
	if err != nil {
		return nil, err
	}

	s.publish("bet-cashed-out", comm.BetCashedOut{
		UserID:     bet.UserID,
		BetID:      bet.ID,
		RoundID:    bet.RoundID,
		Amount:     bet.Amount.StringFixed(2),
		Multiplier: bet.Multiplier.StringFixed(2),
		Payout:     bet.Payout.StringFixed(2),
		Timestamp:  time.Now().Unix(),
	})

	return bet, nil
}

// SettleLoss marks a still-active bet lost at the crash point. Calling
// it on an already-settled bet is a no-op, so crash resolution can be
// retried safely; the loss event is only published for the call that
// actually transitioned the bet.
func (s *BetService) SettleLoss(ctx context.Context, betID string, crashPoint decimal.Decimal) (*models.Bet, error) {
	bet, settled, err := s.engine.SettleLoss(ctx, betID, crashPoint)
	if err != nil {
		return nil, err
	}
	if !settled {
		return bet, nil
	}

	s.publish("bet-lost", comm.BetLost{
		UserID:     bet.UserID,
		BetID:      bet.ID,
		RoundID:    bet.RoundID,
		Amount:     bet.Amount.StringFixed(2),
		CrashPoint: crashPoint.StringFixed(2),
		Timestamp:  time.Now().Unix(),
	})

	return bet, nil
}

func (s *BetService) GetBet(ctx context.Context, betID string) (*models.Bet, error) {
	return s.engine.GetBet(ctx, betID)
}

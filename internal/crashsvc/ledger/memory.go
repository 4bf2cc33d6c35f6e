package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/scrsdk/tonojet-services/internal/crashsvc/models"
)

// Memory is the in-process ledger engine: one mutex held across each
// whole unit plus an append-only transaction journal. It backs tests
// and the STORE_BACKEND=mem development mode; durability comes from the
// Postgres engine.
type Memory struct {
	mu       sync.Mutex
	cfg      Config
	accounts map[int64]*models.Account
	bets     map[string]*models.Bet
	rounds   map[string]*models.GameRound
	limits   map[string]*models.DailyLimit
	journal  []*models.Transaction
}

var _ Engine = (*Memory)(nil)

func NewMemory(cfg Config) *Memory {
	return &Memory{
		cfg:      cfg.withDefaults(),
		accounts: make(map[int64]*models.Account),
		bets:     make(map[string]*models.Bet),
		rounds:   make(map[string]*models.GameRound),
		limits:   make(map[string]*models.DailyLimit),
	}
}

func limitKey(userID int64, day string) string {
	return fmt.Sprintf("%d|%s", userID, day)
}

func cloneAccount(a *models.Account) *models.Account {
	c := *a
	return &c
}

func cloneBet(b *models.Bet) *models.Bet {
	c := *b
	return &c
}

func cloneRound(r *models.GameRound) *models.GameRound {
	c := *r
	return &c
}

func (m *Memory) GetOrCreateAccount(ctx context.Context, userID int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if a, ok := m.accounts[userID]; ok {
		return cloneAccount(a), nil
	}
	now := time.Now()
	a := &models.Account{
		UserID:    userID,
		Level:     1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.accounts[userID] = a
	return cloneAccount(a), nil
}

func (m *Memory) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return cloneAccount(a), nil
}

// appendTx records the audit row for a balance mutation. Callers hold
// the store lock.
func (m *Memory) appendTx(userID int64, typ models.TransactionType, amount, before, after decimal.Decimal, betID, description string) {
	m.journal = append(m.journal, &models.Transaction{
		ID:            uuid.New().String(),
		UserID:        userID,
		Type:          typ,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  after,
		BetID:         betID,
		Description:   description,
		CreatedAt:     time.Now(),
	})
}

func (m *Memory) AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal, description string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	next := a.Balance.Add(delta)
	if next.IsNegative() {
		return nil, ErrInsufficientBalance
	}

	typ := models.TxDeposit
	if delta.IsNegative() {
		typ = models.TxWithdrawal
	}
	before := a.Balance
	a.Balance = next
	a.UpdatedAt = time.Now()
	m.appendTx(userID, typ, delta.Abs(), before, next, "", description)

	return cloneAccount(a), nil
}

func (m *Memory) dailyRow(userID int64, day string) *models.DailyLimit {
	key := limitKey(userID, day)
	dl, ok := m.limits[key]
	if !ok {
		dl = &models.DailyLimit{UserID: userID, Day: day}
		m.limits[key] = dl
	}
	return dl
}

func (m *Memory) PlaceBet(ctx context.Context, userID int64, roundID string, amount decimal.Decimal, autoCashout *decimal.Decimal) (*models.Bet, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("bet amount must be positive, got %s", amount)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	a, ok := m.accounts[userID]
	if !ok {
		return nil, ErrAccountNotFound
	}
	round, ok := m.rounds[roundID]
	if !ok {
		return nil, ErrRoundNotFound
	}
	if round.Status != models.RoundBetting {
		return nil, fmt.Errorf("%w: round is %s", ErrInvalidRoundState, round.Status)
	}
	if a.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	day := time.Now().Format(models.DayFormat)
	dl := m.dailyRow(userID, day)
	if dl.Wagered.Add(amount).GreaterThan(m.cfg.Limits.MaxDailyWager) {
		return nil, fmt.Errorf("%w: daily wager cap %s", ErrDailyLimitExceeded, m.cfg.Limits.MaxDailyWager)
	}
	if dl.Games+1 > m.cfg.Limits.MaxDailyGames {
		return nil, fmt.Errorf("%w: daily games cap %d", ErrDailyLimitExceeded, m.cfg.Limits.MaxDailyGames)
	}
	if dl.Lost.GreaterThanOrEqual(m.cfg.Limits.MaxDailyLoss) {
		return nil, fmt.Errorf("%w: daily loss cap %s", ErrDailyLimitExceeded, m.cfg.Limits.MaxDailyLoss)
	}

	now := time.Now()
	before := a.Balance
	a.Balance = a.Balance.Sub(amount)
	a.TotalWagered = a.TotalWagered.Add(amount)
	a.XP += amount.IntPart()
	a.Level = models.LevelForXP(a.XP)
	a.UpdatedAt = now

	bet := &models.Bet{
		ID:          uuid.New().String(),
		UserID:      userID,
		RoundID:     roundID,
		Amount:      amount,
		AutoCashout: autoCashout,
		Status:      models.BetActive,
		CreatedAt:   now,
	}
	m.bets[bet.ID] = bet

	m.appendTx(userID, models.TxBetPlaced, amount, before, a.Balance, bet.ID,
		fmt.Sprintf("bet placed on round %s", roundID))

	dl.Wagered = dl.Wagered.Add(amount)
	dl.Games++

	return cloneBet(bet), nil
}

func (m *Memory) CashOut(ctx context.Context, betID string, multiplier decimal.Decimal) (*models.Bet, error) {
	if multiplier.LessThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("cash-out multiplier must be at least 1.00, got %s", multiplier)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	bet, ok := m.bets[betID]
	if !ok {
		return nil, ErrBetNotFound
	}
	if bet.Status.Terminal() {
		return nil, fmt.Errorf("%w: bet already %s", ErrInvalidBetState, bet.Status)
	}

	round, ok := m.rounds[bet.RoundID]
	if !ok {
		return nil, ErrRoundNotFound
	}
	switch round.Status {
	case models.RoundBetting:
		return nil, fmt.Errorf("%w: round has not started", ErrInvalidRoundState)
	case models.RoundCrashed:
		if multiplier.GreaterThan(round.CrashPoint) {
			return nil, fmt.Errorf("%w: crashed at %s", ErrTooLate, round.CrashPoint)
		}
	}

	a, ok := m.accounts[bet.UserID]
	if !ok {
		return nil, ErrAccountNotFound
	}

	now := time.Now()
	payout := bet.Amount.Mul(multiplier)
	before := a.Balance
	a.Balance = a.Balance.Add(payout)
	a.TotalWon = a.TotalWon.Add(payout)
	a.UpdatedAt = now

	bet.Status = models.BetCashedOut
	bet.Multiplier = &multiplier
	bet.Payout = &payout
	bet.SettledAt = &now

	m.appendTx(bet.UserID, models.TxBetWon, payout, before, a.Balance, bet.ID,
		fmt.Sprintf("cashed out at %sx", multiplier))

	return cloneBet(bet), nil
}

func (m *Memory) SettleLoss(ctx context.Context, betID string, crashPoint decimal.Decimal) (*models.Bet, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bet, ok := m.bets[betID]
	if !ok {
		return nil, false, ErrBetNotFound
	}
	if bet.Status.Terminal() {
		// tolerate settlement retries
		return cloneBet(bet), false, nil
	}

	a, ok := m.accounts[bet.UserID]
	if !ok {
		return nil, false, ErrAccountNotFound
	}

	now := time.Now()
	bet.Status = models.BetLost
	bet.Multiplier = &crashPoint
	zero := decimal.Zero
	bet.Payout = &zero
	bet.SettledAt = &now

	a.TotalLost = a.TotalLost.Add(bet.Amount)
	a.UpdatedAt = now

	// stake was debited at placement; this row records the loss only
	m.appendTx(bet.UserID, models.TxBetLost, bet.Amount, a.Balance, a.Balance, bet.ID,
		fmt.Sprintf("round crashed at %sx", crashPoint))

	dl := m.dailyRow(bet.UserID, now.Format(models.DayFormat))
	dl.Lost = dl.Lost.Add(bet.Amount)

	return cloneBet(bet), true, nil
}

func (m *Memory) GetBet(ctx context.Context, betID string) (*models.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bet, ok := m.bets[betID]
	if !ok {
		return nil, ErrBetNotFound
	}
	return cloneBet(bet), nil
}

func (m *Memory) ActiveBets(ctx context.Context, roundID string) ([]*models.Bet, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Bet
	for _, b := range m.bets {
		if b.RoundID == roundID && b.Status == models.BetActive {
			out = append(out, cloneBet(b))
		}
	}
	return out, nil
}

func (m *Memory) CreateRound(ctx context.Context, round *models.GameRound) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rounds[round.ID]; ok {
		return fmt.Errorf("round %s already exists", round.ID)
	}
	m.rounds[round.ID] = cloneRound(round)
	return nil
}

func (m *Memory) GetRound(ctx context.Context, roundID string) (*models.GameRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, ok := m.rounds[roundID]
	if !ok {
		return nil, ErrRoundNotFound
	}
	return cloneRound(round), nil
}

func (m *Memory) SetRoundStatus(ctx context.Context, roundID string, status models.RoundStatus) (*models.GameRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, ok := m.rounds[roundID]
	if !ok {
		return nil, ErrRoundNotFound
	}
	if !round.Status.CanAdvanceTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidRoundState, round.Status, status)
	}

	now := time.Now()
	round.Status = status
	switch status {
	case models.RoundRunning:
		round.StartedAt = &now
	case models.RoundCrashed:
		round.CrashedAt = &now
	}
	return cloneRound(round), nil
}

func (m *Memory) RevealRound(ctx context.Context, roundID string, now time.Time) (*models.GameRound, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	round, ok := m.rounds[roundID]
	if !ok {
		return nil, ErrRoundNotFound
	}
	if round.Status != models.RoundCrashed || round.CrashedAt == nil {
		return nil, fmt.Errorf("%w: round is %s", ErrNotRevealable, round.Status)
	}
	if now.Before(round.CrashedAt.Add(m.cfg.DisclosureDelay)) {
		return nil, fmt.Errorf("%w: disclosure delay not elapsed", ErrNotRevealable)
	}
	round.Revealed = true
	return cloneRound(round), nil
}

func (m *Memory) MaxNonce(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var max int64
	for _, r := range m.rounds {
		if r.Nonce > max {
			max = r.Nonce
		}
	}
	return max, nil
}

func (m *Memory) DailyUsage(ctx context.Context, userID int64, day string) (*models.DailyLimit, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if dl, ok := m.limits[limitKey(userID, day)]; ok {
		c := *dl
		return &c, nil
	}
	return &models.DailyLimit{UserID: userID, Day: day}, nil
}

func (m *Memory) TransactionsForAccount(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.Transaction
	for i := len(m.journal) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.journal[i].UserID == userID {
			c := *m.journal[i]
			out = append(out, &c)
		}
	}
	return out, nil
}

package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/scrsdk/tonojet-services/internal/crashsvc/models"
)

// Postgres is the durable ledger engine. Every mutating unit opens one
// transaction, takes the account row lock first (FOR UPDATE) so all
// balance, bet and daily-limit writes for an account are serialized,
// then commits or rolls back as a whole.
type Postgres struct {
	db  *pgxpool.Pool
	cfg Config
}

var _ Engine = (*Postgres)(nil)

func NewPostgres(db *pgxpool.Pool, cfg Config) *Postgres {
	return &Postgres{db: db, cfg: cfg.withDefaults()}
}

const accountColumns = `user_id, balance, total_wagered, total_won, total_lost, xp, level, created_at, updated_at`

func scanAccount(row pgx.Row) (*models.Account, error) {
	a := &models.Account{}
	err := row.Scan(
		&a.UserID,
		&a.Balance,
		&a.TotalWagered,
		&a.TotalWon,
		&a.TotalLost,
		&a.XP,
		&a.Level,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	return a, nil
}

const betColumns = `id, user_id, round_id, amount, auto_cashout, status, multiplier, payout, created_at, settled_at`

func scanBet(row pgx.Row) (*models.Bet, error) {
	b := &models.Bet{}
	var autoCashout, multiplier, payout decimal.NullDecimal
	err := row.Scan(
		&b.ID,
		&b.UserID,
		&b.RoundID,
		&b.Amount,
		&autoCashout,
		&b.Status,
		&multiplier,
		&payout,
		&b.CreatedAt,
		&b.SettledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBetNotFound
		}
		return nil, fmt.Errorf("scan bet: %w", err)
	}
	if autoCashout.Valid {
		b.AutoCashout = &autoCashout.Decimal
	}
	if multiplier.Valid {
		b.Multiplier = &multiplier.Decimal
	}
	if payout.Valid {
		b.Payout = &payout.Decimal
	}
	return b, nil
}

const roundColumns = `id, nonce, server_seed, server_seed_hash, client_seed, crash_point, status, revealed, created_at, started_at, crashed_at`

func scanRound(row pgx.Row) (*models.GameRound, error) {
	r := &models.GameRound{}
	err := row.Scan(
		&r.ID,
		&r.Nonce,
		&r.ServerSeed,
		&r.ServerSeedHash,
		&r.ClientSeed,
		&r.CrashPoint,
		&r.Status,
		&r.Revealed,
		&r.CreatedAt,
		&r.StartedAt,
		&r.CrashedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("scan round: %w", err)
	}
	return r, nil
}

// lockAccount takes the per-account write lock for the rest of the
// transaction. Lock order across all units is account first, then bet,
// then daily-limit row.
func lockAccount(ctx context.Context, tx pgx.Tx, userID int64) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID))
}

func insertTransaction(ctx context.Context, tx pgx.Tx, t *models.Transaction) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO transactions (id, user_id, type, amount, balance_before, balance_after, bet_id, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NULLIF($7, ''), $8, now())
	`, t.ID, t.UserID, t.Type, t.Amount, t.BalanceBefore, t.BalanceAfter, t.BetID, t.Description)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (p *Postgres) GetOrCreateAccount(ctx context.Context, userID int64) (*models.Account, error) {
	_, err := p.db.Exec(ctx, `
		INSERT INTO accounts (user_id, balance, total_wagered, total_won, total_lost, xp, level, created_at, updated_at)
		VALUES ($1, 0, 0, 0, 0, 0, 1, now(), now())
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("create account: %w", err)
	}
	return p.GetAccount(ctx, userID)
}

func (p *Postgres) GetAccount(ctx context.Context, userID int64) (*models.Account, error) {
	return scanAccount(p.db.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = $1
	`, userID))
}

func (p *Postgres) AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal, description string) (*models.Account, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
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
	_, err = tx.Exec(ctx, `
		UPDATE accounts SET balance = $2, updated_at = now() WHERE user_id = $1
	`, userID, next)
	if err != nil {
		return nil, fmt.Errorf("update balance: %w", err)
	}

	err = insertTransaction(ctx, tx, &models.Transaction{
		ID:            uuid.New().String(),
		UserID:        userID,
		Type:          typ,
		Amount:        delta.Abs(),
		BalanceBefore: before,
		BalanceAfter:  next,
		Description:   description,
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return a, nil
}

// lockDailyRow reads today's counters under lock; absent rows come back
// zeroed and are created by the upsert at the end of the unit.
func lockDailyRow(ctx context.Context, tx pgx.Tx, userID int64, day string) (*models.DailyLimit, error) {
	dl := &models.DailyLimit{UserID: userID, Day: day}
	err := tx.QueryRow(ctx, `
		SELECT wagered, lost, games
		FROM daily_limits
		WHERE user_id = $1 AND day = $2
		FOR UPDATE
	`, userID, day).Scan(&dl.Wagered, &dl.Lost, &dl.Games)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("lock daily limits: %w", err)
	}
	return dl, nil
}

func bumpDailyRow(ctx context.Context, tx pgx.Tx, userID int64, day string, wager, loss decimal.Decimal, games int) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO daily_limits (user_id, day, wagered, lost, games)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, day) DO UPDATE SET
			wagered = daily_limits.wagered + EXCLUDED.wagered,
			lost    = daily_limits.lost + EXCLUDED.lost,
			games   = daily_limits.games + EXCLUDED.games
	`, userID, day, wager, loss, games)
	if err != nil {
		return fmt.Errorf("bump daily limits: %w", err)
	}
	return nil
}

func (p *Postgres) PlaceBet(ctx context.Context, userID int64, roundID string, amount decimal.Decimal, autoCashout *decimal.Decimal) (*models.Bet, error) {
	if !amount.IsPositive() {
		return nil, fmt.Errorf("bet amount must be positive, got %s", amount)
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	a, err := lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	// FOR SHARE keeps placements concurrent with each other while
	// blocking a status transition from committing underneath them.
	var status models.RoundStatus
	err = tx.QueryRow(ctx, `
		SELECT status FROM game_rounds WHERE id = $1 FOR SHARE
	`, roundID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("read round: %w", err)
	}
	if status != models.RoundBetting {
		return nil, fmt.Errorf("%w: round is %s", ErrInvalidRoundState, status)
	}

	if a.Balance.LessThan(amount) {
		return nil, ErrInsufficientBalance
	}

	day := time.Now().Format(models.DayFormat)
	dl, err := lockDailyRow(ctx, tx, userID, day)
	if err != nil {
		return nil, err
	}
	if dl.Wagered.Add(amount).GreaterThan(p.cfg.Limits.MaxDailyWager) {
		return nil, fmt.Errorf("%w: daily wager cap %s", ErrDailyLimitExceeded, p.cfg.Limits.MaxDailyWager)
	}
	if dl.Games+1 > p.cfg.Limits.MaxDailyGames {
		return nil, fmt.Errorf("%w: daily games cap %d", ErrDailyLimitExceeded, p.cfg.Limits.MaxDailyGames)
	}
	if dl.Lost.GreaterThanOrEqual(p.cfg.Limits.MaxDailyLoss) {
		return nil, fmt.Errorf("%w: daily loss cap %s", ErrDailyLimitExceeded, p.cfg.Limits.MaxDailyLoss)
	}

	before := a.Balance
	a.Balance = a.Balance.Sub(amount)
	a.TotalWagered = a.TotalWagered.Add(amount)
	a.XP += amount.IntPart()
	a.Level = models.LevelForXP(a.XP)

	_, err = tx.Exec(ctx, `
		UPDATE accounts
		SET balance = $2, total_wagered = $3, xp = $4, level = $5, updated_at = now()
		WHERE user_id = $1
	`, userID, a.Balance, a.TotalWagered, a.XP, a.Level)
	if err != nil {
		return nil, fmt.Errorf("debit stake: %w", err)
	}

	bet := &models.Bet{
		ID:          uuid.New().String(),
		UserID:      userID,
		RoundID:     roundID,
		Amount:      amount,
		AutoCashout: autoCashout,
		Status:      models.BetActive,
		CreatedAt:   time.Now(),
	}
	var auto decimal.NullDecimal
	if autoCashout != nil {
		auto = decimal.NullDecimal{Decimal: *autoCashout, Valid: true}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO bets (id, user_id, round_id, amount, auto_cashout, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
	`, bet.ID, userID, roundID, amount, auto, bet.Status)
	if err != nil {
		return nil, fmt.Errorf("insert bet: %w", err)
	}

	err = insertTransaction(ctx, tx, &models.Transaction{
		ID:            uuid.New().String(),
		UserID:        userID,
		Type:          models.TxBetPlaced,
		Amount:        amount,
		BalanceBefore: before,
		BalanceAfter:  a.Balance,
		BetID:         bet.ID,
		Description:   fmt.Sprintf("bet placed on round %s", roundID),
	})
	if err != nil {
		return nil, err
	}

	if err := bumpDailyRow(ctx, tx, userID, day, amount, decimal.Zero, 1); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return bet, nil
}

func (p *Postgres) CashOut(ctx context.Context, betID string, multiplier decimal.Decimal) (*models.Bet, error) {
	if multiplier.LessThan(decimal.NewFromInt(1)) {
		return nil, fmt.Errorf("cash-out multiplier must be at least 1.00, got %s", multiplier)
	}

	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	err = tx.QueryRow(ctx, `SELECT user_id FROM bets WHERE id = $1`, betID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBetNotFound
		}
		return nil, fmt.Errorf("read bet owner: %w", err)
	}

	a, err := lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, err
	}

	bet, err := scanBet(tx.QueryRow(ctx, `
		SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE
	`, betID))
	if err != nil {
		return nil, err
	}
	if bet.Status.Terminal() {
		return nil, fmt.Errorf("%w: bet already %s", ErrInvalidBetState, bet.Status)
	}

	var roundStatus models.RoundStatus
	var crashPoint decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT status, crash_point FROM game_rounds WHERE id = $1
	`, bet.RoundID).Scan(&roundStatus, &crashPoint)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRoundNotFound
		}
		return nil, fmt.Errorf("read round: %w", err)
	}
	switch roundStatus {
	case models.RoundBetting:
		return nil, fmt.Errorf("%w: round has not started", ErrInvalidRoundState)
	case models.RoundCrashed:
		if multiplier.GreaterThan(crashPoint) {
			return nil, fmt.Errorf("%w: crashed at %s", ErrTooLate, crashPoint)
		}
	}

	payout := bet.Amount.Mul(multiplier)

	tag, err := tx.Exec(ctx, `
		UPDATE bets
		SET status = $2, multiplier = $3, payout = $4, settled_at = now()
		WHERE id = $1 AND status = $5
	`, betID, models.BetCashedOut, multiplier, payout, models.BetActive)
	if err != nil {
		return nil, fmt.Errorf("settle bet: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("%w: bet no longer active", ErrInvalidBetState)
	}

	before := a.Balance
	a.Balance = a.Balance.Add(payout)
	_, err = tx.Exec(ctx, `
		UPDATE accounts
		SET balance = $2, total_won = total_won + $3, updated_at = now()
		WHERE user_id = $1
	`, userID, a.Balance, payout)
	if err != nil {
		return nil, fmt.Errorf("credit payout: %w", err)
	}

	err = insertTransaction(ctx, tx, &models.Transaction{
		ID:            uuid.New().String(),
		UserID:        userID,
		Type:          models.TxBetWon,
		Amount:        payout,
		BalanceBefore: before,
		BalanceAfter:  a.Balance,
		BetID:         betID,
		Description:   fmt.Sprintf("cashed out at %sx", multiplier),
	})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}

	now := time.Now()
	bet.Status = models.BetCashedOut
	bet.Multiplier = &multiplier
	bet.Payout = &payout
	bet.SettledAt = &now
	return bet, nil
}

func (p *Postgres) SettleLoss(ctx context.Context, betID string, crashPoint decimal.Decimal) (*models.Bet, bool, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var userID int64
	err = tx.QueryRow(ctx, `SELECT user_id FROM bets WHERE id = $1`, betID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, ErrBetNotFound
		}
		return nil, false, fmt.Errorf("read bet owner: %w", err)
	}

	a, err := lockAccount(ctx, tx, userID)
	if err != nil {
		return nil, false, err
	}

	bet, err := scanBet(tx.QueryRow(ctx, `
		SELECT `+betColumns+` FROM bets WHERE id = $1 FOR UPDATE
	`, betID))
	if err != nil {
		return nil, false, err
	}
	if bet.Status.Terminal() {
		// tolerate settlement retries
		return bet, false, nil
	}

	zero := decimal.Zero
	_, err = tx.Exec(ctx, `
		UPDATE bets
		SET status = $2, multiplier = $3, payout = 0, settled_at = now()
		WHERE id = $1
	`, betID, models.BetLost, crashPoint)
	if err != nil {
		return nil, false, fmt.Errorf("settle bet: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE accounts SET total_lost = total_lost + $2, updated_at = now() WHERE user_id = $1
	`, userID, bet.Amount)
	if err != nil {
		return nil, false, fmt.Errorf("update loss totals: %w", err)
	}

	// stake was debited at placement; this row records the loss only
	err = insertTransaction(ctx, tx, &models.Transaction{
		ID:            uuid.New().String(),
		UserID:        userID,
		Type:          models.TxBetLost,
		Amount:        bet.Amount,
		BalanceBefore: a.Balance,
		BalanceAfter:  a.Balance,
		BetID:         betID,
		Description:   fmt.Sprintf("round crashed at %sx", crashPoint),
	})
	if err != nil {
		return nil, false, err
	}

	day := time.Now().Format(models.DayFormat)
	if err := bumpDailyRow(ctx, tx, userID, day, decimal.Zero, bet.Amount, 0); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("commit tx: %w", err)
	}

	now := time.Now()
	bet.Status = models.BetLost
	bet.Multiplier = &crashPoint
	bet.Payout = &zero
	bet.SettledAt = &now
	return bet, true, nil
}

func (p *Postgres) GetBet(ctx context.Context, betID string) (*models.Bet, error) {
	return scanBet(p.db.QueryRow(ctx, `
		SELECT `+betColumns+` FROM bets WHERE id = $1
	`, betID))
}

func (p *Postgres) ActiveBets(ctx context.Context, roundID string) ([]*models.Bet, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+betColumns+` FROM bets WHERE round_id = $1 AND status = $2
	`, roundID, models.BetActive)
	if err != nil {
		return nil, fmt.Errorf("query active bets: %w", err)
	}
	defer rows.Close()

	var out []*models.Bet
	for rows.Next() {
		bet, err := scanBet(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, bet)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (p *Postgres) CreateRound(ctx context.Context, round *models.GameRound) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO game_rounds (id, nonce, server_seed, server_seed_hash, client_seed, crash_point, status, revealed, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, false, now())
	`, round.ID, round.Nonce, round.ServerSeed, round.ServerSeedHash, round.ClientSeed, round.CrashPoint, round.Status)
	if err != nil {
		return fmt.Errorf("insert round: %w", err)
	}
	return nil
}

func (p *Postgres) GetRound(ctx context.Context, roundID string) (*models.GameRound, error) {
	return scanRound(p.db.QueryRow(ctx, `
		SELECT `+roundColumns+` FROM game_rounds WHERE id = $1
	`, roundID))
}

func (p *Postgres) SetRoundStatus(ctx context.Context, roundID string, status models.RoundStatus) (*models.GameRound, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	round, err := scanRound(tx.QueryRow(ctx, `
		SELECT `+roundColumns+` FROM game_rounds WHERE id = $1 FOR UPDATE
	`, roundID))
	if err != nil {
		return nil, err
	}
	if !round.Status.CanAdvanceTo(status) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidRoundState, round.Status, status)
	}

	now := time.Now()
	round.Status = status
	var column string
	switch status {
	case models.RoundRunning:
		column = "started_at"
		round.StartedAt = &now
	case models.RoundCrashed:
		column = "crashed_at"
		round.CrashedAt = &now
	}
	_, err = tx.Exec(ctx, `
		UPDATE game_rounds SET status = $2, `+column+` = now() WHERE id = $1
	`, roundID, status)
	if err != nil {
		return nil, fmt.Errorf("update round status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	return round, nil
}

func (p *Postgres) RevealRound(ctx context.Context, roundID string, now time.Time) (*models.GameRound, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	round, err := scanRound(tx.QueryRow(ctx, `
		SELECT `+roundColumns+` FROM game_rounds WHERE id = $1 FOR UPDATE
	`, roundID))
	if err != nil {
		return nil, err
	}
	if round.Status != models.RoundCrashed || round.CrashedAt == nil {
		return nil, fmt.Errorf("%w: round is %s", ErrNotRevealable, round.Status)
	}
	if now.Before(round.CrashedAt.Add(p.cfg.DisclosureDelay)) {
		return nil, fmt.Errorf("%w: disclosure delay not elapsed", ErrNotRevealable)
	}

	_, err = tx.Exec(ctx, `UPDATE game_rounds SET revealed = true WHERE id = $1`, roundID)
	if err != nil {
		return nil, fmt.Errorf("reveal round: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit tx: %w", err)
	}
	round.Revealed = true
	return round, nil
}

func (p *Postgres) MaxNonce(ctx context.Context) (int64, error) {
	var nonce int64
	err := p.db.QueryRow(ctx, `SELECT COALESCE(MAX(nonce), 0) FROM game_rounds`).Scan(&nonce)
	if err != nil {
		return 0, fmt.Errorf("read max nonce: %w", err)
	}
	return nonce, nil
}

func (p *Postgres) DailyUsage(ctx context.Context, userID int64, day string) (*models.DailyLimit, error) {
	dl := &models.DailyLimit{UserID: userID, Day: day}
	err := p.db.QueryRow(ctx, `
		SELECT wagered, lost, games FROM daily_limits WHERE user_id = $1 AND day = $2
	`, userID, day).Scan(&dl.Wagered, &dl.Lost, &dl.Games)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("read daily limits: %w", err)
	}
	return dl, nil
}

func (p *Postgres) TransactionsForAccount(ctx context.Context, userID int64, limit int) ([]*models.Transaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := p.db.Query(ctx, `
		SELECT id, user_id, type, amount, balance_before, balance_after, COALESCE(bet_id, ''), description, created_at
		FROM transactions
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	var out []*models.Transaction
	for rows.Next() {
		t := &models.Transaction{}
		err := rows.Scan(&t.ID, &t.UserID, &t.Type, &t.Amount, &t.BalanceBefore, &t.BalanceAfter, &t.BetID, &t.Description, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

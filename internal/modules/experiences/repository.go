// Package experiences is the durable log of (state, action, outcome) tuples the policy learns from.
//
// Every live decision is recorded at decision time with no reward. The reward is filled in
// exactly once, either inline when the decision closes a position or later by
// ReconcileIncomplete once the linked position has been closed.
package experiences

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/database"
	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/reward"
)

var (
	// ErrNotFound is returned when an experience id does not exist
	ErrNotFound = errors.New("experience not found")
	// ErrRewardConflict is returned when a completed experience is backfilled with a different reward
	ErrRewardConflict = errors.New("experience already completed with a different reward")
)

// rewardTolerance absorbs float round-trips through the database
const rewardTolerance = 1e-12

const experienceColumns = `id, ticker, account_id, strategy, cycle_id, observation, action, trade_id, reward, is_completed, timestamp, completed_at`

// Repository handles training experience persistence
type Repository struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewRepository creates a new experience repository
func NewRepository(db *sql.DB, log zerolog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With().Str("repo", "experiences").Logger(),
		now: time.Now,
	}
}

// Record inserts an experience and returns its id.
// An experience carrying a reward is stored as completed; a trade id alone does not complete it.
func (r *Repository) Record(exp domain.Experience) (int64, error) {
	if strings.TrimSpace(exp.Ticker) == "" {
		return 0, fmt.Errorf("failed to record experience: ticker is required")
	}
	if exp.Action != domain.ActionSell && exp.Action != domain.ActionBuy {
		return 0, fmt.Errorf("failed to record experience: invalid action %d", exp.Action)
	}
	if exp.Reward != nil && math.IsNaN(*exp.Reward) {
		return 0, fmt.Errorf("failed to record experience: reward is NaN")
	}

	obs, err := json.Marshal(exp.Observation)
	if err != nil {
		return 0, fmt.Errorf("failed to encode observation: %w", err)
	}

	ts := exp.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	strategy := exp.Strategy
	if strategy == "" {
		strategy = domain.StrategySortino
	}

	var (
		rewardVal   sql.NullFloat64
		completed   int
		completedAt sql.NullInt64
	)
	if exp.Reward != nil {
		rewardVal = sql.NullFloat64{Float64: *exp.Reward, Valid: true}
		completed = 1
		completedAt = sql.NullInt64{Int64: database.Millis(r.now()), Valid: true}
	}

	res, err := r.db.Exec(`
		INSERT INTO training_experiences
		(ticker, account_id, strategy, cycle_id, observation, action, trade_id, reward, is_completed, timestamp, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		strings.ToUpper(strings.TrimSpace(exp.Ticker)),
		exp.AccountID,
		string(strategy),
		nullString(exp.CycleID),
		string(obs),
		int(exp.Action),
		nullInt64Ptr(exp.TradeID),
		rewardVal,
		completed,
		database.Millis(ts),
		completedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to record experience: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read experience id: %w", err)
	}

	r.log.Debug().
		Int64("experience_id", id).
		Str("ticker", exp.Ticker).
		Str("action", exp.Action.String()).
		Msg("Experience recorded")

	return id, nil
}

// LinkTrade associates an experience with the trade it caused
func (r *Repository) LinkTrade(experienceID, tradeID int64) error {
	res, err := r.db.Exec("UPDATE training_experiences SET trade_id = ? WHERE id = ?", tradeID, experienceID)
	if err != nil {
		return fmt.Errorf("failed to link experience %d to trade %d: %w", experienceID, tradeID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to link experience %d: %w", experienceID, err)
	}
	if n == 0 {
		return fmt.Errorf("experience %d: %w", experienceID, ErrNotFound)
	}
	return nil
}

// BackfillReward completes an experience with its reward.
// Backfilling the same reward again is a no-op; a different reward returns ErrRewardConflict.
func (r *Repository) BackfillReward(experienceID int64, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("invalid reward %v for experience %d", value, experienceID)
	}

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var (
			current   sql.NullFloat64
			completed bool
		)
		err := tx.QueryRow(
			"SELECT reward, is_completed FROM training_experiences WHERE id = ?", experienceID,
		).Scan(&current, &completed)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		if completed {
			if current.Valid && math.Abs(current.Float64-value) <= rewardTolerance {
				return nil
			}
			return ErrRewardConflict
		}

		_, err = tx.Exec(`
			UPDATE training_experiences
			SET reward = ?, is_completed = 1, completed_at = ?
			WHERE id = ? AND is_completed = 0
		`, value, database.Millis(r.now()), experienceID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrRewardConflict) {
			r.log.Error().
				Int64("experience_id", experienceID).
				Float64("reward", value).
				Msg("Refusing to overwrite completed experience reward")
		}
		return fmt.Errorf("failed to backfill experience %d: %w", experienceID, err)
	}
	return nil
}

// LoadOptions filters LoadForTraining
type LoadOptions struct {
	Limit         int
	CompletedOnly bool
	Strategy      domain.Strategy // Empty loads every strategy
	Since         time.Time       // Only experiences completed after this instant; zero disables
}

// LoadForTraining returns experiences most recent first.
// Ties on timestamp are broken by id so the order is deterministic.
func (r *Repository) LoadForTraining(opts LoadOptions) ([]domain.Experience, error) {
	var (
		where []string
		args  []any
	)
	if opts.CompletedOnly {
		where = append(where, "is_completed = 1")
	}
	if opts.Strategy != "" {
		where = append(where, "strategy = ?")
		args = append(args, string(opts.Strategy))
	}
	if !opts.Since.IsZero() {
		where = append(where, "completed_at > ?")
		args = append(args, database.Millis(opts.Since))
	}

	query := "SELECT " + experienceColumns + " FROM training_experiences"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load experiences: %w", err)
	}
	defer rows.Close()

	var out []domain.Experience
	for rows.Next() {
		exp, err := scanExperience(rows)
		if err != nil {
			// Corrupt observations are skipped so one bad row cannot block training
			r.log.Warn().Err(err).Msg("Skipping unreadable experience")
			continue
		}
		out = append(out, exp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating experiences: %w", err)
	}
	return out, nil
}

// GetByID retrieves a single experience
func (r *Repository) GetByID(id int64) (*domain.Experience, error) {
	row := r.db.QueryRow("SELECT "+experienceColumns+" FROM training_experiences WHERE id = ?", id)
	exp, err := scanExperience(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("experience %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get experience %d: %w", id, err)
	}
	return &exp, nil
}

// CountCompleted counts completed experiences for strategy completed after since
func (r *Repository) CountCompleted(strategy domain.Strategy, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(`
		SELECT COUNT(*) FROM training_experiences
		WHERE is_completed = 1 AND strategy = ? AND completed_at > ?
	`, string(strategy), sinceMillis(since)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count experiences: %w", err)
	}
	return count, nil
}

// TickersSince lists the distinct tickers of completed experiences for strategy completed after since
func (r *Repository) TickersSince(strategy domain.Strategy, since time.Time) ([]string, error) {
	rows, err := r.db.Query(`
		SELECT DISTINCT ticker FROM training_experiences
		WHERE is_completed = 1 AND strategy = ? AND completed_at > ?
		ORDER BY ticker
	`, string(strategy), sinceMillis(since))
	if err != nil {
		return nil, fmt.Errorf("failed to list experience tickers: %w", err)
	}
	defer rows.Close()

	var tickers []string
	for rows.Next() {
		var ticker string
		if err := rows.Scan(&ticker); err != nil {
			return nil, fmt.Errorf("failed to scan ticker: %w", err)
		}
		tickers = append(tickers, ticker)
	}
	return tickers, rows.Err()
}

type pendingReward struct {
	experienceID int64
	strategy     domain.Strategy
	openSide     domain.TradeSide
	entry        float64
	exit         float64
}

// ReconcileIncomplete backfills every incomplete experience whose position has been closed.
// An experience qualifies when it is linked to the opener or to the closer of a round trip
// whose closing trade carries a PnL. Returns the number of experiences completed.
//
// Completed rows are never touched, so the sweep is repeatable and safe to run while new
// experiences are being recorded.
func (r *Repository) ReconcileIncomplete(cfg reward.Config) (int, error) {
	rows, err := r.db.Query(`
		SELECT e.id, e.strategy, o.action, o.price, c.price
		FROM training_experiences e
		JOIN trades o ON o.sell_trade_id IS NOT NULL
		             AND (o.id = e.trade_id OR o.sell_trade_id = e.trade_id)
		JOIN trades c ON c.id = o.sell_trade_id
		WHERE e.is_completed = 0 AND c.pnl IS NOT NULL
		ORDER BY e.id
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to find reconcilable experiences: %w", err)
	}

	var pending []pendingReward
	for rows.Next() {
		var (
			p        pendingReward
			strategy string
			side     string
		)
		if err := rows.Scan(&p.experienceID, &strategy, &side, &p.entry, &p.exit); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan reconcilable experience: %w", err)
		}
		p.strategy = domain.Strategy(strategy)
		p.openSide = domain.TradeSide(side)
		pending = append(pending, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, fmt.Errorf("error iterating reconcilable experiences: %w", err)
	}
	rows.Close()

	updated := 0
	for _, p := range pending {
		raw, err := reward.ReturnFor(p.openSide, p.entry, p.exit)
		if err != nil {
			r.log.Warn().Err(err).Int64("experience_id", p.experienceID).Msg("Skipping experience with invalid prices")
			continue
		}
		shaped, err := cfg.Shape(raw, p.strategy)
		if err != nil {
			r.log.Warn().Err(err).Int64("experience_id", p.experienceID).Msg("Skipping experience with unknown strategy")
			continue
		}

		res, err := r.db.Exec(`
			UPDATE training_experiences
			SET reward = ?, is_completed = 1, completed_at = ?
			WHERE id = ? AND is_completed = 0
		`, shaped, database.Millis(r.now()), p.experienceID)
		if err != nil {
			return updated, fmt.Errorf("failed to backfill experience %d: %w", p.experienceID, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			updated++
		}
	}

	r.log.Info().Int("updated", updated).Msg("Reconciled incomplete experiences")
	return updated, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExperience(row scanner) (domain.Experience, error) {
	var (
		exp         domain.Experience
		strategy    string
		cycleID     sql.NullString
		observation string
		action      int
		tradeID     sql.NullInt64
		rewardVal   sql.NullFloat64
		timestamp   int64
		completedAt sql.NullInt64
	)

	err := row.Scan(
		&exp.ID,
		&exp.Ticker,
		&exp.AccountID,
		&strategy,
		&cycleID,
		&observation,
		&action,
		&tradeID,
		&rewardVal,
		&exp.IsCompleted,
		&timestamp,
		&completedAt,
	)
	if err != nil {
		return exp, err
	}

	if err := json.Unmarshal([]byte(observation), &exp.Observation); err != nil {
		return exp, fmt.Errorf("failed to decode observation of experience %d: %w", exp.ID, err)
	}

	exp.Strategy = domain.Strategy(strategy)
	exp.CycleID = cycleID.String
	exp.Action = domain.Action(action)
	exp.Timestamp = database.FromMillis(timestamp)
	if tradeID.Valid {
		exp.TradeID = &tradeID.Int64
	}
	if rewardVal.Valid {
		exp.Reward = &rewardVal.Float64
	}
	if completedAt.Valid {
		t := database.FromMillis(completedAt.Int64)
		exp.CompletedAt = &t
	}
	return exp, nil
}

func sinceMillis(since time.Time) int64 {
	if since.IsZero() {
		return 0
	}
	return database.Millis(since)
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullInt64Ptr(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

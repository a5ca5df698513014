// Package trading stores executed trades and matches openers with the trades that close them.
package trading

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/aristath/swingbot/internal/database"
	"github.com/aristath/swingbot/internal/domain"
)

// ErrAlreadyClosed is returned when an opener has already been matched with a closing trade
var ErrAlreadyClosed = errors.New("position already closed")

// TradeRepository handles trade database operations
type TradeRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// tradesColumns is the list of columns for the trades table
// Column order must match scanTrade()
const tradesColumns = `id, ticker, action, price, quantity, timestamp, account_id, strategy, order_id, pnl, sell_trade_id, experience_id`

// NewTradeRepository creates a new trade repository
func NewTradeRepository(db *sql.DB, log zerolog.Logger) *TradeRepository {
	return &TradeRepository{
		db:  db,
		log: log.With().Str("repo", "trade").Logger(),
	}
}

// Create inserts an opening trade and returns its id
func (r *TradeRepository) Create(trade domain.Trade) (int64, error) {
	if err := trade.Validate(); err != nil {
		return 0, fmt.Errorf("failed to create trade: %w", err)
	}

	id, err := insertTrade(r.db, trade)
	if err != nil {
		return 0, fmt.Errorf("failed to create trade: %w", err)
	}

	r.log.Info().
		Int64("trade_id", id).
		Str("ticker", trade.Ticker).
		Str("action", string(trade.Action)).
		Float64("quantity", trade.Quantity).
		Float64("price", trade.Price).
		Msg("Trade created")

	return id, nil
}

// GetByID retrieves a trade. Returns nil when the trade does not exist.
func (r *TradeRepository) GetByID(id int64) (*domain.Trade, error) {
	row := r.db.QueryRow("SELECT "+tradesColumns+" FROM trades WHERE id = ?", id)
	trade, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trade %d: %w", id, err)
	}
	return &trade, nil
}

// OpenPosition returns the most recent unmatched opener for ticker/account on side, or nil
func (r *TradeRepository) OpenPosition(ticker string, accountID int64, side domain.TradeSide) (*domain.Trade, error) {
	query := `
		SELECT ` + tradesColumns + ` FROM trades
		WHERE ticker = ? AND account_id = ? AND action = ?
		  AND sell_trade_id IS NULL AND pnl IS NULL
		ORDER BY timestamp DESC, id DESC
		LIMIT 1
	`
	row := r.db.QueryRow(query, normalizeTicker(ticker), accountID, string(side))
	trade, err := scanTrade(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open position for %s: %w", ticker, err)
	}
	return &trade, nil
}

// Close records closer as the trade that ends opener's position.
// The closer is inserted with its realised PnL and the opener is linked to it in one transaction.
func (r *TradeRepository) Close(opener domain.Trade, closer domain.Trade) (*domain.Trade, error) {
	if err := closer.Validate(); err != nil {
		return nil, fmt.Errorf("failed to close trade %d: %w", opener.ID, err)
	}
	if closer.Action != opener.Action.Opposite() {
		return nil, fmt.Errorf("closing trade must be %s, got %s", opener.Action.Opposite(), closer.Action)
	}

	pnl := RealizedPnL(opener.Action, opener.Price, closer.Price, closer.Quantity)
	closer.PnL = &pnl

	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		id, err := insertTrade(tx, closer)
		if err != nil {
			return err
		}
		closer.ID = id

		res, err := tx.Exec(
			"UPDATE trades SET sell_trade_id = ? WHERE id = ? AND sell_trade_id IS NULL",
			id, opener.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to link opener: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("trade %d: %w", opener.ID, ErrAlreadyClosed)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to close trade %d: %w", opener.ID, err)
	}

	r.log.Info().
		Int64("opener_id", opener.ID).
		Int64("closer_id", closer.ID).
		Str("ticker", closer.Ticker).
		Float64("pnl", pnl).
		Msg("Position closed")

	return &closer, nil
}

// RealizedPnL computes the profit of a round trip opened on side, in account currency.
func RealizedPnL(openSide domain.TradeSide, entry, exit, quantity float64) float64 {
	diff := decimal.NewFromFloat(exit).Sub(decimal.NewFromFloat(entry))
	if openSide == domain.TradeSideSell {
		diff = diff.Neg()
	}
	pnl, _ := diff.Mul(decimal.NewFromFloat(quantity)).Round(6).Float64()
	return pnl
}

// History retrieves trade history, most recent first
func (r *TradeRepository) History(limit int) ([]domain.Trade, error) {
	query := `
		SELECT ` + tradesColumns + ` FROM trades
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`
	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get trade history: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, trade)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}
	return trades, nil
}

// ClosedPnLs returns the non-zero realised PnL of closing trades for strategy since a point in time,
// oldest first. A zero since returns every closed trade.
func (r *TradeRepository) ClosedPnLs(strategy domain.Strategy, since time.Time) ([]float64, error) {
	query := `
		SELECT pnl FROM trades
		WHERE pnl IS NOT NULL AND pnl != 0 AND strategy = ? AND timestamp >= ?
		ORDER BY timestamp ASC, id ASC
	`
	var sinceMs int64
	if !since.IsZero() {
		sinceMs = database.Millis(since)
	}

	rows, err := r.db.Query(query, string(strategy), sinceMs)
	if err != nil {
		return nil, fmt.Errorf("failed to get closed trades: %w", err)
	}
	defer rows.Close()

	var pnls []float64
	for rows.Next() {
		var pnl float64
		if err := rows.Scan(&pnl); err != nil {
			return nil, fmt.Errorf("failed to scan pnl: %w", err)
		}
		pnls = append(pnls, pnl)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating closed trades: %w", err)
	}
	return pnls, nil
}

type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

func insertTrade(db execer, trade domain.Trade) (int64, error) {
	ts := trade.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	strategy := trade.Strategy
	if strategy == "" {
		strategy = domain.StrategySortino
	}

	res, err := db.Exec(`
		INSERT INTO trades
		(ticker, action, price, quantity, timestamp, account_id, strategy, order_id, pnl, experience_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		normalizeTicker(trade.Ticker),
		string(trade.Action),
		trade.Price,
		trade.Quantity,
		database.Millis(ts),
		trade.AccountID,
		string(strategy),
		nullString(trade.OrderID),
		nullFloat64Ptr(trade.PnL),
		nullInt64Ptr(trade.ExperienceID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade: %w", err)
	}
	return res.LastInsertId()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTrade(row scanner) (domain.Trade, error) {
	var (
		trade        domain.Trade
		action       string
		strategy     string
		timestamp    int64
		orderID      sql.NullString
		pnl          sql.NullFloat64
		sellTradeID  sql.NullInt64
		experienceID sql.NullInt64
	)

	err := row.Scan(
		&trade.ID,
		&trade.Ticker,
		&action,
		&trade.Price,
		&trade.Quantity,
		&timestamp,
		&trade.AccountID,
		&strategy,
		&orderID,
		&pnl,
		&sellTradeID,
		&experienceID,
	)
	if err != nil {
		return trade, err
	}

	trade.Action = domain.TradeSide(action)
	trade.Strategy = domain.Strategy(strategy)
	trade.Timestamp = database.FromMillis(timestamp)
	trade.OrderID = orderID.String
	if pnl.Valid {
		trade.PnL = &pnl.Float64
	}
	if sellTradeID.Valid {
		trade.SellTradeID = &sellTradeID.Int64
	}
	if experienceID.Valid {
		trade.ExperienceID = &experienceID.Int64
	}
	return trade, nil
}

func normalizeTicker(ticker string) string {
	return strings.ToUpper(strings.TrimSpace(ticker))
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullFloat64Ptr(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{Valid: false}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}

func nullInt64Ptr(i *int64) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{Valid: false}
	}
	return sql.NullInt64{Int64: *i, Valid: true}
}

package trading

import (
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/swingbot/internal/domain"
	testdb "github.com/aristath/swingbot/internal/testing"
)

func newTestRepo(t *testing.T) *TradeRepository {
	log := zerolog.New(nil).Level(zerolog.Disabled)
	return NewTradeRepository(testdb.NewMemoryDB(t), log)
}

func opener(side domain.TradeSide, price, qty float64, ts time.Time) domain.Trade {
	return domain.Trade{
		Ticker:    "aapl",
		Action:    side,
		Price:     price,
		Quantity:  qty,
		Timestamp: ts,
		AccountID: 1,
		Strategy:  domain.StrategySortino,
	}
}

// TestCreate_ValidatesPrice tests that Create() validates price before insertion
func TestCreate_ValidatesPrice(t *testing.T) {
	repo := newTestRepo(t)

	testCases := []struct {
		name        string
		price       float64
		shouldError bool
	}{
		{name: "Valid positive price", price: 100.0},
		{name: "Zero price should fail", price: 0.0, shouldError: true},
		{name: "Negative price should fail", price: -10.0, shouldError: true},
		{name: "Small positive price should pass", price: 0.01},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := repo.Create(opener(domain.TradeSideBuy, tc.price, 1, time.Now()))
			if tc.shouldError {
				assert.Error(t, err)
				assert.Contains(t, err.Error(), "price must be positive")
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCreate_NormalizesTicker(t *testing.T) {
	repo := newTestRepo(t)

	id, err := repo.Create(opener(domain.TradeSideBuy, 100, 10, time.Now()))
	require.NoError(t, err)

	trade, err := repo.GetByID(id)
	require.NoError(t, err)
	require.NotNil(t, trade)
	assert.Equal(t, "AAPL", trade.Ticker)
	assert.Nil(t, trade.PnL)
	assert.Nil(t, trade.SellTradeID)

	missing, err := repo.GetByID(9999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestOpenPosition(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)

	pos, err := repo.OpenPosition("AAPL", 1, domain.TradeSideBuy)
	require.NoError(t, err)
	assert.Nil(t, pos)

	_, err = repo.Create(opener(domain.TradeSideBuy, 100, 10, base))
	require.NoError(t, err)
	latestID, err := repo.Create(opener(domain.TradeSideBuy, 101, 10, base.Add(time.Minute)))
	require.NoError(t, err)

	pos, err = repo.OpenPosition("aapl", 1, domain.TradeSideBuy)
	require.NoError(t, err)
	require.NotNil(t, pos)
	assert.Equal(t, latestID, pos.ID)

	// Other account and other side see nothing
	pos, err = repo.OpenPosition("AAPL", 2, domain.TradeSideBuy)
	require.NoError(t, err)
	assert.Nil(t, pos)
	pos, err = repo.OpenPosition("AAPL", 1, domain.TradeSideSell)
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestClose_LongPosition(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)

	openID, err := repo.Create(opener(domain.TradeSideBuy, 100, 10, base))
	require.NoError(t, err)
	open, err := repo.GetByID(openID)
	require.NoError(t, err)

	closer, err := repo.Close(*open, opener(domain.TradeSideSell, 110, 10, base.Add(24*time.Hour)))
	require.NoError(t, err)
	require.NotNil(t, closer.PnL)
	assert.InDelta(t, 100.0, *closer.PnL, 1e-9)

	reloaded, err := repo.GetByID(openID)
	require.NoError(t, err)
	require.NotNil(t, reloaded.SellTradeID)
	assert.Equal(t, closer.ID, *reloaded.SellTradeID)
	assert.Nil(t, reloaded.PnL, "PnL lives on the closing trade only")

	pos, err := repo.OpenPosition("AAPL", 1, domain.TradeSideBuy)
	require.NoError(t, err)
	assert.Nil(t, pos)

	// Closer is not itself an open SELL position
	pos, err = repo.OpenPosition("AAPL", 1, domain.TradeSideSell)
	require.NoError(t, err)
	assert.Nil(t, pos)
}

func TestClose_ShortPosition(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Now()

	openID, err := repo.Create(opener(domain.TradeSideSell, 100, 5, base))
	require.NoError(t, err)
	open, err := repo.GetByID(openID)
	require.NoError(t, err)

	closer, err := repo.Close(*open, opener(domain.TradeSideBuy, 90, 5, base.Add(time.Hour)))
	require.NoError(t, err)
	assert.InDelta(t, 50.0, *closer.PnL, 1e-9)
}

func TestClose_Twice(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Now()

	openID, err := repo.Create(opener(domain.TradeSideBuy, 100, 1, base))
	require.NoError(t, err)
	open, err := repo.GetByID(openID)
	require.NoError(t, err)

	_, err = repo.Close(*open, opener(domain.TradeSideSell, 105, 1, base.Add(time.Hour)))
	require.NoError(t, err)

	_, err = repo.Close(*open, opener(domain.TradeSideSell, 106, 1, base.Add(2*time.Hour)))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrAlreadyClosed))

	// The failed close left no dangling closer behind
	history, err := repo.History(10)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestClose_WrongSide(t *testing.T) {
	repo := newTestRepo(t)
	openID, err := repo.Create(opener(domain.TradeSideBuy, 100, 1, time.Now()))
	require.NoError(t, err)
	open, err := repo.GetByID(openID)
	require.NoError(t, err)

	_, err = repo.Close(*open, opener(domain.TradeSideBuy, 105, 1, time.Now()))
	assert.Error(t, err)
}

func TestRealizedPnL(t *testing.T) {
	assert.InDelta(t, 100.0, RealizedPnL(domain.TradeSideBuy, 100, 110, 10), 1e-9)
	assert.InDelta(t, -50.0, RealizedPnL(domain.TradeSideBuy, 100, 90, 5), 1e-9)
	assert.InDelta(t, 50.0, RealizedPnL(domain.TradeSideSell, 100, 90, 5), 1e-9)
	assert.InDelta(t, 0.3, RealizedPnL(domain.TradeSideBuy, 0.1, 0.2, 3), 1e-12)
}

func TestClosedPnLs(t *testing.T) {
	repo := newTestRepo(t)
	base := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)

	closeAt := func(entry, exit float64, at time.Time, strategy domain.Strategy) {
		o := opener(domain.TradeSideBuy, entry, 1, at)
		o.Strategy = strategy
		id, err := repo.Create(o)
		require.NoError(t, err)
		o.ID = id
		c := opener(domain.TradeSideSell, exit, 1, at.Add(time.Hour))
		c.Strategy = strategy
		_, err = repo.Close(o, c)
		require.NoError(t, err)
	}

	closeAt(100, 110, base, domain.StrategySortino)
	closeAt(100, 100, base.Add(24*time.Hour), domain.StrategySortino) // zero PnL excluded
	closeAt(100, 95, base.Add(48*time.Hour), domain.StrategySortino)
	closeAt(100, 120, base.Add(48*time.Hour), domain.StrategyUpside)

	all, err := repo.ClosedPnLs(domain.StrategySortino, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []float64{10, -5}, all)

	recent, err := repo.ClosedPnLs(domain.StrategySortino, base.Add(36*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []float64{-5}, recent)

	upside, err := repo.ClosedPnLs(domain.StrategyUpside, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []float64{20}, upside)
}

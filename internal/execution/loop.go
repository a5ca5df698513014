// Package execution runs the live decision loop: once per interval while the market is open,
// every symbol in the universe gets one action from the active model, and every account
// applies that action to its own position.
package execution

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/config"
	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/events"
	"github.com/aristath/swingbot/internal/marketdata"
	"github.com/aristath/swingbot/internal/models"
	"github.com/aristath/swingbot/internal/policy"
	"github.com/aristath/swingbot/internal/reward"
)

// ErrNoAccounts is returned when there is no active account to trade or read the clock from
var ErrNoAccounts = errors.New("no active accounts")

var errInsufficientFunds = errors.New("insufficient funds")

// errNotRecorded marks a failure after the broker accepted the order
var errNotRecorded = errors.New("order placed but not recorded")

// maxClosedWait caps a single sleep while the market is closed so the hourly reload still runs
const maxClosedWait = 15 * time.Minute

// AccountStore lists the accounts the loop trades
type AccountStore interface {
	ListActive() ([]domain.Account, error)
}

// TradeStore records fills
type TradeStore interface {
	Create(trade domain.Trade) (int64, error)
	OpenPosition(ticker string, accountID int64, side domain.TradeSide) (*domain.Trade, error)
	Close(opener domain.Trade, closer domain.Trade) (*domain.Trade, error)
}

// ExperienceStore records decisions and their rewards
type ExperienceStore interface {
	Record(exp domain.Experience) (int64, error)
	LinkTrade(experienceID, tradeID int64) error
	BackfillReward(experienceID int64, value float64) error
}

// ModelSource is the swappable model reference
type ModelSource interface {
	Current() *models.Loaded
	Reload(ctx context.Context) (bool, error)
}

// Config wires a Loop
type Config struct {
	Strategy    domain.Strategy
	Universe    []string
	Execution   config.ExecutionConfig
	Reward      reward.Config
	Market      domain.MarketData
	Accounts    AccountStore
	Trades      TradeStore
	Experiences ExperienceStore
	Brokers     domain.BrokerFactory
	Model       ModelSource
	Sizer       Sizer
	Events      events.Recorder
	Log         zerolog.Logger
}

// Loop is the live trading daemon for one strategy
type Loop struct {
	strategy    domain.Strategy
	universe    []string
	cfg         config.ExecutionConfig
	shaper      reward.Shaper
	market      domain.MarketData
	accounts    AccountStore
	trades      TradeStore
	experiences ExperienceStore
	brokers     domain.BrokerFactory
	model       ModelSource
	sizer       Sizer
	events      events.Recorder
	log         zerolog.Logger

	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
	lastReload time.Time
}

// New creates a loop
func New(c Config) (*Loop, error) {
	shaper, err := c.Reward.For(c.Strategy)
	if err != nil {
		return nil, err
	}
	if c.Market == nil || c.Accounts == nil || c.Trades == nil || c.Experiences == nil || c.Brokers == nil || c.Model == nil {
		return nil, fmt.Errorf("execution loop is missing a collaborator")
	}
	rec := c.Events
	if rec == nil {
		rec = events.Nop{}
	}
	return &Loop{
		strategy:    c.Strategy,
		universe:    c.Universe,
		cfg:         c.Execution,
		shaper:      shaper,
		market:      c.Market,
		accounts:    c.Accounts,
		trades:      c.Trades,
		experiences: c.Experiences,
		brokers:     c.Brokers,
		model:       c.Model,
		sizer:       c.Sizer,
		events:      rec,
		log:         c.Log.With().Str("service", "execution").Str("strategy", string(c.Strategy)).Logger(),
		now:         time.Now,
		sleep:       sleepContext,
	}, nil
}

// Run alternates between waiting for the market to open and running cycles until ctx is
// cancelled. Cycle failures are logged and retried after a backoff.
func (l *Loop) Run(ctx context.Context) error {
	l.log.Info().Int("symbols", len(l.universe)).Msg("Execution loop starting")
	l.reload(ctx)

	for {
		if ctx.Err() != nil {
			l.log.Info().Msg("Execution loop stopped")
			return nil
		}

		if l.now().Sub(l.lastReload) >= l.cfg.ReloadInterval {
			l.reload(ctx)
		}

		wait, err := l.untilOpen(ctx)
		if err != nil {
			l.fail("", "clock", "", 0, err)
			l.pause(ctx, l.cfg.ErrorBackoff)
			continue
		}
		if wait > 0 {
			wait = min(wait, maxClosedWait)
			l.log.Info().Dur("sleep", wait).Msg("Market closed, waiting")
			l.pause(ctx, wait)
			continue
		}

		if err := l.Cycle(ctx); err != nil {
			l.fail("", "cycle", "", 0, err)
			l.pause(ctx, l.cfg.ErrorBackoff)
			continue
		}
		l.pause(ctx, l.cfg.CycleInterval)
	}
}

// Cycle processes every symbol once against one model snapshot
func (l *Loop) Cycle(ctx context.Context) error {
	snapshot := l.model.Current()
	if snapshot == nil {
		return fmt.Errorf("%s: %w", l.strategy, models.ErrNotReady)
	}
	accounts, err := l.accounts.ListActive()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		return ErrNoAccounts
	}

	brokers := make([]domain.Broker, len(accounts))
	for i, acct := range accounts {
		brokers[i] = l.brokers(acct)
	}

	cycleID := uuid.NewString()
	l.events.Emit("execution", &events.CycleStartedData{
		CycleID:  cycleID,
		Strategy: string(l.strategy),
		Symbols:  len(l.universe),
		Accounts: len(accounts),
	})

	for _, ticker := range l.universe {
		if err := ctx.Err(); err != nil {
			return err
		}

		obs, pred, price, err := l.signal(ctx, snapshot, ticker)
		if err != nil {
			l.fail(cycleID, "signal", ticker, 0, err)
			continue
		}

		for i, acct := range accounts {
			if err := l.apply(ctx, cycleID, acct, brokers[i], ticker, obs, pred, price); err != nil {
				l.fail(cycleID, "account", ticker, acct.ID, err)
			}
		}
	}
	return nil
}

// signal fetches the recent window for ticker and asks the model for one action
func (l *Loop) signal(ctx context.Context, snapshot *models.Loaded, ticker string) (domain.Observation, policy.Prediction, float64, error) {
	bars, err := l.market.Recent(ctx, ticker, l.cfg.Period)
	if err != nil {
		return nil, policy.Prediction{}, 0, err
	}
	if err := marketdata.Require(bars, l.cfg.MinRows); err != nil {
		return nil, policy.Prediction{}, 0, err
	}
	obs, err := policy.LatestObservation(bars, policy.WindowSize)
	if err != nil {
		return nil, policy.Prediction{}, 0, err
	}
	pred, err := snapshot.Model.Predict(obs)
	if err != nil {
		return nil, policy.Prediction{}, 0, err
	}
	return obs, pred, bars[len(bars)-1].Close, nil
}

// apply carries out the signal for one account and records the decision
func (l *Loop) apply(ctx context.Context, cycleID string, acct domain.Account, broker domain.Broker, ticker string, obs domain.Observation, pred policy.Prediction, price float64) error {
	pos, err := broker.Position(ctx, ticker)
	if err != nil {
		return err
	}
	effect := Resolve(pred.Action, pos, acct.AllowShorting)

	expID, err := l.experiences.Record(domain.Experience{
		Ticker:      ticker,
		AccountID:   acct.ID,
		Strategy:    l.strategy,
		CycleID:     cycleID,
		Observation: obs,
		Action:      pred.Action,
	})
	if err != nil {
		return fmt.Errorf("failed to record decision: %w", err)
	}

	decision := &events.DecisionMadeData{
		CycleID:        cycleID,
		Ticker:         ticker,
		AccountID:      acct.ID,
		Action:         pred.Action.String(),
		Effect:         string(effect),
		Price:          price,
		BuyProbability: pred.BuyProbability,
		ExperienceID:   expID,
	}

	switch effect {
	case EffectOpenLong, EffectOpenShort:
		err = l.open(ctx, acct, broker, ticker, effect, price, expID)
	case EffectCloseLong, EffectCloseShort:
		err = l.close(ctx, acct, broker, ticker, effect, pos, price, expID)
	default:
		// No-ops stay incomplete; only closing decisions are rewarded inline
		l.events.Emit("execution", decision)
		return nil
	}

	if err != nil {
		if !errors.Is(err, errNotRecorded) {
			// The broker never took the order, so no position moved
			decision.Effect = string(EffectNone)
		}
		if errors.Is(err, errInsufficientFunds) {
			l.log.Info().Str("ticker", ticker).Int64("account_id", acct.ID).Msg("Skipping open, insufficient funds")
			err = nil
		}
	}
	l.events.Emit("execution", decision)
	return err
}

func (l *Loop) open(ctx context.Context, acct domain.Account, broker domain.Broker, ticker string, effect Effect, price float64, expID int64) error {
	info, err := broker.Account(ctx)
	if err != nil {
		return err
	}
	qty := l.sizer.Quantity(*info, acct.MaxPositionSize, price)
	if qty <= 0 {
		return fmt.Errorf("%s %s: %w", effect, ticker, errInsufficientFunds)
	}

	order, err := broker.SubmitOrder(ctx, domain.OrderRequest{Symbol: ticker, Side: effect.orderSide(), Quantity: qty})
	if err != nil {
		return err
	}

	trade := l.tradeFor(acct, ticker, effect.orderSide(), qty, price, order, expID)
	tradeID, err := l.trades.Create(trade)
	if err != nil {
		return fmt.Errorf("order %s: %w: %v", order.OrderID, errNotRecorded, err)
	}
	if err := l.experiences.LinkTrade(expID, tradeID); err != nil {
		l.log.Warn().Err(err).Int64("experience_id", expID).Int64("trade_id", tradeID).Msg("Failed to link decision to trade")
	}

	l.events.Emit("execution", &events.OrderSubmittedData{
		Ticker:    ticker,
		AccountID: acct.ID,
		Side:      string(trade.Action),
		Quantity:  qty,
		Price:     trade.Price,
		OrderID:   trade.OrderID,
		TradeID:   tradeID,
	})
	return nil
}

func (l *Loop) close(ctx context.Context, acct domain.Account, broker domain.Broker, ticker string, effect Effect, pos *domain.Position, price float64, expID int64) error {
	opener, err := l.trades.OpenPosition(ticker, acct.ID, effect.openSide())
	if err != nil {
		return err
	}

	qty := math.Abs(pos.Quantity)
	order, err := broker.SubmitOrder(ctx, domain.OrderRequest{Symbol: ticker, Side: effect.orderSide(), Quantity: qty})
	if err != nil {
		return err
	}
	closer := l.tradeFor(acct, ticker, effect.orderSide(), qty, price, order, expID)

	if opener == nil {
		// Position opened outside this system: keep the fill, there is no round trip to score
		tradeID, err := l.trades.Create(closer)
		if err != nil {
			return fmt.Errorf("order %s: %w: %v", order.OrderID, errNotRecorded, err)
		}
		l.log.Warn().Str("ticker", ticker).Int64("account_id", acct.ID).Msg("Closed position with no recorded opener")
		if err := l.experiences.LinkTrade(expID, tradeID); err != nil {
			l.log.Warn().Err(err).Int64("experience_id", expID).Msg("Failed to link decision to trade")
		}
		return nil
	}

	recorded, err := l.trades.Close(*opener, closer)
	if err != nil {
		// The broker position is gone: keep the fill even though it cannot be matched.
		// Both decisions stay incomplete.
		l.log.Error().
			Err(err).
			Int64("opener_id", opener.ID).
			Str("order_id", order.OrderID).
			Msg("Failed to match closing fill, recording it unmatched")
		tradeID, createErr := l.trades.Create(closer)
		if createErr != nil {
			return fmt.Errorf("order %s: %w: %v", order.OrderID, errNotRecorded, errors.Join(err, createErr))
		}
		if err := l.experiences.LinkTrade(expID, tradeID); err != nil {
			l.log.Warn().Err(err).Int64("experience_id", expID).Msg("Failed to link decision to closing trade")
		}
		return fmt.Errorf("order %s: close of trade %d not matched: %w", order.OrderID, opener.ID, errNotRecorded)
	}
	if err := l.experiences.LinkTrade(expID, recorded.ID); err != nil {
		l.log.Warn().Err(err).Int64("experience_id", expID).Msg("Failed to link decision to closing trade")
	}

	closed := &events.PositionClosedData{
		Ticker:       ticker,
		AccountID:    acct.ID,
		OpenTradeID:  opener.ID,
		CloseTradeID: recorded.ID,
	}
	if recorded.PnL != nil {
		closed.PnL = *recorded.PnL
	}

	value, err := l.roundTripReward(*opener, recorded.Price)
	if err == nil {
		closed.Reward = &value
		err = l.backfill(expID, opener.ExperienceID, value)
	}
	if err != nil {
		// The sweep completes both experiences later from the stored trades
		closed.BackfillError = err.Error()
		l.log.Warn().Err(err).Int64("experience_id", expID).Msg("Inline reward backfill failed")
	}
	l.events.Emit("execution", closed)
	return nil
}

func (l *Loop) roundTripReward(opener domain.Trade, exit float64) (float64, error) {
	raw, err := reward.ReturnFor(opener.Action, opener.Price, exit)
	if err != nil {
		return 0, err
	}
	return l.shaper(raw), nil
}

// backfill completes the closing decision and the decision that opened the position
func (l *Loop) backfill(closingExpID int64, openingExpID *int64, value float64) error {
	var errs []error
	if openingExpID != nil {
		if err := l.experiences.BackfillReward(*openingExpID, value); err != nil {
			errs = append(errs, fmt.Errorf("opening decision %d: %w", *openingExpID, err))
		}
	}
	if err := l.experiences.BackfillReward(closingExpID, value); err != nil {
		errs = append(errs, fmt.Errorf("closing decision %d: %w", closingExpID, err))
	}
	return errors.Join(errs...)
}

func (l *Loop) tradeFor(acct domain.Account, ticker string, side domain.TradeSide, qty, price float64, order *domain.OrderResult, expID int64) domain.Trade {
	fill := price
	if order.FilledPrice > 0 {
		fill = order.FilledPrice
	}
	orderID := order.OrderID
	if orderID == "" {
		orderID = order.ClientOrderID
	}
	return domain.Trade{
		Ticker:       ticker,
		Action:       side,
		Price:        fill,
		Quantity:     qty,
		Timestamp:    l.now(),
		AccountID:    acct.ID,
		Strategy:     l.strategy,
		OrderID:      orderID,
		ExperienceID: &expID,
	}
}

// untilOpen returns zero while the market is open, otherwise the time until the next open
func (l *Loop) untilOpen(ctx context.Context) (time.Duration, error) {
	accounts, err := l.accounts.ListActive()
	if err != nil {
		return 0, err
	}
	if len(accounts) == 0 {
		return 0, ErrNoAccounts
	}
	clock, err := l.brokers(accounts[0]).Clock(ctx)
	if err != nil {
		return 0, err
	}
	if clock.IsOpen {
		return 0, nil
	}
	wait := clock.NextOpen.Sub(l.now())
	if wait <= 0 {
		wait = l.cfg.CycleInterval
	}
	return wait, nil
}

// reload swaps in a newer active model, keeping the current one on failure
func (l *Loop) reload(ctx context.Context) {
	l.lastReload = l.now()
	changed, err := l.model.Reload(ctx)
	if err != nil {
		l.log.Warn().Err(err).Msg("Model reload failed")
		return
	}
	if !changed {
		l.log.Debug().Msg("Model unchanged")
		return
	}
	current := l.model.Current()
	if current == nil {
		return
	}
	l.log.Info().Int("version", current.Version()).Str("path", current.Ref.Path).Msg("Model reloaded")
	l.events.Emit("execution", &events.ModelReloadedData{
		Strategy: string(l.strategy),
		Source:   string(current.Ref.Source),
		Path:     current.Ref.Path,
		Version:  current.Version(),
		Changed:  true,
	})
}

func (l *Loop) fail(cycleID, stage, ticker string, accountID int64, err error) {
	l.log.Error().
		Err(err).
		Str("stage", stage).
		Str("ticker", ticker).
		Int64("account_id", accountID).
		Msg("Execution step failed")
	l.events.Emit("execution", &events.CycleFailedData{
		CycleID: cycleID,
		Stage:   stage,
		Ticker:  ticker,
		Account: accountID,
		Error:   err.Error(),
	})
}

func (l *Loop) pause(ctx context.Context, d time.Duration) {
	_ = l.sleep(ctx, d)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

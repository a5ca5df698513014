package training

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/swingbot/internal/artifacts"
	"github.com/aristath/swingbot/internal/config"
	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/events"
	"github.com/aristath/swingbot/internal/marketdata"
	"github.com/aristath/swingbot/internal/modules/experiences"
	"github.com/aristath/swingbot/internal/modules/registry"
	"github.com/aristath/swingbot/internal/modules/trading"
	"github.com/aristath/swingbot/internal/policy"
	"github.com/aristath/swingbot/internal/reward"
	testdb "github.com/aristath/swingbot/internal/testing"
)

type fakeMarket struct {
	mu       sync.Mutex
	failing  map[string]bool
	history  int
	recent   int
	recentOf []string
}

func (m *fakeMarket) Recent(_ context.Context, ticker, _ string) ([]domain.Bar, error) {
	m.mu.Lock()
	m.recentOf = append(m.recentOf, ticker)
	m.mu.Unlock()
	if m.failing[ticker] {
		return nil, marketdata.ErrSourceUnavailable
	}
	return wave(m.recent), nil
}

func (m *fakeMarket) History(_ context.Context, ticker string, _, _ time.Time) ([]domain.Bar, error) {
	if m.failing[ticker] {
		return nil, marketdata.ErrSourceUnavailable
	}
	return wave(m.history), nil
}

func wave(n int) []domain.Bar {
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		c := 100 + 10*math.Sin(float64(i)/4)
		bars[i] = domain.Bar{Time: start.AddDate(0, 0, i), Open: c, High: c + 1, Low: c - 1, Close: c, Volume: 1000}
	}
	return bars
}

type recorder struct {
	mu     sync.Mutex
	events []events.EventData
}

func (r *recorder) Emit(_ string, data events.EventData) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, data)
}

type env struct {
	orch   *Orchestrator
	exps   *experiences.Repository
	trades *trading.TradeRepository
	reg    *registry.Registry
	market *fakeMarket
	rec    *recorder
}

func newEnv(t *testing.T) *env {
	t.Helper()
	log := zerolog.New(nil).Level(zerolog.Disabled)
	db := testdb.NewMemoryDB(t)
	store, err := artifacts.NewStore(t.TempDir(), nil, log)
	require.NoError(t, err)

	trades := trading.NewTradeRepository(db, log)
	exps := experiences.NewRepository(db, log)
	reg := registry.New(db, store, trades, log)
	market := &fakeMarket{failing: map[string]bool{"BAD": true}, history: 150, recent: 22}
	rec := &recorder{}

	cfg := config.Defaults().Training
	cfg.StepsPerSymbol = 200
	cfg.OnlineTimesteps = 50

	orch := New(Config{
		Experiences: exps,
		Registry:    reg,
		Market:      market,
		Events:      rec,
		Training:    cfg,
		Reward:      reward.DefaultConfig(),
		Universe:    []string{"AAA", "BAD", "BBB"},
		Log:         log,
	})
	return &env{orch: orch, exps: exps, trades: trades, reg: reg, market: market, rec: rec}
}

func observation() domain.Observation {
	obs := make(domain.Observation, policy.WindowSize)
	for i := range obs {
		obs[i] = []float64{100 + float64(i), 1}
	}
	return obs
}

func TestDecide_NoModelIsInitial(t *testing.T) {
	e := newEnv(t)
	plan, err := e.orch.Decide(context.Background(), domain.StrategySortino)
	require.NoError(t, err)
	assert.Equal(t, ModeInitial, plan.Mode)
	assert.Nil(t, plan.Active)
}

func TestRun_InitialTraining(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	result, err := e.orch.Run(ctx, domain.StrategySortino)
	require.NoError(t, err)
	assert.Equal(t, ModeInitial, result.Mode)
	assert.False(t, result.Skipped)
	assert.Equal(t, 2, result.Symbols)
	assert.Equal(t, 400, result.Steps)
	require.NotNil(t, result.Version)
	assert.Equal(t, 1, result.Version.VersionNumber)
	assert.Equal(t, domain.TrainingInitial, result.Version.TrainingType)

	ref, err := e.reg.GetActive(ctx, domain.StrategySortino)
	require.NoError(t, err)
	require.NotNil(t, ref)
	data, err := os.ReadFile(ref.Path)
	require.NoError(t, err)
	p, err := policy.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 400, p.TrainedSteps)

	require.Len(t, e.rec.events, 1)
	saved, ok := e.rec.events[0].(*events.VersionSavedData)
	require.True(t, ok)
	assert.Equal(t, 1, saved.Version)
}

func TestTrain_ForcesInitialOverExistingModel(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.orch.Run(ctx, domain.StrategyUpside)
	require.NoError(t, err)

	result, err := e.orch.Train(ctx, domain.StrategyUpside)
	require.NoError(t, err)
	assert.Equal(t, ModeInitial, result.Mode)
	require.NotNil(t, result.Version)
	assert.Equal(t, 2, result.Version.VersionNumber)
	assert.Equal(t, "Manual training - initial", result.Version.Notes)
	assert.True(t, result.Version.IsActive)

	versions, err := e.reg.List(domain.StrategyUpside)
	require.NoError(t, err)
	require.Len(t, versions, 2)
	assert.False(t, versions[1].IsActive)
	assert.Equal(t, "Scheduled retrain - initial", versions[1].Notes)
}

func TestRun_NoSymbolTrainedAbortsWithoutSaving(t *testing.T) {
	e := newEnv(t)
	e.market.failing = map[string]bool{"AAA": true, "BAD": true, "BBB": true}

	_, err := e.orch.Run(context.Background(), domain.StrategySortino)
	assert.ErrorIs(t, err, ErrNoModelTrained)

	versions, err := e.reg.List(domain.StrategySortino)
	require.NoError(t, err)
	assert.Empty(t, versions)
	assert.Empty(t, e.rec.events)
}

func TestRun_UnknownStrategy(t *testing.T) {
	e := newEnv(t)
	_, err := e.orch.Run(context.Background(), domain.Strategy("momentum"))
	assert.Error(t, err)
}

func TestDecide_FullRetrainCadence(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.orch.Run(ctx, domain.StrategySortino)
	require.NoError(t, err)

	// Only an initial version exists, so a full retrain is due
	plan, err := e.orch.Decide(ctx, domain.StrategySortino)
	require.NoError(t, err)
	assert.Equal(t, ModeFullRetrain, plan.Mode)

	result, err := e.orch.Run(ctx, domain.StrategySortino)
	require.NoError(t, err)
	assert.Equal(t, ModeFullRetrain, result.Mode)
	assert.Equal(t, 2, result.Version.VersionNumber)

	plan, err = e.orch.Decide(ctx, domain.StrategySortino)
	require.NoError(t, err)
	assert.Equal(t, ModeOnline, plan.Mode)
	assert.True(t, plan.Skip)

	e.orch.now = func() time.Time { return time.Now().Add(8 * 24 * time.Hour) }
	plan, err = e.orch.Decide(ctx, domain.StrategySortino)
	require.NoError(t, err)
	assert.Equal(t, ModeFullRetrain, plan.Mode)
}

func TestRun_OnlineSkipsWithoutNewExperiences(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seedFullRetrain(t, e)

	result, err := e.orch.Run(ctx, domain.StrategySortino)
	require.NoError(t, err)
	assert.Equal(t, ModeOnline, result.Mode)
	assert.True(t, result.Skipped)
	assert.Nil(t, result.Version)

	versions, err := e.reg.List(domain.StrategySortino)
	require.NoError(t, err)
	assert.Len(t, versions, 1)
}

func TestRun_OnlineUsesReconciledExperiences(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	seedFullRetrain(t, e)
	time.Sleep(5 * time.Millisecond)

	// A round trip closed without the inline backfill: reconcile must complete it first
	openerID, err := e.trades.Create(domain.Trade{
		Ticker: "AAA", Action: domain.TradeSideBuy, Price: 100, Quantity: 10, AccountID: 1,
	})
	require.NoError(t, err)
	expID, err := e.exps.Record(domain.Experience{
		Ticker: "AAA", AccountID: 1, Strategy: domain.StrategySortino,
		Observation: observation(), Action: domain.ActionBuy, TradeID: &openerID,
	})
	require.NoError(t, err)
	opener, err := e.trades.GetByID(openerID)
	require.NoError(t, err)
	_, err = e.trades.Close(*opener, domain.Trade{
		Ticker: "AAA", Action: domain.TradeSideSell, Price: 110, Quantity: 10, AccountID: 1,
	})
	require.NoError(t, err)

	// Plus one completed flat decision on another ticker
	flat := -0.001
	_, err = e.exps.Record(domain.Experience{
		Ticker: "BBB", AccountID: 1, Strategy: domain.StrategySortino,
		Observation: observation(), Action: domain.ActionSell, Reward: &flat,
	})
	require.NoError(t, err)

	// Experiences of other strategies are ignored
	_, err = e.exps.Record(domain.Experience{
		Ticker: "CCC", AccountID: 1, Strategy: domain.StrategyUpside,
		Observation: observation(), Action: domain.ActionSell, Reward: &flat,
	})
	require.NoError(t, err)

	result, err := e.orch.Run(ctx, domain.StrategySortino)
	require.NoError(t, err)
	assert.Equal(t, ModeOnline, result.Mode)
	require.NotNil(t, result.Version)
	assert.Equal(t, 2, result.Version.VersionNumber)
	assert.Equal(t, domain.TrainingOnline, result.Version.TrainingType)
	assert.Equal(t, 2, result.Experiences)
	assert.Equal(t, 2, result.Symbols)
	// One experience per ticker at 10 steps each
	assert.Equal(t, 20, result.Steps)
	assert.Equal(t, 2, result.Version.TotalExperiences)
	assert.ElementsMatch(t, []string{"AAA", "BBB"}, e.market.recentOf)

	exp, err := e.exps.GetByID(expID)
	require.NoError(t, err)
	assert.True(t, exp.IsCompleted)
	assert.InDelta(t, 0.10, *exp.Reward, 1e-9)
}

func TestRun_CancelledContext(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.orch.Run(ctx, domain.StrategySortino)
	assert.True(t, errors.Is(err, context.Canceled))
}

// seedFullRetrain registers a fresh full_retrain version so the next decision is online
func seedFullRetrain(t *testing.T, e *env) {
	t.Helper()
	p := policy.NewLinearPolicy(policy.WindowSize, policy.FeatureCount, rand.New(rand.NewSource(1)))
	_, err := e.reg.SaveVersion(context.Background(), registry.SaveRequest{
		Artifact:     p,
		Strategy:     domain.StrategySortino,
		TrainingType: domain.TrainingFullRetrain,
	})
	require.NoError(t, err)
}

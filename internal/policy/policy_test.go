package policy

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/reward"
)

func barsFromCloses(closes ...float64) []domain.Bar {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, len(closes))
	for i, c := range closes {
		bars[i] = domain.Bar{Time: start.AddDate(0, 0, i), Open: c, High: c, Low: c, Close: c, Volume: 1000}
	}
	return bars
}

func sortinoShaper(t *testing.T) reward.Shaper {
	shaper, err := reward.DefaultConfig().For(domain.StrategySortino)
	require.NoError(t, err)
	return shaper
}

func TestSignalFeaturesAndWindows(t *testing.T) {
	bars := barsFromCloses(100, 102, 101, 105)
	features := SignalFeatures(bars)
	assert.Equal(t, [][]float64{{100, 0}, {102, 2}, {101, -1}, {105, 4}}, features)

	obs, err := ObservationAt(features, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, domain.Observation{{102, 2}, {101, -1}}, obs)

	_, err = ObservationAt(features, 0, 2)
	assert.Error(t, err)

	latest, err := LatestObservation(bars, 3)
	require.NoError(t, err)
	assert.Equal(t, domain.Observation{{102, 2}, {101, -1}, {105, 4}}, latest)

	_, err = LatestObservation(bars, 5)
	assert.Error(t, err)
}

func TestLinearPolicy_Predict(t *testing.T) {
	p := &LinearPolicy{Format: artifactFormat, Window: 2, Features: 2, Weights: make([]float64, 4)}
	obs := domain.Observation{{100, 0}, {101, 1}}

	pred, err := p.Predict(obs)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionSell, pred.Action, "ties resolve to sell")
	assert.InDelta(t, 0.5, pred.BuyProbability, 1e-12)
	assert.InDelta(t, 1.0, pred.BuyProbability+pred.SellProbability, 1e-12)

	p.Bias = 2
	pred, err = p.Predict(obs)
	require.NoError(t, err)
	assert.Equal(t, domain.ActionBuy, pred.Action)
	assert.Greater(t, pred.BuyProbability, 0.8)

	_, err = p.Predict(domain.Observation{{100, 0}})
	assert.Error(t, err, "wrong window")
	_, err = p.Predict(domain.Observation{{100, 0}, {0, 0}})
	assert.Error(t, err, "no reference close")
}

func TestLinearPolicy_ArtifactRoundTrip(t *testing.T) {
	p := NewLinearPolicy(WindowSize, FeatureCount, rand.New(rand.NewSource(1)))
	p.Bias = 0.25
	p.TrainedSteps = 1234

	data, err := p.MarshalBinary()
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, p, decoded)

	_, err = Decode([]byte("not a policy"))
	assert.Error(t, err)

	broken := p.Clone()
	broken.Weights = broken.Weights[:3]
	data, err = broken.MarshalBinary()
	require.NoError(t, err)
	_, err = Decode(data)
	assert.Error(t, err)
}

func TestStocksEnv_LongRoundTrip(t *testing.T) {
	env, err := NewStocksEnv(barsFromCloses(100, 100, 110, 121), EnvConfig{Window: 2, Shaper: sortinoShaper(t)})
	require.NoError(t, err)

	obs := env.Reset()
	assert.Equal(t, domain.Observation{{100, 0}, {100, 0}}, obs)

	_, r, terminated, truncated, info := env.Step(domain.ActionBuy)
	assert.InDelta(t, reward.DefaultOpportunityCost, r, 1e-12, "opening earns the flat penalty")
	assert.False(t, terminated)
	assert.False(t, truncated)
	assert.Equal(t, PositionLong, info.Position)

	obs, r, terminated, _, info = env.Step(domain.ActionSell)
	assert.InDelta(t, 0.10, r, 1e-12)
	assert.True(t, terminated)
	assert.Equal(t, PositionFlat, info.Position)
	assert.Equal(t, 2, info.Trades)
	assert.InDelta(t, 1.10, info.TotalProfit, 1e-12)
	assert.Equal(t, domain.Observation{{110, 10}, {121, 11}}, obs)
}

func TestStocksEnv_Shorting(t *testing.T) {
	bars := barsFromCloses(100, 100, 90, 90)
	shaper := sortinoShaper(t)

	t.Run("disabled", func(t *testing.T) {
		env, err := NewStocksEnv(bars, EnvConfig{Window: 2, Shaper: shaper})
		require.NoError(t, err)
		env.Reset()
		_, _, _, _, info := env.Step(domain.ActionSell)
		assert.Equal(t, PositionFlat, info.Position)
		assert.Equal(t, 0, info.Trades)
	})

	t.Run("enabled", func(t *testing.T) {
		env, err := NewStocksEnv(bars, EnvConfig{Window: 2, Shaper: shaper, AllowShort: true})
		require.NoError(t, err)
		env.Reset()
		_, _, _, _, info := env.Step(domain.ActionSell)
		assert.Equal(t, PositionShort, info.Position)
		_, r, _, _, info := env.Step(domain.ActionBuy)
		assert.InDelta(t, 0.10, r, 1e-12, "a short earns the fall")
		assert.Equal(t, PositionFlat, info.Position)
	})
}

func TestStocksEnv_LossAndTruncation(t *testing.T) {
	env, err := NewStocksEnv(barsFromCloses(100, 100, 90, 90, 90, 90), EnvConfig{Window: 2, Shaper: sortinoShaper(t), MaxSteps: 2})
	require.NoError(t, err)

	env.Reset()
	env.Step(domain.ActionBuy)
	_, r, terminated, truncated, _ := env.Step(domain.ActionSell)
	assert.InDelta(t, -0.02, r, 1e-12)
	assert.False(t, terminated)
	assert.True(t, truncated)
}

func TestNewStocksEnv_Validation(t *testing.T) {
	_, err := NewStocksEnv(barsFromCloses(1, 2, 3), EnvConfig{Window: 2, Shaper: sortinoShaper(t)})
	assert.Error(t, err)
	_, err = NewStocksEnv(barsFromCloses(1, 2, 3, 4), EnvConfig{Window: 2})
	assert.Error(t, err)
}

func TestLearner_Learn(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	env, err := NewStocksEnv(barsFromCloses(closes...), EnvConfig{Window: WindowSize, Shaper: sortinoShaper(t)})
	require.NoError(t, err)

	p := NewLinearPolicy(WindowSize, FeatureCount, rand.New(rand.NewSource(7)))
	before := p.Clone()
	learner := NewLearner(p, DefaultLearnerConfig(), zerolog.New(nil).Level(zerolog.Disabled))

	stats, err := learner.Learn(context.Background(), env, 120)
	require.NoError(t, err)
	assert.Equal(t, 120, stats.Steps)
	assert.GreaterOrEqual(t, stats.Episodes, 3)
	assert.Equal(t, 120, learner.Policy().TrainedSteps)
	assert.NotEqual(t, before.Weights, learner.Policy().Weights)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = learner.Learn(ctx, env, 10)
	assert.ErrorIs(t, err, context.Canceled)
}

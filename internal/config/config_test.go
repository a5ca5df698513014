package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingDatabaseURL)
}

func TestLoad_FromEnvironment(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("DATABASE_URL", filepath.Join(dir, "swingbot.db"))
	t.Setenv("MODEL_DIR", dir)
	t.Setenv("PORT", "8080")
	t.Setenv("DEFAULT_STRATEGY", "upside")
	t.Setenv("CYCLE_INTERVAL", "30s")
	t.Setenv("ARTIFACT_BUCKET", "models")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, dir, cfg.ModelDir)
	assert.Equal(t, domain.StrategyUpside, cfg.DefaultStrategy)
	assert.Equal(t, 30*time.Second, cfg.Execution.CycleInterval)
	assert.True(t, cfg.Artifacts.Enabled())
	assert.Equal(t, Dow30, cfg.Universe)
	assert.Equal(t, 7*24*time.Hour, cfg.Training.FullRetrainInterval)
	assert.Equal(t, -0.001, cfg.Reward.OpportunityCost)
}

func TestLoad_InvalidStrategy(t *testing.T) {
	t.Setenv("DATABASE_URL", "file:test?mode=memory")
	t.Setenv("DEFAULT_STRATEGY", "momentum")
	_, err := Load()
	assert.Error(t, err)
}

func TestApplyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "swingbot.yaml")
	content := `
universe: [aapl, " msft ", ""]
reward:
  downside_penalty: 3.0
  opportunity_cost: -0.002
training:
  history_start: "2018-01-01"
  steps_per_symbol: 100
  full_retrain_interval: 72h
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg := Defaults()
	require.NoError(t, cfg.ApplyFile(path))

	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.Universe)
	assert.Equal(t, 3.0, cfg.Reward.DownsidePenalty)
	assert.True(t, cfg.Reward.DownsideSquared)
	assert.Equal(t, -0.002, cfg.Reward.OpportunityCost)
	assert.Equal(t, 2018, cfg.Training.HistoryStart.Year())
	assert.Equal(t, 100, cfg.Training.StepsPerSymbol)
	assert.Equal(t, 72*time.Hour, cfg.Training.FullRetrainInterval)
}

func TestApplyFile_InvalidDate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("training:\n  history_end: yesterday\n"), 0o644))

	err := Defaults().ApplyFile(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cfg := Defaults()
	cfg.DatabaseURL = "x.db"
	require.NoError(t, cfg.Validate())

	cfg.Universe = nil
	assert.Error(t, cfg.Validate())

	cfg = Defaults()
	cfg.DatabaseURL = "x.db"
	cfg.Reward.DownsidePenalty = -1
	assert.Error(t, cfg.Validate())
}

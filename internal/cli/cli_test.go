package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/swingbot/internal/config"
	"github.com/aristath/swingbot/internal/database"
	"github.com/aristath/swingbot/internal/modules/registry"
)

type harness struct {
	cfg *config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Defaults()
	cfg.DatabaseURL = filepath.Join(dir, "swingbot.db")
	cfg.ModelDir = filepath.Join(dir, "models")
	cfg.LogLevel = "error"
	cfg.LogPretty = false
	return &harness{cfg: cfg}
}

func (h *harness) exec(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCommand(Options{
		Out: &out,
		Err: &errOut,
		LoadConfig: func() (*config.Config, error) {
			if err := h.cfg.Validate(); err != nil {
				return nil, err
			}
			return h.cfg, nil
		},
	})
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestMissingDatabaseURLFails(t *testing.T) {
	h := newHarness(t)
	h.cfg.DatabaseURL = ""

	_, err := h.exec(t, "versions")
	assert.ErrorIs(t, err, config.ErrMissingDatabaseURL)
}

func TestMissingSchemaFails(t *testing.T) {
	h := newHarness(t)

	_, err := h.exec(t, "retrain", "--strategy", "sortino")
	assert.ErrorIs(t, err, database.ErrSchemaMissing)
}

func TestMigrateIsIdempotent(t *testing.T) {
	h := newHarness(t)

	out, err := h.exec(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "Schema applied")

	_, err = h.exec(t, "migrate")
	require.NoError(t, err)
}

func TestInvalidStrategyFlag(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(t, "migrate")
	require.NoError(t, err)

	_, err = h.exec(t, "versions", "--strategy", "momentum")
	assert.Error(t, err)
}

func TestVersionsAndRollbackOnEmptyRegistry(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(t, "migrate")
	require.NoError(t, err)

	out, err := h.exec(t, "versions", "--strategy", "upside")
	require.NoError(t, err)
	assert.Contains(t, out, "No upside versions")

	_, err = h.exec(t, "rollback", "--strategy", "sortino", "--version", "3")
	assert.ErrorIs(t, err, registry.ErrVersionNotFound)

	_, err = h.exec(t, "rollback", "--strategy", "sortino")
	assert.Error(t, err)
}

func TestPerformance(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(t, "migrate")
	require.NoError(t, err)

	out, err := h.exec(t, "performance")
	require.NoError(t, err)
	assert.Contains(t, out, "Total trades:  0")

	_, err = h.exec(t, "performance", "--since", "1")
	assert.ErrorIs(t, err, registry.ErrVersionNotFound)
}

func TestAccounts(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(t, "migrate")
	require.NoError(t, err)

	out, err := h.exec(t, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No accounts")

	out, err = h.exec(t, "accounts", "add", "--name", "paper-1", "--key", "k", "--secret", "s", "--allow-shorting")
	require.NoError(t, err)
	assert.Contains(t, out, "Account paper-1 added with id 1")

	_, err = h.exec(t, "accounts", "add", "--name", "bad", "--key", "k", "--secret", "s", "--type", "demo")
	assert.Error(t, err)

	out, err = h.exec(t, "accounts", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "paper-1")
	assert.Contains(t, out, "paper")
	assert.Contains(t, out, "true")
}

func TestReconcileOnEmptyStore(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(t, "migrate")
	require.NoError(t, err)

	out, err := h.exec(t, "reconcile")
	require.NoError(t, err)
	assert.Contains(t, out, "Backfilled 0 experiences")
}

func TestTradeRequiresActiveAccount(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(t, "migrate")
	require.NoError(t, err)

	_, err = h.exec(t, "trade", "--strategy", "sortino")
	assert.Error(t, err)
}

func TestBackupNeedsBucket(t *testing.T) {
	h := newHarness(t)
	_, err := h.exec(t, "migrate")
	require.NoError(t, err)

	_, err = h.exec(t, "backup")
	assert.ErrorIs(t, err, errNoBucket)
}

// Package registry catalogs trained model versions per strategy and resolves the artifact
// the trading loop and the serving endpoint should use.
//
// Versions are append-only. The only mutable column is is_active, and every change to it
// happens inside one transaction that leaves at most one active row per strategy.
package registry

import (
	"context"
	"database/sql"
	"encoding"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/artifacts"
	"github.com/aristath/swingbot/internal/database"
	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/pkg/formulas"
)

// ErrVersionNotFound is returned when a version number does not exist for a strategy
var ErrVersionNotFound = errors.New("model version not found")

// PnLSource provides realised PnLs of closed trades
type PnLSource interface {
	ClosedPnLs(strategy domain.Strategy, since time.Time) ([]float64, error)
}

// Source describes where a resolved artifact came from
type Source string

const (
	SourceRegistry Source = "registry"
	SourceMirror   Source = "mirror"
	SourceDefault  Source = "default"
)

// ArtifactRef is a resolved, locally readable artifact
type ArtifactRef struct {
	Path    string
	Source  Source
	Version *domain.ModelVersion // nil for the default artifact
}

const versionColumns = `id, version_number, strategy, model_path, training_type, total_experiences,
	win_rate, avg_pnl, sortino_ratio, total_trades, is_active, created_at, notes`

// Registry manages the model_versions table and the artifacts it points to
type Registry struct {
	db     *sql.DB
	store  *artifacts.Store
	trades PnLSource
	log    zerolog.Logger
	now    func() time.Time
}

// New creates a registry
func New(db *sql.DB, store *artifacts.Store, trades PnLSource, log zerolog.Logger) *Registry {
	return &Registry{
		db:     db,
		store:  store,
		trades: trades,
		log:    log.With().Str("service", "registry").Logger(),
		now:    time.Now,
	}
}

// GetActive resolves the artifact for strategy. Each step is tried in order and a failing
// step only moves resolution on to the next one:
//
//  1. the active registry row, read from the local artifact directory
//  2. the same artifact downloaded from the remote mirror
//  3. the well-known default artifact for the strategy
//
// Returns nil when nothing is available, meaning the strategy is not ready.
func (r *Registry) GetActive(ctx context.Context, strategy domain.Strategy) (*ArtifactRef, error) {
	log := r.log.With().Str("strategy", string(strategy)).Logger()

	version, err := r.ActiveVersion(strategy)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("Registry lookup failed, falling back to default artifact")
	case version == nil:
		log.Debug().Msg("No active version registered")
	default:
		if r.store.Exists(version.ModelPath) {
			log.Debug().Int("version", version.VersionNumber).Msg("Resolved active version from local artifact")
			return &ArtifactRef{Path: r.store.Path(version.ModelPath), Source: SourceRegistry, Version: version}, nil
		}
		log.Warn().
			Int("version", version.VersionNumber).
			Str("path", version.ModelPath).
			Msg("Active version artifact missing locally")

		path, err := r.store.Fetch(ctx, version.ModelPath)
		if err == nil {
			log.Info().Int("version", version.VersionNumber).Msg("Resolved active version from mirror")
			return &ArtifactRef{Path: path, Source: SourceMirror, Version: version}, nil
		}
		log.Warn().Err(err).Int("version", version.VersionNumber).Msg("Mirror download failed")
	}

	defaultName := artifacts.DefaultName(strategy)
	if r.store.Exists(defaultName) {
		log.Info().Str("path", r.store.Path(defaultName)).Msg("Using default artifact")
		return &ArtifactRef{Path: r.store.Path(defaultName), Source: SourceDefault}, nil
	}

	log.Warn().Msg("No model available")
	return nil, nil
}

// ActiveVersion returns the active version for strategy, or nil.
// If more than one row is active the most recent wins and the inconsistency is logged.
func (r *Registry) ActiveVersion(strategy domain.Strategy) (*domain.ModelVersion, error) {
	versions, err := r.query(`
		SELECT `+versionColumns+` FROM model_versions
		WHERE strategy = ? AND is_active = 1
		ORDER BY created_at DESC, version_number DESC
	`, string(strategy))
	if err != nil {
		return nil, fmt.Errorf("failed to get active version: %w", err)
	}
	if len(versions) == 0 {
		return nil, nil
	}
	if len(versions) > 1 {
		r.log.Error().
			Str("strategy", string(strategy)).
			Int("active_rows", len(versions)).
			Int("using_version", versions[0].VersionNumber).
			Msg("Multiple active versions found")
	}
	return &versions[0], nil
}

// GetVersion returns one version or ErrVersionNotFound
func (r *Registry) GetVersion(strategy domain.Strategy, versionNumber int) (*domain.ModelVersion, error) {
	versions, err := r.query(
		"SELECT "+versionColumns+" FROM model_versions WHERE strategy = ? AND version_number = ?",
		string(strategy), versionNumber,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get version: %w", err)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%s v%d: %w", strategy, versionNumber, ErrVersionNotFound)
	}
	return &versions[0], nil
}

// List returns every version of strategy, newest first
func (r *Registry) List(strategy domain.Strategy) ([]domain.ModelVersion, error) {
	versions, err := r.query(
		"SELECT "+versionColumns+" FROM model_versions WHERE strategy = ? ORDER BY version_number DESC",
		string(strategy),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	return versions, nil
}

// LastFullRetrain returns the newest full_retrain version, or nil
func (r *Registry) LastFullRetrain(strategy domain.Strategy) (*domain.ModelVersion, error) {
	versions, err := r.query(`
		SELECT `+versionColumns+` FROM model_versions
		WHERE strategy = ? AND training_type = ?
		ORDER BY created_at DESC, version_number DESC
		LIMIT 1
	`, string(strategy), string(domain.TrainingFullRetrain))
	if err != nil {
		return nil, fmt.Errorf("failed to get last full retrain: %w", err)
	}
	if len(versions) == 0 {
		return nil, nil
	}
	return &versions[0], nil
}

// SaveRequest describes a newly trained model
type SaveRequest struct {
	Artifact         encoding.BinaryMarshaler
	Strategy         domain.Strategy
	TrainingType     domain.TrainingType
	TotalExperiences int
	Notes            string
}

// SaveVersion registers a new active version.
//
// Metrics are computed from trades closed since the previous version was created. Inside one
// transaction the next version number is allocated, prior versions are deactivated, the
// artifact is written locally under its versioned name and the new row is inserted. The
// artifact is on disk before the row commits, so a failed commit can leave an orphaned file
// but never a row without an artifact. The mirror upload runs after commit so a slow bucket
// never holds the database write lock.
func (r *Registry) SaveVersion(ctx context.Context, req SaveRequest) (*domain.ModelVersion, error) {
	if _, err := domain.ParseStrategy(string(req.Strategy)); err != nil {
		return nil, err
	}
	if req.Artifact == nil {
		return nil, fmt.Errorf("artifact is required")
	}
	data, err := req.Artifact.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("failed to serialize artifact: %w", err)
	}

	var since time.Time
	if prev, err := r.latest(req.Strategy); err != nil {
		return nil, err
	} else if prev != nil {
		since = prev.CreatedAt
	}
	perf, err := r.performanceSince(req.Strategy, since)
	if err != nil {
		return nil, err
	}

	version := domain.ModelVersion{
		Strategy:         req.Strategy,
		TrainingType:     req.TrainingType,
		TotalExperiences: req.TotalExperiences,
		WinRate:          &perf.WinRate,
		AvgPnL:           &perf.AvgPnL,
		SortinoRatio:     &perf.SortinoRatio,
		TotalTrades:      &perf.TotalTrades,
		IsActive:         true,
		CreatedAt:        r.now().UTC().Truncate(time.Millisecond),
		Notes:            req.Notes,
	}

	err = database.WithTransaction(r.db, func(tx *sql.Tx) error {
		if err := tx.QueryRow(
			"SELECT COALESCE(MAX(version_number), 0) + 1 FROM model_versions WHERE strategy = ?",
			string(req.Strategy),
		).Scan(&version.VersionNumber); err != nil {
			return fmt.Errorf("failed to allocate version number: %w", err)
		}

		if _, err := tx.Exec(
			"UPDATE model_versions SET is_active = 0 WHERE strategy = ? AND is_active = 1",
			string(req.Strategy),
		); err != nil {
			return fmt.Errorf("failed to deactivate previous versions: %w", err)
		}

		version.ModelPath = artifacts.VersionedName(req.Strategy, version.VersionNumber)
		if _, err := r.store.WriteLocal(version.ModelPath, data); err != nil {
			return err
		}

		res, err := tx.Exec(`
			INSERT INTO model_versions
			(version_number, strategy, model_path, training_type, total_experiences,
			 win_rate, avg_pnl, sortino_ratio, total_trades, is_active, created_at, notes)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
		`,
			version.VersionNumber,
			string(version.Strategy),
			version.ModelPath,
			string(version.TrainingType),
			version.TotalExperiences,
			perf.WinRate,
			perf.AvgPnL,
			perf.SortinoRatio,
			perf.TotalTrades,
			database.Millis(version.CreatedAt),
			nullString(version.Notes),
		)
		if err != nil {
			return fmt.Errorf("failed to insert version: %w", err)
		}
		version.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to save %s version: %w", req.Strategy, err)
	}

	r.store.Mirror(ctx, version.ModelPath, data)

	r.log.Info().
		Str("strategy", string(version.Strategy)).
		Int("version", version.VersionNumber).
		Str("training_type", string(version.TrainingType)).
		Int("total_experiences", version.TotalExperiences).
		Float64("win_rate", perf.WinRate).
		Int("total_trades", perf.TotalTrades).
		Msg("Model version saved")

	return &version, nil
}

// Performance summarises closed trades of strategy, optionally only those since a version was created.
func (r *Registry) Performance(strategy domain.Strategy, sinceVersion *int) (domain.Performance, error) {
	var since time.Time
	if sinceVersion != nil {
		v, err := r.GetVersion(strategy, *sinceVersion)
		if err != nil {
			return domain.Performance{}, err
		}
		since = v.CreatedAt
	}
	return r.performanceSince(strategy, since)
}

func (r *Registry) performanceSince(strategy domain.Strategy, since time.Time) (domain.Performance, error) {
	pnls, err := r.trades.ClosedPnLs(strategy, since)
	if err != nil {
		return domain.Performance{}, fmt.Errorf("failed to compute performance: %w", err)
	}
	m := formulas.CalculateTradeMetrics(pnls)
	return domain.Performance{
		WinRate:      formulas.Round(m.WinRate, 2),
		AvgPnL:       formulas.Round(m.AvgPnL, 4),
		SortinoRatio: formulas.Round(m.SortinoRatio, 4),
		TotalTrades:  m.TotalTrades,
	}, nil
}

// Activate makes versionNumber the only active version of strategy.
// Returns false without touching any row when the version does not exist.
func (r *Registry) Activate(strategy domain.Strategy, versionNumber int) (bool, error) {
	found := false
	err := database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var id int64
		err := tx.QueryRow(
			"SELECT id FROM model_versions WHERE strategy = ? AND version_number = ?",
			string(strategy), versionNumber,
		).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true

		_, err = tx.Exec(
			"UPDATE model_versions SET is_active = CASE WHEN id = ? THEN 1 ELSE 0 END WHERE strategy = ?",
			id, string(strategy),
		)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("failed to activate %s v%d: %w", strategy, versionNumber, err)
	}
	return found, nil
}

// Rollback re-activates an earlier version. Returns false when the version does not exist.
func (r *Registry) Rollback(strategy domain.Strategy, versionNumber int) (bool, error) {
	ok, err := r.Activate(strategy, versionNumber)
	if err != nil {
		return false, err
	}
	if !ok {
		r.log.Warn().Str("strategy", string(strategy)).Int("version", versionNumber).Msg("Rollback target not found")
		return false, nil
	}
	r.log.Info().Str("strategy", string(strategy)).Int("version", versionNumber).Msg("Rolled back model version")
	return true, nil
}

func (r *Registry) latest(strategy domain.Strategy) (*domain.ModelVersion, error) {
	versions, err := r.query(
		"SELECT "+versionColumns+" FROM model_versions WHERE strategy = ? ORDER BY version_number DESC LIMIT 1",
		string(strategy),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest version: %w", err)
	}
	if len(versions) == 0 {
		return nil, nil
	}
	return &versions[0], nil
}

func (r *Registry) query(query string, args ...any) ([]domain.ModelVersion, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []domain.ModelVersion
	for rows.Next() {
		v, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func scanVersion(rows *sql.Rows) (domain.ModelVersion, error) {
	var (
		v            domain.ModelVersion
		strategy     string
		trainingType string
		winRate      sql.NullFloat64
		avgPnL       sql.NullFloat64
		sortino      sql.NullFloat64
		totalTrades  sql.NullInt64
		createdAt    int64
		notes        sql.NullString
	)
	err := rows.Scan(
		&v.ID,
		&v.VersionNumber,
		&strategy,
		&v.ModelPath,
		&trainingType,
		&v.TotalExperiences,
		&winRate,
		&avgPnL,
		&sortino,
		&totalTrades,
		&v.IsActive,
		&createdAt,
		&notes,
	)
	if err != nil {
		return v, err
	}

	v.Strategy = domain.Strategy(strategy)
	v.TrainingType = domain.TrainingType(trainingType)
	v.CreatedAt = database.FromMillis(createdAt)
	v.Notes = notes.String
	if winRate.Valid {
		v.WinRate = &winRate.Float64
	}
	if avgPnL.Valid {
		v.AvgPnL = &avgPnL.Float64
	}
	if sortino.Valid {
		v.SortinoRatio = &sortino.Float64
	}
	if totalTrades.Valid {
		n := int(totalTrades.Int64)
		v.TotalTrades = &n
	}
	return v, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: s, Valid: true}
}

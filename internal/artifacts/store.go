// Package artifacts persists serialized model artifacts on local disk and, optionally,
// mirrors them to S3-compatible object storage.
package artifacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/domain"
)

// ErrNotFound is returned when an artifact does not exist
var ErrNotFound = errors.New("artifact not found")

// Mirror is a remote copy of the artifact directory
type Mirror interface {
	Upload(ctx context.Context, name string, data []byte) error
	// Download returns ErrNotFound when the object does not exist
	Download(ctx context.Context, name string) ([]byte, error)
}

// VersionedName is the file name of a registry version's artifact
func VersionedName(strategy domain.Strategy, version int) string {
	return fmt.Sprintf("dow30_%s_v%d.model", strategy, version)
}

// DefaultName is the well-known fallback artifact for a strategy
func DefaultName(strategy domain.Strategy) string {
	return fmt.Sprintf("dow30_%s.model", strategy)
}

// Store reads and writes artifacts under a single directory
type Store struct {
	dir    string
	mirror Mirror
	log    zerolog.Logger
}

// NewStore creates the directory if needed. mirror may be nil.
func NewStore(dir string, mirror Mirror, log zerolog.Logger) (*Store, error) {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve model directory: %w", err)
	}
	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}
	return &Store{
		dir:    absDir,
		mirror: mirror,
		log:    log.With().Str("component", "artifacts").Logger(),
	}, nil
}

// Dir returns the absolute artifact directory
func (s *Store) Dir() string {
	return s.dir
}

// Path resolves a stored model path. Relative paths are relative to Dir.
func (s *Store) Path(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.dir, name)
}

// Write stores data under name atomically, then mirrors it, and returns the absolute path.
// The mirror upload is best effort.
func (s *Store) Write(ctx context.Context, name string, data []byte) (string, error) {
	path, err := s.WriteLocal(name, data)
	if err != nil {
		return "", err
	}
	s.Mirror(ctx, name, data)
	return path, nil
}

// WriteLocal stores data under name atomically (temp file then rename) without touching
// the mirror, so it is safe to call while holding a database transaction.
func (s *Store) WriteLocal(name string, data []byte) (string, error) {
	path := s.Path(name)

	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to sync artifact: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to close artifact: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return "", fmt.Errorf("failed to move artifact into place: %w", err)
	}

	s.log.Info().Str("path", path).Int("bytes", len(data)).Msg("Artifact written")
	return path, nil
}

// Mirror uploads data under the base name of name. Failures are logged, never returned.
func (s *Store) Mirror(ctx context.Context, name string, data []byte) {
	if s.mirror == nil {
		return
	}
	key := filepath.Base(name)
	if err := s.mirror.Upload(ctx, key, data); err != nil {
		s.log.Warn().Err(err).Str("name", key).Msg("Failed to mirror artifact")
	}
}

// Exists reports whether the artifact is present locally
func (s *Store) Exists(name string) bool {
	info, err := os.Stat(s.Path(name))
	return err == nil && info.Mode().IsRegular()
}

// Read loads a local artifact
func (s *Store) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(s.Path(name))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", name, err)
	}
	return data, nil
}

// Fetch downloads name from the mirror into the local directory.
// Returns ErrNotFound when there is no mirror or the object is missing.
func (s *Store) Fetch(ctx context.Context, name string) (string, error) {
	if s.mirror == nil {
		return "", fmt.Errorf("no mirror configured: %w", ErrNotFound)
	}
	data, err := s.mirror.Download(ctx, filepath.Base(name))
	if err != nil {
		return "", err
	}

	path := s.Path(filepath.Base(name))
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to cache mirrored artifact: %w", err)
	}
	s.log.Info().Str("path", path).Msg("Artifact restored from mirror")
	return path, nil
}

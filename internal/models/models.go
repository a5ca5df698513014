// Package models owns the in-memory model references used by the trading loop and the
// serving endpoint. A Handle is swapped atomically; readers take one snapshot and use it
// for the whole cycle or request.
package models

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/modules/registry"
	"github.com/aristath/swingbot/internal/policy"
)

// ErrNotReady is returned when no model is available for a strategy
var ErrNotReady = errors.New("model not ready")

// Resolver finds the artifact to load for a strategy
type Resolver interface {
	GetActive(ctx context.Context, strategy domain.Strategy) (*registry.ArtifactRef, error)
}

// Loaded is an immutable model snapshot
type Loaded struct {
	Strategy domain.Strategy
	Model    policy.Model
	Ref      registry.ArtifactRef
	ModTime  time.Time
	LoadedAt time.Time
}

// Version returns the registry version number, or 0 for the default artifact
func (l *Loaded) Version() int {
	if l == nil {
		return 0
	}
	return refVersion(l.Ref)
}

func (l *Loaded) sameArtifact(ref registry.ArtifactRef, modTime time.Time) bool {
	return l != nil &&
		l.Ref.Path == ref.Path &&
		l.Ref.Source == ref.Source &&
		refVersion(l.Ref) == refVersion(ref) &&
		l.ModTime.Equal(modTime)
}

func refVersion(ref registry.ArtifactRef) int {
	if ref.Version == nil {
		return 0
	}
	return ref.Version.VersionNumber
}

// Loader turns a resolved artifact into a policy
type Loader struct {
	resolver Resolver
	log      zerolog.Logger
}

// NewLoader creates a loader
func NewLoader(resolver Resolver, log zerolog.Logger) *Loader {
	return &Loader{
		resolver: resolver,
		log:      log.With().Str("component", "model_loader").Logger(),
	}
}

// Resolve returns the current artifact reference and its modification time
func (l *Loader) Resolve(ctx context.Context, strategy domain.Strategy) (*registry.ArtifactRef, time.Time, error) {
	ref, err := l.resolver.GetActive(ctx, strategy)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to resolve %s model: %w", strategy, err)
	}
	if ref == nil {
		return nil, time.Time{}, fmt.Errorf("%s: %w", strategy, ErrNotReady)
	}
	info, err := os.Stat(ref.Path)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("failed to stat artifact %s: %w", ref.Path, err)
	}
	return ref, info.ModTime(), nil
}

// Load resolves and decodes the model for strategy
func (l *Loader) Load(ctx context.Context, strategy domain.Strategy) (*Loaded, error) {
	ref, modTime, err := l.Resolve(ctx, strategy)
	if err != nil {
		return nil, err
	}
	return l.decode(strategy, *ref, modTime)
}

func (l *Loader) decode(strategy domain.Strategy, ref registry.ArtifactRef, modTime time.Time) (*Loaded, error) {
	data, err := os.ReadFile(ref.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to read artifact %s: %w", ref.Path, err)
	}
	p, err := policy.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", ref.Path, err)
	}

	loaded := &Loaded{
		Strategy: strategy,
		Model:    p,
		Ref:      ref,
		ModTime:  modTime,
		LoadedAt: time.Now(),
	}
	l.log.Info().
		Str("strategy", string(strategy)).
		Str("source", string(ref.Source)).
		Str("path", ref.Path).
		Int("version", loaded.Version()).
		Msg("Model loaded")
	return loaded, nil
}

// Handle is the swappable model reference for one strategy
type Handle struct {
	strategy domain.Strategy
	loader   *Loader
	current  atomic.Pointer[Loaded]
	mu       sync.Mutex // serialises reloads
}

// NewHandle creates an empty handle
func NewHandle(strategy domain.Strategy, loader *Loader) *Handle {
	return &Handle{strategy: strategy, loader: loader}
}

// Strategy returns the strategy this handle serves
func (h *Handle) Strategy() domain.Strategy {
	return h.strategy
}

// Current returns the current snapshot, or nil when nothing has been loaded
func (h *Handle) Current() *Loaded {
	return h.current.Load()
}

// Reload resolves the active artifact and swaps it in when it differs from the current one.
// On failure the previous snapshot stays in place.
func (h *Handle) Reload(ctx context.Context) (changed bool, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ref, modTime, err := h.loader.Resolve(ctx, h.strategy)
	if err != nil {
		return false, err
	}
	if h.current.Load().sameArtifact(*ref, modTime) {
		return false, nil
	}

	loaded, err := h.loader.decode(h.strategy, *ref, modTime)
	if err != nil {
		return false, err
	}
	h.current.Store(loaded)
	return true, nil
}

// Set holds one handle per strategy
type Set struct {
	handles map[domain.Strategy]*Handle
	log     zerolog.Logger
}

// NewSet creates handles for every strategy
func NewSet(loader *Loader, log zerolog.Logger) *Set {
	s := &Set{
		handles: make(map[domain.Strategy]*Handle),
		log:     log.With().Str("component", "model_set").Logger(),
	}
	for _, strategy := range domain.Strategies() {
		s.handles[strategy] = NewHandle(strategy, loader)
	}
	return s
}

// LoadAll attempts to load every strategy. Missing models are logged, not fatal.
func (s *Set) LoadAll(ctx context.Context) {
	for _, strategy := range domain.Strategies() {
		if _, err := s.handles[strategy].Reload(ctx); err != nil {
			s.log.Warn().Err(err).Str("strategy", string(strategy)).Msg("Model not loaded")
		}
	}
}

// Get refreshes the handle for strategy from the registry and returns a snapshot.
// A failed refresh falls back to the previously loaded model.
func (s *Set) Get(ctx context.Context, strategy domain.Strategy) (*Loaded, error) {
	h, ok := s.handles[strategy]
	if !ok {
		return nil, fmt.Errorf("unknown strategy %q", strategy)
	}
	if _, err := h.Reload(ctx); err != nil {
		if current := h.Current(); current != nil {
			s.log.Warn().Err(err).Str("strategy", string(strategy)).Msg("Model refresh failed, serving previous model")
			return current, nil
		}
		if errors.Is(err, ErrNotReady) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrNotReady, err)
	}
	return h.Current(), nil
}

// Ready reports which strategies currently hold a model
func (s *Set) Ready() map[domain.Strategy]bool {
	out := make(map[domain.Strategy]bool, len(s.handles))
	for strategy, h := range s.handles {
		out[strategy] = h.Current() != nil
	}
	return out
}

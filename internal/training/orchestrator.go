// Package training decides how a strategy's model should be refreshed and drives the
// learner through historical and recent-market environments before committing a version.
package training

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/swingbot/internal/config"
	"github.com/aristath/swingbot/internal/domain"
	"github.com/aristath/swingbot/internal/events"
	"github.com/aristath/swingbot/internal/marketdata"
	"github.com/aristath/swingbot/internal/modules/experiences"
	"github.com/aristath/swingbot/internal/modules/registry"
	"github.com/aristath/swingbot/internal/policy"
	"github.com/aristath/swingbot/internal/reward"
)

// ErrNoModelTrained is returned when no symbol produced usable training data
var ErrNoModelTrained = errors.New("no model was trained")

// Training modes
const (
	ModeInitial     = domain.TrainingInitial
	ModeFullRetrain = domain.TrainingFullRetrain
	ModeOnline      = domain.TrainingOnline
)

// ExperienceStore is the part of the experience log the orchestrator needs
type ExperienceStore interface {
	ReconcileIncomplete(cfg reward.Config) (int, error)
	LoadForTraining(opts experiences.LoadOptions) ([]domain.Experience, error)
	CountCompleted(strategy domain.Strategy, since time.Time) (int, error)
}

// Registry is the part of the model registry the orchestrator needs
type Registry interface {
	GetActive(ctx context.Context, strategy domain.Strategy) (*registry.ArtifactRef, error)
	LastFullRetrain(strategy domain.Strategy) (*domain.ModelVersion, error)
	SaveVersion(ctx context.Context, req registry.SaveRequest) (*domain.ModelVersion, error)
}

// Plan is the outcome of Decide
type Plan struct {
	Mode        domain.TrainingType
	Active      *registry.ArtifactRef
	Experiences []domain.Experience // Online only: unseen completed experiences
	Skip        bool
}

// Result summarises one Run
type Result struct {
	Strategy    domain.Strategy
	Mode        domain.TrainingType
	Skipped     bool
	Version     *domain.ModelVersion
	Symbols     int // Symbols that contributed environment steps
	Steps       int
	Experiences int // Experiences that seeded online environments
}

// Orchestrator runs the retraining protocol for one strategy at a time
type Orchestrator struct {
	experiences ExperienceStore
	registry    Registry
	market      domain.MarketData
	events      events.Recorder
	cfg         config.TrainingConfig
	reward      reward.Config
	universe    []string
	log         zerolog.Logger
	now         func() time.Time
}

// Config wires an Orchestrator
type Config struct {
	Experiences ExperienceStore
	Registry    Registry
	Market      domain.MarketData
	Events      events.Recorder
	Training    config.TrainingConfig
	Reward      reward.Config
	Universe    []string
	Log         zerolog.Logger
}

// New creates an orchestrator
func New(c Config) *Orchestrator {
	rec := c.Events
	if rec == nil {
		rec = events.Nop{}
	}
	return &Orchestrator{
		experiences: c.Experiences,
		registry:    c.Registry,
		market:      c.Market,
		events:      rec,
		cfg:         c.Training,
		reward:      c.Reward,
		universe:    c.Universe,
		log:         c.Log.With().Str("service", "training").Logger(),
		now:         time.Now,
	}
}

// Decide chooses the training mode:
//
//   - no model resolvable: initial
//   - no full retrain yet, or the last one is at least FullRetrainInterval old: full_retrain
//   - otherwise online over experiences completed since the active version, skipped when none
func (o *Orchestrator) Decide(ctx context.Context, strategy domain.Strategy) (*Plan, error) {
	active, err := o.registry.GetActive(ctx, strategy)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve active model: %w", err)
	}
	if active == nil {
		return &Plan{Mode: ModeInitial}, nil
	}

	last, err := o.registry.LastFullRetrain(strategy)
	if err != nil {
		return nil, err
	}
	if last == nil || o.now().Sub(last.CreatedAt) >= o.cfg.FullRetrainInterval {
		return &Plan{Mode: ModeFullRetrain, Active: active}, nil
	}

	var since time.Time
	if active.Version != nil {
		since = active.Version.CreatedAt
	}
	exps, err := o.experiences.LoadForTraining(experiences.LoadOptions{
		Limit:         o.cfg.OnlineExperienceLimit,
		CompletedOnly: true,
		Strategy:      strategy,
		Since:         since,
	})
	if err != nil {
		return nil, err
	}
	return &Plan{Mode: ModeOnline, Active: active, Experiences: exps, Skip: len(exps) == 0}, nil
}

// Run reconciles pending rewards, decides the mode, trains and saves a new active version.
// A skipped online update returns a Result with Skipped set and no version.
func (o *Orchestrator) Run(ctx context.Context, strategy domain.Strategy) (*Result, error) {
	shaper, err := o.reward.For(strategy)
	if err != nil {
		return nil, err
	}
	o.reconcile(strategy)

	plan, err := o.Decide(ctx, strategy)
	if err != nil {
		return nil, err
	}
	o.log.Info().Str("strategy", string(strategy)).Str("mode", string(plan.Mode)).Msg("Training plan decided")

	return o.execute(ctx, strategy, shaper, plan, fmt.Sprintf("Scheduled retrain - %s", plan.Mode))
}

// Train runs a fresh training from history regardless of the registry state and saves
// the result as a new active initial version
func (o *Orchestrator) Train(ctx context.Context, strategy domain.Strategy) (*Result, error) {
	shaper, err := o.reward.For(strategy)
	if err != nil {
		return nil, err
	}
	o.reconcile(strategy)
	return o.execute(ctx, strategy, shaper, &Plan{Mode: ModeInitial}, "Manual training - initial")
}

// reconcile backfills pending rewards so training sees every closed position.
// Failure only narrows the training set.
func (o *Orchestrator) reconcile(strategy domain.Strategy) {
	if n, err := o.experiences.ReconcileIncomplete(o.reward); err != nil {
		o.log.Warn().Err(err).Str("strategy", string(strategy)).Msg("Reconcile failed, continuing with completed experiences")
	} else if n > 0 {
		o.log.Info().Int("backfilled", n).Str("strategy", string(strategy)).Msg("Backfilled rewards before training")
	}
}

func (o *Orchestrator) execute(ctx context.Context, strategy domain.Strategy, shaper reward.Shaper, plan *Plan, notes string) (*Result, error) {
	log := o.log.With().Str("strategy", string(strategy)).Logger()
	result := &Result{Strategy: strategy, Mode: plan.Mode}

	if plan.Skip {
		log.Info().Msg("No new experiences, skipping update")
		result.Skipped = true
		return result, nil
	}

	var learner *policy.Learner
	var err error
	switch plan.Mode {
	case ModeInitial, ModeFullRetrain:
		learner, err = o.trainFromHistory(ctx, strategy, shaper, result)
		if err != nil {
			return nil, err
		}
		exps, err := o.experiences.LoadForTraining(experiences.LoadOptions{
			Limit:         o.cfg.FullExperienceLimit,
			CompletedOnly: true,
			Strategy:      strategy,
		})
		if err != nil {
			return nil, err
		}
		if err := o.onlinePass(ctx, learner, exps, shaper, result); err != nil {
			return nil, err
		}

	case ModeOnline:
		current, err := loadPolicy(plan.Active.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to load active model: %w", err)
		}
		learner = o.newLearner(current)
		if err := o.onlinePass(ctx, learner, plan.Experiences, shaper, result); err != nil {
			return nil, err
		}
	}

	total, err := o.experiences.CountCompleted(strategy, time.Time{})
	if err != nil {
		return nil, err
	}

	version, err := o.registry.SaveVersion(ctx, registry.SaveRequest{
		Artifact:         learner.Policy(),
		Strategy:         strategy,
		TrainingType:     plan.Mode,
		TotalExperiences: total,
		Notes:            notes,
	})
	if err != nil {
		return nil, err
	}
	result.Version = version

	o.events.Emit("training", &events.VersionSavedData{
		Strategy:         string(strategy),
		Version:          version.VersionNumber,
		TrainingType:     string(version.TrainingType),
		TotalExperiences: version.TotalExperiences,
		ModelPath:        version.ModelPath,
	})
	log.Info().
		Int("version", version.VersionNumber).
		Int("symbols", result.Symbols).
		Int("steps", result.Steps).
		Int("experiences", result.Experiences).
		Msg("Training complete")

	return result, nil
}

// trainFromHistory trains a fresh policy over the historical window of every symbol in
// the universe, carrying the same policy from one symbol to the next
func (o *Orchestrator) trainFromHistory(ctx context.Context, strategy domain.Strategy, shaper reward.Shaper, result *Result) (*policy.Learner, error) {
	rng := rand.New(rand.NewSource(o.cfg.Seed))
	learner := o.newLearner(policy.NewLinearPolicy(policy.WindowSize, policy.FeatureCount, rng))

	for i, ticker := range o.universe {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		log := o.log.With().Str("ticker", ticker).Int("index", i+1).Int("of", len(o.universe)).Logger()

		bars, err := o.market.History(ctx, ticker, o.cfg.HistoryStart, o.cfg.HistoryEnd)
		if err == nil {
			err = marketdata.Require(bars, o.cfg.MinHistoryRows)
		}
		if err != nil {
			log.Warn().Err(err).Msg("Skipping symbol")
			continue
		}

		steps, err := o.learnOn(ctx, learner, bars, shaper, o.cfg.StepsPerSymbol)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn().Err(err).Msg("Training on symbol failed")
			continue
		}
		result.Symbols++
		result.Steps += steps
		log.Debug().Int("steps", steps).Msg("Symbol trained")
	}

	if result.Symbols == 0 {
		return nil, fmt.Errorf("%s: %w", strategy, ErrNoModelTrained)
	}
	return learner, nil
}

// onlinePass trains on fresh recent-market environments for the tickers in exps, with a
// step budget proportional to each ticker's experience count. The recorded observations
// only select tickers and budgets; they are not fed to the learner.
func (o *Orchestrator) onlinePass(ctx context.Context, learner *policy.Learner, exps []domain.Experience, shaper reward.Shaper, result *Result) error {
	if len(exps) == 0 {
		return nil
	}

	byTicker := make(map[string]int)
	for _, e := range exps {
		byTicker[e.Ticker]++
	}
	tickers := make([]string, 0, len(byTicker))
	for t := range byTicker {
		tickers = append(tickers, t)
	}
	sort.Strings(tickers)

	for _, ticker := range tickers {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := o.log.With().Str("ticker", ticker).Logger()

		bars, err := o.market.Recent(ctx, ticker, o.cfg.OnlinePeriod)
		if err == nil {
			err = marketdata.Require(bars, o.cfg.MinOnlineRows)
		}
		if err != nil {
			log.Warn().Err(err).Msg("Skipping online update for symbol")
			continue
		}

		budget := min(o.cfg.OnlineTimesteps, byTicker[ticker]*o.cfg.StepsPerExperience)
		steps, err := o.learnOn(ctx, learner, bars, shaper, budget)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn().Err(err).Msg("Online update failed for symbol")
			continue
		}
		result.Steps += steps
		result.Symbols++
	}

	result.Experiences += len(exps)
	return nil
}

func (o *Orchestrator) learnOn(ctx context.Context, learner *policy.Learner, bars []domain.Bar, shaper reward.Shaper, steps int) (int, error) {
	env, err := policy.NewStocksEnv(bars, policy.EnvConfig{
		Window: policy.WindowSize,
		Shaper: shaper,
	})
	if err != nil {
		return 0, err
	}
	stats, err := learner.Learn(ctx, env, steps)
	return stats.Steps, err
}

func (o *Orchestrator) newLearner(p *policy.LinearPolicy) *policy.Learner {
	cfg := policy.DefaultLearnerConfig()
	if o.cfg.LearningRate > 0 {
		cfg.LearningRate = o.cfg.LearningRate
	}
	cfg.Seed = o.cfg.Seed
	return policy.NewLearner(p, cfg, o.log)
}

func loadPolicy(path string) (*policy.LinearPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return policy.Decode(data)
}

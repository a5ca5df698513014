package policy

import (
	"context"
	"fmt"
	"math"
	"math/rand"

	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/aristath/swingbot/internal/domain"
)

// LearnerConfig holds policy-gradient hyperparameters
type LearnerConfig struct {
	LearningRate float64
	Discount     float64
	Seed         int64
}

// DefaultLearnerConfig returns the defaults used by the training pipeline
func DefaultLearnerConfig() LearnerConfig {
	return LearnerConfig{LearningRate: 0.01, Discount: 0.99, Seed: 42}
}

// LearnStats summarises one Learn call
type LearnStats struct {
	Steps             int
	Episodes          int
	MeanEpisodeReward float64
}

// Learner improves a LinearPolicy in place with Monte-Carlo policy gradient (REINFORCE)
// using a mean baseline and normalised returns.
type Learner struct {
	policy *LinearPolicy
	cfg    LearnerConfig
	rng    *rand.Rand
	log    zerolog.Logger
}

type transition struct {
	x      []float64
	action float64
	prob   float64
	reward float64
}

// NewLearner wraps policy
func NewLearner(policy *LinearPolicy, cfg LearnerConfig, log zerolog.Logger) *Learner {
	if cfg.LearningRate <= 0 {
		cfg.LearningRate = DefaultLearnerConfig().LearningRate
	}
	if cfg.Discount <= 0 || cfg.Discount > 1 {
		cfg.Discount = DefaultLearnerConfig().Discount
	}
	return &Learner{
		policy: policy,
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		log:    log.With().Str("component", "learner").Logger(),
	}
}

// Policy returns the policy being trained
func (l *Learner) Policy() *LinearPolicy {
	return l.policy
}

// Learn runs episodes on env until steps transitions have been collected.
// A partial final episode is still used for an update.
func (l *Learner) Learn(ctx context.Context, env Environment, steps int) (LearnStats, error) {
	var stats LearnStats
	if steps <= 0 {
		return stats, nil
	}

	var episodeRewards []float64
	for stats.Steps < steps {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		obs := env.Reset()
		var traj []transition
		episodeReward := 0.0

		for stats.Steps < steps {
			x, err := l.policy.input(obs)
			if err != nil {
				return stats, fmt.Errorf("environment produced an invalid observation: %w", err)
			}
			p := l.policy.buyProbability(x)
			action := domain.ActionSell
			if l.rng.Float64() < p {
				action = domain.ActionBuy
			}

			next, r, terminated, truncated, _ := env.Step(action)
			traj = append(traj, transition{x: x, action: float64(action), prob: p, reward: r})
			episodeReward += r
			stats.Steps++
			obs = next

			if terminated || truncated {
				break
			}
		}

		l.update(traj)
		stats.Episodes++
		episodeRewards = append(episodeRewards, episodeReward)
	}

	if len(episodeRewards) > 0 {
		stats.MeanEpisodeReward = stat.Mean(episodeRewards, nil)
	}
	l.policy.TrainedSteps += stats.Steps

	l.log.Debug().
		Int("steps", stats.Steps).
		Int("episodes", stats.Episodes).
		Float64("mean_episode_reward", stats.MeanEpisodeReward).
		Msg("Learning pass complete")

	return stats, nil
}

func (l *Learner) update(traj []transition) {
	if len(traj) == 0 {
		return
	}

	returns := make([]float64, len(traj))
	g := 0.0
	for i := len(traj) - 1; i >= 0; i-- {
		g = traj[i].reward + l.cfg.Discount*g
		returns[i] = g
	}

	mean, std := stat.MeanStdDev(returns, nil)
	for i, t := range traj {
		adv := returns[i] - mean
		if std > 1e-12 && !math.IsNaN(std) {
			adv /= std
		}
		l.step(t.x, t.action, t.prob, adv)
	}
}

// step moves the weights along advantage * d/dθ log π(action|x)
func (l *Learner) step(x []float64, action, prob, advantage float64) {
	coef := l.cfg.LearningRate * advantage * (action - prob)
	if math.IsNaN(coef) || math.IsInf(coef, 0) {
		return
	}
	floats.AddScaled(l.policy.Weights, coef, x)
	l.policy.Bias += coef
}

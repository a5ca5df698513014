package policy

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/floats"

	"github.com/aristath/swingbot/internal/domain"
)

const artifactFormat = 1

// LinearPolicy is a logistic policy over a price-normalised observation window.
// The buy logit is w·x + b and the sell logit is fixed at zero.
type LinearPolicy struct {
	Format       int       `msgpack:"format"`
	Window       int       `msgpack:"window"`
	Features     int       `msgpack:"features"`
	Weights      []float64 `msgpack:"weights"`
	Bias         float64   `msgpack:"bias"`
	TrainedSteps int       `msgpack:"trained_steps"`
}

// NewLinearPolicy creates a policy with small random weights drawn from rng
func NewLinearPolicy(window, features int, rng *rand.Rand) *LinearPolicy {
	weights := make([]float64, window*features)
	for i := range weights {
		weights[i] = rng.NormFloat64() * 0.01
	}
	return &LinearPolicy{
		Format:   artifactFormat,
		Window:   window,
		Features: features,
		Weights:  weights,
	}
}

// Clone returns a deep copy
func (p *LinearPolicy) Clone() *LinearPolicy {
	c := *p
	c.Weights = append([]float64(nil), p.Weights...)
	return &c
}

// Predict returns the deterministic action and the action probabilities.
// Ties resolve to sell.
func (p *LinearPolicy) Predict(obs domain.Observation) (Prediction, error) {
	x, err := p.input(obs)
	if err != nil {
		return Prediction{}, err
	}
	buy := p.buyProbability(x)
	action := domain.ActionSell
	if buy > 0.5 {
		action = domain.ActionBuy
	}
	return Prediction{Action: action, BuyProbability: buy, SellProbability: 1 - buy}, nil
}

// input normalises obs relative to its last close and flattens it
func (p *LinearPolicy) input(obs domain.Observation) ([]float64, error) {
	if len(obs) != p.Window {
		return nil, fmt.Errorf("observation has %d rows, policy expects %d", len(obs), p.Window)
	}
	last := obs[len(obs)-1]
	if len(last) == 0 || last[0] <= 0 || math.IsNaN(last[0]) {
		return nil, fmt.Errorf("observation has no valid reference close")
	}
	ref := last[0]

	x := make([]float64, 0, p.Window*p.Features)
	for i, row := range obs {
		if len(row) != p.Features {
			return nil, fmt.Errorf("observation row %d has %d features, policy expects %d", i, len(row), p.Features)
		}
		x = append(x, row[0]/ref-1)
		for _, v := range row[1:] {
			x = append(x, v/ref)
		}
	}
	return x, nil
}

func (p *LinearPolicy) buyProbability(x []float64) float64 {
	return sigmoid(floats.Dot(p.Weights, x) + p.Bias)
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

// MarshalBinary encodes the policy as a msgpack artifact
func (p *LinearPolicy) MarshalBinary() ([]byte, error) {
	data, err := msgpack.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to encode policy: %w", err)
	}
	return data, nil
}

// Decode reads a msgpack artifact written by MarshalBinary
func Decode(data []byte) (*LinearPolicy, error) {
	var p LinearPolicy
	if err := msgpack.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode policy: %w", err)
	}
	if p.Format != artifactFormat {
		return nil, fmt.Errorf("unsupported policy format %d", p.Format)
	}
	if p.Window <= 0 || p.Features <= 0 || len(p.Weights) != p.Window*p.Features {
		return nil, fmt.Errorf("corrupt policy: window=%d features=%d weights=%d", p.Window, p.Features, len(p.Weights))
	}
	for _, w := range p.Weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("corrupt policy: non-finite weight")
		}
	}
	return &p, nil
}

package dfo

import (
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// mayflyOptimizer wraps the mayfly swarm. The library takes scalar bounds,
// so the widest per-dimension envelope is handed over and candidates are
// projected back onto the true box inside the cost wrapper.
type mayflyOptimizer struct {
	cfg Config
}

func (m *mayflyOptimizer) Run(eval func([]float64) float64, lower, upper, x0 []float64) ([]float64, float64, int) {
	evals := 0
	wrapped := func(x []float64) float64 {
		evals++
		return eval(clamp(x, lower, upper))
	}

	lo, hi := lower[0], upper[0]
	for i := 1; i < len(lower); i++ {
		if lower[i] < lo {
			lo = lower[i]
		}
		if upper[i] > hi {
			hi = upper[i]
		}
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = wrapped
	config.ProblemSize = len(x0)
	config.MaxIterations = m.cfg.MaxIterations
	config.NPop = m.cfg.Population
	config.LowerBound = lo
	config.UpperBound = hi
	config.Rand = rand.New(rand.NewSource(m.cfg.Seed))

	warm := clamp(x0, lower, upper)
	warmCost := wrapped(warm)

	result, err := mayfly.Optimize(config)
	if err != nil {
		return warm, warmCost, evals
	}

	best := clamp(result.GlobalBest.Position, lower, upper)
	bestCost := result.GlobalBest.Cost
	if warmCost <= bestCost {
		return warm, warmCost, evals
	}
	return best, bestCost, evals
}

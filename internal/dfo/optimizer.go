// Package dfo provides derivative-free optimizers behind one interface:
// a mayfly swarm and a Nelder-Mead simplex. Both minimize a plain cost
// function over a box, warm-started from a caller-supplied point.
package dfo

import "fmt"

// Optimizer minimizes eval over the box [lower, upper] starting from x0.
// It returns the best point found, its cost and the evaluation count. The
// returned point never improves on x0's cost by accident of bad luck: an
// optimizer keeps the warm start when its own search does worse.
type Optimizer interface {
	Run(eval func([]float64) float64, lower, upper, x0 []float64) ([]float64, float64, int)
}

// Config carries the shared optimizer knobs.
type Config struct {
	MaxIterations int
	Population    int
	Seed          int64
}

// Algorithm names accepted by New.
const (
	AlgorithmMayfly     = "mayfly"
	AlgorithmNelderMead = "neldermead"
)

// New builds the named optimizer.
func New(name string, cfg Config) (Optimizer, error) {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 100
	}
	if cfg.Population <= 0 {
		cfg.Population = 20
	}
	switch name {
	case AlgorithmMayfly:
		return &mayflyOptimizer{cfg: cfg}, nil
	case AlgorithmNelderMead:
		return &nelderMeadOptimizer{cfg: cfg}, nil
	default:
		return nil, fmt.Errorf("dfo: unknown algorithm %q", name)
	}
}

// clamp projects x onto the box, element-wise.
func clamp(x, lower, upper []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		if v < lower[i] {
			v = lower[i]
		}
		if v > upper[i] {
			v = upper[i]
		}
		out[i] = v
	}
	return out
}

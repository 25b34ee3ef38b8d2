package dfo

import (
	"gonum.org/v1/gonum/optimize"
)

// nelderMeadOptimizer runs gonum's simplex search. The method itself is
// unconstrained, so the cost wrapper projects every probe onto the box.
type nelderMeadOptimizer struct {
	cfg Config
}

func (n *nelderMeadOptimizer) Run(eval func([]float64) float64, lower, upper, x0 []float64) ([]float64, float64, int) {
	evals := 0
	wrapped := func(x []float64) float64 {
		evals++
		return eval(clamp(x, lower, upper))
	}

	warm := clamp(x0, lower, upper)
	warmCost := wrapped(warm)

	problem := optimize.Problem{Func: wrapped}
	settings := &optimize.Settings{
		MajorIterations: n.cfg.MaxIterations,
		FuncEvaluations: n.cfg.MaxIterations * max(1, len(x0)) * 4,
	}

	result, err := optimize.Minimize(problem, warm, settings, &optimize.NelderMead{})
	if err != nil && result == nil {
		return warm, warmCost, evals
	}

	best := clamp(result.X, lower, upper)
	bestCost := eval(best)
	evals++
	if warmCost <= bestCost {
		return warm, warmCost, evals
	}
	return best, bestCost, evals
}

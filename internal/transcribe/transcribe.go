// Package transcribe converts an optimal-control problem over a dynamic-system
// model into a finite-dimensional nonlinear program and solves it with SLSQP.
//
// The augmented problem mirrors the model plus one input per extra exogenous
// signal and one accumulator state J with dJ/dt equal to the objective
// integrand, J = 0 at horizon start. The stage objective is J at final time.
// Direct transcription is used: control trajectories are discretized on the
// seed trajectory's grid and become the decision vector; declared constraint
// clauses become bound or inequality/equality rows; gradients are estimated
// by finite differences.
package transcribe

import (
	"fmt"
	"sort"

	"github.com/san-kum/mpcopt/internal/constraint"
	"github.com/san-kum/mpcopt/internal/model"
	"github.com/san-kum/mpcopt/internal/series"
	"gonum.org/v1/gonum/mat"
)

// Recipe describes the augmented problem a formulation wants built.
type Recipe struct {
	// ObjectiveVariable names the integrand of the accumulator state.
	// Empty means a zero integrand (parameter estimation).
	ObjectiveVariable string
	// PriceSignal, when non-empty, multiplies the integrand by the named
	// extra input's value.
	PriceSignal string
	// ExtraInputs are exogenous signals the formulation requires beyond the
	// model's own inputs. Their trajectories arrive as eliminated inputs.
	ExtraInputs []string
	// EstimateParameters switches the decision set from control trajectories
	// to the model's free parameters, each bounded by its declared min/max.
	EstimateParameters bool
	// Clauses are the compiled constraint records.
	Clauses []constraint.Clause
}

// QuadPen is one quadratic tracking target: measured values at elapsed-time
// stamps inside the horizon.
type QuadPen struct {
	Times  []float64
	Values []float64
}

// ExternalData carries quadratic tracking penalties and the eliminated-input
// set. Eliminated inputs are treated as data, not free variables.
type ExternalData struct {
	// Tracked lists the tracked channels in weight-matrix order.
	Tracked []string
	// Q holds one diagonal weight per tracked channel.
	Q *mat.DiagDense
	// QuadPen maps tracked channel name to its target sub-series.
	QuadPen map[string]QuadPen
	// Eliminated maps fixed input name to its trajectory.
	Eliminated map[string]*series.Timeseries
}

// Weight returns the tracking weight for channel name, zero when untracked.
func (e *ExternalData) Weight(name string) float64 {
	if e == nil || e.Q == nil {
		return 0
	}
	for i, tracked := range e.Tracked {
		if tracked == name {
			return e.Q.At(i, i)
		}
	}
	return 0
}

// Options steer one transcribed solve. ExternalData, InitTraj, NominalTraj
// and Intervals are recomputed by the calling backend before every solve.
type Options struct {
	MaxIterations int
	Accuracy      float64
	ExternalData  *ExternalData
	InitTraj      *model.SimResult
	NominalTraj   *model.SimResult
	Intervals     int
}

// Problem is a transcribed optimal-control problem. Build it once per backend
// lifetime; Set point values and Optimize per solve.
type Problem struct {
	model  *model.Model
	recipe Recipe
	values map[string]float64
}

// Build transcribes the augmented problem described by recipe against m.
func Build(m *model.Model, recipe Recipe) (*Problem, error) {
	if recipe.ObjectiveVariable == "" && !recipe.EstimateParameters {
		return nil, fmt.Errorf("transcribe: objective variable required")
	}
	for _, c := range recipe.Clauses {
		if !c.Kind.Valid() {
			return nil, fmt.Errorf("transcribe: unknown constraint kind %q on %s", c.Kind, c.Variable)
		}
	}
	return &Problem{
		model:  m,
		recipe: recipe,
		values: make(map[string]float64),
	}, nil
}

// DefaultOptions returns the transcription's default option set.
func (p *Problem) DefaultOptions() Options {
	return Options{MaxIterations: 80, Accuracy: 1e-6}
}

// Clauses returns the compiled constraint clauses the problem carries.
func (p *Problem) Clauses() []constraint.Clause {
	return append([]constraint.Clause(nil), p.recipe.Clauses...)
}

// Set stores a named point value: "start_time", "final_time" or a declared
// model parameter (its solve seed).
func (p *Problem) Set(name string, value float64) error {
	switch name {
	case "start_time", "final_time":
		p.values[name] = value
		return nil
	}
	if _, ok := p.model.Parameter(name); !ok {
		return fmt.Errorf("transcribe: unknown point value %s", name)
	}
	p.values[name] = value
	return nil
}

// decisionLayout fixes the mapping from decision-vector index to
// (channel, sample) or free parameter.
type decisionLayout struct {
	grid     []float64
	controls []string
	params   []*model.Parameter
	n        int
}

func (p *Problem) layout(opts Options) (*decisionLayout, error) {
	if opts.InitTraj == nil || opts.InitTraj.Samples() < 2 {
		return nil, fmt.Errorf("transcribe: seed trajectory required")
	}
	if opts.Intervals != opts.InitTraj.Samples()-1 {
		return nil, fmt.Errorf("transcribe: interval count %d does not match seed trajectory (%d samples)",
			opts.Intervals, opts.InitTraj.Samples())
	}

	lay := &decisionLayout{grid: opts.InitTraj.Time}
	if p.recipe.EstimateParameters {
		lay.params = p.model.FreeParameters()
		sort.Slice(lay.params, func(i, j int) bool { return lay.params[i].Name < lay.params[j].Name })
		lay.n = len(lay.params)
		if lay.n == 0 {
			return nil, fmt.Errorf("transcribe: no free parameters to estimate")
		}
		return lay, nil
	}

	lay.controls = p.model.ControlNames()
	if len(lay.controls) == 0 {
		return nil, fmt.Errorf("transcribe: no control trajectories declared")
	}
	lay.n = len(lay.controls) * len(lay.grid)
	return lay, nil
}

// controlEntry returns the decision index of channel ci, sample k.
func (l *decisionLayout) controlEntry(ci, k int) int { return ci*len(l.grid) + k }

// paramEntry returns the decision index of free parameter j.
func (l *decisionLayout) paramEntry(j int) int { return len(l.controls)*len(l.grid) + j }

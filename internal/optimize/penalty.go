package optimize

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/san-kum/mpcopt/internal/constraint"
	"github.com/san-kum/mpcopt/internal/dfo"
	"github.com/san-kum/mpcopt/internal/model"
	"github.com/san-kum/mpcopt/internal/series"
	"github.com/san-kum/mpcopt/internal/transcribe"
)

// PenaltyState names one stage of the exterior-penalty loop.
type PenaltyState string

const (
	PenaltyIdle      PenaltyState = "Idle"
	PenaltySeeded    PenaltyState = "Seeded"
	PenaltyIterating PenaltyState = "Iterating"
	PenaltyConverged PenaltyState = "Converged"
	PenaltyExhausted PenaltyState = "Exhausted"
)

// HistoryEntry records one outer iteration: the multiplier, the inner
// optimum and its penalized cost.
type HistoryEntry struct {
	Multiplier float64
	Solution   []float64
	Cost       float64
}

// Label maps one decision-vector entry back to its control channel sample.
type Label struct {
	Channel string
	Sample  int
}

// violationTolerance decides Converged vs Exhausted at the end of the budget:
// the loop has no improvement criterion, only a final feasibility check.
const violationTolerance = 1e-6

// penaltyFailCost replaces the cost when a trial point cannot be simulated.
const penaltyFailCost = 1e12

// derivativeFreeBackend solves by sequential unconstrained minimization: the
// objective integral plus an increasing multiple of the integrated constraint
// violation, minimized by a named derivative-free algorithm. Only energy
// minimization is wired; the other pairings are contract stubs.
type derivativeFreeBackend struct {
	model  *model.Model
	recipe transcribe.Recipe
	opts   Options
	stats  *Statistics

	state   PenaltyState
	labels  []Label
	history []HistoryEntry
}

func newDerivativeFreeBackend(m *model.Model, recipe transcribe.Recipe) *derivativeFreeBackend {
	return &derivativeFreeBackend{
		model:  m,
		recipe: recipe,
		state:  PenaltyIdle,
		opts: Options{
			OptMaxIterations: 5,
			OptInnerBudget:   100,
			OptPopulation:    20,
			OptSeed:          int64(1),
			OptAlgorithm:     dfo.AlgorithmMayfly,
		},
	}
}

func (b *derivativeFreeBackend) kind() PackageKind { return DerivativeFree }

func (b *derivativeFreeBackend) options() Options { return b.opts.Clone() }

func (b *derivativeFreeBackend) setOptions(user Options) error { return b.opts.merge(user) }

func (b *derivativeFreeBackend) statistics() (Statistics, error) {
	if b.stats == nil {
		return Statistics{}, ErrNoSolve
	}
	return *b.stats, nil
}

// State reports the penalty loop's current stage.
func (b *derivativeFreeBackend) State() PenaltyState { return b.state }

// History returns the recorded (multiplier, solution) pairs of the last run.
func (b *derivativeFreeBackend) History() []HistoryEntry {
	return append([]HistoryEntry(nil), b.history...)
}

// Labels returns the decision-vector labels of the last run.
func (b *derivativeFreeBackend) Labels() []Label {
	return append([]Label(nil), b.labels...)
}

func (b *derivativeFreeBackend) energyMin(ctx context.Context, o *Orchestrator, args Args) error {
	return b.penaltyOpt(ctx, args)
}

func (b *derivativeFreeBackend) energyCostMin(ctx context.Context, o *Orchestrator, args Args) error {
	return fmt.Errorf("%w: %s on %s", ErrUnimplemented, EnergyCostMin, DerivativeFree)
}

func (b *derivativeFreeBackend) parameterEstimate(ctx context.Context, o *Orchestrator, args Args) error {
	return fmt.Errorf("%w: %s on %s", ErrUnimplemented, ParameterEstimate, DerivativeFree)
}

// penaltySetup is the per-run working state, discarded when the run ends.
type penaltySetup struct {
	grid         []float64
	controls     []string
	lower, upper []float64
	x            []float64
}

func (b *derivativeFreeBackend) penaltyOpt(ctx context.Context, args Args) error {
	m := b.model
	b.state = PenaltyIdle
	b.history = nil
	b.labels = nil

	schedule := args.Schedule
	if schedule == nil {
		schedule = DefaultSchedule
	}
	budget := intOption(b.opts, OptMaxIterations, 5)
	if err := checkMonotone(schedule, budget); err != nil {
		return err
	}

	algorithm := args.Algorithm
	if algorithm == "" {
		algorithm = stringOption(b.opts, OptAlgorithm, dfo.AlgorithmMayfly)
	}
	inner, err := dfo.New(algorithm, dfo.Config{
		MaxIterations: intOption(b.opts, OptInnerBudget, 100),
		Population:    intOption(b.opts, OptPopulation, 20),
		Seed:          int64Option(b.opts, OptSeed, 1),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}

	seed, err := initialGuess(ctx, m)
	if err != nil {
		return err
	}
	ext, err := buildExternalData(m, false, nil)
	if err != nil {
		return err
	}
	b.opts[OptExternalData] = ext
	b.opts[OptInitTraj] = seed
	b.opts[OptNominalTraj] = seed
	b.opts[OptIntervals] = seed.Samples() - 1

	setup, err := b.seed(seed)
	if err != nil {
		return err
	}
	b.state = PenaltySeeded

	cost := func(x []float64, mu float64) float64 {
		res := b.simulate(ctx, setup, x)
		if res == nil {
			return penaltyFailCost
		}
		obj, err := b.objective(res)
		if err != nil {
			return penaltyFailCost
		}
		return obj + mu*b.violation(res)
	}

	began := time.Now()
	var evals int
	b.state = PenaltyIterating
	for k := 1; k <= budget; k++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		mu := schedule(k)
		best, c, n := inner.Run(func(x []float64) float64 { return cost(x, mu) },
			setup.lower, setup.upper, setup.x)
		evals += n
		setup.x = best
		b.history = append(b.history, HistoryEntry{
			Multiplier: mu,
			Solution:   append([]float64(nil), best...),
			Cost:       c,
		})
	}

	final := b.simulate(ctx, setup, setup.x)
	if final == nil {
		return fmt.Errorf("%w: final simulation failed", ErrData)
	}
	obj, err := b.objective(final)
	if err != nil {
		return err
	}

	violation := b.violation(final)
	if violation <= violationTolerance {
		b.state = PenaltyConverged
	} else {
		b.state = PenaltyExhausted
	}

	b.stats = &Statistics{
		Status:       string(b.state),
		Converged:    b.state == PenaltyConverged,
		Iterations:   evals,
		Objective:    obj,
		SolveSeconds: time.Since(began).Seconds(),
	}

	traj := make(map[string][]float64, len(final.Trajectories))
	for name, v := range final.Trajectories {
		traj[name] = append([]float64(nil), v...)
	}
	res := transcribe.NewResult(final.Time, traj, nil, transcribe.Stats{
		Converged:  b.stats.Converged,
		Status:     b.stats.Status,
		Iterations: evals,
		Objective:  obj,
	})
	return writeResults(m, res)
}

// checkMonotone rejects a decreasing multiplier schedule before any solve.
func checkMonotone(schedule ScheduleFunc, budget int) error {
	prev := math.Inf(-1)
	for k := 1; k <= budget; k++ {
		mu := schedule(k)
		if mu < prev {
			return fmt.Errorf("%w: penalty schedule decreases at iteration %d (%g < %g)",
				ErrConfiguration, k, mu, prev)
		}
		prev = mu
	}
	return nil
}

// seed flattens the control channels into the decision vector: declaration
// order, then sample index. Bounds come only from LowerBound/UpperBound
// clauses on control variables; unbounded entries get a wide box around the
// seed value so the global search stays finite.
func (b *derivativeFreeBackend) seed(init *model.SimResult) (*penaltySetup, error) {
	m := b.model
	controls := m.ControlNames()
	if len(controls) == 0 {
		return nil, fmt.Errorf("%w: no control trajectories declared", ErrData)
	}

	grid := init.Time
	n := len(controls) * len(grid)
	s := &penaltySetup{
		grid:     grid,
		controls: controls,
		lower:    make([]float64, n),
		upper:    make([]float64, n),
		x:        make([]float64, n),
	}

	start := m.Start()
	for ci, name := range controls {
		traj, ok := init.Get(name)
		if !ok {
			return nil, fmt.Errorf("%w: seed trajectory missing channel %s", ErrData, name)
		}
		var lb, ub *constraint.Bound
		for i := range b.recipe.Clauses {
			c := &b.recipe.Clauses[i]
			if c.Variable != name {
				continue
			}
			switch c.Kind {
			case constraint.LowerBound:
				lb = &c.Bound
			case constraint.UpperBound:
				ub = &c.Bound
			}
		}

		for k := range grid {
			i := ci*len(grid) + k
			s.x[i] = traj[k]
			b.labels = append(b.labels, Label{Channel: name, Sample: k})

			at := start.Add(time.Duration(grid[k] * float64(time.Second)))
			span := 10 * math.Max(1, math.Abs(traj[k]))
			if lb != nil {
				s.lower[i] = lb.At(at)
			} else {
				s.lower[i] = traj[k] - span
			}
			if ub != nil {
				s.upper[i] = ub.At(at)
			} else {
				s.upper[i] = traj[k] + span
			}
		}
	}
	return s, nil
}

// simulate rebuilds the control trajectories from the decision vector and
// integrates the full horizon. Returns nil when the simulation fails.
func (b *derivativeFreeBackend) simulate(ctx context.Context, s *penaltySetup, x []float64) *model.SimResult {
	in := model.SimInput{Controls: make(map[string]*series.Timeseries, len(s.controls))}
	start := b.model.Start()
	for ci, name := range s.controls {
		vals := make([]float64, len(s.grid))
		for k := range s.grid {
			vals[k] = x[ci*len(s.grid)+k]
		}
		ts, err := series.FromOffsets(name, b.model.UnitOf(name), start, s.grid, vals)
		if err != nil {
			return nil
		}
		in.Controls[name] = ts
	}
	res, err := b.model.SimulateWith(ctx, in)
	if err != nil {
		return nil
	}
	return res
}

// objective is the trapezoidal integral of the objective variable.
func (b *derivativeFreeBackend) objective(res *model.SimResult) (float64, error) {
	traj, ok := res.Get(b.recipe.ObjectiveVariable)
	if !ok {
		return 0, fmt.Errorf("%w: objective variable %s not in simulation", ErrData, b.recipe.ObjectiveVariable)
	}
	return series.Trapz(res.Time, traj), nil
}

// violation integrates max(0, violation) of every LowerBound/UpperBound
// clause on non-control variables over the horizon.
func (b *derivativeFreeBackend) violation(res *model.SimResult) float64 {
	controls := make(map[string]bool, len(b.model.ControlNames()))
	for _, name := range b.model.ControlNames() {
		controls[name] = true
	}
	start := b.model.Start()

	var total float64
	for _, c := range b.recipe.Clauses {
		if controls[c.Variable] {
			continue
		}
		if c.Kind != constraint.LowerBound && c.Kind != constraint.UpperBound {
			continue
		}
		traj, ok := res.Get(c.Variable)
		if !ok {
			continue
		}
		viol := make([]float64, len(res.Time))
		for i, t := range res.Time {
			at := start.Add(time.Duration(t * float64(time.Second)))
			bound := c.Bound.At(at)
			switch c.Kind {
			case constraint.LowerBound:
				viol[i] = math.Max(0, bound-traj[i])
			case constraint.UpperBound:
				viol[i] = math.Max(0, traj[i]-bound)
			}
		}
		total += series.Trapz(res.Time, viol)
	}
	return total
}

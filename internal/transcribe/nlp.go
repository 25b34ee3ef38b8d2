package transcribe

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/curioloop/optimizer/numdiff"
	"github.com/curioloop/optimizer/slsqp"
	"github.com/san-kum/mpcopt/internal/constraint"
	"github.com/san-kum/mpcopt/internal/model"
	"github.com/san-kum/mpcopt/internal/series"
)

// failPenalty replaces objective and constraint values when a trial point
// cannot be simulated, steering the line-search back to feasible ground.
const failPenalty = 1e12

// cacheLimit caps the memoized simulation table per solve.
const cacheLimit = 4096

type simEntry struct {
	res *model.SimResult
	err error
}

// nlp is the working state of one SLSQP solve: decision layout, nominal
// scaling and a memoized map from decision vector to simulation. The finite
// difference gradients revisit the same perturbed points for every constraint
// row, so the cache collapses a gradient sweep to one simulation per entry.
type nlp struct {
	p      *Problem
	opts   Options
	lay    *decisionLayout
	scale  []float64
	fscale float64
	ctx    context.Context

	cache   map[string]simEntry
	lastErr error
}

func newNLP(ctx context.Context, p *Problem, opts Options, lay *decisionLayout) *nlp {
	n := &nlp{
		p:      p,
		opts:   opts,
		lay:    lay,
		fscale: 1,
		ctx:    ctx,
		cache:  make(map[string]simEntry),
	}
	n.scale = n.nominalScale()
	return n
}

// nominalScale builds one positive scale factor per decision entry from the
// nominal trajectory, never below one so near-zero nominals stay well posed.
func (n *nlp) nominalScale() []float64 {
	s := make([]float64, n.lay.n)
	for i := range s {
		s[i] = 1
	}
	for ci, name := range n.lay.controls {
		var nom []float64
		if n.opts.NominalTraj != nil {
			nom, _ = n.opts.NominalTraj.Get(name)
		}
		for k := range n.lay.grid {
			v := 1.0
			if k < len(nom) {
				v = math.Max(1, math.Abs(nom[k]))
			}
			s[n.lay.controlEntry(ci, k)] = v
		}
	}
	for j, p := range n.lay.params {
		s[n.lay.paramEntry(j)] = math.Max(1, math.Abs(p.Value))
	}
	return s
}

func (n *nlp) unscale(x []float64) []float64 {
	v := make([]float64, len(x))
	for i := range x {
		v[i] = x[i] * n.scale[i]
	}
	return v
}

func cacheKey(x []float64) string {
	buf := make([]byte, 8*len(x))
	for i, v := range x {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	return string(buf)
}

// simulate integrates the model at the scaled decision vector x, memoized.
func (n *nlp) simulate(x []float64) *model.SimResult {
	key := cacheKey(x)
	if e, ok := n.cache[key]; ok {
		return e.res
	}

	in := model.SimInput{}
	v := n.unscale(x)
	start := n.p.model.Start()

	if len(n.lay.controls) > 0 {
		in.Controls = make(map[string]*series.Timeseries, len(n.lay.controls))
		for ci, name := range n.lay.controls {
			vals := make([]float64, len(n.lay.grid))
			for k := range n.lay.grid {
				vals[k] = v[n.lay.controlEntry(ci, k)]
			}
			ts, err := series.FromOffsets(name, n.p.model.UnitOf(name), start, n.lay.grid, vals)
			if err != nil {
				n.store(key, simEntry{err: err})
				return nil
			}
			in.Controls[name] = ts
		}
	}
	if len(n.lay.params) > 0 {
		in.Parameters = make(map[string]float64, len(n.lay.params))
		for j, p := range n.lay.params {
			in.Parameters[p.Name] = v[n.lay.paramEntry(j)]
		}
	}

	res, err := n.p.model.SimulateWith(n.ctx, in)
	n.store(key, simEntry{res: res, err: err})
	return res
}

func (n *nlp) store(key string, e simEntry) {
	if e.err != nil {
		n.lastErr = e.err
	}
	if len(n.cache) >= cacheLimit {
		n.cache = make(map[string]simEntry)
	}
	n.cache[key] = e
}

// valueAt linearly interpolates vals over times at t, clamped at both ends.
func valueAt(times, vals []float64, t float64) float64 {
	if len(times) == 0 {
		return 0
	}
	if t <= times[0] {
		return vals[0]
	}
	last := len(times) - 1
	if t >= times[last] {
		return vals[last]
	}
	for i := 1; i <= last; i++ {
		if t <= times[i] {
			span := times[i] - times[i-1]
			if span == 0 {
				return vals[i]
			}
			frac := (t - times[i-1]) / span
			return vals[i-1] + frac*(vals[i]-vals[i-1])
		}
	}
	return vals[last]
}

// integrand evaluates the accumulator's right-hand side over the simulation
// grid: the objective variable, weighted by the price signal when declared.
func (n *nlp) integrand(res *model.SimResult) ([]float64, error) {
	traj, ok := res.Get(n.p.recipe.ObjectiveVariable)
	if !ok {
		return nil, fmt.Errorf("transcribe: objective variable %s not in simulation", n.p.recipe.ObjectiveVariable)
	}
	out := append([]float64(nil), traj...)
	if n.p.recipe.PriceSignal != "" {
		price := n.opts.ExternalData.Eliminated[n.p.recipe.PriceSignal]
		start := n.p.model.Start()
		for i, t := range res.Time {
			at := start.Add(time.Duration(t * float64(time.Second)))
			out[i] *= price.At(at)
		}
	}
	return out, nil
}

// objective evaluates the stage cost at the scaled decision vector x:
// accumulator final value for control problems, weighted quadratic tracking
// misfit for parameter estimation.
func (n *nlp) objective(x []float64) float64 {
	res := n.simulate(x)
	if res == nil {
		return failPenalty
	}

	if n.p.recipe.EstimateParameters {
		return n.trackingCost(res)
	}

	integ, err := n.integrand(res)
	if err != nil {
		n.lastErr = err
		return failPenalty
	}
	return series.Trapz(res.Time, integ)
}

// scaledObjective divides the stage cost by the seed cost's magnitude, so the
// solver's termination tolerance is relative to the problem's scale rather
// than an absolute joule or kelvin-squared figure.
func (n *nlp) scaledObjective(x []float64) float64 {
	return n.objective(x) / n.fscale
}

func (n *nlp) trackingCost(res *model.SimResult) float64 {
	ext := n.opts.ExternalData
	var total float64
	for _, name := range ext.Tracked {
		qp, ok := ext.QuadPen[name]
		if !ok || len(qp.Times) == 0 {
			continue
		}
		traj, ok := res.Get(name)
		if !ok {
			n.lastErr = fmt.Errorf("transcribe: tracked channel %s not in simulation", name)
			return failPenalty
		}
		w := ext.Weight(name)
		sq := make([]float64, len(qp.Times))
		for k, t := range qp.Times {
			d := valueAt(res.Time, traj, t) - qp.Values[k]
			sq[k] = d * d
		}
		total += w * series.Trapz(qp.Times, sq)
	}
	return total
}

// isControlDecision reports whether variable is a decision channel in this
// layout. Under estimation all controls are fixed data.
func (n *nlp) isControlDecision(variable string) (int, bool) {
	for ci, name := range n.lay.controls {
		if name == variable {
			return ci, true
		}
	}
	return 0, false
}

// fdRelStep is the relative finite-difference step. The nominal-scaled
// entries sit near one, so the default machine-epsilon step perturbs large
// unscaled quantities below the simulation's resolution.
const fdRelStep = 1e-6

// grad fills g with a forward-difference gradient of fn at x.
func (n *nlp) grad(fn func([]float64) float64, x, g []float64) {
	spec := numdiff.ApproxSpec{
		N:       len(x),
		M:       1,
		Method:  numdiff.Forward,
		RelStep: fdRelStep,
		Object:  func(xx, y []float64) { y[0] = fn(xx) },
	}
	x0 := append([]float64(nil), x...)
	diff := make([]float64, len(x))
	if err := spec.Diff(x0, diff); err != nil {
		n.lastErr = err
		return
	}
	copy(g, diff)
}

// wrap lifts a plain cost function into an slsqp Evaluation: value when g is
// nil, value plus finite-difference gradient otherwise.
func (n *nlp) wrap(fn func([]float64) float64) slsqp.Evaluation {
	return func(x, g []float64) float64 {
		f := fn(x)
		if g != nil {
			n.grad(fn, x, g)
		}
		return f
	}
}

// boundAt evaluates a constraint bound at grid offset t.
func (n *nlp) boundAt(b constraint.Bound, t float64) float64 {
	if b.IsSeries() {
		return b.At(n.p.model.Start().Add(time.Duration(t * float64(time.Second))))
	}
	return b.Scalar
}

// trajAt looks up clause variable values at grid offset t from a simulation.
func (n *nlp) trajAt(res *model.SimResult, variable string, t float64) (float64, bool) {
	traj, ok := res.Get(variable)
	if !ok {
		return 0, false
	}
	return valueAt(res.Time, traj, t), true
}

// rows holds the assembled NLP pieces.
type rows struct {
	bounds []slsqp.Bound
	eq     []slsqp.Evaluation
	neq    []slsqp.Evaluation
}

// assemble turns the compiled clauses into box bounds, equality rows and
// inequality rows. Path clauses on simulated variables are enforced at every
// grid point; clauses on decision channels act on the entries directly.
func (n *nlp) assemble() *rows {
	r := &rows{bounds: make([]slsqp.Bound, n.lay.n)}
	for i := range r.bounds {
		r.bounds[i] = slsqp.Bound{Lower: math.Inf(-1), Upper: math.Inf(1)}
	}
	for j, p := range n.lay.params {
		i := n.lay.paramEntry(j)
		r.bounds[i] = slsqp.Bound{Lower: p.Min / n.scale[i], Upper: p.Max / n.scale[i]}
	}

	for _, clause := range n.p.recipe.Clauses {
		if ci, ok := n.isControlDecision(clause.Variable); ok {
			n.controlRows(r, clause, ci)
			continue
		}
		n.pathRows(r, clause)
	}
	return r
}

// controlRows constrains decision entries of one control channel.
func (n *nlp) controlRows(r *rows, clause constraint.Clause, ci int) {
	grid := n.lay.grid
	last := len(grid) - 1

	entry := func(k int) int { return n.lay.controlEntry(ci, k) }
	value := func(x []float64, k int) float64 { return x[entry(k)] * n.scale[entry(k)] }

	switch clause.Kind {
	case constraint.LowerBound:
		for k := range grid {
			i := entry(k)
			r.bounds[i].Lower = n.boundAt(clause.Bound, grid[k]) / n.scale[i]
		}
	case constraint.UpperBound:
		for k := range grid {
			i := entry(k)
			r.bounds[i].Upper = n.boundAt(clause.Bound, grid[k]) / n.scale[i]
		}
	case constraint.LowerBoundOnDerivative:
		for k := 0; k < last; k++ {
			k, dt := k, grid[k+1]-grid[k]
			bound := n.boundAt(clause.Bound, grid[k])
			r.neq = append(r.neq, n.wrap(func(x []float64) float64 {
				return (value(x, k+1)-value(x, k))/dt - bound
			}))
		}
	case constraint.UpperBoundOnDerivative:
		for k := 0; k < last; k++ {
			k, dt := k, grid[k+1]-grid[k]
			bound := n.boundAt(clause.Bound, grid[k])
			r.neq = append(r.neq, n.wrap(func(x []float64) float64 {
				return bound - (value(x, k+1)-value(x, k))/dt
			}))
		}
	case constraint.InitialValue:
		target := clause.Bound.Scalar
		r.eq = append(r.eq, n.wrap(func(x []float64) float64 { return value(x, 0) - target }))
	case constraint.FinalValue:
		target := clause.Bound.Scalar
		r.eq = append(r.eq, n.wrap(func(x []float64) float64 { return value(x, last) - target }))
	case constraint.Cyclic:
		r.eq = append(r.eq, n.wrap(func(x []float64) float64 { return value(x, 0) - value(x, last) }))
	}
}

// pathRows constrains a simulated variable through the memoized simulation.
func (n *nlp) pathRows(r *rows, clause constraint.Clause) {
	grid := n.lay.grid
	last := len(grid) - 1

	value := func(x []float64, t float64) float64 {
		res := n.simulate(x)
		if res == nil {
			return math.NaN()
		}
		v, ok := n.trajAt(res, clause.Variable, t)
		if !ok {
			return math.NaN()
		}
		return v
	}
	guard := func(c float64) float64 {
		if math.IsNaN(c) {
			return -failPenalty
		}
		return c
	}

	switch clause.Kind {
	case constraint.LowerBound:
		for k := range grid {
			t := grid[k]
			bound := n.boundAt(clause.Bound, t)
			r.neq = append(r.neq, n.wrap(func(x []float64) float64 {
				return guard(value(x, t) - bound)
			}))
		}
	case constraint.UpperBound:
		for k := range grid {
			t := grid[k]
			bound := n.boundAt(clause.Bound, t)
			r.neq = append(r.neq, n.wrap(func(x []float64) float64 {
				return guard(bound - value(x, t))
			}))
		}
	case constraint.LowerBoundOnDerivative:
		for k := 0; k < last; k++ {
			t0, t1 := grid[k], grid[k+1]
			bound := n.boundAt(clause.Bound, t0)
			r.neq = append(r.neq, n.wrap(func(x []float64) float64 {
				return guard((value(x, t1)-value(x, t0))/(t1-t0) - bound)
			}))
		}
	case constraint.UpperBoundOnDerivative:
		for k := 0; k < last; k++ {
			t0, t1 := grid[k], grid[k+1]
			bound := n.boundAt(clause.Bound, t0)
			r.neq = append(r.neq, n.wrap(func(x []float64) float64 {
				return guard(bound - (value(x, t1)-value(x, t0))/(t1-t0))
			}))
		}
	case constraint.InitialValue:
		target := clause.Bound.Scalar
		t := grid[0]
		r.eq = append(r.eq, n.wrap(func(x []float64) float64 {
			return guard(value(x, t) - target)
		}))
	case constraint.FinalValue:
		target := clause.Bound.Scalar
		t := grid[last]
		r.eq = append(r.eq, n.wrap(func(x []float64) float64 {
			return guard(value(x, t) - target)
		}))
	case constraint.Cyclic:
		t0, t1 := grid[0], grid[last]
		r.eq = append(r.eq, n.wrap(func(x []float64) float64 {
			return guard(value(x, t0) - value(x, t1))
		}))
	}
}

// seed builds the scaled initial decision vector from the seed trajectory and
// the stored parameter point values.
func (n *nlp) seed() ([]float64, error) {
	x := make([]float64, n.lay.n)
	for ci, name := range n.lay.controls {
		traj, ok := n.opts.InitTraj.Get(name)
		if !ok || len(traj) != len(n.lay.grid) {
			return nil, fmt.Errorf("transcribe: seed trajectory missing channel %s", name)
		}
		for k := range n.lay.grid {
			i := n.lay.controlEntry(ci, k)
			x[i] = traj[k] / n.scale[i]
		}
	}
	for j, p := range n.lay.params {
		i := n.lay.paramEntry(j)
		v := p.Value
		if seed, ok := n.p.values[p.Name]; ok {
			v = seed
		}
		x[i] = v / n.scale[i]
	}
	return x, nil
}

func statusString(r *slsqp.Result) string {
	switch r.Status {
	case slsqp.OK, slsqp.HasSolution:
		return "converged"
	case slsqp.SQPExceedMaxIter:
		return "max iterations exceeded"
	case slsqp.ConsIncompatible:
		return "inequality constraints incompatible"
	case slsqp.SearchNotDescent:
		return "line search not descending"
	case slsqp.BadArgument:
		return "bad argument"
	default:
		return fmt.Sprintf("solver status %v", r.Status)
	}
}

// Optimize solves the transcribed problem. The returned trajectories live on
// the simulation grid of the solution point; estimated parameters arrive as
// point values.
func (p *Problem) Optimize(ctx context.Context, opts Options) (*Result, error) {
	lay, err := p.layout(opts)
	if err != nil {
		return nil, err
	}
	if _, ok := p.values["final_time"]; !ok {
		return nil, fmt.Errorf("transcribe: final_time not set")
	}
	for _, name := range p.recipe.ExtraInputs {
		if opts.ExternalData == nil || opts.ExternalData.Eliminated[name].Empty() {
			return nil, fmt.Errorf("transcribe: missing eliminated input %s", name)
		}
	}
	if p.recipe.EstimateParameters && (opts.ExternalData == nil || len(opts.ExternalData.Tracked) == 0) {
		return nil, fmt.Errorf("transcribe: estimation requires tracking penalties")
	}
	if opts.MaxIterations <= 0 || opts.Accuracy <= 0 {
		return nil, fmt.Errorf("transcribe: max iterations and accuracy must be positive")
	}

	n := newNLP(ctx, p, opts, lay)
	x0, err := n.seed()
	if err != nil {
		return nil, err
	}

	// One structural simulation up front so misnamed variables surface as
	// errors instead of penalty values inside the solver.
	probe := n.simulate(x0)
	if probe == nil {
		return nil, fmt.Errorf("transcribe: seed simulation failed: %w", n.lastErr)
	}
	if p.recipe.ObjectiveVariable != "" {
		if _, ok := probe.Get(p.recipe.ObjectiveVariable); !ok {
			return nil, fmt.Errorf("transcribe: objective variable %s not produced by model", p.recipe.ObjectiveVariable)
		}
	}
	for _, clause := range p.recipe.Clauses {
		if _, isDecision := n.isControlDecision(clause.Variable); isDecision {
			continue
		}
		if _, ok := probe.Get(clause.Variable); !ok {
			return nil, fmt.Errorf("transcribe: constrained variable %s not produced by model", clause.Variable)
		}
	}
	if p.recipe.EstimateParameters {
		for _, name := range opts.ExternalData.Tracked {
			if _, ok := probe.Get(name); !ok {
				return nil, fmt.Errorf("transcribe: tracked channel %s not produced by model", name)
			}
		}
	}

	// The seed cost fixes the objective's magnitude, so the termination
	// accuracy acts as a relative tolerance.
	n.fscale = math.Max(1, math.Abs(n.objective(x0)))

	r := n.assemble()
	prob := slsqp.Problem{
		N:       lay.n,
		Object:  n.wrap(n.scaledObjective),
		EqCons:  r.eq,
		NeqCons: r.neq,
		Bounds:  r.bounds,
		Stop: slsqp.Termination{
			Accuracy:      opts.Accuracy,
			MaxIterations: opts.MaxIterations,
		},
	}
	opt, err := prob.New()
	if err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	res := opt.Fit(x0, opt.Init())

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	final := n.simulate(res.X)
	if final == nil {
		return nil, fmt.Errorf("transcribe: solution simulation failed: %w", n.lastErr)
	}

	traj := make(map[string][]float64, len(final.Trajectories)+1)
	for name, v := range final.Trajectories {
		traj[name] = append([]float64(nil), v...)
	}
	if p.recipe.ObjectiveVariable != "" {
		integ, err := n.integrand(final)
		if err != nil {
			return nil, err
		}
		traj["J"] = cumulativeTrapz(final.Time, integ)
	}

	points := make(map[string]float64, len(lay.params))
	sol := n.unscale(res.X)
	for j, par := range lay.params {
		points[par.Name] = sol[lay.paramEntry(j)]
	}

	return NewResult(final.Time, traj, points, Stats{
		Converged:  res.OK,
		Status:     statusString(res),
		Iterations: res.NumIter,
		Objective:  res.F * n.fscale,
	}), nil
}

// cumulativeTrapz is the running trapezoid integral of v over t, so the
// accumulator state appears in results like any other trajectory.
func cumulativeTrapz(t, v []float64) []float64 {
	out := make([]float64, len(t))
	for i := 1; i < len(t); i++ {
		out[i] = out[i-1] + 0.5*(v[i]+v[i-1])*(t[i]-t[i-1])
	}
	return out
}

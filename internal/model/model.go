package model

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/san-kum/mpcopt/internal/integrators"
	"github.com/san-kum/mpcopt/internal/series"
	"github.com/san-kum/mpcopt/internal/units"
)

// Model owns a dynamic system together with its named data slots: control and
// exogenous input trajectories, parameters, measurement channels and unit
// metadata. It simulates the system forward over the active time window.
type Model struct {
	sys     System
	stepper integrators.Stepper
	dt      float64
	x0      []float64

	start time.Time
	final time.Time

	controls     map[string]*series.Timeseries
	controlOrder []string
	exogenous    map[string]*series.Timeseries
	params       map[string]*Parameter
	measurements map[string]*Measurement
	unitTable    map[string]units.Unit
}

// New creates a model around sys with the given stepper, sample interval dt
// (seconds) and initial state.
func New(sys System, stepper integrators.Stepper, dt float64, x0 []float64) *Model {
	return &Model{
		sys:          sys,
		stepper:      stepper,
		dt:           dt,
		x0:           append([]float64(nil), x0...),
		controls:     make(map[string]*series.Timeseries),
		exogenous:    make(map[string]*series.Timeseries),
		params:       make(map[string]*Parameter),
		measurements: make(map[string]*Measurement),
		unitTable:    make(map[string]units.Unit),
	}
}

// SetTimeWindow sets the active horizon for subsequent simulations.
func (m *Model) SetTimeWindow(start, final time.Time) error {
	if !final.After(start) {
		return ErrInvalidWindow
	}
	m.start, m.final = start, final
	return nil
}

func (m *Model) Window() (time.Time, time.Time) { return m.start, m.final }

func (m *Model) Start() time.Time { return m.start }

// ElapsedSeconds is the length of the active window in seconds.
func (m *Model) ElapsedSeconds() float64 { return m.final.Sub(m.start).Seconds() }

func (m *Model) isInput(name string) bool {
	for _, n := range m.sys.InputNames() {
		if n == name {
			return true
		}
	}
	return false
}

// SetControl stores a control trajectory and marks the input as a decision
// channel. Channel order follows first registration.
func (m *Model) SetControl(name string, ts *series.Timeseries) error {
	if !m.isInput(name) {
		return fmt.Errorf("%w: %s", ErrUnknownInput, name)
	}
	if _, ok := m.controls[name]; !ok {
		m.controlOrder = append(m.controlOrder, name)
	}
	m.controls[name] = ts
	return nil
}

// SetExogenous stores a fixed, non-decision input trajectory.
func (m *Model) SetExogenous(name string, ts *series.Timeseries) error {
	if !m.isInput(name) {
		return fmt.Errorf("%w: %s", ErrUnknownInput, name)
	}
	m.exogenous[name] = ts
	return nil
}

// ControlNames returns the control channels in declaration order.
func (m *Model) ControlNames() []string {
	return append([]string(nil), m.controlOrder...)
}

func (m *Model) Control(name string) *series.Timeseries { return m.controls[name] }

// ExogenousNames returns the fixed input names, sorted.
func (m *Model) ExogenousNames() []string {
	names := make([]string, 0, len(m.exogenous))
	for name := range m.exogenous {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m *Model) Exogenous(name string) *series.Timeseries { return m.exogenous[name] }

// DeclareParameter registers a parameter. Redeclaring replaces the record.
func (m *Model) DeclareParameter(p Parameter) {
	cp := p
	m.params[p.Name] = &cp
	m.unitTable[p.Name] = p.Unit
}

func (m *Model) Parameter(name string) (*Parameter, bool) {
	p, ok := m.params[name]
	return p, ok
}

// SetParameterValue updates a declared parameter's current value.
func (m *Model) SetParameterValue(name string, value float64) error {
	p, ok := m.params[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
	}
	p.Value = value
	return nil
}

// FreeParameters returns the parameters flagged free, sorted by name.
func (m *Model) FreeParameters() []*Parameter {
	out := make([]*Parameter, 0, len(m.params))
	for _, p := range m.params {
		if p.Free {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// DeclareMeasurement registers a measured channel by variable name.
func (m *Model) DeclareMeasurement(name string, unit units.Unit) {
	m.measurements[name] = &Measurement{Name: name, Unit: unit}
	m.unitTable[name] = unit
}

func (m *Model) Measurement(name string) (*Measurement, bool) {
	mea, ok := m.measurements[name]
	return mea, ok
}

// MeasurementNames returns the declared measurement channels, sorted.
func (m *Model) MeasurementNames() []string {
	names := make([]string, 0, len(m.measurements))
	for name := range m.measurements {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetMeasured attaches measured data to a declared channel.
func (m *Model) SetMeasured(name string, ts *series.Timeseries) error {
	mea, ok := m.measurements[name]
	if !ok {
		return fmt.Errorf("model: undeclared measurement %s", name)
	}
	mea.Measured = ts
	return nil
}

// SetSimulated attaches the most recent simulated series to a channel.
func (m *Model) SetSimulated(name string, ts *series.Timeseries) error {
	mea, ok := m.measurements[name]
	if !ok {
		return fmt.Errorf("model: undeclared measurement %s", name)
	}
	mea.Simulated = ts
	return nil
}

// DeclareUnit records the unit of a variable not covered by a parameter or
// measurement declaration.
func (m *Model) DeclareUnit(name string, unit units.Unit) {
	m.unitTable[name] = unit
}

// UnitOf resolves a variable's declared unit, dimensionless when unknown.
func (m *Model) UnitOf(name string) units.Unit {
	return units.Resolve(m.unitTable, name)
}

// Simulate integrates the system over the active window with the stored
// control trajectories and parameter values.
func (m *Model) Simulate(ctx context.Context) (*SimResult, error) {
	return m.SimulateWith(ctx, SimInput{})
}

// SimulateWith integrates the system over the active window, taking control
// and parameter overrides from in. The result is keyed by variable name
// (states, inputs and outputs) plus a time vector of elapsed seconds.
func (m *Model) SimulateWith(ctx context.Context, in SimInput) (*SimResult, error) {
	if m.start.IsZero() || m.final.IsZero() {
		return nil, ErrWindowNotSet
	}
	elapsed := m.ElapsedSeconds()
	if elapsed <= 0 {
		return nil, ErrInvalidWindow
	}
	if m.dt <= 0 {
		return nil, fmt.Errorf("model: dt must be positive, got %f", m.dt)
	}

	if err := m.applyParameters(in.Parameters); err != nil {
		return nil, err
	}

	inputNames := m.sys.InputNames()
	inputs := make([]*series.Timeseries, len(inputNames))
	for i, name := range inputNames {
		ts := m.lookupInput(name, in.Controls)
		if ts.Empty() {
			return nil, fmt.Errorf("%w: %s", ErrMissingInput, name)
		}
		inputs[i] = ts
	}

	steps := int(math.Round(elapsed / m.dt))
	if steps < 1 {
		steps = 1
	}
	dt := elapsed / float64(steps)

	res := &SimResult{
		Time:         make([]float64, 0, steps+1),
		Trajectories: make(map[string][]float64),
	}

	x := append([]float64(nil), m.x0...)
	uBuf := make([]float64, len(inputNames))
	sample := func(t float64) []float64 {
		at := m.start.Add(time.Duration(t * float64(time.Second)))
		for j, ts := range inputs {
			uBuf[j] = ts.At(at)
		}
		return uBuf
	}

	for i := 0; i <= steps; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		t := float64(i) * dt
		u := sample(t)

		if !validState(x) {
			return nil, fmt.Errorf("%w at t=%.1fs", ErrInvalidState, t)
		}

		res.Time = append(res.Time, t)
		for j, name := range m.sys.StateNames() {
			res.Trajectories[name] = append(res.Trajectories[name], x[j])
		}
		for j, name := range inputNames {
			res.Trajectories[name] = append(res.Trajectories[name], u[j])
		}
		for name, v := range m.sys.Outputs(x, u, t) {
			res.Trajectories[name] = append(res.Trajectories[name], v)
		}

		if i < steps {
			x = m.stepper.Step(m.sys, x, sample, t, dt)
		}
	}

	return res, nil
}

func (m *Model) lookupInput(name string, overrides map[string]*series.Timeseries) *series.Timeseries {
	if _, isControl := m.controls[name]; isControl && overrides != nil {
		if ts, ok := overrides[name]; ok {
			return ts
		}
	}
	if ts, ok := m.controls[name]; ok {
		return ts
	}
	return m.exogenous[name]
}

// applyParameters pushes stored values first, then overrides, so transient
// overrides never persist past the next simulation.
func (m *Model) applyParameters(overrides map[string]float64) error {
	par, ok := m.sys.(Parametrized)
	if !ok {
		if len(overrides) > 0 {
			return fmt.Errorf("model: system does not accept parameter overrides")
		}
		return nil
	}
	for name, p := range m.params {
		if err := par.SetParameter(name, p.Value); err != nil {
			return err
		}
	}
	for name, v := range overrides {
		if _, ok := m.params[name]; !ok {
			return fmt.Errorf("%w: %s", ErrUnknownParameter, name)
		}
		if err := par.SetParameter(name, v); err != nil {
			return err
		}
	}
	return nil
}

func validState(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

package model

import (
	"errors"

	"github.com/san-kum/mpcopt/internal/series"
	"github.com/san-kum/mpcopt/internal/units"
)

// System defines the continuous dynamics of a named dynamic system. The input
// vector u is ordered per InputNames; which inputs are controls is decided by
// the Model, not the system.
type System interface {
	// Derivative returns dx/dt at state x, inputs u and elapsed time t.
	Derivative(x, u []float64, t float64) []float64
	StateNames() []string
	InputNames() []string
	// Outputs returns named algebraic outputs, or nil when the system has
	// none beyond its states and inputs.
	Outputs(x, u []float64, t float64) map[string]float64
}

// Parametrized systems accept updated parameter values before a simulation.
type Parametrized interface {
	SetParameter(name string, value float64) error
}

// Parameter is a time-invariant model parameter. Free parameters are
// adjustable during parameter estimation, within [Min, Max].
type Parameter struct {
	Name  string
	Unit  units.Unit
	Value float64
	Min   float64
	Max   float64
	Free  bool
}

// Measurement pairs a measured series with the most recent simulated one.
type Measurement struct {
	Name      string
	Unit      units.Unit
	Measured  *series.Timeseries
	Simulated *series.Timeseries
}

// SimResult is one forward simulation keyed by variable name plus a time
// vector of elapsed seconds.
type SimResult struct {
	Time         []float64
	Trajectories map[string][]float64
}

func (r *SimResult) Samples() int { return len(r.Time) }

func (r *SimResult) Get(name string) ([]float64, bool) {
	v, ok := r.Trajectories[name]
	return v, ok
}

// SimInput overrides pieces of the model's stored data for one simulation.
type SimInput struct {
	// Controls replaces the stored trajectory of each named control channel.
	Controls map[string]*series.Timeseries
	// Parameters overrides declared parameter values for this run only.
	Parameters map[string]float64
}

var (
	// ErrWindowNotSet indicates Simulate was called before SetTimeWindow.
	ErrWindowNotSet = errors.New("model: time window not set")

	// ErrInvalidWindow indicates a final time not after the start time.
	ErrInvalidWindow = errors.New("model: final time not after start time")

	// ErrMissingInput indicates a system input with no stored trajectory.
	ErrMissingInput = errors.New("model: missing input trajectory")

	// ErrUnknownInput indicates a name the system does not declare as input.
	ErrUnknownInput = errors.New("model: unknown input name")

	// ErrUnknownParameter indicates an undeclared parameter name.
	ErrUnknownParameter = errors.New("model: unknown parameter")

	// ErrInvalidState indicates a state vector with NaN or Inf entries.
	ErrInvalidState = errors.New("model: invalid state (NaN or Inf detected)")
)

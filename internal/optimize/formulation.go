package optimize

import (
	"context"
	"fmt"

	"github.com/san-kum/mpcopt/internal/constraint"
	"github.com/san-kum/mpcopt/internal/model"
	"github.com/san-kum/mpcopt/internal/series"
	"github.com/san-kum/mpcopt/internal/transcribe"
)

// ProblemKind selects the objective formulation.
type ProblemKind string

const (
	EnergyMin         ProblemKind = "energy_min"
	EnergyCostMin     ProblemKind = "energy_cost_min"
	ParameterEstimate ProblemKind = "parameter_estimate"
)

// PackageKind selects the solver backend.
type PackageKind string

const (
	Collocation    PackageKind = "collocation"
	DerivativeFree PackageKind = "derivative_free"
)

// PriceSignal is the extra input carrying the energy price trajectory.
const PriceSignal = "pi_e"

// ScheduleFunc maps a penalty-loop iteration index (1-based) to the penalty
// multiplier. It must be monotone non-decreasing.
type ScheduleFunc func(k int) float64

// DefaultSchedule is the linear multiplier ramp mu_k = k.
func DefaultSchedule(k int) float64 { return float64(k) }

// Args carries the per-solve extras a formulation may require.
type Args struct {
	// PriceData is the energy price trajectory, required by EnergyCostMin.
	PriceData *series.Timeseries
	// MeasurementVariables lists the tracked channels, required by
	// ParameterEstimate.
	MeasurementVariables []string
	// Schedule overrides the penalty multiplier schedule (derivative-free
	// backend only).
	Schedule ScheduleFunc
	// Algorithm names the derivative-free inner optimizer.
	Algorithm string
}

// formulation decides the objective integrand, the extra signals it needs and
// which backend solve path to dispatch to.
type formulation interface {
	kind() ProblemKind
	// recipe describes the augmented problem for the transcription layer.
	recipe(clauses []constraint.Clause) transcribe.Recipe
	// validate raises data errors synchronously, before any solve work.
	validate(m *model.Model, args Args) error
	// solve double-dispatches to the backend's variant-specific entry point.
	solve(ctx context.Context, o *Orchestrator, args Args) error
}

func newFormulation(kind ProblemKind, objectiveVariable string) (formulation, error) {
	switch kind {
	case EnergyMin:
		if objectiveVariable == "" {
			return nil, fmt.Errorf("%w: %s requires an objective variable", ErrConfiguration, kind)
		}
		return &energyMin{objective: objectiveVariable}, nil
	case EnergyCostMin:
		if objectiveVariable == "" {
			return nil, fmt.Errorf("%w: %s requires an objective variable", ErrConfiguration, kind)
		}
		return &energyCostMin{objective: objectiveVariable}, nil
	case ParameterEstimate:
		return &parameterEstimate{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown problem kind %q", ErrConfiguration, kind)
	}
}

type energyMin struct {
	objective string
}

func (f *energyMin) kind() ProblemKind { return EnergyMin }

func (f *energyMin) recipe(clauses []constraint.Clause) transcribe.Recipe {
	return transcribe.Recipe{ObjectiveVariable: f.objective, Clauses: clauses}
}

func (f *energyMin) validate(m *model.Model, args Args) error { return nil }

func (f *energyMin) solve(ctx context.Context, o *Orchestrator, args Args) error {
	return o.backend.energyMin(ctx, o, args)
}

type energyCostMin struct {
	objective string
}

func (f *energyCostMin) kind() ProblemKind { return EnergyCostMin }

func (f *energyCostMin) recipe(clauses []constraint.Clause) transcribe.Recipe {
	return transcribe.Recipe{
		ObjectiveVariable: f.objective,
		PriceSignal:       PriceSignal,
		ExtraInputs:       []string{PriceSignal},
		Clauses:           clauses,
	}
}

func (f *energyCostMin) validate(m *model.Model, args Args) error {
	if args.PriceData.Empty() {
		return fmt.Errorf("%w: %s requires price data (%s)", ErrData, f.kind(), PriceSignal)
	}
	return nil
}

func (f *energyCostMin) solve(ctx context.Context, o *Orchestrator, args Args) error {
	return o.backend.energyCostMin(ctx, o, args)
}

type parameterEstimate struct{}

func (f *parameterEstimate) kind() ProblemKind { return ParameterEstimate }

func (f *parameterEstimate) recipe(clauses []constraint.Clause) transcribe.Recipe {
	// Fit quality enters through tracking penalties, not path constraints.
	return transcribe.Recipe{EstimateParameters: true}
}

func (f *parameterEstimate) validate(m *model.Model, args Args) error {
	if len(args.MeasurementVariables) == 0 {
		return fmt.Errorf("%w: %s requires measurement variables", ErrData, f.kind())
	}
	for _, name := range args.MeasurementVariables {
		mea, ok := m.Measurement(name)
		if !ok {
			return fmt.Errorf("%w: measurement channel %s not declared", ErrData, name)
		}
		if mea.Measured.Empty() {
			return fmt.Errorf("%w: measurement channel %s has no measured data", ErrData, name)
		}
	}
	if len(m.FreeParameters()) == 0 {
		return fmt.Errorf("%w: %s requires at least one free parameter", ErrData, f.kind())
	}
	return nil
}

func (f *parameterEstimate) solve(ctx context.Context, o *Orchestrator, args Args) error {
	return o.backend.parameterEstimate(ctx, o, args)
}

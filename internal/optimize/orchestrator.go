// Package optimize formulates finite-horizon optimal-control problems over a
// dynamic-system model and dispatches them to a pluggable solver backend.
// The orchestrator is the sole entry point: it owns the current formulation
// (what to minimize) and backend (how to solve), borrows the model, and
// writes results back into the model only after a fully successful solve.
package optimize

import (
	"context"
	"fmt"
	"time"

	"github.com/san-kum/mpcopt/internal/constraint"
	"github.com/san-kum/mpcopt/internal/model"
)

// Orchestrator owns one formulation/backend pair, replace-on-reconfigure.
// Not safe for concurrent solves: one Optimize call runs to completion before
// the next may start.
type Orchestrator struct {
	model             *model.Model
	objectiveVariable string
	clauses           []constraint.Clause

	formulation formulation
	backend     backend
}

// New builds the formulation for problemKind, then a backendKind backend
// against it. The constraint set is compiled once here; unknown kinds fail.
func New(m *model.Model, problemKind ProblemKind, backendKind PackageKind,
	objectiveVariable string, constraints constraint.Set) (*Orchestrator, error) {

	var clauses []constraint.Clause
	if constraints != nil {
		var err error
		clauses, err = constraints.Compile()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
	}

	f, err := newFormulation(problemKind, objectiveVariable)
	if err != nil {
		return nil, err
	}
	b, err := newBackend(backendKind, m, f, clauses)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		model:             m,
		objectiveVariable: objectiveVariable,
		clauses:           clauses,
		formulation:       f,
		backend:           b,
	}, nil
}

// Optimize sets the model's horizon and runs one solve. On success the
// model's control trajectories, measurement "Simulated" slots and free
// parameter values are updated in place; nothing is written on failure.
func (o *Orchestrator) Optimize(ctx context.Context, start, end time.Time, args Args) error {
	if err := o.model.SetTimeWindow(start, end); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := o.formulation.validate(o.model, args); err != nil {
		return err
	}
	return o.formulation.solve(ctx, o, args)
}

// SetProblemType replaces the formulation and rebuilds a backend of the same
// kind against it. Accumulated options are lost: the objective and the
// augmented-problem structure both change.
func (o *Orchestrator) SetProblemType(kind ProblemKind) error {
	f, err := newFormulation(kind, o.objectiveVariable)
	if err != nil {
		return err
	}
	b, err := newBackend(o.backend.kind(), o.model, f, o.clauses)
	if err != nil {
		return err
	}
	o.formulation, o.backend = f, b
	return nil
}

// SetPackageType replaces the backend only, rebuilding the augmented problem
// against the unchanged formulation.
func (o *Orchestrator) SetPackageType(kind PackageKind) error {
	b, err := newBackend(kind, o.model, o.formulation, o.clauses)
	if err != nil {
		return err
	}
	o.backend = b
	return nil
}

// ProblemType reports the active formulation kind.
func (o *Orchestrator) ProblemType() ProblemKind { return o.formulation.kind() }

// PackageType reports the active backend kind.
func (o *Orchestrator) PackageType() PackageKind { return o.backend.kind() }

// Options returns a copy of the backend's option store.
func (o *Orchestrator) Options() Options { return o.backend.options() }

// SetOptions merges user options into the backend store. Auto-managed keys
// only pass when they match the backend-computed value.
func (o *Orchestrator) SetOptions(user Options) error { return o.backend.setOptions(user) }

// Statistics returns the snapshot of the most recent solve.
func (o *Orchestrator) Statistics() (Statistics, error) { return o.backend.statistics() }

// PenaltyHistory returns the (multiplier, solution) record of the last
// derivative-free run.
func (o *Orchestrator) PenaltyHistory() ([]HistoryEntry, error) {
	b, ok := o.backend.(*derivativeFreeBackend)
	if !ok {
		return nil, fmt.Errorf("%w: active backend is %s", ErrConfiguration, o.backend.kind())
	}
	return b.History(), nil
}

// PenaltyState reports the penalty loop's terminal state.
func (o *Orchestrator) PenaltyState() (PenaltyState, error) {
	b, ok := o.backend.(*derivativeFreeBackend)
	if !ok {
		return "", fmt.Errorf("%w: active backend is %s", ErrConfiguration, o.backend.kind())
	}
	return b.State(), nil
}

// PenaltyLabels returns the decision-vector labels of the last run.
func (o *Orchestrator) PenaltyLabels() ([]Label, error) {
	b, ok := o.backend.(*derivativeFreeBackend)
	if !ok {
		return nil, fmt.Errorf("%w: active backend is %s", ErrConfiguration, o.backend.kind())
	}
	return b.Labels(), nil
}

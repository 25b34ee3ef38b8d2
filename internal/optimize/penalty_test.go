package optimize

import (
	"context"
	"errors"
	"testing"

	"github.com/san-kum/mpcopt/internal/constraint"
)

func TestPenaltyHistoryStaysInControlBounds(t *testing.T) {
	m, start, final := rcFixture(t, 1800, 3)
	set := constraint.Set{}
	_ = set.Add("q_flow", constraint.LowerBound, constraint.Literal(0))
	_ = set.Add("q_flow", constraint.UpperBound, constraint.Literal(10))

	o, err := New(m, EnergyMin, DerivativeFree, "q_flow", set)
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	err = o.Optimize(context.Background(), start, final, Args{
		Schedule: func(k int) float64 { return float64(k) },
	})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}

	history, err := o.PenaltyHistory()
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("expected 5 outer iterations, got %d", len(history))
	}
	for k, entry := range history {
		if entry.Multiplier != float64(k+1) {
			t.Errorf("iteration %d: multiplier %g, want %d", k, entry.Multiplier, k+1)
		}
		for i, v := range entry.Solution {
			if v < 0 || v > 10 {
				t.Errorf("iteration %d: x[%d] = %g outside [0, 10]", k, i, v)
			}
		}
	}

	labels, err := o.PenaltyLabels()
	if err != nil {
		t.Fatalf("labels: %v", err)
	}
	if len(labels) != len(history[0].Solution) {
		t.Fatalf("%d labels for %d decision entries", len(labels), len(history[0].Solution))
	}
	for i, l := range labels {
		if l.Channel != "q_flow" || l.Sample != i {
			t.Errorf("label %d = %+v", i, l)
		}
	}

	// No clause on a non-control variable means zero violation: the loop
	// terminates converged.
	state, err := o.PenaltyState()
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state != PenaltyConverged {
		t.Errorf("terminal state %s, want %s", state, PenaltyConverged)
	}

	stats, err := o.Statistics()
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if !stats.Converged || stats.Status != string(PenaltyConverged) {
		t.Errorf("statistics %+v, want converged", stats)
	}
	if stats.Iterations <= 0 {
		t.Error("no inner evaluations recorded")
	}

	// Write-back happened: the stored control now lives on the seed grid
	// within bounds.
	q := m.Control("q_flow")
	if q.Empty() {
		t.Fatal("no control written back")
	}
	for i, v := range q.Values {
		if v < -1e-9 || v > 10+1e-9 {
			t.Errorf("written-back q_flow[%d] = %g outside [0, 10]", i, v)
		}
	}
}

func TestPenaltyRejectsDecreasingSchedule(t *testing.T) {
	m, start, final := rcFixture(t, 1800, 3)
	o, err := New(m, EnergyMin, DerivativeFree, "q_flow", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = o.Optimize(context.Background(), start, final, Args{
		Schedule: func(k int) float64 { return float64(-k) },
	})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestPenaltyUnknownAlgorithm(t *testing.T) {
	m, start, final := rcFixture(t, 1800, 3)
	o, err := New(m, EnergyMin, DerivativeFree, "q_flow", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	err = o.Optimize(context.Background(), start, final, Args{Algorithm: "annealing"})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestPenaltyNelderMeadInner(t *testing.T) {
	m, start, final := rcFixture(t, 1800, 3)
	set := constraint.Set{}
	_ = set.Add("q_flow", constraint.LowerBound, constraint.Literal(0))
	_ = set.Add("q_flow", constraint.UpperBound, constraint.Literal(1000))

	o, err := New(m, EnergyMin, DerivativeFree, "q_flow", set)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := o.Optimize(context.Background(), start, final, Args{Algorithm: "neldermead"}); err != nil {
		t.Fatalf("optimize: %v", err)
	}
	history, err := o.PenaltyHistory()
	if err != nil || len(history) == 0 {
		t.Fatalf("history: %v (%d entries)", err, len(history))
	}
}

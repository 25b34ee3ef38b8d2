package optimize

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/san-kum/mpcopt/internal/model"
	"github.com/san-kum/mpcopt/internal/series"
	"github.com/san-kum/mpcopt/internal/units"
)

// boundsTolerance is the feasibility slack accepted at evaluated samples.
const boundsTolerance = 1.0

func simulatedInBounds(t *testing.T, m *model.Model, lo, hi float64) {
	t.Helper()
	mea, ok := m.Measurement("T_db")
	if !ok || mea.Simulated.Empty() {
		t.Fatal("no simulated T_db series written back")
	}
	for i, v := range mea.Simulated.Values {
		if v < lo-boundsTolerance || v > hi+boundsTolerance {
			t.Errorf("T_db[%d] = %g outside [%g, %g]", i, v, lo, hi)
		}
	}
}

// seedHeat replaces the fixture's control trajectory with a plausible flat
// heating plan, giving the solve a well-scaled, feasible starting point.
func seedHeat(t *testing.T, m *model.Model, start, final time.Time, watts float64) {
	t.Helper()
	if err := m.SetControl("q_flow", series.Constant("q_flow", units.Watt, start, final, watts)); err != nil {
		t.Fatalf("seed control: %v", err)
	}
}

func TestEnergyMinKeepsComfortBounds(t *testing.T) {
	m, start, final := rcFixture(t, 3600, 24)
	seedHeat(t, m, start, final, 1000)
	o, err := New(m, EnergyMin, Collocation, "q_flow", comfortBounds(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	if err := o.Optimize(context.Background(), start, final, Args{}); err != nil {
		t.Fatalf("optimize: %v", err)
	}

	simulatedInBounds(t, m, 283.15, 303.15)

	// The unheated zone would fall below the lower bound, so the solved
	// control must inject heat somewhere, and every sample must stay at a
	// physically sensible magnitude.
	q := m.Control("q_flow")
	if q.Empty() {
		t.Fatal("no control trajectory written back")
	}
	var peak float64
	for i, v := range q.Values {
		peak = math.Max(peak, v)
		if v < -20000 || v > 20000 {
			t.Errorf("q_flow[%d] = %g W, outside a sane range", i, v)
		}
	}
	if peak < 100 {
		t.Errorf("peak heat input %g W, expected active heating", peak)
	}
	if q.Times[0] != start {
		t.Errorf("trajectory starts at %v, want %v", q.Times[0], start)
	}

	stats, err := o.Statistics()
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if !stats.Converged {
		t.Errorf("solver did not converge: %s", stats.Status)
	}
	if math.IsNaN(stats.Objective) || math.IsInf(stats.Objective, 0) {
		t.Errorf("objective not finite: %g", stats.Objective)
	}
	if stats.SolveSeconds < 0 {
		t.Errorf("negative solve time %g", stats.SolveSeconds)
	}
}

func TestFlatPriceMatchesEnergyMin(t *testing.T) {
	mA, start, final := rcFixture(t, 3600, 24)
	seedHeat(t, mA, start, final, 1000)
	a, err := New(mA, EnergyMin, Collocation, "q_flow", comfortBounds(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := a.Optimize(context.Background(), start, final, Args{}); err != nil {
		t.Fatalf("energy min: %v", err)
	}
	statsA, _ := a.Statistics()

	mB, _, _ := rcFixture(t, 3600, 24)
	seedHeat(t, mB, start, final, 1000)
	b, err := New(mB, EnergyCostMin, Collocation, "q_flow", comfortBounds(t))
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	price := series.Constant(PriceSignal, units.PricePerKWh, start, final, 2)
	if err := b.Optimize(context.Background(), start, final, Args{PriceData: price}); err != nil {
		t.Fatalf("cost min: %v", err)
	}
	statsB, _ := b.Statistics()

	simulatedInBounds(t, mB, 283.15, 303.15)

	// A flat price only scales the objective; the optimal plan is the same.
	if !statsA.Converged {
		t.Errorf("energy min did not converge: %s", statsA.Status)
	}
	if !statsB.Converged {
		t.Errorf("cost min did not converge: %s", statsB.Status)
	}
	if statsA.Objective <= 0 {
		t.Fatalf("energy objective %g not positive", statsA.Objective)
	}
	ratio := statsB.Objective / statsA.Objective
	if math.Abs(ratio-2) > 0.3 {
		t.Errorf("objective ratio %g, want near 2", ratio)
	}
}

func TestParameterEstimationWithinBounds(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	final := start.Add(6 * time.Hour)

	// Measurements synthesized from a zone with heatcap 2e6.
	truth := model.NewRCModel(2e6, 200, 293.15, 600)
	_ = truth.SetControl("q_flow", series.Constant("q_flow", units.Watt, start, final, 500))
	_ = truth.SetExogenous("weaTDryBul", series.Constant("weaTDryBul", units.Kelvin, start, final, 278.15))
	_ = truth.SetTimeWindow(start, final)
	sim, err := truth.Simulate(context.Background())
	if err != nil {
		t.Fatalf("truth simulation: %v", err)
	}
	temps, _ := sim.Get("T_db")
	measured, err := series.FromOffsets("T_db", units.Kelvin, start, sim.Time, temps)
	if err != nil {
		t.Fatalf("measured series: %v", err)
	}

	m := model.NewRCModel(3e6, 200, 293.15, 600)
	_ = m.SetControl("q_flow", series.Constant("q_flow", units.Watt, start, final, 500))
	_ = m.SetExogenous("weaTDryBul", series.Constant("weaTDryBul", units.Kelvin, start, final, 278.15))
	m.DeclareParameter(model.Parameter{
		Name: "heatcap", Unit: units.JoulePerK,
		Value: 3e6, Min: 1e5, Max: 1e7, Free: true,
	})
	if err := m.SetMeasured("T_db", measured); err != nil {
		t.Fatalf("set measured: %v", err)
	}

	o, err := New(m, ParameterEstimate, Collocation, "", nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := o.Optimize(context.Background(), start, final, Args{
		MeasurementVariables: []string{"T_db"},
	}); err != nil {
		t.Fatalf("optimize: %v", err)
	}

	p, _ := m.Parameter("heatcap")
	if p.Value < 1e5 || p.Value > 1e7 {
		t.Errorf("estimated heatcap %g outside declared bounds", p.Value)
	}
	if p.Value >= 3e6 {
		t.Errorf("estimated heatcap %g did not move toward the data", p.Value)
	}

	stats, err := o.Statistics()
	if err != nil {
		t.Fatalf("statistics: %v", err)
	}
	if math.IsNaN(stats.Objective) || math.IsInf(stats.Objective, 0) {
		t.Errorf("objective not finite: %g", stats.Objective)
	}
}

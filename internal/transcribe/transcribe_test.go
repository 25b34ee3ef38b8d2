package transcribe

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/san-kum/mpcopt/internal/constraint"
	"github.com/san-kum/mpcopt/internal/model"
	"github.com/san-kum/mpcopt/internal/series"
	"github.com/san-kum/mpcopt/internal/units"
	"gonum.org/v1/gonum/mat"
)

func rcFixture(t *testing.T) (*model.Model, time.Time, time.Time) {
	t.Helper()
	m := model.NewRCModel(3e6, 200, 293.15, 600)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	final := start.Add(6 * time.Hour)

	if err := m.SetControl("q_flow", series.Constant("q_flow", units.Watt, start, final, 500)); err != nil {
		t.Fatalf("set control: %v", err)
	}
	if err := m.SetExogenous("weaTDryBul", series.Constant("weaTDryBul", units.Kelvin, start, final, 278.15)); err != nil {
		t.Fatalf("set exogenous: %v", err)
	}
	if err := m.SetTimeWindow(start, final); err != nil {
		t.Fatalf("set window: %v", err)
	}
	return m, start, final
}

func seedOptions(t *testing.T, m *model.Model) Options {
	t.Helper()
	seed, err := m.Simulate(context.Background())
	if err != nil {
		t.Fatalf("seed simulation: %v", err)
	}
	return Options{
		MaxIterations: 80,
		Accuracy:      1e-6,
		InitTraj:      seed,
		NominalTraj:   seed,
		Intervals:     seed.Samples() - 1,
	}
}

func TestBuildRequiresObjectiveOrEstimation(t *testing.T) {
	m, _, _ := rcFixture(t)
	if _, err := Build(m, Recipe{}); err == nil {
		t.Fatal("expected error for empty recipe")
	}
	if _, err := Build(m, Recipe{EstimateParameters: true}); err != nil {
		t.Fatalf("estimation recipe: %v", err)
	}
}

func TestSetPointValues(t *testing.T) {
	m, _, _ := rcFixture(t)
	p, err := Build(m, Recipe{ObjectiveVariable: "q_flow"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if err := p.Set("start_time", 0); err != nil {
		t.Errorf("start_time: %v", err)
	}
	if err := p.Set("final_time", 21600); err != nil {
		t.Errorf("final_time: %v", err)
	}
	if err := p.Set("ua", 180); err != nil {
		t.Errorf("declared parameter: %v", err)
	}
	if err := p.Set("no_such_thing", 1); err == nil {
		t.Error("expected error for unknown point value")
	}
}

func TestClausesRoundTrip(t *testing.T) {
	m, _, _ := rcFixture(t)
	set := constraint.Set{}
	_ = set.Add("T_db", constraint.LowerBound, constraint.Literal(280))
	_ = set.Add("q_flow", constraint.UpperBound, constraint.Literal(1000))
	clauses, err := set.Compile()
	if err != nil {
		t.Fatalf("compile: %v", err)
	}

	p, err := Build(m, Recipe{ObjectiveVariable: "q_flow", Clauses: clauses})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	got := p.Clauses()
	if len(got) != len(clauses) {
		t.Fatalf("expected %d clauses back, got %d", len(clauses), len(got))
	}
	for i := range got {
		if got[i].Variable != clauses[i].Variable || got[i].Kind != clauses[i].Kind {
			t.Errorf("clause %d = (%s, %s), want (%s, %s)",
				i, got[i].Variable, got[i].Kind, clauses[i].Variable, clauses[i].Kind)
		}
	}
}

func TestOptimizeRequiresSeedAndWindow(t *testing.T) {
	m, _, _ := rcFixture(t)
	p, err := Build(m, Recipe{ObjectiveVariable: "q_flow"})
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	if _, err := p.Optimize(context.Background(), p.DefaultOptions()); err == nil {
		t.Error("expected error without seed trajectory")
	}

	opts := seedOptions(t, m)
	if _, err := p.Optimize(context.Background(), opts); err == nil {
		t.Error("expected error without final_time")
	}

	bad := opts
	bad.Intervals = 3
	_ = p.Set("final_time", m.ElapsedSeconds())
	if _, err := p.Optimize(context.Background(), bad); err == nil {
		t.Error("expected error for interval mismatch")
	}
}

func TestOptimizeRejectsUnknownVariables(t *testing.T) {
	m, _, _ := rcFixture(t)
	set := constraint.Set{}
	_ = set.Add("no_such_var", constraint.LowerBound, constraint.Literal(0))
	clauses, _ := set.Compile()

	p, err := Build(m, Recipe{ObjectiveVariable: "q_flow", Clauses: clauses})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_ = p.Set("final_time", m.ElapsedSeconds())

	if _, err := p.Optimize(context.Background(), seedOptions(t, m)); err == nil {
		t.Error("expected error for undeclared constrained variable")
	}
}

func TestOptimizeEnergyMinDrivesHeatToLowerBound(t *testing.T) {
	m, _, _ := rcFixture(t)
	set := constraint.Set{}
	_ = set.Add("q_flow", constraint.LowerBound, constraint.Literal(0))
	_ = set.Add("q_flow", constraint.UpperBound, constraint.Literal(1000))
	_ = set.Add("T_db", constraint.LowerBound, constraint.Literal(278))
	clauses, _ := set.Compile()

	p, err := Build(m, Recipe{ObjectiveVariable: "q_flow", Clauses: clauses})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_ = p.Set("start_time", 0)
	_ = p.Set("final_time", m.ElapsedSeconds())

	res, err := p.Optimize(context.Background(), seedOptions(t, m))
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}

	// With the temperature bound slack everywhere, the cheapest plan is no
	// heating at all.
	if !res.Stats.Converged {
		t.Errorf("solver did not converge: %s", res.Stats.Status)
	}
	if res.Stats.Objective > 0.05*500*m.ElapsedSeconds() {
		t.Errorf("objective %g still near seed cost", res.Stats.Objective)
	}
	q, ok := res.Get("q_flow")
	if !ok {
		t.Fatal("missing q_flow trajectory")
	}
	for i, v := range q {
		if v < -1 || v > 1001 {
			t.Errorf("q_flow[%d] = %g outside declared bounds", i, v)
		}
	}
	acc, ok := res.Get("J")
	if !ok {
		t.Fatal("missing accumulator trajectory")
	}
	if acc[0] != 0 {
		t.Errorf("accumulator starts at %g, want 0", acc[0])
	}
	if math.Abs(acc[len(acc)-1]-res.Stats.Objective) > 1e-6*math.Max(1, math.Abs(res.Stats.Objective)) {
		t.Errorf("accumulator end %g != objective %g", acc[len(acc)-1], res.Stats.Objective)
	}
}

func TestOptimizeEstimatesHeatLossCoefficient(t *testing.T) {
	// Synthesize measurements from a zone with ua=200, then estimate from a
	// model whose declared value starts at 150.
	truth, _, _ := rcFixture(t)
	meas, err := truth.Simulate(context.Background())
	if err != nil {
		t.Fatalf("truth simulation: %v", err)
	}
	measured, _ := meas.Get("T_db")

	m := model.NewRCModel(3e6, 150, 293.15, 600)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	final := start.Add(6 * time.Hour)
	_ = m.SetControl("q_flow", series.Constant("q_flow", units.Watt, start, final, 500))
	_ = m.SetExogenous("weaTDryBul", series.Constant("weaTDryBul", units.Kelvin, start, final, 278.15))
	_ = m.SetTimeWindow(start, final)
	par, _ := m.Parameter("ua")
	par.Free = true

	p, err := Build(m, Recipe{EstimateParameters: true})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	_ = p.Set("final_time", m.ElapsedSeconds())

	opts := seedOptions(t, m)
	opts.ExternalData = &ExternalData{
		Tracked: []string{"T_db"},
		Q:       mat.NewDiagDense(1, []float64{1}),
		QuadPen: map[string]QuadPen{
			"T_db": {Times: meas.Time, Values: measured},
		},
	}

	res, err := p.Optimize(context.Background(), opts)
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}

	ua, ok := res.Initial("ua")
	if !ok {
		t.Fatal("missing estimated parameter")
	}
	if math.Abs(ua-200) > 40 {
		t.Errorf("estimated ua = %g, want near 200", ua)
	}
	sim, err := m.Simulate(context.Background())
	if err != nil {
		t.Fatalf("seed simulation: %v", err)
	}
	traj, _ := sim.Get("T_db")
	sq := make([]float64, len(traj))
	for i := range traj {
		d := traj[i] - measured[i]
		sq[i] = d * d
	}
	seedCost := series.Trapz(sim.Time, sq)
	if seedCost > 0 && res.Stats.Objective >= seedCost {
		t.Errorf("tracking cost %g did not improve on seed %g", res.Stats.Objective, seedCost)
	}
}

func TestExternalDataWeight(t *testing.T) {
	ext := &ExternalData{
		Tracked: []string{"T_db", "T_rad"},
		Q:       mat.NewDiagDense(2, []float64{1, 3}),
	}
	if w := ext.Weight("T_rad"); w != 3 {
		t.Errorf("tracked weight %g, want 3", w)
	}
	if w := ext.Weight("q_flow"); w != 0 {
		t.Errorf("untracked weight %g, want 0", w)
	}
	var nilExt *ExternalData
	if w := nilExt.Weight("T_db"); w != 0 {
		t.Errorf("nil receiver weight %g, want 0", w)
	}
}

func TestResultInitialFallsBackToTrajectory(t *testing.T) {
	r := NewResult([]float64{0, 1}, map[string][]float64{"T_db": {293, 292}},
		map[string]float64{"ua": 200}, Stats{})
	if v, ok := r.Initial("ua"); !ok || v != 200 {
		t.Errorf("point Initial = %g, %v", v, ok)
	}
	if v, ok := r.Initial("T_db"); !ok || v != 293 {
		t.Errorf("trajectory Initial = %g, %v", v, ok)
	}
	if _, ok := r.Initial("nope"); ok {
		t.Error("expected miss for unknown name")
	}
}

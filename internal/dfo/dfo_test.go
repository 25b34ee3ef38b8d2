package dfo

import (
	"math"
	"testing"
)

// sphere has its minimum at (1, 2) with value 0.
func sphere(x []float64) float64 {
	d0 := x[0] - 1
	d1 := x[1] - 2
	return d0*d0 + d1*d1
}

func TestNewRejectsUnknownAlgorithm(t *testing.T) {
	if _, err := New("simulated-annealing", Config{}); err == nil {
		t.Fatal("expected error for unknown algorithm")
	}
}

func TestOptimizersFindSphereMinimum(t *testing.T) {
	lower := []float64{-10, -10}
	upper := []float64{10, 10}
	x0 := []float64{8, -5}

	for _, name := range []string{AlgorithmMayfly, AlgorithmNelderMead} {
		opt, err := New(name, Config{MaxIterations: 200, Population: 30, Seed: 42})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		best, cost, evals := opt.Run(sphere, lower, upper, x0)

		if evals <= 0 {
			t.Errorf("%s: no evaluations counted", name)
		}
		if cost > 0.5 {
			t.Errorf("%s: cost %g, want near 0", name, cost)
		}
		if math.Abs(best[0]-1) > 1 || math.Abs(best[1]-2) > 1 {
			t.Errorf("%s: best %v, want near (1, 2)", name, best)
		}
		for i := range best {
			if best[i] < lower[i] || best[i] > upper[i] {
				t.Errorf("%s: best[%d] = %g outside bounds", name, i, best[i])
			}
		}
	}
}

func TestWarmStartNeverLost(t *testing.T) {
	// Minimum sits at the warm start itself; the returned cost must not
	// exceed the warm-start cost.
	lower := []float64{0, 0}
	upper := []float64{10, 10}
	x0 := []float64{1, 2}

	for _, name := range []string{AlgorithmMayfly, AlgorithmNelderMead} {
		opt, err := New(name, Config{MaxIterations: 20, Population: 5, Seed: 7})
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		_, cost, _ := opt.Run(sphere, lower, upper, x0)
		if cost > sphere(x0) {
			t.Errorf("%s: cost %g worse than warm start %g", name, cost, sphere(x0))
		}
	}
}

func TestClamp(t *testing.T) {
	got := clamp([]float64{-5, 5, 15}, []float64{0, 0, 0}, []float64{10, 10, 10})
	want := []float64{0, 5, 10}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("clamp[%d] = %g, want %g", i, got[i], want[i])
		}
	}
}

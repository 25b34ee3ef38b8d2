package integrators

import (
	"math"
	"testing"
)

type oscillator struct{}

func (s *oscillator) Derivative(x, u []float64, t float64) []float64 {
	return []float64{x[1], -x[0]}
}

// rampDriven integrates dx/dt = u(t).
type rampDriven struct{}

func (s *rampDriven) Derivative(x, u []float64, t float64) []float64 {
	return []float64{u[0]}
}

func noInput(t float64) []float64 { return nil }

func TestRK4Accuracy(t *testing.T) {
	dyn := &oscillator{}
	integ := NewRK4()

	x := []float64{1.0, 0.0}
	dt := 0.01
	steps := 100

	for i := 0; i < steps; i++ {
		x = integ.Step(dyn, x, noInput, float64(i)*dt, dt)
	}

	expectedX := math.Cos(float64(steps) * dt)
	expectedV := -math.Sin(float64(steps) * dt)

	if math.Abs(x[0]-expectedX) > 1e-4 {
		t.Errorf("position error too large: got %.6f, expected %.6f", x[0], expectedX)
	}

	if math.Abs(x[1]-expectedV) > 1e-4 {
		t.Errorf("velocity error too large: got %.6f, expected %.6f", x[1], expectedV)
	}
}

func TestRK4SamplesInputAtStageTimes(t *testing.T) {
	dyn := &rampDriven{}
	integ := NewRK4()

	// dx/dt = t integrates exactly to T^2/2 when the input is sampled at the
	// stage times; freezing the step-start value would give the left-rule sum.
	ramp := func(tt float64) []float64 { return []float64{tt} }

	x := []float64{0}
	dt := 0.1
	steps := 10

	for i := 0; i < steps; i++ {
		x = integ.Step(dyn, x, ramp, float64(i)*dt, dt)
	}

	want := 0.5
	if math.Abs(x[0]-want) > 1e-12 {
		t.Errorf("ramp integral %.12f, want %.12f", x[0], want)
	}
}

func TestEulerConverges(t *testing.T) {
	dyn := &oscillator{}
	integ := NewEuler()

	x := []float64{1.0, 0.0}
	dt := 0.0001
	steps := 1000

	for i := 0; i < steps; i++ {
		x = integ.Step(dyn, x, noInput, float64(i)*dt, dt)
	}

	expected := math.Cos(float64(steps) * dt)
	if math.Abs(x[0]-expected) > 1e-3 {
		t.Errorf("position error too large: got %.6f, expected %.6f", x[0], expected)
	}
}

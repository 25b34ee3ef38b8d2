package integrators

// Derivable is the minimal dynamics surface a stepper needs: the time
// derivative of the state at (x, u, t).
type Derivable interface {
	Derivative(x, u []float64, t float64) []float64
}

// InputFunc samples the input vector at time t. The returned slice is only
// valid until the next call.
type InputFunc func(t float64) []float64

// Stepper advances a state vector by one fixed step dt, sampling the inputs
// at each stage time.
type Stepper interface {
	Step(dyn Derivable, x []float64, u InputFunc, t, dt float64) []float64
}

package integrators

type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(dyn Derivable, x []float64, u InputFunc, t float64, dt float64) []float64 {
	dx := dyn.Derivative(x, u(t), t)
	result := make([]float64, len(x))
	for i := range x {
		result[i] = x[i] + dt*dx[i]
	}
	return result
}

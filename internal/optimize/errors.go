package optimize

import "errors"

// Error categories for the optimization pipeline. Numeric non-convergence is
// not an error: it surfaces through Statistics only.
var (
	// ErrConfiguration indicates an unknown problem/backend kind or an
	// attempt to override an auto-managed option.
	ErrConfiguration = errors.New("optimize: invalid configuration")

	// ErrData indicates required data is missing or empty for the selected
	// formulation: price signal, measurement channels, free parameters.
	ErrData = errors.New("optimize: missing or empty required data")

	// ErrUnimplemented indicates a formulation/backend pairing whose solve
	// path is a contract stub.
	ErrUnimplemented = errors.New("optimize: not implemented")

	// ErrNoSolve indicates statistics were requested before any solve.
	ErrNoSolve = errors.New("optimize: no solve has been performed")
)

package optimize

import (
	"context"
	"fmt"

	"github.com/san-kum/mpcopt/internal/model"
)

// initialGuess runs the unmodified, non-optimizing system forward over the
// active horizon with current control and parameter values. The trajectory
// seeds the solve as warm start and nominal-scaling reference, and its sample
// count fixes the discretization. Re-run before every solve.
func initialGuess(ctx context.Context, m *model.Model) (*model.SimResult, error) {
	res, err := m.Simulate(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: initial-guess simulation: %v", ErrData, err)
	}
	return res, nil
}

package optimize

import (
	"fmt"

	"github.com/san-kum/mpcopt/internal/model"
	"github.com/san-kum/mpcopt/internal/series"
	"github.com/san-kum/mpcopt/internal/transcribe"
)

// writeResults maps a solved result back into the model: control channels get
// their new trajectories, declared measurements get their simulated series,
// free parameters get their solved point values. Timestamps are horizon start
// plus elapsed-seconds offsets; units resolve through the model with a
// dimensionless fallback. Called only after a fully obtained result, so a
// failed solve never leaves partial state behind.
func writeResults(m *model.Model, res *transcribe.Result) error {
	start := m.Start()

	for _, name := range m.ControlNames() {
		traj, ok := res.Get(name)
		if !ok {
			continue
		}
		ts, err := series.FromOffsets(name, m.UnitOf(name), start, res.Time, traj)
		if err != nil {
			return fmt.Errorf("optimize: control %s: %w", name, err)
		}
		if err := m.SetControl(name, ts); err != nil {
			return err
		}
	}

	for _, name := range m.MeasurementNames() {
		traj, ok := res.Get(name)
		if !ok {
			continue
		}
		ts, err := series.FromOffsets(name, m.UnitOf(name), start, res.Time, traj)
		if err != nil {
			return fmt.Errorf("optimize: measurement %s: %w", name, err)
		}
		if err := m.SetSimulated(name, ts); err != nil {
			return err
		}
	}

	for _, p := range m.FreeParameters() {
		v, ok := res.Initial(p.Name)
		if !ok {
			continue
		}
		if err := m.SetParameterValue(p.Name, v); err != nil {
			return err
		}
	}
	return nil
}

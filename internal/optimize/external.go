package optimize

import (
	"fmt"

	"github.com/san-kum/mpcopt/internal/model"
	"github.com/san-kum/mpcopt/internal/series"
	"github.com/san-kum/mpcopt/internal/transcribe"
	"gonum.org/v1/gonum/mat"
)

// buildExternalData assembles the per-solve data bundle: every fixed
// non-decision input becomes an eliminated input, and for parameter
// estimation each tracked channel gets a unit-weight quadratic penalty on its
// measured sub-series within the horizon.
func buildExternalData(m *model.Model, estimating bool, tracked []string) (*transcribe.ExternalData, error) {
	ext := &transcribe.ExternalData{
		Eliminated: make(map[string]*series.Timeseries),
	}
	for _, name := range m.ExogenousNames() {
		ext.Eliminated[name] = m.Exogenous(name)
	}
	if !estimating {
		return ext, nil
	}

	// Controls are fixed data during estimation.
	for _, name := range m.ControlNames() {
		ext.Eliminated[name] = m.Control(name)
	}

	start, final := m.Window()
	ext.Tracked = append([]string(nil), tracked...)
	ext.QuadPen = make(map[string]transcribe.QuadPen, len(tracked))
	weights := make([]float64, len(tracked))
	for i, name := range tracked {
		weights[i] = 1
		mea, ok := m.Measurement(name)
		if !ok {
			return nil, fmt.Errorf("%w: measurement channel %s not declared", ErrData, name)
		}
		sub := mea.Measured.Slice(start, final)
		if sub.Empty() {
			return nil, fmt.Errorf("%w: no measured data for %s within horizon", ErrData, name)
		}
		ext.QuadPen[name] = transcribe.QuadPen{
			Times:  sub.Offsets(start),
			Values: append([]float64(nil), sub.Values...),
		}
	}
	ext.Q = mat.NewDiagDense(len(tracked), weights)
	return ext, nil
}

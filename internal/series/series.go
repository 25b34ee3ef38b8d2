package series

import (
	"fmt"
	"time"

	"github.com/san-kum/mpcopt/internal/units"
)

// Timeseries is an absolute-time-indexed series of float64 samples with a
// unit tag. Timestamps must be strictly increasing.
type Timeseries struct {
	Name   string
	Unit   units.Unit
	Times  []time.Time
	Values []float64
}

func New(name string, unit units.Unit, times []time.Time, values []float64) (*Timeseries, error) {
	if len(times) != len(values) {
		return nil, fmt.Errorf("series %s: %d timestamps for %d values", name, len(times), len(values))
	}
	for i := 1; i < len(times); i++ {
		if !times[i].After(times[i-1]) {
			return nil, fmt.Errorf("series %s: timestamps not increasing at index %d", name, i)
		}
	}
	return &Timeseries{Name: name, Unit: unit, Times: times, Values: values}, nil
}

// FromOffsets builds a series from elapsed-seconds offsets relative to start.
func FromOffsets(name string, unit units.Unit, start time.Time, offsets, values []float64) (*Timeseries, error) {
	times := make([]time.Time, len(offsets))
	for i, off := range offsets {
		times[i] = start.Add(time.Duration(off * float64(time.Second)))
	}
	return New(name, unit, times, values)
}

// Constant builds a two-point series holding value over [start, end].
func Constant(name string, unit units.Unit, start, end time.Time, value float64) *Timeseries {
	return &Timeseries{
		Name:   name,
		Unit:   unit,
		Times:  []time.Time{start, end},
		Values: []float64{value, value},
	}
}

func (ts *Timeseries) Len() int {
	if ts == nil {
		return 0
	}
	return len(ts.Values)
}

func (ts *Timeseries) Empty() bool { return ts.Len() == 0 }

// At linearly interpolates the series at t. Outside the sampled range the
// nearest endpoint value is held.
func (ts *Timeseries) At(t time.Time) float64 {
	n := ts.Len()
	if n == 0 {
		return 0
	}
	if !t.After(ts.Times[0]) {
		return ts.Values[0]
	}
	if !t.Before(ts.Times[n-1]) {
		return ts.Values[n-1]
	}
	for i := 1; i < n; i++ {
		if !t.After(ts.Times[i]) {
			span := ts.Times[i].Sub(ts.Times[i-1]).Seconds()
			if span <= 0 {
				return ts.Values[i]
			}
			frac := t.Sub(ts.Times[i-1]).Seconds() / span
			return ts.Values[i-1] + frac*(ts.Values[i]-ts.Values[i-1])
		}
	}
	return ts.Values[n-1]
}

// Slice returns the samples with start <= t <= end.
func (ts *Timeseries) Slice(start, end time.Time) *Timeseries {
	if ts == nil {
		return &Timeseries{}
	}
	out := &Timeseries{Name: ts.Name, Unit: ts.Unit}
	for i, t := range ts.Times {
		if t.Before(start) || t.After(end) {
			continue
		}
		out.Times = append(out.Times, t)
		out.Values = append(out.Values, ts.Values[i])
	}
	return out
}

// Offsets returns each sample's elapsed seconds relative to start.
func (ts *Timeseries) Offsets(start time.Time) []float64 {
	out := make([]float64, ts.Len())
	for i, t := range ts.Times {
		out[i] = t.Sub(start).Seconds()
	}
	return out
}

func (ts *Timeseries) Clone() *Timeseries {
	if ts == nil {
		return nil
	}
	out := &Timeseries{
		Name:   ts.Name,
		Unit:   ts.Unit,
		Times:  make([]time.Time, len(ts.Times)),
		Values: make([]float64, len(ts.Values)),
	}
	copy(out.Times, ts.Times)
	copy(out.Values, ts.Values)
	return out
}

// Trapz integrates v over t with the trapezoidal rule. t holds elapsed
// seconds; t and v must have equal length.
func Trapz(t, v []float64) float64 {
	sum := 0.0
	for i := 1; i < len(t) && i < len(v); i++ {
		sum += 0.5 * (v[i] + v[i-1]) * (t[i] - t[i-1])
	}
	return sum
}

// Point is a scalar, time-invariant value with a unit tag.
type Point struct {
	Name  string
	Unit  units.Unit
	Value float64
}

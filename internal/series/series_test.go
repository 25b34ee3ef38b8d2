package series

import (
	"math"
	"testing"
	"time"

	"github.com/san-kum/mpcopt/internal/units"
)

func TestNewLengthMismatch(t *testing.T) {
	now := time.Now()
	_, err := New("x", units.Dimensionless, []time.Time{now}, []float64{1, 2})
	if err == nil {
		t.Fatal("expected error for mismatched lengths")
	}
}

func TestNewNonIncreasing(t *testing.T) {
	now := time.Now()
	_, err := New("x", units.Dimensionless, []time.Time{now, now}, []float64{1, 2})
	if err == nil {
		t.Fatal("expected error for non-increasing timestamps")
	}
}

func TestAtInterpolation(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts, err := FromOffsets("x", units.Watt, start, []float64{0, 10, 20}, []float64{0, 10, 0})
	if err != nil {
		t.Fatalf("from offsets: %v", err)
	}

	tests := []struct {
		offset float64
		want   float64
	}{
		{-5, 0},  // clamped before range
		{0, 0},   // exact sample
		{5, 5},   // midpoint
		{10, 10}, // exact sample
		{15, 5},  // midpoint of falling edge
		{25, 0},  // clamped after range
	}

	for _, tt := range tests {
		got := ts.At(start.Add(time.Duration(tt.offset * float64(time.Second))))
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("At(+%gs) = %g, want %g", tt.offset, got, tt.want)
		}
	}
}

func TestSlice(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts, _ := FromOffsets("x", units.Kelvin, start, []float64{0, 10, 20, 30}, []float64{1, 2, 3, 4})

	got := ts.Slice(start.Add(5*time.Second), start.Add(25*time.Second))
	if got.Len() != 2 {
		t.Fatalf("expected 2 samples, got %d", got.Len())
	}
	if got.Values[0] != 2 || got.Values[1] != 3 {
		t.Errorf("unexpected slice values %v", got.Values)
	}
}

func TestOffsets(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ts, _ := FromOffsets("x", units.Kelvin, start, []float64{0, 3600, 7200}, []float64{1, 2, 3})

	off := ts.Offsets(start)
	want := []float64{0, 3600, 7200}
	for i := range want {
		if math.Abs(off[i]-want[i]) > 1e-9 {
			t.Errorf("offset %d = %g, want %g", i, off[i], want[i])
		}
	}
}

func TestTrapz(t *testing.T) {
	tests := []struct {
		name string
		t, v []float64
		want float64
	}{
		{"constant", []float64{0, 1, 2}, []float64{3, 3, 3}, 6},
		{"ramp", []float64{0, 2}, []float64{0, 2}, 2},
		{"empty", nil, nil, 0},
		{"single", []float64{0}, []float64{5}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Trapz(tt.t, tt.v)
			if math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Trapz = %g, want %g", got, tt.want)
			}
		})
	}
}

func TestConstant(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	ts := Constant("pi_e", units.PricePerKWh, start, end, 0.12)
	if ts.At(start.Add(17*time.Minute)) != 0.12 {
		t.Error("constant series should hold its value everywhere")
	}
}

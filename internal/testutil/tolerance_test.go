package testutil

import (
	"math"
	"testing"
)

func TestMaxAbsDiff(t *testing.T) {
	t.Parallel()

	a := []float64{1.0, 2.0, 3.0}
	b := []float64{1.0, 2.1, 3.0}

	d := MaxAbsDiff(a, b)
	if math.Abs(d-0.1) > 1e-15 {
		t.Fatalf("MaxAbsDiff = %v, want 0.1", d)
	}
}

func TestMaxAbsDiffLengthMismatch(t *testing.T) {
	t.Parallel()

	if d := MaxAbsDiff([]float64{1}, []float64{1, 2}); !math.IsInf(d, 1) {
		t.Fatalf("MaxAbsDiff = %v, want +Inf for length mismatch", d)
	}
}

func TestMaxAbsDiffIdentical(t *testing.T) {
	t.Parallel()

	a := []float64{1, 2, 3}
	if d := MaxAbsDiff(a, a); d != 0 {
		t.Fatalf("MaxAbsDiff = %v, want 0 for identical slices", d)
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	if got := RMS(nil); got != 0 {
		t.Fatalf("RMS(nil) = %v, want 0", got)
	}

	if got := RMS(DC(0.5, 64)); math.Abs(got-0.5) > 1e-15 {
		t.Fatalf("RMS of DC 0.5 = %v, want 0.5", got)
	}

	sine := DeterministicSine(441, 44100, 1.0, 4410)
	if got := RMS(sine); math.Abs(got-1/math.Sqrt2) > 1e-3 {
		t.Fatalf("RMS of unit sine = %v, want %v", got, 1/math.Sqrt2)
	}
}

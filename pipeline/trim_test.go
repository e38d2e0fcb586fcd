package pipeline

import (
	"errors"
	"testing"

	"github.com/cwbudde/algo-vj/internal/testutil"
)

func TestTrimNeutralIsUnity(t *testing.T) {
	t.Parallel()

	trim := NewTrim()
	if err := trim.Configure(Format{SampleRate: testSampleRate, BlockSize: 512}, nil); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	in := testutil.DeterministicSine(440, testSampleRate, 0.5, 256)
	out := make([]float64, len(in))
	copy(out, in)

	trim.Process(out)
	testutil.RequireSliceNearlyEqual(t, out, in, 1e-12)
}

func TestTrimGainIsMonotonic(t *testing.T) {
	t.Parallel()

	signal := testutil.DeterministicSine(440, testSampleRate, 0.5, 512)

	var prev float64

	for _, drive := range []float64{0, 0.25, 0.5, 0.7, 0.85, 1} {
		trim := NewTrim()
		if err := trim.Configure(Format{SampleRate: testSampleRate, BlockSize: 512}, Params{"drive": drive}); err != nil {
			t.Fatalf("Configure: %v", err)
		}

		block := make([]float64, len(signal))
		copy(block, signal)
		trim.Process(block)

		rms := testutil.RMS(block)
		if rms <= prev {
			t.Fatalf("rms %.5f at drive %.2f not above %.5f", rms, drive, prev)
		}

		prev = rms
	}
}

func TestTrimRejectsUnknownParam(t *testing.T) {
	t.Parallel()

	trim := NewTrim()
	if err := trim.SetParam("tilt", 0.5); !errors.Is(err, ErrUnknownParam) {
		t.Errorf("err = %v, want ErrUnknownParam", err)
	}
}

func TestTrimClampsDrive(t *testing.T) {
	t.Parallel()

	trim := NewTrim()
	if err := trim.SetParam("drive", 1.8); err != nil {
		t.Fatalf("SetParam: %v", err)
	}

	testutil.RequireNearlyEqual(t, trim.Drive(), 1, 1e-12)
}

package input

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	wav "github.com/youpy/go-wav"

	"github.com/cwbudde/algo-vj/internal/testutil"
)

// writeWAV writes a 16-bit PCM file and returns its path. Each sample row
// holds one value per channel.
func writeWAV(t *testing.T, name string, sampleRate uint32, channels uint16, rows [][2]int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), name)

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	w := wav.NewWriter(f, uint32(len(rows)), channels, sampleRate, 16)

	samples := make([]wav.Sample, len(rows))
	for i, row := range rows {
		samples[i] = wav.Sample{Values: row}
	}

	if len(samples) > 0 {
		if err := w.WriteSamples(samples); err != nil {
			t.Fatalf("write samples: %v", err)
		}
	}

	if err := f.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	return path
}

type blockTrap struct {
	mu   sync.Mutex
	data []float64
}

func (b *blockTrap) consume(block []float64) {
	b.mu.Lock()
	b.data = append(b.data, block...)
	b.mu.Unlock()
}

func (b *blockTrap) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.data)
}

func (b *blockTrap) at(i int) float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.data[i]
}

func TestWAVSourceMixesToMono(t *testing.T) {
	t.Parallel()

	// Left and right cancel exactly.
	rows := make([][2]int, 64)
	for i := range rows {
		rows[i] = [2]int{16384, -16384}
	}

	path := writeWAV(t, "cancel.wav", 8000, 2, rows)

	src, err := NewWAVSource(path)
	if err != nil {
		t.Fatalf("NewWAVSource: %v", err)
	}

	if got := src.SampleRate(); got != 8000 {
		t.Fatalf("sample rate = %v, want 8000", got)
	}

	if got := src.Len(); got != 64 {
		t.Fatalf("len = %d, want 64", got)
	}

	for _, v := range src.data {
		testutil.RequireNearlyEqual(t, v, 0, 1e-9)
	}
}

func TestWAVSourceDeliversPacedBlocks(t *testing.T) {
	t.Parallel()

	rows := make([][2]int, 400)
	for i := range rows {
		rows[i] = [2]int{8192, 0}
	}

	path := writeWAV(t, "tone.wav", 8000, 1, rows)

	src, err := NewWAVSource(path, WithWAVBlockSize(100))
	if err != nil {
		t.Fatalf("NewWAVSource: %v", err)
	}

	trap := &blockTrap{}

	if err := src.Start(trap.consume); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Looping wraps past the file end.
	testutil.Eventually(t, 5*time.Second, func() bool {
		return trap.len() >= 500
	}, "looped delivery did not pass the file end")

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// A mono row of 8192 is 0.25 full scale.
	testutil.RequireNearlyEqual(t, trap.at(0), 0.25, 1e-9)
	testutil.RequireNearlyEqual(t, trap.at(400), 0.25, 1e-9)

	n := trap.len()

	time.Sleep(50 * time.Millisecond)

	if got := trap.len(); got != n {
		t.Fatalf("delivery after Stop: %d -> %d samples", n, got)
	}
}

func TestWAVSourceEndsWithoutLoop(t *testing.T) {
	t.Parallel()

	rows := make([][2]int, 250)
	path := writeWAV(t, "short.wav", 8000, 1, rows)

	src, err := NewWAVSource(path, WithWAVLoop(false), WithWAVBlockSize(100))
	if err != nil {
		t.Fatalf("NewWAVSource: %v", err)
	}

	trap := &blockTrap{}

	if err := src.Start(trap.consume); err != nil {
		t.Fatalf("Start: %v", err)
	}

	testutil.Eventually(t, 5*time.Second, func() bool {
		return trap.len() == 250
	}, "file not fully delivered")

	time.Sleep(50 * time.Millisecond)

	if got := trap.len(); got != 250 {
		t.Fatalf("delivered = %d samples, want exactly 250", got)
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop after end: %v", err)
	}
}

func TestWAVSourceStartWhileRunning(t *testing.T) {
	t.Parallel()

	rows := make([][2]int, 64)
	path := writeWAV(t, "busy.wav", 8000, 1, rows)

	src, err := NewWAVSource(path)
	if err != nil {
		t.Fatalf("NewWAVSource: %v", err)
	}

	if err := src.Start(func([]float64) {}); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := src.Start(func([]float64) {}); !errors.Is(err, ErrSourceActive) {
		t.Fatalf("second Start = %v, want ErrSourceActive", err)
	}

	if err := src.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	// After Stop the source can be started again.
	if err := src.Start(func([]float64) {}); err != nil {
		t.Fatalf("restart: %v", err)
	}

	_ = src.Stop()
}

func TestWAVSourceRejectsEmptyFile(t *testing.T) {
	t.Parallel()

	path := writeWAV(t, "empty.wav", 8000, 1, nil)

	if _, err := NewWAVSource(path); err == nil {
		t.Fatal("NewWAVSource accepted an empty file")
	}
}

func TestWAVSourceMissingFile(t *testing.T) {
	t.Parallel()

	if _, err := NewWAVSource(filepath.Join(t.TempDir(), "absent.wav")); err == nil {
		t.Fatal("NewWAVSource accepted a missing file")
	}
}

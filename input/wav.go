package input

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	wav "github.com/youpy/go-wav"
)

// ErrSourceActive is returned by Start on a source that is already running.
var ErrSourceActive = errors.New("source already started")

const defaultWAVBlock = 512

// WAVOption configures a WAVSource.
type WAVOption func(*WAVSource)

// WithWAVLoop controls whether playback wraps at the end, default true.
func WithWAVLoop(loop bool) WAVOption {
	return func(w *WAVSource) { w.loop = loop }
}

// WithWAVBlockSize sets the delivery block size, default 512 samples.
func WithWAVBlockSize(n int) WAVOption {
	return func(w *WAVSource) {
		if n > 0 {
			w.block = n
		}
	}
}

// WithWAVLogger sets the logger, default slog.Default.
func WithWAVLogger(log *slog.Logger) WAVOption {
	return func(w *WAVSource) {
		if log != nil {
			w.log = log
		}
	}
}

// WAVSource plays a RIFF/WAVE file as a PCMSource, mixed down to mono and
// paced to real time. It stands in for live capture when the engine runs
// from a file.
type WAVSource struct {
	path  string
	rate  float64
	data  []float64
	loop  bool
	block int
	log   *slog.Logger

	mu   sync.Mutex
	pos  int
	done chan struct{}
	wg   sync.WaitGroup
}

// NewWAVSource decodes the file at path into memory.
func NewWAVSource(path string, opts ...WAVOption) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("input: wav open: %w", err)
	}
	defer f.Close()

	r := wav.NewReader(f)

	format, err := r.Format()
	if err != nil {
		return nil, fmt.Errorf("input: wav %s: read format: %w", path, err)
	}

	channels := int(format.NumChannels)
	if channels < 1 {
		channels = 1
	}

	w := &WAVSource{
		path:  path,
		rate:  float64(format.SampleRate),
		loop:  true,
		block: defaultWAVBlock,
		log:   slog.Default(),
	}

	for {
		samples, err := r.ReadSamples()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("input: wav %s: read samples: %w", path, err)
		}

		for _, s := range samples {
			var sum float64
			for ch := 0; ch < channels; ch++ {
				sum += r.FloatValue(s, uint(ch))
			}

			w.data = append(w.data, sum/float64(channels))
		}
	}

	if len(w.data) == 0 {
		return nil, fmt.Errorf("input: wav %s: no samples", path)
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// SampleRate implements PCMSource.
func (w *WAVSource) SampleRate() float64 { return w.rate }

// Len returns the decoded length in samples.
func (w *WAVSource) Len() int { return len(w.data) }

// Start implements PCMSource: blocks are delivered to consume on an internal
// goroutine, paced to the file's sample rate. Without looping, delivery ends
// at the end of the file; a later Start resumes from the top.
func (w *WAVSource) Start(consume func(block []float64)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		return fmt.Errorf("input: wav %s: %w", w.path, ErrSourceActive)
	}

	done := make(chan struct{})
	w.done = done
	w.pos = 0

	w.wg.Add(1)

	go w.run(done, consume)

	return nil
}

// Stop implements PCMSource. It blocks until the delivery goroutine exits.
func (w *WAVSource) Stop() error {
	w.mu.Lock()
	done := w.done
	w.done = nil
	w.mu.Unlock()

	if done == nil {
		return nil
	}

	close(done)
	w.wg.Wait()

	return nil
}

func (w *WAVSource) run(done chan struct{}, consume func([]float64)) {
	defer w.wg.Done()

	period := time.Duration(float64(w.block) / w.rate * float64(time.Second))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	block := make([]float64, w.block)

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			n := w.fill(block)
			if n == 0 {
				w.log.Debug("input: wav playback finished", "path", w.path)
				return
			}

			consume(block[:n])
		}
	}
}

// fill copies the next block from the decoded data, wrapping when looping.
func (w *WAVSource) fill(block []float64) int {
	n := 0

	for n < len(block) {
		if w.pos >= len(w.data) {
			if !w.loop {
				break
			}

			w.pos = 0
		}

		c := copy(block[n:], w.data[w.pos:])
		n += c
		w.pos += c
	}

	return n
}

package pipeline

import "sync"

// Ring is a mutex-guarded sample FIFO connecting the capture feeders, the
// processor goroutine, and the output sink. The live path prefers fresh
// audio over backlog: writes into a full ring drop the oldest samples, and
// reads past the buffered amount are zero-filled.
type Ring struct {
	mu  sync.Mutex
	buf []float64
	r   int
	w   int
	n   int
}

// NewRing creates a ring holding up to capacity samples.
func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}

	return &Ring{buf: make([]float64, capacity)}
}

// Write appends samples, discarding the oldest buffered ones on overflow.
func (r *Ring) Write(p []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(p) >= len(r.buf) {
		// Only the trailing window can survive.
		p = p[len(p)-len(r.buf):]
		r.r = 0
		r.w = 0
		r.n = 0
	}

	overflow := r.n + len(p) - len(r.buf)
	if overflow > 0 {
		r.r = (r.r + overflow) % len(r.buf)
		r.n -= overflow
	}

	for _, v := range p {
		r.buf[r.w] = v
		r.w = (r.w + 1) % len(r.buf)
	}

	r.n += len(p)
}

// Read fills p from the FIFO, zero-filling any shortfall, and returns how
// many samples came from the buffer.
func (r *Ring) Read(p []float64) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	got := r.n
	if got > len(p) {
		got = len(p)
	}

	for i := 0; i < got; i++ {
		p[i] = r.buf[r.r]
		r.r = (r.r + 1) % len(r.buf)
	}

	r.n -= got

	for i := got; i < len(p); i++ {
		p[i] = 0
	}

	return got
}

// Len returns the buffered sample count.
func (r *Ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.n
}

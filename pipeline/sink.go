package pipeline

// Sink adapts the processed output ring to a beep.Streamer so the speaker
// can pull from the pipeline. The stream is mono duplicated onto both
// channels, and underruns come out as silence instead of stalling playback.
type Sink struct {
	ring *Ring
	mono []float64
}

// NewSink wraps ring, normally the host's output ring.
func NewSink(ring *Ring) *Sink {
	return &Sink{ring: ring}
}

// Stream fills samples from the ring. It always reports a full read; gaps
// in the ring arrive as zeros.
func (s *Sink) Stream(samples [][2]float64) (int, bool) {
	if len(s.mono) < len(samples) {
		s.mono = make([]float64, len(samples))
	}

	mono := s.mono[:len(samples)]
	s.ring.Read(mono)

	for i, v := range mono {
		samples[i][0] = v
		samples[i][1] = v
	}

	return len(samples), true
}

// Err implements beep.Streamer. The sink never fails.
func (s *Sink) Err() error {
	return nil
}

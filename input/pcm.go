// Package input hosts the engine's input sources: capture analysis feeding
// FREQUENCY frames and onset hints, MIDI devices with hotplug watching, an
// OSC listener, and WAV file playback. Every source normalizes its traffic
// onto the input bus.
package input

// PCMSource produces mono float64 PCM in blocks. Start begins delivery to
// consume on an internal goroutine and Stop ends it; consume must be fast
// enough to keep up with real time.
type PCMSource interface {
	SampleRate() float64
	Start(consume func(block []float64)) error
	Stop() error
}

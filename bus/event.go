// Package bus implements the central input bus of the engine: a registry of
// named event sources whose normalized events are delivered to subscribers
// in publish order, together with the shared transport state derived from
// TRANSPORT and BEAT traffic.
package bus

import "time"

// Kind discriminates the normalized event types carried by the bus.
type Kind uint8

// Event kinds.
const (
	KindBeat Kind = iota + 1
	KindNote
	KindControl
	KindTransport
	KindFrequency
	KindSysEx
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindBeat:
		return "beat"
	case KindNote:
		return "note"
	case KindControl:
		return "control"
	case KindTransport:
		return "transport"
	case KindFrequency:
		return "frequency"
	case KindSysEx:
		return "sysex"
	default:
		return "unknown"
	}
}

// Event is one normalized record published on the bus.
type Event interface {
	Kind() Kind
	Source() string
	Time() time.Time
}

// Meta carries the fields shared by every event: the name of the source
// that produced it and the time it was observed.
type Meta struct {
	From string
	At   time.Time
}

// Source returns the producing source name.
func (m Meta) Source() string { return m.From }

// Time returns the observation timestamp.
func (m Meta) Time() time.Time { return m.At }

// Beat marks a quarter-note boundary.
type Beat struct {
	Meta

	// Intensity is the beat strength in [0,1].
	Intensity float64
	// Phase is the position within the beat in [0,1); 0 means exactly on
	// the boundary.
	Phase float64
}

// Kind implements Event.
func (Beat) Kind() Kind { return KindBeat }

// Note is a key press or release.
type Note struct {
	Meta

	Note     uint8 // 0..127
	Velocity uint8 // 0..127
	On       bool
}

// Kind implements Event.
func (Note) Kind() Kind { return KindNote }

// Control is a continuous controller move with the value normalized to [0,1].
type Control struct {
	Meta

	ID    uint8
	Value float64
}

// Kind implements Event.
func (Control) Kind() Kind { return KindControl }

// PlayState enumerates the transport run states a TRANSPORT event announces.
type PlayState uint8

// Transport run states.
const (
	PlayStop PlayState = iota
	PlayStart
	PlayContinue
)

// String returns the lowercase state name.
func (s PlayState) String() string {
	switch s {
	case PlayStart:
		return "play"
	case PlayContinue:
		return "continue"
	default:
		return "stop"
	}
}

// Transport announces a run-state or tempo change. A tempo refinement while
// the transport keeps running reuses the prevailing state.
type Transport struct {
	Meta

	State PlayState
	BPM   float64
}

// Kind implements Event.
func (Transport) Kind() Kind { return KindTransport }

// Bands holds normalized spectral band energies, each in [0,1].
type Bands struct {
	Bass float64
	Mid  float64
	High float64
}

// Frequency carries one analyzer frame.
type Frequency struct {
	Meta

	Bands Bands
	RMS   float64
}

// Kind implements Event.
func (Frequency) Kind() Kind { return KindFrequency }

// SysEx carries a raw system-exclusive payload.
type SysEx struct {
	Meta

	Bytes []byte
}

// Kind implements Event.
func (SysEx) Kind() Kind { return KindSysEx }

// Package midi decodes and encodes the byte-level MIDI surface shared by
// device input, the clock reconstructor, and remote control frames.
package midi

import (
	"errors"
	"fmt"
)

// Type identifies a decoded MIDI message.
type Type uint8

// Message types.
const (
	TypeInvalid Type = iota
	TypeNoteOff
	TypeNoteOn
	TypePolyAftertouch
	TypeControlChange
	TypeProgramChange
	TypeChannelAftertouch
	TypePitchBend
	TypeSongPosition
	TypeClock
	TypeStart
	TypeContinue
	TypeStop
	TypeSysEx
)

// String returns a short name for the type.
func (t Type) String() string {
	switch t {
	case TypeNoteOff:
		return "noteOff"
	case TypeNoteOn:
		return "noteOn"
	case TypePolyAftertouch:
		return "polyAftertouch"
	case TypeControlChange:
		return "controlChange"
	case TypeProgramChange:
		return "programChange"
	case TypeChannelAftertouch:
		return "channelAftertouch"
	case TypePitchBend:
		return "pitchBend"
	case TypeSongPosition:
		return "songPosition"
	case TypeClock:
		return "clock"
	case TypeStart:
		return "start"
	case TypeContinue:
		return "continue"
	case TypeStop:
		return "stop"
	case TypeSysEx:
		return "sysex"
	default:
		return "invalid"
	}
}

// Message is one decoded MIDI message.
type Message struct {
	Type    Type
	Channel uint8 // 0..15, channel voice messages only
	Data1   uint8
	Data2   uint8
	SysEx   []byte // payload between 0xF0 and 0xF7, TypeSysEx only
}

// Note returns key and velocity for note messages.
func (m Message) Note() (key, velocity uint8) {
	return m.Data1, m.Data2
}

// NoteOn reports whether the message starts a note. A Note On with zero
// velocity counts as a release.
func (m Message) NoteOn() bool {
	return m.Type == TypeNoteOn && m.Data2 > 0
}

// Controller returns controller id and raw 7-bit value for CC messages.
func (m Message) Controller() (id, value uint8) {
	return m.Data1, m.Data2
}

// SongPosition returns the 14-bit song position in sixteenth-notes.
func (m Message) SongPosition() int {
	return int(m.Data1) | int(m.Data2)<<7
}

// PitchBend returns the raw 14-bit bend value; 8192 is center.
func (m Message) PitchBend() int {
	return int(m.Data1) | int(m.Data2)<<7
}

// IsRealtime reports whether the message is a system real-time message.
func (m Message) IsRealtime() bool {
	switch m.Type {
	case TypeClock, TypeStart, TypeContinue, TypeStop:
		return true
	default:
		return false
	}
}

// ErrEncode is returned by Encode for messages that have no wire form.
var ErrEncode = errors.New("message not encodable")

// Encode renders m back to wire bytes.
func Encode(m Message) ([]byte, error) {
	ch := m.Channel & 0x0F
	d1 := m.Data1 & 0x7F
	d2 := m.Data2 & 0x7F

	switch m.Type {
	case TypeNoteOff:
		return []byte{0x80 | ch, d1, d2}, nil
	case TypeNoteOn:
		return []byte{0x90 | ch, d1, d2}, nil
	case TypePolyAftertouch:
		return []byte{0xA0 | ch, d1, d2}, nil
	case TypeControlChange:
		return []byte{0xB0 | ch, d1, d2}, nil
	case TypeProgramChange:
		return []byte{0xC0 | ch, d1}, nil
	case TypeChannelAftertouch:
		return []byte{0xD0 | ch, d1}, nil
	case TypePitchBend:
		return []byte{0xE0 | ch, d1, d2}, nil
	case TypeSongPosition:
		return []byte{0xF2, d1, d2}, nil
	case TypeClock:
		return []byte{0xF8}, nil
	case TypeStart:
		return []byte{0xFA}, nil
	case TypeContinue:
		return []byte{0xFB}, nil
	case TypeStop:
		return []byte{0xFC}, nil
	case TypeSysEx:
		out := make([]byte, 0, len(m.SysEx)+2)
		out = append(out, 0xF0)

		for _, b := range m.SysEx {
			out = append(out, b&0x7F)
		}

		return append(out, 0xF7), nil
	default:
		return nil, fmt.Errorf("midi: %w: type %d", ErrEncode, m.Type)
	}
}

package midi

// Decoder reassembles messages from a raw MIDI byte stream. It tracks
// running status and lets system real-time bytes interleave anywhere in the
// stream, including inside a SysEx transfer. The zero value is ready to use.
type Decoder struct {
	status  uint8
	data    [2]uint8
	have    int
	sysex   []byte
	inSysEx bool
}

// Reset drops any partially decoded state.
func (d *Decoder) Reset() {
	d.status = 0
	d.have = 0
	d.sysex = nil
	d.inSysEx = false
}

// Feed consumes one byte and reports a message when one completes. Stray
// data bytes with no preceding status are dropped, which keeps the decoder
// in sync across truncated packets.
//
//nolint:cyclop
func (d *Decoder) Feed(b byte) (Message, bool) {
	// System real-time bytes are single-byte messages that never disturb
	// the surrounding decoder state.
	if b >= 0xF8 {
		switch b {
		case 0xF8:
			return Message{Type: TypeClock}, true
		case 0xFA:
			return Message{Type: TypeStart}, true
		case 0xFB:
			return Message{Type: TypeContinue}, true
		case 0xFC:
			return Message{Type: TypeStop}, true
		default:
			// 0xF9, 0xFD..0xFF: undefined or reset, ignored.
			return Message{}, false
		}
	}

	if d.inSysEx {
		if b == 0xF7 {
			msg := Message{Type: TypeSysEx, SysEx: d.sysex}
			d.sysex = nil
			d.inSysEx = false

			return msg, true
		}

		if b < 0x80 {
			d.sysex = append(d.sysex, b)
			return Message{}, false
		}

		// A status byte aborts an unterminated transfer; the byte itself
		// is handled below.
		d.sysex = nil
		d.inSysEx = false
	}

	if b >= 0x80 {
		return d.feedStatus(b)
	}

	return d.feedData(b)
}

func (d *Decoder) feedStatus(b byte) (Message, bool) {
	switch {
	case b == 0xF0:
		d.inSysEx = true
		d.sysex = nil
		d.status = 0
		d.have = 0
	case b >= 0xF0:
		// System common: 0xF2 carries two data bytes, 0xF1 and 0xF3 one;
		// the rest complete immediately and are discarded.
		if dataLen(b) == 0 {
			d.status = 0
			return Message{}, false
		}

		d.status = b
		d.have = 0
	default:
		d.status = b
		d.have = 0
	}

	return Message{}, false
}

func (d *Decoder) feedData(b byte) (Message, bool) {
	if d.status == 0 {
		return Message{}, false
	}

	d.data[d.have] = b
	d.have++

	if d.have < dataLen(d.status) {
		return Message{}, false
	}

	msg, ok := d.assemble()

	d.have = 0
	if d.status >= 0xF0 {
		// Running status applies to channel voice messages only.
		d.status = 0
	}

	return msg, ok
}

// assemble builds the message for the current status and data bytes.
func (d *Decoder) assemble() (Message, bool) {
	if d.status >= 0xF0 {
		if d.status == 0xF2 {
			return Message{Type: TypeSongPosition, Data1: d.data[0], Data2: d.data[1]}, true
		}

		// 0xF1 MTC quarter frame and 0xF3 song select: length-tracked to
		// stay in sync, but not surfaced.
		return Message{}, false
	}

	msg := Message{Channel: d.status & 0x0F, Data1: d.data[0]}
	if dataLen(d.status) == 2 {
		msg.Data2 = d.data[1]
	}

	switch d.status & 0xF0 {
	case 0x80:
		msg.Type = TypeNoteOff
	case 0x90:
		msg.Type = TypeNoteOn
	case 0xA0:
		msg.Type = TypePolyAftertouch
	case 0xB0:
		msg.Type = TypeControlChange
	case 0xC0:
		msg.Type = TypeProgramChange
	case 0xD0:
		msg.Type = TypeChannelAftertouch
	case 0xE0:
		msg.Type = TypePitchBend
	default:
		return Message{}, false
	}

	return msg, true
}

// FeedAll consumes a byte slice and returns every completed message in
// stream order.
func (d *Decoder) FeedAll(p []byte) []Message {
	var out []Message

	for _, b := range p {
		if msg, ok := d.Feed(b); ok {
			out = append(out, msg)
		}
	}

	return out
}

// dataLen returns the number of data bytes the status byte expects.
func dataLen(status uint8) int {
	switch status & 0xF0 {
	case 0xC0, 0xD0:
		return 1
	case 0xF0:
		switch status {
		case 0xF2:
			return 2
		case 0xF1, 0xF3:
			return 1
		default:
			return 0
		}
	default:
		return 2
	}
}

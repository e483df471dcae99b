package radar

import (
	"bytes"
	"encoding/binary"
)

// Report frame layout (LD2410-compatible): a 4-byte header, a little-endian
// payload length, the payload, and a 4-byte trailer. The payload carries a
// data type byte, a marker, the target state and the per-mode energies.
var (
	frameHeader  = []byte{0xF4, 0xF3, 0xF2, 0xF1}
	frameTrailer = []byte{0xF8, 0xF7, 0xF6, 0xF5}
)

const (
	// frameOverhead is header + length field + trailer.
	frameOverhead = len("\xF4\xF3\xF2\xF1") + 2 + len("\xF8\xF7\xF6\xF5")

	// Target state bits: moving and/or stationary target detected.
	stateMoving     = 0x01
	stateStationary = 0x02
)

// Reading is one decoded radar report.
type Reading struct {
	// Present is true when any target (moving or stationary) is detected.
	Present bool

	// MovingEnergy is the 0..100 energy of the moving target.
	MovingEnergy int
}

// ParseFrame scans buf for the next complete report frame. It returns the
// decoded reading and the remaining bytes after the frame. ok is false when
// no complete frame is available yet; garbage before a header is discarded.
func ParseFrame(buf []byte) (r Reading, rest []byte, ok bool) {
	start := bytes.Index(buf, frameHeader)
	if start < 0 {
		// Keep a partial header tail, drop the rest.
		keep := len(buf)
		if keep > len(frameHeader)-1 {
			keep = len(frameHeader) - 1
		}
		return Reading{}, buf[len(buf)-keep:], false
	}
	buf = buf[start:]

	if len(buf) < len(frameHeader)+2 {
		return Reading{}, buf, false
	}
	payloadLen := int(binary.LittleEndian.Uint16(buf[len(frameHeader):]))
	total := len(frameHeader) + 2 + payloadLen + len(frameTrailer)
	if payloadLen < 4 || payloadLen > 64 {
		// Implausible length: resync past this header.
		return ParseFrame(buf[len(frameHeader):])
	}
	if len(buf) < total {
		return Reading{}, buf, false
	}

	payload := buf[len(frameHeader)+2 : len(frameHeader)+2+payloadLen]
	trailer := buf[total-len(frameTrailer) : total]
	if !bytes.Equal(trailer, frameTrailer) {
		return ParseFrame(buf[len(frameHeader):])
	}

	// payload[0] data type, payload[1] marker, payload[2] target state,
	// payload[3] moving energy.
	state := payload[2]
	r = Reading{
		Present:      state&(stateMoving|stateStationary) != 0,
		MovingEnergy: int(payload[3]),
	}
	return r, buf[total:], true
}

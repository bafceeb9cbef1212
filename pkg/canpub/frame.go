// Package canpub encodes gateway telemetry into Victron-style CAN
// frames and dispatches them on a per-channel schedule.
package canpub

import (
	"math"

	"github.com/vbms/gateway/pkg/telemetry"
)

// CanFrame is one outgoing 8-byte-max CAN payload, ready to hand to a
// transport.
type CanFrame struct {
	ID  uint32
	DLC uint8
	Data [8]byte
}

// Encoder derives a CanFrame from the current telemetry snapshot. The
// bool return is false when the channel has nothing valid to send yet
// (e.g. series cell count still unknown), in which case the publisher
// skips that dispatch rather than sending a zeroed frame.
type Encoder func(telemetry.LiveData) (CanFrame, bool)

func putUint16LE(dst []byte, v uint16) {
	dst[0] = byte(v)
	dst[1] = byte(v >> 8)
}

func putInt16LE(dst []byte, v int16) {
	putUint16LE(dst, uint16(v))
}

func scaleToInt16(v float64, factor float64) int16 {
	scaled := math.RoundToEven(v * factor)
	if scaled > 32767 {
		scaled = 32767
	}
	if scaled < -32768 {
		scaled = -32768
	}
	return int16(scaled)
}

func asciiField(s string, width int) [8]byte {
	var out [8]byte
	n := len(s)
	if n > width {
		n = width
	}
	copy(out[:], s[:n])
	return out
}

package serial

import (
	"github.com/vbms/gateway/internal/crc"
	"github.com/vbms/gateway/internal/fifo"
)

// Frame is one decoded BMS wire frame: PREAMBLE | CMD | PL | payload | CRC.
// ACK/NACK are represented as ordinary frames whose Cmd is ackByte or
// nackByte and whose Payload carries the echoed command (and, for NACK,
// the peer's error code) — the wire layout is identical, only the
// command byte distinguishes them.
type Frame struct {
	Cmd     byte
	Payload []byte
}

// ExtractStatus is the result of one ExtractFrame call.
type ExtractStatus int

const (
	NeedMoreData ExtractStatus = iota
	FrameComplete
	CrcError
)

// Build serializes a frame to wire bytes.
func Build(cmd byte, payload []byte) []byte {
	out := make([]byte, 0, 3+len(payload)+2)
	out = append(out, preamble, cmd, byte(len(payload)))
	out = append(out, payload...)
	sum := crc.Checksum(out)
	b := crc.Bytes(sum)
	out = append(out, b[0], b[1])
	return out
}

// BuildAck serializes an ACK response frame for the given originating command.
func BuildAck(originatingCmd byte) []byte {
	return Build(ackByte, []byte{originatingCmd})
}

// BuildNack serializes a NACK response frame for the given originating
// command and peer error code.
func BuildNack(originatingCmd byte, errCode byte) []byte {
	return Build(nackByte, []byte{originatingCmd, errCode})
}

// IsAck reports whether f is an ACK frame.
func (f Frame) IsAck() bool { return f.Cmd == ackByte }

// IsNack reports whether f is a NACK frame, returning the peer's error code.
func (f Frame) IsNack() (code byte, ok bool) {
	if f.Cmd != nackByte || len(f.Payload) < 2 {
		return 0, false
	}
	return f.Payload[1], true
}

// AckedCmd returns the command an ACK/NACK frame is responding to.
func (f Frame) AckedCmd() (byte, bool) {
	if (f.Cmd == ackByte && len(f.Payload) >= 1) || (f.Cmd == nackByte && len(f.Payload) >= 2) {
		return f.Payload[0], true
	}
	return 0, false
}

// ExtractFrame scans buf for one complete, CRC-valid frame.
//
// It skips leading bytes until a preamble is found, waits for enough
// bytes to read the length byte, then waits for the full frame before
// validating the CRC. On a CRC mismatch the entire buffer is discarded
// so a corrupted stream cannot wedge the parser on stale bytes; the
// caller re-reads from the transport.
func ExtractFrame(buf *fifo.Fifo) (Frame, ExtractStatus) {
	for {
		if buf.Len() == 0 {
			return Frame{}, NeedMoreData
		}
		var b [1]byte
		buf.Peek(0, b[:])
		if b[0] == preamble {
			break
		}
		buf.Discard(1)
	}

	if buf.Len() < 3 {
		return Frame{}, NeedMoreData
	}
	hdr := make([]byte, 3)
	buf.Peek(0, hdr)
	pl := int(hdr[2])
	total := 3 + pl + 2

	if buf.Len() < total {
		return Frame{}, NeedMoreData
	}

	raw := make([]byte, total)
	buf.Peek(0, raw)

	covered := raw[:total-2]
	computed := crc.Checksum(covered)
	got := uint16(raw[total-2]) | uint16(raw[total-1])<<8
	if got != computed {
		buf.Reset()
		return Frame{}, CrcError
	}

	buf.Discard(total)
	payload := append([]byte(nil), raw[3:3+pl]...)
	return Frame{Cmd: raw[1], Payload: payload}, FrameComplete
}

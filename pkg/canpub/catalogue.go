package canpub

import "time"

// CanChannel is one entry in the static frame catalogue: a CAN ID, how
// often it is due, and the encoder that produces its payload from the
// current telemetry snapshot.
type CanChannel struct {
	ID      uint32
	Tag     string
	Period  time.Duration
	Encoder Encoder
}

// ChannelSlot is a channel's live scheduling state inside a Publisher.
// LastFrame/Valid are written by OnTelemetryUpdate's encode-and-buffer
// step and read by the periodic dispatch loop, decoupling "produce a
// frame from the latest telemetry" from "send the most recently produced
// frame on schedule."
type ChannelSlot struct {
	Channel   CanChannel
	NextDueMs uint64
	LastFrame CanFrame
	Valid     bool
	SendCount uint64
	SkipCount uint64
	ErrCount  uint64
}

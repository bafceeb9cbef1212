// Package gateway holds the small set of types every subpackage of this
// module depends on: the CAN frame shape, the CAN transport the publisher
// dispatches through, and the monotonic clock contract the serial engine
// and CAN scheduler use for drift-free deadlines.
package gateway

import (
	"time"

	"golang.org/x/sys/unix"
)

// Frame is a CAN data frame, independent of 11/29-bit identifier width —
// callers set bit 31 (EffFlag) on Id to request an extended frame.
type Frame struct {
	ID        uint32
	DLC       uint8
	Data      [8]byte
	Timestamp uint64
}

const (
	// EffFlag marks ID as a 29-bit extended identifier.
	EffFlag uint32 = unix.CAN_EFF_FLAG
	// SffMask isolates the 11-bit standard identifier space.
	SffMask uint32 = unix.CAN_SFF_MASK
	// EffMask isolates the 29-bit extended identifier space.
	EffMask uint32 = unix.CAN_EFF_MASK
)

// CanSender is the outbound CAN transport the publisher dispatches
// through. Hardware drivers are out of scope for this module; production
// code supplies a concrete implementation (see cmd/gateway for a
// socketcan-backed reference).
type CanSender interface {
	Send(frame Frame, tag string) error
}

// CanSenderFunc adapts a plain function to CanSender.
type CanSenderFunc func(frame Frame, tag string) error

func (f CanSenderFunc) Send(frame Frame, tag string) error { return f(frame, tag) }

// Clock supplies a non-decreasing millisecond timestamp. Production code
// uses SystemClock; tests use a fake that they advance explicitly.
type Clock interface {
	NowMs() uint64
}

// SystemClock implements Clock using the process monotonic clock.
type SystemClock struct{ start time.Time }

// NewSystemClock returns a Clock anchored at the current instant.
func NewSystemClock() *SystemClock {
	return &SystemClock{start: time.Now()}
}

func (c *SystemClock) NowMs() uint64 {
	return uint64(time.Since(c.start).Milliseconds())
}

package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSlotRingWrapsRoundRobin(t *testing.T) {
	r := newSlotRing(2)

	a := r.stage(Event{ID: EventTelemetryUpdate, Payload: "a"})
	b := r.stage(Event{ID: EventCanFrameReady, Payload: "b"})
	c := r.stage(Event{ID: EventCvlLimitsUpdated, Payload: "c"})

	assert.Equal(t, "a", a.Payload)
	assert.Equal(t, "b", b.Payload)
	assert.Equal(t, "c", c.Payload)

	// Third stage wrapped back to slot 0, overwriting a's slot — the
	// ring itself now holds c where a used to be.
	assert.Equal(t, EventCvlLimitsUpdated, r.buf[0].ID)
}

func TestSlotRingDefaultsSizeWhenNonPositive(t *testing.T) {
	r := newSlotRing(0)
	assert.Len(t, r.buf, defaultSlotRingSize)
}

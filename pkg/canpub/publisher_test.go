package canpub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gw "github.com/vbms/gateway"
	"github.com/vbms/gateway/pkg/eventbus"
	"github.com/vbms/gateway/pkg/telemetry"
)

type fakeClock struct {
	mu  sync.Mutex
	now uint64
}

func (c *fakeClock) NowMs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(ms uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += ms
}

type recordingSender struct {
	mu     sync.Mutex
	frames []gw.Frame
}

func (s *recordingSender) Send(frame gw.Frame, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func TestPublisherDispatchesDueChannelsOnce(t *testing.T) {
	clock := &fakeClock{}
	cache := telemetry.NewCache()
	cache.Update(func(d *telemetry.LiveData) { d.SeriesCellCount = 16 })
	sender := &recordingSender{}

	catalogue := []CanChannel{
		{ID: 0x373, Tag: "cell_min_max", Period: time.Second, Encoder: EncodeCellMinMax},
	}
	p := NewPublisher(catalogue, sender, clock, cache, nil, nil)
	p.OnTelemetryUpdate()

	waitMs := p.dispatchDue()
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, uint64(1000), waitMs)

	// Not yet due again.
	waitMs = p.dispatchDue()
	assert.Equal(t, 1, sender.count())
	assert.True(t, waitMs > 0)
}

func TestPublisherImmediateModeDispatchesEveryCall(t *testing.T) {
	clock := &fakeClock{}
	cache := telemetry.NewCache()
	cache.Update(func(d *telemetry.LiveData) { d.SeriesCellCount = 16 })
	sender := &recordingSender{}

	catalogue := []CanChannel{
		{ID: 0x373, Tag: "cell_min_max", Period: time.Second, Encoder: EncodeCellMinMax},
	}
	p := NewPublisher(catalogue, sender, clock, cache, nil, nil)
	p.SetImmediateMode(true)

	// Immediate mode dispatches from OnTelemetryUpdate itself, not from
	// the periodic dispatchDue loop.
	p.OnTelemetryUpdate()
	p.OnTelemetryUpdate()
	assert.Equal(t, 2, sender.count())
}

func TestPublisherBurstPreventionResyncsAfterLongPause(t *testing.T) {
	clock := &fakeClock{}
	cache := telemetry.NewCache()
	cache.Update(func(d *telemetry.LiveData) { d.SeriesCellCount = 16 })
	sender := &recordingSender{}

	catalogue := []CanChannel{
		{ID: 0x373, Tag: "cell_min_max", Period: time.Second, Encoder: EncodeCellMinMax},
	}
	p := NewPublisher(catalogue, sender, clock, cache, nil, nil)
	p.OnTelemetryUpdate()

	p.dispatchDue() // first send, NextDueMs advances to +1000
	clock.Advance(10_000) // way more than one period
	p.dispatchDue()

	slots := p.Slots()
	// Next due should resync near now + period, not stack up 10 catch-up sends.
	assert.Equal(t, 2, sender.count())
	assert.InDelta(t, clock.NowMs()+1000, slots[0].NextDueMs, 1)
}

func TestPublisherKeepaliveTripsAfterStalledSends(t *testing.T) {
	clock := &fakeClock{}
	cache := telemetry.NewCache()
	cache.Update(func(d *telemetry.LiveData) { d.SeriesCellCount = 16 })
	sender := &recordingSender{}
	bus := eventbus.New(nil)
	alerts := bus.Subscribe("test.keepalive", 4)

	catalogue := []CanChannel{
		{ID: 0x373, Tag: "cell_min_max", Period: time.Second, Encoder: EncodeCellMinMax},
	}
	p := NewPublisher(catalogue, sender, clock, cache, bus, nil)
	p.SetKeepaliveTimeout(500 * time.Millisecond)
	p.OnTelemetryUpdate()

	p.dispatchDue() // sends once, arms lastSendMs at t=0
	// Every successful send also announces the frame on the bus.
	assert.Equal(t, eventbus.EventCanFrameReady, (<-alerts).ID)
	p.checkKeepalive()
	select {
	case <-alerts:
		t.Fatal("keepalive fired before the timeout elapsed")
	default:
	}

	clock.Advance(600)
	p.checkKeepalive()
	ev := <-alerts
	assert.Equal(t, eventbus.EventCanKeepaliveTimeout, ev.ID)

	// A fresh send within the window clears the trip.
	clock.Advance(1000)
	p.dispatchDue()
	assert.Equal(t, eventbus.EventCanFrameReady, (<-alerts).ID)
	p.checkKeepalive()
	select {
	case <-alerts:
		t.Fatal("keepalive fired again right after a successful send")
	default:
	}
}

func TestPublisherSkipsDispatchUntilFirstTelemetryUpdate(t *testing.T) {
	clock := &fakeClock{}
	cache := telemetry.NewCache()
	cache.Update(func(d *telemetry.LiveData) { d.SeriesCellCount = 16 })
	sender := &recordingSender{}

	catalogue := []CanChannel{
		{ID: 0x373, Tag: "cell_min_max", Period: time.Second, Encoder: EncodeCellMinMax},
	}
	p := NewPublisher(catalogue, sender, clock, cache, nil, nil)

	// Never encoded yet: the slot has no buffered frame to send.
	p.dispatchDue()
	assert.Equal(t, 0, sender.count())
	assert.Equal(t, uint64(1), p.Slots()[0].SkipCount)

	// Telemetry arrives and the channel gets buffered; the next scheduled
	// dispatch sends it without re-encoding.
	clock.Advance(1000)
	p.OnTelemetryUpdate()
	p.dispatchDue()
	assert.Equal(t, 1, sender.count())
}

func TestPublisherStartStopLifecycle(t *testing.T) {
	clock := &fakeClock{}
	cache := telemetry.NewCache()
	cache.Update(func(d *telemetry.LiveData) { d.SeriesCellCount = 16 })
	sender := &recordingSender{}

	catalogue := []CanChannel{
		{ID: 0x373, Tag: "cell_min_max", Period: 10 * time.Millisecond, Encoder: EncodeCellMinMax},
	}
	p := NewPublisher(catalogue, sender, clock, cache, nil, nil)
	p.OnTelemetryUpdate()
	p.Start(context.Background())

	require.Eventually(t, func() bool { return sender.count() > 0 }, time.Second, time.Millisecond)
	p.Stop()
}

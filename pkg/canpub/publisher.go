package canpub

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	gw "github.com/vbms/gateway"
	"github.com/vbms/gateway/pkg/eventbus"
	"github.com/vbms/gateway/pkg/telemetry"
)

// defaultTickMs bounds the dispatch loop's poll granularity when no
// channel is due sooner, absent an operator override. Shrinks a single
// "next wake" delta to the minimum across all channel timers, rather
// than busy-polling every channel on a fixed fast tick.
const defaultTickMs = 1000

// Publisher dispatches CAN frames on a per-channel schedule. Encoding is
// decoupled from sending: OnTelemetryUpdate re-encodes every channel
// from the latest telemetry snapshot and buffers the result in its slot;
// the periodic dispatch loop only ever sends a slot's most recently
// buffered frame. ImmediateMode, when set, makes OnTelemetryUpdate send
// a channel's freshly encoded frame immediately instead of waiting for
// the next periodic dispatch — a degraded-state fallback for when the
// scheduler loop itself could not be started.
type Publisher struct {
	mu      sync.Mutex
	slots   []*ChannelSlot
	sender  gw.CanSender
	clock   gw.Clock
	cache   *telemetry.Cache
	bus     *eventbus.Bus
	log     *logrus.Entry

	immediate bool
	tickMs    uint64

	// keepaliveTimeoutMs is the longest gap, in ms, allowed between
	// successful sends before the publisher reports the bus as stalled.
	// Zero disables the watchdog.
	keepaliveTimeoutMs uint64
	lastSendMs         uint64
	keepaliveTripped   uint32

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewPublisher constructs a Publisher from the given channel catalogue.
func NewPublisher(catalogue []CanChannel, sender gw.CanSender, clock gw.Clock, cache *telemetry.Cache, bus *eventbus.Bus, log *logrus.Entry) *Publisher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	p := &Publisher{
		sender: sender,
		clock:  clock,
		cache:  cache,
		bus:    bus,
		log:    log.WithField("component", "canpub.Publisher"),
		tickMs: defaultTickMs,
	}
	now := clock.NowMs()
	p.lastSendMs = now
	for _, ch := range catalogue {
		p.slots = append(p.slots, &ChannelSlot{Channel: ch, NextDueMs: now})
	}
	return p
}

// SetTickInterval overrides the dispatch loop's polling ceiling.
// d<=0 restores the default.
func (p *Publisher) SetTickInterval(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d <= 0 {
		p.tickMs = defaultTickMs
		return
	}
	p.tickMs = uint64(d.Milliseconds())
}

// SetKeepaliveTimeout arms (or, with d<=0, disables) the watchdog that
// reports EventCanKeepaliveTimeout once the gap since the last
// successful send exceeds d.
func (p *Publisher) SetKeepaliveTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d <= 0 {
		p.keepaliveTimeoutMs = 0
		return
	}
	p.keepaliveTimeoutMs = uint64(d.Milliseconds())
}

// SetImmediateMode toggles dispatch-on-every-telemetry-update behavior,
// bypassing each channel's configured period.
func (p *Publisher) SetImmediateMode(on bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.immediate = on
}

// Start launches the background dispatch loop. Safe to call once; a
// second call is a no-op until Stop.
func (p *Publisher) Start(ctx context.Context) {
	if p.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go p.run(ctx)
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{ID: eventbus.EventCanStarted})
	}
}

// Stop halts the dispatch loop and waits for it to exit.
func (p *Publisher) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	p.cancel = nil
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{ID: eventbus.EventCanStopped})
	}
}

func (p *Publisher) run(ctx context.Context) {
	defer p.wg.Done()
	for {
		waitMs := p.dispatchDue()
		p.checkKeepalive()
		timer := time.NewTimer(time.Duration(waitMs) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// checkKeepalive reports EventCanKeepaliveTimeout once when the gap
// since the last successful send exceeds the armed timeout, and clears
// the trip once a send succeeds again.
func (p *Publisher) checkKeepalive() {
	p.mu.Lock()
	timeoutMs := p.keepaliveTimeoutMs
	lastSendMs := p.lastSendMs
	p.mu.Unlock()
	if timeoutMs == 0 {
		return
	}

	now := p.clock.NowMs()
	stalled := now-lastSendMs > timeoutMs
	if stalled {
		if atomic.CompareAndSwapUint32(&p.keepaliveTripped, 0, 1) && p.bus != nil {
			p.bus.Publish(eventbus.Event{ID: eventbus.EventCanKeepaliveTimeout})
		}
	} else {
		atomic.StoreUint32(&p.keepaliveTripped, 0)
	}
}

// OnTelemetryUpdate re-encodes every channel from the latest telemetry
// snapshot and buffers the result in its slot. In immediate mode it also
// sends every successfully-encoded frame right away, instead of waiting
// for the channel's next scheduled dispatch.
func (p *Publisher) OnTelemetryUpdate() {
	p.mu.Lock()
	immediate := p.immediate
	p.mu.Unlock()

	snap := p.cache.Snapshot()
	now := p.clock.NowMs()

	for _, slot := range p.slots {
		frame, ok := slot.Channel.Encoder(snap)

		p.mu.Lock()
		slot.LastFrame = frame
		slot.Valid = ok
		p.mu.Unlock()

		if immediate && ok {
			p.sendSlot(slot, frame, now)
		}
	}
}

// dispatchDue sends every channel whose deadline has passed and returns
// the minimum delay, in milliseconds, until the next channel is due —
// the drift-free "shrink timerNext to the smallest remaining delta"
// idiom.
func (p *Publisher) dispatchDue() uint64 {
	p.mu.Lock()
	minWait := p.tickMs
	p.mu.Unlock()

	now := p.clock.NowMs()

	for _, slot := range p.slots {
		due := now >= slot.NextDueMs
		if !due {
			if remaining := slot.NextDueMs - now; remaining < minWait {
				minWait = remaining
			}
			continue
		}
		p.dispatchOne(slot, now)
		if remaining := uint64(slot.Channel.Period.Milliseconds()); remaining < minWait {
			minWait = remaining
		}
	}
	if minWait == 0 {
		minWait = 1
	}
	return minWait
}

// dispatchOne sends the slot's most recently buffered frame, if
// OnTelemetryUpdate has ever produced a valid one. It never re-encodes:
// encoding happens only on telemetry update, dispatch only on schedule.
func (p *Publisher) dispatchOne(slot *ChannelSlot, now uint64) {
	periodMs := uint64(slot.Channel.Period.Milliseconds())
	// Burst-prevention resync: if the loop was paused long enough to
	// miss several periods, jump straight to the next deadline ahead of
	// now instead of firing one dispatch per missed period.
	if slot.NextDueMs == 0 || now-slot.NextDueMs > periodMs {
		slot.NextDueMs = now + periodMs
	} else {
		slot.NextDueMs += periodMs
	}

	p.mu.Lock()
	frame := slot.LastFrame
	valid := slot.Valid
	p.mu.Unlock()

	if !valid {
		slot.SkipCount++
		return
	}
	p.sendSlot(slot, frame, now)
}

func (p *Publisher) sendSlot(slot *ChannelSlot, frame CanFrame, now uint64) {
	gwFrame := gw.Frame{ID: frame.ID, DLC: frame.DLC, Data: frame.Data, Timestamp: now}
	if err := p.sender.Send(gwFrame, slot.Channel.Tag); err != nil {
		slot.ErrCount++
		p.log.WithFields(logrus.Fields{"channel": slot.Channel.Tag, "err": err}).
			Debug("canpub: frame send failed, continuing")
		if p.bus != nil {
			p.bus.Publish(eventbus.Event{ID: eventbus.EventCanError, Payload: slot.Channel.Tag})
		}
		return
	}
	slot.SendCount++
	p.mu.Lock()
	p.lastSendMs = now
	p.mu.Unlock()
	if p.bus != nil {
		p.bus.Publish(eventbus.Event{ID: eventbus.EventCanFrameReady, Payload: frame})
	}
}

// Slots returns the live scheduling state, for diagnostics.
func (p *Publisher) Slots() []ChannelSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ChannelSlot, len(p.slots))
	for i, s := range p.slots {
		out[i] = *s
	}
	return out
}

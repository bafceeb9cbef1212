// Package eventbus is the gateway's internal publish/subscribe glue,
// decoupling the serial engine, the CVL controller, the energy
// integrator, and the CAN publisher so none of them import each other
// directly. Each named subscriber gets its own bounded queue, rather
// than one CAN frame type fanned out to a fixed listener array.
package eventbus

import (
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Well-known event IDs.
const (
	EventTelemetryUpdate uint32 = iota + 1
	EventCanFrameReady
	EventCvlLimitsUpdated
	EventSerialStatsUpdated
	EventCanStarted
	EventCanStopped
	EventCanError
	EventCanKeepaliveTimeout
)

// DefaultPublishTimeout bounds how long Publish waits for a slow
// subscriber's queue to drain before dropping the event.
const DefaultPublishTimeout = 50 * time.Millisecond

// Event is one bus message. Payload is caller-defined and opaque to the
// bus; subscribers agree out of band on what ID implies about Payload's
// concrete type.
type Event struct {
	ID      uint32
	Payload interface{}
}

type subscriber struct {
	name    string
	queue   chan Event
	dropped uint64
}

// Bus is a fan-out event bus with bounded per-subscriber queues. The
// zero value is not usable; construct with New.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	log         *logrus.Entry
	timeout     time.Duration
	slots       *slotRing
}

// New constructs a Bus. A nil logger falls back to the standard logger.
func New(log *logrus.Entry) *Bus {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Bus{
		subscribers: make(map[string]*subscriber),
		log:         log.WithField("component", "eventbus.Bus"),
		timeout:     DefaultPublishTimeout,
		slots:       newSlotRing(defaultSlotRingSize),
	}
}

// Subscribe registers a named subscriber with a bounded queue of the
// given depth. Subscribing twice under the same name replaces the prior
// subscription and its queue rather than stacking a second one.
func (b *Bus) Subscribe(name string, depth int) <-chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	sub := &subscriber{name: name, queue: make(chan Event, depth)}
	b.subscribers[name] = sub
	return sub.queue
}

// Unsubscribe removes a named subscriber. Safe to call even if name was
// never subscribed.
func (b *Bus) Unsubscribe(name string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subscribers, name)
}

// Publish fans ev out to every current subscriber, waiting up to the
// bus's publish timeout per subscriber before dropping it for that
// subscriber. Drop counts are logged at power-of-two thresholds and
// escalated to Warn once a subscriber has dropped at least 256 events,
// so a persistently wedged consumer becomes visible without spamming
// logs on every single drop.
func (b *Bus) Publish(ev Event) {
	ev = b.slots.stage(ev)

	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, s := range b.subscribers {
		targets = append(targets, s)
	}
	b.mu.RUnlock()

	for _, s := range targets {
		select {
		case s.queue <- ev:
		case <-time.After(b.timeout):
			b.recordDrop(s, ev)
		}
	}
}

func (b *Bus) recordDrop(s *subscriber, ev Event) {
	b.mu.Lock()
	s.dropped++
	n := s.dropped
	b.mu.Unlock()

	if n&(n-1) != 0 {
		return // only log at power-of-two drop counts
	}
	entry := b.log.WithFields(logrus.Fields{
		"subscriber": s.name,
		"event_id":   ev.ID,
		"dropped":    n,
	})
	if n >= 256 {
		entry.Warn("eventbus: subscriber persistently dropping events")
	} else {
		entry.Debug("eventbus: dropped event for slow subscriber")
	}
}

// Receive blocks on ch for up to timeout, returning the event and true,
// or the zero Event and false on timeout.
func Receive(ch <-chan Event, timeout time.Duration) (Event, bool) {
	select {
	case ev := <-ch:
		return ev, true
	case <-time.After(timeout):
		return Event{}, false
	}
}

// String renders an event ID by name for logging, falling back to its
// numeric form for unknown IDs.
func String(id uint32) string {
	switch id {
	case EventTelemetryUpdate:
		return "TELEMETRY_UPDATE"
	case EventCanFrameReady:
		return "CAN_FRAME_READY"
	case EventCvlLimitsUpdated:
		return "CVL_LIMITS_UPDATED"
	case EventSerialStatsUpdated:
		return "SERIAL_STATS_UPDATED"
	case EventCanStarted:
		return "CAN_STARTED"
	case EventCanStopped:
		return "CAN_STOPPED"
	case EventCanError:
		return "CAN_ERROR"
	case EventCanKeepaliveTimeout:
		return "CAN_KEEPALIVE_TIMEOUT"
	default:
		return fmt.Sprintf("EVENT_%d", id)
	}
}

package serial

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/vbms/gateway/internal/fifo"
	"github.com/vbms/gateway/pkg/eventbus"
)

const (
	maxAttempts       = 3
	retryBackoff      = 100 * time.Millisecond
	attemptTimeout    = 750 * time.Millisecond
	writeSettleDelay  = 50 * time.Millisecond
	enqueueTimeout    = 100 * time.Millisecond
	readFifoSize      = 512
)

// Engine serializes all traffic on the BMS serial link through a single
// in-flight transaction at a time, so only one request is ever
// outstanding. The lock is a size-1 channel acquired with a timeout, so
// a caller that cannot get the link within enqueueTimeout fails fast
// instead of queuing forever.
type Engine struct {
	transport Transport
	clock     func() time.Time
	log       *logrus.Entry
	stats     EngineStats

	slot    chan struct{}
	buf     *fifo.Fifo
	pending int32
	bus     *eventbus.Bus
}

// NewEngine constructs an Engine bound to transport.
func NewEngine(transport Transport, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	e := &Engine{
		transport: transport,
		clock:     time.Now,
		log:       log.WithField("component", "serial.Engine"),
		slot:      make(chan struct{}, 1),
		buf:       fifo.New(readFifoSize),
	}
	e.slot <- struct{}{}
	return e
}

// Stats returns a point-in-time snapshot of link health counters.
func (e *Engine) Stats() Snapshot { return e.stats.Snapshot() }

// SetEventBus arms publication of EventSerialStatsUpdated after every
// transaction. A nil bus (the default) disables it.
func (e *Engine) SetEventBus(bus *eventbus.Bus) { e.bus = bus }

func (e *Engine) publishStats() {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{ID: eventbus.EventSerialStatsUpdated, Payload: e.Stats()})
}

func (e *Engine) acquire(ctx context.Context) error {
	depth := atomic.AddInt32(&e.pending, 1)
	e.stats.observeQueueDepth(int(depth))
	defer atomic.AddInt32(&e.pending, -1)

	timer := time.NewTimer(enqueueTimeout)
	defer timer.Stop()
	select {
	case <-e.slot:
		return nil
	case <-timer.C:
		return fmt.Errorf("serial: engine busy, gave up after %s", enqueueTimeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) release() { e.slot <- struct{}{} }

// ReadRegister reads one 16-bit register, retrying per the engine's
// timeout/CRC retry policy.
func (e *Engine) ReadRegister(ctx context.Context, addr uint16) (uint16, error) {
	if err := e.acquire(ctx); err != nil {
		return 0, err
	}
	defer e.release()

	req := BuildReadRegisterRequest(addr)
	start := e.clock()
	frame, err := e.transact(CmdReadRegister, req)
	if err != nil {
		e.stats.recordFailedRead()
		return 0, err
	}
	val, err := ParseReadRegisterResponse(frame, addr)
	if err != nil {
		e.stats.recordFailedRead()
		return 0, err
	}
	e.stats.recordOkRead(e.clock().Sub(start))
	return val, nil
}

// ReadBlock reads count consecutive registers starting at start.
func (e *Engine) ReadBlock(ctx context.Context, start uint16, count int) ([]uint16, error) {
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	req, err := BuildBlockReadRequest(start, count)
	if err != nil {
		return nil, err
	}
	t0 := e.clock()
	frame, err := e.transact(CmdBlockRead, req)
	if err != nil {
		e.stats.recordFailedRead()
		return nil, err
	}
	vals, err := ParseBlockReadResponse(frame, count)
	if err != nil {
		e.stats.recordFailedRead()
		return nil, err
	}
	e.stats.recordOkRead(e.clock().Sub(t0))
	return vals, nil
}

// WriteRegister writes value to addr, then reads it back after a
// settling delay to confirm the BMS actually applied it: writes are
// verified by readback, not just acked.
func (e *Engine) WriteRegister(ctx context.Context, addr, value uint16) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	req := BuildWriteRegisterRequest(addr, value)
	t0 := e.clock()
	if _, err := e.transact(CmdWriteRegister, req); err != nil {
		e.stats.recordFailedWrite()
		return err
	}

	select {
	case <-time.After(writeSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	readback, err := e.transact(CmdReadRegister, BuildReadRegisterRequest(addr))
	if err != nil {
		e.stats.recordFailedWrite()
		return err
	}
	got, err := ParseReadRegisterResponse(readback, addr)
	if err != nil {
		e.stats.recordFailedWrite()
		return err
	}
	if got != value {
		e.stats.recordFailedWrite()
		return &InvalidResponseError{Cmd: CmdWriteRegister, Reason: "readback did not match written value"}
	}
	e.stats.recordOkWrite(e.clock().Sub(t0))
	return nil
}

// ResetBMS issues the reset command and waits for the BMS to ACK it,
// retrying on timeout/CRC failure like every other command.
func (e *Engine) ResetBMS(ctx context.Context) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()
	_, err := e.transact(CmdResetBMS, BuildResetRequest())
	return err
}

// StatusQuery issues a fixed-purpose status query command and returns the
// raw response payload for the caller to decode.
func (e *Engine) StatusQuery(ctx context.Context, cmd byte) ([]byte, error) {
	if !IsStatusQuery(cmd) {
		return nil, ErrInvalidArguments
	}
	if err := e.acquire(ctx); err != nil {
		return nil, err
	}
	defer e.release()

	frame, err := e.transact(cmd, BuildStatusQueryRequest(cmd))
	if err != nil {
		e.stats.recordFailedRead()
		return nil, err
	}
	e.stats.recordOkRead(0)
	return frame.Payload, nil
}

// transact writes req and waits for a matching response, retrying on
// Timeout and CrcMismatch up to maxAttempts times with retryBackoff
// between attempts. A NACK response is never retried.
func (e *Engine) transact(cmd byte, req []byte) (Frame, error) {
	defer e.publishStats()
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			e.stats.recordRetry()
			time.Sleep(retryBackoff)
		}
		if err := e.write(req); err != nil {
			return Frame{}, &TransportFailureError{Err: err}
		}

		frame, err := e.readOneFrame(cmd)
		if err == nil {
			if code, isNack := frame.IsNack(); isNack {
				e.stats.recordNack()
				return Frame{}, &NackError{Cmd: cmd, Code: code}
			}
			return frame, nil
		}

		switch err.(type) {
		case *TimeoutError:
			e.stats.recordTimeout()
			lastErr = err
			continue
		case *CrcMismatchError:
			e.stats.recordCrcError()
			lastErr = err
			continue
		default:
			return Frame{}, err
		}
	}
	switch err := lastErr.(type) {
	case *TimeoutError:
		err.Attempts = maxAttempts
	case *CrcMismatchError:
		err.Attempts = maxAttempts
	}
	return Frame{}, lastErr
}

func (e *Engine) write(data []byte) error {
	if err := e.transport.Write(data); err != nil {
		return &TransportFailureError{Err: err}
	}
	return nil
}

// readOneFrame pulls bytes from the transport into the fifo until a
// complete frame addressed to cmd (or an ack/nack referencing it)
// appears, or attemptTimeout elapses.
func (e *Engine) readOneFrame(cmd byte) (Frame, error) {
	e.buf.Reset()
	deadline := e.clock().Add(attemptTimeout)

	for {
		now := e.clock()
		if !now.Before(deadline) {
			return Frame{}, &TimeoutError{Cmd: cmd, Attempts: 1}
		}

		b, err := e.transport.ReadByte(deadline)
		if err != nil {
			return Frame{}, &TimeoutError{Cmd: cmd, Attempts: 1}
		}
		e.buf.Write([]byte{b})

		frame, status := ExtractFrame(e.buf)
		switch status {
		case FrameComplete:
			if acked, ok := frame.AckedCmd(); ok && acked != cmd {
				continue // stale response, keep waiting for ours
			}
			if !frame.IsAck() {
				if _, isNack := frame.IsNack(); !isNack && frame.Cmd != cmd {
					continue
				}
			}
			return frame, nil
		case CrcError:
			return Frame{}, &CrcMismatchError{Cmd: cmd, Attempts: 1}
		case NeedMoreData:
			continue
		}
	}
}

package serial

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vbms/gateway/pkg/eventbus"
)

// mockTransport is an in-memory half-duplex link: writes are recorded and
// each queues the next pre-seeded reply, and ReadByte drains those reply
// bytes — a slice-and-mutex stand-in for the wire.
type mockTransport struct {
	mu       sync.Mutex
	writes   [][]byte
	replies  [][]byte // one reply-byte-slice per write, consumed FIFO
	replyPos int
	pending  []byte
	nackOnce bool
	corruptOnce bool
}

func (m *mockTransport) Write(data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, append([]byte(nil), data...))

	if m.replyPos < len(m.replies) {
		reply := append([]byte(nil), m.replies[m.replyPos]...)
		m.replyPos++
		m.pending = append(m.pending, reply...)
	}
	return nil
}

func (m *mockTransport) ReadByte(deadline time.Time) (byte, error) {
	for {
		m.mu.Lock()
		if len(m.pending) > 0 {
			b := m.pending[0]
			m.pending = m.pending[1:]
			m.mu.Unlock()
			return b, nil
		}
		m.mu.Unlock()
		if time.Now().After(deadline) {
			return 0, context.DeadlineExceeded
		}
		time.Sleep(time.Millisecond)
	}
}

func readRegisterFrame(addr, value uint16) []byte {
	return Build(CmdReadRegister, []byte{byte(addr), byte(addr >> 8), byte(value), byte(value >> 8)})
}

func TestEngineReadRegister(t *testing.T) {
	tr := &mockTransport{replies: [][]byte{readRegisterFrame(36, 4800)}}
	e := NewEngine(tr, nil)

	val, err := e.ReadRegister(context.Background(), 36)
	require.NoError(t, err)
	assert.Equal(t, uint16(4800), val)
	assert.Equal(t, uint64(1), e.Stats().OkReads)
}

func TestEngineWriteVerifiesByReadback(t *testing.T) {
	tr := &mockTransport{replies: [][]byte{
		BuildAck(CmdWriteRegister),
		readRegisterFrame(300, 1234),
	}}
	e := NewEngine(tr, nil)

	err := e.WriteRegister(context.Background(), 300, 1234)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Stats().OkWrites)
}

func TestEngineWriteReadbackMismatchFails(t *testing.T) {
	tr := &mockTransport{replies: [][]byte{
		BuildAck(CmdWriteRegister),
		readRegisterFrame(300, 9999),
	}}
	e := NewEngine(tr, nil)

	err := e.WriteRegister(context.Background(), 300, 1234)
	require.Error(t, err)
	var invalid *InvalidResponseError
	assert.ErrorAs(t, err, &invalid)
}

func TestEngineResetWaitsForAck(t *testing.T) {
	tr := &mockTransport{replies: [][]byte{BuildAck(CmdResetBMS)}}
	e := NewEngine(tr, nil)

	err := e.ResetBMS(context.Background())
	require.NoError(t, err)
	assert.Len(t, tr.writes, 1)
}

func TestEngineResetFailsWithoutAck(t *testing.T) {
	tr := &mockTransport{} // no reply: the reset command times out waiting for ACK
	e := NewEngine(tr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	err := e.ResetBMS(ctx)
	require.Error(t, err)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
}

func TestEngineReadPublishesStatsUpdate(t *testing.T) {
	tr := &mockTransport{replies: [][]byte{readRegisterFrame(36, 4800)}}
	e := NewEngine(tr, nil)
	bus := eventbus.New(nil)
	e.SetEventBus(bus)
	ch := bus.Subscribe("test.stats", 4)

	_, err := e.ReadRegister(context.Background(), 36)
	require.NoError(t, err)

	ev, ok := eventbus.Receive(ch, time.Second)
	require.True(t, ok)
	assert.Equal(t, eventbus.EventSerialStatsUpdated, ev.ID)
	snap, ok := ev.Payload.(Snapshot)
	require.True(t, ok)
	assert.Equal(t, uint64(1), snap.OkReads)
}

func TestEngineNackIsNotRetried(t *testing.T) {
	tr := &mockTransport{replies: [][]byte{BuildNack(CmdReadRegister, 0x07)}}
	e := NewEngine(tr, nil)

	_, err := e.ReadRegister(context.Background(), 36)
	require.Error(t, err)
	var nackErr *NackError
	require.ErrorAs(t, err, &nackErr)
	assert.Equal(t, byte(0x07), nackErr.Code)

	// A single write (no retry) reached the transport.
	assert.Len(t, tr.writes, 1)
}

func TestEngineTimeoutRetriesThenFails(t *testing.T) {
	tr := &mockTransport{} // no replies queued: every attempt times out
	e := NewEngine(tr, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err := e.ReadRegister(ctx, 36)
	require.Error(t, err)
	var timeoutErr *TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)
	assert.Equal(t, maxAttempts, len(tr.writes))
	assert.Equal(t, uint64(maxAttempts-1), e.Stats().Retries)
}

func TestEngineSerializesConcurrentCallers(t *testing.T) {
	replies := make([][]byte, 0, 16)
	for i := 0; i < 16; i++ {
		replies = append(replies, readRegisterFrame(36, uint16(1000+i)))
	}
	tr := &mockTransport{replies: replies}
	e := NewEngine(tr, nil)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := e.ReadRegister(context.Background(), 36)
			errs[i] = err
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	// Every caller's write landed wholly intact: 16 complete 7-byte frames,
	// never interleaved byte-by-byte on the "wire".
	assert.Len(t, tr.writes, 16)
	for _, w := range tr.writes {
		assert.Equal(t, 7, len(w))
		assert.Equal(t, preamble, w[0])
	}
}

package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gw "github.com/vbms/gateway"
	"github.com/vbms/gateway/pkg/canpub"
	"github.com/vbms/gateway/pkg/cvl"
	"github.com/vbms/gateway/pkg/serial"
	"github.com/vbms/gateway/pkg/telemetry"
)

// instantNackTransport replies to every request with an immediate NACK,
// so register reads fail fast (no retry on NACK) instead of burning the
// engine's per-attempt timeout — keeps these lifecycle tests quick
// while still exercising "a poll pass with failing reads still updates
// OnlineStatus and the timestamp."
type instantNackTransport struct {
	mu      sync.Mutex
	pending []byte
}

func (t *instantNackTransport) Write(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, serial.BuildNack(serial.CmdReadRegister, 0x01)...)
	return nil
}

func (t *instantNackTransport) ReadByte(deadline time.Time) (byte, error) {
	for {
		t.mu.Lock()
		if len(t.pending) > 0 {
			b := t.pending[0]
			t.pending = t.pending[1:]
			t.mu.Unlock()
			return b, nil
		}
		t.mu.Unlock()
		if time.Now().After(deadline) {
			return 0, context.DeadlineExceeded
		}
		time.Sleep(time.Millisecond)
	}
}

type fakeClock struct {
	mu  sync.Mutex
	now uint64
}

func (c *fakeClock) NowMs() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now++
	return c.now
}

type recordingSender struct {
	mu    sync.Mutex
	count int
}

func (s *recordingSender) Send(frame gw.Frame, tag string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return nil
}

func testConfig() Config {
	return Config{
		PollPeriod: 5 * time.Millisecond,
		CvlConfig:  cvl.Config{Enabled: false, BulkTargetVoltageV: 58.4},
		Identity:   canpub.Identity{Manufacturer: "vbms", BatteryName: "pack-1"},
	}
}

func TestOrchestratorStartStopLifecycle(t *testing.T) {
	engine := serial.NewEngine(&instantNackTransport{}, nil)
	sender := &recordingSender{}
	clock := &fakeClock{}

	o := New(engine, sender, clock, testConfig(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	o.Start(ctx)

	require.Eventually(t, func() bool {
		return o.Telemetry().Snapshot().UpdatedAtMs > 0
	}, time.Second, time.Millisecond)

	cancel()
	o.Stop()
}

func TestOrchestratorReactComputesCvlFromSnapshot(t *testing.T) {
	engine := serial.NewEngine(&instantNackTransport{}, nil)
	sender := &recordingSender{}
	clock := &fakeClock{}

	o := New(engine, sender, clock, testConfig(), nil)
	o.cache.Update(func(d *telemetry.LiveData) {
		d.SocPercent = 55
		d.MaxCellMv = 3300
		d.MinCellMv = 3280
		d.PackVoltageV = 52.8
		d.PackCurrentA = 10
		d.UpdatedAtMs = 1
	})

	o.react()

	latest := o.cvlCtrl.GetLatest()
	assert.Equal(t, cvl.StateBulk, latest.State)
	assert.Equal(t, 58.4, latest.CvlVoltageV)
}

// Package orchestrator wires the serial engine, event bus, telemetry
// cache, CVL controller, energy integrator, and CAN publisher into one
// running pipeline. It is the only package that imports all of the
// others, so the collaborator lock order (bus → telemetry → cvl →
// energy → channel-buffer) only has to be respected in one place.
package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	gw "github.com/vbms/gateway"
	"github.com/vbms/gateway/pkg/canpub"
	"github.com/vbms/gateway/pkg/cvl"
	"github.com/vbms/gateway/pkg/energy"
	"github.com/vbms/gateway/pkg/eventbus"
	"github.com/vbms/gateway/pkg/serial"
	"github.com/vbms/gateway/pkg/telemetry"
)

// Config bundles the tunables an Orchestrator needs beyond its
// collaborators.
type Config struct {
	PollPeriod  time.Duration
	EnergyStore energy.Store
	CvlConfig   cvl.Config
	Identity    canpub.Identity

	// KeepaliveTimeout arms the CAN publisher's stalled-bus watchdog.
	// Zero disables it.
	KeepaliveTimeout time.Duration

	// PublisherTick overrides the CAN publisher's dispatch-loop polling
	// ceiling. Zero keeps the default.
	PublisherTick time.Duration
}

// Orchestrator owns the background goroutines that drive the gateway's
// steady-state loop and the Start/Stop/Wait lifecycle for all of them:
// Stop() calls cancel on every goroutine's context, then a second pass
// of Wait() calls lets each one observe cancellation before any of them
// blocks.
type Orchestrator struct {
	engine     *serial.Engine
	bus        *eventbus.Bus
	cache      *telemetry.Cache
	cvlCtrl    *cvl.Controller
	integrator *energy.Integrator
	publisher  *canpub.Publisher
	clock      gw.Clock
	log        *logrus.Entry
	cfg        Config

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs an Orchestrator. poller and the CAN publisher are not
// started until Start is called.
func New(engine *serial.Engine, sender gw.CanSender, clock gw.Clock, cfg Config, log *logrus.Entry) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	bus := eventbus.New(log)
	engine.SetEventBus(bus)
	o := &Orchestrator{
		engine:     engine,
		bus:        bus,
		cache:      telemetry.NewCache(),
		cvlCtrl:    cvl.NewController(cfg.CvlConfig),
		integrator: energy.NewIntegrator(loadInitialEnergyState(cfg.EnergyStore, log)),
		clock:      clock,
		log:        log.WithField("component", "orchestrator.Orchestrator"),
		cfg:        cfg,
	}
	catalogue := canpub.BuildCatalogue(o.cvlCtrl, o.integrator, cfg.Identity)
	o.publisher = canpub.NewPublisher(catalogue, sender, clock, o.cache, o.bus, log)
	o.publisher.SetKeepaliveTimeout(cfg.KeepaliveTimeout)
	o.publisher.SetTickInterval(cfg.PublisherTick)
	return o
}

func loadInitialEnergyState(store energy.Store, log *logrus.Entry) energy.State {
	if store == nil {
		return energy.State{}
	}
	if err := store.Init(); err != nil {
		log.WithError(err).Warn("orchestrator: energy store init failed, starting from zero")
		return energy.State{}
	}
	state, err := store.Load()
	if err != nil {
		log.WithError(err).Debug("orchestrator: no persisted energy state")
		return energy.State{}
	}
	return state
}

// Bus exposes the internal event bus for diagnostics subscribers.
func (o *Orchestrator) Bus() *eventbus.Bus { return o.bus }

// Telemetry exposes the shared live-data cache for read-only consumers.
func (o *Orchestrator) Telemetry() *telemetry.Cache { return o.cache }

// Start launches the poll loop, the telemetry-update reaction loop, and
// the CAN publisher's dispatch loop.
func (o *Orchestrator) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	o.cancel = cancel

	o.syncBulkTargetVoltage(ctx)

	updates := o.bus.Subscribe("orchestrator.cvl_energy", 16)

	o.wg.Add(2)
	go o.pollLoop(ctx)
	go o.reactLoop(ctx, updates)

	o.publisher.Start(ctx)
}

// Stop cancels all background goroutines and waits for them to exit,
// then stops the publisher. Two-phase stop-then-wait: every loop
// observes cancellation before any blocks on Wait.
func (o *Orchestrator) Stop() {
	if o.cancel != nil {
		o.cancel()
	}
	o.wg.Wait()
	o.publisher.Stop()
	o.bus.Unsubscribe("orchestrator.cvl_energy")
}

// syncBulkTargetVoltage reads the BMS's own over-voltage cutoff register
// once at startup and uses it as the CVL controller's bulk target
// voltage, falling back to the BMS's fully-charged voltage register, then
// to the current pack voltage and, failing those, to whatever the
// operator configured statically.
func (o *Orchestrator) syncBulkTargetVoltage(ctx context.Context) {
	poller := NewPoller(o.engine, o.cache, o.clock, o.log)
	pollCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := poller.PollConfig(pollCtx); err != nil {
		o.log.WithError(err).Debug("orchestrator: BMS voltage-cutoff registers unavailable, keeping configured bulk target voltage")
	}

	snap := o.cache.Snapshot()
	cfg := o.cfg.CvlConfig
	switch {
	case snap.OverVoltageCutoffV > 0:
		cfg.BulkTargetVoltageV = snap.OverVoltageCutoffV
	case snap.FullyChargedVoltageV > 0:
		cfg.BulkTargetVoltageV = snap.FullyChargedVoltageV
	case snap.PackVoltageV > 0:
		cfg.BulkTargetVoltageV = snap.PackVoltageV
	}
	o.cfg.CvlConfig = cfg
	o.cvlCtrl.SetConfig(cfg)

	o.log.WithFields(logrus.Fields{
		"bulk_target_voltage_v":      cfg.BulkTargetVoltageV,
		"fully_discharged_voltage_v": snap.FullyDischargedVoltageV,
		"hardware_version":           snap.HardwareVersion,
	}).Info("orchestrator: BMS identity/config snapshot loaded")
}

func (o *Orchestrator) pollLoop(ctx context.Context) {
	defer o.wg.Done()
	ticker := time.NewTicker(o.cfg.PollPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.pollOnce(ctx)
		}
	}
}

func (o *Orchestrator) pollOnce(ctx context.Context) {
	poller := NewPoller(o.engine, o.cache, o.clock, o.log)
	if err := poller.PollAll(ctx); err != nil {
		o.log.WithError(err).Debug("orchestrator: poll cycle incomplete")
	}
	o.bus.Publish(eventbus.Event{ID: eventbus.EventTelemetryUpdate})
}

func (o *Orchestrator) reactLoop(ctx context.Context, updates <-chan eventbus.Event) {
	defer o.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-updates:
			if ev.ID != eventbus.EventTelemetryUpdate {
				continue
			}
			o.react()
			o.publisher.OnTelemetryUpdate()
		}
	}
}

func (o *Orchestrator) react() {
	snap := o.cache.Snapshot()

	imbalanceMv := uint32(0)
	if snap.MaxCellMv >= snap.MinCellMv {
		imbalanceMv = uint32(snap.MaxCellMv - snap.MinCellMv)
	}

	result := o.cvlCtrl.Step(cvl.Inputs{
		SocPercent:      snap.SocPercent,
		CellImbalanceMv: imbalanceMv,
		PackVoltageV:    snap.PackVoltageV,
		BaseCclLimitA:   o.cfg.CvlConfig.BaseCclLimitA,
		BaseDclLimitA:   o.cfg.CvlConfig.BaseDclLimitA,
		PackCurrentA:    snap.PackCurrentA,
		MaxCellVoltageV: float64(snap.MaxCellMv) / 1000.0,
	})
	o.bus.Publish(eventbus.Event{ID: eventbus.EventCvlLimitsUpdated, Payload: result})

	o.integrator.Sample(snap.UpdatedAtMs, snap.PackVoltageV, snap.PackCurrentA)

	if o.cfg.EnergyStore != nil {
		if err := o.cfg.EnergyStore.Save(o.integrator.Snapshot()); err != nil {
			o.log.WithError(err).Debug("orchestrator: energy persist failed")
		}
	}
}

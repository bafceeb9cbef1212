package orchestrator

import (
	"context"

	"github.com/sirupsen/logrus"

	gw "github.com/vbms/gateway"
	"github.com/vbms/gateway/pkg/serial"
	"github.com/vbms/gateway/pkg/telemetry"
)

// Poller reads the BMS registers relevant to live telemetry and folds
// them into the shared cache in one pass. Read failures for one
// register do not abort the pass — the next register is still
// attempted, so a single bad read doesn't blank out an otherwise
// healthy cycle.
type Poller struct {
	engine *serial.Engine
	cache  *telemetry.Cache
	clock  gw.Clock
	log    *logrus.Entry
}

// NewPoller constructs a Poller.
func NewPoller(engine *serial.Engine, cache *telemetry.Cache, clock gw.Clock, log *logrus.Entry) *Poller {
	return &Poller{engine: engine, cache: cache, clock: clock, log: log}
}

// PollAll reads every tracked register and applies the results to the
// telemetry cache in a single Update call, so readers never observe a
// half-updated snapshot.
func (p *Poller) PollAll(ctx context.Context) error {
	packVoltage, errV := p.readFloat(ctx, serial.RegPackVoltage)
	packCurrent, errI := p.readFloat(ctx, serial.RegPackCurrent)
	minCell, errMin := p.engine.ReadRegister(ctx, serial.RegMinCellVoltage.Addr)
	maxCell, errMax := p.engine.ReadRegister(ctx, serial.RegMaxCellVoltage.Addr)
	socRaw, errSoc := p.readFloat(ctx, serial.RegSocHighRes)
	tempRaw, errTemp := p.engine.ReadRegister(ctx, serial.RegInternalTemp.Addr)
	status, errStatus := p.engine.ReadRegister(ctx, serial.RegBmsStatus.Addr)
	cycles, errCycles := p.engine.ReadRegister(ctx, serial.RegLifetimeCounter.Addr)

	now := p.clock.NowMs()
	p.cache.Update(func(d *telemetry.LiveData) {
		if errV == nil {
			d.PackVoltageV = packVoltage
		}
		if errI == nil {
			d.PackCurrentA = packCurrent
		}
		if errMin == nil {
			d.MinCellMv = minCell
		}
		if errMax == nil {
			d.MaxCellMv = maxCell
		}
		if errSoc == nil {
			d.SocPercent = socRaw / 100.0 // high-res SOC register is in hundredths of a percent
		}
		if errTemp == nil {
			d.InternalTempC = float64(int16(tempRaw)) / 10.0
		}
		if errStatus == nil {
			d.BmsStatusRaw = status
		}
		if errCycles == nil {
			d.LifetimeCounter = cycles
		}
		d.OnlineStatus = errV == nil || errI == nil
		d.UpdatedAtMs = now
	})

	for _, err := range []error{errV, errI, errMin, errMax, errSoc, errTemp, errStatus, errCycles} {
		if err != nil {
			return err
		}
	}
	return nil
}

// PollConfig reads the BMS's configuration registers: voltage cutoffs,
// discharge overcurrent limit, and hardware version. These change only
// when an operator reprograms the BMS, so the orchestrator reads them
// once at startup rather than on every PollAll cycle.
func (p *Poller) PollConfig(ctx context.Context) error {
	overV, errOver := p.readFloat(ctx, serial.RegOverVoltageCutoff)
	underV, errUnder := p.readFloat(ctx, serial.RegUnderVoltageCutoff)
	fullyCharged, errFC := p.readFloat(ctx, serial.RegFullyChargedVoltage)
	fullyDischarged, errFD := p.readFloat(ctx, serial.RegFullyDischargedVoltage)
	overCurrent, errOC := p.readFloat(ctx, serial.RegDischargeOverCurrent)
	hwVersion, errHW := p.engine.ReadRegister(ctx, serial.RegHardwareVersion.Addr)

	p.cache.Update(func(d *telemetry.LiveData) {
		if errOver == nil {
			d.OverVoltageCutoffV = overV
		}
		if errUnder == nil {
			d.UnderVoltageCutoffV = underV
		}
		if errFC == nil {
			d.FullyChargedVoltageV = fullyCharged
		}
		if errFD == nil {
			d.FullyDischargedVoltageV = fullyDischarged
		}
		if errOC == nil {
			d.DischargeOverCurrentA = overCurrent
		}
		if errHW == nil {
			d.HardwareVersion = hwVersion
		}
	})

	for _, err := range []error{errOver, errUnder, errFC, errFD, errOC, errHW} {
		if err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) readFloat(ctx context.Context, r serial.Register) (float64, error) {
	lo, err := p.engine.ReadRegister(ctx, r.Addr)
	if err != nil {
		return 0, err
	}
	hi, err := p.engine.ReadRegister(ctx, r.Addr+1)
	if err != nil {
		return 0, err
	}
	return serial.DecodeRegister(r, []uint16{lo, hi})
}

// Package energy integrates instantaneous pack power into cumulative
// charged/discharged watt-hour counters, ported from the firmware's NVS
// energy accumulator (storage/nvs_energy.c). The persistence side
// becomes a small Store interface instead of an ESP-IDF NVS handle, so
// the same Integrator works whether the backing store is flash, a file,
// or — in tests — memory.
package energy

import (
	"errors"
	"math"
	"sync"
)

// ErrNotFound is returned by Store.Load when no prior state has ever
// been stored, mirroring nvs_energy_load's ESP_ERR_NOT_FOUND case.
var ErrNotFound = errors.New("energy: no stored state")

// State is the persisted accumulator pair.
type State struct {
	ChargedWh    float64
	DischargedWh float64
}

// Store persists and restores energy State. Init is idempotent and safe
// to call repeatedly, matching nvs_energy_init's "already ready" guard.
type Store interface {
	Init() error
	Load() (State, error)
	Save(State) error
	Clear() error
}

// sanitize mirrors sanitize_energy_value: negative, zero, NaN, and Inf
// values are folded to zero rather than propagated, since a corrupted
// or never-written counter should read as "no energy recorded" rather
// than poison downstream sums.
func sanitize(v float64) float64 {
	if !(v > 0.0) || math.IsInf(v, 0) || math.IsNaN(v) {
		return 0.0
	}
	return v
}

// Integrator accumulates Wh from a stream of (timestamp, voltage,
// current) samples. Positive current is treated as charging, negative
// as discharging, matching the pack current sign convention used
// elsewhere in the gateway.
type Integrator struct {
	mu       sync.Mutex
	state    State
	lastTsMs uint64
	hasLast  bool
}

// NewIntegrator constructs an Integrator seeded with an initial state
// (typically loaded from a Store at startup).
func NewIntegrator(initial State) *Integrator {
	return &Integrator{state: State{
		ChargedWh:    sanitize(initial.ChargedWh),
		DischargedWh: sanitize(initial.DischargedWh),
	}}
}

// maxSampleGapMs bounds how large a dt between samples may be before
// it is treated as a gap (e.g. the gateway was stopped) rather than a
// real elapsed interval, preventing one huge bogus Wh jump.
const maxSampleGapMs = 10_000

// Sample folds one instantaneous measurement into the running totals.
// A sample with a non-positive dt is ignored entirely, so lastTsMs keeps
// the earlier timestamp. A sample with an implausibly large dt adds no
// energy but becomes the new baseline: the next sample computes its dt
// against this one's timestamp.
func (i *Integrator) Sample(tsMs uint64, voltageV, currentA float64) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.hasLast {
		i.lastTsMs = tsMs
		i.hasLast = true
		return
	}

	if tsMs <= i.lastTsMs {
		return
	}
	dtMs := tsMs - i.lastTsMs
	i.lastTsMs = tsMs
	if dtMs > maxSampleGapMs {
		return
	}

	powerW := voltageV * currentA
	wh := powerW * float64(dtMs) / 3_600_000.0

	if wh > 0 {
		i.state.ChargedWh = sanitize(i.state.ChargedWh + wh)
	} else if wh < 0 {
		i.state.DischargedWh = sanitize(i.state.DischargedWh + (-wh))
	}
}

// Snapshot returns the current accumulated totals.
func (i *Integrator) Snapshot() State {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Reset zeroes both accumulators, e.g. after a user-initiated counter
// reset.
func (i *Integrator) Reset() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.state = State{}
}

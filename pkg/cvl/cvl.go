// Package cvl computes the charge voltage limit (CVL), charge current
// limit (CCL), and discharge current limit (DCL) the gateway publishes
// to the Victron CAN bus, ported from the firmware's
// cvl_compute_limits state machine. The Go port keeps the algorithm's
// structure intact - same state order, same threshold comparisons -
// and only changes how state is carried: a pure Compute function plus
// a mutex-wrapped Controller instead of an in/out struct pair.
package cvl

import "math"

// State is one point in the CVL hysteresis state machine.
type State int

const (
	StateBulk State = iota
	StateTransition
	StateFloatApproach
	StateFloat
	StateImbalanceHold
	StateSustain
)

func (s State) String() string {
	switch s {
	case StateBulk:
		return "BULK"
	case StateTransition:
		return "TRANSITION"
	case StateFloatApproach:
		return "FLOAT_APPROACH"
	case StateFloat:
		return "FLOAT"
	case StateImbalanceHold:
		return "IMBALANCE_HOLD"
	case StateSustain:
		return "SUSTAIN"
	default:
		return "UNKNOWN"
	}
}

// Inputs are the live measurements CVL logic reacts to each cycle.
type Inputs struct {
	SocPercent       float64
	CellImbalanceMv  uint32
	PackVoltageV     float64
	BaseCclLimitA    float64
	BaseDclLimitA    float64
	PackCurrentA     float64
	MaxCellVoltageV  float64
}

// Config is the operator-tunable CVL/CCL/DCL policy snapshot.
type Config struct {
	Enabled bool

	BulkSocThreshold       float64
	TransitionSocThreshold float64
	FloatSocThreshold      float64
	FloatExitSoc           float64
	FloatApproachOffsetMv  float64
	FloatOffsetMv          float64
	MinimumCclInFloatA     float64

	ImbalanceHoldThresholdMv    uint32
	ImbalanceReleaseThresholdMv uint32
	ImbalanceDropPerMv          float64
	ImbalanceDropMaxV           float64

	BulkTargetVoltageV float64

	// BaseCclLimitA and BaseDclLimitA are the nameplate charge/discharge
	// current limits the state machine scales down from. They come from
	// the operator's profile rather than a polled register because the
	// BMS only exposes a discharge over-current cutoff, not a charge
	// counterpart (TinyBMS_Defs.h has no REG_CHARGE_OVER_CURRENT).
	BaseCclLimitA float64
	BaseDclLimitA float64

	SeriesCellCount      int
	CellMaxVoltageV      float64
	CellSafetyThresholdV float64
	CellSafetyReleaseV   float64
	CellMinFloatVoltageV float64
	CellProtectionKp     float64
	DynamicCurrentNominalA float64
	MaxRecoveryStepV     float64

	SustainSocEntryPercent float64
	SustainSocExitPercent  float64
	SustainVoltageV        float64
	SustainPerCellVoltageV float64
	SustainCclLimitA       float64
	SustainDclLimitA       float64
}

// Result is the computed output of one Compute call.
type Result struct {
	State               State
	CvlVoltageV         float64
	CclLimitA           float64
	DclLimitA           float64
	ImbalanceHoldActive bool
	CellProtectionActive bool
}

// RuntimeState is the hysteresis memory carried from one Compute call to
// the next.
type RuntimeState struct {
	State                State
	CvlVoltageV          float64
	CellProtectionActive bool
}

func clampNonNegative(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	return v
}

func clampRatio(numerator, denominator float64) float64 {
	if denominator <= 0 {
		return 1
	}
	ratio := numerator / denominator
	if ratio < 0 {
		return 0
	}
	if ratio > 1 {
		return 1
	}
	return ratio
}

func sustainVoltage(cfg Config) float64 {
	if cfg.SustainVoltageV > 0 {
		return cfg.SustainVoltageV
	}
	if cfg.SeriesCellCount == 0 {
		return 0
	}
	return cfg.SustainPerCellVoltageV * float64(cfg.SeriesCellCount)
}

func absMaxVoltage(cfg Config) float64 {
	if cfg.SeriesCellCount == 0 {
		return cfg.BulkTargetVoltageV
	}
	return cfg.CellMaxVoltageV * float64(cfg.SeriesCellCount)
}

func minFloatVoltage(cfg Config) float64 {
	if cfg.SeriesCellCount == 0 {
		return 0
	}
	return cfg.CellMinFloatVoltageV * float64(cfg.SeriesCellCount)
}

// Compute derives the next CVL/CCL/DCL limits and state from inputs,
// cfg, and the previous cycle's runtime state. It is pure and
// allocation-free so it can be fuzzed or property-tested directly
// without a running Controller.
func Compute(in Inputs, cfg Config, prev RuntimeState) Result {
	if !cfg.Enabled {
		return Result{
			State:     StateBulk,
			CvlVoltageV: cfg.BulkTargetVoltageV,
			CclLimitA: clampNonNegative(in.BaseCclLimitA),
			DclLimitA: clampNonNegative(in.BaseDclLimitA),
		}
	}

	bulkTarget := math.Max(cfg.BulkTargetVoltageV, 0)
	floatApproach := bulkTarget - cfg.FloatApproachOffsetMv/1000.0
	floatVoltage := bulkTarget - cfg.FloatOffsetMv/1000.0
	floatApproach = math.Max(floatApproach, 0)
	floatVoltage = math.Max(floatVoltage, 0)
	if floatVoltage > floatApproach {
		floatVoltage, floatApproach = floatApproach, floatVoltage
	}

	soc := in.SocPercent
	state := prev.State

	sustainSupported := cfg.SustainSocExitPercent > cfg.SustainSocEntryPercent
	sustainActive := prev.State == StateSustain
	if sustainSupported {
		if !sustainActive && soc <= cfg.SustainSocEntryPercent {
			sustainActive = true
		} else if sustainActive && soc >= cfg.SustainSocExitPercent {
			sustainActive = false
		}
	} else {
		sustainActive = false
	}

	imbalanceHold := prev.State == StateImbalanceHold && !sustainActive
	if imbalanceHold {
		if in.CellImbalanceMv <= cfg.ImbalanceReleaseThresholdMv {
			imbalanceHold = false
		}
	} else if !sustainActive && in.CellImbalanceMv > cfg.ImbalanceHoldThresholdMv {
		imbalanceHold = true
	}

	switch {
	case sustainActive:
		state = StateSustain
	case imbalanceHold:
		state = StateImbalanceHold
	default:
		if prev.State == StateFloat && soc >= cfg.FloatExitSoc {
			state = StateFloat
		} else {
			switch {
			case soc >= cfg.FloatSocThreshold:
				state = StateFloat
			case soc >= cfg.TransitionSocThreshold:
				state = StateFloatApproach
			case soc >= cfg.BulkSocThreshold:
				state = StateTransition
			default:
				state = StateBulk
			}
			if state == StateFloatApproach && prev.State == StateFloatApproach &&
				(soc+0.25) < cfg.TransitionSocThreshold {
				state = StateTransition
			}
		}
	}

	result := Result{
		State:               state,
		ImbalanceHoldActive: state == StateImbalanceHold,
		CclLimitA:            clampNonNegative(in.BaseCclLimitA),
		DclLimitA:            clampNonNegative(in.BaseDclLimitA),
	}
	baseCcl := result.CclLimitA
	baseDcl := result.DclLimitA

	stateCvl := bulkTarget
	switch state {
	case StateBulk, StateTransition:
		stateCvl = bulkTarget
	case StateFloatApproach:
		stateCvl = floatApproach
	case StateFloat:
		stateCvl = floatVoltage
		if minCcl := math.Max(cfg.MinimumCclInFloatA, 0); minCcl > 0 {
			result.CclLimitA = math.Min(baseCcl, minCcl)
		}
	case StateImbalanceHold:
		minFloat := minFloatVoltage(cfg)
		overThreshold := float64(int64(in.CellImbalanceMv) - int64(cfg.ImbalanceHoldThresholdMv))
		drop := math.Max(overThreshold, 0)
		drop = math.Min(cfg.ImbalanceDropMaxV, drop*cfg.ImbalanceDropPerMv)
		stateCvl = math.Max(bulkTarget-drop, minFloat)
		if minCcl := math.Max(cfg.MinimumCclInFloatA, 0); minCcl > 0 {
			result.CclLimitA = math.Min(baseCcl, minCcl)
		}
	case StateSustain:
		sustain := math.Max(sustainVoltage(cfg), minFloatVoltage(cfg))
		stateCvl = sustain
		result.CclLimitA = math.Min(baseCcl, cfg.SustainCclLimitA)
		result.DclLimitA = math.Min(baseDcl, cfg.SustainDclLimitA)
	}

	cellLimit := absMaxVoltage(cfg)
	cellProtectionActive := false

	if cfg.SeriesCellCount > 0 && cfg.CellMaxVoltageV > 0 {
		protectionActive := prev.CellProtectionActive
		if !protectionActive && in.MaxCellVoltageV >= cfg.CellSafetyThresholdV {
			protectionActive = true
		} else if protectionActive && in.MaxCellVoltageV <= cfg.CellSafetyReleaseV {
			protectionActive = false
		}

		minFloat := minFloatVoltage(cfg)
		if protectionActive {
			deltaV := math.Max(0, in.MaxCellVoltageV-cfg.CellSafetyThresholdV)
			chargeCurrent := math.Max(0, in.PackCurrentA)
			nominalCurrent := math.Max(cfg.DynamicCurrentNominalA, 1)
			currentFactor := 1 + chargeCurrent/nominalCurrent
			reduction := cfg.CellProtectionKp * currentFactor * deltaV
			cellLimit = math.Max(minFloat, cellLimit-reduction)
		} else {
			cellLimit = math.Max(minFloat, cellLimit)
		}

		if cfg.MaxRecoveryStepV > 0 && prev.CvlVoltageV > 0 &&
			(protectionActive || prev.CellProtectionActive) {
			cellLimit = math.Min(cellLimit, prev.CvlVoltageV+cfg.MaxRecoveryStepV)
		}

		cellProtectionActive = protectionActive
	}

	finalCvl := math.Min(stateCvl, cellLimit)
	ratio := clampRatio(finalCvl, stateCvl)

	result.CvlVoltageV = finalCvl
	result.CclLimitA = math.Min(result.CclLimitA, result.CclLimitA*ratio)
	result.DclLimitA = math.Min(result.DclLimitA, result.DclLimitA*ratio)
	result.CellProtectionActive = cellProtectionActive

	return result
}

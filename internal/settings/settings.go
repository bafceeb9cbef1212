// Package settings loads the gateway's runtime configuration from an INI
// file using gopkg.in/ini.v1, read as ordinary key/value gateway
// settings grouped into sections.
package settings

import (
	"fmt"
	"time"

	"gopkg.in/ini.v1"

	"github.com/vbms/gateway/pkg/cvl"
)

// Settings is the full configuration snapshot the gateway's main loads
// once at startup.
type Settings struct {
	SerialPort     string
	SerialBaudRate int

	CanInterface string
	CanChannel   string
	CanBitrate   int

	PollPeriod     time.Duration
	PublisherPeriod time.Duration

	KeepaliveInterval time.Duration
	KeepaliveTimeout  time.Duration
	KeepaliveRetries  int

	Manufacturer string
	BatteryName  string

	EnergyStorePath string

	Cvl cvl.Config
}

// Load reads settings from the INI file at path. section names follow
// the gateway's own schema ([serial], [can], [timing], [identity],
// [storage], [cvl]) rather than CANopen's index/subindex convention, since there
// is no object dictionary here — just operator-facing settings.
func Load(path string) (Settings, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return Settings{}, fmt.Errorf("settings: load %s: %w", path, err)
	}

	s := Settings{}

	serialSec := cfg.Section("serial")
	s.SerialPort = serialSec.Key("port").MustString("/dev/ttyUSB0")
	s.SerialBaudRate = serialSec.Key("baud_rate").MustInt(115200)

	canSec := cfg.Section("can")
	s.CanInterface = canSec.Key("interface").MustString("socketcan")
	s.CanChannel = canSec.Key("channel").MustString("can0")
	s.CanBitrate = canSec.Key("bitrate").MustInt(500000)

	timingSec := cfg.Section("timing")
	s.PollPeriod = time.Duration(timingSec.Key("poll_period_ms").MustInt(500)) * time.Millisecond
	s.PublisherPeriod = time.Duration(timingSec.Key("publisher_period_ms").MustInt(1000)) * time.Millisecond
	s.KeepaliveInterval = time.Duration(timingSec.Key("keepalive_interval_ms").MustInt(2000)) * time.Millisecond
	s.KeepaliveTimeout = time.Duration(timingSec.Key("keepalive_timeout_ms").MustInt(6000)) * time.Millisecond
	s.KeepaliveRetries = timingSec.Key("keepalive_retries").MustInt(3)

	idSec := cfg.Section("identity")
	s.Manufacturer = idSec.Key("manufacturer").MustString("vbms")
	s.BatteryName = idSec.Key("battery_name").MustString("pack-1")

	storageSec := cfg.Section("storage")
	s.EnergyStorePath = storageSec.Key("energy_store_path").MustString("")

	s.Cvl = loadCvlConfig(cfg.Section("cvl"))

	return s, nil
}

func loadCvlConfig(sec *ini.Section) cvl.Config {
	f := func(key string, def float64) float64 { return sec.Key(key).MustFloat64(def) }
	u := func(key string, def int) uint32 { return uint32(sec.Key(key).MustInt(def)) }

	return cvl.Config{
		Enabled:                sec.Key("enabled").MustBool(true),
		BulkSocThreshold:       f("bulk_soc_threshold", 60),
		TransitionSocThreshold: f("transition_soc_threshold", 80),
		FloatSocThreshold:      f("float_soc_threshold", 97),
		FloatExitSoc:           f("float_exit_soc", 90),
		FloatApproachOffsetMv:  f("float_approach_offset_mv", 50),
		FloatOffsetMv:          f("float_offset_mv", 100),
		MinimumCclInFloatA:     f("minimum_ccl_in_float_a", 20),

		ImbalanceHoldThresholdMv:    u("imbalance_hold_threshold_mv", 100),
		ImbalanceReleaseThresholdMv: u("imbalance_release_threshold_mv", 50),
		ImbalanceDropPerMv:          f("imbalance_drop_per_mv", 0.5),
		ImbalanceDropMaxV:           f("imbalance_drop_max_v", 3),

		// Overridden by the orchestrator at startup from the BMS's own
		// over-voltage cutoff register, else its fully-charged voltage
		// register, else the pack voltage; this value is used only before
		// that read completes, or if none of those is available.
		BulkTargetVoltageV: f("bulk_target_voltage_v", 58.4),

		BaseCclLimitA: f("base_ccl_limit_a", 50),
		BaseDclLimitA: f("base_dcl_limit_a", 50),

		SeriesCellCount:        sec.Key("series_cell_count").MustInt(16),
		CellMaxVoltageV:        f("cell_max_voltage_v", 3.65),
		CellSafetyThresholdV:   f("cell_safety_threshold_v", 3.70),
		CellSafetyReleaseV:     f("cell_safety_release_v", 3.60),
		CellMinFloatVoltageV:   f("cell_min_float_voltage_v", 3.30),
		CellProtectionKp:       f("cell_protection_kp", 1.0),
		DynamicCurrentNominalA: f("dynamic_current_nominal_a", 50),
		MaxRecoveryStepV:       f("max_recovery_step_v", 0.5),

		// Sustain region defaults to disabled (exit == entry) when a
		// profile omits it entirely.
		SustainSocEntryPercent: f("sustain_soc_entry_percent", 0),
		SustainSocExitPercent:  f("sustain_soc_exit_percent", 0),
		SustainVoltageV:        f("sustain_voltage_v", 0),
		SustainPerCellVoltageV: f("sustain_per_cell_voltage_v", 0),
		SustainCclLimitA:       f("sustain_ccl_limit_a", 0),
		SustainDclLimitA:       f("sustain_dcl_limit_a", 0),
	}
}

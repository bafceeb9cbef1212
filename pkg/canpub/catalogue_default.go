package canpub

import (
	"time"

	"github.com/vbms/gateway/pkg/cvl"
	"github.com/vbms/gateway/pkg/energy"
)

// Identity is the operator-configured ASCII strings sent on the two
// identity frames.
type Identity struct {
	Manufacturer string
	BatteryName  string
}

// BuildCatalogue assembles the default Victron-style channel catalogue,
// binding the live-value encoders to ctrl and integrator.
func BuildCatalogue(ctrl *cvl.Controller, integrator *energy.Integrator, id Identity) []CanChannel {
	return []CanChannel{
		{ID: 0x351, Tag: "cvl_ccl_dcl", Period: time.Second, Encoder: EncodeCvlCcLDcl(ctrl)},
		{ID: 0x355, Tag: "soc_soh", Period: time.Second, Encoder: EncodeSocSoh},
		{ID: 0x356, Tag: "voltage_current_temp", Period: time.Second, Encoder: EncodeVoltageCurrentTemp},
		{ID: 0x35A, Tag: "alarms", Period: time.Second, Encoder: EncodeAlarms(ctrl)},
		{ID: 0x35E, Tag: "manufacturer_name", Period: 10 * time.Second, Encoder: EncodeManufacturerName(id.Manufacturer)},
		{ID: 0x370, Tag: "battery_name", Period: 10 * time.Second, Encoder: EncodeBatteryName(id.BatteryName)},
		{ID: 0x373, Tag: "cell_min_max", Period: time.Second, Encoder: EncodeCellMinMax},
		{ID: 0x378, Tag: "energy_counters", Period: 10 * time.Second, Encoder: EncodeEnergyCounters(integrator)},
	}
}

package canpub

import (
	"github.com/vbms/gateway/pkg/cvl"
	"github.com/vbms/gateway/pkg/energy"
	"github.com/vbms/gateway/pkg/telemetry"
)

// fixedSohPercent is sent in the 0x355 frame's SOH field. The BMS this
// gateway talks to does not report a state-of-health estimate, and
// Victron's profile has no "unknown" encoding for that field, so a
// fixed 100% is sent — matching what dbus-serialbattery-style gateways
// do for BMS models without a SOH register.
const fixedSohPercent = 100

// EncodeCvlCcLDcl builds the 0x351 frame: CVL, CCL, DCL, and DVL (the
// discharge voltage limit, which this gateway does not compute
// separately and passes through as DCL). It reads the
// controller's latest result fresh on every call rather than a value
// captured at catalogue construction time, so the frame always reflects
// the most recent CVL cycle.
func EncodeCvlCcLDcl(ctrl *cvl.Controller) Encoder {
	return func(telemetry.LiveData) (CanFrame, bool) {
		r := ctrl.GetLatest()
		var f CanFrame
		f.ID = 0x351
		f.DLC = 8
		putInt16LE(f.Data[0:2], scaleToInt16(r.CvlVoltageV, 10))
		putInt16LE(f.Data[2:4], scaleToInt16(r.CclLimitA, 10))
		putInt16LE(f.Data[4:6], scaleToInt16(r.DclLimitA, 10))
		putInt16LE(f.Data[6:8], scaleToInt16(r.DclLimitA, 10))
		return f, true
	}
}

// EncodeSocSoh builds the 0x355 frame from the telemetry snapshot's SOC.
func EncodeSocSoh(d telemetry.LiveData) (CanFrame, bool) {
	if d.SocPercent < 0 {
		return CanFrame{}, false
	}
	var f CanFrame
	f.ID = 0x355
	f.DLC = 4
	putInt16LE(f.Data[0:2], scaleToInt16(d.SocPercent, 1))
	putInt16LE(f.Data[2:4], scaleToInt16(fixedSohPercent, 1))
	return f, true
}

// EncodeVoltageCurrentTemp builds the 0x356 frame: pack voltage,
// current, and internal temperature.
func EncodeVoltageCurrentTemp(d telemetry.LiveData) (CanFrame, bool) {
	var f CanFrame
	f.ID = 0x356
	f.DLC = 6
	putInt16LE(f.Data[0:2], scaleToInt16(d.PackVoltageV, 100))
	putInt16LE(f.Data[2:4], scaleToInt16(d.PackCurrentA, 10))
	putInt16LE(f.Data[4:6], scaleToInt16(d.InternalTempC, 10))
	return f, true
}

// Alarm bit positions in the 0x35A frame's 16-bit little-endian alarm
// word (bytes 0-1, low bits first); bit 8 lands in byte 1.
const (
	alarmBitCellProtection = 0
	alarmBitImbalanceHold  = 1
	alarmBitOffline        = 2
	alarmBitOverVoltage    = 3
	alarmBitUnderVoltage   = 4
	alarmBitOverCurrent    = 5
	alarmBitOverTemp       = 6
	alarmBitUnderTemp      = 7
	alarmBitInternalFault  = 8
)

// No TinyBMS register carries a temperature cutoff, unlike the voltage
// and current limits which the BMS reports directly (RegOverVoltageCutoff,
// RegUnderVoltageCutoff, RegDischargeOverCurrent). These bounds are a
// conservative fixed fallback for cells of this chemistry.
const (
	overTempCutoffC  = 60.0
	underTempCutoffC = -20.0
)

// EncodeAlarms builds the 0x35A frame from the CVL controller's latest
// protection/hold flags, the telemetry cache's online status, and a
// comparison of the live pack readings against the BMS's own reported
// cutoffs. BmsStatusRaw has no documented bit layout in any register map
// this gateway was built against, so any nonzero value is folded into a
// single internal-fault bit rather than decoded field by field.
func EncodeAlarms(ctrl *cvl.Controller) Encoder {
	return func(d telemetry.LiveData) (CanFrame, bool) {
		r := ctrl.GetLatest()
		var f CanFrame
		f.ID = 0x35A
		f.DLC = 4
		var bits uint16
		if r.CellProtectionActive {
			bits |= 1 << alarmBitCellProtection
		}
		if r.ImbalanceHoldActive {
			bits |= 1 << alarmBitImbalanceHold
		}
		if !d.OnlineStatus {
			bits |= 1 << alarmBitOffline
		}
		if d.OverVoltageCutoffV > 0 && d.PackVoltageV >= d.OverVoltageCutoffV {
			bits |= 1 << alarmBitOverVoltage
		}
		if d.UnderVoltageCutoffV > 0 && d.PackVoltageV > 0 && d.PackVoltageV <= d.UnderVoltageCutoffV {
			bits |= 1 << alarmBitUnderVoltage
		}
		if d.DischargeOverCurrentA > 0 && -d.PackCurrentA >= d.DischargeOverCurrentA {
			bits |= 1 << alarmBitOverCurrent
		}
		if d.InternalTempC >= overTempCutoffC {
			bits |= 1 << alarmBitOverTemp
		}
		if d.InternalTempC <= underTempCutoffC {
			bits |= 1 << alarmBitUnderTemp
		}
		if d.BmsStatusRaw != 0 {
			bits |= 1 << alarmBitInternalFault
		}
		putUint16LE(f.Data[0:2], bits)
		return f, true
	}
}

// EncodeManufacturerName builds the 0x35E frame: an 8-byte ASCII,
// NUL-padded/truncated manufacturer identity string.
func EncodeManufacturerName(name string) Encoder {
	field := asciiField(name, 8)
	return func(telemetry.LiveData) (CanFrame, bool) {
		return CanFrame{ID: 0x35E, DLC: 8, Data: field}, true
	}
}

// EncodeBatteryName builds the 0x370 frame: an 8-byte ASCII battery
// name, packed the same way as EncodeManufacturerName.
func EncodeBatteryName(name string) Encoder {
	field := asciiField(name, 8)
	return func(telemetry.LiveData) (CanFrame, bool) {
		return CanFrame{ID: 0x370, DLC: 8, Data: field}, true
	}
}

// EncodeCellMinMax builds the 0x373 frame: min/max cell millivolts and
// the series cell count.
func EncodeCellMinMax(d telemetry.LiveData) (CanFrame, bool) {
	if d.SeriesCellCount <= 0 {
		return CanFrame{}, false
	}
	var f CanFrame
	f.ID = 0x373
	f.DLC = 6
	putUint16LE(f.Data[0:2], d.MaxCellMv)
	putUint16LE(f.Data[2:4], d.MinCellMv)
	putUint16LE(f.Data[4:6], uint16(d.SeriesCellCount))
	return f, true
}

// EncodeEnergyCounters builds the vendor-extension 0x378 frame carrying
// cumulative charged/discharged watt-hours as 32-bit values scaled by
// 10, since Victron's standard PGN set has no charge-counter frame. It
// reads the integrator's running totals fresh on every call.
func EncodeEnergyCounters(integrator *energy.Integrator) Encoder {
	return func(telemetry.LiveData) (CanFrame, bool) {
		snap := integrator.Snapshot()
		var f CanFrame
		f.ID = 0x378
		f.DLC = 8
		chargedScaled := uint32(snap.ChargedWh * 10)
		dischargedScaled := uint32(snap.DischargedWh * 10)
		f.Data[0] = byte(chargedScaled)
		f.Data[1] = byte(chargedScaled >> 8)
		f.Data[2] = byte(chargedScaled >> 16)
		f.Data[3] = byte(chargedScaled >> 24)
		f.Data[4] = byte(dischargedScaled)
		f.Data[5] = byte(dischargedScaled >> 8)
		f.Data[6] = byte(dischargedScaled >> 16)
		f.Data[7] = byte(dischargedScaled >> 24)
		return f, true
	}
}

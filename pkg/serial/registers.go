package serial

import (
	"encoding/binary"
	"math"
)

// Encoding describes how a register (or a pair of registers) is encoded
// on the wire. Each named register below locks in one encoding, citing
// the TinyBMS register map it was taken from, so the unit for a given
// address is never ambiguous at the call site.
type Encoding int

const (
	// RawUint16 is an unscaled 16-bit unsigned value.
	RawUint16 Encoding = iota
	// MillivoltsUint16 is a 16-bit unsigned value already in millivolts.
	MillivoltsUint16
	// Float32LE is an IEEE-754 little-endian float spread across two
	// consecutive 16-bit registers (low register first). Decoded via a
	// 32-bit staging word, never by punning a uint16 pointer to float*.
	Float32LE
	// Uint32LE is an unsigned 32-bit value spread across two consecutive
	// 16-bit registers (low register first).
	Uint32LE
)

// Register names one addressable BMS register and how to decode it.
type Register struct {
	Name     string
	Addr     uint16
	Encoding Encoding
	// Source cites the TinyBMS register map entry this definition was
	// locked against.
	Source string
}

var (
	RegLifetimeCounter = Register{"lifetime_counter", 32, RawUint16, "TinyRegister.REG_LIFETIME_COUNTER=32"}
	RegPackVoltage     = Register{"pack_voltage", 36, Float32LE, "TinyRegister.REG_PACK_VOLTAGE=36 (FLOAT)"}
	RegPackCurrent     = Register{"pack_current", 38, Float32LE, "TinyRegister.REG_PACK_CURRENT=38 (FLOAT)"}
	RegMinCellVoltage  = Register{"min_cell_voltage_mv", 40, MillivoltsUint16, "TinyRegister.REG_MIN_CELL_VOLTAGE=40"}
	RegMaxCellVoltage  = Register{"max_cell_voltage_mv", 41, MillivoltsUint16, "TinyRegister.REG_MAX_CELL_VOLTAGE=41"}
	RegSocHighRes      = Register{"soc_highres", 46, Uint32LE, "TinyRegister.REG_SOC=46 (UINT32 High Res)"}
	RegInternalTemp    = Register{"internal_temp", 48, RawUint16, "TinyRegister.REG_INTERNAL_TEMP=48"}
	RegBmsStatus       = Register{"bms_status", 50, RawUint16, "TinyRegister.REG_BMS_STATUS=50"}

	RegFullyChargedVoltage   = Register{"fully_charged_voltage", 300, Float32LE, "TinyRegister.REG_FULLY_CHARGED_VOLTAGE=300"}
	RegFullyDischargedVoltage = Register{"fully_discharged_voltage", 301, Float32LE, "TinyRegister.REG_FULLY_DISCHARGED_VOLTAGE=301"}
	RegOverVoltageCutoff     = Register{"over_voltage_cutoff", 315, Float32LE, "TinyRegister.REG_OVER_VOLTAGE_CUTOFF=315"}
	RegUnderVoltageCutoff    = Register{"under_voltage_cutoff", 316, Float32LE, "TinyRegister.REG_UNDER_VOLTAGE_CUTOFF=316"}
	RegDischargeOverCurrent  = Register{"discharge_over_current", 317, Float32LE, "TinyRegister.REG_DISCHARGE_OVER_CURRENT=317"}
	RegHardwareVersion       = Register{"hardware_version", 500, RawUint16, "TinyRegister.REG_HARDWARE_VERSION=500"}
)

// registerPairWidth returns how many consecutive 16-bit registers r spans.
func registerPairWidth(r Register) int {
	switch r.Encoding {
	case Float32LE, Uint32LE:
		return 2
	default:
		return 1
	}
}

// DecodeRegister interprets the raw 16-bit words (one or two, low word
// first) for r according to its Encoding, returning a float64 regardless
// of the underlying wire type so callers have one uniform numeric result.
func DecodeRegister(r Register, words []uint16) (float64, error) {
	if len(words) != registerPairWidth(r) {
		return 0, ErrInvalidArguments
	}
	switch r.Encoding {
	case RawUint16, MillivoltsUint16:
		return float64(words[0]), nil
	case Float32LE:
		var buf [4]byte
		binary.LittleEndian.PutUint16(buf[0:2], words[0])
		binary.LittleEndian.PutUint16(buf[2:4], words[1])
		bits := binary.LittleEndian.Uint32(buf[:])
		return float64(math.Float32frombits(bits)), nil
	case Uint32LE:
		var buf [4]byte
		binary.LittleEndian.PutUint16(buf[0:2], words[0])
		binary.LittleEndian.PutUint16(buf[2:4], words[1])
		return float64(binary.LittleEndian.Uint32(buf[:])), nil
	default:
		return 0, ErrInvalidArguments
	}
}

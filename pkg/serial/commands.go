package serial

// Command bytes for the BMS half-duplex serial protocol.
const (
	CmdReadRegister  byte = 0x09
	CmdWriteRegister byte = 0x0D
	CmdResetBMS      byte = 0x02
	CmdBlockRead     byte = 0x07
	CmdBlockWrite    byte = 0x0B
	CmdRegFileRead   byte = 0x03
	CmdRegFileWrite  byte = 0x10

	// Fixed-purpose status queries (0x11..0x20).
	CmdNewestEvents     byte = 0x11
	CmdAllEvents        byte = 0x12
	CmdPackVoltage      byte = 0x13
	CmdPackCurrent      byte = 0x14
	CmdCellVoltageMinMax byte = 0x15
	CmdOnlineStatus     byte = 0x16
	CmdLifetimeCounter  byte = 0x17
	CmdStateOfCharge    byte = 0x18
	CmdTemperatures     byte = 0x19
	CmdAllCellVoltages  byte = 0x1A
	CmdSettingsSnapshot byte = 0x1B
	CmdVersion          byte = 0x1C
	CmdExtendedVersion  byte = 0x1D
	CmdSpeedDistance    byte = 0x1E
	// 0x1F, 0x20 reserved for future fixed-purpose queries.

	ackByte  byte = 0x01
	nackByte byte = 0x00

	preamble byte = 0xAA

	resetOption byte = 0x05
)

// IsStatusQuery reports whether cmd is one of the fixed-purpose status
// queries in the 0x11..0x20 range.
func IsStatusQuery(cmd byte) bool {
	return cmd >= CmdNewestEvents && cmd <= 0x20
}

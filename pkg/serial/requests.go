package serial

import "encoding/binary"

const (
	maxBlockWriteRegisters = 125
	maxBlockReadRegisters  = 255
)

// BuildReadRegisterRequest builds a request to read a single 16-bit
// register at addr.
func BuildReadRegisterRequest(addr uint16) []byte {
	payload := make([]byte, 2)
	binary.LittleEndian.PutUint16(payload, addr)
	return Build(CmdReadRegister, payload)
}

// BuildWriteRegisterRequest builds a request to write value into the
// register at addr.
func BuildWriteRegisterRequest(addr, value uint16) []byte {
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], addr)
	binary.LittleEndian.PutUint16(payload[2:4], value)
	return Build(CmdWriteRegister, payload)
}

// BuildResetRequest builds a BMS reset request.
func BuildResetRequest() []byte {
	return Build(CmdResetBMS, []byte{resetOption})
}

// BuildBlockReadRequest builds a request to read count consecutive
// registers starting at start.
func BuildBlockReadRequest(start uint16, count int) ([]byte, error) {
	if count <= 0 || count > maxBlockReadRegisters {
		return nil, ErrInvalidArguments
	}
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], start)
	binary.LittleEndian.PutUint16(payload[2:4], uint16(count))
	return Build(CmdBlockRead, payload), nil
}

// BuildBlockWriteRequest builds a request to write values into count
// consecutive registers starting at start.
func BuildBlockWriteRequest(start uint16, values []uint16) ([]byte, error) {
	if len(values) == 0 || len(values) > maxBlockWriteRegisters {
		return nil, ErrInvalidArguments
	}
	payload := make([]byte, 4+2*len(values))
	binary.LittleEndian.PutUint16(payload[0:2], start)
	binary.LittleEndian.PutUint16(payload[2:4], uint16(len(values)))
	for i, v := range values {
		binary.LittleEndian.PutUint16(payload[4+2*i:6+2*i], v)
	}
	return Build(CmdBlockWrite, payload), nil
}

// BuildRegFileReadRequest builds a standard Modbus-style register-file
// read request (function 0x03).
func BuildRegFileReadRequest(start uint16, count int) ([]byte, error) {
	if count <= 0 || count > maxBlockReadRegisters {
		return nil, ErrInvalidArguments
	}
	payload := make([]byte, 4)
	binary.LittleEndian.PutUint16(payload[0:2], start)
	binary.LittleEndian.PutUint16(payload[2:4], uint16(count))
	return Build(CmdRegFileRead, payload), nil
}

// BuildRegFileWriteRequest builds a standard Modbus-style register-file
// write request (function 0x10).
func BuildRegFileWriteRequest(start uint16, values []uint16) ([]byte, error) {
	if len(values) == 0 || len(values) > maxBlockWriteRegisters {
		return nil, ErrInvalidArguments
	}
	payload := make([]byte, 4+2*len(values))
	binary.LittleEndian.PutUint16(payload[0:2], start)
	binary.LittleEndian.PutUint16(payload[2:4], uint16(len(values)))
	for i, v := range values {
		binary.LittleEndian.PutUint16(payload[4+2*i:6+2*i], v)
	}
	return Build(CmdRegFileWrite, payload), nil
}

// BuildStatusQueryRequest builds a fixed-purpose status query request,
// which carries no payload.
func BuildStatusQueryRequest(cmd byte) []byte {
	return Build(cmd, nil)
}

package serial

import (
	"errors"
	"fmt"
)

// ErrInvalidArguments mirrors the root package's validation-error class,
// surfaced immediately without retry.
var ErrInvalidArguments = errors.New("serial: invalid arguments")

// TimeoutError means no response arrived within the per-attempt window.
// Retried per the engine's retry policy; surfaced once retries are
// exhausted.
type TimeoutError struct {
	Cmd      byte
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("serial: timeout waiting for response to cmd x%02x after %d attempt(s)", e.Cmd, e.Attempts)
}

// CrcMismatchError means a frame was received but failed CRC validation.
// Retried like TimeoutError.
type CrcMismatchError struct {
	Cmd      byte
	Attempts int
}

func (e *CrcMismatchError) Error() string {
	return fmt.Sprintf("serial: CRC mismatch on response to cmd x%02x after %d attempt(s)", e.Cmd, e.Attempts)
}

// NackError means the BMS explicitly refused the request. Never retried.
type NackError struct {
	Cmd  byte
	Code byte
}

func (e *NackError) Error() string {
	return fmt.Sprintf("serial: NACK for cmd x%02x, error code x%02x", e.Cmd, e.Code)
}

// InvalidResponseError means a response was well-formed (CRC ok) but did
// not match what the request expected — wrong command echoed, wrong
// length, or (for a verified write) a readback mismatch.
type InvalidResponseError struct {
	Cmd    byte
	Reason string
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("serial: invalid response to cmd x%02x: %s", e.Cmd, e.Reason)
}

// TransportFailureError wraps an error returned by the underlying
// transport's Read/Write calls.
type TransportFailureError struct {
	Err error
}

func (e *TransportFailureError) Error() string {
	return fmt.Sprintf("serial: transport failure: %v", e.Err)
}

func (e *TransportFailureError) Unwrap() error { return e.Err }

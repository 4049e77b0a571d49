package skywatcher

import (
	"errors"
	"fmt"
)

var (
	ErrTimeout          = errors.New("skywatcher: timed out waiting for response")
	ErrFraming          = errors.New("skywatcher: malformed response")
	ErrNotConnected     = errors.New("skywatcher: not connected")
	ErrAlreadyConnected = errors.New("skywatcher: already connected")
	ErrBadAxis          = errors.New("skywatcher: command requires a single axis")
	ErrPayloadTooLarge  = errors.New("skywatcher: payload exceeds 3 bytes")
	ErrNotCalibrated    = errors.New("skywatcher: controller not calibrated")
)

// ErrorCode is the nibble the controller sends after an error marker.
type ErrorCode int

const (
	GeneralError       ErrorCode = 0
	BadParameterCount  ErrorCode = 1
	MotorBusy          ErrorCode = 2
	BadValue           ErrorCode = 3
	MotorCoilsInactive ErrorCode = 5
	PECInvalid         ErrorCode = 8
)

func decodeErrorCode(nibble int) ErrorCode {
	switch c := ErrorCode(nibble); c {
	case BadParameterCount, MotorBusy, BadValue, MotorCoilsInactive, PECInvalid:
		return c
	}
	return GeneralError
}

func (c ErrorCode) String() string {
	switch c {
	case BadParameterCount:
		return "bad parameter count"
	case MotorBusy:
		return "motor busy"
	case BadValue:
		return "bad value"
	case MotorCoilsInactive:
		return "motor coils inactive"
	case PECInvalid:
		return "PEC table invalid"
	}
	return "general error"
}

// ProtocolError is an error response from the controller. It is never
// retried.
type ProtocolError struct {
	Axis    Axis
	Command byte
	Code    ErrorCode
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("skywatcher: %c on %v axis: %v", e.Command, e.Axis, e.Code)
}

// TransportError reports a transaction that failed on every attempt.
type TransportError struct {
	Axis     Axis
	Command  byte
	Attempts int
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("skywatcher: %c on %v axis failed after %d attempts: %v", e.Command, e.Axis, e.Attempts, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// CalibrationError reports a failed initialization sequence.
type CalibrationError struct {
	Err error
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("skywatcher: initialization failed: %v", e.Err)
}

func (e *CalibrationError) Unwrap() error { return e.Err }

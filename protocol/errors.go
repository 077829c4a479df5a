package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrEchoMismatch is returned when a response does not repeat the request
	// fields it is expected to echo.
	ErrEchoMismatch = errors.New("protocol: response echo mismatch")

	// ErrFrameSync is returned when no response preamble is found within
	// MaxResyncBytes.
	ErrFrameSync = errors.New("protocol: lost frame synchronisation")

	// ErrShortPayload is returned when a response payload is smaller than
	// the command requires.
	ErrShortPayload = errors.New("protocol: response payload too short")
)

// ProtocolError represents a non-zero status returned by the bootloader.
type ProtocolError struct {
	// Operation is the command that failed
	Operation string

	// StatusCode is the status byte from the response
	StatusCode byte
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s failed: %s (0x%02X)", e.Operation, getStatusName(e.StatusCode), e.StatusCode)
}

// IsProtocolError returns true if the error is, or wraps, a ProtocolError.
func IsProtocolError(err error) bool {
	var pe *ProtocolError
	return errors.As(err, &pe)
}

// getStatusName returns a human-readable name for a status code.
func getStatusName(code byte) string {
	if code == StatusSuccess {
		return "success"
	}
	return fmt.Sprintf("device status 0x%02X", code)
}

// ErrTimeout is returned when the channel read timeout elapses before a
// complete response frame has been received. It is transient: the exchange
// may be retried.
var ErrTimeout = errors.New("protocol: read timed out")

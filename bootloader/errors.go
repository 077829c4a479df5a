package bootloader

import (
	"errors"
	"fmt"

	"github.com/moffa90/go-bk7231/protocol"
)

var (
	// ErrHandshakeTimeout is returned by Connect when the chip never answered
	// a link check.
	ErrHandshakeTimeout = errors.New("bootloader: handshake timed out")

	// ErrMalformedResponse is returned by Connect when bytes arrived but never
	// formed a valid link check reply.
	ErrMalformedResponse = errors.New("bootloader: malformed handshake response")

	// ErrUnknownChip is returned when identification matches no profile.
	ErrUnknownChip = errors.New("bootloader: unknown chip")

	// ErrLinkFailure is matched by every LinkError.
	ErrLinkFailure = errors.New("bootloader: link failure")

	// ErrIntegrity is matched by every IntegrityError.
	ErrIntegrity = errors.New("bootloader: integrity check failed")

	// ErrNotConnected is returned by operations on a disconnected session.
	ErrNotConnected = errors.New("bootloader: session not connected")

	// ErrTimeout is the transient read timeout retried by SendCommand.
	ErrTimeout = protocol.ErrTimeout
)

// LinkError indicates that an exchange failed after all retries, or that
// the channel itself failed.
type LinkError struct {
	Operation string
	Attempts  int
	Err       error
}

func (e *LinkError) Error() string {
	return fmt.Sprintf("%s: device not responding after %d attempt(s): %v", e.Operation, e.Attempts, e.Err)
}

func (e *LinkError) Unwrap() error { return e.Err }

// Is reports whether target is ErrLinkFailure.
func (e *LinkError) Is(target error) bool { return target == ErrLinkFailure }

// IntegrityError indicates that the chip responded but the data is corrupt:
// a response did not echo its request, or a CRC did not match.
type IntegrityError struct {
	Operation string

	// Offset is the flash offset of the checked range, if any
	Offset uint32

	// Expected and Actual are the compared CRC values, if any
	Expected uint32
	Actual   uint32

	Err error
}

func (e *IntegrityError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: corrupt response: %v", e.Operation, e.Err)
	}
	return fmt.Sprintf("%s at 0x%06X: crc mismatch: expected 0x%08X, chip reported 0x%08X",
		e.Operation, e.Offset, e.Expected, e.Actual)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Is reports whether target is ErrIntegrity.
func (e *IntegrityError) Is(target error) bool { return target == ErrIntegrity }

// SegmentVerificationError indicates that a bulk flash operation was aborted
// because a segment could not be transferred intact.
type SegmentVerificationError struct {
	Offset   uint32
	Attempts int
	Err      error
}

func (e *SegmentVerificationError) Error() string {
	return fmt.Sprintf("segment at 0x%06X failed verification after %d attempt(s): %v", e.Offset, e.Attempts, e.Err)
}

func (e *SegmentVerificationError) Unwrap() error { return e.Err }

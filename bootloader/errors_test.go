package bootloader

import (
	"errors"
	"strings"
	"testing"

	"github.com/moffa90/go-bk7231/protocol"
)

func TestLinkError(t *testing.T) {
	err := &LinkError{
		Operation: "flash read 4k",
		Attempts:  4,
		Err:       protocol.ErrTimeout,
	}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "not responding") {
		t.Errorf("error message should contain 'not responding', got: %s", errMsg)
	}

	if !strings.Contains(errMsg, "4 attempt") {
		t.Errorf("error message should contain attempt count, got: %s", errMsg)
	}

	if !errors.Is(err, ErrLinkFailure) {
		t.Error("LinkError should match ErrLinkFailure")
	}

	if !errors.Is(err, ErrTimeout) {
		t.Error("LinkError should unwrap to its cause")
	}

	if errors.Is(err, ErrIntegrity) {
		t.Error("LinkError should not match ErrIntegrity")
	}
}

func TestIntegrityError(t *testing.T) {
	t.Run("crc mismatch", func(t *testing.T) {
		err := &IntegrityError{
			Operation: "check crc",
			Offset:    0x11000,
			Expected:  0xCAFEBABE,
			Actual:    0xDEADBEEF,
		}

		errMsg := err.Error()

		if !strings.Contains(errMsg, "0x011000") {
			t.Errorf("error message should contain offset, got: %s", errMsg)
		}

		if !strings.Contains(errMsg, "0xCAFEBABE") || !strings.Contains(errMsg, "0xDEADBEEF") {
			t.Errorf("error message should contain both CRC values, got: %s", errMsg)
		}

		if !errors.Is(err, ErrIntegrity) {
			t.Error("IntegrityError should match ErrIntegrity")
		}
	})

	t.Run("echo mismatch", func(t *testing.T) {
		err := &IntegrityError{Operation: "flash read 4k", Err: protocol.ErrEchoMismatch}

		if !strings.Contains(err.Error(), "corrupt response") {
			t.Errorf("error message should contain 'corrupt response', got: %s", err.Error())
		}

		if !errors.Is(err, protocol.ErrEchoMismatch) {
			t.Error("IntegrityError should unwrap to its cause")
		}

		if errors.Is(err, ErrLinkFailure) {
			t.Error("IntegrityError should not match ErrLinkFailure")
		}
	})
}

func TestSegmentVerificationError(t *testing.T) {
	cause := &IntegrityError{Operation: "check crc", Offset: 0x12C000}
	err := &SegmentVerificationError{
		Offset:   0x12C000,
		Attempts: 3,
		Err:      cause,
	}

	errMsg := err.Error()

	if !strings.Contains(errMsg, "0x12C000") {
		t.Errorf("error message should contain offset, got: %s", errMsg)
	}

	if !errors.Is(err, ErrIntegrity) {
		t.Error("SegmentVerificationError should unwrap to ErrIntegrity")
	}

	var sve *SegmentVerificationError
	if !errors.As(err, &sve) || sve.Offset != 0x12C000 {
		t.Error("errors.As should recover the segment offset")
	}
}

func TestErrorTypes(t *testing.T) {
	// Test that all error types implement error interface
	var _ error = &LinkError{}
	var _ error = &IntegrityError{}
	var _ error = &SegmentVerificationError{}

	if errors.Is(ErrHandshakeTimeout, ErrMalformedResponse) {
		t.Error("handshake timeout and malformed response must be distinct")
	}
}

package bootloader

import (
	"io"
	"time"
)

// Channel is the byte stream to the chip, typically a serial port.
//
// Read must return 0, nil when the read timeout elapses without data, which
// is how go.bug.st/serial ports behave.
type Channel interface {
	io.ReadWriter

	// SetReadTimeout sets the maximum time a Read waits for data
	SetReadTimeout(t time.Duration) error
}

// Resetter is implemented by channels that can reset the chip through the
// modem control lines of the UART bridge.
type Resetter interface {
	SetRTS(v bool) error
	SetDTR(v bool) error
}

// BaudRateSetter is implemented by channels whose baud rate can be changed
// after the link is established.
type BaudRateSetter interface {
	SetBaudRate(rate int) error
}

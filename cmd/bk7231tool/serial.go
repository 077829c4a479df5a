package main

import (
	"fmt"

	"go.bug.st/serial"
)

// serialChannel adapts a serial port to bootloader.Channel. The embedded
// port already provides reads with timeout and the RTS/DTR lines; only baud
// rate changes need the mode to be kept around.
type serialChannel struct {
	serial.Port
	mode serial.Mode
}

func openSerial(device string, baudRate int) (*serialChannel, error) {
	mode := serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(device, &mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", device, err)
	}
	if err := port.ResetInputBuffer(); err != nil {
		port.Close()
		return nil, fmt.Errorf("failed to flush %s: %w", device, err)
	}
	return &serialChannel{Port: port, mode: mode}, nil
}

// SetBaudRate switches the host side of the link.
func (c *serialChannel) SetBaudRate(rate int) error {
	if err := c.Port.Drain(); err != nil {
		return err
	}
	c.mode.BaudRate = rate
	return c.Port.SetMode(&c.mode)
}

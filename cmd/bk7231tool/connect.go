package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-bk7231/bootloader"
	"github.com/moffa90/go-bk7231/protocol"
)

// serialFlags are the connection flags shared by the device subcommands.
type serialFlags struct {
	device   string
	baudRate int
	timeout  float64
	chip     string
	reset    bool
}

func (f *serialFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.device, "device", "d", "", "Serial device path")
	cmd.Flags().IntVarP(&f.baudRate, "baudrate", "b", protocol.DefaultBaudRate, "Serial baud rate used after the handshake")
	cmd.Flags().Float64Var(&f.timeout, "timeout", 10.0, "Timeout for the handshake in seconds")
	cmd.Flags().StringVar(&f.chip, "chip", "", "Chip variant (BK7231T, BK7231U, BK7231N); identified automatically when empty")
	cmd.Flags().BoolVar(&f.reset, "reset", false, "Reset the chip through RTS before the handshake")
	cmd.MarkFlagRequired("device")
}

// options translates the flags into session options.
func (f *serialFlags) options() ([]bootloader.Option, error) {
	opts := []bootloader.Option{
		bootloader.WithBaudRate(f.baudRate),
		bootloader.WithLinkTimeout(time.Duration(f.timeout * float64(time.Second))),
		bootloader.WithLoggerFactory(glogFactory{}),
	}
	if f.chip != "" {
		profile, ok := protocol.ProfileByName(f.chip)
		if !ok {
			return nil, fmt.Errorf("unknown chip %q", f.chip)
		}
		opts = append(opts, bootloader.WithChipProfile(profile))
	}
	if f.reset {
		opts = append(opts, bootloader.WithHardwareReset(100*time.Millisecond))
	}
	return opts, nil
}

// open opens the serial port and returns it with the session options.
func (f *serialFlags) open() (*serialChannel, []bootloader.Option, error) {
	opts, err := f.options()
	if err != nil {
		return nil, nil, err
	}
	port, err := openSerial(f.device, protocol.DefaultBaudRate)
	if err != nil {
		return nil, nil, err
	}
	glog.Infof("Connecting to %s, reset the chip if it is not in download mode", f.device)
	return port, opts, nil
}

// withSession runs fn on a session established over ch. ch is closed when
// fn returns or the handshake fails.
func withSession(ctx context.Context, ch bootloader.Channel, opts []bootloader.Option, fn func(*bootloader.Session) error) error {
	sess, err := bootloader.Connect(ctx, ch, opts...)
	if err != nil {
		if c, ok := ch.(io.Closer); ok {
			c.Close()
		}
		return err
	}
	defer func() {
		if err := sess.Disconnect(); err != nil {
			glog.Warningf("Disconnect: %v", err)
		}
	}()
	return fn(sess)
}

// Command bk7231tool talks to BK7231 chips over a serial port and dissects
// their flash dumps.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-bk7231/bootloader"
)

var rootCmd = &cobra.Command{
	Use:           "bk7231tool",
	Short:         "Utilities to interact with BK7231 chips over serial and analyze their artifacts",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	// glog complains about logging before flag.Parse; cobra owns the
	// actual parsing.
	flag.CommandLine.Parse(nil)

	rootCmd.AddCommand(chipInfoCmd, readFlashCmd, writeFlashCmd, dissectDumpCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	glog.Flush()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		os.Exit(1)
	}
}

// describe prefixes err with the failure class a user can act on.
func describe(err error) string {
	var sve *bootloader.SegmentVerificationError
	switch {
	case errors.Is(err, bootloader.ErrHandshakeTimeout), errors.Is(err, bootloader.ErrLinkFailure):
		return "device not responding: " + err.Error()
	case errors.As(err, &sve), errors.Is(err, bootloader.ErrIntegrity), errors.Is(err, bootloader.ErrMalformedResponse):
		return "device responded but data is corrupt: " + err.Error()
	}
	return err.Error()
}

// parseHex parses an address given with or without a 0x prefix.
func parseHex(s string) (uint32, error) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "0x")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid hex address %q", s)
	}
	return uint32(v), nil
}

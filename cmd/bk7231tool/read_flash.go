package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-bk7231/bootloader"
)

var readFlashFlags struct {
	serialFlags
	start    string
	count    int
	noVerify bool
}

var readFlashCmd = &cobra.Command{
	Use:   "read_flash [flags] FILE",
	Short: "Read data from flash",
	Long: `Reads COUNT 4K segments starting at START and stores them in FILE.

Every segment is verified against the CRC reported by the chip unless
--no-verify-checksum is given or the chip is known to report wrong CRCs.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseHex(readFlashFlags.start)
		if err != nil {
			return err
		}

		port, opts, err := readFlashFlags.open()
		if err != nil {
			return err
		}
		opts = append(opts, bootloader.WithProgressCallback(logProgress))
		return readFlash(cmd.Context(), port, opts, args[0], start, readFlashFlags.count, !readFlashFlags.noVerify)
	},
}

// readFlash stores count segments read at start over ch in path.
func readFlash(ctx context.Context, ch bootloader.Channel, opts []bootloader.Option, path string, start uint32, count int, verify bool) error {
	return withSession(ctx, ch, opts, func(sess *bootloader.Session) error {
		size := count * sess.Profile().SegmentSize
		glog.Infof("Reading %d segment(s) (%s) from 0x%X", count, humanize.IBytes(uint64(size)), start)

		img, err := sess.ReadFlash(ctx, start, count, verify)
		if err != nil {
			return err
		}
		defer img.Close()

		if err := os.WriteFile(path, img.Bytes(), 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
		stats := sess.Stats()
		glog.Infof("Wrote %s to %s (%d exchange(s), %d retry(ies))",
			humanize.IBytes(uint64(img.Len())), path, stats.Exchanges, stats.Retries)
		return nil
	})
}

// logProgress reports bulk transfer progress through glog, one line per
// transferred segment.
func logProgress(p bootloader.Progress) {
	switch p.Phase {
	case bootloader.PhaseReading, bootloader.PhaseWriting:
		glog.Infof("[%s] 0x%06X %d/%d (%.1f%%)", p.Phase, p.Address, p.CurrentSegment+1, p.TotalSegments, p.Percentage)
	case bootloader.PhaseVerifying, bootloader.PhaseErasing:
		glog.V(1).Infof("[%s] 0x%06X", p.Phase, p.Address)
	case bootloader.PhaseComplete:
		glog.Infof("Done: %s in %v", humanize.IBytes(uint64(p.Bytes)), p.ElapsedTime.Round(time.Millisecond))
	}
}

func init() {
	readFlashFlags.register(readFlashCmd)
	readFlashCmd.Flags().StringVarP(&readFlashFlags.start, "start-address", "s", "0x10000", "Starting address to read from [hex]")
	readFlashCmd.Flags().IntVarP(&readFlashFlags.count, "count", "c", 16, "Number of 4K segments to read from flash")
	readFlashCmd.Flags().BoolVar(&readFlashFlags.noVerify, "no-verify-checksum", false, "Do not verify the checksum of retrieved flash segments")
}

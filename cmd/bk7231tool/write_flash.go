package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-bk7231/bootloader"
	"github.com/moffa90/go-bk7231/flashimg"
)

var writeFlashFlags struct {
	serialFlags
	start    string
	noVerify bool
}

var writeFlashCmd = &cobra.Command{
	Use:   "write_flash [flags] FILE",
	Short: "Write data to flash",
	Long: `Erases the flash range covered by FILE starting at START and programs it.

FILE may be raw or compressed with xz or lz4. The data is padded with 0xFF
to a whole number of 4K segments.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parseHex(writeFlashFlags.start)
		if err != nil {
			return err
		}

		port, opts, err := writeFlashFlags.open()
		if err != nil {
			return err
		}
		opts = append(opts, bootloader.WithProgressCallback(logProgress))
		return writeFlash(cmd.Context(), port, opts, args[0], start, !writeFlashFlags.noVerify)
	},
}

// writeFlash programs the content of path at start over ch.
func writeFlash(ctx context.Context, ch bootloader.Channel, opts []bootloader.Option, path string, start uint32, verify bool) error {
	img, err := flashimg.Open(path)
	if err != nil {
		if c, ok := ch.(io.Closer); ok {
			c.Close()
		}
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer img.Close()

	return withSession(ctx, ch, opts, func(sess *bootloader.Session) error {
		glog.Infof("Writing %s (%s) to 0x%X", path, humanize.IBytes(uint64(img.Len())), start)
		return sess.WriteFlash(ctx, start, img.Bytes(), verify)
	})
}

func init() {
	writeFlashFlags.register(writeFlashCmd)
	writeFlashCmd.Flags().StringVarP(&writeFlashFlags.start, "start-address", "s", "0x11000", "Starting address to write to [hex]")
	writeFlashCmd.Flags().BoolVar(&writeFlashFlags.noVerify, "no-verify-checksum", false, "Do not verify the checksum of written flash segments")
}

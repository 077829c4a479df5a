package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-bk7231/bootloader"
)

var chipInfoFlags serialFlags

var chipInfoCmd = &cobra.Command{
	Use:   "chip_info",
	Short: "Show chip information",
	Long:  "Connects to the ROM bootloader and prints the chip identification and the SPI flash ID.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		port, opts, err := chipInfoFlags.open()
		if err != nil {
			return err
		}
		return chipInfo(cmd.Context(), port, opts, cmd.OutOrStdout())
	},
}

// chipInfo prints the identification of the chip on ch to w.
func chipInfo(ctx context.Context, ch bootloader.Channel, opts []bootloader.Option, w io.Writer) error {
	return withSession(ctx, ch, opts, func(sess *bootloader.Session) error {
		id, err := sess.FlashID(ctx)
		if err != nil {
			return fmt.Errorf("failed to read flash ID: %w", err)
		}

		profile := sess.Profile()
		fmt.Fprintf(w, "Chip:       %s\n", sess.ChipInfo())
		fmt.Fprintf(w, "Profile:    %s\n", profile.Name)
		fmt.Fprintf(w, "Flash ID:   %s (%s)\n", id, humanize.IBytes(uint64(id.Size())))
		fmt.Fprintf(w, "Flash size: %s\n", humanize.IBytes(uint64(profile.FlashSize)))
		if profile.ChecksumUnreliable {
			fmt.Fprintln(w, "Note:       this chip reports unreliable CRCs, reads are not verified")
		}
		return nil
	})
}

func init() {
	chipInfoFlags.register(chipInfoCmd)
}

package main

import (
	"fmt"
	"io"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/moffa90/go-bk7231/dissect"
	"github.com/moffa90/go-bk7231/flashimg"
)

type dissectDumpOptions struct {
	layout    string
	outputDir string
	extract   bool
	rbl       bool
	workers   int
}

var dissectDumpFlags dissectDumpOptions

var dissectDumpCmd = &cobra.Command{
	Use:   "dissect_dump [flags] FILE",
	Short: "Dissect and extract RBL containers from flash dump files",
	Long: `Lists the RBL containers found in FILE and, with -e, extracts their
payloads. Partitions of the layout that have no container are recovered
from their CRC-16 block structure.

FILE may be raw or compressed with xz or lz4. Giving an output directory
implies -e.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return dissectDump(args[0], dissectDumpFlags, cmd.OutOrStdout())
	},
}

// dissectDump lists the containers of the dump at path on w and, when
// extraction is enabled, writes their artifacts.
func dissectDump(path string, f dissectDumpOptions, w io.Writer) error {
	layout, err := dissect.LayoutByName(f.layout)
	if err != nil {
		return err
	}

	if f.outputDir != "" && !f.extract {
		glog.Infof("Output directory is different from default: assuming -e (extract) is desired")
		f.extract = true
	}
	if f.outputDir == "" {
		f.outputDir = "."
	}

	img, err := flashimg.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer img.Close()
	glog.V(1).Infof("Loaded %s: %s, %s", path, img.Format(), humanize.IBytes(uint64(img.Len())))

	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	report, err := dissect.Dissect(img,
		dissect.WithLayout(layout),
		dissect.WithOutputDir(f.outputDir),
		dissect.WithFilePrefix(stem),
		dissect.WithExtract(f.extract),
		dissect.WithReconstructRBL(f.rbl),
		dissect.WithWorkers(f.workers),
		dissect.WithLoggerFactory(glogFactory{}),
	)
	if err != nil {
		return err
	}

	printReport(w, report, f.extract, f.outputDir)
	if n := report.Failed(); n > 0 {
		return fmt.Errorf("%d partition(s) could not be extracted", n)
	}
	return nil
}

func printReport(w io.Writer, report *dissect.Report, extracted bool, dir string) {
	if len(report.Results) > 0 {
		fmt.Fprintln(w, "RBL containers:")
	}
	for _, res := range report.Results {
		c := res.Container
		fmt.Fprintf(w, "\t0x%X: %s %s - [encoding_algorithm=%s, size=0x%X (%s)]\n",
			c.Offset, c.Header.Name, c.Header.Version, c.Header.Algorithm,
			len(c.Payload), humanize.IBytes(uint64(len(c.Payload))))
		printOutcome(w, res.Artifacts, res.Warnings, res.Err, extracted, dir)
	}
	for _, rej := range report.Rejected {
		fmt.Fprintf(w, "\t0x%X: FAILED TO PARSE - %s\n", rej.Offset, rej.Reason)
	}

	for _, cr := range report.Carved {
		fmt.Fprintf(w, "Missing %s RBL container. Using a scan pattern instead\n", cr.Partition.Name)
		if cr.Err == nil {
			fmt.Fprintf(w, "\t0x%X: %s - [NO RBL, size=0x%X]\n", cr.Partition.Start, cr.Partition.Name, cr.Size)
		}
		printOutcome(w, cr.Artifacts, cr.Warnings, cr.Err, extracted, dir)
	}
}

func printOutcome(w io.Writer, artifacts []dissect.Artifact, warnings []error, err error, extracted bool, dir string) {
	for _, warn := range warnings {
		fmt.Fprintf(w, "\t\twarning: %v\n", warn)
	}
	if err != nil {
		fmt.Fprintf(w, "\t\tfailed: %v\n", err)
		return
	}
	if extracted && len(artifacts) > 0 {
		fmt.Fprintf(w, "\t\textracted %d file(s) to %s\n", len(artifacts), dir)
	}
}

func init() {
	f := &dissectDumpFlags
	dissectDumpCmd.Flags().StringVarP(&f.layout, "layout", "l", "ota_1", "Flash layout used to generate the dump file")
	dissectDumpCmd.Flags().StringVarP(&f.outputDir, "output-dir", "O", "", "Output directory for extracted files (default: current working directory)")
	dissectDumpCmd.Flags().BoolVarP(&f.extract, "extract", "e", false, "Extract identified RBL containers instead of outputting information only")
	dissectDumpCmd.Flags().BoolVar(&f.rbl, "rbl", false, "Also write each RBL container with its header")
	dissectDumpCmd.Flags().IntVar(&f.workers, "workers", runtime.NumCPU(), "Number of concurrent extraction workers")
}

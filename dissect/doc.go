// Package dissect splits a BK7231 flash image into its partitions.
//
// # Overview
//
// Dissect scans the image for RBL containers, then extracts every container
// on a bounded pool of workers. For each container it writes:
//   - <name>.bin with the payload as stored on flash
//   - <name>_decrypted.bin when the crypt registry knows the partition
//   - <name>.rbl with header and payload when WithReconstructRBL is set
//
// Partitions of the flash layout that have no container are recovered from
// their CRC-16 block structure and written as <name>_pattern_scan.bin.
//
// # Basic Usage
//
//	img, err := flashimg.Open("dump.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer img.Close()
//
//	report, err := dissect.Dissect(img,
//	    dissect.WithOutputDir("out"),
//	    dissect.WithFilePrefix("dump"),
//	    dissect.WithLayout(dissect.LayoutOTA1),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, res := range report.Results {
//	    for _, w := range res.Warnings {
//	        log.Printf("warning: %v", w)
//	    }
//	}
//
// # Error Handling
//
// Per-container failures never stop a run. A decryption failure, typically
// crypt.ErrUnsupportedEncoding, is a warning: the raw artifact is still
// written. Rejected scanner candidates are listed in Report.Rejected.
package dissect

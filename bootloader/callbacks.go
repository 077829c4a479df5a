package bootloader

import "time"

// Progress contains information about a flash operation.
// Passed to ProgressCallback during bulk operations.
type Progress struct {
	// Phase describes the current operation phase:
	//   "linking"   - Establishing the link and identifying the chip
	//   "reading"   - Reading flash segments
	//   "erasing"   - Erasing flash sectors
	//   "writing"   - Writing flash segments
	//   "verifying" - Checking a segment CRC
	//   "complete"  - Operation completed successfully
	Phase string

	// Address is the flash offset of the current segment
	Address uint32

	// CurrentSegment is the current segment (0-based)
	CurrentSegment int

	// TotalSegments is the total number of segments of the operation
	TotalSegments int

	// Percentage is the completion percentage (0.0 to 100.0)
	Percentage float64

	// Bytes is the number of bytes transferred so far
	Bytes int

	// ElapsedTime is the time elapsed since the operation started
	ElapsedTime time.Duration
}

// ProgressCallback is called during flash operations to report progress.
// Implementations should return quickly to avoid stalling the link.
//
// Example:
//
//	sess, err := bootloader.Connect(ctx, port,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - 0x%06X\n", p.Phase, p.Percentage, p.Address)
//	    }),
//	)
type ProgressCallback func(Progress)

// Progress phases.
const (
	PhaseLinking   = "linking"
	PhaseReading   = "reading"
	PhaseErasing   = "erasing"
	PhaseWriting   = "writing"
	PhaseVerifying = "verifying"
	PhaseComplete  = "complete"
)

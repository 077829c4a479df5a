// Package bootloader talks to the ROM bootloader of Beken BK7231 chips over a
// UART link.
//
// # Overview
//
// A Session owns one serial channel. Connect performs the link check
// handshake, identifies the chip and optionally switches to a faster baud
// rate. On top of single exchanges the session implements the bulk flash
// operations:
//   - Reading flash in 4K segments, each optionally checked against the chip CRC
//   - Writing flash segment by segment with erase, program and verify
//   - Erasing sector and block ranges
//   - Reading the chip ID, boot version and SPI flash JEDEC ID
//
// # Basic Usage
//
//	port, err := serial.Open("/dev/ttyUSB0", &serial.Mode{BaudRate: 115200})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	sess, err := bootloader.Connect(ctx, channel(port))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sess.Disconnect()
//
//	img, err := sess.ReadFlash(ctx, 0, 512, true)
//
// The chip must be in download mode. Power cycle it or enable
// WithHardwareReset when RTS is wired to CEN.
//
// # Progress Tracking
//
//	sess, err := bootloader.Connect(ctx, ch,
//	    bootloader.WithProgressCallback(func(p bootloader.Progress) {
//	        fmt.Printf("[%s] %.1f%% - segment %d/%d\n",
//	            p.Phase, p.Percentage, p.CurrentSegment, p.TotalSegments)
//	    }),
//	)
//
// The callback runs while the session is locked and must not call back into
// the session.
//
// # Logging
//
// Logging goes through github.com/pion/logging. Links log under the
// "bk7231-link" scope and flash operations under "bk7231-flash":
//
//	factory := logging.NewDefaultLoggerFactory()
//	factory.DefaultLogLevel = logging.LogLevelDebug
//	sess, err := bootloader.Connect(ctx, ch, bootloader.WithLoggerFactory(factory))
//
// # Error Handling
//
// Errors can be matched with errors.Is and errors.As:
//   - ErrHandshakeTimeout: nothing answered the link checks
//   - ErrMalformedResponse: bytes arrived but never formed a reply
//   - ErrUnknownChip: no profile matches the boot version or chip ID
//   - LinkError (ErrLinkFailure): retries exhausted or channel I/O failed
//   - IntegrityError (ErrIntegrity): echo or CRC mismatch
//   - SegmentVerificationError: a segment kept failing verification
//   - protocol.ProtocolError: the ROM returned an error status
//
// # Hardware Independence
//
// A Session only needs a Channel: an io.ReadWriter whose reads return 0, nil
// once the read timeout elapses. Channels may also implement Resetter,
// BaudRateSetter and io.Closer. The simulator package provides an in-memory
// chip for tests.
package bootloader

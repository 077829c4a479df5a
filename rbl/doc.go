// Package rbl decodes the RBL containers Beken firmware images are packaged
// in and finds them inside raw flash dumps.
//
// # RBL Header Format
//
// Every container starts with a 96-byte little-endian header followed
// directly by the payload:
//
//	offset  size  field
//	0       4     magic "RBL\0"
//	4       4     algorithm (encryption | compression << 8)
//	8       4     timestamp
//	12      16    partition name, null padded
//	28      24    version, null padded
//	52      24    serial number, null padded
//	76      4     payload CRC-32
//	80      4     firmware FNV-1a hash
//	84      4     raw firmware size
//	88      4     package (payload) size
//	92      4     CRC-32 of bytes 0..91
//
// # Usage
//
//	img, err := flashimg.Open("dump.bin")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer img.Close()
//
//	scanner := rbl.NewScanner(img.Bytes(),
//	    rbl.WithRejectHook(func(e *rbl.MalformedContainerError) {
//	        log.Printf("skipped: %v", e)
//	    }),
//	)
//	for c := range scanner.All() {
//	    fmt.Printf("0x%X %s size=0x%X crc ok=%v\n",
//	        c.Offset, c.Header.Name, len(c.Payload), c.VerifyPayload())
//	}
//
// Containers alias the scanned buffer; the buffer must stay valid and
// unmodified while they are in use.
package rbl

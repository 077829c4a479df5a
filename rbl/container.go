package rbl

import (
	"fmt"

	"github.com/moffa90/go-bk7231/checksum"
	"github.com/moffa90/go-bk7231/crypt"
)

// Container is an RBL header found in a flash image together with the
// payload that follows it. RawHeader and Payload alias the scanned image and
// must not be modified.
type Container struct {
	// Offset is the position of the header in the image
	Offset int

	// Header is the decoded header
	Header Header

	// RawHeader holds the HeaderSize header bytes as found in the image
	RawHeader []byte

	// Payload holds the Header.PackageSize bytes following the header
	Payload []byte
}

// PayloadOffset returns the image offset of the first payload byte.
func (c *Container) PayloadOffset() int {
	return c.Offset + HeaderSize
}

// End returns the image offset just past the payload.
func (c *Container) End() int {
	return c.PayloadOffset() + len(c.Payload)
}

// VerifyPayload reports whether the payload matches the CRC in the header.
func (c *Container) VerifyPayload() bool {
	return checksum.CRC32(c.Payload) == c.Header.PayloadCRC
}

// Bytes returns a new buffer holding the header followed by the payload, a
// standalone container file.
func (c *Container) Bytes() []byte {
	b := make([]byte, 0, len(c.RawHeader)+len(c.Payload))
	b = append(b, c.RawHeader...)
	return append(b, c.Payload...)
}

func (c *Container) String() string {
	return fmt.Sprintf("0x%X: %s %s [%s, size=0x%X]",
		c.Offset, c.Header.Name, c.Header.Version, c.Header.Algorithm, len(c.Payload))
}

// Build returns a container holding payload. The package size, payload CRC
// and header CRC are derived from payload; raw size and firmware hash default
// to those of payload when unset.
//
// Example:
//
//	b, err := rbl.Build(rbl.Header{Name: "app", Version: "1.0.0"}, firmware)
func Build(h Header, payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	h.PackageSize = uint32(len(payload))
	h.PayloadCRC = checksum.CRC32(payload)
	if h.RawSize == 0 {
		h.RawSize = uint32(len(payload))
	}
	if h.FirmwareHash == 0 {
		h.FirmwareHash = checksum.FNV1a32(payload)
	}
	if err := h.Validate(); err != nil {
		return nil, err
	}

	hdr, err := h.MarshalBinary()
	if err != nil {
		return nil, err
	}
	return append(hdr, payload...), nil
}

// NewHeader returns a header for an unencrypted, uncompressed partition.
func NewHeader(name, version string) Header {
	return Header{
		Algorithm: crypt.EncryptNone | crypt.CompressNone,
		Name:      name,
		Version:   version,
	}
}

package rbl

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/moffa90/go-bk7231/checksum"
	"github.com/moffa90/go-bk7231/crypt"
)

// Constants for the RBL header layout.
const (
	// HeaderSize is the size of an RBL header in bytes
	HeaderSize = 96

	// NameSize is the width of the null-padded partition name field
	NameSize = 16

	// VersionSize is the width of the null-padded version field
	VersionSize = 24

	// SerialNumberSize is the width of the null-padded serial number field
	SerialNumberSize = 24

	// headerCRCOffset is where the header CRC is stored; it covers every
	// byte before it
	headerCRCOffset = 92
)

// Field offsets inside the header.
const (
	offAlgorithm    = 4
	offTimestamp    = 8
	offName         = 12
	offVersion      = offName + NameSize
	offSerialNumber = offVersion + VersionSize
	offPayloadCRC   = offSerialNumber + SerialNumberSize
	offFirmwareHash = offPayloadCRC + 4
	offRawSize      = offFirmwareHash + 4
	offPackageSize  = offRawSize + 4
)

// Magic is the signature every RBL header starts with.
var Magic = []byte{'R', 'B', 'L', 0x00}

// Header is a decoded RBL header.
type Header struct {
	// Algorithm is the encryption and compression tag of the payload
	Algorithm crypt.Algorithm

	// Timestamp is the build time in seconds since the Unix epoch
	Timestamp uint32

	// Name is the partition name, e.g. "bootloader" or "app"
	Name string

	// Version is the firmware version string
	Version string

	// SerialNumber is the product serial string
	SerialNumber string

	// PayloadCRC is the CRC-32 of the payload as stored on flash
	PayloadCRC uint32

	// FirmwareHash is the FNV-1a hash of the firmware before packaging
	FirmwareHash uint32

	// RawSize is the firmware size before packaging
	RawSize uint32

	// PackageSize is the payload size following the header
	PackageSize uint32

	// HeaderCRC is the CRC-32 over the first 92 header bytes
	HeaderCRC uint32
}

// ParseHeader decodes the header at the start of b. Only the layout and the
// magic are checked; see Header.Validate and VerifyHeaderCRC.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("header too short: got %d bytes, need %d", len(b), HeaderSize)
	}
	if !bytes.Equal(b[:len(Magic)], Magic) {
		return Header{}, fmt.Errorf("bad magic % X", b[:len(Magic)])
	}

	le := binary.LittleEndian
	return Header{
		Algorithm:    crypt.Algorithm(le.Uint32(b[offAlgorithm:])),
		Timestamp:    le.Uint32(b[offTimestamp:]),
		Name:         cString(b[offName : offName+NameSize]),
		Version:      cString(b[offVersion : offVersion+VersionSize]),
		SerialNumber: cString(b[offSerialNumber : offSerialNumber+SerialNumberSize]),
		PayloadCRC:   le.Uint32(b[offPayloadCRC:]),
		FirmwareHash: le.Uint32(b[offFirmwareHash:]),
		RawSize:      le.Uint32(b[offRawSize:]),
		PackageSize:  le.Uint32(b[offPackageSize:]),
		HeaderCRC:    le.Uint32(b[headerCRCOffset:]),
	}, nil
}

// VerifyHeaderCRC reports whether the CRC stored in the header at the start
// of b matches its contents.
func VerifyHeaderCRC(b []byte) bool {
	if len(b) < HeaderSize {
		return false
	}
	return checksum.CRC32(b[:headerCRCOffset]) == binary.LittleEndian.Uint32(b[headerCRCOffset:])
}

// Validate checks the fields a scanner relies on.
func (h Header) Validate() error {
	if h.Name == "" {
		return errors.New("empty partition name")
	}
	for i := 0; i < len(h.Name); i++ {
		if c := h.Name[i]; c < 0x20 || c > 0x7E {
			return fmt.Errorf("non-printable partition name %q", h.Name)
		}
	}
	if h.PackageSize == 0 {
		return errors.New("zero package size")
	}
	return nil
}

// MarshalBinary encodes the header. HeaderCRC is recomputed from the encoded
// fields, so the returned bytes always carry a valid header CRC.
func (h Header) MarshalBinary() ([]byte, error) {
	fields := []struct {
		name  string
		value string
		size  int
	}{
		{"name", h.Name, NameSize},
		{"version", h.Version, VersionSize},
		{"serial number", h.SerialNumber, SerialNumberSize},
	}
	for _, f := range fields {
		// one byte is kept for the terminator
		if len(f.value) >= f.size {
			return nil, fmt.Errorf("%s %q exceeds %d bytes", f.name, f.value, f.size-1)
		}
	}

	b := make([]byte, HeaderSize)
	le := binary.LittleEndian
	copy(b, Magic)
	le.PutUint32(b[offAlgorithm:], uint32(h.Algorithm))
	le.PutUint32(b[offTimestamp:], h.Timestamp)
	copy(b[offName:], h.Name)
	copy(b[offVersion:], h.Version)
	copy(b[offSerialNumber:], h.SerialNumber)
	le.PutUint32(b[offPayloadCRC:], h.PayloadCRC)
	le.PutUint32(b[offFirmwareHash:], h.FirmwareHash)
	le.PutUint32(b[offRawSize:], h.RawSize)
	le.PutUint32(b[offPackageSize:], h.PackageSize)
	le.PutUint32(b[headerCRCOffset:], checksum.CRC32(b[:headerCRCOffset]))
	return b, nil
}

// UnmarshalBinary decodes a header and checks its CRC.
func (h *Header) UnmarshalBinary(b []byte) error {
	parsed, err := ParseHeader(b)
	if err != nil {
		return err
	}
	if !VerifyHeaderCRC(b) {
		return fmt.Errorf("header crc mismatch: stored 0x%08X, computed 0x%08X",
			parsed.HeaderCRC, checksum.CRC32(b[:headerCRCOffset]))
	}
	*h = parsed
	return nil
}

// cString returns the bytes of b up to the first NUL.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

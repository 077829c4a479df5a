package crypt

import (
	"fmt"
	"strings"
)

// Algorithm is the encoding tag stored in an RBL header. The low byte selects
// the encryption mode and the second byte the compression mode.
type Algorithm uint32

// Encryption modes.
const (
	EncryptNone   Algorithm = 0x00
	EncryptXOR    Algorithm = 0x01
	EncryptAES256 Algorithm = 0x02

	encryptMask Algorithm = 0x00FF
)

// Compression modes.
const (
	CompressNone    Algorithm = 0x0000
	CompressGzip    Algorithm = 0x0100
	CompressQuickLZ Algorithm = 0x0200
	CompressFastLZ  Algorithm = 0x0300

	compressMask Algorithm = 0xFF00
)

// Encryption returns the encryption part of the tag.
func (a Algorithm) Encryption() Algorithm {
	return a & encryptMask
}

// Compression returns the compression part of the tag.
func (a Algorithm) Compression() Algorithm {
	return a & compressMask
}

// Known reports whether every bit of the tag maps to a known mode.
func (a Algorithm) Known() bool {
	if a&^(encryptMask|compressMask) != 0 {
		return false
	}
	switch a.Encryption() {
	case EncryptNone, EncryptXOR, EncryptAES256:
	default:
		return false
	}
	switch a.Compression() {
	case CompressNone, CompressGzip, CompressQuickLZ, CompressFastLZ:
	default:
		return false
	}
	return true
}

func (a Algorithm) String() string {
	if !a.Known() {
		return fmt.Sprintf("UNKNOWN(0x%08X)", uint32(a))
	}

	var parts []string
	switch a.Encryption() {
	case EncryptNone:
		parts = append(parts, "NONE")
	case EncryptXOR:
		parts = append(parts, "XOR")
	case EncryptAES256:
		parts = append(parts, "AES256")
	}
	switch a.Compression() {
	case CompressGzip:
		parts = append(parts, "GZIP")
	case CompressQuickLZ:
		parts = append(parts, "QUICKLZ")
	case CompressFastLZ:
		parts = append(parts, "FASTLZ")
	}
	return strings.Join(parts, "|")
}

package crypt

import (
	"bytes"
	"encoding/binary"
	"math/bits"
)

// CodePartitionCoefficients are the cipher coefficients used by Beken SDKs for
// the "app" partition.
var CodePartitionCoefficients = [4]uint32{0x510FB093, 0xA3CBEADC, 0x5993A17E, 0xC7ADEB03}

// PadBlockSize is the alignment code partitions are padded to before
// decryption.
const PadBlockSize = 32

// CodeCipher is a synthetic placeholder for the Beken code partition
// obfuscation. Every 32-bit word is XORed with a pseudo-random word derived
// from the coefficients and the word's mapped address, so Encrypt and Decrypt
// are the same operation.
//
// The keystream is not the production Beken algorithm. It round-trips its own
// output but does not recover plain text from dumps of real devices. Register
// a different Transform for "app" to decode those.
type CodeCipher struct {
	coeff [4]uint32
}

// NewCodeCipher creates a cipher keyed by the given coefficients.
func NewCodeCipher(coefficients [4]uint32) *CodeCipher {
	return &CodeCipher{coeff: coefficients}
}

// Pad returns data padded with 0xFF to a multiple of PadBlockSize.
func (c *CodeCipher) Pad(data []byte) []byte {
	rem := len(data) % PadBlockSize
	out := make([]byte, len(data), len(data)+PadBlockSize)
	copy(out, data)
	if rem == 0 {
		return out
	}
	return append(out, bytes.Repeat([]byte{0xFF}, PadBlockSize-rem)...)
}

// Decrypt returns the plain text of data located at the mapped address.
func (c *CodeCipher) Decrypt(data []byte, address uint32) []byte {
	return c.apply(data, address)
}

// Encrypt is the inverse of Decrypt.
func (c *CodeCipher) Encrypt(data []byte, address uint32) []byte {
	return c.apply(data, address)
}

func (c *CodeCipher) apply(data []byte, address uint32) []byte {
	out := make([]byte, len(data))
	var word [4]byte

	for i := 0; i < len(data); i += 4 {
		binary.LittleEndian.PutUint32(word[:], c.keystream(address+uint32(i)))
		end := min(i+4, len(data))
		for j := i; j < end; j++ {
			out[j] = data[j] ^ word[j-i]
		}
	}

	return out
}

// keystream derives the placeholder XOR word for one aligned address.
func (c *CodeCipher) keystream(addr uint32) uint32 {
	addr &^= 3

	pn15 := bits.RotateLeft32(addr^c.coeff[0], int(c.coeff[1]&0x1F))
	pn16 := (addr>>2 | 1) * (c.coeff[2] | 1)
	pn32 := bits.RotateLeft32(addr+c.coeff[3], 13) ^ (addr >> 5)

	k := pn15 ^ pn16 ^ pn32
	k ^= k >> 16
	k *= 0x7FEB352D
	k ^= k >> 15
	return k
}

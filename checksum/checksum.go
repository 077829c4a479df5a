// Package checksum implements the integrity functions used by the BK7231
// bootloader and by the flash images it produces.
//
// CRC32 is the checksum reported by the ROM CheckCRC command and stored in RBL
// headers. CRC16 protects every 32-byte block of a code partition on flash.
package checksum

import "hash/crc32"

// Checksum algorithm constants.
const (
	// CRC16Polynomial is the CRC-16-CCITT polynomial (0x1021)
	CRC16Polynomial = 0x1021

	// CRC16InitialValue is the CRC-16 initial value
	CRC16InitialValue = 0xFFFF

	// CRC16HighBitMask is the high bit mask for CRC-16 calculations
	CRC16HighBitMask = 0x8000

	// BitsPerByte is the number of bits per byte
	BitsPerByte = 8

	// BlockSize is the number of data bytes protected by one CRC-16 on flash
	BlockSize = 32

	// BlockCRCSize is the size of the CRC-16 trailing each flash block
	BlockCRCSize = 2

	fnvOffset32 = 0x811C9DC5
	fnvPrime32  = 0x01000193
)

// CRC32 computes the IEEE CRC-32 of data, the same value the BK7231 ROM
// returns (after inversion) for a CheckCRC command over the same range.
func CRC32(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// UpdateCRC32 continues a running CRC-32 with more data.
func UpdateCRC32(crc uint32, data []byte) uint32 {
	return crc32.Update(crc, crc32.IEEETable, data)
}

// CRC16 computes CRC-16-CCITT (FALSE variant).
//
// CRC-16-CCITT parameters:
//   - Polynomial: CRC16Polynomial
//   - Initial value: CRC16InitialValue
//   - No final XOR
func CRC16(data []byte) uint16 {
	crc := uint16(CRC16InitialValue)

	for _, b := range data {
		crc ^= uint16(b) << BitsPerByte
		for i := 0; i < BitsPerByte; i++ {
			if crc&CRC16HighBitMask != 0 {
				crc = (crc << 1) ^ CRC16Polynomial
			} else {
				crc = crc << 1
			}
		}
	}

	return crc
}

// VerifyBlock reports whether crc (2 bytes, big-endian) is the CRC-16 of block.
func VerifyBlock(block, crc []byte) bool {
	if len(block) != BlockSize || len(crc) != BlockCRCSize {
		return false
	}
	return CRC16(block) == uint16(crc[0])<<8|uint16(crc[1])
}

// AppendBlockCRC appends the big-endian CRC-16 of block to dst.
func AppendBlockCRC(dst, block []byte) []byte {
	crc := CRC16(block)
	return append(dst, byte(crc>>8), byte(crc))
}

// FNV1a32 computes the 32-bit FNV-1a hash stored in RBL headers.
func FNV1a32(data []byte) uint32 {
	h := uint32(fnvOffset32)
	for _, b := range data {
		h ^= uint32(b)
		h *= fnvPrime32
	}
	return h
}

package protocol

import (
	"fmt"
	"strings"
)

// ChipProfile describes the capabilities and quirks of one BK7231 variant.
// Profiles are immutable values selected once per session.
type ChipProfile struct {
	// Name is the variant name, e.g. "BK7231N"
	Name string

	// ChipID is the value of the chip ID register, or 0 when the variant is
	// identified by its boot version string only
	ChipID uint32

	// BootVersionPrefix is the prefix of the ReadBootVersion reply, or empty
	// when the ROM does not implement the command
	BootVersionPrefix string

	// FlashSize is the size of the internal flash in bytes
	FlashSize uint32

	// SegmentSize is the flash read/write granularity
	SegmentSize int

	// ChecksumUnreliable is set when the CRC reported by the ROM does not match
	// the flash content; verification is skipped for such chips
	ChecksumUnreliable bool

	// CRCEndInclusive is set when CheckCRC treats the end address as inclusive
	CRCEndInclusive bool

	// Opcodes is the command opcode table
	Opcodes Opcodes

	// FlashAddress translates a flash offset into the address sent on the wire
	FlashAddress func(uint32) uint32
}

// MirrorFlashAddress maps a flash offset into the 0x200000 window the ROM uses
// for flash commands.
func MirrorFlashAddress(addr uint32) uint32 {
	return addr&0x1FFFFF | 0x200000
}

// WireAddress returns the wire address of a flash offset.
func (p ChipProfile) WireAddress(addr uint32) uint32 {
	if p.FlashAddress == nil {
		return addr
	}
	return p.FlashAddress(addr)
}

// CRCRange returns the CheckCRC arguments covering length bytes at offset
// start. It returns an error for an empty range.
func (p ChipProfile) CRCRange(start, length uint32) (uint32, uint32, error) {
	s := p.WireAddress(start)
	e := p.WireAddress(start + length)
	// an end offset at the top of the flash wraps to the window base
	if p.FlashAddress != nil && e == 0x200000 {
		e += 0x200000
	}
	if s == e {
		return 0, 0, fmt.Errorf("empty crc range at 0x%06X", start)
	}
	if p.CRCEndInclusive {
		e--
	}
	return s, e, nil
}

// MatchBootVersion reports whether a boot version string belongs to the
// variant.
func (p ChipProfile) MatchBootVersion(version string) bool {
	return p.BootVersionPrefix != "" && strings.HasPrefix(version, p.BootVersionPrefix)
}

func (p ChipProfile) String() string {
	return p.Name
}

// Known chip variants.
var (
	BK7231T = ChipProfile{
		Name:              "BK7231T",
		ChipID:            0x7231A,
		BootVersionPrefix: "BK7231T",
		FlashSize:         2 * 1024 * 1024,
		SegmentSize:       SegmentSize,
		Opcodes:           DefaultOpcodes,
		FlashAddress:      MirrorFlashAddress,
	}

	BK7231U = ChipProfile{
		Name:              "BK7231U",
		BootVersionPrefix: "BK7231U",
		FlashSize:         2 * 1024 * 1024,
		SegmentSize:       SegmentSize,
		Opcodes:           DefaultOpcodes,
		FlashAddress:      MirrorFlashAddress,
	}

	BK7231N = ChipProfile{
		Name:               "BK7231N",
		ChipID:             0x7231C,
		FlashSize:          2 * 1024 * 1024,
		SegmentSize:        SegmentSize,
		ChecksumUnreliable: true,
		CRCEndInclusive:    true,
		Opcodes:            DefaultOpcodes,
		FlashAddress:       MirrorFlashAddress,
	}
)

// Profiles returns the known variants in identification priority order.
func Profiles() []ChipProfile {
	return []ChipProfile{BK7231N, BK7231T, BK7231U}
}

// ProfileByName returns the variant with the given name, ignoring case.
func ProfileByName(name string) (ChipProfile, bool) {
	for _, p := range Profiles() {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ChipProfile{}, false
}

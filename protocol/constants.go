package protocol

// Frame markers of the BK7231 ROM bootloader UART protocol.
var (
	// CommandPreamble starts every command frame
	CommandPreamble = []byte{0x01, 0xE0, 0xFC}

	// CommandLongMarker follows the preamble of a long command frame
	CommandLongMarker = []byte{0xFF, 0xF4}

	// ResponsePreamble starts every response frame
	ResponsePreamble = []byte{0x04, 0x0E}

	// ResponseDataMarker follows the response length byte
	ResponseDataMarker = []byte{0x01, 0xE0, 0xFC}
)

const (
	// ResponseLongMarker follows the data marker of a long response frame
	ResponseLongMarker = 0xF4

	// LongLength is the short length value announcing a long frame
	LongLength = 0xFF

	// ShortResponseOverhead is the part of a short response length byte that
	// is not payload: data marker (3) + opcode (1)
	ShortResponseOverhead = 4

	// MaxResyncBytes bounds how many bytes the decoder discards while hunting
	// for a response preamble
	MaxResyncBytes = 64 * 1024
)

// Command opcodes.
const (
	// CmdLinkCheck checks whether the ROM bootloader is listening
	CmdLinkCheck = 0x00

	// RespLinkCheck is the opcode of the link check reply
	RespLinkCheck = 0x01

	// CmdReadReg reads a 32-bit register
	CmdReadReg = 0x03

	// CmdFlashWrite4K programs one 4K flash sector (long frame)
	CmdFlashWrite4K = 0x07

	// CmdFlashRead4K reads one 4K flash sector (long frame)
	CmdFlashRead4K = 0x09

	// CmdReboot resets the chip; it is never answered
	CmdReboot = 0x0E

	// CmdSetBaudRate switches the UART baud rate (short frame)
	CmdSetBaudRate = 0x0F

	// CmdCheckCRC computes the CRC-32 of a flash range
	CmdCheckCRC = 0x10

	// CmdReadBootVersion reads the bootloader version string
	CmdReadBootVersion = 0x11

	// CmdFlashErase erases a flash sector or block (long frame)
	CmdFlashErase = 0x0F

	// CmdFlashGetMID reads the SPI flash JEDEC ID (long frame)
	CmdFlashGetMID = 0x0E
)

// StatusSuccess is the status byte leading a successful flash command
// response. The ROM does not document other values.
const StatusSuccess = 0x00

// EraseSize selects the flash erase granularity.
type EraseSize byte

// Erase sizes understood by CmdFlashErase.
const (
	Erase4K  EraseSize = 0x20
	Erase64K EraseSize = 0xD8
)

// Bytes returns the number of bytes erased.
func (s EraseSize) Bytes() int {
	switch s {
	case Erase4K:
		return 4 * 1024
	case Erase64K:
		return 64 * 1024
	default:
		return 0
	}
}

// Miscellaneous protocol values.
const (
	// SegmentSize is the flash read/write granularity
	SegmentSize = 4096

	// RebootMagic is the argument of CmdReboot
	RebootMagic = 0xA5

	// RegisterChipID is the SCTRL_CHIP_ID register address
	RegisterChipID = 0x800000

	// FlashMIDCommand is the SPI opcode used to read the JEDEC ID
	FlashMIDCommand = 0x9F

	// BootVersionUnsupported is the single byte answer of a ROM that does not
	// implement CmdReadBootVersion
	BootVersionUnsupported = 0x07

	// DefaultBaudRate is the baud rate the ROM listens on after reset
	DefaultBaudRate = 115200

	// BaudRateSwitchDelayMs is the delay requested from the chip before it
	// switches to a new baud rate
	BaudRateSwitchDelayMs = 20

	// CRCBytesPerSecond approximates how fast the ROM computes flash CRCs
	CRCBytesPerSecond = 400000
)

// Response payload sizes.
const (
	LinkCheckResponseSize    = 1
	ReadRegResponseSize      = 8
	CheckCRCResponseSize     = 4
	FlashRead4KResponseSize  = 1 + 4 + SegmentSize
	FlashWrite4KResponseSize = 1 + 4
	FlashEraseResponseSize   = 1 + 1 + 4
	FlashMIDResponseSize     = 1 + 4
	SetBaudRateResponseSize  = 5
)

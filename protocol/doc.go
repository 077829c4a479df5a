// Package protocol implements the BK7231 ROM bootloader UART protocol.
//
// This package provides command values, a frame encoder, a streaming response
// decoder and the chip profiles of the supported BK7231 variants. It performs
// no I/O scheduling of its own; sessions, retries and timeouts live in the
// bootloader package.
//
// # Protocol Overview
//
// All multi-byte fields are little-endian.
//
//	Command:  [01 E0 FC][LEN][OPCODE][PAYLOAD...]
//	          [01 E0 FC][FF F4][LEN_L][LEN_H][OPCODE][PAYLOAD...]
//	Response: [04 0E][LEN][01 E0 FC][OPCODE][PAYLOAD...]
//	          [04 0E][FF][01 E0 FC][F4][LEN_L][LEN_H][OPCODE][PAYLOAD...]
//
// Where:
//   - LEN counts the opcode and payload of a command
//   - a short response LEN also counts the three data marker bytes
//   - the long form is used by flash commands and by any frame of 255 bytes or more
//
// Responses carry no checksum. Integrity is established by the echo rule: the
// reply to a flash command repeats the address (and erase size) of the request,
// and flash content is checked with the CheckCRC command.
//
// # Commands
//
// Commands are built from an opcode table:
//
//	cmd := protocol.DefaultOpcodes.BuildFlashRead4KCmd(protocol.MirrorFlashAddress(0x11000))
//	frame := cmd.Encode()
//
// # Responses
//
// ReadResponse decodes the reply to a command from a byte stream, skipping
// unrelated frames and garbage:
//
//	resp, err := protocol.ReadResponse(port, cmd)
//	if err == nil {
//	    err = cmd.Validate(resp)
//	}
//	sector, err := protocol.ParseFlashRead4KResponse(resp.Payload)
//
// A Read returning no data is treated as an elapsed timeout (ErrTimeout), the
// behaviour of serial ports with a read timeout configured.
//
// # Chip Profiles
//
// ChipProfile values capture the differences between variants: the chip ID,
// boot version prefix, CheckCRC quirks and whether the ROM CRC can be trusted.
// Profiles returns them in identification order.
package protocol

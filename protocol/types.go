package protocol

import "fmt"

// Response is a decoded response frame.
type Response struct {
	// Opcode is the response opcode
	Opcode byte

	// Long is true for frames using the long length form
	Long bool

	// Payload is the data following the opcode
	Payload []byte
}

// EchoSpec describes which response bytes must repeat the request payload:
// Payload[Offset:Offset+Length] of the response must equal the first Length
// bytes of the command payload.
type EchoSpec struct {
	Offset int
	Length int
}

// FlashID is the JEDEC identification of the SPI flash.
// Returned by the FlashGetMID command.
type FlashID struct {
	// Manufacturer is the JEDEC manufacturer ID
	Manufacturer byte

	// Device is the memory type byte
	Device byte

	// SizeCode is the capacity byte; the capacity is 1<<SizeCode bytes
	SizeCode byte
}

// Size returns the flash capacity in bytes.
func (id FlashID) Size() uint32 {
	if id.SizeCode >= 32 {
		return 0
	}
	return 1 << id.SizeCode
}

func (id FlashID) String() string {
	return fmt.Sprintf("%02X%02X%02X", id.Manufacturer, id.Device, id.SizeCode)
}

// FlashSector is the decoded reply of a FlashRead4K command.
type FlashSector struct {
	// Status is the device status byte
	Status byte

	// Address is the echoed wire address
	Address uint32

	// Data is the sector content
	Data []byte
}

package protocol

import (
	"encoding/binary"
	"fmt"
)

// Command is a single request to the bootloader. Commands are values built
// fresh for every exchange and never modified after construction.
type Command struct {
	// Name is used in error messages and logs
	Name string

	// Opcode is the command opcode
	Opcode byte

	// Payload is the data following the opcode
	Payload []byte

	// Long forces the long length form; the response uses the same form
	Long bool

	// ResponseOpcode is the opcode expected in the reply
	ResponseOpcode byte

	// NoResponse marks fire-and-forget commands
	NoResponse bool

	// HasStatus marks responses whose first payload byte is a status code
	HasStatus bool

	// MinResponse is the minimum response payload length
	MinResponse int

	// Echo describes the request bytes repeated in the response, if any
	Echo *EchoSpec
}

// Encode returns the command frame.
//
// Frame structure:
//
//	short: [01 E0 FC][LEN][OPCODE][PAYLOAD...]
//	long:  [01 E0 FC][FF F4][LEN_L][LEN_H][OPCODE][PAYLOAD...]
//
// LEN counts the opcode and payload. Payloads of 254 bytes and more always use
// the long form.
func (c Command) Encode() []byte {
	size := len(c.Payload) + 1
	frame := make([]byte, 0, len(CommandPreamble)+len(CommandLongMarker)+2+size)

	frame = append(frame, CommandPreamble...)
	if c.Long || size >= LongLength {
		frame = append(frame, CommandLongMarker...)
		frame = binary.LittleEndian.AppendUint16(frame, uint16(size))
	} else {
		frame = append(frame, byte(size))
	}
	frame = append(frame, c.Opcode)
	frame = append(frame, c.Payload...)

	return frame
}

// Validate checks a decoded response against the command: payload length,
// echoed request bytes and status byte.
func (c Command) Validate(resp Response) error {
	if len(resp.Payload) < c.MinResponse {
		return fmt.Errorf("%s: %w: got %d bytes, expected at least %d",
			c.Name, ErrShortPayload, len(resp.Payload), c.MinResponse)
	}

	if c.Echo != nil {
		end := c.Echo.Offset + c.Echo.Length
		if end > len(resp.Payload) || c.Echo.Length > len(c.Payload) {
			return fmt.Errorf("%s: %w: echo range [%d:%d] outside payload", c.Name, ErrEchoMismatch, c.Echo.Offset, end)
		}
		got := resp.Payload[c.Echo.Offset:end]
		want := c.Payload[:c.Echo.Length]
		for i := range want {
			if got[i] != want[i] {
				return fmt.Errorf("%s: %w: got % X, expected % X", c.Name, ErrEchoMismatch, got, want)
			}
		}
	}

	if c.HasStatus && resp.Payload[0] != StatusSuccess {
		return &ProtocolError{Operation: c.Name, StatusCode: resp.Payload[0]}
	}

	return nil
}

// Opcodes is the command opcode table of a chip variant. The Build methods
// construct command values using the table's opcodes.
type Opcodes struct {
	LinkCheck       byte
	LinkCheckReply  byte
	ReadReg         byte
	FlashWrite4K    byte
	FlashRead4K     byte
	FlashErase      byte
	Reboot          byte
	SetBaudRate     byte
	CheckCRC        byte
	ReadBootVersion byte
	FlashGetMID     byte
}

// DefaultOpcodes is the opcode table shared by the BK7231 ROMs.
var DefaultOpcodes = Opcodes{
	LinkCheck:       CmdLinkCheck,
	LinkCheckReply:  RespLinkCheck,
	ReadReg:         CmdReadReg,
	FlashWrite4K:    CmdFlashWrite4K,
	FlashRead4K:     CmdFlashRead4K,
	FlashErase:      CmdFlashErase,
	Reboot:          CmdReboot,
	SetBaudRate:     CmdSetBaudRate,
	CheckCRC:        CmdCheckCRC,
	ReadBootVersion: CmdReadBootVersion,
	FlashGetMID:     CmdFlashGetMID,
}

// BuildLinkCheckCmd constructs a LinkCheck command.
//
// Frame structure:
//
//	[01 E0 FC][01][00]
func (o Opcodes) BuildLinkCheckCmd() Command {
	return Command{
		Name:           "link check",
		Opcode:         o.LinkCheck,
		ResponseOpcode: o.LinkCheckReply,
		MinResponse:    LinkCheckResponseSize,
	}
}

// BuildReadRegCmd constructs a register read command.
// The response repeats the address followed by the register value.
func (o Opcodes) BuildReadRegCmd(address uint32) Command {
	return Command{
		Name:           "read register",
		Opcode:         o.ReadReg,
		Payload:        binary.LittleEndian.AppendUint32(nil, address),
		ResponseOpcode: o.ReadReg,
		MinResponse:    ReadRegResponseSize,
		Echo:           &EchoSpec{Offset: 0, Length: 4},
	}
}

// BuildFlashRead4KCmd constructs a FlashRead4K command for a wire address.
//
// Frame structure:
//
//	[01 E0 FC][FF F4][05 00][09][ADDR(4)]
//
// The response payload is [STATUS][ADDR(4)][DATA(4096)].
func (o Opcodes) BuildFlashRead4KCmd(address uint32) Command {
	return Command{
		Name:           "flash read 4k",
		Opcode:         o.FlashRead4K,
		Payload:        binary.LittleEndian.AppendUint32(nil, address),
		Long:           true,
		ResponseOpcode: o.FlashRead4K,
		HasStatus:      true,
		MinResponse:    FlashRead4KResponseSize,
		Echo:           &EchoSpec{Offset: 1, Length: 4},
	}
}

// BuildFlashWrite4KCmd constructs a FlashWrite4K command.
// The data must be exactly one segment; callers pad short data with 0xFF.
//
// Frame structure:
//
//	[01 E0 FC][FF F4][05 10][07][ADDR(4)][DATA(4096)]
func (o Opcodes) BuildFlashWrite4KCmd(address uint32, data []byte) (Command, error) {
	if len(data) != SegmentSize {
		return Command{}, fmt.Errorf("data must be exactly %d bytes, got %d", SegmentSize, len(data))
	}

	payload := make([]byte, 0, 4+SegmentSize)
	payload = binary.LittleEndian.AppendUint32(payload, address)
	payload = append(payload, data...)

	return Command{
		Name:           "flash write 4k",
		Opcode:         o.FlashWrite4K,
		Payload:        payload,
		Long:           true,
		ResponseOpcode: o.FlashWrite4K,
		HasStatus:      true,
		MinResponse:    FlashWrite4KResponseSize,
		Echo:           &EchoSpec{Offset: 1, Length: 4},
	}, nil
}

// BuildFlashEraseCmd constructs a FlashErase command.
//
// Frame structure:
//
//	[01 E0 FC][FF F4][06 00][0F][SIZE][ADDR(4)]
func (o Opcodes) BuildFlashEraseCmd(size EraseSize, address uint32) (Command, error) {
	if size.Bytes() == 0 {
		return Command{}, fmt.Errorf("invalid erase size 0x%02X", byte(size))
	}

	payload := make([]byte, 0, 5)
	payload = append(payload, byte(size))
	payload = binary.LittleEndian.AppendUint32(payload, address)

	return Command{
		Name:           "flash erase",
		Opcode:         o.FlashErase,
		Payload:        payload,
		Long:           true,
		ResponseOpcode: o.FlashErase,
		HasStatus:      true,
		MinResponse:    FlashEraseResponseSize,
		Echo:           &EchoSpec{Offset: 1, Length: 5},
	}, nil
}

// BuildRebootCmd constructs a Reboot command. The chip resets without
// answering.
func (o Opcodes) BuildRebootCmd() Command {
	return Command{
		Name:       "reboot",
		Opcode:     o.Reboot,
		Payload:    []byte{RebootMagic},
		NoResponse: true,
	}
}

// BuildSetBaudRateCmd constructs a SetBaudRate command. The chip waits
// delayMs before switching and then answers at the new rate, echoing the
// request.
func (o Opcodes) BuildSetBaudRateCmd(baudRate uint32, delayMs byte) Command {
	payload := make([]byte, 0, 5)
	payload = binary.LittleEndian.AppendUint32(payload, baudRate)
	payload = append(payload, delayMs)

	return Command{
		Name:           "set baud rate",
		Opcode:         o.SetBaudRate,
		Payload:        payload,
		ResponseOpcode: o.SetBaudRate,
		MinResponse:    SetBaudRateResponseSize,
		Echo:           &EchoSpec{Offset: 0, Length: 5},
	}
}

// BuildCheckCRCCmd constructs a CheckCRC command over wire addresses
// [start, end). Profiles with an inclusive end adjust end before building.
func (o Opcodes) BuildCheckCRCCmd(start, end uint32) Command {
	payload := make([]byte, 0, 8)
	payload = binary.LittleEndian.AppendUint32(payload, start)
	payload = binary.LittleEndian.AppendUint32(payload, end)

	return Command{
		Name:           "check crc",
		Opcode:         o.CheckCRC,
		Payload:        payload,
		ResponseOpcode: o.CheckCRC,
		MinResponse:    CheckCRCResponseSize,
	}
}

// BuildReadBootVersionCmd constructs a ReadBootVersion command.
func (o Opcodes) BuildReadBootVersionCmd() Command {
	return Command{
		Name:           "read boot version",
		Opcode:         o.ReadBootVersion,
		ResponseOpcode: o.ReadBootVersion,
	}
}

// BuildFlashGetMIDCmd constructs a FlashGetMID command.
func (o Opcodes) BuildFlashGetMIDCmd() Command {
	return Command{
		Name:           "flash get mid",
		Opcode:         o.FlashGetMID,
		Payload:        binary.LittleEndian.AppendUint32(nil, FlashMIDCommand),
		Long:           true,
		ResponseOpcode: o.FlashGetMID,
		HasStatus:      true,
		MinResponse:    FlashMIDResponseSize,
	}
}

// DecodeCommand parses one command frame from the start of buf. It returns
// the opcode, payload, long flag and the number of bytes consumed. A nil error
// with n == 0 means buf does not yet hold a complete frame.
func DecodeCommand(buf []byte) (opcode byte, payload []byte, long bool, n int, err error) {
	pre := len(CommandPreamble)
	if len(buf) < pre+1 {
		return 0, nil, false, 0, nil
	}
	for i := range CommandPreamble {
		if buf[i] != CommandPreamble[i] {
			return 0, nil, false, 0, fmt.Errorf("invalid command preamble: % X", buf[:pre])
		}
	}

	var size, hdr int
	if buf[pre] == CommandLongMarker[0] {
		if len(buf) < pre+4 {
			return 0, nil, false, 0, nil
		}
		if buf[pre+1] != CommandLongMarker[1] {
			return 0, nil, false, 0, fmt.Errorf("invalid long command marker: % X", buf[pre:pre+2])
		}
		size = int(binary.LittleEndian.Uint16(buf[pre+2 : pre+4]))
		hdr = pre + 4
		long = true
	} else {
		size = int(buf[pre])
		hdr = pre + 1
	}

	if size == 0 {
		return 0, nil, false, 0, fmt.Errorf("command length is zero")
	}
	if len(buf) < hdr+size {
		return 0, nil, false, 0, nil
	}

	opcode = buf[hdr]
	payload = make([]byte, size-1)
	copy(payload, buf[hdr+1:hdr+size])

	return opcode, payload, long, hdr + size, nil
}

package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// ReadResponse reads the response to cmd from r.
//
// Response frame structure:
//
//	short: [04 0E][LEN][01 E0 FC][OPCODE][PAYLOAD...]            payload = LEN-4
//	long:  [04 0E][FF][01 E0 FC][F4][LEN_L][LEN_H][OPCODE][PAYLOAD...] payload = LEN-1
//
// Frames whose length form or opcode do not match cmd are skipped and the
// reader hunts for the next preamble. A Read returning no data is treated as an
// elapsed read timeout and yields ErrTimeout, also when part of a frame has
// already been consumed. Discarding more than MaxResyncBytes while hunting
// yields ErrFrameSync.
func ReadResponse(r io.Reader, cmd Command) (Response, error) {
	fr := &frameReader{r: r}

	for {
		if err := fr.hunt(ResponsePreamble); err != nil {
			return Response{}, err
		}

		size, err := fr.readByte()
		if err != nil {
			return Response{}, err
		}
		long := size == LongLength
		if long != cmd.Long {
			fr.unread([]byte{size})
			continue
		}

		marker, err := fr.readN(len(ResponseDataMarker))
		if err != nil {
			return Response{}, err
		}
		if !bytes.Equal(marker, ResponseDataMarker) {
			// rescan from the length byte, it may start the real frame
			fr.unread(append([]byte{size}, marker...))
			continue
		}

		var (
			opcode byte
			n      int
		)
		if long {
			b, err := fr.readByte()
			if err != nil {
				return Response{}, err
			}
			if b != ResponseLongMarker {
				fr.unread([]byte{b})
				continue
			}
			hdr, err := fr.readN(3)
			if err != nil {
				return Response{}, err
			}
			n = int(binary.LittleEndian.Uint16(hdr[0:2])) - 1
			opcode = hdr[2]
		} else {
			opcode, err = fr.readByte()
			if err != nil {
				return Response{}, err
			}
			n = int(size) - ShortResponseOverhead
		}

		if n < 0 || opcode != cmd.ResponseOpcode {
			continue
		}

		payload, err := fr.readN(n)
		if err != nil {
			return Response{}, err
		}

		return Response{Opcode: opcode, Long: long, Payload: payload}, nil
	}
}

// frameReader reads from a channel whose Read returns 0, nil when the read
// timeout elapses.
type frameReader struct {
	r         io.Reader
	pending   []byte
	discarded int
	one       [1]byte
}

// unread pushes bytes back so that the next reads return them first.
func (fr *frameReader) unread(b []byte) {
	fr.pending = append(append([]byte(nil), b...), fr.pending...)
}

func (fr *frameReader) readByte() (byte, error) {
	if len(fr.pending) > 0 {
		b := fr.pending[0]
		fr.pending = fr.pending[1:]
		return b, nil
	}
	n, err := fr.r.Read(fr.one[:])
	if n == 1 {
		return fr.one[0], nil
	}
	if err != nil {
		return 0, err
	}
	return 0, ErrTimeout
}

func (fr *frameReader) readN(n int) ([]byte, error) {
	buf := make([]byte, n)
	got := copy(buf, fr.pending)
	fr.pending = fr.pending[got:]
	for got < n {
		m, err := fr.r.Read(buf[got:])
		got += m
		if got == n {
			break
		}
		if err != nil {
			return nil, err
		}
		if m == 0 {
			return nil, ErrTimeout
		}
	}
	return buf, nil
}

// hunt consumes bytes until the last len(marker) bytes read equal marker.
func (fr *frameReader) hunt(marker []byte) error {
	window := make([]byte, 0, len(marker))
	for {
		b, err := fr.readByte()
		if err != nil {
			return err
		}
		if len(window) == len(marker) {
			copy(window, window[1:])
			window = window[:len(window)-1]
			fr.discarded++
			if fr.discarded > MaxResyncBytes {
				return ErrFrameSync
			}
		}
		window = append(window, b)
		if bytes.Equal(window, marker) {
			return nil
		}
	}
}

// EncodeResponse builds a response frame as the ROM bootloader sends it.
// Payloads too large for the short form are always encoded long.
func EncodeResponse(opcode byte, payload []byte, long bool) []byte {
	if !long && len(payload)+ShortResponseOverhead >= LongLength {
		long = true
	}

	frame := make([]byte, 0, len(ResponsePreamble)+1+len(ResponseDataMarker)+4+len(payload))
	frame = append(frame, ResponsePreamble...)
	if long {
		frame = append(frame, LongLength)
		frame = append(frame, ResponseDataMarker...)
		frame = append(frame, ResponseLongMarker)
		frame = binary.LittleEndian.AppendUint16(frame, uint16(len(payload)+1))
	} else {
		frame = append(frame, byte(len(payload)+ShortResponseOverhead))
		frame = append(frame, ResponseDataMarker...)
	}
	frame = append(frame, opcode)
	frame = append(frame, payload...)

	return frame
}

// ParseLinkCheckResponse returns the link check reply value; 0 means the
// bootloader is ready.
func ParseLinkCheckResponse(payload []byte) (byte, error) {
	if len(payload) < LinkCheckResponseSize {
		return 0, fmt.Errorf("invalid link check response: got %d bytes, expected %d", len(payload), LinkCheckResponseSize)
	}
	return payload[0], nil
}

// ParseReadRegResponse parses a register read reply.
//
// Data format (8 bytes):
//
//	[ADDR(4)][VALUE(4)]
func ParseReadRegResponse(payload []byte) (address, value uint32, err error) {
	if len(payload) < ReadRegResponseSize {
		return 0, 0, fmt.Errorf("invalid read register response: got %d bytes, expected %d", len(payload), ReadRegResponseSize)
	}
	return binary.LittleEndian.Uint32(payload[0:4]), binary.LittleEndian.Uint32(payload[4:8]), nil
}

// ParseCheckCRCResponse returns the CRC-32 of the checked range. The ROM
// reports the register value before the final inversion.
func ParseCheckCRCResponse(payload []byte) (uint32, error) {
	if len(payload) < CheckCRCResponseSize {
		return 0, fmt.Errorf("invalid check crc response: got %d bytes, expected %d", len(payload), CheckCRCResponseSize)
	}
	return binary.LittleEndian.Uint32(payload[0:4]) ^ 0xFFFFFFFF, nil
}

// ParseFlashRead4KResponse parses a FlashRead4K reply.
//
// Data format (4101 bytes):
//
//	[STATUS][ADDR(4)][DATA(4096)]
func ParseFlashRead4KResponse(payload []byte) (*FlashSector, error) {
	if len(payload) != FlashRead4KResponseSize {
		return nil, fmt.Errorf("invalid flash read response: got %d bytes, expected %d", len(payload), FlashRead4KResponseSize)
	}

	data := make([]byte, SegmentSize)
	copy(data, payload[5:])

	return &FlashSector{
		Status:  payload[0],
		Address: binary.LittleEndian.Uint32(payload[1:5]),
		Data:    data,
	}, nil
}

// ParseBootVersionResponse returns the boot version string. The second return
// value is false when the ROM does not implement the command.
func ParseBootVersionResponse(payload []byte) (string, bool) {
	if len(payload) == 0 || (len(payload) == 1 && payload[0] == BootVersionUnsupported) {
		return "", false
	}
	return string(bytes.TrimRight(payload, "\x00")), true
}

// ParseFlashMIDResponse parses a FlashGetMID reply.
//
// Data format (5 bytes):
//
//	[STATUS][MANUFACTURER][DEVICE][SIZE][00]
func ParseFlashMIDResponse(payload []byte) (FlashID, error) {
	if len(payload) < FlashMIDResponseSize {
		return FlashID{}, fmt.Errorf("invalid flash mid response: got %d bytes, expected %d", len(payload), FlashMIDResponseSize)
	}
	return FlashID{
		Manufacturer: payload[1],
		Device:       payload[2],
		SizeCode:     payload[3],
	}, nil
}

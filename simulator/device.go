// Package simulator implements an in-memory BK7231 ROM bootloader.
//
// A Device answers protocol frames written to it exactly like a chip attached
// to a UART bridge, and implements the channel interfaces of the bootloader
// package. Reads never block: when no response bytes are pending, Read
// returns 0, nil, which callers treat as an elapsed read timeout. This keeps
// tests deterministic and free of sleeps.
//
// Faults can be injected at any time to exercise retry and integrity
// handling: dropped or truncated responses, garbage on the line, corrupted
// echoes and wrong CRC values.
package simulator

import (
	"bytes"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/moffa90/go-bk7231/checksum"
	"github.com/moffa90/go-bk7231/protocol"
)

// ErrClosed is returned by I/O on a closed Device.
var ErrClosed = errors.New("simulator: device closed")

// Device is a simulated BK7231 chip in download mode.
type Device struct {
	mu sync.Mutex

	profile     protocol.ChipProfile
	bootVersion string
	flashID     [3]byte
	flash       []byte

	in  []byte
	out bytes.Buffer

	readTimeout time.Duration
	baudRate    int
	rts, dtr    bool
	resets      int
	closed      bool

	ignoreLinkChecks  int
	dropResponses     int
	truncateResponses int
	corruptEchoes     int
	garbage           []byte
	unresponsive      bool
	wrongCRC          bool
	corruptCRC        map[uint32]int
	ignored           map[cmdKey]bool

	counts map[cmdKey]int
}

type cmdKey struct {
	opcode byte
	long   bool
}

// Option configures a Device.
type Option func(*Device)

// WithFlash sets the initial flash content. Shorter content is padded with
// 0xFF up to the profile's flash size.
func WithFlash(data []byte) Option {
	return func(d *Device) {
		copy(d.flash, data)
	}
}

// WithBootVersion overrides the boot version string.
func WithBootVersion(version string) Option {
	return func(d *Device) {
		d.bootVersion = version
	}
}

// WithFlashID sets the JEDEC ID reported by FlashGetMID.
func WithFlashID(manufacturer, device, sizeCode byte) Option {
	return func(d *Device) {
		d.flashID = [3]byte{manufacturer, device, sizeCode}
	}
}

// New returns a device behaving like the given chip variant. The flash is
// erased (0xFF) unless WithFlash is given.
func New(profile protocol.ChipProfile, opts ...Option) *Device {
	d := &Device{
		profile:    profile,
		flashID:    [3]byte{0x85, 0x20, 0x15},
		flash:      bytes.Repeat([]byte{0xFF}, int(profile.FlashSize)),
		baudRate:   protocol.DefaultBaudRate,
		corruptCRC: make(map[uint32]int),
		ignored:    make(map[cmdKey]bool),
		counts:     make(map[cmdKey]int),
	}
	if profile.BootVersionPrefix != "" {
		d.bootVersion = profile.BootVersionPrefix + "_1.0.1"
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Read returns pending response bytes. It returns 0, nil when nothing is
// pending.
func (d *Device) Read(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}
	if d.out.Len() == 0 {
		return 0, nil
	}
	return d.out.Read(p)
}

// Write accepts command bytes and queues the responses of every complete
// frame.
func (d *Device) Write(p []byte) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, ErrClosed
	}

	d.in = append(d.in, p...)
	for len(d.in) > 0 {
		opcode, payload, long, n, err := protocol.DecodeCommand(d.in)
		if err != nil {
			// resynchronise on the next byte
			d.in = d.in[1:]
			continue
		}
		if n == 0 {
			break
		}
		d.in = d.in[n:]
		d.counts[cmdKey{opcode, long}]++
		d.handle(opcode, payload, long)
	}

	return len(p), nil
}

// SetReadTimeout records the timeout; reads never block.
func (d *Device) SetReadTimeout(t time.Duration) error {
	d.mu.Lock()
	d.readTimeout = t
	d.mu.Unlock()
	return nil
}

// SetBaudRate records the host side baud rate.
func (d *Device) SetBaudRate(rate int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if rate != d.baudRate {
		return errors.New("simulator: host baud rate does not match device")
	}
	return nil
}

// SetRTS drives the RTS line. A high to low transition resets the chip.
func (d *Device) SetRTS(v bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.rts && !v {
		d.resets++
		d.baudRate = protocol.DefaultBaudRate
		d.in = nil
		d.out.Reset()
	}
	d.rts = v
	return nil
}

// SetDTR drives the DTR line.
func (d *Device) SetDTR(v bool) error {
	d.mu.Lock()
	d.dtr = v
	d.mu.Unlock()
	return nil
}

// Close closes the device. Further I/O fails with ErrClosed.
func (d *Device) Close() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return nil
}

// Closed reports whether Close was called.
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Resets returns the number of hardware resets seen.
func (d *Device) Resets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.resets
}

// BaudRate returns the baud rate the chip currently uses.
func (d *Device) BaudRate() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.baudRate
}

// Flash returns a copy of the flash content.
func (d *Device) Flash() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return bytes.Clone(d.flash)
}

// Count returns how many commands with the given opcode and length form the
// device has received.
func (d *Device) Count(opcode byte, long bool) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.counts[cmdKey{opcode, long}]
}

// IgnoreLinkChecks makes the device ignore the next n link checks, like a chip
// that has not entered download mode yet.
func (d *Device) IgnoreLinkChecks(n int) {
	d.mu.Lock()
	d.ignoreLinkChecks = n
	d.mu.Unlock()
}

// DropResponses discards the next n responses.
func (d *Device) DropResponses(n int) {
	d.mu.Lock()
	d.dropResponses = n
	d.mu.Unlock()
}

// TruncateResponses sends only the first half of the next n responses.
func (d *Device) TruncateResponses(n int) {
	d.mu.Lock()
	d.truncateResponses = n
	d.mu.Unlock()
}

// CorruptEchoes falsifies the echoed request fields of the next n responses.
func (d *Device) CorruptEchoes(n int) {
	d.mu.Lock()
	d.corruptEchoes = n
	d.mu.Unlock()
}

// InjectGarbage queues bytes that precede the next response.
func (d *Device) InjectGarbage(b []byte) {
	d.mu.Lock()
	d.garbage = append(d.garbage, b...)
	d.mu.Unlock()
}

// SetUnresponsive makes the device swallow every command.
func (d *Device) SetUnresponsive(v bool) {
	d.mu.Lock()
	d.unresponsive = v
	d.mu.Unlock()
}

// SetWrongCRC makes every CheckCRC reply report a wrong value.
func (d *Device) SetWrongCRC(v bool) {
	d.mu.Lock()
	d.wrongCRC = v
	d.mu.Unlock()
}

// CorruptCRCAt makes the next times CheckCRC replies for ranges starting at
// flash offset addr report a wrong value. A negative times corrupts forever.
func (d *Device) CorruptCRCAt(addr uint32, times int) {
	d.mu.Lock()
	d.corruptCRC[addr] = times
	d.mu.Unlock()
}

// IgnoreCommand makes the device swallow every command with the given
// opcode and frame form.
func (d *Device) IgnoreCommand(opcode byte, long bool) {
	d.mu.Lock()
	d.ignored[cmdKey{opcode, long}] = true
	d.mu.Unlock()
}

func (d *Device) handle(opcode byte, payload []byte, long bool) {
	if d.unresponsive || d.ignored[cmdKey{opcode, long}] {
		return
	}

	op := d.profile.Opcodes
	switch {
	case !long && opcode == op.LinkCheck:
		if d.ignoreLinkChecks > 0 {
			d.ignoreLinkChecks--
			return
		}
		d.reply(op.LinkCheckReply, []byte{0x00}, false, 0, 0)

	case !long && opcode == op.ReadReg && len(payload) >= 4:
		addr := binary.LittleEndian.Uint32(payload)
		var value uint32
		if addr == protocol.RegisterChipID {
			value = d.profile.ChipID
		}
		resp := binary.LittleEndian.AppendUint32(nil, addr)
		resp = binary.LittleEndian.AppendUint32(resp, value)
		d.reply(opcode, resp, false, 0, 4)

	case !long && opcode == op.ReadBootVersion:
		if d.bootVersion == "" {
			d.reply(opcode, []byte{protocol.BootVersionUnsupported}, false, 0, 0)
			return
		}
		d.reply(opcode, []byte(d.bootVersion), false, 0, 0)

	case !long && opcode == op.SetBaudRate && len(payload) >= 5:
		// the reply is sent at the new rate
		d.baudRate = int(binary.LittleEndian.Uint32(payload))
		d.reply(opcode, payload[:5], false, 0, 5)

	case !long && opcode == op.Reboot:
		d.baudRate = protocol.DefaultBaudRate

	case !long && opcode == op.CheckCRC && len(payload) >= 8:
		d.handleCheckCRC(opcode, payload)

	case long && opcode == op.FlashRead4K && len(payload) >= 4:
		addr := binary.LittleEndian.Uint32(payload)
		off := d.offset(addr)
		resp := make([]byte, 0, protocol.FlashRead4KResponseSize)
		resp = append(resp, protocol.StatusSuccess)
		resp = append(resp, payload[:4]...)
		resp = append(resp, d.sector(off)...)
		d.reply(opcode, resp, true, 1, 4)

	case long && opcode == op.FlashWrite4K && len(payload) == 4+protocol.SegmentSize:
		addr := binary.LittleEndian.Uint32(payload)
		off := d.offset(addr)
		if int(off)+protocol.SegmentSize <= len(d.flash) {
			// NOR flash programming can only clear bits
			for i, b := range payload[4:] {
				d.flash[int(off)+i] &= b
			}
		}
		resp := append([]byte{protocol.StatusSuccess}, payload[:4]...)
		d.reply(opcode, resp, true, 1, 4)

	case long && opcode == op.FlashErase && len(payload) >= 5:
		size := protocol.EraseSize(payload[0]).Bytes()
		off := int(d.offset(binary.LittleEndian.Uint32(payload[1:5])))
		if size > 0 {
			off -= off % size
			for i := off; i < off+size && i < len(d.flash); i++ {
				d.flash[i] = 0xFF
			}
		}
		resp := append([]byte{protocol.StatusSuccess}, payload[:5]...)
		d.reply(opcode, resp, true, 1, 5)

	case long && opcode == op.FlashGetMID:
		resp := []byte{protocol.StatusSuccess, d.flashID[0], d.flashID[1], d.flashID[2], 0x00}
		d.reply(opcode, resp, true, 0, 0)
	}
}

func (d *Device) handleCheckCRC(opcode byte, payload []byte) {
	start := binary.LittleEndian.Uint32(payload[0:4])
	end := binary.LittleEndian.Uint32(payload[4:8])
	if d.profile.CRCEndInclusive {
		end++
	}

	s := d.offset(start)
	e := end & 0x1FFFFF
	if end >= 0x400000 || (e == 0 && end > start) {
		e = uint32(len(d.flash))
	}
	if e > uint32(len(d.flash)) {
		e = uint32(len(d.flash))
	}
	if s > e {
		s = e
	}

	crc := checksum.CRC32(d.flash[s:e])
	if d.wrongCRC {
		crc ^= 0xDEADBEEF
	}
	if n, ok := d.corruptCRC[s]; ok && n != 0 {
		crc ^= 0x00FF00FF
		if n > 0 {
			d.corruptCRC[s] = n - 1
		}
	}

	d.reply(opcode, binary.LittleEndian.AppendUint32(nil, crc^0xFFFFFFFF), false, 0, 0)
}

// offset converts a wire address into a flash offset.
func (d *Device) offset(addr uint32) uint32 {
	if d.profile.FlashAddress == nil {
		return addr
	}
	return addr & 0x1FFFFF
}

func (d *Device) sector(off uint32) []byte {
	data := bytes.Repeat([]byte{0xFF}, protocol.SegmentSize)
	if int(off) < len(d.flash) {
		copy(data, d.flash[off:])
	}
	return data
}

// reply queues a response, applying pending faults. echoOff and echoLen
// locate the echoed request bytes inside payload.
func (d *Device) reply(opcode byte, payload []byte, long bool, echoOff, echoLen int) {
	if d.dropResponses > 0 {
		d.dropResponses--
		return
	}

	if d.corruptEchoes > 0 && echoLen > 0 {
		d.corruptEchoes--
		payload = bytes.Clone(payload)
		payload[echoOff] ^= 0xFF
	}

	if len(d.garbage) > 0 {
		d.out.Write(d.garbage)
		d.garbage = nil
	}

	frame := protocol.EncodeResponse(opcode, payload, long)
	if d.truncateResponses > 0 {
		d.truncateResponses--
		frame = frame[:len(frame)/2]
	}
	d.out.Write(frame)
}

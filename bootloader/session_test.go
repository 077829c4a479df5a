package bootloader

import (
	"bytes"
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pion/logging"

	"github.com/moffa90/go-bk7231/checksum"
	"github.com/moffa90/go-bk7231/protocol"
	"github.com/moffa90/go-bk7231/simulator"
)

// noiseChannel answers every write with bytes that never form a frame.
type noiseChannel struct {
	pending []byte
}

func (c *noiseChannel) Read(p []byte) (int, error) {
	n := copy(p, c.pending)
	c.pending = c.pending[n:]
	return n, nil
}

func (c *noiseChannel) Write(p []byte) (int, error) {
	c.pending = append(c.pending, bytes.Repeat([]byte{0x55, 0xAA}, 8)...)
	return len(p), nil
}

func (c *noiseChannel) SetReadTimeout(time.Duration) error { return nil }

// lockedBuffer is a bytes.Buffer safe for concurrent writers.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// timeoutChannel records the read timeout in effect at every write.
type timeoutChannel struct {
	*simulator.Device
	current time.Duration
	atWrite []time.Duration
}

func (c *timeoutChannel) SetReadTimeout(t time.Duration) error {
	c.current = t
	return c.Device.SetReadTimeout(t)
}

func (c *timeoutChannel) Write(p []byte) (int, error) {
	c.atWrite = append(c.atWrite, c.current)
	return c.Device.Write(p)
}

func connect(t *testing.T, dev *simulator.Device, opts ...Option) *Session {
	t.Helper()

	opts = append([]Option{WithLinkAttempts(20), WithRetries(3)}, opts...)
	sess, err := Connect(context.Background(), dev, opts...)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { sess.Disconnect() })
	return sess
}

func TestConnect(t *testing.T) {
	tests := []struct {
		name     string
		device   protocol.ChipProfile
		opts     []Option
		wantChip string
		wantInfo string
	}{
		{
			name:     "boot version identifies BK7231T",
			device:   protocol.BK7231T,
			wantChip: "BK7231T",
			wantInfo: "BK7231T_1.0.1",
		},
		{
			name:     "boot version identifies BK7231U",
			device:   protocol.BK7231U,
			wantChip: "BK7231U",
			wantInfo: "BK7231U_1.0.1",
		},
		{
			name:     "chip id identifies BK7231N",
			device:   protocol.BK7231N,
			wantChip: "BK7231N",
			wantInfo: "0x7231c",
		},
		{
			name:     "profile hint wins",
			device:   protocol.BK7231T,
			opts:     []Option{WithChipProfile(protocol.BK7231N)},
			wantChip: "BK7231N",
			wantInfo: "BK7231T_1.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := simulator.New(tt.device)
			sess := connect(t, dev, tt.opts...)

			if sess.Profile().Name != tt.wantChip {
				t.Errorf("Profile() = %s, want %s", sess.Profile().Name, tt.wantChip)
			}
			if sess.ChipInfo() != tt.wantInfo {
				t.Errorf("ChipInfo() = %q, want %q", sess.ChipInfo(), tt.wantInfo)
			}
			if sess.State() != StateConnected {
				t.Errorf("State() = %v, want connected", sess.State())
			}
		})
	}
}

func TestConnectWaitsForDownloadMode(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	dev.IgnoreLinkChecks(7)

	connect(t, dev)

	if got := dev.Count(protocol.CmdLinkCheck, false); got != 8 {
		t.Errorf("link checks sent = %d, want 8", got)
	}
}

func TestConnectFailures(t *testing.T) {
	unknown := protocol.ChipProfile{
		Name:         "BK7238",
		ChipID:       0x7238,
		FlashSize:    2 * 1024 * 1024,
		SegmentSize:  protocol.SegmentSize,
		Opcodes:      protocol.DefaultOpcodes,
		FlashAddress: protocol.MirrorFlashAddress,
	}

	silent := simulator.New(protocol.BK7231T)
	silent.SetUnresponsive(true)

	tests := []struct {
		name    string
		ch      Channel
		wantErr error
	}{
		{name: "silent device", ch: silent, wantErr: ErrHandshakeTimeout},
		{name: "line noise", ch: &noiseChannel{}, wantErr: ErrMalformedResponse},
		{name: "unknown chip", ch: simulator.New(unknown), wantErr: ErrUnknownChip},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sess, err := Connect(context.Background(), tt.ch, WithLinkAttempts(5))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Connect() error = %v, want %v", err, tt.wantErr)
			}
			if sess != nil {
				t.Error("Connect() returned a session on failure")
			}
		})
	}

	if errors.Is(ErrHandshakeTimeout, ErrMalformedResponse) || errors.Is(ErrMalformedResponse, ErrHandshakeTimeout) {
		t.Error("handshake errors must be distinguishable")
	}
}

func TestConnectProfileHintToleratesFailedIdentification(t *testing.T) {
	tests := []struct {
		name     string
		device   protocol.ChipProfile
		ignore   byte
		wantInfo string
	}{
		{name: "boot version unanswered", device: protocol.BK7231T, ignore: protocol.CmdReadBootVersion, wantInfo: "BK7231T"},
		{name: "chip id unanswered", device: protocol.BK7231N, ignore: protocol.CmdReadReg, wantInfo: "BK7231N"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := simulator.New(tt.device)
			dev.IgnoreCommand(tt.ignore, false)

			_, err := Connect(context.Background(), dev, WithLinkAttempts(20), WithRetries(1))
			if !errors.Is(err, ErrLinkFailure) {
				t.Fatalf("Connect() without profile error = %v, want ErrLinkFailure", err)
			}

			sess := connect(t, dev, WithChipProfile(tt.device))
			if sess.Profile().Name != tt.device.Name {
				t.Errorf("Profile() = %s, want %s", sess.Profile().Name, tt.device.Name)
			}
			if sess.ChipInfo() != tt.wantInfo {
				t.Errorf("ChipInfo() = %q, want %q", sess.ChipInfo(), tt.wantInfo)
			}
			if _, err := sess.FlashID(context.Background()); err != nil {
				t.Errorf("FlashID() error: %v", err)
			}
		})
	}
}

func TestConnectCancelled(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	dev.SetUnresponsive(true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Connect(ctx, dev); !errors.Is(err, context.Canceled) {
		t.Errorf("Connect() error = %v, want context.Canceled", err)
	}
}

func TestSendCommandRetriesTimeouts(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	sess := connect(t, dev, WithRetries(3))
	before := sess.Stats()

	// the first two exchanges time out, the third succeeds
	dev.DropResponses(2)

	resp, err := sess.SendCommand(context.Background(), protocol.DefaultOpcodes.BuildReadRegCmd(protocol.RegisterChipID))
	if err != nil {
		t.Fatalf("SendCommand() error: %v", err)
	}

	_, value, err := protocol.ParseReadRegResponse(resp.Payload)
	if err != nil || value != protocol.BK7231T.ChipID {
		t.Errorf("register = 0x%X, %v", value, err)
	}

	after := sess.Stats()
	if got := after.Retries - before.Retries; got != 2 {
		t.Errorf("retries = %d, want 2", got)
	}
	if got := after.Exchanges - before.Exchanges; got != 3 {
		t.Errorf("exchanges = %d, want 3", got)
	}
}

func TestSendCommandPartialFrame(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	sess := connect(t, dev)

	dev.TruncateResponses(1)
	if _, err := sess.SendCommand(context.Background(), protocol.DefaultOpcodes.BuildFlashRead4KCmd(0x211000)); err != nil {
		t.Fatalf("SendCommand() error: %v", err)
	}
	if sess.Stats().Retries != 1 {
		t.Errorf("retries = %d, want 1", sess.Stats().Retries)
	}
}

func TestSendCommandRetriesExhausted(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	sess := connect(t, dev, WithRetries(2))

	dev.DropResponses(10)
	before := dev.Count(protocol.CmdReadReg, false)

	_, err := sess.SendCommand(context.Background(), protocol.DefaultOpcodes.BuildReadRegCmd(protocol.RegisterChipID))
	if !errors.Is(err, ErrLinkFailure) {
		t.Fatalf("error = %v, want ErrLinkFailure", err)
	}
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("error = %v, want to wrap ErrTimeout", err)
	}

	var le *LinkError
	if !errors.As(err, &le) || le.Attempts != 3 {
		t.Errorf("LinkError attempts = %v, want 3", le)
	}
	if got := dev.Count(protocol.CmdReadReg, false) - before; got != 3 {
		t.Errorf("commands sent = %d, want 3", got)
	}
	if sess.State() != StateConnected {
		t.Errorf("State() = %v, want connected", sess.State())
	}
}

func TestSendCommandEchoMismatch(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	sess := connect(t, dev)

	dev.CorruptEchoes(1)
	_, err := sess.SendCommand(context.Background(), protocol.DefaultOpcodes.BuildFlashRead4KCmd(0x211000))

	if !errors.Is(err, ErrIntegrity) {
		t.Fatalf("error = %v, want ErrIntegrity", err)
	}
	if errors.Is(err, ErrLinkFailure) {
		t.Error("echo mismatch must not be reported as a link failure")
	}
	if !errors.Is(err, protocol.ErrEchoMismatch) {
		t.Errorf("error = %v, want to wrap ErrEchoMismatch", err)
	}
}

func TestSendCommandSkipsGarbage(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	sess := connect(t, dev)

	dev.InjectGarbage([]byte{0x00, 0x04, 0x0E, 0x0C, 0x01, 0x04, 0x0E})
	if _, err := sess.ReadRegister(context.Background(), protocol.RegisterChipID); err != nil {
		t.Fatalf("ReadRegister() error: %v", err)
	}
}

func TestSessionQueries(t *testing.T) {
	flash := make([]byte, 64*1024)
	for i := range flash {
		flash[i] = byte(i * 31)
	}
	dev := simulator.New(protocol.BK7231T, simulator.WithFlash(flash), simulator.WithFlashID(0xC8, 0x40, 0x15))
	sess := connect(t, dev)
	ctx := context.Background()

	id, err := sess.FlashID(ctx)
	if err != nil {
		t.Fatalf("FlashID() error: %v", err)
	}
	if id.String() != "C84015" {
		t.Errorf("FlashID() = %s, want C84015", id)
	}

	crc, err := sess.FlashCRC(ctx, 0x1000, 0x3000)
	if err != nil {
		t.Fatalf("FlashCRC() error: %v", err)
	}
	img, err := sess.ReadFlash(ctx, 0x1000, 3, false)
	if err != nil {
		t.Fatalf("ReadFlash() error: %v", err)
	}
	if want := checksum.CRC32(img.Bytes()); crc != want {
		t.Errorf("FlashCRC() = 0x%08X, want 0x%08X", crc, want)
	}
}

func TestFlashCRCRetryKeepsExtendedTimeout(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	ch := &timeoutChannel{Device: dev}
	sess, err := Connect(context.Background(), ch, WithLinkAttempts(20), WithRetries(3))
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer sess.Disconnect()

	const length = 0x200000
	extended := time.Duration(math.Ceil(float64(length)/protocol.CRCBytesPerSecond)) * time.Second

	ch.atWrite = nil
	dev.DropResponses(1)
	if _, err := sess.FlashCRC(context.Background(), 0, length); err != nil {
		t.Fatalf("FlashCRC() error: %v", err)
	}

	want := []time.Duration{extended, extended}
	if diff := cmp.Diff(want, ch.atWrite); diff != "" {
		t.Errorf("read timeout at each attempt mismatch (-want +got):\n%s", diff)
	}
	if ch.current != defaultConfig().Timeout {
		t.Errorf("read timeout after FlashCRC = %v, want %v", ch.current, defaultConfig().Timeout)
	}
}

func TestSetBaudRate(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	sess := connect(t, dev, WithBaudRate(921600))

	if dev.BaudRate() != 921600 {
		t.Errorf("device baud rate = %d, want 921600", dev.BaudRate())
	}

	// the link keeps working at the new rate
	if _, err := sess.ReadRegister(context.Background(), protocol.RegisterChipID); err != nil {
		t.Errorf("ReadRegister() error: %v", err)
	}
}

func TestHardwareReset(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	connect(t, dev, WithHardwareReset(time.Millisecond))

	if dev.Resets() != 1 {
		t.Errorf("resets = %d, want 1", dev.Resets())
	}
}

func TestDisconnect(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	sess := connect(t, dev)

	if err := sess.Disconnect(); err != nil {
		t.Fatalf("Disconnect() error: %v", err)
	}
	if err := sess.Disconnect(); err != nil {
		t.Errorf("second Disconnect() error: %v", err)
	}
	if !dev.Closed() {
		t.Error("channel was not closed")
	}
	if sess.State() != StateDisconnected {
		t.Errorf("State() = %v, want disconnected", sess.State())
	}

	_, err := sess.SendCommand(context.Background(), protocol.DefaultOpcodes.BuildLinkCheckCmd())
	if !errors.Is(err, ErrNotConnected) {
		t.Errorf("SendCommand() after Disconnect error = %v, want ErrNotConnected", err)
	}
}

func TestReboot(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	sess := connect(t, dev, WithBaudRate(921600))

	if err := sess.Reboot(context.Background()); err != nil {
		t.Fatalf("Reboot() error: %v", err)
	}
	if dev.Count(protocol.CmdReboot, false) != 1 {
		t.Error("reboot command not sent")
	}
	if dev.BaudRate() != protocol.DefaultBaudRate {
		t.Errorf("device baud rate = %d after reboot", dev.BaudRate())
	}
}

func TestConcurrentCommands(t *testing.T) {
	dev := simulator.New(protocol.BK7231T)
	sess := connect(t, dev)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := sess.ReadRegister(context.Background(), protocol.RegisterChipID); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent ReadRegister() error: %v", err)
	}
}

func TestSessionLogging(t *testing.T) {
	out := &lockedBuffer{}
	factory := &logging.DefaultLoggerFactory{
		Writer:          out,
		DefaultLogLevel: logging.LogLevelDebug,
		ScopeLevels:     map[string]logging.LogLevel{},
	}

	dev := simulator.New(protocol.BK7231N)
	sess := connect(t, dev, WithLoggerFactory(factory))

	if _, err := sess.ReadFlash(context.Background(), 0, 1, true); err != nil {
		t.Fatalf("ReadFlash() error: %v", err)
	}

	logs := out.String()
	if !strings.Contains(logs, "connected to BK7231N") {
		t.Errorf("expected connect log, got: %s", logs)
	}
	if !strings.Contains(logs, "skipping verification") {
		t.Errorf("expected verification warning, got: %s", logs)
	}
}

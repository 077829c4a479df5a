package bootloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/logging"

	"github.com/moffa90/go-bk7231/protocol"
)

// State is the lifecycle state of a Session.
type State int32

const (
	StateDisconnected State = iota
	StateHandshaking
	StateConnected
	StateBusy
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateHandshaking:
		return "handshaking"
	case StateConnected:
		return "connected"
	case StateBusy:
		return "busy"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Stats counts the exchanges of a session.
type Stats struct {
	// Exchanges is the number of command frames written
	Exchanges int

	// Retries is the number of exchanges re-issued after a timeout
	Retries int

	// Timeouts is the number of reads that timed out
	Timeouts int
}

// Session is an established link to a BK7231 ROM bootloader.
//
// A Session serialises exchanges: at most one command is in flight at any
// time, and bulk flash operations hold the link until they finish. Session is
// safe for concurrent use.
type Session struct {
	ch      Channel
	config  Config
	profile protocol.ChipProfile
	info    string

	// readTimeout is the channel read timeout currently in effect
	readTimeout time.Duration

	mu    sync.Mutex
	state atomic.Int32

	exchanges atomic.Int64
	retries   atomic.Int64
	timeouts  atomic.Int64

	log      logging.LeveledLogger
	flashLog logging.LeveledLogger
}

// Connect performs the handshake with the chip on ch, identifies it and
// returns a connected session.
//
// The handshake repeats link checks until the chip answers, Config.LinkAttempts
// checks were sent or Config.LinkTimeout elapsed. ErrHandshakeTimeout is
// returned when nothing came back and ErrMalformedResponse when bytes arrived
// but never formed a valid reply.
//
// Example:
//
//	sess, err := bootloader.Connect(ctx, port,
//	    bootloader.WithBaudRate(921600),
//	    bootloader.WithLoggerFactory(logging.NewDefaultLoggerFactory()),
//	)
//	if err != nil {
//	    return err
//	}
//	defer sess.Disconnect()
func Connect(ctx context.Context, ch Channel, opts ...Option) (*Session, error) {
	if ch == nil {
		return nil, errors.New("channel cannot be nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	s := &Session{
		ch:     ch,
		config: cfg,
	}
	if cfg.LoggerFactory != nil {
		s.log = cfg.LoggerFactory.NewLogger("bk7231-link")
		s.flashLog = cfg.LoggerFactory.NewLogger("bk7231-flash")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.setState(StateHandshaking)
	s.reportProgress(Progress{Phase: PhaseLinking})

	if err := s.handshake(ctx); err != nil {
		s.setState(StateDisconnected)
		return nil, err
	}

	if err := s.identify(ctx); err != nil {
		s.setState(StateDisconnected)
		return nil, err
	}
	s.logInfof("connected to %s (%s)", s.profile.Name, s.info)

	if cfg.BaudRate != protocol.DefaultBaudRate {
		if _, ok := ch.(BaudRateSetter); ok {
			if err := s.setBaudRate(ctx, cfg.BaudRate); err != nil {
				s.setState(StateDisconnected)
				return nil, fmt.Errorf("set baud rate: %w", err)
			}
		} else {
			s.logWarnf("channel cannot change baud rate, staying at %d", protocol.DefaultBaudRate)
		}
	}

	s.setState(StateConnected)
	return s, nil
}

func (s *Session) handshake(ctx context.Context) error {
	if r, ok := s.ch.(Resetter); ok && s.config.ResetPulse > 0 {
		s.logDebugf("resetting chip")
		if err := r.SetDTR(false); err != nil {
			return &LinkError{Operation: "reset", Attempts: 1, Err: err}
		}
		if err := r.SetRTS(true); err != nil {
			return &LinkError{Operation: "reset", Attempts: 1, Err: err}
		}
		time.Sleep(s.config.ResetPulse)
		if err := r.SetRTS(false); err != nil {
			return &LinkError{Operation: "reset", Attempts: 1, Err: err}
		}
	}

	if err := s.setReadTimeout(s.config.LinkCheckTimeout); err != nil {
		return &LinkError{Operation: "link check", Attempts: 1, Err: err}
	}

	cmd := s.opcodes().BuildLinkCheckCmd()
	frame := cmd.Encode()
	counter := &countingReader{r: s.ch}
	deadline := time.Now().Add(s.config.LinkTimeout)

	linked := false
	attempts := 0
	for attempts < s.config.LinkAttempts && time.Now().Before(deadline) {
		if err := ctx.Err(); err != nil {
			return err
		}
		attempts++

		if _, err := s.ch.Write(frame); err != nil {
			return &LinkError{Operation: "link check", Attempts: attempts, Err: err}
		}
		resp, err := protocol.ReadResponse(counter, cmd)
		if err != nil {
			if !errors.Is(err, protocol.ErrTimeout) && !errors.Is(err, protocol.ErrFrameSync) {
				return &LinkError{Operation: "link check", Attempts: attempts, Err: err}
			}
			continue
		}
		if v, err := protocol.ParseLinkCheckResponse(resp.Payload); err == nil && v == 0 {
			linked = true
			break
		}
	}

	s.drain()

	if err := s.setReadTimeout(s.config.Timeout); err != nil {
		return &LinkError{Operation: "link check", Attempts: attempts, Err: err}
	}

	switch {
	case linked:
		s.logDebugf("link established after %d link check(s)", attempts)
		return nil
	case counter.n > 0:
		return fmt.Errorf("%w: %d bytes received in %d link check(s)", ErrMalformedResponse, counter.n, attempts)
	default:
		return fmt.Errorf("%w after %d link check(s)", ErrHandshakeTimeout, attempts)
	}
}

// identify selects the chip profile: the configured one, or the first known
// profile matching the boot version or, when the ROM does not implement it,
// the chip ID register.
//
// With a configured profile the identification reads only fill ChipInfo and
// their failures are logged, not returned.
func (s *Session) identify(ctx context.Context) error {
	hinted := s.config.Profile != nil
	if hinted {
		s.profile = *s.config.Profile
	}

	version, chipID, ok, err := s.readIdentity(ctx)
	if err != nil {
		if !hinted || ctx.Err() != nil {
			return err
		}
		s.logWarnf("identification skipped, using %s: %v", s.profile.Name, err)
		s.info = s.profile.Name
		return nil
	}
	if ok {
		s.info = version
	} else {
		s.info = fmt.Sprintf("0x%x", chipID)
	}
	if hinted {
		return nil
	}

	for _, p := range protocol.Profiles() {
		if ok && p.MatchBootVersion(version) {
			s.profile = p
			return nil
		}
		if !ok && p.ChipID != 0 && p.ChipID == chipID {
			s.profile = p
			return nil
		}
	}

	return fmt.Errorf("%w: %s", ErrUnknownChip, s.info)
}

// readIdentity returns the boot version string, or the chip ID register when
// the ROM does not implement ReadBootVersion. ok reports which one is set.
func (s *Session) readIdentity(ctx context.Context) (version string, chipID uint32, ok bool, err error) {
	resp, err := s.exchange(ctx, s.opcodes().BuildReadBootVersionCmd())
	if err != nil {
		return "", 0, false, fmt.Errorf("read boot version: %w", err)
	}
	if version, ok = protocol.ParseBootVersionResponse(resp.Payload); ok {
		return version, 0, true, nil
	}

	chipID, err = s.readRegister(ctx, protocol.RegisterChipID)
	if err != nil {
		return "", 0, false, fmt.Errorf("read chip id: %w", err)
	}
	return "", chipID, false, nil
}

// SendCommand performs one exchange: it writes cmd, reads the response and
// validates the echoed request fields and the status byte.
//
// A read timeout, including one in the middle of a frame, drains the channel
// and re-issues the whole exchange up to Config.Retries times before a
// LinkError is returned. A response failing the echo rule yields an
// IntegrityError and is not retried. Commands without a response return a
// zero Response.
func (s *Session) SendCommand(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	unlock, err := s.acquire()
	if err != nil {
		return protocol.Response{}, err
	}
	defer unlock()

	return s.exchange(ctx, cmd)
}

// acquire locks the session for one operation and marks it busy.
func (s *Session) acquire() (func(), error) {
	s.mu.Lock()
	if s.State() == StateDisconnected {
		s.mu.Unlock()
		return nil, ErrNotConnected
	}
	s.setState(StateBusy)
	return func() {
		s.setState(StateConnected)
		s.mu.Unlock()
	}, nil
}

// exchange implements SendCommand. The caller holds s.mu.
func (s *Session) exchange(ctx context.Context, cmd protocol.Command) (protocol.Response, error) {
	return s.exchangeHook(ctx, cmd, nil)
}

func (s *Session) exchangeHook(ctx context.Context, cmd protocol.Command, afterWrite func() error) (protocol.Response, error) {
	frame := cmd.Encode()

	var lastErr error
	for attempt := 0; attempt <= s.config.Retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return protocol.Response{}, err
		}
		if attempt > 0 {
			s.retries.Add(1)
			s.logDebugf("%s: retry %d/%d after %v", cmd.Name, attempt, s.config.Retries, lastErr)
			if err := s.drain(); err != nil {
				return protocol.Response{}, &LinkError{Operation: cmd.Name, Attempts: attempt, Err: err}
			}
		}

		s.exchanges.Add(1)
		s.logTracef("%s: tx % X", cmd.Name, head(frame, 16))
		if _, err := s.ch.Write(frame); err != nil {
			return protocol.Response{}, &LinkError{Operation: cmd.Name, Attempts: attempt + 1, Err: err}
		}
		if afterWrite != nil {
			if err := afterWrite(); err != nil {
				return protocol.Response{}, &LinkError{Operation: cmd.Name, Attempts: attempt + 1, Err: err}
			}
		}
		if cmd.NoResponse {
			return protocol.Response{}, nil
		}

		resp, err := protocol.ReadResponse(s.ch, cmd)
		if err != nil {
			if errors.Is(err, protocol.ErrTimeout) || errors.Is(err, protocol.ErrFrameSync) {
				s.timeouts.Add(1)
				lastErr = err
				continue
			}
			return protocol.Response{}, &LinkError{Operation: cmd.Name, Attempts: attempt + 1, Err: err}
		}
		s.logTracef("%s: rx %d byte(s)", cmd.Name, len(resp.Payload))

		if err := cmd.Validate(resp); err != nil {
			if protocol.IsProtocolError(err) {
				return protocol.Response{}, err
			}
			return protocol.Response{}, &IntegrityError{Operation: cmd.Name, Err: err}
		}
		return resp, nil
	}

	s.logWarnf("%s: no response after %d attempt(s)", cmd.Name, s.config.Retries+1)
	return protocol.Response{}, &LinkError{Operation: cmd.Name, Attempts: s.config.Retries + 1, Err: lastErr}
}

// drain discards pending input, then restores the read timeout in effect
// before the call.
func (s *Session) drain() error {
	if err := s.ch.SetReadTimeout(time.Millisecond); err != nil {
		return err
	}
	buf := make([]byte, 1024)
	for total := 0; total < protocol.MaxResyncBytes; {
		n, err := s.ch.Read(buf)
		if n == 0 || err != nil {
			break
		}
		total += n
	}
	return s.ch.SetReadTimeout(s.readTimeout)
}

// setReadTimeout sets the channel read timeout and remembers it for drain.
func (s *Session) setReadTimeout(t time.Duration) error {
	if err := s.ch.SetReadTimeout(t); err != nil {
		return err
	}
	s.readTimeout = t
	return nil
}

// Disconnect releases the channel, closing it when it implements io.Closer.
// It is safe to call more than once.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.State() == StateDisconnected {
		return nil
	}
	s.setState(StateDisconnected)
	s.logDebugf("disconnected after %d exchange(s)", s.exchanges.Load())

	if c, ok := s.ch.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// State returns the current session state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(state State) {
	s.state.Store(int32(state))
}

// Profile returns the negotiated chip profile.
func (s *Session) Profile() protocol.ChipProfile {
	return s.profile
}

// ChipInfo returns the boot version string, or the chip ID in hex when the ROM
// does not report a boot version.
func (s *Session) ChipInfo() string {
	return s.info
}

// Stats returns the exchange counters.
func (s *Session) Stats() Stats {
	return Stats{
		Exchanges: int(s.exchanges.Load()),
		Retries:   int(s.retries.Load()),
		Timeouts:  int(s.timeouts.Load()),
	}
}

// ReadRegister reads a 32-bit chip register.
func (s *Session) ReadRegister(ctx context.Context, address uint32) (uint32, error) {
	unlock, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer unlock()

	return s.readRegister(ctx, address)
}

func (s *Session) readRegister(ctx context.Context, address uint32) (uint32, error) {
	resp, err := s.exchange(ctx, s.opcodes().BuildReadRegCmd(address))
	if err != nil {
		return 0, err
	}
	_, value, err := protocol.ParseReadRegResponse(resp.Payload)
	return value, err
}

// FlashID reads the JEDEC ID of the SPI flash.
func (s *Session) FlashID(ctx context.Context) (protocol.FlashID, error) {
	unlock, err := s.acquire()
	if err != nil {
		return protocol.FlashID{}, err
	}
	defer unlock()

	resp, err := s.exchange(ctx, s.opcodes().BuildFlashGetMIDCmd())
	if err != nil {
		return protocol.FlashID{}, err
	}
	return protocol.ParseFlashMIDResponse(resp.Payload)
}

// FlashCRC returns the CRC-32 the chip computes over length bytes of flash at
// start. The read timeout is extended for large ranges.
func (s *Session) FlashCRC(ctx context.Context, start, length uint32) (uint32, error) {
	unlock, err := s.acquire()
	if err != nil {
		return 0, err
	}
	defer unlock()

	return s.flashCRC(ctx, start, length)
}

func (s *Session) flashCRC(ctx context.Context, start, length uint32) (uint32, error) {
	begin, end, err := s.profile.CRCRange(start, length)
	if err != nil {
		return 0, err
	}

	minimum := time.Duration(math.Ceil(float64(length)/protocol.CRCBytesPerSecond)) * time.Second
	if minimum > s.config.Timeout {
		s.logWarnf("extending read timeout to %v for crc over %d bytes", minimum, length)
		prev := s.readTimeout
		if err := s.setReadTimeout(minimum); err != nil {
			return 0, &LinkError{Operation: "check crc", Attempts: 1, Err: err}
		}
		defer s.setReadTimeout(prev)
	}

	resp, err := s.exchange(ctx, s.opcodes().BuildCheckCRCCmd(begin, end))
	if err != nil {
		return 0, err
	}
	return protocol.ParseCheckCRCResponse(resp.Payload)
}

// SetBaudRate switches the link to a new baud rate. The channel must
// implement BaudRateSetter.
func (s *Session) SetBaudRate(ctx context.Context, rate int) error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	return s.setBaudRate(ctx, rate)
}

func (s *Session) setBaudRate(ctx context.Context, rate int) error {
	setter, ok := s.ch.(BaudRateSetter)
	if !ok {
		return errors.New("channel does not support changing the baud rate")
	}

	cmd := s.opcodes().BuildSetBaudRateCmd(uint32(rate), protocol.BaudRateSwitchDelayMs)
	delay := time.Duration(protocol.BaudRateSwitchDelayMs) * time.Millisecond / 2

	_, err := s.exchangeHook(ctx, cmd, func() error {
		time.Sleep(delay)
		return setter.SetBaudRate(rate)
	})
	if err != nil {
		return err
	}
	s.logInfof("baud rate changed to %d", rate)
	return nil
}

// Reboot resets the chip. The chip does not answer; the session stays usable
// only after a new Connect.
func (s *Session) Reboot(ctx context.Context) error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	_, err = s.exchange(ctx, s.opcodes().BuildRebootCmd())
	return err
}

func (s *Session) opcodes() protocol.Opcodes {
	if s.profile.Name != "" {
		return s.profile.Opcodes
	}
	if s.config.Profile != nil {
		return s.config.Profile.Opcodes
	}
	return protocol.DefaultOpcodes
}

// reportProgress calls the progress callback if configured.
func (s *Session) reportProgress(progress Progress) {
	if s.config.ProgressCallback != nil {
		s.config.ProgressCallback(progress)
	}
}

func (s *Session) logTracef(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Tracef(format, args...)
	}
}

func (s *Session) logDebugf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Debugf(format, args...)
	}
}

func (s *Session) logInfof(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Infof(format, args...)
	}
}

func (s *Session) logWarnf(format string, args ...interface{}) {
	if s.log != nil {
		s.log.Warnf(format, args...)
	}
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

func head(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}

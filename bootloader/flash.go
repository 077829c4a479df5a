package bootloader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moffa90/go-bk7231/checksum"
	"github.com/moffa90/go-bk7231/flashimg"
	"github.com/moffa90/go-bk7231/protocol"
)

// ReadFlash reads count segments starting at flash offset start, which must
// be segment aligned. Segments are read one at a time in ascending order.
//
// When verify is set and the chip's CRC can be trusted, every segment is
// checked against the CRC computed by the chip and read again up to
// Config.SegmentRetries times before a SegmentVerificationError is returned.
// Any failure discards everything read so far; no partial image is returned.
//
// Example:
//
//	img, err := sess.ReadFlash(ctx, 0x11000, 16, true)
//	if err != nil {
//	    return err
//	}
//	os.WriteFile("dump.bin", img.Bytes(), 0o644)
func (s *Session) ReadFlash(ctx context.Context, start uint32, count int, verify bool) (*flashimg.Image, error) {
	unlock, err := s.acquire()
	if err != nil {
		return nil, err
	}
	defer unlock()

	segSize := s.profile.SegmentSize
	if count <= 0 {
		return nil, fmt.Errorf("segment count must be positive, got %d", count)
	}
	if err := s.checkRange(start, count*segSize); err != nil {
		return nil, err
	}

	verify = s.effectiveVerify(verify)
	startTime := time.Now()
	s.logFlashInfof("reading %d segment(s) at 0x%06X (verify=%v)", count, start, verify)

	buf := make([]byte, 0, count*segSize)
	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("cancelled: %w", err)
		}

		addr := start + uint32(i*segSize)
		s.reportProgress(Progress{
			Phase:          PhaseReading,
			Address:        addr,
			CurrentSegment: i,
			TotalSegments:  count,
			Percentage:     float64(i) / float64(count) * 100,
			Bytes:          len(buf),
			ElapsedTime:    time.Since(startTime),
		})

		data, err := s.readSegment(ctx, addr, verify)
		if err != nil {
			s.logFlashErrorf("read aborted at 0x%06X: %v", addr, err)
			return nil, segmentError(addr, err)
		}
		buf = append(buf, data...)
	}

	s.reportProgress(Progress{
		Phase:          PhaseComplete,
		Address:        start + uint32(count*segSize),
		CurrentSegment: count,
		TotalSegments:  count,
		Percentage:     100,
		Bytes:          len(buf),
		ElapsedTime:    time.Since(startTime),
	})
	s.logFlashInfof("read %d byte(s) in %v", len(buf), time.Since(startTime).Round(time.Millisecond))

	return flashimg.New(buf), nil
}

// readSegment reads and optionally verifies one segment.
func (s *Session) readSegment(ctx context.Context, addr uint32, verify bool) ([]byte, error) {
	cmd := s.opcodes().BuildFlashRead4KCmd(s.profile.WireAddress(addr))

	var lastErr error
	attempts := s.config.SegmentRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := s.exchange(ctx, cmd)
		if err != nil {
			if !errors.Is(err, ErrIntegrity) {
				return nil, err
			}
			lastErr = err
			s.logFlashWarnf("segment 0x%06X attempt %d/%d: %v", addr, attempt, attempts, err)
			continue
		}

		sector, err := protocol.ParseFlashRead4KResponse(resp.Payload)
		if err != nil {
			lastErr = &IntegrityError{Operation: cmd.Name, Offset: addr, Err: err}
			continue
		}

		if verify {
			if err := s.verifySegment(ctx, addr, sector.Data); err != nil {
				if !errors.Is(err, ErrIntegrity) {
					return nil, err
				}
				lastErr = err
				s.logFlashWarnf("segment 0x%06X attempt %d/%d: %v", addr, attempt, attempts, err)
				continue
			}
		}

		return sector.Data, nil
	}

	return nil, &SegmentVerificationError{Offset: addr, Attempts: attempts, Err: lastErr}
}

// verifySegment compares the chip CRC of a segment with the CRC of data.
func (s *Session) verifySegment(ctx context.Context, addr uint32, data []byte) error {
	s.reportProgress(Progress{Phase: PhaseVerifying, Address: addr})

	chip, err := s.flashCRC(ctx, addr, uint32(len(data)))
	if err != nil {
		return err
	}
	if local := checksum.CRC32(data); chip != local {
		return &IntegrityError{Operation: "check crc", Offset: addr, Expected: local, Actual: chip}
	}
	return nil
}

// WriteFlash writes data at flash offset start, which must be segment
// aligned. Data is padded with 0xFF to whole segments. Each segment is erased,
// written and, when verify is set and the chip's CRC can be trusted, checked;
// a segment failing verification is rewritten up to Config.SegmentRetries
// times before a SegmentVerificationError is returned.
func (s *Session) WriteFlash(ctx context.Context, start uint32, data []byte, verify bool) error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	segSize := s.profile.SegmentSize
	if len(data) == 0 {
		return errors.New("no data to write")
	}
	count := (len(data) + segSize - 1) / segSize
	if err := s.checkRange(start, count*segSize); err != nil {
		return err
	}

	padded := make([]byte, count*segSize)
	copy(padded, data)
	copy(padded[len(data):], bytes.Repeat([]byte{0xFF}, len(padded)-len(data)))

	verify = s.effectiveVerify(verify)
	startTime := time.Now()
	s.logFlashInfof("writing %d segment(s) at 0x%06X (verify=%v)", count, start, verify)

	for i := 0; i < count; i++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		addr := start + uint32(i*segSize)
		s.reportProgress(Progress{
			Phase:          PhaseWriting,
			Address:        addr,
			CurrentSegment: i,
			TotalSegments:  count,
			Percentage:     float64(i) / float64(count) * 100,
			Bytes:          i * segSize,
			ElapsedTime:    time.Since(startTime),
		})

		if err := s.writeSegment(ctx, addr, padded[i*segSize:(i+1)*segSize], verify); err != nil {
			s.logFlashErrorf("write aborted at 0x%06X: %v", addr, err)
			return segmentError(addr, err)
		}
	}

	s.reportProgress(Progress{
		Phase:          PhaseComplete,
		Address:        start + uint32(count*segSize),
		CurrentSegment: count,
		TotalSegments:  count,
		Percentage:     100,
		Bytes:          len(padded),
		ElapsedTime:    time.Since(startTime),
	})

	return nil
}

func (s *Session) writeSegment(ctx context.Context, addr uint32, data []byte, verify bool) error {
	op := s.opcodes()
	wire := s.profile.WireAddress(addr)

	erase, err := op.BuildFlashEraseCmd(protocol.Erase4K, wire)
	if err != nil {
		return err
	}
	write, err := op.BuildFlashWrite4KCmd(wire, data)
	if err != nil {
		return err
	}

	var lastErr error
	attempts := s.config.SegmentRetries + 1
	for attempt := 1; attempt <= attempts; attempt++ {
		s.reportProgress(Progress{Phase: PhaseErasing, Address: addr})
		if _, err := s.exchange(ctx, erase); err != nil {
			if !errors.Is(err, ErrIntegrity) {
				return err
			}
			lastErr = err
			continue
		}

		if _, err := s.exchange(ctx, write); err != nil {
			if !errors.Is(err, ErrIntegrity) {
				return err
			}
			lastErr = err
			continue
		}

		if verify {
			if err := s.verifySegment(ctx, addr, data); err != nil {
				if !errors.Is(err, ErrIntegrity) {
					return err
				}
				lastErr = err
				s.logFlashWarnf("segment 0x%06X attempt %d/%d: %v", addr, attempt, attempts, err)
				continue
			}
		}

		return nil
	}

	return &SegmentVerificationError{Offset: addr, Attempts: attempts, Err: lastErr}
}

// EraseFlash erases size bytes at flash offset start. Both must be multiples
// of the 4K sector size. Aligned 64K blocks are erased with a single command.
func (s *Session) EraseFlash(ctx context.Context, start, size uint32) error {
	unlock, err := s.acquire()
	if err != nil {
		return err
	}
	defer unlock()

	sector := uint32(protocol.Erase4K.Bytes())
	block := uint32(protocol.Erase64K.Bytes())
	if size == 0 || size%sector != 0 {
		return fmt.Errorf("erase size 0x%X is not a multiple of 0x%X", size, sector)
	}
	if err := s.checkRange(start, int(size)); err != nil {
		return err
	}

	startTime := time.Now()
	for addr := start; addr < start+size; {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}

		kind := protocol.Erase4K
		if addr%block == 0 && start+size-addr >= block {
			kind = protocol.Erase64K
		}

		s.reportProgress(Progress{
			Phase:       PhaseErasing,
			Address:     addr,
			Percentage:  float64(addr-start) / float64(size) * 100,
			Bytes:       int(addr - start),
			ElapsedTime: time.Since(startTime),
		})

		cmd, err := s.opcodes().BuildFlashEraseCmd(kind, s.profile.WireAddress(addr))
		if err != nil {
			return err
		}
		if _, err := s.exchange(ctx, cmd); err != nil {
			return fmt.Errorf("erase at 0x%06X: %w", addr, err)
		}
		addr += uint32(kind.Bytes())
	}

	s.reportProgress(Progress{
		Phase:       PhaseComplete,
		Address:     start + size,
		Percentage:  100,
		Bytes:       int(size),
		ElapsedTime: time.Since(startTime),
	})
	return nil
}

// segmentError names the failing segment in errors that do not carry its
// offset already. The cause stays reachable through errors.Is and errors.As.
func segmentError(addr uint32, err error) error {
	var sve *SegmentVerificationError
	if errors.As(err, &sve) {
		return err
	}
	return fmt.Errorf("segment at 0x%06X: %w", addr, err)
}

func (s *Session) checkRange(start uint32, length int) error {
	segSize := uint32(s.profile.SegmentSize)
	if start%segSize != 0 {
		return fmt.Errorf("start offset 0x%X is not aligned to 0x%X", start, segSize)
	}
	if s.profile.FlashSize != 0 && uint64(start)+uint64(length) > uint64(s.profile.FlashSize) {
		return fmt.Errorf("range 0x%X+0x%X exceeds flash size 0x%X", start, length, s.profile.FlashSize)
	}
	return nil
}

// effectiveVerify disables verification for chips whose CRC is unreliable.
func (s *Session) effectiveVerify(verify bool) bool {
	if verify && s.profile.ChecksumUnreliable {
		s.logFlashWarnf("%s reports unreliable CRC values, skipping verification", s.profile.Name)
		return false
	}
	return verify
}

func (s *Session) logFlashInfof(format string, args ...interface{}) {
	if s.flashLog != nil {
		s.flashLog.Infof(format, args...)
	}
}

func (s *Session) logFlashWarnf(format string, args ...interface{}) {
	if s.flashLog != nil {
		s.flashLog.Warnf(format, args...)
	}
}

func (s *Session) logFlashErrorf(format string, args ...interface{}) {
	if s.flashLog != nil {
		s.flashLog.Errorf(format, args...)
	}
}

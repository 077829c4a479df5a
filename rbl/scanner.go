package rbl

import (
	"bytes"
	"fmt"
	"iter"
)

// MalformedContainerError describes a magic match that was not accepted as a
// container. Scanners recover from it and keep scanning; it only reaches
// callers through a reject hook.
type MalformedContainerError struct {
	// Offset is the position of the rejected magic
	Offset int

	// Reason describes the failed check
	Reason string
}

func (e *MalformedContainerError) Error() string {
	return fmt.Sprintf("rbl: malformed container at 0x%X: %s", e.Offset, e.Reason)
}

// ScanOption configures a Scanner.
type ScanOption func(*Scanner)

// WithSkipChecksum accepts headers whose CRC does not match.
func WithSkipChecksum(skip bool) ScanOption {
	return func(s *Scanner) {
		s.skipChecksum = skip
	}
}

// WithRejectHook sets a function called for every rejected candidate.
func WithRejectHook(hook func(*MalformedContainerError)) ScanOption {
	return func(s *Scanner) {
		s.reject = hook
	}
}

// Scanner finds RBL containers in a flash image.
type Scanner struct {
	image        []byte
	skipChecksum bool
	reject       func(*MalformedContainerError)
}

// NewScanner returns a scanner over image. The image is only read.
func NewScanner(image []byte, opts ...ScanOption) *Scanner {
	s := &Scanner{image: image}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// All returns the containers of the image in ascending offset order.
//
// Every occurrence of the magic is a candidate. A candidate is rejected when
// its header is truncated, fails its CRC, names no printable partition,
// declares an empty payload, extends past the end of the image or starts
// inside the previously accepted container. Scanning then resumes at the
// next byte, since the size field of a rejected header cannot be trusted.
//
// The sequence is lazy and can be iterated any number of times.
//
// Example:
//
//	for c := range rbl.NewScanner(img.Bytes()).All() {
//	    fmt.Println(c)
//	}
func (s *Scanner) All() iter.Seq[*Container] {
	return func(yield func(*Container) bool) {
		prevEnd := 0
		for off := 0; off <= len(s.image)-len(Magic); {
			i := bytes.Index(s.image[off:], Magic)
			if i < 0 {
				return
			}
			pos := off + i
			off = pos + 1

			c, reason := s.parseAt(pos)
			if reason == "" && pos < prevEnd {
				reason = fmt.Sprintf("overlaps container ending at 0x%X", prevEnd)
			}
			if reason != "" {
				if s.reject != nil {
					s.reject(&MalformedContainerError{Offset: pos, Reason: reason})
				}
				continue
			}

			if !yield(c) {
				return
			}
			prevEnd = c.End()
		}
	}
}

// Containers collects All into a slice.
func (s *Scanner) Containers() []*Container {
	var out []*Container
	for c := range s.All() {
		out = append(out, c)
	}
	return out
}

// parseAt decodes the candidate at pos and returns the reason it is rejected,
// or an empty reason for a valid container.
func (s *Scanner) parseAt(pos int) (*Container, string) {
	if len(s.image)-pos < HeaderSize {
		return nil, fmt.Sprintf("truncated header: %d bytes left", len(s.image)-pos)
	}
	raw := s.image[pos : pos+HeaderSize : pos+HeaderSize]

	h, err := ParseHeader(raw)
	if err != nil {
		return nil, err.Error()
	}
	if !s.skipChecksum && !VerifyHeaderCRC(raw) {
		return nil, fmt.Sprintf("header crc mismatch (stored 0x%08X)", h.HeaderCRC)
	}
	if err := h.Validate(); err != nil {
		return nil, err.Error()
	}

	start := pos + HeaderSize
	end := uint64(start) + uint64(h.PackageSize)
	if end > uint64(len(s.image)) {
		return nil, fmt.Sprintf("payload of 0x%X bytes ends past image end 0x%X", h.PackageSize, len(s.image))
	}

	return &Container{
		Offset:    pos,
		Header:    h,
		RawHeader: raw,
		Payload:   s.image[start:int(end):int(end)],
	}, ""
}

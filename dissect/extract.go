package dissect

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pion/logging"

	"github.com/moffa90/go-bk7231/crypt"
	"github.com/moffa90/go-bk7231/flashimg"
	"github.com/moffa90/go-bk7231/rbl"
)

// Kind classifies an artifact.
type Kind string

// Artifact kinds.
const (
	KindRaw       Kind = "raw"
	KindDecrypted Kind = "decrypted"
	KindRBL       Kind = "rbl"
	KindCarved    Kind = "carved"
)

// Artifact is one output of extraction.
type Artifact struct {
	// Name is the partition name
	Name string

	// Kind tells what Data holds
	Kind Kind

	// Path is the file the artifact was written to, empty when extraction
	// is disabled
	Path string

	// Data is the artifact content. Raw artifacts alias the image.
	Data []byte
}

// Result is the outcome of extracting one container.
type Result struct {
	Container *rbl.Container

	// Artifacts holds the artifacts produced, raw first
	Artifacts []Artifact

	// Warnings holds recovered failures such as unsupported encodings
	Warnings []error

	// Err is set when not even the raw artifact could be produced
	Err error
}

// Extract writes the artifacts of one container: the raw payload, the
// decrypted payload when the registry knows the partition, and the
// standalone container when ReconstructRBL is set. The image is never
// modified and running Extract twice yields identical files.
//
// Decryption failures do not prevent the raw artifact; they are returned
// among the errors together with any write failure.
//
// Example:
//
//	for c := range rbl.NewScanner(img.Bytes()).All() {
//	    arts, errs := dissect.Extract(c, img, dissect.WithOutputDir("out"))
//	    ...
//	}
func Extract(c *rbl.Container, img *flashimg.Image, opts ...Option) ([]Artifact, []error) {
	cfg := newConfig(opts)
	cfg.Extract = true

	x := newExtractor(cfg)
	if err := x.prepare(); err != nil {
		return nil, []error{err}
	}

	r := x.extract(c, c.Header.Name, img)
	errs := r.Warnings
	if r.Err != nil {
		errs = append(errs, r.Err)
	}
	return r.Artifacts, errs
}

// extractor carries the configuration shared by all extraction workers. It
// holds no mutable state and is safe for concurrent use.
type extractor struct {
	cfg Config
	log logging.LeveledLogger
}

func newExtractor(cfg Config) *extractor {
	x := &extractor{cfg: cfg}
	if cfg.LoggerFactory != nil {
		x.log = cfg.LoggerFactory.NewLogger("bk7231-dissect")
	}
	return x
}

// prepare creates the output directory.
func (x *extractor) prepare() error {
	if !x.cfg.Extract {
		return nil
	}
	if err := os.MkdirAll(x.cfg.OutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}
	return nil
}

// extract produces the artifacts of c. label names the output files and
// differs from the partition name only when several containers share it.
func (x *extractor) extract(c *rbl.Container, label string, img *flashimg.Image) Result {
	r := Result{Container: c}
	name := c.Header.Name

	payload, err := img.Slice(c.PayloadOffset(), len(c.Payload))
	if err != nil {
		r.Err = fmt.Errorf("%s at 0x%X: %w", name, c.Offset, err)
		return r
	}
	if !c.VerifyPayload() {
		x.logWarnf("%s at 0x%X: payload crc does not match header", name, c.Offset)
	}

	raw, err := x.write(name, KindRaw, x.fileName(label, ".bin"), payload)
	if err != nil {
		r.Err = err
		return r
	}
	r.Artifacts = append(r.Artifacts, raw)

	if x.cfg.Registry.Encrypted(name) {
		plain, err := x.cfg.Registry.Decrypt(name, c.Header.Algorithm, pad(payload), x.cfg.Layout.mappedAddress(name))
		if err != nil {
			x.logWarnf("%s at 0x%X: %v", name, c.Offset, err)
			r.Warnings = append(r.Warnings, fmt.Errorf("%s at 0x%X: %w", name, c.Offset, err))
		} else if a, err := x.write(name, KindDecrypted, x.fileName(label, "_decrypted.bin"), plain); err != nil {
			r.Warnings = append(r.Warnings, err)
		} else {
			r.Artifacts = append(r.Artifacts, a)
		}
	}

	if x.cfg.ReconstructRBL {
		if a, err := x.write(name, KindRBL, x.fileName(label, ".rbl"), c.Bytes()); err != nil {
			r.Warnings = append(r.Warnings, err)
		} else {
			r.Artifacts = append(r.Artifacts, a)
		}
	}

	x.logInfof("%s at 0x%X: %d artifact(s)", name, c.Offset, len(r.Artifacts))
	return r
}

// write stores data under file in the output directory when extraction is
// enabled.
func (x *extractor) write(name string, kind Kind, file string, data []byte) (Artifact, error) {
	a := Artifact{Name: name, Kind: kind, Data: data}
	if !x.cfg.Extract {
		return a, nil
	}

	a.Path = filepath.Join(x.cfg.OutputDir, file)
	if err := os.WriteFile(a.Path, data, 0o644); err != nil {
		return Artifact{}, fmt.Errorf("failed to write %s artifact of %s: %w", kind, name, err)
	}
	x.logDebugf("wrote %s (%d bytes)", a.Path, len(data))
	return a, nil
}

// fileName builds "<prefix>_<label><suffix>" with path separators and other
// unsafe characters of the label replaced.
func (x *extractor) fileName(label, suffix string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, label)
	if x.cfg.FilePrefix != "" {
		safe = x.cfg.FilePrefix + "_" + safe
	}
	return safe + suffix
}

// pad returns a copy of data padded with 0xFF to the code cipher block size.
func pad(data []byte) []byte {
	n := (len(data) + crypt.PadBlockSize - 1) / crypt.PadBlockSize * crypt.PadBlockSize
	out := make([]byte, n)
	copy(out, data)
	copy(out[len(data):], bytes.Repeat([]byte{0xFF}, n-len(data)))
	return out
}

func (x *extractor) logDebugf(format string, args ...interface{}) {
	if x.log != nil {
		x.log.Debugf(format, args...)
	}
}

func (x *extractor) logInfof(format string, args ...interface{}) {
	if x.log != nil {
		x.log.Infof(format, args...)
	}
}

func (x *extractor) logWarnf(format string, args ...interface{}) {
	if x.log != nil {
		x.log.Warnf(format, args...)
	}
}

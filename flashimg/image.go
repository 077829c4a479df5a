// Package flashimg provides read-only access to BK7231 flash images.
//
// An Image is either built from a byte slice (a flash read from a device) or
// opened from a dump file. Plain dumps are memory-mapped read-only; xz, lz4
// and gzip compressed dumps are decompressed into memory. Images are safe for
// concurrent readers and are never modified after construction.
package flashimg

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"os"

	"github.com/edsrzf/mmap-go"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Format is the on-disk encoding of a dump file.
type Format int

const (
	FormatRaw Format = iota
	FormatXZ
	FormatLZ4
	FormatGzip
)

var (
	magicXZ   = []byte("\xfd7zXZ")
	magicLZ4  = []byte("\x04\x22\x4d\x18")
	magicGzip = []byte("\x1f\x8b")
)

func (f Format) String() string {
	switch f {
	case FormatXZ:
		return "xz"
	case FormatLZ4:
		return "lz4"
	case FormatGzip:
		return "gzip"
	default:
		return "raw"
	}
}

// DetectFormat returns the dump format indicated by the leading magic bytes.
func DetectFormat(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, magicXZ):
		return FormatXZ
	case bytes.HasPrefix(head, magicLZ4):
		return FormatLZ4
	case bytes.HasPrefix(head, magicGzip):
		return FormatGzip
	default:
		return FormatRaw
	}
}

// Image is a read-only flash image.
type Image struct {
	data   []byte
	mm     mmap.MMap
	file   *os.File
	format Format
}

// New returns an image over b. The caller hands b over and must not modify
// it afterwards.
func New(b []byte) *Image {
	return &Image{data: b}
}

// Open opens a dump file. Compressed dumps are detected by their magic.
func Open(path string) (*Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash dump: %w", err)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat flash dump: %w", err)
	}
	if st.Size() == 0 {
		f.Close()
		return New(nil), nil
	}

	head := make([]byte, 6)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		f.Close()
		return nil, fmt.Errorf("failed to read flash dump: %w", err)
	}

	format := DetectFormat(head[:n])
	if format != FormatRaw {
		defer f.Close()
		if _, err := f.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("failed to rewind flash dump: %w", err)
		}
		data, err := decompress(format, f)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s flash dump: %w", format, err)
		}
		img := New(data)
		img.format = format
		return img, nil
	}

	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to map flash dump: %w", err)
	}

	return &Image{data: m, mm: m, file: f}, nil
}

func decompress(format Format, r io.Reader) ([]byte, error) {
	var dec io.Reader
	switch format {
	case FormatXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, err
		}
		dec = xr
	case FormatLZ4:
		dec = lz4.NewReader(r)
	case FormatGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		dec = gr
	default:
		return io.ReadAll(r)
	}
	return io.ReadAll(dec)
}

// Bytes returns the image content. The slice must not be modified.
func (img *Image) Bytes() []byte {
	return img.data
}

// Len returns the image size in bytes.
func (img *Image) Len() int {
	return len(img.data)
}

// Format returns the encoding the image was loaded from.
func (img *Image) Format() Format {
	return img.format
}

// Slice returns n bytes at off without copying.
func (img *Image) Slice(off, n int) ([]byte, error) {
	if off < 0 || n < 0 || off > len(img.data) || n > len(img.data)-off {
		return nil, fmt.Errorf("range [0x%X, +0x%X) outside image of 0x%X bytes", off, n, len(img.data))
	}
	return img.data[off : off+n : off+n], nil
}

// Close releases the mapping of a file-backed image. It is safe to call more
// than once.
func (img *Image) Close() error {
	var err error
	if img.mm != nil {
		err = img.mm.Unmap()
		img.mm = nil
	}
	if img.file != nil {
		if cerr := img.file.Close(); err == nil {
			err = cerr
		}
		img.file = nil
	}
	img.data = nil
	return err
}

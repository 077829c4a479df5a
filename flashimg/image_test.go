package flashimg

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

func testData() []byte {
	data := make([]byte, 3*4096+17)
	for i := range data {
		data[i] = byte(i * 7)
	}
	return data
}

func writeDump(t *testing.T, name string, compress func(*bytes.Buffer, []byte)) string {
	t.Helper()

	var buf bytes.Buffer
	compress(&buf, testData())

	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("failed to write dump: %v", err)
	}
	return path
}

func TestOpen(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		format   Format
		compress func(*bytes.Buffer, []byte)
	}{
		{
			name:   "raw",
			file:   "dump.bin",
			format: FormatRaw,
			compress: func(buf *bytes.Buffer, data []byte) {
				buf.Write(data)
			},
		},
		{
			name:   "gzip",
			file:   "dump.bin.gz",
			format: FormatGzip,
			compress: func(buf *bytes.Buffer, data []byte) {
				w := gzip.NewWriter(buf)
				w.Write(data)
				w.Close()
			},
		},
		{
			name:   "xz",
			file:   "dump.bin.xz",
			format: FormatXZ,
			compress: func(buf *bytes.Buffer, data []byte) {
				w, err := xz.NewWriter(buf)
				if err != nil {
					panic(err)
				}
				w.Write(data)
				w.Close()
			},
		},
		{
			name:   "lz4",
			file:   "dump.bin.lz4",
			format: FormatLZ4,
			compress: func(buf *bytes.Buffer, data []byte) {
				w := lz4.NewWriter(buf)
				w.Write(data)
				w.Close()
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Open(writeDump(t, tt.file, tt.compress))
			if err != nil {
				t.Fatalf("Open() error: %v", err)
			}
			defer img.Close()

			if img.Format() != tt.format {
				t.Errorf("Format() = %v, want %v", img.Format(), tt.format)
			}
			if !bytes.Equal(img.Bytes(), testData()) {
				t.Errorf("content mismatch: got %d bytes, want %d", img.Len(), len(testData()))
			}
		})
	}
}

func TestOpenEmptyAndMissing(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.bin")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	img, err := Open(path)
	if err != nil {
		t.Fatalf("Open(empty) error: %v", err)
	}
	if img.Len() != 0 {
		t.Errorf("Len() = %d, want 0", img.Len())
	}
	img.Close()

	if _, err := Open(filepath.Join(t.TempDir(), "missing.bin")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestSlice(t *testing.T) {
	img := New(testData())

	tests := []struct {
		name    string
		off, n  int
		wantErr bool
	}{
		{name: "start", off: 0, n: 16},
		{name: "whole", off: 0, n: img.Len()},
		{name: "tail", off: img.Len() - 1, n: 1},
		{name: "empty at end", off: img.Len(), n: 0},
		{name: "past end", off: img.Len() - 1, n: 2, wantErr: true},
		{name: "negative offset", off: -1, n: 1, wantErr: true},
		{name: "negative length", off: 0, n: -1, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := img.Slice(tt.off, tt.n)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !bytes.Equal(got, testData()[tt.off:tt.off+tt.n]) {
				t.Error("slice content mismatch")
			}
			if cap(got) != tt.n {
				t.Errorf("cap = %d, want %d", cap(got), tt.n)
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	if DetectFormat([]byte("RBL\x00")) != FormatRaw {
		t.Error("RBL header detected as compressed")
	}
	if DetectFormat(nil) != FormatRaw {
		t.Error("empty input detected as compressed")
	}
	if DetectFormat([]byte{0x1f, 0x8b, 0x08}) != FormatGzip {
		t.Error("gzip magic not detected")
	}
}

package rbl

import (
	"bytes"
	"math/rand/v2"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/moffa90/go-bk7231/crypt"
)

// place builds a container and copies it into image at off.
func place(t testing.TB, image []byte, off int, h Header, payload []byte) []byte {
	t.Helper()
	b, err := Build(h, payload)
	if err != nil {
		t.Fatalf("Build() error: %v", err)
	}
	copy(image[off:], b)
	return b
}

func filled(n int, v byte) []byte {
	return bytes.Repeat([]byte{v}, n)
}

func offsets(cs []*Container) []int {
	out := make([]int, 0, len(cs))
	for _, c := range cs {
		out = append(out, c.Offset)
	}
	return out
}

func TestScannerFindsBuiltContainer(t *testing.T) {
	want := Header{
		Algorithm:    crypt.EncryptNone | crypt.CompressNone,
		Timestamp:    1700000000,
		Name:         "bootloader",
		Version:      "1.0.1",
		SerialNumber: "7231T",
	}
	payload := filled(0x400, 0x5A)

	image := filled(0x2000, 0xFF)
	place(t, image, 0x123, want, payload)

	got := NewScanner(image).Containers()
	if len(got) != 1 {
		t.Fatalf("found %d containers, want 1", len(got))
	}

	c := got[0]
	if c.Offset != 0x123 {
		t.Errorf("Offset = 0x%X, want 0x123", c.Offset)
	}
	if !bytes.Equal(c.Payload, payload) {
		t.Error("payload mismatch")
	}
	if !c.VerifyPayload() {
		t.Error("VerifyPayload() = false")
	}

	diff := cmp.Diff(want, c.Header,
		cmpopts.IgnoreFields(Header{}, "PayloadCRC", "FirmwareHash", "RawSize", "PackageSize", "HeaderCRC"))
	if diff != "" {
		t.Errorf("header mismatch (-want +got):\n%s", diff)
	}
	if c.Header.PackageSize != uint32(len(payload)) {
		t.Errorf("PackageSize = 0x%X, want 0x%X", c.Header.PackageSize, len(payload))
	}
}

func TestScannerWithoutMagic(t *testing.T) {
	random := make([]byte, 1<<20)
	rng := rand.New(rand.NewPCG(7231, 1))
	for i := range random {
		random[i] = byte(rng.UintN(256))
	}

	tests := []struct {
		name  string
		image []byte
	}{
		{name: "nil", image: nil},
		{name: "shorter than magic", image: []byte("RBL")},
		{name: "zeros", image: make([]byte, 1<<20)},
		{name: "erased flash", image: filled(1<<20, 0xFF)},
		{name: "random", image: random},
		{name: "magic at end", image: append(make([]byte, 100), Magic...)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NewScanner(tt.image).Containers(); len(got) != 0 {
				t.Errorf("found %d containers, want 0", len(got))
			}
		})
	}
}

func TestScannerBounds(t *testing.T) {
	payload := filled(0x100, 0x11)
	built, err := Build(NewHeader("app", "1.0"), payload)
	if err != nil {
		t.Fatal(err)
	}

	const off = 0x40
	exact := append(make([]byte, off), built...)

	t.Run("extent ends at image end", func(t *testing.T) {
		got := NewScanner(exact).Containers()
		if len(got) != 1 || got[0].End() != len(exact) {
			t.Fatalf("containers = %v, want one ending at 0x%X", got, len(exact))
		}
	})

	t.Run("extent one byte past image end", func(t *testing.T) {
		var rejected []*MalformedContainerError
		image := exact[:len(exact)-1]
		got := NewScanner(image, WithRejectHook(func(e *MalformedContainerError) {
			rejected = append(rejected, e)
		})).Containers()

		if len(got) != 0 {
			t.Fatalf("found %d containers, want 0", len(got))
		}
		if len(rejected) != 1 || rejected[0].Offset != off {
			t.Fatalf("rejections = %v", rejected)
		}
		if !strings.Contains(rejected[0].Reason, "past image end") {
			t.Errorf("reason = %q", rejected[0].Reason)
		}
	})
}

func TestScannerRejections(t *testing.T) {
	tests := []struct {
		name       string
		build      func(t *testing.T) []byte
		opts       []ScanOption
		wantOffset []int
		wantReason string
	}{
		{
			name: "adjacent containers",
			build: func(t *testing.T) []byte {
				image := filled(0x1000, 0xFF)
				first := place(t, image, 0, NewHeader("bootloader", "1"), filled(0x200, 1))
				place(t, image, len(first), NewHeader("app", "1"), filled(0x200, 2))
				return image
			},
			wantOffset: []int{0, HeaderSize + 0x200},
		},
		{
			name: "gap between containers",
			build: func(t *testing.T) []byte {
				image := filled(0x1000, 0xFF)
				place(t, image, 0x10, NewHeader("bootloader", "1"), filled(0x100, 1))
				place(t, image, 0x800, NewHeader("app", "1"), filled(0x100, 2))
				return image
			},
			wantOffset: []int{0x10, 0x800},
		},
		{
			name: "overlapping container dropped",
			build: func(t *testing.T) []byte {
				image := filled(0x1000, 0xFF)
				place(t, image, 0, NewHeader("bootloader", "1"), filled(0x400, 1))
				place(t, image, 0x200, NewHeader("app", "1"), filled(0x100, 2))
				return image
			},
			wantOffset: []int{0},
			wantReason: "overlaps",
		},
		{
			name: "corrupt header crc rejected",
			build: func(t *testing.T) []byte {
				image := filled(0x1000, 0xFF)
				place(t, image, 0x20, NewHeader("app", "1"), filled(0x100, 1))
				image[0x20+offTimestamp] ^= 0xFF
				return image
			},
			wantOffset: []int{},
			wantReason: "header crc mismatch",
		},
		{
			name: "corrupt header crc tolerated",
			build: func(t *testing.T) []byte {
				image := filled(0x1000, 0xFF)
				place(t, image, 0x20, NewHeader("app", "1"), filled(0x100, 1))
				image[0x20+offTimestamp] ^= 0xFF
				return image
			},
			opts:       []ScanOption{WithSkipChecksum(true)},
			wantOffset: []int{0x20},
		},
		{
			name: "stray magic before container",
			build: func(t *testing.T) []byte {
				image := filled(0x1000, 0x00)
				copy(image[0x08:], Magic)
				place(t, image, 0x0C, NewHeader("app", "1"), filled(0x100, 1))
				return image
			},
			wantOffset: []int{0x0C},
			wantReason: "header crc mismatch",
		},
		{
			name: "zero size with valid crc",
			build: func(t *testing.T) []byte {
				image := filled(0x1000, 0xFF)
				h, err := NewHeader("app", "1").MarshalBinary()
				if err != nil {
					t.Fatal(err)
				}
				copy(image[0x30:], h)
				return image
			},
			wantOffset: []int{},
			wantReason: "zero package size",
		},
		{
			name: "truncated header",
			build: func(t *testing.T) []byte {
				image := filled(0x100, 0xFF)
				copy(image[0x100-HeaderSize+1:], Magic)
				return image
			},
			wantOffset: []int{},
			wantReason: "truncated header",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var reasons []string
			opts := append(tt.opts, WithRejectHook(func(e *MalformedContainerError) {
				reasons = append(reasons, e.Reason)
			}))

			got := offsets(NewScanner(tt.build(t), opts...).Containers())
			if diff := cmp.Diff(tt.wantOffset, got); diff != "" {
				t.Errorf("offsets mismatch (-want +got):\n%s", diff)
			}

			if tt.wantReason == "" {
				return
			}
			found := false
			for _, r := range reasons {
				if strings.Contains(r, tt.wantReason) {
					found = true
				}
			}
			if !found {
				t.Errorf("reasons = %q, want one containing %q", reasons, tt.wantReason)
			}
		})
	}
}

func TestScannerRestartable(t *testing.T) {
	image := filled(0x3000, 0xFF)
	place(t, image, 0x100, NewHeader("bootloader", "1"), filled(0x300, 1))
	place(t, image, 0x1000, NewHeader("app", "1"), filled(0x300, 2))
	place(t, image, 0x2000, NewHeader("download", "1"), filled(0x300, 3))

	s := NewScanner(image)
	first := offsets(s.Containers())
	second := offsets(s.Containers())
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("second scan differs (-first +second):\n%s", diff)
	}
	if len(first) != 3 {
		t.Fatalf("found %d containers, want 3", len(first))
	}

	// stopping early leaves the scanner reusable
	for c := range s.All() {
		if c.Offset != 0x100 {
			t.Errorf("first container at 0x%X", c.Offset)
		}
		break
	}
	if got := offsets(s.Containers()); len(got) != 3 {
		t.Errorf("scan after early stop found %v", got)
	}
}

func TestMalformedContainerError(t *testing.T) {
	err := &MalformedContainerError{Offset: 0x10F9A, Reason: "zero package size"}
	want := "rbl: malformed container at 0x10F9A: zero package size"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func BenchmarkScanner(b *testing.B) {
	image := filled(4<<20, 0xFF)
	place(b, image, 0x10000, NewHeader("bootloader", "1"), filled(0xD000, 1))
	place(b, image, 0x130000, NewHeader("app", "1"), filled(0xF0000, 2))

	b.SetBytes(int64(len(image)))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if n := len(NewScanner(image).Containers()); n != 2 {
			b.Fatalf("found %d containers", n)
		}
	}
}

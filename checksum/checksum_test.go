package checksum

import "testing"

func TestCRC32(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint32
	}{
		{
			name:     "empty data",
			data:     []byte{},
			expected: 0x00000000,
		},
		{
			name:     "check string",
			data:     []byte("123456789"),
			expected: 0xCBF43926,
		},
		{
			name:     "erased flash word",
			data:     []byte{0xFF, 0xFF, 0xFF, 0xFF},
			expected: 0xFFFFFFFF,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CRC32(tt.data)
			if result != tt.expected {
				t.Errorf("CRC32() = 0x%08X, want 0x%08X", result, tt.expected)
			}
		})
	}
}

func TestUpdateCRC32(t *testing.T) {
	data := []byte("123456789")
	crc := UpdateCRC32(0, data[:4])
	crc = UpdateCRC32(crc, data[4:])
	if crc != CRC32(data) {
		t.Errorf("UpdateCRC32() = 0x%08X, want 0x%08X", crc, CRC32(data))
	}
}

func TestCRC16(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		expected uint16
	}{
		{
			name:     "empty data",
			data:     []byte{},
			expected: 0xFFFF,
		},
		{
			name:     "single byte zero",
			data:     []byte{0x00},
			expected: 0xE1F0,
		},
		{
			name:     "check string",
			data:     []byte("123456789"),
			expected: 0x29B1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := CRC16(tt.data)
			if result != tt.expected {
				t.Errorf("CRC16() = 0x%04X, want 0x%04X", result, tt.expected)
			}
		})
	}
}

func TestVerifyBlock(t *testing.T) {
	block := make([]byte, BlockSize)
	for i := range block {
		block[i] = byte(i * 7)
	}
	framed := AppendBlockCRC(append([]byte(nil), block...), block)

	if !VerifyBlock(framed[:BlockSize], framed[BlockSize:]) {
		t.Fatal("VerifyBlock() = false for a freshly framed block")
	}

	framed[3] ^= 0x01
	if VerifyBlock(framed[:BlockSize], framed[BlockSize:]) {
		t.Error("VerifyBlock() = true after corrupting the block")
	}

	if VerifyBlock(block[:16], []byte{0, 0}) {
		t.Error("VerifyBlock() = true for a short block")
	}
}

func TestFNV1a32(t *testing.T) {
	if got := FNV1a32(nil); got != 0x811C9DC5 {
		t.Errorf("FNV1a32(nil) = 0x%08X, want 0x811C9DC5", got)
	}
	if got := FNV1a32([]byte("a")); got != 0xE40C292C {
		t.Errorf("FNV1a32(a) = 0x%08X, want 0xE40C292C", got)
	}
}

func BenchmarkCRC32(b *testing.B) {
	data := make([]byte, 4096)
	for i := range data {
		data[i] = byte(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CRC32(data)
	}
}

func BenchmarkCRC16(b *testing.B) {
	data := make([]byte, BlockSize)
	for i := range data {
		data[i] = byte(i)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		CRC16(data)
	}
}

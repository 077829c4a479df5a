package dissect

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/moffa90/go-bk7231/checksum"
	"github.com/moffa90/go-bk7231/flashimg"
)

// paddingBlock is the granularity of the 0xFF padding scan.
const paddingBlock = 16

var erased = bytes.Repeat([]byte{0xFF}, paddingBlock)

// Carve recovers the payload of a partition whose RBL header is missing by
// walking the CRC-16 protected 32-byte blocks code partitions are stored in.
//
// The end of the data is located by scanning backwards for 0xFF padding.
// Blocks are then taken from the start of the partition until the first one
// failing its CRC; a failing first block is an error. The returned payload
// has the CRC bytes removed.
func Carve(img *flashimg.Image, p Partition) ([]byte, error) {
	size := int(p.Size)
	if int(p.Start) < img.Len() && size > img.Len()-int(p.Start) {
		size = img.Len() - int(p.Start)
	}
	data, err := img.Slice(int(p.Start), size)
	if err != nil {
		return nil, fmt.Errorf("partition %s: %w", p.Name, err)
	}

	end, ok := carveEnd(data)
	if !ok {
		return nil, fmt.Errorf("could not find end of partition %s", p.Name)
	}
	payload := data[:end]
	if len(payload) == 0 {
		// no padding boundary found, walk the whole partition
		payload = data
	}

	return walkBlocks(p.Name, payload)
}

// carveEnd returns the length of the data preceding the last padding
// boundary, 0 when there is none, and false when the partition holds no
// padding at all.
func carveEnd(data []byte) (int, bool) {
	i := len(data) - len(data)%paddingBlock
	for ; i > 0; i -= paddingBlock {
		if bytes.Equal(data[i-paddingBlock:i], erased) {
			break
		}
	}
	if i <= 0 {
		return 0, false
	}

	for ; i >= 2*paddingBlock; i -= paddingBlock {
		if !bytes.Equal(data[i-paddingBlock:i], erased) && bytes.Equal(data[i-2*paddingBlock:i-paddingBlock], erased) {
			// keep the CRC of the last padding block
			return i - paddingBlock + checksum.BlockCRCSize, true
		}
	}
	return 0, true
}

func walkBlocks(name string, data []byte) ([]byte, error) {
	const stride = checksum.BlockSize + checksum.BlockCRCSize
	out := make([]byte, 0, len(data)/stride*checksum.BlockSize)
	for off := 0; off+stride <= len(data); off += stride {
		block := data[off : off+checksum.BlockSize]
		if !checksum.VerifyBlock(block, data[off+checksum.BlockSize:off+stride]) {
			break
		}
		out = append(out, block...)
	}

	if len(out) == 0 {
		return nil, errors.New("first block fails its crc-16 check in partition " + name)
	}
	return out, nil
}

package index

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
)

// gziEntrySize is one (compressed, uncompressed) pair of little-endian u64.
const gziEntrySize = 16

// ParseGZI reads a bgzip .gzi index: a u64 entry count followed by that many
// pairs. The file omits the first block, so (0, 0) is prepended.
func ParseGZI(r io.Reader) ([]BlockOffset, error) {
	br := bufio.NewReader(r)

	var countBuf [8]byte
	if _, err := io.ReadFull(br, countBuf[:]); err != nil {
		return nil, fastarerrors.ErrMalformedIndex.
			WithMessage("truncated gzi header").
			WithCause(err)
	}
	count := binary.LittleEndian.Uint64(countBuf[:])

	// Cap the preallocation; a corrupt count must not trigger a huge allocation.
	capHint := count + 1
	if capHint > 1<<20 {
		capHint = 1 << 20
	}
	blocks := make([]BlockOffset, 1, capHint)

	var entry [gziEntrySize]byte
	for i := uint64(0); i < count; i++ {
		if _, err := io.ReadFull(br, entry[:]); err != nil {
			return nil, fastarerrors.ErrMalformedIndex.
				WithMessage("truncated gzi entries").
				WithDetail("entry", i).
				WithDetail("count", count).
				WithCause(err)
		}
		blocks = append(blocks, BlockOffset{
			Compressed:   binary.LittleEndian.Uint64(entry[0:8]),
			Uncompressed: binary.LittleEndian.Uint64(entry[8:16]),
		})
	}

	return blocks, nil
}

// ReadGZI parses the .gzi file at path.
func ReadGZI(path string) ([]BlockOffset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open gzi: %w", err)
	}
	defer f.Close()

	blocks, err := ParseGZI(f)
	if err != nil {
		if fe, ok := err.(*fastarerrors.FastarError); ok {
			return nil, fe.WithDetail("path", path)
		}
		return nil, err
	}
	return blocks, nil
}

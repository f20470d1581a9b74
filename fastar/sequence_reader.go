package fastar

import (
	"fmt"

	"github.com/Turakar/fastar-loader/fastar/archive"
	"github.com/Turakar/fastar-loader/fastar/codec"
	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
	"github.com/Turakar/fastar-loader/fastar/metrics"
	"github.com/Turakar/fastar-loader/fastar/storage"
)

// spanReader fetches uncompressed byte spans of one source through the block
// table of its archive.
type spanReader struct {
	view archive.View
	src  storage.BlockSource
	dec  codec.Decompressor
}

// SequenceReader turns (contig, start, length) requests into reads of the
// smallest run of compressed blocks that covers them. It holds no mutable
// state and is safe for concurrent use.
type SequenceReader struct {
	spanReader
}

// NewSequenceReader binds an archive view to the compressed source it indexes.
func NewSequenceReader(view archive.View, src storage.BlockSource, dec codec.Decompressor) *SequenceReader {
	return &SequenceReader{spanReader{view: view, src: src, dec: dec}}
}

// Read returns length bases of contig starting at base start, without line
// terminators.
func (r *SequenceReader) Read(contig string, start, length uint64) ([]byte, error) {
	rec, ok := r.view.LookupContig(contig)
	if !ok {
		return nil, NewUnknownContigError(contig)
	}
	if start > rec.Length || length > rec.Length-start {
		return nil, NewRangeOutOfBoundsError(contig, start, length, rec.Length)
	}
	if length == 0 {
		return []byte{}, nil
	}

	first := rec.Position(start)
	last := rec.Position(start + length - 1)
	data, base, err := r.readSpan(first, last)
	if err != nil {
		return nil, err
	}

	out := make([]byte, length)
	for n := uint64(0); n < length; {
		col := (start + n) % rec.LineBases
		run := min(rec.LineBases-col, length-n)
		pos := rec.Position(start+n) - base
		copy(out[n:n+run], data[pos:pos+run])
		n += run
	}
	return out, nil
}

// readSpan returns the decompressed blocks covering the uncompressed bytes
// first..last inclusive, and the uncompressed offset the data starts at.
func (r *spanReader) readSpan(first, last uint64) ([]byte, uint64, error) {
	blocks := r.view.Blocks()
	i, j := blocks.Search(first), blocks.Search(last)
	if i < 0 {
		return nil, 0, fastarerrors.ErrCorruptArchive.
			WithMessage("no block covers position").
			WithDetail("position", first)
	}

	data, base, err := r.fetch(blocks, i, j)
	if err != nil {
		return nil, 0, err
	}
	if base+uint64(len(data)) <= last {
		return nil, 0, NewDecompressionError("decompressed data ends before requested range", blocks.At(j).Compressed).
			WithDetail("needed", last+1-base).
			WithDetail("got", len(data))
	}
	return data, base, nil
}

// fetch reads the compressed span of blocks i..j in one range read and
// decompresses each block on its own. It returns the concatenated output and
// the uncompressed offset it starts at.
func (r *spanReader) fetch(blocks archive.BlockTable, i, j int) ([]byte, uint64, error) {
	size := uint64(r.src.Size())
	startBlock := blocks.At(i)

	end := size
	if j+1 < blocks.Len() {
		end = blocks.At(j + 1).Compressed
	}
	if end < startBlock.Compressed || end > size {
		return nil, 0, NewDecompressionError("block offsets exceed source size", startBlock.Compressed).
			WithDetail("end", end).
			WithDetail("size", size)
	}

	raw, err := r.src.ReadRange(int64(startBlock.Compressed), int64(end-startBlock.Compressed))
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read compressed blocks %d..%d: %w", i, j, err)
	}

	var out []byte
	for k := i; k <= j; k++ {
		cur := blocks.At(k)
		blockEnd := end
		if k < j {
			blockEnd = blocks.At(k + 1).Compressed
		}

		data, err := r.dec.DecompressBlock(raw[cur.Compressed-startBlock.Compressed : blockEnd-startBlock.Compressed])
		if err != nil {
			return nil, 0, err
		}
		if k+1 < blocks.Len() {
			if want := blocks.At(k+1).Uncompressed - cur.Uncompressed; uint64(len(data)) != want {
				return nil, 0, NewDecompressionError("block size does not match index", cur.Compressed).
					WithDetail("want", want).
					WithDetail("got", len(data))
			}
		}

		if i == j {
			out = data
		} else {
			out = append(out, data...)
		}
	}

	metrics.ObserveBlockFetch(j-i+1, int64(end-startBlock.Compressed))
	return out, startBlock.Uncompressed, nil
}

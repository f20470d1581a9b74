package fastar

import (
	"encoding/binary"
	"math"

	"github.com/Turakar/fastar-loader/fastar/archive"
	"github.com/Turakar/fastar-loader/fastar/codec"
	"github.com/Turakar/fastar-loader/fastar/index"
	"github.com/Turakar/fastar-loader/fastar/storage"
)

// TrackReader serves ranges of float32 values from a BGZF track source. Like
// SequenceReader it fetches only the blocks covering the request and is safe
// for concurrent use.
type TrackReader struct {
	spanReader
}

// NewTrackReader binds a track archive view to the compressed source it indexes.
func NewTrackReader(view archive.View, src storage.BlockSource, dec codec.Decompressor) *TrackReader {
	return &TrackReader{spanReader{view: view, src: src, dec: dec}}
}

// Read returns length values of contig starting at value start.
func (r *TrackReader) Read(contig string, start, length uint64) ([]float32, error) {
	rec, ok := r.view.LookupContig(contig)
	if !ok {
		return nil, NewUnknownContigError(contig)
	}
	if start > rec.Length || length > rec.Length-start {
		return nil, NewRangeOutOfBoundsError(contig, start, length, rec.Length)
	}
	if length == 0 {
		return []float32{}, nil
	}

	first := rec.Position(start)
	last := rec.Position(start+length-1) + index.TrackValueSize - 1
	data, base, err := r.readSpan(first, last)
	if err != nil {
		return nil, err
	}

	raw := data[first-base : last+1-base]
	out := make([]float32, length)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*index.TrackValueSize:]))
	}
	return out, nil
}

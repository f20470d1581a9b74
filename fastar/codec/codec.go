// Package codec decodes the compressed blocks of a BGZF source.
package codec

import (
	"bytes"
	"io"
	"sync"

	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
	"github.com/klauspost/compress/gzip"
)

// Decompressor turns one compressed block into its uncompressed bytes.
type Decompressor interface {
	DecompressBlock(compressed []byte) ([]byte, error)
}

// DecompressorFunc adapts a function to Decompressor.
type DecompressorFunc func(compressed []byte) ([]byte, error)

// DecompressBlock implements Decompressor.
func (f DecompressorFunc) DecompressBlock(compressed []byte) ([]byte, error) {
	return f(compressed)
}

// BGZF decodes blocks that are one or more concatenated gzip members. It is
// safe for concurrent use.
type BGZF struct {
	readers sync.Pool
}

// NewBGZF returns a BGZF decompressor with an empty reader pool.
func NewBGZF() *BGZF {
	return &BGZF{}
}

// DecompressBlock implements Decompressor. Every member in compressed is
// decoded and the outputs are concatenated.
func (d *BGZF) DecompressBlock(compressed []byte) ([]byte, error) {
	src := bytes.NewReader(compressed)

	zr, _ := d.readers.Get().(*gzip.Reader)
	if zr == nil {
		r, err := gzip.NewReader(src)
		if err != nil {
			return nil, fastarerrors.ErrDecompressionFailed.WithCause(err)
		}
		zr = r
	} else if err := zr.Reset(src); err != nil {
		d.readers.Put(zr)
		return nil, fastarerrors.ErrDecompressionFailed.WithCause(err)
	}
	zr.Multistream(true)

	var out bytes.Buffer
	out.Grow(len(compressed) * 3)
	if _, err := io.Copy(&out, zr); err != nil {
		d.readers.Put(zr)
		return nil, fastarerrors.ErrDecompressionFailed.
			WithDetail("compressedSize", len(compressed)).
			WithCause(err)
	}
	d.readers.Put(zr)
	return out.Bytes(), nil
}

package fastar

import (
	"github.com/Turakar/fastar-loader/fastar/archive"
	"github.com/Turakar/fastar-loader/fastar/codec"
	"github.com/Turakar/fastar-loader/fastar/index"
	"github.com/Turakar/fastar-loader/fastar/storage"
)

// ReadSequenceFile reads one range from the FASTA file at path without
// touching segments or caches. The indices default to path.fai and path.gzi
// when faiPath or gziPath is empty.
func ReadSequenceFile(path, contig string, start, length uint64, faiPath, gziPath string) ([]byte, error) {
	if faiPath == "" {
		faiPath = path + ".fai"
	}
	if gziPath == "" {
		gziPath = path + ".gzi"
	}

	contigs, err := index.ReadFAI(faiPath)
	if err != nil {
		return nil, err
	}
	blocks, err := index.ReadGZI(gziPath)
	if err != nil {
		return nil, err
	}
	m, err := index.Build(contigs, blocks, index.Identity{})
	if err != nil {
		return nil, err
	}
	buf, err := archive.Encode(m)
	if err != nil {
		return nil, err
	}
	view, err := archive.Open(buf)
	if err != nil {
		return nil, err
	}

	src, err := storage.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	return NewSequenceReader(view, src, codec.NewBGZF()).Read(contig, start, length)
}

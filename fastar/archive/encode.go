package archive

import (
	"encoding/binary"
	"sort"

	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
	"github.com/Turakar/fastar-loader/fastar/index"
)

// layout holds the computed section offsets of an archive.
type layout struct {
	contigTable uint64
	nameTable   uint64
	blockTable  uint64
	strings     uint64
	stringsLen  uint64
	identity    uint64
	identityLen uint64
	total       uint64
}

func align8(n uint64) uint64 {
	return (n + 7) &^ 7
}

func computeLayout(m *index.Model) (layout, error) {
	var l layout
	n := uint64(len(m.Contigs))

	l.contigTable = HeaderSize
	l.nameTable = l.contigTable + n*ContigSize
	l.blockTable = align8(l.nameTable + n*NameIndexSize)
	l.strings = l.blockTable + uint64(len(m.Blocks))*BlockEntrySize

	var names uint64
	for _, c := range m.Contigs {
		names += uint64(len(c.Name))
	}
	l.identity = l.strings + names
	l.identityLen = uint64(len(m.Identity.Tag))
	l.stringsLen = names + l.identityLen
	l.total = l.strings + l.stringsLen

	if l.total > maxOffset || uint64(len(m.Blocks)) > maxOffset || n > maxOffset {
		return layout{}, fastarerrors.ErrEncodeOverflow.
			WithDetail("size", l.total).
			WithDetail("limit", maxOffset)
	}
	return l, nil
}

// Encode serializes m into a fresh archive buffer.
func Encode(m *index.Model) ([]byte, error) {
	l, err := computeLayout(m)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, l.total)
	le := binary.LittleEndian

	copy(buf[hdrMagic:], Magic)
	le.PutUint32(buf[hdrVersion:], Version)
	le.PutUint32(buf[hdrContigCount:], uint32(len(m.Contigs)))
	le.PutUint32(buf[hdrBlockCount:], uint32(len(m.Blocks)))
	le.PutUint32(buf[hdrContigTable:], uint32(l.contigTable))
	le.PutUint32(buf[hdrNameTable:], uint32(l.nameTable))
	le.PutUint32(buf[hdrBlockTable:], uint32(l.blockTable))
	le.PutUint32(buf[hdrStringsOff:], uint32(l.strings))
	le.PutUint32(buf[hdrStringsLen:], uint32(l.stringsLen))
	le.PutUint32(buf[hdrIdentityOff:], uint32(l.identity))
	le.PutUint32(buf[hdrIdentityLen:], uint32(l.identityLen))
	le.PutUint32(buf[hdrTotalLen:], uint32(l.total))

	nameOff := l.strings
	for i, c := range m.Contigs {
		e := buf[l.contigTable+uint64(i)*ContigSize:]
		le.PutUint32(e[ctgNameOff:], uint32(nameOff))
		le.PutUint32(e[ctgNameLen:], uint32(len(c.Name)))
		le.PutUint64(e[ctgLength:], c.Length)
		le.PutUint64(e[ctgOffset:], c.Offset)
		le.PutUint64(e[ctgLineBases:], c.LineBases)
		le.PutUint64(e[ctgLineWidth:], c.LineWidth)
		nameOff += uint64(copy(buf[nameOff:], c.Name))
	}

	order := make([]int, len(m.Contigs))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		return m.Contigs[order[a]].Name < m.Contigs[order[b]].Name
	})
	for i, idx := range order {
		le.PutUint32(buf[l.nameTable+uint64(i)*NameIndexSize:], uint32(idx))
	}

	for i, b := range m.Blocks {
		e := buf[l.blockTable+uint64(i)*BlockEntrySize:]
		le.PutUint64(e[0:], b.Compressed)
		le.PutUint64(e[8:], b.Uncompressed)
	}

	copy(buf[l.identity:], m.Identity.Tag)

	return buf, nil
}

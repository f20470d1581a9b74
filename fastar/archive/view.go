package archive

import (
	"encoding/binary"
	"iter"
	"sort"

	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
	"github.com/Turakar/fastar-loader/fastar/index"
	"github.com/opencontainers/go-digest"
)

var le = binary.LittleEndian

// View is a read-only accessor over an archive buffer. It holds no copies of
// the payload and is only valid while the underlying buffer is.
type View struct {
	buf         []byte
	contigCount int
	blockCount  int
	contigTable uint32
	nameTable   uint32
	blockTable  uint32
	identityOff uint32
	identityLen uint32
}

// Open validates the header and every reference in buf and returns a View
// bound to it. Trailing bytes beyond the recorded total length are ignored.
func Open(buf []byte) (View, error) {
	if len(buf) < HeaderSize {
		return View{}, corrupt("buffer shorter than header", len(buf))
	}
	if string(buf[hdrMagic:hdrMagic+len(Magic)]) != Magic {
		return View{}, fastarerrors.ErrCorruptArchive.WithMessage("bad archive magic")
	}
	if v := le.Uint32(buf[hdrVersion:]); v != Version {
		return View{}, fastarerrors.ErrCorruptArchive.
			WithMessage("unsupported archive version").
			WithDetail("version", v).
			WithDetail("want", Version)
	}

	total := uint64(le.Uint32(buf[hdrTotalLen:]))
	if total < HeaderSize || total > uint64(len(buf)) {
		return View{}, corrupt("total length outside buffer", total)
	}

	v := View{
		buf:         buf[:total],
		contigCount: int(le.Uint32(buf[hdrContigCount:])),
		blockCount:  int(le.Uint32(buf[hdrBlockCount:])),
		contigTable: le.Uint32(buf[hdrContigTable:]),
		nameTable:   le.Uint32(buf[hdrNameTable:]),
		blockTable:  le.Uint32(buf[hdrBlockTable:]),
		identityOff: le.Uint32(buf[hdrIdentityOff:]),
		identityLen: le.Uint32(buf[hdrIdentityLen:]),
	}
	if err := v.validate(total); err != nil {
		return View{}, err
	}
	return v, nil
}

func corrupt(msg string, value interface{}) error {
	return fastarerrors.ErrCorruptArchive.WithMessage(msg).WithDetail("value", value)
}

func within(off, size, total uint64) bool {
	return off >= HeaderSize && off <= total && size <= total-off
}

func (v View) validate(total uint64) error {
	n := uint64(v.contigCount)
	if !within(uint64(v.contigTable), n*ContigSize, total) {
		return corrupt("contig table outside buffer", v.contigTable)
	}
	if !within(uint64(v.nameTable), n*NameIndexSize, total) {
		return corrupt("name table outside buffer", v.nameTable)
	}
	if v.blockCount == 0 {
		return corrupt("block table is empty", 0)
	}
	if !within(uint64(v.blockTable), uint64(v.blockCount)*BlockEntrySize, total) {
		return corrupt("block table outside buffer", v.blockTable)
	}
	if !within(uint64(v.identityOff), uint64(v.identityLen), total) {
		return corrupt("identity outside buffer", v.identityOff)
	}

	for i := 0; i < v.contigCount; i++ {
		e := v.contigEntry(i)
		if !within(uint64(le.Uint32(e[ctgNameOff:])), uint64(le.Uint32(e[ctgNameLen:])), total) {
			return corrupt("contig name outside buffer", i)
		}
		if le.Uint64(e[ctgLineBases:]) == 0 {
			return corrupt("contig has zero line bases", i)
		}
		if idx := le.Uint32(v.buf[uint64(v.nameTable)+uint64(i)*NameIndexSize:]); uint64(idx) >= n {
			return corrupt("name table entry outside contig table", idx)
		}
	}
	return nil
}

func (v View) contigEntry(i int) []byte {
	off := uint64(v.contigTable) + uint64(i)*ContigSize
	return v.buf[off : off+ContigSize]
}

func (v View) nameBytes(e []byte) []byte {
	off := le.Uint32(e[ctgNameOff:])
	return v.buf[off : off+le.Uint32(e[ctgNameLen:])]
}

// Bytes returns the archive bytes the view reads from.
func (v View) Bytes() []byte {
	return v.buf
}

// Identity returns the identity tag of the source the archive was built from.
func (v View) Identity() digest.Digest {
	return digest.Digest(v.buf[v.identityOff : v.identityOff+v.identityLen])
}

// NumContigs returns the number of contig records.
func (v View) NumContigs() int {
	return v.contigCount
}

// Contig returns the i-th record in index order.
func (v View) Contig(i int) index.ContigRecord {
	e := v.contigEntry(i)
	return index.ContigRecord{
		Name:      string(v.nameBytes(e)),
		Length:    le.Uint64(e[ctgLength:]),
		Offset:    le.Uint64(e[ctgOffset:]),
		LineBases: le.Uint64(e[ctgLineBases:]),
		LineWidth: le.Uint64(e[ctgLineWidth:]),
	}
}

// Contigs iterates over all records in index order.
func (v View) Contigs() iter.Seq[index.ContigRecord] {
	return func(yield func(index.ContigRecord) bool) {
		for i := 0; i < v.contigCount; i++ {
			if !yield(v.Contig(i)) {
				return
			}
		}
	}
}

// LookupContig finds a record by name with a binary search over the name table.
func (v View) LookupContig(name string) (index.ContigRecord, bool) {
	sortedAt := func(i int) []byte {
		idx := le.Uint32(v.buf[uint64(v.nameTable)+uint64(i)*NameIndexSize:])
		return v.contigEntry(int(idx))
	}

	i := sort.Search(v.contigCount, func(i int) bool {
		return compareName(v.nameBytes(sortedAt(i)), name) >= 0
	})
	if i == v.contigCount {
		return index.ContigRecord{}, false
	}
	e := sortedAt(i)
	if compareName(v.nameBytes(e), name) != 0 {
		return index.ContigRecord{}, false
	}
	idx := le.Uint32(v.buf[uint64(v.nameTable)+uint64(i)*NameIndexSize:])
	return v.Contig(int(idx)), true
}

// compareName orders b and s bytewise without converting either.
func compareName(b []byte, s string) int {
	n := len(b)
	if len(s) < n {
		n = len(s)
	}
	for i := 0; i < n; i++ {
		switch {
		case b[i] < s[i]:
			return -1
		case b[i] > s[i]:
			return 1
		}
	}
	switch {
	case len(b) < len(s):
		return -1
	case len(b) > len(s):
		return 1
	}
	return 0
}

// Blocks returns a view over the block offset table.
func (v View) Blocks() BlockTable {
	off := uint64(v.blockTable)
	return BlockTable{data: v.buf[off : off+uint64(v.blockCount)*BlockEntrySize]}
}

// BlockTable is a lazy view over the fixed-width block offset pairs.
type BlockTable struct {
	data []byte
}

// Len returns the number of blocks.
func (t BlockTable) Len() int {
	return len(t.data) / BlockEntrySize
}

// At returns the i-th block offset pair.
func (t BlockTable) At(i int) index.BlockOffset {
	e := t.data[i*BlockEntrySize : (i+1)*BlockEntrySize]
	return index.BlockOffset{
		Compressed:   le.Uint64(e[0:]),
		Uncompressed: le.Uint64(e[8:]),
	}
}

// Search returns the index of the last block whose uncompressed offset is at
// most pos, or -1 if every block starts after pos.
func (t BlockTable) Search(pos uint64) int {
	n := t.Len()
	i := sort.Search(n, func(i int) bool {
		return le.Uint64(t.data[i*BlockEntrySize+8:]) > pos
	})
	return i - 1
}

// All iterates over every block in order. Each call starts from the beginning.
func (t BlockTable) All() iter.Seq[index.BlockOffset] {
	return func(yield func(index.BlockOffset) bool) {
		for i := 0; i < t.Len(); i++ {
			if !yield(t.At(i)) {
				return
			}
		}
	}
}

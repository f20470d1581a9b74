package archive

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"testing"

	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
	"github.com/Turakar/fastar-loader/fastar/index"
)

func testModel(t *testing.T) *index.Model {
	t.Helper()

	contigs := []index.ContigRecord{
		{Name: "chrX", Length: 25, Offset: 6, LineBases: 10, LineWidth: 11},
		{Name: "chr1", Length: 1000, Offset: 40, LineBases: 60, LineWidth: 61},
		{Name: "chr10", Length: 7, Offset: 1200, LineBases: 60, LineWidth: 62},
		{Name: "MT", Length: 16569, Offset: 1300, LineBases: 70, LineWidth: 71},
	}
	blocks := []index.BlockOffset{{Compressed: 0, Uncompressed: 0}, {Compressed: 1021, Uncompressed: 65280}, {Compressed: 2040, Uncompressed: 130560}, {Compressed: 3100, Uncompressed: 195840}}

	m, err := index.Build(contigs, blocks, index.NewIdentity("test"))
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	return m
}

func mustOpen(t *testing.T, buf []byte) View {
	t.Helper()
	v, err := Open(buf)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	return v
}

func TestRoundTrip(t *testing.T) {
	m := testModel(t)
	buf, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	v := mustOpen(t, buf)

	if v.NumContigs() != len(m.Contigs) {
		t.Fatalf("NumContigs() = %d, want %d", v.NumContigs(), len(m.Contigs))
	}
	for _, want := range m.Contigs {
		got, ok := v.LookupContig(want.Name)
		if !ok {
			t.Fatalf("LookupContig(%q) not found", want.Name)
		}
		if got != want {
			t.Fatalf("LookupContig(%q) = %+v, want %+v", want.Name, got, want)
		}
	}

	i := 0
	for c := range v.Contigs() {
		if c != m.Contigs[i] {
			t.Fatalf("Contigs()[%d] = %+v, want %+v", i, c, m.Contigs[i])
		}
		i++
	}

	table := v.Blocks()
	if table.Len() != len(m.Blocks) {
		t.Fatalf("Blocks().Len() = %d, want %d", table.Len(), len(m.Blocks))
	}
	i = 0
	for b := range table.All() {
		if b != m.Blocks[i] {
			t.Fatalf("block %d = %v, want %v", i, b, m.Blocks[i])
		}
		i++
	}

	if v.Identity() != m.Identity.Tag {
		t.Fatalf("Identity() = %s, want %s", v.Identity(), m.Identity.Tag)
	}
}

func TestBlocksRestartable(t *testing.T) {
	v := mustOpen(t, mustEncode(t, testModel(t)))
	seq := v.Blocks().All()

	count := func() int {
		n := 0
		for range seq {
			n++
		}
		return n
	}
	if a, b := count(), count(); a != b || a != 4 {
		t.Fatalf("iterations = %d, %d, want 4, 4", a, b)
	}

	n := 0
	for range seq {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("early break visited %d blocks", n)
	}
}

func mustEncode(t *testing.T, m *index.Model) []byte {
	t.Helper()
	buf, err := Encode(m)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	return buf
}

func TestLookupMissing(t *testing.T) {
	v := mustOpen(t, mustEncode(t, testModel(t)))
	for _, name := range []string{"", "chr", "chr100", "chrY", "zzz", "A"} {
		if _, ok := v.LookupContig(name); ok {
			t.Errorf("LookupContig(%q) found a record", name)
		}
	}
}

func TestRelocationInvariance(t *testing.T) {
	m := testModel(t)
	orig := mustEncode(t, m)

	// Copy to an odd offset inside a larger buffer so the base address and
	// alignment both differ.
	backing := make([]byte, len(orig)+13)
	moved := backing[5 : 5+len(orig)]
	copy(moved, orig)

	a := mustOpen(t, orig)
	b := mustOpen(t, moved)

	for _, c := range m.Contigs {
		ra, _ := a.LookupContig(c.Name)
		rb, _ := b.LookupContig(c.Name)
		if ra != rb {
			t.Fatalf("LookupContig(%q) differs after relocation: %+v vs %+v", c.Name, ra, rb)
		}
	}
	for _, pos := range []uint64{0, 65279, 65280, 200000} {
		if a.Blocks().Search(pos) != b.Blocks().Search(pos) {
			t.Fatalf("Search(%d) differs after relocation", pos)
		}
	}

	// The original must be independent of the copy.
	for i := range orig {
		orig[i] = 0
	}
	if _, ok := b.LookupContig("chr1"); !ok {
		t.Fatal("relocated view depends on the original buffer")
	}
}

func TestEncodeDeterministic(t *testing.T) {
	m := testModel(t)
	if !bytes.Equal(mustEncode(t, m), mustEncode(t, m)) {
		t.Fatal("Encode() is not deterministic")
	}
}

func TestBlockSearch(t *testing.T) {
	table := mustOpen(t, mustEncode(t, testModel(t))).Blocks()
	tests := []struct {
		pos  uint64
		want int
	}{
		{0, 0},
		{65279, 0},
		{65280, 1},
		{130559, 1},
		{130560, 2},
		{195840, 3},
		{1 << 40, 3},
	}
	for _, tt := range tests {
		if got := table.Search(tt.pos); got != tt.want {
			t.Errorf("Search(%d) = %d, want %d", tt.pos, got, tt.want)
		}
	}
}

func TestEmptyContigs(t *testing.T) {
	m, err := index.Build(nil, []index.BlockOffset{{Compressed: 0, Uncompressed: 0}}, index.Identity{})
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	v := mustOpen(t, mustEncode(t, m))
	if v.NumContigs() != 0 {
		t.Fatalf("NumContigs() = %d, want 0", v.NumContigs())
	}
	if _, ok := v.LookupContig("a"); ok {
		t.Fatal("LookupContig() found a record in an empty archive")
	}
}

func TestEncodeOverflow(t *testing.T) {
	saved := maxOffset
	defer func() { maxOffset = saved }()

	m := testModel(t)
	size := uint64(len(mustEncode(t, m)))

	maxOffset = size - 1
	_, err := Encode(m)
	if !errors.Is(err, fastarerrors.ErrEncodeOverflow) {
		t.Fatalf("Encode() error = %v, want ENCODE_OVERFLOW", err)
	}

	maxOffset = size
	if _, err := Encode(m); err != nil {
		t.Fatalf("Encode() at the limit error = %v", err)
	}
}

func TestOpenCorrupt(t *testing.T) {
	good := mustEncode(t, testModel(t))

	tests := []struct {
		name   string
		mutate func(b []byte) []byte
	}{
		{"short buffer", func(b []byte) []byte { return b[:HeaderSize-1] }},
		{"bad magic", func(b []byte) []byte { b[0] = 'X'; return b }},
		{"bad version", func(b []byte) []byte { binary.LittleEndian.PutUint32(b[hdrVersion:], 99); return b }},
		{"total beyond buffer", func(b []byte) []byte { return b[:len(b)-1] }},
		{"contig table out of range", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[hdrContigTable:], uint32(len(b)))
			return b
		}},
		{"block table out of range", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[hdrBlockCount:], 1<<20)
			return b
		}},
		{"empty block table", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[hdrBlockCount:], 0)
			return b
		}},
		{"name out of range", func(b []byte) []byte {
			binary.LittleEndian.PutUint32(b[HeaderSize+ctgNameLen:], 1<<20)
			return b
		}},
		{"zero line bases", func(b []byte) []byte {
			binary.LittleEndian.PutUint64(b[HeaderSize+ctgLineBases:], 0)
			return b
		}},
		{"name table entry out of range", func(b []byte) []byte {
			off := binary.LittleEndian.Uint32(b[hdrNameTable:])
			binary.LittleEndian.PutUint32(b[off:], 1000)
			return b
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := tt.mutate(append([]byte(nil), good...))
			_, err := Open(buf)
			if !errors.Is(err, fastarerrors.ErrCorruptArchive) {
				t.Fatalf("Open() error = %v, want CORRUPT_ARCHIVE", err)
			}
		})
	}
}

func TestOpenIgnoresTrailingBytes(t *testing.T) {
	buf := mustEncode(t, testModel(t))
	padded := append(append([]byte(nil), buf...), make([]byte, 4096)...)
	v := mustOpen(t, padded)
	if len(v.Bytes()) != len(buf) {
		t.Fatalf("Bytes() len = %d, want %d", len(v.Bytes()), len(buf))
	}
}

func BenchmarkLookupContig(b *testing.B) {
	contigs := make([]index.ContigRecord, 10000)
	for i := range contigs {
		contigs[i] = index.ContigRecord{Name: fmt.Sprintf("contig_%05d", i), Length: 100, LineBases: 60, LineWidth: 61}
	}
	m, err := index.Build(contigs, []index.BlockOffset{{Compressed: 0, Uncompressed: 0}}, index.Identity{})
	if err != nil {
		b.Fatal(err)
	}
	buf, err := Encode(m)
	if err != nil {
		b.Fatal(err)
	}
	v, err := Open(buf)
	if err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, ok := v.LookupContig("contig_04242"); !ok {
			b.Fatal("not found")
		}
	}
}

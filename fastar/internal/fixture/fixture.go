// Package fixture writes small BGZF-compressed FASTA and track sources with
// their indices for tests.
package fixture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/Turakar/fastar-loader/fastar/index"
	"github.com/klauspost/compress/gzip"
)

// Suffixes the loaders look for.
const (
	Suffix      = ".fna.gz"
	TrackSuffix = ".track.gz"
)

// eofBlock is the empty BGZF member that terminates a file.
var eofBlock = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00, 0x42, 0x43,
	0x02, 0x00, 0x1b, 0x00, 0x03, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

// Contig is one sequence to write.
type Contig struct {
	Name string
	Seq  []byte
}

// Options controls the text layout and block size.
type Options struct {
	LineBases int  // bases per full line, default 60
	CRLF      bool // terminate lines with \r\n
	BlockSize int  // uncompressed bytes per block, default 65280
}

// Source describes the files written by Write.
type Source struct {
	Name         string
	Path         string
	FAIPath      string
	GZIPath      string
	Uncompressed []byte
	Compressed   []byte
	Records      []index.ContigRecord
	Blocks       []index.BlockOffset
	Sequences    map[string][]byte
}

// Write creates dir/<name>.fna.gz with its .fai and .gzi.
func Write(dir, name string, contigs []Contig, opts Options) (*Source, error) {
	if opts.LineBases <= 0 {
		opts.LineBases = 60
	}
	if opts.BlockSize <= 0 {
		opts.BlockSize = 65280
	}
	newline := "\n"
	if opts.CRLF {
		newline = "\r\n"
	}

	src := &Source{
		Name:      name,
		Path:      filepath.Join(dir, filepath.FromSlash(name)+Suffix),
		Sequences: make(map[string][]byte, len(contigs)),
	}
	src.FAIPath = src.Path + ".fai"
	src.GZIPath = src.Path + ".gzi"

	var text bytes.Buffer
	for _, c := range contigs {
		fmt.Fprintf(&text, ">%s\n", c.Name)
		src.Records = append(src.Records, index.ContigRecord{
			Name:      c.Name,
			Length:    uint64(len(c.Seq)),
			Offset:    uint64(text.Len()),
			LineBases: uint64(opts.LineBases),
			LineWidth: uint64(opts.LineBases + len(newline)),
		})
		for i := 0; i < len(c.Seq); i += opts.LineBases {
			end := min(i+opts.LineBases, len(c.Seq))
			text.Write(c.Seq[i:end])
			text.WriteString(newline)
		}
		src.Sequences[c.Name] = c.Seq
	}
	src.Uncompressed = text.Bytes()

	var err error
	src.Compressed, src.Blocks, err = compress(src.Uncompressed, opts.BlockSize)
	if err != nil {
		return nil, err
	}

	if err := writeFiles(src.Path, src.Compressed, map[string][]byte{
		src.FAIPath: []byte(FAI(src.Records)),
		src.GZIPath: GZI(src.Blocks),
	}); err != nil {
		return nil, err
	}
	return src, nil
}

// compress splits data into BGZF blocks of blockSize uncompressed bytes and
// appends the EOF block.
func compress(data []byte, blockSize int) ([]byte, []index.BlockOffset, error) {
	var compressed bytes.Buffer
	var blocks []index.BlockOffset
	for off := 0; off < len(data); off += blockSize {
		end := min(off+blockSize, len(data))
		blocks = append(blocks, index.BlockOffset{
			Compressed:   uint64(compressed.Len()),
			Uncompressed: uint64(off),
		})
		block, err := Block(data[off:end])
		if err != nil {
			return nil, nil, err
		}
		compressed.Write(block)
	}
	if len(blocks) == 0 {
		blocks = []index.BlockOffset{{}}
	}
	compressed.Write(eofBlock)
	return compressed.Bytes(), blocks, nil
}

func writeFiles(path string, data []byte, sidecars map[string][]byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return err
	}
	for p, b := range sidecars {
		if err := os.WriteFile(p, b, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// Block compresses data into one BGZF member.
func Block(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	zw.Extra = []byte{'B', 'C', 2, 0, 0, 0}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	out := buf.Bytes()
	if len(out) > 1<<16 {
		return nil, fmt.Errorf("bgzf block of %d bytes exceeds 64 KiB", len(out))
	}
	binary.LittleEndian.PutUint16(out[16:18], uint16(len(out)-1))
	return out, nil
}

// FAI renders records in .fai format.
func FAI(records []index.ContigRecord) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "%s\t%d\t%d\t%d\t%d\n", r.Name, r.Length, r.Offset, r.LineBases, r.LineWidth)
	}
	return b.String()
}

// GZI renders blocks in .gzi format, omitting the implicit first block.
func GZI(blocks []index.BlockOffset) []byte {
	if len(blocks) > 0 && blocks[0] == (index.BlockOffset{}) {
		blocks = blocks[1:]
	}
	buf := make([]byte, 8+16*len(blocks))
	binary.LittleEndian.PutUint64(buf, uint64(len(blocks)))
	for i, b := range blocks {
		binary.LittleEndian.PutUint64(buf[8+16*i:], b.Compressed)
		binary.LittleEndian.PutUint64(buf[16+16*i:], b.Uncompressed)
	}
	return buf
}

// Track is one track contig to write.
type Track struct {
	Name   string
	Values []float32
}

// TrackSource describes the files written by WriteTrack.
type TrackSource struct {
	Name         string
	Path         string
	IDXPath      string
	GZIPath      string
	Uncompressed []byte
	Compressed   []byte
	Records      []index.ContigRecord
	Blocks       []index.BlockOffset
	Values       map[string][]float32
}

// WriteTrack creates dir/<name>.track.gz holding the little-endian float32
// values of every track back to back, with its .idx and .gzi.
func WriteTrack(dir, name string, tracks []Track, blockSize int) (*TrackSource, error) {
	if blockSize <= 0 {
		blockSize = 65280
	}

	src := &TrackSource{
		Name:   name,
		Path:   filepath.Join(dir, filepath.FromSlash(name)+TrackSuffix),
		Values: make(map[string][]float32, len(tracks)),
	}
	src.IDXPath = src.Path + ".idx"
	src.GZIPath = src.Path + ".gzi"

	var idx strings.Builder
	var offset uint64
	for _, tr := range tracks {
		fmt.Fprintf(&idx, "%s\t%d\n", tr.Name, offset)
		src.Records = append(src.Records, index.TrackRecord(tr.Name, offset, uint64(len(tr.Values))))
		for _, v := range tr.Values {
			src.Uncompressed = binary.LittleEndian.AppendUint32(src.Uncompressed, math.Float32bits(v))
		}
		offset += uint64(len(tr.Values))
		src.Values[tr.Name] = tr.Values
	}
	fmt.Fprintf(&idx, "\t%d\n", offset)

	var err error
	src.Compressed, src.Blocks, err = compress(src.Uncompressed, blockSize)
	if err != nil {
		return nil, err
	}

	if err := writeFiles(src.Path, src.Compressed, map[string][]byte{
		src.IDXPath: []byte(idx.String()),
		src.GZIPath: GZI(src.Blocks),
	}); err != nil {
		return nil, err
	}
	return src, nil
}

// RandomValues returns n random track values.
func RandomValues(rng *rand.Rand, n int) []float32 {
	values := make([]float32, n)
	for i := range values {
		values[i] = rng.Float32()*20 - 10
	}
	return values
}

// RandomSequence returns n random bases.
func RandomSequence(rng *rand.Rand, n int) []byte {
	const alphabet = "ACGTNacgt"
	seq := make([]byte, n)
	for i := range seq {
		seq[i] = alphabet[rng.Intn(len(alphabet))]
	}
	return seq
}

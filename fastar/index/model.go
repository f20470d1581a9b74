// Package index holds the typed form of a source's two indices: the layout
// index (.fai for FASTA, .idx for tracks) and the BGZF block offset index (.gzi).
package index

import (
	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
)

// ContigRecord describes where a contig's bases live in the uncompressed stream.
type ContigRecord struct {
	Name      string
	Length    uint64 // total number of bases
	Offset    uint64 // uncompressed byte offset of the first base
	LineBases uint64
	LineWidth uint64 // bytes per line including the terminator
}

// Position returns the uncompressed byte offset of base i.
func (r ContigRecord) Position(i uint64) uint64 {
	return r.Offset + (i/r.LineBases)*r.LineWidth + i%r.LineBases
}

// BlockOffset marks the start of one compression block.
type BlockOffset struct {
	Compressed   uint64
	Uncompressed uint64
}

// Model is the validated, immutable pair of indices for one source.
type Model struct {
	Identity Identity
	Contigs  []ContigRecord
	Blocks   []BlockOffset
}

// Build validates the parsed records and returns a Model owning copies of them.
func Build(contigs []ContigRecord, blocks []BlockOffset, id Identity) (*Model, error) {
	seen := make(map[string]struct{}, len(contigs))
	for i, c := range contigs {
		if c.Name == "" {
			return nil, fastarerrors.ErrMalformedIndex.
				WithMessage("empty contig name").
				WithDetail("record", i)
		}
		if _, dup := seen[c.Name]; dup {
			return nil, fastarerrors.ErrMalformedIndex.
				WithMessage("duplicate contig name").
				WithDetail("contig", c.Name)
		}
		seen[c.Name] = struct{}{}
		if c.LineBases == 0 || c.LineWidth < c.LineBases {
			return nil, fastarerrors.ErrMalformedIndex.
				WithMessage("invalid line layout").
				WithDetail("contig", c.Name).
				WithDetail("lineBases", c.LineBases).
				WithDetail("lineWidth", c.LineWidth)
		}
	}

	if len(blocks) == 0 {
		return nil, fastarerrors.ErrMalformedIndex.WithMessage("block index is empty")
	}
	if blocks[0] != (BlockOffset{}) {
		return nil, fastarerrors.ErrMalformedIndex.
			WithMessage("first block must start at (0, 0)").
			WithDetail("first", blocks[0])
	}
	for i := 1; i < len(blocks); i++ {
		prev, cur := blocks[i-1], blocks[i]
		if cur.Compressed <= prev.Compressed || cur.Uncompressed <= prev.Uncompressed {
			return nil, fastarerrors.ErrMalformedIndex.
				WithMessage("block offsets are not strictly increasing").
				WithDetail("block", i)
		}
	}

	return &Model{
		Identity: id,
		Contigs:  append([]ContigRecord(nil), contigs...),
		Blocks:   append([]BlockOffset(nil), blocks...),
	}, nil
}

// FilterContigs drops contigs shorter than minLength. A zero minLength keeps all.
func FilterContigs(records []ContigRecord, minLength uint64) []ContigRecord {
	if minLength == 0 {
		return records
	}
	kept := make([]ContigRecord, 0, len(records))
	for _, r := range records {
		if r.Length >= minLength {
			kept = append(kept, r)
		}
	}
	return kept
}

package index

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
)

// TrackValueSize is the byte width of one track value, a little-endian float32.
const TrackValueSize = 4

// TrackRecord returns the record of a track contig holding length values that
// start at value index offset. Each value is stored as a one-base line of
// TrackValueSize bytes, so Position(i) is the byte offset of value i.
func TrackRecord(name string, offset, length uint64) ContigRecord {
	return ContigRecord{
		Name:      name,
		Length:    length,
		Offset:    offset * TrackValueSize,
		LineBases: 1,
		LineWidth: TrackValueSize,
	}
}

// ParseTrackIndex reads a track .idx file: one "name<TAB>offset" line per
// contig, offsets counted in values, closed by a line whose offset is the
// total value count. The closing line's name is ignored and may be empty.
func ParseTrackIndex(r io.Reader) ([]ContigRecord, error) {
	type entry struct {
		name   string
		offset uint64
		line   int
	}
	var entries []entry

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		name, field, ok := strings.Cut(line, "\t")
		if !ok {
			return nil, fastarerrors.ErrMalformedIndex.
				WithMessage("expected name and offset columns").
				WithDetail("line", lineNo)
		}
		offset, err := strconv.ParseUint(field, 10, 64)
		if err != nil {
			return nil, fastarerrors.ErrMalformedIndex.
				WithDetail("line", lineNo).
				WithDetail("column", 2).
				WithCause(err)
		}
		if offset > math.MaxUint64/TrackValueSize {
			return nil, fastarerrors.ErrMalformedIndex.
				WithMessage("track offset too large").
				WithDetail("line", lineNo)
		}
		if n := len(entries); n > 0 && offset < entries[n-1].offset {
			return nil, fastarerrors.ErrMalformedIndex.
				WithMessage("track offsets are decreasing").
				WithDetail("line", lineNo)
		}
		entries = append(entries, entry{name: name, offset: offset, line: lineNo})
	}
	if err := scanner.Err(); err != nil {
		return nil, fastarerrors.ErrMalformedIndex.WithCause(err)
	}

	var records []ContigRecord
	for i := 0; i+1 < len(entries); i++ {
		cur, next := entries[i], entries[i+1]
		if cur.name == "" {
			return nil, fastarerrors.ErrMalformedIndex.
				WithMessage("empty track name").
				WithDetail("line", cur.line)
		}
		records = append(records, TrackRecord(cur.name, cur.offset, next.offset-cur.offset))
	}
	return records, nil
}

// ReadTrackIndex parses the .idx file at path.
func ReadTrackIndex(path string) ([]ContigRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open track index: %w", err)
	}
	defer f.Close()

	records, err := ParseTrackIndex(f)
	if err != nil {
		if fe, ok := err.(*fastarerrors.FastarError); ok {
			return nil, fe.WithDetail("path", path)
		}
		return nil, err
	}
	return records, nil
}

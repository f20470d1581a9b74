package index

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
)

// ParseFAI reads a samtools-style .fai index. FASTA indices have five columns,
// FASTQ indices a sixth (quality offset) which is ignored.
func ParseFAI(r io.Reader) ([]ContigRecord, error) {
	var records []ContigRecord

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimRight(scanner.Text(), "\r")
		if line == "" {
			continue
		}

		fields := strings.Split(line, "\t")
		if len(fields) != 5 && len(fields) != 6 {
			return nil, fastarerrors.ErrMalformedIndex.
				WithMessage(fmt.Sprintf("expected 5 or 6 columns, got %d", len(fields))).
				WithDetail("line", lineNo)
		}

		var nums [4]uint64
		for i := range nums {
			v, err := strconv.ParseUint(fields[i+1], 10, 64)
			if err != nil {
				return nil, fastarerrors.ErrMalformedIndex.
					WithDetail("line", lineNo).
					WithDetail("column", i+2).
					WithCause(err)
			}
			nums[i] = v
		}

		records = append(records, ContigRecord{
			Name:      fields[0],
			Length:    nums[0],
			Offset:    nums[1],
			LineBases: nums[2],
			LineWidth: nums[3],
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fastarerrors.ErrMalformedIndex.WithCause(err)
	}

	return records, nil
}

// ReadFAI parses the .fai file at path.
func ReadFAI(path string) ([]ContigRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open fai: %w", err)
	}
	defer f.Close()

	records, err := ParseFAI(f)
	if err != nil {
		if fe, ok := err.(*fastarerrors.FastarError); ok {
			return nil, fe.WithDetail("path", path)
		}
		return nil, err
	}
	return records, nil
}

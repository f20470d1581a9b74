// Package storage provides ranged reads over a compressed FASTA source.
package storage

import (
	"fmt"
	"io"
	"os"
)

// BlockSource abstracts positioned reads of compressed bytes.
type BlockSource interface {
	// ReadRange returns exactly length bytes starting at offset.
	ReadRange(offset int64, length int64) ([]byte, error)
	// Size returns the total size of the source in bytes.
	Size() int64
}

// FileSource reads ranges from a local file with pread, so it is safe for
// concurrent use.
type FileSource struct {
	f    *os.File
	size int64
}

// OpenFile opens path for ranged reads.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return &FileSource{f: f, size: info.Size()}, nil
}

// ReadRange implements BlockSource.
func (s *FileSource) ReadRange(offset int64, length int64) ([]byte, error) {
	if offset < 0 || length < 0 || offset+length > s.size {
		return nil, fmt.Errorf("range [%d, %d) outside %s of size %d", offset, offset+length, s.f.Name(), s.size)
	}
	buf := make([]byte, length)
	if _, err := s.f.ReadAt(buf, offset); err != nil && err != io.EOF {
		return nil, fmt.Errorf("failed to read %s: %w", s.f.Name(), err)
	}
	return buf, nil
}

// Size implements BlockSource.
func (s *FileSource) Size() int64 {
	return s.size
}

// Name returns the path the source was opened with.
func (s *FileSource) Name() string {
	return s.f.Name()
}

// Close releases the file descriptor.
func (s *FileSource) Close() error {
	return s.f.Close()
}

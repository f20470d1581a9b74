package storage

import (
	"fmt"
	"sync"
)

// MockSource is an in-memory BlockSource for tests. It records every range
// it serves.
type MockSource struct {
	mu     sync.Mutex
	data   []byte
	reads  []Range
	failAt int64
}

// Range is one served read.
type Range struct {
	Offset int64
	Length int64
}

// NewMockSource constructs a MockSource over a copy of data.
func NewMockSource(data []byte) *MockSource {
	return &MockSource{data: append([]byte(nil), data...), failAt: -1}
}

// ReadRange implements BlockSource.
func (m *MockSource) ReadRange(offset int64, length int64) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if offset < 0 || length < 0 || offset+length > int64(len(m.data)) {
		return nil, fmt.Errorf("mock source: invalid range [%d, %d) of %d", offset, offset+length, len(m.data))
	}
	if m.failAt >= 0 && offset <= m.failAt && m.failAt < offset+length {
		return nil, fmt.Errorf("mock source: injected failure at %d", m.failAt)
	}
	m.reads = append(m.reads, Range{Offset: offset, Length: length})
	return append([]byte(nil), m.data[offset:offset+length]...), nil
}

// Size implements BlockSource.
func (m *MockSource) Size() int64 {
	return int64(len(m.data))
}

// FailAt makes every read covering offset fail. A negative offset disables it.
func (m *MockSource) FailAt(offset int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAt = offset
}

// Reads returns the ranges served so far.
func (m *MockSource) Reads() []Range {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Range(nil), m.reads...)
}

// Reset forgets the recorded reads.
func (m *MockSource) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads = nil
}

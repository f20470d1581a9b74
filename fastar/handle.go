package fastar

import (
	"errors"
	"sync"
	"time"

	"github.com/Turakar/fastar-loader/fastar/archive"
	"github.com/Turakar/fastar-loader/fastar/metrics"
	"github.com/Turakar/fastar-loader/fastar/segment"
	"github.com/Turakar/fastar-loader/fastar/storage"
	"github.com/opencontainers/go-digest"
)

// ErrHandleClosed is returned by reads on a closed Handle.
var ErrHandleClosed = errors.New("fastar: handle is closed")

// ContigInfo is the name and length of one contig.
type ContigInfo struct {
	Name   string
	Length uint64
}

// Handle serves reads of one source through its shared segment. Reads may run
// concurrently with each other. Close waits for running reads; reads after
// Close fail with ErrHandleClosed.
type Handle struct {
	name   string
	seg    *segment.Handle
	view   archive.View
	file   *storage.FileSource
	reader *SequenceReader

	// mu guards closed; reads hold it shared so Close never unmaps under them.
	mu       sync.RWMutex
	closed   bool
	closeErr error
}

// withView runs fn while the segment is guaranteed to stay mapped.
func (h *Handle) withView(fn func() error) error {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return ErrHandleClosed
	}
	return fn()
}

// ReadSequence returns length bases of contig starting at base start.
func (h *Handle) ReadSequence(contig string, start, length uint64) ([]byte, error) {
	var seq []byte
	err := h.withView(func() error {
		began := time.Now()
		var err error
		seq, err = h.reader.Read(contig, start, length)
		metrics.SequenceReads.Inc()
		metrics.ReadLatency.Observe(time.Since(began).Seconds())
		return err
	})
	return seq, err
}

// Contigs lists the indexed contigs in index order.
func (h *Handle) Contigs() []ContigInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return nil
	}
	infos := make([]ContigInfo, 0, h.view.NumContigs())
	for c := range h.view.Contigs() {
		infos = append(infos, ContigInfo{Name: c.Name, Length: c.Length})
	}
	return infos
}

// ID returns the segment id other processes pass to Loader.Attach.
func (h *Handle) ID() string {
	return h.seg.Name()
}

// Name returns the source name.
func (h *Handle) Name() string {
	return h.name
}

// Identity returns the identity tag of the indexed source version.
func (h *Handle) Identity() digest.Digest {
	return h.seg.Identity()
}

// Created reports whether opening this handle built the segment.
func (h *Handle) Created() bool {
	return h.seg.Created()
}

// Close releases the source file and detaches from the segment. The segment
// itself stays available. Calling Close again returns the first result.
func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.closed {
		h.closed = true
		h.closeErr = errors.Join(h.file.Close(), h.seg.Close())
	}
	return h.closeErr
}

package segment

import (
	"sync"
	"time"

	"github.com/opencontainers/go-digest"
)

// Handle is one read-only mapping of a segment. Closing it detaches this
// process only; the segment stays available to others.
type Handle struct {
	name     string
	tag      digest.Digest
	mapping  []byte
	archive  []byte
	attached time.Time
	created  bool

	closeOnce sync.Once
	closeErr  error
}

// Archive returns the archive bytes. The slice is invalid after Close.
func (h *Handle) Archive() []byte {
	return h.archive
}

// Name returns the segment name, usable with Store.Attach in other processes.
func (h *Handle) Name() string {
	return h.name
}

// Identity returns the identity tag stored in the segment header.
func (h *Handle) Identity() digest.Digest {
	return h.tag
}

// Created reports whether this handle's Acquire published the segment.
func (h *Handle) Created() bool {
	return h.created
}

// AttachedAt returns when the mapping was made.
func (h *Handle) AttachedAt() time.Time {
	return h.attached
}

// Close unmaps the segment. It is safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(func() {
		h.archive = nil
		h.closeErr = unmap(h.mapping)
		h.mapping = nil
	})
	return h.closeErr
}

package fastar

import (
	"context"
	"time"

	"github.com/Turakar/fastar-loader/fastar/metrics"
	"github.com/Turakar/fastar-loader/fastar/segment"
	"github.com/opencontainers/go-digest"
)

// TrackLoader opens the float32 track sources under one root directory. A
// track is <name><TrackSuffix> holding little-endian float32 values, with a
// .idx name/offset index and a .gzi block index next to it. Tracks share the
// archive, segment and cache machinery of FASTA sources.
type TrackLoader struct {
	l *Loader
}

// NewTrackLoader validates opts and returns a TrackLoader for the tracks under root.
func NewTrackLoader(root string, opts Options) (*TrackLoader, error) {
	l, err := newLoader(root, opts, trackKind)
	if err != nil {
		return nil, err
	}
	return &TrackLoader{l: l}, nil
}

// OpenTrack creates a TrackLoader with default options and opens name under directory.
func OpenTrack(directory, name string) (*TrackHandle, error) {
	tl, err := NewTrackLoader(directory, DefaultOptions())
	if err != nil {
		return nil, err
	}
	return tl.Open(name)
}

// Root returns the directory the loader scans.
func (tl *TrackLoader) Root() string {
	return tl.l.Root()
}

// Options returns the validated options.
func (tl *TrackLoader) Options() Options {
	return tl.l.Options()
}

// Store returns the segment store the loader publishes to.
func (tl *TrackLoader) Store() *segment.Store {
	return tl.l.Store()
}

// Names lists every track under the root, sorted, with the suffix removed.
func (tl *TrackLoader) Names() ([]string, error) {
	return tl.l.Names()
}

// Open acquires the shared segment for the track name and returns a handle
// for value reads.
func (tl *TrackLoader) Open(name string) (*TrackHandle, error) {
	h, err := tl.l.Open(name)
	if err != nil {
		return nil, err
	}
	return newTrackHandle(tl.l, h), nil
}

// Attach opens the track name through an existing segment id. It never builds.
func (tl *TrackLoader) Attach(name, id string) (*TrackHandle, error) {
	h, err := tl.l.Attach(name, id)
	if err != nil {
		return nil, err
	}
	return newTrackHandle(tl.l, h), nil
}

// Warm acquires the segments of many tracks in parallel, see Loader.Warm.
func (tl *TrackLoader) Warm(ctx context.Context, names []string, progress ProgressCallback) (*WarmReport, error) {
	return tl.l.Warm(ctx, names, progress)
}

// TrackHandle serves value reads of one track. It has the concurrency and
// Close semantics of Handle.
type TrackHandle struct {
	h      *Handle
	reader *TrackReader
}

func newTrackHandle(l *Loader, h *Handle) *TrackHandle {
	return &TrackHandle{
		h:      h,
		reader: NewTrackReader(h.view, h.file, l.dec),
	}
}

// ReadTrack returns length values of contig starting at value start.
func (t *TrackHandle) ReadTrack(contig string, start, length uint64) ([]float32, error) {
	var values []float32
	err := t.h.withView(func() error {
		began := time.Now()
		var err error
		values, err = t.reader.Read(contig, start, length)
		metrics.TrackReads.Inc()
		metrics.ReadLatency.Observe(time.Since(began).Seconds())
		return err
	})
	return values, err
}

// Contigs lists the track's contigs with their value counts in index order.
func (t *TrackHandle) Contigs() []ContigInfo {
	return t.h.Contigs()
}

// ID returns the segment id other processes pass to TrackLoader.Attach.
func (t *TrackHandle) ID() string {
	return t.h.ID()
}

// Name returns the track name.
func (t *TrackHandle) Name() string {
	return t.h.Name()
}

// Identity returns the identity tag of the indexed track version.
func (t *TrackHandle) Identity() digest.Digest {
	return t.h.Identity()
}

// Created reports whether opening this handle built the segment.
func (t *TrackHandle) Created() bool {
	return t.h.Created()
}

// Close releases the track file and detaches from the segment.
func (t *TrackHandle) Close() error {
	return t.h.Close()
}

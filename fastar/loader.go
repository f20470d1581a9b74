// Package fastar serves random-access reads from BGZF-compressed FASTA files
// and float32 track files. The combined layout and block index of each source
// is encoded once into a relocation-free archive, cached on disk and shared
// between all processes on a host through a memory-mapped segment.
package fastar

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/Turakar/fastar-loader/fastar/archive"
	"github.com/Turakar/fastar-loader/fastar/cache"
	"github.com/Turakar/fastar-loader/fastar/codec"
	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
	"github.com/Turakar/fastar-loader/fastar/index"
	"github.com/Turakar/fastar-loader/fastar/logger"
	"github.com/Turakar/fastar-loader/fastar/metrics"
	"github.com/Turakar/fastar-loader/fastar/segment"
	"github.com/Turakar/fastar-loader/fastar/storage"
	"golang.org/x/sync/errgroup"
)

// ProgressCallback is called as Warm finishes each source
// current: sources finished so far
// total: number of sources requested
type ProgressCallback func(current int64, total int64)

// sourceKind describes one family of indexed BGZF sources.
type sourceKind struct {
	name string
	// suffix selects the source file suffix from the options.
	suffix func(o *Options) string
	// layoutSuffix names the layout index next to each source.
	layoutSuffix string
	readLayout   func(path string) ([]index.ContigRecord, error)
}

var (
	fastaKind = sourceKind{
		name:         "fasta",
		suffix:       func(o *Options) string { return o.Suffix },
		layoutSuffix: ".fai",
		readLayout:   index.ReadFAI,
	}
	trackKind = sourceKind{
		name:         "track",
		suffix:       func(o *Options) string { return o.TrackSuffix },
		layoutSuffix: ".idx",
		readLayout:   index.ReadTrackIndex,
	}
)

// Loader opens the FASTA sources under one root directory.
type Loader struct {
	root  string
	opts  Options
	kind  sourceKind
	store *segment.Store
	dec   codec.Decompressor
}

// NewLoader validates opts and returns a Loader for the sources under root.
// A non-empty opts.LogLevel is applied to the package logger.
func NewLoader(root string, opts Options) (*Loader, error) {
	return newLoader(root, opts, fastaKind)
}

func newLoader(root string, opts Options, kind sourceKind) (*Loader, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	opts.applyLogLevel()
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("failed to access root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %s is not a directory", root)
	}
	return &Loader{
		root:  root,
		opts:  opts,
		kind:  kind,
		store: segment.NewStore(opts.ShmDir),
		dec:   codec.NewBGZF(),
	}, nil
}

// Open creates a Loader with default options and opens name under directory.
func Open(directory, name string) (*Handle, error) {
	l, err := NewLoader(directory, DefaultOptions())
	if err != nil {
		return nil, err
	}
	return l.Open(name)
}

// Root returns the directory the loader scans.
func (l *Loader) Root() string {
	return l.root
}

// Options returns the validated options.
func (l *Loader) Options() Options {
	return l.opts
}

// Store returns the segment store the loader publishes to.
func (l *Loader) Store() *segment.Store {
	return l.store
}

// Names lists every source under the root as a slash-separated path relative
// to the root with the suffix removed, sorted.
func (l *Loader) Names() ([]string, error) {
	suffix := l.kind.suffix(&l.opts)
	var names []string
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), suffix) {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		names = append(names, filepath.ToSlash(strings.TrimSuffix(rel, suffix)))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", l.root, err)
	}
	sort.Strings(names)
	return names, nil
}

type source struct {
	name       string
	path       string
	layoutPath string
	gziPath    string
}

func (l *Loader) resolve(name string) (source, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if name == "" || filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return source{}, NewUnknownSourceError(name, "")
	}
	path := filepath.Join(l.root, clean+l.kind.suffix(&l.opts))
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return source{}, NewUnknownSourceError(name, path)
	}
	return source{
		name:       name,
		path:       path,
		layoutPath: path + l.kind.layoutSuffix,
		gziPath:    path + ".gzi",
	}, nil
}

func (l *Loader) identity(src source) (index.Identity, error) {
	id, err := index.StatIdentity(l.opts.params(l.kind.name), src.path, src.layoutPath, src.gziPath)
	if err != nil {
		return index.Identity{}, fastarerrors.ErrMalformedIndex.
			WithMessage("missing index file").
			WithDetail("source", src.name).
			WithCause(err)
	}
	return id, nil
}

// Open acquires the shared segment for name, building it on first use on
// this host, and returns a handle for sequence reads.
func (l *Loader) Open(name string) (*Handle, error) {
	src, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	id, err := l.identity(src)
	if err != nil {
		return nil, err
	}

	seg, err := l.store.Acquire(id, func() ([]byte, error) {
		return l.loadArchive(src, id)
	})
	if err != nil {
		return nil, err
	}
	return l.newHandle(src, seg)
}

// Attach opens name through an existing segment id, as returned by
// Handle.ID in another process. It never builds.
func (l *Loader) Attach(name, id string) (*Handle, error) {
	src, err := l.resolve(name)
	if err != nil {
		return nil, err
	}
	current, err := l.identity(src)
	if err != nil {
		return nil, err
	}
	if segment.NameFor(current.Tag) != id {
		return nil, fastarerrors.ErrIdentityMismatch.
			WithMessage("source changed since the segment was built").
			WithDetail("source", name).
			WithDetail("segment", id)
	}

	seg, err := l.store.Attach(id, current.Tag)
	if err != nil {
		return nil, err
	}
	return l.newHandle(src, seg)
}

func (l *Loader) newHandle(src source, seg *segment.Handle) (*Handle, error) {
	view, err := archive.Open(seg.Archive())
	if err != nil {
		seg.Close()
		return nil, err
	}
	if view.Identity() != seg.Identity() {
		seg.Close()
		return nil, fastarerrors.ErrCorruptArchive.
			WithMessage("archive identity differs from segment header").
			WithDetail("segment", seg.Name())
	}

	file, err := storage.OpenFile(src.path)
	if err != nil {
		seg.Close()
		return nil, fmt.Errorf("failed to open source %s: %w", src.path, err)
	}

	return &Handle{
		name:   src.name,
		seg:    seg,
		view:   view,
		file:   file,
		reader: NewSequenceReader(view, file, l.dec),
	}, nil
}

// loadArchive produces the archive for a segment that does not exist yet,
// from the disk cache when allowed and valid, otherwise by parsing the indices.
func (l *Loader) loadArchive(src source, id index.Identity) ([]byte, error) {
	cachePath := cache.SidecarPath(l.opts.CacheDir, src.path, src.name)

	if l.opts.CachePolicy == CacheReadWrite {
		data, err := cache.Load(cachePath, id.Tag)
		if err == nil && data != nil {
			_, err = archive.Open(data)
			if err == nil {
				metrics.CacheHits.Inc()
				logger.Debug("Loaded %s from cache %s", src.name, cachePath)
				return data, nil
			}
		}
		metrics.CacheMisses.Inc()
		if err != nil {
			logger.Warn("Ignoring cache %s: %v", cachePath, err)
		} else {
			logger.Debug("No valid cache for %s at %s", src.name, cachePath)
		}
	}

	data, err := l.buildArchive(src, id)
	if err != nil {
		return nil, err
	}

	if l.opts.CachePolicy != CacheDisabled {
		if err := cache.Store(cachePath, id.Tag, data); err != nil {
			logger.Warn("Failed to write cache %s: %v", cachePath, err)
		}
	}
	return data, nil
}

func (l *Loader) buildArchive(src source, id index.Identity) ([]byte, error) {
	contigs, err := l.kind.readLayout(src.layoutPath)
	if err != nil {
		return nil, err
	}
	blocks, err := index.ReadGZI(src.gziPath)
	if err != nil {
		return nil, err
	}

	m, err := index.Build(index.FilterContigs(contigs, l.opts.MinContigLength), blocks, id)
	if err != nil {
		return nil, err
	}
	data, err := archive.Encode(m)
	if err != nil {
		return nil, err
	}

	metrics.IndexBuilds.Inc()
	logger.Info("Built index for %s: %d contigs, %d blocks", src.name, len(m.Contigs), len(m.Blocks))
	return data, nil
}

// WarmReport lists the outcome of Warm per source.
type WarmReport struct {
	Loaded []string
	Failed map[string]error
}

// Warm acquires the segments of names in parallel so later opens only
// attach. An empty names warms every source under the root. Without
// Options.Strict failures are logged and reported but do not stop the others.
func (l *Loader) Warm(ctx context.Context, names []string, progress ProgressCallback) (*WarmReport, error) {
	if len(names) == 0 {
		all, err := l.Names()
		if err != nil {
			return nil, err
		}
		names = all
	}

	report := &WarmReport{Failed: make(map[string]error)}
	var mu sync.Mutex
	total := int64(len(names))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(l.opts.Workers)
	for _, name := range names {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			h, err := l.Open(name)
			if err == nil {
				err = h.Close()
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed[name] = err
				if l.opts.Strict {
					return fmt.Errorf("failed to warm %s: %w", name, err)
				}
				logger.Warn("Skipping %s: %v", name, err)
			} else {
				report.Loaded = append(report.Loaded, name)
			}
			if progress != nil {
				progress(int64(len(report.Loaded)+len(report.Failed)), total)
			}
			return nil
		})
	}

	err := g.Wait()
	sort.Strings(report.Loaded)
	return report, err
}

// Package segment shares encoded archives between processes on one host
// through memory-mapped files in a shared memory directory.
//
// A segment is write-once: the first process to need an identity builds the
// archive into a private staging file and publishes it with link(2), which
// fails if the name already exists. Readers only ever see complete segments
// and never take locks.
package segment

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
	"github.com/Turakar/fastar-loader/fastar/index"
	"github.com/Turakar/fastar-loader/fastar/logger"
	"github.com/Turakar/fastar-loader/fastar/metrics"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
)

const (
	// Magic identifies a segment file.
	Magic = "FASTARSG"
	// Version is the segment header layout version.
	Version uint32 = 1
	// Prefix starts every segment name.
	Prefix = "fastar-"

	// HeaderPageSize keeps the archive page aligned inside the mapping.
	HeaderPageSize = 4096

	lockSuffix = ".lock"
	maxTagLen  = 96
)

// Header field offsets
const (
	offMagic   = 0
	offVersion = 8
	offLength  = 16
	offTagLen  = 24
	offTag     = 28
)

// errCreateConflict reports that another process published the segment first.
var errCreateConflict = &fastarerrors.FastarError{Code: "CREATE_CONFLICT", Message: "segment already exists"}

// Provider produces the archive bytes for a segment that does not exist yet.
type Provider func() ([]byte, error)

// Store manages the segments in one directory.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, or at DefaultDir when dir is empty.
func NewStore(dir string) *Store {
	if dir == "" {
		dir = DefaultDir()
	}
	return &Store{dir: dir}
}

// DefaultDir returns /dev/shm when it exists and the OS temp dir otherwise.
func DefaultDir() string {
	if info, err := os.Stat("/dev/shm"); err == nil && info.IsDir() {
		return "/dev/shm"
	}
	return os.TempDir()
}

// Dir returns the directory holding the segments.
func (s *Store) Dir() string {
	return s.dir
}

// NameFor derives the segment name of an identity tag.
func NameFor(tag digest.Digest) string {
	enc := tag.Encoded()
	if len(enc) > 16 {
		enc = enc[:16]
	}
	return Prefix + enc
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

// Acquire returns a handle to the segment for id, calling provide to build it
// if no process on this host has published it yet. Concurrent callers for one
// identity call provide at most once between them.
func (s *Store) Acquire(id index.Identity, provide Provider) (*Handle, error) {
	name := NameFor(id.Tag)

	h, err := s.Attach(name, id.Tag)
	if !errors.Is(err, fastarerrors.ErrSegmentNotFound) {
		return h, err
	}

	unlock, err := s.lock(name)
	if err != nil {
		return nil, fastarerrors.ErrSegmentInitFailed.
			WithMessage("failed to lock segment").
			WithDetail("name", name).
			WithCause(err)
	}
	defer unlock()

	h, err = s.Attach(name, id.Tag)
	if !errors.Is(err, fastarerrors.ErrSegmentNotFound) {
		return h, err
	}

	data, err := provide()
	if err != nil {
		return nil, err
	}

	err = s.create(name, id.Tag, data)
	if errors.Is(err, errCreateConflict) {
		logger.Debug("Segment %s was published concurrently, attaching", name)
		return s.Attach(name, id.Tag)
	}
	if err != nil {
		return nil, err
	}
	metrics.SegmentsCreated.Inc()
	logger.Info("Created segment %s (%d bytes)", name, len(data))

	h, err = s.Attach(name, id.Tag)
	if h != nil {
		h.created = true
	}
	return h, err
}

// lock takes the per-name builder lock. It only keeps concurrent builders
// from doing duplicate work; publish is what guarantees a single segment.
func (s *Store) lock(name string) (func(), error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.path(name+lockSuffix), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, err
	}
	if err := lockFile(f); err != nil {
		f.Close()
		return nil, err
	}
	return func() {
		if err := unlockFile(f); err != nil {
			logger.Warn("Failed to unlock %s: %v", f.Name(), err)
		}
		f.Close()
	}, nil
}

func encodeHeader(tag digest.Digest, length int) []byte {
	hdr := make([]byte, HeaderPageSize)
	le := binary.LittleEndian
	copy(hdr[offMagic:], Magic)
	le.PutUint32(hdr[offVersion:], Version)
	le.PutUint64(hdr[offLength:], uint64(length))
	le.PutUint32(hdr[offTagLen:], uint32(len(tag)))
	copy(hdr[offTag:], tag)
	return hdr
}

// decodeHeader validates a header page against the mapped size and returns
// the stored tag and archive length.
func decodeHeader(hdr []byte, size int64) (digest.Digest, uint64, error) {
	if int64(len(hdr)) < HeaderPageSize || size < HeaderPageSize {
		return "", 0, fastarerrors.ErrCorruptArchive.WithMessage("segment shorter than header page")
	}
	if string(hdr[offMagic:offMagic+len(Magic)]) != Magic {
		return "", 0, fastarerrors.ErrCorruptArchive.WithMessage("bad segment magic")
	}
	le := binary.LittleEndian
	if v := le.Uint32(hdr[offVersion:]); v != Version {
		return "", 0, fastarerrors.ErrCorruptArchive.
			WithMessage("unsupported segment version").
			WithDetail("version", v)
	}
	length := le.Uint64(hdr[offLength:])
	if length > uint64(size-HeaderPageSize) {
		return "", 0, fastarerrors.ErrCorruptArchive.
			WithMessage("segment length exceeds file").
			WithDetail("length", length)
	}
	tagLen := le.Uint32(hdr[offTagLen:])
	if tagLen > maxTagLen {
		return "", 0, fastarerrors.ErrCorruptArchive.WithMessage("segment identity tag too long")
	}
	return digest.Digest(hdr[offTag : offTag+tagLen]), length, nil
}

func (s *Store) create(name string, tag digest.Digest, data []byte) error {
	if len(tag) > maxTagLen {
		return fastarerrors.ErrSegmentInitFailed.
			WithMessage("identity tag too long").
			WithDetail("name", name)
	}

	tmp := s.path(fmt.Sprintf(".%s.%s.tmp", name, uuid.New().String()))
	f, err := os.OpenFile(tmp, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fastarerrors.ErrSegmentInitFailed.WithDetail("name", name).WithCause(err)
	}
	// The staging name goes away in every case; a published segment keeps
	// its second link.
	defer os.Remove(tmp)

	if err := writeMapped(f, encodeHeader(tag, len(data)), data); err != nil {
		f.Close()
		return fastarerrors.ErrSegmentInitFailed.WithDetail("name", name).WithCause(err)
	}
	if err := f.Close(); err != nil {
		return fastarerrors.ErrSegmentInitFailed.WithDetail("name", name).WithCause(err)
	}

	if err := publish(tmp, s.path(name)); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return errCreateConflict
		}
		return fastarerrors.ErrSegmentInitFailed.WithDetail("name", name).WithCause(err)
	}
	return nil
}

// Attach maps an existing segment read-only. When expected is non-empty the
// stored identity must equal it.
func (s *Store) Attach(name string, expected digest.Digest) (*Handle, error) {
	if !validName(name) {
		return nil, fastarerrors.ErrSegmentNotFound.
			WithMessage("invalid segment name").
			WithDetail("name", name)
	}

	f, err := os.Open(s.path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fastarerrors.ErrSegmentNotFound.WithDetail("name", name)
		}
		return nil, fmt.Errorf("failed to open segment %s: %w", name, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat segment %s: %w", name, err)
	}
	if info.Size() < HeaderPageSize {
		return nil, fastarerrors.ErrCorruptArchive.
			WithMessage("segment shorter than header page").
			WithDetail("name", name)
	}

	mapping, err := mapReadOnly(f, int(info.Size()))
	if err != nil {
		return nil, fmt.Errorf("failed to map segment %s: %w", name, err)
	}

	tag, length, err := decodeHeader(mapping, info.Size())
	if err == nil && expected != "" && tag != expected {
		err = fastarerrors.ErrIdentityMismatch.
			WithDetail("name", name).
			WithDetail("stored", tag.String()).
			WithDetail("expected", expected.String())
	}
	if err != nil {
		unmap(mapping)
		if fe, ok := err.(*fastarerrors.FastarError); ok && fe.Details["name"] == nil {
			err = fe.WithDetail("name", name)
		}
		return nil, err
	}

	metrics.SegmentsAttached.Inc()
	logger.Debug("Attached segment %s", name)
	return &Handle{
		name:     name,
		tag:      tag,
		mapping:  mapping,
		archive:  mapping[HeaderPageSize : HeaderPageSize+length],
		attached: time.Now(),
	}, nil
}

func validName(name string) bool {
	return strings.HasPrefix(name, Prefix) && !strings.ContainsAny(name, `/\`) &&
		!strings.HasSuffix(name, lockSuffix)
}

// Info describes one published segment.
type Info struct {
	Name     string
	Size     int64
	ModTime  time.Time
	Identity digest.Digest // empty when the header is unreadable
}

// List returns the published segments in the store directory, sorted by name.
func (s *Store) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !validName(e.Name()) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		info := Info{Name: e.Name(), Size: fi.Size(), ModTime: fi.ModTime()}
		info.Identity, _ = s.readTag(e.Name(), fi.Size())
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (s *Store) readTag(name string, size int64) (digest.Digest, error) {
	f, err := os.Open(s.path(name))
	if err != nil {
		return "", err
	}
	defer f.Close()

	hdr := make([]byte, HeaderPageSize)
	if _, err := f.ReadAt(hdr, 0); err != nil {
		return "", err
	}
	tag, _, err := decodeHeader(hdr, size)
	return tag, err
}

// Remove unlinks a segment and its lock file. Processes that still have it
// mapped keep their mapping; new attaches fail with SegmentNotFound.
func (s *Store) Remove(name string) error {
	if !validName(name) {
		return fastarerrors.ErrSegmentNotFound.
			WithMessage("invalid segment name").
			WithDetail("name", name)
	}
	if err := os.Remove(s.path(name)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fastarerrors.ErrSegmentNotFound.WithDetail("name", name)
		}
		return err
	}
	if err := os.Remove(s.path(name + lockSuffix)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logger.Warn("Failed to remove lock file for %s: %v", name, err)
	}
	logger.Info("Removed segment %s", name)
	return nil
}

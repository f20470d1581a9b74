// Package cache persists encoded archives next to their source so that a cold
// start on the same host skips parsing the text indices.
package cache

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/Turakar/fastar-loader/fastar/archive"
	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"
	"golang.org/x/exp/mmap"
)

const (
	// Magic identifies a cache file.
	Magic = "FASTARCC"
	// Version is the cache header layout version.
	Version uint32 = 1
	// Suffix is appended to the source path to name the default sidecar.
	Suffix = ".fastar"

	HeaderSize = 128

	maxTagLen = 96
)

// Header field offsets
const (
	offMagic          = 0
	offVersion        = 8
	offArchiveVersion = 12
	offTagLen         = 16
	offTag            = 20
	offLength         = offTag + maxTagLen
	offChecksum       = offLength + 8
)

// SidecarPath returns where the cache for the source at sourcePath lives.
// Without a cache directory the file sits next to the source.
func SidecarPath(cacheDir, sourcePath, name string) string {
	if cacheDir == "" {
		return sourcePath + Suffix
	}
	return filepath.Join(cacheDir, filepath.FromSlash(name)+Suffix)
}

// Load reads the archive cached at path. A missing file or a file built from
// another source version is a miss and returns nil, nil.
func Load(path string, expected digest.Digest) ([]byte, error) {
	r, err := mmap.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open cache %s: %w", path, err)
	}
	defer r.Close()

	if r.Len() < HeaderSize {
		return nil, fastarerrors.ErrCorruptArchive.
			WithMessage("cache file shorter than header").
			WithDetail("path", path)
	}
	hdr := make([]byte, HeaderSize)
	if _, err := r.ReadAt(hdr, 0); err != nil {
		return nil, fmt.Errorf("failed to read cache header %s: %w", path, err)
	}

	if string(hdr[offMagic:offMagic+len(Magic)]) != Magic {
		return nil, fastarerrors.ErrCorruptArchive.
			WithMessage("bad cache magic").
			WithDetail("path", path)
	}
	le := binary.LittleEndian
	if v, av := le.Uint32(hdr[offVersion:]), le.Uint32(hdr[offArchiveVersion:]); v != Version || av != archive.Version {
		return nil, fastarerrors.ErrStaleCacheVersion.
			WithDetail("path", path).
			WithDetail("version", v).
			WithDetail("archiveVersion", av)
	}

	tagLen := le.Uint32(hdr[offTagLen:])
	if tagLen > maxTagLen {
		return nil, fastarerrors.ErrCorruptArchive.
			WithMessage("cache identity tag too long").
			WithDetail("path", path)
	}
	if digest.Digest(hdr[offTag:offTag+tagLen]) != expected {
		return nil, nil
	}

	length := le.Uint64(hdr[offLength:])
	if length != uint64(r.Len()-HeaderSize) {
		return nil, fastarerrors.ErrCorruptArchive.
			WithMessage("cache length mismatch").
			WithDetail("path", path).
			WithDetail("recorded", length).
			WithDetail("actual", r.Len()-HeaderSize)
	}

	payload := make([]byte, length)
	if _, err := r.ReadAt(payload, HeaderSize); err != nil {
		return nil, fmt.Errorf("failed to read cache payload %s: %w", path, err)
	}
	if sum := crc32.ChecksumIEEE(payload); sum != le.Uint32(hdr[offChecksum:]) {
		return nil, fastarerrors.ErrCorruptArchive.
			WithMessage("cache checksum mismatch").
			WithDetail("path", path)
	}
	return payload, nil
}

// Store writes archive to path atomically: a uniquely named temp file in the
// same directory is written, synced and renamed over path.
func Store(path string, id digest.Digest, data []byte) (err error) {
	if len(id) > maxTagLen {
		return fmt.Errorf("identity tag %q exceeds %d bytes", id, maxTagLen)
	}

	hdr := make([]byte, HeaderSize)
	le := binary.LittleEndian
	copy(hdr[offMagic:], Magic)
	le.PutUint32(hdr[offVersion:], Version)
	le.PutUint32(hdr[offArchiveVersion:], archive.Version)
	le.PutUint32(hdr[offTagLen:], uint32(len(id)))
	copy(hdr[offTag:], id)
	le.PutUint64(hdr[offLength:], uint64(len(data)))
	le.PutUint32(hdr[offChecksum:], crc32.ChecksumIEEE(data))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tmp := fmt.Sprintf("%s.%s.tmp", path, uuid.New().String())
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create cache temp file: %w", err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = f.Write(hdr); err != nil {
		return fmt.Errorf("failed to write cache header: %w", err)
	}
	if _, err = f.Write(data); err != nil {
		return fmt.Errorf("failed to write cache payload: %w", err)
	}
	if err = f.Sync(); err != nil {
		return fmt.Errorf("failed to sync cache file: %w", err)
	}
	if err = f.Close(); err != nil {
		return fmt.Errorf("failed to close cache file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to publish cache file: %w", err)
	}
	return nil
}

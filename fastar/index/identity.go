package index

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// FileStamp is the observable state of one source file.
type FileStamp struct {
	Path    string
	Size    int64
	ModTime time.Time
}

// Identity names one version of a source: its FASTA file, both index files and
// the parameters that shape the model built from them.
type Identity struct {
	Tag   digest.Digest
	Files []FileStamp
}

// NewIdentity derives the identity tag from params and the file stamps, in order.
func NewIdentity(params string, files ...FileStamp) Identity {
	var b strings.Builder
	fmt.Fprintf(&b, "fastar-identity/1\nparams=%s\n", params)
	for _, f := range files {
		fmt.Fprintf(&b, "%s\x00%d\x00%d\n", f.Path, f.Size, f.ModTime.UnixNano())
	}
	return Identity{
		Tag:   digest.SHA256.FromString(b.String()),
		Files: append([]FileStamp(nil), files...),
	}
}

// StatIdentity stats each path and builds the identity from the results.
// Paths are made absolute so that relative and absolute opens agree.
func StatIdentity(params string, paths ...string) (Identity, error) {
	stamps := make([]FileStamp, 0, len(paths))
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return Identity{}, fmt.Errorf("failed to resolve %s: %w", p, err)
		}
		info, err := os.Stat(abs)
		if err != nil {
			return Identity{}, err
		}
		stamps = append(stamps, FileStamp{
			Path:    abs,
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return NewIdentity(params, stamps...), nil
}

// Short returns the first 16 hex characters of the tag.
func (id Identity) Short() string {
	enc := id.Tag.Encoded()
	if len(enc) > 16 {
		return enc[:16]
	}
	return enc
}

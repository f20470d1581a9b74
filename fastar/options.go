package fastar

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strings"

	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
	"github.com/Turakar/fastar-loader/fastar/logger"
	"gopkg.in/yaml.v3"
)

// CachePolicy selects how the disk cache is used when building a segment.
type CachePolicy string

const (
	// CacheReadWrite loads from the cache when valid and writes it after a build.
	CacheReadWrite CachePolicy = "readwrite"
	// CacheRebuild ignores any existing cache file and rewrites it.
	CacheRebuild CachePolicy = "rebuild"
	// CacheDisabled neither reads nor writes cache files.
	CacheDisabled CachePolicy = "disabled"
)

// Options configures a Loader.
type Options struct {
	// Shared memory directory for segments; empty selects segment.DefaultDir.
	ShmDir string `yaml:"shm_dir" json:"shm_dir"`
	// Directory for cache files; empty stores them next to each source.
	CacheDir    string      `yaml:"cache_dir" json:"cache_dir"`
	CachePolicy CachePolicy `yaml:"cache_policy" json:"cache_policy"`

	// Suffix of FASTA files under the loader root.
	Suffix string `yaml:"suffix" json:"suffix"`
	// TrackSuffix of track files under a TrackLoader root.
	TrackSuffix string `yaml:"track_suffix" json:"track_suffix"`
	// Strict makes Warm fail on the first source that cannot be loaded.
	Strict bool `yaml:"strict" json:"strict"`
	// MinContigLength drops shorter contigs from the index.
	MinContigLength uint64 `yaml:"min_contig_length" json:"min_contig_length"`
	// Workers bounds the parallelism of Warm.
	Workers int `yaml:"workers" json:"workers"`
	// LogLevel sets the package logger level when a loader is created.
	// Empty leaves the current level.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultOptions returns the options used by Open.
func DefaultOptions() Options {
	return Options{
		CachePolicy: CacheReadWrite,
		Suffix:      ".fna.gz",
		TrackSuffix: ".track.gz",
		Workers:     runtime.NumCPU(),
	}
}

// LoadOptions reads options from a YAML file, or a JSON file when the path
// ends in .json. Fields absent from the file keep their defaults.
func LoadOptions(path string) (Options, error) {
	opts := DefaultOptions()

	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("failed to read config file: %w", err)
	}
	if strings.HasSuffix(path, ".json") {
		if err := json.Unmarshal(data, &opts); err != nil {
			return opts, fastarerrors.ErrInvalidOptions.WithDetail("path", path).WithCause(err)
		}
	} else if err := yaml.Unmarshal(data, &opts); err != nil {
		return opts, fastarerrors.ErrInvalidOptions.WithDetail("path", path).WithCause(err)
	}
	return opts, opts.Validate()
}

// Validate checks option values and fills in zero values with defaults.
func (o *Options) Validate() error {
	switch o.CachePolicy {
	case "":
		o.CachePolicy = CacheReadWrite
	case CacheReadWrite, CacheRebuild, CacheDisabled:
	default:
		return fastarerrors.ErrInvalidOptions.
			WithMessage("unknown cache policy").
			WithDetail("cache_policy", o.CachePolicy)
	}
	if o.Suffix == "" {
		o.Suffix = ".fna.gz"
	}
	if o.TrackSuffix == "" {
		o.TrackSuffix = ".track.gz"
	}
	if o.Workers < 0 {
		return fastarerrors.ErrInvalidOptions.
			WithMessage("workers must not be negative").
			WithDetail("workers", o.Workers)
	}
	if o.Workers == 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.LogLevel != "" {
		if _, err := logger.ParseLevel(o.LogLevel); err != nil {
			return fastarerrors.ErrInvalidOptions.WithDetail("log_level", o.LogLevel).WithCause(err)
		}
	}
	return nil
}

// applyLogLevel sets the package logger level from LogLevel, if any.
func (o *Options) applyLogLevel() {
	if o.LogLevel == "" {
		return
	}
	if level, err := logger.ParseLevel(o.LogLevel); err == nil {
		logger.SetLogLevel(level)
	}
}

// params renders the source kind and the options that change the built model.
// It is part of the source identity.
func (o *Options) params(kind string) string {
	return fmt.Sprintf("kind=%s min_contig_length=%d", kind, o.MinContigLength)
}

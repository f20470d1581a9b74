package fastar

import (
	fastarerrors "github.com/Turakar/fastar-loader/fastar/errors"
)

// Re-exported error values for callers that only import this package.
var (
	ErrMalformedIndex      = fastarerrors.ErrMalformedIndex
	ErrEncodeOverflow      = fastarerrors.ErrEncodeOverflow
	ErrCorruptArchive      = fastarerrors.ErrCorruptArchive
	ErrSegmentInitFailed   = fastarerrors.ErrSegmentInitFailed
	ErrSegmentNotFound     = fastarerrors.ErrSegmentNotFound
	ErrIdentityMismatch    = fastarerrors.ErrIdentityMismatch
	ErrStaleCacheVersion   = fastarerrors.ErrStaleCacheVersion
	ErrUnknownContig       = fastarerrors.ErrUnknownContig
	ErrRangeOutOfBounds    = fastarerrors.ErrRangeOutOfBounds
	ErrDecompressionFailed = fastarerrors.ErrDecompressionFailed
	ErrUnknownSource       = fastarerrors.ErrUnknownSource
	ErrInvalidOptions      = fastarerrors.ErrInvalidOptions
)

// NewUnknownContigError creates an unknown contig error
func NewUnknownContigError(contig string) error {
	return fastarerrors.ErrUnknownContig.WithDetail("contig", contig)
}

// NewRangeOutOfBoundsError creates a range error for [start, start+length)
func NewRangeOutOfBoundsError(contig string, start, length, contigLength uint64) error {
	return fastarerrors.ErrRangeOutOfBounds.
		WithDetail("contig", contig).
		WithDetail("start", start).
		WithDetail("length", length).
		WithDetail("contigLength", contigLength)
}

// NewUnknownSourceError creates an unknown source error
func NewUnknownSourceError(name, path string) error {
	return fastarerrors.ErrUnknownSource.
		WithDetail("name", name).
		WithDetail("path", path)
}

// NewDecompressionError creates a decompression error for the block at the
// given compressed offset
func NewDecompressionError(message string, compressedOffset uint64) *fastarerrors.FastarError {
	return fastarerrors.ErrDecompressionFailed.
		WithMessage(message).
		WithDetail("compressedOffset", compressedOffset)
}

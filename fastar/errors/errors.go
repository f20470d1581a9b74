package errors

import "fmt"

// Error types for fastar operations
var (
	// ErrMalformedIndex is returned when a parsed index violates ordering or uniqueness rules
	ErrMalformedIndex = &FastarError{Code: "MALFORMED_INDEX", Message: "malformed index"}

	// ErrEncodeOverflow is returned when an archive offset does not fit the offset width
	ErrEncodeOverflow = &FastarError{Code: "ENCODE_OVERFLOW", Message: "archive offset overflow"}

	// ErrCorruptArchive is returned when an archive, segment or cache header fails validation
	ErrCorruptArchive = &FastarError{Code: "CORRUPT_ARCHIVE", Message: "corrupt archive"}

	// ErrSegmentInitFailed is returned when a new shared memory segment could not be written
	ErrSegmentInitFailed = &FastarError{Code: "SEGMENT_INIT_FAILED", Message: "failed to initialize segment"}

	// ErrSegmentNotFound is returned when attaching to a segment that was never created on this host
	ErrSegmentNotFound = &FastarError{Code: "SEGMENT_NOT_FOUND", Message: "segment not found"}

	// ErrIdentityMismatch is returned when a segment was built from a different version of the source
	ErrIdentityMismatch = &FastarError{Code: "IDENTITY_MISMATCH", Message: "source identity mismatch"}

	// ErrStaleCacheVersion is returned when a cache file was written by another format version
	ErrStaleCacheVersion = &FastarError{Code: "STALE_CACHE_VERSION", Message: "stale cache format version"}

	// ErrUnknownContig is returned when a contig is not present in the index
	ErrUnknownContig = &FastarError{Code: "UNKNOWN_CONTIG", Message: "unknown contig"}

	// ErrRangeOutOfBounds is returned when a requested range exceeds the contig length
	ErrRangeOutOfBounds = &FastarError{Code: "RANGE_OUT_OF_BOUNDS", Message: "range out of bounds"}

	// ErrDecompressionFailed is returned when a compressed block cannot be decoded
	ErrDecompressionFailed = &FastarError{Code: "DECOMPRESSION_FAILED", Message: "decompression failed"}

	// ErrUnknownSource is returned when a FASTA name has no file under the loader root
	ErrUnknownSource = &FastarError{Code: "UNKNOWN_SOURCE", Message: "unknown source"}

	// ErrInvalidOptions is returned when loader options fail validation
	ErrInvalidOptions = &FastarError{Code: "INVALID_OPTIONS", Message: "invalid options"}
)

// FastarError represents a structured error in fastar operations
type FastarError struct {
	Code    string                 // Error code for programmatic handling
	Message string                 // Human-readable error message
	Cause   error                  // Underlying error, if any
	Details map[string]interface{} // Additional context
}

// Error implements the error interface
func (e *FastarError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	if len(e.Details) > 0 {
		return fmt.Sprintf("[%s] %s (details: %v)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *FastarError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a FastarError with the same code, so that
// errors.Is(err, ErrUnknownContig) matches derived errors.
func (e *FastarError) Is(target error) bool {
	t, ok := target.(*FastarError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause adds a cause to the error
func (e *FastarError) WithCause(cause error) *FastarError {
	return &FastarError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   cause,
		Details: e.Details,
	}
}

// WithDetail adds a detail key-value pair to the error
func (e *FastarError) WithDetail(key string, value interface{}) *FastarError {
	details := make(map[string]interface{})
	for k, v := range e.Details {
		details[k] = v
	}
	details[key] = value
	return &FastarError{
		Code:    e.Code,
		Message: e.Message,
		Cause:   e.Cause,
		Details: details,
	}
}

// WithMessage overrides the error message
func (e *FastarError) WithMessage(message string) *FastarError {
	return &FastarError{
		Code:    e.Code,
		Message: message,
		Cause:   e.Cause,
		Details: e.Details,
	}
}

// IsFastarError checks if an error is a FastarError
func IsFastarError(err error) bool {
	_, ok := err.(*FastarError)
	return ok
}

// GetErrorCode extracts the error code from a FastarError
func GetErrorCode(err error) string {
	if fastarErr, ok := err.(*FastarError); ok {
		return fastarErr.Code
	}
	return ""
}

package upload

import (
	"errors"
	"fmt"
)

// Common errors for upload session operations.
var (
	// ErrUnknownSession is returned when no session directory exists for
	// an upload id.
	ErrUnknownSession = errors.New("unknown upload session")

	// ErrNoChunks is returned when finalize finds no chunk files at all.
	ErrNoChunks = errors.New("upload session has no chunks")

	// ErrDestinationMissing is returned when the destination folder of a
	// session does not exist.
	ErrDestinationMissing = errors.New("destination folder missing")

	// ErrInvalidPolicy is returned for conflict policy values outside the
	// closed enum.
	ErrInvalidPolicy = errors.New("invalid conflict policy")

	// ErrInvalidFileName is returned for empty file names and names
	// carrying path separators or dot segments.
	ErrInvalidFileName = errors.New("invalid file name")

	// ErrSizeExceeded is returned when the declared file size exceeds the
	// configured maximum.
	ErrSizeExceeded = errors.New("declared file size exceeds the configured maximum")

	// ErrChunkWriteFailed is returned when storing a chunk fails even
	// after the copy fallback.
	ErrChunkWriteFailed = errors.New("chunk write failed")
)

// ConflictError reports an existing file at the final destination under the
// "ask" policy. It carries the colliding relative path so the caller can
// prompt for a policy and retry.
type ConflictError struct {
	Path string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("destination already exists: %s", e.Path)
}

// MissingChunkError reports a gap in the chunk sequence at finalize time.
// The session is left intact so the client can re-send the chunk.
type MissingChunkError struct {
	Index int
}

func (e *MissingChunkError) Error() string {
	return fmt.Sprintf("missing chunk %d", e.Index)
}

// SizeMismatchError reports that the concatenated output size differs from
// the size declared at init time. This is a hard integrity failure; both
// the partially written file and the session are left in place.
type SizeMismatchError struct {
	Written  int64
	Declared int64
}

func (e *SizeMismatchError) Error() string {
	return fmt.Sprintf("size mismatch: wrote %d bytes, declared %d", e.Written, e.Declared)
}

package upload

import (
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/marmos91/dropzone/internal/logger"
)

// Receiver stores incoming chunks into session directories.
//
// Chunks are staged to a unique temp file in the session directory and
// renamed into place, so a retried or concurrent write of the same index is
// last-writer-wins and a reader never observes a half-written chunk file.
type Receiver struct {
	store *SessionStore
}

// NewReceiver creates a chunk receiver over the given session store.
func NewReceiver(store *SessionStore) *Receiver {
	return &Receiver{store: store}
}

// Put stores the chunk at the given index, reading its bytes from r.
// Re-sending an index overwrites the previous content. No ordering is
// enforced here; the finalizer sorts by index. Returns ErrUnknownSession if
// the session directory does not exist.
func (rc *Receiver) Put(id string, index int, r io.Reader) (int64, error) {
	if index < 0 {
		return 0, fmt.Errorf("negative chunk index %d", index)
	}
	if !rc.store.Exists(id) {
		return 0, ErrUnknownSession
	}

	dst := rc.store.ChunkPath(id, index)
	tmp := dst + "." + uuid.NewString() + ".tmp"

	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, fmt.Errorf("%w: stage chunk: %v", ErrChunkWriteFailed, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("%w: write chunk %d: %v", ErrChunkWriteFailed, index, err)
	}

	if err := os.Rename(tmp, dst); err != nil {
		// A rename can fail transiently on some network filesystems; fall
		// back to a copy and unlink before giving up.
		logger.Warn("chunk rename failed, retrying via copy", "session", id, "index", index, "error", err)
		if err := copyAndRemove(tmp, dst); err != nil {
			os.Remove(tmp)
			return 0, fmt.Errorf("%w: store chunk %d: %v", ErrChunkWriteFailed, index, err)
		}
	}
	return n, nil
}

// copyAndRemove copies src over dst and unlinks src.
func copyAndRemove(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	in.Close()
	return os.Remove(src)
}

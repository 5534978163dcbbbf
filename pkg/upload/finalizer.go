package upload

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/marmos91/dropzone/internal/logger"
	"github.com/marmos91/dropzone/pkg/acl"
	"github.com/marmos91/dropzone/pkg/sandbox"
)

// copyBufferSize bounds the memory used while concatenating chunks.
const copyBufferSize = 8 * 1024 * 1024

// maxRenameAttempts bounds the "name (n).ext" search under PolicyRename.
const maxRenameAttempts = 9999

// Finalizer assembles the chunks of a completed session into the final
// destination file.
//
// The destination file's exclusive advisory lock is the only serialization
// point. When two finalize calls race on the same session, the loser blocks
// on the lock, then re-checks the session directory inside the lock window
// and fails with ErrUnknownSession because the winner removed it. The same
// re-check closes the race with a concurrent abort.
type Finalizer struct {
	store    *SessionStore
	sb       *sandbox.Sandbox
	resolver *acl.Resolver
}

// NewFinalizer creates a finalizer writing into the given sandbox under the
// given access rules.
func NewFinalizer(store *SessionStore, sb *sandbox.Sandbox, resolver *acl.Resolver) *Finalizer {
	return &Finalizer{store: store, sb: sb, resolver: resolver}
}

// Finalize concatenates all chunks of the session in numeric index order
// into destDir/relativePath/fileName and deletes the session on success,
// returning the final root-relative path. The policy argument overrides the
// one recorded at init time; pass "" to use the recorded one.
//
// Grants are re-evaluated here because they may have changed since init.
// MissingChunkError and SizeMismatchError leave the session intact so the
// client can repair and retry.
func (f *Finalizer) Finalize(p acl.Principal, id string, policy Policy) (string, error) {
	meta, err := f.store.Meta(id)
	if err != nil {
		return "", err
	}
	if policy == "" {
		policy = meta.Policy
	}
	if !policy.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}

	// The name was validated at Begin, but meta.json sits on disk between
	// init and finalize; re-check so a tampered document cannot smuggle
	// path segments into the join below.
	if !validFileName(meta.FileName) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, meta.FileName)
	}

	destAbs := f.sb.Abs(meta.DestDir)
	if info, err := os.Stat(destAbs); err != nil || !info.IsDir() {
		return "", ErrDestinationMissing
	}
	if err := f.resolver.EnsureReadable(p, destAbs); err != nil {
		return "", err
	}
	if err := f.resolver.EnsureWritable(p, meta.DestDir); err != nil {
		return "", err
	}

	targetDir := destAbs
	if meta.RelativePath != "" {
		targetDir = f.sb.Abs(meta.DestDir + "/" + meta.RelativePath)
	}

	finalAbs := filepath.Join(targetDir, meta.FileName)
	if err := f.sb.EnsureInsideRoot(finalAbs); err != nil {
		return "", err
	}

	// The destDir grant check above proves nothing about the assembled
	// path: relativePath and fileName come from the session document, so
	// the write grant must be re-proven against the full target before any
	// directory or file is created.
	relTarget, err := f.sb.Rel(finalAbs)
	if err != nil {
		return "", err
	}
	if err := f.resolver.EnsureWritable(p, relTarget); err != nil {
		return "", err
	}
	if err := f.resolver.EnsureTargetCreatable(p, finalAbs); err != nil {
		return "", err
	}

	if targetDir != destAbs {
		if err := os.MkdirAll(targetDir, 0755); err != nil {
			return "", fmt.Errorf("create destination directories: %w", err)
		}
	}

	finalAbs, err = resolveConflict(finalAbs, policy)
	if err != nil {
		return "", err
	}

	written, err := f.assemble(id, meta, finalAbs)
	if err != nil {
		return "", err
	}

	if meta.FileSize > 0 && written != meta.FileSize {
		return "", &SizeMismatchError{Written: written, Declared: meta.FileSize}
	}

	if err := f.store.Drop(id); err != nil {
		logger.Warn("session cleanup after finalize failed", "session", id, "error", err)
	}
	return f.sb.Rel(finalAbs)
}

// resolveConflict applies the conflict policy against an existing file at
// the final path and returns the path to actually write.
func resolveConflict(finalAbs string, policy Policy) (string, error) {
	if _, err := os.Lstat(finalAbs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return finalAbs, nil
		}
		return "", fmt.Errorf("stat destination: %w", err)
	}

	switch policy {
	case PolicyOverwrite:
		return finalAbs, nil
	case PolicyRename:
		return uniqueName(finalAbs)
	default:
		return "", &ConflictError{Path: finalAbs}
	}
}

// uniqueName appends " (n)" before the extension until the name is free.
func uniqueName(abs string) (string, error) {
	ext := filepath.Ext(abs)
	stem := strings.TrimSuffix(abs, ext)
	for n := 1; n <= maxRenameAttempts; n++ {
		candidate := fmt.Sprintf("%s (%d)%s", stem, n, ext)
		if _, err := os.Lstat(candidate); errors.Is(err, fs.ErrNotExist) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("no free name for %s after %d attempts", abs, maxRenameAttempts)
}

// assemble verifies chunk completeness, then opens the output, locks it
// exclusively and streams every chunk into it in numeric order. The
// session-existence re-check happens inside the lock window.
func (f *Finalizer) assemble(id string, meta *Meta, finalAbs string) (int64, error) {
	// Completeness is proven before the destination is opened: a gap must
	// not leave an empty file behind that a repaired retry then collides
	// with. Chunks are only ever removed together with their session, and
	// that is caught by the re-check inside the lock below.
	present, err := f.store.presentChunks(id)
	if err != nil {
		return 0, err
	}
	if len(present) == 0 {
		return 0, ErrNoChunks
	}
	if idx, ok := firstGap(present, meta.TotalChunks); !ok {
		return 0, &MissingChunkError{Index: idx}
	}

	out, err := os.OpenFile(finalAbs, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return 0, fmt.Errorf("open destination: %w", err)
	}
	defer out.Close()

	if err := lockExclusive(out); err != nil {
		return 0, fmt.Errorf("lock destination: %w", err)
	}
	defer unlock(out)

	// A concurrent finalize or abort may have removed the session while we
	// waited for the lock.
	if !f.store.Exists(id) {
		return 0, ErrUnknownSession
	}

	if err := out.Truncate(0); err != nil {
		return 0, fmt.Errorf("truncate destination: %w", err)
	}
	if _, err := out.Seek(0, io.SeekStart); err != nil {
		return 0, fmt.Errorf("seek destination: %w", err)
	}

	buf := make([]byte, copyBufferSize)
	var written int64
	for _, idx := range present {
		n, err := appendChunk(out, f.store.ChunkPath(id, idx), buf)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return written, &MissingChunkError{Index: idx}
			}
			return written, fmt.Errorf("copy chunk %d: %w", idx, err)
		}
		written += n
	}

	if err := out.Sync(); err != nil {
		return written, fmt.Errorf("sync destination: %w", err)
	}
	return written, nil
}

// firstGap verifies the sorted present indices form the contiguous range
// 0..n-1, where n is the declared chunk count when positive, otherwise the
// number of chunks on disk. Returns the first missing index on failure.
func firstGap(present []int, declared int) (int, bool) {
	expected := len(present)
	if declared > 0 {
		expected = declared
	}
	for i := 0; i < expected; i++ {
		if i >= len(present) || present[i] != i {
			return i, false
		}
	}
	return 0, true
}

// appendChunk streams one chunk file into the output.
func appendChunk(out *os.File, path string, buf []byte) (int64, error) {
	in, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer in.Close()
	return io.CopyBuffer(out, in, buf)
}

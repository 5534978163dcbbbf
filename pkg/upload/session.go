package upload

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/marmos91/dropzone/pkg/sandbox"
)

// Policy selects how a finalize resolves a name collision at the
// destination.
type Policy string

const (
	// PolicyAsk fails finalize with a ConflictError so the client can
	// prompt the user for a decision.
	PolicyAsk Policy = "ask"

	// PolicyOverwrite replaces the existing file.
	PolicyOverwrite Policy = "overwrite"

	// PolicyRename picks a collision-free "name (n).ext" variant.
	PolicyRename Policy = "rename"
)

// IsValid reports whether the policy is one of the closed enum values.
func (p Policy) IsValid() bool {
	switch p {
	case PolicyAsk, PolicyOverwrite, PolicyRename:
		return true
	}
	return false
}

// Meta is the per-session metadata document persisted as meta.json inside
// the session directory. All durable upload state lives here and in the
// chunk files next to it; there is no in-process session object.
type Meta struct {
	UploadID     string    `json:"uploadId"`
	DestDir      string    `json:"destDir"`
	RelativePath string    `json:"relativePath"`
	FileName     string    `json:"fileName"`
	FileSize     int64     `json:"fileSize"`
	LastModified int64     `json:"lastModified"`
	Policy       Policy    `json:"policy"`
	TotalChunks  int       `json:"total"`
	CreatedAt    time.Time `json:"created"`
	UpdatedAt    time.Time `json:"updated"`
}

// Status is the resume snapshot of a session: whether it exists, its
// metadata and the sorted chunk indices already on disk.
type Status struct {
	Exists  bool  `json:"exists"`
	Meta    *Meta `json:"meta,omitempty"`
	Present []int `json:"presentChunkIndices"`
}

const (
	metaFileName = "meta.json"
	chunkPattern = "chunk_%d.part"
)

var chunkNameRe = regexp.MustCompile(`^chunk_(\d+)\.part$`)

// SessionStore manages upload session directories under a single base
// directory (storage/chunks). Sessions are keyed by a deterministic id so a
// client restarting the same logical upload lands on the same directory.
type SessionStore struct {
	base string
}

// NewSessionStore creates a session store rooted at base, creating the
// directory if needed.
func NewSessionStore(base string) (*SessionStore, error) {
	if base == "" {
		return nil, fmt.Errorf("session store base directory is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve session store base: %w", err)
	}
	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("create session store base: %w", err)
	}
	return &SessionStore{base: abs}, nil
}

// Base returns the absolute base directory holding session directories.
func (s *SessionStore) Base() string {
	return s.base
}

// ComputeID derives the deterministic session id for a logical upload. Two
// begins with identical parameters always map to the same id, which is what
// makes resume work without client-side bookkeeping.
func ComputeID(destDir, relativePath, fileName string, fileSize, lastModified int64) string {
	key := strings.Join([]string{
		sandbox.Normalize(destDir),
		sandbox.Normalize(relativePath),
		fileName,
		strconv.FormatInt(fileSize, 10),
		strconv.FormatInt(lastModified, 10),
	}, "|")
	sum := sha256.Sum256([]byte(key))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// validFileName rejects names that would smuggle extra path segments into
// the final destination. The name must be a single bare path element.
func validFileName(name string) bool {
	switch name {
	case "", ".", "..":
		return false
	}
	return !strings.ContainsAny(name, `/\`)
}

// sanitizeID strips any character outside the id alphabet so an attacker
// cannot turn an upload id into a path traversal.
func sanitizeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '_', r == '-', r == '.':
			return r
		}
		return -1
	}, id)
}

// Dir returns the session directory for an id. The id is sanitized to the
// base64url alphabet first.
func (s *SessionStore) Dir(id string) string {
	return filepath.Join(s.base, sanitizeID(id))
}

// ChunkPath returns the chunk file path for an index inside a session.
func (s *SessionStore) ChunkPath(id string, index int) string {
	return filepath.Join(s.Dir(id), fmt.Sprintf(chunkPattern, index))
}

// Begin creates (or reuses) the session for the given upload parameters and
// returns its id. Calling Begin again with identical parameters is a no-op
// that returns the same id; an existing meta.json is left untouched so a
// resumed upload keeps its original creation time.
func (s *SessionStore) Begin(destDir, relativePath, fileName string, fileSize, lastModified int64, policy Policy) (string, error) {
	if !policy.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, policy)
	}
	if !validFileName(fileName) {
		return "", fmt.Errorf("%w: %q", ErrInvalidFileName, fileName)
	}

	id := ComputeID(destDir, relativePath, fileName, fileSize, lastModified)
	dir := s.Dir(id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create session directory: %w", err)
	}

	metaPath := filepath.Join(dir, metaFileName)
	if _, err := os.Stat(metaPath); err == nil {
		return id, nil
	}

	now := time.Now().UTC()
	meta := &Meta{
		UploadID:     id,
		DestDir:      sandbox.Normalize(destDir),
		RelativePath: sandbox.Normalize(relativePath),
		FileName:     fileName,
		FileSize:     fileSize,
		LastModified: lastModified,
		Policy:       policy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.writeMeta(dir, meta); err != nil {
		return "", err
	}
	return id, nil
}

// Meta loads the metadata document of a session. Returns ErrUnknownSession
// when the session directory or its meta.json is gone.
func (s *SessionStore) Meta(id string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(s.Dir(id), metaFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrUnknownSession
		}
		return nil, fmt.Errorf("read session meta: %w", err)
	}
	meta := &Meta{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("parse session meta: %w", err)
	}
	return meta, nil
}

// Status returns the resume snapshot for a session. An unknown id yields
// Exists=false rather than an error so the client can treat "never started"
// and "reaped" uniformly.
func (s *SessionStore) Status(id string) (*Status, error) {
	meta, err := s.Meta(id)
	if err != nil {
		if err == ErrUnknownSession {
			return &Status{Exists: false, Present: []int{}}, nil
		}
		return nil, err
	}

	present, err := s.presentChunks(id)
	if err != nil {
		return nil, err
	}
	return &Status{Exists: true, Meta: meta, Present: present}, nil
}

// presentChunks lists the chunk indices on disk for a session, sorted
// numerically.
func (s *SessionStore) presentChunks(id string) ([]int, error) {
	entries, err := os.ReadDir(s.Dir(id))
	if err != nil {
		if os.IsNotExist(err) {
			return []int{}, nil
		}
		return nil, fmt.Errorf("list session directory: %w", err)
	}

	present := []int{}
	for _, e := range entries {
		m := chunkNameRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		present = append(present, n)
	}
	sort.Ints(present)
	return present, nil
}

// Touch bumps the session's updatedAt and records the declared chunk count.
// The reaper's TTL accounting keys off updatedAt, so every chunk write goes
// through here.
func (s *SessionStore) Touch(id string, totalChunks int) error {
	meta, err := s.Meta(id)
	if err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	if totalChunks > 0 {
		meta.TotalChunks = totalChunks
	}
	return s.writeMeta(s.Dir(id), meta)
}

// Drop recursively deletes the session directory. Deleting an already-gone
// session is not an error; abort relies on that.
func (s *SessionStore) Drop(id string) error {
	if err := os.RemoveAll(s.Dir(id)); err != nil {
		return fmt.Errorf("remove session directory: %w", err)
	}
	return nil
}

// Exists reports whether the session directory is present on disk.
func (s *SessionStore) Exists(id string) bool {
	info, err := os.Stat(s.Dir(id))
	return err == nil && info.IsDir()
}

// List returns the ids of every session directory under the base. Used by
// the reaper sweep.
func (s *SessionStore) List() ([]string, error) {
	entries, err := os.ReadDir(s.base)
	if err != nil {
		return nil, fmt.Errorf("list session store: %w", err)
	}
	ids := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() || sandbox.IsJunkName(e.Name()) {
			continue
		}
		ids = append(ids, e.Name())
	}
	return ids, nil
}

func (s *SessionStore) writeMeta(dir string, meta *Meta) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session meta: %w", err)
	}
	tmp := filepath.Join(dir, metaFileName+".tmp")
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("write session meta: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(dir, metaFileName)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace session meta: %w", err)
	}
	return nil
}

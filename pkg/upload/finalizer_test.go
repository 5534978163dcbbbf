package upload

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dropzone/pkg/acl"
	"github.com/marmos91/dropzone/pkg/sandbox"
)

type finalizeEnv struct {
	store    *SessionStore
	sb       *sandbox.Sandbox
	fin      *Finalizer
	receiver *Receiver
}

func newFinalizeEnv(t *testing.T) *finalizeEnv {
	t.Helper()
	base := t.TempDir()
	sb, err := sandbox.New(filepath.Join(base, "files"))
	require.NoError(t, err)
	store, err := NewSessionStore(filepath.Join(base, "storage", "chunks"))
	require.NoError(t, err)
	aclStore, err := acl.NewStore(filepath.Join(base, "storage", "auth", "users.json"))
	require.NoError(t, err)
	resolver := acl.NewResolver(sb, aclStore, false)
	return &finalizeEnv{
		store:    store,
		sb:       sb,
		fin:      NewFinalizer(store, sb, resolver),
		receiver: NewReceiver(store),
	}
}

// beginWithChunks starts a session and stores the given chunk payloads in a
// shuffled order.
func (e *finalizeEnv) beginWithChunks(t *testing.T, destDir, relPath, name string, size int64, policy Policy, payloads []string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(e.sb.Abs(destDir), 0755))

	id, err := e.store.Begin(destDir, relPath, name, size, 1700000000, policy)
	require.NoError(t, err)

	order := rand.Perm(len(payloads))
	for _, idx := range order {
		_, err := e.receiver.Put(id, idx, strings.NewReader(payloads[idx]))
		require.NoError(t, err)
	}
	require.NoError(t, e.store.Touch(id, len(payloads)))
	return id
}

func TestFinalizeAssemblesInNumericOrder(t *testing.T) {
	e := newFinalizeEnv(t)

	// Twelve chunks force numeric ordering: lexically chunk_10 sorts before
	// chunk_2.
	payloads := make([]string, 12)
	var want strings.Builder
	for i := range payloads {
		payloads[i] = fmt.Sprintf("part-%02d;", i)
		want.WriteString(payloads[i])
	}

	id := e.beginWithChunks(t, "uploads", "", "big.bin", int64(want.Len()), PolicyAsk, payloads)

	rel, err := e.fin.Finalize(acl.Anonymous, id, "")
	require.NoError(t, err)
	assert.Equal(t, "uploads/big.bin", rel)

	data, err := os.ReadFile(e.sb.Abs(rel))
	require.NoError(t, err)
	assert.Equal(t, want.String(), string(data))

	assert.False(t, e.store.Exists(id), "session must be removed on success")
}

func TestFinalizeCreatesRelativePathDirs(t *testing.T) {
	e := newFinalizeEnv(t)
	id := e.beginWithChunks(t, "uploads", "album/2024", "pic.jpg", 4, PolicyAsk, []string{"abcd"})

	rel, err := e.fin.Finalize(acl.Anonymous, id, "")
	require.NoError(t, err)
	assert.Equal(t, "uploads/album/2024/pic.jpg", rel)
	assert.FileExists(t, e.sb.Abs(rel))
}

func TestFinalizeAskConflictDoesNotMutate(t *testing.T) {
	e := newFinalizeEnv(t)
	require.NoError(t, os.MkdirAll(e.sb.Abs("docs"), 0755))
	require.NoError(t, os.WriteFile(e.sb.Abs("docs/a.txt"), []byte("original"), 0644))

	id := e.beginWithChunks(t, "docs", "", "a.txt", 3, PolicyAsk, []string{"new"})

	_, err := e.fin.Finalize(acl.Anonymous, id, PolicyAsk)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, e.sb.Abs("docs/a.txt"), conflict.Path)

	data, err := os.ReadFile(e.sb.Abs("docs/a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "original", string(data), "ask conflict must not touch the destination")
	assert.True(t, e.store.Exists(id), "session must survive an ask conflict")

	// The client resolves the prompt by retrying with an explicit policy.
	rel, err := e.fin.Finalize(acl.Anonymous, id, PolicyOverwrite)
	require.NoError(t, err)
	assert.Equal(t, "docs/a.txt", rel)
}

func TestFinalizeRenamePicksFreeName(t *testing.T) {
	e := newFinalizeEnv(t)
	require.NoError(t, os.MkdirAll(e.sb.Abs("inbox"), 0755))
	require.NoError(t, os.WriteFile(e.sb.Abs("inbox/report.zip"), []byte("v0"), 0644))

	id := e.beginWithChunks(t, "inbox", "", "report.zip", 2, PolicyRename, []string{"v1"})
	rel, err := e.fin.Finalize(acl.Anonymous, id, "")
	require.NoError(t, err)
	assert.Equal(t, "inbox/report (1).zip", rel)

	id = e.beginWithChunks(t, "inbox", "", "report.zip", 2, PolicyRename, []string{"v2"})
	rel, err = e.fin.Finalize(acl.Anonymous, id, "")
	require.NoError(t, err)
	assert.Equal(t, "inbox/report (2).zip", rel)
}

func TestFinalizeOverwriteReplacesContent(t *testing.T) {
	e := newFinalizeEnv(t)
	require.NoError(t, os.MkdirAll(e.sb.Abs("docs"), 0755))
	require.NoError(t, os.WriteFile(e.sb.Abs("docs/n.txt"), []byte("a much longer original body"), 0644))

	id := e.beginWithChunks(t, "docs", "", "n.txt", 5, PolicyOverwrite, []string{"short"})
	rel, err := e.fin.Finalize(acl.Anonymous, id, "")
	require.NoError(t, err)

	data, err := os.ReadFile(e.sb.Abs(rel))
	require.NoError(t, err)
	assert.Equal(t, "short", string(data), "overwrite must truncate the previous content")
}

func TestFinalizeMissingChunkLeavesSession(t *testing.T) {
	e := newFinalizeEnv(t)
	require.NoError(t, os.MkdirAll(e.sb.Abs("d"), 0755))

	id, err := e.store.Begin("d", "", "f.bin", 6, 0, PolicyAsk)
	require.NoError(t, err)
	_, err = e.receiver.Put(id, 0, strings.NewReader("aa"))
	require.NoError(t, err)
	_, err = e.receiver.Put(id, 2, strings.NewReader("cc"))
	require.NoError(t, err)
	require.NoError(t, e.store.Touch(id, 3))

	_, err = e.fin.Finalize(acl.Anonymous, id, "")
	var missing *MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Index)
	assert.True(t, e.store.Exists(id), "missing chunk must keep the session resumable")
	assert.NoFileExists(t, e.sb.Abs("d/f.bin"),
		"a failed finalize must not leave an empty destination behind")

	// Supplying the gap makes the retry succeed.
	_, err = e.receiver.Put(id, 1, strings.NewReader("bb"))
	require.NoError(t, err)
	rel, err := e.fin.Finalize(acl.Anonymous, id, "")
	require.NoError(t, err)

	data, err := os.ReadFile(e.sb.Abs(rel))
	require.NoError(t, err)
	assert.Equal(t, "aabbcc", string(data))
}

func TestFinalizeMissingDeclaredTailChunk(t *testing.T) {
	e := newFinalizeEnv(t)
	require.NoError(t, os.MkdirAll(e.sb.Abs("d"), 0755))

	id, err := e.store.Begin("d", "", "f.bin", 0, 0, PolicyAsk)
	require.NoError(t, err)
	_, err = e.receiver.Put(id, 0, strings.NewReader("aa"))
	require.NoError(t, err)
	require.NoError(t, e.store.Touch(id, 2))

	_, err = e.fin.Finalize(acl.Anonymous, id, "")
	var missing *MissingChunkError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, 1, missing.Index)
}

func TestFinalizeSizeMismatch(t *testing.T) {
	e := newFinalizeEnv(t)
	id := e.beginWithChunks(t, "d", "", "f.bin", 999, PolicyAsk, []string{"4byt"})

	_, err := e.fin.Finalize(acl.Anonymous, id, "")
	var mismatch *SizeMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, int64(4), mismatch.Written)
	assert.Equal(t, int64(999), mismatch.Declared)

	// The partial output stays for inspection and the session stays for a
	// retrying client.
	assert.FileExists(t, e.sb.Abs("d/f.bin"))
	assert.True(t, e.store.Exists(id))
}

func TestFinalizeUnknownSession(t *testing.T) {
	e := newFinalizeEnv(t)
	_, err := e.fin.Finalize(acl.Anonymous, "no-such-id", PolicyAsk)
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestFinalizeDestinationMissing(t *testing.T) {
	e := newFinalizeEnv(t)
	id, err := e.store.Begin("vanished", "", "f.bin", 1, 0, PolicyAsk)
	require.NoError(t, err)
	_, err = e.receiver.Put(id, 0, strings.NewReader("x"))
	require.NoError(t, err)

	_, err = e.fin.Finalize(acl.Anonymous, id, "")
	assert.ErrorIs(t, err, ErrDestinationMissing)
}

func TestFinalizeNoChunks(t *testing.T) {
	e := newFinalizeEnv(t)
	require.NoError(t, os.MkdirAll(e.sb.Abs("d"), 0755))
	id, err := e.store.Begin("d", "", "f.bin", 0, 0, PolicyAsk)
	require.NoError(t, err)

	_, err = e.fin.Finalize(acl.Anonymous, id, "")
	assert.ErrorIs(t, err, ErrNoChunks)
	assert.NoFileExists(t, e.sb.Abs("d/f.bin"))
}

// newAuthedFinalizeEnv builds a finalize environment with grant evaluation
// enabled and a single user "alice" holding a write grant on "shared".
func newAuthedFinalizeEnv(t *testing.T) (*finalizeEnv, *acl.Store) {
	t.Helper()
	base := t.TempDir()
	sb, err := sandbox.New(filepath.Join(base, "files"))
	require.NoError(t, err)
	store, err := NewSessionStore(filepath.Join(base, "storage", "chunks"))
	require.NoError(t, err)
	aclStore, err := acl.NewStore(filepath.Join(base, "storage", "auth", "users.json"))
	require.NoError(t, err)
	resolver := acl.NewResolver(sb, aclStore, true)

	require.NoError(t, os.MkdirAll(sb.Abs("shared"), 0755))
	require.NoError(t, aclStore.AddUser("alice", "alice-pass-1", acl.RoleUser))
	require.NoError(t, aclStore.SetGrant("alice", "shared", acl.ModeWrite))

	return &finalizeEnv{
		store:    store,
		sb:       sb,
		fin:      NewFinalizer(store, sb, resolver),
		receiver: NewReceiver(store),
	}, aclStore
}

func TestFinalizeReEvaluatesGrants(t *testing.T) {
	e, aclStore := newAuthedFinalizeEnv(t)

	id, err := e.store.Begin("shared", "", "f.bin", 1, 0, PolicyAsk)
	require.NoError(t, err)
	_, err = e.receiver.Put(id, 0, strings.NewReader("x"))
	require.NoError(t, err)

	// The grant is revoked between init and finalize.
	require.NoError(t, aclStore.SetGrant("alice", "shared", acl.ModeRead))

	_, err = e.fin.Finalize(acl.Principal{Name: "alice"}, id, "")
	assert.ErrorIs(t, err, acl.ErrWriteDenied)
	assert.True(t, e.store.Exists(id))
}

func TestBeginRejectsFileNamesWithPathSegments(t *testing.T) {
	e := newFinalizeEnv(t)
	require.NoError(t, os.MkdirAll(e.sb.Abs("shared"), 0755))

	for _, name := range []string{"", ".", "..", "../evil.txt", "a/b.txt", `a\b.txt`} {
		_, err := e.store.Begin("shared", "", name, 1, 0, PolicyAsk)
		assert.ErrorIs(t, err, ErrInvalidFileName, "name %q", name)
	}

	// A dotfile is a legitimate bare name.
	_, err := e.store.Begin("shared", "", ".env", 1, 0, PolicyAsk)
	assert.NoError(t, err)
}

func TestFinalizeRejectsTamperedFileName(t *testing.T) {
	e, _ := newAuthedFinalizeEnv(t)
	require.NoError(t, os.MkdirAll(e.sb.Abs("private"), 0755))

	id, err := e.store.Begin("shared", "", "f.bin", 9, 0, PolicyAsk)
	require.NoError(t, err)
	_, err = e.receiver.Put(id, 0, strings.NewReader("malicious"))
	require.NoError(t, err)

	// Rewrite the persisted metadata so the name escapes the granted
	// folder through the final join.
	meta, err := e.store.Meta(id)
	require.NoError(t, err)
	meta.FileName = "../private/evil.txt"
	require.NoError(t, e.store.writeMeta(e.store.Dir(id), meta))

	_, err = e.fin.Finalize(acl.Principal{Name: "alice"}, id, "")
	assert.ErrorIs(t, err, ErrInvalidFileName)
	assert.NoFileExists(t, e.sb.Abs("private/evil.txt"))
	assert.NoFileExists(t, e.sb.Abs("private/f.bin"))
}

func TestFinalizeProvesGrantOnResolvedTarget(t *testing.T) {
	e, _ := newAuthedFinalizeEnv(t)
	require.NoError(t, os.MkdirAll(e.sb.Abs("private"), 0755))

	id, err := e.store.Begin("shared", "", "f.bin", 9, 0, PolicyAsk)
	require.NoError(t, err)
	_, err = e.receiver.Put(id, 0, strings.NewReader("malicious"))
	require.NoError(t, err)

	// The relative path is rewritten so the normalized target lands in an
	// ungranted folder; the file name itself stays clean.
	meta, err := e.store.Meta(id)
	require.NoError(t, err)
	meta.RelativePath = "../private"
	require.NoError(t, e.store.writeMeta(e.store.Dir(id), meta))

	_, err = e.fin.Finalize(acl.Principal{Name: "alice"}, id, "")
	assert.ErrorIs(t, err, acl.ErrWriteDenied)
	assert.NoFileExists(t, e.sb.Abs("private/f.bin"))
}

func TestConcurrentFinalizeExactlyOneSucceeds(t *testing.T) {
	e := newFinalizeEnv(t)
	id := e.beginWithChunks(t, "d", "", "f.bin", 4, PolicyOverwrite, []string{"ab", "cd"})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = e.fin.Finalize(acl.Anonymous, id, PolicyOverwrite)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, ErrUnknownSession)
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent finalize must win")

	data, err := os.ReadFile(e.sb.Abs("d/f.bin"))
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(data), "output must never interleave")
}

func TestUniqueNameBeforeExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "archive.tar.gz")
	require.NoError(t, os.WriteFile(path, nil, 0644))

	got, err := uniqueName(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "archive.tar (1).gz"), got)
}

func TestUploadResumeFlow(t *testing.T) {
	e := newFinalizeEnv(t)
	require.NoError(t, os.MkdirAll(e.sb.Abs("inbox"), 0755))

	id, err := e.store.Begin("inbox", "", "movie.mkv", 9, 1700000000, PolicyAsk)
	require.NoError(t, err)
	_, err = e.receiver.Put(id, 0, strings.NewReader("aaa"))
	require.NoError(t, err)
	require.NoError(t, e.store.Touch(id, 3))

	// A restarting client recomputes the id, inspects the status and only
	// sends what is missing.
	resumed, err := e.store.Begin("inbox", "", "movie.mkv", 9, 1700000000, PolicyAsk)
	require.NoError(t, err)
	require.Equal(t, id, resumed)

	st, err := e.store.Status(resumed)
	require.NoError(t, err)
	require.True(t, st.Exists)
	assert.Equal(t, []int{0}, st.Present)
	assert.Equal(t, 3, st.Meta.TotalChunks)

	_, err = e.receiver.Put(resumed, 1, strings.NewReader("bbb"))
	require.NoError(t, err)
	_, err = e.receiver.Put(resumed, 2, strings.NewReader("ccc"))
	require.NoError(t, err)

	rel, err := e.fin.Finalize(acl.Anonymous, resumed, "")
	require.NoError(t, err)
	data, err := os.ReadFile(e.sb.Abs(rel))
	require.NoError(t, err)
	assert.Equal(t, "aaabbbccc", string(data))
}

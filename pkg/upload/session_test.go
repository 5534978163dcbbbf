package upload

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SessionStore {
	t.Helper()
	s, err := NewSessionStore(filepath.Join(t.TempDir(), "storage", "chunks"))
	require.NoError(t, err)
	return s
}

func TestBeginIsDeterministicAndIdempotent(t *testing.T) {
	s := newTestStore(t)

	id1, err := s.Begin("photos", "", "cat.jpg", 1024, 1700000000, PolicyAsk)
	require.NoError(t, err)
	id2, err := s.Begin("photos", "", "cat.jpg", 1024, 1700000000, PolicyAsk)
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	// Any parameter change yields a different id.
	id3, err := s.Begin("photos", "", "cat.jpg", 1025, 1700000000, PolicyAsk)
	require.NoError(t, err)
	assert.NotEqual(t, id1, id3)

	meta, err := s.Meta(id1)
	require.NoError(t, err)
	assert.Equal(t, "photos", meta.DestDir)
	assert.Equal(t, "cat.jpg", meta.FileName)
	assert.Equal(t, int64(1024), meta.FileSize)
	assert.Equal(t, PolicyAsk, meta.Policy)
}

func TestBeginKeepsExistingMeta(t *testing.T) {
	s := newTestStore(t)

	id, err := s.Begin("docs", "", "a.txt", 10, 1, PolicyOverwrite)
	require.NoError(t, err)
	require.NoError(t, s.Touch(id, 7))

	_, err = s.Begin("docs", "", "a.txt", 10, 1, PolicyOverwrite)
	require.NoError(t, err)

	meta, err := s.Meta(id)
	require.NoError(t, err)
	assert.Equal(t, 7, meta.TotalChunks, "resumed begin must not reset metadata")
}

func TestBeginRejectsInvalidPolicy(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Begin("docs", "", "a.txt", 10, 1, Policy("merge"))
	assert.ErrorIs(t, err, ErrInvalidPolicy)
}

func TestComputeIDIsFilesystemSafe(t *testing.T) {
	id := ComputeID("a/b", "c", "weird |name.bin", 1, 2)
	assert.Equal(t, id, sanitizeID(id))
	assert.NotContains(t, id, "/")
	assert.NotContains(t, id, "=")
}

func TestSanitizeIDStripsTraversal(t *testing.T) {
	assert.Equal(t, "....etcpasswd", sanitizeID("../../etc/passwd"))
	assert.Equal(t, "abc-123_X.y", sanitizeID("abc-123_X.y"))
}

func TestStatusUnknownSession(t *testing.T) {
	s := newTestStore(t)
	st, err := s.Status("no-such-session")
	require.NoError(t, err)
	assert.False(t, st.Exists)
	assert.Nil(t, st.Meta)
	assert.Empty(t, st.Present)
}

func TestStatusListsChunksSortedNumerically(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Begin("d", "", "f.bin", 0, 0, PolicyAsk)
	require.NoError(t, err)

	rc := NewReceiver(s)
	for _, idx := range []int{10, 2, 0, 1} {
		_, err := rc.Put(id, idx, strings.NewReader("x"))
		require.NoError(t, err)
	}

	st, err := s.Status(id)
	require.NoError(t, err)
	assert.True(t, st.Exists)
	assert.Equal(t, []int{0, 1, 2, 10}, st.Present)
}

func TestDropIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Begin("d", "", "f.bin", 0, 0, PolicyAsk)
	require.NoError(t, err)

	require.NoError(t, s.Drop(id))
	assert.False(t, s.Exists(id))
	require.NoError(t, s.Drop(id), "dropping a missing session must succeed")
}

func TestTouchUnknownSession(t *testing.T) {
	s := newTestStore(t)
	assert.ErrorIs(t, s.Touch("ghost", 3), ErrUnknownSession)
}

func TestListIgnoresStrayFiles(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Begin("d", "", "f.bin", 0, 0, PolicyAsk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(s.Base(), "stray.txt"), []byte("x"), 0644))
	require.NoError(t, os.Mkdir(filepath.Join(s.Base(), "__MACOSX"), 0755))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{id}, ids)
}

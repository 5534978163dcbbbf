package upload

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ageSession rewrites a session's updatedAt into the past.
func ageSession(t *testing.T, s *SessionStore, id string, age time.Duration) {
	t.Helper()
	meta, err := s.Meta(id)
	require.NoError(t, err)
	meta.UpdatedAt = time.Now().Add(-age).UTC()
	require.NoError(t, s.writeMeta(s.Dir(id), meta))
}

func TestSweepReapsOnlyExpiredSessions(t *testing.T) {
	s := newTestStore(t)
	stale, err := s.Begin("d", "", "old.bin", 0, 1, PolicyAsk)
	require.NoError(t, err)
	fresh, err := s.Begin("d", "", "new.bin", 0, 2, PolicyAsk)
	require.NoError(t, err)
	ageSession(t, s, stale, 2*time.Hour)

	r := NewReaper(s, "", time.Hour, 0)
	assert.Equal(t, 1, r.Sweep())
	assert.False(t, s.Exists(stale))
	assert.True(t, s.Exists(fresh))
}

func TestSweepCollectsCorruptSessionByMtime(t *testing.T) {
	s := newTestStore(t)
	dir := filepath.Join(s.Base(), "broken-session")
	require.NoError(t, os.MkdirAll(dir, 0755))
	old := time.Now().Add(-3 * time.Hour)
	require.NoError(t, os.Chtimes(dir, old, old))

	r := NewReaper(s, "", time.Hour, 0)
	assert.Equal(t, 1, r.Sweep())
	assert.NoDirExists(t, dir)
}

func TestMaybeSweepThrottles(t *testing.T) {
	s := newTestStore(t)
	id, err := s.Begin("d", "", "old.bin", 0, 1, PolicyAsk)
	require.NoError(t, err)
	ageSession(t, s, id, 2*time.Hour)

	r := NewReaper(s, "", time.Hour, 0)
	assert.Equal(t, 1, r.MaybeSweep())

	id2, err := s.Begin("d", "", "old2.bin", 0, 2, PolicyAsk)
	require.NoError(t, err)
	ageSession(t, s, id2, 2*time.Hour)

	// Second call inside the throttle window does nothing.
	assert.Equal(t, 0, r.MaybeSweep())
	assert.True(t, s.Exists(id2))
}

func TestSweepDownloads(t *testing.T) {
	s := newTestStore(t)
	tmpDir := t.TempDir()
	index := filepath.Join(tmpDir, "downloads.json")
	staleArtifact := filepath.Join(tmpDir, "stale.zip")
	freshArtifact := filepath.Join(tmpDir, "fresh.zip")
	require.NoError(t, os.WriteFile(staleArtifact, []byte("z"), 0644))
	require.NoError(t, os.WriteFile(freshArtifact, []byte("z"), 0644))

	r := NewReaper(s, index, 0, 6*time.Hour)
	require.NoError(t, r.RegisterDownload("stale", staleArtifact))
	require.NoError(t, r.RegisterDownload("fresh", freshArtifact))

	// Backdate the stale entry directly in the index file.
	data, err := os.ReadFile(index)
	require.NoError(t, err)
	entries := map[string]downloadEntry{}
	require.NoError(t, json.Unmarshal(data, &entries))
	e := entries["stale"]
	e.CreatedAt = time.Now().Add(-7 * time.Hour).UTC()
	entries["stale"] = e
	data, err = json.Marshal(entries)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(index, data, 0644))

	r.Sweep()

	assert.NoFileExists(t, staleArtifact)
	assert.FileExists(t, freshArtifact)

	data, err = os.ReadFile(index)
	require.NoError(t, err)
	entries = map[string]downloadEntry{}
	require.NoError(t, json.Unmarshal(data, &entries))
	assert.NotContains(t, entries, "stale")
	assert.Contains(t, entries, "fresh")
}

func TestSweepMissingDownloadIndexIsQuiet(t *testing.T) {
	s := newTestStore(t)
	r := NewReaper(s, filepath.Join(t.TempDir(), "nope.json"), 0, 0)
	assert.NotPanics(t, func() { r.Sweep() })
}

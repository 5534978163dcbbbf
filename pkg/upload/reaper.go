package upload

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/marmos91/dropzone/internal/logger"
)

// DefaultSessionTTL is how long an untouched upload session survives.
const DefaultSessionTTL = time.Hour

// DefaultDownloadTTL is how long a prepared-download artifact survives.
const DefaultDownloadTTL = 6 * time.Hour

// sweepInterval throttles opportunistic sweeps triggered by API traffic.
const sweepInterval = time.Minute

// downloadEntry is one record in the prepared-download bookkeeping file:
// a temp artifact (zip of a folder prepared for download) keyed by token.
type downloadEntry struct {
	Artifact  string    `json:"artifact"`
	CreatedAt time.Time `json:"created"`
}

// Reaper garbage-collects abandoned upload sessions and stale
// prepared-download artifacts.
//
// It runs opportunistically on API entry rather than as a background
// daemon; MaybeSweep is cheap to call on every request and self-throttles.
// Cleanup failures are logged, never propagated: a surviving session costs
// disk space, not correctness.
type Reaper struct {
	store         *SessionStore
	downloadIndex string
	sessionTTL    time.Duration
	downloadTTL   time.Duration

	mu        sync.Mutex
	lastSweep time.Time
}

// NewReaper creates a reaper over the session store and the
// prepared-download index file (storage/tmp/downloads.json). Zero TTLs fall
// back to the defaults.
func NewReaper(store *SessionStore, downloadIndex string, sessionTTL, downloadTTL time.Duration) *Reaper {
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	if downloadTTL <= 0 {
		downloadTTL = DefaultDownloadTTL
	}
	return &Reaper{
		store:         store,
		downloadIndex: downloadIndex,
		sessionTTL:    sessionTTL,
		downloadTTL:   downloadTTL,
	}
}

// MaybeSweep runs a sweep unless one ran recently. Returns the number of
// sessions reaped, zero when throttled.
func (r *Reaper) MaybeSweep() int {
	r.mu.Lock()
	if time.Since(r.lastSweep) < sweepInterval {
		r.mu.Unlock()
		return 0
	}
	r.lastSweep = time.Now()
	r.mu.Unlock()

	return r.Sweep()
}

// Sweep unconditionally reaps expired sessions and download artifacts,
// returning the number of sessions removed.
func (r *Reaper) Sweep() int {
	reaped := r.sweepSessions()
	r.sweepDownloads()
	return reaped
}

func (r *Reaper) sweepSessions() int {
	ids, err := r.store.List()
	if err != nil {
		logger.Warn("session sweep failed", "error", err)
		return 0
	}

	cutoff := time.Now().Add(-r.sessionTTL)
	reaped := 0
	for _, id := range ids {
		meta, err := r.store.Meta(id)
		if err != nil {
			// No readable meta: fall back to the directory mtime so a
			// corrupt session still gets collected eventually.
			info, serr := os.Stat(r.store.Dir(id))
			if serr != nil || info.ModTime().After(cutoff) {
				continue
			}
		} else if meta.UpdatedAt.After(cutoff) {
			continue
		}

		if err := r.store.Drop(id); err != nil {
			logger.Warn("reaping session failed", "session", id, "error", err)
			continue
		}
		logger.Debug("reaped stale upload session", "session", id)
		reaped++
	}
	return reaped
}

// sweepDownloads drops expired entries from the prepared-download index and
// unlinks their temp artifacts.
func (r *Reaper) sweepDownloads() {
	if r.downloadIndex == "" {
		return
	}

	data, err := os.ReadFile(r.downloadIndex)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("reading download index failed", "error", err)
		}
		return
	}

	index := map[string]downloadEntry{}
	if err := json.Unmarshal(data, &index); err != nil {
		logger.Warn("parsing download index failed", "error", err)
		return
	}

	cutoff := time.Now().Add(-r.downloadTTL)
	changed := false
	for token, entry := range index {
		if entry.CreatedAt.After(cutoff) {
			continue
		}
		if entry.Artifact != "" {
			if err := os.Remove(entry.Artifact); err != nil && !os.IsNotExist(err) {
				logger.Warn("removing download artifact failed", "artifact", entry.Artifact, "error", err)
			}
		}
		delete(index, token)
		changed = true
	}
	if !changed {
		return
	}

	out, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		logger.Warn("encoding download index failed", "error", err)
		return
	}
	tmp := r.downloadIndex + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		logger.Warn("writing download index failed", "error", err)
		return
	}
	if err := os.Rename(tmp, r.downloadIndex); err != nil {
		os.Remove(tmp)
		logger.Warn("replacing download index failed", "error", err)
	}
}

// RegisterDownload records a prepared-download artifact in the index so the
// reaper can collect it after its TTL.
func (r *Reaper) RegisterDownload(token, artifact string) error {
	if r.downloadIndex == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(r.downloadIndex), 0755); err != nil {
		return err
	}

	index := map[string]downloadEntry{}
	if data, err := os.ReadFile(r.downloadIndex); err == nil {
		if err := json.Unmarshal(data, &index); err != nil {
			index = map[string]downloadEntry{}
		}
	}
	index[token] = downloadEntry{Artifact: artifact, CreatedAt: time.Now().UTC()}

	out, err := json.MarshalIndent(index, "", "  ")
	if err != nil {
		return err
	}
	tmp := r.downloadIndex + ".tmp"
	if err := os.WriteFile(tmp, out, 0644); err != nil {
		return err
	}
	if err := os.Rename(tmp, r.downloadIndex); err != nil {
		os.Remove(tmp)
		return err
	}
	return nil
}

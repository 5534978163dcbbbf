package handlers

import (
	"net/http"
	"os"
	"time"

	"github.com/marmos91/dropzone/pkg/sandbox"
	"github.com/marmos91/dropzone/pkg/upload"
)

// HealthHandler handles health check endpoints.
//
// Health endpoints are unauthenticated and provide:
//   - Liveness probe: Is the server process running?
//   - Readiness probe: Are the sandbox root and session storage reachable?
type HealthHandler struct {
	sb        *sandbox.Sandbox
	sessions  *upload.SessionStore
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(sb *sandbox.Sandbox, sessions *upload.SessionStore) *HealthHandler {
	return &HealthHandler{
		sb:        sb,
		sessions:  sessions,
		startTime: time.Now(),
	}
}

// healthResponse is the body of every health endpoint.
type healthResponse struct {
	Status    string         `json:"status"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Liveness handles GET /health. Always succeeds while the HTTP server is
// responsive.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.startTime)
	WriteJSONOK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"service":    "dropzone",
			"started_at": h.startTime.UTC().Format(time.RFC3339),
			"uptime":     uptime.Round(time.Second).String(),
			"uptime_sec": int64(uptime.Seconds()),
		},
	})
}

// Readiness handles GET /health/ready. Verifies the file root and the
// session storage directory are present and accessible.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	for name, dir := range map[string]string{
		"root":     h.sb.Root(),
		"sessions": h.sessions.Base(),
	} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			WriteJSON(w, http.StatusServiceUnavailable, healthResponse{
				Status:    "unhealthy",
				Timestamp: time.Now().UTC(),
				Error:     name + " directory unavailable",
			})
			return
		}
	}

	WriteJSONOK(w, healthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC(),
		Data: map[string]any{
			"root":     h.sb.Root(),
			"sessions": h.sessions.Base(),
		},
	})
}

package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/marmos91/dropzone/internal/bytesize"
	"github.com/marmos91/dropzone/internal/logger"
	"github.com/marmos91/dropzone/pkg/acl"
	apimiddleware "github.com/marmos91/dropzone/pkg/api/middleware"
	"github.com/marmos91/dropzone/pkg/metrics"
	"github.com/marmos91/dropzone/pkg/sandbox"
	"github.com/marmos91/dropzone/pkg/upload"
)

// maxChunkMemory bounds the in-memory part of multipart parsing; larger
// chunk bodies spill to temp files.
const maxChunkMemory = 32 << 20

// UploadHandler exposes the chunked-upload pipeline over HTTP.
//
// Every endpoint triggers an opportunistic reaper sweep, which is how
// abandoned sessions get collected without a background daemon.
type UploadHandler struct {
	sb        *sandbox.Sandbox
	resolver  *acl.Resolver
	sessions  *upload.SessionStore
	receiver  *upload.Receiver
	finalizer *upload.Finalizer
	reaper    *upload.Reaper
	metrics   *metrics.UploadMetrics
	maxSize   bytesize.Size
}

// NewUploadHandler creates an upload handler. metrics may be nil.
func NewUploadHandler(
	sb *sandbox.Sandbox,
	resolver *acl.Resolver,
	sessions *upload.SessionStore,
	receiver *upload.Receiver,
	finalizer *upload.Finalizer,
	reaper *upload.Reaper,
	m *metrics.UploadMetrics,
	maxSize bytesize.Size,
) *UploadHandler {
	return &UploadHandler{
		sb:        sb,
		resolver:  resolver,
		sessions:  sessions,
		receiver:  receiver,
		finalizer: finalizer,
		reaper:    reaper,
		metrics:   m,
		maxSize:   maxSize,
	}
}

// InitRequest is the request body for POST /api/v1/uploads.
type InitRequest struct {
	DestDir      string `json:"destDir"`
	RelativePath string `json:"relativePath"`
	FileName     string `json:"fileName"`
	FileSize     int64  `json:"fileSize"`
	LastModified int64  `json:"lastModified"`
	Policy       string `json:"policy"`
}

// InitResponse is the response body for POST /api/v1/uploads.
type InitResponse struct {
	UploadID string `json:"uploadId"`
}

// FinalizeRequest is the request body for POST /api/v1/uploads/{id}/finalize.
type FinalizeRequest struct {
	Policy string `json:"policy"`
}

// FinalizeResponse is the success body for POST /api/v1/uploads/{id}/finalize.
type FinalizeResponse struct {
	Path string `json:"path"`
}

// ConflictResponse is the 409 body returned when finalize under the "ask"
// policy hits an existing file. The client prompts for a policy and retries.
type ConflictResponse struct {
	Error string `json:"error"`
	Path  string `json:"path"`
}

// Init handles POST /api/v1/uploads.
func (h *UploadHandler) Init(w http.ResponseWriter, r *http.Request) {
	h.sweep()

	var req InitRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if req.FileName == "" {
		BadRequest(w, "fileName is required")
		return
	}
	if req.FileSize < 0 {
		BadRequest(w, "fileSize must not be negative")
		return
	}
	if h.maxSize > 0 && req.FileSize > h.maxSize.Int64() {
		BadRequest(w, "fileSize exceeds the configured maximum of "+h.maxSize.String())
		return
	}
	policy := upload.Policy(req.Policy)
	if policy == "" {
		policy = upload.PolicyAsk
	}
	if !policy.IsValid() {
		BadRequest(w, "policy must be one of ask, overwrite, rename")
		return
	}

	p := apimiddleware.PrincipalFromContext(r.Context())
	destRel := sandbox.Normalize(req.DestDir)
	if err := h.resolver.EnsureWritable(p, destRel); err != nil {
		h.writeAccessError(w, err)
		return
	}
	target := h.sb.Abs(destRel + "/" + sandbox.Normalize(req.RelativePath))
	if err := h.resolver.EnsureTargetCreatable(p, target); err != nil {
		h.writeAccessError(w, err)
		return
	}

	id, err := h.sessions.Begin(destRel, req.RelativePath, req.FileName, req.FileSize, req.LastModified, policy)
	if err != nil {
		if errors.Is(err, upload.ErrInvalidFileName) {
			BadRequest(w, "fileName must be a bare file name without path separators")
			return
		}
		logger.Error("upload init failed", "error", err)
		InternalServerError(w, "Failed to create upload session")
		return
	}

	h.metrics.RecordSessionStarted()
	WriteJSONOK(w, InitResponse{UploadID: id})
}

// Status handles GET /api/v1/uploads/{id}. Unknown sessions return 200 with
// exists:false so clients treat "never started" and "reaped" uniformly.
func (h *UploadHandler) Status(w http.ResponseWriter, r *http.Request) {
	h.sweep()

	st, err := h.sessions.Status(chi.URLParam(r, "id"))
	if err != nil {
		logger.Error("upload status failed", "error", err)
		InternalServerError(w, "Failed to read upload session")
		return
	}
	WriteJSONOK(w, st)
}

// Chunk handles PUT /api/v1/uploads/{id}/chunks/{index}. The chunk bytes
// arrive as the multipart field "chunk"; the optional "total" field declares
// the expected chunk count.
func (h *UploadHandler) Chunk(w http.ResponseWriter, r *http.Request) {
	h.sweep()

	id := chi.URLParam(r, "id")
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		BadRequest(w, "chunk index must be a non-negative integer")
		return
	}

	if err := r.ParseMultipartForm(maxChunkMemory); err != nil {
		BadRequest(w, "Invalid multipart request")
		return
	}
	file, _, err := r.FormFile("chunk")
	if err != nil {
		BadRequest(w, "multipart field 'chunk' is required")
		return
	}
	defer file.Close()

	total := 0
	if v := r.FormValue("total"); v != "" {
		total, err = strconv.Atoi(v)
		if err != nil || total < 0 {
			BadRequest(w, "total must be a non-negative integer")
			return
		}
	}

	n, err := h.receiver.Put(id, index, file)
	if err != nil {
		if errors.Is(err, upload.ErrUnknownSession) {
			NotFound(w, "Unknown upload session")
			return
		}
		logger.Error("chunk write failed", "session", id, "index", index, "error", err)
		InternalServerError(w, "Failed to store chunk")
		return
	}

	if err := h.sessions.Touch(id, total); err != nil && !errors.Is(err, upload.ErrUnknownSession) {
		logger.Warn("session touch failed", "session", id, "error", err)
	}

	h.metrics.RecordChunk(n)
	WriteJSONOK(w, map[string]bool{"ok": true})
}

// Finalize handles POST /api/v1/uploads/{id}/finalize.
func (h *UploadHandler) Finalize(w http.ResponseWriter, r *http.Request) {
	h.sweep()

	// Concatenation can outlive the server write deadline; lift it so the
	// response still reaches the client after a long assembly.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Time{}); err != nil {
		logger.Debug("write deadline not adjustable", "error", err)
	}

	id := chi.URLParam(r, "id")
	var req FinalizeRequest
	if r.ContentLength > 0 && !decodeJSONBody(w, r, &req) {
		return
	}
	policy := upload.Policy(req.Policy)
	if policy != "" && !policy.IsValid() {
		BadRequest(w, "policy must be one of ask, overwrite, rename")
		return
	}

	p := apimiddleware.PrincipalFromContext(r.Context())
	rel, err := h.finalizer.Finalize(p, id, policy)
	if err != nil {
		h.writeFinalizeError(w, id, err)
		return
	}

	h.metrics.RecordFinalize("success")
	WriteJSONOK(w, FinalizeResponse{Path: rel})
}

// Abort handles DELETE /api/v1/uploads/{id}. Always succeeds, even when the
// session is already gone.
func (h *UploadHandler) Abort(w http.ResponseWriter, r *http.Request) {
	h.sweep()

	id := chi.URLParam(r, "id")
	if err := h.sessions.Drop(id); err != nil {
		logger.Warn("upload abort cleanup failed", "session", id, "error", err)
	}
	WriteJSONOK(w, map[string]bool{"ok": true})
}

// writeFinalizeError maps finalize failures to HTTP responses.
func (h *UploadHandler) writeFinalizeError(w http.ResponseWriter, id string, err error) {
	var conflict *upload.ConflictError
	var missing *upload.MissingChunkError
	var mismatch *upload.SizeMismatchError

	switch {
	case errors.As(err, &conflict):
		h.metrics.RecordFinalize("conflict")
		rel, rerr := h.sb.Rel(conflict.Path)
		if rerr != nil {
			rel = conflict.Path
		}
		WriteJSON(w, http.StatusConflict, ConflictResponse{Error: "needs_choice", Path: rel})
	case errors.As(err, &missing):
		h.metrics.RecordFinalize("missing_chunk")
		Conflict(w, err.Error())
	case errors.As(err, &mismatch):
		h.metrics.RecordFinalize("size_mismatch")
		logger.Error("upload finalize size mismatch", "session", id,
			"written", mismatch.Written, "declared", mismatch.Declared)
		InternalServerError(w, err.Error())
	case errors.Is(err, upload.ErrUnknownSession):
		h.metrics.RecordFinalize("error")
		NotFound(w, "Unknown upload session")
	case errors.Is(err, upload.ErrNoChunks):
		h.metrics.RecordFinalize("error")
		Conflict(w, "Upload session has no chunks")
	case errors.Is(err, upload.ErrDestinationMissing):
		h.metrics.RecordFinalize("error")
		NotFound(w, "Destination folder no longer exists")
	case errors.Is(err, upload.ErrInvalidPolicy), errors.Is(err, upload.ErrInvalidFileName):
		h.metrics.RecordFinalize("error")
		BadRequest(w, err.Error())
	case isAccessError(err):
		h.metrics.RecordFinalize("error")
		h.writeAccessError(w, err)
	default:
		h.metrics.RecordFinalize("error")
		logger.Error("upload finalize failed", "session", id, "error", err)
		InternalServerError(w, "Failed to finalize upload")
	}
}

// writeAccessError maps sandbox and ACL failures to HTTP responses.
func (h *UploadHandler) writeAccessError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, sandbox.ErrOutsideRoot),
		errors.Is(err, acl.ErrAccessDenied),
		errors.Is(err, acl.ErrWriteDenied),
		errors.Is(err, acl.ErrNoGrants),
		errors.Is(err, acl.ErrUserNotFound):
		Forbidden(w, "Access denied")
	case errors.Is(err, sandbox.ErrInvalidPath):
		BadRequest(w, "Invalid path")
	default:
		logger.Error("access check failed", "error", err)
		InternalServerError(w, "Access check failed")
	}
}

func isAccessError(err error) bool {
	return errors.Is(err, sandbox.ErrOutsideRoot) ||
		errors.Is(err, sandbox.ErrInvalidPath) ||
		errors.Is(err, acl.ErrAccessDenied) ||
		errors.Is(err, acl.ErrWriteDenied) ||
		errors.Is(err, acl.ErrNoGrants) ||
		errors.Is(err, acl.ErrUserNotFound)
}

func (h *UploadHandler) sweep() {
	if h.reaper == nil {
		return
	}
	if n := h.reaper.MaybeSweep(); n > 0 {
		h.metrics.RecordReaped(n)
	}
	if h.metrics != nil {
		if ids, err := h.sessions.List(); err == nil {
			h.metrics.SetActiveSessions(len(ids))
		}
	}
}

// Package handlers provides HTTP handlers for the dropzone API.
package handlers

import (
	"encoding/json"
	"net/http"
)

// Problem is an RFC 7807 problem-details body. Every error response of the
// API uses this shape so clients have one error contract to parse.
type Problem struct {
	Type   string `json:"type,omitempty"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// WriteProblem writes a problem response with the canonical title for the
// status code and the given detail text.
func WriteProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(&Problem{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// fail writes a problem response titled after the status code.
func fail(w http.ResponseWriter, status int, detail string) {
	WriteProblem(w, status, http.StatusText(status), detail)
}

func BadRequest(w http.ResponseWriter, detail string) { fail(w, http.StatusBadRequest, detail) }

func Unauthorized(w http.ResponseWriter, detail string) { fail(w, http.StatusUnauthorized, detail) }

func Forbidden(w http.ResponseWriter, detail string) { fail(w, http.StatusForbidden, detail) }

func NotFound(w http.ResponseWriter, detail string) { fail(w, http.StatusNotFound, detail) }

func Conflict(w http.ResponseWriter, detail string) { fail(w, http.StatusConflict, detail) }

func InternalServerError(w http.ResponseWriter, detail string) {
	fail(w, http.StatusInternalServerError, detail)
}

// WriteJSON writes a JSON success response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func WriteJSONOK(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, data)
}

func WriteJSONCreated(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusCreated, data)
}

func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

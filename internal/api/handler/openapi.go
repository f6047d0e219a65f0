package handler

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"net/http"

	"sigs.k8s.io/yaml"

	"github.com/tutorlink/identity/internal/api/middleware"
	"github.com/tutorlink/identity/internal/api/response"
)

// OpenAPIHandler serves the embedded OpenAPI document as JSON. The document
// is converted once, when the handler is built.
type OpenAPIHandler struct {
	document []byte
	etag     string
	err      error
}

// NewOpenAPIHandler converts the YAML document to JSON. A conversion error
// is reported on every request rather than at startup.
func NewOpenAPIHandler(yamlDoc []byte) *OpenAPIHandler {
	doc, err := yaml.YAMLToJSON(yamlDoc)
	if err != nil {
		slog.Error("failed to convert OpenAPI document to JSON", "error", err)
		return &OpenAPIHandler{err: err}
	}
	sum := sha256.Sum256(doc)
	return &OpenAPIHandler{document: doc, etag: `"` + hex.EncodeToString(sum[:8]) + `"`}
}

// ServeHTTP writes the JSON document, or 304 when the client's copy is current.
func (h *OpenAPIHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.err != nil {
		requestID := middleware.GetRequestID(r.Context())
		response.Err(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to convert OpenAPI document", requestID)
		return
	}

	w.Header().Set("ETag", h.etag)
	w.Header().Set("Cache-Control", "public, max-age=300")
	if r.Header.Get("If-None-Match") == h.etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(h.document); err != nil {
		slog.Error("failed to write OpenAPI response", "error", err)
	}
}

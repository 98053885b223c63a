package handler

import (
	"net/http"
	"strconv"

	"din/internal/artifact"
)

type contentTyper interface {
	ContentType(sessionID, path string) string
}

// GetArtifact serves a session artifact, redirecting to a presigned URL when
// the store offers one.
func (h *Handler) GetArtifact(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if h.artifacts == nil {
		h.writeErr(w, artifact.ErrNotFound)
		return
	}
	path := r.PathValue("path")
	if url, err := h.artifacts.GetURL(r.Context(), s.ID, path); err == nil && url != "" {
		http.Redirect(w, r, url, http.StatusTemporaryRedirect)
		return
	}
	data, err := h.artifacts.Get(r.Context(), s.ID, path)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	ct := ""
	if typer, ok := h.artifacts.(contentTyper); ok {
		ct = typer.ContentType(s.ID, path)
	}
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	w.Header().Set("Content-Type", ct)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

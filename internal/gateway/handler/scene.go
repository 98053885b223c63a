package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"din/internal/imagegen"
)

const defaultImageTimeout = 2 * time.Minute

type sceneUpdate struct {
	Description  *string `json:"description"`
	VisualPrompt *string `json:"visualPrompt"`
}

// UpdateScene edits a scene description and/or its explicit image prompt.
func (h *Handler) UpdateScene(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var in sceneUpdate
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json body")
		return
	}
	if in.Description == nil && in.VisualPrompt == nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "description or visualPrompt is required")
		return
	}
	id := r.PathValue("sceneID")
	conv := s.Conversation
	if _, ok := conv.Project().Scene(id); !ok {
		h.writeErr(w, imagegen.ErrUnknownScene)
		return
	}
	if in.Description != nil {
		conv.UpdateScene(id, *in.Description)
	}
	if in.VisualPrompt != nil {
		conv.SetVisualPrompt(id, *in.VisualPrompt)
	}
	sc, ok := conv.Project().Scene(id)
	if !ok {
		h.writeErr(w, imagegen.ErrUnknownScene)
		return
	}
	writeJSON(w, http.StatusOK, sc)
}

// GenerateImage starts rendering a scene. By default it answers 202 at once
// and the outcome arrives on the event stream; ?wait=true blocks until done.
func (h *Handler) GenerateImage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var in struct {
		Prompt string `json:"prompt"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json body")
		return
	}
	id := r.PathValue("sceneID")

	if wait, _ := strconv.ParseBool(r.URL.Query().Get("wait")); wait {
		ctx, cancel := context.WithTimeout(r.Context(), h.imageTimeout)
		defer cancel()
		if err := s.Images.Generate(ctx, id, in.Prompt); err != nil {
			h.writeErr(w, err)
			return
		}
		sc, _ := s.Conversation.Project().Scene(id)
		writeJSON(w, http.StatusOK, sc)
		return
	}

	if err := s.Images.GenerateAsync(id, in.Prompt); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"sceneId": id, "status": "generating"})
}

// GenerateMissing renders every scene without an image. When the request is
// canceled or times out it reports the images finished so far with
// complete=false.
func (h *Handler) GenerateMissing(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var in struct {
		Limit int `json:"limit"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json body")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.imageTimeout)
	defer cancel()
	n, err := s.Images.GenerateMissing(ctx, in.Limit)
	interrupted := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
	if err != nil && !interrupted {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"generated": n, "complete": !interrupted})
}

package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"din/internal/conversation"
	"din/internal/gateway/session"
	"din/internal/protocol"
)

// turnTimeout bounds a turn once accepted. The turn is detached from the
// request so a dropped client does not abort it halfway.
const turnTimeout = 3 * time.Minute

type sessionView struct {
	ID        string    `json:"id"`
	CustomKey bool      `json:"customKey"`
	CreatedAt time.Time `json:"createdAt"`
	conversation.Snapshot
}

func viewOf(s *session.Session) sessionView {
	return sessionView{
		ID:        s.ID,
		CustomKey: s.CustomKey,
		CreatedAt: s.CreatedAt,
		Snapshot:  s.Conversation.Snapshot(),
	}
}

func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var in struct {
		APIKey string `json:"apiKey"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json body")
		return
	}
	s, err := h.sessions.Create(r.Context(), firstNonEmpty(in.APIKey, r.Header.Get(APIKeyHeader)))
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, viewOf(s))
}

func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

func (h *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if !h.sessions.Delete(r.PathValue("id")) {
		h.writeErr(w, session.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	var in struct {
		Text string `json:"text"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json body")
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), turnTimeout)
	defer cancel()
	res, err := s.Conversation.Submit(ctx, in.Text)
	if err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) ResetSession(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	if err := s.Conversation.Reset(r.Context()); err != nil {
		h.writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(s))
}

type segmentsView struct {
	Lang     string             `json:"lang"`
	Text     string             `json:"text"`
	Segments []protocol.Segment `json:"segments"`
}

// BriefSegments splits one rendering of the final brief into copyable blocks.
func (h *Handler) BriefSegments(w http.ResponseWriter, r *http.Request) {
	s, ok := h.session(w, r)
	if !ok {
		return
	}
	brief, ok := s.Conversation.Project().FinalBrief()
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "no final brief yet")
		return
	}
	lang := strings.ToLower(firstNonEmpty(r.URL.Query().Get("lang"), "ko"))
	text, ok := brief.Rendering(lang)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid_argument", "lang must be ko or en")
		return
	}
	writeJSON(w, http.StatusOK, segmentsView{Lang: lang, Text: text, Segments: protocol.Segments(text)})
}

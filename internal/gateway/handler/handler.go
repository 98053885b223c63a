package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"din/internal/artifact"
	"din/internal/conversation"
	"din/internal/gateway/session"
	"din/internal/imagegen"
	"din/internal/llm"
	"din/internal/project"
)

// APIKeyHeader carries a per-request Gemini key as an alternative to the body.
const APIKeyHeader = "X-Gemini-Api-Key"

const maxBodyBytes = 1 << 20

// Handler serves the HTTP and websocket surface of the gateway.
type Handler struct {
	sessions  *session.Registry
	validator llm.Validator
	artifacts artifact.Store
	log       *zap.Logger

	imageTimeout time.Duration
}

func New(sessions *session.Registry, validator llm.Validator, artifacts artifact.Store, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		sessions:  sessions,
		validator: validator,
		artifacts: artifacts,
		log:       logger,

		imageTimeout: defaultImageTimeout,
	}
}

// SetImageTimeout bounds synchronous image requests. Non-positive values keep
// the current bound.
func (h *Handler) SetImageTimeout(d time.Duration) {
	if d > 0 {
		h.imageTimeout = d
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorBody{Code: code, Message: msg})
}

// writeErr maps domain errors to HTTP statuses.
func (h *Handler) writeErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "deadline_exceeded", err.Error())
	case errors.Is(err, session.ErrNotFound),
		errors.Is(err, imagegen.ErrUnknownScene),
		errors.Is(err, artifact.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, conversation.ErrEmptyInput), errors.Is(err, artifact.ErrInvalidPath):
		writeError(w, http.StatusBadRequest, "invalid_argument", err.Error())
	case errors.Is(err, conversation.ErrTurnInFlight),
		errors.Is(err, conversation.ErrNoSession),
		errors.Is(err, project.ErrStaleTicket):
		writeError(w, http.StatusConflict, "failed_precondition", err.Error())
	case errors.Is(err, llm.ErrMissingAPIKey), errors.Is(err, conversation.ErrNoFactory):
		writeError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	case errors.Is(err, project.ErrImageUnavailable):
		writeError(w, http.StatusBadGateway, "image_unavailable", err.Error())
	default:
		h.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

// decodeBody reads an optional JSON body into v. An empty body leaves v as is.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*session.Session, bool) {
	s, err := h.sessions.Get(r.PathValue("id"))
	if err != nil {
		h.writeErr(w, err)
		return nil, false
	}
	return s, true
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":       true,
		"sessions": h.sessions.Len(),
	})
}

func (h *Handler) Starters(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"starters": conversation.Starters()})
}

func (h *Handler) ValidateKey(w http.ResponseWriter, r *http.Request) {
	var in struct {
		APIKey string `json:"apiKey"`
	}
	if err := decodeBody(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_argument", "invalid json body")
		return
	}
	key := firstNonEmpty(in.APIKey, r.Header.Get(APIKeyHeader))
	if key == "" {
		writeError(w, http.StatusBadRequest, "invalid_argument", "apiKey is required")
		return
	}
	if h.validator == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "key validation is not configured")
		return
	}
	writeJSON(w, http.StatusOK, h.validator.Validate(r.Context(), key))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

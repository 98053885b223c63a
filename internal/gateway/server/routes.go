package server

import (
	"net/http"

	"go.uber.org/zap"

	"din/internal/gateway/handler"
	"din/internal/gateway/middleware"
)

func NewMux(h *handler.Handler, origins []string, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", h.Health)
	mux.HandleFunc("GET /v1/starters", h.Starters)
	mux.HandleFunc("POST /v1/credentials/validate", h.ValidateKey)

	mux.HandleFunc("POST /v1/sessions", h.CreateSession)
	mux.HandleFunc("GET /v1/sessions/{id}", h.GetSession)
	mux.HandleFunc("DELETE /v1/sessions/{id}", h.DeleteSession)
	mux.HandleFunc("POST /v1/sessions/{id}/messages", h.SubmitMessage)
	mux.HandleFunc("POST /v1/sessions/{id}/reset", h.ResetSession)
	mux.HandleFunc("PATCH /v1/sessions/{id}/scenes/{sceneID}", h.UpdateScene)
	mux.HandleFunc("POST /v1/sessions/{id}/scenes/{sceneID}/image", h.GenerateImage)
	mux.HandleFunc("POST /v1/sessions/{id}/images", h.GenerateMissing)
	mux.HandleFunc("GET /v1/sessions/{id}/brief/segments", h.BriefSegments)
	mux.HandleFunc("GET /v1/sessions/{id}/artifacts/{path...}", h.GetArtifact)

	// Streaming
	mux.HandleFunc("GET /v1/sessions/{id}/events", h.Events)

	return middleware.Wrap(mux,
		middleware.Recover(logger),
		middleware.AccessLog(logger),
		middleware.CORS(origins),
	)
}

package app

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"din/internal/gateway/config"
	"din/internal/gateway/handler"
	"din/internal/gateway/server"
	"din/internal/gateway/session"
	"din/internal/llm"
	"din/internal/protocol"
	"din/internal/scene"
)

type App struct {
	server   *server.Server
	handler  http.Handler
	sessions *session.Registry
	log      *zap.Logger
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := NewLogger(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return NewWithConfig(cfg, logger)
}

// NewLogger returns a development logger for the local profile and a JSON
// production logger otherwise.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "" || env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func NewWithConfig(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	// Dependencies
	artifacts, err := chooseArtifactStore(cfg, logger, newArtifactS3StoreFactory(cfg, logger))
	if err != nil {
		return nil, err
	}
	factory, validator := newModel(cfg, logger)

	instruction := protocol.DefaultInstructionOptions()
	instruction.Language = cfg.Session.Language
	instruction.SceneDuration = cfg.Session.SceneDuration

	sessions := session.NewRegistry(session.Options{
		MaxSessions:      cfg.Session.MaxSessions,
		IdleTTL:          cfg.Session.IdleTTL,
		Factory:          factory,
		Artifacts:        artifacts,
		Instruction:      instruction,
		Temperature:      cfg.Gemini.Temperature,
		Scene:            scene.Options{VisualSuffix: cfg.Session.VisualSuffix, Duration: cfg.Session.SceneDuration},
		AnnounceImages:   cfg.Session.AnnounceImages,
		ImageConcurrency: cfg.Session.ImageConcurrency,
		Logger:           logger,
	})

	// Routing & Server
	h := handler.New(sessions, validator, artifacts, logger)
	mux := server.NewMux(h, cfg.Origins, logger)
	srv := server.New(cfg.Port, mux, logger)

	return &App{
		server:   srv,
		handler:  mux,
		sessions: sessions,
		log:      logger,
	}, nil
}

// newModel picks the scripted model in fake mode and Gemini otherwise. Without
// a server key, Gemini sessions must bring their own key.
func newModel(cfg *config.Config, logger *zap.Logger) (llm.Factory, llm.Validator) {
	mws := []llm.Middleware{
		llm.WithLogging(logger),
		llm.Retry(cfg.Gemini.Retries, cfg.Gemini.RetryDelay),
		llm.RateLimit(cfg.Gemini.RPS, cfg.Gemini.Burst),
	}
	if cfg.Fake {
		logger.Info("llm: scripted fake model")
		return llm.FakeFactory(llm.NewFakeClient(llm.DemoReplies...), mws...), llm.FakeValidator{}
	}
	if !cfg.HasAPIKey() {
		logger.Warn("llm: GEMINI_API_KEY is not set; sessions must supply their own key")
	}
	gemini := llm.GeminiConfig{
		APIKey:     cfg.Gemini.APIKey,
		ChatModel:  cfg.Gemini.ChatModel,
		ImageModel: cfg.Gemini.ImageModel,
	}
	return llm.GeminiFactory(gemini, mws...), llm.GeminiValidator{Model: cfg.Gemini.ChatModel}
}

func (a *App) Logger() *zap.Logger { return a.log }

func (a *App) Start() error {
	return a.server.Start()
}

func (a *App) Shutdown(ctx context.Context) error {
	err := a.server.Shutdown(ctx)
	a.sessions.Close()
	_ = a.log.Sync()
	return err
}

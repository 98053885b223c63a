package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"

	"din/internal/artifact"
	"din/internal/conversation"
	"din/internal/imagegen"
	"din/internal/llm"
	"din/internal/protocol"
	"din/internal/scene"
)

var ErrNotFound = errors.New("session: not found")

// Session bundles the conversation of one user with its image coordinator.
type Session struct {
	ID           string
	Conversation *conversation.Controller
	Images       *imagegen.Coordinator
	CreatedAt    time.Time
	// CustomKey is true when the session runs on a user supplied API key.
	CustomKey bool
}

type Options struct {
	MaxSessions      int
	IdleTTL          time.Duration
	Factory          llm.Factory
	Artifacts        artifact.Store
	Instruction      protocol.InstructionOptions
	Temperature      float32
	Scene            scene.Options
	AnnounceImages   bool
	ImageConcurrency int
	Logger           *zap.Logger
	NewID            func() string
}

// Registry holds live sessions. Idle sessions expire after IdleTTL and the
// least recently used one is evicted beyond MaxSessions.
type Registry struct {
	opts     Options
	log      *zap.Logger
	sessions *expirable.LRU[string, *Session]
	cleanup  sync.WaitGroup
}

func NewRegistry(opts Options) *Registry {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxSessions <= 0 {
		opts.MaxSessions = 256
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return "session-" + uuid.NewString() }
	}
	r := &Registry{opts: opts, log: opts.Logger}
	r.sessions = expirable.NewLRU[string, *Session](opts.MaxSessions, r.onEvict, opts.IdleTTL)
	return r
}

// Create starts a new session. An empty apiKey uses the server default.
func (r *Registry) Create(ctx context.Context, apiKey string) (*Session, error) {
	if r.opts.Factory == nil {
		return nil, conversation.ErrNoFactory
	}
	id := r.opts.NewID()
	conv := conversation.New(conversation.Options{
		SessionID:   id,
		Factory:     r.opts.Factory,
		APIKey:      strings.TrimSpace(apiKey),
		Instruction: r.opts.Instruction,
		Temperature: r.opts.Temperature,
		Scene:       r.opts.Scene,
		Artifacts:   r.opts.Artifacts,
		Logger:      r.log,
	})
	if err := conv.Start(ctx); err != nil {
		_ = conv.Close()
		return nil, fmt.Errorf("start session: %w", err)
	}
	s := &Session{
		ID:           id,
		Conversation: conv,
		Images: imagegen.New(conv, imagegen.Options{
			Artifacts:      r.opts.Artifacts,
			AnnounceImages: r.opts.AnnounceImages,
			Concurrency:    r.opts.ImageConcurrency,
			Logger:         r.log,
		}),
		CreatedAt: time.Now(),
		CustomKey: strings.TrimSpace(apiKey) != "",
	}
	r.sessions.Add(id, s)
	r.log.Info("session created", zap.String("session", id), zap.Bool("custom_key", s.CustomKey))
	return s, nil
}

// Get returns a live session and refreshes its idle deadline.
func (r *Registry) Get(id string) (*Session, error) {
	s, ok := r.sessions.Get(strings.TrimSpace(id))
	if !ok {
		return nil, ErrNotFound
	}
	r.sessions.Add(s.ID, s)
	return s, nil
}

// Delete ends a session and releases its resources.
func (r *Registry) Delete(id string) bool {
	return r.sessions.Remove(strings.TrimSpace(id))
}

func (r *Registry) Len() int { return r.sessions.Len() }

// Close ends every session and waits for their cleanup.
func (r *Registry) Close() {
	r.sessions.Purge()
	r.cleanup.Wait()
}

// onEvict runs under the cache lock, so teardown happens on its own goroutine.
func (r *Registry) onEvict(id string, s *Session) {
	r.cleanup.Add(1)
	go func() {
		defer r.cleanup.Done()
		s.Images.Close()
		if err := s.Conversation.Close(); err != nil {
			r.log.Warn("close session client failed", zap.String("session", id), zap.Error(err))
		}
		if r.opts.Artifacts != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := r.opts.Artifacts.DeleteAll(ctx, id); err != nil {
				r.log.Warn("delete session artifacts failed", zap.String("session", id), zap.Error(err))
			}
		}
		r.log.Info("session closed", zap.String("session", id))
	}()
}

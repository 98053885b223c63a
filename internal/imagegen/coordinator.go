package imagegen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"din/internal/artifact"
	"din/internal/conversation"
	"din/internal/llm"
	"din/internal/project"
)

var (
	ErrUnknownScene = errors.New("imagegen: unknown scene")
	// ErrImageUnavailable is returned when no image could be produced. The
	// scene keeps any prior image and may be retried.
	ErrImageUnavailable = project.ErrImageUnavailable
)

const defaultConcurrency = 2

// Session is the part of a conversation the coordinator works on.
type Session interface {
	SessionID() string
	Project() *project.State
	GenerateImage(ctx context.Context, prompt string) (*llm.Image, error)
	PublishScene(kind conversation.EventKind, id string, err error)
	AppendMessage(role conversation.Role, text, sceneImage string) conversation.Message
}

type Options struct {
	// Artifacts, when set, receives every generated image under scenes/.
	Artifacts artifact.Store
	// AnnounceImages appends a system message carrying each new image.
	AnnounceImages bool
	// Concurrency bounds GenerateMissing.
	Concurrency int
	Logger      *zap.Logger
}

// Coordinator renders scene images. Requests for different scenes run
// independently; for one scene the last started request wins.
type Coordinator struct {
	s      Session
	opts   Options
	log    *zap.Logger
	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(s Session, opts Options) *Coordinator {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	base, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		s:      s,
		opts:   opts,
		log:    opts.Logger.With(zap.String("session", s.SessionID())),
		base:   base,
		cancel: cancel,
	}
}

// Generate renders one scene. An empty prompt falls back to the stored
// visual prompt, then to the description. A request superseded by a newer one
// for the same scene returns project.ErrStaleTicket and leaves the scene alone.
func (c *Coordinator) Generate(ctx context.Context, sceneID, prompt string) error {
	st := c.s.Project()
	sc, ok := st.Scene(sceneID)
	if !ok {
		return ErrUnknownScene
	}
	prompt = firstNonEmpty(prompt, sc.VisualPrompt, sc.Description)
	ticket, ok := st.BeginImageGeneration(sceneID)
	if !ok {
		return ErrUnknownScene
	}
	c.s.PublishScene(conversation.EventImageStarted, sceneID, nil)

	img, genErr := c.s.GenerateImage(llm.WithPhase(ctx, "image"), prompt)
	ref := ""
	if genErr == nil {
		ref = img.DataURL()
	}

	err := st.CompleteImageGeneration(sceneID, ticket, ref)
	switch {
	case errors.Is(err, project.ErrStaleTicket):
		c.log.Debug("image result superseded", zap.String("scene", sceneID))
		return err
	case err != nil:
		if genErr != nil {
			err = fmt.Errorf("%w: %w", ErrImageUnavailable, genErr)
		}
		c.log.Warn("image generation failed", zap.String("scene", sceneID), zap.Error(err))
		c.s.PublishScene(conversation.EventImageFailed, sceneID, err)
		return err
	}

	c.store(ctx, sceneID, img)
	c.s.PublishScene(conversation.EventImageReady, sceneID, nil)
	if c.opts.AnnounceImages {
		c.s.AppendMessage(conversation.RoleSystem, fmt.Sprintf("장면 %d 이미지가 생성되었습니다.", sc.Number), ref)
	}
	c.log.Info("image generated", zap.String("scene", sceneID), zap.Int("bytes", len(img.Data)))
	return nil
}

// ScenePath returns the artifact path of a scene image.
func ScenePath(sceneID, ext string) string {
	return "scenes/" + sceneID + "." + ext
}

func (c *Coordinator) store(ctx context.Context, sceneID string, img *llm.Image) {
	if c.opts.Artifacts == nil {
		return
	}
	if err := c.opts.Artifacts.Put(ctx, c.s.SessionID(), ScenePath(sceneID, img.Ext()), img.Data, img.MIMEType); err != nil {
		c.log.Warn("upload scene image failed", zap.String("scene", sceneID), zap.Error(err))
	}
}

// GenerateAsync validates the scene and renders it in the background. The
// request outlives ctx; it is canceled by Close.
func (c *Coordinator) GenerateAsync(sceneID, prompt string) error {
	if _, ok := c.s.Project().Scene(sceneID); !ok {
		return ErrUnknownScene
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		_ = c.Generate(c.base, sceneID, prompt)
	}()
	return nil
}

// GenerateMissing renders every scene that has no image and is not already
// generating, at most limit at a time (Options.Concurrency when limit <= 0).
// Failed scenes do not stop the others. It returns the number of images
// produced.
func (c *Coordinator) GenerateMissing(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = c.opts.Concurrency
	}
	var ids []string
	for _, sc := range c.s.Project().Scenes() {
		if sc.ImageRef == "" && !sc.Generating {
			ids = append(ids, sc.ID)
		}
	}

	var done atomic.Int64
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(limit)
	for _, id := range ids {
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			err := c.Generate(egCtx, id, "")
			if err == nil {
				done.Add(1)
				return nil
			}
			if ctxErr := egCtx.Err(); ctxErr != nil {
				return ctxErr
			}
			return nil
		})
	}
	err := eg.Wait()
	return int(done.Load()), err
}

// Wait blocks until background requests finish.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Close cancels background requests and waits for them.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

package llm

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Middleware decorates a Client to inject cross-cutting concerns
// (rate limiting, retries, logging).
type Middleware func(Client) Client

// Wrap applies middlewares in left-to-right order.
// Example: Wrap(inner, A, B) => A(B(inner))
func Wrap(inner Client, mws ...Middleware) Client {
	out := inner
	for i := len(mws) - 1; i >= 0; i-- {
		if mws[i] != nil {
			out = mws[i](out)
		}
	}
	return out
}

// -------- Rate Limiting --------

// RateLimit limits the request rate shared by a client and every chat it
// opens. If rps <= 0, the limiter is disabled.
func RateLimit(rps float64, burst int) Middleware {
	return func(next Client) Client {
		if rps <= 0 {
			return next
		}
		if burst <= 0 {
			burst = 1
		}
		return &rateLimited{next: next, lim: rate.NewLimiter(rate.Limit(rps), burst)}
	}
}

type rateLimited struct {
	next Client
	lim  *rate.Limiter
}

func (c *rateLimited) Name() string { return c.next.Name() }
func (c *rateLimited) Close() error { return c.next.Close() }

func (c *rateLimited) NewChat(ctx context.Context, opts ChatOptions) (Chat, error) {
	chat, err := c.next.NewChat(ctx, opts)
	if err != nil {
		return nil, err
	}
	return &rateLimitedChat{next: chat, lim: c.lim}, nil
}

func (c *rateLimited) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	if err := c.lim.Wait(ctx); err != nil {
		return nil, err
	}
	return c.next.GenerateImage(ctx, prompt)
}

type rateLimitedChat struct {
	next Chat
	lim  *rate.Limiter
}

func (c *rateLimitedChat) Send(ctx context.Context, text string) (string, error) {
	if err := c.lim.Wait(ctx); err != nil {
		return "", err
	}
	return c.next.Send(ctx, text)
}

// -------- Retry with exponential backoff --------

// Retry retries failed calls up to maxAttempts with exponential backoff
// starting at baseDelay. Permanent errors and context cancellation stop it
// immediately.
func Retry(maxAttempts int, baseDelay time.Duration) Middleware {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if baseDelay <= 0 {
		baseDelay = 300 * time.Millisecond
	}
	return func(next Client) Client {
		return &retrying{next: next, max: maxAttempts, base: baseDelay}
	}
}

type retrying struct {
	next Client
	max  int
	base time.Duration
}

func (r *retrying) Name() string { return r.next.Name() }
func (r *retrying) Close() error { return r.next.Close() }

func (r *retrying) NewChat(ctx context.Context, opts ChatOptions) (Chat, error) {
	var chat Chat
	err := r.do(ctx, func() error {
		var err error
		chat, err = r.next.NewChat(ctx, opts)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &retryingChat{next: chat, r: r}, nil
}

func (r *retrying) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	var img *Image
	err := r.do(ctx, func() error {
		var err error
		img, err = r.next.GenerateImage(ctx, prompt)
		return err
	})
	return img, err
}

func (r *retrying) do(ctx context.Context, call func() error) error {
	var last error
	for i := 0; i < r.max; i++ {
		err := call()
		if err == nil {
			return nil
		}
		if IsPermanent(err) {
			return err
		}
		last = err
		if i == r.max-1 {
			break
		}
		t := time.NewTimer(r.base * time.Duration(1<<i))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
	return last
}

type retryingChat struct {
	next Chat
	r    *retrying
}

func (c *retryingChat) Send(ctx context.Context, text string) (string, error) {
	var reply string
	err := c.r.do(ctx, func() error {
		var err error
		reply, err = c.next.Send(ctx, text)
		return err
	})
	return reply, err
}

// -------- Logging --------

// WithLogging logs request size, latency and errors. A nil logger disables it.
func WithLogging(logger *zap.Logger) Middleware {
	return func(next Client) Client {
		if logger == nil {
			return next
		}
		return &logging{next: next, log: logger.With(zap.String("client", next.Name()))}
	}
}

type logging struct {
	next Client
	log  *zap.Logger
}

func (l *logging) Name() string { return l.next.Name() }
func (l *logging) Close() error { return l.next.Close() }

func (l *logging) NewChat(ctx context.Context, opts ChatOptions) (Chat, error) {
	chat, err := l.next.NewChat(ctx, opts)
	if err != nil {
		l.log.Warn("llm chat open failed", zap.String("phase", PhaseFrom(ctx)), zap.Error(err))
		return nil, err
	}
	l.log.Debug("llm chat opened", zap.Int("system_bytes", len(opts.System)))
	return &loggingChat{next: chat, log: l.log}, nil
}

func (l *logging) GenerateImage(ctx context.Context, prompt string) (*Image, error) {
	start := time.Now()
	l.log.Info("llm image request", zap.String("phase", PhaseFrom(ctx)), zap.Int("bytes", len(prompt)))
	img, err := l.next.GenerateImage(ctx, prompt)
	if err != nil {
		l.log.Warn("llm image error", zap.String("phase", PhaseFrom(ctx)), zap.Duration("took", time.Since(start)), zap.Error(err))
		return nil, err
	}
	l.log.Info("llm image response", zap.String("mime", img.MIMEType), zap.Int("bytes", len(img.Data)), zap.Duration("took", time.Since(start)))
	return img, nil
}

type loggingChat struct {
	next Chat
	log  *zap.Logger
}

func (c *loggingChat) Send(ctx context.Context, text string) (string, error) {
	start := time.Now()
	phase := PhaseFrom(ctx)
	c.log.Info("llm request", zap.String("phase", phase), zap.Int("bytes", len(text)))
	reply, err := c.next.Send(ctx, text)
	if err != nil {
		c.log.Warn("llm error", zap.String("phase", phase), zap.Duration("took", time.Since(start)), zap.Error(err))
		return "", err
	}
	c.log.Debug("llm reply", zap.String("phase", phase), zap.Duration("took", time.Since(start)), zap.String("text", RedactMedia(reply)))
	return reply, nil
}

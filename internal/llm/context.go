package llm

import "context"

type ctxKeyPhase struct{}

// WithPhase tags ctx with the name of the step issuing requests ("turn",
// "greeting", "image"...). Middlewares use it for logging.
func WithPhase(ctx context.Context, phase string) context.Context {
	return context.WithValue(ctx, ctxKeyPhase{}, phase)
}

// PhaseFrom returns the phase string stored in the context.
func PhaseFrom(ctx context.Context) string {
	if v := ctx.Value(ctxKeyPhase{}); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return "unknown"
}

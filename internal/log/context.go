package log

import "context"

type ctxKey struct{}

// WithContext returns a copy of ctx carrying l. Middleware stores the
// request logger this way and probes pick it up through FromContext.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx. Code running outside a
// request (startup, healthctl before its logger exists) gets Nop.
func FromContext(ctx context.Context) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	return Nop()
}

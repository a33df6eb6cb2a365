package database

import (
	"context"
	"time"
)

type timeoutKey int

const (
	queryTimeoutKey timeoutKey = iota
	executeTimeoutKey
)

// WithQueryTimeout overrides the configured SURREAL_QUERY_TIMEOUT for reads
// made with ctx. Long history exports use it.
func WithQueryTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, queryTimeoutKey, d)
}

// WithExecuteTimeout overrides the configured SURREAL_EXECUTE_TIMEOUT for
// writes made with ctx.
func WithExecuteTimeout(ctx context.Context, d time.Duration) context.Context {
	return context.WithValue(ctx, executeTimeoutKey, d)
}

// withTimeout bounds ctx by the override stored under key, or by def. An
// earlier deadline already on ctx still wins.
func withTimeout(ctx context.Context, def time.Duration, key timeoutKey) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	d := def
	if v, ok := ctx.Value(key).(time.Duration); ok && v > 0 {
		d = v
	}
	return context.WithTimeout(ctx, d)
}

package logger

import (
	"context"
	"sync/atomic"
)

// contextKey is the type for context keys to avoid collisions
type contextKey string

const (
	// queryCounterKey is the context key for the number of traced queries in a unit of work
	queryCounterKey contextKey = "query_counter"
	// queryElapsedKey is the context key for total traced query time in a unit of work
	queryElapsedKey contextKey = "query_elapsed_nanos"
)

// WithQueryCounter creates a new context with a query counter and elapsed time tracker
func WithQueryCounter(ctx context.Context) context.Context {
	counter := int64(0)
	elapsed := int64(0)
	ctx = context.WithValue(ctx, queryCounterKey, &counter)
	ctx = context.WithValue(ctx, queryElapsedKey, &elapsed)
	return ctx
}

// IncrementQueryCounter increments the query counter in the context
func IncrementQueryCounter(ctx context.Context) {
	if counter, ok := ctx.Value(queryCounterKey).(*int64); ok && counter != nil {
		atomic.AddInt64(counter, 1)
	}
}

// GetQueryCounter returns the current query count from the context
func GetQueryCounter(ctx context.Context) int64 {
	if counter, ok := ctx.Value(queryCounterKey).(*int64); ok && counter != nil {
		return atomic.LoadInt64(counter)
	}
	return 0
}

// AddQueryElapsed adds elapsed nanoseconds to the query time in the context
func AddQueryElapsed(ctx context.Context, nanos int64) {
	if elapsed, ok := ctx.Value(queryElapsedKey).(*int64); ok && elapsed != nil {
		atomic.AddInt64(elapsed, nanos)
	}
}

// GetQueryElapsed returns the accumulated query time in nanoseconds from the context
func GetQueryElapsed(ctx context.Context) int64 {
	if elapsed, ok := ctx.Value(queryElapsedKey).(*int64); ok && elapsed != nil {
		return atomic.LoadInt64(elapsed)
	}
	return 0
}

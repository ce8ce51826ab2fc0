package observability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	// DefaultShutdownTimeout is the default timeout for graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
)

// each runs the trace and meter step concurrently, skipping whichever
// provider was never built. Every error is kept.
func (p *provider) each(ctx context.Context, op string, traceFn, meterFn func(context.Context) error) error {
	var (
		g        errgroup.Group
		traceErr error
		meterErr error
	)
	if p.tracerProvider != nil {
		g.Go(func() error {
			if err := traceFn(ctx); err != nil {
				traceErr = fmt.Errorf("failed to %s trace provider: %w", op, err)
			}
			return nil
		})
	}
	if p.meterProvider != nil {
		g.Go(func() error {
			if err := meterFn(ctx); err != nil {
				meterErr = fmt.Errorf("failed to %s meter provider: %w", op, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(traceErr, meterErr); err != nil {
		return fmt.Errorf("%s errors: %w", op, err)
	}
	return nil
}

// Shutdown shuts provider down within timeout. A nil provider is a no-op and
// a non-positive timeout means DefaultShutdownTimeout.
func Shutdown(provider Provider, timeout time.Duration) error {
	if provider == nil {
		return nil
	}
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("observability shutdown failed: %w", err)
	}
	return nil
}

package agent

import "context"

type tracingKey struct{}

// WithoutTracing returns a context in which queries are not traced, even
// when the agent is enabled. It covers one call chain; concurrent requests
// are unaffected.
func WithoutTracing(ctx context.Context) context.Context {
	return context.WithValue(ctx, tracingKey{}, false)
}

// WithTracing re-enables tracing for a call chain below WithoutTracing.
func WithTracing(ctx context.Context) context.Context {
	return context.WithValue(ctx, tracingKey{}, true)
}

// TracingEnabled reports the per call chain switch. Chains that never set
// it are traced.
func TracingEnabled(ctx context.Context) bool {
	if ctx == nil {
		return true
	}
	enabled, ok := ctx.Value(tracingKey{}).(bool)
	return !ok || enabled
}

// IsExecutionTraced combines the global agent.enabled switch with the per
// call chain switch. The tap consults it before doing any work.
func (a *Agent) IsExecutionTraced(ctx context.Context) bool {
	return a.cfg.Agent.Enabled && TracingEnabled(ctx)
}

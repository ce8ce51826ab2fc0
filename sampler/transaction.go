package sampler

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	semconv "go.opentelemetry.io/otel/semconv/v1.32.0"

	"github.com/gaborage/querytap/connreg"
	"github.com/gaborage/querytap/metricname"
	"github.com/gaborage/querytap/scope"
)

// Segment parameter keys set by TransactionTracer.
const (
	ParamSQL      = "sql"
	ParamSeconds  = "sql_seconds"
	ParamDatabase = "database"

	attrDBSystem = "db.system"
)

// TransactionOptions configures a TransactionTracer.
type TransactionOptions struct {
	Enabled   bool
	Threshold time.Duration
	// Max bounds the number of finished traces kept between harvests.
	Max int
	// MaxLength bounds the length of SQL text attached to segments in runes.
	MaxLength int
}

// TransactionTracer annotates segments with their SQL and keeps the slowest
// finished traces.
type TransactionTracer struct {
	opts TransactionOptions

	mu     sync.Mutex
	traces []*scope.Trace
}

var _ TransactionSampler = (*TransactionTracer)(nil)

// NewTransactionTracer creates a tracer. Max below 1 is treated as 1.
func NewTransactionTracer(opts TransactionOptions) *TransactionTracer {
	if opts.Max < 1 {
		opts.Max = 1
	}
	return &TransactionTracer{opts: opts}
}

// NoticeSQL attaches sql to the innermost segment of the unit of work in ctx.
// Queries outside a unit of work, or after it finished, are ignored.
func (t *TransactionTracer) NoticeSQL(ctx context.Context, sql string, cfg *connreg.Config, seconds float64) {
	if !t.opts.Enabled {
		return
	}
	stack, ok := scope.FromContext(ctx)
	if !ok || stack.Finished() {
		return
	}

	text := TruncateString(sql, t.opts.MaxLength)
	stack.Annotate(ParamSQL, text)
	stack.Annotate(ParamSeconds, seconds)
	if cfg != nil {
		stack.Annotate(ParamDatabase, cfg.Address())
	}

	span := stack.CurrentSpan()
	if span == nil || !span.IsRecording() {
		return
	}
	attrs := []attribute.KeyValue{semconv.DBQueryText(text)}
	if cfg != nil {
		if cfg.Adapter != "" {
			attrs = append(attrs, attribute.String(attrDBSystem, metricname.NormalizeAdapter(cfg.Adapter)))
		}
		if cfg.Host != "" {
			attrs = append(attrs, semconv.ServerAddress(cfg.Host))
		}
		if cfg.Port > 0 {
			attrs = append(attrs, semconv.ServerPort(cfg.Port))
		}
		if cfg.Database != "" {
			attrs = append(attrs, semconv.DBNamespace(cfg.Database))
		}
	}
	span.SetAttributes(attrs...)
}

// NoticeFinished offers a finished trace. Traces shorter than the threshold
// are dropped; otherwise the slowest Max traces are kept.
func (t *TransactionTracer) NoticeFinished(tr *scope.Trace) {
	if !t.opts.Enabled || tr == nil || tr.Duration < t.opts.Threshold {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.traces) < t.opts.Max {
		t.traces = append(t.traces, tr)
		return
	}
	i := 0
	for j, x := range t.traces {
		if x.Duration < t.traces[i].Duration {
			i = j
		}
	}
	if t.traces[i].Duration < tr.Duration {
		t.traces[i] = tr
	}
}

// Len returns the number of traces currently held.
func (t *TransactionTracer) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.traces)
}

// Harvest returns the held traces, slowest first, and resets the tracer.
func (t *TransactionTracer) Harvest() []*scope.Trace {
	t.mu.Lock()
	out := t.traces
	t.traces = nil
	t.mu.Unlock()

	slices.SortFunc(out, func(a, b *scope.Trace) int { return byDuration(b, a) })
	return out
}

func byDuration(a, b *scope.Trace) int {
	return cmp.Compare(a.Duration, b.Duration)
}

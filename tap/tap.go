// Package tap turns query events into metrics, trace segments and samples.
//
// A Tap subscribes to events.QueryChannel. For every query made while
// tracing is enabled it names the query, records the scoped base metric and
// its unscoped rollups, opens a segment on the unit of work's scope.Stack
// while the samplers run, and closes it again. Failures in any collaborator
// are recovered and logged; they never reach the code that ran the query.
package tap

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/gaborage/querytap/connreg"
	"github.com/gaborage/querytap/events"
	"github.com/gaborage/querytap/logger"
	"github.com/gaborage/querytap/metricname"
	"github.com/gaborage/querytap/sampler"
	"github.com/gaborage/querytap/scope"
	"github.com/gaborage/querytap/stats"
)

const (
	stageResolve     = "resolve_config"
	stageRecord      = "record_metrics"
	stageTransaction = "transaction_sampler"
	stageSQL         = "sql_sampler"

	defaultErrorLogInterval = time.Second
	defaultErrorLogBurst    = 5
)

// TracingCheck reports whether the current call chain is traced.
type TracingCheck func(ctx context.Context) bool

// MetricRecorder records a duration given in milliseconds.
type MetricRecorder interface {
	Record(ctx context.Context, name string, durationMillis float64, scoped bool)
}

// Options holds a Tap's collaborators. Nil collaborators are replaced by
// no-ops; a nil Traced check traces everything.
type Options struct {
	Resolver           connreg.Resolver
	Recorder           MetricRecorder
	SQLSampler         sampler.SQLSampler
	TransactionSampler sampler.TransactionSampler
	Traced             TracingCheck
	Logger             logger.Logger
	// ErrorLogLimit caps how often recovered failures are logged.
	ErrorLogLimit rate.Limit
	ErrorLogBurst int
}

// Tap is the query event subscriber. It is safe for concurrent use; all
// per-request state lives in the context passed to Handle.
type Tap struct {
	resolver connreg.Resolver
	recorder MetricRecorder
	sql      sampler.SQLSampler
	txn      sampler.TransactionSampler
	traced   TracingCheck
	log      logger.Logger
	limiter  *rate.Limiter
}

var _ events.Subscriber = (*Tap)(nil)

// New creates a Tap.
func New(opts Options) *Tap {
	t := &Tap{
		resolver: opts.Resolver,
		recorder: opts.Recorder,
		sql:      opts.SQLSampler,
		txn:      opts.TransactionSampler,
		traced:   opts.Traced,
		log:      opts.Logger,
	}
	if t.recorder == nil {
		t.recorder = stats.NewRecorder()
	}
	if t.sql == nil {
		t.sql = nopSQLSampler{}
	}
	if t.txn == nil {
		t.txn = nopTransactionSampler{}
	}
	if t.traced == nil {
		t.traced = func(context.Context) bool { return true }
	}
	if t.log == nil {
		t.log = logger.NewWithWriter(io.Discard, "disabled")
	}

	limit, burst := opts.ErrorLogLimit, opts.ErrorLogBurst
	if limit == 0 {
		limit = rate.Every(defaultErrorLogInterval)
	}
	if burst <= 0 {
		burst = defaultErrorLogBurst
	}
	t.limiter = rate.NewLimiter(limit, burst)

	return t
}

// Handle processes one query event.
func (t *Tap) Handle(ctx context.Context, ev events.QueryEvent) {
	if !t.traced(ctx) {
		return
	}
	defer t.recoverAt("handle", "")

	cfg := t.resolveConfig(ev.ConnectionID)
	base := metricname.Base(ev.Name, ev.SQL)

	t.guard(stageRecord, base, func() {
		t.recordMetrics(ctx, ev, base, cfg)
	})
	t.noticeSQL(ctx, ev, base, cfg)

	logger.IncrementQueryCounter(ctx)
	logger.AddQueryElapsed(ctx, ev.Duration.Nanoseconds())
}

// resolveConfig looks up the connection only when the event names one.
func (t *Tap) resolveConfig(id connreg.ID) (cfg *connreg.Config) {
	if id == 0 || t.resolver == nil {
		return nil
	}
	t.guard(stageResolve, "", func() {
		if c, ok := t.resolver.Resolve(id); ok {
			cfg = c
		}
	})
	return cfg
}

func (t *Tap) recordMetrics(ctx context.Context, ev events.QueryEvent, base string, cfg *connreg.Config) {
	ms := ev.DurationMillis()
	t.recorder.Record(ctx, base, ms, true)

	seen := map[string]struct{}{base: {}}
	record := func(name string) {
		if _, dup := seen[name]; dup || name == "" {
			return
		}
		seen[name] = struct{}{}
		t.recorder.Record(ctx, name, ms, false)
	}

	for name := range metricname.Rollups(base) {
		record(name)
	}
	if cfg != nil {
		if name, ok := metricname.RemoteService(cfg.Adapter, cfg.Host); ok {
			record(name)
		}
	}
}

// noticeSQL reports the query to both samplers inside a segment named base.
// The segment is popped even when a sampler panics.
func (t *Tap) noticeSQL(ctx context.Context, ev events.QueryEvent, base string, cfg *connreg.Config) {
	if stack, ok := scope.FromContext(ctx); ok {
		h := stack.Push(base, ev.Start)
		defer func() {
			if err := stack.Pop(h, ev.DurationMillis(), ev.End); err != nil {
				t.log.Debug().Err(err).Str("metric", base).Str("transaction", stack.Name()).Msg("Query segment pop reported a problem")
			}
		}()
	}

	seconds := stats.MillisToSeconds(ev.DurationMillis())
	t.guard(stageTransaction, base, func() {
		t.txn.NoticeSQL(ctx, ev.SQL, cfg, seconds)
	})
	t.guard(stageSQL, base, func() {
		t.sql.NoticeSQL(ctx, ev.SQL, base, cfg, seconds)
	})
}

func (t *Tap) guard(stage, metric string, fn func()) {
	defer t.recoverAt(stage, metric)
	fn()
}

func (t *Tap) recoverAt(stage, metric string) {
	r := recover()
	if r == nil || !t.limiter.Allow() {
		return
	}
	t.log.Error().
		Str("stage", stage).
		Str("metric", metric).
		Str("panic", fmt.Sprint(r)).
		Msg("Database query instrumentation failed")
}

type nopSQLSampler struct{}

func (nopSQLSampler) NoticeSQL(context.Context, string, string, *connreg.Config, float64) {}

type nopTransactionSampler struct{}

func (nopTransactionSampler) NoticeSQL(context.Context, string, *connreg.Config, float64) {}

package tap

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/gaborage/querytap/connreg"
	"github.com/gaborage/querytap/events"
	"github.com/gaborage/querytap/logger"
	"github.com/gaborage/querytap/sampler"
	"github.com/gaborage/querytap/scope"
	"github.com/gaborage/querytap/stats"
)

type recorded struct {
	name   string
	ms     float64
	scoped bool
}

type fakeRecorder struct {
	mu    sync.Mutex
	calls []recorded
	panic bool
}

func (f *fakeRecorder) Record(_ context.Context, name string, ms float64, scoped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, recorded{name: name, ms: ms, scoped: scoped})
	if f.panic {
		panic("recorder exploded")
	}
}

type fakeResolver struct {
	calls   int
	configs map[connreg.ID]connreg.Config
}

func (f *fakeResolver) Resolve(id connreg.ID) (*connreg.Config, bool) {
	f.calls++
	c, ok := f.configs[id]
	if !ok {
		return nil, false
	}
	return &c, true
}

type sqlCall struct {
	sql     string
	metric  string
	cfg     *connreg.Config
	seconds float64
	depth   int
}

type fakeSQLSampler struct {
	calls []sqlCall
	panic bool
}

func (f *fakeSQLSampler) NoticeSQL(ctx context.Context, sql, metric string, cfg *connreg.Config, seconds float64) {
	depth := -1
	if s, ok := scope.FromContext(ctx); ok {
		depth = s.Depth()
	}
	f.calls = append(f.calls, sqlCall{sql: sql, metric: metric, cfg: cfg, seconds: seconds, depth: depth})
	if f.panic {
		panic("sql sampler exploded")
	}
}

type fakeTxnSampler struct {
	calls   []sqlCall
	current []string
	panic   bool
}

func (f *fakeTxnSampler) NoticeSQL(ctx context.Context, sql string, cfg *connreg.Config, seconds float64) {
	if s, ok := scope.FromContext(ctx); ok {
		f.current = append(f.current, s.Current())
	}
	f.calls = append(f.calls, sqlCall{sql: sql, cfg: cfg, seconds: seconds})
	if f.panic {
		panic("transaction sampler exploded")
	}
}

type fixture struct {
	tap      *Tap
	recorder *fakeRecorder
	resolver *fakeResolver
	sql      *fakeSQLSampler
	txn      *fakeTxnSampler
	logs     *bytes.Buffer
	traced   bool
}

func newFixture() *fixture {
	f := &fixture{
		recorder: &fakeRecorder{},
		resolver: &fakeResolver{configs: map[connreg.ID]connreg.Config{
			7: {Adapter: "postgres", Host: "db1"},
			8: {Adapter: "mysql2", Host: "db1"},
		}},
		sql:    &fakeSQLSampler{},
		txn:    &fakeTxnSampler{},
		logs:   &bytes.Buffer{},
		traced: true,
	}
	f.tap = New(Options{
		Resolver:           f.resolver,
		Recorder:           f.recorder,
		SQLSampler:         f.sql,
		TransactionSampler: f.txn,
		Traced:             func(context.Context) bool { return f.traced },
		Logger:             logger.NewWithWriter(f.logs, "debug"),
		ErrorLogLimit:      rate.Inf,
	})
	return f
}

var start = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func event(name, sql string, id connreg.ID) events.QueryEvent {
	d := 12500 * time.Microsecond
	return events.QueryEvent{Name: name, SQL: sql, ConnectionID: id, Start: start, Duration: d, End: start.Add(d)}
}

func TestHandleLabelTakesPriority(t *testing.T) {
	f := newFixture()
	ctx, stack := scope.Begin(context.Background(), "WebTransaction/GET /users")

	f.tap.Handle(ctx, event("User#find", "SELECT * FROM users", 0))

	assert.Equal(t, []recorded{
		{name: "ActiveRecord/User/find", ms: 12.5, scoped: true},
		{name: "ActiveRecord/all", ms: 12.5, scoped: false},
		{name: "ActiveRecord/find", ms: 12.5, scoped: false},
	}, f.recorder.calls)
	assert.Zero(t, f.resolver.calls, "no connection id means no lookup")

	require.Len(t, f.sql.calls, 1)
	assert.Equal(t, "ActiveRecord/User/find", f.sql.calls[0].metric)
	assert.Equal(t, 0.0125, f.sql.calls[0].seconds)
	assert.Nil(t, f.sql.calls[0].cfg)
	assert.Equal(t, 1, f.sql.calls[0].depth)

	require.Len(t, f.txn.calls, 1)
	assert.Equal(t, []string{"ActiveRecord/User/find"}, f.txn.current)
	assert.Zero(t, stack.Depth())

	tr := stack.Finish(start.Add(time.Second))
	require.Len(t, tr.Root.Children, 1)
	seg := tr.Root.Children[0]
	assert.Equal(t, "ActiveRecord/User/find", seg.Name)
	assert.Equal(t, start, seg.Start)
	assert.Equal(t, start.Add(12500*time.Microsecond), seg.End)
}

func TestHandleSQLFallbackWithRemoteService(t *testing.T) {
	f := newFixture()

	f.tap.Handle(context.Background(), event("", "SELECT * FROM users WHERE id = 1", 7))

	assert.Equal(t, []recorded{
		{name: "SQL/users/select", ms: 12.5, scoped: true},
		{name: "ActiveRecord/all", ms: 12.5, scoped: false},
		{name: "SQL/select", ms: 12.5, scoped: false},
		{name: "RemoteService/postgresql/db1", ms: 12.5, scoped: false},
	}, f.recorder.calls)
	assert.Equal(t, 1, f.resolver.calls)

	require.Len(t, f.sql.calls, 1)
	require.NotNil(t, f.sql.calls[0].cfg)
	assert.Equal(t, "db1", f.sql.calls[0].cfg.Host)
	assert.Equal(t, -1, f.sql.calls[0].depth, "samplers still run outside a unit of work")
	require.Len(t, f.txn.calls, 1)
}

func TestHandleUnrecognizedLabelFallsBackToSQL(t *testing.T) {
	f := newFixture()
	f.tap.Handle(context.Background(), event("User columns", "SHOW FULL FIELDS FROM users", 0))

	require.NotEmpty(t, f.recorder.calls)
	assert.Equal(t, recorded{name: "Database/SQL/show", ms: 12.5, scoped: true}, f.recorder.calls[0])
}

func TestHandleTracingDisabled(t *testing.T) {
	f := newFixture()
	f.traced = false
	ctx, stack := scope.Begin(context.Background(), "job")

	f.tap.Handle(ctx, event("User#find", "SELECT * FROM users", 7))

	assert.Empty(t, f.recorder.calls)
	assert.Empty(t, f.sql.calls)
	assert.Empty(t, f.txn.calls)
	assert.Zero(t, f.resolver.calls)
	assert.Empty(t, stack.Finish(start).Root.Children)
}

func TestHandleUnknownConnection(t *testing.T) {
	f := newFixture()
	f.tap.Handle(context.Background(), event("", "DELETE FROM carts", 99))

	assert.Equal(t, 1, f.resolver.calls)
	for _, c := range f.recorder.calls {
		assert.NotContains(t, c.name, "RemoteService")
	}
	require.Len(t, f.sql.calls, 1)
	assert.Nil(t, f.sql.calls[0].cfg)
}

func TestHandleSamplerPanicStillPops(t *testing.T) {
	f := newFixture()
	f.txn.panic = true
	f.sql.panic = true
	ctx, stack := scope.Begin(context.Background(), "job")

	assert.NotPanics(t, func() {
		f.tap.Handle(ctx, event("", "SELECT * FROM users", 0))
	})

	assert.Zero(t, stack.Depth())
	assert.Len(t, f.txn.calls, 1)
	assert.Len(t, f.sql.calls, 1, "sql sampler runs even when the transaction sampler fails")
	assert.Contains(t, f.logs.String(), "transaction sampler exploded")
	assert.Contains(t, f.logs.String(), "sql sampler exploded")

	tr := stack.Finish(start.Add(time.Second))
	require.Len(t, tr.Root.Children, 1)
	assert.Equal(t, 12500*time.Microsecond, tr.Root.Children[0].Duration)
}

func TestHandleRecorderPanicStillSamples(t *testing.T) {
	f := newFixture()
	f.recorder.panic = true
	ctx, stack := scope.Begin(context.Background(), "job")

	f.tap.Handle(ctx, event("", "SELECT * FROM users", 0))

	assert.Len(t, f.recorder.calls, 1)
	assert.Len(t, f.sql.calls, 1)
	assert.Len(t, f.txn.calls, 1)
	assert.Zero(t, stack.Depth())
	assert.Contains(t, f.logs.String(), "record_metrics")
}

func TestHandleAfterUnitOfWorkFinished(t *testing.T) {
	f := newFixture()
	ctx, stack := scope.Begin(context.Background(), "job")
	stack.Finish(start)

	assert.NotPanics(t, func() {
		f.tap.Handle(ctx, event("", "SELECT 1", 0))
	})
	assert.Len(t, f.sql.calls, 1)
	assert.Contains(t, f.logs.String(), "unit of work already finished")
}

func TestHandleAfterUnitOfWorkFinishedWithSamplers(t *testing.T) {
	logs := &bytes.Buffer{}
	slow := sampler.NewSlowSQL(sampler.SlowSQLOptions{Enabled: true, Max: 5})
	tp := New(Options{
		SQLSampler:         slow,
		TransactionSampler: sampler.NewTransactionTracer(sampler.TransactionOptions{Enabled: true, Max: 1}),
		Logger:             logger.NewWithWriter(logs, "debug"),
		ErrorLogLimit:      rate.Inf,
	})
	ctx, stack := scope.Begin(context.Background(), "job")
	require.NotNil(t, stack.Finish(start))

	assert.NotPanics(t, func() {
		tp.Handle(ctx, event("", "SELECT * FROM users", 0))
	})
	assert.NotContains(t, logs.String(), "instrumentation failed")
	assert.Contains(t, logs.String(), "unit of work already finished")
	assert.Len(t, slow.Harvest(), 1)
}

type runtimeErrorSampler struct{ open []string }

func (r *runtimeErrorSampler) NoticeSQL(context.Context, string, *connreg.Config, float64) {
	_ = r.open[len(r.open)-1]
}

func TestHandleLogsRuntimePanicMessage(t *testing.T) {
	logs := &bytes.Buffer{}
	tp := New(Options{
		TransactionSampler: &runtimeErrorSampler{},
		Logger:             logger.NewWithWriter(logs, "debug"),
		ErrorLogLimit:      rate.Inf,
	})
	ctx, _ := scope.Begin(context.Background(), "job")

	tp.Handle(ctx, event("", "SELECT 1", 0))

	assert.Contains(t, logs.String(), "index out of range [-1]")
	assert.NotContains(t, logs.String(), `"panic":{}`)
}

func TestHandleCountsQueries(t *testing.T) {
	f := newFixture()
	ctx := logger.WithQueryCounter(context.Background())

	f.tap.Handle(ctx, event("", "SELECT 1", 0))
	f.tap.Handle(ctx, event("", "SELECT 2", 0))

	assert.Equal(t, int64(2), logger.GetQueryCounter(ctx))
	assert.Equal(t, int64(25*time.Millisecond), logger.GetQueryElapsed(ctx))
}

func TestHandleRecordsSecondsInEngine(t *testing.T) {
	engine := stats.NewEngine()
	tp := New(Options{Recorder: stats.NewRecorder(engine)})
	ctx, _ := scope.Begin(context.Background(), "WebTransaction/GET /users")

	tp.Handle(ctx, event("User Load", "SELECT * FROM users", 0))

	s, ok := engine.Get(stats.Key{Name: "ActiveRecord/User/find", Scope: "WebTransaction/GET /users"})
	require.True(t, ok)
	assert.Equal(t, 0.0125, s.TotalSeconds)

	s, ok = engine.Get(stats.Key{Name: "ActiveRecord/all"})
	require.True(t, ok)
	assert.Equal(t, int64(1), s.CallCount)
	_, ok = engine.Get(stats.Key{Name: "ActiveRecord/all", Scope: "WebTransaction/GET /users"})
	assert.False(t, ok)
}

func TestNewDefaults(t *testing.T) {
	tp := New(Options{})
	ctx, stack := scope.Begin(context.Background(), "job")
	assert.NotPanics(t, func() {
		tp.Handle(ctx, event("", "SELECT 1", 3))
	})
	assert.Zero(t, stack.Depth())
}

func TestHandleConcurrentUnitsOfWork(t *testing.T) {
	engine := stats.NewEngine()
	tp := New(Options{Recorder: stats.NewRecorder(engine)})

	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, stack := scope.Begin(context.Background(), "job")
			for range 20 {
				tp.Handle(ctx, event("", "SELECT * FROM users", 0))
			}
			tr := stack.Finish(time.Now())
			assert.Len(t, tr.Root.Children, 20)
		}()
	}
	wg.Wait()

	s, ok := engine.Get(stats.Key{Name: "SQL/users/select"})
	require.True(t, ok)
	assert.Equal(t, int64(320), s.CallCount)
}

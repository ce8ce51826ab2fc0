package scope

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "querytap/scope"

var (
	// ErrUnitOfWorkFinished is returned by Pop after Finish. The pop is ignored.
	ErrUnitOfWorkFinished = errors.New("scope: unit of work already finished")
	// ErrMismatchedPop is returned when the handle is open but not innermost.
	// Segments above it are closed so nothing stays open.
	ErrMismatchedPop = errors.New("scope: handle is not the innermost open segment")
	// ErrUnknownHandle is returned for zero handles, handles of another stack
	// and handles that were already popped.
	ErrUnknownHandle = errors.New("scope: unknown or already popped handle")
)

// Handle identifies one open segment. The zero Handle is invalid.
type Handle struct {
	stack *Stack
	seg   *Segment
}

// Valid reports whether h was returned by Push.
func (h Handle) Valid() bool {
	return h.stack != nil && h.seg != nil
}

// Stack is the segment stack of one unit of work. Its methods are safe for
// concurrent use, but segments nest in call order so callers should push and
// pop from the goroutine running the unit of work.
type Stack struct {
	mu         sync.Mutex
	guid       string
	name       string
	root       *Segment
	open       []*Segment
	finished   bool
	scopedTime time.Duration
	tracer     trace.Tracer
}

// Option configures a Stack created by Begin.
type Option func(*beginOptions)

type beginOptions struct {
	start  time.Time
	tracer trace.Tracer
}

// WithStart sets the unit of work's start time. Defaults to time.Now.
func WithStart(t time.Time) Option {
	return func(o *beginOptions) { o.start = t }
}

// WithTracer sets the tracer used to export segments as spans. Defaults to
// the global tracer provider.
func WithTracer(t trace.Tracer) Option {
	return func(o *beginOptions) { o.tracer = t }
}

// Begin starts a unit of work named name and returns a context carrying its
// stack. The root segment is open until Finish.
func Begin(ctx context.Context, name string, opts ...Option) (context.Context, *Stack) {
	o := beginOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.start.IsZero() {
		o.start = time.Now()
	}
	if o.tracer == nil {
		o.tracer = otel.Tracer(tracerName)
	}

	root := &Segment{Name: name, Start: o.start}
	spanCtx, span := o.tracer.Start(ctx, name,
		trace.WithTimestamp(o.start),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
	root.ctx = spanCtx
	root.span = span

	s := &Stack{
		guid:   ensureGUID(ctx),
		name:   name,
		root:   root,
		open:   []*Segment{root},
		tracer: o.tracer,
	}
	return NewContext(spanCtx, s), s
}

// GUID returns the unit of work's identifier.
func (s *Stack) GUID() string {
	return s.guid
}

// Name returns the unit of work's name.
func (s *Stack) Name() string {
	return s.name
}

// Push opens a segment named name nested under the current segment.
// Pushing onto a finished stack returns an invalid handle.
func (s *Stack) Push(name string, start time.Time) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return Handle{}
	}

	parent := s.open[len(s.open)-1]
	seg := &Segment{Name: name, Start: start, parent: parent}
	seg.ctx, seg.span = s.tracer.Start(parent.ctx, name,
		trace.WithTimestamp(start),
		trace.WithSpanKind(trace.SpanKindClient),
	)
	parent.Children = append(parent.Children, seg)
	s.open = append(s.open, seg)

	return Handle{stack: s, seg: seg}
}

// Pop closes the segment identified by h and makes its parent current again.
func (s *Stack) Pop(h Handle, durationMillis float64, end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return ErrUnitOfWorkFinished
	}
	if !h.Valid() || h.stack != s || h.seg.closed {
		return ErrUnknownHandle
	}

	idx := -1
	for i := len(s.open) - 1; i > 0; i-- {
		if s.open[i] == h.seg {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrUnknownHandle
	}

	duration := time.Duration(durationMillis * float64(time.Millisecond))
	var err error
	for i := len(s.open) - 1; i > idx; i-- {
		s.open[i].close(end.Sub(s.open[i].Start), end)
		err = ErrMismatchedPop
	}
	h.seg.close(duration, end)
	s.open = s.open[:idx]

	return err
}

// Depth returns the number of open segments, excluding the root.
func (s *Stack) Depth() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.open) - 1
}

// Current returns the name of the innermost open segment, or "" once the
// stack has finished.
func (s *Stack) Current() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.open) == 0 {
		return ""
	}
	return s.open[len(s.open)-1].Name
}

// CurrentSpan returns the span of the innermost open segment. Once the stack
// has finished it returns a non-recording span.
func (s *Stack) CurrentSpan() trace.Span {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.open) == 0 {
		return trace.SpanFromContext(context.Background())
	}
	return s.open[len(s.open)-1].span
}

// Annotate sets a parameter on the innermost open segment. It is a no-op
// once the stack has finished.
func (s *Stack) Annotate(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished || len(s.open) == 0 {
		return
	}
	s.open[len(s.open)-1].setParam(key, value)
}

// AddScopedTime adds d to the time attributed to scoped metrics.
func (s *Stack) AddScopedTime(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scopedTime += d
}

// Finished reports whether Finish has been called.
func (s *Stack) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Finish closes every open segment at end and returns the completed trace.
// Later calls return nil.
func (s *Stack) Finish(end time.Time) *Trace {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished {
		return nil
	}
	s.finished = true

	for i := len(s.open) - 1; i >= 0; i-- {
		seg := s.open[i]
		seg.close(end.Sub(seg.Start), end)
	}
	s.open = nil

	return &Trace{
		GUID:       s.guid,
		Name:       s.name,
		Start:      s.root.Start,
		Duration:   s.root.Duration,
		ScopedTime: s.scopedTime,
		Root:       s.root.clone(),
	}
}

package scope

import (
	"context"
	"maps"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Segment is one timed, named node in a unit of work's segment tree.
// Fields must only be read after the owning Stack has finished.
type Segment struct {
	Name     string
	Start    time.Time
	End      time.Time
	Duration time.Duration
	Params   map[string]any
	Children []*Segment

	parent *Segment
	closed bool
	ctx    context.Context
	span   trace.Span
}

func (s *Segment) setParam(key string, value any) {
	if s.Params == nil {
		s.Params = make(map[string]any)
	}
	s.Params[key] = value
}

// Param returns a single parameter value.
func (s *Segment) Param(key string) (any, bool) {
	v, ok := s.Params[key]
	return v, ok
}

func (s *Segment) close(duration time.Duration, end time.Time) {
	s.closed = true
	if end.IsZero() {
		end = s.Start.Add(duration)
	}
	s.End = end
	s.Duration = duration

	if s.span != nil {
		s.span.End(trace.WithTimestamp(end))
	}
}

// clone deep-copies the subtree; the copy carries no span or parent links.
func (s *Segment) clone() *Segment {
	c := &Segment{
		Name:     s.Name,
		Start:    s.Start,
		End:      s.End,
		Duration: s.Duration,
		Params:   maps.Clone(s.Params),
		closed:   s.closed,
	}
	for _, child := range s.Children {
		cc := child.clone()
		cc.parent = c
		c.Children = append(c.Children, cc)
	}
	return c
}

// Trace is a finished unit of work.
type Trace struct {
	GUID       string
	Name       string
	Start      time.Time
	Duration   time.Duration
	ScopedTime time.Duration
	Root       *Segment
}

// Walk visits every segment depth-first in start order. The root has depth 0.
func (t *Trace) Walk(fn func(depth int, seg *Segment)) {
	if t == nil || t.Root == nil {
		return
	}
	var walk func(int, *Segment)
	walk = func(depth int, seg *Segment) {
		fn(depth, seg)
		for _, child := range seg.Children {
			walk(depth+1, child)
		}
	}
	walk(0, t.Root)
}

// SegmentCount returns the number of segments including the root.
func (t *Trace) SegmentCount() int {
	n := 0
	t.Walk(func(int, *Segment) { n++ })
	return n
}

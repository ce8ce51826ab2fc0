package stats

import (
	"context"
	"time"

	"github.com/gaborage/querytap/scope"
)

// Store receives metric observations in seconds. Scoped observations are also
// attributed to the unit of work found in ctx, if any.
type Store interface {
	RecordMetric(ctx context.Context, name string, seconds float64, scoped bool)
}

// StoreFunc adapts a function to Store.
type StoreFunc func(ctx context.Context, name string, seconds float64, scoped bool)

// RecordMetric calls f.
func (f StoreFunc) RecordMetric(ctx context.Context, name string, seconds float64, scoped bool) {
	f(ctx, name, seconds, scoped)
}

// MillisToSeconds converts a millisecond duration to seconds. It is the only
// place the conversion happens.
func MillisToSeconds(ms float64) float64 {
	return ms / 1000
}

// Recorder fans observations out to every configured store.
type Recorder struct {
	stores []Store
}

// NewRecorder creates a recorder over stores. Nil stores are skipped.
func NewRecorder(stores ...Store) *Recorder {
	r := &Recorder{}
	for _, s := range stores {
		if s != nil {
			r.stores = append(r.stores, s)
		}
	}
	return r
}

// Record records durationMillis under name. When scoped is true the time is
// also added to the scoped total of the unit of work in ctx.
func (r *Recorder) Record(ctx context.Context, name string, durationMillis float64, scoped bool) {
	seconds := MillisToSeconds(durationMillis)

	if scoped {
		if s, ok := scope.FromContext(ctx); ok {
			s.AddScopedTime(time.Duration(durationMillis * float64(time.Millisecond)))
		}
	}

	for _, store := range r.stores {
		store.RecordMetric(ctx, name, seconds, scoped)
	}
}

func scopeName(ctx context.Context) (string, bool) {
	s, ok := scope.FromContext(ctx)
	if !ok {
		return "", false
	}
	return s.Name(), true
}

package stats

import (
	"context"
	"sync"
)

// Key identifies one aggregated metric. Scope is empty for unscoped metrics
// and holds the unit of work name for scoped ones.
type Key struct {
	Name  string
	Scope string
}

// Stats aggregates observations in seconds.
type Stats struct {
	CallCount    int64
	TotalSeconds float64
	MinSeconds   float64
	MaxSeconds   float64
	SumOfSquares float64
}

func (s *Stats) record(seconds float64) {
	if s.CallCount == 0 || seconds < s.MinSeconds {
		s.MinSeconds = seconds
	}
	if s.CallCount == 0 || seconds > s.MaxSeconds {
		s.MaxSeconds = seconds
	}
	s.CallCount++
	s.TotalSeconds += seconds
	s.SumOfSquares += seconds * seconds
}

type entry struct {
	mu    sync.Mutex
	stats Stats
	// retired is set once Harvest has copied the entry out. Later records
	// must go to the entry in the current table.
	retired bool
}

// Engine is an in-memory Store. The metric table is guarded by an RWMutex and
// each metric by its own mutex, so updates to different metrics do not
// contend.
type Engine struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

var _ Store = (*Engine)(nil)

// NewEngine creates an empty engine.
func NewEngine() *Engine {
	return &Engine{entries: make(map[Key]*entry)}
}

// RecordMetric always records the unscoped metric. Scoped observations made
// inside a unit of work are additionally recorded under the unit's name.
func (e *Engine) RecordMetric(ctx context.Context, name string, seconds float64, scoped bool) {
	e.record(Key{Name: name}, seconds)

	if !scoped {
		return
	}
	if txn, ok := scopeName(ctx); ok {
		e.record(Key{Name: name, Scope: txn}, seconds)
	}
}

func (e *Engine) record(k Key, seconds float64) {
	for {
		if e.entry(k).record(seconds) {
			return
		}
	}
}

// record reports false when the entry was retired by Harvest.
func (en *entry) record(seconds float64) bool {
	en.mu.Lock()
	defer en.mu.Unlock()
	if en.retired {
		return false
	}
	en.stats.record(seconds)
	return true
}

func (e *Engine) entry(k Key) *entry {
	e.mu.RLock()
	en, ok := e.entries[k]
	e.mu.RUnlock()
	if ok {
		return en
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if en, ok = e.entries[k]; !ok {
		en = &entry{}
		e.entries[k] = en
	}
	return en
}

// Get returns the current aggregate for k.
func (e *Engine) Get(k Key) (Stats, bool) {
	e.mu.RLock()
	en, ok := e.entries[k]
	e.mu.RUnlock()
	if !ok {
		return Stats{}, false
	}

	en.mu.Lock()
	defer en.mu.Unlock()
	return en.stats, true
}

// Len returns the number of distinct keys.
func (e *Engine) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.entries)
}

// Snapshot copies every aggregate.
func (e *Engine) Snapshot() map[Key]Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return copyEntries(e.entries, false)
}

// Harvest returns every aggregate and resets the engine.
func (e *Engine) Harvest() map[Key]Stats {
	e.mu.Lock()
	entries := e.entries
	e.entries = make(map[Key]*entry, len(entries))
	e.mu.Unlock()

	return copyEntries(entries, true)
}

func copyEntries(entries map[Key]*entry, retire bool) map[Key]Stats {
	out := make(map[Key]Stats, len(entries))
	for k, en := range entries {
		en.mu.Lock()
		out[k] = en.stats
		en.retired = retire
		en.mu.Unlock()
	}
	return out
}

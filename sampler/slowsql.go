package sampler

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gaborage/querytap/connreg"
	"github.com/gaborage/querytap/scope"
)

// SlowSQLOptions configures a SlowSQL sampler.
type SlowSQLOptions struct {
	Enabled   bool
	Threshold time.Duration
	// Max bounds the number of distinct statements kept between harvests.
	Max int
	// MaxLength bounds the length of stored SQL text in runes.
	MaxLength int
}

// SlowStatement aggregates every slow execution of one obfuscated statement
// under one metric.
type SlowStatement struct {
	Metric       string
	SQL          string
	Transaction  string
	Database     *connreg.Config
	Count        int64
	TotalSeconds float64
	MinSeconds   float64
	MaxSeconds   float64
	LastSeen     time.Time
}

type slowKey struct {
	metric string
	sql    string
}

// SlowSQL keeps the slowest statements at or above a threshold.
type SlowSQL struct {
	opts SlowSQLOptions
	now  func() time.Time

	mu         sync.Mutex
	statements map[slowKey]*SlowStatement
}

var _ SQLSampler = (*SlowSQL)(nil)

// NewSlowSQL creates a sampler. Max below 1 is treated as 1.
func NewSlowSQL(opts SlowSQLOptions) *SlowSQL {
	if opts.Max < 1 {
		opts.Max = 1
	}
	return &SlowSQL{
		opts:       opts,
		now:        time.Now,
		statements: make(map[slowKey]*SlowStatement),
	}
}

// NoticeSQL records sql if it ran for at least the threshold.
func (s *SlowSQL) NoticeSQL(ctx context.Context, sql, metric string, cfg *connreg.Config, seconds float64) {
	if !s.opts.Enabled || seconds < s.opts.Threshold.Seconds() {
		return
	}

	key := slowKey{metric: metric, sql: TruncateString(Obfuscate(sql), s.opts.MaxLength)}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.statements[key]; ok {
		st.Count++
		st.TotalSeconds += seconds
		st.MinSeconds = min(st.MinSeconds, seconds)
		if seconds > st.MaxSeconds {
			st.MaxSeconds = seconds
			st.Transaction = transactionName(ctx)
			st.Database = copyConfig(cfg)
		}
		st.LastSeen = now
		return
	}

	if len(s.statements) >= s.opts.Max && !s.evictFaster(seconds) {
		return
	}

	s.statements[key] = &SlowStatement{
		Metric:       metric,
		SQL:          key.sql,
		Transaction:  transactionName(ctx),
		Database:     copyConfig(cfg),
		Count:        1,
		TotalSeconds: seconds,
		MinSeconds:   seconds,
		MaxSeconds:   seconds,
		LastSeen:     now,
	}
}

// evictFaster drops the statement with the smallest MaxSeconds if it is
// faster than seconds. Callers hold s.mu.
func (s *SlowSQL) evictFaster(seconds float64) bool {
	var (
		victim slowKey
		found  bool
		lowest float64
	)
	for k, st := range s.statements {
		if !found || st.MaxSeconds < lowest {
			victim, lowest, found = k, st.MaxSeconds, true
		}
	}
	if !found || lowest >= seconds {
		return false
	}
	delete(s.statements, victim)
	return true
}

// Len returns the number of statements currently held.
func (s *SlowSQL) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.statements)
}

// Harvest returns the held statements, slowest first, and resets the sampler.
func (s *SlowSQL) Harvest() []SlowStatement {
	s.mu.Lock()
	statements := s.statements
	s.statements = make(map[slowKey]*SlowStatement)
	s.mu.Unlock()

	out := make([]SlowStatement, 0, len(statements))
	for _, st := range statements {
		out = append(out, *st)
	}
	slices.SortFunc(out, func(a, b SlowStatement) int {
		return cmp.Compare(b.MaxSeconds, a.MaxSeconds)
	})
	return out
}

func transactionName(ctx context.Context) string {
	if s, ok := scope.FromContext(ctx); ok {
		return s.Name()
	}
	return ""
}

func copyConfig(cfg *connreg.Config) *connreg.Config {
	if cfg == nil {
		return nil
	}
	c := *cfg
	return &c
}

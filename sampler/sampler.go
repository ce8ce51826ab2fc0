// Package sampler holds the collaborators that receive individual queries
// after their metrics are recorded: the slow SQL sampler, which aggregates
// the slowest statements per metric, and the transaction tracer, which
// attaches SQL to the current segment of a unit of work and keeps the
// slowest finished traces.
//
// Samplers decide for themselves whether a query is worth keeping; callers
// report every query.
package sampler

import (
	"context"
	"regexp"
	"strings"

	"github.com/gaborage/querytap/connreg"
)

// SQLSampler receives every query together with its base metric name.
type SQLSampler interface {
	NoticeSQL(ctx context.Context, sql, metric string, cfg *connreg.Config, seconds float64)
}

// TransactionSampler receives every query made inside a unit of work.
type TransactionSampler interface {
	NoticeSQL(ctx context.Context, sql string, cfg *connreg.Config, seconds float64)
}

// TruncateString shortens value to at most maxLen runes, ending in "..." when
// anything was cut. maxLen <= 0 disables truncation.
func TruncateString(value string, maxLen int) string {
	if maxLen <= 0 {
		return value
	}
	r := []rune(value)
	if len(r) <= maxLen {
		return value
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}

var (
	literalPattern    = regexp.MustCompile(`'(?:[^']|'')*'|\$\d+|\b\d+(?:\.\d+)?\b`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// Obfuscate replaces string and numeric literals with '?' and collapses
// whitespace. Positional placeholders ($1) are kept.
func Obfuscate(sql string) string {
	out := literalPattern.ReplaceAllStringFunc(sql, func(m string) string {
		if strings.HasPrefix(m, "$") {
			return m
		}
		return "?"
	})
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(out, " "))
}

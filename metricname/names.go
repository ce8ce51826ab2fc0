package metricname

import (
	"iter"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

const (
	// Namespace prefixes every operation-derived metric and the global rollup.
	Namespace = "ActiveRecord"
	// All is the rollup every query contributes to.
	All = Namespace + "/all"
	// OtherSQL is used when nothing useful can be extracted from the SQL text.
	OtherSQL = "Database/SQL/other"

	sqlPrefix           = "SQL"
	databaseSQLPrefix   = "Database/SQL"
	remoteServicePrefix = "RemoteService"
)

var modelPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(::[A-Za-z_][A-Za-z0-9_]*)*$`)

// ForOperation maps an operation label to a metric name. Two label shapes are
// recognized: "Model#op" and "Model Op" (e.g. "User Load"). Unknown operations,
// schema lookups ("User Columns") and malformed labels are rejected.
func ForOperation(label string) (string, bool) {
	label = strings.TrimSpace(label)
	if label == "" || !utf8.ValidString(label) {
		return "", false
	}

	var model, op string
	if before, after, found := strings.Cut(label, "#"); found {
		model, op = strings.TrimSpace(before), strings.TrimSpace(after)
	} else {
		parts := strings.Fields(label)
		if len(parts) != 2 {
			return "", false
		}
		model, op = parts[0], parts[1]
	}

	if !modelPattern.MatchString(model) || op == "" || strings.ContainsAny(op, " /#") {
		return "", false
	}

	normalized, ok := normalizeOperation(model, strings.ToLower(op))
	if !ok {
		return "", false
	}
	return Namespace + "/" + model + "/" + normalized, true
}

func normalizeOperation(model, op string) (string, bool) {
	switch op {
	case "load", "count", "exists", "find":
		return "find", true
	case "destroy", "delete":
		return "destroy", true
	case "save", "update":
		return "save", true
	case "create":
		return "create", true
	case "columns", "indexes":
		return "", false
	}
	if model == "Join" {
		return op, true
	}
	return "", false
}

// ForSQL derives a best-effort metric name from raw SQL text. It never fails:
// text that is not valid UTF-8 is re-decoded first, and anything that cannot be
// classified maps to OtherSQL.
func ForSQL(sql string) string {
	sql = strings.TrimLeft(correctlyEncoded(sql), " \t\r\n(")
	if sql == "" {
		return OtherSQL
	}

	verb := extractVerb(sql)
	switch verb {
	case "select", "insert", "update", "delete":
		if table := extractTable(verb, sql); table != "" {
			return sqlPrefix + "/" + table + "/" + verb
		}
		return databaseSQLPrefix + "/" + verb
	case "show":
		return databaseSQLPrefix + "/" + verb
	default:
		return OtherSQL
	}
}

// Base resolves the metric name for an event: the operation label wins, the
// SQL text is the fallback. The result is never empty.
func Base(label, sql string) string {
	if name, ok := ForOperation(label); ok {
		return name
	}
	return ForSQL(sql)
}

// Rollups returns the coarser names base also contributes to. The sequence is
// lazy and can be ranged over any number of times; it never yields base itself
// or an empty name.
func Rollups(base string) iter.Seq[string] {
	return func(yield func(string) bool) {
		if base != All && !yield(All) {
			return
		}

		parts := strings.Split(base, "/")
		switch {
		case len(parts) == 3 && parts[0] == Namespace && parts[2] != "":
			if name := Namespace + "/" + parts[2]; name != base && name != All {
				yield(name)
			}
		case len(parts) == 3 && parts[0] == sqlPrefix && parts[2] != "":
			yield(sqlPrefix + "/" + parts[2])
		}
	}
}

// RemoteService returns the per-host metric for a connection. Both adapter and
// host are required.
func RemoteService(adapter, host string) (string, bool) {
	adapter = NormalizeAdapter(adapter)
	host = strings.TrimSpace(host)
	if adapter == "" || host == "" {
		return "", false
	}
	return remoteServicePrefix + "/" + adapter + "/" + host, true
}

// correctlyEncoded returns s unchanged when it is valid UTF-8. Otherwise the
// bytes are assumed to be Windows-1252, which decodes every byte sequence.
func correctlyEncoded(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	decoded, err := charmap.Windows1252.NewDecoder().String(s)
	if err != nil {
		return strings.ToValidUTF8(s, "")
	}
	return decoded
}

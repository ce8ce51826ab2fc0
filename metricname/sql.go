package metricname

import (
	"regexp"
	"strings"
)

var (
	// Table patterns accept quoted identifiers (double quotes, backticks, single
	// quotes) and schema-qualified names, capturing the name after the dot.
	selectTableRegex = regexp.MustCompile("(?is)\\bFROM\\s+(?:[`\"']?\\w+[`\"']?\\.)?[`\"']?(\\w+)[`\"']?")
	insertTableRegex = regexp.MustCompile("(?is)^INSERT\\s+INTO\\s+(?:[`\"']?\\w+[`\"']?\\.)?[`\"']?(\\w+)[`\"']?")
	updateTableRegex = regexp.MustCompile("(?is)^UPDATE\\s+(?:[`\"']?\\w+[`\"']?\\.)?[`\"']?(\\w+)[`\"']?")
	deleteTableRegex = regexp.MustCompile("(?is)^DELETE\\s+FROM\\s+(?:[`\"']?\\w+[`\"']?\\.)?[`\"']?(\\w+)[`\"']?")
)

// extractVerb returns the lowercased first keyword of the statement.
func extractVerb(sql string) string {
	end := strings.IndexFunc(sql, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z')
	})
	if end == -1 {
		end = len(sql)
	}
	return strings.ToLower(sql[:end])
}

// extractTable returns the lowercased primary table of a DML statement, or ""
// when it cannot be determined. For joins the first table wins.
func extractTable(verb, sql string) string {
	var pattern *regexp.Regexp
	switch verb {
	case "select":
		pattern = selectTableRegex
	case "insert":
		pattern = insertTableRegex
	case "update":
		pattern = updateTableRegex
	case "delete":
		pattern = deleteTableRegex
	default:
		return ""
	}

	if matches := pattern.FindStringSubmatch(sql); len(matches) > 1 {
		return strings.ToLower(matches[1])
	}
	return ""
}

// NormalizeAdapter maps driver and adapter spellings onto one vendor name:
// "postgres" and "postgis" become "postgresql", "sqlite3" becomes "sqlite",
// "mysql2" becomes "mysql", "mongo" becomes "mongodb".
func NormalizeAdapter(adapter string) string {
	adapter = strings.ToLower(strings.TrimSpace(adapter))
	switch adapter {
	case "postgres", "postgresql", "postgis", "pgx":
		return "postgresql"
	case "mongo", "mongodb":
		return "mongodb"
	case "sqlite3":
		return "sqlite"
	case "mysql2":
		return "mysql"
	default:
		return adapter
	}
}

package metricname

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestForOperation(t *testing.T) {
	tests := []struct {
		label    string
		expected string
		ok       bool
	}{
		{label: "User#find", expected: "ActiveRecord/User/find", ok: true},
		{label: "User Load", expected: "ActiveRecord/User/find", ok: true},
		{label: "User Count", expected: "ActiveRecord/User/find", ok: true},
		{label: "User Exists", expected: "ActiveRecord/User/find", ok: true},
		{label: "User Update", expected: "ActiveRecord/User/save", ok: true},
		{label: "User#save", expected: "ActiveRecord/User/save", ok: true},
		{label: "User Destroy", expected: "ActiveRecord/User/destroy", ok: true},
		{label: "User#delete", expected: "ActiveRecord/User/destroy", ok: true},
		{label: "User Create", expected: "ActiveRecord/User/create", ok: true},
		{label: "Admin::Account#find", expected: "ActiveRecord/Admin::Account/find", ok: true},
		{label: "  Order Load  ", expected: "ActiveRecord/Order/find", ok: true},
		{label: "Join Load", expected: "ActiveRecord/Join/find", ok: true},
		{label: "Join Preload", expected: "ActiveRecord/Join/preload", ok: true},
		{label: "User Columns", ok: false},
		{label: "User Indexes", ok: false},
		{label: "User Preload", ok: false},
		{label: "SQL", ok: false},
		{label: "", ok: false},
		{label: "User#", ok: false},
		{label: "#find", ok: false},
		{label: "1User#find", ok: false},
		{label: "User find extra", ok: false},
		{label: "User#fi nd", ok: false},
		{label: "User\xff#find", ok: false},
	}

	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, ok := ForOperation(tt.label)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestForSQL(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected string
	}{
		{name: "select", sql: "SELECT * FROM orders WHERE id=1", expected: "SQL/orders/select"},
		{name: "select_lowercase_table", sql: "select id from Users", expected: "SQL/users/select"},
		{name: "select_schema_quoted", sql: `SELECT * FROM "public"."line_items"`, expected: "SQL/line_items/select"},
		{name: "select_multiline", sql: "SELECT id,\n  name\nFROM\n  accounts", expected: "SQL/accounts/select"},
		{name: "insert", sql: "INSERT INTO `events` (id) VALUES (1)", expected: "SQL/events/insert"},
		{name: "update", sql: "  update users set name = 'x'", expected: "SQL/users/update"},
		{name: "delete", sql: "DELETE FROM sessions WHERE expired", expected: "SQL/sessions/delete"},
		{name: "parenthesized", sql: "(SELECT id FROM a) UNION (SELECT id FROM b)", expected: "SQL/a/select"},
		{name: "select_without_table", sql: "SELECT 1", expected: "Database/SQL/select"},
		{name: "show", sql: "SHOW TABLES", expected: "Database/SQL/show"},
		{name: "ddl", sql: "CREATE TABLE x (id int)", expected: OtherSQL},
		{name: "begin", sql: "BEGIN", expected: OtherSQL},
		{name: "empty", sql: "", expected: OtherSQL},
		{name: "whitespace", sql: " \n\t", expected: OtherSQL},
		{name: "latin1_bytes", sql: "SELECT * FROM orders WHERE name = 'caf\xe9'", expected: "SQL/orders/select"},
		{name: "garbage_bytes", sql: "\xff\xfe\x00\x01", expected: OtherSQL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ForSQL(tt.sql))
		})
	}
}

func TestBasePrefersOperationLabel(t *testing.T) {
	assert.Equal(t, "ActiveRecord/User/find", Base("User#find", "SELECT * FROM orders"))
	assert.Equal(t, "SQL/orders/select", Base("", "SELECT * FROM orders"))
	assert.Equal(t, "SQL/orders/select", Base("User Columns", "SELECT * FROM orders"))
	assert.Equal(t, OtherSQL, Base("", ""))
}

func TestRollups(t *testing.T) {
	tests := []struct {
		base     string
		expected []string
	}{
		{base: "ActiveRecord/User/find", expected: []string{All, "ActiveRecord/find"}},
		{base: "ActiveRecord/Admin::Account/save", expected: []string{All, "ActiveRecord/save"}},
		{base: "SQL/orders/select", expected: []string{All, "SQL/select"}},
		{base: "Database/SQL/select", expected: []string{All}},
		{base: OtherSQL, expected: []string{All}},
		{base: All, expected: nil},
		{base: "ActiveRecord/Weird/all", expected: []string{All}},
	}

	for _, tt := range tests {
		t.Run(tt.base, func(t *testing.T) {
			got := slices.Collect(Rollups(tt.base))
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRollupsIsRestartableAndStopsEarly(t *testing.T) {
	seq := Rollups("ActiveRecord/User/find")

	first := slices.Collect(seq)
	second := slices.Collect(seq)
	assert.Equal(t, first, second)

	var seen []string
	for name := range seq {
		seen = append(seen, name)
		break
	}
	assert.Equal(t, []string{All}, seen)
}

func TestRemoteService(t *testing.T) {
	tests := []struct {
		name     string
		adapter  string
		host     string
		expected string
		ok       bool
	}{
		{name: "postgresql", adapter: "postgresql", host: "db1", expected: "RemoteService/postgresql/db1", ok: true},
		{name: "postgres_alias", adapter: "postgres", host: "db1", expected: "RemoteService/postgresql/db1", ok: true},
		{name: "mysql2", adapter: "Mysql2", host: "10.0.0.5", expected: "RemoteService/mysql/10.0.0.5", ok: true},
		{name: "sqlite3", adapter: "sqlite3", host: "localhost", expected: "RemoteService/sqlite/localhost", ok: true},
		{name: "unknown_vendor_kept", adapter: "db2", host: "mainframe", expected: "RemoteService/db2/mainframe", ok: true},
		{name: "missing_adapter", adapter: "", host: "db1"},
		{name: "missing_host", adapter: "postgresql", host: ""},
		{name: "blank_host", adapter: "postgresql", host: "  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := RemoteService(tt.adapter, tt.host)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestRemoteServiceDeterministic(t *testing.T) {
	a, _ := RemoteService("postgresql", "db1")
	b, _ := RemoteService("postgresql", "db1")
	assert.Equal(t, a, b)
}

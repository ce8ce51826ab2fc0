package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/gaborage/querytap/config"
	"github.com/gaborage/querytap/connreg"
	"github.com/gaborage/querytap/events"
)

type pgxQueryKey struct{}

type pgxQuery struct {
	sql   string
	start time.Time
}

// PgxTracer implements pgx.QueryTracer. Each traced query is published once
// it completes.
type PgxTracer struct {
	pub      events.Publisher
	registry *connreg.Registry
	now      func() time.Time
}

var _ pgx.QueryTracer = (*PgxTracer)(nil)

// NewPgxTracer creates a tracer publishing to pub. registry may be nil, in
// which case events carry no connection ID.
func NewPgxTracer(pub events.Publisher, registry *connreg.Registry) *PgxTracer {
	return &PgxTracer{pub: pub, registry: registry, now: time.Now}
}

// TraceQueryStart records the query start time in the returned context.
func (t *PgxTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, pgxQueryKey{}, &pgxQuery{sql: data.SQL, start: t.now()})
}

// TraceQueryEnd publishes the finished query.
func (t *PgxTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, _ pgx.TraceQueryEndData) {
	q, ok := ctx.Value(pgxQueryKey{}).(*pgxQuery)
	if !ok {
		return
	}
	publish(ctx, t.pub, q.sql, t.connectionID(conn), q.start, t.now())
}

// pgxEndpoint keys the registry by what a connection points at, so pooled
// connections that come and go share one entry.
type pgxEndpoint connreg.Config

func (t *PgxTracer) connectionID(conn *pgx.Conn) connreg.ID {
	if conn == nil {
		return 0
	}
	return t.endpointID(conn.Config())
}

func (t *PgxTracer) endpointID(cfg *pgx.ConnConfig) connreg.ID {
	if t.registry == nil || cfg == nil {
		return 0
	}
	c := connreg.FromPgx(cfg)
	return t.registry.Attach(pgxEndpoint(c), c)
}

// PostgresDSN builds a key/value DSN from cfg.
func PostgresDSN(cfg *config.DatabaseConfig) string {
	parts := []string{
		fmt.Sprintf("host=%s", quoteDSN(cfg.Host)),
		fmt.Sprintf("port=%d", cfg.Port),
		fmt.Sprintf("user=%s", quoteDSN(cfg.Username)),
		fmt.Sprintf("password=%s", quoteDSN(cfg.Password)),
		fmt.Sprintf("dbname=%s", quoteDSN(cfg.Database)),
	}
	return strings.Join(parts, " ")
}

// quoteDSN quotes a DSN value according to libpq rules.
func quoteDSN(value string) string {
	if value == "" {
		return "''"
	}

	needsQuoting := false
	for _, r := range value {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') &&
			(r < '0' || r > '9') && r != '.' && r != '_' && r != '-' {
			needsQuoting = true
			break
		}
	}
	if !needsQuoting {
		return value
	}

	escaped := strings.ReplaceAll(value, "\\", "\\\\")
	escaped = strings.ReplaceAll(escaped, "'", "\\'")
	return "'" + escaped + "'"
}

// PostgresConfig parses cfg into a pgx configuration traced by tracer.
func PostgresConfig(cfg *config.DatabaseConfig, tracer *PgxTracer) (*pgx.ConnConfig, error) {
	pgxConfig, err := pgx.ParseConfig(PostgresDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PostgreSQL config: %w", err)
	}
	if tracer != nil {
		pgxConfig.Tracer = tracer
	}
	return pgxConfig, nil
}

// OpenPostgres opens a database/sql pool over pgx with tracer installed. No
// connection is made until first use.
func OpenPostgres(cfg *config.DatabaseConfig, tracer *PgxTracer) (*sql.DB, error) {
	pgxConfig, err := PostgresConfig(cfg, tracer)
	if err != nil {
		return nil, err
	}
	return stdlib.OpenDB(*pgxConfig), nil
}

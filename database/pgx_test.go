package database

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gaborage/querytap/config"
	"github.com/gaborage/querytap/connreg"
)

func TestPgxTracerPublishesQuery(t *testing.T) {
	pub := &capture{}
	tracer := NewPgxTracer(pub, connreg.New())
	clock := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	tracer.now = func() time.Time { return clock }

	ctx := WithOperation(context.Background(), "Order#create")
	ctx = tracer.TraceQueryStart(ctx, nil, pgx.TraceQueryStartData{SQL: "INSERT INTO orders VALUES ($1)"})
	clock = clock.Add(12500 * time.Microsecond)
	tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

	got := pub.all()
	require.Len(t, got, 1)
	assert.Equal(t, "Order#create", got[0].Name)
	assert.Equal(t, "INSERT INTO orders VALUES ($1)", got[0].SQL)
	assert.Equal(t, 12500*time.Microsecond, got[0].Duration)
	assert.InDelta(t, 12.5, got[0].DurationMillis(), 1e-12)
	assert.Zero(t, got[0].ConnectionID, "no connection means no id")
}

func TestPgxTracerEndWithoutStart(t *testing.T) {
	pub := &capture{}
	NewPgxTracer(pub, nil).TraceQueryEnd(context.Background(), nil, pgx.TraceQueryEndData{})
	assert.Empty(t, pub.all())
}

func TestPgxTracerNilPublisher(t *testing.T) {
	tracer := NewPgxTracer(nil, nil)
	ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: "SELECT 1"})
	assert.NotPanics(t, func() { tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{}) })
}

func TestPgxTracerSharesEntryPerEndpoint(t *testing.T) {
	reg := connreg.New()
	tracer := NewPgxTracer(&capture{}, reg)

	var first connreg.ID
	for i := range 100 {
		cfg, err := pgx.ParseConfig("host=db1 port=5432 user=app dbname=orders")
		require.NoError(t, err)
		id := tracer.endpointID(cfg)
		if i == 0 {
			first = id
		}
		assert.Equal(t, first, id)
	}
	other, err := pgx.ParseConfig("host=db2 port=5432 user=app dbname=orders")
	require.NoError(t, err)
	assert.NotEqual(t, first, tracer.endpointID(other))

	assert.Equal(t, 2, reg.Len())
	resolved, ok := reg.Resolve(first)
	require.True(t, ok)
	assert.Equal(t, "db1", resolved.Host)
	assert.Equal(t, "orders", resolved.Database)
}

func TestQuoteDSN(t *testing.T) {
	tests := map[string]string{
		"":           "''",
		"db1":        "db1",
		"my-host.io": "my-host.io",
		"p@ss word":  "'p@ss word'",
		`it's`:       `'it\'s'`,
		`back\slash`: `'back\\slash'`,
	}
	for in, want := range tests {
		assert.Equal(t, want, quoteDSN(in), in)
	}
}

func TestPostgresConfigInstallsTracer(t *testing.T) {
	cfg := &config.DatabaseConfig{Host: "db1", Port: 6543, Database: "orders", Username: "app", Password: "s3cret word"}
	tracer := NewPgxTracer(&capture{}, connreg.New())

	pgxConfig, err := PostgresConfig(cfg, tracer)
	require.NoError(t, err)
	assert.Same(t, tracer, pgxConfig.Tracer)
	assert.Equal(t, "db1", pgxConfig.Host)
	assert.Equal(t, uint16(6543), pgxConfig.Port)
	assert.Equal(t, "s3cret word", pgxConfig.Password)

	reg := connreg.New()
	id := reg.Attach("pool", connreg.FromPgx(pgxConfig))
	resolved, ok := reg.Resolve(id)
	require.True(t, ok)
	assert.Equal(t, "orders", resolved.Database)
}

func TestOpenPostgresIsLazy(t *testing.T) {
	db, err := OpenPostgres(&config.DatabaseConfig{Host: "127.0.0.1", Port: 1, Database: "none", Username: "u"}, nil)
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.NoError(t, db.Close())
}

//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/gaborage/querytap/config"
)

const (
	postgresImage    = "postgres:17-alpine"
	postgresUser     = "testuser"
	postgresPassword = "testpass"
	postgresDatabase = "testdb"
)

// StartPostgreSQL runs a PostgreSQL server for the duration of t and returns
// the static database section pointing at it.
func StartPostgreSQL(ctx context.Context, t *testing.T) *config.DatabaseConfig {
	t.Helper()
	skipWithoutDocker(ctx, t)

	c, err := postgres.Run(ctx, postgresImage,
		postgres.WithDatabase(postgresDatabase),
		postgres.WithUsername(postgresUser),
		postgres.WithPassword(postgresPassword),
		testcontainers.WithWaitStrategy(
			// Postgres restarts once after initdb.
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(startupTimeout),
		),
	)
	require.NoError(t, err, "failed to start PostgreSQL container")
	terminateOnCleanup(t, c)

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	return &config.DatabaseConfig{
		Type:     "postgresql",
		Host:     host,
		Port:     port.Int(),
		Database: postgresDatabase,
		Username: postgresUser,
		Password: postgresPassword,
	}
}

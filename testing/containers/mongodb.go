//go:build integration

package containers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"github.com/testcontainers/testcontainers-go/wait"
)

const mongoImage = "mongo:8.0"

// StartMongoDB runs a MongoDB server for the duration of t and returns its
// connection URI.
func StartMongoDB(ctx context.Context, t *testing.T) string {
	t.Helper()
	skipWithoutDocker(ctx, t)

	c, err := mongodb.Run(ctx, mongoImage,
		testcontainers.WithWaitStrategy(
			wait.ForLog("Waiting for connections").WithStartupTimeout(startupTimeout),
		),
	)
	require.NoError(t, err, "failed to start MongoDB container")
	terminateOnCleanup(t, c)

	uri, err := c.ConnectionString(ctx)
	require.NoError(t, err)
	return uri
}

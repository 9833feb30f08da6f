//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startContainer(t *testing.T, req testcontainers.ContainerRequest, port string) string {
	t.Helper()
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	if host == "" || host == "null" {
		host = "localhost"
	}
	mapped, err := container.MappedPort(ctx, port)
	require.NoError(t, err)

	return fmt.Sprintf("%s:%s", host, mapped.Port())
}

func roundTrip(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	got, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	state := sampleState(2)
	current := state.JobQueue[1]
	current.Status = models.JobStatusAnalyzing
	state.JobQueue[1] = current
	state.CurrentJob = &current
	require.NoError(t, s.Save(ctx, state))

	state.JobQueue = state.JobQueue[:1]
	state.CurrentJob = nil
	require.NoError(t, s.Save(ctx, state))

	got, err = s.Load(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Len(t, got.JobQueue, 1)
	assert.Nil(t, got.CurrentJob)
	require.NoError(t, s.Close(ctx))
}

func TestRedisStore(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}, "6379")

	s, err := NewRedis(context.Background(), addr, "", "jobpilot:test")
	require.NoError(t, err)
	roundTrip(t, s)
}

func TestPostgresStore(t *testing.T) {
	addr := startContainer(t, testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "jobpilot",
			"POSTGRES_PASSWORD": "jobpilot",
			"POSTGRES_DB":       "jobpilot",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}, "5432")

	s, err := NewPostgres(context.Background(), fmt.Sprintf("postgres://jobpilot:jobpilot@%s/jobpilot?sslmode=disable", addr))
	require.NoError(t, err)
	roundTrip(t, s)
}

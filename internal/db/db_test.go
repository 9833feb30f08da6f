//go:build integration

package db

import (
	"context"
	"errors"
	"log"
	"os"
	"testing"
	"time"

	"github.com/raphaelgruber/jobpilot/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var testDB *Client

func TestMain(m *testing.M) {
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
	ctx := context.Background()

	surreal, url, err := startSurreal(ctx)
	if err != nil {
		log.Fatalf("surrealdb container: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       url,
		Namespace: "jobpilot_test",
		Database:  "state",
		Username:  "root",
		Password:  "root",
	}, nil)
	if err != nil {
		_ = surreal.Terminate(ctx)
		log.Fatalf("connect: %v", err)
	}

	code := m.Run()
	_ = testDB.Close(ctx)
	_ = surreal.Terminate(ctx)
	os.Exit(code)
}

// startSurreal runs a throwaway SurrealDB and returns its rpc URL.
func startSurreal(ctx context.Context) (testcontainers.Container, string, error) {
	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v2.3.7",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--user", "root", "--pass", "root", "memory"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(time.Minute),
		},
		Started: true,
	})
	if err != nil {
		return nil, "", err
	}

	endpoint, err := c.PortEndpoint(ctx, "8000/tcp", "ws")
	if err != nil {
		_ = c.Terminate(ctx)
		return nil, "", err
	}
	return c, endpoint + "/rpc", nil
}

func TestLoadStateEmpty(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.DeleteState(ctx))

	_, err := testDB.LoadState(ctx)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestSaveAndLoadState(t *testing.T) {
	ctx := context.Background()
	require.NoError(t, testDB.DeleteState(ctx))

	settings := models.DefaultSettings()
	settings.ResumeText = "Go developer"
	current := models.JobRecord{ID: "b", Title: "SRE", URL: "https://x/b", Status: models.JobStatusAnalyzing}
	state := models.PersistedState{
		JobQueue: []models.JobRecord{
			{ID: "a", Title: "Backend", URL: "https://x/a", Status: models.JobStatusCompleted},
			current,
		},
		CurrentJob: &current,
		Config:     &settings,
	}

	require.NoError(t, testDB.SaveState(ctx, state))

	// second save overwrites the singleton
	state.JobQueue[0].Status = models.JobStatusFailed
	require.NoError(t, testDB.SaveState(ctx, state))

	got, err := testDB.LoadState(ctx)
	require.NoError(t, err)
	require.Len(t, got.JobQueue, 2)
	assert.Equal(t, models.JobStatusFailed, got.JobQueue[0].Status)
	require.NotNil(t, got.CurrentJob)
	assert.Equal(t, "b", got.CurrentJob.ID)
	assert.Equal(t, "Go developer", got.Config.ResumeText)
}

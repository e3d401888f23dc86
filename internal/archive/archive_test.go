package archive_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kiranshivaraju/codereview/internal/archive"
	"github.com/kiranshivaraju/codereview/internal/config"
	"github.com/kiranshivaraju/codereview/pkg/models"
)

func setupMinio(t *testing.T) config.ArchiveConfig {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     "minioadmin",
			"MINIO_ROOT_PASSWORD": "minioadmin",
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/live").WithPort("9000/tcp").WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, container.Terminate(ctx)) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "9000")
	require.NoError(t, err)

	return config.ArchiveConfig{
		Endpoint:  host + ":" + port.Port(),
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "codereview-reports",
	}
}

func TestArchive_Roundtrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	cfg := setupMinio(t)
	ctx := context.Background()

	s, err := archive.New(ctx, cfg)
	require.NoError(t, err)

	result := &models.AnalysisResult{
		AnalysisID:  "an-roundtrip",
		Repository:  "acme/api",
		Status:      models.AnalysisStatusCompleted,
		CompletedAt: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}
	issues := []models.Issue{{AnalysisID: "an-roundtrip", IssueID: "i1", Type: "XSS", Severity: models.SeverityHigh}}
	require.NoError(t, s.Archive(ctx, result, issues))

	report, err := s.Load(ctx, archive.ObjectKey(result))
	require.NoError(t, err)
	assert.Equal(t, "an-roundtrip", report.Result.AnalysisID)
	assert.Equal(t, issues, report.Issues)

	// Bucket already exists on the second connect.
	_, err = archive.New(ctx, cfg)
	require.NoError(t, err)
}

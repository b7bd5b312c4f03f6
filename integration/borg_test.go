//go:build integration

package integration

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/votesmart/undine/internal/models"
	"github.com/votesmart/undine/internal/services/borg"
)

func TestBorgCreate_FakeBinary_Integration(t *testing.T) {
	bin, argLog := fakeBorg(t)
	cfg := models.Config{
		Repos:       "ssh://host/repo",
		BorgPath:    bin,
		Compression: "lz4",
		RemotePath:  "borg1",
	}

	svc := borg.New(testLogger())

	ok := svc.Create(context.Background(), cfg, models.Unit{Name: "db", Path: "/var/lib/db"})
	bad := svc.Create(context.Background(), cfg, models.Unit{Name: "web", Path: "/srv/fail"})

	assert.Equal(t, models.StatusSuccess, ok.Status)
	assert.Equal(t, models.StatusFail, bad.Status)
	assert.Equal(t, "disk full", bad.ErrText)

	logged, err := os.ReadFile(argLog)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(logged)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "create --remote-path=borg1 -C lz4 ssh://host/repo::db-{now:%Y-%m-%d} /var/lib/db", lines[0])
}

func TestBorgVersion_FakeBinary_Integration(t *testing.T) {
	bin, _ := fakeBorg(t)

	version, err := borg.New(testLogger()).Version(context.Background(), models.Config{BorgPath: bin})

	require.NoError(t, err)
	assert.Equal(t, "borg 1.2.8", version)
}

func TestBorgCreate_MissingBinary_Integration(t *testing.T) {
	cfg := models.Config{Repos: "ssh://host/repo", BorgPath: "/nonexistent/borg"}

	result := borg.New(testLogger()).Create(context.Background(), cfg, models.Unit{Name: "db", Path: "/var/lib/db"})

	assert.Equal(t, models.StatusFail, result.Status)
	assert.NotEmpty(t, result.ErrText)
}

// Runs against a real repository when TEST_BORG_REPO is set. The archive is
// created with -n so the repository is left untouched.
func TestBorgCreate_RealRepo_Integration(t *testing.T) {
	repo := os.Getenv("TEST_BORG_REPO")
	if repo == "" {
		t.Skip("TEST_BORG_REPO not set")
	}

	src := t.TempDir()
	require.NoError(t, os.WriteFile(src+"/data.txt", []byte("test data for backup"), 0o600))

	cfg := models.Config{
		Repos:       repo,
		BorgPath:    "borg",
		Compression: "lz4",
		DryRun:      true,
		RemotePath:  os.Getenv("TEST_BORG_REMOTE_PATH"),
	}

	result := borg.New(testLogger()).Create(context.Background(), cfg, models.Unit{Name: "integration", Path: src})

	assert.Equal(t, models.StatusSuccess, result.Status, result.ErrText)
}

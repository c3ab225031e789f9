package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/optimo/internal/config"
	"github.com/example/optimo/internal/models"
)

func TestFileStore_SaveGetList(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, config.StoreConfig{Dir: filepath.Join(t.TempDir(), "runs")})
	require.NoError(t, err)
	defer s.Close()

	now := time.Now().UTC().Truncate(time.Second)
	older := &models.Run{ID: "r1", State: models.StateFailed, Diagnostic: "boom", CreatedAt: now.Add(-time.Minute)}
	newer := &models.Run{
		ID:        "r2",
		State:     models.StateValidated,
		Problem:   models.ProblemStatement{Text: "max x"},
		Summary:   "Success: true",
		CreatedAt: now,
		Transitions: []models.Transition{
			{From: models.StateAwaitingReformulation, To: models.StateReformulated, At: now},
		},
	}
	require.NoError(t, s.Save(ctx, older))
	require.NoError(t, s.Save(ctx, newer))

	got, err := s.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, models.StateValidated, got.State)
	assert.Equal(t, "max x", got.Problem.Text)
	require.Len(t, got.Transitions, 1)

	runs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "r2", runs[0].ID)

	newer.State = models.StateFailed
	require.NoError(t, s.Save(ctx, newer))
	got, err = s.Get(ctx, "r2")
	require.NoError(t, err)
	assert.Equal(t, models.StateFailed, got.State)
}

func TestFileStore_NotFoundAndBadIDs(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get(context.Background(), "../etc/passwd")
	assert.Error(t, err)
	assert.Error(t, s.Save(context.Background(), &models.Run{ID: "a/b"}))
}

func TestFileStore_RecordsOnlyAndCorruptSkipped(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, s.Save(ctx, &models.Run{ID: "ok", State: models.StateValidated}))
	require.NoError(t, s.Save(ctx, &models.Run{ID: "ok", State: models.StateFailed}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{"), 0o600))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "no temp files left behind")

	_, err = s.Get(ctx, "corrupt")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)

	runs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, models.StateFailed, runs[0].State)
}

// Requires a reachable database; set OPTIMO_TEST_DATABASE_URL to run.
func TestPgStore_RoundTrip(t *testing.T) {
	url := os.Getenv("OPTIMO_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("OPTIMO_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	s, err := OpenPostgres(ctx, url)
	require.NoError(t, err)
	defer s.Close()

	run := &models.Run{ID: "pg-" + time.Now().Format("150405.000000"), State: models.StateValidated, CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
	require.NoError(t, s.Save(ctx, run))
	got, err := s.Get(ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, run.State, got.State)

	_, err = s.Get(ctx, "pg-missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

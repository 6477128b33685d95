package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-pipeline/internal/operations"
	"image-pipeline/internal/pipeline"
)

var _ pipeline.Recorder = (*DB)(nil)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "history", "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndGetRuns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, db.RecordRun(ctx, pipeline.Run{
		ID:        "run-1",
		StartedAt: start,
		Steps:     []string{"blur", "nope", "sharpen"},
		Skipped:   []string{"nope"},
		Elapsed:   12*time.Millisecond + 400*time.Microsecond,
	}))
	require.NoError(t, db.RecordRun(ctx, pipeline.Run{
		ID:             "run-2",
		StartedAt:      start.Add(time.Minute),
		Steps:          []string{"template_matching"},
		Err:            operations.NewProcessingError("template_matching", 0, errors.New("template image not found")),
		FailedOp:       "template_matching",
		FailedPosition: 0,
	}))

	runs, err := db.GetRuns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	failed := runs[0]
	assert.Equal(t, "run-2", failed.ID)
	assert.False(t, failed.Success)
	assert.Equal(t, "template_matching", failed.FailedOp)
	require.NotNil(t, failed.FailedPosition)
	assert.Equal(t, 0, *failed.FailedPosition)
	assert.Equal(t, "step 0 (template_matching): template image not found", failed.ErrorMessage)
	assert.Equal(t, []string{}, failed.Skipped)

	ok := runs[1]
	assert.Equal(t, "run-1", ok.ID)
	assert.True(t, ok.Success)
	assert.Equal(t, start, ok.StartedAt)
	assert.Equal(t, []string{"blur", "nope", "sharpen"}, ok.Steps)
	assert.Equal(t, []string{"nope"}, ok.Skipped)
	assert.Equal(t, int64(12), ok.ElapsedMS)
	assert.Nil(t, ok.FailedPosition)
}

func TestGetRun(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.RecordRun(ctx, pipeline.Run{ID: "abc", StartedAt: time.Now()}))

	r, err := db.GetRun(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", r.ID)
	assert.Empty(t, r.Steps)

	_, err = db.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestStatsAndRetention(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, db.RecordRun(ctx, pipeline.Run{ID: "old", StartedAt: now.Add(-48 * time.Hour), Elapsed: 10 * time.Millisecond}))
	require.NoError(t, db.RecordRun(ctx, pipeline.Run{ID: "new", StartedAt: now, Elapsed: 30 * time.Millisecond, Err: errors.New("boom")}))

	stats, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{TotalRuns: 2, SuccessCount: 1, FailureCount: 1, AvgElapsedMS: 20}, stats)

	deleted, err := db.DeleteBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	runs, err := db.GetRuns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "new", runs[0].ID)
}

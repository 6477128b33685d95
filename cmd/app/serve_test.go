package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-pipeline/internal/pipeline"
	"image-pipeline/internal/storage"
)

type failingPruner struct{}

func (failingPruner) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, errors.New("disk full")
}

func TestPruneOnceDeletesExpiredRuns(t *testing.T) {
	logger, hook := test.NewNullLogger()
	db, err := storage.Open(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	now := time.Now()
	require.NoError(t, db.RecordRun(ctx, pipeline.Run{ID: "expired", StartedAt: now.Add(-72 * time.Hour)}))
	require.NoError(t, db.RecordRun(ctx, pipeline.Run{ID: "recent", StartedAt: now}))

	assert.Equal(t, int64(1), pruneOnce(ctx, db, now.Add(-24*time.Hour), logger))
	assert.Equal(t, "Pruned run history", hook.LastEntry().Message)

	_, err = db.GetRun(ctx, "expired")
	assert.ErrorIs(t, err, storage.ErrRunNotFound)
	_, err = db.GetRun(ctx, "recent")
	assert.NoError(t, err)
}

func TestPruneOnceLogsFailures(t *testing.T) {
	logger, hook := test.NewNullLogger()

	assert.Zero(t, pruneOnce(context.Background(), failingPruner{}, time.Now(), logger))
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestPruneRunsStopsWithContext(t *testing.T) {
	logger, _ := test.NewNullLogger()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		pruneRuns(ctx, failingPruner{}, time.Hour, logger)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pruneRuns did not return after cancellation")
	}
}

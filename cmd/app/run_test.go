package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"

	"image-pipeline/internal/imageio"
	"image-pipeline/internal/pipeline"
)

func TestWriteSnapshots(t *testing.T) {
	logger, _ := test.NewNullLogger()
	codec := imageio.NewCodec(logger)

	result := &pipeline.Result{
		Image: gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3),
		Snapshots: map[string]gocv.Mat{
			"0":  gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC3),
			"12": gocv.NewMatWithSize(4, 4, gocv.MatTypeCV8UC1),
		},
	}
	defer result.Close()

	dir := filepath.Join(t.TempDir(), "previews")
	require.NoError(t, writeSnapshots(codec, result, dir))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{"step-00.png", "step-12.png"}, names)
}

func TestWriteSnapshotsRejectsBadKey(t *testing.T) {
	logger, _ := test.NewNullLogger()
	result := &pipeline.Result{
		Image:     gocv.NewMatWithSize(2, 2, gocv.MatTypeCV8UC3),
		Snapshots: map[string]gocv.Mat{"final": gocv.NewMatWithSize(2, 2, gocv.MatTypeCV8UC3)},
	}
	defer result.Close()

	assert.Error(t, writeSnapshots(imageio.NewCodec(logger), result, t.TempDir()))
}

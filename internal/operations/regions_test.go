package operations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-pipeline/internal/params"
)

func TestKMeansWithTwoClustersKeepsTwoColorImage(t *testing.T) {
	src := testImage(t)

	out, err := TransformFunc(processKMeans).Process(src, params.Values{"clusters": 2.0})
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, src.ToBytes(), out.ToBytes())
}

func TestMeanShiftLimitsPalette(t *testing.T) {
	src := testImage(t)

	out, err := TransformFunc(processMeanShift).Process(src, params.Values{"max_clusters": 2.0})
	require.NoError(t, err)
	defer out.Close()

	colors := map[[3]uint8]bool{}
	pixels := out.ToBytes()
	for i := 0; i+2 < len(pixels); i += 3 {
		colors[[3]uint8{pixels[i], pixels[i+1], pixels[i+2]}] = true
	}
	assert.LessOrEqual(t, len(colors), 2)
}

func TestGrabCutRejectsOversizedMargin(t *testing.T) {
	src := testImage(t)

	_, err := TransformFunc(processGrabCut).Process(src, params.Values{"margin": 40.0, "iterations": 1.0})
	assert.ErrorContains(t, err, "leaves no region")
}

func TestGrabCutBlacksOutBorder(t *testing.T) {
	src := testImage(t)

	out, err := TransformFunc(processGrabCut).Process(src, params.Values{"margin": 10.0, "iterations": 2.0})
	require.NoError(t, err)
	defer out.Close()

	// Pixels outside the rectangle are sure background
	assert.Equal(t, []uint8{0, 0, 0}, out.GetVecbAt(0, 0)[:3])
	assert.Equal(t, []uint8{0, 0, 0}, out.GetVecbAt(63, 63)[:3])
}

func TestWatershedKeepsSize(t *testing.T) {
	src := testImage(t)

	out, err := TransformFunc(processWatershed).Process(src, params.Values{"foreground_threshold": 20.0})
	require.NoError(t, err)
	defer out.Close()

	assert.Equal(t, src.Rows(), out.Rows())
	assert.Equal(t, src.Cols(), out.Cols())
	assert.Equal(t, 3, out.Channels())
}

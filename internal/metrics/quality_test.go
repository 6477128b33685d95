package metrics

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func solid(value float64, rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(value, value, value, 0), rows, cols, gocv.MatTypeCV8UC3)
}

func TestIdenticalRasters(t *testing.T) {
	a := solid(120, 16, 16)
	defer a.Close()
	b := a.Clone()
	defer b.Close()

	scores := NewEvaluator().EvaluateStep(a, b)

	assert.Equal(t, maxPSNR, scores["psnr"])
	assert.InDelta(t, 0, scores["mse"], 1e-9)
	assert.InDelta(t, 1, scores["ssim"], 1e-6)
}

func TestMSEOfConstantOffset(t *testing.T) {
	a := solid(100, 8, 8)
	defer a.Close()
	b := solid(110, 8, 8)
	defer b.Close()

	mse, err := MSE{}.Calculate(a, b)
	require.NoError(t, err)
	assert.InDelta(t, 100, mse, 1)

	psnr, err := PSNR{}.Calculate(a, b)
	require.NoError(t, err)
	assert.Less(t, psnr, maxPSNR)
	assert.Greater(t, psnr, 20.0)
}

func TestDimensionMismatchIsOmitted(t *testing.T) {
	a := solid(100, 8, 8)
	defer a.Close()
	b := solid(100, 8, 16)
	defer b.Close()

	_, err := SSIM{}.Calculate(a, b)
	assert.ErrorIs(t, err, errDimensionMismatch)
	assert.Empty(t, NewEvaluator().EvaluateStep(a, b))
}

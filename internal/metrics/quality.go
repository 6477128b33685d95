// Image quality scores between consecutive pipeline rasters, and
// Prometheus collectors for the engine
package metrics

import (
	"errors"
	"fmt"
	"math"

	"gocv.io/x/gocv"
)

// maxPSNR caps identical rasters so scores stay JSON encodable
const maxPSNR = 100.0

var errDimensionMismatch = errors.New("dimension mismatch")

// Metric scores how much processed differs from original
type Metric interface {
	Calculate(original, processed gocv.Mat) (float64, error)
	Name() string
}

// Evaluator computes a fixed set of metrics
type Evaluator struct {
	metrics []Metric
}

func NewEvaluator() *Evaluator {
	return &Evaluator{metrics: []Metric{PSNR{}, SSIM{}, MSE{}}}
}

// EvaluateStep scores one step's output against its input. Metrics that
// cannot be computed, for example after a resize, are left out.
func (e *Evaluator) EvaluateStep(before, after gocv.Mat) map[string]float64 {
	scores := make(map[string]float64, len(e.metrics))
	for _, metric := range e.metrics {
		if value, err := metric.Calculate(before, after); err == nil {
			scores[metric.Name()] = value
		}
	}
	return scores
}

// PSNR is the peak signal to noise ratio in dB
type PSNR struct{}

func (PSNR) Name() string { return "psnr" }

func (PSNR) Calculate(original, processed gocv.Mat) (float64, error) {
	mse, err := MSE{}.Calculate(original, processed)
	if err != nil {
		return 0, err
	}
	if mse == 0 {
		return maxPSNR, nil
	}
	return math.Min(20*math.Log10(255/math.Sqrt(mse)), maxPSNR), nil
}

// MSE is the mean squared error over grey levels
type MSE struct{}

func (MSE) Name() string { return "mse" }

func (MSE) Calculate(original, processed gocv.Mat) (float64, error) {
	f1, f2, err := floatPair(original, processed)
	if err != nil {
		return 0, err
	}
	defer f1.Close()
	defer f2.Close()

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.Subtract(f1, f2, &diff)

	diffSq := gocv.NewMat()
	defer diffSq.Close()
	gocv.Multiply(diff, diff, &diffSq)

	return diffSq.Mean().Val1, nil
}

// SSIM is the global structural similarity index
type SSIM struct{}

func (SSIM) Name() string { return "ssim" }

func (SSIM) Calculate(original, processed gocv.Mat) (float64, error) {
	f1, f2, err := floatPair(original, processed)
	if err != nil {
		return 0, err
	}
	defer f1.Close()
	defer f2.Close()

	// (0.01 * 255)^2 and (0.03 * 255)^2
	const c1, c2 = 6.5025, 58.5225

	mu1 := f1.Mean().Val1
	mu2 := f2.Mean().Val1

	f1Sq, f2Sq, f1f2 := gocv.NewMat(), gocv.NewMat(), gocv.NewMat()
	defer f1Sq.Close()
	defer f2Sq.Close()
	defer f1f2.Close()
	gocv.Multiply(f1, f1, &f1Sq)
	gocv.Multiply(f2, f2, &f2Sq)
	gocv.Multiply(f1, f2, &f1f2)

	sigma1Sq := f1Sq.Mean().Val1 - mu1*mu1
	sigma2Sq := f2Sq.Mean().Val1 - mu2*mu2
	sigma12 := f1f2.Mean().Val1 - mu1*mu2

	num := (2*mu1*mu2 + c1) * (2*sigma12 + c2)
	den := (mu1*mu1 + mu2*mu2 + c1) * (sigma1Sq + sigma2Sq + c2)
	if den == 0 {
		return 1.0, nil
	}
	return num / den, nil
}

// floatPair returns single channel float copies of both rasters
func floatPair(original, processed gocv.Mat) (gocv.Mat, gocv.Mat, error) {
	if original.Empty() || processed.Empty() {
		return gocv.Mat{}, gocv.Mat{}, fmt.Errorf("empty images")
	}
	if original.Rows() != processed.Rows() || original.Cols() != processed.Cols() {
		return gocv.Mat{}, gocv.Mat{}, errDimensionMismatch
	}
	return grayFloat(original), grayFloat(processed), nil
}

func grayFloat(m gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	switch m.Channels() {
	case 1:
		m.CopyTo(&gray)
	case 4:
		gocv.CvtColor(m, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(m, &gray, gocv.ColorBGRToGray)
	}

	out := gocv.NewMat()
	gray.ConvertTo(&out, gocv.MatTypeCV32F)
	return out
}

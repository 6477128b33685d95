package operations

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

// processOtsu segments the gray levels into 2 to 4 classes. Levels above two
// split the brighter class again with its own Otsu threshold.
func processOtsu(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	levels := min(max(params.Int(values, "levels", 2), 2), 4)
	maxValue := math.Min(math.Max(params.Float(values, "max_value", 255), 0), 255)

	gray := toGray(src)
	defer gray.Close()
	pixels := gray.ToBytes()

	hist := normalizedHistogram(pixels)
	first, _ := otsuThreshold(hist, 0, 256)
	thresholds := []int{first}
	for len(thresholds) < levels-1 {
		next, ok := otsuThreshold(hist, thresholds[len(thresholds)-1]+1, 256)
		if !ok {
			break
		}
		thresholds = append(thresholds, next)
	}

	lut := make([]uint8, 256)
	for v := range lut {
		class := 0
		for _, t := range thresholds {
			if v > t {
				class++
			}
		}
		lut[v] = clampByte(float64(class) * maxValue / float64(len(thresholds)))
	}

	out := make([]byte, len(pixels))
	for i, p := range pixels {
		out[i] = lut[p]
	}
	segmented, err := matFromBytes(gray.Rows(), gray.Cols(), gocv.MatTypeCV8UC1, out)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer segmented.Close()
	return toBGR(segmented), nil
}

func normalizedHistogram(pixels []byte) []float64 {
	hist := make([]float64, 256)
	for _, p := range pixels {
		hist[p]++
	}
	total := float64(len(pixels))
	for i := range hist {
		hist[i] /= total
	}
	return hist
}

// otsuThreshold maximises between-class variance over hist[lo:hi]. It
// reports false when the range holds fewer than two distinct levels.
func otsuThreshold(hist []float64, lo, hi int) (int, bool) {
	var weight, sum float64
	for i := lo; i < hi; i++ {
		weight += hist[i]
		sum += float64(i) * hist[i]
	}
	if weight == 0 {
		return lo, false
	}

	var (
		wB, sumB float64
		best     float64
		level    = lo
	)
	for t := lo; t < hi; t++ {
		wB += hist[t]
		if wB == 0 {
			continue
		}
		wF := weight - wB
		if wF <= 0 {
			break
		}
		sumB += float64(t) * hist[t]
		mB := sumB / wB
		mF := (sum - sumB) / wF
		between := wB * wF * (mB - mF) * (mB - mF)
		if between > best {
			best = between
			level = t
		}
	}
	return level, best > 0
}

// integral holds summed-area tables of pixel values and their squares,
// padded with a leading zero row and column.
type integral struct {
	width, height int
	sum, sumSq    []float64
}

func newIntegral(pixels []byte, width, height int) *integral {
	stride := width + 1
	in := &integral{
		width:  width,
		height: height,
		sum:    make([]float64, stride*(height+1)),
		sumSq:  make([]float64, stride*(height+1)),
	}
	for y := 0; y < height; y++ {
		var rowSum, rowSumSq float64
		for x := 0; x < width; x++ {
			v := float64(pixels[y*width+x])
			rowSum += v
			rowSumSq += v * v
			i := (y+1)*stride + x + 1
			in.sum[i] = in.sum[i-stride] + rowSum
			in.sumSq[i] = in.sumSq[i-stride] + rowSumSq
		}
	}
	return in
}

// stats returns mean and standard deviation of the window centred on (x, y)
func (in *integral) stats(x, y, half int) (float64, float64) {
	x1, y1 := max(x-half, 0), max(y-half, 0)
	x2, y2 := min(x+half, in.width-1)+1, min(y+half, in.height-1)+1
	stride := in.width + 1

	area := float64((x2 - x1) * (y2 - y1))
	sum := in.sum[y2*stride+x2] - in.sum[y1*stride+x2] - in.sum[y2*stride+x1] + in.sum[y1*stride+x1]
	sumSq := in.sumSq[y2*stride+x2] - in.sumSq[y1*stride+x2] - in.sumSq[y2*stride+x1] + in.sumSq[y1*stride+x1]

	mean := sum / area
	variance := sumSq/area - mean*mean
	if variance < 0 {
		variance = 0
	}
	return mean, math.Sqrt(variance)
}

// processLocalThreshold binarises with a per-pixel threshold derived from the
// mean and deviation of the surrounding window.
//
//	niblack: T = m - k*s
//	sauvola: T = m * (1 + k*(s/R - 1)), R = 128
//	wolf:    T = (1-k)*m + k*M + k*(s/Smax)*(m - M), M = darkest pixel
func processLocalThreshold(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	method := params.String(values, "method", "sauvola")
	window := oddAtLeast(params.Int(values, "window_size", 15), 3)
	k := params.Float(values, "k", 0.2)

	gray := toGray(src)
	defer gray.Close()

	width, height := gray.Cols(), gray.Rows()
	pixels := gray.ToBytes()
	in := newIntegral(pixels, width, height)
	half := window / 2

	means := make([]float64, len(pixels))
	devs := make([]float64, len(pixels))
	maxDev := 0.0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			i := y*width + x
			means[i], devs[i] = in.stats(x, y, half)
			maxDev = math.Max(maxDev, devs[i])
		}
	}

	var threshold func(i int) float64
	switch method {
	case "niblack":
		threshold = func(i int) float64 { return means[i] - k*devs[i] }
	case "sauvola":
		const r = 128.0
		threshold = func(i int) float64 { return means[i] * (1 + k*(devs[i]/r-1)) }
	case "wolf":
		darkest := 255.0
		for _, p := range pixels {
			darkest = math.Min(darkest, float64(p))
		}
		if maxDev == 0 {
			maxDev = 1
		}
		threshold = func(i int) float64 {
			return (1-k)*means[i] + k*darkest + k*(devs[i]/maxDev)*(means[i]-darkest)
		}
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported local threshold method: %s", method)
	}

	out := make([]byte, len(pixels))
	for i, p := range pixels {
		if float64(p) > threshold(i) {
			out[i] = 255
		}
	}
	binary, err := matFromBytes(height, width, gocv.MatTypeCV8UC1, out)
	if err != nil {
		return gocv.NewMat(), err
	}
	defer binary.Close()
	return toBGR(binary), nil
}

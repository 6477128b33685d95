package operations

import (
	"errors"
	"fmt"
	"image/color"
	"runtime"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

var errEmptyInput = errors.New("input image is empty")

var (
	colorGreen = color.RGBA{G: 255}
	colorRed   = color.RGBA{R: 255}
)

// TransformFunc adapts a plain function to a stateless Transform
type TransformFunc func(src gocv.Mat, values params.Values) (gocv.Mat, error)

func (f TransformFunc) Process(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), errEmptyInput
	}
	return f(src, values)
}

func stateless(f TransformFunc) Factory {
	return func() Transform { return f }
}

// toGray returns a single channel copy of src
func toGray(src gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	switch src.Channels() {
	case 1:
		src.CopyTo(&gray)
	case 4:
		gocv.CvtColor(src, &gray, gocv.ColorBGRAToGray)
	default:
		gocv.CvtColor(src, &gray, gocv.ColorBGRToGray)
	}
	return gray
}

// toBGR returns a three channel copy of src
func toBGR(src gocv.Mat) gocv.Mat {
	bgr := gocv.NewMat()
	switch src.Channels() {
	case 1:
		gocv.CvtColor(src, &bgr, gocv.ColorGrayToBGR)
	case 4:
		gocv.CvtColor(src, &bgr, gocv.ColorBGRAToBGR)
	default:
		src.CopyTo(&bgr)
	}
	return bgr
}

// oddAtLeast rounds n up to the next odd number not below min
func oddAtLeast(n, min int) int {
	if n < min {
		n = min
	}
	if n%2 == 0 {
		n++
	}
	return n
}

func clampByte(v float64) uint8 {
	switch {
	case v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v + 0.5)
	}
}

// matFromBytes builds a Mat that owns a copy of data
func matFromBytes(rows, cols int, typ gocv.MatType, data []byte) (gocv.Mat, error) {
	view, err := gocv.NewMatFromBytes(rows, cols, typ, data)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to wrap pixel buffer: %w", err)
	}
	defer view.Close()

	out := view.Clone()
	runtime.KeepAlive(data)
	return out, nil
}

func closeAll(mats []gocv.Mat) {
	for i := range mats {
		mats[i].Close()
	}
}

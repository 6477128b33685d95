package operations

import (
	"cmp"
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

var errCascadeNotFound = errors.New("cascade classifier not found")

// DefaultCascadeDir is where distribution packages install the OpenCV Haar
// cascades. The haar_cascade kind falls back to it when cascade_dir is empty.
const DefaultCascadeDir = "/usr/share/opencv4/haarcascades"

var cascadeFiles = map[string]string{
	"face":  "haarcascade_frontalface_default.xml",
	"eye":   "haarcascade_eye.xml",
	"smile": "haarcascade_smile.xml",
	"body":  "haarcascade_fullbody.xml",
}

func processCornerDetection(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	method := params.String(values, "method", "harris")
	threshold := params.Float(values, "threshold", 10)

	gray := toGray(src)
	defer gray.Close()

	switch method {
	case "harris":
		k := params.Float(values, "k", 5) / 100
		return harrisCorners(gray, src, threshold/100, k)
	case "fast":
		fast := gocv.NewFastFeatureDetectorWithParams(int(threshold), true, gocv.FastFeatureDetectorType9To16)
		defer fast.Close()

		output := toBGR(src)
		drawKeyPoints(&output, fast.Detect(gray), colorRed, false)
		return output, nil
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported corner detection method: %s", method)
	}
}

// harrisCorners paints every pixel whose 3x3 neighborhood holds a Harris
// response above ratio times the strongest response.
func harrisCorners(gray, src gocv.Mat, ratio, k float64) (gocv.Mat, error) {
	floatGray := gocv.NewMat()
	defer floatGray.Close()
	gray.ConvertTo(&floatGray, gocv.MatTypeCV32F)

	dx := gocv.NewMat()
	defer dx.Close()
	dy := gocv.NewMat()
	defer dy.Close()
	gocv.Sobel(floatGray, &dx, gocv.MatTypeCV32F, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(floatGray, &dy, gocv.MatTypeCV32F, 0, 1, 3, 1, 0, gocv.BorderDefault)

	ix, err := dx.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to read gradients: %w", err)
	}
	iy, err := dy.DataPtrFloat32()
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("failed to read gradients: %w", err)
	}

	rows, cols := gray.Rows(), gray.Cols()
	response := make([]float64, rows*cols)
	strongest := math.Inf(-1)
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			// 2x2 block
			var sxx, syy, sxy float64
			for by := y; by < min(y+2, rows); by++ {
				for bx := x; bx < min(x+2, cols); bx++ {
					gx, gy := float64(ix[by*cols+bx]), float64(iy[by*cols+bx])
					sxx += gx * gx
					syy += gy * gy
					sxy += gx * gy
				}
			}
			trace := sxx + syy
			r := sxx*syy - sxy*sxy - k*trace*trace
			response[y*cols+x] = r
			strongest = math.Max(strongest, r)
		}
	}

	output := toBGR(src)
	if strongest <= 0 {
		return output, nil
	}
	pixels := output.ToBytes()
	limit := ratio * strongest
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if response[y*cols+x] <= limit {
				continue
			}
			for ny := max(y-1, 0); ny <= min(y+1, rows-1); ny++ {
				for nx := max(x-1, 0); nx <= min(x+1, cols-1); nx++ {
					i := (ny*cols + nx) * 3
					pixels[i], pixels[i+1], pixels[i+2] = 0, 0, 255
				}
			}
		}
	}
	output.Close()
	return matFromBytes(rows, cols, gocv.MatTypeCV8UC3, pixels)
}

func processSIFT(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	maxFeatures := max(params.Int(values, "max_features", 100), 1)
	contrast := params.Float(values, "contrast_threshold", 10) / 100
	edge := math.Max(params.Float(values, "edge_threshold", 10), 1)

	gray := toGray(src)
	defer gray.Close()

	sift := gocv.NewSIFT()
	defer sift.Close()

	smooth := gocv.NewMat()
	defer smooth.Close()
	gocv.GaussianBlur(gray, &smooth, image.Pt(0, 0), 1.6, 1.6, gocv.BorderDefault)

	// SIFT's own contrast cut is divided across its three octave layers
	var kept []gocv.KeyPoint
	for _, kp := range sift.Detect(gray) {
		if kp.Response >= contrast/3 && !onEdge(smooth, kp, edge) {
			kept = append(kept, kp)
		}
	}
	kept = strongestKeyPoints(kept, maxFeatures)

	output := toBGR(src)
	drawKeyPoints(&output, kept, colorGreen, true)
	return output, nil
}

func processORB(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	maxFeatures := max(params.Int(values, "max_features", 500), 1)
	levels := max(params.Int(values, "scale_levels", 8), 1)

	gray := toGray(src)
	defer gray.Close()

	orb := gocv.NewORBWithParams(maxFeatures, 1.2, levels, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	defer orb.Close()

	output := toBGR(src)
	drawKeyPoints(&output, orb.Detect(gray), colorGreen, false)
	return output, nil
}

// processBlobDetection finds dark blobs on the Otsu-binarized image and keeps
// those whose area and circularity fall inside the configured bounds.
func processBlobDetection(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	minArea := params.Float(values, "min_area", 100)
	maxArea := params.Float(values, "max_area", 5000)
	filterCircularity := strings.EqualFold(params.String(values, "filter_circularity", "True"), "true")
	minCircularity := params.Float(values, "min_circularity", 80) / 100

	gray := toGray(src)
	defer gray.Close()

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxNone)
	defer contours.Close()

	output := toBGR(src)
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		area := gocv.ContourArea(contour)
		if area < minArea || area > maxArea {
			continue
		}
		if filterCircularity {
			perimeter := gocv.ArcLength(contour, true)
			if perimeter == 0 || 4*math.Pi*area/(perimeter*perimeter) < minCircularity {
				continue
			}
		}
		box := gocv.BoundingRect(contour)
		center := image.Pt(box.Min.X+box.Dx()/2, box.Min.Y+box.Dy()/2)
		gocv.Circle(&output, center, max(box.Dx(), box.Dy())/2, colorGreen, 2)
	}
	return output, nil
}

func processGoodFeatures(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	maxCorners := max(params.Int(values, "max_corners", 50), 1)
	quality := params.Float(values, "quality_level", 1) / 100
	minDistance := params.Float(values, "min_distance", 10)

	gray := toGray(src)
	defer gray.Close()

	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(gray, &corners, maxCorners, quality, minDistance)

	output := toBGR(src)
	for i := 0; i < corners.Rows(); i++ {
		center := image.Pt(int(corners.GetFloatAt(i, 0)), int(corners.GetFloatAt(i, 1)))
		gocv.Circle(&output, center, 3, colorGreen, -1)
	}
	return output, nil
}

// onEdge rejects keypoints whose ratio of principal curvatures, measured on
// the smoothed image, exceeds ratio.
func onEdge(smooth gocv.Mat, kp gocv.KeyPoint, ratio float64) bool {
	x, y := int(math.Round(kp.X)), int(math.Round(kp.Y))
	if x < 1 || y < 1 || x >= smooth.Cols()-1 || y >= smooth.Rows()-1 {
		return false
	}
	at := func(dy, dx int) float64 { return float64(smooth.GetUCharAt(y+dy, x+dx)) }

	dxx := at(0, 1) + at(0, -1) - 2*at(0, 0)
	dyy := at(1, 0) + at(-1, 0) - 2*at(0, 0)
	dxy := (at(1, 1) - at(1, -1) - at(-1, 1) + at(-1, -1)) / 4
	trace, det := dxx+dyy, dxx*dyy-dxy*dxy
	if det <= 0 {
		return det < 0
	}
	return trace*trace/det >= (ratio+1)*(ratio+1)/ratio
}

// strongestKeyPoints keeps the n keypoints with the highest response
func strongestKeyPoints(kps []gocv.KeyPoint, n int) []gocv.KeyPoint {
	slices.SortStableFunc(kps, func(a, b gocv.KeyPoint) int {
		return cmp.Compare(b.Response, a.Response)
	})
	return kps[:min(n, len(kps))]
}

// drawKeyPoints marks each keypoint with a small circle, or with a circle of
// the keypoint's size and its orientation when rich is set.
func drawKeyPoints(dst *gocv.Mat, kps []gocv.KeyPoint, c color.RGBA, rich bool) {
	for _, kp := range kps {
		center := image.Pt(int(math.Round(kp.X)), int(math.Round(kp.Y)))
		if !rich {
			gocv.Circle(dst, center, 3, c, 1)
			continue
		}
		radius := max(int(math.Round(kp.Size/2)), 1)
		gocv.Circle(dst, center, radius, c, 1)
		if kp.Angle >= 0 {
			angle := kp.Angle * math.Pi / 180
			tip := image.Pt(
				center.X+int(math.Round(float64(radius)*math.Cos(angle))),
				center.Y+int(math.Round(float64(radius)*math.Sin(angle))),
			)
			gocv.Line(dst, center, tip, c, 1)
		}
	}
}

// haarCascade keeps every classifier it has loaded, keyed by file path
type haarCascade struct {
	classifiers map[string]*gocv.CascadeClassifier
}

func newHaarCascade() Transform {
	return &haarCascade{classifiers: map[string]*gocv.CascadeClassifier{}}
}

func (h *haarCascade) Process(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), errEmptyInput
	}

	detector := params.String(values, "detector", "face")
	scale := math.Max(params.Float(values, "scale_factor", 1.1), 1.01)
	minNeighbors := max(params.Int(values, "min_neighbors", 5), 0)

	classifier, err := h.classifier(params.String(values, "cascade_dir", ""), detector)
	if err != nil {
		return gocv.NewMat(), err
	}

	gray := toGray(src)
	defer gray.Close()

	output := toBGR(src)
	for _, r := range classifier.DetectMultiScaleWithParams(gray, scale, minNeighbors, 0, image.Pt(30, 30), image.Point{}) {
		gocv.Rectangle(&output, r, colorGreen, 2)
	}
	return output, nil
}

func (h *haarCascade) classifier(dir, detector string) (*gocv.CascadeClassifier, error) {
	file, ok := cascadeFiles[detector]
	if !ok {
		return nil, fmt.Errorf("unsupported cascade detector: %s", detector)
	}
	if dir == "" {
		dir = DefaultCascadeDir
	}
	path := filepath.Join(dir, file)
	if c, ok := h.classifiers[path]; ok {
		return c, nil
	}

	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: %s", errCascadeNotFound, path)
	}
	c := gocv.NewCascadeClassifier()
	if !c.Load(path) {
		c.Close()
		return nil, fmt.Errorf("%w: %s could not be loaded", errCascadeNotFound, path)
	}
	h.classifiers[path] = &c
	return &c, nil
}

func (h *haarCascade) Close() error {
	var errs []error
	for path, c := range h.classifiers {
		errs = append(errs, c.Close())
		delete(h.classifiers, path)
	}
	return errors.Join(errs...)
}

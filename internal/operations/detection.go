package operations

import (
	"errors"
	"fmt"
	"image"
	"os"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

var errTemplateNotFound = errors.New("template image not found")

func processTemplateMatching(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	path := params.String(values, "template_path", "")
	threshold := float32(params.Float(values, "threshold", 0.8))

	if path == "" {
		return gocv.NewMat(), errTemplateNotFound
	}
	if _, err := os.Stat(path); err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %s", errTemplateNotFound, path)
	}

	template := gocv.IMRead(path, gocv.IMReadGrayScale)
	defer template.Close()
	if template.Empty() {
		return gocv.NewMat(), fmt.Errorf("%w: %s is not a readable image", errTemplateNotFound, path)
	}

	gray := toGray(src)
	defer gray.Close()

	if template.Cols() > gray.Cols() || template.Rows() > gray.Rows() {
		return gocv.NewMat(), fmt.Errorf("template %dx%d is larger than image %dx%d",
			template.Cols(), template.Rows(), gray.Cols(), gray.Rows())
	}

	scores := gocv.NewMat()
	defer scores.Close()
	mask := gocv.NewMat()
	defer mask.Close()
	gocv.MatchTemplate(gray, template, &scores, gocv.TmCcoeffNormed, mask)

	output := toBGR(src)
	w, h := template.Cols(), template.Rows()
	for y := 0; y < scores.Rows(); y++ {
		for x := 0; x < scores.Cols(); x++ {
			if scores.GetFloatAt(y, x) >= threshold {
				gocv.Rectangle(&output, image.Rect(x, y, x+w, y+h), colorGreen, 2)
			}
		}
	}
	return output, nil
}

// backgroundSubtraction keeps one subtractor per method. Models are built on
// the first frame of a given size and discarded when the size changes.
type backgroundSubtraction struct {
	mog2 *gocv.BackgroundSubtractorMOG2
	knn  *gocv.BackgroundSubtractorKNN
	size image.Point
}

func newBackgroundSubtraction() Transform {
	return &backgroundSubtraction{}
}

func (b *backgroundSubtraction) Process(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), errEmptyInput
	}

	method := params.String(values, "method", "mog2")
	threshold := params.Float(values, "threshold", 127)
	minArea := params.Float(values, "min_area", 500)

	frame := toBGR(src)
	defer frame.Close()

	size := image.Pt(frame.Cols(), frame.Rows())
	if size != b.size {
		b.Reset()
		b.size = size
	}

	foreground := gocv.NewMat()
	defer foreground.Close()

	switch method {
	case "mog2":
		if b.mog2 == nil {
			subtractor := gocv.NewBackgroundSubtractorMOG2()
			b.mog2 = &subtractor
			b.mog2.Apply(frame, &foreground)
			return frame.Clone(), nil
		}
		b.mog2.Apply(frame, &foreground)
	case "knn":
		if b.knn == nil {
			subtractor := gocv.NewBackgroundSubtractorKNN()
			b.knn = &subtractor
			b.knn.Apply(frame, &foreground)
			return frame.Clone(), nil
		}
		b.knn.Apply(frame, &foreground)
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported background subtraction method: %s", method)
	}

	mask := gocv.NewMat()
	defer mask.Close()
	gocv.Threshold(foreground, &mask, float32(threshold), 255, gocv.ThresholdBinary)

	// Remove speckle before looking for blobs
	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()
	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(mask, &opened, gocv.MorphOpen, kernel)

	contours := gocv.FindContours(opened, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	output := frame.Clone()
	for i := 0; i < contours.Size(); i++ {
		contour := contours.At(i)
		if gocv.ContourArea(contour) > minArea {
			gocv.Rectangle(&output, gocv.BoundingRect(contour), colorGreen, 2)
		}
	}
	return output, nil
}

func (b *backgroundSubtraction) Reset() {
	if b.mog2 != nil {
		b.mog2.Close()
		b.mog2 = nil
	}
	if b.knn != nil {
		b.knn.Close()
		b.knn = nil
	}
	b.size = image.Point{}
}

func (b *backgroundSubtraction) Close() error {
	b.Reset()
	return nil
}

// flowState is the previous frame and the points tracked on it
type flowState struct {
	prev   gocv.Mat
	points gocv.Mat
}

func (s *flowState) close() {
	s.prev.Close()
	s.points.Close()
}

// opticalFlow tracks corners between consecutive frames with pyramidal
// Lucas-Kanade. The first frame, and any frame whose size differs from the
// previous one, only seeds the tracker.
type opticalFlow struct {
	state *flowState
}

func newOpticalFlow() Transform {
	return &opticalFlow{}
}

func (o *opticalFlow) Process(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	if src.Empty() {
		return gocv.NewMat(), errEmptyInput
	}

	maxCorners := max(params.Int(values, "max_corners", 100), 1)
	gray := toGray(src)

	if o.state == nil || o.state.points.Empty() ||
		o.state.prev.Cols() != gray.Cols() || o.state.prev.Rows() != gray.Rows() {
		o.seed(gray, maxCorners)
		return src.Clone(), nil
	}

	next := gocv.NewMat()
	defer next.Close()
	status := gocv.NewMat()
	defer status.Close()
	trackErr := gocv.NewMat()
	defer trackErr.Close()
	gocv.CalcOpticalFlowPyrLK(o.state.prev, gray, o.state.points, next, &status, &trackErr)

	type track struct{ from, to image.Point }
	var tracks []track
	var kept [][2]float32
	for i := 0; i < status.Rows(); i++ {
		if status.GetUCharAt(i, 0) != 1 {
			continue
		}
		x, y := next.GetFloatAt(i, 0), next.GetFloatAt(i, 1)
		kept = append(kept, [2]float32{x, y})
		tracks = append(tracks, track{
			from: image.Pt(int(o.state.points.GetFloatAt(i, 0)), int(o.state.points.GetFloatAt(i, 1))),
			to:   image.Pt(int(x), int(y)),
		})
	}

	output := toBGR(src)
	for _, t := range tracks {
		gocv.Line(&output, t.to, t.from, colorGreen, 2)
		gocv.Circle(&output, t.to, 3, colorRed, -1)
	}

	points := gocv.NewMat()
	if len(kept) > 0 {
		points.Close()
		points = gocv.NewMatWithSize(len(kept), 1, gocv.MatTypeCV32FC2)
		for i, p := range kept {
			points.SetFloatAt(i, 0, p[0])
			points.SetFloatAt(i, 1, p[1])
		}
	}

	o.state.close()
	o.state = &flowState{prev: gray, points: points}
	return output, nil
}

// seed takes ownership of gray
func (o *opticalFlow) seed(gray gocv.Mat, maxCorners int) {
	corners := gocv.NewMat()
	gocv.GoodFeaturesToTrack(gray, &corners, maxCorners, 0.01, 10)

	if o.state != nil {
		o.state.close()
	}
	o.state = &flowState{prev: gray, points: corners}
}

func (o *opticalFlow) Reset() {
	if o.state != nil {
		o.state.close()
		o.state = nil
	}
}

func (o *opticalFlow) Close() error {
	o.Reset()
	return nil
}

// Seeded reports whether a previous frame is held
func (o *opticalFlow) Seeded() bool {
	return o.state != nil
}

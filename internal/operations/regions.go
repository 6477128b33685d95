package operations

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

// processWatershed seeds markers from the distance transform of the Otsu
// foreground and paints the resulting region boundaries red.
func processWatershed(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	fraction := params.Float(values, "foreground_threshold", 20) / 100

	bgr := toBGR(src)
	defer bgr.Close()
	gray := toGray(src)
	defer gray.Close()

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(3, 3))
	defer kernel.Close()

	opening := repeatMorph(binary, 2, func(in gocv.Mat, out *gocv.Mat) { gocv.MorphologyEx(in, out, gocv.MorphOpen, kernel) })
	defer opening.Close()
	sureBackground := repeatMorph(opening, 3, func(in gocv.Mat, out *gocv.Mat) { gocv.Dilate(in, out, kernel) })
	defer sureBackground.Close()

	dist := gocv.NewMat()
	defer dist.Close()
	distLabels := gocv.NewMat()
	defer distLabels.Close()
	gocv.DistanceTransform(opening, &dist, &distLabels, gocv.DistL2, gocv.DistanceMask5, gocv.DistanceLabelCComp)

	_, maxDist, _, _ := gocv.MinMaxLoc(dist)
	foreground := gocv.NewMat()
	defer foreground.Close()
	gocv.Threshold(dist, &foreground, float32(fraction)*maxDist, 255, gocv.ThresholdBinary)
	sureForeground := gocv.NewMat()
	defer sureForeground.Close()
	foreground.ConvertTo(&sureForeground, gocv.MatTypeCV8U)

	markers := gocv.NewMat()
	defer markers.Close()
	gocv.ConnectedComponents(sureForeground, &markers)

	// Background becomes label 1, the undecided band label 0
	rows, cols := gray.Rows(), gray.Cols()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			label := markers.GetIntAt(y, x) + 1
			if sureBackground.GetUCharAt(y, x) != 0 && sureForeground.GetUCharAt(y, x) == 0 {
				label = 0
			}
			markers.SetIntAt(y, x, label)
		}
	}
	gocv.Watershed(bgr, &markers)

	pixels := bgr.ToBytes()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			if markers.GetIntAt(y, x) == -1 {
				i := (y*cols + x) * 3
				pixels[i], pixels[i+1], pixels[i+2] = 0, 0, 255
			}
		}
	}
	return matFromBytes(rows, cols, gocv.MatTypeCV8UC3, pixels)
}

// repeatMorph applies op n times and returns a new Mat
func repeatMorph(src gocv.Mat, n int, op func(in gocv.Mat, out *gocv.Mat)) gocv.Mat {
	current := src.Clone()
	for i := 0; i < n; i++ {
		next := gocv.NewMat()
		op(current, &next)
		current.Close()
		current = next
	}
	return current
}

// processGrabCut keeps the pixels GrabCut labels as foreground inside a
// rectangle inset by margin on every side. Everything else turns black.
func processGrabCut(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	margin := max(params.Int(values, "margin", 10), 0)
	iterations := max(params.Int(values, "iterations", 5), 1)

	bgr := toBGR(src)
	defer bgr.Close()

	rows, cols := bgr.Rows(), bgr.Cols()
	rect := image.Rect(margin, margin, cols-margin, rows-margin)
	if rect.Dx() <= 0 || rect.Dy() <= 0 {
		return gocv.NewMat(), fmt.Errorf("margin %d leaves no region inside a %dx%d image", margin, cols, rows)
	}

	mask := gocv.NewMatWithSize(rows, cols, gocv.MatTypeCV8U)
	defer mask.Close()
	bgdModel := gocv.NewMat()
	defer bgdModel.Close()
	fgdModel := gocv.NewMat()
	defer fgdModel.Close()
	gocv.GrabCut(bgr, &mask, rect, &bgdModel, &fgdModel, iterations, gocv.GCInitWithRect)

	pixels := bgr.ToBytes()
	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			// 1 is foreground, 3 probable foreground
			if label := mask.GetUCharAt(y, x); label == 1 || label == 3 {
				continue
			}
			i := (y*cols + x) * 3
			pixels[i], pixels[i+1], pixels[i+2] = 0, 0, 0
		}
	}
	return matFromBytes(rows, cols, gocv.MatTypeCV8UC3, pixels)
}

func processKMeans(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	return quantizeColors(src, params.Int(values, "clusters", 5), 0.2)
}

// processMeanShift flattens colors into at most max_clusters modes using the
// same clustering as kmeans_segment with a tighter convergence epsilon.
func processMeanShift(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	return quantizeColors(src, params.Int(values, "max_clusters", 8), 0.1)
}

// quantizeColors replaces every pixel by the center of its k-means cluster
func quantizeColors(src gocv.Mat, k int, epsilon float64) (gocv.Mat, error) {
	bgr := toBGR(src)
	defer bgr.Close()

	rows, cols := bgr.Rows(), bgr.Cols()
	k = min(max(k, 1), rows*cols)

	flat := bgr.Reshape(1, rows*cols)
	defer flat.Close()
	samples := gocv.NewMat()
	defer samples.Close()
	flat.ConvertTo(&samples, gocv.MatTypeCV32F)

	labels := gocv.NewMat()
	defer labels.Close()
	centers := gocv.NewMat()
	defer centers.Close()
	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, 100, epsilon)
	gocv.KMeans(samples, k, &labels, criteria, 10, gocv.KMeansRandomCenters, &centers)

	palette := make([][3]uint8, centers.Rows())
	for c := range palette {
		for ch := 0; ch < 3; ch++ {
			palette[c][ch] = clampByte(float64(centers.GetFloatAt(c, ch)))
		}
	}

	pixels := make([]byte, rows*cols*3)
	for i := 0; i < rows*cols; i++ {
		color := palette[labels.GetIntAt(i, 0)]
		copy(pixels[i*3:], color[:])
	}
	return matFromBytes(rows, cols, gocv.MatTypeCV8UC3, pixels)
}

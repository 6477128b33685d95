package operations

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

func processCanny(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	threshold1 := params.Float(values, "threshold1", 100)
	threshold2 := params.Float(values, "threshold2", 200)

	gray := toGray(src)
	defer gray.Close()

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, float32(threshold1), float32(threshold2))

	return toBGR(edges), nil
}

func processAdaptiveThreshold(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	blockSize := oddAtLeast(params.Int(values, "block_size", 11), 3)
	c := params.Float(values, "c", 2)

	adaptive := gocv.AdaptiveThresholdGaussian
	if params.String(values, "method", "gaussian") == "mean" {
		adaptive = gocv.AdaptiveThresholdMean
	}
	thresholdType := gocv.ThresholdBinary
	if params.String(values, "threshold_type", "binary") == "binary_inv" {
		thresholdType = gocv.ThresholdBinaryInv
	}

	gray := toGray(src)
	defer gray.Close()

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.AdaptiveThreshold(gray, &binary, 255, adaptive, thresholdType, blockSize, float32(c))

	return toBGR(binary), nil
}

func processContourDraw(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	threshold := params.Float(values, "threshold", 127)
	thickness := max(params.Int(values, "thickness", 2), 1)

	gray := toGray(src)
	defer gray.Close()

	binary := gocv.NewMat()
	defer binary.Close()
	gocv.Threshold(gray, &binary, float32(threshold), 255, gocv.ThresholdBinary)

	contours := gocv.FindContours(binary, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	output := toBGR(src)
	gocv.DrawContours(&output, contours, -1, colorGreen, thickness)
	return output, nil
}

func processMorphology(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	operation := params.String(values, "operation", "dilate")
	kernelSize := max(params.Int(values, "kernel_size", 3), 1)
	iterations := max(params.Int(values, "iterations", 1), 1)

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()

	var apply func(in gocv.Mat, out *gocv.Mat)
	switch operation {
	case "erode":
		apply = func(in gocv.Mat, out *gocv.Mat) { gocv.Erode(in, out, kernel) }
	case "dilate":
		apply = func(in gocv.Mat, out *gocv.Mat) { gocv.Dilate(in, out, kernel) }
	case "open":
		apply = func(in gocv.Mat, out *gocv.Mat) { gocv.MorphologyEx(in, out, gocv.MorphOpen, kernel) }
	case "close":
		apply = func(in gocv.Mat, out *gocv.Mat) { gocv.MorphologyEx(in, out, gocv.MorphClose, kernel) }
	case "gradient":
		apply = func(in gocv.Mat, out *gocv.Mat) { gocv.MorphologyEx(in, out, gocv.MorphGradient, kernel) }
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported morphology operation: %s", operation)
	}

	output := gocv.NewMat()
	apply(src, &output)

	// Apply multiple iterations if needed
	for i := 1; i < iterations; i++ {
		temp := gocv.NewMat()
		apply(output, &temp)
		output.Close()
		output = temp
	}

	return output, nil
}

var colorSpaces = map[string]gocv.ColorConversionCode{
	"hsv": gocv.ColorBGRToHSV,
	"lab": gocv.ColorBGRToLab,
	"yuv": gocv.ColorBGRToYUV,
	"luv": gocv.ColorBGRToLuv,
}

// processColorSpace shows the converted channels as if they were BGR
func processColorSpace(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	space := params.String(values, "space", "hsv")

	if space == "gray" {
		gray := toGray(src)
		defer gray.Close()
		return toBGR(gray), nil
	}

	code, ok := colorSpaces[space]
	if !ok {
		return gocv.NewMat(), fmt.Errorf("unsupported color space: %s", space)
	}

	bgr := toBGR(src)
	defer bgr.Close()

	output := gocv.NewMat()
	gocv.CvtColor(bgr, &output, code)
	return output, nil
}

func processHistogramEq(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	method := params.String(values, "method", "clahe")
	clipLimit := params.Float(values, "clip_limit", 2)

	bgr := toBGR(src)
	defer bgr.Close()

	var forward, backward gocv.ColorConversionCode
	switch method {
	case "global":
		forward, backward = gocv.ColorBGRToYUV, gocv.ColorYUVToBGR
	case "clahe":
		forward, backward = gocv.ColorBGRToLab, gocv.ColorLabToBGR
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported equalization method: %s", method)
	}

	converted := gocv.NewMat()
	defer converted.Close()
	gocv.CvtColor(bgr, &converted, forward)

	channels := gocv.Split(converted)
	defer closeAll(channels)

	// Only the luminance channel is equalized
	equalized := gocv.NewMat()
	if method == "global" {
		gocv.EqualizeHist(channels[0], &equalized)
	} else {
		clahe := gocv.NewCLAHEWithParams(clipLimit, image.Pt(8, 8))
		clahe.Apply(channels[0], &equalized)
		clahe.Close()
	}
	channels[0].Close()
	channels[0] = equalized

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	output := gocv.NewMat()
	gocv.CvtColor(merged, &output, backward)
	return output, nil
}

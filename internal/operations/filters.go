package operations

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

func processBlur(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	radius := oddAtLeast(params.Int(values, "radius", 5), 1)

	output := gocv.NewMat()
	gocv.GaussianBlur(src, &output, image.Pt(radius, radius), 0, 0, gocv.BorderDefault)
	return output, nil
}

func processSharpen(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	amount := params.Float(values, "amount", 50) / 100

	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	for r := 0; r < 3; r++ {
		for c := 0; c < 3; c++ {
			kernel.SetFloatAt(r, c, float32(-amount))
		}
	}
	kernel.SetFloatAt(1, 1, float32(9*amount))

	sharpened := gocv.NewMat()
	defer sharpened.Close()
	gocv.Filter2D(src, &sharpened, -1, kernel, image.Pt(-1, -1), 0, gocv.BorderDefault)

	output := gocv.NewMat()
	gocv.AddWeighted(src, 1-amount, sharpened, amount, 0, &output)
	return output, nil
}

func processDenoise(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	strength := params.Float(values, "strength", 10)
	method := params.String(values, "method", "non_local_means")

	output := gocv.NewMat()
	switch method {
	case "gaussian":
		gocv.GaussianBlur(src, &output, image.Pt(0, 0), strength*0.5, 0, gocv.BorderDefault)
	case "median":
		ksize := 2*int(strength/10) + 1
		gocv.MedianBlur(src, &output, ksize)
	case "non_local_means":
		bgr := toBGR(src)
		defer bgr.Close()
		h := float32(strength * 0.1)
		gocv.FastNlMeansDenoisingColoredWithParams(bgr, &output, h, h, 7, 21)
	default:
		output.Close()
		return gocv.NewMat(), fmt.Errorf("unsupported denoise method: %s", method)
	}
	return output, nil
}

package operations

import (
	"fmt"
	"math"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

func processGrayscale(src gocv.Mat, _ params.Values) (gocv.Mat, error) {
	gray := toGray(src)
	defer gray.Close()
	return toBGR(gray), nil
}

func processBrightness(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	value := params.Float(values, "value", 0)

	output := gocv.NewMat()
	src.ConvertToWithParams(&output, src.Type(), 1, float32(value))
	return output, nil
}

func processContrast(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	value := params.Float(values, "value", 0)
	if value >= 259 {
		return gocv.NewMat(), fmt.Errorf("contrast value %g out of range", value)
	}

	// Contrast correction factor around mid grey
	factor := (259 * (value + 255)) / (255 * (259 - value))

	output := gocv.NewMat()
	src.ConvertToWithParams(&output, src.Type(), float32(factor), float32(128*(1-factor)))
	return output, nil
}

func processSaturation(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	// -100 removes all colour, 100 doubles it
	factor := (params.Float(values, "value", 0) + 100) / 100
	if factor < 0 {
		factor = 0
	}

	bgr := toBGR(src)
	defer bgr.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	defer closeAll(channels)

	scaled := gocv.NewMat()
	channels[1].ConvertToWithParams(&scaled, channels[1].Type(), float32(factor), 0)
	channels[1].Close()
	channels[1] = scaled

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	output := gocv.NewMat()
	gocv.CvtColor(merged, &output, gocv.ColorHSVToBGR)
	return output, nil
}

func processHue(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	degrees := math.Mod(params.Float(values, "value", 0), 360)
	if degrees < 0 {
		degrees += 360
	}
	// Hue is stored as 0..179 in 8 bit HSV
	shift := int(degrees * 179 / 360)

	bgr := toBGR(src)
	defer bgr.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(bgr, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	defer closeAll(channels)

	lut := gocv.NewMatWithSize(1, 256, gocv.MatTypeCV8UC1)
	defer lut.Close()
	for i := 0; i < 256; i++ {
		v := i
		if i < 180 {
			v = (i + shift) % 180
		}
		lut.SetUCharAt(0, i, uint8(v))
	}

	shifted := gocv.NewMat()
	gocv.LUT(channels[0], lut, &shifted)
	channels[0].Close()
	channels[0] = shifted

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	output := gocv.NewMat()
	gocv.CvtColor(merged, &output, gocv.ColorHSVToBGR)
	return output, nil
}

func processSepia(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	intensity := params.Float(values, "intensity", 100) / 100

	bgr := toBGR(src)
	defer bgr.Close()

	// Rows produce B, G, R from the B, G, R inputs
	coefficients := [3][3]float32{
		{0.131, 0.534, 0.272},
		{0.168, 0.686, 0.349},
		{0.189, 0.769, 0.393},
	}
	kernel := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer kernel.Close()
	for r, row := range coefficients {
		for c, v := range row {
			kernel.SetFloatAt(r, c, v)
		}
	}

	sepia := gocv.NewMat()
	defer sepia.Close()
	gocv.Transform(bgr, &sepia, kernel)

	output := gocv.NewMat()
	gocv.AddWeighted(bgr, 1-intensity, sepia, intensity, 0, &output)
	return output, nil
}

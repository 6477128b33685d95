package operations

import (
	"fmt"
	"math/rand/v2"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

func processAddNoise(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	amount := params.Float(values, "amount", 25) / 100
	kind := params.String(values, "type", "gaussian")

	bgr := toBGR(src)
	defer bgr.Close()

	pixels := bgr.ToBytes()
	switch kind {
	case "gaussian":
		sigma := amount * 0.15 * 255
		for i, p := range pixels {
			pixels[i] = clampByte(float64(p) + rand.NormFloat64()*sigma)
		}
	case "uniform":
		spread := amount * 255
		for i, p := range pixels {
			pixels[i] = clampByte(float64(p) + (rand.Float64()*2-1)*spread)
		}
	case "salt_and_pepper":
		half := amount * 0.5
		for i := range pixels {
			if rand.Float64() < half {
				pixels[i] = 255
			}
			if rand.Float64() < half {
				pixels[i] = 0
			}
		}
	default:
		return gocv.NewMat(), fmt.Errorf("unsupported noise type: %s", kind)
	}

	return matFromBytes(bgr.Rows(), bgr.Cols(), bgr.Type(), pixels)
}

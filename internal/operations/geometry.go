package operations

import (
	"fmt"
	"image"
	"math"

	"gocv.io/x/gocv"

	"image-pipeline/internal/params"
)

// processRotate rotates around the centre and grows the canvas so no
// corner is cropped.
func processRotate(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	angle := params.Float(values, "angle", 0)
	width, height := src.Cols(), src.Rows()
	center := image.Pt(width/2, height/2)

	matrix := gocv.GetRotationMatrix2D(center, angle, 1.0)
	defer matrix.Close()

	cos := math.Abs(matrix.GetDoubleAt(0, 0))
	sin := math.Abs(matrix.GetDoubleAt(0, 1))
	newWidth := int(float64(height)*sin + float64(width)*cos)
	newHeight := int(float64(height)*cos + float64(width)*sin)
	if newWidth < 1 || newHeight < 1 {
		return gocv.NewMat(), fmt.Errorf("rotation produced an empty canvas")
	}

	// Move the centre to the middle of the enlarged canvas
	matrix.SetDoubleAt(0, 2, matrix.GetDoubleAt(0, 2)+float64(newWidth)/2-float64(center.X))
	matrix.SetDoubleAt(1, 2, matrix.GetDoubleAt(1, 2)+float64(newHeight)/2-float64(center.Y))

	output := gocv.NewMat()
	gocv.WarpAffine(src, &output, matrix, image.Pt(newWidth, newHeight))
	return output, nil
}

func processFlip(src gocv.Mat, values params.Values) (gocv.Mat, error) {
	code := 1
	if params.String(values, "direction", "horizontal") == "vertical" {
		code = 0
	}

	output := gocv.NewMat()
	gocv.Flip(src, &output, code)
	return output, nil
}

// Raster loading, saving and in-memory encoding
package imageio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
	"gocv.io/x/gocv"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	ErrInvalidImage      = errors.New("invalid image data")
)

var supportedExtensions = []string{".jpg", ".jpeg", ".png", ".tiff", ".tif", ".bmp", ".webp"}

// Codec moves rasters between files, byte buffers and gocv.Mat
type Codec struct {
	logger logrus.FieldLogger
}

func NewCodec(logger logrus.FieldLogger) *Codec {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Codec{logger: logger}
}

// Load reads a colour image from disk
func (c *Codec) Load(path string) (gocv.Mat, error) {
	c.logger.WithField("path", path).Debug("Loading image")

	if !IsSupported(path) {
		return gocv.NewMat(), fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	mat := gocv.IMRead(path, gocv.IMReadColor)
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), fmt.Errorf("failed to load image: %s", path)
	}

	c.logger.WithFields(logrus.Fields{
		"path":     path,
		"width":    mat.Cols(),
		"height":   mat.Rows(),
		"channels": mat.Channels(),
	}).Info("Image loaded")
	return mat, nil
}

// Save writes mat to path; the extension selects the format
func (c *Codec) Save(mat gocv.Mat, path string) error {
	if mat.Empty() {
		return fmt.Errorf("cannot save empty image")
	}
	if !IsSupported(path) {
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, path)
	}

	if ok := gocv.IMWrite(path, mat); !ok {
		return fmt.Errorf("failed to save image: %s", path)
	}

	c.logger.WithFields(logrus.Fields{
		"path":   path,
		"width":  mat.Cols(),
		"height": mat.Rows(),
	}).Info("Image saved")
	return nil
}

// Decode turns an encoded upload into a three channel raster
func (c *Codec) Decode(data []byte) (gocv.Mat, error) {
	if len(data) == 0 {
		return gocv.NewMat(), ErrInvalidImage
	}

	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if mat.Empty() {
		mat.Close()
		return gocv.NewMat(), ErrInvalidImage
	}
	return mat, nil
}

// EncodePNG returns mat as PNG bytes
func (c *Codec) EncodePNG(mat gocv.Mat) ([]byte, error) {
	if mat.Empty() {
		return nil, fmt.Errorf("cannot encode empty image")
	}

	buf, err := gocv.IMEncode(gocv.PNGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	defer buf.Close()

	return slices.Clone(buf.GetBytes()), nil
}

// DataURL returns mat as an inline PNG data URL
func (c *Codec) DataURL(mat gocv.Mat) (string, error) {
	encoded, err := c.EncodePNG(mat)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(encoded), nil
}

// IsSupported reports whether the file extension names a known raster format
func IsSupported(path string) bool {
	return slices.Contains(supportedExtensions, strings.ToLower(filepath.Ext(path)))
}

func SupportedFormats() []string {
	return []string{"JPEG", "PNG", "TIFF", "BMP", "WEBP"}
}

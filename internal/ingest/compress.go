package ingest

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"os"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

var pngEncoder = png.Encoder{CompressionLevel: png.BestCompression}

// DefaultMaxPixels bounds the decoded size of an upload, about 160MB of RGBA.
const DefaultMaxPixels = 40_000_000

var errImageTooLarge = errors.New("image dimensions exceed pixel budget")

// CheckDimensions reads only the image header at path and rejects images
// whose width*height exceeds maxPixels. A non-positive maxPixels disables
// the check.
func CheckDimensions(path string, maxPixels int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return checkDimensions(f, maxPixels)
}

func checkDimensions(r io.Reader, maxPixels int) error {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return fmt.Errorf("decode image header: %w", err)
	}
	if maxPixels > 0 && int64(cfg.Width)*int64(cfg.Height) > int64(maxPixels) {
		return fmt.Errorf("%w: %dx%d", errImageTooLarge, cfg.Width, cfg.Height)
	}
	return nil
}

// CompressFile decodes the image at path and re-encodes it as a maximally
// compressed PNG no wider than maxWidth. Images larger than maxPixels are
// rejected before their pixels are decoded.
func CompressFile(path string, maxWidth, maxPixels int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if err := checkDimensions(f, maxPixels); err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	src, format, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	resized := Resize(src, maxWidth)

	var buf bytes.Buffer
	if err := pngEncoder.Encode(&buf, resized); err != nil {
		return nil, fmt.Errorf("encode %s as png: %w", format, err)
	}
	return buf.Bytes(), nil
}

// Resize scales src down to maxWidth, keeping its aspect ratio. Images that
// already fit, or a non-positive maxWidth, are returned unchanged.
func Resize(src image.Image, maxWidth int) image.Image {
	bounds := src.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if maxWidth <= 0 || width <= maxWidth {
		return src
	}

	newHeight := int(math.Round(float64(height) * float64(maxWidth) / float64(width)))
	if newHeight < 1 {
		newHeight = 1
	}

	dst := image.NewNRGBA(image.Rect(0, 0, maxWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
	return dst
}

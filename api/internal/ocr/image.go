package ocr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPixels guards against decompression bombs.
const MaxPixels = 40_000_000

var (
	ErrEmptyImage    = errors.New("empty image")
	ErrImageTooLarge = errors.New("image too large")
)

// Sniff checks the image header only: format, size and the pixel cap. Any
// problem comes back as a *Failure.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", &Failure{Err: ErrEmptyImage}
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", &Failure{Err: fmt.Errorf("cannot identify image file: %w", err)}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return "", &Failure{Err: fmt.Errorf("cannot identify image file: %dx%d %s", cfg.Width, cfg.Height, format)}
	}
	if cfg.Width*cfg.Height > MaxPixels {
		return "", &Failure{Err: fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)}
	}
	return format, nil
}

// Decode validates and decodes a raster image (PNG, JPEG, GIF, BMP, TIFF,
// WebP). Any problem comes back as a *Failure.
func Decode(data []byte) (image.Image, string, error) {
	format, err := Sniff(data)
	if err != nil {
		return nil, "", err
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", &Failure{Err: fmt.Errorf("decode %s: %w", format, err)}
	}
	return img, format, nil
}

// EncodePNG re-encodes a decoded image losslessly for engines that want one
// well-known format.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

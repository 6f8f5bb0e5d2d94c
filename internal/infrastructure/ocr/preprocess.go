package ocr

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
)

const (
	// Tesseract accuracy degrades sharply below roughly 300 DPI worth of
	// pixels; narrow scans are upscaled to this width first.
	minWidth = 2000

	binarizeThreshold = 128
)

// preprocess prepares a rasterized page for tesseract: grayscale,
// upscale, sharpen, contrast boost, then a hard binarize.
func preprocess(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page image: %w", err)
	}

	img = imaging.Grayscale(img)
	if img.Bounds().Dx() < minWidth {
		img = imaging.Resize(img, minWidth, 0, imaging.Lanczos)
	}
	img = imaging.Sharpen(img, 2.0)
	img = imaging.AdjustContrast(img, 25)
	return binarize(img, binarizeThreshold), nil
}

func binarize(img image.Image, threshold uint8) image.Image {
	bounds := img.Bounds()
	out := image.NewGray(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			g := color.GrayModel.Convert(img.At(x, y)).(color.Gray)
			if g.Y >= threshold {
				out.SetGray(x, y, color.Gray{Y: 255})
			} else {
				out.SetGray(x, y, color.Gray{Y: 0})
			}
		}
	}
	return out
}

// preprocessVision keeps the page close to the original raster. The
// vision model handles natural grayscale better than a hard binarize.
func preprocessVision(path string) (image.Image, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open page image: %w", err)
	}
	return imaging.Grayscale(img), nil
}

// rotate returns the page image turned by the given angle in degrees
// counter-clockwise. Only quarter turns are ever requested.
func rotate(img image.Image, angle int) image.Image {
	switch ((angle % 360) + 360) % 360 {
	case 90:
		return imaging.Rotate90(img)
	case 180:
		return imaging.Rotate180(img)
	case 270:
		return imaging.Rotate270(img)
	}
	return img
}

func savePNG(img image.Image, path string) error {
	return imaging.Save(img, path)
}

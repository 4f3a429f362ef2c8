// Package imagepreprocess implements the ImagePreprocessor capability
// (spec.md §4.4 stage 3): contrast normalization, denoise and downscale,
// all through github.com/disintegration/imaging. No deskew is performed:
// page skew is neither detected nor corrected.
package imagepreprocess

import (
	"bytes"
	"image"
	"image/jpeg"

	"github.com/disintegration/imaging"
)

type Preprocessor interface {
	Enhance(jpegBytes []byte, maxDimension, quality int) ([]byte, error)
}

type Pipeline struct{}

func New() *Pipeline { return &Pipeline{} }

// Enhance decodes a JPEG page image, raises contrast (AdjustContrast 8),
// denoises (Blur 0.3 then Sharpen 0.4), and downscales with Lanczos so the
// longest side is at most maxDimension, then re-encodes. It does not deskew.
// Failures here are non-fatal to the caller: the pipeline stage passes the
// raw page through with a warning when Enhance errors.
func (p *Pipeline) Enhance(jpegBytes []byte, maxDimension, quality int) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(jpegBytes))
	if err != nil {
		return nil, err
	}

	enhanced := imaging.AdjustContrast(img, 8) // mild normalization, avoids over-sharpening scanned text
	enhanced = denoise(enhanced)
	enhanced = downscale(enhanced, maxDimension)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, enhanced, &jpeg.Options{Quality: quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// denoise applies a very small Gaussian blur followed by a sharpen pass,
// which in practice smooths JPEG block noise from rasterization without
// erasing fine text strokes.
func denoise(img image.Image) image.Image {
	blurred := imaging.Blur(img, 0.3)
	return imaging.Sharpen(blurred, 0.4)
}

func downscale(img image.Image, maxDimension int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= maxDimension && h <= maxDimension {
		return img
	}
	if w >= h {
		return imaging.Resize(img, maxDimension, 0, imaging.Lanczos)
	}
	return imaging.Resize(img, 0, maxDimension, imaging.Lanczos)
}

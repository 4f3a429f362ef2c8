// Package rasterizer implements the Rasterizer capability: producing an
// ordered sequence of raster pages from a PDF (spec.md §4.4 stage 2).
// Grounded on the source's internal/orchestrator/pagecount.go (pdfcpu page
// counting) and internal/imagerender/renderer.go (go-fitz page rendering).
package rasterizer

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"os"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Rasterizer is the capability interface the PipelineEngine depends on.
type Rasterizer interface {
	PageCount(pdfBytes []byte) (int, error)
	RenderPage(pdfBytes []byte, pageNum, dpi, quality int, color string) (jpegBytes []byte, width, height int, err error)
}

type GoFitzRasterizer struct{}

func New() *GoFitzRasterizer { return &GoFitzRasterizer{} }

// withTempFile writes pdfBytes to a scratch file since both pdfcpu and
// go-fitz operate on filesystem paths, matching the source's
// download-to-temp convention for non-local references.
func withTempFile(pdfBytes []byte, fn func(path string) error) error {
	f, err := os.CreateTemp("", "docengine-*.pdf")
	if err != nil {
		return fmt.Errorf("rasterizer: temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.Write(pdfBytes); err != nil {
		f.Close()
		return fmt.Errorf("rasterizer: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	return fn(path)
}

func (r *GoFitzRasterizer) PageCount(pdfBytes []byte) (int, error) {
	var n int
	err := withTempFile(pdfBytes, func(path string) error {
		var err error
		n, err = api.PageCountFile(path)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("rasterizer: page count: %w", err)
	}
	return n, nil
}

func (r *GoFitzRasterizer) RenderPage(pdfBytes []byte, pageNum, dpi, quality int, color string) ([]byte, int, int, error) {
	var jpegBytes []byte
	var width, height int
	err := withTempFile(pdfBytes, func(path string) error {
		doc, err := fitz.New(path)
		if err != nil {
			return fmt.Errorf("open pdf: %w", err)
		}
		defer doc.Close()

		img, err := doc.ImageDPI(pageNum-1, float64(dpi)) // go-fitz is 0-indexed
		if err != nil {
			return fmt.Errorf("render page %d: %w", pageNum, err)
		}
		bounds := img.Bounds()
		width, height = bounds.Dx(), bounds.Dy()

		var finalImg image.Image = img
		if color == "gray" {
			grayImg := image.NewGray(bounds)
			draw.Draw(grayImg, bounds, img, image.Point{}, draw.Src)
			finalImg = grayImg
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, finalImg, &jpeg.Options{Quality: quality}); err != nil {
			return fmt.Errorf("encode jpeg: %w", err)
		}
		jpegBytes = buf.Bytes()
		return nil
	})
	if err != nil {
		return nil, 0, 0, err
	}
	return jpegBytes, width, height, nil
}

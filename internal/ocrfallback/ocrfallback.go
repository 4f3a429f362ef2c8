// Package ocrfallback implements the OcrFallback capability: embedded-text
// extraction used when VisionExtractor exhausts its per-page retries
// (spec.md §4.4 stage 5). Adapted from the source's internal/mupdf text
// extractor, but driven in-process through github.com/gen2brain/go-fitz
// (already wired for rasterization) instead of shelling out to the mutool
// binary, since the source's embedded-text extraction logic transfers
// directly and avoids an external-binary dependency.
package ocrfallback

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// OcrFallback is the capability interface the PipelineEngine depends on.
type OcrFallback interface {
	ExtractPageText(pdfBytes []byte, pageNum int) (string, error)
}

type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// ExtractPageText pulls the embedded text layer for one page and runs it
// through the same header/footer/noise cleanup the source applied to its
// mutool output.
func (e *Extractor) ExtractPageText(pdfBytes []byte, pageNum int) (string, error) {
	f, err := os.CreateTemp("", "docengine-ocr-*.pdf")
	if err != nil {
		return "", fmt.Errorf("ocrfallback: temp file: %w", err)
	}
	path := f.Name()
	defer os.Remove(path)
	if _, err := f.Write(pdfBytes); err != nil {
		f.Close()
		return "", fmt.Errorf("ocrfallback: write temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return "", err
	}

	doc, err := fitz.New(path)
	if err != nil {
		return "", fmt.Errorf("ocrfallback: open pdf: %w", err)
	}
	defer doc.Close()

	raw, err := doc.Text(pageNum - 1) // go-fitz is 0-indexed
	if err != nil {
		return "", fmt.Errorf("ocrfallback: extract page %d text: %w", pageNum, err)
	}

	return cleanText(raw, pageNum), nil
}

func cleanText(text string, pageNum int) string {
	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if isPageNumber(trimmed, pageNum) {
			continue
		}
		if isHeaderFooter(trimmed) {
			continue
		}
		if isNoise(trimmed) {
			continue
		}
		cleaned = append(cleaned, line)
	}

	return strings.TrimSpace(fixBrokenLines(strings.Join(cleaned, "\n")))
}

func isPageNumber(line string, pageNum int) bool {
	if line == strconv.Itoa(pageNum) {
		return true
	}
	patterns := []string{
		fmt.Sprintf("Page %d", pageNum),
		fmt.Sprintf("- %d -", pageNum),
		fmt.Sprintf("[%d]", pageNum),
		fmt.Sprintf("%d.", pageNum),
	}
	for _, p := range patterns {
		if strings.EqualFold(line, p) {
			return true
		}
	}
	return false
}

func isHeaderFooter(line string) bool {
	if len(line) < 3 {
		return true
	}
	if len(line) < 50 && strings.ToUpper(line) == line {
		if words := strings.Fields(line); len(words) <= 2 {
			return true
		}
	}
	footerPatterns := []string{"CONFIDENTIAL", "COPYRIGHT", "ALL RIGHTS RESERVED", "PROPRIETARY", "PAGE"}
	upper := strings.ToUpper(line)
	for _, p := range footerPatterns {
		if strings.Contains(upper, p) && len(line) < 100 {
			return true
		}
	}
	return false
}

func isNoise(line string) bool {
	if _, err := strconv.Atoi(line); err == nil {
		return true
	}
	for _, r := range line {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return false
		}
	}
	return true
}

// fixBrokenLines rejoins lines split mid-sentence by the PDF text layer.
func fixBrokenLines(text string) string {
	lines := strings.Split(text, "\n")
	fixed := make([]string, 0, len(lines))

	for i := 0; i < len(lines); i++ {
		trimmed := strings.TrimSpace(lines[i])
		if i < len(lines)-1 {
			nextTrimmed := strings.TrimSpace(lines[i+1])
			if trimmed != "" && nextTrimmed != "" {
				lastChar := trimmed[len(trimmed)-1]
				isSentenceEnd := lastChar == '.' || lastChar == '!' || lastChar == '?' || lastChar == ':' || lastChar == ';'
				firstChar := nextTrimmed[0]
				startsWithLower := firstChar >= 'a' && firstChar <= 'z'
				if !isSentenceEnd && startsWithLower && !strings.HasSuffix(trimmed, "-") {
					fixed = append(fixed, trimmed+" "+nextTrimmed)
					i++
					continue
				}
			}
		}
		fixed = append(fixed, lines[i])
	}
	return strings.Join(fixed, "\n")
}

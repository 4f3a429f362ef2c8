// Package visionextractor implements the VisionExtractor capability: a
// schema-guided vision-model call per page (spec.md §4.4 stage 5), with the
// multi-provider failover chain, circuit breaker, and refusal-detection
// style grounded on the source's internal/ai and internal/dispatcher
// packages, generalized from raw-text OCR-style extraction to structured
// field extraction.
package visionextractor

import (
	"context"
	"errors"
	"strconv"

	"github.com/local/docengine/internal/model"
)

// Request is one page's extraction call.
type Request struct {
	PageNum      int
	ImageBase64  string
	ImageMIME    string
	Schema       model.Schema
	SystemPrompt string
	ContextText  string // surrounding-page text, if the caller has any
	OCRText      string // embedded-text hint from the rasterizer, if any
	Model        string
	Timeout      int // seconds
}

// Result is a successful extraction.
type Result struct {
	Fields     model.FieldMap
	Confidence map[string]float64
	TokensIn   int
	TokensOut  int
}

// Client is one provider's vision-capable chat completion endpoint.
type Client interface {
	Name() string
	Do(ctx context.Context, req Request, modelOverride string) (Result, error)
}

var (
	ErrRateLimited    = errors.New("vision: rate limited")
	ErrContentRefused = errors.New("vision: content refused")
)

func IsRateLimited(err error) bool    { return errors.Is(err, ErrRateLimited) }
func IsContentRefused(err error) bool { return errors.Is(err, ErrContentRefused) }

// HTTPError carries a non-2xx status from a provider call.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return e.Provider + ": http " + strconv.Itoa(e.StatusCode) + ": " + e.Body
}

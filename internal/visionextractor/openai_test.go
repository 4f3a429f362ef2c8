package visionextractor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/local/docengine/internal/model"
)

func testRequest() Request {
	return Request{
		PageNum:      1,
		ImageBase64:  "Zm9v",
		ImageMIME:    "image/png",
		SystemPrompt: "extract fields",
		Schema: model.Schema{
			Name:   "invoice",
			Fields: map[string]model.FieldSpec{"total": {Type: model.FieldNumber}},
		},
		Model: "gpt-4o",
	}
}

func TestOpenAIClientDoParsesSuccessfulExtraction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"total\":42,\"_confidence\":{\"total\":0.95}}"},"finish_reason":"stop"}],"usage":{"prompt_tokens":10,"completion_tokens":5}}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-provider", "sk-test", srv.URL, 5*time.Second)
	result, err := c.Do(context.Background(), testRequest(), "")
	require.NoError(t, err)
	assert.Equal(t, model.Number(42), result.Fields["total"])
	assert.Equal(t, 0.95, result.Confidence["total"])
	assert.Equal(t, 10, result.TokensIn)
	assert.Equal(t, 5, result.TokensOut)
}

func TestOpenAIClientDoRejectsMissingAPIKey(t *testing.T) {
	c := NewOpenAIClient("test-provider", "", "http://unused", time.Second)
	_, err := c.Do(context.Background(), testRequest(), "")
	require.Error(t, err)
}

func TestOpenAIClientDoMapsRateLimitStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-provider", "sk-test", srv.URL, 5*time.Second)
	_, err := c.Do(context.Background(), testRequest(), "")
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
}

func TestOpenAIClientDoDetectsRefusalMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"I cannot assist with analyzing this document."},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-provider", "sk-test", srv.URL, 5*time.Second)
	_, err := c.Do(context.Background(), testRequest(), "")
	require.Error(t, err)
	assert.True(t, IsContentRefused(err))
}

func TestOpenAIClientDoWrapsNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("upstream failure"))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-provider", "sk-test", srv.URL, 5*time.Second)
	_, err := c.Do(context.Background(), testRequest(), "")
	require.Error(t, err)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.StatusCode)
}

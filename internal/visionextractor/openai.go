package visionextractor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient is a raw net/http OpenAI-compatible chat-completions client,
// grounded on the source's internal/ai/openai.go, generalized to request
// and parse a structured JSON field extraction instead of free-text OCR.
type OpenAIClient struct {
	http    *http.Client
	apiKey  string
	baseURL string
	name    string
}

func NewOpenAIClient(name, apiKey, baseURL string, timeout time.Duration) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		http:    &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		baseURL: baseURL,
		name:    name,
	}
}

func (c *OpenAIClient) Name() string { return c.name }

type chatMessage struct {
	Role    string        `json:"role"`
	Content []interface{} `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string  `json:"content"`
			Refusal *string `json:"refusal"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

var refusalPhrases = []string{
	"i cannot assist", "i'm unable to help", "i cannot provide", "i cannot process",
	"i'm not able to", "i can't help with", "i'm not comfortable", "i must decline",
	"i should not", "i will not", "against my guidelines",
}

func isRefusalText(s string) bool {
	if len(s) < 10 {
		return false
	}
	lower := strings.ToLower(s)
	for _, p := range refusalPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

func (c *OpenAIClient) Do(ctx context.Context, req Request, modelOverride string) (Result, error) {
	if c.apiKey == "" {
		return Result{}, fmt.Errorf("%s: missing API key", c.name)
	}
	model := req.Model
	if modelOverride != "" {
		model = modelOverride
	}

	userContent := []interface{}{
		map[string]interface{}{
			"type":      "image_url",
			"image_url": map[string]string{"url": fmt.Sprintf("data:%s;base64,%s", req.ImageMIME, req.ImageBase64)},
		},
		map[string]interface{}{"type": "text", "text": BuildUserPrompt(req)},
	}

	payload := chatRequest{
		Model:       model,
		Temperature: 0,
		Messages: []chatMessage{
			{Role: "system", Content: []interface{}{map[string]interface{}{"type": "text", "text": req.SystemPrompt}}},
			{Role: "user", Content: userContent},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == 429 {
		return Result{}, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf := new(bytes.Buffer)
		buf.ReadFrom(resp.Body)
		return Result{}, &HTTPError{Provider: c.name, StatusCode: resp.StatusCode, Body: buf.String()}
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return Result{}, fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	if len(cr.Choices) == 0 {
		return Result{}, fmt.Errorf("%s: no choices returned", c.name)
	}
	choice := cr.Choices[0]

	if choice.Message.Refusal != nil && *choice.Message.Refusal != "" {
		return Result{}, fmt.Errorf("%w: %s", ErrContentRefused, *choice.Message.Refusal)
	}
	if choice.FinishReason == "content_filter" {
		return Result{}, fmt.Errorf("%w: finish_reason=content_filter", ErrContentRefused)
	}
	if isRefusalText(choice.Message.Content) {
		return Result{}, fmt.Errorf("%w: detected refusal pattern in response", ErrContentRefused)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(choice.Message.Content), &parsed); err != nil {
		return Result{}, fmt.Errorf("%s: malformed json field extraction: %w", c.name, err)
	}
	confRaw, _ := parsed["_confidence"].(map[string]interface{})
	delete(parsed, "_confidence")
	confidence := make(map[string]float64, len(confRaw))
	for k, v := range confRaw {
		if f, ok := v.(float64); ok {
			confidence[k] = f
		}
	}

	fields, confidence := ParseExtraction(parsed, confidence, req.Schema)
	return Result{
		Fields: fields, Confidence: confidence,
		TokensIn: cr.Usage.PromptTokens, TokensOut: cr.Usage.CompletionTokens,
	}, nil
}

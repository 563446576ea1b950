// Package llm classifies call audio with Google Gemini.
package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dialsense/dialsense/internal/amd"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.0-flash"

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// ErrEmptyResponse is returned when the model produced no usable text.
var ErrEmptyResponse = errors.New("llm: empty response")

const judgePrompt = `You are an answering machine detector for outbound phone calls.
Listen to the attached greeting and decide whether a live person or an answering machine picked up.
Reply with a single JSON object and nothing else:
{"result": "human" | "machine" | "undecided", "confidence": <number between 0 and 1>, "reasoning": "<one sentence>"}`

// GoogleClient asks Gemini to classify an audio sample. It implements
// amd.Judge.
type GoogleClient struct {
	apiKey     string
	model      string
	mimeType   string
	httpClient *http.Client
	baseURL    string
}

// Option configures a GoogleClient.
type Option func(*GoogleClient)

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) Option {
	return func(c *GoogleClient) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *GoogleClient) { c.httpClient = hc }
}

// WithMIMEType sets the MIME type reported for audio samples.
func WithMIMEType(m string) Option {
	return func(c *GoogleClient) { c.mimeType = m }
}

// NewGoogleClient creates a new Gemini client.
func NewGoogleClient(apiKey, model string, opts ...Option) *GoogleClient {
	if model == "" {
		model = DefaultModel
	}
	c := &GoogleClient{
		apiKey:     apiKey,
		model:      model,
		mimeType:   "audio/wav",
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Google API request/response types
type googleRequest struct {
	Contents         []googleContent        `json:"contents"`
	GenerationConfig googleGenerationConfig `json:"generationConfig"`
}

type googleContent struct {
	Role  string       `json:"role"`
	Parts []googlePart `json:"parts"`
}

type googlePart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *googleInlineData `json:"inlineData,omitempty"`
}

type googleInlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type googleGenerationConfig struct {
	Temperature      float64 `json:"temperature,omitempty"`
	MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type googleResponse struct {
	Candidates []googleCandidate `json:"candidates"`
}

type googleCandidate struct {
	Content      googleContent `json:"content"`
	FinishReason string        `json:"finishReason"`
}

// Judge implements amd.Judge.
func (c *GoogleClient) Judge(ctx context.Context, sample amd.Sample) (amd.Verdict, error) {
	parts := []googlePart{{Text: judgePrompt}}
	if len(sample) > 0 {
		parts = append(parts, googlePart{InlineData: &googleInlineData{
			MIMEType: c.mimeType,
			Data:     base64.StdEncoding.EncodeToString(sample),
		}})
	} else {
		parts = append(parts, googlePart{Text: "No audio was captured."})
	}

	text, err := c.generate(ctx, googleRequest{
		Contents: []googleContent{{Role: "user", Parts: parts}},
		GenerationConfig: googleGenerationConfig{
			Temperature:      0.1,
			MaxOutputTokens:  256,
			ResponseMIMEType: "application/json",
		},
	})
	if err != nil {
		return amd.Verdict{}, err
	}
	return ParseVerdict(text)
}

func (c *GoogleClient) generate(ctx context.Context, reqBody googleRequest) (string, error) {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", c.baseURL, c.model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var googleResp googleResponse
	if err := json.Unmarshal(body, &googleResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(googleResp.Candidates) == 0 {
		return "", ErrEmptyResponse
	}

	var content strings.Builder
	for _, part := range googleResp.Candidates[0].Content.Parts {
		content.WriteString(part.Text)
	}
	if strings.TrimSpace(content.String()) == "" {
		return "", fmt.Errorf("%w (finish reason %q)", ErrEmptyResponse, googleResp.Candidates[0].FinishReason)
	}
	return content.String(), nil
}

// Model returns the model name
func (c *GoogleClient) Model() string {
	return c.model
}

// ParseVerdict decodes the model's JSON answer. Markdown code fences around
// the object are tolerated.
func ParseVerdict(text string) (amd.Verdict, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var v amd.Verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return amd.Verdict{}, fmt.Errorf("failed to parse verdict: %w", err)
	}
	v.Result = amd.Classification(strings.ToLower(string(v.Result)))
	if !v.Result.IsValid() {
		return amd.Verdict{}, fmt.Errorf("unknown verdict %q", v.Result)
	}
	if v.Confidence < 0 || v.Confidence > 1 {
		return amd.Verdict{}, fmt.Errorf("confidence %v out of range", v.Confidence)
	}
	return v, nil
}

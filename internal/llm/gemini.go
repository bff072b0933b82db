package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// GeminiClient calls the Gemini generateContent REST endpoint directly,
// the same bare-HTTP style the teacher's OpenAIClient uses, rather than
// pulling in the full google.golang.org/genai SDK for a single call shape.
type GeminiClient struct {
	apiKey     string
	httpClient *http.Client
	baseURL    string
}

// NewGeminiClient builds a client. baseURL defaults to the public Gemini
// API endpoint; tests override it to point at an httptest server.
func NewGeminiClient(apiKey string) *GeminiClient {
	return &GeminiClient{
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    "https://generativelanguage.googleapis.com/v1beta/models",
	}
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Generate issues one generateContent call and returns the first
// candidate's text. A 429 (rate limit / quota) is reported through err so
// the reasoner can apply its safe-degrade fallback; all other non-2xx
// statuses are wrapped in ErrUpstream.
func (c *GeminiClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	reqBody := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("gemini: marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s:generateContent?key=%s", c.baseURL, model, c.apiKey)
	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(jsonBody))
	if err != nil {
		return "", fmt.Errorf("gemini: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &ErrUpstream{Model: model, Err: err}
	}
	defer resp.Body.Close()

	var gResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gResp); err != nil {
		return "", &ErrUpstream{Model: model, Err: fmt.Errorf("decode response: %w", err)}
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &ErrUpstream{Model: model, Err: fmt.Errorf("rate limited (429): %s", errMessage(gResp))}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ErrUpstream{Model: model, Err: fmt.Errorf("status %d: %s", resp.StatusCode, errMessage(gResp))}
	}
	if len(gResp.Candidates) == 0 || len(gResp.Candidates[0].Content.Parts) == 0 {
		return "", &ErrUpstream{Model: model, Err: fmt.Errorf("empty response from gemini")}
	}

	return gResp.Candidates[0].Content.Parts[0].Text, nil
}

func errMessage(r geminiResponse) string {
	if r.Error != nil {
		return r.Error.Message
	}
	return "unknown error"
}

// IsRateLimited reports whether err is the 429 case GeminiClient surfaces,
// the signal the reasoner uses to return its deferred-explanation fallback
// instead of failing the whole pipeline step.
func IsRateLimited(err error) bool {
	upstream, ok := err.(*ErrUpstream)
	if !ok {
		return false
	}
	return upstream.Err != nil && bytes.Contains([]byte(upstream.Err.Error()), []byte("rate limited (429)"))
}

// IsTimeout reports whether err is the callCtx deadline expiring, the
// signal the reasoner uses to record a "timeout" policy rejection instead
// of aborting the event.
func IsTimeout(err error) bool {
	upstream, ok := err.(*ErrUpstream)
	if !ok {
		return errors.Is(err, context.DeadlineExceeded)
	}
	return errors.Is(upstream.Err, context.DeadlineExceeded)
}

package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	geminiMaxRetries   = 3
	geminiInitialDelay = 1 * time.Second
)

// Gemini calls the generateContent REST method of the Generative Language
// API.
type Gemini struct {
	apiKey   string
	model    string
	endpoint string
	client   *http.Client

	// initialDelay is the first retry backoff; it doubles per attempt.
	initialDelay time.Duration
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type geminiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGemini creates a client for model at endpoint
// (e.g. https://generativelanguage.googleapis.com/v1beta).
func NewGemini(apiKey, model, endpoint string, timeout time.Duration) *Gemini {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Gemini{
		apiKey:       apiKey,
		model:        model,
		endpoint:     strings.TrimRight(endpoint, "/"),
		client:       &http.Client{Timeout: timeout},
		initialDelay: geminiInitialDelay,
	}
}

// Generate returns the model's text answer to prompt.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("GEMINI_API_KEY not set")
	}

	body, err := json.Marshal(geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}},
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	target := g.endpoint + "/models/" + url.PathEscape(g.model) + ":generateContent"

	// Retry with exponential backoff
	var lastErr error
	for attempt := 0; attempt < geminiMaxRetries; attempt++ {
		if attempt > 0 {
			delay := g.initialDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("x-goog-api-key", g.apiKey)

		resp, err := g.client.Do(httpReq)
		if err != nil {
			lastErr = fmt.Errorf("HTTP request failed: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response body: %w", err)
			continue
		}

		if resp.StatusCode != http.StatusOK {
			var apiErr geminiError
			if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Error.Message != "" {
				lastErr = fmt.Errorf("Gemini API error (%d): %s", resp.StatusCode, apiErr.Error.Message)
			} else {
				lastErr = fmt.Errorf("Gemini API error (%d): %s", resp.StatusCode, string(respBody))
			}

			// Retry on rate limit (429) or server errors (5xx)
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				continue
			}
			return "", lastErr
		}

		var out geminiResponse
		if err := json.Unmarshal(respBody, &out); err != nil {
			return "", fmt.Errorf("failed to decode response: %w", err)
		}
		if out.PromptFeedback.BlockReason != "" {
			return "", fmt.Errorf("prompt blocked: %s", out.PromptFeedback.BlockReason)
		}
		if len(out.Candidates) == 0 {
			return "", fmt.Errorf("no candidates returned")
		}

		var b strings.Builder
		for _, p := range out.Candidates[0].Content.Parts {
			b.WriteString(p.Text)
		}
		return b.String(), nil
	}

	return "", fmt.Errorf("max retries (%d) exceeded: %w", geminiMaxRetries, lastErr)
}

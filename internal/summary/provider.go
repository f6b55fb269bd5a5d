// Package summary derives a natural-language patient overview from a
// composed snapshot via an Anthropic-style messages API.
package summary

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"commandcenter/pkg/types"
)

const (
	defaultBaseURL    = "https://api.anthropic.com"
	defaultAPIVersion = "2023-06-01"
	defaultModel      = "claude-3-5-haiku-20241022"
	defaultMaxTokens  = 512
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

type Provider struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Provider{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Summarize sends the snapshot as context and returns the model's overview
// text. Callers substitute Fallback on any error.
func (p *Provider) Summarize(ctx context.Context, snap *types.Snapshot) (string, error) {
	if p.cfg.APIKey == "" {
		return "", fmt.Errorf("summary: api key: %w", types.ErrNotConfigured)
	}

	snapJSON, err := json.Marshal(snap)
	if err != nil {
		return "", fmt.Errorf("summary: encode snapshot: %w", err)
	}

	body, err := json.Marshal(messagesRequest{
		Model:     p.cfg.Model,
		MaxTokens: defaultMaxTokens,
		System:    "You summarize a patient's combined clinical record for a surgical dashboard. Two or three sentences, factual, no speculation.",
		Messages:  []message{{Role: "user", Content: string(snapJSON)}},
	})
	if err != nil {
		return "", fmt.Errorf("summary: encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("summary: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", p.cfg.APIKey)
	req.Header.Set("anthropic-version", defaultAPIVersion)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("summary: %w: %v", types.ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("summary: unexpected status %d", resp.StatusCode)
	}

	var decoded messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("summary: decode response: %w", err)
	}
	if len(decoded.Content) == 0 || decoded.Content[0].Text == "" {
		return "", fmt.Errorf("summary: empty completion")
	}
	return decoded.Content[0].Text, nil
}

// Fallback builds a deterministic overview from locally known fields, used
// whenever the inference call fails.
func Fallback(p *types.Patient, now time.Time) string {
	name := strings.TrimSpace(p.FirstName + " " + p.LastName)
	return fmt.Sprintf("%s, %d year old %s. MRN %s. External summaries unavailable.",
		name, p.Age(now), p.Gender, p.MRN)
}

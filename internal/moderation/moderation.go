// Package moderation calls the external content-moderation collaborator.
package moderation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/modelfleet/modelfleet/config"
)

// Result is one moderation verdict.
type Result struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"categoryScores"`
}

// Response is the moderation endpoint's reply.
type Response struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Results []Result `json:"results"`
}

// Client issues moderation checks. One request, no retries; errors are
// surfaced to the caller as-is.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient builds a moderation client from configuration.
func NewClient(cfg config.ModerationConfig) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.Timeout},
	}
}

// Check submits content for moderation.
func (c *Client) Check(ctx context.Context, content string) (Response, error) {
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return Response{}, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/moderation/check", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, fmt.Errorf("moderation request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("moderation returned status %d", resp.StatusCode)
	}
	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Response{}, fmt.Errorf("decode moderation response: %w", err)
	}
	return out, nil
}

// FormatResult renders a verdict as the analysis text shown to the user.
func FormatResult(r Result) string {
	type scored struct {
		category string
		score    float64
	}
	var significant []scored
	for category, score := range r.CategoryScores {
		if score > 0.01 {
			significant = append(significant, scored{category, score})
		}
	}
	sort.Slice(significant, func(i, j int) bool { return significant[i].score > significant[j].score })

	if !r.Flagged && len(significant) == 0 {
		return "Content Analysis Complete: No concerning content detected."
	}

	var b strings.Builder
	b.WriteString("Content Analysis Results:\n\n")
	if r.Flagged {
		b.WriteString("Content has been flagged for moderation.\n\n")
	} else {
		b.WriteString("Potential concerns detected.\n\n")
	}
	b.WriteString("Significant category scores:\n")
	if len(significant) == 0 {
		b.WriteString("No significant category scores.\n")
	} else {
		for _, s := range significant {
			fmt.Fprintf(&b, "%s: %.1f%%\n", s.category, s.score*100)
		}
	}
	if r.Flagged {
		b.WriteString("\nRecommendation: Content requires review.")
	} else {
		b.WriteString("\nRecommendation: Content may need review.")
	}
	return b.String()
}

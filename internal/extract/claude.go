package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/abelbrown/jtfnews/internal/logging"
	"github.com/abelbrown/jtfnews/internal/retry"
)

const claudeEndpoint = "https://api.anthropic.com/v1/messages"

// ClaudeProvider implements Provider for Anthropic's Messages API
type ClaudeProvider struct {
	apiKey    string
	model     string
	endpoint  string
	maxTokens int
	client    *http.Client
}

// NewClaudeProvider creates a new Claude provider
func NewClaudeProvider(apiKey, model string) *ClaudeProvider {
	if model == "" {
		model = "claude-sonnet-4-5-20250929"
	}
	return &ClaudeProvider{
		apiKey:    apiKey,
		model:     model,
		endpoint:  claudeEndpoint,
		maxTokens: 512,
		client:    &http.Client{Timeout: 90 * time.Second},
	}
}

// WithEndpoint points the provider at another Messages API URL.
func (c *ClaudeProvider) WithEndpoint(url string) *ClaudeProvider {
	c.endpoint = url
	return c
}

func (c *ClaudeProvider) Name() string {
	return "claude"
}

func (c *ClaudeProvider) Available() bool {
	return c.apiKey != ""
}

func (c *ClaudeProvider) Complete(ctx context.Context, system, prompt string) (Completion, error) {
	if !c.Available() {
		return Completion{}, retry.New(retry.KindConfig, "claude", errors.New("api key not set"))
	}

	body := map[string]interface{}{
		"model":      c.model,
		"max_tokens": c.maxTokens,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
	}
	if system != "" {
		body["system"] = system
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return Completion{}, retry.New(retry.KindMalformed, "claude", fmt.Errorf("marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonBody))
	if err != nil {
		return Completion{}, retry.New(retry.KindConfig, "claude", fmt.Errorf("create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		kind := retry.Classify(err)
		if kind == retry.KindUnknown {
			kind = retry.KindConnection
		}
		return Completion{}, retry.New(kind, "claude", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Completion{}, retry.New(retry.KindConnection, "claude", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		logging.Error("Claude API error", "status", resp.StatusCode, "body", string(respBody))
		apiErr := retry.FromStatus("claude", resp.StatusCode, string(respBody))
		if ra, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && ra > 0 {
			apiErr.RetryAfter = time.Duration(ra) * time.Second
		}
		return Completion{}, apiErr
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text,omitempty"`
		} `json:"content"`
		Model      string `json:"model"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return Completion{}, retry.New(retry.KindMalformed, "claude", fmt.Errorf("parse response: %w", err))
	}

	if result.StopReason == "max_tokens" {
		logging.Warn("Claude response truncated due to max tokens",
			"model", result.Model,
			"max_tokens", c.maxTokens)
	}

	var textParts []string
	for _, block := range result.Content {
		if block.Type == "text" && block.Text != "" {
			textParts = append(textParts, block.Text)
		}
	}

	return Completion{
		Text:         strings.Join(textParts, "\n"),
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
	}, nil
}

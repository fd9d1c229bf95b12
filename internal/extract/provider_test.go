package extract

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/openai/openai-go/v2/option"

	"github.com/abelbrown/jtfnews/internal/retry"
)

func TestClaudeComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if body["system"] != SystemPrompt {
			t.Errorf("system prompt not sent")
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"fact\":\"x\"}"}],"model":"m","stop_reason":"end_turn","usage":{"input_tokens":120,"output_tokens":30}}`))
	}))
	defer srv.Close()

	p := NewClaudeProvider("test-key", "").WithEndpoint(srv.URL)
	c, err := p.Complete(context.Background(), SystemPrompt, "Quake hits Chile")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Text != `{"fact":"x"}` {
		t.Errorf("Text = %q", c.Text)
	}
	if c.InputTokens != 120 || c.OutputTokens != 30 {
		t.Errorf("usage = %d/%d", c.InputTokens, c.OutputTokens)
	}
}

func TestClaudeErrors(t *testing.T) {
	tests := []struct {
		name       string
		status     int
		retryAfter string
		kind       retry.Kind
		wantWait   time.Duration
	}{
		{"unauthorized", http.StatusUnauthorized, "", retry.KindAuth, 0},
		{"rate limited", http.StatusTooManyRequests, "7", retry.KindRateLimit, 7 * time.Second},
		{"overloaded", 529, "", retry.KindConnection, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tt.retryAfter != "" {
					w.Header().Set("Retry-After", tt.retryAfter)
				}
				w.WriteHeader(tt.status)
				w.Write([]byte(`{"error":{"message":"nope"}}`))
			}))
			defer srv.Close()

			_, err := NewClaudeProvider("k", "").WithEndpoint(srv.URL).Complete(context.Background(), "", "h")
			var rerr *retry.Error
			if !errors.As(err, &rerr) {
				t.Fatalf("expected *retry.Error, got %v", err)
			}
			if rerr.Kind != tt.kind {
				t.Errorf("kind = %v, want %v", rerr.Kind, tt.kind)
			}
			if rerr.RetryAfter != tt.wantWait {
				t.Errorf("RetryAfter = %v, want %v", rerr.RetryAfter, tt.wantWait)
			}
		})
	}
}

func TestClaudeMissingKey(t *testing.T) {
	p := NewClaudeProvider("", "")
	if p.Available() {
		t.Error("provider without key should not be available")
	}
	_, err := p.Complete(context.Background(), "", "h")
	if retry.Classify(err) != retry.KindConfig {
		t.Errorf("expected config error, got %v", err)
	}
}

func TestOpenAIComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"id":"chatcmpl-1","object":"chat.completion","created":1,"model":"gpt-4o-mini",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"{\"fact\":\"y\"}"}}],
			"usage":{"prompt_tokens":50,"completion_tokens":10,"total_tokens":60}
		}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "", option.WithBaseURL(srv.URL+"/"))
	c, err := p.Complete(context.Background(), SystemPrompt, "Quake hits Chile")
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if c.Text != `{"fact":"y"}` || c.InputTokens != 50 || c.OutputTokens != 10 {
		t.Errorf("unexpected completion: %+v", c)
	}
}

func TestOpenAIRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "3")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":{"message":"slow down","type":"rate_limit_error"}}`))
	}))
	defer srv.Close()

	p := NewOpenAIProvider("sk-test", "", option.WithBaseURL(srv.URL+"/"))
	_, err := p.Complete(context.Background(), "", "h")
	var rerr *retry.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("expected *retry.Error, got %v", err)
	}
	if rerr.Kind != retry.KindRateLimit {
		t.Errorf("kind = %v", rerr.Kind)
	}
	if rerr.RetryAfter != 3*time.Second {
		t.Errorf("RetryAfter = %v", rerr.RetryAfter)
	}
}

package extract

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/abelbrown/jtfnews/internal/retry"
)

// OpenAIProvider implements Provider on the Chat Completions API.
type OpenAIProvider struct {
	client    openai.Client
	model     string
	available bool
}

// NewOpenAIProvider creates a provider. SDK-level retries are disabled;
// retries are the caller's job.
func NewOpenAIProvider(apiKey, model string, opts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = "gpt-4o-mini"
	}
	base := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	return &OpenAIProvider{
		client:    openai.NewClient(append(base, opts...)...),
		model:     model,
		available: apiKey != "",
	}
}

func (p *OpenAIProvider) Name() string    { return "openai" }
func (p *OpenAIProvider) Available() bool { return p.available }

func (p *OpenAIProvider) Complete(ctx context.Context, system, prompt string) (Completion, error) {
	if !p.available {
		return Completion{}, retry.New(retry.KindConfig, "openai", errors.New("api key not set"))
	}

	resp, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		Temperature:         openai.Float(0),
		MaxCompletionTokens: openai.Int(512),
	})
	if err != nil {
		return Completion{}, classifyOpenAI(err)
	}
	if len(resp.Choices) == 0 {
		return Completion{}, retry.New(retry.KindMalformed, "openai", errors.New("no choices in response"))
	}

	return Completion{
		Text:         resp.Choices[0].Message.Content,
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func classifyOpenAI(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		e := retry.FromStatus("openai", apiErr.StatusCode, apiErr.Message)
		if apiErr.Response != nil {
			if ra, perr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After")); perr == nil && ra > 0 {
				e.RetryAfter = time.Duration(ra) * time.Second
			}
		}
		e.Err = err
		return e
	}
	kind := retry.Classify(err)
	if kind == retry.KindUnknown {
		kind = retry.KindConnection
	}
	return retry.New(kind, "openai", err)
}

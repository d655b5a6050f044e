package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	GrokBaseURL      = "https://api.x.ai/v1"
	DefaultGrokModel = "grok-3"
)

// GrokConfig holds configuration for the Grok provider.
type GrokConfig struct {
	APIKey    string // If empty, uses XAI_API_KEY, then GROK3_API_KEY
	Model     string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
	// Options are appended to the client options, e.g. option.WithHTTPClient.
	Options []option.RequestOption
}

// GrokProvider talks to xAI's OpenAI-compatible chat completions API.
type GrokProvider struct {
	client    *openai.Client
	model     string
	maxTokens int
}

var _ Provider = (*GrokProvider)(nil)

// NewGrokProvider creates a Grok provider. Retries are left to the caller,
// so the SDK's own retry loop is disabled.
func NewGrokProvider(cfg GrokConfig) (*GrokProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("XAI_API_KEY")
	}
	if apiKey == "" {
		apiKey = os.Getenv("GROK3_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("XAI_API_KEY not set")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = GrokBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultGrokModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithMaxRetries(0),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	opts = append(opts, cfg.Options...)
	client := openai.NewClient(opts...)

	return &GrokProvider{
		client:    &client,
		model:     model,
		maxTokens: cfg.MaxTokens,
	}, nil
}

func (p *GrokProvider) Name() string { return p.model }

func (p *GrokProvider) params(prompt string) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if p.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(p.maxTokens))
	}
	return params
}

// Generate produces a complete answer.
func (p *GrokProvider) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(prompt))
	if err != nil {
		return "", fmt.Errorf("grok generate failed: %w", describeAPIError(err))
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyResponse
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Stream produces the answer as server-sent chunks.
func (p *GrokProvider) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		stream := p.client.Chat.Completions.NewStreaming(ctx, p.params(prompt))
		defer stream.Close()
		emitted := false
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			text := chunk.Choices[0].Delta.Content
			if text == "" {
				continue
			}
			emitted = true
			if !yield(text, nil) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			yield("", fmt.Errorf("grok stream failed: %w", describeAPIError(err)))
			return
		}
		if !emitted {
			yield("", ErrEmptyResponse)
		}
	}
}

// APIError is an HTTP failure reported by a backend.
type APIError struct {
	StatusCode int
	Err        error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("HTTP %d: %v", e.StatusCode, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

func describeAPIError(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &APIError{StatusCode: apiErr.StatusCode, Err: err}
	}
	return err
}

package llm

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"os"
	"strings"

	"google.golang.org/adk/model"
	"google.golang.org/adk/model/gemini"
	"google.golang.org/genai"
)

const DefaultGeminiModel = "gemini-2.5-flash"

// ModelProvider adapts an ADK model.LLM, e.g. Gemini, to Provider.
type ModelProvider struct {
	llm       model.LLM
	maxTokens int32
}

var _ Provider = (*ModelProvider)(nil)

// NewModelProvider wraps m. maxTokens <= 0 leaves the model default.
func NewModelProvider(m model.LLM, maxTokens int) *ModelProvider {
	return &ModelProvider{llm: m, maxTokens: int32(maxTokens)}
}

// GeminiConfig holds configuration for the Gemini provider.
type GeminiConfig struct {
	APIKey    string // If empty, uses GOOGLE_API_KEY env var
	Model     string // If empty, uses GOOGLE_MODEL, then DefaultGeminiModel
	MaxTokens int
}

// NewGeminiProvider creates a Gemini-backed provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*ModelProvider, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("GOOGLE_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY not set")
	}
	name := cfg.Model
	if name == "" {
		name = os.Getenv("GOOGLE_MODEL")
	}
	if name == "" {
		name = DefaultGeminiModel
	}

	m, err := gemini.NewModel(ctx, name, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini model: %w", err)
	}
	return NewModelProvider(m, cfg.MaxTokens), nil
}

func (p *ModelProvider) Name() string { return p.llm.Name() }

// LLM returns the wrapped model, e.g. to drive an agent with the same backend.
func (p *ModelProvider) LLM() model.LLM { return p.llm }

func (p *ModelProvider) request(prompt string) *model.LLMRequest {
	req := &model.LLMRequest{
		Contents: []*genai.Content{genai.NewContentFromText(prompt, genai.RoleUser)},
		Config:   &genai.GenerateContentConfig{},
	}
	if p.maxTokens > 0 {
		req.Config.MaxOutputTokens = p.maxTokens
	}
	return req
}

// Generate produces a complete answer.
func (p *ModelProvider) Generate(ctx context.Context, prompt string) (string, error) {
	var sb strings.Builder
	for resp, err := range p.llm.GenerateContent(ctx, p.request(prompt), false) {
		if err != nil {
			return "", fmt.Errorf("%s generate failed: %w", p.llm.Name(), err)
		}
		if msg := responseError(resp); msg != nil {
			return "", fmt.Errorf("%s generate failed: %w", p.llm.Name(), msg)
		}
		sb.WriteString(responseText(resp))
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", ErrEmptyResponse
	}
	return text, nil
}

// Stream forwards partial responses. Streaming models finish with an
// aggregated response repeating the partials; it is only used when no
// partial arrived.
func (p *ModelProvider) Stream(ctx context.Context, prompt string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		emitted := false
		for resp, err := range p.llm.GenerateContent(ctx, p.request(prompt), true) {
			if err != nil {
				yield("", fmt.Errorf("%s stream failed: %w", p.llm.Name(), err))
				return
			}
			if msg := responseError(resp); msg != nil {
				yield("", fmt.Errorf("%s stream failed: %w", p.llm.Name(), msg))
				return
			}
			if resp == nil || (!resp.Partial && emitted) {
				continue
			}
			text := responseText(resp)
			if text == "" {
				continue
			}
			emitted = true
			if !yield(text, nil) {
				return
			}
		}
		if !emitted {
			yield("", ErrEmptyResponse)
		}
	}
}

func responseText(resp *model.LLMResponse) string {
	if resp == nil || resp.Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Content.Parts {
		if part != nil && part.Text != "" && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

func responseError(resp *model.LLMResponse) error {
	if resp == nil || resp.ErrorMessage == "" {
		return nil
	}
	if resp.ErrorCode != "" {
		return fmt.Errorf("%s: %s", resp.ErrorCode, resp.ErrorMessage)
	}
	return errors.New(resp.ErrorMessage)
}

// Package llm wraps the language-model provider behind a narrow contract so
// the pipeline can be tested with a scripted fake.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// Message roles accepted by Invoke.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of a provider conversation.
type Message struct {
	Role    string
	Content string
}

// Usage reports token consumption for one call.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Completion is the provider's answer.
type Completion struct {
	Content string
	Usage   *Usage
}

// Options tune a single Invoke call.
type Options struct {
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
}

// Provider is the LLM collaborator contract. Cancellation propagates through
// ctx; errors are classified by Classify.
type Provider interface {
	Invoke(ctx context.Context, messages []Message, opts Options) (*Completion, error)
}

// ErrorTaxonomy classifies provider failures for the error envelope.
type ErrorTaxonomy string

const (
	TaxonomyAuth        ErrorTaxonomy = "auth"
	TaxonomyRateLimited ErrorTaxonomy = "rate_limited"
	TaxonomyTimeout     ErrorTaxonomy = "timeout"
	TaxonomyBadResponse ErrorTaxonomy = "bad_response"
	TaxonomyOther       ErrorTaxonomy = "other"
)

// ErrEmptyCompletion is returned when the provider answers with no content.
var ErrEmptyCompletion = errors.New("llm returned empty completion")

// Classify maps a provider error onto the taxonomy.
func Classify(err error) ErrorTaxonomy {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, context.DeadlineExceeded):
		return TaxonomyTimeout
	case errors.Is(err, ErrEmptyCompletion):
		return TaxonomyBadResponse
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "401") || strings.Contains(msg, "unauthorized") || strings.Contains(msg, "api key"):
		return TaxonomyAuth
	case strings.Contains(msg, "429") || strings.Contains(msg, "rate limit"):
		return TaxonomyRateLimited
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline"):
		return TaxonomyTimeout
	default:
		return TaxonomyOther
	}
}

// Client is the langchaingo-backed Provider used in production.
type Client struct {
	model          llms.Model
	defaultTimeout time.Duration
}

// NewClient builds an OpenAI-compatible client. baseURL may point at any
// OpenAI-compatible endpoint; empty uses the provider default.
func NewClient(model, token, baseURL string, defaultTimeout time.Duration) (*Client, error) {
	opts := []openai.Option{
		openai.WithModel(model),
		openai.WithToken(token),
	}
	if baseURL != "" {
		opts = append(opts, openai.WithBaseURL(baseURL))
	}
	m, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("init llm client: %w", err)
	}
	return &Client{model: m, defaultTimeout: defaultTimeout}, nil
}

// Invoke sends the conversation and returns the single completion.
func (c *Client) Invoke(ctx context.Context, messages []Message, opts Options) (*Completion, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	content := make([]llms.MessageContent, 0, len(messages))
	for _, m := range messages {
		content = append(content, llms.TextParts(roleFor(m.Role), m.Content))
	}

	callOpts := []llms.CallOption{}
	if opts.Temperature > 0 {
		callOpts = append(callOpts, llms.WithTemperature(opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	resp, err := c.model.GenerateContent(ctx, content, callOpts...)
	if err != nil {
		return nil, fmt.Errorf("llm generate: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return nil, ErrEmptyCompletion
	}

	out := &Completion{Content: resp.Choices[0].Content}
	if info := resp.Choices[0].GenerationInfo; info != nil {
		u := &Usage{}
		if v, ok := info["PromptTokens"].(int); ok {
			u.InputTokens = v
		}
		if v, ok := info["CompletionTokens"].(int); ok {
			u.OutputTokens = v
		}
		out.Usage = u
	}
	return out, nil
}

func roleFor(role string) llms.ChatMessageType {
	switch role {
	case RoleSystem:
		return llms.ChatMessageTypeSystem
	case RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}

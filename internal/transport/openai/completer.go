package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/kailas-cloud/itemrec/internal/domain"
)

// Default sampling for generated descriptions.
const (
	DefaultMaxTokens   = 300
	DefaultTemperature = 0.7
	DefaultTopP        = 0.9
)

// Completer generates text through an OpenAI-compatible chat completions API.
type Completer struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	topP        float32
	logger      *zap.Logger
}

// CompleterConfig holds the chat provider settings. Zero sampling values take the defaults.
type CompleterConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float32
	TopP        float32
	Timeout     time.Duration
	Logger      *zap.Logger
}

// NewCompleter creates a chat completion client.
func NewCompleter(cfg *CompleterConfig) *Completer {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}

	c := &Completer{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		maxTokens:   cfg.MaxTokens,
		temperature: cfg.Temperature,
		topP:        cfg.TopP,
		logger:      cfg.Logger,
	}
	if c.maxTokens <= 0 {
		c.maxTokens = DefaultMaxTokens
	}
	if c.temperature <= 0 {
		c.temperature = DefaultTemperature
	}
	if c.topP <= 0 {
		c.topP = DefaultTopP
	}
	return c
}

// Model returns the configured chat model.
func (c *Completer) Model() string { return c.model }

// Complete sends prompt as a single user message and returns the trimmed reply.
func (c *Completer) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
		TopP:        c.topP,
	})
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("chat completion: %w", ctx.Err())
		}
		return "", parseAPIError("chat", err, domain.ErrCompletionProviderError)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices: %w", domain.ErrCompletionProviderError)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("chat completion returned empty text (finish reason %q): %w",
			resp.Choices[0].FinishReason, domain.ErrCompletionProviderError)
	}
	c.logger.Debug("chat completion",
		zap.String("model", c.model),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
	)
	return text, nil
}

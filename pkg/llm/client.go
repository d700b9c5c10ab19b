package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// DefaultMaxTokens bounds completions when Config.MaxTokens is unset. Intent
// labels and rephrased narratives are a few sentences at most.
const DefaultMaxTokens = 512

// Config holds what a model client needs to reach its endpoint.
type Config struct {
	Endpoint  string // base URL; OpenAI-compatible servers expose /v1
	Model     string
	APIKey    string // optional for local endpoints
	MaxTokens int
}

func (c *Config) maxTokens() int {
	if c.MaxTokens > 0 {
		return c.MaxTokens
	}
	return DefaultMaxTokens
}

// Client talks to any OpenAI-compatible chat completions endpoint.
type Client struct {
	client    *openai.Client
	endpoint  string
	model     string
	maxTokens int
	logger    *zap.Logger
}

// NewClient creates an OpenAI-compatible client.
func NewClient(cfg *Config, logger *zap.Logger) (*Client, error) {
	switch {
	case cfg.Endpoint == "":
		return nil, fmt.Errorf("endpoint is required")
	case cfg.Model == "":
		return nil, fmt.Errorf("model is required")
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimSuffix(cfg.Endpoint, "/")

	return &Client{
		client:    openai.NewClientWithConfig(oc),
		endpoint:  cfg.Endpoint,
		model:     cfg.Model,
		maxTokens: cfg.maxTokens(),
		logger:    logger.Named("llm").With(zap.String("provider", "openai")),
	}, nil
}

// GenerateResponse asks for a single completion. thinking toggles reasoning on
// servers that honour chat_template_kwargs and is ignored elsewhere.
// A reply cut off by the token bound is returned as a response error, since a
// truncated JSON label or narrative is unusable.
func (c *Client) GenerateResponse(
	ctx context.Context,
	prompt string,
	systemMessage string,
	temperature float64,
	thinking bool,
) (*GenerateResponseResult, error) {
	req := openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemMessage},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature:        float32(temperature),
		MaxTokens:          c.maxTokens,
		ChatTemplateKwargs: map[string]any{"enable_thinking": thinking},
	}

	c.logger.Debug("Model request",
		zap.String("model", c.model),
		zap.Int("prompt_len", len(prompt)),
		zap.Float64("temperature", temperature))

	start := time.Now()
	resp, err := c.client.CreateChatCompletion(ctx, req)
	elapsed := time.Since(start)
	if err != nil {
		c.logger.Warn("Model request failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		return nil, ClassifyError(err).withContext(c.model, c.endpoint)
	}
	if len(resp.Choices) == 0 {
		return nil, NewError(ErrorTypeResponse, "no choices in response", false, nil)
	}

	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonLength {
		return nil, NewError(ErrorTypeResponse,
			fmt.Sprintf("completion truncated at %d tokens", c.maxTokens), false, nil)
	}

	c.logger.Debug("Model request completed",
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens),
		zap.Duration("elapsed", elapsed))

	return &GenerateResponseResult{
		Content:          strings.TrimSpace(choice.Message.Content),
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}, nil
}

func (c *Client) GetModel() string { return c.model }

func (c *Client) GetEndpoint() string { return c.endpoint }

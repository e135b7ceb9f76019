package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

// anthropicClient implements Client on the Anthropic Messages API.
type anthropicClient struct {
	client  anthropic.Client
	timeout time.Duration
	logger  *zap.Logger
}

// NewAnthropicClient builds a Client backed by the Anthropic SDK. The SDK
// owns retries; cfg.MaxRetries is passed through.
func NewAnthropicClient(cfg Config, logger *zap.Logger) (Client, error) {
	cfg = cfg.WithDefaults()
	cfg.Provider = ProviderAnthropic
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(cfg.APIKey),
		anthropicoption.WithMaxRetries(max(cfg.MaxRetries, 0)),
		anthropicoption.WithHTTPClient(httpClientFor(cfg)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
	}

	return &anthropicClient{
		client:  anthropic.NewClient(opts...),
		timeout: cfg.UpstreamTimeout,
		logger:  namedLogger(logger, "anthropic"),
	}, nil
}

func (c *anthropicClient) ChatCompletion(parentCtx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	if req == nil {
		return nil, errors.New("anthropic: request is nil")
	}
	if err := req.Validate(); err != nil {
		return nil, fmt.Errorf("anthropic: invalid request: %w", err)
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		MaxTokens: int64(req.MaxTokens),
	}
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}

	ctx, cancel := context.WithTimeout(parentCtx, c.timeout)
	defer cancel()

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		status := 0
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			status = apiErr.StatusCode
		}
		c.logger.Error("anthropic request failed",
			zap.Int("status", status),
			zap.Error(err),
			zap.Duration("duration", time.Since(start)),
		)
		return nil, providerError(ProviderAnthropic, status, err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := &ChatResponse{
		ID:      msg.ID,
		Created: time.Now(),
		Model:   string(msg.Model),
		Content: text.String(),
		Usage: Usage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		},
	}

	c.logger.Info("anthropic request completed",
		zap.String("model", out.Model),
		zap.Int("prompt_tokens", out.Usage.PromptTokens),
		zap.Int("completion_tokens", out.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)
	return out, nil
}

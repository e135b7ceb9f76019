package llm

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"assistgate/internal/errdefs"
)

// chatComputer adapts a chat Client to the single-prompt Computer interface.
type chatComputer struct {
	client    Client
	provider  string
	model     string
	maxTokens int
}

// NewChatComputer wraps client so each Compute sends one user message to model.
func NewChatComputer(client Client, provider, model string, maxTokens int) Computer {
	return &chatComputer{client: client, provider: provider, model: model, maxTokens: maxTokens}
}

func (c *chatComputer) Compute(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.ChatCompletion(ctx, &ChatRequest{
		Model:     c.model,
		Messages:  []ChatMessage{{Role: RoleUser, Content: prompt}},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", providerError(c.provider, 0, err)
	}
	return resp.Content, nil
}

// Close releases the underlying client when it holds resources.
func (c *chatComputer) Close() error {
	if closer, ok := c.client.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// NewComputer selects a provider by cfg.Provider.
func NewComputer(cfg Config, logger *zap.Logger) (Computer, error) {
	cfg = cfg.WithDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		client Client
		err    error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		client, err = NewClient(cfg, logger)
	case ProviderAnthropic:
		client, err = NewAnthropicClient(cfg, logger)
	default:
		err = fmt.Errorf("%w: unknown llm provider %q", errdefs.ErrConfiguration, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return NewChatComputer(client, cfg.Provider, cfg.Model, cfg.MaxTokens), nil
}

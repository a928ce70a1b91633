package inference

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

// Gateway is the external natural-language inference capability. Input is a
// prompt, output is free text expected (but not guaranteed) to contain a
// JSON payload. No determinism or latency bound is assumed.
type Gateway interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// OpenAIGateway implements Gateway over the OpenAI chat completion API
type OpenAIGateway struct {
	client      *openai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// Config holds OpenAI gateway settings
type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float32
}

// NewOpenAIGateway creates a gateway backed by the OpenAI API
func NewOpenAIGateway(cfg Config, logger *zap.Logger) *OpenAIGateway {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &OpenAIGateway{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}

// Complete sends one blocking chat completion round-trip
func (g *OpenAIGateway) Complete(ctx context.Context, system, user string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       g.model,
		Temperature: g.temperature,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: system,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: user,
			},
		},
	}

	resp, err := g.client.CreateChatCompletion(ctx, req)
	if err != nil {
		g.logger.Error("OpenAI API call failed", zap.Error(err))
		return "", fmt.Errorf("OpenAI API call failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response from OpenAI")
	}

	return resp.Choices[0].Message.Content, nil
}

// Verify interface compliance
var _ Gateway = (*OpenAIGateway)(nil)

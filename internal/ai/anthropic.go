package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient implements LLM using Anthropic's Messages API.
type AnthropicClient struct {
	config *ClientConfig
	client anthropic.Client
}

// NewAnthropicClient creates a new AnthropicClient
func NewAnthropicClient(config *ClientConfig) *AnthropicClient {
	if config.ChatModel == "" {
		config.ChatModel = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 1024
	}

	opts := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &AnthropicClient{config: config, client: anthropic.NewClient(opts...)}
}

// Chat performs a single-turn completion and returns the concatenated text.
func (a *AnthropicClient) Chat(ctx context.Context, prompt string) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.config.ChatModel),
		MaxTokens: int64(a.config.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			err = errors.Join(ErrModelUnavailable, err)
		}
		return "", chatFailed("anthropic chat", err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	return b.String(), nil
}

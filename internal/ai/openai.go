package ai

import (
	"context"
	"errors"
	"sort"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements Embedder and LLM on the OpenAI API, or any
// endpoint speaking the same protocol when BaseURL is set.
type OpenAIClient struct {
	config *ClientConfig
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAIClient
func NewOpenAIClient(config *ClientConfig) *OpenAIClient {
	if config.EmbedModel == "" {
		config.EmbedModel = string(openai.SmallEmbedding3)
	}
	if config.ChatModel == "" {
		config.ChatModel = openai.GPT4oMini
	}
	if config.Dim == 0 {
		config.Dim = openAIEmbeddingDim(config.EmbedModel)
	}
	if config.BatchSize == 0 {
		config.BatchSize = 256
	}

	cfg := openai.DefaultConfig(config.APIKey)
	if strings.TrimSpace(config.BaseURL) != "" {
		cfg.BaseURL = strings.TrimRight(config.BaseURL, "/")
	}
	return &OpenAIClient{config: config, client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkInputs(texts); err != nil {
		return nil, err
	}
	vecs, err := inBatches(texts, c.config.BatchSize, func(batch []string) ([][]float32, error) {
		return c.embed(ctx, batch)
	})
	if err != nil {
		return nil, embedFailed("openai embeddings", err)
	}
	return vecs, nil
}

func (c *OpenAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := checkQuery(text); err != nil {
		return nil, err
	}
	vecs, err := c.embed(ctx, []string{text})
	if err != nil {
		return nil, embedFailed("openai query embedding", err)
	}
	if len(vecs) != 1 {
		return nil, embedFailed("openai query embedding", errors.New("no embedding returned"))
	}
	return vecs[0], nil
}

func (c *OpenAIClient) embed(ctx context.Context, input []string) ([][]float32, error) {
	req := openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(c.config.EmbedModel),
		Input: input,
	}
	// Only the text-embedding-3 family accepts a dimensions parameter.
	if strings.HasPrefix(c.config.EmbedModel, "text-embedding-3") {
		req.Dimensions = c.config.Dim
	}
	resp, err := c.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, modelError(err)
	}
	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = d.Embedding
	}
	if err := checkDims(out, c.config.Dim); err != nil {
		return nil, err
	}
	return out, nil
}

// openAIEmbeddingDim returns the native output size of an OpenAI embedding model.
func openAIEmbeddingDim(model string) int {
	switch model {
	case "text-embedding-3-large":
		return 3072
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	default:
		return 1536
	}
}

func (c *OpenAIClient) Chat(ctx context.Context, prompt string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: c.config.ChatModel,
		Messages: []openai.ChatCompletionMessage{{
			Role:    openai.ChatMessageRoleUser,
			Content: prompt,
		}},
	}
	if c.config.MaxTokens > 0 {
		req.MaxTokens = c.config.MaxTokens
	}
	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", chatFailed("openai chat", modelError(err))
	}
	if len(resp.Choices) == 0 {
		return "", chatFailed("openai chat", errors.New("no response from OpenAI"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (c *OpenAIClient) Dim() int { return c.config.Dim }

// modelError tags "model not found" API errors with ErrModelUnavailable.
func modelError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && (apiErr.HTTPStatusCode == 404 || apiErr.Code == "model_not_found") {
		return errors.Join(ErrModelUnavailable, err)
	}
	return err
}

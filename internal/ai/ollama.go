package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	ollama "github.com/ollama/ollama/api"
)

const defaultOllamaHost = "http://localhost:11434"

// OllamaClient implements Embedder and LLM against a local Ollama server.
// Model presence is checked on first use and remembered once it succeeds.
type OllamaClient struct {
	config *ClientConfig
	client *ollama.Client

	mu    sync.Mutex
	ready map[string]bool
}

// NewOllamaClient creates a client for the Ollama host in config.BaseURL.
func NewOllamaClient(config *ClientConfig) (*OllamaClient, error) {
	if config.EmbedModel == "" {
		config.EmbedModel = "nomic-embed-text"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gemma3"
	}
	if config.Dim == 0 {
		config.Dim = ollamaEmbeddingDim(config.EmbedModel)
	}
	if config.BatchSize == 0 {
		config.BatchSize = 64
	}
	host := config.BaseURL
	if host == "" {
		host = defaultOllamaHost
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama host %q: %w", host, err)
	}
	httpClient := &http.Client{Timeout: 5 * time.Minute}
	return &OllamaClient{
		config: config,
		client: ollama.NewClient(u, httpClient),
		ready:  make(map[string]bool),
	}, nil
}

func (c *OllamaClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkInputs(texts); err != nil {
		return nil, err
	}
	if err := c.ensureModel(ctx, c.config.EmbedModel); err != nil {
		return nil, embedFailed("ollama embeddings", err)
	}
	vecs, err := inBatches(texts, c.config.BatchSize, func(batch []string) ([][]float32, error) {
		return c.embed(ctx, c.prefixed("search_document: ", batch))
	})
	if err != nil {
		return nil, embedFailed("ollama embeddings", err)
	}
	return vecs, nil
}

func (c *OllamaClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := checkQuery(text); err != nil {
		return nil, err
	}
	if err := c.ensureModel(ctx, c.config.EmbedModel); err != nil {
		return nil, embedFailed("ollama query embedding", err)
	}
	vecs, err := c.embed(ctx, c.prefixed("search_query: ", []string{text}))
	if err != nil {
		return nil, embedFailed("ollama query embedding", err)
	}
	if len(vecs) != 1 {
		return nil, embedFailed("ollama query embedding", errors.New("no embedding returned"))
	}
	return vecs[0], nil
}

func (c *OllamaClient) embed(ctx context.Context, input []string) ([][]float32, error) {
	res, err := c.client.Embed(ctx, &ollama.EmbedRequest{
		Model:      c.config.EmbedModel,
		Input:      input,
		Dimensions: c.config.Dim,
	})
	if err != nil {
		return nil, err
	}
	if err := checkDims(res.Embeddings, c.config.Dim); err != nil {
		return nil, err
	}
	return res.Embeddings, nil
}

// ollamaEmbeddingDim returns the native size of common Ollama embedding models.
func ollamaEmbeddingDim(model string) int {
	name, _, _ := strings.Cut(model, ":")
	switch name {
	case "mxbai-embed-large", "snowflake-arctic-embed", "bge-m3", "bge-large":
		return 1024
	case "all-minilm":
		return 384
	default:
		return 768
	}
}

// prefixed applies the task prefixes nomic embedding models are trained with.
func (c *OllamaClient) prefixed(prefix string, texts []string) []string {
	if !strings.Contains(c.config.EmbedModel, "nomic-embed") {
		return texts
	}
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = prefix + t
	}
	return out
}

func (c *OllamaClient) Chat(ctx context.Context, prompt string) (string, error) {
	if err := c.ensureModel(ctx, c.config.ChatModel); err != nil {
		return "", chatFailed("ollama chat", err)
	}

	stream := false
	req := &ollama.ChatRequest{
		Model:    c.config.ChatModel,
		Messages: []ollama.Message{{Role: "user", Content: prompt}},
		Stream:   &stream,
	}
	var text strings.Builder
	err := c.client.Chat(ctx, req, func(resp ollama.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", chatFailed("ollama chat", err)
	}
	return text.String(), nil
}

func (c *OllamaClient) Dim() int { return c.config.Dim }

// ensureModel reports ErrModelUnavailable when the server does not have model.
func (c *OllamaClient) ensureModel(ctx context.Context, model string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ready[model] {
		return nil
	}
	_, err := c.client.Show(ctx, &ollama.ShowRequest{Model: model})
	if err == nil {
		c.ready[model] = true
		return nil
	}
	var se ollama.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s (run `ollama pull %s`)", ErrModelUnavailable, model, model)
	}
	return err
}

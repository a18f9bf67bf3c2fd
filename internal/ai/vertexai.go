package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const (
	taskRetrievalDocument = "RETRIEVAL_DOCUMENT"
	taskRetrievalQuery    = "RETRIEVAL_QUERY"

	// Vertex AI accepts at most 250 instances per embedding request.
	vertexMaxBatch = 250
)

type VertexAIClient struct {
	config *ClientConfig
	client *genai.Client
}

// NewVertexAIClient creates a new client for the Google Gemini API.
func NewVertexAIClient(ctx context.Context, config *ClientConfig) (*VertexAIClient, error) {
	if config == nil {
		return nil, errors.New("config cannot be nil")
	}
	applyVertexDefaults(config)

	cc := genai.ClientConfig{
		Backend: genai.BackendVertexAI,
	}
	if strings.TrimSpace(config.APIKey) != "" {
		cc.APIKey = config.APIKey
	}
	if strings.TrimSpace(config.ProjectID) != "" {
		cc.Project = config.ProjectID
	}
	if strings.TrimSpace(config.Location) != "" {
		cc.Location = config.Location
	}
	if strings.TrimSpace(config.BaseURL) != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.BaseURL}
	}

	client, err := genai.NewClient(ctx, &cc)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &VertexAIClient{
		config: config,
		client: client,
	}, nil
}

func applyVertexDefaults(config *ClientConfig) {
	if config.EmbedModel == "" {
		config.EmbedModel = "text-embedding-005"
	}
	if config.ChatModel == "" {
		config.ChatModel = "gemini-2.0-flash"
	}
	if config.Dim == 0 {
		config.Dim = vertexEmbeddingDim(config.EmbedModel)
	}
	if config.BatchSize <= 0 || config.BatchSize > vertexMaxBatch {
		config.BatchSize = vertexMaxBatch
	}
	if config.Location == "" && strings.TrimSpace(config.APIKey) == "" {
		config.Location = "us-central1"
	}
}

// EmbedDocuments embeds texts with the RETRIEVAL_DOCUMENT task type.
func (c *VertexAIClient) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if err := checkInputs(texts); err != nil {
		return nil, err
	}
	vecs, err := inBatches(texts, c.config.BatchSize, func(batch []string) ([][]float32, error) {
		return c.embed(ctx, batch, taskRetrievalDocument)
	})
	if err != nil {
		return nil, embedFailed("vertex embeddings", err)
	}
	return vecs, nil
}

// EmbedQuery embeds text with the RETRIEVAL_QUERY task type.
func (c *VertexAIClient) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if err := checkQuery(text); err != nil {
		return nil, err
	}
	vecs, err := c.embed(ctx, []string{text}, taskRetrievalQuery)
	if err != nil {
		return nil, embedFailed("vertex query embedding", err)
	}
	if len(vecs) != 1 {
		return nil, embedFailed("vertex query embedding", errors.New("no embedding returned"))
	}
	return vecs[0], nil
}

func (c *VertexAIClient) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	res, err := c.client.Models.EmbedContent(ctx, c.config.EmbedModel, contents, c.embedConfig(task))
	if err != nil {
		return nil, vertexModelError(err)
	}
	if res == nil || len(res.Embeddings) == 0 {
		return nil, errors.New("no embedding returned")
	}
	out := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		out[i] = e.Values
	}
	if err := checkDims(out, c.config.Dim); err != nil {
		return nil, err
	}
	return out, nil
}

// embedConfig requests vectors of the configured size for task.
func (c *VertexAIClient) embedConfig(task string) *genai.EmbedContentConfig {
	cfg := &genai.EmbedContentConfig{TaskType: task}
	if c.config.Dim > 0 {
		dim := int32(c.config.Dim)
		cfg.OutputDimensionality = &dim
	}
	return cfg
}

func vertexEmbeddingDim(model string) int {
	switch model {
	case "gemini-embedding-001":
		return 3072
	default:
		return 768
	}
}

// Chat sends prompt to the configured Gemini model.
func (c *VertexAIClient) Chat(ctx context.Context, prompt string) (string, error) {
	temp := float32(0.2)
	cfg := genai.GenerateContentConfig{Temperature: &temp}
	if c.config.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(c.config.MaxTokens)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.config.ChatModel, genai.Text(prompt), &cfg)
	if err != nil {
		return "", chatFailed("gemini chat", vertexModelError(err))
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", chatFailed("gemini chat", errors.New("no response returned"))
	}
	return resp.Text(), nil
}

func (c *VertexAIClient) Dim() int {
	return c.config.Dim
}

func vertexModelError(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) && apiErr.Code == 404 {
		return errors.Join(ErrModelUnavailable, err)
	}
	return err
}

package ai

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	"github.com/seanblong/repoqa/internal/apperr"
)

var (
	// ErrEmptyInput is returned when there is nothing to embed.
	ErrEmptyInput = errors.New("empty input")
	// ErrModelUnavailable is returned when the configured model cannot be
	// found or loaded by the provider.
	ErrModelUnavailable = errors.New("model unavailable")
)

// Embedder turns text into fixed-length vectors. Documents and queries are
// embedded separately because several models encode them asymmetrically.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Dim() int
}

// LLM answers a single-turn prompt.
type LLM interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Provider is enumeration of supported AI providers
type Provider string

const (
	ProviderOpenAI    Provider = "openai"
	ProviderVertexAI  Provider = "vertexai"
	ProviderOllama    Provider = "ollama"
	ProviderAnthropic Provider = "anthropic"
	ProviderFastEmbed Provider = "fastembed"
	ProviderStub      Provider = "stub"
)

// ClientConfig holds configuration for AI clients
type ClientConfig struct {
	Provider   Provider
	APIKey     string
	BaseURL    string // API endpoint override; the host for ollama
	EmbedModel string
	ChatModel  string
	Dim        int
	ProjectID  string
	Location   string
	MaxTokens  int
	BatchSize  int
	CacheDir   string
}

// NewEmbedder creates an embedding client based on configuration.
func NewEmbedder(ctx context.Context, config *ClientConfig) (Embedder, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderOllama:
		return NewOllamaClient(config)
	case ProviderFastEmbed:
		return NewFastEmbedClient(config)
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	case ProviderAnthropic:
		return nil, errors.New("anthropic does not provide an embeddings API")
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

// NewLLM creates a chat client based on configuration.
func NewLLM(ctx context.Context, config *ClientConfig) (LLM, error) {
	if config == nil {
		return nil, errors.New("client config is required")
	}
	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config), nil
	case ProviderVertexAI:
		return NewVertexAIClient(ctx, config)
	case ProviderOllama:
		return NewOllamaClient(config)
	case ProviderAnthropic:
		return NewAnthropicClient(config), nil
	case ProviderStub:
		return NewStubClient(config.Dim), nil
	case ProviderFastEmbed:
		return nil, errors.New("fastembed only provides embeddings")
	default:
		return nil, errors.New("unsupported provider: " + string(config.Provider))
	}
}

func checkInputs(texts []string) error {
	if len(texts) == 0 {
		return apperr.E(apperr.KindEmbedding, "nothing to embed", ErrEmptyInput)
	}
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			return nil
		}
	}
	return apperr.E(apperr.KindEmbedding, "all inputs are blank", ErrEmptyInput)
}

func checkQuery(text string) error {
	if strings.TrimSpace(text) == "" {
		return apperr.E(apperr.KindEmbedding, "query is blank", ErrEmptyInput)
	}
	return nil
}

// checkDims rejects vectors whose length differs from dim. The store's
// vector columns are sized from Dim, so a mismatch fails every write.
func checkDims(vecs [][]float32, dim int) error {
	for i, v := range vecs {
		if len(v) != dim {
			return fmt.Errorf("embedding %d has %d dimensions, expected %d", i, len(v), dim)
		}
	}
	return nil
}

func embedFailed(msg string, err error) error {
	return apperr.E(apperr.KindEmbedding, msg, err)
}

func chatFailed(msg string, err error) error {
	return apperr.E(apperr.KindLLM, msg, err)
}

// inBatches calls fn for consecutive slices of at most size texts and
// concatenates the vectors. fn must return one vector per input.
func inBatches(texts []string, size int, fn func(batch []string) ([][]float32, error)) ([][]float32, error) {
	if size <= 0 {
		size = len(texts)
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += size {
		end := min(start+size, len(texts))
		vecs, err := fn(texts[start:end])
		if err != nil {
			return nil, err
		}
		if len(vecs) != end-start {
			return nil, fmt.Errorf("provider returned %d embeddings for %d inputs", len(vecs), end-start)
		}
		out = append(out, vecs...)
	}
	return out, nil
}

// StubClient is a deterministic offline implementation of Embedder and LLM.
// Embeddings are normalized bag-of-words hashes, so texts sharing words end
// up close to each other.
type StubClient struct {
	dim int
}

// NewStubClient creates a new StubClient
func NewStubClient(dim int) *StubClient {
	if dim <= 0 {
		dim = 384
	}
	return &StubClient{dim: dim}
}

func (s *StubClient) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if err := checkInputs(texts); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = s.embed(t)
	}
	return out, nil
}

func (s *StubClient) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if err := checkQuery(text); err != nil {
		return nil, err
	}
	return s.embed(text), nil
}

func (s *StubClient) embed(text string) []float32 {
	v := make([]float32, s.dim)
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '_')
	}) {
		h := fnv.New32a()
		h.Write([]byte(tok))
		v[h.Sum32()%uint32(s.dim)]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm > 0 {
		n := float32(math.Sqrt(norm))
		for i := range v {
			v[i] /= n
		}
	}
	return v
}

// Chat echoes the last line of the prompt.
func (s *StubClient) Chat(_ context.Context, prompt string) (string, error) {
	prompt = strings.TrimSpace(prompt)
	if i := strings.LastIndex(prompt, "\n"); i >= 0 {
		prompt = prompt[i+1:]
	}
	return "stub answer: " + prompt, nil
}

// Dim returns the embedding dimension
func (s *StubClient) Dim() int {
	return s.dim
}

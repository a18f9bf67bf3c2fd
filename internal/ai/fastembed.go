//go:build fastembed

package ai

import (
	"context"
	"errors"
	"runtime"
	"strings"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

// FastEmbedClient embeds locally with an ONNX model. The model is loaded on
// first use.
type FastEmbedClient struct {
	config *ClientConfig

	once  sync.Once
	model *fastembed.FlagEmbedding
	err   error
}

// NewFastEmbedClient creates a local embedder. EmbedModel names a fastembed
// model; the default is BAAI/bge-small-en-v1.5.
func NewFastEmbedClient(config *ClientConfig) (*FastEmbedClient, error) {
	if config.EmbedModel == "" {
		config.EmbedModel = string(fastembed.BGESmallENV15)
	}
	if config.Dim == 0 {
		config.Dim = fastEmbedDim(config.EmbedModel)
	}
	if config.CacheDir == "" {
		config.CacheDir = ".fastembed"
	}
	bs := config.BatchSize
	if bs <= 0 {
		bs = 64
	}
	if bs > 4*runtime.GOMAXPROCS(0) {
		bs = 4 * runtime.GOMAXPROCS(0)
	}
	config.BatchSize = bs
	return &FastEmbedClient{config: config}, nil
}

func (e *FastEmbedClient) load() error {
	e.once.Do(func() {
		e.model, e.err = fastembed.NewFlagEmbedding(&fastembed.InitOptions{
			Model:    fastembed.EmbeddingModel(e.config.EmbedModel),
			CacheDir: e.config.CacheDir,
		})
		if e.err != nil {
			e.err = errors.Join(ErrModelUnavailable, e.err)
		}
	})
	return e.err
}

func (e *FastEmbedClient) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if err := checkInputs(texts); err != nil {
		return nil, err
	}
	if err := e.load(); err != nil {
		return nil, embedFailed("load fastembed model", err)
	}
	out, err := e.model.PassageEmbed(texts, e.config.BatchSize)
	if err == nil {
		err = checkDims(out, e.config.Dim)
	}
	if err != nil {
		return nil, embedFailed("fastembed passages", err)
	}
	return out, nil
}

func (e *FastEmbedClient) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if err := checkQuery(text); err != nil {
		return nil, err
	}
	if err := e.load(); err != nil {
		return nil, embedFailed("load fastembed model", err)
	}
	out, err := e.model.QueryEmbed(text)
	if err == nil {
		err = checkDims([][]float32{out}, e.config.Dim)
	}
	if err != nil {
		return nil, embedFailed("fastembed query", err)
	}
	return out, nil
}

// fastEmbedDim returns the output size of the bundled BGE and MiniLM models.
func fastEmbedDim(model string) int {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "bge-base"):
		return 768
	case strings.Contains(m, "bge-small-zh"):
		return 512
	default:
		return 384
	}
}

func (e *FastEmbedClient) Dim() int { return e.config.Dim }

// Close releases the ONNX runtime session.
func (e *FastEmbedClient) Close() error {
	if e.model != nil {
		e.model.Destroy()
	}
	return nil
}

// Package app builds the shared runtime (providers, vector store, pipelines)
// from configuration for the binaries under cmd/.
package app

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoqa/internal/ai"
	"github.com/seanblong/repoqa/internal/answer"
	"github.com/seanblong/repoqa/internal/apperr"
	"github.com/seanblong/repoqa/internal/chunker"
	"github.com/seanblong/repoqa/internal/collection"
	"github.com/seanblong/repoqa/internal/config"
	"github.com/seanblong/repoqa/internal/indexer"
	"github.com/seanblong/repoqa/internal/store"
	"github.com/seanblong/repoqa/internal/vcs"
)

// App holds the long-lived collaborators. Construct it once in main.
type App struct {
	Config   config.Specification
	Embedder ai.Embedder
	Store    store.VectorStore
	Router   *collection.Router
	Chunker  *chunker.Chunker

	llm     ai.LLM
	closers []func()
}

// New connects the embedding provider and the vector store. The chat client
// is created lazily by Answerer so ingestion-only binaries never need one.
func New(ctx context.Context, cfg config.Specification) (*App, error) {
	a := &App{Config: cfg}

	ch, err := chunker.New(cfg.ChunkerOptions())
	if err != nil {
		return nil, err
	}
	a.Chunker = ch

	emb, err := ai.NewEmbedder(ctx, cfg.EmbedderConfig())
	if err != nil {
		return nil, apperr.E(apperr.KindInvalidConfig, "create embedder", err)
	}
	a.Embedder = emb
	if c, ok := emb.(io.Closer); ok {
		a.closers = append(a.closers, func() {
			if err := c.Close(); err != nil {
				log.Warn().Err(err).Msg("failed to close embedder")
			}
		})
	}

	dim := emb.Dim()
	if dim <= 0 {
		a.Close()
		return nil, apperr.E(apperr.KindInvalidConfig, "embedding dimension must be set", nil)
	}
	log.Info().Str("provider", cfg.Provider).Int("embedding_dim", dim).Msg("embedder initialized")

	st, err := a.openStore(ctx, dim)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = st
	a.Router = collection.NewRouter(st)
	return a, nil
}

func (a *App) openStore(ctx context.Context, dim int) (store.VectorStore, error) {
	switch strings.ToLower(a.Config.Store) {
	case config.StorePostgres:
		pg, err := store.NewPostgres(ctx, a.Config.Database)
		if err != nil {
			return nil, apperr.E(apperr.KindStorage, "connect to database", err)
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx, dim); err != nil {
			return nil, apperr.E(apperr.KindStorage, "migrate database", err)
		}
		return pg, nil
	case config.StoreQdrant:
		return store.NewQdrant(a.Config.QdrantURL, a.Config.QdrantAPIKey, dim), nil
	case config.StoreMemory:
		log.Warn().Msg("using the in-memory store; collections are lost on exit")
		return store.NewMemory(), nil
	default:
		return nil, apperr.E(apperr.KindInvalidConfig, fmt.Sprintf("unsupported store %q", a.Config.Store), nil)
	}
}

// Indexer returns an ingestion pipeline that clones with git.
func (a *App) Indexer() *indexer.Indexer {
	cloner := vcs.NewGitCloner(a.Config.GithubToken, a.Config.GitRef)
	return indexer.New(cloner, a.Embedder, a.Router, a.Chunker)
}

// Answerer returns the answering pipeline, creating the chat client on first use.
func (a *App) Answerer(ctx context.Context) (*answer.Service, error) {
	if a.llm == nil {
		llm, err := ai.NewLLM(ctx, a.Config.LLMConfig())
		if err != nil {
			return nil, apperr.E(apperr.KindInvalidConfig, "create llm client", err)
		}
		a.llm = llm
		log.Info().Str("provider", a.Config.ChatProvider()).Msg("llm initialized")
	}
	svc := answer.NewService(a.Embedder, a.llm, a.Router)
	svc.TopK = a.Config.TopK
	svc.MaxContextChars = a.Config.MaxContextChars
	return svc, nil
}

// Close releases the store connection and any local model.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// Package collection maps repositories onto vector-store collections and
// carries the active repository through a request's context.
package collection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoqa/internal/apperr"
	"github.com/seanblong/repoqa/internal/dedup"
	"github.com/seanblong/repoqa/internal/repourl"
	"github.com/seanblong/repoqa/internal/store"
	"github.com/seanblong/repoqa/pkg/models"
)

// MaxTopK bounds the number of results a single query may request.
const MaxTopK = 100

const maxSlugLength = 40

type contextKey string

const repositoryKey contextKey = "repository"

// WithRepository returns a copy of ctx scoped to repoURL. repoURL should be
// canonical (see repourl.Canonicalize) so aliases share a collection.
func WithRepository(ctx context.Context, repoURL string) context.Context {
	return context.WithValue(ctx, repositoryKey, repoURL)
}

// RepositoryFrom returns the repository set by WithRepository, if any.
func RepositoryFrom(ctx context.Context) (string, bool) {
	repo, ok := ctx.Value(repositoryKey).(string)
	return repo, ok && repo != ""
}

// Name derives the collection name for a repository URL: a readable slug of
// the repository name followed by the first 12 hex chars of the URL's SHA-256.
func Name(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	return slug(repourl.RepoName(repoURL)) + "_" + hex.EncodeToString(sum[:])[:12]
}

func slug(name string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(name) {
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '_', c == '-':
			b.WriteRune(c)
		default:
			b.WriteByte('-')
		}
		if b.Len() >= maxSlugLength {
			break
		}
	}
	if b.Len() == 0 {
		return "repo"
	}
	return b.String()
}

// Router resolves the collection for the repository in context and performs
// deduplicated writes and bounded reads against it.
type Router struct {
	store store.VectorStore
	cache sync.Map // collection name -> store.Collection
}

func NewRouter(s store.VectorStore) *Router {
	return &Router{store: s}
}

// Resolve returns the collection for the repository in ctx, creating it on
// first use.
func (r *Router) Resolve(ctx context.Context) (store.Collection, error) {
	repo, ok := RepositoryFrom(ctx)
	if !ok {
		return store.Collection{}, apperr.E(apperr.KindNoRepoContext, "no repository context set", nil)
	}
	name := Name(repo)
	if c, ok := r.cache.Load(name); ok {
		return c.(store.Collection), nil
	}

	c, err := r.store.GetOrCreateCollection(ctx, name, repo)
	if err != nil {
		return store.Collection{}, apperr.E(apperr.KindStorage, "resolve collection "+name, err)
	}
	r.cache.Store(name, c)
	return c, nil
}

// AddChunks stores texts with their vectors in the repository's collection,
// skipping chunks whose identity is already present. It returns the number
// of chunks actually written.
func (r *Router) AddChunks(ctx context.Context, texts []string, vectors [][]float32) (int, error) {
	if len(texts) != len(vectors) {
		return 0, apperr.E(apperr.KindInvalidInput,
			fmt.Sprintf("got %d texts but %d vectors", len(texts), len(vectors)), nil)
	}
	c, err := r.Resolve(ctx)
	if err != nil {
		return 0, err
	}
	if len(texts) == 0 {
		return 0, nil
	}

	ids := dedup.Identities(texts)
	existing, err := r.store.GetByIDs(ctx, c.Name, ids)
	if err != nil {
		return 0, apperr.E(apperr.KindStorage, "look up existing chunks", err)
	}
	fresh := dedup.Fresh(ids, existing)
	if len(fresh) == 0 {
		log.Debug().Str("collection", c.Name).Int("chunks", len(texts)).Msg("all chunks already stored")
		return 0, nil
	}

	records := make([]store.Record, len(fresh))
	for i, idx := range fresh {
		records[i] = store.Record{ID: ids[idx], Vector: vectors[idx], Text: texts[idx]}
	}
	if err := r.store.Upsert(ctx, c.Name, records); err != nil {
		return 0, apperr.E(apperr.KindStorage, "add chunks", err)
	}

	log.Info().
		Str("collection", c.Name).
		Int("chunks", len(texts)).
		Int("stored", len(records)).
		Msg("chunks stored")
	return len(records), nil
}

// QueryChunks returns up to k chunks nearest to vector, closest first.
func (r *Router) QueryChunks(ctx context.Context, vector []float32, k int) ([]models.QueryResult, error) {
	if len(vector) == 0 {
		return nil, apperr.E(apperr.KindInvalidInput, "query vector is empty", nil)
	}
	if k < 1 || k > MaxTopK {
		return nil, apperr.E(apperr.KindInvalidInput, fmt.Sprintf("k must be between 1 and %d, got %d", MaxTopK, k), nil)
	}
	c, err := r.Resolve(ctx)
	if err != nil {
		return nil, err
	}
	res, err := r.store.Query(ctx, c.Name, vector, k)
	if err != nil {
		return nil, apperr.E(apperr.KindStorage, "query chunks", err)
	}
	return res, nil
}

// Collections lists every known collection.
func (r *Router) Collections(ctx context.Context) ([]store.Collection, error) {
	cols, err := r.store.ListCollections(ctx)
	if err != nil {
		return nil, apperr.E(apperr.KindStorage, "list collections", err)
	}
	return cols, nil
}

package store

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/seanblong/repoqa/pkg/models"
)

type memCollection struct {
	repository string
	dim        int
	index      map[string]int
	records    []Record
}

// MemoryStore is an in-process VectorStore using brute-force cosine distance.
// It is meant for tests and single-process runs; nothing is persisted.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

func NewMemory() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

func (s *MemoryStore) GetOrCreateCollection(_ context.Context, name, repository string) (Collection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[name]
	if !ok {
		c = &memCollection{repository: repository, index: make(map[string]int)}
		s.collections[name] = c
	}
	return Collection{Name: name, Repository: c.repository}, nil
}

func (s *MemoryStore) ListCollections(_ context.Context) ([]Collection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Collection, 0, len(s.collections))
	for name, c := range s.collections {
		out = append(out, Collection{Name: name, Repository: c.repository})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) GetByIDs(_ context.Context, collection string, ids []string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	var found []string
	for _, id := range ids {
		if _, ok := c.index[id]; ok {
			found = append(found, id)
		}
	}
	return found, nil
}

func (s *MemoryStore) Upsert(_ context.Context, collection string, records []Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collection]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	for _, r := range records {
		if c.dim == 0 {
			c.dim = len(r.Vector)
		}
		if len(r.Vector) != c.dim {
			return fmt.Errorf("vector dimension mismatch: got %d, want %d", len(r.Vector), c.dim)
		}
	}
	for _, r := range records {
		if _, ok := c.index[r.ID]; ok {
			continue
		}
		c.index[r.ID] = len(c.records)
		c.records = append(c.records, Record{
			ID:     r.ID,
			Vector: append([]float32(nil), r.Vector...),
			Text:   r.Text,
		})
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, collection string, vector []float32, k int) ([]models.QueryResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collections[collection]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}
	if c.dim != 0 && len(vector) != c.dim {
		return nil, fmt.Errorf("vector dimension mismatch: got %d, want %d", len(vector), c.dim)
	}

	out := make([]models.QueryResult, len(c.records))
	for i, r := range c.records {
		out[i] = models.QueryResult{ID: r.ID, Text: r.Text, Distance: cosineDistance(vector, r.Vector)}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if k < len(out) {
		out = out[:k]
	}
	return out, nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

// cosineDistance is 1 - cos(a, b). A zero vector is at distance 1 from everything.
func cosineDistance(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

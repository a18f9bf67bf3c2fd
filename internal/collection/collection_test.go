package collection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/repoqa/internal/apperr"
	"github.com/seanblong/repoqa/internal/store"
	"github.com/seanblong/repoqa/pkg/models"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

const (
	repoA = "https://github.com/acme/alpha.git"
	repoB = "https://github.com/acme/beta.git"
)

// MockStore counts calls and delegates to optional function fields.
type MockStore struct {
	calls                     atomic.Int32
	GetOrCreateCollectionFunc func(ctx context.Context, name, repository string) (store.Collection, error)
	GetByIDsFunc              func(ctx context.Context, collection string, ids []string) ([]string, error)
	UpsertFunc                func(ctx context.Context, collection string, records []store.Record) error
	QueryFunc                 func(ctx context.Context, collection string, vector []float32, k int) ([]models.QueryResult, error)
}

func (m *MockStore) GetOrCreateCollection(ctx context.Context, name, repository string) (store.Collection, error) {
	m.calls.Add(1)
	if m.GetOrCreateCollectionFunc != nil {
		return m.GetOrCreateCollectionFunc(ctx, name, repository)
	}
	return store.Collection{Name: name, Repository: repository}, nil
}

func (m *MockStore) ListCollections(ctx context.Context) ([]store.Collection, error) {
	m.calls.Add(1)
	return nil, nil
}

func (m *MockStore) GetByIDs(ctx context.Context, collection string, ids []string) ([]string, error) {
	m.calls.Add(1)
	if m.GetByIDsFunc != nil {
		return m.GetByIDsFunc(ctx, collection, ids)
	}
	return nil, nil
}

func (m *MockStore) Upsert(ctx context.Context, collection string, records []store.Record) error {
	m.calls.Add(1)
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, collection, records)
	}
	return nil
}

func (m *MockStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]models.QueryResult, error) {
	m.calls.Add(1)
	if m.QueryFunc != nil {
		return m.QueryFunc(ctx, collection, vector, k)
	}
	return nil, nil
}

func (m *MockStore) Ping(context.Context) error { return nil }

func TestName(t *testing.T) {
	a := Name(repoA)
	if a != Name(repoA) {
		t.Error("Name should be deterministic")
	}
	if a == Name(repoB) {
		t.Error("different repositories should get different names")
	}
	if !strings.HasPrefix(a, "alpha_") || len(a) != len("alpha_")+12 {
		t.Errorf("unexpected name format: %q", a)
	}

	long := "https://github.com/o/" + strings.Repeat("x", 90) + ".git"
	if slugPart := strings.SplitN(Name(long), "_", 2)[0]; len(slugPart) != maxSlugLength {
		t.Errorf("slug length = %d, want %d", len(slugPart), maxSlugLength)
	}
	if got := Name("https://github.com/o/My.Repo.git"); !strings.HasPrefix(got, "my-repo_") {
		t.Errorf("expected sanitized slug, got %q", got)
	}
}

func TestName_IsManagedByStores(t *testing.T) {
	for _, repo := range []string{
		repoA,
		"https://github.com/o/My.Repo.git",
		"https://github.com/o/" + strings.Repeat("x", 90) + ".git",
		"https://github.com/o/snake_case-repo",
		"",
	} {
		if name := Name(repo); !store.IsManagedCollection(name) {
			t.Errorf("Name(%q) = %q is not recognized as a managed collection", repo, name)
		}
	}
}

func TestRepositoryContext(t *testing.T) {
	if _, ok := RepositoryFrom(context.Background()); ok {
		t.Error("empty context should carry no repository")
	}
	ctx := WithRepository(context.Background(), repoA)
	got, ok := RepositoryFrom(ctx)
	if !ok || got != repoA {
		t.Errorf("RepositoryFrom = %q, %v", got, ok)
	}
	inner := WithRepository(ctx, repoB)
	if got, _ := RepositoryFrom(ctx); got != repoA {
		t.Errorf("outer context changed to %q", got)
	}
	if got, _ := RepositoryFrom(inner); got != repoB {
		t.Errorf("inner context = %q", got)
	}
}

func TestResolve_NoContext(t *testing.T) {
	m := &MockStore{}
	r := NewRouter(m)

	_, err := r.Resolve(context.Background())
	if !apperr.Is(err, apperr.KindNoRepoContext) {
		t.Fatalf("expected no_repo_context, got %v", err)
	}
	if _, err := r.AddChunks(context.Background(), []string{"a"}, [][]float32{{1}}); !apperr.Is(err, apperr.KindNoRepoContext) {
		t.Errorf("AddChunks: expected no_repo_context, got %v", err)
	}
	if _, err := r.QueryChunks(context.Background(), []float32{1}, 5); !apperr.Is(err, apperr.KindNoRepoContext) {
		t.Errorf("QueryChunks: expected no_repo_context, got %v", err)
	}
	if m.calls.Load() != 0 {
		t.Errorf("store should not be touched, got %d calls", m.calls.Load())
	}
}

func TestResolve_Caches(t *testing.T) {
	var creates atomic.Int32
	m := &MockStore{
		GetOrCreateCollectionFunc: func(ctx context.Context, name, repository string) (store.Collection, error) {
			creates.Add(1)
			return store.Collection{Name: name, Repository: repository}, nil
		},
	}
	r := NewRouter(m)
	ctx := WithRepository(context.Background(), repoA)
	for i := 0; i < 3; i++ {
		c, err := r.Resolve(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if c.Name != Name(repoA) || c.Repository != repoA {
			t.Errorf("unexpected collection %+v", c)
		}
	}
	if creates.Load() != 1 {
		t.Errorf("expected one store lookup, got %d", creates.Load())
	}
}

func TestResolve_StorageError(t *testing.T) {
	m := &MockStore{
		GetOrCreateCollectionFunc: func(context.Context, string, string) (store.Collection, error) {
			return store.Collection{}, errors.New("connection refused")
		},
	}
	_, err := NewRouter(m).Resolve(WithRepository(context.Background(), repoA))
	if !apperr.Is(err, apperr.KindStorage) {
		t.Errorf("expected storage_failed, got %v", err)
	}
}

func TestQueryChunks_ValidatesBeforeStoreAccess(t *testing.T) {
	tests := []struct {
		name   string
		vector []float32
		k      int
	}{
		{"zero k", []float32{1}, 0},
		{"negative k", []float32{1}, -3},
		{"k above max", []float32{1}, MaxTopK + 1},
		{"empty vector", nil, 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &MockStore{}
			r := NewRouter(m)
			_, err := r.QueryChunks(WithRepository(context.Background(), repoA), tt.vector, tt.k)
			if !apperr.Is(err, apperr.KindInvalidInput) {
				t.Fatalf("expected invalid_input, got %v", err)
			}
			if m.calls.Load() != 0 {
				t.Errorf("store accessed %d times", m.calls.Load())
			}
		})
	}
}

func TestAddChunks_LengthMismatch(t *testing.T) {
	r := NewRouter(&MockStore{})
	_, err := r.AddChunks(WithRepository(context.Background(), repoA), []string{"a", "b"}, [][]float32{{1}})
	if !apperr.Is(err, apperr.KindInvalidInput) {
		t.Errorf("expected invalid_input, got %v", err)
	}
}

func TestAddChunks_UpsertFailure(t *testing.T) {
	m := &MockStore{
		UpsertFunc: func(context.Context, string, []store.Record) error { return errors.New("disk full") },
	}
	_, err := NewRouter(m).AddChunks(WithRepository(context.Background(), repoA), []string{"a"}, [][]float32{{1}})
	if !apperr.Is(err, apperr.KindStorage) {
		t.Errorf("expected storage_failed, got %v", err)
	}
}

func TestAddChunks_Idempotent(t *testing.T) {
	r := NewRouter(store.NewMemory())
	ctx := WithRepository(context.Background(), repoA)
	texts := []string{"alpha", "beta", "alpha", "gamma"}
	vecs := [][]float32{{1, 0}, {0, 1}, {1, 0}, {1, 1}}

	n, err := r.AddChunks(ctx, texts, vecs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("first ingestion stored %d, want 3", n)
	}
	n, err = r.AddChunks(ctx, texts, vecs)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("second ingestion stored %d, want 0", n)
	}

	res, err := r.QueryChunks(ctx, []float32{1, 0}, MaxTopK)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 3 {
		t.Errorf("collection holds %d chunks, want 3", len(res))
	}
}

func TestQueryChunks_RoundTrip(t *testing.T) {
	r := NewRouter(store.NewMemory())
	ctx := WithRepository(context.Background(), repoA)
	if _, err := r.AddChunks(ctx, []string{"needle", "hay"}, [][]float32{{0, 1}, {1, 0}}); err != nil {
		t.Fatal(err)
	}

	res, err := r.QueryChunks(ctx, []float32{0, 1}, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 || res[0].Text != "needle" {
		t.Errorf("expected needle first, got %+v", res)
	}
}

func TestRouter_RepositoriesAreIsolated(t *testing.T) {
	r := NewRouter(store.NewMemory())
	ctxA := WithRepository(context.Background(), repoA)
	ctxB := WithRepository(context.Background(), repoB)

	if _, err := r.AddChunks(ctxA, []string{"from alpha"}, [][]float32{{1, 0}}); err != nil {
		t.Fatal(err)
	}
	res, err := r.QueryChunks(ctxB, []float32{1, 0}, 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 0 {
		t.Errorf("repository B sees %d chunks from A", len(res))
	}
}

func TestRouter_ConcurrentRepositories(t *testing.T) {
	r := NewRouter(store.NewMemory())
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			repo := repoA
			if i%2 == 1 {
				repo = repoB
			}
			ctx := WithRepository(context.Background(), repo)
			text := fmt.Sprintf("%s chunk %d", repo, i)
			if _, err := r.AddChunks(ctx, []string{text}, [][]float32{{1, float32(i)}}); err != nil {
				t.Errorf("AddChunks: %v", err)
			}
		}(i)
	}
	wg.Wait()

	for _, repo := range []string{repoA, repoB} {
		res, err := r.QueryChunks(WithRepository(context.Background(), repo), []float32{1, 0}, MaxTopK)
		if err != nil {
			t.Fatal(err)
		}
		if len(res) != 10 {
			t.Errorf("%s: got %d chunks, want 10", repo, len(res))
		}
		for _, q := range res {
			if !strings.HasPrefix(q.Text, repo) {
				t.Errorf("%s: found foreign chunk %q", repo, q.Text)
			}
		}
	}

	cols, err := r.Collections(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(cols) != 2 {
		t.Errorf("expected 2 collections, got %d", len(cols))
	}
}

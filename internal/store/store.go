package store

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
	"github.com/seanblong/repoqa/pkg/models"
)

// managedName matches the names collection.Name produces: a slug of at most
// 40 characters, an underscore and 12 hex digits of the repository hash.
var managedName = regexp.MustCompile(`^[a-z0-9_-]{1,40}_[0-9a-f]{12}$`)

// IsManagedCollection reports whether name follows the repository collection
// naming scheme. Stores shared with other tools use it to skip foreign
// collections.
func IsManagedCollection(name string) bool {
	return managedName.MatchString(name)
}

// ErrCollectionNotFound is returned when an operation names a collection
// that was never created.
var ErrCollectionNotFound = errors.New("collection not found")

// Collection is an isolated partition of stored chunks belonging to one
// repository.
type Collection struct {
	Name       string `json:"name"`
	Repository string `json:"repository"`
}

// Record is a chunk ready to be stored: identity, embedding and text.
type Record struct {
	ID     string
	Vector []float32
	Text   string
}

// VectorStore defines the methods every vector backend must implement.
// Upsert is keyed by Record.ID, so storing the same record twice is a no-op.
type VectorStore interface {
	GetOrCreateCollection(ctx context.Context, name, repository string) (Collection, error)
	ListCollections(ctx context.Context) ([]Collection, error)
	GetByIDs(ctx context.Context, collection string, ids []string) ([]string, error)
	Upsert(ctx context.Context, collection string, records []Record) error
	Query(ctx context.Context, collection string, vector []float32, k int) ([]models.QueryResult, error)
	Ping(ctx context.Context) error
}

// PostgresStore is a VectorStore backed by Postgres with the pgvector extension.
type PostgresStore struct {
	pool *pgxpool.Pool

	// iterativeScan is set by Migrate when pgvector supports
	// hnsw.iterative_scan (0.8.0 and later).
	iterativeScan bool
}

// NewPostgres creates a new PostgresStore connected to the given database URL.
func NewPostgres(ctx context.Context, url string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &PostgresStore{pool: p}, nil
}

func (s *PostgresStore) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
func (s *PostgresStore) Migrate(ctx context.Context, dim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS collections (
  name        TEXT PRIMARY KEY,
  repository  TEXT NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS chunks (
  collection  TEXT NOT NULL REFERENCES collections (name),
  id          TEXT NOT NULL,
  content     TEXT NOT NULL,
  embedding   vector(%d) NOT NULL,
  created_at  TIMESTAMP WITH TIME ZONE DEFAULT now(),
  PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS chunks_collection_idx ON chunks (collection);

CREATE INDEX IF NOT EXISTS chunks_embedding_idx
  ON chunks USING hnsw (embedding vector_cosine_ops);
`
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(q, dim)); err != nil {
		return err
	}

	var version string
	if err := s.pool.QueryRow(ctx, "SELECT extversion FROM pg_extension WHERE extname = 'vector'").Scan(&version); err != nil {
		return fmt.Errorf("read pgvector version: %w", err)
	}
	s.iterativeScan = supportsIterativeScan(version)
	return nil
}

// supportsIterativeScan reports whether a pgvector version is 0.8.0 or later.
func supportsIterativeScan(version string) bool {
	var major, minor int
	if _, err := fmt.Sscanf(version, "%d.%d", &major, &minor); err != nil {
		return false
	}
	return major > 0 || minor >= 8
}

// GetOrCreateCollection registers the collection if it does not exist and
// returns the stored row.
func (s *PostgresStore) GetOrCreateCollection(ctx context.Context, name, repository string) (Collection, error) {
	const q = `
		INSERT INTO collections (name, repository) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET name = EXCLUDED.name
		RETURNING name, repository`
	var c Collection
	if err := s.pool.QueryRow(ctx, q, name, repository).Scan(&c.Name, &c.Repository); err != nil {
		return Collection{}, err
	}
	return c, nil
}

// ListCollections returns all collections ordered by name.
func (s *PostgresStore) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.pool.Query(ctx, "SELECT name, repository FROM collections ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Collection
	for rows.Next() {
		var c Collection
		if err := rows.Scan(&c.Name, &c.Repository); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetByIDs returns the subset of ids already stored in the collection.
func (s *PostgresStore) GetByIDs(ctx context.Context, collection string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx,
		"SELECT id FROM chunks WHERE collection = $1 AND id = ANY($2)", collection, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var found []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		found = append(found, id)
	}
	return found, rows.Err()
}

// Upsert inserts records in a single batch. Rows whose id already exists are
// left untouched.
func (s *PostgresStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	const q = `
		INSERT INTO chunks (collection, id, content, embedding)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, id) DO NOTHING`

	b := &pgx.Batch{}
	for _, r := range records {
		b.Queue(q, collection, r.ID, r.Text, pgvector.NewVector(r.Vector))
	}
	br := s.pool.SendBatch(ctx, b)
	for i := range records {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("insert chunk %s: %w", records[i].ID, err)
		}
	}
	return br.Close()
}

// Query returns the k nearest chunks by cosine distance. The HNSW index is
// shared by all collections, so a filtered approximate scan can come back
// short; in that case the collection is searched exactly.
func (s *PostgresStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]models.QueryResult, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if s.iterativeScan {
		if _, err := tx.Exec(ctx, "SET LOCAL hnsw.iterative_scan = relaxed_order"); err != nil {
			return nil, err
		}
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf("SET LOCAL hnsw.ef_search = %d", efSearch(k))); err != nil {
		return nil, err
	}

	vec := pgvector.NewVector(vector)
	out, err := queryNearest(ctx, tx, collection, vec, k)
	if err != nil || len(out) >= k {
		return out, err
	}

	// Bitmap scans on chunks_collection_idx stay enabled.
	if _, err := tx.Exec(ctx, "SET LOCAL enable_indexscan = off"); err != nil {
		return nil, err
	}
	return queryNearest(ctx, tx, collection, vec, k)
}

func queryNearest(ctx context.Context, tx pgx.Tx, collection string, vec pgvector.Vector, k int) ([]models.QueryResult, error) {
	// relaxed_order may return rows slightly out of order; re-sort them.
	const q = `
		WITH nearest AS MATERIALIZED (
			SELECT id, content, embedding <=> $2 AS distance
			FROM chunks
			WHERE collection = $1
			ORDER BY embedding <=> $2
			LIMIT $3
		)
		SELECT id, content, distance FROM nearest ORDER BY distance, id`
	rows, err := tx.Query(ctx, q, collection, vec, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.QueryResult
	for rows.Next() {
		var r models.QueryResult
		if err := rows.Scan(&r.ID, &r.Text, &r.Distance); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// efSearch sizes the HNSW candidate list for k results within pgvector's
// 1..1000 range.
func efSearch(k int) int {
	return min(max(40, 4*k), 1000)
}

// Ping checks the database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/seanblong/repoqa/pkg/models"
)

// pointNamespace seeds the deterministic UUIDs used as Qdrant point ids.
var pointNamespace = uuid.MustParse("6f1c3c1e-5a2b-4d7e-9a61-0c8e2f4b7d10")

// qdrantStatus supports both `status: "ok"` and `status: {"error":"..."}`.
type qdrantStatus struct {
	State string
	Error string
}

func (s *qdrantStatus) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		s.State = strings.ToLower(v)
		return nil
	}
	var obj struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	if obj.Error != "" {
		s.State = "error"
		s.Error = obj.Error
	}
	return nil
}

type qdrantEnvelope[T any] struct {
	Status qdrantStatus `json:"status"`
	Result T            `json:"result"`
}

type qdrantPoint struct {
	ID      json.RawMessage `json:"id"`
	Score   float64         `json:"score"`
	Payload qdrantPayload   `json:"payload"`
}

type qdrantPayload struct {
	ChunkID    string `json:"chunk_id"`
	Text       string `json:"text"`
	Repository string `json:"repository"`
}

type qdrantCollections struct {
	Collections []struct {
		Name string `json:"name"`
	} `json:"collections"`
}

type qdrantScroll struct {
	Points []qdrantPoint `json:"points"`
}

// QdrantStore is a VectorStore talking to Qdrant's REST API. Each chunk id is
// mapped to a deterministic point UUID, so re-upserting a chunk overwrites
// the same point.
type QdrantStore struct {
	baseURL string
	apiKey  string
	dim     int
	client  *http.Client

	mu    sync.RWMutex
	repos map[string]string // collection name -> repository, stamped on points
}

// NewQdrant creates a Qdrant-backed store. dim is used when collections are
// created.
func NewQdrant(baseURL, apiKey string, dim int) *QdrantStore {
	if baseURL == "" {
		baseURL = "http://localhost:6333"
	}
	return &QdrantStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		dim:     dim,
		client:  &http.Client{Timeout: 15 * time.Second},
		repos:   make(map[string]string),
	}
}

// PointID returns the Qdrant point UUID for a chunk id.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

func collectionPath(name string) string {
	return "/collections/" + url.PathEscape(name)
}

func (qs *QdrantStore) GetOrCreateCollection(ctx context.Context, name, repository string) (Collection, error) {
	if err := qs.ensureCollection(ctx, name); err != nil {
		return Collection{}, err
	}
	qs.mu.Lock()
	qs.repos[name] = repository
	qs.mu.Unlock()
	return Collection{Name: name, Repository: repository}, nil
}

func (qs *QdrantStore) ensureCollection(ctx context.Context, name string) error {
	err := qs.do(ctx, http.MethodGet, collectionPath(name), nil, nil)
	if err == nil {
		return nil
	}
	var he *httpError
	if !errors.As(err, &he) || he.status != http.StatusNotFound {
		return err
	}

	req := map[string]any{
		"vectors": map[string]any{"size": qs.dim, "distance": "Cosine"},
	}
	if err := qs.do(ctx, http.MethodPut, collectionPath(name), req, nil); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return nil
		}
		return fmt.Errorf("create collection %s: %w", name, err)
	}
	return nil
}

// ListCollections lists the repository collections in the Qdrant instance,
// skipping collections whose names this service would never generate. The
// repository of a collection not seen by this process is read from the
// payload of one stored point and is empty for empty collections.
func (qs *QdrantStore) ListCollections(ctx context.Context) ([]Collection, error) {
	var resp qdrantEnvelope[qdrantCollections]
	if err := qs.do(ctx, http.MethodGet, "/collections", nil, &resp); err != nil {
		return nil, err
	}
	out := make([]Collection, 0, len(resp.Result.Collections))
	for _, c := range resp.Result.Collections {
		if !IsManagedCollection(c.Name) {
			continue
		}
		repo, err := qs.repository(ctx, c.Name)
		if err != nil {
			return nil, err
		}
		out = append(out, Collection{Name: c.Name, Repository: repo})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (qs *QdrantStore) repository(ctx context.Context, name string) (string, error) {
	qs.mu.RLock()
	repo, ok := qs.repos[name]
	qs.mu.RUnlock()
	if ok {
		return repo, nil
	}

	req := map[string]any{"limit": 1, "with_payload": []string{"repository"}}
	var scroll qdrantEnvelope[qdrantScroll]
	if err := qs.do(ctx, http.MethodPost, collectionPath(name)+"/points/scroll", req, &scroll); err != nil {
		return "", err
	}
	if len(scroll.Result.Points) == 0 {
		return "", nil
	}
	repo = scroll.Result.Points[0].Payload.Repository
	if repo != "" {
		qs.mu.Lock()
		qs.repos[name] = repo
		qs.mu.Unlock()
	}
	return repo, nil
}

func (qs *QdrantStore) GetByIDs(ctx context.Context, collection string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	points := make([]string, len(ids))
	for i, id := range ids {
		points[i] = PointID(id)
	}
	req := map[string]any{"ids": points, "with_payload": []string{"chunk_id"}}
	var resp qdrantEnvelope[[]qdrantPoint]
	if err := qs.do(ctx, http.MethodPost, collectionPath(collection)+"/points", req, &resp); err != nil {
		return nil, err
	}
	found := make([]string, 0, len(resp.Result))
	for _, p := range resp.Result {
		found = append(found, p.Payload.ChunkID)
	}
	return found, nil
}

func (qs *QdrantStore) Upsert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	qs.mu.RLock()
	repository := qs.repos[collection]
	qs.mu.RUnlock()
	points := make([]map[string]any, len(records))
	for i, r := range records {
		points[i] = map[string]any{
			"id":     PointID(r.ID),
			"vector": r.Vector,
			"payload": qdrantPayload{
				ChunkID:    r.ID,
				Text:       r.Text,
				Repository: repository,
			},
		}
	}
	req := map[string]any{"points": points}
	return qs.do(ctx, http.MethodPut, collectionPath(collection)+"/points?wait=true", req, nil)
}

func (qs *QdrantStore) Query(ctx context.Context, collection string, vector []float32, k int) ([]models.QueryResult, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        k,
		"with_payload": true,
	}
	var resp qdrantEnvelope[[]qdrantPoint]
	if err := qs.do(ctx, http.MethodPost, collectionPath(collection)+"/points/search", req, &resp); err != nil {
		return nil, err
	}
	out := make([]models.QueryResult, 0, len(resp.Result))
	for _, p := range resp.Result {
		out = append(out, models.QueryResult{
			ID:       p.Payload.ChunkID,
			Text:     p.Payload.Text,
			Distance: 1 - p.Score,
		})
	}
	return out, nil
}

func (qs *QdrantStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return qs.do(ctx, http.MethodGet, "/collections", nil, nil)
}

type httpError struct {
	method, url string
	status      int
	body        string
}

func (e *httpError) Error() string {
	return fmt.Sprintf("qdrant %s %s -> http %d: %s", e.method, e.url, e.status, e.body)
}

func (qs *QdrantStore) do(ctx context.Context, method, path string, body any, out any) error {
	u := qs.baseURL + path

	var buf io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if qs.apiKey != "" {
		req.Header.Set("api-key", qs.apiKey)
	}
	resp, err := qs.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	payload, _ := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if resp.StatusCode >= 400 {
		var env qdrantEnvelope[json.RawMessage]
		msg := strings.TrimSpace(string(payload))
		if json.Unmarshal(payload, &env) == nil && env.Status.Error != "" {
			msg = env.Status.Error
		}
		return &httpError{method: method, url: u, status: resp.StatusCode, body: msg}
	}

	if out != nil && len(payload) > 0 {
		if err := json.Unmarshal(payload, out); err != nil {
			return fmt.Errorf("decode qdrant response: %w", err)
		}
	}
	return nil
}

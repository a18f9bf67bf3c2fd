package ai

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/seanblong/repoqa/internal/apperr"
)

func TestProviderConstants(t *testing.T) {
	tests := []struct {
		provider Provider
		expected string
	}{
		{ProviderOpenAI, "openai"},
		{ProviderVertexAI, "vertexai"},
		{ProviderOllama, "ollama"},
		{ProviderAnthropic, "anthropic"},
		{ProviderFastEmbed, "fastembed"},
		{ProviderStub, "stub"},
	}

	for _, tt := range tests {
		t.Run(string(tt.provider), func(t *testing.T) {
			if string(tt.provider) != tt.expected {
				t.Errorf("Provider constant mismatch. Expected: %s, Got: %s", tt.expected, string(tt.provider))
			}
		})
	}
}

func TestNewEmbedder(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name        string
		config      *ClientConfig
		expectError bool
		errorMsg    string
	}{
		{name: "nil config", config: nil, expectError: true, errorMsg: "client config is required"},
		{name: "stub", config: &ClientConfig{Provider: ProviderStub, Dim: 8}},
		{name: "openai", config: &ClientConfig{Provider: ProviderOpenAI, APIKey: "k"}},
		{name: "ollama", config: &ClientConfig{Provider: ProviderOllama}},
		{name: "anthropic has no embeddings", config: &ClientConfig{Provider: ProviderAnthropic}, expectError: true, errorMsg: "embeddings"},
		{name: "unknown", config: &ClientConfig{Provider: "nope"}, expectError: true, errorMsg: "unsupported provider: nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewEmbedder(ctx, tt.config)
			if tt.expectError {
				if err == nil || !strings.Contains(err.Error(), tt.errorMsg) {
					t.Fatalf("expected error containing %q, got %v", tt.errorMsg, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if e.Dim() <= 0 {
				t.Errorf("expected positive dimension, got %d", e.Dim())
			}
		})
	}
}

func TestNewLLM(t *testing.T) {
	ctx := context.Background()
	for _, p := range []Provider{ProviderStub, ProviderOpenAI, ProviderOllama, ProviderAnthropic} {
		if _, err := NewLLM(ctx, &ClientConfig{Provider: p, APIKey: "k"}); err != nil {
			t.Errorf("NewLLM(%s): %v", p, err)
		}
	}
	if _, err := NewLLM(ctx, &ClientConfig{Provider: ProviderFastEmbed}); err == nil {
		t.Error("fastembed should not provide an LLM")
	}
	if _, err := NewLLM(ctx, nil); err == nil {
		t.Error("nil config should fail")
	}
}

func TestProviderDefaults(t *testing.T) {
	oa := &ClientConfig{}
	NewOpenAIClient(oa)
	if oa.EmbedModel != "text-embedding-3-small" || oa.Dim != 1536 {
		t.Errorf("unexpected openai defaults: %+v", oa)
	}

	ol := &ClientConfig{}
	if _, err := NewOllamaClient(ol); err != nil {
		t.Fatal(err)
	}
	if ol.EmbedModel != "nomic-embed-text" || ol.ChatModel != "gemma3" || ol.Dim != 768 {
		t.Errorf("unexpected ollama defaults: %+v", ol)
	}

	vx := &ClientConfig{}
	applyVertexDefaults(vx)
	if vx.EmbedModel != "text-embedding-005" || vx.Location != "us-central1" || vx.BatchSize != vertexMaxBatch {
		t.Errorf("unexpected vertex defaults: %+v", vx)
	}
	vk := &ClientConfig{APIKey: "k", BatchSize: 1000}
	applyVertexDefaults(vk)
	if vk.Location != "" || vk.BatchSize != vertexMaxBatch {
		t.Errorf("unexpected vertex defaults with API key: %+v", vk)
	}
}

func TestStubClient_Embeddings(t *testing.T) {
	s := NewStubClient(64)
	ctx := context.Background()

	vecs, err := s.EmbedDocuments(ctx, []string{"func main", "func main", "package store"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 || len(vecs[0]) != 64 {
		t.Fatalf("unexpected shape: %d x %d", len(vecs), len(vecs[0]))
	}
	for i := range vecs[0] {
		if vecs[0][i] != vecs[1][i] {
			t.Fatal("identical texts should embed identically")
		}
	}

	q, err := s.EmbedQuery(ctx, "main")
	if err != nil {
		t.Fatal(err)
	}
	if len(q) != s.Dim() {
		t.Errorf("query dim = %d", len(q))
	}
}

func TestStubClient_EmptyInput(t *testing.T) {
	s := NewStubClient(0)
	ctx := context.Background()
	if s.Dim() != 384 {
		t.Errorf("default dim = %d", s.Dim())
	}

	for _, in := range [][]string{nil, {}, {"  ", "\n"}} {
		_, err := s.EmbedDocuments(ctx, in)
		if !errors.Is(err, ErrEmptyInput) {
			t.Errorf("EmbedDocuments(%q): expected ErrEmptyInput, got %v", in, err)
		}
		if !apperr.Is(err, apperr.KindEmbedding) {
			t.Errorf("expected embedding_failed kind, got %v", apperr.KindOf(err))
		}
	}
	_, err := s.EmbedQuery(ctx, " ")
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("EmbedQuery: expected ErrEmptyInput, got %v", err)
	}
	if !apperr.Is(err, apperr.KindEmbedding) {
		t.Errorf("EmbedQuery: expected embedding_failed kind, got %v", apperr.KindOf(err))
	}
}

func TestCheckDims(t *testing.T) {
	tests := []struct {
		name    string
		vecs    [][]float32
		dim     int
		wantErr bool
	}{
		{"matching", [][]float32{{1, 2, 3}, {4, 5, 6}}, 3, false},
		{"empty batch", nil, 3, false},
		{"longer than configured", [][]float32{{1, 2, 3}, {1, 2, 3, 4}}, 3, true},
		{"shorter than configured", [][]float32{{1}}, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := checkDims(tt.vecs, tt.dim)
			if (err != nil) != tt.wantErr {
				t.Errorf("checkDims() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestStubClient_Chat(t *testing.T) {
	got, err := NewStubClient(8).Chat(context.Background(), "context\n\nUser question:\nwhat is this?")
	if err != nil {
		t.Fatal(err)
	}
	if got != "stub answer: what is this?" {
		t.Errorf("Chat = %q", got)
	}
}

func TestInBatches(t *testing.T) {
	texts := []string{"a", "b", "c", "d", "e"}
	var sizes []int
	out, err := inBatches(texts, 2, func(batch []string) ([][]float32, error) {
		sizes = append(sizes, len(batch))
		vecs := make([][]float32, len(batch))
		for i, b := range batch {
			vecs[i] = []float32{float32(b[0])}
		}
		return vecs, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(sizes) != 3 || sizes[0] != 2 || sizes[2] != 1 {
		t.Errorf("unexpected batch sizes %v", sizes)
	}
	if len(out) != 5 || out[4][0] != 'e' {
		t.Errorf("vectors out of order: %v", out)
	}

	_, err = inBatches(texts, 0, func(batch []string) ([][]float32, error) {
		return make([][]float32, len(batch)-1), nil
	})
	if err == nil {
		t.Error("expected error on short provider response")
	}
}

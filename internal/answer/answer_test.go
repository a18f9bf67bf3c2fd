package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/seanblong/repoqa/internal/ai"
	"github.com/seanblong/repoqa/internal/apperr"
	"github.com/seanblong/repoqa/internal/collection"
	"github.com/seanblong/repoqa/internal/store"
)

func init() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

const testRepo = "https://github.com/acme/widgets"

// MockEmbedder implements ai.Embedder for testing. Questions must only use
// query mode, so EmbedDocuments records the call and fails.
type MockEmbedder struct {
	EmbedQueryFunc func(ctx context.Context, text string) ([]float32, error)
	QueryCalls     int
	DocumentCalls  int
}

func (m *MockEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	m.DocumentCalls++
	return nil, errors.New("EmbedDocuments called while answering")
}

func (m *MockEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	m.QueryCalls++
	if m.EmbedQueryFunc != nil {
		return m.EmbedQueryFunc(ctx, text)
	}
	return ai.NewStubClient(8).EmbedQuery(ctx, text)
}

func (m *MockEmbedder) Dim() int { return 8 }

// MockLLM implements ai.LLM for testing
type MockLLM struct {
	ChatFunc func(ctx context.Context, prompt string) (string, error)
	Prompts  []string
}

func (m *MockLLM) Chat(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, prompt)
	}
	return "mocked answer", nil
}

func newService(emb *MockEmbedder, llm *MockLLM) (*Service, *collection.Router) {
	router := collection.NewRouter(store.NewMemory())
	return NewService(emb, llm, router), router
}

func seed(t *testing.T, router *collection.Router, texts ...string) {
	t.Helper()
	ctx := collection.WithRepository(context.Background(), "https://github.com/acme/widgets.git")
	vecs, err := ai.NewStubClient(8).EmbedDocuments(ctx, texts)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := router.AddChunks(ctx, texts, vecs); err != nil {
		t.Fatal(err)
	}
}

func TestAnswer_NoHitsFallsBackToGeneralKnowledge(t *testing.T) {
	llm := &MockLLM{}
	svc, _ := newService(&MockEmbedder{}, llm)

	got, err := svc.Answer(context.Background(), "How does auth work?", testRepo)
	if err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if got != "mocked answer" {
		t.Errorf("Answer = %q, want the LLM text verbatim", got)
	}
	if len(llm.Prompts) != 1 {
		t.Fatalf("expected exactly one LLM call, got %d", len(llm.Prompts))
	}
	p := llm.Prompts[0]
	if !strings.Contains(p, "No project-specific context") || !strings.Contains(p, "How does auth work?") {
		t.Errorf("unexpected fallback prompt:\n%s", p)
	}
}

func TestAnswer_UsesRetrievedContext(t *testing.T) {
	llm := &MockLLM{}
	emb := &MockEmbedder{}
	svc, router := newService(emb, llm)
	seed(t, router,
		"# File: auth/jwt.go\n# Chunk: complete-file\n\nfunc IssueToken() {}",
		"# File: auth/oauth.go\n# Chunk: complete-file\n\nfunc ExchangeCode() {}",
	)

	if _, err := svc.Answer(context.Background(), "Where are tokens issued?", "https://github.com/ACME/widgets.git"); err != nil {
		t.Fatalf("Answer: %v", err)
	}
	if emb.QueryCalls != 1 || emb.DocumentCalls != 0 {
		t.Errorf("embedder calls: query=%d documents=%d, want query=1 documents=0", emb.QueryCalls, emb.DocumentCalls)
	}
	p := llm.Prompts[0]
	for _, want := range []string{"func IssueToken()", "func ExchangeCode()", contextSeparator, "Answer only from the context"} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q:\n%s", want, p)
		}
	}
}

func TestAnswer_RepositoriesAreIsolated(t *testing.T) {
	llm := &MockLLM{}
	svc, router := newService(&MockEmbedder{}, llm)
	seed(t, router, "secret widgets code")

	if _, err := svc.Answer(context.Background(), "What is here?", "https://github.com/acme/gadgets"); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(llm.Prompts[0], "secret widgets code") {
		t.Error("context from another repository leaked into the prompt")
	}
}

func TestAnswer_WithoutRepository(t *testing.T) {
	emb := &MockEmbedder{}
	llm := &MockLLM{}
	svc, _ := newService(emb, llm)

	got, err := svc.Answer(context.Background(), "What is a goroutine?", "")
	if err != nil {
		t.Fatal(err)
	}
	if got != "mocked answer" {
		t.Errorf("Answer = %q", got)
	}
	if emb.QueryCalls != 0 {
		t.Error("no retrieval should happen without a repository")
	}
	if !strings.Contains(llm.Prompts[0], "repository-scoped") {
		t.Errorf("general prompt should mention repository-scoped analysis:\n%s", llm.Prompts[0])
	}
}

func TestAnswer_Errors(t *testing.T) {
	tests := []struct {
		name     string
		question string
		repo     string
		emb      *MockEmbedder
		llm      *MockLLM
		want     apperr.Kind
	}{
		{
			name:     "empty question",
			question: "   ",
			repo:     testRepo,
			emb:      &MockEmbedder{},
			llm:      &MockLLM{},
			want:     apperr.KindInvalidInput,
		},
		{
			name:     "invalid repository",
			question: "hi",
			repo:     "https://example.com/a/b",
			emb:      &MockEmbedder{},
			llm:      &MockLLM{},
			want:     apperr.KindInvalidInput,
		},
		{
			name:     "embedding failure",
			question: "hi",
			repo:     testRepo,
			emb: &MockEmbedder{EmbedQueryFunc: func(context.Context, string) ([]float32, error) {
				return nil, errors.New("connection refused")
			}},
			llm:  &MockLLM{},
			want: apperr.KindEmbedding,
		},
		{
			name:     "llm failure",
			question: "hi",
			repo:     testRepo,
			emb:      &MockEmbedder{},
			llm: &MockLLM{ChatFunc: func(context.Context, string) (string, error) {
				return "", errors.New("503")
			}},
			want: apperr.KindLLM,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newService(tt.emb, tt.llm)
			_, err := svc.Answer(context.Background(), tt.question, tt.repo)
			if !apperr.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateQuestion(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"trimmed", "  what?  ", "what?", false},
		{"newlines and tabs allowed", "line one\n\tline two", "line one\n\tline two", false},
		{"empty", "", "", true},
		{"control character", "bad\x00input", "", true},
		{"escape character", "bad\x1binput", "", true},
		{"at limit", strings.Repeat("a", MaxQuestionLength), strings.Repeat("a", MaxQuestionLength), false},
		{"too long", strings.Repeat("a", MaxQuestionLength+1), "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateQuestion(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBuildPrompt_DeduplicatesSnippets(t *testing.T) {
	p := BuildPrompt("q", []string{"alpha", "beta", "alpha"}, 0)
	if strings.Count(p, "alpha") != 1 {
		t.Errorf("duplicate snippet kept:\n%s", p)
	}
	if !strings.Contains(p, "alpha"+contextSeparator+"beta") {
		t.Errorf("snippets not joined in order:\n%s", p)
	}
}

func TestBuildPrompt_Truncation(t *testing.T) {
	p := BuildPrompt("q", []string{strings.Repeat("é", 50)}, 10)
	if !strings.Contains(p, strings.Repeat("é", 10)+"\n"+truncatedMarker) {
		t.Errorf("expected rune-safe truncation with marker:\n%s", p)
	}
	if strings.Contains(p, strings.Repeat("é", 11)) {
		t.Error("context exceeds the limit")
	}

	short := BuildPrompt("q", []string{"short"}, 10)
	if strings.Contains(short, truncatedMarker) {
		t.Error("short context should not be marked truncated")
	}
}

func TestBuildPrompt_NoSnippets(t *testing.T) {
	p := BuildPrompt("why?", nil, 100)
	if !strings.Contains(p, "No project-specific context") || !strings.Contains(p, "re-ingesting") {
		t.Errorf("unexpected prompt:\n%s", p)
	}
}

func TestPrompt_DoesNotCallLLM(t *testing.T) {
	llm := &MockLLM{}
	svc, _ := newService(&MockEmbedder{}, llm)
	p, err := svc.Prompt(context.Background(), "q", testRepo)
	if err != nil {
		t.Fatal(err)
	}
	if p == "" || len(llm.Prompts) != 0 {
		t.Errorf("Prompt should build without chatting (calls=%d)", len(llm.Prompts))
	}
}

// Package answer turns a question, optionally scoped to a repository, into a
// single LLM call grounded on retrieved chunks.
package answer

import (
	"context"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoqa/internal/ai"
	"github.com/seanblong/repoqa/internal/apperr"
	"github.com/seanblong/repoqa/internal/collection"
	"github.com/seanblong/repoqa/internal/dedup"
	"github.com/seanblong/repoqa/internal/repourl"
)

const (
	DefaultTopK            = 5
	DefaultMaxContextChars = 12000
	MaxQuestionLength      = 2000

	contextSeparator = "\n---\n"
	truncatedMarker  = "[context truncated]"
)

// Service answers questions against the collections managed by Router.
type Service struct {
	Embedder        ai.Embedder
	LLM             ai.LLM
	Router          *collection.Router
	TopK            int
	MaxContextChars int
}

// NewService creates a new answer service with default retrieval settings
func NewService(embedder ai.Embedder, llm ai.LLM, router *collection.Router) *Service {
	return &Service{
		Embedder:        embedder,
		LLM:             llm,
		Router:          router,
		TopK:            DefaultTopK,
		MaxContextChars: DefaultMaxContextChars,
	}
}

// Answer returns the LLM's response to question. With an empty repoURL the
// question is answered conversationally without retrieval.
func (s *Service) Answer(ctx context.Context, question, repoURL string) (string, error) {
	prompt, err := s.Prompt(ctx, question, repoURL)
	if err != nil {
		return "", err
	}

	answer, err := s.LLM.Chat(ctx, prompt)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.E(apperr.KindLLM, "chat", err)
		}
		return "", err
	}
	log.Debug().Int("answer_len", len(answer)).Msg("answer generated")
	return answer, nil
}

// Prompt performs validation and retrieval and returns the prompt Answer
// would send, without calling the LLM.
func (s *Service) Prompt(ctx context.Context, question, repoURL string) (string, error) {
	q, err := ValidateQuestion(question)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(repoURL) == "" {
		return GeneralPrompt(q), nil
	}

	canonical, err := repourl.Canonicalize(repoURL)
	if err != nil {
		return "", err
	}
	ctx = collection.WithRepository(ctx, canonical)

	vec, err := s.Embedder.EmbedQuery(ctx, q)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.E(apperr.KindEmbedding, "embed question", err)
		}
		return "", err
	}

	k := s.TopK
	if k == 0 {
		k = DefaultTopK
	}
	hits, err := s.Router.QueryChunks(ctx, vec, k)
	if err != nil {
		return "", err
	}

	snippets := make([]string, 0, len(hits))
	for _, h := range hits {
		snippets = append(snippets, h.Text)
	}
	log.Info().
		Str("repository", canonical).
		Int("hits", len(hits)).
		Msg("retrieved context")

	return BuildPrompt(q, snippets, s.MaxContextChars), nil
}

// ValidateQuestion trims q and rejects empty, oversized or control-character
// laden questions.
func ValidateQuestion(q string) (string, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", apperr.E(apperr.KindInvalidInput, "question must not be empty", nil)
	}
	if n := utf8.RuneCountInString(q); n > MaxQuestionLength {
		return "", apperr.E(apperr.KindInvalidInput,
			fmt.Sprintf("question is too long (%d characters, max %d)", n, MaxQuestionLength), nil)
	}
	for _, r := range q {
		if unicode.IsControl(r) && r != '\n' && r != '\t' {
			return "", apperr.E(apperr.KindInvalidInput, "question contains control characters", nil)
		}
	}
	return q, nil
}

// BuildPrompt assembles the repository-scoped prompt. Duplicate snippets are
// dropped, and the joined context is cut to maxChars runes (0 disables the
// limit).
func BuildPrompt(question string, snippets []string, maxChars int) string {
	unique := dedup.Unique(snippets)
	if len(unique) == 0 {
		return "User question:\n" + question + "\n\n" +
			"No project-specific context was found for this repository. " +
			"Answer using your general knowledge, say that the answer is not based on the project's code, " +
			"and suggest re-ingesting the repository or rephrasing the question."
	}

	joined := truncate(strings.Join(unique, contextSeparator), maxChars)
	return "You are an AI assistant helping with a software project.\n\n" +
		"Here is relevant context from the project:\n" +
		joined + "\n\n" +
		"User question:\n" + question + "\n\n" +
		"Answer only from the context above. " +
		"If the context does not contain enough information, say so explicitly."
}

// GeneralPrompt is used when no repository is given.
func GeneralPrompt(question string) string {
	return "You are an AI assistant for software projects.\n\n" +
		"User question:\n" + question + "\n\n" +
		"Answer conversationally. For questions about a specific codebase, mention that " +
		"the user can ingest a GitHub repository and ask again with its URL for repository-scoped analysis."
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 || utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i] + "\n" + truncatedMarker
		}
		n++
	}
	return s
}

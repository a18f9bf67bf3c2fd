// Package apperr defines the error kinds shared by the ingestion and answering
// pipelines and their mapping onto HTTP status codes.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error so callers can react without string matching.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindInvalidConfig
	KindMissingConfig
	KindNotFound
	KindCloneFailed
	KindFileRead
	KindEmbedding
	KindStorage
	KindNoRepoContext
	KindLLM
	KindUnauthorized
)

var kindTags = map[Kind]string{
	KindInternal:      "internal",
	KindInvalidInput:  "invalid_input",
	KindInvalidConfig: "invalid_config",
	KindMissingConfig: "missing_config",
	KindNotFound:      "not_found",
	KindCloneFailed:   "clone_failed",
	KindFileRead:      "file_read",
	KindEmbedding:     "embedding_failed",
	KindStorage:       "storage_failed",
	KindNoRepoContext: "no_repo_context",
	KindLLM:           "llm_failed",
	KindUnauthorized:  "unauthorized",
}

// String returns the stable tag for the kind, e.g. "clone_failed".
func (k Kind) String() string {
	if s, ok := kindTags[k]; ok {
		return s
	}
	return "internal"
}

// Error is a kinded error with an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Err == nil:
		return e.Kind.String()
	case e.Err == nil:
		return e.Msg
	case e.Msg == "":
		return e.Err.Error()
	default:
		return e.Msg + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// E builds a kinded error. err may be nil.
func E(kind Kind, msg string, err error) error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the kind of the outermost *Error in err's chain,
// or KindInternal when there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps an error onto a response status. Input, config and
// not-found errors are the caller's fault; everything else is a 5xx.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindInvalidInput, KindInvalidConfig, KindMissingConfig:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindCloneFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

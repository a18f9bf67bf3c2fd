// Package api exposes ingestion and answering over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoqa/internal/apperr"
	"github.com/seanblong/repoqa/internal/auth"
	"github.com/seanblong/repoqa/internal/store"
	"github.com/seanblong/repoqa/pkg/models"
)

const maxBodyBytes = 1 << 20

type Ingester interface {
	Ingest(ctx context.Context, repoURL string) (models.IngestResult, error)
}

type Answerer interface {
	Answer(ctx context.Context, question, repoURL string) (string, error)
}

type CollectionLister interface {
	Collections(ctx context.Context) ([]store.Collection, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type IngestRequest struct {
	GithubURL string `json:"github_url"`
}

type AnswerRequest struct {
	CanonicalGithubURL string `json:"canonical_github_url,omitempty"`
	Question           string `json:"question"`
}

type AnswerResponse struct {
	Answer string `json:"answer"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

// Server wires the HTTP surface to the pipelines.
type Server struct {
	Ingester    Ingester
	Answerer    Answerer
	Collections CollectionLister
	Health      Pinger
	Auth        *auth.Authenticator
	Logger      zerolog.Logger

	IngestTimeout time.Duration
	AnswerTimeout time.Duration
}

// Handler builds the routed, logged handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	protect := s.Auth.Middleware(writeError)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /auth/status", s.handleAuthStatus)
	if s.Auth.Enabled() {
		mux.HandleFunc("GET /auth/github", s.handleLogin)
		mux.HandleFunc("GET /auth/callback", s.handleCallback)
		mux.HandleFunc("GET /auth/me", s.handleMe)
		mux.HandleFunc("POST /auth/logout", s.handleLogout)
	}
	mux.Handle("POST /ingest", protect(http.HandlerFunc(s.handleIngest)))
	mux.Handle("POST /answer", protect(http.HandlerFunc(s.handleAnswer)))
	mux.Handle("GET /collections", protect(http.HandlerFunc(s.handleCollections)))

	logger := s.Logger
	return hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.Health.Ping(ctx); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("health check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req IngestRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context(), s.IngestTimeout)
	defer cancel()
	start := time.Now()
	res, err := s.Ingester.Ingest(ctx, req.GithubURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	hlog.FromRequest(r).Info().
		Str("repository", res.Repository).
		Int("chunks", res.Chunks).
		Int("stored", res.Stored).
		Dur("dur", time.Since(start)).
		Msg("ingested")
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req AnswerRequest
	if err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	ctx, cancel := withTimeout(r.Context(), s.AnswerTimeout)
	defer cancel()
	answer, err := s.Answerer.Answer(ctx, req.Question, req.CanonicalGithubURL)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, AnswerResponse{Answer: answer})
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	cols, err := s.Collections.Collections(ctx)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if cols == nil {
		cols = []store.Collection{}
	}
	writeJSON(w, http.StatusOK, cols)
}

func (s *Server) handleAuthStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.Auth.Enabled()})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := auth.GenerateState()
	if err != nil {
		writeError(w, r, err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     "oauth_state",
		Value:    state,
		Path:     "/",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   secure(r),
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.Auth.LoginURL(state), http.StatusTemporaryRedirect)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	stateCookie, err := r.Cookie("oauth_state")
	if err != nil || state == "" || stateCookie.Value != state {
		writeError(w, r, apperr.E(apperr.KindInvalidInput, "invalid state parameter", nil))
		return
	}
	http.SetCookie(w, &http.Cookie{Name: "oauth_state", Value: "", Path: "/", MaxAge: -1})

	accessToken, err := s.Auth.ExchangeCode(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	user, err := s.Auth.GithubUser(r.Context(), accessToken)
	if err != nil {
		writeError(w, r, err)
		return
	}
	token, err := s.Auth.IssueToken(user)
	if err != nil {
		writeError(w, r, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.TokenCookie,
		Value:    token,
		Path:     "/",
		MaxAge:   86400,
		HttpOnly: true,
		Secure:   secure(r),
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, auth.AuthResponse{User: *user, Token: token})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.Auth.Authenticate(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, auth.AuthResponse{User: *user, Token: auth.TokenFromRequest(r)})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{Name: auth.TokenCookie, Value: "", Path: "/", MaxAge: -1})
	w.WriteHeader(http.StatusOK)
}

func decode(r *http.Request, into any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.E(apperr.KindInvalidInput, "request body is empty", nil)
		}
		return apperr.E(apperr.KindInvalidInput, "invalid request body", err)
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func secure(r *http.Request) bool {
	return r.TLS != nil || strings.HasPrefix(r.Header.Get("X-Forwarded-Proto"), "https")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// writeError maps err to its HTTP status. Internal causes of 5xx errors are
// logged but not echoed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.HTTPStatus(err)
	kind := apperr.KindOf(err)
	if errors.Is(err, context.DeadlineExceeded) {
		status = http.StatusGatewayTimeout
	}

	msg := err.Error()
	if status >= http.StatusInternalServerError {
		hlog.FromRequest(r).Error().Err(err).Str("kind", kind.String()).Msg("request failed")
		var ae *apperr.Error
		if errors.As(err, &ae) && ae.Msg != "" {
			msg = ae.Msg
		} else {
			msg = http.StatusText(status)
		}
	}
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind.String()})
}

// Package auth implements GitHub OAuth login and JWT session tokens for the
// HTTP API.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoqa/internal/apperr"
)

// ContextKey is a custom type for context keys to avoid collisions
type ContextKey string

const UserContextKey ContextKey = "user"

// TokenCookie holds the session JWT for browser clients.
const TokenCookie = "auth_token"

const tokenTTL = 24 * time.Hour

type GithubUser struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
}

type AuthResponse struct {
	User  GithubUser `json:"user"`
	Token string     `json:"token,omitempty"`
}

type Claims struct {
	Login     string `json:"login"`
	Name      string `json:"name"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatar_url"`
	jwt.RegisteredClaims
}

type Config struct {
	JwtSecret    []byte
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AllowedOrg   string
	Enabled      bool

	// Overridable for tests; default to github.com.
	OAuthBaseURL string
	APIBaseURL   string
}

// Authenticator performs the OAuth exchange and issues session tokens.
type Authenticator struct {
	cfg    Config
	client *http.Client
	now    func() time.Time
}

// New creates an Authenticator. A zero Config yields a disabled authenticator.
func New(cfg Config) *Authenticator {
	if cfg.OAuthBaseURL == "" {
		cfg.OAuthBaseURL = "https://github.com"
	}
	if cfg.APIBaseURL == "" {
		cfg.APIBaseURL = "https://api.github.com"
	}
	cfg.OAuthBaseURL = strings.TrimRight(cfg.OAuthBaseURL, "/")
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	return &Authenticator{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
		now:    time.Now,
	}
}

// Enabled returns whether authentication is enabled
func (a *Authenticator) Enabled() bool {
	return a != nil && a.cfg.Enabled
}

// GenerateState creates a random state parameter for OAuth
func GenerateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate oauth state: %w", err)
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// LoginURL returns the GitHub OAuth authorize URL for state.
func (a *Authenticator) LoginURL(state string) string {
	scope := "read:user,user:email"
	if a.cfg.AllowedOrg != "" {
		scope += ",read:org"
	}
	q := url.Values{}
	q.Set("client_id", a.cfg.ClientID)
	q.Set("redirect_uri", a.cfg.RedirectURL)
	q.Set("scope", scope)
	q.Set("state", state)
	return a.cfg.OAuthBaseURL + "/login/oauth/authorize?" + q.Encode()
}

// ExchangeCode exchanges an OAuth code for a GitHub access token.
func (a *Authenticator) ExchangeCode(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", apperr.E(apperr.KindInvalidInput, "missing code parameter", nil)
	}
	form := url.Values{}
	form.Set("client_id", a.cfg.ClientID)
	form.Set("client_secret", a.cfg.ClientSecret)
	form.Set("code", code)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.OAuthBaseURL+"/login/oauth/access_token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var result struct {
		AccessToken string `json:"access_token"`
		Error       string `json:"error"`
		Description string `json:"error_description"`
	}
	if err := a.getJSON(req, &result); err != nil {
		return "", apperr.E(apperr.KindUnauthorized, "exchange oauth code", err)
	}
	if result.AccessToken == "" {
		msg := "failed to get access token"
		if result.Error != "" {
			msg += ": " + result.Error
		}
		return "", apperr.E(apperr.KindUnauthorized, msg, nil)
	}
	return result.AccessToken, nil
}

// GithubUser fetches the authenticated user and enforces the organization
// restriction when one is configured.
func (a *Authenticator) GithubUser(ctx context.Context, accessToken string) (*GithubUser, error) {
	req, err := a.apiRequest(ctx, "/user", accessToken)
	if err != nil {
		return nil, err
	}
	var user GithubUser
	if err := a.getJSON(req, &user); err != nil {
		return nil, apperr.E(apperr.KindUnauthorized, "fetch github user", err)
	}

	if a.cfg.AllowedOrg != "" && !a.isOrgMember(ctx, accessToken, user.Login) {
		return nil, apperr.E(apperr.KindUnauthorized, "user is not a member of the required organization", nil)
	}
	return &user, nil
}

// isOrgMember reports 204 (public) or 200 (private) membership as true.
func (a *Authenticator) isOrgMember(ctx context.Context, accessToken, username string) bool {
	req, err := a.apiRequest(ctx, fmt.Sprintf("/orgs/%s/members/%s", url.PathEscape(a.cfg.AllowedOrg), url.PathEscape(username)), accessToken)
	if err != nil {
		return false
	}
	resp, err := a.client.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("org", a.cfg.AllowedOrg).Msg("org membership check failed")
		return false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()
	return resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent
}

func (a *Authenticator) apiRequest(ctx context.Context, path, accessToken string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.APIBaseURL+path, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	return req, nil
}

func (a *Authenticator) getJSON(req *http.Request, into any) error {
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close response body")
		}
	}()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GitHub returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

// IssueToken creates a signed session JWT for user.
func (a *Authenticator) IssueToken(user *GithubUser) (string, error) {
	if len(a.cfg.JwtSecret) == 0 {
		return "", apperr.E(apperr.KindMissingConfig, "jwt secret is not configured", nil)
	}
	now := a.now()
	claims := Claims{
		Login:     user.Login,
		Name:      user.Name,
		Email:     user.Email,
		AvatarURL: user.AvatarURL,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   user.Login,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.cfg.JwtSecret)
}

// ValidateToken validates and parses a session JWT.
func (a *Authenticator) ValidateToken(tokenString string) (*GithubUser, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.cfg.JwtSecret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, apperr.E(apperr.KindUnauthorized, "invalid token", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, apperr.E(apperr.KindUnauthorized, "invalid token", nil)
	}
	return &GithubUser{
		Login:     claims.Login,
		Name:      claims.Name,
		Email:     claims.Email,
		AvatarURL: claims.AvatarURL,
	}, nil
}

// TokenFromRequest reads a bearer token from the Authorization header, then
// from the session cookie.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	if cookie, err := r.Cookie(TokenCookie); err == nil {
		return cookie.Value
	}
	return ""
}

// ErrNoToken is returned when a protected request carries no token.
var ErrNoToken = errors.New("authentication required")

// Authenticate resolves the user behind r.
func (a *Authenticator) Authenticate(r *http.Request) (*GithubUser, error) {
	tokenString := TokenFromRequest(r)
	if tokenString == "" {
		return nil, apperr.E(apperr.KindUnauthorized, "", ErrNoToken)
	}
	return a.ValidateToken(tokenString)
}

// Middleware validates the session token when auth is enabled and passes
// every request through when it is not. onError writes the rejection.
func (a *Authenticator) Middleware(onError func(http.ResponseWriter, *http.Request, error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !a.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			user, err := a.Authenticate(r)
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), UserContextKey, user)))
		})
	}
}

// UserFromContext extracts the user stored by Middleware.
func UserFromContext(ctx context.Context) *GithubUser {
	if user, ok := ctx.Value(UserContextKey).(*GithubUser); ok {
		return user
	}
	return nil
}

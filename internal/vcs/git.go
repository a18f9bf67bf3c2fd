// Package vcs fetches repositories for ingestion using the git CLI.
package vcs

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoqa/internal/apperr"
)

// Cloner fetches a repository into a fresh directory. The caller owns the
// returned directory and must remove it.
type Cloner interface {
	Clone(ctx context.Context, repoURL string) (string, error)
}

type runFunc func(ctx context.Context, args ...string) ([]byte, error)

// GitCloner performs shallow clones with `git clone --depth 1`.
type GitCloner struct {
	Token   string // optional GitHub token for private repositories
	Ref     string // optional branch or tag
	TempDir string // parent for clone directories; os.TempDir() when empty

	run runFunc
}

func NewGitCloner(token, ref string) *GitCloner {
	return &GitCloner{Token: token, Ref: ref, run: runGit}
}

func runGit(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Env = append(os.Environ(), "GIT_TERMINAL_PROMPT=0")
	return cmd.CombinedOutput()
}

// Clone clones repoURL into a new temporary directory. On failure the
// directory is removed and a clone-failed error is returned.
func (g *GitCloner) Clone(ctx context.Context, repoURL string) (string, error) {
	dir, err := os.MkdirTemp(g.TempDir, "repoqa-*")
	if err != nil {
		return "", apperr.E(apperr.KindCloneFailed, "create clone directory", err)
	}

	args := []string{"clone", "--depth", "1", "--single-branch"}
	if g.Ref != "" {
		args = append(args, "--branch", g.Ref)
	}
	args = append(args, g.authURL(repoURL), dir)

	run := g.run
	if run == nil {
		run = runGit
	}
	log.Info().Str("repository", repoURL).Str("dir", dir).Msg("cloning repository")
	if out, err := run(ctx, args...); err != nil {
		if rmErr := os.RemoveAll(dir); rmErr != nil {
			log.Warn().Err(rmErr).Str("dir", dir).Msg("failed to remove temp directory")
		}
		msg := g.redact(strings.TrimSpace(string(out)))
		return "", apperr.E(apperr.KindCloneFailed, fmt.Sprintf("git clone %s: %s", repoURL, msg), err)
	}
	return dir, nil
}

func (g *GitCloner) authURL(repoURL string) string {
	if g.Token != "" && strings.HasPrefix(repoURL, "https://") {
		return "https://" + g.Token + ":x-oauth-basic@" + strings.TrimPrefix(repoURL, "https://")
	}
	return repoURL
}

func (g *GitCloner) redact(s string) string {
	if g.Token == "" {
		return s
	}
	return strings.ReplaceAll(s, g.Token, "***")
}

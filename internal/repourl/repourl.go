// Package repourl validates GitHub repository URLs and reduces them to a
// single canonical form, https://github.com/<owner>/<repo>.git in lowercase.
package repourl

import (
	"net/url"
	"path"
	"strings"

	"github.com/seanblong/repoqa/internal/apperr"
)

const (
	host           = "github.com"
	maxOwnerLength = 39
	maxRepoLength  = 100
)

// Canonicalize validates raw and returns its canonical form. Any violation is
// reported as an invalid-input error.
func Canonicalize(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", invalid("URL cannot be empty")
	}
	if strings.ContainsAny(raw, "?#") {
		return "", invalid("URL cannot contain query parameters or fragments")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", apperr.E(apperr.KindInvalidInput, "invalid URL format", err)
	}
	if u.Scheme != "https" {
		return "", invalid("URL scheme must be https")
	}
	if u.User != nil || strings.ToLower(u.Host) != host {
		return "", invalid("URL must be from github.com")
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", invalid("GitHub URL must be in format: https://github.com/owner/repo")
	}
	owner := parts[0]
	repo := strings.TrimSuffix(parts[1], ".git")

	if err := validateOwner(owner); err != nil {
		return "", err
	}
	if err := validateRepo(repo); err != nil {
		return "", err
	}
	return "https://" + host + "/" + strings.ToLower(owner) + "/" + strings.ToLower(repo) + ".git", nil
}

// RepoName returns the repository segment of a canonical URL without the
// .git suffix, e.g. "repoqa" for https://github.com/seanblong/repoqa.git.
func RepoName(canonical string) string {
	return strings.TrimSuffix(path.Base(canonical), ".git")
}

// Owner returns the owner segment of a canonical URL.
func Owner(canonical string) string {
	return path.Base(path.Dir(canonical))
}

func validateOwner(owner string) error {
	switch {
	case len(owner) > maxOwnerLength:
		return invalid("owner name cannot exceed 39 characters")
	case strings.HasPrefix(owner, "-"), strings.HasPrefix(owner, "."),
		strings.HasPrefix(owner, "_"), strings.HasSuffix(owner, "-"):
		return invalid("owner name cannot begin with dot, underscore, or hyphen, or end with a hyphen")
	case strings.Contains(owner, "--"):
		return invalid("owner name cannot have consecutive hyphens")
	}
	for _, c := range owner {
		if !isAlnum(c) && c != '-' {
			return invalid("owner name can only contain alphanumeric characters and hyphens")
		}
	}
	return nil
}

func validateRepo(repo string) error {
	switch {
	case repo == "":
		return invalid("repository name cannot be empty")
	case len(repo) > maxRepoLength:
		return invalid("repository name cannot exceed 100 characters")
	case strings.IndexAny(repo[:1], ".-_") == 0:
		return invalid("repository name cannot start with a dot, hyphen, or underscore")
	case strings.IndexAny(repo[len(repo)-1:], ".-_") == 0:
		return invalid("repository name cannot end with a dot, hyphen, or underscore")
	}
	for _, c := range repo {
		if !isAlnum(c) && c != '-' && c != '_' && c != '.' {
			return invalid("repository name can only contain alphanumeric characters, hyphens, underscores, and dots")
		}
	}
	return nil
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func invalid(msg string) error {
	return apperr.E(apperr.KindInvalidInput, msg, nil)
}

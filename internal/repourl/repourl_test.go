package repourl

import (
	"strings"
	"testing"

	"github.com/seanblong/repoqa/internal/apperr"
)

func TestCanonicalize_Valid(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"basic", "https://github.com/owner/repo", "https://github.com/owner/repo.git"},
		{"already canonical", "https://github.com/owner/repo.git", "https://github.com/owner/repo.git"},
		{"trailing slash", "https://github.com/owner/repo/", "https://github.com/owner/repo.git"},
		{"uppercase", "https://github.com/OWNER/REPO", "https://github.com/owner/repo.git"},
		{"mixed case with suffix", "https://github.com/MyOwner/MyRepo.git", "https://github.com/myowner/myrepo.git"},
		{"hyphenated owner", "https://github.com/my-org/repo", "https://github.com/my-org/repo.git"},
		{"single char", "https://github.com/a/b", "https://github.com/a/b.git"},
		{"dotted repo", "https://github.com/owner/repo.name", "https://github.com/owner/repo.name.git"},
		{"underscore repo", "https://github.com/owner/my_repo", "https://github.com/owner/my_repo.git"},
		{"surrounding whitespace", "  https://github.com/owner/repo \n", "https://github.com/owner/repo.git"},
		{"max owner", "https://github.com/" + strings.Repeat("a", 39) + "/repo", "https://github.com/" + strings.Repeat("a", 39) + "/repo.git"},
		{"max repo", "https://github.com/owner/" + strings.Repeat("r", 100), "https://github.com/owner/" + strings.Repeat("r", 100) + ".git"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Canonicalize(tt.in)
			if err != nil {
				t.Fatalf("Canonicalize(%q) error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("Canonicalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestCanonicalize_Invalid(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"not-a-url",
		"github.com/owner/repo",
		"http://github.com/owner/repo",
		"ftp://github.com/owner/repo",
		"https://gitlab.com/owner/repo",
		"https://github.com",
		"https://github.com/",
		"https://github.com//repo",
		"https://github.com/owner/",
		"https://github.com/owner/repo/extra",
		"https://github.com/owner/repo/tree/main",
		"https://github.com/owner/repo#fragment",
		"https://github.com/owner/repo?query=param",
		"https://github.com/-invalid/repo",
		"https://github.com/invalid-/repo",
		"https://github.com/my--org/repo",
		"https://github.com/.hidden/repo",
		"https://github.com/_private/repo",
		"https://github.com/user@domain/repo",
		"https://github.com/owner/.hidden",
		"https://github.com/owner/-invalid",
		"https://github.com/owner/invalid_",
		"https://github.com/owner/invalid.",
		"https://github.com/owner/repo@name",
		"https://github.com/owner/repo%20name",
		"https://github.com/owner/../repo",
		"https://github.com/owner/.git",
		"https://github.com/" + strings.Repeat("a", 40) + "/repo",
		"https://github.com/owner/" + strings.Repeat("r", 101),
		"https://user@github.com/owner/repo",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Canonicalize(in)
			if err == nil {
				t.Fatalf("Canonicalize(%q) expected error", in)
			}
			if !apperr.Is(err, apperr.KindInvalidInput) {
				t.Errorf("expected invalid_input, got %v", apperr.KindOf(err))
			}
		})
	}
}

func TestRepoNameAndOwner(t *testing.T) {
	const u = "https://github.com/seanblong/repoqa.git"
	if got := RepoName(u); got != "repoqa" {
		t.Errorf("RepoName = %q", got)
	}
	if got := Owner(u); got != "seanblong" {
		t.Errorf("Owner = %q", got)
	}
}

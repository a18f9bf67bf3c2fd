// Package chunker splits source files into overlapping, line-based chunks
// with a short provenance header.
package chunker

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/seanblong/repoqa/internal/apperr"
	"github.com/seanblong/repoqa/pkg/models"
)

// CompleteFileLabel marks a chunk that covers a whole (small) file.
const CompleteFileLabel = "complete-file"

// Options configures the sliding window.
type Options struct {
	ChunkSize             int // target lines per chunk
	Overlap               int // lines shared by consecutive windows
	MinNonBlankLines      int // required non-blank lines for a regular window
	MinFinalNonBlankLines int // required non-blank lines for the window at end-of-file
	SmallFileLines        int // files with fewer lines become a single chunk
}

// DefaultOptions returns the recommended chunking settings.
func DefaultOptions() Options {
	return Options{
		ChunkSize:             30,
		Overlap:               5,
		MinNonBlankLines:      3,
		MinFinalNonBlankLines: 1,
		SmallFileLines:        20,
	}
}

// Validate checks that the options describe a window that always advances.
func (o Options) Validate() error {
	switch {
	case o.ChunkSize <= 0:
		return apperr.E(apperr.KindInvalidConfig, fmt.Sprintf("chunk_size must be positive, got %d", o.ChunkSize), nil)
	case o.Overlap < 0:
		return apperr.E(apperr.KindInvalidConfig, fmt.Sprintf("overlap must not be negative, got %d", o.Overlap), nil)
	case o.ChunkSize-o.Overlap <= 0:
		return apperr.E(apperr.KindInvalidConfig, fmt.Sprintf("chunk_size (%d) must be greater than overlap (%d)", o.ChunkSize, o.Overlap), nil)
	case o.MinNonBlankLines < 1 || o.MinFinalNonBlankLines < 1:
		return apperr.E(apperr.KindInvalidConfig, "non-blank line thresholds must be at least 1", nil)
	case o.SmallFileLines < 0:
		return apperr.E(apperr.KindInvalidConfig, "small file threshold must not be negative", nil)
	}
	return nil
}

// Chunker is stateless; a single instance is safe for concurrent use.
type Chunker struct {
	opts Options
}

// New validates opts and returns a Chunker.
func New(opts Options) (*Chunker, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Chunker{opts: opts}, nil
}

// Options returns the settings the chunker was built with.
func (c *Chunker) Options() Options { return c.opts }

// Chunk splits content into chunks in file order. path is only used for the
// header. It returns nil when content has no non-blank lines.
func (c *Chunker) Chunk(path, content string) []models.Chunk {
	lines := splitLines(content)
	if countNonBlank(lines) == 0 {
		return nil
	}

	if len(lines) < c.opts.SmallFileLines {
		return []models.Chunk{{
			Path:      path,
			Label:     CompleteFileLabel,
			LineStart: 1,
			LineEnd:   len(lines),
			Text:      withHeader(path, CompleteFileLabel, strings.Join(lines, "\n")),
		}}
	}

	step := c.opts.ChunkSize - c.opts.Overlap
	var out []models.Chunk
	for start := 0; start < len(lines); start += step {
		end := min(start+c.opts.ChunkSize, len(lines))
		window := lines[start:end]
		final := end == len(lines)

		need := c.opts.MinNonBlankLines
		if final {
			need = c.opts.MinFinalNonBlankLines
		}
		if countNonBlank(window) >= need {
			label := fmt.Sprintf("lines %d-%d", start+1, end)
			out = append(out, models.Chunk{
				Path:      path,
				Label:     label,
				LineStart: start + 1,
				LineEnd:   end,
				Text:      withHeader(path, label, strings.Join(window, "\n")),
			})
		}
		if final {
			break
		}
	}
	return out
}

// ShortPath reduces a path to its last two segments ("parent/name").
func ShortPath(path string) string {
	parts := strings.Split(strings.Trim(filepath.ToSlash(path), "/"), "/")
	if len(parts) >= 2 {
		return strings.Join(parts[len(parts)-2:], "/")
	}
	return parts[len(parts)-1]
}

func withHeader(path, label, body string) string {
	return "# File: " + ShortPath(path) + "\n# Chunk: " + label + "\n\n" + body
}

// splitLines normalizes line endings and drops leading and trailing blank lines.
func splitLines(content string) []string {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	lines := strings.Split(content, "\n")

	first, last := 0, len(lines)-1
	for first <= last && strings.TrimSpace(lines[first]) == "" {
		first++
	}
	for last >= first && strings.TrimSpace(lines[last]) == "" {
		last--
	}
	if first > last {
		return nil
	}
	return lines[first : last+1]
}

func countNonBlank(lines []string) int {
	n := 0
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			n++
		}
	}
	return n
}

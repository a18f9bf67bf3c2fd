package indexer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoqa/internal/ai"
	"github.com/seanblong/repoqa/internal/apperr"
	"github.com/seanblong/repoqa/internal/chunker"
	"github.com/seanblong/repoqa/internal/collection"
	"github.com/seanblong/repoqa/internal/repourl"
	"github.com/seanblong/repoqa/internal/vcs"
	"github.com/seanblong/repoqa/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Indexer clones repositories and stores their chunk embeddings in the
// repository's collection.
type Indexer struct {
	Cloner     vcs.Cloner
	Embedder   ai.Embedder
	Router     *collection.Router
	Chunker    *chunker.Chunker
	Walker     FileSystemWalker
	FileReader FileReader
	Workers    int
}

// New creates a new Indexer instance.
func New(cloner vcs.Cloner, embedder ai.Embedder, router *collection.Router, ch *chunker.Chunker) *Indexer {
	return NewWithDependencies(cloner, embedder, router, ch, &DefaultFileSystemWalker{}, &DefaultFileReader{})
}

// NewWithDependencies creates a new Indexer instance with custom dependencies for testing
func NewWithDependencies(cloner vcs.Cloner, embedder ai.Embedder, router *collection.Router, ch *chunker.Chunker, walker FileSystemWalker, fileReader FileReader) *Indexer {
	workers := runtime.NumCPU()
	if workers > 8 {
		workers = 8
	}
	return &Indexer{
		Cloner:     cloner,
		Embedder:   embedder,
		Router:     router,
		Chunker:    ch,
		Walker:     walker,
		FileReader: fileReader,
		Workers:    workers,
	}
}

// Ingest clones repoURL, chunks its source files and stores any chunks the
// repository's collection does not hold yet. The clone is always removed.
func (ix *Indexer) Ingest(ctx context.Context, repoURL string) (models.IngestResult, error) {
	canonical, err := repourl.Canonicalize(repoURL)
	if err != nil {
		return models.IngestResult{}, err
	}

	dir, err := ix.Cloner.Clone(ctx, canonical)
	if err != nil {
		if apperr.KindOf(err) == apperr.KindInternal {
			err = apperr.E(apperr.KindCloneFailed, "clone "+canonical, err)
		}
		return models.IngestResult{}, err
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("failed to remove temp directory")
		}
	}()

	return ix.IndexDir(collection.WithRepository(ctx, canonical), dir)
}

// IndexDir ingests an already checked-out tree at root into the collection
// of the repository carried by ctx.
func (ix *Indexer) IndexDir(ctx context.Context, root string) (models.IngestResult, error) {
	repo, ok := collection.RepositoryFrom(ctx)
	if !ok {
		return models.IngestResult{}, apperr.E(apperr.KindNoRepoContext, "index requires a repository context", nil)
	}
	res := models.IngestResult{Repository: repo, Collection: collection.Name(repo)}

	paths, err := ix.collect(ctx, root)
	if err != nil {
		return res, err
	}

	files := ix.process(ctx, root, paths)
	if err := ctx.Err(); err != nil {
		return res, err
	}

	var texts []string
	for _, f := range files {
		if f.skipped {
			res.FilesSkipped++
			continue
		}
		res.FilesScanned++
		for _, c := range f.chunks {
			texts = append(texts, c.Text)
		}
	}
	res.Chunks = len(texts)

	log.Info().
		Str("repository", repo).
		Int("files", res.FilesScanned).
		Int("skipped", res.FilesSkipped).
		Int("chunks", res.Chunks).
		Msg("repository chunked")

	var vecs [][]float32
	if len(texts) > 0 {
		vecs, err = ix.Embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			if apperr.KindOf(err) == apperr.KindInternal {
				err = apperr.E(apperr.KindEmbedding, "embed chunks", err)
			}
			return res, err
		}
	}

	res.Stored, err = ix.Router.AddChunks(ctx, texts, vecs)
	if err != nil {
		return res, err
	}
	return res, nil
}

// collect walks root and returns candidate source files in walk order.
func (ix *Indexer) collect(ctx context.Context, root string) ([]string, error) {
	var paths []string
	err := ix.Walker.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			// Mock walkers pass a nil Dirent for plain files.
			if de != nil && de.IsDir() {
				if path != root && skipDir(de.Name()) {
					return godirwalk.SkipThis
				}
				return nil
			}
			if de != nil && de.IsSymlink() {
				return nil
			}
			if !allowed(rel(root, path)) {
				return nil
			}
			paths = append(paths, path)
			return nil
		},
		ErrorCallback: func(path string, err error) godirwalk.ErrorAction {
			log.Warn().Err(err).Str("path", path).Msg("walk error, skipping")
			return godirwalk.SkipNode
		},
	})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, apperr.E(apperr.KindFileRead, "walk "+root, err)
	}
	return paths, nil
}

type fileResult struct {
	chunks  []models.Chunk
	skipped bool
}

// process reads and chunks paths on a bounded worker pool. Results keep the
// order of paths.
func (ix *Indexer) process(ctx context.Context, root string, paths []string) []fileResult {
	results := make([]fileResult, len(paths))
	workers := ix.Workers
	if workers < 1 {
		workers = 1
	}

	work := make(chan int, workers*2)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")
			for idx := range work {
				results[idx] = ix.processFile(root, paths[idx])
			}
		}(i)
	}

	for idx := range paths {
		select {
		case work <- idx:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
	}
	close(work)
	wg.Wait()
	return results
}

func (ix *Indexer) processFile(root, path string) fileResult {
	relPath := rel(root, path)
	b, err := ix.FileReader.ReadFile(path)
	if err != nil {
		reason := "read error"
		switch {
		case errors.Is(err, fs.ErrNotExist):
			reason = "file not found"
		case errors.Is(err, fs.ErrPermission):
			reason = "permission denied"
		}
		log.Warn().Err(err).Str("path", relPath).Msg(reason + ", skipping file")
		return fileResult{skipped: true}
	}
	if !utf8.Valid(b) {
		log.Warn().Str("path", relPath).Msg("file is not valid UTF-8, skipping file")
		return fileResult{skipped: true}
	}
	content := string(b)
	if strings.TrimSpace(content) == "" {
		log.Debug().Str("path", relPath).Msg("file is blank, skipping")
		return fileResult{skipped: true}
	}

	chunks := ix.Chunker.Chunk(relPath, content)
	log.Debug().Str("path", relPath).Int("chunks", len(chunks)).Msg("file chunked")
	return fileResult{chunks: chunks}
}

var skippedDirs = map[string]bool{
	".git": true, "vendor": true, ".terraform": true, "node_modules": true,
	"target": true, "build": true, "dist": true, "out": true, "bin": true,
	"obj": true, ".venv": true, "venv": true, "__pycache__": true,
	".pytest_cache": true, ".gradle": true, ".m2": true, ".idea": true,
	"coverage": true, ".cache": true,
}

// skipDir returns true if a directory with this name should not be descended.
func skipDir(name string) bool {
	return skippedDirs[strings.ToLower(name)]
}

var allowedExt = map[string]bool{
	".py": true, ".js": true, ".ts": true, ".java": true, ".go": true, ".rs": true,
	".cpp": true, ".c": true, ".cs": true, ".rb": true, ".php": true, ".swift": true,
	".kt": true, ".scala": true, ".sh": true, ".jsx": true, ".tsx": true, ".vue": true,
	".dart": true, ".r": true, ".m": true, ".html": true, ".css": true, ".scss": true,
	".sass": true, ".less": true, ".toml": true, ".md": true, ".yml": true, ".yaml": true,
	".json": true, ".xml": true, ".ini": true, ".cfg": true, ".conf": true,
}

// allowed returns true if the repo-relative path has a source or config
// extension and does not live under a skipped directory.
func allowed(relPath string) bool {
	for _, part := range strings.Split(filepath.Dir(relPath), "/") {
		if skipDir(part) {
			return false
		}
	}
	return allowedExt[strings.ToLower(filepath.Ext(relPath))]
}

func rel(root, p string) string {
	r, err := filepath.Rel(root, p)
	if err != nil {
		return filepath.ToSlash(p)
	}
	return filepath.ToSlash(r)
}

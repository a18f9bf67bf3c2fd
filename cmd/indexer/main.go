package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoqa/internal/app"
	"github.com/seanblong/repoqa/internal/collection"
	"github.com/seanblong/repoqa/internal/config"
	"github.com/seanblong/repoqa/internal/repourl"
	"github.com/seanblong/repoqa/pkg/models"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("repoqa-indexer", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level '%s': %v\n", cfg.LogLevel, err)
		os.Exit(1)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if cfg.RepoURL == "" {
		fmt.Fprintln(os.Stderr, "--repo-url is required")
		fs.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	res, err := run(ctx, a, cfg)
	if err != nil {
		log.Error().Err(err).Msg("ingestion failed")
		a.Close()
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		log.Error().Err(err).Msg("failed to write result")
	}
}

// run ingests from a local checkout when --repo-root is set and clones
// --repo-url otherwise. Either way chunks land in the collection of
// --repo-url.
func run(ctx context.Context, a *app.App, cfg config.Specification) (models.IngestResult, error) {
	ix := a.Indexer()
	if cfg.RepoRoot == "" {
		return ix.Ingest(ctx, cfg.RepoURL)
	}

	canonical, err := repourl.Canonicalize(cfg.RepoURL)
	if err != nil {
		return models.IngestResult{}, err
	}
	log.Info().Str("root", cfg.RepoRoot).Str("repository", canonical).Msg("indexing local checkout")
	return ix.IndexDir(collection.WithRepository(ctx, canonical), cfg.RepoRoot)
}

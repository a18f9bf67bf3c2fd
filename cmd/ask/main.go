package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/seanblong/repoqa/internal/app"
	"github.com/seanblong/repoqa/internal/config"
	"github.com/spf13/pflag"
)

func main() {
	fs := pflag.NewFlagSet("repoqa-ask", pflag.ExitOnError)
	dryRun := fs.Bool("dry-run", false, "Print the prompt instead of calling the LLM")
	list := fs.Bool("list-collections", false, "List known collections and exit")

	cfg, err := config.Load("", fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "usage: repoqa-ask [flags] [--repo-url URL] QUESTION...")
		cfg.Usage()
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level '%s': %v\n", cfg.LogLevel, err)
		os.Exit(1)
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer a.Close()

	if *list {
		cols, err := a.Router.Collections(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to list collections")
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(cols)
		return
	}

	question := strings.Join(fs.Args(), " ")
	if strings.TrimSpace(question) == "" {
		fs.Usage()
		os.Exit(2)
	}

	svc, err := a.Answerer(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize llm")
	}

	if *dryRun {
		prompt, err := svc.Prompt(ctx, question, cfg.RepoURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to build prompt")
		}
		fmt.Println(prompt)
		return
	}

	answer, err := svc.Answer(ctx, question, cfg.RepoURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to answer")
	}
	fmt.Println(answer)
}

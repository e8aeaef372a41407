// Command runjob validates one job request and runs it in-process to completion.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"genpipe/internal/app"
	"genpipe/internal/domain"
	"genpipe/internal/infra"
)

func main() {
	var (
		optionsPath string
		sourcePath  string
		sourceType  string
		title       string
		store       string
	)
	flag.StringVar(&optionsPath, "options", "", "job options JSON file, or - for stdin")
	flag.StringVar(&sourcePath, "source", "", "local source file (ignored when -options is set)")
	flag.StringVar(&sourceType, "type", "", "source type: audio, video or document (guessed from -source when empty)")
	flag.StringVar(&title, "title", "", "optional title")
	flag.StringVar(&store, "store", infra.StoreDriverMemory, "job store driver: memory, sqlite or postgres")
	flag.Parse()

	if os.Getenv("STORE_DRIVER") == "" {
		_ = os.Setenv("STORE_DRIVER", store)
	}
	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "runjob").Logger()

	raw, err := requestBody(optionsPath, sourcePath, sourceType, title)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := app.Open(ctx, cfg, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("runjob: startup failed")
	}
	defer rt.Close()

	opts, err := rt.Validator.Validate(raw)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	job, err := rt.Orchestrator.Submit(ctx, opts)
	if err != nil {
		logger.Fatal().Err(err).Msg("runjob: submit")
	}
	runErr := rt.Orchestrator.Run(ctx, job.ID)

	final, err := rt.Store.Get(context.WithoutCancel(ctx), job.ID)
	if err != nil {
		logger.Fatal().Err(err).Msg("runjob: load result")
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(domain.NewJobView(final))
	if runErr != nil {
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "artifacts: %s\n", filepath.Join(rt.Artifacts.BasePath(), job.ID))
}

func requestBody(optionsPath, sourcePath, sourceType, title string) ([]byte, error) {
	switch {
	case optionsPath == "-":
		return io.ReadAll(os.Stdin)
	case optionsPath != "":
		return os.ReadFile(optionsPath)
	case sourcePath == "":
		return nil, fmt.Errorf("either -options or -source is required")
	}
	if sourceType == "" {
		sourceType = guessType(sourcePath)
	}
	abs, err := filepath.Abs(sourcePath)
	if err != nil {
		return nil, err
	}
	body := map[string]any{"source": map[string]string{"type": sourceType, "path": abs}}
	if title != "" {
		body["title"] = title
	}
	return json.Marshal(body)
}

func guessType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mp4", ".mov", ".mkv", ".webm", ".avi":
		return string(domain.SourceVideo)
	case ".pdf", ".txt", ".md", ".markdown":
		return string(domain.SourceDocument)
	default:
		return string(domain.SourceAudio)
	}
}

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/attuned-ai/attuned/internal/bootstrap"
)

func main() {
	ctx := context.Background()
	logger := bootstrap.InitLogger(false)
	if err := run(ctx, logger); err != nil {
		logger.ErrorContext(ctx, "fatal error", "error", err)
		os.Exit(1) //nolint:forbidigo // Main entrypoint should exit with non-zero status on fatal errors.
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}
	if cfg.IsDev {
		logger = bootstrap.InitLogger(true)
	}

	logger.InfoContext(ctx, "starting attuned session core",
		"identity_url", cfg.Identity.BaseURL,
		"backend_url", cfg.Backend.BaseURL,
		"store_backend", cfg.Store.Backend)

	rt, err := bootstrap.NewRuntime(cfg, logger, bootstrap.RuntimeOptions{})
	if err != nil {
		return err
	}

	return rt.Run(ctx)
}

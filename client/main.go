// Command client runs only the admin console, for deployments where the
// backend is hosted elsewhere.
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/phillip-england/projectdesk/internal/config"
	"github.com/phillip-england/projectdesk/internal/console"
	"github.com/phillip-england/projectdesk/internal/envutil"
	"github.com/phillip-england/projectdesk/internal/logging"
)

func main() {
	if _, err := envutil.LoadDotEnv(".env"); err != nil {
		log.Fatalf("load .env: %v", err)
	}
	cfg, err := config.Load(config.DefaultPath)
	if err != nil {
		log.Fatal(err)
	}
	if err := cfg.ValidateConsole(); err != nil {
		log.Fatal(err)
	}
	logger, cleanup, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	defer cleanup()
	zap.ReplaceGlobals(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := console.Run(ctx, cfg.Console, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("console stopped", zap.Error(err))
		cleanup()
		log.Fatal(err)
	}
}

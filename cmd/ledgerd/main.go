package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/fadedpez/pointledger/internal/app"
	"github.com/fadedpez/pointledger/internal/config"
	"github.com/fadedpez/pointledger/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	app.ConfigureLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ledgerd, err := app.New(ctx, cfg)
	if err != nil {
		logging.Default.Error("Failed to start: %v", err)
		os.Exit(1)
	}
	defer ledgerd.Close()

	logging.Default.Info("pointledger running (ledger=%s, workflow=%s). Press CTRL-C to exit.", cfg.LedgerStore, cfg.WorkflowStore)

	if err := ledgerd.Run(ctx); err != nil {
		logging.Default.Error("Stopped with error: %v", err)
		ledgerd.Close()
		os.Exit(1)
	}
	logging.Default.Info("Shut down cleanly")
}

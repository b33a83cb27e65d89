package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"auction-parser/adapters"
	"auction-parser/extractor"
	"auction-parser/internal/api"
	"auction-parser/internal/config"
	"auction-parser/store"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	logger := config.NewLogger(*verbose)
	if err != nil {
		logger.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	adapter := adapters.NewJapanTransitAdapter(cfg, logger)
	defer adapter.Close()

	manager := extractor.NewManager(cfg, logger, adapter, st)
	if _, err := manager.ReconcileOrphans(ctx); err != nil {
		logger.Fatalf("Failed to reconcile interrupted runs: %v", err)
	}
	server := api.NewServer(manager, st, logger)

	if err := server.Start(ctx, cfg.APIPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Errorf("API server stopped: %v", err)
	}
	logger.Info("API server shut down")
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mvlease/internal/config"
	"mvlease/internal/leasestore/remote"
	"mvlease/internal/logging"
	"mvlease/internal/metrics"
	"mvlease/internal/node"
	"mvlease/internal/tracing"
)

func main() {
	configPath := flag.String("config", "configs/leasestore.example.yaml", "path to store server config")
	flag.Parse()

	cfg, err := config.LoadStoreServerConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.NewDefault(logging.ParseLevel(cfg.Log.Level))

	shutdownTracing, err := tracing.Setup(context.Background(), cfg.Tracing)
	if err != nil {
		log.Fatalf("failed to setup tracing: %v", err)
	}

	store, err := node.OpenStore(cfg.Store)
	if err != nil {
		log.Fatalf("failed to open %s store: %v", cfg.Store.Backend, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	srv := remote.NewServer(cfg.Address, store, logger)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("failed to start grpc server: %v", err)
	}
	if cfg.Metrics.Address != "" {
		if err := metrics.StartServer(ctx, cfg.Metrics.Address, nil, logger); err != nil {
			log.Fatalf("failed to start metrics server: %v", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	cancel()
	srv.Stop()
	if err := store.Close(); err != nil {
		log.Printf("store close error: %v", err)
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Printf("tracing shutdown error: %v", err)
	}
}

package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"mvlease/internal/config"
	"mvlease/internal/logging"
	"mvlease/internal/node"
)

func main() {
	configPath := flag.String("config", "configs/node.example.yaml", "path to node config")
	flag.Parse()

	cfg, err := config.LoadNodeConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	logger := logging.NewDefault(logging.ParseLevel(cfg.Log.Level))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	n, err := node.New(ctx, *cfg, logger)
	if err != nil {
		log.Fatalf("failed to start node: %v", err)
	}
	if err := n.Run(ctx); err != nil {
		log.Fatalf("node stopped: %v", err)
	}
}

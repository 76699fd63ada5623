// Package node wires a lease manager process together: tracing, store, manager, follower
// tracker and metrics endpoint.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"mvlease/internal/config"
	"mvlease/internal/follower"
	"mvlease/internal/lease"
	"mvlease/internal/leasestore"
	"mvlease/internal/logging"
	"mvlease/internal/metrics"
	"mvlease/internal/tracing"
)

// Node owns every component of one lease manager process.
type Node struct {
	cfg      config.NodeConfig
	logger   logging.Logger
	registry *prometheus.Registry
	store    leasestore.Store
	manager  *lease.Manager
	tracker  *follower.Tracker
	shutdown tracing.ShutdownFunc
}

// New opens the configured store and builds the manager. Followers also get a status
// tracker.
func New(ctx context.Context, cfg config.NodeConfig, logger logging.Logger) (*Node, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger = logger.With("host", cfg.Hostname)

	shutdown, err := tracing.Setup(ctx, cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("node: setup tracing: %w", err)
	}
	store, err := OpenStore(cfg.Store)
	if err != nil {
		_ = shutdown(ctx)
		return nil, fmt.Errorf("node: open store: %w", err)
	}

	registry := prometheus.NewRegistry()
	manager, err := lease.NewManager(ctx, lease.Config{
		Hostname:   cfg.Hostname,
		Leader:     cfg.Leader,
		Store:      store,
		Collection: cfg.Store.Collection,
		Logger:     logger,
		Metrics:    metrics.NewLeaseMetrics(registry, cfg.Metrics.Namespace),
		OpMetrics:  metrics.NewOperationMetrics(registry, cfg.Metrics.Namespace, cfg.Store.Collection),
	})
	if err != nil {
		_ = store.Close()
		_ = shutdown(ctx)
		return nil, err
	}

	n := &Node{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		store:    store,
		manager:  manager,
		shutdown: shutdown,
	}
	if !cfg.Leader {
		n.tracker = follower.New(manager, follower.Config{
			Interval: cfg.Follower.RefreshInterval,
			Logger:   logger,
		})
	}
	logger.Info("node created", "leader", cfg.Leader, "backend", cfg.Store.Backend)
	return n, nil
}

func (n *Node) Manager() *lease.Manager {
	return n.manager
}

// Tracker is nil on the leader.
func (n *Node) Tracker() *follower.Tracker {
	return n.tracker
}

func (n *Node) Registry() *prometheus.Registry {
	return n.registry
}

// Run serves until ctx is canceled, then shuts every component down.
func (n *Node) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	if n.cfg.Metrics.Address != "" {
		if err := metrics.StartServer(gctx, n.cfg.Metrics.Address, n.registry, n.logger); err != nil {
			return err
		}
	}
	if n.tracker != nil {
		g.Go(func() error {
			return n.tracker.Run(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})
	err := g.Wait()
	if closeErr := n.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Close stops the tracker, waits for pending drops, closes the store and flushes traces.
func (n *Node) Close() error {
	if n.tracker != nil {
		_ = n.tracker.Close()
	}
	_ = n.manager.Close()
	err := n.store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := n.shutdown(ctx); shutdownErr != nil {
		n.logger.Warn("tracing shutdown failed", "error", shutdownErr)
	}
	n.logger.Info("node stopped")
	return err
}

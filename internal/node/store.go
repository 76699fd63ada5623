package node

import (
	"fmt"

	"mvlease/internal/config"
	"mvlease/internal/leasestore"
	"mvlease/internal/leasestore/boltstore"
	"mvlease/internal/leasestore/memstore"
	"mvlease/internal/leasestore/pebblestore"
	"mvlease/internal/leasestore/remote"
)

// OpenStore opens the lease store backend described by cfg.
func OpenStore(cfg config.StoreConfig) (leasestore.Store, error) {
	switch cfg.Backend {
	case config.BackendMemory, "":
		return memstore.New(), nil
	case config.BackendBolt:
		return boltstore.Open(cfg.Dir, cfg.Collection)
	case config.BackendPebble:
		return pebblestore.Open(cfg.Dir, cfg.Collection)
	case config.BackendRemote:
		return remote.Dial(cfg.Address, cfg.DialTimeout)
	default:
		return nil, fmt.Errorf("node: unknown store backend %q", cfg.Backend)
	}
}

package config

import (
	"fmt"
	"time"

	"mvlease/internal/leasestore"
	"mvlease/internal/tracing"
)

// Store backends.
const (
	BackendMemory = "memory"
	BackendBolt   = "bolt"
	BackendPebble = "pebble"
	BackendRemote = "remote"
)

const (
	defaultMetricsNamespace = "mvlease"
	defaultDialTimeout      = 5 * time.Second
	defaultRefreshInterval  = 30 * time.Second
)

// NodeConfig configures a lease node.
type NodeConfig struct {
	Hostname string         `yaml:"hostname"`
	Leader   bool           `yaml:"leader"`
	Store    StoreConfig    `yaml:"store"`
	Follower FollowerConfig `yaml:"follower"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
	Tracing  tracing.Config `yaml:"tracing"`
}

// StoreServerConfig configures a standalone lease store server.
type StoreServerConfig struct {
	Address string         `yaml:"address"`
	Store   StoreConfig    `yaml:"store"`
	Metrics MetricsConfig  `yaml:"metrics"`
	Log     LogConfig      `yaml:"log"`
	Tracing tracing.Config `yaml:"tracing"`
}

type StoreConfig struct {
	Backend    string `yaml:"backend"`
	Dir        string `yaml:"dir"`
	Address    string `yaml:"address"`
	Collection string `yaml:"collection"`
	// DialTimeout bounds each remote call that carries no deadline of its own.
	DialTimeout time.Duration `yaml:"dialTimeout"`
}

type FollowerConfig struct {
	RefreshInterval time.Duration `yaml:"refreshInterval"`
}

type MetricsConfig struct {
	// Address of the /metrics endpoint; empty disables it.
	Address   string `yaml:"address"`
	Namespace string `yaml:"namespace"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

func (c *StoreConfig) applyDefaults() {
	if c.Backend == "" {
		c.Backend = BackendMemory
	}
	if c.Collection == "" {
		c.Collection = leasestore.DefaultCollection
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
}

func (c StoreConfig) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendBolt, BackendPebble:
		if c.Dir == "" {
			return fmt.Errorf("config: store.dir is required for the %s backend", c.Backend)
		}
	case BackendRemote:
		if c.Address == "" {
			return fmt.Errorf("config: store.address is required for the remote backend")
		}
	default:
		return fmt.Errorf("config: unknown store backend %q", c.Backend)
	}
	return nil
}

func (c *MetricsConfig) applyDefaults() {
	if c.Namespace == "" {
		c.Namespace = defaultMetricsNamespace
	}
}

func (c *NodeConfig) ApplyDefaults() {
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "mvlease-node"
	}
	c.Store.applyDefaults()
	c.Metrics.applyDefaults()
	if c.Follower.RefreshInterval <= 0 {
		c.Follower.RefreshInterval = defaultRefreshInterval
	}
}

func (c NodeConfig) Validate() error {
	if c.Hostname == "" {
		return fmt.Errorf("config: hostname is required")
	}
	if err := validateTracing(c.Tracing); err != nil {
		return err
	}
	return c.Store.Validate()
}

func validateTracing(c tracing.Config) error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("config: tracing.sampleRatio must be within [0, 1], got %v", c.SampleRatio)
	}
	return nil
}

func (c *StoreServerConfig) ApplyDefaults() {
	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "mvlease-leasestore"
	}
	c.Store.applyDefaults()
	c.Metrics.applyDefaults()
}

func (c StoreServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("config: address is required")
	}
	if c.Store.Backend == BackendRemote {
		return fmt.Errorf("config: a store server cannot serve a remote backend")
	}
	if err := validateTracing(c.Tracing); err != nil {
		return err
	}
	return c.Store.Validate()
}

package config

// Package config provides a reusable loader for federationd configuration
// files and environment variables, built on viper with spec.md §6's
// configuration options mapped onto mapstructure-tagged fields.
//
// Version: v0.1.0

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/intercoop/federation-core/pkg/utils"
)

// Version is the semantic version of this configuration package.
const Version = "v0.1.0"

// Config is the unified configuration for a federationd node (spec.md §6).
// It is the shape Load expects of the default.yaml (and per-environment)
// files it reads from cmd/config or config; no such file ships with this
// repository.
type Config struct {
	Overlay struct {
		ListenAddresses        []string `mapstructure:"listen_addresses" json:"listen_addresses"`
		BootstrapPeers         []string `mapstructure:"bootstrap_peers" json:"bootstrap_peers"`
		MaxPeers               int      `mapstructure:"max_peers" json:"max_peers"`
		BootstrapPeriodSeconds int      `mapstructure:"bootstrap_period_seconds" json:"bootstrap_period_seconds"`
		GossipHeartbeatSeconds int      `mapstructure:"gossip_heartbeat_seconds" json:"gossip_heartbeat_seconds"`
		GossipValidation       string   `mapstructure:"gossip_validation" json:"gossip_validation"`
		DiscoveryTag           string   `mapstructure:"discovery_tag" json:"discovery_tag"`
	} `mapstructure:"overlay" json:"overlay"`

	TrustBundle struct {
		SyncSeconds int `mapstructure:"trust_bundle_sync_seconds" json:"trust_bundle_sync_seconds"`
	} `mapstructure:"trust_bundle" json:"trust_bundle"`

	Storage struct {
		DBPath string `mapstructure:"db_path" json:"db_path"`
	} `mapstructure:"storage" json:"storage"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
		File  string `mapstructure:"file" json:"file"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

// Load reads configuration files and merges any environment specific
// overrides. The resulting configuration is stored in AppConfig and returned.
//
// The function uses the provided environment name to merge additional config
// files. If env is empty, only the default configuration is loaded.
func Load(env string) (*Config, error) {
	viper.SetConfigName("default")
	viper.AddConfigPath("cmd/config")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		return nil, utils.Wrap(err, "load config")
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.AutomaticEnv() // picks up from .env

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the FEDERATIOND_ENV environment
// variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("FEDERATIOND_ENV", ""))
}

// BootstrapPeriod returns the configured bootstrap reconnection period,
// defaulting to 30s (spec.md §6).
func (c Config) BootstrapPeriod() time.Duration {
	if c.Overlay.BootstrapPeriodSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.Overlay.BootstrapPeriodSeconds) * time.Second
}

// GossipHeartbeat returns the configured gossip heartbeat, defaulting to 1s
// (spec.md §6).
func (c Config) GossipHeartbeat() time.Duration {
	if c.Overlay.GossipHeartbeatSeconds <= 0 {
		return time.Second
	}
	return time.Duration(c.Overlay.GossipHeartbeatSeconds) * time.Second
}

// TrustBundleSyncPeriod returns the configured trust-bundle sync period,
// defaulting to 60s (spec.md §6).
func (c Config) TrustBundleSyncPeriod() time.Duration {
	if c.TrustBundle.SyncSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TrustBundle.SyncSeconds) * time.Second
}

// MaxPeers returns the configured peer budget, defaulting to 25
// (spec.md §6).
func (c Config) MaxPeers() int {
	if c.Overlay.MaxPeers <= 0 {
		return 25
	}
	return c.Overlay.MaxPeers
}

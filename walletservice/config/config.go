package config

// Package config holds the wallet-sync HTTP surface's own small
// configuration, separate from federationd's (spec.md §6 scopes overlay
// config to the core; the wallet-sync dispatcher needs only a listen port
// and the sync worker's poll period), env-driven like the rest of this
// repo's configuration.

import "github.com/intercoop/federation-core/pkg/utils"

// AppConfig holds the values loaded by Load.
var AppConfig struct {
	Port              string
	SyncPeriodSeconds int
}

// Load populates AppConfig from the environment, defaulting Port to 8090
// and the sync period to 30s.
func Load() {
	AppConfig.Port = utils.EnvOrDefault("WALLETSERVICE_PORT", "8090")
	AppConfig.SyncPeriodSeconds = utils.EnvOrDefaultInt("WALLETSERVICE_SYNC_SECONDS", 30)
}

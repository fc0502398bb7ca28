package main

// walletservice hosts the Credential Sync Worker and its thin HTTP
// dispatcher, the only non-core-internal HTTP surface this module exposes
// (SPEC_FULL.md §0, §5). Wiring order: load config, build service, build
// controller, register routes, serve; zap.NewProduction/ReplaceGlobals
// bootstraps the sync worker's structured logging.

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"go.uber.org/zap"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/intercoop/federation-core/core"
	"github.com/intercoop/federation-core/pkg/utils"
	"github.com/intercoop/federation-core/walletservice/config"
	"github.com/intercoop/federation-core/walletservice/controllers"
	"github.com/intercoop/federation-core/walletservice/routes"
	"github.com/intercoop/federation-core/walletservice/services"
)

// cacheKey resolves the wallet's local-cache encryption key from the
// WALLET_CACHE_KEY environment variable (base64, chacha20poly1305.KeySize
// bytes) or generates a fresh one when it is unset or invalid. The cache
// lives in process memory only, so a generated key never meets entries
// sealed by an earlier run.
func cacheKey() []byte {
	if encoded := utils.EnvOrDefault("WALLET_CACHE_KEY", ""); encoded != "" {
		if key, err := base64.StdEncoding.DecodeString(encoded); err == nil && len(key) == chacha20poly1305.KeySize {
			return key
		}
		logrus.Warn("walletservice: WALLET_CACHE_KEY is set but invalid, generating an ephemeral key")
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(key); err != nil {
		logrus.Fatalf("walletservice: generate cache key: %v", err)
	}
	return key
}

func main() {
	config.Load()

	zapLogger, err := zap.NewProduction()
	if err != nil {
		logrus.Fatalf("walletservice: init zap logger: %v", err)
	}
	zap.ReplaceGlobals(zapLogger)

	store := core.NewInMemoryStore()
	registry := core.NewIdentityRegistry(store)

	fetch := func(credentialID string) (core.VerifiableCredential, bool) {
		raw, ok, err := store.GetKV(context.Background(), core.KeyCID("credential::"+credentialID))
		if err != nil || !ok {
			return core.VerifiableCredential{}, false
		}
		var vc core.VerifiableCredential
		if err := json.Unmarshal(raw, &vc); err != nil {
			return core.VerifiableCredential{}, false
		}
		return vc, true
	}

	worker := services.NewSyncWorker(registry.Resolve, fetch, nil, time.Duration(config.AppConfig.SyncPeriodSeconds)*time.Second)
	if cache, err := services.NewEncryptedCache(cacheKey()); err != nil {
		logrus.Warnf("walletservice: local cache disabled: %v", err)
	} else {
		worker.SetCache(cache)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go worker.Run(ctx)

	ctrl := controllers.NewSyncController(worker)
	r := mux.NewRouter()
	routes.Register(r, ctrl)

	logrus.Infof("walletservice listening on %s", config.AppConfig.Port)
	if err := http.ListenAndServe(":"+config.AppConfig.Port, r); err != nil {
		logrus.Fatal(err)
	}
}

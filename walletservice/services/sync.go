package services

// Credential Sync Worker (spec.md §3 Credential Sync Entry, SPEC_FULL.md §5
// item 2): a thin service wrapping core operations for the HTTP layer,
// logging through zap.L().Sugar() since a periodic worker benefits from
// zap's structured fields the way a plain text formatter does not.

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/intercoop/federation-core/core"
)

// SyncStatus is a Credential Sync Entry's lifecycle state (spec.md §3).
type SyncStatus int

const (
	StatusPending SyncStatus = iota
	StatusVerified
	StatusInvalid
	StatusRevoked
	StatusExpired
)

func (s SyncStatus) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusVerified:
		return "Verified"
	case StatusInvalid:
		return "Invalid"
	case StatusRevoked:
		return "Revoked"
	case StatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// SyncTrustScore mirrors core.TrustScore's flags in the shape the wallet
// records alongside a sync entry (spec.md §3).
type SyncTrustScore struct {
	Score             int
	IssuerVerified    bool
	SignatureVerified bool
	FederationVerified bool
	QuorumMet         bool
}

// CredentialSyncEntry is the wallet-side record of a credential's
// federation-verification state (spec.md §3).
type CredentialSyncEntry struct {
	CredentialID         string
	ReceiptID            string
	FederationID         string
	Status               SyncStatus
	TrustScore           *SyncTrustScore
	LastVerified         time.Time
	VerifiableCredential *core.VerifiableCredential
}

// CredentialSource resolves a credential by ID, e.g. from the federation
// overlay's replication engine or a locally cached copy.
type CredentialSource func(credentialID string) (core.VerifiableCredential, bool)

// SyncWorker periodically re-verifies every tracked Credential Sync Entry
// against the federation, updating status and trust score in place
// (SPEC_FULL.md §5 item 2).
type SyncWorker struct {
	mu       sync.RWMutex
	entries  map[string]*CredentialSyncEntry
	resolve  core.KeyResolver
	fetch    CredentialSource
	manifest map[core.DID]bool
	period   time.Duration
	logger   *zap.SugaredLogger
	cache    *EncryptedCache
}

// SetCache attaches an encrypted local cache; synced entries are persisted
// to it as they're updated. Optional — a worker with no cache simply keeps
// entries in memory.
func (w *SyncWorker) SetCache(cache *EncryptedCache) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cache = cache
}

// NewSyncWorker constructs a worker. resolve and fetch are injected so the
// worker never imports the overlay directly, keeping it testable without a
// live network.
func NewSyncWorker(resolve core.KeyResolver, fetch CredentialSource, manifest map[core.DID]bool, period time.Duration) *SyncWorker {
	if period <= 0 {
		period = 30 * time.Second
	}
	return &SyncWorker{
		entries:  make(map[string]*CredentialSyncEntry),
		resolve:  resolve,
		fetch:    fetch,
		manifest: manifest,
		period:   period,
		logger:   zap.L().Sugar(),
	}
}

// Track registers a credential for periodic sync, starting Pending.
func (w *SyncWorker) Track(credentialID, receiptID, federationID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.entries[credentialID] = &CredentialSyncEntry{
		CredentialID: credentialID,
		ReceiptID:    receiptID,
		FederationID: federationID,
		Status:       StatusPending,
	}
}

// Get returns the current sync entry for credentialID, if tracked.
func (w *SyncWorker) Get(credentialID string) (CredentialSyncEntry, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	e, ok := w.entries[credentialID]
	if !ok {
		return CredentialSyncEntry{}, false
	}
	return *e, true
}

// List returns a snapshot of every tracked sync entry.
func (w *SyncWorker) List() []CredentialSyncEntry {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]CredentialSyncEntry, 0, len(w.entries))
	for _, e := range w.entries {
		out = append(out, *e)
	}
	return out
}

// Run drives the periodic sync loop until ctx is cancelled. Each tick
// re-verifies every tracked entry; failures to resolve a credential are
// logged and leave the entry's prior status untouched, never crash the
// worker (spec.md §7's "no component panics on untrusted input" carried
// into this supplemented component).
func (w *SyncWorker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.syncOnce()
		}
	}
}

func (w *SyncWorker) syncOnce() {
	w.mu.Lock()
	ids := make([]string, 0, len(w.entries))
	for id := range w.entries {
		ids = append(ids, id)
	}
	w.mu.Unlock()

	for _, id := range ids {
		w.syncEntry(id)
	}
}

func (w *SyncWorker) syncEntry(credentialID string) {
	vc, ok := w.fetch(credentialID)
	if !ok {
		w.logger.Warnw("credential sync: could not resolve credential", "credential_id", credentialID)
		return
	}

	sigValid := core.VerifyCredential(vc, w.resolve)
	issuerKnown := w.manifest[vc.Issuer]
	score := core.ScoreCredential(vc, issuerKnown, w.resolve, nil)

	status := StatusInvalid
	if sigValid && issuerKnown {
		status = StatusVerified
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.entries[credentialID]
	if !ok {
		return
	}
	entry.Status = status
	entry.LastVerified = time.Now().UTC()
	entry.VerifiableCredential = &vc
	entry.TrustScore = &SyncTrustScore{
		Score:              score.Score,
		IssuerVerified:     issuerKnown,
		SignatureVerified:  sigValid,
		FederationVerified: issuerKnown && sigValid,
		QuorumMet:          score.DistinctSigners >= 2,
	}
	w.logger.Infow("credential synced", "credential_id", credentialID, "status", status.String(), "score", score.Score)

	if w.cache != nil {
		if err := w.cache.Put(credentialID, *entry); err != nil {
			w.logger.Warnw("credential sync: cache write failed", "credential_id", credentialID, "error", err)
		}
	}
}

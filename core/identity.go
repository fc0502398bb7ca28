package core

// DID Registry (spec.md §3, referenced by trust-bundle membership and
// credential-issuer resolution): a KV-namespaced registry of verified
// identities behind a small mutex-guarded service, keyed by federation DID
// over the Content-Addressed Store's KV surface. Store exposes point KV
// operations only, no range scan (spec.md §4.1), so List() is backed by an
// in-memory index maintained alongside the KV writes rather than a prefix
// scan.

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"

	"github.com/ipfs/go-cid"
)

const identityKVPrefix = "identity::"

// IdentityRegistry resolves a DID to its currently registered public key.
// It implements KeyResolver, the lookup VerifyCredential and the
// TrustBundle/GuardianMandate verifiers need.
type IdentityRegistry struct {
	mu    sync.RWMutex
	store Store
	index map[DID]bool
}

// NewIdentityRegistry creates a registry backed by store.
func NewIdentityRegistry(store Store) *IdentityRegistry {
	return &IdentityRegistry{store: store, index: make(map[DID]bool)}
}

// Register binds did to pub, persisting the binding in the store under
// "identity::{did}".
func (r *IdentityRegistry) Register(ctx context.Context, did DID, pub ed25519.PublicKey) error {
	if !did.Valid() {
		return fmt.Errorf("%w: invalid did %s", ErrMalformed, did)
	}
	if len(pub) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: invalid public key length for %s", ErrMalformed, did)
	}
	if err := r.store.PutKV(ctx, identityKey(did), []byte(pub)); err != nil {
		return storageIOError("register-identity", err)
	}
	r.mu.Lock()
	r.index[did] = true
	r.mu.Unlock()
	return nil
}

// Resolve returns did's registered public key, implementing KeyResolver.
func (r *IdentityRegistry) Resolve(did DID) (ed25519.PublicKey, bool) {
	raw, ok, err := r.store.GetKV(context.Background(), identityKey(did))
	if err != nil || !ok {
		return nil, false
	}
	return ed25519.PublicKey(raw), true
}

// Verify reports whether did has a registered key.
func (r *IdentityRegistry) Verify(ctx context.Context, did DID) (bool, error) {
	ok, err := r.store.ContainsKV(ctx, identityKey(did))
	if err != nil {
		return false, storageIOError("verify-identity", err)
	}
	return ok, nil
}

// Remove deletes did's registered key.
func (r *IdentityRegistry) Remove(ctx context.Context, did DID) error {
	if err := r.store.DeleteKV(ctx, identityKey(did)); err != nil {
		return storageIOError("remove-identity", err)
	}
	r.mu.Lock()
	delete(r.index, did)
	r.mu.Unlock()
	return nil
}

// List returns every DID registered through this IdentityRegistry instance
// since process start and not removed through it since.
func (r *IdentityRegistry) List() []DID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]DID, 0, len(r.index))
	for did := range r.index {
		out = append(out, did)
	}
	return sortedDIDs(out)
}

func identityKey(did DID) cid.Cid {
	return KeyCID(identityKVPrefix + string(did))
}

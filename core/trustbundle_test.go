package core

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"testing"
	"time"

	"github.com/ipfs/go-cid"
)

func twoMemberBundleFixture(t *testing.T) ([]TrustBundleMember, map[DID]ed25519.PrivateKey) {
	t.Helper()
	privs := make(map[DID]ed25519.PrivateKey)
	var members []TrustBundleMember
	for _, name := range []string{"alice", "bob"} {
		did := DID("did:icn:fed1:" + name)
		pub, priv, _ := ed25519.GenerateKey(nil)
		privs[did] = priv
		members = append(members, TrustBundleMember{DID: did, PublicKey: pub})
	}
	return members, privs
}

func signBundle(epochID uint64, members []TrustBundleMember, qc QuorumConfig, dagRoot cid.Cid, privs map[DID]ed25519.PrivateKey) QuorumProof {
	hash := canonicalTrustBundleHash(epochID, members, qc, dagRoot)
	var sigs []Signature
	for did, priv := range privs {
		sig, _ := Sign(priv, hash)
		sigs = append(sigs, Signature{Signer: did, Sig: sig})
	}
	return QuorumProof{Signatures: sigs}
}

func TestPublishAndFetchTrustBundle(t *testing.T) {
	store := NewInMemoryStore()
	mgr := NewEpochManager(store, nil, nil, 0)
	ctx := context.Background()

	members, privs := twoMemberBundleFixture(t)
	qc := QuorumConfig{Threshold: 2, Total: 2}
	dagRoot := CIDForBlob([]byte("genesis"))
	proof := signBundle(1, members, qc, dagRoot, privs)

	bundle, err := mgr.PublishTrustBundle(ctx, 1, members, qc, dagRoot, proof)
	if err != nil {
		t.Fatalf("PublishTrustBundle: %v", err)
	}
	if !VerifyTrustBundle(bundle) {
		t.Fatal("expected the published bundle to verify")
	}

	fetched, ok, err := mgr.FetchTrustBundle(ctx, 1)
	if err != nil || !ok {
		t.Fatalf("FetchTrustBundle: ok=%v err=%v", ok, err)
	}
	if fetched.EpochID != 1 {
		t.Fatalf("fetched epoch = %d, want 1", fetched.EpochID)
	}

	latest, ok, err := mgr.LatestKnownEpoch(ctx)
	if err != nil || !ok || latest != 1 {
		t.Fatalf("LatestKnownEpoch = %d ok=%v err=%v, want 1/true", latest, ok, err)
	}
}

func TestPublishTrustBundleSucceedsWithInsufficientQuorum(t *testing.T) {
	// spec.md §8 end-to-end scenario 5: publish and verify are independent.
	// A bundle signed by only one of two required members must still
	// publish and advance the latest epoch; only VerifyTrustBundle reports
	// the under-threshold proof.
	store := NewInMemoryStore()
	mgr := NewEpochManager(store, nil, nil, 0)
	ctx := context.Background()
	members, privs := twoMemberBundleFixture(t)
	qc := QuorumConfig{Threshold: 2, Total: 2}
	dagRoot := CIDForBlob([]byte("genesis"))

	hash := canonicalTrustBundleHash(1, members, qc, dagRoot)
	var solo DID
	for did := range privs {
		solo = did
		break
	}
	sig, _ := Sign(privs[solo], hash)
	proof := QuorumProof{Signatures: []Signature{{Signer: solo, Sig: sig}}}

	bundle, err := mgr.PublishTrustBundle(ctx, 1, members, qc, dagRoot, proof)
	if err != nil {
		t.Fatalf("PublishTrustBundle: expected success with under-threshold proof, got %v", err)
	}
	if VerifyTrustBundle(bundle) {
		t.Fatal("expected VerifyTrustBundle to fail for an under-threshold proof")
	}
	latest, ok, err := mgr.LatestKnownEpoch(ctx)
	if err != nil || !ok || latest != 1 {
		t.Fatalf("LatestKnownEpoch = %d ok=%v err=%v, want 1/true (publish still advances the epoch)", latest, ok, err)
	}
}

func TestAdvanceEpochIsMonotonic(t *testing.T) {
	store := NewInMemoryStore()
	mgr := NewEpochManager(store, nil, nil, 0)
	ctx := context.Background()

	if err := mgr.AdvanceEpoch(ctx, 5); err != nil {
		t.Fatalf("AdvanceEpoch(5): %v", err)
	}
	if err := mgr.AdvanceEpoch(ctx, 3); err != nil {
		t.Fatalf("AdvanceEpoch(3): %v", err)
	}
	latest, _, _ := mgr.LatestKnownEpoch(ctx)
	if latest != 5 {
		t.Fatalf("latest epoch = %d, want 5 (advance must not go backwards)", latest)
	}
}

func TestEpochManagerSyncOnceReceivesAnnouncedBundle(t *testing.T) {
	// spec.md §4.5/§6: a node's periodic sync observes a peer's trust bundle
	// announcement over "trustbundle::announce::{epoch}" and advances its own
	// latest known epoch once the announced bundle verifies.
	a, b := newConnectedOverlayPair(t)

	storeA := NewInMemoryStore()
	storeB := NewInMemoryStore()
	mgrA := NewEpochManager(storeA, a, nil, time.Hour)
	mgrB := NewEpochManager(storeB, b, nil, time.Hour)

	members, privs := twoMemberBundleFixture(t)
	qc := QuorumConfig{Threshold: 2, Total: 2}
	dagRoot := CIDForBlob([]byte("genesis"))
	proof := signBundle(1, members, qc, dagRoot, privs)

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()

	syncDone := make(chan error, 1)
	go func() { syncDone <- mgrB.syncOnce(ctx) }()

	// Give syncOnce's subscription time to join the topic and the gossipsub
	// mesh to form before publishing, mirroring TestOverlayBroadcastSubscribe.
	time.Sleep(300 * time.Millisecond)

	if _, err := mgrA.PublishTrustBundle(ctx, 1, members, qc, dagRoot, proof); err != nil {
		t.Fatalf("PublishTrustBundle: %v", err)
	}

	select {
	case err := <-syncDone:
		if err != nil {
			t.Fatalf("syncOnce: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for syncOnce to observe the announced bundle")
	}

	latest, ok, err := mgrB.LatestKnownEpoch(ctx)
	if err != nil || !ok || latest != 1 {
		t.Fatalf("LatestKnownEpoch = %d ok=%v err=%v, want 1/true", latest, ok, err)
	}
}

func TestVerifyMandateAgainstGuardianSet(t *testing.T) {
	store := NewInMemoryStore()
	mgr := NewEpochManager(store, nil, nil, 0)
	ctx := context.Background()

	set := NewGuardianSet("thread-7", 1)
	pub, priv, _ := ed25519.GenerateKey(nil)
	_ = set.AddGuardian("did:icn:fed1:guardian", "Guardian", pub)
	_ = set.Activate("did:icn:fed1:guardian")

	encoded, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal guardian set: %v", err)
	}
	if err := store.PutKV(ctx, KeyCID(kvGuardianSetPrefx+set.ScopeID), encoded); err != nil {
		t.Fatalf("PutKV guardian set: %v", err)
	}

	mandate := GuardianMandate{
		Scope:    "thread",
		ScopeID:  "thread-7",
		Action:   "freeze",
		Reason:   "fraud reported",
		Guardian: "did:icn:fed1:guardian",
	}
	hash := MandateHash(mandate.Action, mandate.Reason, mandate.Scope, mandate.ScopeID, mandate.Guardian)
	sig, _ := Sign(priv, hash)
	mandate.QuorumProof = QuorumProof{Signatures: []Signature{{Signer: mandate.Guardian, Sig: sig}}}

	ok, err := mgr.VerifyMandate(ctx, mandate)
	if err != nil {
		t.Fatalf("VerifyMandate: %v", err)
	}
	if !ok {
		t.Fatal("expected mandate to verify against the stored guardian set")
	}
}

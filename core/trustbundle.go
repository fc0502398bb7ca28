package core

// Epoch & TrustBundle Manager (spec.md §4.5): threshold-over-total quorum
// bookkeeping generalised into DID-keyed verification via crypto.go's
// VerifyQuorum, persisted through the Content-Addressed Store's KV surface,
// with canonical serialisation ordering (lexicographic member/signature
// ordering so independently-built bundles hash identically).

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/sirupsen/logrus"
)

// TrustBundleMember is one federation member's long-term identity, bound
// into a TrustBundle as of its epoch (spec.md §3).
type TrustBundleMember struct {
	DID       DID    `json:"did"`
	PublicKey []byte `json:"public_key"`
}

// QuorumProof is the ordered set of signatures a TrustBundle or
// GuardianMandate carries as evidence of quorum approval (spec.md §3).
type QuorumProof struct {
	Signatures []Signature `json:"signatures"`
}

// QuorumConfig specifies the signer threshold a TrustBundle's quorum proof
// must meet, out of the federation's total member count (spec.md §3):
// 0 < Threshold ≤ Total.
type QuorumConfig struct {
	Threshold int `json:"threshold"`
	Total     int `json:"total"`
}

// Valid reports whether c satisfies spec.md §3's invariant on QuorumConfig.
func (c QuorumConfig) Valid() bool {
	return c.Threshold > 0 && c.Threshold <= c.Total
}

// TrustBundle anchors a federation's membership, quorum configuration, and
// DAG root at a given epoch (spec.md §3). EpochID is monotonically
// increasing; ContentHash is the canonical hash the QuorumProof must verify
// against; DagRoot is the CID of the governance DAG as of this epoch
// (spec.md §1, §9: "epochs carry CIDs of their root").
type TrustBundle struct {
	EpochID      uint64              `json:"epoch_id"`
	Members      []TrustBundleMember `json:"members"`
	QuorumConfig QuorumConfig        `json:"quorum_config"`
	DagRoot      cid.Cid             `json:"dag_root"`
	ContentHash  []byte              `json:"content_hash"`
	QuorumProof  QuorumProof         `json:"quorum_proof"`
	IssuedAt     time.Time           `json:"issued_at"`
}

// canonicalTrustBundleHash recomputes the content hash over the bundle's
// members (sorted lexicographically by DID), quorum configuration, and DAG
// root, excluding the quorum proof itself — the thing the proof attests to
// cannot include the proof (spec.md §4.5).
func canonicalTrustBundleHash(epochID uint64, members []TrustBundleMember, qc QuorumConfig, dagRoot cid.Cid) []byte {
	sorted := append([]TrustBundleMember(nil), members...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DID < sorted[j].DID })

	type canonicalMember struct {
		DID       DID    `json:"did"`
		PublicKey []byte `json:"public_key"`
	}
	canon := struct {
		EpochID      uint64            `json:"epoch_id"`
		Members      []canonicalMember `json:"members"`
		QuorumConfig QuorumConfig      `json:"quorum_config"`
		DagRoot      string            `json:"dag_root"`
	}{EpochID: epochID, QuorumConfig: qc, DagRoot: dagRoot.String()}
	for _, m := range sorted {
		canon.Members = append(canon.Members, canonicalMember{DID: m.DID, PublicKey: m.PublicKey})
	}
	payload, err := json.Marshal(canon)
	if err != nil {
		panic("federation: canonical trust bundle encoding failed: " + err.Error())
	}
	sum := sha256.Sum256(payload)
	return sum[:]
}

// canonicalSignatures returns proof's signatures sorted lexicographically
// by signer DID, the order a TrustBundle must carry them in on the wire
// (spec.md §4.5).
func canonicalSignatures(sigs []Signature) []Signature {
	out := append([]Signature(nil), sigs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Signer < out[j].Signer })
	return out
}

const (
	kvLatestEpochKey   = "federation::latest_epoch"
	kvTrustBundlePrefx = "trustbundle::"
	kvGuardianSetPrefx = "guardian_set::"
)

// EpochManager owns epoch monotonicity, TrustBundle publication and
// verification, and the periodic best-effort sync against a federation's
// advertised latest epoch (spec.md §4.5).
type EpochManager struct {
	store      Store
	overlay    *Overlay
	logger     *logrus.Logger
	syncPeriod time.Duration
}

// NewEpochManager constructs an EpochManager. overlay may be nil, in which
// case periodic sync and bundle fetch-by-announce are unavailable but
// publish/verify still function against the local store.
func NewEpochManager(store Store, overlay *Overlay, logger *logrus.Logger, syncPeriod time.Duration) *EpochManager {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if syncPeriod <= 0 {
		syncPeriod = 60 * time.Second
	}
	return &EpochManager{store: store, overlay: overlay, logger: logger, syncPeriod: syncPeriod}
}

// PublishTrustBundle computes the bundle's canonical content hash and — in
// a single CAS transaction — writes the bundle under
// "trustbundle::{epoch_id}" and advances "federation::latest_epoch" if
// epochID is newer than what is currently recorded (spec.md §4.5: "one CAS
// transaction covering both writes"). Publish does not verify the supplied
// quorum proof: publish and verify are independent operations (spec.md §8
// testable property 5 / end-to-end scenario 5) — a bundle may be published
// with an under-threshold proof and later fail VerifyTrustBundle.
func (m *EpochManager) PublishTrustBundle(ctx context.Context, epochID uint64, members []TrustBundleMember, qc QuorumConfig, dagRoot cid.Cid, proof QuorumProof) (TrustBundle, error) {
	contentHash := canonicalTrustBundleHash(epochID, members, qc, dagRoot)

	bundle := TrustBundle{
		EpochID:      epochID,
		Members:      append([]TrustBundleMember(nil), members...),
		QuorumConfig: qc,
		DagRoot:      dagRoot,
		ContentHash:  contentHash,
		QuorumProof:  QuorumProof{Signatures: canonicalSignatures(proof.Signatures)},
		IssuedAt:     time.Now().UTC(),
	}
	encoded, err := json.Marshal(bundle)
	if err != nil {
		return TrustBundle{}, fmt.Errorf("federation: encode trust bundle: %w", err)
	}

	txn, err := m.store.Begin(ctx)
	if err != nil {
		return TrustBundle{}, storageIOError("begin-publish-trust-bundle", err)
	}
	latestKey := KeyCID(kvLatestEpochKey)
	bundleKey := KeyCID(fmt.Sprintf("%s%d", kvTrustBundlePrefx, epochID))

	if err := txn.PutKV(bundleKey, encoded); err != nil {
		_ = txn.Rollback()
		return TrustBundle{}, storageIOError("put-trust-bundle", err)
	}

	current, hasCurrent, err := txn.GetKV(latestKey)
	if err != nil {
		_ = txn.Rollback()
		return TrustBundle{}, storageIOError("get-latest-epoch", err)
	}
	if !hasCurrent || epochID > decodeEpoch(current) {
		if err := txn.PutKV(latestKey, encodeEpoch(epochID)); err != nil {
			_ = txn.Rollback()
			return TrustBundle{}, storageIOError("advance-latest-epoch", err)
		}
	}

	if err := txn.Commit(); err != nil {
		return TrustBundle{}, storageIOError("commit-publish-trust-bundle", err)
	}

	if m.overlay != nil {
		topic := TrustBundleAnnounceTopic(epochID)
		if err := m.overlay.Broadcast(ctx, topic, encoded); err != nil {
			m.logger.Warnf("broadcast trust bundle announce for epoch %d: %v", epochID, err)
		}
	}
	return bundle, nil
}

// FetchTrustBundle returns the bundle recorded for epochID without
// verifying it — verification is the caller's explicit, separate step
// (spec.md §4.5: "fetch performs no verification").
func (m *EpochManager) FetchTrustBundle(ctx context.Context, epochID uint64) (TrustBundle, bool, error) {
	key := KeyCID(fmt.Sprintf("%s%d", kvTrustBundlePrefx, epochID))
	raw, ok, err := m.store.GetKV(ctx, key)
	if err != nil {
		return TrustBundle{}, false, storageIOError("get-trust-bundle", err)
	}
	if !ok {
		return TrustBundle{}, false, nil
	}
	var bundle TrustBundle
	if err := json.Unmarshal(raw, &bundle); err != nil {
		return TrustBundle{}, false, fmt.Errorf("%w: decode trust bundle: %v", ErrMalformed, err)
	}
	return bundle, true, nil
}

// VerifyTrustBundle recomputes bundle's canonical content hash from its
// members and threshold and delegates to VerifyQuorum against its own
// membership list (a bundle attests to its own successor quorum only in the
// rotation case the caller drives explicitly; self-verification here checks
// that the stored proof was produced by the bundle's own signers, spec.md
// §4.5, testable property: bundle verification is pure and side-effect-free).
func VerifyTrustBundle(bundle TrustBundle) bool {
	expected := canonicalTrustBundleHash(bundle.EpochID, bundle.Members, bundle.QuorumConfig, bundle.DagRoot)
	if string(expected) != string(bundle.ContentHash) {
		return false
	}
	authorised := make(AuthorisedKeys, len(bundle.Members))
	for _, mem := range bundle.Members {
		authorised[mem.DID] = mem.PublicKey
	}
	return VerifyQuorum(bundle.QuorumProof.Signatures, bundle.ContentHash, authorised, bundle.QuorumConfig.Threshold)
}

// VerifyMandate checks a GuardianMandate's quorum proof against the
// guardian set authorised for mandate.ScopeID, resolved via a KV lookup
// under "guardian_set::{scope_id}" (spec.md §4.5, §9: the Open Question on
// guardian-set resolution is settled in favour of explicit KV-managed sets
// rather than reusing TrustBundle membership, since guardians are scoped
// per-resource and need not be federation members — see DESIGN.md).
func (m *EpochManager) VerifyMandate(ctx context.Context, mandate GuardianMandate) (bool, error) {
	set, ok, err := m.loadGuardianSet(ctx, mandate.ScopeID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	hash := MandateHash(mandate.Action, mandate.Reason, mandate.Scope, mandate.ScopeID, mandate.Guardian)
	verified := VerifyQuorum(mandate.QuorumProof.Signatures, hash, set.AuthorisedKeys(), set.Threshold)
	if !verified {
		m.logger.Debugf("mandate for scope %s not authorised by active guardians %v", mandate.ScopeID, set.ActiveDIDs())
	}
	return verified, nil
}

func (m *EpochManager) loadGuardianSet(ctx context.Context, scopeID string) (GuardianSet, bool, error) {
	key := KeyCID(kvGuardianSetPrefx + scopeID)
	raw, ok, err := m.store.GetKV(ctx, key)
	if err != nil {
		return GuardianSet{}, false, storageIOError("get-guardian-set", err)
	}
	if !ok {
		return GuardianSet{}, false, nil
	}
	var set GuardianSet
	if err := json.Unmarshal(raw, &set); err != nil {
		return GuardianSet{}, false, fmt.Errorf("%w: decode guardian set: %v", ErrMalformed, err)
	}
	return set, true, nil
}

// LatestKnownEpoch returns the highest epoch ID this node has recorded.
func (m *EpochManager) LatestKnownEpoch(ctx context.Context) (uint64, bool, error) {
	raw, ok, err := m.store.GetKV(ctx, KeyCID(kvLatestEpochKey))
	if err != nil {
		return 0, false, storageIOError("get-latest-epoch", err)
	}
	if !ok {
		return 0, false, nil
	}
	return decodeEpoch(raw), true, nil
}

// AdvanceEpoch records newEpoch as the latest known epoch; it is a no-op if
// newEpoch is not strictly greater than the currently recorded epoch
// (spec.md §4.5: epoch advancement is monotonic).
func (m *EpochManager) AdvanceEpoch(ctx context.Context, newEpoch uint64) error {
	current, ok, err := m.LatestKnownEpoch(ctx)
	if err != nil {
		return err
	}
	if ok && newEpoch <= current {
		return nil
	}
	if err := m.store.PutKV(ctx, KeyCID(kvLatestEpochKey), encodeEpoch(newEpoch)); err != nil {
		return storageIOError("advance-latest-epoch", err)
	}
	return nil
}

// Run drives the periodic, best-effort TrustBundle sync (default 60s):
// failures are logged, never surfaced, and never stop the loop (spec.md
// §4.5, §7). It returns when ctx is cancelled.
func (m *EpochManager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.syncPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.syncOnce(ctx); err != nil {
				m.logger.Warnf("trust bundle sync: %v", err)
			}
		}
	}
}

// syncAnnounceWait bounds how long syncOnce listens for a peer's trust
// bundle announcement before giving up for this tick (spec.md §4.5: sync is
// periodic and best-effort, never blocking the Run loop indefinitely).
const syncAnnounceWait = 5 * time.Second

// syncOnce subscribes to the next candidate epoch's announce topic
// (spec.md §6: "trustbundle::announce::{epoch}") and, if a peer publishes a
// bundle for it before syncAnnounceWait elapses, verifies it and advances
// the locally-known epoch. A tick with no announcement, or an announcement
// that fails verification, leaves the local epoch untouched (spec.md §4.5).
func (m *EpochManager) syncOnce(ctx context.Context) error {
	if m.overlay == nil {
		return nil
	}
	current, _, err := m.LatestKnownEpoch(ctx)
	if err != nil {
		return err
	}
	candidate := current + 1

	topic := TrustBundleAnnounceTopic(candidate)
	msgs, err := m.overlay.Subscribe(ctx, topic)
	if err != nil {
		return fmt.Errorf("federation: subscribe %s: %w", topic, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, syncAnnounceWait)
	defer cancel()

	select {
	case msg, ok := <-msgs:
		if !ok {
			return nil
		}
		var bundle TrustBundle
		if err := json.Unmarshal(msg.Data, &bundle); err != nil {
			return fmt.Errorf("%w: decode announced trust bundle: %v", ErrMalformed, err)
		}
		if bundle.EpochID != candidate {
			return nil
		}
		if !VerifyTrustBundle(bundle) {
			return fmt.Errorf("federation: announced trust bundle for epoch %d failed verification", candidate)
		}
		if err := m.storeTrustBundle(ctx, bundle); err != nil {
			return err
		}
		return m.AdvanceEpoch(ctx, candidate)
	case <-waitCtx.Done():
		return nil
	}
}

// storeTrustBundle persists a verified, peer-announced bundle under its
// epoch key so a later FetchTrustBundle call observes it locally.
func (m *EpochManager) storeTrustBundle(ctx context.Context, bundle TrustBundle) error {
	encoded, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("federation: encode trust bundle: %w", err)
	}
	key := KeyCID(fmt.Sprintf("%s%d", kvTrustBundlePrefx, bundle.EpochID))
	if err := m.store.PutKV(ctx, key, encoded); err != nil {
		return storageIOError("put-trust-bundle", err)
	}
	return nil
}

func encodeEpoch(e uint64) []byte {
	return []byte(fmt.Sprintf("%020d", e))
}

func decodeEpoch(raw []byte) uint64 {
	var e uint64
	_, _ = fmt.Sscanf(string(raw), "%d", &e)
	return e
}

package core

// Replication Engine (spec.md §4.4): a per-CID push/pull state machine with
// in-flight request tracking, and peer target selection ranked by
// XOR-distance-from-CID.

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
	"github.com/sirupsen/logrus"
)

const defaultReplicationPolicyKVPrefix = "replication_policy::"

// ReplicationEngine drives the per-CID replication state machine: given a
// CID and a policy, it identifies target peers and pushes a
// BlobReplicationRequest to each; on the receiving side it serves those
// requests by fetching the blob from a provider if it does not already hold
// it (spec.md §4.4).
type ReplicationEngine struct {
	store   Store
	overlay *Overlay
	logger  *logrus.Logger

	mu      sync.Mutex
	pending map[string]bool // cid key string -> outstanding push in flight
}

// NewReplicationEngine wires a ReplicationEngine to a store and overlay,
// registering its receiver-side handler on the overlay (spec.md §4.4).
func NewReplicationEngine(store Store, overlay *Overlay, logger *logrus.Logger) *ReplicationEngine {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	e := &ReplicationEngine{
		store:   store,
		overlay: overlay,
		logger:  logger,
		pending: make(map[string]bool),
	}
	overlay.SetReplicationHandler(e.handleReplicationRequest)
	overlay.SetFetchHandler(e.handleFetchRequest)
	return e
}

// resolvePolicy turns a ReplicationPolicy into a concrete fan-out count: a
// Factor policy is used as-is; a ByContext policy is resolved via a KV
// lookup under "replication_policy::{context}" holding a little-endian
// uint32 factor, defaulting to 0 (no replication) if absent (spec.md §4.4).
func (e *ReplicationEngine) resolvePolicy(ctx context.Context, policy ReplicationPolicy) (uint32, error) {
	switch policy.Kind {
	case PolicyNone:
		return 0, nil
	case PolicyFactor:
		return policy.Factor, nil
	case PolicyByContext:
		key := KeyCID(defaultReplicationPolicyKVPrefix + policy.Context)
		raw, ok, err := e.store.GetKV(ctx, key)
		if err != nil {
			return 0, storageIOError("get-replication-policy", err)
		}
		if !ok || len(raw) != 4 {
			return 0, nil
		}
		return uint32(raw[0]) | uint32(raw[1])<<8 | uint32(raw[2])<<16 | uint32(raw[3])<<24, nil
	default:
		return 0, ErrInvalidPolicy
	}
}

// Replicate runs the full push-side state machine for c under policy:
// check whether the blob is already local, resolve the policy to a target
// count, rank connected peers by XOR distance from c and push a
// BlobReplicationRequest to the closest n, excluding self (spec.md §4.4).
func (e *ReplicationEngine) Replicate(ctx context.Context, c cid.Cid, policy ReplicationPolicy) error {
	n, err := e.resolvePolicy(ctx, policy)
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}

	present, err := e.store.ContainsBlob(ctx, c)
	if err != nil {
		return storageIOError("contains-blob", err)
	}
	if !present {
		return ErrNotFound
	}

	if !e.markPending(c) {
		return nil // one outstanding request per CID invariant (spec.md §4.4)
	}
	defer e.clearPending(c)

	peers, err := e.overlay.ConnectedPeers(ctx)
	if err != nil {
		return err
	}
	if len(peers) == 0 {
		return ErrNoPeersAvailable
	}
	targets := closestPeers(c, peers, int(n))

	var firstErr error
	for _, p := range targets {
		resp, err := e.overlay.SendReplicationRequest(ctx, p, BlobReplicationRequest{CID: c})
		if err != nil {
			e.logger.Warnf("replicate %s to %s: %v", c, p, err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if !resp.Success {
			e.logger.Warnf("replicate %s to %s: peer reported %s", c, p, resp.Error)
		}
	}
	return firstErr
}

func (e *ReplicationEngine) markPending(c cid.Cid) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending[c.KeyString()] {
		return false
	}
	e.pending[c.KeyString()] = true
	return true
}

func (e *ReplicationEngine) clearPending(c cid.Cid) {
	e.mu.Lock()
	delete(e.pending, c.KeyString())
	e.mu.Unlock()
}

// handleReplicationRequest is the receiver side of spec.md §4.4: if the
// blob is already held, pin it and report success; otherwise query the DHT
// for providers, fetch from the first that answers, verify the returned
// bytes hash to the requested CID, store and pin it, and report success —
// or failure if no provider could serve a verified copy.
func (e *ReplicationEngine) handleReplicationRequest(ctx context.Context, from PeerID, req BlobReplicationRequest) BlobReplicationResponse {
	present, err := e.store.ContainsBlob(ctx, req.CID)
	if err != nil {
		return BlobReplicationResponse{Success: false, Error: err.Error()}
	}
	if present {
		if err := e.store.Pin(ctx, req.CID); err != nil {
			return BlobReplicationResponse{Success: false, Error: err.Error()}
		}
		return BlobReplicationResponse{Success: true}
	}

	providers, err := e.overlay.GetProviders(ctx, req.CID, 8)
	if err != nil {
		return BlobReplicationResponse{Success: false, Error: err.Error()}
	}
	providers = removePeer(providers, from)
	if len(providers) == 0 {
		return BlobReplicationResponse{Success: false, Error: ErrNoPeersAvailable.Error()}
	}

	sawMismatch := false
	for _, provider := range providers {
		fresp, err := e.overlay.SendFetchRequest(ctx, provider, BlobFetchRequest{CID: req.CID})
		if err != nil {
			e.logger.Warnf("fetch %s from %s: %v", req.CID, provider, err)
			continue
		}
		if fresp.Error != "" {
			continue
		}
		if CIDForBlob(fresp.Data) != req.CID {
			e.logger.Warnf("fetch %s from %s: %v", req.CID, provider, ErrCIDMismatch)
			sawMismatch = true
			continue
		}
		if _, err := e.store.PutBlob(ctx, fresp.Data); err != nil {
			return BlobReplicationResponse{Success: false, Error: err.Error()}
		}
		if err := e.store.Pin(ctx, req.CID); err != nil {
			return BlobReplicationResponse{Success: false, Error: err.Error()}
		}
		_ = e.overlay.AnnounceProvider(ctx, req.CID)
		return BlobReplicationResponse{Success: true}
	}
	if sawMismatch {
		return BlobReplicationResponse{Success: false, Error: ErrCIDMismatch.Error()}
	}
	return BlobReplicationResponse{Success: false, Error: "no provider served a verified copy"}
}

// handleFetchRequest serves a raw blob to a requesting peer (spec.md §4.4).
func (e *ReplicationEngine) handleFetchRequest(ctx context.Context, _ PeerID, req BlobFetchRequest) BlobFetchResponse {
	data, ok, err := e.store.GetBlob(ctx, req.CID)
	if err != nil {
		return BlobFetchResponse{Error: err.Error()}
	}
	if !ok {
		return BlobFetchResponse{Error: ErrNotFound.Error()}
	}
	return BlobFetchResponse{Data: data}
}

func removePeer(peers []PeerID, p PeerID) []PeerID {
	out := peers[:0:0]
	for _, q := range peers {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}

// closestPeers ranks peers by XOR distance between sha256(peer id) and the
// CID's own multihash digest, returning at most n (spec.md §4.4: "targets
// are selected by XOR distance from the CID, closest first").
func closestPeers(c cid.Cid, peers []PeerID, n int) []PeerID {
	decoded, err := mh.Decode(c.Hash())
	var cidDigest []byte
	if err == nil {
		cidDigest = decoded.Digest
	} else {
		cidDigest = c.Hash()
	}
	cidInt := new(big.Int).SetBytes(cidDigest)

	type scored struct {
		peer PeerID
		dist *big.Int
	}
	ranked := make([]scored, 0, len(peers))
	for _, p := range peers {
		sum, err := Sha256Multihash([]byte(p))
		if err != nil {
			continue
		}
		decodedPeer, err := mh.Decode(sum)
		var peerDigest []byte
		if err == nil {
			peerDigest = decodedPeer.Digest
		} else {
			peerDigest = []byte(sum)
		}
		peerInt := new(big.Int).SetBytes(peerDigest)
		dist := new(big.Int).Xor(cidInt, peerInt)
		ranked = append(ranked, scored{peer: p, dist: dist})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].dist.Cmp(ranked[j].dist) < 0 })

	if n > len(ranked) {
		n = len(ranked)
	}
	out := make([]PeerID, n)
	for i := 0; i < n; i++ {
		out[i] = ranked[i].peer
	}
	return out
}

package core

// Cryptographic Primitives (spec.md §4.2). A Sign/Verify dispatch narrowed
// to the one algorithm the spec calls for — Ed25519 — plus CID computation
// over github.com/ipfs/go-cid and github.com/multiformats/go-multihash.

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"sort"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Sign produces an Ed25519 signature over payload.
func Sign(priv ed25519.PrivateKey, payload []byte) ([]byte, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, errors.New("federation: invalid ed25519 private key")
	}
	return ed25519.Sign(priv, payload), nil
}

// Verify reports whether sig is a valid Ed25519 signature over payload by pub.
// A malformed key or signature returns false, never an error (spec.md §4.6:
// "signature malformed ⇒ false").
func Verify(pub ed25519.PublicKey, payload, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize {
		return false
	}
	return ed25519.Verify(pub, payload, sig)
}

// Sha256Multihash returns the sha2-256 multihash of data (spec.md §4.2).
func Sha256Multihash(data []byte) (mh.Multihash, error) {
	return mh.Sum(data, mh.SHA2_256, -1)
}

// CIDv1 constructs a CIDv1 from a codec and a precomputed multihash.
func CIDv1(codec uint64, hash mh.Multihash) cid.Cid {
	return cid.NewCidV1(codec, hash)
}

// CIDForBlob returns cid_v1(codec=raw, multihash=sha256(bytes)) — the
// deterministic CID put_blob must return (spec.md §4.1, testable property 1).
func CIDForBlob(data []byte) cid.Cid {
	sum, err := Sha256Multihash(data)
	if err != nil {
		// mh.Sum only fails on unsupported hash functions or bad length;
		// sha2-256 with the default digest length never does.
		panic("federation: sha256 multihash failed: " + err.Error())
	}
	return CIDv1(cid.Raw, sum)
}

// Signature pairs a signer DID with the raw signature bytes it produced,
// the element type of a QuorumProof (spec.md §3).
type Signature struct {
	Signer DID
	Sig    []byte
}

// AuthorisedKeys maps each authorised DID to its current Ed25519 public key.
type AuthorisedKeys map[DID]ed25519.PublicKey

// VerifyQuorum implements the quorum algorithm of spec.md §4.2: deduplicate
// signatures by signer DID, verify each against contentHash using the key
// bound to that DID in the authorised set, count verified signatures from
// distinct authorised DIDs, and return true iff that count meets threshold.
// Signatures from DIDs outside the authorised set are ignored silently, not
// treated as errors — quorum soundness never leaks which signature failed
// (spec.md §7, testable property 4).
func VerifyQuorum(proof []Signature, contentHash []byte, authorised AuthorisedKeys, threshold int) bool {
	if threshold <= 0 {
		return false
	}
	seen := make(map[DID]bool, len(proof))
	verified := 0
	for _, sig := range proof {
		if seen[sig.Signer] {
			continue
		}
		pub, ok := authorised[sig.Signer]
		if !ok {
			continue
		}
		seen[sig.Signer] = true
		if Verify(pub, contentHash, sig.Sig) {
			verified++
		}
	}
	return verified >= threshold
}

// MandateHash computes the canonical hash a GuardianMandate's quorum_proof
// must verify against: sha256(action‖'|'‖reason‖'|'‖scope‖'|'‖scope_id‖'|'‖guardian)
// over UTF-8 bytes, no leading/trailing whitespace (spec.md §4.2).
func MandateHash(action, reason, scope, scopeID string, guardian DID) []byte {
	buf := []byte(action)
	buf = append(buf, '|')
	buf = append(buf, reason...)
	buf = append(buf, '|')
	buf = append(buf, scope...)
	buf = append(buf, '|')
	buf = append(buf, scopeID...)
	buf = append(buf, '|')
	buf = append(buf, string(guardian)...)
	sum := sha256.Sum256(buf)
	return sum[:]
}

// sortedDIDs returns a copy of in sorted lexicographically — used wherever
// the spec calls for a canonical (deterministic) ordering, e.g. TrustBundle
// member/signature serialisation (spec.md §4.5).
func sortedDIDs(in []DID) []DID {
	out := append([]DID(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

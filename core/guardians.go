package core

// Guardian Mandates and Guardian Sets (spec.md §3, §4.5; supplemented per
// SPEC_FULL.md §5). Grounded on original_source/src/guardians.rs's
// GuardianSet/Guardian/GuardianStatus model, adapted from single-identity
// recovery bundles to the federation's scope_id-scoped quorum interventions:
// a GuardianSet here authorises action over a named scope (a thread, a
// credential, a federation-wide setting) rather than one owner identity,
// and membership carries a public key rather than only a DID, since
// VerifyQuorum needs the key to check a signature, not just to count a vote.

import (
	"time"

	"github.com/ipfs/go-cid"
)

// GuardianStatus is a guardian's standing within a GuardianSet.
type GuardianStatus int

const (
	GuardianPending GuardianStatus = iota
	GuardianActive
	GuardianRevoked
)

// Guardian is one member of a GuardianSet.
type Guardian struct {
	DID      DID            `json:"did"`
	Name     string         `json:"name"`
	PubKey   []byte         `json:"public_key"`
	AddedAt  time.Time      `json:"added_at"`
	Status   GuardianStatus `json:"status"`
}

// GuardianSet is the M-of-N authorised signer set for interventions scoped
// to a particular scope_id (spec.md §4.5's guardian_set::{scope_id} KV
// record).
type GuardianSet struct {
	ScopeID      string     `json:"scope_id"`
	Guardians    []Guardian `json:"guardians"`
	Threshold    int        `json:"threshold"`
	LastModified time.Time  `json:"last_modified"`
}

// NewGuardianSet creates an empty guardian set requiring threshold active
// signatures for scopeID.
func NewGuardianSet(scopeID string, threshold int) GuardianSet {
	return GuardianSet{ScopeID: scopeID, Threshold: threshold, LastModified: time.Now().UTC()}
}

// AuthorisedKeys returns the public keys of this set's Active guardians,
// keyed by DID, the shape VerifyQuorum consumes.
func (s GuardianSet) AuthorisedKeys() AuthorisedKeys {
	keys := make(AuthorisedKeys, len(s.Guardians))
	for _, g := range s.Guardians {
		if g.Status == GuardianActive {
			keys[g.DID] = g.PubKey
		}
	}
	return keys
}

// AddGuardian appends a Pending guardian. It rejects a DID already present
// regardless of status, mirroring the "guardian already exists" rejection
// of the recovery-bundle model this was adapted from.
func (s *GuardianSet) AddGuardian(did DID, name string, pubKey []byte) error {
	for _, g := range s.Guardians {
		if g.DID == did {
			return ErrUnauthorized
		}
	}
	s.Guardians = append(s.Guardians, Guardian{
		DID:     did,
		Name:    name,
		PubKey:  pubKey,
		AddedAt: time.Now().UTC(),
		Status:  GuardianPending,
	})
	s.LastModified = time.Now().UTC()
	return nil
}

// Activate transitions a Pending guardian to Active, the point at which its
// key becomes eligible to count toward quorum.
func (s *GuardianSet) Activate(did DID) error {
	for i := range s.Guardians {
		if s.Guardians[i].DID == did {
			s.Guardians[i].Status = GuardianActive
			s.LastModified = time.Now().UTC()
			return nil
		}
	}
	return ErrNotFound
}

// RemoveGuardian marks a guardian Revoked rather than deleting the record,
// so past mandates it co-signed remain attributable.
func (s *GuardianSet) RemoveGuardian(did DID) error {
	for i := range s.Guardians {
		if s.Guardians[i].DID == did {
			s.Guardians[i].Status = GuardianRevoked
			s.LastModified = time.Now().UTC()
			return nil
		}
	}
	return ErrNotFound
}

// ActiveCount returns the number of guardians currently eligible to sign.
func (s GuardianSet) ActiveCount() int {
	n := 0
	for _, g := range s.Guardians {
		if g.Status == GuardianActive {
			n++
		}
	}
	return n
}

// GuardianMandate is a quorum-signed intervention over scope_id within
// scope, carrying the reason the guardians gave for acting and the DAG node
// the mandate is recorded against (spec.md §3: "{..., dag_node: CID}"). The
// quorum proof's content hash does not cover DagNode — only action, reason,
// scope, scope_id and guardian do (spec.md §3's invariant on GuardianMandate).
type GuardianMandate struct {
	Scope       string      `json:"scope"`
	ScopeID     string      `json:"scope_id"`
	Action      string      `json:"action"`
	Reason      string      `json:"reason"`
	Guardian    DID         `json:"guardian"`
	QuorumProof QuorumProof `json:"quorum_proof"`
	DagNode     cid.Cid     `json:"dag_node"`
	IssuedAt    time.Time   `json:"issued_at"`
}

// ActiveDIDs returns the DIDs of set's active members in canonical
// (lexicographic) order, used wherever a deterministic membership listing
// is required.
func (s GuardianSet) ActiveDIDs() []DID {
	return sortedGuardianDIDs(s)
}

// sortedGuardianDIDs returns the DIDs of a guardian set's active members in
// canonical (lexicographic) order, used wherever a deterministic membership
// listing is required.
func sortedGuardianDIDs(set GuardianSet) []DID {
	dids := make([]DID, 0, len(set.Guardians))
	for _, g := range set.Guardians {
		if g.Status == GuardianActive {
			dids = append(dids, g.DID)
		}
	}
	return sortedDIDs(dids)
}

package core

// Verifiable Credentials (spec.md §4.6). Grounded on
// original_source/crates/wallet-core/src/credential.rs's
// CredentialSigner (sign-minus-proof issuance, strip-and-recompute
// verification, selective field disclosure) translated from its
// JWS-over-JSON approach into the spec's explicit CredentialProof struct
// and per-field hash-commitment disclosure, with this package's Ed25519
// Sign/Verify (crypto.go) doing the actual cryptography.

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/google/uuid"
)

// CredentialProof is the signature block a VerifiableCredential carries
// once issued, analogous to a W3C Ed25519Signature2020 proof (spec.md §3).
type CredentialProof struct {
	Type               string    `json:"type"`
	Created            time.Time `json:"created"`
	VerificationMethod string    `json:"verification_method"`
	ProofPurpose       string    `json:"proof_purpose"`
	SignatureValue     []byte    `json:"signature_value"`
}

// VerifiableCredential is a selectively-disclosable, quorum-anchorable
// assertion made by Issuer about Subject (spec.md §3).
type VerifiableCredential struct {
	ID                string                 `json:"id"`
	Context           []string               `json:"@context"`
	Type              []string               `json:"type"`
	Issuer            DID                    `json:"issuer"`
	Subject           DID                    `json:"subject"`
	IssuedAt          time.Time              `json:"issued_at"`
	Claims            map[string]interface{} `json:"claims"`
	RelatedResources  map[string]string      `json:"related_resources,omitempty"`
	Proof             *CredentialProof       `json:"proof,omitempty"`

	// Amendment fields (SPEC_FULL.md §5): a non-zero ReferencedCredentials
	// marks this credential as superseding, not revoking, the referenced
	// ones.
	ReferencedCredentials []string `json:"referenced_credentials,omitempty"`
	AmendmentID           string   `json:"amendment_id,omitempty"`
	TextHash              []byte   `json:"text_hash,omitempty"`
}

const defaultCredentialContext = "https://www.w3.org/2018/credentials/v1"
const ed25519Signature2020 = "Ed25519Signature2020"

// unsigned returns a copy of vc with Proof stripped, the exact bytes both
// IssueCredential signs and VerifyCredential re-verifies against (spec.md
// §4.6: sign-minus-proof pattern).
func (vc VerifiableCredential) unsigned() VerifiableCredential {
	cp := vc
	cp.Proof = nil
	return cp
}

func canonicalCredentialBytes(vc VerifiableCredential) ([]byte, error) {
	payload, err := json.Marshal(vc.unsigned())
	if err != nil {
		return nil, fmt.Errorf("federation: encode credential: %w", err)
	}
	return payload, nil
}

// IssueCredential builds and signs a fresh VerifiableCredential: a new UUID,
// issued_at = now (UTC), an optional dag_anchor under
// related_resources["dag_anchor"], and an Ed25519Signature2020 proof over
// the credential with Proof stripped (spec.md §4.6).
func IssueCredential(priv ed25519.PrivateKey, issuer, subject DID, credType []string, claims map[string]interface{}, dagAnchor string) (VerifiableCredential, error) {
	vc := VerifiableCredential{
		ID:       uuid.NewString(),
		Context:  []string{defaultCredentialContext},
		Type:     append([]string{"VerifiableCredential"}, credType...),
		Issuer:   issuer,
		Subject:  subject,
		IssuedAt: time.Now().UTC(),
		Claims:   claims,
	}
	if dagAnchor != "" {
		vc.RelatedResources = map[string]string{"dag_anchor": dagAnchor}
	}
	return signCredential(priv, issuer, vc)
}

func signCredential(priv ed25519.PrivateKey, issuer DID, vc VerifiableCredential) (VerifiableCredential, error) {
	payload, err := canonicalCredentialBytes(vc)
	if err != nil {
		return VerifiableCredential{}, err
	}
	sig, err := Sign(priv, payload)
	if err != nil {
		return VerifiableCredential{}, fmt.Errorf("federation: sign credential: %w", err)
	}
	vc.Proof = &CredentialProof{
		Type:               ed25519Signature2020,
		Created:            time.Now().UTC(),
		VerificationMethod: fmt.Sprintf("%s#keys-1", issuer),
		ProofPurpose:       "assertionMethod",
		SignatureValue:     sig,
	}
	return vc, nil
}

// KeyResolver resolves a DID's current public key, e.g. from a TrustBundle
// or a federation's member registry (spec.md §4.6).
type KeyResolver func(did DID) (ed25519.PublicKey, bool)

// VerifyCredential strips vc's proof, recomputes the canonical bytes, and
// verifies the signature against the issuer's key resolved through resolve.
// A malformed credential, missing proof, or unresolvable issuer all verify
// as false, never an error (spec.md §4.6: "malformed ⇒ false").
func VerifyCredential(vc VerifiableCredential, resolve KeyResolver) bool {
	if vc.Proof == nil {
		return false
	}
	pub, ok := resolve(vc.Issuer)
	if !ok {
		return false
	}
	payload, err := canonicalCredentialBytes(vc)
	if err != nil {
		return false
	}
	return Verify(pub, payload, vc.Proof.SignatureValue)
}

// TrustScoreBand categorises a TrustScore into High/Medium/Low bands
// (spec.md §4.6).
type TrustScoreBand int

const (
	TrustLow TrustScoreBand = iota
	TrustMedium
	TrustHigh
)

// TrustScore is the scored outcome of evaluating a credential's
// trustworthiness (spec.md §4.6).
type TrustScore struct {
	Score            int
	Band             TrustScoreBand
	IssuerInManifest bool
	SignatureValid   bool
	DistinctSigners  int
}

func bandFor(score int) TrustScoreBand {
	switch {
	case score >= 80:
		return TrustHigh
	case score >= 50:
		return TrustMedium
	default:
		return TrustLow
	}
}

// ScoreCredential computes a 0-100 trust score for vc (spec.md §4.6):
// base 50, +20 if the issuer is a known federation member, +10 if the
// credential's own signature verifies, +10 if at least two distinct
// signers corroborate it (via corroboratingSigners), +20 more (30 total)
// if at least three do. The band is derived independently of any single
// flag.
func ScoreCredential(vc VerifiableCredential, issuerInManifest bool, resolve KeyResolver, corroboratingSigners []DID) TrustScore {
	score := 50
	sigValid := VerifyCredential(vc, resolve)

	if issuerInManifest {
		score += 20
	}
	if sigValid {
		score += 10
	}

	distinct := distinctDIDCount(corroboratingSigners)
	switch {
	case distinct >= 3:
		score += 30
	case distinct >= 2:
		score += 10
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}
	return TrustScore{
		Score:            score,
		Band:             bandFor(score),
		IssuerInManifest: issuerInManifest,
		SignatureValid:   sigValid,
		DistinctSigners:  distinct,
	}
}

func distinctDIDCount(dids []DID) int {
	seen := make(map[DID]bool, len(dids))
	for _, d := range dids {
		seen[d] = true
	}
	return len(seen)
}

// SelectiveDisclosure is a derived credential exposing only a chosen subset
// of claims, each bound to the original credential by a hash commitment so
// a verifier can confirm disclosed fields without learning undisclosed ones
// (spec.md §4.6).
type SelectiveDisclosure struct {
	CredentialID string            `json:"credential_id"`
	Nonce        string            `json:"nonce"`
	Disclosed    map[string]interface{} `json:"disclosed"`
	Commitments  map[string][]byte `json:"commitments"` // field -> H(field‖':'‖value‖':'‖nonce)
	Signature    []byte            `json:"signature"`
}

const nonceAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func generateNonce() (string, error) {
	buf := make([]byte, 32)
	for i := range buf {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(nonceAlphabet))))
		if err != nil {
			return "", fmt.Errorf("federation: generate nonce: %w", err)
		}
		buf[i] = nonceAlphabet[n.Int64()]
	}
	return string(buf), nil
}

func fieldCommitment(field string, value interface{}, nonce string) ([]byte, error) {
	encoded, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("federation: encode disclosed field %s: %w", field, err)
	}
	buf := []byte(field)
	buf = append(buf, ':')
	buf = append(buf, encoded...)
	buf = append(buf, ':')
	buf = append(buf, nonce...)
	sum := sha256.Sum256(buf)
	return sum[:], nil
}

// Disclose builds a SelectiveDisclosure over the named fields of vc's
// Claims, committing every claim (disclosed or not) under a shared 32-char
// alphanumeric nonce so the full commitment set could later be recomputed
// by someone who learns the rest, and signs the deterministic sorted
// concatenation of commitments with priv (spec.md §4.6).
func Disclose(priv ed25519.PrivateKey, vc VerifiableCredential, fields []string) (SelectiveDisclosure, error) {
	nonce, err := generateNonce()
	if err != nil {
		return SelectiveDisclosure{}, err
	}

	disclosedSet := make(map[string]bool, len(fields))
	for _, f := range fields {
		disclosedSet[f] = true
	}

	commitments := make(map[string][]byte, len(vc.Claims))
	disclosed := make(map[string]interface{}, len(fields))
	for field, value := range vc.Claims {
		c, err := fieldCommitment(field, value, nonce)
		if err != nil {
			return SelectiveDisclosure{}, err
		}
		commitments[field] = c
		if disclosedSet[field] {
			disclosed[field] = value
		}
	}

	sig, err := Sign(priv, commitmentDigest(commitments))
	if err != nil {
		return SelectiveDisclosure{}, fmt.Errorf("federation: sign disclosure: %w", err)
	}

	return SelectiveDisclosure{
		CredentialID: vc.ID,
		Nonce:        nonce,
		Disclosed:    disclosed,
		Commitments:  commitments,
		Signature:    sig,
	}, nil
}

// commitmentDigest deterministically concatenates a commitment map in
// lexicographic field order before signing/verifying, so map iteration
// order never affects the signed bytes.
func commitmentDigest(commitments map[string][]byte) []byte {
	fields := make([]string, 0, len(commitments))
	for f := range commitments {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	var buf []byte
	for _, f := range fields {
		buf = append(buf, f...)
		buf = append(buf, ':')
		buf = append(buf, commitments[f]...)
		buf = append(buf, '|')
	}
	return buf
}

// VerifyDisclosure checks that every disclosed field's commitment matches
// its value under the carried nonce, and that the signature over the full
// commitment set verifies against the issuer's key — without ever needing
// to see the undisclosed claims' values (spec.md §4.6).
func VerifyDisclosure(d SelectiveDisclosure, issuer DID, resolve KeyResolver) bool {
	for field, value := range d.Disclosed {
		want, ok := d.Commitments[field]
		if !ok {
			return false
		}
		got, err := fieldCommitment(field, value, d.Nonce)
		if err != nil {
			return false
		}
		if string(got) != string(want) {
			return false
		}
	}
	pub, ok := resolve(issuer)
	if !ok {
		return false
	}
	return Verify(pub, commitmentDigest(d.Commitments), d.Signature)
}

// IssueAmendment produces a credential that supersedes the credentials
// listed in referenced, carrying a stable amendmentID and a hash of the
// amendment's explanatory text so disputes can be traced without storing
// the text itself in the credential (spec.md §5: amendments supersede,
// they never revoke).
func IssueAmendment(priv ed25519.PrivateKey, issuer, subject DID, credType []string, claims map[string]interface{}, referenced []string, amendmentID, amendmentText, dagRootAtIssuance string) (VerifiableCredential, error) {
	textSum := sha256.Sum256([]byte(amendmentText))
	vc := VerifiableCredential{
		ID:                    uuid.NewString(),
		Context:               []string{defaultCredentialContext},
		Type:                  append([]string{"VerifiableCredential", "AmendmentCredential"}, credType...),
		Issuer:                issuer,
		Subject:               subject,
		IssuedAt:              time.Now().UTC(),
		Claims:                claims,
		ReferencedCredentials: append([]string(nil), referenced...),
		AmendmentID:           amendmentID,
		TextHash:              textSum[:],
	}
	if dagRootAtIssuance != "" {
		vc.RelatedResources = map[string]string{"dag_root_at_issuance": dagRootAtIssuance}
	}
	return signCredential(priv, issuer, vc)
}

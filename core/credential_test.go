package core

import (
	"crypto/ed25519"
	"testing"
)

func TestIssueAndVerifyCredential(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	issuer := DID("did:icn:fed1:issuer")

	vc, err := IssueCredential(priv, issuer, "did:icn:fed1:subject", []string{"MembershipCredential"}, map[string]interface{}{"role": "member"}, "")
	if err != nil {
		t.Fatalf("IssueCredential: %v", err)
	}
	if vc.Proof == nil {
		t.Fatal("expected a proof to be attached")
	}

	resolve := func(did DID) (ed25519.PublicKey, bool) {
		if did == issuer {
			return pub, true
		}
		return nil, false
	}
	if !VerifyCredential(vc, resolve) {
		t.Fatal("expected a freshly issued credential to verify")
	}

	vc.Claims["role"] = "tampered"
	if VerifyCredential(vc, resolve) {
		t.Fatal("expected verification to fail after tampering with claims")
	}
}

func TestVerifyCredentialUnresolvableIssuerIsFalseNotError(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	_ = pub
	vc, _ := IssueCredential(priv, "did:icn:fed1:issuer", "did:icn:fed1:subject", nil, nil, "")
	if VerifyCredential(vc, func(DID) (ed25519.PublicKey, bool) { return nil, false }) {
		t.Fatal("expected verification to fail when the issuer cannot be resolved")
	}
}

func TestScoreCredentialBands(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	issuer := DID("did:icn:fed1:issuer")
	vc, _ := IssueCredential(priv, issuer, "did:icn:fed1:subject", nil, map[string]interface{}{"x": 1}, "")
	resolve := func(did DID) (ed25519.PublicKey, bool) {
		if did == issuer {
			return pub, true
		}
		return nil, false
	}

	base := ScoreCredential(vc, false, func(DID) (ed25519.PublicKey, bool) { return nil, false }, nil)
	if base.Score != 50 || base.Band != TrustMedium {
		t.Fatalf("expected base score 50 in the medium band for an unverifiable credential, got score=%d band=%v", base.Score, base.Band)
	}

	high := ScoreCredential(vc, true, resolve, []DID{"did:icn:fed1:a", "did:icn:fed1:b", "did:icn:fed1:c"})
	if high.Band != TrustHigh {
		t.Fatalf("expected high band, got score=%d band=%v", high.Score, high.Band)
	}
}

func TestSelectiveDisclosureHidesUndisclosedFields(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	issuer := DID("did:icn:fed1:issuer")
	vc, _ := IssueCredential(priv, issuer, "did:icn:fed1:subject", nil, map[string]interface{}{
		"age":  42,
		"name": "Alice",
	}, "")

	disclosure, err := Disclose(priv, vc, []string{"name"})
	if err != nil {
		t.Fatalf("Disclose: %v", err)
	}
	if _, present := disclosure.Disclosed["age"]; present {
		t.Fatal("age should not appear in the disclosed set")
	}
	if disclosure.Disclosed["name"] != "Alice" {
		t.Fatalf("name = %v, want Alice", disclosure.Disclosed["name"])
	}

	resolve := func(did DID) (ed25519.PublicKey, bool) {
		if did == issuer {
			return pub, true
		}
		return nil, false
	}
	if !VerifyDisclosure(disclosure, issuer, resolve) {
		t.Fatal("expected disclosure to verify")
	}

	disclosure.Disclosed["name"] = "Mallory"
	if VerifyDisclosure(disclosure, issuer, resolve) {
		t.Fatal("expected disclosure verification to fail after altering a disclosed value")
	}
}

func TestIssueAmendmentCarriesReferences(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(nil)
	vc, err := IssueAmendment(priv, "did:icn:fed1:issuer", "did:icn:fed1:subject", []string{"RoleCredential"},
		map[string]interface{}{"role": "admin"}, []string{"cred-1"}, "amend-1", "role corrected", "")
	if err != nil {
		t.Fatalf("IssueAmendment: %v", err)
	}
	if len(vc.ReferencedCredentials) != 1 || vc.ReferencedCredentials[0] != "cred-1" {
		t.Fatalf("ReferencedCredentials = %v, want [cred-1]", vc.ReferencedCredentials)
	}
	if vc.AmendmentID != "amend-1" {
		t.Fatalf("AmendmentID = %q, want amend-1", vc.AmendmentID)
	}
	if len(vc.TextHash) == 0 {
		t.Fatal("expected a non-empty text hash")
	}
}

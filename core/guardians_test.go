package core

import (
	"crypto/ed25519"
	"testing"
)

func TestGuardianSetAddActivateAndQuorum(t *testing.T) {
	set := NewGuardianSet("thread-42", 2)
	pubA, privA, _ := ed25519.GenerateKey(nil)
	pubB, privB, _ := ed25519.GenerateKey(nil)

	if err := set.AddGuardian("did:icn:fed1:a", "Alice", pubA); err != nil {
		t.Fatalf("AddGuardian a: %v", err)
	}
	if err := set.AddGuardian("did:icn:fed1:b", "Bob", pubB); err != nil {
		t.Fatalf("AddGuardian b: %v", err)
	}
	if err := set.AddGuardian("did:icn:fed1:a", "Alice Again", pubA); err == nil {
		t.Fatal("expected duplicate guardian to be rejected")
	}

	if n := set.ActiveCount(); n != 0 {
		t.Fatalf("ActiveCount before activation = %d, want 0", n)
	}
	_ = set.Activate("did:icn:fed1:a")
	_ = set.Activate("did:icn:fed1:b")
	if n := set.ActiveCount(); n != 2 {
		t.Fatalf("ActiveCount after activation = %d, want 2", n)
	}

	hash := MandateHash("freeze", "fraud reported", "thread", "thread-42", "did:icn:fed1:a")
	sigA, _ := Sign(privA, hash)
	sigB, _ := Sign(privB, hash)
	proof := []Signature{
		{Signer: "did:icn:fed1:a", Sig: sigA},
		{Signer: "did:icn:fed1:b", Sig: sigB},
	}
	if !VerifyQuorum(proof, hash, set.AuthorisedKeys(), set.Threshold) {
		t.Fatal("expected quorum to be met by both active guardians")
	}
}

func TestGuardianRemovalRevokesNotDeletes(t *testing.T) {
	set := NewGuardianSet("thread-1", 1)
	pub, _, _ := ed25519.GenerateKey(nil)
	_ = set.AddGuardian("did:icn:fed1:a", "Alice", pub)
	_ = set.Activate("did:icn:fed1:a")
	if err := set.RemoveGuardian("did:icn:fed1:a"); err != nil {
		t.Fatalf("RemoveGuardian: %v", err)
	}
	if len(set.Guardians) != 1 {
		t.Fatalf("expected the guardian record to remain after removal, got %d records", len(set.Guardians))
	}
	if set.ActiveCount() != 0 {
		t.Fatal("expected a revoked guardian to no longer count as active")
	}
}

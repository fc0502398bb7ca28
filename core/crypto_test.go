package core

import (
	"crypto/ed25519"
	"testing"
)

func TestCIDForBlobIsDeterministic(t *testing.T) {
	data := []byte("deterministic content")
	a := CIDForBlob(data)
	b := CIDForBlob(data)
	if a != b {
		t.Fatalf("CIDForBlob not deterministic: %v != %v", a, b)
	}
	if CIDForBlob([]byte("different")) == a {
		t.Fatal("different content produced the same CID")
	}
}

func TestSignVerifyRoundTrip(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("GenerateKey: %v", err)
	}
	payload := []byte("payload to sign")
	sig, err := Sign(priv, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !Verify(pub, payload, sig) {
		t.Fatal("Verify rejected a valid signature")
	}
	if Verify(pub, []byte("tampered"), sig) {
		t.Fatal("Verify accepted a signature over the wrong payload")
	}
}

func TestVerifyMalformedNeverErrors(t *testing.T) {
	if Verify(nil, []byte("x"), []byte("y")) {
		t.Fatal("Verify should return false for a malformed key, not true")
	}
}

func TestVerifyQuorumMeetsThreshold(t *testing.T) {
	authorised := make(AuthorisedKeys)
	privs := make(map[DID]ed25519.PrivateKey)
	for _, name := range []string{"alice", "bob", "carol"} {
		did := DID("did:icn:fed:" + name)
		pub, priv, _ := ed25519.GenerateKey(nil)
		authorised[did] = pub
		privs[did] = priv
	}

	contentHash := MandateHash("freeze", "fraud", "thread", "t1", "did:icn:fed:alice")

	var proof []Signature
	for _, did := range []DID{"did:icn:fed:alice", "did:icn:fed:bob"} {
		sig, _ := Sign(privs[did], contentHash)
		proof = append(proof, Signature{Signer: did, Sig: sig})
	}

	if !VerifyQuorum(proof, contentHash, authorised, 2) {
		t.Fatal("expected quorum of 2 to be met by 2 valid signatures")
	}
	if VerifyQuorum(proof, contentHash, authorised, 3) {
		t.Fatal("expected quorum of 3 to fail with only 2 signatures")
	}
}

func TestVerifyQuorumIgnoresUnauthorisedAndDuplicateSigners(t *testing.T) {
	authorised := make(AuthorisedKeys)
	alicePub, alicePriv, _ := ed25519.GenerateKey(nil)
	authorised["did:icn:fed:alice"] = alicePub

	_, strangerPriv, _ := ed25519.GenerateKey(nil)

	contentHash := []byte("some content hash")
	aliceSig, _ := Sign(alicePriv, contentHash)
	strangerSig, _ := Sign(strangerPriv, contentHash)

	proof := []Signature{
		{Signer: "did:icn:fed:alice", Sig: aliceSig},
		{Signer: "did:icn:fed:alice", Sig: aliceSig}, // duplicate, counts once
		{Signer: "did:icn:fed:stranger", Sig: strangerSig},
	}

	if VerifyQuorum(proof, contentHash, authorised, 2) {
		t.Fatal("duplicate + unauthorised signer should not satisfy a threshold of 2")
	}
	if !VerifyQuorum(proof, contentHash, authorised, 1) {
		t.Fatal("expected threshold of 1 to be met by alice's single valid signature")
	}
}

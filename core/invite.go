package core

// Invite payload encode/decode (spec.md §6): a self-contained,
// federation-agnostic base64-url invite string a prospective member can
// pass out of band.

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"
)

const invitePrefix = "icn:fed:"

// Invite is the payload embedded in an "icn:fed:" invite string (spec.md §6).
// A well-formed Invite carries either Manifest directly or both
// ManifestHash and ManifestEndpoint, so the recipient can always either
// read the manifest inline or fetch-and-verify it.
type Invite struct {
	FederationID     string     `json:"federation_id"`
	Name             string     `json:"name,omitempty"`
	Manifest         []byte     `json:"manifest,omitempty"`
	ManifestHash     []byte     `json:"manifest_hash,omitempty"`
	ManifestEndpoint string     `json:"manifest_endpoint,omitempty"`
	RootCredential   []byte     `json:"root_credential,omitempty"`
	BootstrapPeer    string     `json:"bootstrap_peer,omitempty"`
	CreatorDID       DID        `json:"creator_did"`
	Created          time.Time  `json:"created"`
	Expires          *time.Time `json:"expires,omitempty"`
}

// Valid reports whether inv carries enough information for a recipient to
// obtain the manifest it refers to: either the manifest itself, or both a
// hash and an endpoint to fetch it from (spec.md §6).
func (inv Invite) Valid() bool {
	if inv.FederationID == "" || inv.CreatorDID == "" {
		return false
	}
	if len(inv.Manifest) > 0 {
		return true
	}
	return len(inv.ManifestHash) > 0 && inv.ManifestEndpoint != ""
}

// Expired reports whether inv has passed its expiry, relative to now. An
// Invite with no Expires set never expires.
func (inv Invite) Expired(now time.Time) bool {
	return inv.Expires != nil && now.After(*inv.Expires)
}

// EncodeInvite renders inv as an "icn:fed:<base64url-json>" string
// (spec.md §6). It returns ErrMalformed if inv is not Valid.
func EncodeInvite(inv Invite) (string, error) {
	if !inv.Valid() {
		return "", fmt.Errorf("%w: invite missing manifest or hash+endpoint", ErrMalformed)
	}
	payload, err := json.Marshal(inv)
	if err != nil {
		return "", fmt.Errorf("federation: encode invite: %w", err)
	}
	return invitePrefix + base64.URLEncoding.EncodeToString(payload), nil
}

// DecodeInvite parses an "icn:fed:..." string back into an Invite, the
// inverse of EncodeInvite. A round trip through Encode then Decode must
// reproduce the original Invite (spec.md §8).
func DecodeInvite(s string) (Invite, error) {
	if len(s) <= len(invitePrefix) || s[:len(invitePrefix)] != invitePrefix {
		return Invite{}, fmt.Errorf("%w: invite missing %q prefix", ErrMalformed, invitePrefix)
	}
	raw, err := base64.URLEncoding.DecodeString(s[len(invitePrefix):])
	if err != nil {
		return Invite{}, fmt.Errorf("%w: invite base64: %v", ErrMalformed, err)
	}
	var inv Invite
	if err := json.Unmarshal(raw, &inv); err != nil {
		return Invite{}, fmt.Errorf("%w: invite json: %v", ErrMalformed, err)
	}
	if !inv.Valid() {
		return Invite{}, fmt.Errorf("%w: invite missing manifest or hash+endpoint", ErrMalformed)
	}
	return inv, nil
}

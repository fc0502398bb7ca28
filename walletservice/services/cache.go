package services

// Local credential cache (SPEC_FULL.md §5 item 2): the wallet keeps its own
// sealed copy of every synced Credential Sync Entry. The sealed entries are
// held in process memory only; nothing is written to disk, so the cache
// does not survive a restart.

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"
)

// ErrCacheDecrypt is returned when a cached entry cannot be decrypted,
// e.g. it was sealed under a different key or its bytes were altered.
var ErrCacheDecrypt = errors.New("walletservice: cache entry could not be decrypted")

// EncryptedCache stores CredentialSyncEntry snapshots keyed by credential
// ID, each sealed with ChaCha20-Poly1305 under a single cache-wide key.
type EncryptedCache struct {
	aead cipher32

	mu   sync.RWMutex
	blob map[string][]byte // credential ID -> nonce||ciphertext
}

// cipher32 is the minimal AEAD surface EncryptedCache needs, satisfied by
// chacha20poly1305's cipher.AEAD.
type cipher32 interface {
	Seal(dst, nonce, plaintext, additionalData []byte) []byte
	Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
	NonceSize() int
}

// NewEncryptedCache builds a cache sealed under key, which must be exactly
// chacha20poly1305.KeySize (32) bytes.
func NewEncryptedCache(key []byte) (*EncryptedCache, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}
	return &EncryptedCache{aead: aead, blob: make(map[string][]byte)}, nil
}

// Put seals entry and stores it under credentialID, replacing any prior
// cached value.
func (c *EncryptedCache) Put(credentialID string, entry CredentialSyncEntry) error {
	plaintext, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return err
	}
	sealed := c.aead.Seal(nonce, nonce, plaintext, []byte(credentialID))

	c.mu.Lock()
	defer c.mu.Unlock()
	c.blob[credentialID] = sealed
	return nil
}

// Get decrypts and returns the cached entry for credentialID, if present.
func (c *EncryptedCache) Get(credentialID string) (CredentialSyncEntry, bool, error) {
	c.mu.RLock()
	sealed, ok := c.blob[credentialID]
	c.mu.RUnlock()
	if !ok {
		return CredentialSyncEntry{}, false, nil
	}

	n := c.aead.NonceSize()
	if len(sealed) < n {
		return CredentialSyncEntry{}, false, ErrCacheDecrypt
	}
	nonce, ciphertext := sealed[:n], sealed[n:]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, []byte(credentialID))
	if err != nil {
		return CredentialSyncEntry{}, false, ErrCacheDecrypt
	}

	var entry CredentialSyncEntry
	if err := json.Unmarshal(plaintext, &entry); err != nil {
		return CredentialSyncEntry{}, false, err
	}
	return entry, true, nil
}

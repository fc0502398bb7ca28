package core

// Content-Addressed Store (spec.md §4.1): a key-value abstraction with CID
// computation and pinning, built to the capability set spec.md §9 calls
// for — {blob ops, kv ops, transaction bracket} — substitutable behind one
// interface.

import (
	"context"
	"sync"

	"github.com/ipfs/go-cid"
)

// Store is the capability set an implementation of the Content-Addressed
// Store must expose. Tests use InMemoryStore; a disk-backed implementation
// is substitutable behind the same interface (spec.md §9).
type Store interface {
	// PutBlob persists data and returns its deterministic CID
	// (cid_v1(codec=raw, multihash=sha256(bytes)), spec.md §4.1).
	PutBlob(ctx context.Context, data []byte) (cid.Cid, error)
	// GetBlob returns (nil, false, nil) for an absent CID — absence is not
	// an error (spec.md §4.1).
	GetBlob(ctx context.Context, c cid.Cid) ([]byte, bool, error)
	ContainsBlob(ctx context.Context, c cid.Cid) (bool, error)
	// DeleteBlob is idempotent.
	DeleteBlob(ctx context.Context, c cid.Cid) error

	// Pin marks a blob retained indefinitely. Pin is a boolean attribute,
	// not a separate object (spec.md §3).
	Pin(ctx context.Context, c cid.Cid) error
	Unpin(ctx context.Context, c cid.Cid) error
	IsPinned(ctx context.Context, c cid.Cid) (bool, error)

	PutKV(ctx context.Context, key cid.Cid, value []byte) error
	GetKV(ctx context.Context, key cid.Cid) ([]byte, bool, error)
	ContainsKV(ctx context.Context, key cid.Cid) (bool, error)
	DeleteKV(ctx context.Context, key cid.Cid) error

	// Begin opens a transaction. Reads inside the transaction reflect
	// prior writes made within it; concurrent readers outside the
	// transaction see pre-commit state until Commit (spec.md §4.1).
	Begin(ctx context.Context) (Txn, error)
	// Flush is mandatory before a write may be reported as durable to an
	// outside observer (spec.md §4.1).
	Flush(ctx context.Context) error
}

// Txn is the transactional bracket over Store. All writes made through a
// Txn are invisible to the outside world until Commit; Rollback discards
// them.
type Txn interface {
	PutBlob(data []byte) (cid.Cid, error)
	PutKV(key cid.Cid, value []byte) error
	DeleteBlob(c cid.Cid) error
	DeleteKV(key cid.Cid) error
	GetBlob(c cid.Cid) ([]byte, bool, error)
	GetKV(key cid.Cid) ([]byte, bool, error)
	Commit() error
	Rollback() error
}

// KeyCID derives the well-known KV key CID for a UTF-8 namespaced string,
// e.g. "federation::latest_epoch" (spec.md §3, §6).
func KeyCID(name string) cid.Cid {
	return CIDForBlob([]byte(name))
}

// InMemoryStore is the reference Store implementation used by tests and by
// federationd when no disk-backed store is configured. It is safe for
// concurrent use; transactions are serialised with a dedicated mutex
// (spec.md §5: "the CAS is accessed through an asynchronous mutex;
// transactions are serialised").
type InMemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
	kv    map[string][]byte
	pins  map[string]bool

	txnMu sync.Mutex
}

// NewInMemoryStore returns an empty, ready-to-use store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		blobs: make(map[string][]byte),
		kv:    make(map[string][]byte),
		pins:  make(map[string]bool),
	}
}

func (s *InMemoryStore) PutBlob(_ context.Context, data []byte) (cid.Cid, error) {
	c := CIDForBlob(data)
	s.mu.Lock()
	s.blobs[c.KeyString()] = append([]byte(nil), data...)
	s.mu.Unlock()
	return c, nil
}

func (s *InMemoryStore) GetBlob(_ context.Context, c cid.Cid) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[c.KeyString()]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), data...), true, nil
}

func (s *InMemoryStore) ContainsBlob(_ context.Context, c cid.Cid) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[c.KeyString()]
	return ok, nil
}

func (s *InMemoryStore) DeleteBlob(_ context.Context, c cid.Cid) error {
	s.mu.Lock()
	delete(s.blobs, c.KeyString())
	delete(s.pins, c.KeyString())
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Pin(_ context.Context, c cid.Cid) error {
	s.mu.Lock()
	s.pins[c.KeyString()] = true
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) Unpin(_ context.Context, c cid.Cid) error {
	s.mu.Lock()
	delete(s.pins, c.KeyString())
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) IsPinned(_ context.Context, c cid.Cid) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pins[c.KeyString()], nil
}

func (s *InMemoryStore) PutKV(_ context.Context, key cid.Cid, value []byte) error {
	s.mu.Lock()
	s.kv[key.KeyString()] = append([]byte(nil), value...)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) GetKV(_ context.Context, key cid.Cid) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.kv[key.KeyString()]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *InMemoryStore) ContainsKV(_ context.Context, key cid.Cid) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.kv[key.KeyString()]
	return ok, nil
}

func (s *InMemoryStore) DeleteKV(_ context.Context, key cid.Cid) error {
	s.mu.Lock()
	delete(s.kv, key.KeyString())
	s.mu.Unlock()
	return nil
}

// Flush is a no-op for the in-memory store: every write is already durable
// in-process. A disk-backed Store would fsync here.
func (s *InMemoryStore) Flush(_ context.Context) error { return nil }

// Begin locks out other transactions for the duration and returns a Txn
// whose writes are only visible to the main store on Commit.
func (s *InMemoryStore) Begin(_ context.Context) (Txn, error) {
	s.txnMu.Lock()
	return &memTxn{
		store:    s,
		putBlobs: make(map[string][]byte),
		putKV:    make(map[string][]byte),
		delBlobs: make(map[string]bool),
		delKV:    make(map[string]bool),
	}, nil
}

type memTxn struct {
	store    *InMemoryStore
	putBlobs map[string][]byte
	putKV    map[string][]byte
	delBlobs map[string]bool
	delKV    map[string]bool
	closed   bool
}

func (t *memTxn) PutBlob(data []byte) (cid.Cid, error) {
	if t.closed {
		return cid.Undef, ErrTransactionClosed
	}
	c := CIDForBlob(data)
	t.putBlobs[c.KeyString()] = append([]byte(nil), data...)
	delete(t.delBlobs, c.KeyString())
	return c, nil
}

func (t *memTxn) PutKV(key cid.Cid, value []byte) error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.putKV[key.KeyString()] = append([]byte(nil), value...)
	delete(t.delKV, key.KeyString())
	return nil
}

func (t *memTxn) DeleteBlob(c cid.Cid) error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.delBlobs[c.KeyString()] = true
	delete(t.putBlobs, c.KeyString())
	return nil
}

func (t *memTxn) DeleteKV(key cid.Cid) error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.delKV[key.KeyString()] = true
	delete(t.putKV, key.KeyString())
	return nil
}

// GetBlob reads the transaction's own writes first, then falls through to
// the main store (spec.md §4.1: "reads reflect prior writes in the same
// transaction").
func (t *memTxn) GetBlob(c cid.Cid) ([]byte, bool, error) {
	if t.delBlobs[c.KeyString()] {
		return nil, false, nil
	}
	if v, ok := t.putBlobs[c.KeyString()]; ok {
		return append([]byte(nil), v...), true, nil
	}
	return t.store.GetBlob(context.Background(), c)
}

func (t *memTxn) GetKV(key cid.Cid) ([]byte, bool, error) {
	if t.delKV[key.KeyString()] {
		return nil, false, nil
	}
	if v, ok := t.putKV[key.KeyString()]; ok {
		return append([]byte(nil), v...), true, nil
	}
	return t.store.GetKV(context.Background(), key)
}

func (t *memTxn) Commit() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	defer t.store.txnMu.Unlock()

	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for k, v := range t.putBlobs {
		t.store.blobs[k] = v
	}
	for k := range t.delBlobs {
		delete(t.store.blobs, k)
		delete(t.store.pins, k)
	}
	for k, v := range t.putKV {
		t.store.kv[k] = v
	}
	for k := range t.delKV {
		delete(t.store.kv, k)
	}
	return nil
}

// Rollback discards the transaction's writes without touching the store.
func (t *memTxn) Rollback() error {
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	t.store.txnMu.Unlock()
	return nil
}

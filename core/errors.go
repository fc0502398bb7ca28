package core

// Error taxonomy for the federation core, matching the recovery policy
// table in spec.md §7: each category is surfaced to the caller with enough
// context (CID, peer id, operation) to correlate across components, never
// retried internally, and never causes a panic.

import (
	"errors"
	"fmt"
)

// Sentinel errors a caller can match with errors.Is.
var (
	ErrNotFound          = errors.New("federation: not found")
	ErrCIDMismatch       = errors.New("federation: cid mismatch for fetched blob")
	ErrSignatureInvalid  = errors.New("federation: signature verification failed")
	ErrQuorumNotMet      = errors.New("federation: not authorised")
	ErrUnauthorized      = errors.New("federation: not authorised")
	ErrMalformed         = errors.New("federation: malformed payload")
	ErrCancelled         = errors.New("federation: operation cancelled")
	ErrShutdown          = errors.New("federation: shutdown")
	ErrNoPeersAvailable  = errors.New("federation: no peers available")
	ErrInvalidQuorum     = errors.New("federation: invalid quorum configuration")
	ErrInvalidPolicy     = errors.New("federation: invalid replication policy")
	ErrTransactionClosed = errors.New("federation: transaction already closed")
)

// StorageErrorKind distinguishes the storage-layer failure categories the
// spec calls out in §4.1 / §7.
type StorageErrorKind int

const (
	// StorageIO covers disk-full, permission, and other I/O failures. The
	// store guarantees the write either became durable post-commit or
	// never happened.
	StorageIO StorageErrorKind = iota
)

// StorageError wraps an I/O failure with enough context to correlate it
// against the operation that produced it.
type StorageError struct {
	Kind StorageErrorKind
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("federation: storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageIOError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Kind: StorageIO, Op: op, Err: err}
}

// NetworkError wraps a dial/request failure against a specific peer so
// operators can correlate failures across components without leaking
// implementation detail (spec.md §7).
type NetworkError struct {
	Op   string
	Peer string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("federation: network %s peer=%s: %v", e.Op, e.Peer, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

func netErr(op, peer string, err error) error {
	if err == nil {
		return nil
	}
	return &NetworkError{Op: op, Peer: peer, Err: err}
}

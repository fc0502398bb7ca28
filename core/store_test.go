package core

import (
	"context"
	"testing"
)

func TestPutGetBlobRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	data := []byte("hello federation")

	c, err := s.PutBlob(ctx, data)
	if err != nil {
		t.Fatalf("PutBlob: %v", err)
	}
	if c != CIDForBlob(data) {
		t.Fatalf("PutBlob CID = %v, want deterministic CIDForBlob", c)
	}

	got, ok, err := s.GetBlob(ctx, c)
	if err != nil || !ok {
		t.Fatalf("GetBlob: ok=%v err=%v", ok, err)
	}
	if string(got) != string(data) {
		t.Fatalf("GetBlob = %q, want %q", got, data)
	}
}

func TestGetBlobAbsentIsNotError(t *testing.T) {
	s := NewInMemoryStore()
	_, ok, err := s.GetBlob(context.Background(), CIDForBlob([]byte("missing")))
	if err != nil {
		t.Fatalf("unexpected error for absent blob: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for absent blob")
	}
}

func TestPinUnpin(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	c, _ := s.PutBlob(ctx, []byte("pinned"))

	if pinned, _ := s.IsPinned(ctx, c); pinned {
		t.Fatal("expected unpinned before Pin")
	}
	if err := s.Pin(ctx, c); err != nil {
		t.Fatalf("Pin: %v", err)
	}
	if pinned, _ := s.IsPinned(ctx, c); !pinned {
		t.Fatal("expected pinned after Pin")
	}
	if err := s.Unpin(ctx, c); err != nil {
		t.Fatalf("Unpin: %v", err)
	}
	if pinned, _ := s.IsPinned(ctx, c); pinned {
		t.Fatal("expected unpinned after Unpin")
	}
}

func TestDeleteBlobIsIdempotent(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	c, _ := s.PutBlob(ctx, []byte("to delete"))
	if err := s.DeleteBlob(ctx, c); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := s.DeleteBlob(ctx, c); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if present, _ := s.ContainsBlob(ctx, c); present {
		t.Fatal("expected blob absent after delete")
	}
}

func TestTxnReadsOwnWrites(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	key := KeyCID("txn::key")

	txn, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if err := txn.PutKV(key, []byte("v1")); err != nil {
		t.Fatalf("PutKV: %v", err)
	}

	v, ok, err := txn.GetKV(key)
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("txn GetKV = %q, ok=%v, err=%v", v, ok, err)
	}

	if _, ok, _ := s.GetKV(ctx, key); ok {
		t.Fatal("uncommitted write leaked to main store")
	}

	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	v, ok, err = s.GetKV(ctx, key)
	if err != nil || !ok || string(v) != "v1" {
		t.Fatalf("after commit GetKV = %q, ok=%v, err=%v", v, ok, err)
	}
}

func TestTxnRollbackDiscardsWrites(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	key := KeyCID("txn::rollback")

	txn, _ := s.Begin(ctx)
	_ = txn.PutKV(key, []byte("discarded"))
	if err := txn.Rollback(); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if _, ok, _ := s.GetKV(ctx, key); ok {
		t.Fatal("rolled-back write is visible")
	}

	// The store must be usable after a rollback releases the txn lock.
	txn2, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("Begin after rollback: %v", err)
	}
	if err := txn2.Commit(); err != nil {
		t.Fatalf("Commit after rollback: %v", err)
	}
}

func TestTxnOperationsAfterCloseFail(t *testing.T) {
	s := NewInMemoryStore()
	ctx := context.Background()
	txn, _ := s.Begin(ctx)
	if err := txn.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if _, err := txn.PutBlob([]byte("x")); err != ErrTransactionClosed {
		t.Fatalf("PutBlob after close = %v, want ErrTransactionClosed", err)
	}
}

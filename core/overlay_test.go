package core

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func newConnectedOverlayPair(t *testing.T) (*Overlay, *Overlay) {
	t.Helper()
	cfg := DefaultOverlayConfig()
	cfg.ListenAddresses = []string{"/ip4/127.0.0.1/tcp/0"}
	cfg.BootstrapPeriod = time.Hour // disable the reconnector ticker during the test

	a, err := NewOverlay(cfg, nil)
	if err != nil {
		t.Fatalf("NewOverlay a: %v", err)
	}
	b, err := NewOverlay(cfg, nil)
	if err != nil {
		t.Fatalf("NewOverlay b: %v", err)
	}
	t.Cleanup(func() {
		_ = a.Shutdown()
		_ = b.Shutdown()
	})

	if len(b.host.Addrs()) == 0 {
		t.Fatal("overlay b has no listen addresses")
	}
	addr := fmt.Sprintf("%s/p2p/%s", b.host.Addrs()[0].String(), b.host.ID().String())
	if err := a.DialSeeds([]string{addr}); err != nil {
		t.Fatalf("DialSeeds: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for {
		peers, err := a.ConnectedPeers(ctx)
		if err != nil {
			t.Fatalf("ConnectedPeers: %v", err)
		}
		if len(peers) > 0 {
			break
		}
		select {
		case <-ctx.Done():
			t.Fatal("timed out waiting for overlays to connect")
		case <-time.After(20 * time.Millisecond):
		}
	}
	return a, b
}

func TestOverlayConnectedPeers(t *testing.T) {
	a, b := newConnectedOverlayPair(t)
	ctx := context.Background()

	peers, err := a.ConnectedPeers(ctx)
	if err != nil {
		t.Fatalf("ConnectedPeers: %v", err)
	}
	if len(peers) != 1 || peers[0] != b.LocalPeerID() {
		t.Fatalf("a's connected peers = %v, want [%v]", peers, b.LocalPeerID())
	}
}

func TestOverlayReplicationRequestRoundTrip(t *testing.T) {
	a, b := newConnectedOverlayPair(t)

	b.SetReplicationHandler(func(ctx context.Context, from PeerID, req BlobReplicationRequest) BlobReplicationResponse {
		return BlobReplicationResponse{Success: true}
	})

	resp, err := a.SendReplicationRequest(context.Background(), b.LocalPeerID(), BlobReplicationRequest{CID: CIDForBlob([]byte("x"))})
	if err != nil {
		t.Fatalf("SendReplicationRequest: %v", err)
	}
	if !resp.Success {
		t.Fatalf("expected Success=true, got %+v", resp)
	}
}

func TestOverlayFetchRequestRoundTrip(t *testing.T) {
	a, b := newConnectedOverlayPair(t)
	data := []byte("served blob bytes")

	b.SetFetchHandler(func(ctx context.Context, from PeerID, req BlobFetchRequest) BlobFetchResponse {
		return BlobFetchResponse{Data: data}
	})

	resp, err := a.SendFetchRequest(context.Background(), b.LocalPeerID(), BlobFetchRequest{CID: CIDForBlob(data)})
	if err != nil {
		t.Fatalf("SendFetchRequest: %v", err)
	}
	if string(resp.Data) != string(data) {
		t.Fatalf("fetched data = %q, want %q", resp.Data, data)
	}
}

func TestOverlayBroadcastSubscribe(t *testing.T) {
	a, b := newConnectedOverlayPair(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	msgs, err := b.Subscribe(ctx, "test::topic")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	// Allow the subscription's mesh to form before publishing.
	time.Sleep(200 * time.Millisecond)

	if err := a.Broadcast(ctx, "test::topic", []byte("hello mesh")); err != nil {
		t.Fatalf("Broadcast: %v", err)
	}

	select {
	case m := <-msgs:
		if string(m.Data) != "hello mesh" {
			t.Fatalf("message data = %q, want %q", m.Data, "hello mesh")
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for a broadcast message")
	}
}

func TestOverlayShutdownCancelsPending(t *testing.T) {
	cfg := DefaultOverlayConfig()
	cfg.ListenAddresses = []string{"/ip4/127.0.0.1/tcp/0"}
	o, err := NewOverlay(cfg, nil)
	if err != nil {
		t.Fatalf("NewOverlay: %v", err)
	}
	if err := o.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if _, err := o.ConnectedPeers(context.Background()); err != ErrShutdown {
		t.Fatalf("ConnectedPeers after shutdown = %v, want ErrShutdown", err)
	}
}

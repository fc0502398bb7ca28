package core

// Peer Overlay (spec.md §4.3). Wires libp2p.New, pubsub.NewGossipSub,
// mdns.NewMdnsService and seed dialing around the single-writer event-loop
// pattern spec.md §4.3/§5/§9 calls for: all swarm-state mutation happens on
// one task, reached only through a bounded command channel with one-shot
// reply channels, avoiding a scatter of peerLock/topicLock/subLock mutexes
// (spec.md §9, "Task-held shared mutable state").

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ipfs/go-cid"
	golibp2p "github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/sirupsen/logrus"
)

// Wire protocol identifiers for the request/response exchanges (spec.md §6).
const (
	ProtocolReplication = protocol.ID("/federation/replicate/1.0.0")
	ProtocolFetch       = protocol.ID("/federation/fetch/1.0.0")
)

// Pub-sub topic names recognised by the core (spec.md §6).
const (
	TopicThreadAnnounce     = "thread::announce"
	TopicCredentialAnnounce = "credential::announce"
)

// TrustBundleAnnounceTopic returns the per-epoch trustbundle announce topic.
func TrustBundleAnnounceTopic(epoch uint64) string {
	return fmt.Sprintf("trustbundle::announce::%d", epoch)
}

// PeerConnState is a peer's lifecycle state (spec.md §4.3).
type PeerConnState int

const (
	StateDialing PeerConnState = iota
	StateConnected
	StateDisconnected
)

type peerRecord struct {
	id    peer.ID
	addr  string
	state PeerConnState
}

// OverlayConfig holds the configuration options recognised by the core
// (spec.md §6).
type OverlayConfig struct {
	BootstrapPeers      []string
	ListenAddresses     []string
	MaxPeers            int
	BootstrapPeriod     time.Duration
	GossipHeartbeat     time.Duration
	DiscoveryTag        string
	GossipValidation    GossipValidationMode
}

// GossipValidationMode is Strict | Permissive (spec.md §6).
type GossipValidationMode int

const (
	GossipValidationStrict GossipValidationMode = iota
	GossipValidationPermissive
)

// DefaultOverlayConfig returns the documented defaults (spec.md §6).
func DefaultOverlayConfig() OverlayConfig {
	return OverlayConfig{
		ListenAddresses:  []string{"/ip4/0.0.0.0/tcp/0"},
		MaxPeers:         25,
		BootstrapPeriod:  30 * time.Second,
		GossipHeartbeat:  time.Second,
		DiscoveryTag:     "federation-core",
		GossipValidation: GossipValidationStrict,
	}
}

// ReplicationRequestHandler serves an incoming BlobReplicationRequest.
type ReplicationRequestHandler func(ctx context.Context, from PeerID, req BlobReplicationRequest) BlobReplicationResponse

// FetchRequestHandler serves an incoming BlobFetchRequest.
type FetchRequestHandler func(ctx context.Context, from PeerID, req BlobFetchRequest) BlobFetchResponse

// overlayCmd is a unit of work executed exclusively on the event-loop task.
// Long-running network I/O is kicked off from inside exec via a spawned
// goroutine rather than blocking the loop (spec.md §5: "No computation in
// the event loop may block for longer than a few milliseconds").
type overlayCmd struct {
	exec func(ctx context.Context, o *Overlay)
}

// Overlay is the single-writer peer mesh: authenticated transport sessions,
// provider discovery, and pub-sub, all mutated from one task (spec.md §4.3).
type Overlay struct {
	host   host.Host
	pubsub *pubsub.PubSub
	dht    *dht.IpfsDHT
	cfg    OverlayConfig
	logger *logrus.Logger

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	cmdCh chan overlayCmd // capacity 100 (spec.md §5 item 1)

	// Owned exclusively by the loop goroutine.
	peers  map[peer.ID]*peerRecord
	topics map[string]*pubsub.Topic
	subs   map[string]*pubsub.Subscription

	replHandler  ReplicationRequestHandler
	fetchHandler FetchRequestHandler

	mu sync.Mutex // guards handler registration only, not swarm state
}

// NewOverlay creates and bootstraps the peer overlay.
func NewOverlay(cfg OverlayConfig, logger *logrus.Logger) (*Overlay, error) {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())

	maxPeers := cfg.MaxPeers
	if maxPeers <= 0 {
		maxPeers = DefaultOverlayConfig().MaxPeers
	}
	lowWater := maxPeers / 2
	if lowWater <= 0 {
		lowWater = 1
	}
	cm, err := connmgr.NewConnManager(lowWater, maxPeers, connmgr.WithGracePeriod(time.Minute))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("federation: create connection manager: %w", err)
	}

	opts := []golibp2p.Option{golibp2p.ConnectionManager(cm)}
	for _, addr := range cfg.ListenAddresses {
		opts = append(opts, golibp2p.ListenAddrStrings(addr))
	}
	h, err := golibp2p.New(opts...)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("federation: create libp2p host: %w", err)
	}

	heartbeat := cfg.GossipHeartbeat
	if heartbeat <= 0 {
		heartbeat = DefaultOverlayConfig().GossipHeartbeat
	}
	gossipParams := pubsub.DefaultGossipSubParams()
	gossipParams.HeartbeatInterval = heartbeat
	strictSig := cfg.GossipValidation != GossipValidationPermissive

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithGossipSubParams(gossipParams),
		pubsub.WithStrictSignatureVerification(strictSig),
	)
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("federation: create pubsub: %w", err)
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeServer))
	if err != nil {
		h.Close()
		cancel()
		return nil, fmt.Errorf("federation: create dht: %w", err)
	}

	o := &Overlay{
		host:   h,
		pubsub: ps,
		dht:    kad,
		cfg:    cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		cmdCh:  make(chan overlayCmd, 100),
		peers:  make(map[peer.ID]*peerRecord),
		topics: make(map[string]*pubsub.Topic),
		subs:   make(map[string]*pubsub.Subscription),
	}

	h.SetStreamHandler(ProtocolReplication, o.handleReplicationStream)
	h.SetStreamHandler(ProtocolFetch, o.handleFetchStream)

	if _, err := mdns.NewMdnsService(h, cfg.DiscoveryTag, mdnsNotifee{o}).Start(); err != nil {
		logger.Warnf("mdns discovery unavailable: %v", err)
	}

	go o.loop()
	go o.bootstrapReconnector()

	if len(cfg.BootstrapPeers) > 0 {
		_ = o.DialSeeds(cfg.BootstrapPeers)
	}

	return o, nil
}

// mdnsNotifee adapts Overlay to the mdns.Notifee interface without exposing
// HandlePeerFound on Overlay's own public surface.
type mdnsNotifee struct{ o *Overlay }

func (n mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == n.o.host.ID() {
		return
	}
	if err := n.o.host.Connect(n.o.ctx, info); err != nil {
		n.o.logger.Warnf("mdns connect to %s failed: %v", info.ID, err)
		return
	}
	n.o.recordConnected(info.ID, info.String())
}

// loop is the overlay's single writer: every mutation to peers/topics/subs
// happens here, reached only via cmdCh (spec.md §4.3).
func (o *Overlay) loop() {
	defer close(o.done)
	for {
		select {
		case <-o.ctx.Done():
			o.logger.Info("overlay event loop shutting down")
			return
		case cmd := <-o.cmdCh:
			cmd.exec(o.ctx, o)
		}
	}
}

// submit enqueues a command; it returns ErrShutdown if the overlay has
// already begun shutting down (spec.md §4.3 Cancellation).
func (o *Overlay) submit(exec func(ctx context.Context, o *Overlay)) error {
	select {
	case o.cmdCh <- overlayCmd{exec: exec}:
		return nil
	case <-o.ctx.Done():
		return ErrShutdown
	}
}

// recordConnected marks a peer Connected, counting it toward the
// connection budget only once in that state (spec.md §4.3).
func (o *Overlay) recordConnected(id peer.ID, addr string) {
	_ = o.submit(func(_ context.Context, ov *Overlay) {
		ov.peers[id] = &peerRecord{id: id, addr: addr, state: StateConnected}
	})
}

// DialSeeds connects to a list of bootstrap multiaddresses (spec.md §4.3).
func (o *Overlay) DialSeeds(seeds []string) error {
	reply := make(chan error, 1)
	err := o.submit(func(ctx context.Context, ov *Overlay) {
		go func() {
			var firstErr error
			for _, addr := range seeds {
				pi, perr := peer.AddrInfoFromString(addr)
				if perr != nil {
					if firstErr == nil {
						firstErr = perr
					}
					continue
				}
				id := pi.ID
				_ = ov.submit(func(_ context.Context, lo *Overlay) {
					lo.peers[id] = &peerRecord{id: id, addr: addr, state: StateDialing}
				})
				state := StateConnected
				if derr := ov.host.Connect(ctx, *pi); derr != nil {
					if firstErr == nil {
						firstErr = derr
					}
					state = StateDisconnected
				}
				_ = ov.submit(func(_ context.Context, lo *Overlay) {
					lo.peers[id] = &peerRecord{id: id, addr: addr, state: state}
				})
			}
			select {
			case reply <- firstErr:
			case <-ctx.Done():
			}
		}()
	})
	if err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-o.ctx.Done():
		return ErrShutdown
	}
}

// bootstrapReconnector re-dials disconnected bootstrap peers on a fixed
// schedule (default 30s, spec.md §4.3, §5 item 3).
func (o *Overlay) bootstrapReconnector() {
	period := o.cfg.BootstrapPeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-o.ctx.Done():
			return
		case <-ticker.C:
			if len(o.cfg.BootstrapPeers) > 0 {
				_ = o.DialSeeds(o.cfg.BootstrapPeers)
			}
		}
	}
}

// ConnectedPeers returns the peers currently in the Connected state.
func (o *Overlay) ConnectedPeers(ctx context.Context) ([]PeerID, error) {
	reply := make(chan []PeerID, 1)
	err := o.submit(func(_ context.Context, ov *Overlay) {
		ids := make([]PeerID, 0, len(ov.peers))
		for id, rec := range ov.peers {
			if rec.state == StateConnected {
				ids = append(ids, PeerID(id.String()))
			}
		}
		reply <- ids
	})
	if err != nil {
		return nil, err
	}
	select {
	case ids := <-reply:
		return ids, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.ctx.Done():
		return nil, ErrShutdown
	}
}

// AnnounceProvider advertises this node as a provider of c via the DHT
// (spec.md §4.3 announce_provider).
func (o *Overlay) AnnounceProvider(ctx context.Context, c cid.Cid) error {
	reply := make(chan error, 1)
	err := o.submit(func(lctx context.Context, ov *Overlay) {
		go func() {
			perr := ov.dht.Provide(lctx, c, true)
			select {
			case reply <- perr:
			case <-lctx.Done():
			}
		}()
	})
	if err != nil {
		return err
	}
	select {
	case perr := <-reply:
		return perr
	case <-ctx.Done():
		return ctx.Err()
	case <-o.ctx.Done():
		return ErrShutdown
	}
}

// GetProviders runs a DHT provider query for c (spec.md §4.3 get_providers).
func (o *Overlay) GetProviders(ctx context.Context, c cid.Cid, limit int) ([]PeerID, error) {
	type result struct {
		ids []PeerID
	}
	reply := make(chan result, 1)
	err := o.submit(func(lctx context.Context, ov *Overlay) {
		go func() {
			findCtx, cancel := context.WithTimeout(lctx, 15*time.Second)
			defer cancel()
			var ids []PeerID
			for ai := range ov.dht.FindProvidersAsync(findCtx, c, limit) {
				if ai.ID == ov.host.ID() {
					continue
				}
				ids = append(ids, PeerID(ai.ID.String()))
			}
			select {
			case reply <- result{ids: ids}:
			case <-lctx.Done():
			}
		}()
	})
	if err != nil {
		return nil, err
	}
	select {
	case r := <-reply:
		return r.ids, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.ctx.Done():
		return nil, ErrShutdown
	}
}

// Broadcast publishes data to a named pub-sub topic, best-effort with no
// delivery guarantee (spec.md §4.3). The overlay never interprets payloads.
func (o *Overlay) Broadcast(ctx context.Context, topic string, data []byte) error {
	reply := make(chan error, 1)
	err := o.submit(func(lctx context.Context, ov *Overlay) {
		t, ok := ov.topics[topic]
		if !ok {
			var jerr error
			t, jerr = ov.pubsub.Join(topic)
			if jerr != nil {
				reply <- fmt.Errorf("federation: join topic %s: %w", topic, jerr)
				return
			}
			ov.topics[topic] = t
		}
		go func() {
			perr := t.Publish(lctx, data)
			select {
			case reply <- perr:
			case <-lctx.Done():
			}
		}()
	})
	if err != nil {
		return err
	}
	select {
	case perr := <-reply:
		return perr
	case <-ctx.Done():
		return ctx.Err()
	case <-o.ctx.Done():
		return ErrShutdown
	}
}

// Message is a decoded pub-sub delivery.
type Message struct {
	From  PeerID
	Topic string
	Data  []byte
}

// Subscribe returns a channel of messages published on topic. The channel is
// closed when the subscription ends (context cancelled or overlay shutdown).
func (o *Overlay) Subscribe(ctx context.Context, topic string) (<-chan Message, error) {
	type result struct {
		sub *pubsub.Subscription
		err error
	}
	reply := make(chan result, 1)
	err := o.submit(func(_ context.Context, ov *Overlay) {
		sub, ok := ov.subs[topic]
		if !ok {
			t, jerr := ov.pubsub.Join(topic)
			if jerr != nil {
				reply <- result{err: fmt.Errorf("federation: join topic %s: %w", topic, jerr)}
				return
			}
			ov.topics[topic] = t
			sub, jerr = t.Subscribe()
			if jerr != nil {
				reply <- result{err: fmt.Errorf("federation: subscribe topic %s: %w", topic, jerr)}
				return
			}
			ov.subs[topic] = sub
		}
		reply <- result{sub: sub}
	})
	if err != nil {
		return nil, err
	}
	var r result
	select {
	case r = <-reply:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-o.ctx.Done():
		return nil, ErrShutdown
	}
	if r.err != nil {
		return nil, r.err
	}

	out := make(chan Message)
	go func() {
		defer close(out)
		for {
			m, err := r.sub.Next(o.ctx)
			if err != nil {
				return
			}
			select {
			case out <- Message{From: PeerID(m.GetFrom().String()), Topic: topic, Data: m.Data}:
			case <-ctx.Done():
				return
			case <-o.ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// SetReplicationHandler registers the Replication Engine's receiver-side
// handler for incoming BlobReplicationRequests (spec.md §4.4).
func (o *Overlay) SetReplicationHandler(h ReplicationRequestHandler) {
	o.mu.Lock()
	o.replHandler = h
	o.mu.Unlock()
}

// SetFetchHandler registers the handler for incoming BlobFetchRequests.
func (o *Overlay) SetFetchHandler(h FetchRequestHandler) {
	o.mu.Lock()
	o.fetchHandler = h
	o.mu.Unlock()
}

func (o *Overlay) handleReplicationStream(s network.Stream) {
	defer s.Close()
	var req BlobReplicationRequest
	if err := readEnvelope(s, &req); err != nil {
		o.logger.Warnf("replication stream from %s: %v", s.Conn().RemotePeer(), err)
		return
	}
	o.mu.Lock()
	h := o.replHandler
	o.mu.Unlock()
	resp := BlobReplicationResponse{Success: false, Error: "no handler registered"}
	if h != nil {
		resp = h(o.ctx, PeerID(s.Conn().RemotePeer().String()), req)
	}
	if err := writeEnvelope(s, resp); err != nil {
		o.logger.Warnf("replication response to %s: %v", s.Conn().RemotePeer(), err)
	}
}

func (o *Overlay) handleFetchStream(s network.Stream) {
	defer s.Close()
	var req BlobFetchRequest
	if err := readEnvelope(s, &req); err != nil {
		o.logger.Warnf("fetch stream from %s: %v", s.Conn().RemotePeer(), err)
		return
	}
	o.mu.Lock()
	h := o.fetchHandler
	o.mu.Unlock()
	resp := BlobFetchResponse{Error: "no handler registered"}
	if h != nil {
		resp = h(o.ctx, PeerID(s.Conn().RemotePeer().String()), req)
	}
	if err := writeEnvelope(s, resp); err != nil {
		o.logger.Warnf("fetch response to %s: %v", s.Conn().RemotePeer(), err)
	}
}

// SendReplicationRequest opens a stream to peer and performs a
// BlobReplicationRequest/Response exchange (spec.md §4.4 step 4).
func (o *Overlay) SendReplicationRequest(ctx context.Context, p PeerID, req BlobReplicationRequest) (BlobReplicationResponse, error) {
	var resp BlobReplicationResponse
	pid, err := peer.Decode(string(p))
	if err != nil {
		return resp, fmt.Errorf("%w: invalid peer id %s", ErrMalformed, p)
	}
	s, err := o.host.NewStream(ctx, pid, ProtocolReplication)
	if err != nil {
		return resp, netErr("open-stream", string(p), err)
	}
	defer s.Close()
	if err := writeEnvelope(s, req); err != nil {
		return resp, netErr("send-replication-request", string(p), err)
	}
	if err := readEnvelope(s, &resp); err != nil {
		return resp, netErr("read-replication-response", string(p), err)
	}
	return resp, nil
}

// SendFetchRequest opens a stream to peer and performs a
// BlobFetchRequest/Response exchange (spec.md §4.4 step b).
func (o *Overlay) SendFetchRequest(ctx context.Context, p PeerID, req BlobFetchRequest) (BlobFetchResponse, error) {
	var resp BlobFetchResponse
	pid, err := peer.Decode(string(p))
	if err != nil {
		return resp, fmt.Errorf("%w: invalid peer id %s", ErrMalformed, p)
	}
	s, err := o.host.NewStream(ctx, pid, ProtocolFetch)
	if err != nil {
		return resp, netErr("open-stream", string(p), err)
	}
	defer s.Close()
	if err := writeEnvelope(s, req); err != nil {
		return resp, netErr("send-fetch-request", string(p), err)
	}
	if err := readEnvelope(s, &resp); err != nil {
		return resp, netErr("read-fetch-response", string(p), err)
	}
	return resp, nil
}

// LocalPeerID returns this node's own PeerID.
func (o *Overlay) LocalPeerID() PeerID { return PeerID(o.host.ID().String()) }

// Shutdown replies Cancelled to all further pending commands (by tearing
// down the loop so their replies are never delivered and callers observe
// ErrShutdown from their own ctx selects), aborts spawned tasks via context
// cancellation, and closes the host (spec.md §4.3 Cancellation).
func (o *Overlay) Shutdown() error {
	o.cancel()
	<-o.done
	return o.host.Close()
}

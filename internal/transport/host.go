// Package transport wraps a libp2p host configured for a statically-known
// cluster of peers: no DHT, no mDNS, no pubsub. Every logical channel (the
// replication channel, control RPCs) rides one protocol ID over streams
// framed with internal/record's length-prefixed codec.
package transport

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	connmgr "github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/multiformats/go-multiaddr"

	"github.com/latticefin/rtdb/internal/record"
	"github.com/latticefin/rtdb/pkg/logging"
)

// Config configures a Host.
type Config struct {
	ListenAddrs  []string
	IdentityPath string
	ConnMgrLow   int
	ConnMgrHigh  int
	GracePeriod  time.Duration
	// Registry validates inbound frame bodies by type on every stream this
	// host opens or accepts. May be nil, in which case body-size validation
	// is skipped (e.g. in tests that exchange ad hoc frame types).
	Registry *record.Registry
}

// Host is the boundary adapter's libp2p wrapper (C11).
type Host struct {
	host     host.Host
	log      *logging.Logger
	registry *record.Registry

	ctx    context.Context
	cancel context.CancelFunc

	mu                 sync.RWMutex
	onPeerConnected    func(peer.ID)
	onPeerDisconnected func(peer.ID)
}

// New creates a libp2p host with a loaded-or-generated ed25519 identity and
// a bounded connection manager; it performs no discovery of any kind.
func New(ctx context.Context, cfg Config) (*Host, error) {
	ctx, cancel := context.WithCancel(ctx)

	privKey, err := loadOrCreateKey(cfg.IdentityPath)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: loading identity: %w", err)
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.ListenAddrs))
	for _, addr := range cfg.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("transport: invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	grace := cfg.GracePeriod
	if grace == 0 {
		grace = 30 * time.Second
	}
	cm, err := connmgr.NewConnManager(cfg.ConnMgrLow, cfg.ConnMgrHigh, connmgr.WithGracePeriod(grace))
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: creating connection manager: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.ConnectionManager(cm),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("transport: creating libp2p host: %w", err)
	}

	t := &Host{
		host:     h,
		log:      logging.GetDefault().Component("transport"),
		registry: cfg.Registry,
		ctx:      ctx,
		cancel:   cancel,
	}

	h.Network().Notify(&network.NotifyBundle{
		ConnectedF: func(n network.Network, conn network.Conn) {
			t.mu.RLock()
			cb := t.onPeerConnected
			t.mu.RUnlock()
			if cb != nil {
				go cb(conn.RemotePeer())
			}
		},
		DisconnectedF: func(n network.Network, conn network.Conn) {
			t.mu.RLock()
			cb := t.onPeerDisconnected
			t.mu.RUnlock()
			if cb != nil {
				go cb(conn.RemotePeer())
			}
		},
	})

	return t, nil
}

func loadOrCreateKey(keyPath string) (crypto.PrivKey, error) {
	if err := os.MkdirAll(filepath.Dir(keyPath), 0o700); err != nil {
		return nil, err
	}

	if data, err := os.ReadFile(keyPath); err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}

	privKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}

	data, err := crypto.MarshalPrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, data, 0o600); err != nil {
		return nil, err
	}
	return privKey, nil
}

// Dial connects to a statically-configured peer by multiaddr string (which
// must include the /p2p/<id> suffix). There is no discovery fallback: a
// cluster member not reachable at its configured address is simply down.
func (t *Host) Dial(ctx context.Context, addr string) (peer.ID, error) {
	ma, err := multiaddr.NewMultiaddr(addr)
	if err != nil {
		return "", fmt.Errorf("transport: invalid peer address %s: %w", addr, err)
	}
	pi, err := peer.AddrInfoFromP2pAddr(ma)
	if err != nil {
		return "", fmt.Errorf("transport: invalid peer info %s: %w", addr, err)
	}
	if err := t.host.Connect(ctx, *pi); err != nil {
		return "", fmt.Errorf("transport: connecting to %s: %w", pi.ID, err)
	}
	return pi.ID, nil
}

// OnPeerConnected registers a callback invoked when any peer connects.
func (t *Host) OnPeerConnected(cb func(peer.ID)) {
	t.mu.Lock()
	t.onPeerConnected = cb
	t.mu.Unlock()
}

// OnPeerDisconnected registers a callback invoked when any peer disconnects.
func (t *Host) OnPeerDisconnected(cb func(peer.ID)) {
	t.mu.Lock()
	t.onPeerDisconnected = cb
	t.mu.Unlock()
}

// Connectedness reports whether id is currently connected.
func (t *Host) Connectedness(id peer.ID) network.Connectedness {
	return t.host.Network().Connectedness(id)
}

// ID returns this host's own peer ID.
func (t *Host) ID() peer.ID { return t.host.ID() }

// Addrs returns the host's listen addresses.
func (t *Host) Addrs() []multiaddr.Multiaddr { return t.host.Addrs() }

// Underlying returns the wrapped libp2p host, for callers (e.g.
// internal/replication) that need SetStreamHandler/NewStream directly.
func (t *Host) Underlying() host.Host { return t.host }

// Close shuts the host down.
func (t *Host) Close() error {
	t.cancel()
	return t.host.Close()
}

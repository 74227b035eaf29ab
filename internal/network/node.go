package network

import (
	"context"
	"crypto/ed25519"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"

	"Cosign/internal/account"
	"Cosign/internal/logger"
)

const (
	// defaultRequestTimeout bounds handling of one incoming request.
	defaultRequestTimeout = 30 * time.Second

	// alpnProtocol is the ALPN protocol identifier.
	alpnProtocol = "cosign/1"
)

// ErrNodeClosed is returned by operations on a closed node.
var ErrNodeClosed = errors.New("node closed")

// RequestHandler answers a request from a peer.
type RequestHandler func(ctx context.Context, p *Peer, data []byte) ([]byte, error)

// NoticeHandler receives a one-way notice from a peer. Duplicates are filtered.
type NoticeHandler func(p *Peer, data []byte)

// Config holds the configuration for a Node.
type Config struct {
	PrivateKey     ed25519.PrivateKey // PrivateKey identifies the node to its peers
	ListenAddr     string             // ListenAddr is the address to listen on (e.g., ":9000"); empty for dial-only nodes
	RequestTimeout time.Duration      // RequestTimeout bounds incoming request handling
	DedupTTL       time.Duration      // DedupTTL is how long notices are remembered
}

// Node accepts and initiates QUIC connections to peers identified by their ed25519 keys.
type Node struct {
	privateKey     ed25519.PrivateKey
	identity       account.ID
	listenAddr     string
	requestTimeout time.Duration
	tlsConfig      *tls.Config
	quicConfig     *quic.Config

	listener *quic.Listener

	peersMu sync.RWMutex
	peers   map[account.ID]*Peer // peers maps remote identity to its connection

	dedup *Dedup

	handlersMu sync.RWMutex
	onRequest  RequestHandler
	onNotice   NoticeHandler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNode creates a new network node.
func NewNode(cfg Config) (*Node, error) {
	if cfg.PrivateKey == nil {
		return nil, fmt.Errorf("private key is required")
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}

	cert, err := selfSignedCertificate(cfg.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("generate certificate:\n%w", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true, // peers are authenticated by key in setupPeer
		NextProtos:         []string{alpnProtocol},
		MinVersion:         tls.VersionTLS13,
	}

	quicConfig := &quic.Config{
		MaxIdleTimeout:  30 * time.Second,
		KeepAlivePeriod: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Node{
		privateKey:     cfg.PrivateKey,
		identity:       account.FromPublicKey(cfg.PrivateKey.Public().(ed25519.PublicKey)),
		listenAddr:     cfg.ListenAddr,
		requestTimeout: cfg.RequestTimeout,
		tlsConfig:      tlsConfig,
		quicConfig:     quicConfig,
		peers:          make(map[account.ID]*Peer),
		dedup:          NewDedup(cfg.DedupTTL),
		ctx:            ctx,
		cancel:         cancel,
	}, nil
}

// Identity returns the account this node's key controls.
func (n *Node) Identity() account.ID {
	return n.identity
}

// PublicKey returns the node's public key.
func (n *Node) PublicKey() ed25519.PublicKey {
	return n.privateKey.Public().(ed25519.PublicKey)
}

// Addr returns the listener's address. Returns empty string if not listening.
func (n *Node) Addr() string {
	if n.listener == nil {
		return ""
	}

	return n.listener.Addr().String()
}

// Start begins accepting connections when a listen address is configured.
func (n *Node) Start() error {
	if n.listenAddr == "" {
		return nil
	}

	listener, err := quic.ListenAddr(n.listenAddr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return fmt.Errorf("listen on %s:\n%w", n.listenAddr, err)
	}

	n.listener = listener

	n.wg.Add(1)
	go n.acceptLoop()

	logger.Info("quic node started", "addr", listener.Addr(), "identity", n.identity)

	return nil
}

// Connect dials addr. When expected is non-zero the remote key must control it.
// An open connection to the same identity is reused.
func (n *Node) Connect(ctx context.Context, addr string, expected account.ID) (*Peer, error) {
	if n.ctx.Err() != nil {
		return nil, ErrNodeClosed
	}

	if !expected.IsZero() {
		if p := n.Peer(expected); p != nil && !p.closed.Load() {
			return p, nil
		}
	}

	conn, err := quic.DialAddr(ctx, addr, n.tlsConfig, n.quicConfig)
	if err != nil {
		return nil, fmt.Errorf("dial %s:\n%w", addr, err)
	}

	peer, err := n.setupPeer(conn, addr)
	if err != nil {
		conn.CloseWithError(1, "setup failed")
		return nil, err
	}

	if !expected.IsZero() && peer.identity != expected {
		peer.Close()
		return nil, fmt.Errorf("peer at %s is %s, expected %s", addr, peer.identity, expected)
	}

	return peer, nil
}

// Peer returns the connected peer with the given identity, or nil.
func (n *Node) Peer(id account.ID) *Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	return n.peers[id]
}

// Peers returns all connected peers.
func (n *Node) Peers() []*Peer {
	n.peersMu.RLock()
	defer n.peersMu.RUnlock()

	peers := make([]*Peer, 0, len(n.peers))
	for _, p := range n.peers {
		peers = append(peers, p)
	}

	return peers
}

// Broadcast sends a notice to every connected peer and returns the last error.
func (n *Node) Broadcast(data []byte) error {
	var lastErr error

	for _, p := range n.Peers() {
		if err := p.Notify(data); err != nil {
			lastErr = err
		}
	}

	return lastErr
}

// OnRequest sets the handler for incoming requests.
func (n *Node) OnRequest(fn RequestHandler) {
	n.handlersMu.Lock()
	n.onRequest = fn
	n.handlersMu.Unlock()
}

// OnNotice sets the handler for incoming notices.
func (n *Node) OnNotice(fn NoticeHandler) {
	n.handlersMu.Lock()
	n.onNotice = fn
	n.handlersMu.Unlock()
}

// Close stops the node and closes all connections.
func (n *Node) Close() error {
	n.cancel()

	if n.listener != nil {
		n.listener.Close()
	}

	for _, p := range n.Peers() {
		p.Close()
	}

	n.wg.Wait()

	return nil
}

// acceptLoop accepts incoming connections.
func (n *Node) acceptLoop() {
	defer n.wg.Done()

	for {
		conn, err := n.listener.Accept(n.ctx)
		if err != nil {
			return
		}

		if _, err := n.setupPeer(conn, conn.RemoteAddr().String()); err != nil {
			logger.Debug("rejected connection", "remote", conn.RemoteAddr(), "error", err)
			conn.CloseWithError(1, "setup failed")
		}
	}
}

// setupPeer authenticates the remote key and starts serving the connection.
func (n *Node) setupPeer(conn *quic.Conn, addr string) (*Peer, error) {
	pub, id, err := peerIdentity(conn.ConnectionState().TLS)
	if err != nil {
		return nil, fmt.Errorf("peer identity:\n%w", err)
	}

	peer := &Peer{
		publicKey: pub,
		identity:  id,
		address:   addr,
		conn:      conn,
		node:      n,
	}

	n.peersMu.Lock()
	previous := n.peers[id]
	n.peers[id] = peer
	n.peersMu.Unlock()

	if previous != nil {
		previous.Close()
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		peer.serve()
	}()

	logger.Debug("peer connected", "peer", id, "addr", addr)

	return peer, nil
}

// removePeer forgets p if it is still the registered connection for its identity.
func (n *Node) removePeer(p *Peer) {
	n.peersMu.Lock()
	if n.peers[p.identity] == p {
		delete(n.peers, p.identity)
	}
	n.peersMu.Unlock()

	logger.Debug("peer disconnected", "peer", p.identity)
}

func (n *Node) handleRequest(p *Peer, data []byte) ([]byte, error) {
	n.handlersMu.RLock()
	fn := n.onRequest
	n.handlersMu.RUnlock()

	if fn == nil {
		return nil, fmt.Errorf("no request handler registered")
	}

	ctx, cancel := context.WithTimeout(n.ctx, n.requestTimeout)
	defer cancel()

	return fn(ctx, p, data)
}

func (n *Node) handleNotice(p *Peer, data []byte) {
	if !n.dedup.Check(data) {
		return
	}

	n.handlersMu.RLock()
	fn := n.onNotice
	n.handlersMu.RUnlock()

	if fn != nil {
		fn(p, data)
	}
}

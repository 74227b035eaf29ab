package network

import (
	"context"
	"crypto/ed25519"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quic-go/quic-go"

	"Cosign/internal/account"
	"Cosign/internal/logger"
)

// Peer is a connection to a remote node.
type Peer struct {
	publicKey ed25519.PublicKey // publicKey is the remote ed25519 key
	identity  account.ID        // identity is the account the remote key controls
	address   string            // address is the remote address
	conn      *quic.Conn
	node      *Node
	closed    atomic.Bool
	sendMu    sync.Mutex // sendMu serializes notice streams
}

// PublicKey returns the remote public key.
func (p *Peer) PublicKey() ed25519.PublicKey {
	return p.publicKey
}

// Identity returns the account the remote key controls.
func (p *Peer) Identity() account.ID {
	return p.identity
}

// Address returns the remote address.
func (p *Peer) Address() string {
	return p.address
}

// Request sends data on a new bidirectional stream and waits for the response.
// The context deadline bounds the whole exchange.
func (p *Peer) Request(ctx context.Context, data []byte) ([]byte, error) {
	if p.closed.Load() {
		return nil, fmt.Errorf("peer %s is closed", p.identity)
	}

	stream, err := p.conn.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("open stream:\n%w", err)
	}
	defer stream.Close()

	if deadline, ok := ctx.Deadline(); ok {
		stream.SetDeadline(deadline)
	}

	// Unblock the read when ctx is cancelled without a deadline.
	stop := context.AfterFunc(ctx, func() {
		stream.CancelRead(0)
	})
	defer stop()

	if err := writeMessage(stream, data); err != nil {
		return nil, fmt.Errorf("write request:\n%w", err)
	}

	response, err := readMessage(stream)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		return nil, fmt.Errorf("read response:\n%w", err)
	}

	return response, nil
}

// Notify sends a one-way notice on a unidirectional stream.
func (p *Peer) Notify(data []byte) error {
	if p.closed.Load() {
		return fmt.Errorf("peer %s is closed", p.identity)
	}

	p.sendMu.Lock()
	defer p.sendMu.Unlock()

	ctx, cancel := context.WithTimeout(p.node.ctx, 5*time.Second)
	defer cancel()

	stream, err := p.conn.OpenUniStreamSync(ctx)
	if err != nil {
		return fmt.Errorf("open stream:\n%w", err)
	}

	if err := writeMessage(stream, data); err != nil {
		stream.CancelWrite(0)
		return fmt.Errorf("write notice:\n%w", err)
	}

	return stream.Close()
}

// Close closes the connection.
func (p *Peer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	return p.conn.CloseWithError(0, "closed")
}

// serve accepts streams until the connection ends.
func (p *Peer) serve() {
	ctx := p.conn.Context()

	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()

		for {
			stream, err := p.conn.AcceptUniStream(ctx)
			if err != nil {
				return
			}

			go p.handleNotice(stream)
		}
	}()

	for {
		stream, err := p.conn.AcceptStream(ctx)
		if err != nil {
			break
		}

		go p.handleRequest(stream)
	}

	wg.Wait()

	p.closed.Store(true)
	p.node.removePeer(p)
}

// handleRequest answers one bidirectional stream.
func (p *Peer) handleRequest(stream *quic.Stream) {
	defer stream.Close()

	data, err := readMessage(stream)
	if err != nil {
		logger.Debug("request read error", "peer", p.identity, "error", err)
		return
	}

	response, err := p.node.handleRequest(p, data)
	if err != nil {
		logger.Debug("request handler error", "peer", p.identity, "error", err)
		stream.CancelWrite(1)
		return
	}

	if err := writeMessage(stream, response); err != nil {
		logger.Debug("response write error", "peer", p.identity, "error", err)
	}
}

// handleNotice reads one unidirectional stream.
func (p *Peer) handleNotice(stream *quic.ReceiveStream) {
	data, err := readMessage(stream)
	if err != nil {
		logger.Debug("notice read error", "peer", p.identity, "error", err)
		return
	}

	p.node.handleNotice(p, data)
}

package cosign

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"Cosign/internal/account"
	"Cosign/internal/combiner"
	"Cosign/internal/logger"
	"Cosign/internal/network"
	"Cosign/internal/signing"
)

// ErrQuorumUnreachable is returned when every signer answered or failed without reaching quorum.
var ErrQuorumUnreachable = errors.New("quorum unreachable")

// Endpoint locates a remote signer.
type Endpoint struct {
	Addr string     // Addr is the signer's QUIC address
	Node account.ID // Node is the expected network identity; zero means the signer identity
}

// NetworkCollector requests partial signatures from remote signers in parallel.
type NetworkCollector struct {
	node        *network.Node           // node is the coordinator's network endpoint
	directory   map[account.ID]Endpoint // directory maps signer identities to addresses
	timeout     time.Duration           // timeout bounds each signer request
	concurrency int                     // concurrency caps in-flight requests
}

// CollectorOption configures a NetworkCollector.
type CollectorOption func(*NetworkCollector)

// WithRequestTimeout bounds each signer request.
func WithRequestTimeout(d time.Duration) CollectorOption {
	return func(c *NetworkCollector) { c.timeout = d }
}

// WithConcurrency caps in-flight signer requests.
func WithConcurrency(n int) CollectorOption {
	return func(c *NetworkCollector) { c.concurrency = n }
}

// NewNetworkCollector creates a collector over node.
func NewNetworkCollector(node *network.Node, directory map[account.ID]Endpoint, opts ...CollectorOption) *NetworkCollector {
	c := &NetworkCollector{
		node:        node,
		directory:   directory,
		timeout:     10 * time.Second,
		concurrency: 16,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Collect fans the envelope out to every reachable member of the combiner's signer set
// and feeds the answers to the combiner. It returns once quorum is reached, the combiner
// is closed or every signer has answered.
func (c *NetworkCollector) Collect(ctx context.Context, comb *combiner.Combiner) error {
	set := comb.SignerSet()
	req := EncodeSignRequest(&SignRequest{Version: set.Version(), Envelope: comb.Envelope()})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stop := stopOnQuorum(ctx, cancel, comb)
	defer stop()

	var (
		mu       sync.Mutex
		failures []error
	)

	fail := func(err error) {
		mu.Lock()
		failures = append(failures, err)
		mu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, entry := range set.Signers() {
		signer := entry.Identity

		if comb.Contributed(signer) {
			continue
		}

		ep, ok := c.directory[signer]
		if !ok {
			fail(fmt.Errorf("signer %s: no address", signer))
			continue
		}

		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}

			p, err := c.request(gctx, signer, ep, req)
			if err != nil {
				if gctx.Err() == nil {
					fail(fmt.Errorf("signer %s:\n%w", signer, err))
				}
				return nil
			}

			if _, err := comb.Accept(p); err != nil && !errors.Is(err, combiner.ErrCombinerClosed) {
				fail(fmt.Errorf("signer %s:\n%w", signer, err))
			}

			return nil
		})
	}

	g.Wait()

	return outcome(ctx, comb, failures)
}

// request asks one signer for its partial.
func (c *NetworkCollector) request(ctx context.Context, signer account.ID, ep Endpoint, req []byte) (*signing.PartialSignature, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	expected := ep.Node
	if expected.IsZero() {
		expected = signer
	}

	peer, err := c.node.Connect(ctx, ep.Addr, expected)
	if err != nil {
		return nil, err
	}

	resp, err := peer.Request(ctx, req)
	if err != nil {
		return nil, err
	}

	p, err := DecodeResponse(resp)
	if err != nil {
		var d *Decline
		if errors.As(err, &d) && d.Reason == ReasonStaleVersion {
			return nil, fmt.Errorf("%w: %w", combiner.ErrSignerSetChanged, err)
		}

		return nil, err
	}

	if p.Signer != signer {
		return nil, fmt.Errorf("%w: answered as %s", signing.ErrUnauthorizedSigner, p.Signer)
	}

	return p, nil
}

// Settled tells connected signers that every sequence up to seq is consumed for acct.
func (c *NetworkCollector) Settled(acct account.ID, seq uint64) {
	if err := c.node.Broadcast(EncodeSettled(acct, seq)); err != nil {
		logger.Debug("settled notice failed", "account", acct, "error", err)
	}
}

// LocalCollector asks in-process signers, sequentially. Each signer runs the same checks
// as a networked one.
type LocalCollector struct {
	signers []*Handler
}

// NewLocalCollector creates a collector over in-process signers.
func NewLocalCollector(signers ...*Handler) *LocalCollector {
	return &LocalCollector{signers: signers}
}

// Collect asks each signer in turn until quorum is reached.
func (c *LocalCollector) Collect(ctx context.Context, comb *combiner.Combiner) error {
	req := &SignRequest{Version: comb.SignerSet().Version(), Envelope: comb.Envelope()}

	var failures []error

	for _, h := range c.signers {
		if ctx.Err() != nil || comb.State() > combiner.Collecting {
			break
		}

		if comb.Contributed(h.Identity()) {
			continue
		}

		p, err := h.Sign(ctx, req)
		if err != nil {
			var d *Decline
			if errors.As(err, &d) && d.Reason == ReasonStaleVersion {
				err = fmt.Errorf("%w: %w", combiner.ErrSignerSetChanged, err)
			}

			failures = append(failures, fmt.Errorf("signer %s:\n%w", h.Identity(), err))
			continue
		}

		if _, err := comb.Accept(p); err != nil {
			failures = append(failures, fmt.Errorf("signer %s:\n%w", h.Identity(), err))
		}
	}

	return outcome(ctx, comb, failures)
}

// Settled forwards a consumed sequence to every signer.
func (c *LocalCollector) Settled(acct account.ID, seq uint64) {
	for _, h := range c.signers {
		h.Settled(acct, seq)
	}
}

// stopOnQuorum cancels collection once the combiner reaches quorum or closes.
func stopOnQuorum(ctx context.Context, cancel context.CancelFunc, comb *combiner.Combiner) func() {
	done := make(chan struct{})

	go func() {
		select {
		case <-comb.QuorumReached():
			cancel()
		case <-comb.Done():
			cancel()
		case <-ctx.Done():
		case <-done:
		}
	}()

	return func() { close(done) }
}

// outcome reports how a collection round ended.
func outcome(ctx context.Context, comb *combiner.Combiner, failures []error) error {
	select {
	case <-comb.QuorumReached():
		return nil
	default:
	}

	if comb.State() == combiner.Discarded {
		return combiner.ErrSignerSetChanged
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("collect:\n%w", err)
	}

	if len(failures) == 0 {
		return fmt.Errorf("%w: weight %d of %d", ErrQuorumUnreachable, comb.Weight(), comb.SignerSet().Quorum())
	}

	return fmt.Errorf("%w: weight %d of %d:\n%w",
		ErrQuorumUnreachable, comb.Weight(), comb.SignerSet().Quorum(), errors.Join(failures...))
}

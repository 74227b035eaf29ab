// Package client is a small Go SDK for scripts driving a Cosign ledger.
package client

import (
	"context"
	"fmt"
	"time"

	"Cosign/internal/account"
	"Cosign/internal/cosign"
	"Cosign/internal/envelope"
	"Cosign/internal/ledger"
	"Cosign/internal/signerset"
	"Cosign/internal/workflow"
)

// Client connects to a ledger via HTTP.
type Client struct {
	ledger *ledger.HTTPClient // ledger is the HTTP ledger client
	cfg    workflow.Config    // cfg is the workflow retry policy
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout bounds each ledger call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.cfg.Timeout = d }
}

// WithRetries sets the submission attempts and the first retry delay.
func WithRetries(attempts int, backoff time.Duration) Option {
	return func(c *Client) {
		c.cfg.MaxAttempts = attempts
		c.cfg.Backoff = workflow.ExponentialBackoff(backoff, 32*backoff)
	}
}

// NewClient creates a client for the ledger at addr (e.g. "127.0.0.1:8080").
func NewClient(addr string, opts ...Option) *Client {
	c := &Client{cfg: workflow.DefaultConfig()}

	for _, opt := range opts {
		opt(c)
	}

	c.ledger = ledger.NewHTTPClient(addr, c.cfg.Timeout)

	return c
}

// Health checks that the ledger answers.
func (c *Client) Health(ctx context.Context) error {
	return c.ledger.Health(ctx)
}

// Sequence returns the next sequence of an account.
func (c *Client) Sequence(ctx context.Context, acct account.ID) (uint64, error) {
	return c.ledger.Sequence(ctx, acct)
}

// SignerList returns the active signer set of an account.
func (c *Client) SignerList(ctx context.Context, acct account.ID) (*signerset.SignerSet, error) {
	return c.ledger.SignerList(ctx, acct)
}

// Submit sends combined transaction bytes.
func (c *Client) Submit(ctx context.Context, tx []byte) (ledger.SubmitResult, error) {
	return c.ledger.Submit(ctx, tx)
}

// Send authorizes payload for acct with the wallet's keys and submits it.
func (c *Client) Send(ctx context.Context, w *Wallet, acct account.ID, payload []byte) (ledger.SubmitResult, error) {
	_, result, err := c.workflow(w).Authorize(ctx, workflow.Request{
		Account: acct,
		Payload: payload,
	})
	if err != nil {
		return result, fmt.Errorf("send:\n%w", err)
	}

	return result, nil
}

// SendJSON sends v encoded as canonical JSON, so every signer endorses the same bytes
// for equal values.
func (c *Client) SendJSON(ctx context.Context, w *Wallet, acct account.ID, v any) (ledger.SubmitResult, error) {
	payload, err := envelope.CanonicalJSON(v)
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("encode payload:\n%w", err)
	}

	return c.Send(ctx, w, acct, payload)
}

// ReplaceSigners replaces acct's signer list, authorized by the wallet's keys.
func (c *Client) ReplaceSigners(ctx context.Context, w *Wallet, acct account.ID, signers []signerset.Entry, quorum uint32) (ledger.SubmitResult, error) {
	proposed, err := signerset.Propose(signers, quorum)
	if err != nil {
		return ledger.SubmitResult{}, err
	}

	_, result, err := c.workflow(w).ReplaceSigners(ctx, acct, proposed, true)
	if err != nil {
		return result, fmt.Errorf("replace signers:\n%w", err)
	}

	return result, nil
}

// workflow builds a workflow whose signers are the wallet's keys.
func (c *Client) workflow(w *Wallet) *workflow.Workflow {
	handlers := make([]*cosign.Handler, len(w.keys))
	for i, k := range w.keys {
		handlers[i] = cosign.NewHandler(k, c.ledger)
	}

	return workflow.New(c.ledger, cosign.NewLocalCollector(handlers...), workflow.WithConfig(c.cfg))
}

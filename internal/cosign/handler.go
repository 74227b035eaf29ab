package cosign

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"Cosign/internal/account"
	"Cosign/internal/envelope"
	"Cosign/internal/ledger"
	"Cosign/internal/logger"
	"Cosign/internal/network"
	"Cosign/internal/policy"
	"Cosign/internal/signing"
)

// slot identifies one sequence of one account.
type slot struct {
	account  account.ID
	sequence uint64
}

// Handler answers sign requests on behalf of one signer.
// It checks every request against its own view of the ledger before signing.
type Handler struct {
	key      signing.Key               // key produces the partial signatures
	identity account.ID                // identity is the member the key controls
	ledger   ledger.Client             // ledger is the signer's independent view of signer sets and sequences
	policy   policy.Policy             // policy vets payloads
	tracker  *envelope.SequenceTracker // tracker holds consumed sequences per account

	mu     sync.Mutex
	signed map[slot][32]byte // signed is the fingerprint endorsed per pending sequence
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithPolicy sets the signing policy. The default approves everything.
func WithPolicy(p policy.Policy) HandlerOption {
	return func(h *Handler) { h.policy = p }
}

// NewHandler creates a signer Handler.
func NewHandler(key signing.Key, client ledger.Client, opts ...HandlerOption) *Handler {
	h := &Handler{
		key:      key,
		identity: signing.AccountOf(key),
		ledger:   client,
		policy:   policy.AllowAll,
		tracker:  envelope.NewSequenceTracker(),
		signed:   make(map[slot][32]byte),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Identity returns the signer's account.
func (h *Handler) Identity() account.ID {
	return h.identity
}

// Register installs the handler on a node.
func (h *Handler) Register(node *network.Node) {
	node.OnRequest(h.HandleRequest)
	node.OnNotice(h.HandleNotice)
}

// HandleRequest processes a sign request and returns the response.
// Designed to be used as network.Node.OnRequest handler.
func (h *Handler) HandleRequest(ctx context.Context, peer *network.Peer, data []byte) ([]byte, error) {
	req, err := DecodeSignRequest(data)
	if err != nil {
		return nil, fmt.Errorf("decode request:\n%w", err)
	}

	p, err := h.Sign(ctx, req)
	if err != nil {
		var d *Decline
		if errors.As(err, &d) {
			logger.Info("declined sign request",
				"peer", peer.Identity(),
				"account", req.Envelope.Account(),
				"sequence", req.Envelope.Sequence(),
				"reason", reasonName(d.Reason),
			)

			return encodeDecline(d.Reason, d.Message), nil
		}

		return nil, err
	}

	return encodeSignature(p), nil
}

// HandleNotice processes settled notices.
// Designed to be used as network.Node.OnNotice handler.
func (h *Handler) HandleNotice(peer *network.Peer, data []byte) {
	acct, seq, err := DecodeSettled(data)
	if err != nil {
		logger.Debug("bad notice", "peer", peer.Identity(), "error", err)
		return
	}

	h.Settled(acct, seq)
}

// Settled records that every sequence up to seq is consumed for acct.
func (h *Handler) Settled(acct account.ID, seq uint64) {
	h.tracker.Observe(acct, seq)
	h.prune(acct)
}

// Sign runs the signer checks and endorses the envelope. Refusals are *Decline errors.
func (h *Handler) Sign(ctx context.Context, req *SignRequest) (*signing.PartialSignature, error) {
	env := req.Envelope
	acct := env.Account()

	set, err := h.ledger.SignerList(ctx, acct)
	if err != nil {
		return nil, &Decline{Reason: ReasonUnavailable, Message: err.Error()}
	}

	if set.Version() != req.Version {
		return nil, &Decline{
			Reason:  ReasonStaleVersion,
			Message: fmt.Sprintf("signer set version %d, request has %d", set.Version(), req.Version),
		}
	}

	if !set.Contains(h.identity) {
		return nil, &Decline{Reason: ReasonNotMember, Message: h.identity.String()}
	}

	if next, err := h.ledger.Sequence(ctx, acct); err == nil {
		h.tracker.ObserveNext(acct, next)
		h.prune(acct)
	} else {
		logger.Debug("sequence lookup failed", "account", acct, "error", err)
	}

	if last := h.tracker.Last(acct); env.Sequence() <= last {
		return nil, &Decline{
			Reason:  ReasonStaleSequence,
			Message: fmt.Sprintf("sequence %d already consumed (last %d)", env.Sequence(), last),
		}
	}

	if err := h.policy.Approve(ctx, env); err != nil {
		return nil, &Decline{Reason: ReasonPolicy, Message: err.Error()}
	}

	if err := h.reserve(env); err != nil {
		return nil, err
	}

	p, err := signing.Sign(env, h.key, h.identity, set)
	if err != nil {
		return nil, fmt.Errorf("sign:\n%w", err)
	}

	logger.Debug("signed",
		"account", acct,
		"sequence", env.Sequence(),
		"version", set.Version(),
	)

	return p, nil
}

// reserve binds the envelope's sequence to its fingerprint. Signing the same envelope
// again is allowed, a different one at the same sequence is not.
func (h *Handler) reserve(env *envelope.Envelope) error {
	key := slot{account: env.Account(), sequence: env.Sequence()}
	fp := env.Fingerprint()

	h.mu.Lock()
	defer h.mu.Unlock()

	if prev, ok := h.signed[key]; ok && prev != fp {
		return &Decline{
			Reason:  ReasonEquivocation,
			Message: fmt.Sprintf("already signed %x at sequence %d", prev[:6], env.Sequence()),
		}
	}

	h.signed[key] = fp

	return nil
}

// prune drops reservations for consumed sequences.
func (h *Handler) prune(acct account.ID) {
	last := h.tracker.Last(acct)

	h.mu.Lock()
	defer h.mu.Unlock()

	for key := range h.signed {
		if key.account == acct && key.sequence <= last {
			delete(h.signed, key)
		}
	}
}

package combiner

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"Cosign/internal/account"
	"Cosign/internal/envelope"
	"Cosign/internal/signerset"
	"Cosign/internal/signing"
)

var (
	// ErrFingerprintMismatch is returned for partials that sign another envelope.
	ErrFingerprintMismatch = errors.New("fingerprint mismatch")

	// ErrInvalidSignature is returned when a partial does not verify.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrSignerSetChanged is returned once the signer set the collection started from
	// has been replaced. The combiner must be discarded.
	ErrSignerSetChanged = errors.New("signer set changed")

	// ErrQuorumNotReached is returned by Combine before enough weight was accepted.
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrCombinerClosed is returned for partials arriving after Combine took its snapshot.
	ErrCombinerClosed = errors.New("combiner closed")

	// ErrInvalidTransition is returned for lifecycle calls out of order.
	ErrInvalidTransition = errors.New("invalid state transition")

	// ErrDuplicateSigner is returned when a signer contributes twice.
	ErrDuplicateSigner = signerset.ErrDuplicateSigner
)

// State is the lifecycle position of a combiner.
type State int

const (
	Empty State = iota
	Collecting
	QuorumReached
	Combined
	Submitted
	Settled
	Rejected
	Discarded
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Collecting:
		return "collecting"
	case QuorumReached:
		return "quorum-reached"
	case Combined:
		return "combined"
	case Submitted:
		return "submitted"
	case Settled:
		return "settled"
	case Rejected:
		return "rejected"
	case Discarded:
		return "discarded"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// AcceptResult reports the effect of one accepted partial.
type AcceptResult struct {
	Weight        uint64 // Weight is the accepted total after this partial
	ReachedQuorum bool   // ReachedQuorum is true only for the partial that crossed the quorum
	State         State  // State is the state after acceptance
}

// Combiner accumulates partial signatures for one envelope under one signer set.
// It is safe for concurrent use.
type Combiner struct {
	env  *envelope.Envelope   // env is the envelope being authorized
	set  *signerset.SignerSet // set is the signer set collection started from
	keys KeyResolver          // keys resolves verification keys for partials

	mu       sync.Mutex
	state    State
	partials map[account.ID]*signing.PartialSignature
	weight   uint64
	tx       *Transaction // tx is the snapshot taken by Combine
	reason   string       // reason is the ledger rejection reason

	quorumCh chan struct{} // quorumCh is closed on the transition to QuorumReached
	doneCh   chan struct{} // doneCh is closed once no further partial can be accepted
}

// Option configures a Combiner.
type Option func(*Combiner)

// WithKeyResolver overrides how verification keys are found.
func WithKeyResolver(r KeyResolver) Option {
	return func(c *Combiner) { c.keys = r }
}

// New creates a combiner for env under set.
func New(env *envelope.Envelope, set *signerset.SignerSet, opts ...Option) *Combiner {
	c := &Combiner{
		env:      env,
		set:      set,
		keys:     DerivedKeys{},
		partials: make(map[account.ID]*signing.PartialSignature),
		quorumCh: make(chan struct{}),
		doneCh:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Accept validates a partial signature and adds its signer's weight.
// Validation errors leave the combiner unchanged.
func (c *Combiner) Accept(p *signing.PartialSignature) (AcceptResult, error) {
	if p == nil {
		return AcceptResult{}, fmt.Errorf("%w: nil partial", ErrInvalidSignature)
	}

	if p.Fingerprint != c.env.Fingerprint() {
		return AcceptResult{}, fmt.Errorf("%w: partial from %s", ErrFingerprintMismatch, p.Signer)
	}

	if err := c.precheck(p.Signer); err != nil {
		return AcceptResult{}, err
	}

	weight, ok := c.set.Weight(p.Signer)
	if !ok {
		return AcceptResult{}, fmt.Errorf("%w: %s", signing.ErrUnauthorizedSigner, p.Signer)
	}

	pub, err := c.keys.PublicKey(p)
	if err != nil {
		return AcceptResult{}, fmt.Errorf("%w: %s:\n%w", ErrInvalidSignature, p.Signer, err)
	}

	if !signing.Verify(p, c.env, pub) {
		return AcceptResult{}, fmt.Errorf("%w: %s", ErrInvalidSignature, p.Signer)
	}

	return c.record(p, weight)
}

// precheck rejects partials the current state would refuse, before verifying signatures.
func (c *Combiner) precheck(signer account.ID) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.acceptingLocked(); err != nil {
		return err
	}

	if _, dup := c.partials[signer]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateSigner, signer)
	}

	return nil
}

// record is the compare-and-set that adds a verified partial.
func (c *Combiner) record(p *signing.PartialSignature, weight uint32) (AcceptResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// State may have moved while the signature was being verified.
	if err := c.acceptingLocked(); err != nil {
		return AcceptResult{}, err
	}

	if _, dup := c.partials[p.Signer]; dup {
		return AcceptResult{}, fmt.Errorf("%w: %s", ErrDuplicateSigner, p.Signer)
	}

	c.partials[p.Signer] = p
	c.weight += uint64(weight)

	res := AcceptResult{Weight: c.weight}

	if c.state == Empty {
		c.state = Collecting
	}

	if c.state == Collecting && c.weight >= uint64(c.set.Quorum()) {
		c.state = QuorumReached
		close(c.quorumCh)
		res.ReachedQuorum = true
	}

	res.State = c.state

	return res, nil
}

// acceptingLocked returns the error for states that no longer take partials.
func (c *Combiner) acceptingLocked() error {
	switch c.state {
	case Empty, Collecting, QuorumReached:
		return nil
	case Discarded:
		return ErrSignerSetChanged
	default:
		return fmt.Errorf("%w: state %s", ErrCombinerClosed, c.state)
	}
}

// Combine snapshots the accepted partials, sorted by signer identity, into a transaction.
// It is valid from QuorumReached; later calls return the same transaction.
func (c *Combiner) Combine() (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Discarded:
		return nil, ErrSignerSetChanged
	case Combined, Submitted, Settled, Rejected:
		return c.tx, nil
	case QuorumReached:
	default:
		return nil, fmt.Errorf("%w: weight %d of %d", ErrQuorumNotReached, c.weight, c.set.Quorum())
	}

	partials := make([]*signing.PartialSignature, 0, len(c.partials))
	for _, p := range c.partials {
		partials = append(partials, p)
	}

	c.tx = newTransaction(c.env, c.set.Version(), sortPartials(partials), c.weight)
	c.state = Combined
	close(c.doneCh)

	return c.tx, nil
}

// Invalidate discards the combiner when current differs from the set collection started
// from and no transaction was combined yet. It reports whether the combiner was discarded.
func (c *Combiner) Invalidate(current *signerset.SignerSet) bool {
	if c.set.Equal(current) {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Empty, Collecting, QuorumReached:
		c.discardLocked()
		return true
	default:
		return c.state == Discarded
	}
}

// CheckSignerSet returns ErrSignerSetChanged, discarding the combiner, when current differs.
// A nil current counts as a change to version 0.
func (c *Combiner) CheckSignerSet(current *signerset.SignerSet) error {
	if c.Invalidate(current) {
		var version uint64
		if current != nil {
			version = current.Version()
		}

		return fmt.Errorf("%w: collected under version %d, ledger has %d",
			ErrSignerSetChanged, c.set.Version(), version)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == Discarded {
		return ErrSignerSetChanged
	}

	return nil
}

// Discard abandons the collection.
func (c *Combiner) Discard() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state < Combined {
		c.discardLocked()
	}
}

func (c *Combiner) discardLocked() {
	c.state = Discarded
	close(c.doneCh)
}

// MarkSubmitted records that the combined transaction was handed to the ledger.
// Resubmission keeps the combiner in Submitted.
func (c *Combiner) MarkSubmitted() error {
	return c.transition(Submitted, Combined, Submitted)
}

// MarkSettled records ledger confirmation.
func (c *Combiner) MarkSettled() error {
	return c.transition(Settled, Submitted, Settled)
}

// MarkRejected records a ledger-level refusal.
func (c *Combiner) MarkRejected(reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Submitted && c.state != Rejected {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, Rejected)
	}

	c.state = Rejected
	c.reason = reason

	return nil
}

// transition moves to next when the current state is one of from.
func (c *Combiner) transition(next State, from ...State) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !slices.Contains(from, c.state) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, c.state, next)
	}

	c.state = next

	return nil
}

// State returns the current state.
func (c *Combiner) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.state
}

// Weight returns the accepted weight.
func (c *Combiner) Weight() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.weight
}

// RejectReason returns the ledger's reason once Rejected.
func (c *Combiner) RejectReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.reason
}

// Signers returns the accepted identities sorted ascending.
func (c *Combiner) Signers() []account.ID {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := make([]account.ID, 0, len(c.partials))
	for id := range c.partials {
		ids = append(ids, id)
	}

	slices.SortFunc(ids, account.ID.Compare)

	return ids
}

// Contributed reports whether signer already has an accepted partial.
func (c *Combiner) Contributed(signer account.ID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.partials[signer]
	return ok
}

// Envelope returns the envelope being authorized.
func (c *Combiner) Envelope() *envelope.Envelope { return c.env }

// SignerSet returns the set collection started from.
func (c *Combiner) SignerSet() *signerset.SignerSet { return c.set }

// QuorumReached is closed when accepted weight first reaches the quorum.
func (c *Combiner) QuorumReached() <-chan struct{} { return c.quorumCh }

// Done is closed once the combiner stops accepting partials (combined or discarded).
func (c *Combiner) Done() <-chan struct{} { return c.doneCh }

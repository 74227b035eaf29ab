// Package workflow drives a multisig transaction from envelope creation to ledger settlement.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"Cosign/internal/account"
	"Cosign/internal/combiner"
	"Cosign/internal/envelope"
	"Cosign/internal/ledger"
	"Cosign/internal/logger"
	"Cosign/internal/signerset"
)

// ErrNotCombined is returned when resubmitting an attempt that has no combined transaction.
var ErrNotCombined = errors.New("attempt has no combined transaction")

// Collector gathers partial signatures for a combiner until quorum is reached,
// the combiner closes or no signer is left to ask.
type Collector interface {
	Collect(ctx context.Context, c *combiner.Combiner) error
}

// settler is implemented by collectors that forward consumed sequences to signers.
type settler interface {
	Settled(acct account.ID, seq uint64)
}

// Config holds timeouts and the submission retry policy.
type Config struct {
	Timeout        time.Duration                   // Timeout bounds each ledger call
	CollectTimeout time.Duration                   // CollectTimeout bounds signature collection
	MaxAttempts    int                             // MaxAttempts caps submissions of one transaction
	Backoff        func(attempt int) time.Duration // Backoff is the wait after failed attempt n (1-based)
}

// DefaultConfig returns the default timeouts and retry policy.
func DefaultConfig() Config {
	return Config{
		Timeout:        10 * time.Second,
		CollectTimeout: time.Minute,
		MaxAttempts:    5,
		Backoff:        ExponentialBackoff(200*time.Millisecond, 5*time.Second),
	}
}

// ExponentialBackoff doubles base after each attempt, capped at max.
func ExponentialBackoff(base, max time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration {
		d := base
		for i := 1; i < attempt && d < max; i++ {
			d *= 2
		}

		return min(d, max)
	}
}

// Workflow coordinates attempts against one ledger and one collector.
type Workflow struct {
	ledger    ledger.Client
	collector Collector
	cfg       Config
	keys      combiner.KeyResolver
	journal   *Journal                  // journal is optional
	tracker   *envelope.SequenceTracker // tracker holds sequences this workflow saw consumed

	mu   sync.Mutex
	live map[account.ID]map[*Attempt]struct{} // live holds attempts not yet finished
}

// Option configures a Workflow.
type Option func(*Workflow)

// WithConfig replaces the default config. Zero fields keep their defaults.
func WithConfig(cfg Config) Option {
	return func(w *Workflow) {
		if cfg.Timeout > 0 {
			w.cfg.Timeout = cfg.Timeout
		}
		if cfg.CollectTimeout > 0 {
			w.cfg.CollectTimeout = cfg.CollectTimeout
		}
		if cfg.MaxAttempts > 0 {
			w.cfg.MaxAttempts = cfg.MaxAttempts
		}
		if cfg.Backoff != nil {
			w.cfg.Backoff = cfg.Backoff
		}
	}
}

// WithJournal persists combined transactions.
func WithJournal(j *Journal) Option {
	return func(w *Workflow) { w.journal = j }
}

// WithKeyResolver sets how public keys of partials are checked.
func WithKeyResolver(r combiner.KeyResolver) Option {
	return func(w *Workflow) { w.keys = r }
}

// WatchRegistry invalidates live attempts as soon as reg replaces their account's signer set.
func WatchRegistry(reg *signerset.Registry) Option {
	return func(w *Workflow) { reg.OnReplace(w.signerSetReplaced) }
}

// New creates a workflow.
func New(client ledger.Client, collector Collector, opts ...Option) *Workflow {
	w := &Workflow{
		ledger:    client,
		collector: collector,
		cfg:       DefaultConfig(),
		keys:      combiner.DerivedKeys{},
		tracker:   envelope.NewSequenceTracker(),
		live:      make(map[account.ID]map[*Attempt]struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Request describes a transaction to authorize.
type Request struct {
	Account         account.ID    // Account is the multisig account
	Payload         []byte        // Payload is the transaction body
	Kind            envelope.Kind // Kind selects how the ledger interprets Payload
	Sequence        uint64        // Sequence overrides the ledger's next sequence when non-zero
	RequiredSigners uint32        // RequiredSigners is an optional hint
}

// Authorize runs a request end to end. The attempt is returned whenever it was created,
// so a transient failure can be followed by Resubmit.
func (w *Workflow) Authorize(ctx context.Context, req Request) (*Attempt, ledger.SubmitResult, error) {
	a, err := w.Begin(ctx, req)
	if err != nil {
		return nil, ledger.SubmitResult{}, err
	}

	if err := w.Collect(ctx, a); err != nil {
		return a, ledger.SubmitResult{}, err
	}

	result, err := w.Finalize(ctx, a)

	return a, result, err
}

// ReplaceSigners authorizes a signer-list change under the account's current signer set.
// The proposed set takes effect, with the next version, once the ledger settles it.
func (w *Workflow) ReplaceSigners(ctx context.Context, acct account.ID, proposed *signerset.SignerSet, withCommitment bool) (*Attempt, ledger.SubmitResult, error) {
	change := signerset.NewChangeRequest(proposed, withCommitment)

	if _, err := change.Validate(); err != nil {
		return nil, ledger.SubmitResult{}, fmt.Errorf("invalid signer list:\n%w", err)
	}

	return w.Authorize(ctx, Request{
		Account: acct,
		Payload: change.Encode(),
		Kind:    envelope.KindSignerListSet,
	})
}

// Begin fetches the account state and creates the attempt's envelope and combiner.
func (w *Workflow) Begin(ctx context.Context, req Request) (*Attempt, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	defer cancel()

	next, err := w.ledger.Sequence(callCtx, req.Account)
	if err != nil {
		return nil, fmt.Errorf("fetch sequence:\n%w", err)
	}

	set, err := w.ledger.SignerList(callCtx, req.Account)
	if err != nil {
		return nil, fmt.Errorf("fetch signer list:\n%w", err)
	}

	w.tracker.ObserveNext(req.Account, next)

	seq := next
	if req.Sequence != 0 {
		seq = req.Sequence
	}

	opts := []envelope.Option{envelope.WithKind(req.Kind)}
	if req.RequiredSigners > 0 {
		opts = append(opts, envelope.WithRequiredSigners(req.RequiredSigners))
	}

	env, err := w.tracker.Create(req.Account, req.Payload, seq, opts...)
	if err != nil {
		if errors.Is(err, envelope.ErrStaleSequence) {
			return nil, fmt.Errorf("%w: %w", ledger.ErrPermanentSubmission, err)
		}

		return nil, fmt.Errorf("create envelope:\n%w", err)
	}

	a := &Attempt{
		env:  env,
		set:  set,
		comb: combiner.New(env, set, combiner.WithKeyResolver(w.keys)),
	}

	w.track(a)

	logger.Info("attempt started",
		"account", req.Account,
		"sequence", seq,
		"kind", env.Kind(),
		"version", set.Version(),
		"quorum", set.Quorum(),
	)

	return a, nil
}

// Collect gathers partial signatures until the attempt reaches quorum.
func (w *Workflow) Collect(ctx context.Context, a *Attempt) error {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, w.cfg.CollectTimeout)
	defer cancel()

	if err := w.collector.Collect(ctx, a.comb); err != nil {
		// A failed collection ends the attempt; callers start a new one.
		w.untrack(a)
		a.comb.Discard()

		if errors.Is(err, combiner.ErrSignerSetChanged) {
			return fmt.Errorf("%w: %w", ledger.ErrPermanentSubmission, err)
		}

		return fmt.Errorf("collect signatures:\n%w", err)
	}

	logger.Info("quorum reached",
		"account", a.env.Account(),
		"sequence", a.env.Sequence(),
		"weight", a.comb.Weight(),
		"signers", len(a.comb.Signers()),
		logger.Timed(start),
	)

	return nil
}

// Finalize checks the signer set is unchanged on the ledger, combines and submits.
func (w *Workflow) Finalize(ctx context.Context, a *Attempt) (ledger.SubmitResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
	current, err := w.ledger.SignerList(callCtx, a.env.Account())
	cancel()

	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("refetch signer list:\n%w", err)
	}

	if err := a.comb.CheckSignerSet(current); err != nil {
		w.untrack(a)
		logger.Warn("signer set changed during collection",
			"account", a.env.Account(),
			"collected", a.set.Version(),
			"current", current.Version(),
		)

		return ledger.SubmitResult{}, fmt.Errorf("%w: %w", ledger.ErrPermanentSubmission, err)
	}

	tx, err := a.comb.Combine()
	if err != nil {
		return ledger.SubmitResult{}, fmt.Errorf("combine:\n%w", err)
	}

	a.setTransaction(tx)

	if w.journal != nil {
		if err := w.journal.Record(tx); err != nil {
			return ledger.SubmitResult{}, err
		}
	}

	if err := a.comb.MarkSubmitted(); err != nil {
		return ledger.SubmitResult{}, err
	}

	return w.submit(ctx, a)
}

// Resubmit sends a previously combined transaction again, byte for byte.
func (w *Workflow) Resubmit(ctx context.Context, a *Attempt) (ledger.SubmitResult, error) {
	if a.Transaction() == nil {
		return ledger.SubmitResult{}, ErrNotCombined
	}

	if s := a.comb.State(); s == combiner.Combined {
		if err := a.comb.MarkSubmitted(); err != nil {
			return ledger.SubmitResult{}, err
		}
	}

	return w.submit(ctx, a)
}

// Recover resubmits every journaled transaction that never settled.
func (w *Workflow) Recover(ctx context.Context) ([]ledger.SubmitResult, error) {
	if w.journal == nil {
		return nil, nil
	}

	pending, err := w.journal.Pending()
	if err != nil {
		return nil, fmt.Errorf("read journal:\n%w", err)
	}

	var (
		results []ledger.SubmitResult
		errs    []error
	)

	for _, tx := range pending {
		result, err := w.send(ctx, tx)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		results = append(results, result)
		w.record(tx, result)
	}

	logger.Info("journal recovered", "pending", len(pending), "resubmitted", len(results))

	return results, errors.Join(errs...)
}

// submit sends the attempt's transaction and applies the outcome.
func (w *Workflow) submit(ctx context.Context, a *Attempt) (ledger.SubmitResult, error) {
	tx := a.Transaction()

	result, err := w.send(ctx, tx)
	if err != nil {
		if !ledger.IsTransient(err) {
			a.comb.MarkRejected(err.Error())
			w.untrack(a)

			if w.journal != nil {
				w.journal.MarkRejected(tx)
			}
		}

		return result, err
	}

	a.setResult(result)
	w.untrack(a)
	w.record(tx, result)

	if !result.Accepted() {
		a.comb.MarkRejected(result.Reason)
		return result, fmt.Errorf("%w: %w", ledger.ErrPermanentSubmission, result.Err())
	}

	if err := a.comb.MarkSettled(); err != nil {
		logger.Debug("settle after rejection", "tx", result.TxIDHex(), "error", err)
	}

	return result, nil
}

// record journals the outcome and tells signers the sequence is consumed.
func (w *Workflow) record(tx *combiner.Transaction, result ledger.SubmitResult) {
	env := tx.Envelope()

	if result.Accepted() {
		w.tracker.Observe(env.Account(), env.Sequence())

		if s, ok := w.collector.(settler); ok {
			s.Settled(env.Account(), env.Sequence())
		}

		logger.Info("transaction settled",
			"account", env.Account(),
			"sequence", env.Sequence(),
			"tx", result.TxIDHex(),
		)
	} else {
		logger.Warn("transaction rejected",
			"account", env.Account(),
			"sequence", env.Sequence(),
			"code", result.Code,
			"reason", result.Reason,
		)
	}

	if w.journal == nil {
		return
	}

	var err error
	if result.Accepted() {
		err = w.journal.MarkSettled(tx)
	} else {
		err = w.journal.MarkRejected(tx)
	}

	if err != nil {
		logger.Warn("journal update failed", "tx", result.TxIDHex(), "error", err)
	}
}

// send submits identical bytes, retrying transient failures with backoff.
func (w *Workflow) send(ctx context.Context, tx *combiner.Transaction) (ledger.SubmitResult, error) {
	data := tx.Bytes()

	for attempt := 1; ; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, w.cfg.Timeout)
		result, err := w.ledger.Submit(callCtx, data)
		cancel()

		if err == nil {
			return result, nil
		}

		if !ledger.IsTransient(err) {
			return result, fmt.Errorf("submit:\n%w", err)
		}

		if attempt >= w.cfg.MaxAttempts {
			return result, fmt.Errorf("submit failed after %d attempts:\n%w", attempt, err)
		}

		wait := w.cfg.Backoff(attempt)

		logger.Warn("transient submission failure",
			"attempt", attempt,
			"retry_in", wait,
			"error", err,
		)

		select {
		case <-ctx.Done():
			return result, ledger.Transient(ctx.Err())
		case <-time.After(wait):
		}
	}
}

func (w *Workflow) track(a *Attempt) {
	w.mu.Lock()
	defer w.mu.Unlock()

	acct := a.env.Account()
	if w.live[acct] == nil {
		w.live[acct] = make(map[*Attempt]struct{})
	}

	w.live[acct][a] = struct{}{}
}

func (w *Workflow) untrack(a *Attempt) {
	w.mu.Lock()
	defer w.mu.Unlock()

	acct := a.env.Account()
	delete(w.live[acct], a)

	if len(w.live[acct]) == 0 {
		delete(w.live, acct)
	}
}

// signerSetReplaced discards live attempts collected under an older set.
func (w *Workflow) signerSetReplaced(acct account.ID, _, current *signerset.SignerSet) {
	w.mu.Lock()
	attempts := make([]*Attempt, 0, len(w.live[acct]))
	for a := range w.live[acct] {
		attempts = append(attempts, a)
	}
	w.mu.Unlock()

	for _, a := range attempts {
		if a.comb.Invalidate(current) {
			w.untrack(a)
			logger.Info("attempt invalidated",
				"account", acct,
				"sequence", a.env.Sequence(),
				"version", current.Version(),
			)
		}
	}
}

// Attempt is one envelope collected under one signer set.
type Attempt struct {
	env  *envelope.Envelope
	set  *signerset.SignerSet
	comb *combiner.Combiner

	mu     sync.Mutex
	tx     *combiner.Transaction
	result ledger.SubmitResult
}

// Envelope returns the transaction being authorized.
func (a *Attempt) Envelope() *envelope.Envelope { return a.env }

// SignerSet returns the set collection started from.
func (a *Attempt) SignerSet() *signerset.SignerSet { return a.set }

// Combiner returns the attempt's combiner.
func (a *Attempt) Combiner() *combiner.Combiner { return a.comb }

// State returns the combiner state.
func (a *Attempt) State() combiner.State { return a.comb.State() }

// Transaction returns the combined transaction, nil before Finalize.
func (a *Attempt) Transaction() *combiner.Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.tx
}

// Result returns the last ledger answer.
func (a *Attempt) Result() ledger.SubmitResult {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.result
}

func (a *Attempt) setTransaction(tx *combiner.Transaction) {
	a.mu.Lock()
	a.tx = tx
	a.mu.Unlock()
}

func (a *Attempt) setResult(r ledger.SubmitResult) {
	a.mu.Lock()
	a.result = r
	a.mu.Unlock()
}

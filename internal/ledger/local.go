package ledger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"Cosign/internal/account"
	"Cosign/internal/combiner"
	"Cosign/internal/envelope"
	"Cosign/internal/logger"
	"Cosign/internal/signerset"
	"Cosign/internal/storage"
)

// Key prefixes in the store.
var (
	prefixSeq = []byte("seq:") // seq:<account> -> next sequence (uint64 BE)
	prefixSet = []byte("set:") // set:<account> -> active SignerList table
	prefixTx  = []byte("tx:")  // tx:<id> -> account || sequence of the settled transaction
)

// Local is an in-process ledger over a Pebble store. It checks sequences, quorum,
// signatures and idempotence, and applies signer-list replacements. Payload
// execution is outside its scope.
type Local struct {
	store    *storage.Store
	registry *signerset.Registry
	keys     combiner.KeyResolver

	mu sync.Mutex // mu serializes submissions and account creation
}

// LocalOption configures a Local ledger.
type LocalOption func(*Local)

// WithKeys sets how partial signature keys are resolved.
func WithKeys(r combiner.KeyResolver) LocalOption {
	return func(l *Local) { l.keys = r }
}

// WithRegistry shares an existing registry, so replacements reach its listeners.
func WithRegistry(r *signerset.Registry) LocalOption {
	return func(l *Local) { l.registry = r }
}

// NewLocal opens a ledger over store and loads persisted signer sets into its registry.
func NewLocal(store *storage.Store, opts ...LocalOption) (*Local, error) {
	l := &Local{
		store:    store,
		registry: signerset.NewRegistry(),
		keys:     combiner.DerivedKeys{},
	}

	for _, opt := range opts {
		opt(l)
	}

	count := 0

	err := store.IteratePrefix(prefixSet, func(key, value []byte) error {
		acct, err := account.FromBytes(key[len(prefixSet):])
		if err != nil {
			return fmt.Errorf("signer set key %x:\n%w", key, err)
		}

		set, err := signerset.DecodeActive(value)
		if err != nil {
			return fmt.Errorf("signer set of %s:\n%w", acct, err)
		}

		l.registry.Restore(acct, set)
		count++

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load signer sets:\n%w", err)
	}

	logger.Debug("ledger loaded", "accounts", count)

	return l, nil
}

// Registry returns the registry holding the active signer sets.
func (l *Local) Registry() *signerset.Registry {
	return l.registry
}

// CreateAccount registers acct with its first signer set; its next sequence is 1.
func (l *Local) CreateAccount(acct account.ID, set *signerset.SignerSet) (*signerset.SignerSet, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.registry.Get(acct); ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountExists, acct)
	}

	active := set.WithVersion(1)

	batch := l.store.NewBatch()
	batch.Set(key(prefixSeq, acct.Bytes()), encodeUint64(1))
	batch.Set(key(prefixSet, acct.Bytes()), signerset.EncodeActive(active))

	if err := batch.Commit(true); err != nil {
		return nil, fmt.Errorf("persist account %s:\n%w", acct, err)
	}

	active = l.registry.Replace(acct, set)

	logger.Info("account created",
		"account", acct,
		"signers", active.Len(),
		"quorum", active.Quorum(),
	)

	return active, nil
}

// Sequence implements Client.
func (l *Local) Sequence(_ context.Context, acct account.ID) (uint64, error) {
	data, err := l.store.Get(key(prefixSeq, acct.Bytes()))
	if err != nil {
		return 0, Transient(err)
	}

	if data == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownAccount, acct)
	}

	return binary.BigEndian.Uint64(data), nil
}

// SignerList implements Client.
func (l *Local) SignerList(_ context.Context, acct account.ID) (*signerset.SignerSet, error) {
	set, ok := l.registry.Get(acct)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, acct)
	}

	return set, nil
}

// Submit implements Client. Resubmitting a settled transaction is accepted without effect.
func (l *Local) Submit(_ context.Context, signed []byte) (SubmitResult, error) {
	tx, err := combiner.Decode(signed)
	if err != nil {
		return reject([32]byte{}, CodeMalformed, err.Error()), nil
	}

	id := tx.ID()

	l.mu.Lock()
	defer l.mu.Unlock()

	settled, err := l.store.Has(key(prefixTx, id[:]))
	if err != nil {
		return SubmitResult{}, Transient(err)
	}

	if settled {
		logger.Debug("duplicate submission", "tx", shortID(id))
		return SubmitResult{Status: StatusAccepted, TxID: id}, nil
	}

	env := tx.Envelope()
	acct := env.Account()

	set, ok := l.registry.Get(acct)
	if !ok {
		return reject(id, CodeUnknownAccount, acct.String()), nil
	}

	next, err := l.Sequence(context.Background(), acct)
	if err != nil {
		return SubmitResult{}, err
	}

	switch {
	case env.Sequence() < next:
		return reject(id, CodeStaleSequence, fmt.Sprintf("sequence %d already used, next is %d", env.Sequence(), next)), nil
	case env.Sequence() > next:
		return reject(id, CodeSequenceGap, fmt.Sprintf("sequence %d skips ahead of %d", env.Sequence(), next)), nil
	}

	if _, err := tx.Verify(set, l.keys); err != nil {
		return reject(id, codeOf(err), err.Error()), nil
	}

	var replacement *signerset.SignerSet

	if env.Kind() == envelope.KindSignerListSet {
		req, err := signerset.DecodeChangeRequest(env.Payload())
		if err != nil {
			return reject(id, CodeInvalidSignerList, err.Error()), nil
		}

		if replacement, err = req.Validate(); err != nil {
			return reject(id, CodeInvalidSignerList, err.Error()), nil
		}
	}

	if err := l.settle(acct, id, env.Sequence(), set, replacement); err != nil {
		return SubmitResult{}, Transient(err)
	}

	logger.Info("transaction settled",
		"tx", shortID(id),
		"account", acct,
		"sequence", env.Sequence(),
		"kind", env.Kind(),
		"signers", len(tx.Partials()),
	)

	return SubmitResult{Status: StatusAccepted, TxID: id}, nil
}

// settle persists the sequence bump, the tx record and any signer-list replacement
// in one batch, then activates the replacement.
func (l *Local) settle(acct account.ID, id [32]byte, seq uint64, current, replacement *signerset.SignerSet) error {
	batch := l.store.NewBatch()
	batch.Set(key(prefixSeq, acct.Bytes()), encodeUint64(seq+1))
	batch.Set(key(prefixTx, id[:]), append(acct.Bytes(), encodeUint64(seq)...))

	if replacement != nil {
		next := replacement.WithVersion(current.Version() + 1)
		batch.Set(key(prefixSet, acct.Bytes()), signerset.EncodeActive(next))
	}

	if err := batch.Commit(true); err != nil {
		return fmt.Errorf("commit settlement:\n%w", err)
	}

	if replacement != nil {
		active := l.registry.Replace(acct, replacement)

		logger.Info("signer list replaced",
			"account", acct,
			"version", active.Version(),
			"signers", active.Len(),
			"quorum", active.Quorum(),
		)
	}

	return nil
}

// Settled reports whether a transaction ID was settled.
func (l *Local) Settled(id [32]byte) (bool, error) {
	return l.store.Has(key(prefixTx, id[:]))
}

func reject(id [32]byte, code Code, reason string) SubmitResult {
	logger.Warn("transaction rejected", "tx", shortID(id), "code", code, "reason", reason)

	return SubmitResult{Status: StatusRejected, TxID: id, Code: code, Reason: reason}
}

func key(prefix, suffix []byte) []byte {
	k := make([]byte, 0, len(prefix)+len(suffix))
	k = append(k, prefix...)
	return append(k, suffix...)
}

func encodeUint64(v uint64) []byte {
	return binary.BigEndian.AppendUint64(nil, v)
}

func shortID(id [32]byte) string {
	return fmt.Sprintf("%x", id[:6])
}

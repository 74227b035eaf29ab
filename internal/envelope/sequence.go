package envelope

import (
	"sync"

	"Cosign/internal/account"
)

// SequenceTracker remembers the highest consumed sequence per account.
// It is safe for concurrent access.
type SequenceTracker struct {
	mu   sync.Mutex
	last map[account.ID]uint64
}

// NewSequenceTracker creates an empty tracker.
func NewSequenceTracker() *SequenceTracker {
	return &SequenceTracker{last: make(map[account.ID]uint64)}
}

// Observe records that every sequence up to seq is consumed. Lower values are ignored.
func (t *SequenceTracker) Observe(acct account.ID, seq uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if seq > t.last[acct] {
		t.last[acct] = seq
	}
}

// ObserveNext records a ledger-reported next sequence: everything below it is consumed.
func (t *SequenceTracker) ObserveNext(acct account.ID, next uint64) {
	if next > 0 {
		t.Observe(acct, next-1)
	}
}

// Last returns the highest consumed sequence, 0 if none.
func (t *SequenceTracker) Last(acct account.ID) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.last[acct]
}

// Create builds an envelope checked against the tracked sequence.
func (t *SequenceTracker) Create(acct account.ID, payload []byte, sequence uint64, opts ...Option) (*Envelope, error) {
	return Create(acct, payload, sequence, t.Last(acct), opts...)
}

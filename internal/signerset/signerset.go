package signerset

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/zeebo/blake3"

	"Cosign/internal/account"
)

const (
	// MaxSigners is the largest signer list a ledger account may carry.
	MaxSigners = 32
)

var (
	// ErrInvalidQuorum is returned when quorum is zero or exceeds the total weight.
	ErrInvalidQuorum = errors.New("invalid quorum")

	// ErrDuplicateSigner is returned when an identity appears twice, either in a
	// proposed list or as a second contribution to the same collection.
	ErrDuplicateSigner = errors.New("duplicate signer")

	// ErrZeroWeight is returned when a signer is given no weight.
	ErrZeroWeight = errors.New("zero weight")

	// ErrNoSigners is returned for an empty signer list.
	ErrNoSigners = errors.New("no signers")

	// ErrTooManySigners is returned when the list exceeds MaxSigners.
	ErrTooManySigners = errors.New("too many signers")
)

// Entry is one authorized signer and its voting weight.
type Entry struct {
	Identity account.ID `json:"account"` // Identity is the signer's account
	Weight   uint32     `json:"weight"`  // Weight is added to the total when this signer signs
}

// SignerSet is an immutable list of weighted signers with a quorum threshold.
// Version is assigned when the set becomes active for an account; a proposed set has version 0.
type SignerSet struct {
	signers []Entry               // signers in proposal order
	index   map[account.ID]uint32 // index maps identity to weight
	quorum  uint32                // quorum is the minimum weight that authorizes a transaction
	total   uint64                // total is the sum of all weights
	version uint64                // version increases on every replacement
}

// Propose validates a signer list and quorum and returns a candidate set.
func Propose(signers []Entry, quorum uint32) (*SignerSet, error) {
	if len(signers) == 0 {
		return nil, ErrNoSigners
	}

	if len(signers) > MaxSigners {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooManySigners, len(signers), MaxSigners)
	}

	s := &SignerSet{
		signers: make([]Entry, len(signers)),
		index:   make(map[account.ID]uint32, len(signers)),
		quorum:  quorum,
	}

	for i, e := range signers {
		if e.Weight == 0 {
			return nil, fmt.Errorf("%w: signer %s", ErrZeroWeight, e.Identity)
		}

		if _, dup := s.index[e.Identity]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSigner, e.Identity)
		}

		s.signers[i] = e
		s.index[e.Identity] = e.Weight
		s.total += uint64(e.Weight)
	}

	if quorum == 0 || uint64(quorum) > s.total {
		return nil, fmt.Errorf("%w: %d not in [1, %d]", ErrInvalidQuorum, quorum, s.total)
	}

	return s, nil
}

// TwoThirdsQuorum suggests ceil(2*total/3), computed in integers.
// Callers still pass the result to Propose explicitly. It fails when the
// suggestion does not fit a quorum.
func TwoThirdsQuorum(total uint64) (uint32, error) {
	q := total - total/3
	if q == 0 || q > math.MaxUint32 {
		return 0, fmt.Errorf("%w: two thirds of weight %d", ErrInvalidQuorum, total)
	}

	return uint32(q), nil
}

// WithVersion returns a copy of the set carrying the given version.
func (s *SignerSet) WithVersion(version uint64) *SignerSet {
	c := *s
	c.version = version
	return &c
}

// TotalWeight returns the sum of member weights.
func (s *SignerSet) TotalWeight() uint64 {
	return s.total
}

// Quorum returns the threshold weight.
func (s *SignerSet) Quorum() uint32 {
	return s.quorum
}

// Version returns the activation version, 0 for proposals.
func (s *SignerSet) Version() uint64 {
	return s.version
}

// Len returns the number of signers.
func (s *SignerSet) Len() int {
	return len(s.signers)
}

// Signers returns a copy of the entries in proposal order.
func (s *SignerSet) Signers() []Entry {
	return slices.Clone(s.signers)
}

// Contains reports whether id is a member.
func (s *SignerSet) Contains(id account.ID) bool {
	_, ok := s.index[id]
	return ok
}

// Weight returns the weight of a member.
func (s *SignerSet) Weight(id account.ID) (uint32, bool) {
	w, ok := s.index[id]
	return w, ok
}

// WeightOf sums the weights of the members in subset, counting each identity once.
// Non-members contribute nothing.
func (s *SignerSet) WeightOf(subset []account.ID) uint64 {
	seen := make(map[account.ID]struct{}, len(subset))

	var sum uint64

	for _, id := range subset {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		sum += uint64(s.index[id])
	}

	return sum
}

// IsQuorumMet reports whether the deduplicated member weight of subset reaches quorum.
func (s *SignerSet) IsQuorumMet(subset []account.ID) bool {
	return s.WeightOf(subset) >= uint64(s.quorum)
}

// Digest returns BLAKE3 over the version, quorum and ordered entries.
// Two sets with equal digests authorize exactly the same signatures.
func (s *SignerSet) Digest() [32]byte {
	h := blake3.New()

	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], s.version)
	h.Write(buf[:])

	binary.BigEndian.PutUint32(buf[:4], s.quorum)
	h.Write(buf[:4])

	for _, e := range s.signers {
		h.Write(e.Identity[:])
		binary.BigEndian.PutUint32(buf[:4], e.Weight)
		h.Write(buf[:4])
	}

	var d [32]byte
	h.Sum(d[:0])

	return d
}

// Equal reports whether two sets have the same version, quorum and members.
func (s *SignerSet) Equal(other *SignerSet) bool {
	if s == nil || other == nil {
		return s == other
	}

	return s.Digest() == other.Digest()
}

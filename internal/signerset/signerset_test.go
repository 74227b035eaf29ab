package signerset

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"Cosign/internal/account"
)

// testID returns a deterministic account for a short name.
func testID(name string) account.ID {
	return account.FromPublicKey([]byte(name))
}

// abc returns the A/B/C entries with the given weights.
func abc(wa, wb, wc uint32) []Entry {
	return []Entry{
		{Identity: testID("A"), Weight: wa},
		{Identity: testID("B"), Weight: wb},
		{Identity: testID("C"), Weight: wc},
	}
}

func TestProposeValidation(t *testing.T) {
	many := make([]Entry, MaxSigners+1)
	for i := range many {
		many[i] = Entry{Identity: testID(fmt.Sprint(i)), Weight: 1}
	}

	tests := []struct {
		name    string
		signers []Entry
		quorum  uint32
		wantErr error
	}{
		{"valid 2 of 3", abc(1, 1, 1), 2, nil},
		{"quorum equals total", abc(1, 2, 3), 6, nil},
		{"quorum zero", abc(1, 1, 1), 0, ErrInvalidQuorum},
		{"quorum above total", abc(1, 1, 1), 4, ErrInvalidQuorum},
		{"zero weight", abc(1, 0, 1), 1, ErrZeroWeight},
		{"duplicate", append(abc(1, 1, 1), Entry{Identity: testID("A"), Weight: 1}), 2, ErrDuplicateSigner},
		{"empty", nil, 1, ErrNoSigners},
		{"too many", many, 1, ErrTooManySigners},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set, err := Propose(tt.signers, tt.quorum)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}

				if set.Version() != 0 {
					t.Errorf("proposal version = %d, want 0", set.Version())
				}

				return
			}

			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestTotalWeightNoOverflow(t *testing.T) {
	set, err := Propose([]Entry{
		{Identity: testID("A"), Weight: ^uint32(0)},
		{Identity: testID("B"), Weight: ^uint32(0)},
	}, ^uint32(0))
	if err != nil {
		t.Fatalf("Propose: %v", err)
	}

	if want := 2 * uint64(^uint32(0)); set.TotalWeight() != want {
		t.Errorf("TotalWeight = %d, want %d", set.TotalWeight(), want)
	}
}

func TestIsQuorumMetBoundaries(t *testing.T) {
	a, b, c := testID("A"), testID("B"), testID("C")
	outsider := testID("Z")

	tests := []struct {
		name   string
		quorum uint32
		subset []account.ID
		want   bool
	}{
		{"Q=1 single signer", 1, []account.ID{c}, true},
		{"Q=1 empty subset", 1, nil, false},
		{"Q=W all signers", 6, []account.ID{a, b, c}, true},
		{"Q=W missing one", 6, []account.ID{a, c}, false},
		{"exactly Q", 5, []account.ID{b, c}, true},
		{"one below Q", 5, []account.ID{a, c}, false},
		{"duplicates counted once", 5, []account.ID{c, c, a}, false},
		{"non-members ignored", 4, []account.ID{a, outsider, outsider}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// weights A=1 B=2 C=3, W=6
			set, err := Propose(abc(1, 2, 3), tt.quorum)
			if err != nil {
				t.Fatalf("Propose: %v", err)
			}

			if got := set.IsQuorumMet(tt.subset); got != tt.want {
				t.Errorf("IsQuorumMet = %v, want %v (weight %d)", got, tt.want, set.WeightOf(tt.subset))
			}
		})
	}
}

func TestTwoThirdsQuorum(t *testing.T) {
	tests := []struct {
		total uint64
		want  uint32
	}{
		{1, 1}, {2, 2}, {3, 2}, {4, 3}, {6, 4}, {7, 5}, {100, 67},
	}

	for _, tt := range tests {
		if got, err := TwoThirdsQuorum(tt.total); err != nil || got != tt.want {
			t.Errorf("TwoThirdsQuorum(%d) = %d, %v, want %d", tt.total, got, err, tt.want)
		}
	}

	for _, total := range []uint64{0, 3 * math.MaxUint32} {
		if q, err := TwoThirdsQuorum(total); !errors.Is(err, ErrInvalidQuorum) {
			t.Errorf("TwoThirdsQuorum(%d) = %d, %v, want ErrInvalidQuorum", total, q, err)
		}
	}
}

func TestTwoThirdsQuorumHeavySigners(t *testing.T) {
	entries := abc(math.MaxUint32, math.MaxUint32, math.MaxUint32)

	var total uint64
	for _, e := range entries {
		total += uint64(e.Weight)
	}

	if _, err := TwoThirdsQuorum(total); err == nil {
		t.Fatal("expected an error when two thirds do not fit a quorum")
	}

	// The largest quorum that fits still needs two of the three signers.
	set, err := Propose(entries, math.MaxUint32)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	if set.IsQuorumMet([]account.ID{entries[0].Identity}) {
		t.Error("one of three equal signers meets the quorum")
	}
}

func TestEqualTracksVersion(t *testing.T) {
	s1, _ := Propose(abc(1, 1, 1), 2)
	s2, _ := Propose(abc(1, 1, 1), 2)

	if !s1.Equal(s2) {
		t.Error("identical proposals should be equal")
	}

	if s1.Equal(s2.WithVersion(2)) {
		t.Error("different versions should not be equal")
	}

	s3, _ := Propose(abc(1, 1, 1), 3)
	if s1.Equal(s3) {
		t.Error("different quorum should not be equal")
	}
}

func TestRegistryReplace(t *testing.T) {
	r := NewRegistry()
	acct := testID("multisig")

	var mu sync.Mutex
	var notified []uint64

	r.OnReplace(func(_ account.ID, previous, current *SignerSet) {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, current.Version())
	})

	first, _ := Propose(abc(1, 1, 1), 2)
	v1 := r.Replace(acct, first)

	second, _ := Propose(abc(1, 1, 2), 3)
	v2 := r.Replace(acct, second)

	if v1.Version() != 1 || v2.Version() != 2 {
		t.Errorf("versions = %d, %d; want 1, 2", v1.Version(), v2.Version())
	}

	got, ok := r.Get(acct)
	if !ok || !got.Equal(v2) {
		t.Error("Get did not return the latest set")
	}

	if len(notified) != 2 || notified[1] != 2 {
		t.Errorf("notified = %v", notified)
	}
}

func TestChangeRequestEncoding(t *testing.T) {
	set, _ := Propose(abc(1, 1, 1), 2)
	req := NewChangeRequest(set, true)

	decoded, err := DecodeChangeRequest(req.Encode())
	if err != nil {
		t.Fatalf("DecodeChangeRequest: %v", err)
	}

	if decoded.Quorum != 2 || len(decoded.Signers) != 3 {
		t.Fatalf("decoded = %+v", decoded)
	}

	commitment := Commitment(set.Signers())
	if !bytes.Equal(decoded.Memo, commitment[:]) {
		t.Error("memo does not carry the commitment")
	}

	again, err := decoded.Validate()
	if err != nil || !again.Equal(set) {
		t.Errorf("Validate = %v, %v", again, err)
	}
}

func TestChangeRequestRejectsInvalidQuorum(t *testing.T) {
	req := ChangeRequest{Signers: abc(1, 1, 1), Quorum: 9}

	decoded, err := DecodeChangeRequest(req.Encode())
	if err != nil {
		t.Fatalf("DecodeChangeRequest: %v", err)
	}

	if _, err := decoded.Validate(); !errors.Is(err, ErrInvalidQuorum) {
		t.Errorf("expected ErrInvalidQuorum, got %v", err)
	}
}

func TestCommitmentOrderSensitive(t *testing.T) {
	a := Commitment(abc(1, 1, 1))
	b := Commitment([]Entry{{Identity: testID("C"), Weight: 1}, {Identity: testID("B"), Weight: 1}, {Identity: testID("A"), Weight: 1}})

	if a == b {
		t.Error("commitment should depend on signer order")
	}
}

func TestActiveEncoding(t *testing.T) {
	set, _ := Propose(abc(2, 1, 1), 3)
	active := set.WithVersion(7)

	decoded, err := DecodeActive(EncodeActive(active))
	if err != nil {
		t.Fatalf("DecodeActive: %v", err)
	}

	if !decoded.Equal(active) {
		t.Error("stored set differs after decode")
	}

	if _, err := DecodeActive([]byte{1, 2}); err == nil {
		t.Error("expected error for truncated data")
	}
}

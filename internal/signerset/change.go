package signerset

import (
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"Cosign/internal/account"
	"Cosign/internal/types"
)

// ChangeRequest is the payload of a signer-list replacement transaction.
// Memo is informational and never checked by the combiner or the ledger.
type ChangeRequest struct {
	Signers []Entry
	Quorum  uint32
	Memo    []byte
}

// NewChangeRequest builds a change request for a proposed set.
// When withCommitment is set, Memo carries Commitment(set.Signers()).
func NewChangeRequest(set *SignerSet, withCommitment bool) ChangeRequest {
	req := ChangeRequest{
		Signers: set.Signers(),
		Quorum:  set.Quorum(),
	}

	if withCommitment {
		c := Commitment(req.Signers)
		req.Memo = c[:]
	}

	return req
}

// Commitment hashes the concatenated text identities of the signers, in order.
// It binds an audit record to a signer list without being a security control.
func Commitment(signers []Entry) [32]byte {
	h := blake3.New()
	for _, e := range signers {
		h.Write([]byte(e.Identity.String()))
	}

	var sum [32]byte
	h.Sum(sum[:0])

	return sum
}

// Validate proposes the requested set, applying every SignerSet invariant.
func (c ChangeRequest) Validate() (*SignerSet, error) {
	return Propose(c.Signers, c.Quorum)
}

// Encode serializes the request as a SignerListChange table.
func (c ChangeRequest) Encode() []byte {
	builder := flatbuffers.NewBuilder(256)

	entries := buildEntries(builder, c.Signers)

	types.SignerListChangeStartSignersVector(builder, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(entries[i])
	}
	signersVec := builder.EndVector(len(entries))

	var memoVec flatbuffers.UOffsetT
	if len(c.Memo) > 0 {
		memoVec = builder.CreateByteVector(c.Memo)
	}

	types.SignerListChangeStart(builder)
	types.SignerListChangeAddQuorum(builder, c.Quorum)
	types.SignerListChangeAddSigners(builder, signersVec)

	if memoVec != 0 {
		types.SignerListChangeAddMemo(builder, memoVec)
	}

	builder.Finish(types.SignerListChangeEnd(builder))

	return builder.FinishedBytes()
}

// DecodeChangeRequest parses a SignerListChange table.
func DecodeChangeRequest(data []byte) (req ChangeRequest, err error) {
	if len(data) < 8 {
		return req, fmt.Errorf("change request too short: %d bytes", len(data))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed change request: %v", r)
		}
	}()

	fb := types.GetRootAsSignerListChange(data, 0)

	req.Quorum = fb.Quorum()
	req.Memo = cloneBytes(fb.MemoBytes())

	req.Signers, err = readEntries(fb.SignersLength(), fb.Signers)
	if err != nil {
		return req, err
	}

	return req, nil
}

// EncodeActive serializes an activated set, including its version, for storage.
func EncodeActive(s *SignerSet) []byte {
	builder := flatbuffers.NewBuilder(256)

	entries := buildEntries(builder, s.signers)

	types.SignerListStartSignersVector(builder, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(entries[i])
	}
	signersVec := builder.EndVector(len(entries))

	types.SignerListStart(builder)
	types.SignerListAddVersion(builder, s.version)
	types.SignerListAddQuorum(builder, s.quorum)
	types.SignerListAddSigners(builder, signersVec)
	builder.Finish(types.SignerListEnd(builder))

	return builder.FinishedBytes()
}

// DecodeActive parses a stored set and re-validates it.
func DecodeActive(data []byte) (set *SignerSet, err error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("signer list too short: %d bytes", len(data))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed signer list: %v", r)
		}
	}()

	fb := types.GetRootAsSignerList(data, 0)

	entries, err := readEntries(fb.SignersLength(), fb.Signers)
	if err != nil {
		return nil, err
	}

	set, err = Propose(entries, fb.Quorum())
	if err != nil {
		return nil, fmt.Errorf("stored signer list:\n%w", err)
	}

	return set.WithVersion(fb.Version()), nil
}

// buildEntries writes SignerEntry tables and returns their offsets in order.
func buildEntries(builder *flatbuffers.Builder, signers []Entry) []flatbuffers.UOffsetT {
	offsets := make([]flatbuffers.UOffsetT, len(signers))

	for i, e := range signers {
		idVec := builder.CreateByteVector(e.Identity[:])

		types.SignerEntryStart(builder)
		types.SignerEntryAddIdentity(builder, idVec)
		types.SignerEntryAddWeight(builder, e.Weight)
		offsets[i] = types.SignerEntryEnd(builder)
	}

	return offsets
}

// readEntries decodes n SignerEntry tables through the given accessor.
func readEntries(n int, at func(*types.SignerEntry, int) bool) ([]Entry, error) {
	entries := make([]Entry, 0, n)

	var fe types.SignerEntry

	for i := 0; i < n; i++ {
		if !at(&fe, i) {
			return nil, fmt.Errorf("missing signer entry %d", i)
		}

		id, err := account.FromBytes(fe.IdentityBytes())
		if err != nil {
			return nil, fmt.Errorf("signer entry %d:\n%w", i, err)
		}

		entries = append(entries, Entry{Identity: id, Weight: fe.Weight()})
	}

	return entries, nil
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}

	out := make([]byte, len(b))
	copy(out, b)

	return out
}

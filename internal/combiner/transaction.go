package combiner

import (
	"fmt"
	"slices"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"Cosign/internal/account"
	"Cosign/internal/envelope"
	"Cosign/internal/signerset"
	"Cosign/internal/signing"
	"Cosign/internal/types"
)

// Transaction is an envelope plus signer-tagged partial signatures sorted by identity.
// Its encoding is deterministic, so the same partial set always yields the same bytes and ID.
type Transaction struct {
	env      *envelope.Envelope
	version  uint64 // version is the signer set version the partials were collected under
	partials []*signing.PartialSignature
	weight   uint64 // weight is the accepted weight, 0 for decoded transactions
	raw      []byte
	id       [32]byte
}

// newTransaction encodes a sorted partial list.
func newTransaction(env *envelope.Envelope, version uint64, partials []*signing.PartialSignature, weight uint64) *Transaction {
	raw := encode(env, version, partials)

	return &Transaction{
		env:      env,
		version:  version,
		partials: partials,
		weight:   weight,
		raw:      raw,
		id:       blake3.Sum256(raw),
	}
}

// sortPartials orders partials by signer identity ascending.
func sortPartials(partials []*signing.PartialSignature) []*signing.PartialSignature {
	slices.SortFunc(partials, func(a, b *signing.PartialSignature) int {
		return a.Signer.Compare(b.Signer)
	})

	return partials
}

// encode builds the CombinedTransaction table.
func encode(env *envelope.Envelope, version uint64, partials []*signing.PartialSignature) []byte {
	builder := flatbuffers.NewBuilder(1024)

	offsets := make([]flatbuffers.UOffsetT, len(partials))
	for i, p := range partials {
		offsets[i] = p.Build(builder)
	}

	types.CombinedTransactionStartSignaturesVector(builder, len(offsets))
	for i := len(offsets) - 1; i >= 0; i-- {
		builder.PrependUOffsetT(offsets[i])
	}
	sigVec := builder.EndVector(len(offsets))

	envOffset := env.Build(builder)

	types.CombinedTransactionStart(builder)
	types.CombinedTransactionAddEnvelope(builder, envOffset)
	types.CombinedTransactionAddSignerSetVersion(builder, version)
	types.CombinedTransactionAddSignatures(builder, sigVec)
	builder.Finish(types.CombinedTransactionEnd(builder))

	return builder.FinishedBytes()
}

// Decode parses a combined transaction. Signatures are not verified; use Verify.
func Decode(data []byte) (tx *Transaction, err error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("transaction too short: %d bytes", len(data))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed transaction: %v", r)
		}
	}()

	fb := types.GetRootAsCombinedTransaction(data, 0)

	fbEnv := fb.Envelope(nil)
	if fbEnv == nil {
		return nil, fmt.Errorf("missing envelope")
	}

	env, err := envelope.FromTable(fbEnv)
	if err != nil {
		return nil, err
	}

	n := fb.SignaturesLength()
	partials := make([]*signing.PartialSignature, 0, n)

	var fp types.PartialSignature

	for i := 0; i < n; i++ {
		if !fb.Signatures(&fp, i) {
			return nil, fmt.Errorf("missing signature %d", i)
		}

		p, err := signing.FromTable(&fp)
		if err != nil {
			return nil, fmt.Errorf("signature %d:\n%w", i, err)
		}

		partials = append(partials, p)
	}

	raw := make([]byte, len(data))
	copy(raw, data)

	return &Transaction{
		env:      env,
		version:  fb.SignerSetVersion(),
		partials: partials,
		raw:      raw,
		id:       blake3.Sum256(raw),
	}, nil
}

// Verify checks the transaction against the account's active signer set: the version
// must match, signers must be distinct sorted members, every partial must target the
// envelope and verify, and the signers' weight must reach the quorum.
// It returns the verified weight.
func (t *Transaction) Verify(set *signerset.SignerSet, keys KeyResolver) (uint64, error) {
	if keys == nil {
		keys = DerivedKeys{}
	}

	if t.version != set.Version() {
		return 0, fmt.Errorf("%w: signed under version %d, active %d", ErrSignerSetChanged, t.version, set.Version())
	}

	var weight uint64

	for i, p := range t.partials {
		if i > 0 && t.partials[i-1].Signer.Compare(p.Signer) >= 0 {
			if t.partials[i-1].Signer == p.Signer {
				return 0, fmt.Errorf("%w: %s", ErrDuplicateSigner, p.Signer)
			}

			return 0, fmt.Errorf("signatures not sorted by signer at index %d", i)
		}

		w, ok := set.Weight(p.Signer)
		if !ok {
			return 0, fmt.Errorf("%w: %s", signing.ErrUnauthorizedSigner, p.Signer)
		}

		if p.Fingerprint != t.env.Fingerprint() {
			return 0, fmt.Errorf("%w: partial from %s", ErrFingerprintMismatch, p.Signer)
		}

		pub, err := keys.PublicKey(p)
		if err != nil {
			return 0, fmt.Errorf("%w: %s:\n%w", ErrInvalidSignature, p.Signer, err)
		}

		if !signing.Verify(p, t.env, pub) {
			return 0, fmt.Errorf("%w: %s", ErrInvalidSignature, p.Signer)
		}

		weight += uint64(w)
	}

	if weight < uint64(set.Quorum()) {
		return weight, fmt.Errorf("%w: weight %d of %d", ErrQuorumNotReached, weight, set.Quorum())
	}

	return weight, nil
}

// Envelope returns the authorized envelope.
func (t *Transaction) Envelope() *envelope.Envelope { return t.env }

// Proof aggregates the partials into one BLS signature over the envelope fingerprint.
// It reports false unless every partial uses BLS and the aggregate verifies under the
// partials' keys. The proof is not part of the transaction bytes.
func (t *Transaction) Proof() ([]byte, bool) {
	if len(t.partials) == 0 {
		return nil, false
	}

	keys := make([][]byte, len(t.partials))
	for i, p := range t.partials {
		if p.Scheme != signing.SchemeBLS {
			return nil, false
		}
		keys[i] = p.PublicKey
	}

	proof, err := signing.AggregateBLS(t.partials)
	if err != nil {
		return nil, false
	}

	if !signing.VerifyAggregateBLS(proof, t.env.Fingerprint(), keys) {
		return nil, false
	}

	return proof, true
}

// SignerSetVersion returns the version the partials were collected under.
func (t *Transaction) SignerSetVersion() uint64 { return t.version }

// Weight returns the accepted weight; decoded transactions report 0 until verified.
func (t *Transaction) Weight() uint64 { return t.weight }

// ID returns BLAKE3 of the encoded transaction.
func (t *Transaction) ID() [32]byte { return t.id }

// Bytes returns a copy of the encoding.
func (t *Transaction) Bytes() []byte {
	return slices.Clone(t.raw)
}

// Partials returns the partial signatures in identity order.
func (t *Transaction) Partials() []*signing.PartialSignature {
	return slices.Clone(t.partials)
}

// Signers returns the signer identities in order.
func (t *Transaction) Signers() []account.ID {
	ids := make([]account.ID, len(t.partials))
	for i, p := range t.partials {
		ids[i] = p.Signer
	}

	return ids
}

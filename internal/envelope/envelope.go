package envelope

import (
	"encoding/binary"
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"
	"github.com/zeebo/blake3"

	"Cosign/internal/account"
	"Cosign/internal/types"
)

const (
	// MaxPayloadSize bounds the transaction body.
	MaxPayloadSize = 1 << 20 // 1 MB

	// fingerprintTag separates envelope fingerprints from every other BLAKE3 use.
	fingerprintTag = "cosign-envelope-v1"
)

var (
	// ErrStaleSequence is returned when a sequence is not above the last known one.
	ErrStaleSequence = errors.New("stale sequence")

	// ErrPayloadTooLarge is returned for payloads above MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")

	// ErrEmptyPayload is returned when the transaction body is missing.
	ErrEmptyPayload = errors.New("empty payload")
)

// Kind tells the ledger how to interpret the payload.
type Kind uint8

const (
	// KindPayload is an opaque ledger transaction.
	KindPayload Kind = 0

	// KindSignerListSet replaces the account's signer list with a signerset.ChangeRequest.
	KindSignerListSet Kind = 1
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindPayload:
		return "payload"
	case KindSignerListSet:
		return "signer-list-set"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ParseKind returns the kind named by String.
func ParseKind(name string) (Kind, error) {
	switch name {
	case "payload":
		return KindPayload, nil
	case "signer-list-set", "signers":
		return KindSignerListSet, nil
	default:
		return 0, fmt.Errorf("unknown envelope kind %q", name)
	}
}

// Envelope is an unsigned transaction bound to an account sequence.
// It is immutable: the fingerprint is computed once at creation.
type Envelope struct {
	account         account.ID // account is the multisig account spending
	kind            Kind       // kind selects payload interpretation
	payload         []byte     // payload is the canonical transaction body
	sequence        uint64     // sequence is the replay-protection counter
	requiredSigners uint32     // requiredSigners is a serialization size hint
	fingerprint     [32]byte   // fingerprint binds partial signatures to this envelope
}

// Option customizes envelope creation.
type Option func(*Envelope)

// WithKind sets the payload kind.
func WithKind(k Kind) Option {
	return func(e *Envelope) { e.kind = k }
}

// WithRequiredSigners records how many distinct signers are expected.
func WithRequiredSigners(n uint32) Option {
	return func(e *Envelope) { e.requiredSigners = n }
}

// Create builds an envelope for sequence, which must be strictly above lastKnown.
// lastKnown is the highest sequence already consumed for the account.
func Create(acct account.ID, payload []byte, sequence, lastKnown uint64, opts ...Option) (*Envelope, error) {
	if sequence <= lastKnown {
		return nil, fmt.Errorf("%w: sequence %d, last known %d", ErrStaleSequence, sequence, lastKnown)
	}

	return build(acct, payload, sequence, opts...)
}

// build validates the payload and computes the fingerprint.
func build(acct account.ID, payload []byte, sequence uint64, opts ...Option) (*Envelope, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPayload
	}

	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, len(payload), MaxPayloadSize)
	}

	e := &Envelope{
		account:  acct,
		payload:  make([]byte, len(payload)),
		sequence: sequence,
	}
	copy(e.payload, payload)

	for _, opt := range opts {
		opt(e)
	}

	e.fingerprint = computeFingerprint(e.account, e.kind, e.sequence, e.payload)

	return e, nil
}

// computeFingerprint returns BLAKE3(tag || account || kind || sequence || payload).
// requiredSigners is a hint and is excluded.
func computeFingerprint(acct account.ID, kind Kind, sequence uint64, payload []byte) [32]byte {
	h := blake3.New()
	h.Write([]byte(fingerprintTag))
	h.Write(acct[:])
	h.Write([]byte{byte(kind)})

	var seq [8]byte
	binary.BigEndian.PutUint64(seq[:], sequence)
	h.Write(seq[:])

	h.Write(payload)

	var fp [32]byte
	h.Sum(fp[:0])

	return fp
}

// Account returns the spending account.
func (e *Envelope) Account() account.ID { return e.account }

// Kind returns the payload kind.
func (e *Envelope) Kind() Kind { return e.kind }

// Sequence returns the account sequence the envelope consumes.
func (e *Envelope) Sequence() uint64 { return e.sequence }

// RequiredSigners returns the signer count hint, 0 if unset.
func (e *Envelope) RequiredSigners() uint32 { return e.requiredSigners }

// Fingerprint returns the content hash that partial signatures commit to.
func (e *Envelope) Fingerprint() [32]byte { return e.fingerprint }

// Payload returns a copy of the transaction body.
func (e *Envelope) Payload() []byte {
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out
}

// Build writes the envelope as a table into builder.
func (e *Envelope) Build(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	accountVec := builder.CreateByteVector(e.account[:])
	payloadVec := builder.CreateByteVector(e.payload)

	types.EnvelopeStart(builder)
	types.EnvelopeAddAccount(builder, accountVec)
	types.EnvelopeAddKind(builder, byte(e.kind))
	types.EnvelopeAddSequence(builder, e.sequence)
	types.EnvelopeAddPayload(builder, payloadVec)
	types.EnvelopeAddRequiredSigners(builder, e.requiredSigners)

	return types.EnvelopeEnd(builder)
}

// Encode serializes the envelope for distribution to signers.
func (e *Envelope) Encode() []byte {
	builder := flatbuffers.NewBuilder(len(e.payload) + 128)
	builder.Finish(e.Build(builder))

	return builder.FinishedBytes()
}

// Decode parses an encoded envelope and recomputes its fingerprint.
func Decode(data []byte) (env *Envelope, err error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("envelope too short: %d bytes", len(data))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed envelope: %v", r)
		}
	}()

	return FromTable(types.GetRootAsEnvelope(data, 0))
}

// FromTable converts a decoded table into an Envelope.
func FromTable(fb *types.Envelope) (*Envelope, error) {
	acct, err := account.FromBytes(fb.AccountBytes())
	if err != nil {
		return nil, fmt.Errorf("envelope account:\n%w", err)
	}

	return build(acct, fb.PayloadBytes(), fb.Sequence(),
		WithKind(Kind(fb.Kind())),
		WithRequiredSigners(fb.RequiredSigners()),
	)
}

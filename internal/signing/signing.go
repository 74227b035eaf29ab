package signing

import (
	"errors"
	"fmt"

	flatbuffers "github.com/google/flatbuffers/go"

	"Cosign/internal/account"
	"Cosign/internal/envelope"
	"Cosign/internal/signerset"
	"Cosign/internal/types"
)

// signTag prefixes the fingerprint in every signed message.
const signTag = "cosign-partial-v1:"

var (
	// ErrUnauthorizedSigner is returned when the signer is not in the active signer set.
	ErrUnauthorizedSigner = errors.New("unauthorized signer")

	// ErrUnknownScheme is returned for unsupported signature schemes.
	ErrUnknownScheme = errors.New("unknown signature scheme")
)

// Scheme identifies a signature algorithm.
type Scheme uint8

const (
	// SchemeEd25519 is RFC 8032 Ed25519.
	SchemeEd25519 Scheme = 1

	// SchemeBLS is BLS12-381 with public keys in G1 and signatures in G2.
	SchemeBLS Scheme = 2
)

// String returns the scheme name.
func (s Scheme) String() string {
	switch s {
	case SchemeEd25519:
		return "ed25519"
	case SchemeBLS:
		return "bls12-381"
	default:
		return fmt.Sprintf("scheme(%d)", uint8(s))
	}
}

// Key is a signer secret. Implementations never expose the secret itself.
type Key interface {
	Scheme() Scheme
	PublicKey() []byte
	Sign(message []byte) ([]byte, error)
}

// PartialSignature is one signer's endorsement of one envelope.
type PartialSignature struct {
	Signer      account.ID // Signer is the member that produced the signature
	Scheme      Scheme     // Scheme selects the verification algorithm
	PublicKey   []byte     // PublicKey verifies Signature
	Signature   []byte     // Signature covers signTag || Fingerprint
	Fingerprint [32]byte   // Fingerprint is the envelope that was signed
}

// Message returns the bytes actually signed for an envelope fingerprint.
func Message(fingerprint [32]byte) []byte {
	msg := make([]byte, 0, len(signTag)+len(fingerprint))
	msg = append(msg, signTag...)
	msg = append(msg, fingerprint[:]...)

	return msg
}

// Sign endorses env on behalf of signer. The caller supplies the signer set active for the
// envelope's account; signing is refused for identities outside it.
func Sign(env *envelope.Envelope, key Key, signer account.ID, set *signerset.SignerSet) (*PartialSignature, error) {
	if set == nil || !set.Contains(signer) {
		return nil, fmt.Errorf("%w: %s", ErrUnauthorizedSigner, signer)
	}

	fp := env.Fingerprint()

	sig, err := key.Sign(Message(fp))
	if err != nil {
		return nil, fmt.Errorf("sign envelope:\n%w", err)
	}

	return &PartialSignature{
		Signer:      signer,
		Scheme:      key.Scheme(),
		PublicKey:   key.PublicKey(),
		Signature:   sig,
		Fingerprint: fp,
	}, nil
}

// Verify checks that p targets env and that its signature verifies under publicKey.
func Verify(p *PartialSignature, env *envelope.Envelope, publicKey []byte) bool {
	if p == nil || env == nil {
		return false
	}

	if p.Fingerprint != env.Fingerprint() {
		return false
	}

	return verifyScheme(p.Scheme, publicKey, Message(p.Fingerprint), p.Signature)
}

// verifyScheme dispatches to the scheme's verification.
func verifyScheme(scheme Scheme, publicKey, message, signature []byte) bool {
	switch scheme {
	case SchemeEd25519:
		return verifyEd25519(publicKey, message, signature)
	case SchemeBLS:
		return VerifyBLS(signature, message, publicKey)
	default:
		return false
	}
}

// Build writes the partial signature as a table into builder.
func (p *PartialSignature) Build(builder *flatbuffers.Builder) flatbuffers.UOffsetT {
	signerVec := builder.CreateByteVector(p.Signer[:])
	pubVec := builder.CreateByteVector(p.PublicKey)
	sigVec := builder.CreateByteVector(p.Signature)
	fpVec := builder.CreateByteVector(p.Fingerprint[:])

	types.PartialSignatureStart(builder)
	types.PartialSignatureAddSigner(builder, signerVec)
	types.PartialSignatureAddScheme(builder, byte(p.Scheme))
	types.PartialSignatureAddPublicKey(builder, pubVec)
	types.PartialSignatureAddSignature(builder, sigVec)
	types.PartialSignatureAddFingerprint(builder, fpVec)

	return types.PartialSignatureEnd(builder)
}

// Encode serializes a single partial signature for transport.
func (p *PartialSignature) Encode() []byte {
	builder := flatbuffers.NewBuilder(256)
	builder.Finish(p.Build(builder))

	return builder.FinishedBytes()
}

// Decode parses a partial signature produced by Encode.
func Decode(data []byte) (p *PartialSignature, err error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("partial signature too short: %d bytes", len(data))
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed partial signature: %v", r)
		}
	}()

	return FromTable(types.GetRootAsPartialSignature(data, 0))
}

// FromTable converts a decoded table into a PartialSignature.
func FromTable(fb *types.PartialSignature) (*PartialSignature, error) {
	signer, err := account.FromBytes(fb.SignerBytes())
	if err != nil {
		return nil, fmt.Errorf("signer:\n%w", err)
	}

	fp := fb.FingerprintBytes()
	if len(fp) != 32 {
		return nil, fmt.Errorf("fingerprint length %d, want 32", len(fp))
	}

	p := &PartialSignature{
		Signer:    signer,
		Scheme:    Scheme(fb.Scheme()),
		PublicKey: clone(fb.PublicKeyBytes()),
		Signature: clone(fb.SignatureBytes()),
	}
	copy(p.Fingerprint[:], fp)

	if p.Scheme != SchemeEd25519 && p.Scheme != SchemeBLS {
		return nil, fmt.Errorf("%w: %d", ErrUnknownScheme, fb.Scheme())
	}

	return p, nil
}

func clone(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

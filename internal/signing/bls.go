package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	blst "github.com/supranational/blst/bindings/go"
	"github.com/zeebo/blake3"
)

const (
	// BLSPublicKeySize is the size of a compressed G1 public key.
	BLSPublicKeySize = 48

	// BLSSignatureSize is the size of a compressed G2 signature.
	BLSSignatureSize = 96
)

// blsDST is the domain separation tag for BLS signatures.
var blsDST = []byte("BLS_SIG_BLS12381G2_XMD:SHA-256_SSWU_RO_NUL_")

// BLSKey holds a BLS private/public key pair.
type BLSKey struct {
	secret *blst.SecretKey // secret is the private scalar
	public *blst.P1Affine  // public is the G1 public key
}

// GenerateBLSKey creates a key from a random seed.
func GenerateBLSKey() (*BLSKey, error) {
	var ikm [32]byte
	if _, err := rand.Read(ikm[:]); err != nil {
		return nil, fmt.Errorf("generate random seed:\n%w", err)
	}

	return BLSKeyFromSeed(ikm[:])
}

// BLSKeyFromSeed creates a key from at least 32 bytes of seed material.
func BLSKeyFromSeed(seed []byte) (*BLSKey, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("seed must be at least 32 bytes")
	}

	secret := blst.KeyGen(seed)
	if secret == nil {
		return nil, fmt.Errorf("failed to generate BLS key")
	}

	return &BLSKey{
		secret: secret,
		public: new(blst.P1Affine).From(secret),
	}, nil
}

// DeriveBLSFromEd25519 derives a BLS key bound to an Ed25519 identity,
// so a signer needs to keep a single secret file.
func DeriveBLSFromEd25519(priv ed25519.PrivateKey) (*BLSKey, error) {
	h := blake3.New()
	h.Write([]byte("cosign-bls-keygen"))
	h.Write(priv.Seed())

	var derived [32]byte
	h.Sum(derived[:0])

	return BLSKeyFromSeed(derived[:])
}

// Scheme returns SchemeBLS.
func (k *BLSKey) Scheme() Scheme { return SchemeBLS }

// PublicKey returns the compressed public key.
func (k *BLSKey) PublicKey() []byte {
	return k.public.Compress()
}

// Sign creates a BLS signature over message.
func (k *BLSKey) Sign(message []byte) ([]byte, error) {
	sig := new(blst.P2Affine).Sign(k.secret, message, blsDST)
	return sig.Compress(), nil
}

// VerifyBLS checks a BLS signature against a message and public key.
func VerifyBLS(signature, message, publicKey []byte) bool {
	if len(signature) != BLSSignatureSize || len(publicKey) != BLSPublicKeySize {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pk := new(blst.P1Affine).Uncompress(publicKey)
	if pk == nil {
		return false
	}

	return sig.Verify(true, pk, true, message, blsDST)
}

// AggregateBLS combines BLS partials over the same envelope into one signature.
// Partials using another scheme or another fingerprint are rejected.
func AggregateBLS(partials []*PartialSignature) ([]byte, error) {
	if len(partials) == 0 {
		return nil, fmt.Errorf("no signatures to aggregate")
	}

	fp := partials[0].Fingerprint
	sigs := make([]*blst.P2Affine, len(partials))

	for i, p := range partials {
		if p.Scheme != SchemeBLS {
			return nil, fmt.Errorf("partial %d uses %s, not BLS", i, p.Scheme)
		}

		if p.Fingerprint != fp {
			return nil, fmt.Errorf("partial %d signs a different envelope", i)
		}

		sig := new(blst.P2Affine).Uncompress(p.Signature)
		if sig == nil {
			return nil, fmt.Errorf("invalid signature at index %d", i)
		}

		sigs[i] = sig
	}

	agg := new(blst.P2Aggregate)
	if !agg.Aggregate(sigs, true) {
		return nil, fmt.Errorf("signature aggregation failed")
	}

	return agg.ToAffine().Compress(), nil
}

// VerifyAggregateBLS verifies an aggregate produced by AggregateBLS against the signers' keys.
func VerifyAggregateBLS(signature []byte, fingerprint [32]byte, publicKeys [][]byte) bool {
	if len(signature) != BLSSignatureSize || len(publicKeys) == 0 {
		return false
	}

	sig := new(blst.P2Affine).Uncompress(signature)
	if sig == nil {
		return false
	}

	pks := make([]*blst.P1Affine, len(publicKeys))

	for i, pkBytes := range publicKeys {
		if len(pkBytes) != BLSPublicKeySize {
			return false
		}

		pk := new(blst.P1Affine).Uncompress(pkBytes)
		if pk == nil {
			return false
		}

		pks[i] = pk
	}

	aggPk := new(blst.P1Aggregate)
	if !aggPk.Aggregate(pks, true) {
		return false
	}

	return sig.Verify(true, aggPk.ToAffine(), true, Message(fingerprint), blsDST)
}

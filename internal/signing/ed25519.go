package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"

	"Cosign/internal/account"
)

// Ed25519Key signs with an Ed25519 private key.
type Ed25519Key struct {
	priv ed25519.PrivateKey
}

// NewEd25519Key wraps an existing private key.
func NewEd25519Key(priv ed25519.PrivateKey) (*Ed25519Key, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("invalid ed25519 key size: got %d, want %d", len(priv), ed25519.PrivateKeySize)
	}

	return &Ed25519Key{priv: priv}, nil
}

// GenerateEd25519Key creates a random key.
func GenerateEd25519Key() (*Ed25519Key, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key:\n%w", err)
	}

	return &Ed25519Key{priv: priv}, nil
}

// Scheme returns SchemeEd25519.
func (k *Ed25519Key) Scheme() Scheme { return SchemeEd25519 }

// PublicKey returns the 32-byte public key.
func (k *Ed25519Key) PublicKey() []byte {
	return []byte(k.priv.Public().(ed25519.PublicKey))
}

// Sign signs message.
func (k *Ed25519Key) Sign(message []byte) ([]byte, error) {
	return ed25519.Sign(k.priv, message), nil
}

// Private returns the underlying private key, for persistence and transport identity.
func (k *Ed25519Key) Private() ed25519.PrivateKey {
	return k.priv
}

// verifyEd25519 checks an Ed25519 signature, rejecting malformed inputs.
func verifyEd25519(publicKey, message, signature []byte) bool {
	if len(publicKey) != ed25519.PublicKeySize || len(signature) != ed25519.SignatureSize {
		return false
	}

	return ed25519.Verify(ed25519.PublicKey(publicKey), message, signature)
}

// AccountOf returns the account controlled by a key.
func AccountOf(k Key) account.ID {
	return account.FromPublicKey(k.PublicKey())
}

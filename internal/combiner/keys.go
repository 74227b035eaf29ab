package combiner

import (
	"fmt"

	"Cosign/internal/account"
	"Cosign/internal/signing"
)

// KeyResolver returns the public key a partial must verify under.
type KeyResolver interface {
	PublicKey(p *signing.PartialSignature) ([]byte, error)
}

// DerivedKeys trusts the key carried by a partial when it derives to the signer's account.
type DerivedKeys struct{}

// PublicKey implements KeyResolver.
func (DerivedKeys) PublicKey(p *signing.PartialSignature) ([]byte, error) {
	if account.FromPublicKey(p.PublicKey) != p.Signer {
		return nil, fmt.Errorf("public key does not control %s", p.Signer)
	}

	return p.PublicKey, nil
}

// StaticKeys maps signers to registered keys, for identities not derived from their key.
// Signers missing from the map fall back to DerivedKeys.
type StaticKeys map[account.ID][]byte

// PublicKey implements KeyResolver.
func (s StaticKeys) PublicKey(p *signing.PartialSignature) ([]byte, error) {
	if pub, ok := s[p.Signer]; ok {
		return pub, nil
	}

	return DerivedKeys{}.PublicKey(p)
}

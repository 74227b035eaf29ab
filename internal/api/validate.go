package api

import (
	"crypto/ed25519"
	"fmt"

	"Cosign/internal/combiner"
	"Cosign/internal/envelope"
	"Cosign/internal/signerset"
	"Cosign/internal/signing"
)

const (
	// maxTxSize bounds a combined transaction: the payload limit plus room for
	// MaxSigners partial signatures.
	maxTxSize = envelope.MaxPayloadSize + 64<<10
)

// validateTx checks the structure of a combined transaction before it reaches the
// ledger. Signatures and quorum are left to the ledger.
func validateTx(data []byte) (*combiner.Transaction, error) {
	tx, err := combiner.Decode(data)
	if err != nil {
		return nil, err
	}

	partials := tx.Partials()

	if len(partials) == 0 {
		return nil, fmt.Errorf("no signatures")
	}

	if len(partials) > signerset.MaxSigners {
		return nil, fmt.Errorf("%d signatures exceed the %d signer limit", len(partials), signerset.MaxSigners)
	}

	for i, p := range partials {
		if err := validateFieldSizes(p); err != nil {
			return nil, fmt.Errorf("signature %d from %s:\n%w", i, p.Signer, err)
		}
	}

	return tx, nil
}

// validateFieldSizes checks key and signature lengths against the scheme.
func validateFieldSizes(p *signing.PartialSignature) error {
	var keySize, sigSize int

	switch p.Scheme {
	case signing.SchemeEd25519:
		keySize, sigSize = ed25519.PublicKeySize, ed25519.SignatureSize
	case signing.SchemeBLS:
		keySize, sigSize = signing.BLSPublicKeySize, signing.BLSSignatureSize
	default:
		return fmt.Errorf("%w: %d", signing.ErrUnknownScheme, p.Scheme)
	}

	if len(p.PublicKey) != keySize {
		return fmt.Errorf("invalid public key size: got %d, want %d", len(p.PublicKey), keySize)
	}

	if len(p.Signature) != sigSize {
		return fmt.Errorf("invalid signature size: got %d, want %d", len(p.Signature), sigSize)
	}

	return nil
}

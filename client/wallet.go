package client

import (
	"crypto/ed25519"
	"fmt"

	"Cosign/internal/account"
	"Cosign/internal/signing"
)

// Wallet holds the signer keys a script controls.
type Wallet struct {
	keys []*signing.Ed25519Key // keys sign in order until quorum
}

// NewWallet creates a wallet from Ed25519 private keys.
func NewWallet(privs ...ed25519.PrivateKey) (*Wallet, error) {
	w := &Wallet{}

	for i, priv := range privs {
		k, err := signing.NewEd25519Key(priv)
		if err != nil {
			return nil, fmt.Errorf("key %d:\n%w", i, err)
		}

		w.keys = append(w.keys, k)
	}

	return w, nil
}

// GenerateWallet creates a wallet with n fresh keys.
func GenerateWallet(n int) (*Wallet, error) {
	w := &Wallet{}

	for i := 0; i < n; i++ {
		k, err := signing.GenerateEd25519Key()
		if err != nil {
			return nil, err
		}

		w.keys = append(w.keys, k)
	}

	return w, nil
}

// Identities returns the signer accounts of the wallet's keys.
func (w *Wallet) Identities() []account.ID {
	ids := make([]account.ID, len(w.keys))
	for i, k := range w.keys {
		ids[i] = signing.AccountOf(k)
	}

	return ids
}

// Len returns the number of keys.
func (w *Wallet) Len() int {
	return len(w.keys)
}

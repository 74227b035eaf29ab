// Package testkit builds signers, signer sets and combined transactions for tests.
package testkit

import (
	"testing"

	"Cosign/internal/account"
	"Cosign/internal/combiner"
	"Cosign/internal/envelope"
	"Cosign/internal/signerset"
	"Cosign/internal/signing"
)

// Signers is a group of Ed25519 signers.
type Signers struct {
	Keys []*signing.Ed25519Key
	IDs  []account.ID
}

// NewSigners generates n signers.
func NewSigners(t testing.TB, n int) *Signers {
	t.Helper()

	s := &Signers{}

	for i := 0; i < n; i++ {
		k, err := signing.GenerateEd25519Key()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}

		s.Keys = append(s.Keys, k)
		s.IDs = append(s.IDs, signing.AccountOf(k))
	}

	return s
}

// Set proposes a set over all signers; weights default to 1.
func (s *Signers) Set(t testing.TB, quorum uint32, weights ...uint32) *signerset.SignerSet {
	t.Helper()

	entries := make([]signerset.Entry, len(s.IDs))

	for i, id := range s.IDs {
		w := uint32(1)
		if i < len(weights) {
			w = weights[i]
		}

		entries[i] = signerset.Entry{Identity: id, Weight: w}
	}

	set, err := signerset.Propose(entries, quorum)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	return set
}

// Sign returns signer i's partial over env.
func (s *Signers) Sign(t testing.TB, env *envelope.Envelope, set *signerset.SignerSet, i int) *signing.PartialSignature {
	t.Helper()

	p, err := signing.Sign(env, s.Keys[i], s.IDs[i], set)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	return p
}

// Combine collects partials from the listed signers and combines them.
func (s *Signers) Combine(t testing.TB, env *envelope.Envelope, set *signerset.SignerSet, signers ...int) *combiner.Transaction {
	t.Helper()

	c := combiner.New(env, set)

	for _, i := range signers {
		if _, err := c.Accept(s.Sign(t, env, set, i)); err != nil {
			t.Fatalf("accept signer %d: %v", i, err)
		}
	}

	tx, err := c.Combine()
	if err != nil {
		t.Fatalf("combine: %v", err)
	}

	return tx
}

// Envelope creates a payload envelope for acct.
func Envelope(t testing.TB, acct account.ID, payload string, seq uint64, opts ...envelope.Option) *envelope.Envelope {
	t.Helper()

	env, err := envelope.Create(acct, []byte(payload), seq, 0, opts...)
	if err != nil {
		t.Fatalf("create envelope: %v", err)
	}

	return env
}

// Account returns a deterministic account ID for name.
func Account(name string) account.ID {
	return account.FromPublicKey([]byte(name))
}

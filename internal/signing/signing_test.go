package signing

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"

	"Cosign/internal/account"
	"Cosign/internal/envelope"
	"Cosign/internal/signerset"
)

var multisig = account.FromPublicKey([]byte("multisig"))

// newTestKeys returns n Ed25519 keys and a 1-weight set over them with the given quorum.
func newTestKeys(t *testing.T, n int, quorum uint32) ([]*Ed25519Key, *signerset.SignerSet) {
	t.Helper()

	keys := make([]*Ed25519Key, n)
	entries := make([]signerset.Entry, n)

	for i := range keys {
		k, err := GenerateEd25519Key()
		if err != nil {
			t.Fatalf("generate key: %v", err)
		}

		keys[i] = k
		entries[i] = signerset.Entry{Identity: AccountOf(k), Weight: 1}
	}

	set, err := signerset.Propose(entries, quorum)
	if err != nil {
		t.Fatalf("propose: %v", err)
	}

	return keys, set
}

func newTestEnvelope(t *testing.T, seq uint64) *envelope.Envelope {
	t.Helper()

	env, err := envelope.Create(multisig, []byte("payment"), seq, 0)
	if err != nil {
		t.Fatalf("create envelope: %v", err)
	}

	return env
}

func TestSignVerifyEd25519(t *testing.T) {
	keys, set := newTestKeys(t, 3, 2)
	env := newTestEnvelope(t, 1)

	p, err := Sign(env, keys[0], AccountOf(keys[0]), set)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if !Verify(p, env, keys[0].PublicKey()) {
		t.Error("valid signature rejected")
	}

	if Verify(p, env, keys[1].PublicKey()) {
		t.Error("signature verified under the wrong key")
	}

	other := newTestEnvelope(t, 2)
	if Verify(p, other, keys[0].PublicKey()) {
		t.Error("signature verified against another envelope")
	}
}

func TestSignRejectsNonMember(t *testing.T) {
	_, set := newTestKeys(t, 3, 2)
	env := newTestEnvelope(t, 1)

	outsider, _ := GenerateEd25519Key()

	_, err := Sign(env, outsider, AccountOf(outsider), set)
	if !errors.Is(err, ErrUnauthorizedSigner) {
		t.Errorf("expected ErrUnauthorizedSigner, got %v", err)
	}

	if _, err := Sign(env, outsider, AccountOf(outsider), nil); !errors.Is(err, ErrUnauthorizedSigner) {
		t.Errorf("expected ErrUnauthorizedSigner without a set, got %v", err)
	}
}

func TestTamperedSignatureRejected(t *testing.T) {
	keys, set := newTestKeys(t, 1, 1)
	env := newTestEnvelope(t, 1)

	p, _ := Sign(env, keys[0], AccountOf(keys[0]), set)
	p.Signature[0] ^= 0xff

	if Verify(p, env, keys[0].PublicKey()) {
		t.Error("tampered signature accepted")
	}
}

func TestPartialEncodeDecode(t *testing.T) {
	keys, set := newTestKeys(t, 1, 1)
	env := newTestEnvelope(t, 3)

	p, _ := Sign(env, keys[0], AccountOf(keys[0]), set)

	decoded, err := Decode(p.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Signer != p.Signer || decoded.Fingerprint != p.Fingerprint || decoded.Scheme != SchemeEd25519 {
		t.Errorf("decoded = %+v", decoded)
	}

	if !Verify(decoded, env, decoded.PublicKey) {
		t.Error("decoded signature does not verify")
	}

	if _, err := Decode([]byte("short")); err == nil {
		t.Error("expected error for short input")
	}
}

func TestBLSSignVerify(t *testing.T) {
	k, err := GenerateBLSKey()
	if err != nil {
		t.Fatalf("GenerateBLSKey: %v", err)
	}

	set, _ := signerset.Propose([]signerset.Entry{{Identity: AccountOf(k), Weight: 1}}, 1)
	env := newTestEnvelope(t, 1)

	p, err := Sign(env, k, AccountOf(k), set)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if len(p.Signature) != BLSSignatureSize || len(p.PublicKey) != BLSPublicKeySize {
		t.Fatalf("unexpected sizes sig=%d pk=%d", len(p.Signature), len(p.PublicKey))
	}

	if !Verify(p, env, k.PublicKey()) {
		t.Error("valid BLS signature rejected")
	}
}

func TestDeriveBLSDeterministic(t *testing.T) {
	_, priv, _ := ed25519.GenerateKey(rand.Reader)

	a, err := DeriveBLSFromEd25519(priv)
	if err != nil {
		t.Fatalf("derive: %v", err)
	}

	b, _ := DeriveBLSFromEd25519(priv)

	if string(a.PublicKey()) != string(b.PublicKey()) {
		t.Error("derivation is not deterministic")
	}
}

func TestAggregateBLS(t *testing.T) {
	env := newTestEnvelope(t, 1)

	var partials []*PartialSignature
	var pubs [][]byte
	var entries []signerset.Entry

	keys := make([]*BLSKey, 3)
	for i := range keys {
		keys[i], _ = GenerateBLSKey()
		entries = append(entries, signerset.Entry{Identity: AccountOf(keys[i]), Weight: 1})
	}

	set, _ := signerset.Propose(entries, 3)

	for _, k := range keys {
		p, err := Sign(env, k, AccountOf(k), set)
		if err != nil {
			t.Fatalf("Sign: %v", err)
		}

		partials = append(partials, p)
		pubs = append(pubs, k.PublicKey())
	}

	agg, err := AggregateBLS(partials)
	if err != nil {
		t.Fatalf("AggregateBLS: %v", err)
	}

	if !VerifyAggregateBLS(agg, env.Fingerprint(), pubs) {
		t.Error("aggregate does not verify")
	}

	if VerifyAggregateBLS(agg, env.Fingerprint(), pubs[:2]) {
		t.Error("aggregate verified with a missing key")
	}

	edKeys, edSet := newTestKeys(t, 1, 1)
	ed, _ := Sign(env, edKeys[0], AccountOf(edKeys[0]), edSet)

	if _, err := AggregateBLS(append(partials, ed)); err == nil {
		t.Error("expected error mixing schemes")
	}
}

package main

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"math"
	"path/filepath"
	"strings"
	"testing"

	"Cosign/internal/envelope"
	"Cosign/internal/signerset"
	"Cosign/internal/signing"
	"Cosign/internal/testkit"
)

func TestLoadOrGenerateKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "signer.key")

	first, err := loadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	second, err := loadOrGenerateKey(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if !bytes.Equal(first, second) {
		t.Error("reloaded key differs")
	}
}

func TestEndpointFlag(t *testing.T) {
	id := testkit.Account("signer")
	e := make(endpointFlag)

	if err := e.Set(id.String() + "@127.0.0.1:9001"); err != nil {
		t.Fatalf("set: %v", err)
	}

	if e[id].Addr != "127.0.0.1:9001" {
		t.Errorf("addr = %q", e[id].Addr)
	}

	for _, bad := range []string{"no-at-sign", id.String() + "@", "garbage@127.0.0.1:1"} {
		if err := e.Set(bad); err == nil {
			t.Errorf("Set(%q) accepted", bad)
		}
	}
}

func TestEntryFlag(t *testing.T) {
	a, b := testkit.Account("a"), testkit.Account("b")

	var entries entryFlag

	for _, v := range []string{a.String() + ":2", b.String()} {
		if err := entries.Set(v); err != nil {
			t.Fatalf("set %q: %v", v, err)
		}
	}

	if len(entries) != 2 || entries[0].Identity != a || entries[0].Weight != 2 || entries[1].Weight != 1 {
		t.Errorf("entries = %v", entries.String())
	}

	if err := entries.Set(a.String() + ":heavy"); err == nil {
		t.Error("expected error for a non-numeric weight")
	}

	if got := totalWeight(entries); got != 3 {
		t.Errorf("total weight = %d", got)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	if err := run("explode", nil); err == nil {
		t.Error("expected error")
	}
}

func TestEndpointFlagWithNodeIdentity(t *testing.T) {
	id, node := testkit.Account("bls-signer"), testkit.Account("node")
	e := make(endpointFlag)

	if err := e.Set(id.String() + "/" + node.String() + "@127.0.0.1:9001"); err != nil {
		t.Fatalf("set: %v", err)
	}

	if e[id].Node != node || e[id].Addr != "127.0.0.1:9001" {
		t.Errorf("endpoint = %+v", e[id])
	}

	if err := e.Set(id.String() + "/garbage@127.0.0.1:9001"); err == nil {
		t.Error("expected error for a bad node identity")
	}
}

func TestQuorumFlag(t *testing.T) {
	tests := []struct {
		value string
		want  uint32
		ok    bool
	}{
		{"2", 2, true},
		{"4294967295", math.MaxUint32, true},
		{"4294967298", 0, false},
		{"-1", 0, false},
		{"two", 0, false},
	}

	for _, tt := range tests {
		var q quorumFlag

		err := q.Set(tt.value)
		if (err == nil) != tt.ok {
			t.Errorf("Set(%q) error = %v", tt.value, err)
			continue
		}

		if tt.ok && uint32(q) != tt.want {
			t.Errorf("Set(%q) = %d, want %d", tt.value, q, tt.want)
		}
	}
}

func TestSigningKeyScheme(t *testing.T) {
	_, priv, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tests := []struct {
		scheme string
		want   signing.Scheme
	}{
		{"", signing.SchemeEd25519},
		{"ed25519", signing.SchemeEd25519},
		{"BLS", signing.SchemeBLS},
	}

	for _, tt := range tests {
		k, err := signingKey(priv, tt.scheme)
		if err != nil {
			t.Fatalf("signingKey(%q): %v", tt.scheme, err)
		}

		if k.Scheme() != tt.want {
			t.Errorf("signingKey(%q) scheme = %s", tt.scheme, k.Scheme())
		}
	}

	// The BLS key is stable for a given key file.
	a, _ := signingKey(priv, "bls")
	b, _ := signingKey(priv, "bls")

	if !bytes.Equal(a.PublicKey(), b.PublicKey()) {
		t.Error("BLS key derivation is not deterministic")
	}

	if _, err := signingKey(priv, "rsa"); err == nil {
		t.Error("expected error for an unknown scheme")
	}
}

func TestParseKinds(t *testing.T) {
	kinds, err := parseKinds("payload, signers")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	if len(kinds) != 2 || kinds[0] != envelope.KindPayload || kinds[1] != envelope.KindSignerListSet {
		t.Errorf("kinds = %v", kinds)
	}

	for _, bad := range []string{"", "payload,bogus"} {
		if _, err := parseKinds(bad); err == nil {
			t.Errorf("parseKinds(%q) accepted", bad)
		}
	}
}

func TestSignersRequiresQuorumForHeavyWeights(t *testing.T) {
	args := []string{"-log-level", "error"}
	for _, name := range []string{"a", "b", "c"} {
		args = append(args, "-set", testkit.Account(name).String()+":4294967295")
	}

	err := run("signers", args)
	if !errors.Is(err, signerset.ErrInvalidQuorum) {
		t.Fatalf("expected ErrInvalidQuorum, got %v", err)
	}

	if !strings.Contains(err.Error(), "-quorum") {
		t.Errorf("error does not point at -quorum: %v", err)
	}
}

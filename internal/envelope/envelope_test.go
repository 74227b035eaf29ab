package envelope

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"Cosign/internal/account"
)

var testAccount = account.FromPublicKey([]byte("multisig"))

func TestCreateStaleSequence(t *testing.T) {
	tests := []struct {
		name      string
		sequence  uint64
		lastKnown uint64
		wantErr   error
	}{
		{"next sequence", 5, 4, nil},
		{"gap allowed", 9, 4, nil},
		{"equal to last", 4, 4, ErrStaleSequence},
		{"below last", 3, 4, ErrStaleSequence},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Create(testAccount, []byte("pay"), tt.sequence, tt.lastKnown)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestCreateRejectsBadPayload(t *testing.T) {
	if _, err := Create(testAccount, nil, 1, 0); !errors.Is(err, ErrEmptyPayload) {
		t.Errorf("expected ErrEmptyPayload, got %v", err)
	}

	big := make([]byte, MaxPayloadSize+1)
	if _, err := Create(testAccount, big, 1, 0); !errors.Is(err, ErrPayloadTooLarge) {
		t.Errorf("expected ErrPayloadTooLarge, got %v", err)
	}
}

func TestFingerprintBindsSequence(t *testing.T) {
	a, _ := Create(testAccount, []byte("same payload"), 10, 0)
	b, _ := Create(testAccount, []byte("same payload"), 11, 0)
	a2, _ := Create(testAccount, []byte("same payload"), 10, 0)

	if a.Fingerprint() == b.Fingerprint() {
		t.Error("different sequences share a fingerprint")
	}

	if a.Fingerprint() != a2.Fingerprint() {
		t.Error("fingerprint is not deterministic")
	}
}

func TestFingerprintBindsKindAndAccount(t *testing.T) {
	base, _ := Create(testAccount, []byte("p"), 1, 0)
	kind, _ := Create(testAccount, []byte("p"), 1, 0, WithKind(KindSignerListSet))
	other, _ := Create(account.FromPublicKey([]byte("other")), []byte("p"), 1, 0)
	hint, _ := Create(testAccount, []byte("p"), 1, 0, WithRequiredSigners(3))

	if base.Fingerprint() == kind.Fingerprint() {
		t.Error("kind not bound")
	}

	if base.Fingerprint() == other.Fingerprint() {
		t.Error("account not bound")
	}

	if base.Fingerprint() != hint.Fingerprint() {
		t.Error("required signer hint must not change the fingerprint")
	}
}

func TestPayloadIsCopied(t *testing.T) {
	payload := []byte("original")
	env, _ := Create(testAccount, payload, 1, 0)
	fp := env.Fingerprint()

	payload[0] = 'X'
	got := env.Payload()
	got[1] = 'Y'

	if !bytes.Equal(env.Payload(), []byte("original")) || env.Fingerprint() != fp {
		t.Error("envelope was mutated through a caller slice")
	}
}

func TestEncodeDecode(t *testing.T) {
	env, _ := Create(testAccount, []byte(`{"amount":"10"}`), 42, 41,
		WithKind(KindSignerListSet), WithRequiredSigners(2))

	decoded, err := Decode(env.Encode())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decoded.Fingerprint() != env.Fingerprint() {
		t.Error("fingerprint changed after decode")
	}

	if decoded.RequiredSigners() != 2 || decoded.Kind() != KindSignerListSet || decoded.Sequence() != 42 {
		t.Errorf("decoded fields = %d %v %d", decoded.RequiredSigners(), decoded.Kind(), decoded.Sequence())
	}

	if _, err := Decode([]byte{0xff, 0xff, 0xff, 0x7f, 0, 0, 0, 0}); err == nil {
		t.Error("expected error for garbage input")
	}
}

func TestSequenceTracker(t *testing.T) {
	tr := NewSequenceTracker()
	tr.ObserveNext(testAccount, 8)

	if tr.Last(testAccount) != 7 {
		t.Fatalf("Last = %d, want 7", tr.Last(testAccount))
	}

	if _, err := tr.Create(testAccount, []byte("p"), 7); !errors.Is(err, ErrStaleSequence) {
		t.Errorf("expected ErrStaleSequence, got %v", err)
	}

	if _, err := tr.Create(testAccount, []byte("p"), 8); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	// Lower observations never move the tracker backwards.
	tr.Observe(testAccount, 2)
	if tr.Last(testAccount) != 7 {
		t.Errorf("tracker moved backwards to %d", tr.Last(testAccount))
	}
}

func TestSequenceTrackerConcurrent(t *testing.T) {
	tr := NewSequenceTracker()

	var wg sync.WaitGroup
	for i := uint64(1); i <= 100; i++ {
		wg.Add(1)
		go func(seq uint64) {
			defer wg.Done()
			tr.Observe(testAccount, seq)
		}(i)
	}
	wg.Wait()

	if tr.Last(testAccount) != 100 {
		t.Errorf("Last = %d, want 100", tr.Last(testAccount))
	}
}

func TestCanonicalJSON(t *testing.T) {
	a, err := CanonicalizeJSON([]byte(`{ "b": 1, "a": {"y": "<x>", "x": 10000000000000000001} }`))
	if err != nil {
		t.Fatalf("CanonicalizeJSON: %v", err)
	}

	want := `{"a":{"x":10000000000000000001,"y":"<x>"},"b":1}`
	if string(a) != want {
		t.Errorf("got %s, want %s", a, want)
	}

	b, err := CanonicalJSON(map[string]any{"a": map[string]any{"y": "<x>", "x": 1}, "b": 1})
	if err != nil {
		t.Fatalf("CanonicalJSON: %v", err)
	}

	if string(b) != `{"a":{"x":1,"y":"<x>"},"b":1}` {
		t.Errorf("got %s", b)
	}

	if _, err := CanonicalizeJSON([]byte(`{"a":1} {"b":2}`)); err == nil {
		t.Error("expected error for trailing document")
	}
}

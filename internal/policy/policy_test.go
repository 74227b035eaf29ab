package policy

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"Cosign/internal/envelope"
	"Cosign/internal/testkit"
)

var multisig = testkit.Account("multisig")

// policyModule assembles a module exporting memory and approve(ptr, len i32) -> i32
// with the given function body (locals declaration, instructions and end).
func policyModule(body ...byte) []byte {
	wasm := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00, // magic, version
		0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f, // type: (i32, i32) -> i32
		0x03, 0x02, 0x01, 0x00, // function 0 has type 0
		0x05, 0x03, 0x01, 0x00, 0x01, // memory: min 1 page
		0x07, 0x14, 0x02, // exports
		0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
		0x07, 'a', 'p', 'p', 'r', 'o', 'v', 'e', 0x00, 0x00,
	}

	code := append([]byte{0x01, byte(len(body))}, body...)
	wasm = append(wasm, 0x0a, byte(len(code)))

	return append(wasm, code...)
}

var (
	// approveAll returns 1.
	approveAll = policyModule(0x00, 0x41, 0x01, 0x0b)

	// denyAll returns 0.
	denyAll = policyModule(0x00, 0x41, 0x00, 0x0b)

	// maxLen16 approves payloads up to 16 bytes: len <= 16.
	maxLen16 = policyModule(0x00, 0x20, 0x01, 0x41, 0x10, 0x4d, 0x0b)

	// firstByteP approves payloads starting with 'p': i32.load8_u(ptr) == 0x70.
	firstByteP = policyModule(0x00, 0x20, 0x00, 0x2d, 0x00, 0x00, 0x41, 0xf0, 0x00, 0x46, 0x0b)

	// spin never returns.
	spin = policyModule(0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x41, 0x01, 0x0b)
)

func load(t *testing.T, wasm []byte) *WASM {
	t.Helper()

	p, err := LoadWASM(context.Background(), wasm)
	if err != nil {
		t.Fatalf("LoadWASM: %v", err)
	}

	t.Cleanup(func() { p.Close(context.Background()) })

	return p
}

func TestWASMPolicies(t *testing.T) {
	tests := []struct {
		name    string
		module  []byte
		payload string
		allowed bool
	}{
		{"approve all", approveAll, "anything", true},
		{"deny all", denyAll, "anything", false},
		{"short payload", maxLen16, "pay 10 to bob", true},
		{"long payload", maxLen16, "pay 10000000 to a very long recipient", false},
		{"reads payload bytes", firstByteP, "pay 10", true},
		{"reads payload bytes deny", firstByteP, "send 10", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := load(t, tt.module)
			env := testkit.Envelope(t, multisig, tt.payload, 1)

			err := p.Approve(context.Background(), env)

			if tt.allowed && err != nil {
				t.Errorf("expected approval, got %v", err)
			}

			if !tt.allowed && !errors.Is(err, ErrDenied) {
				t.Errorf("expected ErrDenied, got %v", err)
			}
		})
	}
}

func TestWASMGrowsMemory(t *testing.T) {
	p := load(t, firstByteP)

	payload := append([]byte("p"), bytes.Repeat([]byte{0}, 3*wasmPageSize)...)

	env, err := envelope.Create(multisig, payload, 1, 0)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := p.Approve(context.Background(), env); err != nil {
		t.Errorf("large payload: %v", err)
	}
}

func TestWASMTimeout(t *testing.T) {
	p := load(t, spin)
	env := testkit.Envelope(t, multisig, "pay", 1)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()

	err := p.Approve(ctx, env)
	if err == nil || errors.Is(err, ErrDenied) {
		t.Fatalf("expected abort error, got %v", err)
	}

	if time.Since(start) > 5*time.Second {
		t.Error("spinning policy was not interrupted")
	}
}

func TestWASMConcurrent(t *testing.T) {
	p := load(t, maxLen16)
	env := testkit.Envelope(t, multisig, "short", 1)

	var wg sync.WaitGroup

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if err := p.Approve(context.Background(), env); err != nil {
				t.Errorf("Approve: %v", err)
			}
		}()
	}

	wg.Wait()
}

func TestLoadWASMRejectsBadModules(t *testing.T) {
	// approve exported with the wrong signature: () -> i32
	wrongSig := []byte{
		0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
		0x01, 0x05, 0x01, 0x60, 0x00, 0x01, 0x7f,
		0x03, 0x02, 0x01, 0x00,
		0x05, 0x03, 0x01, 0x00, 0x01,
		0x07, 0x14, 0x02,
		0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
		0x07, 'a', 'p', 'p', 'r', 'o', 'v', 'e', 0x00, 0x00,
		0x0a, 0x06, 0x01, 0x04, 0x00, 0x41, 0x01, 0x0b,
	}

	tests := []struct {
		name string
		wasm []byte
	}{
		{"garbage", []byte("not wasm")},
		{"wrong signature", wrongSig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadWASM(context.Background(), tt.wasm); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestClosedWASM(t *testing.T) {
	p, err := LoadWASM(context.Background(), approveAll)
	if err != nil {
		t.Fatalf("LoadWASM: %v", err)
	}

	p.Close(context.Background())

	if err := p.Approve(context.Background(), testkit.Envelope(t, multisig, "x", 1)); err == nil {
		t.Error("expected error after Close")
	}
}

func TestCombinators(t *testing.T) {
	ctx := context.Background()
	payment := testkit.Envelope(t, multisig, "pay", 1)
	change := testkit.Envelope(t, multisig, "change", 1, envelope.WithKind(envelope.KindSignerListSet))

	only := Kinds(envelope.KindPayload)

	if err := only.Approve(ctx, payment); err != nil {
		t.Errorf("payment: %v", err)
	}

	if err := only.Approve(ctx, change); !errors.Is(err, ErrDenied) {
		t.Errorf("change: %v", err)
	}

	wasm := load(t, denyAll)

	if err := All(AllowAll, wasm).Approve(ctx, payment); !errors.Is(err, ErrDenied) {
		t.Errorf("All with a denying member: %v", err)
	}

	if err := All(AllowAll, only).Approve(ctx, payment); err != nil {
		t.Errorf("All approving: %v", err)
	}
}

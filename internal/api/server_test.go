package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Cosign/internal/envelope"
	"Cosign/internal/ledger"
	"Cosign/internal/signerset"
	"Cosign/internal/storage"
	"Cosign/internal/testkit"
)

var multisig = testkit.Account("multisig")

type fixture struct {
	server  *Server
	ledger  *ledger.Local
	signers *testkit.Signers
	set     *signerset.SignerSet
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := storage.OpenMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	l, err := ledger.NewLocal(store)
	if err != nil {
		t.Fatalf("new ledger: %v", err)
	}

	signers := testkit.NewSigners(t, 3)

	set, err := l.CreateAccount(multisig, signers.Set(t, 2))
	if err != nil {
		t.Fatalf("create account: %v", err)
	}

	return &fixture{server: New(":0", l), ledger: l, signers: signers, set: set}
}

func (f *fixture) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	w := httptest.NewRecorder()

	f.server.Handler().ServeHTTP(w, req)

	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("failed to parse response %q: %v", w.Body.String(), err)
	}

	return v
}

func TestHealthEndpoint(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/health", nil)

	if w.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", w.Code)
	}

	if resp := decode[map[string]string](t, w); resp["status"] != "ok" {
		t.Errorf("expected status ok, got %s", resp["status"])
	}
}

func TestAccountEndpoints(t *testing.T) {
	f := newFixture(t)

	w := f.do(t, "GET", "/account/"+multisig.String()+"/sequence", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("sequence status %d: %s", w.Code, w.Body.String())
	}

	if seq := decode[ledger.SequenceResponse](t, w); seq.Sequence != 1 || seq.Account != multisig {
		t.Errorf("sequence response = %+v", seq)
	}

	w = f.do(t, "GET", "/account/"+multisig.String()+"/signers", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("signers status %d: %s", w.Code, w.Body.String())
	}

	list := decode[ledger.SignerListResponse](t, w)
	if list.Version != 1 || list.Quorum != 2 || len(list.Signers) != 3 || list.TotalWeight != 3 {
		t.Errorf("signers response = %+v", list)
	}

	tests := []struct {
		path string
		want int
	}{
		{"/account/not-an-account/sequence", http.StatusBadRequest},
		{"/account/" + testkit.Account("nobody").String() + "/sequence", http.StatusNotFound},
		{"/account/" + testkit.Account("nobody").String() + "/signers", http.StatusNotFound},
	}

	for _, tt := range tests {
		if w := f.do(t, "GET", tt.path, nil); w.Code != tt.want {
			t.Errorf("GET %s = %d, want %d", tt.path, w.Code, tt.want)
		}
	}
}

func TestSubmitTx(t *testing.T) {
	f := newFixture(t)

	tx := f.signers.Combine(t, testkit.Envelope(t, multisig, "pay", 1), f.set, 0, 2)

	w := f.do(t, "POST", "/tx", tx.Bytes())
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	resp := decode[ledger.SubmitResponse](t, w)
	if resp.Status != ledger.StatusAccepted || resp.TxID == "" {
		t.Errorf("response = %+v", resp)
	}

	// Same bytes again: still accepted.
	if w := f.do(t, "POST", "/tx", tx.Bytes()); w.Code != http.StatusAccepted {
		t.Errorf("resubmission status %d", w.Code)
	}

	// Different transaction at the consumed sequence.
	stale := f.signers.Combine(t, testkit.Envelope(t, multisig, "pay again", 1), f.set, 0, 1)

	w = f.do(t, "POST", "/tx", stale.Bytes())
	if w.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", w.Code)
	}

	if resp := decode[ledger.SubmitResponse](t, w); resp.Code != ledger.CodeStaleSequence {
		t.Errorf("code = %s", resp.Code)
	}
}

func TestSubmitMalformed(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body []byte
	}{
		{"empty", nil},
		{"garbage", []byte("0123456789abcdef")},
		{"too large", make([]byte, maxTxSize+1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(t, "POST", "/tx", tt.body)
			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d", w.Code)
			}

			resp := decode[ledger.SubmitResponse](t, w)
			if resp.Status != ledger.StatusRejected || resp.Code != ledger.CodeMalformed {
				t.Errorf("response = %+v", resp)
			}
		})
	}
}

func TestValidateTx(t *testing.T) {
	signers := testkit.NewSigners(t, 2)
	set := signers.Set(t, 1)
	env := testkit.Envelope(t, multisig, "pay", 1)

	tx := signers.Combine(t, env, set, 0, 1)

	if _, err := validateTx(tx.Bytes()); err != nil {
		t.Errorf("valid transaction rejected: %v", err)
	}

	p := signers.Sign(t, env, set, 0)
	p.Signature = p.Signature[:10]

	if err := validateFieldSizes(p); err == nil {
		t.Error("expected error for a truncated signature")
	}
}

// TestHTTPClientRoundTrip runs ledger.HTTPClient against a live server.
func TestHTTPClientRoundTrip(t *testing.T) {
	f := newFixture(t)

	srv := httptest.NewServer(f.server.Handler())
	defer srv.Close()

	c := ledger.NewHTTPClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	seq, err := c.Sequence(ctx, multisig)
	if err != nil || seq != 1 {
		t.Fatalf("Sequence = %d, %v", seq, err)
	}

	set, err := c.SignerList(ctx, multisig)
	if err != nil || !set.Equal(f.set) {
		t.Fatalf("SignerList = %v, %v", set, err)
	}

	tx := f.signers.Combine(t, testkit.Envelope(t, multisig, "pay", seq), set, 1, 2)

	res, err := c.Submit(ctx, tx.Bytes())
	if err != nil || !res.Accepted() || res.TxID != tx.ID() {
		t.Fatalf("Submit = %+v, %v", res, err)
	}

	res, err = c.Submit(ctx, f.signers.Combine(t, testkit.Envelope(t, multisig, "late", seq), set, 0, 1).Bytes())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if !errors.Is(res.Err(), envelope.ErrStaleSequence) {
		t.Errorf("Err() = %v, want ErrStaleSequence", res.Err())
	}

	if _, err := c.Sequence(ctx, testkit.Account("nobody")); !errors.Is(err, ledger.ErrUnknownAccount) {
		t.Errorf("expected ErrUnknownAccount, got %v", err)
	}
}

func TestStartStop(t *testing.T) {
	f := newFixture(t)

	s := New("127.0.0.1:0", f.ledger)
	if err := s.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	resp, err := http.Get("http://" + s.Addr() + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	resp.Body.Close()

	if err := s.Stop(); err != nil {
		t.Errorf("Stop: %v", err)
	}
}

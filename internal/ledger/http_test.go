package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"Cosign/internal/envelope"
	"Cosign/internal/testkit"
)

// newStubServer serves fn on every request.
func newStubServer(t *testing.T, fn http.HandlerFunc) *HTTPClient {
	t.Helper()

	srv := httptest.NewServer(fn)
	t.Cleanup(srv.Close)

	return NewHTTPClient(srv.URL, time.Second)
}

func replyJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestHTTPSubmitClassification(t *testing.T) {
	tests := []struct {
		name          string
		handler       http.HandlerFunc
		wantTransient bool
		wantErr       bool
		wantStatus    Status
		wantCode      Code
	}{
		{
			name: "accepted",
			handler: func(w http.ResponseWriter, r *http.Request) {
				replyJSON(w, http.StatusAccepted, SubmitResponse{Status: StatusAccepted, TxID: "00000000000000000000000000000000000000000000000000000000000000ff"})
			},
			wantStatus: StatusAccepted,
		},
		{
			name: "rejected",
			handler: func(w http.ResponseWriter, r *http.Request) {
				replyJSON(w, http.StatusConflict, SubmitResponse{Status: StatusRejected, Code: CodeStaleSequence, Reason: "used"})
			},
			wantStatus: StatusRejected,
			wantCode:   CodeStaleSequence,
		},
		{
			name: "server error",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusBadGateway)
			},
			wantErr:       true,
			wantTransient: true,
		},
		{
			name: "slow server",
			handler: func(w http.ResponseWriter, r *http.Request) {
				time.Sleep(1500 * time.Millisecond)
			},
			wantErr:       true,
			wantTransient: true,
		},
		{
			name: "unexpected status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newStubServer(t, tt.handler)

			res, err := c.Submit(context.Background(), []byte("tx"))

			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", res)
				}

				if IsTransient(err) != tt.wantTransient {
					t.Errorf("IsTransient(%v) = %v", err, !tt.wantTransient)
				}

				if !tt.wantTransient && !errors.Is(err, ErrPermanentSubmission) {
					t.Errorf("expected ErrPermanentSubmission, got %v", err)
				}

				return
			}

			if err != nil {
				t.Fatalf("Submit: %v", err)
			}

			if res.Status != tt.wantStatus || res.Code != tt.wantCode {
				t.Errorf("result = %+v", res)
			}
		})
	}
}

func TestHTTPTransportFailureIsTransient(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := NewHTTPClient(url, time.Second)

	_, err := c.Submit(context.Background(), []byte("tx"))
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}

	_, err = c.Sequence(context.Background(), multisig)
	if !IsTransient(err) {
		t.Errorf("expected transient error, got %v", err)
	}
}

func TestHTTPSignerList(t *testing.T) {
	signers := testkit.NewSigners(t, 3)
	set := signers.Set(t, 2, 1, 1, 3).WithVersion(4)

	c := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/account/"+multisig.String()+"/signers" {
			replyJSON(w, http.StatusNotFound, ErrorResponse{Error: "no route"})
			return
		}

		replyJSON(w, http.StatusOK, NewSignerListResponse(multisig, set))
	})

	got, err := c.SignerList(context.Background(), multisig)
	if err != nil {
		t.Fatalf("SignerList: %v", err)
	}

	if !got.Equal(set) || got.TotalWeight() != 5 {
		t.Errorf("got version %d total %d", got.Version(), got.TotalWeight())
	}
}

func TestHTTPUnknownAccount(t *testing.T) {
	c := newStubServer(t, func(w http.ResponseWriter, r *http.Request) {
		replyJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown account"})
	})

	if _, err := c.Sequence(context.Background(), multisig); !errors.Is(err, ErrUnknownAccount) {
		t.Errorf("expected ErrUnknownAccount, got %v", err)
	}

	if IsTransient(ErrUnknownAccount) {
		t.Error("unknown account classified as transient")
	}
}

func TestSubmitResultErr(t *testing.T) {
	ok := SubmitResult{Status: StatusAccepted}
	if ok.Err() != nil {
		t.Errorf("accepted Err() = %v", ok.Err())
	}

	stale := SubmitResult{Status: StatusRejected, Code: CodeSequenceGap, Reason: "gap"}
	if !errors.Is(stale.Err(), envelope.ErrStaleSequence) || !errors.Is(stale.Err(), ErrRejected) {
		t.Errorf("stale Err() = %v", stale.Err())
	}

	other := SubmitResult{Status: StatusRejected, Code: "custom", Reason: "no"}
	if !errors.Is(other.Err(), ErrRejected) {
		t.Errorf("custom Err() = %v", other.Err())
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{Transient(errors.New("reset")), true},
		{context.DeadlineExceeded, true},
		{errors.New("boom"), false},
		{ErrPermanentSubmission, false},
	}

	for _, tt := range tests {
		if got := IsTransient(tt.err); got != tt.want {
			t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}

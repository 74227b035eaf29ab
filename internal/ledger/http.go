package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"Cosign/internal/account"
	"Cosign/internal/signerset"
)

// SequenceResponse is the body of GET /account/{id}/sequence.
type SequenceResponse struct {
	Account  account.ID `json:"account"`
	Sequence uint64     `json:"sequence"`
}

// SignerListResponse is the body of GET /account/{id}/signers.
type SignerListResponse struct {
	Account     account.ID        `json:"account"`
	Version     uint64            `json:"version"`
	Quorum      uint32            `json:"quorum"`
	TotalWeight uint64            `json:"totalWeight"`
	Signers     []signerset.Entry `json:"signers"`
}

// NewSignerListResponse describes an active set.
func NewSignerListResponse(acct account.ID, set *signerset.SignerSet) SignerListResponse {
	return SignerListResponse{
		Account:     acct,
		Version:     set.Version(),
		Quorum:      set.Quorum(),
		TotalWeight: set.TotalWeight(),
		Signers:     set.Signers(),
	}
}

// SignerSet rebuilds the set, validating every invariant.
func (r SignerListResponse) SignerSet() (*signerset.SignerSet, error) {
	set, err := signerset.Propose(r.Signers, r.Quorum)
	if err != nil {
		return nil, err
	}

	return set.WithVersion(r.Version), nil
}

// SubmitResponse is the body of POST /tx.
type SubmitResponse struct {
	Status Status `json:"status"`
	TxID   string `json:"txId,omitempty"`
	Code   Code   `json:"code,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// NewSubmitResponse converts a result for the wire.
func NewSubmitResponse(r SubmitResult) SubmitResponse {
	resp := SubmitResponse{Status: r.Status, Code: r.Code, Reason: r.Reason}
	if r.TxID != ([32]byte{}) {
		resp.TxID = r.TxIDHex()
	}

	return resp
}

// Result converts a wire response back to a SubmitResult.
func (r SubmitResponse) Result() (SubmitResult, error) {
	res := SubmitResult{Status: r.Status, Code: r.Code, Reason: r.Reason}

	if r.TxID != "" {
		b, err := hex.DecodeString(r.TxID)
		if err != nil || len(b) != len(res.TxID) {
			return SubmitResult{}, fmt.Errorf("invalid txId %q", r.TxID)
		}

		copy(res.TxID[:], b)
	}

	if res.Status != StatusAccepted && res.Status != StatusRejected {
		return SubmitResult{}, fmt.Errorf("unknown status %q", r.Status)
	}

	return res, nil
}

// ErrorResponse is the body of non-2xx answers other than rejections.
type ErrorResponse struct {
	Error string `json:"error"`
}

// HTTPClient talks to a ledger served by internal/api.
type HTTPClient struct {
	base string
	http *http.Client
}

// NewHTTPClient creates a client for the ledger at base (e.g. "http://127.0.0.1:8080").
// A bare host:port is accepted.
func NewHTTPClient(base string, timeout time.Duration) *HTTPClient {
	if !strings.Contains(base, "://") {
		base = "http://" + base
	}

	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &HTTPClient{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: timeout},
	}
}

// Health checks that the ledger answers.
func (c *HTTPClient) Health(ctx context.Context) error {
	var resp struct {
		Status string `json:"status"`
	}

	if err := c.get(ctx, "/health", &resp); err != nil {
		return err
	}

	if resp.Status != "ok" {
		return fmt.Errorf("ledger status %q", resp.Status)
	}

	return nil
}

// Sequence implements Client.
func (c *HTTPClient) Sequence(ctx context.Context, acct account.ID) (uint64, error) {
	var resp SequenceResponse

	if err := c.get(ctx, "/account/"+acct.String()+"/sequence", &resp); err != nil {
		return 0, fmt.Errorf("get sequence of %s:\n%w", acct, err)
	}

	return resp.Sequence, nil
}

// SignerList implements Client.
func (c *HTTPClient) SignerList(ctx context.Context, acct account.ID) (*signerset.SignerSet, error) {
	var resp SignerListResponse

	if err := c.get(ctx, "/account/"+acct.String()+"/signers", &resp); err != nil {
		return nil, fmt.Errorf("get signer list of %s:\n%w", acct, err)
	}

	set, err := resp.SignerSet()
	if err != nil {
		return nil, fmt.Errorf("ledger returned an invalid signer list:\n%w", err)
	}

	return set, nil
}

// Submit implements Client. Transport failures and 5xx answers are transient;
// 409 and 400 answers are rejections.
func (c *HTTPClient) Submit(ctx context.Context, signed []byte) (SubmitResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+"/tx", bytes.NewReader(signed))
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w: build request:\n%w", ErrPermanentSubmission, err)
	}

	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := c.http.Do(req)
	if err != nil {
		return SubmitResult{}, Transient(fmt.Errorf("POST /tx:\n%w", err))
	}
	defer drain(resp)

	switch {
	case resp.StatusCode >= 500:
		return SubmitResult{}, Transient(fmt.Errorf("POST /tx: status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusAccepted,
		resp.StatusCode == http.StatusOK,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusBadRequest:
	default:
		return SubmitResult{}, fmt.Errorf("%w: POST /tx: status %d", ErrPermanentSubmission, resp.StatusCode)
	}

	var body SubmitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return SubmitResult{}, Transient(fmt.Errorf("decode submit response:\n%w", err))
	}

	res, err := body.Result()
	if err != nil {
		return SubmitResult{}, fmt.Errorf("%w:\n%w", ErrPermanentSubmission, err)
	}

	return res, nil
}

// get performs a GET request and decodes the JSON response.
func (c *HTTPClient) get(ctx context.Context, path string, result any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Transient(fmt.Errorf("GET %s:\n%w", path, err))
	}
	defer drain(resp)

	switch {
	case resp.StatusCode == http.StatusOK:
		return json.NewDecoder(resp.Body).Decode(result)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrUnknownAccount, errorMessage(resp.Body))
	case resp.StatusCode >= 500:
		return Transient(fmt.Errorf("GET %s: status %d", path, resp.StatusCode))
	default:
		return fmt.Errorf("GET %s: status %d: %s", path, resp.StatusCode, errorMessage(resp.Body))
	}
}

func errorMessage(body io.Reader) string {
	var e ErrorResponse
	if err := json.NewDecoder(io.LimitReader(body, 4096)).Decode(&e); err != nil || e.Error == "" {
		return "no details"
	}

	return e.Error
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

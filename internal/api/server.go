package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"Cosign/internal/account"
	"Cosign/internal/ledger"
	"Cosign/internal/logger"
)

// Server exposes a ledger over HTTP.
type Server struct {
	addr   string        // addr is the HTTP listen address
	ledger ledger.Client // ledger answers every request
	server *http.Server  // server is the underlying HTTP server
	ln     net.Listener  // ln is the bound listener once started
}

// New creates a new HTTP API server.
func New(addr string, l ledger.Client) *Server {
	return &Server{
		addr:   addr,
		ledger: l,
	}
}

// Handler returns the request router.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /tx", s.handleSubmitTx)
	mux.HandleFunc("GET /account/{id}/sequence", s.handleSequence)
	mux.HandleFunc("GET /account/{id}/signers", s.handleSigners)
	mux.HandleFunc("GET /health", s.handleHealth)

	return mux
}

// Start binds the listen address and serves in a goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s:\n%w", s.addr, err)
	}

	s.ln = ln
	s.server = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("http api started", "addr", ln.Addr())

		if err := s.server.Serve(ln); err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}

	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// handleSubmitTx handles POST /tx requests.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}

	if len(body) == 0 {
		writeRejection(w, http.StatusBadRequest, ledger.CodeMalformed, "empty transaction")
		return
	}

	if len(body) > maxTxSize {
		writeRejection(w, http.StatusBadRequest, ledger.CodeMalformed, "transaction too large")
		return
	}

	if _, err := validateTx(body); err != nil {
		writeRejection(w, http.StatusBadRequest, ledger.CodeMalformed, fmt.Sprintf("invalid transaction: %v", err))
		return
	}

	res, err := s.ledger.Submit(r.Context(), body)
	if err != nil {
		status := http.StatusInternalServerError
		if ledger.IsTransient(err) {
			status = http.StatusServiceUnavailable
		}

		logger.Warn("submit failed", "error", err)
		writeError(w, status, err.Error())

		return
	}

	status := http.StatusAccepted
	if !res.Accepted() {
		status = http.StatusConflict
	}

	writeJSON(w, status, ledger.NewSubmitResponse(res))
}

// handleSequence handles GET /account/{id}/sequence requests.
func (s *Server) handleSequence(w http.ResponseWriter, r *http.Request) {
	acct, ok := parseAccount(w, r)
	if !ok {
		return
	}

	seq, err := s.ledger.Sequence(r.Context(), acct)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ledger.SequenceResponse{Account: acct, Sequence: seq})
}

// handleSigners handles GET /account/{id}/signers requests.
func (s *Server) handleSigners(w http.ResponseWriter, r *http.Request) {
	acct, ok := parseAccount(w, r)
	if !ok {
		return
	}

	set, err := s.ledger.SignerList(r.Context(), acct)
	if err != nil {
		writeLedgerError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ledger.NewSignerListResponse(acct, set))
}

// handleHealth handles GET /health requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func parseAccount(w http.ResponseWriter, r *http.Request) (account.ID, bool) {
	acct, err := account.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return account.ID{}, false
	}

	return acct, true
}

func writeLedgerError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnknownAccount):
		writeError(w, http.StatusNotFound, err.Error())
	case ledger.IsTransient(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// writeRejection answers with a rejected SubmitResponse.
func writeRejection(w http.ResponseWriter, status int, code ledger.Code, reason string) {
	writeJSON(w, status, ledger.SubmitResponse{
		Status: ledger.StatusRejected,
		Code:   code,
		Reason: reason,
	})
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ledger.ErrorResponse{Error: message})
}

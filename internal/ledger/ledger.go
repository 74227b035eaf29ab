package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net"

	"Cosign/internal/account"
	"Cosign/internal/combiner"
	"Cosign/internal/envelope"
	"Cosign/internal/signerset"
	"Cosign/internal/signing"
)

var (
	// ErrTransientSubmission marks failures worth retrying with the same bytes:
	// transport errors, timeouts and server-side faults.
	ErrTransientSubmission = errors.New("transient submission failure")

	// ErrPermanentSubmission marks failures that retrying cannot fix.
	ErrPermanentSubmission = errors.New("permanent submission failure")

	// ErrUnknownAccount is returned for accounts the ledger does not hold.
	ErrUnknownAccount = errors.New("unknown account")

	// ErrAccountExists is returned when creating an account twice.
	ErrAccountExists = errors.New("account already exists")

	// ErrRejected is wrapped by SubmitResult.Err for ledger refusals.
	ErrRejected = errors.New("transaction rejected")
)

// Client is the ledger as seen by the authorization workflow.
type Client interface {
	// Sequence returns the next sequence the account may use.
	Sequence(ctx context.Context, acct account.ID) (uint64, error)

	// SignerList returns the account's active signer set.
	SignerList(ctx context.Context, acct account.ID) (*signerset.SignerSet, error)

	// Submit hands a combined transaction to the ledger. A nil error means the
	// ledger answered; the answer may still be a rejection.
	Submit(ctx context.Context, signed []byte) (SubmitResult, error)
}

// Status is the ledger's verdict on a submission.
type Status string

const (
	StatusAccepted Status = "accepted"
	StatusRejected Status = "rejected"
)

// Code names the reason for a rejection.
type Code string

const (
	CodeMalformed          Code = "malformed"
	CodeUnknownAccount     Code = "unknown_account"
	CodeStaleSequence      Code = "stale_sequence"
	CodeSequenceGap        Code = "sequence_gap"
	CodeSignerSetChanged   Code = "signer_set_changed"
	CodeQuorumNotReached   Code = "quorum_not_reached"
	CodeUnauthorizedSigner Code = "unauthorized_signer"
	CodeDuplicateSigner    Code = "duplicate_signer"
	CodeInvalidSignature   Code = "invalid_signature"
	CodeFingerprint        Code = "fingerprint_mismatch"
	CodeInvalidSignerList  Code = "invalid_signer_list"
)

// SubmitResult is the ledger's answer to a submission.
type SubmitResult struct {
	Status Status   // Status is accepted or rejected
	TxID   [32]byte // TxID is the transaction ID the ledger computed
	Code   Code     // Code classifies a rejection
	Reason string   // Reason is the ledger's human-readable explanation
}

// Accepted reports whether the ledger took the transaction.
func (r SubmitResult) Accepted() bool {
	return r.Status == StatusAccepted
}

// Err returns nil for accepted transactions, otherwise an error wrapping ErrRejected
// and, where the code maps to one, the matching domain error.
func (r SubmitResult) Err() error {
	if r.Accepted() {
		return nil
	}

	if cause := r.Code.cause(); cause != nil {
		return fmt.Errorf("%w: %w: %s", ErrRejected, cause, r.Reason)
	}

	return fmt.Errorf("%w (%s): %s", ErrRejected, r.Code, r.Reason)
}

// TxIDHex returns the transaction ID as hex.
func (r SubmitResult) TxIDHex() string {
	return hex.EncodeToString(r.TxID[:])
}

func (c Code) cause() error {
	switch c {
	case CodeStaleSequence, CodeSequenceGap:
		return envelope.ErrStaleSequence
	case CodeSignerSetChanged:
		return combiner.ErrSignerSetChanged
	case CodeQuorumNotReached:
		return combiner.ErrQuorumNotReached
	case CodeUnauthorizedSigner:
		return signing.ErrUnauthorizedSigner
	case CodeDuplicateSigner:
		return signerset.ErrDuplicateSigner
	case CodeInvalidSignature:
		return combiner.ErrInvalidSignature
	case CodeFingerprint:
		return combiner.ErrFingerprintMismatch
	case CodeUnknownAccount:
		return ErrUnknownAccount
	default:
		return nil
	}
}

// codeOf classifies a verification error into a rejection code.
func codeOf(err error) Code {
	switch {
	case errors.Is(err, combiner.ErrSignerSetChanged):
		return CodeSignerSetChanged
	case errors.Is(err, combiner.ErrQuorumNotReached):
		return CodeQuorumNotReached
	case errors.Is(err, signing.ErrUnauthorizedSigner):
		return CodeUnauthorizedSigner
	case errors.Is(err, signerset.ErrDuplicateSigner):
		return CodeDuplicateSigner
	case errors.Is(err, combiner.ErrFingerprintMismatch):
		return CodeFingerprint
	case errors.Is(err, combiner.ErrInvalidSignature):
		return CodeInvalidSignature
	case errors.Is(err, envelope.ErrStaleSequence):
		return CodeStaleSequence
	default:
		return CodeMalformed
	}
}

// IsTransient reports whether err is worth retrying unchanged.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrPermanentSubmission) {
		return false
	}

	if errors.Is(err, ErrTransientSubmission) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// Transient wraps err as a retryable submission failure.
func Transient(err error) error {
	return fmt.Errorf("%w:\n%w", ErrTransientSubmission, err)
}

// Package cosign carries signing requests between a coordinator and remote signers
// over the QUIC network.
package cosign

import (
	"encoding/binary"
	"errors"
	"fmt"

	"Cosign/internal/account"
	"Cosign/internal/envelope"
	"Cosign/internal/signing"
)

// Message types for the cosign protocol.
const (
	msgTypeSignRequest = 0x01 // Request for a partial signature
	msgTypeSignature   = 0x02 // Partial signature
	msgTypeDecline     = 0x03 // Signer refused
	msgTypeSettled     = 0x04 // Notice that a sequence was consumed
)

// Decline reasons.
const (
	ReasonNotMember     byte = 0x01 // Signer is not in the account's signer set
	ReasonStaleVersion  byte = 0x02 // Requester's signer set version differs from the signer's view
	ReasonStaleSequence byte = 0x03 // Sequence already consumed
	ReasonPolicy        byte = 0x04 // Signing policy refused the payload
	ReasonEquivocation  byte = 0x05 // Another envelope was already signed at this sequence
	ReasonUnavailable   byte = 0x06 // Signer could not reach its ledger
)

// ErrDeclined is returned when a signer refuses to sign.
var ErrDeclined = errors.New("signer declined")

// SignRequest asks a signer to endorse an envelope.
type SignRequest struct {
	Version  uint64             // Version is the signer set version the requester collects under
	Envelope *envelope.Envelope // Envelope is the transaction to sign
}

// EncodeSignRequest encodes a sign request.
// Format: [1B type] [8B version] [NB envelope]
func EncodeSignRequest(req *SignRequest) []byte {
	env := req.Envelope.Encode()

	buf := make([]byte, 9+len(env))
	buf[0] = msgTypeSignRequest
	binary.BigEndian.PutUint64(buf[1:9], req.Version)
	copy(buf[9:], env)

	return buf
}

// DecodeSignRequest decodes a sign request.
func DecodeSignRequest(data []byte) (*SignRequest, error) {
	if len(data) < 10 {
		return nil, fmt.Errorf("request too short: %d < 10", len(data))
	}

	if data[0] != msgTypeSignRequest {
		return nil, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}

	env, err := envelope.Decode(data[9:])
	if err != nil {
		return nil, fmt.Errorf("decode envelope:\n%w", err)
	}

	return &SignRequest{
		Version:  binary.BigEndian.Uint64(data[1:9]),
		Envelope: env,
	}, nil
}

// Decline is a signer's refusal.
type Decline struct {
	Reason  byte   // Reason is one of the Reason constants
	Message string // Message is a human-readable detail
}

// Error implements error. Declines match ErrDeclined.
func (d *Decline) Error() string {
	return fmt.Sprintf("signer declined (%s): %s", reasonName(d.Reason), d.Message)
}

// Is reports whether target is ErrDeclined.
func (d *Decline) Is(target error) bool {
	return target == ErrDeclined
}

// encodeSignature encodes a positive response.
// Format: [1B type] [NB partial signature]
func encodeSignature(p *signing.PartialSignature) []byte {
	return append([]byte{msgTypeSignature}, p.Encode()...)
}

// encodeDecline encodes a negative response.
// Format: [1B type] [1B reason] [NB message]
func encodeDecline(reason byte, message string) []byte {
	buf := make([]byte, 2+len(message))
	buf[0] = msgTypeDecline
	buf[1] = reason
	copy(buf[2:], message)

	return buf
}

// DecodeResponse decodes a signer response. A decline is returned as a *Decline error.
func DecodeResponse(data []byte) (*signing.PartialSignature, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("empty response")
	}

	switch data[0] {
	case msgTypeSignature:
		p, err := signing.Decode(data[1:])
		if err != nil {
			return nil, fmt.Errorf("decode partial:\n%w", err)
		}

		return p, nil

	case msgTypeDecline:
		if len(data) < 2 {
			return nil, fmt.Errorf("decline too short")
		}

		return nil, &Decline{Reason: data[1], Message: string(data[2:])}

	default:
		return nil, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}
}

// EncodeSettled encodes a settled notice: every sequence up to seq is consumed for acct.
// Format: [1B type] [20B account] [8B sequence]
func EncodeSettled(acct account.ID, seq uint64) []byte {
	buf := make([]byte, 1+account.Size+8)
	buf[0] = msgTypeSettled
	copy(buf[1:1+account.Size], acct[:])
	binary.BigEndian.PutUint64(buf[1+account.Size:], seq)

	return buf
}

// DecodeSettled decodes a settled notice.
func DecodeSettled(data []byte) (account.ID, uint64, error) {
	var acct account.ID

	if len(data) != 1+account.Size+8 {
		return acct, 0, fmt.Errorf("settled notice size %d", len(data))
	}

	if data[0] != msgTypeSettled {
		return acct, 0, fmt.Errorf("invalid message type: 0x%02x", data[0])
	}

	copy(acct[:], data[1:1+account.Size])

	return acct, binary.BigEndian.Uint64(data[1+account.Size:]), nil
}

func reasonName(r byte) string {
	switch r {
	case ReasonNotMember:
		return "not a member"
	case ReasonStaleVersion:
		return "stale signer set"
	case ReasonStaleSequence:
		return "stale sequence"
	case ReasonPolicy:
		return "policy"
	case ReasonEquivocation:
		return "equivocation"
	case ReasonUnavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("reason 0x%02x", r)
	}
}

package account

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/zeebo/blake3"
)

const (
	// Size is the length of an account identifier in bytes.
	Size = 20

	// versionByte prefixes the text encoding so that account strings are recognizable.
	versionByte = 0x1c

	// checksumSize is the number of BLAKE3 bytes appended to the text encoding.
	checksumSize = 4
)

// ErrInvalidID is returned when an account string or byte slice cannot be parsed.
var ErrInvalidID = errors.New("invalid account id")

// ID identifies a ledger account or signer.
type ID [Size]byte

// FromPublicKey derives the account ID controlled by a public key.
// The ID is the first 20 bytes of BLAKE3("cosign-account" || publicKey).
func FromPublicKey(publicKey []byte) ID {
	h := blake3.New()
	h.Write([]byte("cosign-account"))
	h.Write(publicKey)

	var sum [32]byte
	h.Sum(sum[:0])

	var id ID
	copy(id[:], sum[:Size])

	return id
}

// FromBytes converts a raw 20-byte slice into an ID.
func FromBytes(b []byte) (ID, error) {
	var id ID
	if len(b) != Size {
		return id, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidID, len(b), Size)
	}

	copy(id[:], b)

	return id, nil
}

// Parse decodes the base58check text form produced by String.
func Parse(s string) (ID, error) {
	var id ID

	raw, err := base58.Decode(s)
	if err != nil {
		return id, fmt.Errorf("%w: %q:\n%w", ErrInvalidID, s, err)
	}

	if len(raw) != 1+Size+checksumSize || raw[0] != versionByte {
		return id, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}

	want := checksum(raw[:1+Size])
	if !bytes.Equal(raw[1+Size:], want[:]) {
		return id, fmt.Errorf("%w: bad checksum in %q", ErrInvalidID, s)
	}

	copy(id[:], raw[1:1+Size])

	return id, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) ID {
	id, err := Parse(s)
	if err != nil {
		panic(err)
	}

	return id
}

// String returns the base58check encoding: version || id || checksum.
func (id ID) String() string {
	buf := make([]byte, 0, 1+Size+checksumSize)
	buf = append(buf, versionByte)
	buf = append(buf, id[:]...)

	sum := checksum(buf)
	buf = append(buf, sum[:]...)

	return base58.Encode(buf)
}

// Bytes returns a copy of the raw identifier.
func (id ID) Bytes() []byte {
	b := make([]byte, Size)
	copy(b, id[:])
	return b
}

// IsZero reports whether the ID is unset.
func (id ID) IsZero() bool {
	return id == ID{}
}

// Compare orders IDs lexicographically by their raw bytes.
func (id ID) Compare(other ID) int {
	return bytes.Compare(id[:], other[:])
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}

// checksum returns the first bytes of BLAKE3(data).
func checksum(data []byte) [checksumSize]byte {
	sum := blake3.Sum256(data)

	var out [checksumSize]byte
	copy(out[:], sum[:checksumSize])

	return out
}

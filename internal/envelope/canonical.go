package envelope

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// CanonicalJSON encodes v with sorted object keys and no insignificant whitespace,
// so that equal structures always produce the same payload bytes.
// Numbers keep their literal form.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal payload:\n%w", err)
	}

	return CanonicalizeJSON(raw)
}

// CanonicalizeJSON rewrites an existing JSON document into canonical form.
func CanonicalizeJSON(raw []byte) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, fmt.Errorf("decode payload:\n%w", err)
	}

	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON payload")
	}

	var buf bytes.Buffer

	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	// Maps are emitted with sorted keys.
	if err := enc.Encode(generic); err != nil {
		return nil, fmt.Errorf("encode payload:\n%w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Package hasher provides the content-addressing primitive shared by the
// ledger, the consent authority and the consensus engine.
//
// Every structured value is hashed through its canonical JSON form: object
// keys sorted at every depth, no insignificant whitespace, no HTML escaping.
// Two values that are structurally equal hash identically regardless of the
// order their fields or keys were produced in.
package hasher

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Canonical returns the canonical JSON encoding of v.
func Canonical(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal value: %w", err)
	}

	// Round-trip through a generic tree so struct field order is replaced by
	// sorted map keys. UseNumber keeps numeric literals verbatim.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var tree any
	if err := dec.Decode(&tree); err != nil {
		return nil, fmt.Errorf("failed to decode value: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, fmt.Errorf("failed to encode canonical value: %w", err)
	}

	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// Sum returns the hex SHA-256 digest of the canonical JSON encoding of v.
func Sum(v any) (string, error) {
	b, err := Canonical(v)
	if err != nil {
		return "", err
	}
	return SumBytes(b), nil
}

// MustSum is like Sum but panics if v cannot be serialized. Values handed to
// it are ledger types whose encoding cannot fail.
func MustSum(v any) string {
	s, err := Sum(v)
	if err != nil {
		panic(fmt.Sprintf("hasher: %v", err))
	}
	return s
}

// SumString returns the hex SHA-256 digest of the UTF-8 bytes of s.
func SumString(s string) string {
	return SumBytes([]byte(s))
}

// SumBytes returns the hex SHA-256 digest of b.
func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Fingerprint returns a short diagnostic identifier for s.
func Fingerprint(s string) string {
	return SumString(s)[:8]
}

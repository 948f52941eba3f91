// Package canonical provides RFC 8785 (JSON Canonicalization Scheme)
// serialization and SHA-256 helpers. Every digest in the gate — policy
// hashes, signing payloads, evidence hashes, replay digests — goes through
// this package so that byte-level determinism holds across invocations.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
)

// Stringify returns the canonical JSON form of v: object keys sorted,
// arrays in order, numbers in their minimal form, no HTML escaping.
func Stringify(v any) (string, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical: pre-marshal failed: %w", err)
	}
	out, err := jcs.Transform(intermediate)
	if err != nil {
		return "", fmt.Errorf("canonical: transform failed: %w", err)
	}
	return string(out), nil
}

// HashJSON returns the lowercase-hex SHA-256 of the canonical form of v.
func HashJSON(v any) (string, error) {
	s, err := Stringify(v)
	if err != nil {
		return "", err
	}
	return HashBytes([]byte(s)), nil
}

// HashBytes returns the lowercase-hex SHA-256 of raw bytes.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

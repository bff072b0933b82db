// Package canonical produces RFC 8785 canonical JSON bytes and the
// content hash derived from them. Every evidence payload, prompt, and
// stored JSON column in VoxCortex is hashed through this package so that
// identical logical values always produce identical bytes, regardless of
// process or machine.
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/text/unicode/norm"
)

// JCS returns the RFC 8785 canonical JSON representation of v: keys sorted
// lexicographically at every level, no insignificant whitespace, UTF-8, and
// no ASCII-escaping of non-ASCII characters.
func JCS(v interface{}) ([]byte, error) {
	normalized, err := normalizeStrings(v)
	if err != nil {
		return nil, fmt.Errorf("canonical: normalize: %w", err)
	}

	raw, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("canonical: marshal: %w", err)
	}

	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonical: jcs transform: %w", err)
	}
	return out, nil
}

// JCSString returns the canonical form as a string.
func JCSString(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Hash returns the lowercase hex SHA-256 digest of the canonical
// serialization of v.
func Hash(v interface{}) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

// HashBytes returns the lowercase hex SHA-256 digest of raw.
func HashBytes(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// normalizeStrings walks v (after a generic round-trip through
// encoding/json) and applies Unicode NFC normalization to every string
// value it finds, so that byte-distinct but canonically-equivalent text
// (e.g. combining vs. precomposed accents in an alert message) always
// hashes the same way. Non-string, non-container values are returned
// unchanged.
func normalizeStrings(v interface{}) (interface{}, error) {
	pre, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(pre))
	dec.UseNumber()
	var generic interface{}
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}

	return walkNormalize(generic), nil
}

func walkNormalize(v interface{}) interface{} {
	switch t := v.(type) {
	case string:
		return norm.NFC.String(t)
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, elem := range t {
			out[i] = walkNormalize(elem)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, elem := range t {
			out[norm.NFC.String(k)] = walkNormalize(elem)
		}
		return out
	default:
		return v
	}
}

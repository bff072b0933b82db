package evidence

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"

	"github.com/vsenthil7/voxcortex/internal/domain"
)

// Signer produces a provenance signature over a canonical message and
// reports which mode it operates in.
type Signer interface {
	Sign(msg []byte) (signature string, mode domain.SignatureMode)
}

// HMACSigner signs with HMAC-SHA256 using an operator-provided key. Keys of
// any length are stretched to 32 bytes with HKDF-SHA256 so operators aren't
// forced to provision an exact-length secret.
type HMACSigner struct {
	key []byte
}

// NewHMACSigner derives a 32-byte HMAC key from a base64-encoded secret.
func NewHMACSigner(keyB64 string) (*HMACSigner, error) {
	raw, err := base64.StdEncoding.DecodeString(keyB64)
	if err != nil {
		return nil, fmt.Errorf("evidence: decode signing key: %w", err)
	}
	stretched := make([]byte, 32)
	kdf := hkdf.New(sha256.New, raw, nil, []byte("voxcortex-evidence-provenance"))
	if _, err := io.ReadFull(kdf, stretched); err != nil {
		return nil, fmt.Errorf("evidence: stretch signing key: %w", err)
	}
	return &HMACSigner{key: stretched}, nil
}

func (s *HMACSigner) Sign(msg []byte) (string, domain.SignatureMode) {
	mac := hmac.New(sha256.New, s.key)
	mac.Write(msg)
	return hex.EncodeToString(mac.Sum(nil)), domain.SignatureModeHMAC
}

// PlainDigestSigner is the local/dev fallback when no signing key is
// configured: it "signs" with a plain SHA-256 digest of the message so
// provenance rows are never written without a signature column, but the
// mode column records that this isn't cryptographically authenticated.
type PlainDigestSigner struct{}

func (PlainDigestSigner) Sign(msg []byte) (string, domain.SignatureMode) {
	sum := sha256.Sum256(msg)
	return hex.EncodeToString(sum[:]), domain.SignatureModePlain
}

// NewSigner picks HMACSigner when a signing key is configured, otherwise
// falls back to PlainDigestSigner.
func NewSigner(keyB64 string) (Signer, error) {
	if keyB64 == "" {
		return PlainDigestSigner{}, nil
	}
	return NewHMACSigner(keyB64)
}

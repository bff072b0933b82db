package evidence

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vsenthil7/voxcortex/internal/canonical"
	"github.com/vsenthil7/voxcortex/internal/domain"
)

// CertificateClaims is the payload of an exported evidence certificate: a
// verifiable statement that a given trace's evidence chain hashed to a
// specific digest at issuance time.
type CertificateClaims struct {
	jwt.RegisteredClaims
	TraceID     string   `json:"trace_id"`
	EvidenceIDs []string `json:"evidence_ids"`
	ChainSHA256 string   `json:"chain_sha256"`
}

// CertificateIssuer signs evidence certificates with the same key material
// as provenance signing, so an exported certificate can only have been
// minted by a process holding EVIDENCE_SIGNING_KEY_B64.
type CertificateIssuer struct {
	hmacKey []byte
}

// NewCertificateIssuer builds an issuer backed by the HMAC signer's
// stretched key. Plain-digest mode (no signing key configured) still
// issues certificates, but there is no HMAC key, so a fixed, clearly
// dev-only key is substituted — callers must treat such certificates as
// unverifiable in production.
func NewCertificateIssuer(signer Signer) *CertificateIssuer {
	if hs, ok := signer.(*HMACSigner); ok {
		return &CertificateIssuer{hmacKey: hs.key}
	}
	return &CertificateIssuer{hmacKey: []byte("voxcortex-dev-insecure-certificate-key")}
}

// Issue mints a signed certificate string for a trace's evidence chain.
func (i *CertificateIssuer) Issue(traceID string, evidenceIDs []string, chainSHA256 string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := CertificateClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   traceID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "voxcortex.evidencevault",
		},
		TraceID:     traceID,
		EvidenceIDs: evidenceIDs,
		ChainSHA256: chainSHA256,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.hmacKey)
	if err != nil {
		return "", fmt.Errorf("evidence: sign certificate: %w", err)
	}
	return signed, nil
}

// Verify parses and validates a certificate previously issued by Issue.
func (i *CertificateIssuer) Verify(tokenString string) (*CertificateClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CertificateClaims{}, func(t *jwt.Token) (interface{}, error) {
		return i.hmacKey, nil
	})
	if err != nil {
		return nil, fmt.Errorf("evidence: verify certificate: %w", err)
	}
	claims, ok := token.Claims.(*CertificateClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

// ChainHash computes the deterministic digest over an ordered list of
// evidence sha256 hashes, the value a certificate attests to.
func ChainHash(evidence []domain.EvidenceSnapshot) (string, error) {
	hashes := make([]string, len(evidence))
	for i, e := range evidence {
		hashes[i] = e.SHA256
	}
	return canonical.Hash(hashes)
}

// Package evidence implements the content-addressed evidence snapshot
// store and its provenance trail: every payload the pipeline touches is
// canonicalized, hashed, persisted idempotently by hash, and signed.
package evidence

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/vsenthil7/voxcortex/internal/canonical"
	"github.com/vsenthil7/voxcortex/internal/domain"
	"github.com/vsenthil7/voxcortex/internal/identity"
	"github.com/vsenthil7/voxcortex/internal/store"
)

// Store persists evidence snapshots and their provenance.
type Store struct {
	pool   *store.Pool
	signer Signer
	actor  string
}

// NewStore builds an evidence Store. actor identifies this process in the
// provenance trail (e.g. "phase0-worker").
func NewStore(pool *store.Pool, signer Signer, actor string) *Store {
	return &Store{pool: pool, signer: signer, actor: actor}
}

// Snapshot canonicalizes payload, persists it idempotently keyed by its
// sha256 (a replay of the same logical payload reuses the existing
// evidence_id), and writes a signed provenance row. Returns the resulting
// snapshot and provenance record.
func (s *Store) Snapshot(ctx context.Context, traceID string, payload interface{}) (domain.EvidenceSnapshot, domain.EvidenceProvenance, error) {
	canon, err := canonical.JCSString(payload)
	if err != nil {
		return domain.EvidenceSnapshot{}, domain.EvidenceProvenance{}, fmt.Errorf("evidence: canonicalize: %w", err)
	}
	sha := canonical.HashBytes([]byte(canon))

	evidenceID := identity.New(identity.PrefixEvidence)
	now := time.Now().UTC()

	query := s.pool.Rebind(`
		INSERT INTO evidence_snapshots (evidence_id, trace_id, sha256, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (sha256) DO UPDATE SET trace_id = EXCLUDED.trace_id
		RETURNING evidence_id, trace_id, sha256, payload, created_at
	`)

	var snap domain.EvidenceSnapshot
	row := s.pool.DB.QueryRowContext(ctx, query, evidenceID, traceID, sha, canon, now)
	if err := row.Scan(&snap.EvidenceID, &snap.TraceID, &snap.SHA256, &snap.Payload, &snap.CreatedAt); err != nil {
		return domain.EvidenceSnapshot{}, domain.EvidenceProvenance{}, fmt.Errorf("evidence: snapshot upsert: %w", err)
	}

	prov, err := s.recordProvenance(ctx, snap)
	if err != nil {
		return domain.EvidenceSnapshot{}, domain.EvidenceProvenance{}, err
	}

	return snap, prov, nil
}

func (s *Store) recordProvenance(ctx context.Context, snap domain.EvidenceSnapshot) (domain.EvidenceProvenance, error) {
	// The plain-digest fallback signs "evidence_id:sha256"; a keyed signer
	// signs the canonical {evidence_id, sha256, actor} message. Neither
	// includes trace_id, so the same payload always signs the same way.
	msg := []byte(snap.EvidenceID + ":" + snap.SHA256)
	if _, plain := s.signer.(PlainDigestSigner); !plain {
		var err error
		msg, err = canonical.JCS(map[string]string{
			"evidence_id": snap.EvidenceID,
			"sha256":      snap.SHA256,
			"actor":       s.actor,
		})
		if err != nil {
			return domain.EvidenceProvenance{}, fmt.Errorf("evidence: canonicalize provenance message: %w", err)
		}
	}
	signature, mode := s.signer.Sign(msg)
	now := time.Now().UTC()

	query := s.pool.Rebind(`
		INSERT INTO evidence_provenance (evidence_id, sha256, actor, signature, mode, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (evidence_id) DO NOTHING
	`)
	if _, err := s.pool.DB.ExecContext(ctx, query, snap.EvidenceID, snap.SHA256, s.actor, signature, string(mode), now); err != nil {
		return domain.EvidenceProvenance{}, fmt.Errorf("evidence: provenance insert: %w", err)
	}

	existing, err := s.Provenance(ctx, snap.EvidenceID)
	if err != nil {
		return domain.EvidenceProvenance{}, err
	}
	return existing, nil
}

// Provenance loads the provenance row for an evidence_id.
func (s *Store) Provenance(ctx context.Context, evidenceID string) (domain.EvidenceProvenance, error) {
	query := s.pool.Rebind(`
		SELECT evidence_id, sha256, actor, signature, mode, created_at
		FROM evidence_provenance WHERE evidence_id = $1
	`)
	var p domain.EvidenceProvenance
	var mode string
	row := s.pool.DB.QueryRowContext(ctx, query, evidenceID)
	if err := row.Scan(&p.EvidenceID, &p.SHA256, &p.Actor, &p.Signature, &mode, &p.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.EvidenceProvenance{}, fmt.Errorf("evidence: no provenance for %s", evidenceID)
		}
		return domain.EvidenceProvenance{}, fmt.Errorf("evidence: load provenance: %w", err)
	}
	p.Mode = domain.SignatureMode(mode)
	return p, nil
}

// Get loads a snapshot by evidence_id.
func (s *Store) Get(ctx context.Context, evidenceID string) (domain.EvidenceSnapshot, error) {
	query := s.pool.Rebind(`
		SELECT evidence_id, trace_id, sha256, payload, created_at
		FROM evidence_snapshots WHERE evidence_id = $1
	`)
	var snap domain.EvidenceSnapshot
	row := s.pool.DB.QueryRowContext(ctx, query, evidenceID)
	if err := row.Scan(&snap.EvidenceID, &snap.TraceID, &snap.SHA256, &snap.Payload, &snap.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.EvidenceSnapshot{}, fmt.Errorf("evidence: not found: %s", evidenceID)
		}
		return domain.EvidenceSnapshot{}, fmt.Errorf("evidence: get: %w", err)
	}
	return snap, nil
}

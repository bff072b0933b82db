// Package hypothesis persists model-proposed candidate explanations,
// deduplicated by the unique constraint on (belief_id, ai_call_audit_id,
// hypothesis) over the trimmed hypothesis text.
package hypothesis

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/vsenthil7/voxcortex/internal/canonical"
	"github.com/vsenthil7/voxcortex/internal/domain"
	"github.com/vsenthil7/voxcortex/internal/store"
)

// Store persists hypotheses, one row per hypothesis extracted from an
// accepted model call.
type Store struct {
	pool *store.Pool
}

func NewStore(pool *store.Pool) *Store {
	return &Store{pool: pool}
}

// candidate is one extracted hypothesis ready for insertion.
type candidate struct {
	text        string
	confidence  *float64
	evidenceIDs []string
}

// candidatesFrom extracts the hypothesis rows to persist from a validated
// explanation. The model may return either the plural `hypotheses` array
// or a single top-level hypothesis/confidence/evidence_ids — both are
// accepted, and the array takes precedence when both are present. Each
// candidate's text is trimmed; a candidate with no evidence_ids of its own
// inherits the parent explanation's.
func candidatesFrom(validated domain.ValidatedExplanation) []candidate {
	if len(validated.Hypotheses) > 0 {
		out := make([]candidate, 0, len(validated.Hypotheses))
		for _, h := range validated.Hypotheses {
			evidenceIDs := h.EvidenceIDs
			if len(evidenceIDs) == 0 {
				evidenceIDs = validated.EvidenceIDs
			}
			out = append(out, candidate{
				text:        strings.TrimSpace(h.Hypothesis),
				confidence:  h.Confidence,
				evidenceIDs: evidenceIDs,
			})
		}
		return out
	}
	if strings.TrimSpace(validated.Hypothesis) == "" {
		return nil
	}
	return []candidate{{
		text:        strings.TrimSpace(validated.Hypothesis),
		confidence:  validated.Confidence,
		evidenceIDs: validated.EvidenceIDs,
	}}
}

// Persist writes one hypothesis row per candidate extracted from
// validated, skipping any whose text is empty after trimming. Dedup is
// enforced by the (belief_id, ai_call_audit_id, hypothesis) unique
// constraint — a retried or replayed call that produced byte-identical
// hypothesis text for the same audit row is a no-op, not a duplicate.
// Returns the number of rows actually inserted.
func (s *Store) Persist(ctx context.Context, traceID, beliefID string, aiCallAuditID int64, validated domain.ValidatedExplanation) (int, error) {
	query := s.pool.Rebind(`
		INSERT INTO hypotheses (trace_id, belief_id, ai_call_audit_id, hypothesis, confidence, evidence_ids, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (belief_id, ai_call_audit_id, hypothesis) DO NOTHING
	`)

	payload, err := canonical.JCSString(validated)
	if err != nil {
		return 0, fmt.Errorf("hypothesis: canonicalize payload: %w", err)
	}

	nInserted := 0
	for _, c := range candidatesFrom(validated) {
		if c.text == "" {
			continue
		}
		evidenceIDsJSON, err := json.Marshal(c.evidenceIDs)
		if err != nil {
			return nInserted, fmt.Errorf("hypothesis: marshal evidence_ids: %w", err)
		}

		res, err := s.pool.DB.ExecContext(ctx, query,
			traceID, beliefID, aiCallAuditID, c.text, c.confidence, string(evidenceIDsJSON), payload,
		)
		if err != nil {
			return nInserted, fmt.Errorf("hypothesis: insert: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			nInserted++
		}
	}
	return nInserted, nil
}

// Latest loads the most recently created hypothesis for a belief within a
// trace, the row the promoter decides on.
func (s *Store) Latest(ctx context.Context, traceID, beliefID string) (domain.Hypothesis, error) {
	query := s.pool.Rebind(`
		SELECT id, trace_id, belief_id, ai_call_audit_id, hypothesis, confidence, evidence_ids, payload, created_at
		FROM hypotheses
		WHERE trace_id = $1 AND belief_id = $2
		ORDER BY created_at DESC
		LIMIT 1
	`)

	var h domain.Hypothesis
	var evidenceIDsJSON string
	row := s.pool.DB.QueryRowContext(ctx, query, traceID, beliefID)
	if err := row.Scan(&h.ID, &h.TraceID, &h.BeliefID, &h.AiCallAuditID, &h.HypothesisText, &h.Confidence, &evidenceIDsJSON, &h.Payload, &h.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return domain.Hypothesis{}, fmt.Errorf("hypothesis: no hypothesis for belief %s: %w", beliefID, err)
		}
		return domain.Hypothesis{}, fmt.Errorf("hypothesis: load latest: %w", err)
	}
	if err := json.Unmarshal([]byte(evidenceIDsJSON), &h.EvidenceIDs); err != nil {
		return domain.Hypothesis{}, fmt.Errorf("hypothesis: decode evidence_ids: %w", err)
	}
	return h, nil
}

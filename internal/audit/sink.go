// Package audit writes the immutable ai_call_audit row for every model
// call VoxCortex makes, accepted or rejected by the policy gate. Nothing
// ever updates or deletes from this table.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vsenthil7/voxcortex/internal/canonical"
	"github.com/vsenthil7/voxcortex/internal/domain"
	"github.com/vsenthil7/voxcortex/internal/store"
)

// promptPreviewLimit bounds the prompt_preview column so a pathological
// prompt can't blow up audit row size.
const promptPreviewLimit = 4000

// Sink records ai_call_audit rows.
type Sink struct {
	pool *store.Pool
}

func NewSink(pool *store.Pool) *Sink {
	return &Sink{pool: pool}
}

// CallInput describes one model call, before or after policy validation.
type CallInput struct {
	TraceID      string
	Phase        string
	ModelName    string
	Prompt       string
	RawOutput    string
	ParsedJSON   interface{} // nil if the policy gate rejected the output
	PolicyStatus domain.PolicyStatus
	PolicyError  string // empty if accepted
}

// Record writes the audit row and returns its id, which downstream
// hypothesis/promotion rows reference by foreign key.
func (s *Sink) Record(ctx context.Context, in CallInput) (int64, error) {
	promptHash := canonical.HashBytes([]byte(in.Prompt))
	preview := in.Prompt
	if len(preview) > promptPreviewLimit {
		preview = preview[:promptPreviewLimit]
	}

	var parsedText *string
	if in.ParsedJSON != nil {
		raw, err := json.Marshal(in.ParsedJSON)
		if err != nil {
			return 0, fmt.Errorf("audit: marshal parsed_json: %w", err)
		}
		s := string(raw)
		parsedText = &s
	}

	var policyError *string
	if in.PolicyError != "" {
		policyError = &in.PolicyError
	}

	query := s.pool.Rebind(`
		INSERT INTO ai_call_audit (
			trace_id, phase, model_name, prompt_hash, prompt_preview,
			raw_output, parsed_json, policy_status, policy_error
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`)

	var id int64
	row := s.pool.DB.QueryRowContext(ctx, query,
		in.TraceID, in.Phase, in.ModelName, promptHash, preview,
		in.RawOutput, parsedText, string(in.PolicyStatus), policyError,
	)
	if err := row.Scan(&id); err != nil {
		return 0, fmt.Errorf("audit: insert ai_call_audit: %w", err)
	}
	return id, nil
}

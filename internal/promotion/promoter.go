// Package promotion computes the deterministic PROMOTE/HOLD/REJECT
// decision for a belief's latest hypothesis. The decision expression is
// compiled once with CEL, defaulting to the spec's fixed thresholds but
// overridable by an operator-supplied policy file — the decision is
// always a pure function of confidence, never a model call.
package promotion

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/cel-go/cel"

	"github.com/vsenthil7/voxcortex/internal/domain"
	"github.com/vsenthil7/voxcortex/internal/store"
)

func marshalEvidenceIDs(ids []string) (string, error) {
	if ids == nil {
		ids = []string{}
	}
	b, err := json.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("promotion: marshal evidence_ids: %w", err)
	}
	return string(b), nil
}

// Default thresholds, matching the original deterministic policy:
//
//	confidence >= 0.85 -> PROMOTE
//	confidence >= 0.60 -> HOLD
//	confidence <  0.60 -> REJECT
const defaultExpression = `
confidence >= 0.85 ? "PROMOTE" :
(confidence >= 0.60 ? "HOLD" : "REJECT")
`

// Promoter evaluates and persists belief promotion decisions.
type Promoter struct {
	pool    *store.Pool
	env     *cel.Env
	program cel.Program
}

// NewPromoter compiles the decision expression once. An empty expr falls
// back to defaultExpression.
func NewPromoter(pool *store.Pool, expr string) (*Promoter, error) {
	if expr == "" {
		expr = defaultExpression
	}

	env, err := cel.NewEnv(cel.Variable("confidence", cel.DoubleType))
	if err != nil {
		return nil, fmt.Errorf("promotion: new cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("promotion: compile decision expression: %w", issues.Err())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("promotion: build cel program: %w", err)
	}

	return &Promoter{pool: pool, env: env, program: program}, nil
}

// decide evaluates the compiled expression and maps its string result to
// a domain.Decision plus a reason string mirroring the default policy's.
func (p *Promoter) decide(confidence float64) (domain.Decision, string, error) {
	out, _, err := p.program.Eval(map[string]interface{}{"confidence": confidence})
	if err != nil {
		return "", "", fmt.Errorf("promotion: eval decision expression: %w", err)
	}
	decision := domain.Decision(fmt.Sprintf("%v", out.Value()))

	var reason string
	switch decision {
	case domain.DecisionPromote:
		reason = "confidence>=0.85"
	case domain.DecisionHold:
		reason = "0.60<=confidence<0.85"
	case domain.DecisionReject:
		reason = "confidence<0.60"
	default:
		return "", "", fmt.Errorf("promotion: decision expression returned unrecognized value %q", decision)
	}
	return decision, reason, nil
}

// PromoteLatest evaluates the decision for latest, the caller-supplied
// latest hypothesis of (traceID, beliefID), and persists it idempotently (a
// promotion row keyed by (belief_id, hypothesis_id) is never overwritten).
// It does not load the hypothesis itself; the caller skips promotion when
// the belief has no hypothesis yet.
func (p *Promoter) PromoteLatest(ctx context.Context, traceID, beliefID string, latest domain.Hypothesis) (*domain.BeliefPromotion, error) {
	confidence := 0.0
	if latest.Confidence != nil {
		confidence = *latest.Confidence
	}

	decision, reason, err := p.decide(confidence)
	if err != nil {
		return nil, err
	}

	promotion := domain.BeliefPromotion{
		BeliefID:           beliefID,
		HypothesisID:       latest.ID,
		TraceID:            traceID,
		AiCallAuditID:      latest.AiCallAuditID,
		Decision:           decision,
		DecisionReason:     reason,
		PromotedConfidence: confidence,
		EvidenceIDs:        latest.EvidenceIDs,
	}

	if err := p.persist(ctx, promotion); err != nil {
		return nil, err
	}
	return &promotion, nil
}

func (p *Promoter) persist(ctx context.Context, promo domain.BeliefPromotion) error {
	evidenceIDsJSON, err := marshalEvidenceIDs(promo.EvidenceIDs)
	if err != nil {
		return err
	}

	query := p.pool.Rebind(`
		INSERT INTO belief_promotions (
			belief_id, hypothesis_id, trace_id, ai_call_audit_id,
			decision, decision_reason, promoted_confidence, evidence_ids
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (belief_id, hypothesis_id) DO NOTHING
	`)
	if _, err := p.pool.DB.ExecContext(ctx, query,
		promo.BeliefID, promo.HypothesisID, promo.TraceID, promo.AiCallAuditID,
		string(promo.Decision), promo.DecisionReason, promo.PromotedConfidence, evidenceIDsJSON,
	); err != nil {
		return fmt.Errorf("promotion: insert belief_promotions: %w", err)
	}
	return nil
}

// Package reasoner drives the single model call VoxCortex ever makes: one
// belief, its supporting evidence, one prompt, one response, validated
// through the policy gate before anything downstream trusts it. The
// contract never breaks the pipeline — a timed-out, rate-limited, or
// otherwise unreachable call, and a policy-rejected one, all degrade to a
// safe placeholder explanation instead of propagating an error past this
// package.
package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/vsenthil7/voxcortex/internal/audit"
	"github.com/vsenthil7/voxcortex/internal/domain"
	"github.com/vsenthil7/voxcortex/internal/hypothesis"
	"github.com/vsenthil7/voxcortex/internal/llm"
	"github.com/vsenthil7/voxcortex/internal/llm/modelpolicy"
	"github.com/vsenthil7/voxcortex/internal/logging"
	"github.com/vsenthil7/voxcortex/internal/policy"
)

// callTimeout bounds a single model call, independent of the caller's ctx.
const callTimeout = 30 * time.Second

const phaseExplain = "explain"

// Gateway wires the model client through the rate limiter, the policy
// gate, and the audit sink, and persists accepted hypotheses.
type Gateway struct {
	client     llm.Client
	model      string
	enforcer   *modelpolicy.Enforcer
	gate       *policy.Gate
	auditSink  *audit.Sink
	hypotheses *hypothesis.Store
}

func NewGateway(client llm.Client, model string, enforcer *modelpolicy.Enforcer, gate *policy.Gate, auditSink *audit.Sink, hypotheses *hypothesis.Store) *Gateway {
	return &Gateway{
		client:     client,
		model:      model,
		enforcer:   enforcer,
		gate:       gate,
		auditSink:  auditSink,
		hypotheses: hypotheses,
	}
}

// degradedExplanation is the safe-fail placeholder returned when the
// upstream model is rate-limited or the policy gate rejects its output.
// The system continues; no action is ever implied.
func degradedExplanation(reason string) domain.ValidatedExplanation {
	return domain.ValidatedExplanation{
		Explanation: "Explanation deferred: " + reason + ". This explanation is system-generated and non-actionable.",
		ConfidenceLanguage: map[string]interface{}{
			"level":       "unknown",
			"calibration": "blocked",
		},
		EvidenceIDs:           []string{},
		WhatWouldChangeMyMind: []string{"Retry once the underlying condition clears."},
	}
}

// Explain runs one bounded model call for belief, grounded in evidence,
// and returns a trusted explanation. A timed-out, rate-limited, or
// otherwise unreachable model call, and a policy-rejected response, all
// degrade to a safe explanation rather than propagating an error; an
// audit-write or hypothesis-persist failure is logged and swallowed too,
// so the only errors Explain ever returns are prompt-build and
// rate-limiter failures the pipeline genuinely cannot proceed past.
func (g *Gateway) Explain(ctx context.Context, belief domain.Belief, evidenceSnapshots []domain.EvidenceSnapshot) (domain.ValidatedExplanation, error) {
	log := logging.FromContext(ctx)

	prompt, err := buildPrompt(belief, evidenceSnapshots)
	if err != nil {
		return domain.ValidatedExplanation{}, fmt.Errorf("reasoner: build prompt: %w", err)
	}

	if err := g.enforcer.Allow(ctx, g.model); err != nil {
		return domain.ValidatedExplanation{}, fmt.Errorf("reasoner: rate limiter: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	rawText, callErr := g.client.Generate(callCtx, g.model, prompt)

	// Any upstream failure — timeout, rate limit, or other network/quota
	// error — is ExternalUnavailable: it degrades to the same safe fallback
	// rather than aborting the event. Only the recorded policy_error
	// distinguishes a timeout from the rest.
	if callErr != nil {
		policyErr := callErr.Error()
		if llm.IsTimeout(callErr) {
			policyErr = "timeout"
		}
		log.Warn("reasoner call failed upstream, degrading", "trace_id", belief.TraceID, "belief_id", belief.BeliefID, "error", callErr)
		g.recordAuditBestEffort(ctx, belief, prompt, "", nil, domain.PolicyStatusRejected, policyErr)
		return degradedExplanation("deferred due to upstream rate limits"), nil
	}

	validated, policyErr := g.gate.Validate(ctx, rawText)
	if policyErr != nil {
		log.Warn("policy gate rejected model output", "trace_id", belief.TraceID, "belief_id", belief.BeliefID, "reason", policyErr.Error())
		g.recordAuditBestEffort(ctx, belief, prompt, rawText, nil, domain.PolicyStatusRejected, policyErr.Error())
		return degradedExplanation("the response violated output policy"), nil
	}

	auditID, auditErr := g.recordAudit(ctx, belief, prompt, rawText, validated, domain.PolicyStatusAccepted, "")
	if auditErr != nil {
		log.Error("ai_call_audit write failed, continuing without it", "trace_id", belief.TraceID, "belief_id", belief.BeliefID, "error", auditErr)
		return validated, nil
	}

	if _, err := g.hypotheses.Persist(ctx, belief.TraceID, belief.BeliefID, auditID, validated); err != nil {
		log.Error("hypothesis persist failed, continuing", "trace_id", belief.TraceID, "belief_id", belief.BeliefID, "error", err)
	}

	return validated, nil
}

// recordAuditBestEffort records an audit row for a degraded (rejected or
// upstream-failed) call, logging and swallowing a write failure: audit
// durability is the one thing this pipeline may silently lose rather than
// abort an otherwise safely-degraded event.
func (g *Gateway) recordAuditBestEffort(ctx context.Context, belief domain.Belief, prompt, rawOutput string, parsed interface{}, status domain.PolicyStatus, policyErr string) {
	if _, err := g.recordAudit(ctx, belief, prompt, rawOutput, parsed, status, policyErr); err != nil {
		logging.FromContext(ctx).Error("ai_call_audit write failed, continuing", "trace_id", belief.TraceID, "belief_id", belief.BeliefID, "error", err)
	}
}

func (g *Gateway) recordAudit(ctx context.Context, belief domain.Belief, prompt, rawOutput string, parsed interface{}, status domain.PolicyStatus, policyErr string) (int64, error) {
	id, err := g.auditSink.Record(ctx, audit.CallInput{
		TraceID:      belief.TraceID,
		Phase:        phaseExplain,
		ModelName:    g.model,
		Prompt:       prompt,
		RawOutput:    rawOutput,
		ParsedJSON:   parsed,
		PolicyStatus: status,
		PolicyError:  policyErr,
	})
	if err != nil {
		return 0, fmt.Errorf("reasoner: record audit: %w", err)
	}
	return id, nil
}

// buildPrompt mirrors the original reasoner's strict, schema-first prompt:
// evidence IDs only, no invented facts, JSON-only output.
func buildPrompt(belief domain.Belief, evidenceSnapshots []domain.EvidenceSnapshot) (string, error) {
	beliefJSON, err := json.MarshalIndent(belief, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal belief: %w", err)
	}
	evidenceJSON, err := json.MarshalIndent(evidenceSnapshots, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal evidence: %w", err)
	}

	return fmt.Sprintf(`You are VoxCortex, an incident reasoning engine.

Rules:
- Use ONLY the evidence_ids provided below
- Do NOT invent facts
- Express uncertainty when confidence < 0.9
- NO actions, NO tools, NO database operations
- Return STRICT JSON only with keys:
  - explanation
  - confidence_language (object)
  - evidence_ids (array)
  - what_would_change_my_mind (array)

Belief:
%s

Evidence:
%s

Return ONLY the JSON object.`, string(beliefJSON), string(evidenceJSON)), nil
}

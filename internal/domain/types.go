// Package domain holds the tagged record types that flow through the
// VoxCortex pipeline, replacing the dynamic dicts of the original system
// per the REDESIGN FLAGS: Belief and EvidenceRef are structs, not maps,
// and validated model output becomes a ValidatedExplanation.
package domain

import "time"

// Event is the immutable record of a raw ingested event.
type Event struct {
	EventID            string                 `json:"event_id"`
	TraceID            string                 `json:"trace_id"`
	Source             string                 `json:"source"`
	EventType          string                 `json:"event_type"`
	OccurredAt         string                 `json:"occurred_at"`
	Severity           string                 `json:"severity,omitempty"`
	RawPayload         map[string]interface{} `json:"raw_payload"`
	NormalizedPayload  NormalizedPayload      `json:"normalized_payload"`
}

// NormalizedPayload is the shaped form of an event's raw payload.
type NormalizedPayload struct {
	Service  string   `json:"service"`
	Region   string   `json:"region"`
	Message  string   `json:"message"`
	RawKeys  []string `json:"raw_keys"`
}

// CanonicalEvent is the normalized event the core pipeline consumes. It is
// the only shape the core depends on — the HTTP ingest transport and its
// wire format are external collaborators (spec.md §6).
type CanonicalEvent struct {
	EventID    string            `json:"event_id"`
	TraceID    string            `json:"trace_id"`
	Source     string            `json:"source"`
	EventType  string            `json:"event_type"`
	OccurredAt string            `json:"occurred_at"`
	Severity   string            `json:"severity,omitempty"`
	Normalized NormalizedPayload `json:"normalized"`
}

// EvidenceSnapshot is a content-addressed, canonicalized payload.
type EvidenceSnapshot struct {
	EvidenceID string    `json:"evidence_id"`
	TraceID    string    `json:"trace_id"`
	SHA256     string    `json:"sha256"`
	CreatedAt  time.Time `json:"created_at"`
	Payload    string    `json:"payload"` // canonical JSON
}

// SignatureMode records which provenance signing strategy produced a
// signature, per spec.md §9 (HMAC preferred, plain digest fallback).
type SignatureMode string

const (
	SignatureModeHMAC  SignatureMode = "hmac_sha256"
	SignatureModePlain SignatureMode = "plain_sha256"
)

// EvidenceProvenance binds an evidence_id to its hash and the actor that
// recorded it. Append-only.
type EvidenceProvenance struct {
	EvidenceID string        `json:"evidence_id"`
	SHA256     string        `json:"sha256"`
	Actor      string        `json:"actor"`
	Signature  string        `json:"signature"`
	Mode       SignatureMode `json:"mode"`
	CreatedAt  time.Time     `json:"created_at"`
}

// EvidenceRef points a Belief at the evidence that grounds it.
type EvidenceRef struct {
	EvidenceID string            `json:"evidence_id"`
	Kind       string            `json:"kind"` // event | snapshot | external
	Pointer    map[string]string `json:"pointer"`
}

// Belief is the system's current stance about a subject.
type Belief struct {
	BeliefID   string        `json:"belief_id"`
	TraceID    string        `json:"trace_id"`
	Subject    string        `json:"subject"`
	Hypothesis string        `json:"hypothesis"`
	Confidence float64       `json:"confidence"`
	Evidence   []EvidenceRef `json:"evidence"`
	UpdatedAt  time.Time     `json:"updated_at"`
}

// EvidenceIDs flattens the Belief's evidence refs to a plain ID list, the
// shape persisted in the beliefs.evidence_ids column.
func (b Belief) EvidenceIDs() []string {
	ids := make([]string, len(b.Evidence))
	for i, e := range b.Evidence {
		ids[i] = e.EvidenceID
	}
	return ids
}

// BeliefDelta records one confidence transition. Never mutated.
type BeliefDelta struct {
	BeliefID  string    `json:"belief_id"`
	TraceID   string    `json:"trace_id"`
	FromConf  float64   `json:"from_conf"`
	ToConf    float64   `json:"to_conf"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// PolicyStatus is the outcome of running the Policy Gate over a model call.
type PolicyStatus string

const (
	PolicyStatusAccepted PolicyStatus = "ACCEPTED"
	PolicyStatusRejected PolicyStatus = "REJECTED"
)

// AiCallAudit is the immutable audit row written for every model call,
// accepted or rejected.
type AiCallAudit struct {
	ID             int64        `json:"id"`
	TraceID        string       `json:"trace_id"`
	Phase          string       `json:"phase"`
	ModelName      string       `json:"model_name"`
	PromptHash     string       `json:"prompt_hash"`
	PromptPreview  string       `json:"prompt_preview"`
	RawOutput      string       `json:"raw_output"`
	ParsedJSON     *string      `json:"parsed_json,omitempty"`
	PolicyStatus   PolicyStatus `json:"policy_status"`
	PolicyError    *string      `json:"policy_error,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
}

// ValidatedExplanation is the strict shape the Policy Gate produces from
// raw, untrusted model text.
type ValidatedExplanation struct {
	Explanation             string                 `json:"explanation"`
	ConfidenceLanguage      map[string]interface{} `json:"confidence_language"`
	EvidenceIDs             []string               `json:"evidence_ids"`
	WhatWouldChangeMyMind   []string               `json:"what_would_change_my_mind"`
	Hypotheses              []RawHypothesis        `json:"hypotheses,omitempty"`
	Hypothesis              string                 `json:"hypothesis,omitempty"`
	Confidence              *float64               `json:"confidence,omitempty"`
}

// RawHypothesis is one element of the optional "hypotheses" array a
// validated explanation may carry.
type RawHypothesis struct {
	Hypothesis  string   `json:"hypothesis"`
	Confidence  *float64 `json:"confidence,omitempty"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
}

// Hypothesis is a model-proposed candidate explanation, persisted only
// after the Policy Gate accepts the call that produced it.
type Hypothesis struct {
	ID             int64     `json:"id"`
	TraceID        string    `json:"trace_id"`
	BeliefID       string    `json:"belief_id"`
	AiCallAuditID  int64     `json:"ai_call_audit_id"`
	HypothesisText string    `json:"hypothesis"`
	Confidence     *float64  `json:"confidence,omitempty"`
	EvidenceIDs    []string  `json:"evidence_ids"`
	Payload        string    `json:"payload"` // canonical JSON
	CreatedAt      time.Time `json:"created_at"`
}

// Decision is a deterministic promotion outcome.
type Decision string

const (
	DecisionPromote Decision = "PROMOTE"
	DecisionHold    Decision = "HOLD"
	DecisionReject  Decision = "REJECT"
)

// BeliefPromotion is the deterministic PROMOTE/HOLD/REJECT decision
// computed from the latest hypothesis for a belief.
type BeliefPromotion struct {
	BeliefID            string    `json:"belief_id"`
	HypothesisID        int64     `json:"hypothesis_id"`
	TraceID             string    `json:"trace_id"`
	AiCallAuditID       int64     `json:"ai_call_audit_id"`
	Decision            Decision  `json:"decision"`
	DecisionReason      string    `json:"decision_reason"`
	PromotedConfidence  float64   `json:"promoted_confidence"`
	EvidenceIDs         []string  `json:"evidence_ids"`
	CreatedAt           time.Time `json:"created_at"`
}

// Explanation is the persisted validated explanation for a belief.
type Explanation struct {
	BeliefID        string    `json:"belief_id"`
	TraceID         string    `json:"trace_id"`
	ExplanationJSON string    `json:"explanation_json"`
	CreatedAt       time.Time `json:"created_at"`
}

// AuditLogEntry is an append-only record closing one pipeline step.
type AuditLogEntry struct {
	TraceID   string    `json:"trace_id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Details   string    `json:"details"` // canonical JSON
	CreatedAt time.Time `json:"created_at"`
}

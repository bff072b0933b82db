// Package pipeline orchestrates one incident event through the full
// evidence -> belief -> explanation -> audit contract, in that fixed
// order, serialized per trace so concurrent events about the same
// incident never race each other's belief writes.
package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vsenthil7/voxcortex/internal/belief"
	"github.com/vsenthil7/voxcortex/internal/canonical"
	"github.com/vsenthil7/voxcortex/internal/domain"
	"github.com/vsenthil7/voxcortex/internal/evidence"
	"github.com/vsenthil7/voxcortex/internal/hypothesis"
	"github.com/vsenthil7/voxcortex/internal/locking"
	"github.com/vsenthil7/voxcortex/internal/logging"
	"github.com/vsenthil7/voxcortex/internal/normalize"
	"github.com/vsenthil7/voxcortex/internal/observability"
	"github.com/vsenthil7/voxcortex/internal/promotion"
	"github.com/vsenthil7/voxcortex/internal/reasoner"
	"github.com/vsenthil7/voxcortex/internal/store"
)

// basePrior is the fixed starting confidence for every belief the
// orchestrator derives: the pipeline has no per-event prior of its own,
// so each event's belief update starts from the same deterministic point.
const basePrior = 0.35

// highSeveritySignal and lowSeveritySignal are the two signal_strength
// values the orchestrator feeds the belief engine, chosen by the
// normalized event's severity.
const (
	highSeveritySignal = 0.7
	lowSeveritySignal  = 0.4
)

const actorPipeline = "pipeline"

// Orchestrator runs ProcessEvent, the system's one entry point.
type Orchestrator struct {
	pool       *store.Pool
	lock       *locking.TraceLock
	obs        *observability.Provider
	evidenceSt *evidence.Store
	reasonerGw *reasoner.Gateway
	promoter   *promotion.Promoter
	hypotheses *hypothesis.Store
}

func NewOrchestrator(
	pool *store.Pool,
	lock *locking.TraceLock,
	obs *observability.Provider,
	evidenceSt *evidence.Store,
	reasonerGw *reasoner.Gateway,
	promoter *promotion.Promoter,
	hypotheses *hypothesis.Store,
) *Orchestrator {
	return &Orchestrator{
		pool:       pool,
		lock:       lock,
		obs:        obs,
		evidenceSt: evidenceSt,
		reasonerGw: reasonerGw,
		promoter:   promoter,
		hypotheses: hypotheses,
	}
}

// deriveSubject builds the belief subject the orchestrator tracks for an
// event: every event about the same service accumulates onto the same
// subject regardless of its source or event_type.
func deriveSubject(service string) string {
	return fmt.Sprintf("service/%s", service)
}

// deriveSignalStrength maps severity to the fixed signal_strength the
// belief engine treats as this event's evidentiary weight: high and
// critical severities corroborate an incident more strongly than anything
// else.
func deriveSignalStrength(severity string) float64 {
	switch strings.ToLower(severity) {
	case "high", "critical":
		return highSeveritySignal
	default:
		return lowSeveritySignal
	}
}

// Result summarizes one ProcessEvent run.
type Result struct {
	Event      domain.CanonicalEvent
	Evidence   domain.EvidenceSnapshot
	Belief     domain.Belief
	Delta      domain.BeliefDelta
	Explanation domain.ValidatedExplanation
	Promotion  *domain.BeliefPromotion
}

// ProcessEvent runs the full pipeline for one raw event: normalize,
// snapshot evidence, update belief, explain, promote, audit. The event
// write, snapshot, belief update, explain and promote steps are each
// wrapped in an OTel span; normalization and the explanation and audit-log
// writes are not. The whole run is serialized by a per-trace lock so two
// workers can't race the same incident's belief writes.
func (o *Orchestrator) ProcessEvent(ctx context.Context, traceID, source, eventType, occurredAt, severity string, rawPayload map[string]interface{}) (Result, error) {
	log := logging.ForTrace(logging.FromContext(ctx), traceID)
	ctx = logging.WithContext(ctx, log)

	handle, err := o.lock.Acquire(ctx, traceID)
	if err != nil {
		return Result{}, fmt.Errorf("pipeline: acquire trace lock: %w", err)
	}
	defer func() {
		if err := handle.Release(ctx); err != nil {
			log.WarnContext(ctx, "release trace lock", "error", err)
		}
	}()

	event := normalize.Normalize(traceID, source, eventType, occurredAt, severity, rawPayload)
	if err := o.writeEvent(ctx, event, rawPayload); err != nil {
		return Result{}, err
	}

	snap, _, err := o.stepSnapshot(ctx, traceID, event)
	if err != nil {
		return Result{}, err
	}

	subject := deriveSubject(event.Normalized.Service)
	hypothesisText := fmt.Sprintf("Potential incident affecting %s", subject)
	signalStrength := deriveSignalStrength(event.Severity)

	bel, delta, err := o.stepBelief(ctx, traceID, subject, hypothesisText, basePrior, signalStrength, snap.EvidenceID)
	if err != nil {
		return Result{}, err
	}

	explanation, err := o.stepExplain(ctx, bel, []domain.EvidenceSnapshot{snap})
	if err != nil {
		return Result{}, err
	}
	if err := o.writeExplanation(ctx, bel, explanation); err != nil {
		return Result{}, err
	}

	var promo *domain.BeliefPromotion
	latest, err := o.hypotheses.Latest(ctx, traceID, bel.BeliefID)
	if err == nil {
		promo, err = o.stepPromote(ctx, traceID, bel.BeliefID, latest)
		if err != nil {
			return Result{}, err
		}
	} else if errors.Is(err, sql.ErrNoRows) {
		log.InfoContext(ctx, "no hypothesis to promote", "belief_id", bel.BeliefID)
	} else {
		return Result{}, fmt.Errorf("pipeline: load latest hypothesis: %w", err)
	}

	if err := o.writeAuditLog(ctx, traceID, "process_event", map[string]interface{}{
		"belief_id":  bel.BeliefID,
		"evidence_id": snap.EvidenceID,
		"decision":    decisionOrEmpty(promo),
	}); err != nil {
		return Result{}, err
	}

	return Result{
		Event:       event,
		Evidence:    snap,
		Belief:      bel,
		Delta:       delta,
		Explanation: explanation,
		Promotion:   promo,
	}, nil
}

func decisionOrEmpty(promo *domain.BeliefPromotion) string {
	if promo == nil {
		return ""
	}
	return string(promo.Decision)
}

func (o *Orchestrator) writeEvent(ctx context.Context, event domain.CanonicalEvent, rawPayload map[string]interface{}) error {
	ctx, end := o.obs.StartStep(ctx, "pipeline.write_event", attribute.String("trace_id", event.TraceID))
	var err error
	defer func() { end(err) }()

	rawJSON, e := json.Marshal(rawPayload)
	if e != nil {
		err = fmt.Errorf("pipeline: marshal raw payload: %w", e)
		return err
	}
	normalizedJSON, e := json.Marshal(event.Normalized)
	if e != nil {
		err = fmt.Errorf("pipeline: marshal normalized payload: %w", e)
		return err
	}

	query := o.pool.Rebind(`
		INSERT INTO events (event_id, trace_id, source, event_type, occurred_at, severity, raw_payload, normalized_payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`)
	if _, e := o.pool.DB.ExecContext(ctx, query, event.EventID, event.TraceID, event.Source, event.EventType, event.OccurredAt, event.Severity, string(rawJSON), string(normalizedJSON)); e != nil {
		err = fmt.Errorf("pipeline: insert event: %w", e)
		return err
	}
	return nil
}

func (o *Orchestrator) stepSnapshot(ctx context.Context, traceID string, event domain.CanonicalEvent) (domain.EvidenceSnapshot, domain.EvidenceProvenance, error) {
	ctx, end := o.obs.StartStep(ctx, "pipeline.snapshot_evidence", attribute.String("trace_id", traceID))
	// The per-event IDs are left out of the snapshot so that two events
	// with the same content map to the same evidence row.
	payload := event
	payload.EventID, payload.TraceID = "", ""
	snap, prov, err := o.evidenceSt.Snapshot(ctx, traceID, payload)
	end(err)
	if err != nil {
		return domain.EvidenceSnapshot{}, domain.EvidenceProvenance{}, fmt.Errorf("pipeline: snapshot evidence: %w", err)
	}
	return snap, prov, nil
}

func (o *Orchestrator) stepBelief(ctx context.Context, traceID, subject, hypothesisText string, prior, signalStrength float64, evidenceID string) (domain.Belief, domain.BeliefDelta, error) {
	ctx, end := o.obs.StartStep(ctx, "pipeline.update_belief", attribute.String("trace_id", traceID))
	bel, delta := belief.Update(traceID, subject, hypothesisText, prior, signalStrength, evidenceID)
	err := o.persistBelief(ctx, bel, delta)
	end(err)
	if err != nil {
		return domain.Belief{}, domain.BeliefDelta{}, fmt.Errorf("pipeline: update belief: %w", err)
	}
	return bel, delta, nil
}

// persistBelief writes the new belief and its delta. The belief engine
// itself is a pure function; the orchestrator is the only writer in the
// pipeline, so it owns both inserts.
func (o *Orchestrator) persistBelief(ctx context.Context, bel domain.Belief, delta domain.BeliefDelta) error {
	evidenceIDsJSON, err := json.Marshal(bel.EvidenceIDs())
	if err != nil {
		return fmt.Errorf("pipeline: marshal belief evidence_ids: %w", err)
	}

	insertBelief := o.pool.Rebind(`
		INSERT INTO beliefs (belief_id, trace_id, subject, hypothesis, confidence, evidence_ids, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`)
	if _, err := o.pool.DB.ExecContext(ctx, insertBelief,
		bel.BeliefID, bel.TraceID, bel.Subject, bel.Hypothesis, bel.Confidence, string(evidenceIDsJSON), bel.UpdatedAt,
	); err != nil {
		return fmt.Errorf("pipeline: insert belief: %w", err)
	}

	insertDelta := o.pool.Rebind(`
		INSERT INTO belief_deltas (belief_id, trace_id, from_conf, to_conf, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if _, err := o.pool.DB.ExecContext(ctx, insertDelta,
		delta.BeliefID, delta.TraceID, delta.FromConf, delta.ToConf, delta.Reason, delta.CreatedAt,
	); err != nil {
		return fmt.Errorf("pipeline: insert belief_delta: %w", err)
	}
	return nil
}

func (o *Orchestrator) stepExplain(ctx context.Context, bel domain.Belief, evidenceSnapshots []domain.EvidenceSnapshot) (domain.ValidatedExplanation, error) {
	ctx, end := o.obs.StartStep(ctx, "pipeline.explain", attribute.String("trace_id", bel.TraceID))
	explanation, err := o.reasonerGw.Explain(ctx, bel, evidenceSnapshots)
	end(err)
	if err != nil {
		return domain.ValidatedExplanation{}, fmt.Errorf("pipeline: explain: %w", err)
	}
	return explanation, nil
}

func (o *Orchestrator) stepPromote(ctx context.Context, traceID, beliefID string, latest domain.Hypothesis) (*domain.BeliefPromotion, error) {
	ctx, end := o.obs.StartStep(ctx, "pipeline.promote", attribute.String("trace_id", traceID))
	promo, err := o.promoter.PromoteLatest(ctx, traceID, beliefID, latest)
	end(err)
	if err != nil {
		return nil, fmt.Errorf("pipeline: promote: %w", err)
	}
	return promo, nil
}

func (o *Orchestrator) writeExplanation(ctx context.Context, bel domain.Belief, explanation domain.ValidatedExplanation) error {
	payload, err := canonical.JCSString(explanation)
	if err != nil {
		return fmt.Errorf("pipeline: canonicalize explanation: %w", err)
	}
	query := o.pool.Rebind(`
		INSERT INTO explanations (belief_id, trace_id, explanation_json)
		VALUES ($1, $2, $3)
		ON CONFLICT (belief_id, trace_id) DO UPDATE SET explanation_json = EXCLUDED.explanation_json
	`)
	if _, err := o.pool.DB.ExecContext(ctx, query, bel.BeliefID, bel.TraceID, payload); err != nil {
		return fmt.Errorf("pipeline: insert explanation: %w", err)
	}
	return nil
}

func (o *Orchestrator) writeAuditLog(ctx context.Context, traceID, action string, details map[string]interface{}) error {
	payload, err := canonical.JCSString(details)
	if err != nil {
		return fmt.Errorf("pipeline: canonicalize audit details: %w", err)
	}
	query := o.pool.Rebind(`
		INSERT INTO audit_log (trace_id, actor, action, details)
		VALUES ($1, $2, $3, $4)
	`)
	if _, err := o.pool.DB.ExecContext(ctx, query, traceID, actorPipeline, action, payload); err != nil {
		return fmt.Errorf("pipeline: insert audit_log: %w", err)
	}
	return nil
}

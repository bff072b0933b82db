// Package belief implements the deterministic confidence-update engine:
// no model call, no heuristics, fully reproducible from (prior,
// signal_strength). Pure function only — persistence is the orchestrator's
// responsibility, the one writer that ties components together.
package belief

import (
	"fmt"
	"time"

	"github.com/vsenthil7/voxcortex/internal/domain"
	"github.com/vsenthil7/voxcortex/internal/identity"
)

// SignalCoefficient is the fixed weight applied to signal_strength in the
// confidence update. Changing it changes the meaning of every belief ever
// recorded, so it is a constant, not a config knob.
const SignalCoefficient = 0.35

// Update computes to_conf = clamp(prior + 0.35*signal_strength, 0, 1) and
// mints a new Belief with its corresponding BeliefDelta. A belief is never
// mutated in place: each update is a new belief_id whose delta records the
// transition from the evidence's prior.
func Update(traceID, subject, hypothesis string, prior, signalStrength float64, evidenceID string) (domain.Belief, domain.BeliefDelta) {
	toConf := Clamp(prior + SignalCoefficient*signalStrength)
	now := time.Now().UTC()

	bel := domain.Belief{
		BeliefID:   identity.New(identity.PrefixBelief),
		TraceID:    traceID,
		Subject:    subject,
		Hypothesis: hypothesis,
		Confidence: toConf,
		Evidence: []domain.EvidenceRef{{
			EvidenceID: evidenceID,
			Kind:       "event",
			Pointer:    map[string]string{"event_id": evidenceID},
		}},
		UpdatedAt: now,
	}

	delta := domain.BeliefDelta{
		BeliefID:  bel.BeliefID,
		TraceID:   traceID,
		FromConf:  prior,
		ToConf:    toConf,
		Reason:    fmt.Sprintf("deterministic_update(prior=%g, signal=%g)", prior, signalStrength),
		CreatedAt: now,
	}

	return bel, delta
}

// Clamp restricts a confidence value to [0, 1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

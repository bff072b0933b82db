// Package normalize shapes a raw ingested event into the canonical form
// the rest of the pipeline depends on — deterministic schema shaping and
// safe defaults only, never an opinion about what the event means.
package normalize

import (
	"sort"

	"golang.org/x/text/unicode/norm"

	"github.com/vsenthil7/voxcortex/internal/domain"
	"github.com/vsenthil7/voxcortex/internal/identity"
)

// Normalize builds a CanonicalEvent from a raw event's fields and payload.
// It never inspects payload for meaning beyond the handful of well-known
// keys the spec names (message/title, service/app, region) — everything
// else just contributes its key to raw_keys so downstream evidence still
// reflects what arrived.
func Normalize(traceID, source, eventType, occurredAt, severity string, rawPayload map[string]interface{}) domain.CanonicalEvent {
	return domain.CanonicalEvent{
		EventID:    identity.New(identity.PrefixEvent),
		TraceID:    traceID,
		Source:     source,
		EventType:  eventType,
		OccurredAt: occurredAt,
		Severity:   severity,
		Normalized: normalizePayload(rawPayload),
	}
}

func normalizePayload(raw map[string]interface{}) domain.NormalizedPayload {
	return domain.NormalizedPayload{
		Service: norm.NFC.String(firstString(raw, "service", "app", "unknown")),
		Region:  norm.NFC.String(firstString(raw, "region", "", "unknown")),
		Message: norm.NFC.String(firstString(raw, "message", "title", "")),
		RawKeys: sortedKeys(raw),
	}
}

// firstString returns raw[primary] if it's a non-empty string, else
// raw[fallbackKey] if fallbackKey is non-empty and present, else def.
func firstString(raw map[string]interface{}, primary, fallbackKey, def string) string {
	if v, ok := asNonEmptyString(raw[primary]); ok {
		return v
	}
	if fallbackKey != "" {
		if v, ok := asNonEmptyString(raw[fallbackKey]); ok {
			return v
		}
	}
	return def
}

func asNonEmptyString(v interface{}) (string, bool) {
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

func sortedKeys(raw map[string]interface{}) []string {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

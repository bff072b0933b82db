// Package policy implements the trust boundary between raw LLM text and
// the rest of VoxCortex: every model call's output must pass through Gate
// before its content is treated as structured data.
package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/vsenthil7/voxcortex/internal/domain"
)

// Error is a policy rejection. It always carries the specific reason the
// gate fired, surfaced verbatim into ai_call_audit.policy_error.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return e.Reason }

func reject(format string, args ...interface{}) error {
	return &Error{Reason: fmt.Sprintf(format, args...)}
}

// disallowedPatterns are cheap guardrails against the model being coaxed
// into emitting tool-use or remediation instructions — VoxCortex has no
// tool-execution surface, so any output that reads like one is suspect
// regardless of intent.
var disallowedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(run|execute|delete|drop|insert|update|commit)\b`),
	regexp.MustCompile(`(?i)\b(psql|sql|database|db|postgres|pg_)\b`),
	regexp.MustCompile(`(?i)\b(curl|wget|pip install|apt-get)\b`),
	regexp.MustCompile(`(?i)\b(call tool|use tool|invoke)\b`),
	regexp.MustCompile(`(?i)\b(write to|save to)\b`),
}

const explanationSchemaDoc = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["explanation", "confidence_language", "evidence_ids", "what_would_change_my_mind"],
	"properties": {
		"explanation": {"type": "string", "minLength": 1},
		"confidence_language": {"type": "object"},
		"evidence_ids": {"type": "array", "items": {"type": ["string", "number"]}},
		"what_would_change_my_mind": {"type": "array", "items": {"type": ["string", "number"]}},
		"hypotheses": {"type": "array"},
		"hypothesis": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`

// Gate validates raw model output against the explanation schema and scans
// it for disallowed tool/action language before any of it is trusted.
type Gate struct {
	schema *jsonschema.Schema
}

// NewGate compiles the explanation schema once at construction.
func NewGate() (*Gate, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("explanation.json", strings.NewReader(explanationSchemaDoc)); err != nil {
		return nil, fmt.Errorf("policy: add schema resource: %w", err)
	}
	schema, err := compiler.Compile("explanation.json")
	if err != nil {
		return nil, fmt.Errorf("policy: compile schema: %w", err)
	}
	return &Gate{schema: schema}, nil
}

// Validate extracts a JSON object from raw model text (tolerating code
// fences and incidental leading/trailing prose), validates it against the
// explanation schema, scans the full raw text for disallowed patterns, and
// returns the typed, trusted ValidatedExplanation.
func (g *Gate) Validate(ctx context.Context, rawText string) (domain.ValidatedExplanation, error) {
	if strings.TrimSpace(rawText) == "" {
		return domain.ValidatedExplanation{}, reject("empty model output")
	}

	candidate, err := extractJSONObject(rawText)
	if err != nil {
		return domain.ValidatedExplanation{}, err
	}

	var generic interface{}
	if err := json.Unmarshal([]byte(candidate), &generic); err != nil {
		return domain.ValidatedExplanation{}, reject("output is not valid JSON: %v", err)
	}

	if err := g.schema.Validate(generic); err != nil {
		return domain.ValidatedExplanation{}, reject("schema validation failed: %v", err)
	}

	obj, ok := generic.(map[string]interface{})
	if !ok {
		return domain.ValidatedExplanation{}, reject("JSON must be an object")
	}

	// evidence_ids/what_would_change_my_mind may legally carry numeric
	// elements per the schema (the model sometimes emits a bare number for
	// an evidence ID); build the struct field-by-field from the generic
	// decode rather than a single strict struct unmarshal, which would
	// reject a numeric element against a []string field.
	out := domain.ValidatedExplanation{
		EvidenceIDs:           stringifyArray(obj["evidence_ids"]),
		WhatWouldChangeMyMind: stringifyArray(obj["what_would_change_my_mind"]),
	}
	if v, ok := obj["explanation"].(string); ok {
		out.Explanation = v
	}
	if v, ok := obj["confidence_language"].(map[string]interface{}); ok {
		out.ConfidenceLanguage = v
	}
	if v, ok := obj["hypothesis"].(string); ok {
		out.Hypothesis = v
	}
	if v, ok := obj["confidence"].(float64); ok {
		out.Confidence = &v
	}
	if raw, ok := obj["hypotheses"]; ok {
		hb, err := json.Marshal(raw)
		if err == nil {
			_ = json.Unmarshal(hb, &out.Hypotheses)
		}
	}

	lower := strings.ToLower(rawText)
	for _, pat := range disallowedPatterns {
		if pat.MatchString(lower) {
			return domain.ValidatedExplanation{}, reject("disallowed content detected by pattern: %s", pat.String())
		}
	}

	return out, nil
}

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

func extractJSONObject(s string) (string, error) {
	s = stripCodeFences(s)
	if strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}") {
		return s, nil
	}
	match := jsonObjectPattern.FindString(s)
	if match == "" {
		return "", reject("output does not contain a JSON object")
	}
	return match, nil
}

var (
	leadingFence  = regexp.MustCompile("^```[a-zA-Z0-9_-]*\\s*")
	trailingFence = regexp.MustCompile("\\s*```$")
)

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = leadingFence.ReplaceAllString(s, "")
		s = trailingFence.ReplaceAllString(s, "")
	}
	return strings.TrimSpace(s)
}

// stringifyArray mirrors the original policy gate's `[str(x) for x in ...]`
// — model output may emit numeric evidence IDs, and the rest of the
// pipeline expects strings throughout.
func stringifyArray(v interface{}) []string {
	arr, ok := v.([]interface{})
	if !ok {
		return []string{}
	}
	out := make([]string, len(arr))
	for i, elem := range arr {
		switch e := elem.(type) {
		case string:
			out[i] = e
		case float64:
			out[i] = strconv.FormatFloat(e, 'g', -1, 64)
		default:
			out[i] = fmt.Sprintf("%v", e)
		}
	}
	return out
}

package store

import (
	"context"
	"fmt"
)

// migrate creates every table VoxCortex needs if it doesn't already exist.
// There is no migration framework here by design (spec.md Non-goals exclude
// a general admin/migration surface): schema changes are additive
// CREATE TABLE IF NOT EXISTS / ALTER TABLE statements appended here, gated
// by config.MinSchemaVersion at startup.
func (p *Pool) migrate(ctx context.Context) error {
	for _, stmt := range p.statements() {
		if _, err := p.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("exec %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func (p *Pool) statements() []string {
	jsonType := "JSONB"
	tsType := "TIMESTAMPTZ"
	pk := "BIGSERIAL PRIMARY KEY"
	if p.Dialect == DialectSQLite {
		jsonType = "TEXT"
		tsType = "TIMESTAMP"
		pk = "INTEGER PRIMARY KEY AUTOINCREMENT"
	}

	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS events (
			event_id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL,
			source TEXT NOT NULL,
			event_type TEXT NOT NULL,
			occurred_at TEXT NOT NULL,
			severity TEXT,
			raw_payload %s NOT NULL,
			normalized_payload %s NOT NULL,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, jsonType, jsonType, tsType),

		`CREATE INDEX IF NOT EXISTS idx_events_trace_id ON events (trace_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS evidence_snapshots (
			evidence_id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL,
			sha256 TEXT NOT NULL UNIQUE,
			payload TEXT NOT NULL,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, tsType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS evidence_provenance (
			evidence_id TEXT NOT NULL,
			sha256 TEXT NOT NULL,
			actor TEXT NOT NULL,
			signature TEXT NOT NULL,
			mode TEXT NOT NULL,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (evidence_id)
		)`, tsType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS beliefs (
			belief_id TEXT PRIMARY KEY,
			trace_id TEXT NOT NULL,
			subject TEXT NOT NULL,
			hypothesis TEXT NOT NULL DEFAULT '',
			confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			evidence_ids %s NOT NULL,
			updated_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, jsonType, tsType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS belief_deltas (
			id %s,
			belief_id TEXT NOT NULL,
			trace_id TEXT NOT NULL,
			from_conf DOUBLE PRECISION NOT NULL,
			to_conf DOUBLE PRECISION NOT NULL,
			reason TEXT NOT NULL,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, pk, tsType),

		`CREATE INDEX IF NOT EXISTS idx_belief_deltas_belief_id ON belief_deltas (belief_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ai_call_audit (
			id %s,
			trace_id TEXT NOT NULL,
			phase TEXT NOT NULL,
			model_name TEXT NOT NULL,
			prompt_hash TEXT NOT NULL,
			prompt_preview TEXT NOT NULL,
			raw_output TEXT NOT NULL,
			parsed_json TEXT,
			policy_status TEXT NOT NULL,
			policy_error TEXT,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, pk, tsType),

		`CREATE INDEX IF NOT EXISTS idx_ai_call_audit_trace_id ON ai_call_audit (trace_id)`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS hypotheses (
			id %s,
			trace_id TEXT NOT NULL,
			belief_id TEXT NOT NULL,
			ai_call_audit_id BIGINT NOT NULL,
			hypothesis TEXT NOT NULL,
			confidence DOUBLE PRECISION,
			evidence_ids %s NOT NULL,
			payload TEXT NOT NULL,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (belief_id, ai_call_audit_id, hypothesis)
		)`, pk, jsonType, tsType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS belief_promotions (
			belief_id TEXT NOT NULL,
			hypothesis_id BIGINT NOT NULL,
			trace_id TEXT NOT NULL,
			ai_call_audit_id BIGINT NOT NULL,
			decision TEXT NOT NULL,
			decision_reason TEXT NOT NULL,
			promoted_confidence DOUBLE PRECISION NOT NULL,
			evidence_ids %s NOT NULL,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (belief_id, hypothesis_id)
		)`, jsonType, tsType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS explanations (
			belief_id TEXT NOT NULL,
			trace_id TEXT NOT NULL,
			explanation_json TEXT NOT NULL,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (belief_id, trace_id)
		)`, tsType),

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS audit_log (
			id %s,
			trace_id TEXT NOT NULL,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			details TEXT NOT NULL,
			created_at %s NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, pk, tsType),

		`CREATE INDEX IF NOT EXISTS idx_audit_log_trace_id ON audit_log (trace_id)`,
	}
}

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

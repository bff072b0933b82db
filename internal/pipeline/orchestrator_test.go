package pipeline

import (
	"context"
	"database/sql"
	"log/slog"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsenthil7/voxcortex/internal/audit"
	"github.com/vsenthil7/voxcortex/internal/evidence"
	"github.com/vsenthil7/voxcortex/internal/hypothesis"
	"github.com/vsenthil7/voxcortex/internal/llm"
	"github.com/vsenthil7/voxcortex/internal/llm/modelpolicy"
	"github.com/vsenthil7/voxcortex/internal/locking"
	"github.com/vsenthil7/voxcortex/internal/observability"
	"github.com/vsenthil7/voxcortex/internal/policy"
	"github.com/vsenthil7/voxcortex/internal/promotion"
	"github.com/vsenthil7/voxcortex/internal/reasoner"
	"github.com/vsenthil7/voxcortex/internal/store"
)

type fakeClient struct {
	text string
}

func (f *fakeClient) Generate(ctx context.Context, model, prompt string) (string, error) {
	return f.text, nil
}

func newTestOrchestrator(t *testing.T, mock sqlmock.Sqlmock, pool *store.Pool, llmText string) *Orchestrator {
	t.Helper()

	lock, err := locking.New("")
	require.NoError(t, err)

	obs, err := observability.New(context.Background(), observability.DefaultConfig(), slog.Default())
	require.NoError(t, err)

	signer, err := evidence.NewSigner("")
	require.NoError(t, err)
	evidenceSt := evidence.NewStore(pool, signer, "pipeline-test")

	gate, err := policy.NewGate()
	require.NoError(t, err)
	enforcer := modelpolicy.NewEnforcer(1000, 10)
	hypotheses := hypothesis.NewStore(pool)
	reasonerGw := reasoner.NewGateway(&fakeClient{text: llmText}, "gemini-3", enforcer, gate, audit.NewSink(pool), hypotheses)

	promoter, err := promotion.NewPromoter(pool, "")
	require.NoError(t, err)

	return NewOrchestrator(pool, lock, obs, evidenceSt, reasonerGw, promoter, hypotheses)
}

func nowStub() time.Time {
	return time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
}

func sqlNoRows() error {
	return sql.ErrNoRows
}

func newMockPool(t *testing.T) (*store.Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	mock.MatchExpectationsInOrder(false)
	return &store.Pool{DB: db, Dialect: store.DialectPostgres}, mock
}

func TestProcessEvent_AcceptedExplanationPromotesBelief(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO evidence_snapshots")).
		WillReturnRows(sqlmock.NewRows([]string{"evidence_id", "trace_id", "sha256", "payload", "created_at"}).
			AddRow("evd_1", "trc_1", "deadbeef", "{}", nowStub()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO evidence_provenance")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT evidence_id, sha256, actor, signature, mode, created_at")).
		WillReturnRows(sqlmock.NewRows([]string{"evidence_id", "sha256", "actor", "signature", "mode", "created_at"}).
			AddRow("evd_1", "deadbeef", "pipeline-test", "sig", "plain_sha256", nowStub()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO beliefs")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO belief_deltas")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO ai_call_audit")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hypotheses")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO explanations")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, trace_id, belief_id, ai_call_audit_id, hypothesis, confidence, evidence_ids, payload, created_at")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "trace_id", "belief_id", "ai_call_audit_id", "hypothesis", "confidence", "evidence_ids", "payload", "created_at"}).
			AddRow(int64(1), "trc_1", "bel_stub", int64(1), "latency spike", 0.9, "[\"evd_1\"]", "{}", nowStub()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO belief_promotions")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).WillReturnResult(sqlmock.NewResult(0, 1))

	raw := `{"explanation":"latency spike on api-gateway","confidence_language":{"level":"high"},"evidence_ids":["evd_1"],"what_would_change_my_mind":["normal latency for 1h"],"hypothesis":"latency spike","confidence":0.9}`
	orchestrator := newTestOrchestrator(t, mock, pool, raw)

	result, err := orchestrator.ProcessEvent(context.Background(), "trc_1", "prometheus", "alert", "2026-07-30T00:00:00Z", "critical",
		map[string]interface{}{"title": "latency spike", "app": "api-gateway"})
	require.NoError(t, err)
	assert.Equal(t, "evd_1", result.Evidence.EvidenceID)
	assert.Equal(t, "service/api-gateway", result.Belief.Subject)
	assert.Equal(t, "Potential incident affecting service/api-gateway", result.Belief.Hypothesis)
	assert.InDelta(t, 0.595, result.Belief.Confidence, 1e-9)
	assert.Equal(t, "latency spike on api-gateway", result.Explanation.Explanation)
	require.NotNil(t, result.Promotion)
	assert.Equal(t, "PROMOTE", string(result.Promotion.Decision))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEvent_RejectedExplanationStillCompletesPipeline(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO evidence_snapshots")).
		WillReturnRows(sqlmock.NewRows([]string{"evidence_id", "trace_id", "sha256", "payload", "created_at"}).
			AddRow("evd_2", "trc_2", "cafebabe", "{}", nowStub()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO evidence_provenance")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT evidence_id, sha256, actor, signature, mode, created_at")).
		WillReturnRows(sqlmock.NewRows([]string{"evidence_id", "sha256", "actor", "signature", "mode", "created_at"}).
			AddRow("evd_2", "cafebabe", "pipeline-test", "sig", "plain_sha256", nowStub()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO beliefs")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO belief_deltas")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO ai_call_audit")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(2)))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO explanations")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, trace_id, belief_id, ai_call_audit_id, hypothesis, confidence, evidence_ids, payload, created_at")).
		WillReturnError(sqlNoRows())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).WillReturnResult(sqlmock.NewResult(0, 1))

	orchestrator := newTestOrchestrator(t, mock, pool, "please run DROP TABLE beliefs")

	result, err := orchestrator.ProcessEvent(context.Background(), "trc_2", "prometheus", "alert", "2026-07-30T00:00:00Z", "critical",
		map[string]interface{}{"title": "latency spike"})
	require.NoError(t, err)
	assert.Contains(t, result.Explanation.Explanation, "deferred")
	assert.Nil(t, result.Promotion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestProcessEvent_LowSeverityYieldsLowerSignalAndConfidence(t *testing.T) {
	pool, mock := newMockPool(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO events")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO evidence_snapshots")).
		WillReturnRows(sqlmock.NewRows([]string{"evidence_id", "trace_id", "sha256", "payload", "created_at"}).
			AddRow("evd_3", "trc_3", "f00dcafe", "{}", nowStub()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO evidence_provenance")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT evidence_id, sha256, actor, signature, mode, created_at")).
		WillReturnRows(sqlmock.NewRows([]string{"evidence_id", "sha256", "actor", "signature", "mode", "created_at"}).
			AddRow("evd_3", "f00dcafe", "pipeline-test", "sig", "plain_sha256", nowStub()))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO beliefs")).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO belief_deltas")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO ai_call_audit")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hypotheses")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO explanations")).WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, trace_id, belief_id, ai_call_audit_id, hypothesis, confidence, evidence_ids, payload, created_at")).
		WillReturnError(sqlNoRows())

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO audit_log")).WillReturnResult(sqlmock.NewResult(0, 1))

	raw := `{"explanation":"isolated warning on api-gateway","confidence_language":{"level":"low"},"evidence_ids":["evd_3"],"what_would_change_my_mind":["a second corroborating event"],"hypothesis":"isolated warning on api-gateway"}`
	orchestrator := newTestOrchestrator(t, mock, pool, raw)

	result, err := orchestrator.ProcessEvent(context.Background(), "trc_3", "prometheus", "alert", "2026-07-30T00:00:00Z", "low",
		map[string]interface{}{"title": "isolated warning", "app": "api-gateway"})
	require.NoError(t, err)
	assert.Equal(t, "service/api-gateway", result.Belief.Subject)
	assert.InDelta(t, 0.49, result.Belief.Confidence, 1e-9)
	assert.Nil(t, result.Promotion)
	assert.NoError(t, mock.ExpectationsWereMet())
}

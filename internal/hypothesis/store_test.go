package hypothesis

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vsenthil7/voxcortex/internal/domain"
	"github.com/vsenthil7/voxcortex/internal/store"
)

func newMockPool(t *testing.T) (*store.Pool, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &store.Pool{DB: db, Dialect: store.DialectPostgres}, mock
}

func conf(v float64) *float64 { return &v }

func TestStore_Persist_SingularShapeInsertsOneTrimmedRow(t *testing.T) {
	pool, mock := newMockPool(t)
	s := NewStore(pool)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hypotheses")).
		WithArgs("trc_1", "bel_1", int64(7), "latency spike on api-gateway", conf(0.9), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.Persist(context.Background(), "trc_1", "bel_1", 7, domain.ValidatedExplanation{
		Hypothesis:  "  latency spike on api-gateway  ",
		Confidence:  conf(0.9),
		EvidenceIDs: []string{"evd_1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Persist_ArrayShapeInsertsOneRowPerNonEmptyHypothesis(t *testing.T) {
	pool, mock := newMockPool(t)
	s := NewStore(pool)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hypotheses")).
		WithArgs("trc_1", "bel_1", int64(7), "upstream DNS failure", conf(0.6), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hypotheses")).
		WithArgs("trc_1", "bel_1", int64(7), "regional network partition", conf(0.3), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.Persist(context.Background(), "trc_1", "bel_1", 7, domain.ValidatedExplanation{
		EvidenceIDs: []string{"evd_1"},
		Hypotheses: []domain.RawHypothesis{
			{Hypothesis: "upstream DNS failure", Confidence: conf(0.6), EvidenceIDs: []string{"evd_1"}},
			{Hypothesis: "   ", Confidence: conf(0.1)},
			{Hypothesis: "regional network partition", Confidence: conf(0.3)},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Persist_EmptySingularHypothesisInsertsNothing(t *testing.T) {
	pool, mock := newMockPool(t)
	s := NewStore(pool)

	n, err := s.Persist(context.Background(), "trc_1", "bel_1", 7, domain.ValidatedExplanation{
		Hypothesis: "   ",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Persist_ConflictSkipDoesNotCountAsInserted(t *testing.T) {
	pool, mock := newMockPool(t)
	s := NewStore(pool)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO hypotheses")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	n, err := s.Persist(context.Background(), "trc_1", "bel_1", 7, domain.ValidatedExplanation{
		Hypothesis: "latency spike on api-gateway",
		Confidence: conf(0.9),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Latest_ReturnsMostRecentRow(t *testing.T) {
	pool, mock := newMockPool(t)
	s := NewStore(pool)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, trace_id, belief_id, ai_call_audit_id, hypothesis, confidence, evidence_ids, payload, created_at")).
		WithArgs("trc_1", "bel_1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "trace_id", "belief_id", "ai_call_audit_id", "hypothesis", "confidence", "evidence_ids", "payload", "created_at"}).
			AddRow(int64(1), "trc_1", "bel_1", int64(7), "latency spike", 0.9, `["evd_1"]`, "{}", time.Now()))

	h, err := s.Latest(context.Background(), "trc_1", "bel_1")
	require.NoError(t, err)
	assert.Equal(t, "latency spike", h.HypothesisText)
	assert.Equal(t, []string{"evd_1"}, h.EvidenceIDs)
}

func TestStore_Latest_NoRowsWrapsErrNoRows(t *testing.T) {
	pool, mock := newMockPool(t)
	s := NewStore(pool)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, trace_id, belief_id, ai_call_audit_id, hypothesis, confidence, evidence_ids, payload, created_at")).
		WithArgs("trc_1", "bel_missing").
		WillReturnError(sql.ErrNoRows)

	_, err := s.Latest(context.Background(), "trc_1", "bel_missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}

package promotion

import (
	"context"
	"regexp"
	"testing"

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

func TestPromoter_DefaultPolicy_Promote(t *testing.T) {
	pool, mock := newMockPool(t)
	promoter, err := NewPromoter(pool, "")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO belief_promotions")).
		WithArgs("bel_1", int64(9), "trc_1", int64(3), "PROMOTE", "confidence>=0.85", 0.9, "[]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	latest := domain.Hypothesis{ID: 9, AiCallAuditID: 3, Confidence: conf(0.9)}
	promo, err := promoter.PromoteLatest(context.Background(), "trc_1", "bel_1", latest)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionPromote, promo.Decision)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPromoter_DefaultPolicy_Hold(t *testing.T) {
	pool, mock := newMockPool(t)
	promoter, err := NewPromoter(pool, "")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO belief_promotions")).
		WithArgs("bel_1", int64(1), "trc_1", int64(1), "HOLD", "0.60<=confidence<0.85", 0.7, "[]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	latest := domain.Hypothesis{ID: 1, AiCallAuditID: 1, Confidence: conf(0.7)}
	promo, err := promoter.PromoteLatest(context.Background(), "trc_1", "bel_1", latest)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionHold, promo.Decision)
}

func TestPromoter_DefaultPolicy_Reject(t *testing.T) {
	pool, mock := newMockPool(t)
	promoter, err := NewPromoter(pool, "")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO belief_promotions")).
		WithArgs("bel_1", int64(1), "trc_1", int64(1), "REJECT", "confidence<0.60", 0.1, "[]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	latest := domain.Hypothesis{ID: 1, AiCallAuditID: 1, Confidence: conf(0.1)}
	promo, err := promoter.PromoteLatest(context.Background(), "trc_1", "bel_1", latest)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionReject, promo.Decision)
}

func TestPromoter_CustomExpression(t *testing.T) {
	pool, mock := newMockPool(t)
	// An operator-tuned policy: promote at a much lower bar.
	promoter, err := NewPromoter(pool, `confidence >= 0.40 ? "PROMOTE" : "REJECT"`)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO belief_promotions")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	latest := domain.Hypothesis{ID: 2, AiCallAuditID: 2, Confidence: conf(0.45)}
	promo, err := promoter.PromoteLatest(context.Background(), "trc_1", "bel_1", latest)
	require.NoError(t, err)
	assert.Equal(t, domain.Decision("PROMOTE"), promo.Decision)
}

func TestPromoter_CustomExpression_UnrecognizedValue(t *testing.T) {
	pool, _ := newMockPool(t)
	promoter, err := NewPromoter(pool, `"MAYBE"`)
	require.NoError(t, err)

	latest := domain.Hypothesis{ID: 2, AiCallAuditID: 2, Confidence: conf(0.45)}
	_, err = promoter.PromoteLatest(context.Background(), "trc_1", "bel_1", latest)
	require.Error(t, err)
}

func TestPromoter_NilConfidenceDefaultsToZero(t *testing.T) {
	pool, mock := newMockPool(t)
	promoter, err := NewPromoter(pool, "")
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO belief_promotions")).
		WithArgs("bel_1", int64(4), "trc_1", int64(4), "REJECT", "confidence<0.60", 0.0, "[]").
		WillReturnResult(sqlmock.NewResult(0, 1))

	latest := domain.Hypothesis{ID: 4, AiCallAuditID: 4}
	promo, err := promoter.PromoteLatest(context.Background(), "trc_1", "bel_1", latest)
	require.NoError(t, err)
	assert.Equal(t, domain.DecisionReject, promo.Decision)
}

func TestPromoter_InvalidExpression_FailsToCompile(t *testing.T) {
	pool, _ := newMockPool(t)
	_, err := NewPromoter(pool, "confidence >>> 0.5")
	require.Error(t, err)
}

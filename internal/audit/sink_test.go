package audit

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

func TestSink_Record_ReturnsID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pool := &store.Pool{DB: db, Dialect: store.DialectPostgres}
	sink := NewSink(pool)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO ai_call_audit")).
		WithArgs("trc_1", "explain", "gemini-3", sqlmock.AnyArg(), sqlmock.AnyArg(),
			"raw output", sqlmock.AnyArg(), "ACCEPTED", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(42))

	id, err := sink.Record(context.Background(), CallInput{
		TraceID:      "trc_1",
		Phase:        "explain",
		ModelName:    "gemini-3",
		Prompt:       "prompt text",
		RawOutput:    "raw output",
		ParsedJSON:   map[string]string{"explanation": "x"},
		PolicyStatus: domain.PolicyStatusAccepted,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSink_Record_RejectedCallHasPolicyError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	pool := &store.Pool{DB: db, Dialect: store.DialectPostgres}
	sink := NewSink(pool)

	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO ai_call_audit")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	id, err := sink.Record(context.Background(), CallInput{
		TraceID:      "trc_1",
		Phase:        "explain",
		ModelName:    "gemini-3",
		Prompt:       "prompt text",
		RawOutput:    "garbage, not json",
		PolicyStatus: domain.PolicyStatusRejected,
		PolicyError:  "output is not valid JSON",
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
}

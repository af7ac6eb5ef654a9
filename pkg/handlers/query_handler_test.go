package handlers

import (
	"context"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
)

func TestQueryHandler_ListQueries(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer alloc.AssertSize(t, 0)

	svc := new(MockQueryService)
	h := NewQueryHandler(svc, alloc, nopLogger{}, nopMetrics{})
	ctx := context.Background()

	views := []models.QueryView{
		models.NewQueryView(models.QueryListItem{
			ID: "q1", Username: "ana", Question: "how many?",
			QuestionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
			Status:       querystatus.NotVerified, EvaluationScore: 72,
		}),
		models.NewQueryView(models.QueryListItem{
			ID: "q2", Username: "bo", Question: "who?",
			QuestionDate: time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
			Status:       "ARCHIVED",
		}),
	}
	opts := models.ListQueriesOptions{Limit: 10}
	svc.On("List", mock.Anything, opts).Return(views, nil)

	schema, ch, err := h.ListQueries(ctx, opts)
	require.NoError(t, err)
	assert.True(t, schema.Equal(models.GetQueryViewSchema()))

	var got []models.QueryView
	for chunk := range ch {
		decoded, err := models.QueryViewsFromRecord(chunk.Data)
		require.NoError(t, err)
		got = append(got, decoded...)
		chunk.Data.Release()
	}
	require.Len(t, got, 2)
	assert.Equal(t, querystatus.MediumConfidence, got[0].DisplayStatus)
	assert.Equal(t, querystatus.Yellow, got[0].DisplayColor)
	assert.False(t, got[1].Classified())
	svc.AssertExpectations(t)
}

func TestQueryHandler_ListQueriesError(t *testing.T) {
	svc := new(MockQueryService)
	h := NewQueryHandler(svc, memory.NewGoAllocator(), nopLogger{}, nopMetrics{})

	svc.On("List", mock.Anything, mock.Anything).Return(nil, errors.ErrConnectionFailed)

	schema, ch, err := h.ListQueries(context.Background(), models.ListQueriesOptions{})
	assert.ErrorIs(t, err, errors.ErrConnectionFailed)
	assert.Nil(t, schema)
	assert.Nil(t, ch)
}

func TestQueryHandler_GetQuery(t *testing.T) {
	alloc := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer alloc.AssertSize(t, 0)

	svc := new(MockQueryService)
	h := NewQueryHandler(svc, alloc, nopLogger{}, nopMetrics{})

	detail := models.NewQueryDetail(&models.Query{
		ID:           "q1",
		Username:     "ana",
		Question:     "how many?",
		QuestionDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		SQLQuery:     "SELECT count(*) FROM t",
		AIProcess:    []string{"plan", "run"},
		Status:       querystatus.SQLError,
		LastUpdated:  time.Date(2024, 1, 1, 1, 0, 0, 0, time.UTC),
	})
	svc.On("Get", mock.Anything, "q1").Return(detail, nil)
	svc.On("Get", mock.Anything, "missing").Return(nil, errors.ErrQueryNotFound)

	_, ch, err := h.GetQuery(context.Background(), "q1")
	require.NoError(t, err)
	chunk := <-ch
	got, err := models.QueryDetailFromRecord(chunk.Data)
	chunk.Data.Release()
	require.NoError(t, err)
	assert.Equal(t, querystatus.DisplaySQLError, got.DisplayStatus)
	assert.Equal(t, []string{"plan", "run"}, got.AIProcess)

	_, _, err = h.GetQuery(context.Background(), "missing")
	assert.True(t, errors.IsNotFound(err))
}

func TestQueryHandler_Delegates(t *testing.T) {
	svc := new(MockQueryService)
	h := NewQueryHandler(svc, memory.NewGoAllocator(), nopLogger{}, nopMetrics{})
	ctx := context.Background()

	view := &models.QueryView{DisplayStatus: querystatus.DisplayVerified}
	svc.On("Verify", mock.Anything, "q1").Return(view, nil)
	svc.On("MarkSQLError", mock.Anything, "q1", "boom").Return(view, nil)
	svc.On("Classify", querystatus.NotVerified, 95.0).
		Return(querystatus.Presentation{Status: querystatus.HighConfidence}, nil)
	svc.On("Census", mock.Anything).Return(models.NewStatusCensus(time.Time{}), nil)

	got, err := h.VerifyQuery(ctx, "q1")
	require.NoError(t, err)
	assert.Same(t, view, got)

	_, err = h.MarkSQLError(ctx, "q1", "boom")
	require.NoError(t, err)

	p, err := h.ClassifyStatus(querystatus.NotVerified, 95)
	require.NoError(t, err)
	assert.Equal(t, querystatus.HighConfidence, p.Status)

	census, err := h.StatusCensus(ctx)
	require.NoError(t, err)
	assert.Len(t, census.Counts, 5)

	svc.AssertExpectations(t)
}

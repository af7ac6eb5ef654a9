package duckdb

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/infrastructure/pool"
	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
)

func newTestPool(t *testing.T) pool.ConnectionPool {
	t.Helper()
	logger := zerolog.New(zerolog.NewTestWriter(t))
	p, err := pool.New(pool.Config{DSN: ":memory:"}, logger)
	require.NoError(t, err)
	t.Cleanup(func() { p.Close() })

	require.NoError(t, Migrate(context.Background(), p, logger))
	return p
}

func newQuery(id string, status querystatus.RawStatus, score float64, asked time.Time) *models.Query {
	return &models.Query{
		ID:              id,
		Username:        "ana",
		Question:        "question " + id,
		QuestionDate:    asked,
		SQLQuery:        "SELECT 1",
		AIProcess:       []string{"plan", "write sql"},
		NLResponse:      "answer " + id,
		Status:          status,
		EvaluationScore: score,
		LastUpdated:     asked,
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	p := newTestPool(t)
	logger := zerolog.New(zerolog.NewTestWriter(t))
	require.NoError(t, Migrate(context.Background(), p, logger))
}

func TestQueryRepository_UpsertGet(t *testing.T) {
	p := newTestPool(t)
	repo := NewQueryRepository(p, zerolog.New(zerolog.NewTestWriter(t)))
	ctx := context.Background()

	asked := time.Date(2023, 9, 14, 10, 30, 0, 0, time.UTC)
	q := newQuery("q-1", querystatus.NotVerified, 85, asked)
	q.SQLQueryResult = &models.QuerySQLResult{
		Columns: []string{"city", "total"},
		Rows:    []map[string]interface{}{{"city": "Austin", "total": float64(12)}},
	}
	require.NoError(t, repo.Upsert(ctx, q))

	got, err := repo.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, q, got)

	q.NLResponse = "changed"
	require.NoError(t, repo.Upsert(ctx, q))
	got, err = repo.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, "changed", got.NLResponse)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestQueryRepository_GetNotFound(t *testing.T) {
	p := newTestPool(t)
	repo := NewQueryRepository(p, zerolog.New(zerolog.NewTestWriter(t)))

	_, err := repo.Get(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.IsNotFound(err))
}

func TestQueryRepository_UnknownStatusReadsBack(t *testing.T) {
	p := newTestPool(t)
	repo := NewQueryRepository(p, zerolog.New(zerolog.NewTestWriter(t)))
	ctx := context.Background()

	q := newQuery("q-odd", "PENDING", 50, time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Upsert(ctx, q))

	got, err := repo.Get(ctx, "q-odd")
	require.NoError(t, err)
	assert.Equal(t, querystatus.RawStatus("PENDING"), got.Status)
}

func TestQueryRepository_List(t *testing.T) {
	p := newTestPool(t)
	repo := NewQueryRepository(p, zerolog.New(zerolog.NewTestWriter(t)))
	ctx := context.Background()

	base := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	statuses := []querystatus.RawStatus{querystatus.Verified, querystatus.NotVerified, querystatus.SQLError}
	for i := 0; i < 9; i++ {
		q := newQuery(fmt.Sprintf("q-%d", i), statuses[i%3], float64(i*10), base.Add(time.Duration(i)*time.Hour))
		if i == 8 {
			q.Username = "ben"
		}
		require.NoError(t, repo.Upsert(ctx, q))
	}

	t.Run("newest first", func(t *testing.T) {
		items, err := repo.List(ctx, models.ListQueriesOptions{})
		require.NoError(t, err)
		require.Len(t, items, 9)
		assert.Equal(t, "q-8", items[0].ID)
		assert.Equal(t, "q-0", items[8].ID)
	})

	t.Run("status filter", func(t *testing.T) {
		items, err := repo.List(ctx, models.ListQueriesOptions{Status: querystatus.NotVerified})
		require.NoError(t, err)
		require.Len(t, items, 3)
		for _, item := range items {
			assert.Equal(t, querystatus.NotVerified, item.Status)
		}
	})

	t.Run("username filter", func(t *testing.T) {
		items, err := repo.List(ctx, models.ListQueriesOptions{Username: "ben"})
		require.NoError(t, err)
		require.Len(t, items, 1)
		assert.Equal(t, "q-8", items[0].ID)
	})

	t.Run("paging", func(t *testing.T) {
		items, err := repo.List(ctx, models.ListQueriesOptions{Limit: 4, Offset: 4})
		require.NoError(t, err)
		require.Len(t, items, 4)
		assert.Equal(t, "q-4", items[0].ID)
	})
}

func TestQueryRepository_UpdateStatus(t *testing.T) {
	p := newTestPool(t)
	repo := NewQueryRepository(p, zerolog.New(zerolog.NewTestWriter(t))).(*queryRepository)
	ctx := context.Background()

	fixed := time.Date(2024, 2, 2, 12, 0, 0, 0, time.UTC)
	repo.now = func() time.Time { return fixed }

	q := newQuery("q-1", querystatus.NotVerified, 40, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, repo.Upsert(ctx, q))

	require.NoError(t, repo.UpdateStatus(ctx, "q-1", querystatus.SQLError, "syntax error"))
	got, err := repo.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, querystatus.SQLError, got.Status)
	assert.Equal(t, "syntax error", got.SQLErrorMessage)
	assert.Equal(t, fixed, got.LastUpdated)
	assert.Equal(t, 40.0, got.EvaluationScore)

	require.NoError(t, repo.UpdateStatus(ctx, "q-1", querystatus.Verified, ""))
	got, err = repo.Get(ctx, "q-1")
	require.NoError(t, err)
	assert.Equal(t, querystatus.Verified, got.Status)
	assert.Empty(t, got.SQLErrorMessage)

	err = repo.UpdateStatus(ctx, "missing", querystatus.Verified, "")
	assert.True(t, errors.IsNotFound(err))
}

func TestQueryRepository_ScanStatuses(t *testing.T) {
	p := newTestPool(t)
	repo := NewQueryRepository(p, zerolog.New(zerolog.NewTestWriter(t)))
	ctx := context.Background()

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Upsert(ctx, newQuery("a", querystatus.NotVerified, 95, at)))
	require.NoError(t, repo.Upsert(ctx, newQuery("b", querystatus.Verified, 10, at)))

	census := models.NewStatusCensus(at)
	require.NoError(t, repo.ScanStatuses(ctx, census.Add))
	assert.Equal(t, int64(2), census.Total)
	assert.Equal(t, int64(1), census.Counts[querystatus.HighConfidence])
	assert.Equal(t, int64(1), census.Counts[querystatus.DisplayVerified])
}

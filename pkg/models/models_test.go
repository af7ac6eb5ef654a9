package models

import (
	"strings"
	"testing"
	"time"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/querystatus"
)

func sampleQuery() *Query {
	asked := time.Date(2023, 9, 14, 10, 30, 0, 0, time.UTC)
	return &Query{
		ID:           "q-1",
		Username:     "ana",
		Question:     "How many listings sold in Austin last month?",
		QuestionDate: asked,
		SQLQuery:     "SELECT count(*) FROM listings WHERE city = 'Austin'",
		SQLQueryResult: &QuerySQLResult{
			Columns: []string{"count"},
			Rows:    []map[string]interface{}{{"count": float64(42)}},
		},
		AIProcess:       []string{"lookup tables", "generate sql"},
		NLResponse:      "42 listings were sold.",
		Status:          querystatus.NotVerified,
		EvaluationScore: 85,
		LastUpdated:     asked.Add(time.Hour),
	}
}

func TestNewQueryView(t *testing.T) {
	t.Run("classified", func(t *testing.T) {
		v := NewQueryView(sampleQuery().ListItem())
		assert.True(t, v.Classified())
		assert.Equal(t, querystatus.MediumConfidence, v.DisplayStatus)
		assert.Equal(t, querystatus.Yellow, v.DisplayColor)
		assert.Equal(t, "medium confidence", v.Label)
	})

	t.Run("unclassifiable", func(t *testing.T) {
		item := sampleQuery().ListItem()
		item.Status = "PENDING"
		v := NewQueryView(item)
		assert.False(t, v.Classified())
		assert.Empty(t, v.DisplayColor)
		assert.Empty(t, v.Label)
		assert.Equal(t, querystatus.RawStatus("PENDING"), v.Status)
	})
}

func TestNewQueryDetail(t *testing.T) {
	q := sampleQuery()
	q.Status = querystatus.SQLError
	q.SQLErrorMessage = "column does not exist"

	d := NewQueryDetail(q)
	assert.Equal(t, querystatus.DisplaySQLError, d.DisplayStatus)
	assert.Equal(t, querystatus.Red, d.DisplayColor)
	assert.Equal(t, "SQL error", d.Label)

	v := d.View()
	assert.Equal(t, q.ID, v.ID)
	assert.Equal(t, d.Label, v.Label)
}

func TestListQueriesOptionsNormalize(t *testing.T) {
	tests := []struct {
		name   string
		in     ListQueriesOptions
		limit  int
		offset int
	}{
		{"defaults", ListQueriesOptions{}, DefaultQueryLimit, 0},
		{"clamped", ListQueriesOptions{Limit: 10_000, Offset: -3}, MaxQueryLimit, 0},
		{"kept", ListQueriesOptions{Limit: 5, Offset: 10}, 5, 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := tt.in.Normalize()
			assert.Equal(t, tt.limit, out.Limit)
			assert.Equal(t, tt.offset, out.Offset)
		})
	}
}

func TestStatusCensus(t *testing.T) {
	c := NewStatusCensus(time.Now())
	require.Len(t, c.Counts, 5)

	c.Add(querystatus.Verified, 0)
	c.Add(querystatus.NotVerified, 10)
	c.Add(querystatus.NotVerified, 95)
	c.Add("DELETED", 95)

	assert.Equal(t, int64(4), c.Total)
	assert.Equal(t, int64(1), c.Unclassifiable)
	assert.Equal(t, int64(1), c.Counts[querystatus.DisplayVerified])
	assert.Equal(t, int64(1), c.Counts[querystatus.LowConfidence])
	assert.Equal(t, int64(1), c.Counts[querystatus.HighConfidence])
	assert.Equal(t, int64(0), c.Counts[querystatus.MediumConfidence])
}

func TestValidateKeyName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantMsg string
	}{
		{"empty", "", "", NameTooShortMessage},
		{"too short", "ab", "", NameTooShortMessage},
		{"whitespace only", "     ", "", NameTooShortMessage},
		{"minimum", "abc", "abc", ""},
		{"trimmed", "  prod key  ", "prod key", ""},
		{"maximum", strings.Repeat("k", 50), strings.Repeat("k", 50), ""},
		{"too long", strings.Repeat("k", 51), "", NameTooLongMessage},
		{"multibyte counts runes", "ñño", "ñño", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ValidateKeyName(tt.input)
			if tt.wantMsg != "" {
				require.Error(t, err)
				assert.True(t, errors.IsInvalidRequest(err))
				assert.ErrorIs(t, err, errors.ErrInvalidKeyName)
				assert.Equal(t, tt.wantMsg, errors.GetMessage(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestQueryViewsRecord(t *testing.T) {
	allocator := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer allocator.AssertSize(t, 0)

	classified := NewQueryView(sampleQuery().ListItem())
	unknown := classified
	unknown.ID = "q-2"
	unknown.Status = "PENDING"
	unknown = NewQueryView(unknown.QueryListItem)

	rec := QueryViewsToRecord(allocator, []QueryView{classified, unknown})
	defer rec.Release()

	assert.Equal(t, int64(2), rec.NumRows())
	assert.True(t, rec.Schema().Equal(GetQueryViewSchema()))

	views, err := QueryViewsFromRecord(rec)
	require.NoError(t, err)
	require.Len(t, views, 2)
	assert.Equal(t, classified, views[0])
	assert.Equal(t, unknown, views[1])
	assert.True(t, rec.Column(7).IsNull(1), "unclassified display status is null")
}

func TestQueryDetailRecord(t *testing.T) {
	allocator := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer allocator.AssertSize(t, 0)

	d := NewQueryDetail(sampleQuery())
	rec, err := QueryDetailToRecord(allocator, d)
	require.NoError(t, err)
	defer rec.Release()

	got, err := QueryDetailFromRecord(rec)
	require.NoError(t, err)
	assert.Equal(t, d.ID, got.ID)
	assert.Equal(t, d.SQLQuery, got.SQLQuery)
	assert.Equal(t, d.AIProcess, got.AIProcess)
	assert.Equal(t, d.SQLQueryResult, got.SQLQueryResult)
	assert.Equal(t, d.LastUpdated, got.LastUpdated)
	assert.Equal(t, querystatus.MediumConfidence, got.DisplayStatus)
	assert.Empty(t, got.SQLErrorMessage)
}

func TestAPIKeysRecord(t *testing.T) {
	allocator := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer allocator.AssertSize(t, 0)

	created := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	used := created.Add(24 * time.Hour)
	keys := []*APIKey{
		{ID: "k-1", Name: "prod", KeyPrefix: "dh-abcd", KeyHash: "secret-hash", CreatedAt: created},
		{ID: "k-2", Name: "staging", KeyPrefix: "dh-efgh", CreatedAt: created, LastUsedAt: &used},
	}

	rec := APIKeysToRecord(allocator, keys)
	defer rec.Release()

	for _, f := range rec.Schema().Fields() {
		assert.NotContains(t, f.Name, "hash")
	}

	got, err := APIKeysFromRecord(rec)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Nil(t, got[0].LastUsedAt)
	assert.Empty(t, got[0].KeyHash)
	require.NotNil(t, got[1].LastUsedAt)
	assert.Equal(t, used, *got[1].LastUsedAt)
}

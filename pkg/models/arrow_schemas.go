package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dataherald/console/pkg/querystatus"
)

var timestampType = arrow.FixedWidthTypes.Timestamp_us

// GetQueryViewSchema returns the Arrow schema for query list results.
func GetQueryViewSchema() *arrow.Schema {
	return arrow.NewSchema(queryViewFields(), nil)
}

func queryViewFields() []arrow.Field {
	return []arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "username", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "question", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "question_date", Type: timestampType, Nullable: false},
		{Name: "nl_response", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "status", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "evaluation_score", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
		{Name: "display_status", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "display_color", Type: arrow.BinaryTypes.String, Nullable: true},
		{Name: "label", Type: arrow.BinaryTypes.String, Nullable: false},
	}
}

// GetQueryDetailSchema returns the Arrow schema for a single query. The SQL
// result is carried as a JSON document.
func GetQueryDetailSchema() *arrow.Schema {
	fields := queryViewFields()
	fields = append(fields,
		arrow.Field{Name: "sql_query", Type: arrow.BinaryTypes.String, Nullable: false},
		arrow.Field{Name: "sql_query_result", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "sql_error_message", Type: arrow.BinaryTypes.String, Nullable: true},
		arrow.Field{Name: "ai_process", Type: arrow.ListOf(arrow.BinaryTypes.String), Nullable: false},
		arrow.Field{Name: "last_updated", Type: timestampType, Nullable: false},
	)
	return arrow.NewSchema(fields, nil)
}

// GetAPIKeySchema returns the Arrow schema for API key listings. Secrets and
// hashes are never part of it.
func GetAPIKeySchema() *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "key_prefix", Type: arrow.BinaryTypes.String, Nullable: false},
		{Name: "created_at", Type: timestampType, Nullable: false},
		{Name: "last_used_at", Type: timestampType, Nullable: true},
	}, nil)
}

func toTimestamp(t time.Time) arrow.Timestamp {
	return arrow.Timestamp(t.UTC().UnixMicro())
}

func fromTimestamp(ts arrow.Timestamp) time.Time {
	return ts.ToTime(arrow.Microsecond).UTC()
}

func appendOptionalString(b *array.StringBuilder, s string) {
	if s == "" {
		b.AppendNull()
		return
	}
	b.Append(s)
}

func appendView(builder *array.RecordBuilder, v QueryView) {
	builder.Field(0).(*array.StringBuilder).Append(v.ID)
	builder.Field(1).(*array.StringBuilder).Append(v.Username)
	builder.Field(2).(*array.StringBuilder).Append(v.Question)
	builder.Field(3).(*array.TimestampBuilder).Append(toTimestamp(v.QuestionDate))
	builder.Field(4).(*array.StringBuilder).Append(v.NLResponse)
	builder.Field(5).(*array.StringBuilder).Append(string(v.Status))
	builder.Field(6).(*array.Float64Builder).Append(v.EvaluationScore)
	appendOptionalString(builder.Field(7).(*array.StringBuilder), string(v.DisplayStatus))
	appendOptionalString(builder.Field(8).(*array.StringBuilder), string(v.DisplayColor))
	builder.Field(9).(*array.StringBuilder).Append(v.Label)
}

// QueryViewsToRecord converts query views to an Arrow record. The caller
// owns the record and must release it.
func QueryViewsToRecord(allocator memory.Allocator, views []QueryView) arrow.Record {
	builder := array.NewRecordBuilder(allocator, GetQueryViewSchema())
	defer builder.Release()

	for _, v := range views {
		appendView(builder, v)
	}

	return builder.NewRecord()
}

// QueryDetailToRecord converts a single query to a one-row Arrow record.
func QueryDetailToRecord(allocator memory.Allocator, d *QueryDetail) (arrow.Record, error) {
	builder := array.NewRecordBuilder(allocator, GetQueryDetailSchema())
	defer builder.Release()

	appendView(builder, d.View())
	builder.Field(10).(*array.StringBuilder).Append(d.SQLQuery)

	resultBuilder := builder.Field(11).(*array.StringBuilder)
	if d.SQLQueryResult == nil {
		resultBuilder.AppendNull()
	} else {
		raw, err := json.Marshal(d.SQLQueryResult)
		if err != nil {
			return nil, fmt.Errorf("failed to encode sql result: %w", err)
		}
		resultBuilder.Append(string(raw))
	}

	appendOptionalString(builder.Field(12).(*array.StringBuilder), d.SQLErrorMessage)

	listBuilder := builder.Field(13).(*array.ListBuilder)
	listBuilder.Append(true)
	stepBuilder := listBuilder.ValueBuilder().(*array.StringBuilder)
	for _, step := range d.AIProcess {
		stepBuilder.Append(step)
	}

	builder.Field(14).(*array.TimestampBuilder).Append(toTimestamp(d.LastUpdated))

	return builder.NewRecord(), nil
}

// APIKeysToRecord converts API key metadata to an Arrow record.
func APIKeysToRecord(allocator memory.Allocator, keys []*APIKey) arrow.Record {
	builder := array.NewRecordBuilder(allocator, GetAPIKeySchema())
	defer builder.Release()

	for _, k := range keys {
		builder.Field(0).(*array.StringBuilder).Append(k.ID)
		builder.Field(1).(*array.StringBuilder).Append(k.Name)
		builder.Field(2).(*array.StringBuilder).Append(k.KeyPrefix)
		builder.Field(3).(*array.TimestampBuilder).Append(toTimestamp(k.CreatedAt))
		lastUsed := builder.Field(4).(*array.TimestampBuilder)
		if k.LastUsedAt == nil {
			lastUsed.AppendNull()
		} else {
			lastUsed.Append(toTimestamp(*k.LastUsedAt))
		}
	}

	return builder.NewRecord()
}

func stringColumn(rec arrow.Record, name string) (*array.String, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("column %q missing", name)
	}
	col, ok := rec.Column(idx[0]).(*array.String)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want utf8", name, rec.Column(idx[0]).DataType())
	}
	return col, nil
}

func timestampColumn(rec arrow.Record, name string) (*array.Timestamp, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("column %q missing", name)
	}
	col, ok := rec.Column(idx[0]).(*array.Timestamp)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want timestamp", name, rec.Column(idx[0]).DataType())
	}
	return col, nil
}

func float64Column(rec arrow.Record, name string) (*array.Float64, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) == 0 {
		return nil, fmt.Errorf("column %q missing", name)
	}
	col, ok := rec.Column(idx[0]).(*array.Float64)
	if !ok {
		return nil, fmt.Errorf("column %q is %s, want float64", name, rec.Column(idx[0]).DataType())
	}
	return col, nil
}

func optionalString(col *array.String, i int) string {
	if col.IsNull(i) {
		return ""
	}
	return col.Value(i)
}

// QueryViewsFromRecord decodes a record produced by QueryViewsToRecord or
// QueryDetailToRecord.
func QueryViewsFromRecord(rec arrow.Record) ([]QueryView, error) {
	var cols [8]*array.String
	for i, name := range []string{"id", "username", "question", "nl_response", "status", "display_status", "display_color", "label"} {
		col, err := stringColumn(rec, name)
		if err != nil {
			return nil, err
		}
		cols[i] = col
	}
	dates, err := timestampColumn(rec, "question_date")
	if err != nil {
		return nil, err
	}
	scores, err := float64Column(rec, "evaluation_score")
	if err != nil {
		return nil, err
	}

	views := make([]QueryView, 0, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		views = append(views, QueryView{
			QueryListItem: QueryListItem{
				ID:              cols[0].Value(i),
				Username:        cols[1].Value(i),
				Question:        cols[2].Value(i),
				QuestionDate:    fromTimestamp(dates.Value(i)),
				NLResponse:      cols[3].Value(i),
				Status:          querystatus.RawStatus(cols[4].Value(i)),
				EvaluationScore: scores.Value(i),
			},
			DisplayStatus: querystatus.DisplayStatus(optionalString(cols[5], i)),
			DisplayColor:  querystatus.DisplayColor(optionalString(cols[6], i)),
			Label:         cols[7].Value(i),
		})
	}
	return views, nil
}

// QueryDetailFromRecord decodes the first row of a record produced by
// QueryDetailToRecord.
func QueryDetailFromRecord(rec arrow.Record) (*QueryDetail, error) {
	if rec.NumRows() == 0 {
		return nil, fmt.Errorf("empty query record")
	}
	views, err := QueryViewsFromRecord(rec)
	if err != nil {
		return nil, err
	}
	v := views[0]

	sqlQuery, err := stringColumn(rec, "sql_query")
	if err != nil {
		return nil, err
	}
	sqlResult, err := stringColumn(rec, "sql_query_result")
	if err != nil {
		return nil, err
	}
	sqlError, err := stringColumn(rec, "sql_error_message")
	if err != nil {
		return nil, err
	}
	updated, err := timestampColumn(rec, "last_updated")
	if err != nil {
		return nil, err
	}
	idx := rec.Schema().FieldIndices("ai_process")
	if len(idx) == 0 {
		return nil, fmt.Errorf("column %q missing", "ai_process")
	}
	steps, ok := rec.Column(idx[0]).(*array.List)
	if !ok {
		return nil, fmt.Errorf("column %q is not a list", "ai_process")
	}

	d := &QueryDetail{
		Query: Query{
			ID:              v.ID,
			Username:        v.Username,
			Question:        v.Question,
			QuestionDate:    v.QuestionDate,
			SQLQuery:        sqlQuery.Value(0),
			SQLErrorMessage: optionalString(sqlError, 0),
			NLResponse:      v.NLResponse,
			Status:          v.Status,
			EvaluationScore: v.EvaluationScore,
			LastUpdated:     fromTimestamp(updated.Value(0)),
		},
		DisplayStatus: v.DisplayStatus,
		DisplayColor:  v.DisplayColor,
		Label:         v.Label,
	}

	if !sqlResult.IsNull(0) {
		var result QuerySQLResult
		if err := json.Unmarshal([]byte(sqlResult.Value(0)), &result); err != nil {
			return nil, fmt.Errorf("failed to decode sql result: %w", err)
		}
		d.SQLQueryResult = &result
	}

	values := steps.ListValues().(*array.String)
	start, end := steps.ValueOffsets(0)
	d.AIProcess = make([]string, 0, end-start)
	for j := start; j < end; j++ {
		d.AIProcess = append(d.AIProcess, values.Value(int(j)))
	}

	return d, nil
}

// APIKeysFromRecord decodes a record produced by APIKeysToRecord.
func APIKeysFromRecord(rec arrow.Record) ([]*APIKey, error) {
	ids, err := stringColumn(rec, "id")
	if err != nil {
		return nil, err
	}
	names, err := stringColumn(rec, "name")
	if err != nil {
		return nil, err
	}
	prefixes, err := stringColumn(rec, "key_prefix")
	if err != nil {
		return nil, err
	}
	created, err := timestampColumn(rec, "created_at")
	if err != nil {
		return nil, err
	}
	lastUsed, err := timestampColumn(rec, "last_used_at")
	if err != nil {
		return nil, err
	}

	keys := make([]*APIKey, 0, rec.NumRows())
	for i := 0; i < int(rec.NumRows()); i++ {
		k := &APIKey{
			ID:        ids.Value(i),
			Name:      names.Value(i),
			KeyPrefix: prefixes.Value(i),
			CreatedAt: fromTimestamp(created.Value(i)),
		}
		if !lastUsed.IsNull(i) {
			t := fromTimestamp(lastUsed.Value(i))
			k.LastUsedAt = &t
		}
		keys = append(keys, k)
	}
	return keys, nil
}

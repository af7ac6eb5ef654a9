package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	stderrors "errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/infrastructure/pool"
	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
	"github.com/dataherald/console/pkg/repositories"
)

const queryColumns = `id, username, question, question_date, sql_query, sql_query_result,
	sql_error_message, ai_process, nl_response, status, evaluation_score, last_updated`

// queryRepository implements repositories.QueryRepository for DuckDB.
type queryRepository struct {
	pool   pool.ConnectionPool
	logger zerolog.Logger
	now    func() time.Time
}

// NewQueryRepository creates a new DuckDB query repository.
func NewQueryRepository(pool pool.ConnectionPool, logger zerolog.Logger) repositories.QueryRepository {
	return &queryRepository{
		pool:   pool,
		logger: logger,
		now:    time.Now,
	}
}

// Upsert inserts q or replaces the stored query with the same ID.
func (r *queryRepository) Upsert(ctx context.Context, q *models.Query) error {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	var sqlResult sql.NullString
	if q.SQLQueryResult != nil {
		raw, err := json.Marshal(q.SQLQueryResult)
		if err != nil {
			return errors.Wrap(err, errors.CodeInvalidRequest, "failed to encode sql result")
		}
		sqlResult = sql.NullString{String: string(raw), Valid: true}
	}

	steps := q.AIProcess
	if steps == nil {
		steps = []string{}
	}
	aiProcess, err := json.Marshal(steps)
	if err != nil {
		return errors.Wrap(err, errors.CodeInvalidRequest, "failed to encode ai process")
	}

	lastUpdated := q.LastUpdated
	if lastUpdated.IsZero() {
		lastUpdated = r.now()
	}

	_, err = db.ExecContext(ctx,
		`INSERT OR REPLACE INTO queries (`+queryColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Username, q.Question, q.QuestionDate.UTC(), q.SQLQuery, sqlResult,
		nullString(q.SQLErrorMessage), string(aiProcess), q.NLResponse, string(q.Status),
		q.EvaluationScore, lastUpdated.UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, errors.CodeQueryFailed, "failed to store query %s", q.ID)
	}

	r.logger.Debug().Str("query_id", q.ID).Str("status", string(q.Status)).Msg("Query stored")
	return nil
}

// Get retrieves a query by ID.
func (r *queryRepository) Get(ctx context.Context, id string) (*models.Query, error) {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	row := db.QueryRowContext(ctx, `SELECT `+queryColumns+` FROM queries WHERE id = ?`, id)
	q, err := scanQuery(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrQueryNotFound.WithDetail("id", id)
	}
	if err != nil {
		return nil, errors.Wrapf(err, errors.CodeQueryFailed, "failed to load query %s", id)
	}
	return q, nil
}

// List returns list items matching the raw status and username filters of
// opts, newest first.
func (r *queryRepository) List(ctx context.Context, opts models.ListQueriesOptions) ([]models.QueryListItem, error) {
	opts = opts.Normalize()

	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	var (
		where []string
		args  []interface{}
	)
	if opts.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.Username != "" {
		where = append(where, "username = ?")
		args = append(args, opts.Username)
	}

	query := `SELECT id, username, question, question_date, nl_response, status, evaluation_score FROM queries`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY question_date DESC, id LIMIT ? OFFSET ?"
	args = append(args, opts.Limit, opts.Offset)

	r.logger.Debug().
		Str("status", string(opts.Status)).
		Int("limit", opts.Limit).
		Int("offset", opts.Offset).
		Msg("Listing queries")

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to list queries")
	}
	defer rows.Close()

	items := make([]models.QueryListItem, 0, opts.Limit)
	for rows.Next() {
		var (
			item   models.QueryListItem
			status string
		)
		if err := rows.Scan(&item.ID, &item.Username, &item.Question, &item.QuestionDate,
			&item.NLResponse, &status, &item.EvaluationScore); err != nil {
			return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to scan query")
		}
		item.Status = querystatus.RawStatus(status)
		item.QuestionDate = item.QuestionDate.UTC()
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to list queries")
	}
	return items, nil
}

// UpdateStatus sets the raw status of a query.
func (r *queryRepository) UpdateStatus(ctx context.Context, id string, status querystatus.RawStatus, sqlErrorMessage string) error {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	res, err := db.ExecContext(ctx,
		`UPDATE queries SET status = ?, sql_error_message = ?, last_updated = ? WHERE id = ?`,
		string(status), nullString(sqlErrorMessage), r.now().UTC(), id,
	)
	if err != nil {
		return errors.Wrapf(err, errors.CodeQueryFailed, "failed to update query %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.CodeQueryFailed, "failed to get rows affected")
	}
	if n == 0 {
		return errors.ErrQueryNotFound.WithDetail("id", id)
	}

	r.logger.Debug().Str("query_id", id).Str("status", string(status)).Msg("Query status updated")
	return nil
}

// Count returns the number of stored queries.
func (r *queryRepository) Count(ctx context.Context) (int64, error) {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return 0, errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	var n int64
	if err := db.QueryRowContext(ctx, `SELECT count(*) FROM queries`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.CodeQueryFailed, "failed to count queries")
	}
	return n, nil
}

// ScanStatuses calls fn with the status and score of every stored query.
func (r *queryRepository) ScanStatuses(ctx context.Context, fn func(status querystatus.RawStatus, score float64)) error {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	rows, err := db.QueryContext(ctx, `SELECT status, evaluation_score FROM queries`)
	if err != nil {
		return errors.Wrap(err, errors.CodeQueryFailed, "failed to scan statuses")
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			score  float64
		)
		if err := rows.Scan(&status, &score); err != nil {
			return errors.Wrap(err, errors.CodeQueryFailed, "failed to scan status")
		}
		fn(querystatus.RawStatus(status), score)
	}
	if err := rows.Err(); err != nil {
		return errors.Wrap(err, errors.CodeQueryFailed, "failed to scan statuses")
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanQuery(row rowScanner) (*models.Query, error) {
	var (
		q         models.Query
		sqlResult sql.NullString
		sqlError  sql.NullString
		aiProcess string
		status    string
	)
	if err := row.Scan(&q.ID, &q.Username, &q.Question, &q.QuestionDate, &q.SQLQuery, &sqlResult,
		&sqlError, &aiProcess, &q.NLResponse, &status, &q.EvaluationScore, &q.LastUpdated); err != nil {
		return nil, err
	}

	q.Status = querystatus.RawStatus(status)
	q.SQLErrorMessage = sqlError.String
	q.QuestionDate = q.QuestionDate.UTC()
	q.LastUpdated = q.LastUpdated.UTC()

	if sqlResult.Valid {
		var result models.QuerySQLResult
		if err := json.Unmarshal([]byte(sqlResult.String), &result); err != nil {
			return nil, err
		}
		q.SQLQueryResult = &result
	}
	if err := json.Unmarshal([]byte(aiProcess), &q.AIProcess); err != nil {
		return nil, err
	}
	return &q, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

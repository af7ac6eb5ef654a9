// Package duckdb provides DuckDB-specific repository implementations.
package duckdb

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/infrastructure/pool"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS queries (
		id                VARCHAR PRIMARY KEY,
		username          VARCHAR NOT NULL,
		question          VARCHAR NOT NULL,
		question_date     TIMESTAMP NOT NULL,
		sql_query         VARCHAR NOT NULL DEFAULT '',
		sql_query_result  VARCHAR,
		sql_error_message VARCHAR,
		ai_process        VARCHAR NOT NULL DEFAULT '[]',
		nl_response       VARCHAR NOT NULL DEFAULT '',
		status            VARCHAR NOT NULL,
		evaluation_score  DOUBLE NOT NULL DEFAULT 0,
		last_updated      TIMESTAMP NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id           VARCHAR PRIMARY KEY,
		name         VARCHAR NOT NULL,
		key_prefix   VARCHAR NOT NULL,
		key_hash     VARCHAR NOT NULL UNIQUE,
		created_at   TIMESTAMP NOT NULL,
		last_used_at TIMESTAMP
	)`,
}

// Migrate creates the console tables when they do not exist yet.
func Migrate(ctx context.Context, p pool.ConnectionPool, logger zerolog.Logger) error {
	db, err := p.Get(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, errors.CodeQueryFailed, "failed to apply schema")
		}
	}

	logger.Info().Int("statements", len(schemaStatements)).Msg("Schema migrated")
	return nil
}

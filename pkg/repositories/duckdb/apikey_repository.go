package duckdb

import (
	"context"
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/infrastructure/pool"
	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/repositories"
)

// apiKeyRepository implements repositories.APIKeyRepository for DuckDB.
type apiKeyRepository struct {
	pool   pool.ConnectionPool
	logger zerolog.Logger
}

// NewAPIKeyRepository creates a new DuckDB API key repository.
func NewAPIKeyRepository(pool pool.ConnectionPool, logger zerolog.Logger) repositories.APIKeyRepository {
	return &apiKeyRepository{
		pool:   pool,
		logger: logger,
	}
}

// Insert stores a new key.
func (r *apiKeyRepository) Insert(ctx context.Context, key *models.APIKey) error {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	_, err = db.ExecContext(ctx,
		`INSERT INTO api_keys (id, name, key_prefix, key_hash, created_at) VALUES (?, ?, ?, ?, ?)`,
		key.ID, key.Name, key.KeyPrefix, key.KeyHash, key.CreatedAt.UTC(),
	)
	if err != nil {
		return errors.Wrapf(err, errors.CodeQueryFailed, "failed to store api key %s", key.ID)
	}

	r.logger.Debug().Str("key_id", key.ID).Str("name", key.Name).Msg("API key stored")
	return nil
}

// GetByHash retrieves a key by the hash of its secret.
func (r *apiKeyRepository) GetByHash(ctx context.Context, hash string) (*models.APIKey, error) {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	row := db.QueryRowContext(ctx,
		`SELECT id, name, key_prefix, key_hash, created_at, last_used_at FROM api_keys WHERE key_hash = ?`, hash)
	key, err := scanAPIKey(row)
	if stderrors.Is(err, sql.ErrNoRows) {
		return nil, errors.ErrAPIKeyNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to load api key")
	}
	return key, nil
}

// List returns every key, newest first.
func (r *apiKeyRepository) List(ctx context.Context) ([]*models.APIKey, error) {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	rows, err := db.QueryContext(ctx,
		`SELECT id, name, key_prefix, key_hash, created_at, last_used_at FROM api_keys ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to list api keys")
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to scan api key")
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.CodeQueryFailed, "failed to list api keys")
	}
	return keys, nil
}

// Delete removes a key.
func (r *apiKeyRepository) Delete(ctx context.Context, id string) error {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	res, err := db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return errors.Wrapf(err, errors.CodeQueryFailed, "failed to delete api key %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.CodeQueryFailed, "failed to get rows affected")
	}
	if n == 0 {
		return errors.ErrAPIKeyNotFound.WithDetail("id", id)
	}

	r.logger.Debug().Str("key_id", id).Msg("API key deleted")
	return nil
}

// Touch records a use of the key.
func (r *apiKeyRepository) Touch(ctx context.Context, id string, at time.Time) error {
	db, err := r.pool.Get(ctx)
	if err != nil {
		return errors.Wrap(err, errors.CodeConnectionFailed, "failed to get connection from pool")
	}

	res, err := db.ExecContext(ctx, `UPDATE api_keys SET last_used_at = ? WHERE id = ?`, at.UTC(), id)
	if err != nil {
		return errors.Wrapf(err, errors.CodeQueryFailed, "failed to touch api key %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, errors.CodeQueryFailed, "failed to get rows affected")
	}
	if n == 0 {
		return errors.ErrAPIKeyNotFound.WithDetail("id", id)
	}
	return nil
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	var (
		key      models.APIKey
		lastUsed sql.NullTime
	)
	if err := row.Scan(&key.ID, &key.Name, &key.KeyPrefix, &key.KeyHash, &key.CreatedAt, &lastUsed); err != nil {
		return nil, err
	}
	key.CreatedAt = key.CreatedAt.UTC()
	if lastUsed.Valid {
		t := lastUsed.Time.UTC()
		key.LastUsedAt = &t
	}
	return &key, nil
}

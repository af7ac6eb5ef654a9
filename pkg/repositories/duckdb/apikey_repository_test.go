package duckdb

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/models"
)

func TestAPIKeyRepository_Lifecycle(t *testing.T) {
	p := newTestPool(t)
	repo := NewAPIKeyRepository(p, zerolog.New(zerolog.NewTestWriter(t)))
	ctx := context.Background()

	created := time.Date(2023, 10, 1, 9, 0, 0, 0, time.UTC)
	older := &models.APIKey{ID: "k-1", Name: "prod", KeyPrefix: "dh-aaaa", KeyHash: "hash-1", CreatedAt: created}
	newer := &models.APIKey{ID: "k-2", Name: "staging", KeyPrefix: "dh-bbbb", KeyHash: "hash-2", CreatedAt: created.Add(time.Hour)}
	require.NoError(t, repo.Insert(ctx, older))
	require.NoError(t, repo.Insert(ctx, newer))

	keys, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 2)
	assert.Equal(t, "k-2", keys[0].ID)
	assert.Nil(t, keys[0].LastUsedAt)

	got, err := repo.GetByHash(ctx, "hash-1")
	require.NoError(t, err)
	assert.Equal(t, older, got)

	used := created.Add(48 * time.Hour)
	require.NoError(t, repo.Touch(ctx, "k-1", used))
	got, err = repo.GetByHash(ctx, "hash-1")
	require.NoError(t, err)
	require.NotNil(t, got.LastUsedAt)
	assert.Equal(t, used, *got.LastUsedAt)

	require.NoError(t, repo.Delete(ctx, "k-1"))
	_, err = repo.GetByHash(ctx, "hash-1")
	assert.True(t, errors.IsNotFound(err))

	assert.True(t, errors.IsNotFound(repo.Delete(ctx, "k-1")))
	assert.True(t, errors.IsNotFound(repo.Touch(ctx, "k-1", used)))
}

func TestAPIKeyRepository_DuplicateHash(t *testing.T) {
	p := newTestPool(t)
	repo := NewAPIKeyRepository(p, zerolog.New(zerolog.NewTestWriter(t)))
	ctx := context.Background()

	now := time.Date(2023, 10, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.Insert(ctx, &models.APIKey{ID: "a", Name: "one", KeyPrefix: "p", KeyHash: "same", CreatedAt: now}))
	err := repo.Insert(ctx, &models.APIKey{ID: "b", Name: "two", KeyPrefix: "p", KeyHash: "same", CreatedAt: now})
	require.Error(t, err)
	assert.Equal(t, errors.CodeQueryFailed, errors.GetCode(err))
}

func TestAPIKeyRepository_ListEmpty(t *testing.T) {
	p := newTestPool(t)
	repo := NewAPIKeyRepository(p, zerolog.New(zerolog.NewTestWriter(t)))

	keys, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, keys)
}

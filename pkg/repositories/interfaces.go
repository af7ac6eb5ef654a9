// Package repositories defines interfaces for data access operations.
package repositories

import (
	"context"
	"time"

	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/querystatus"
)

// QueryRepository stores generated queries.
type QueryRepository interface {
	// Upsert inserts q or replaces the stored query with the same ID.
	Upsert(ctx context.Context, q *models.Query) error
	// Get retrieves a query by ID.
	Get(ctx context.Context, id string) (*models.Query, error)
	// List returns list items matching the raw status and username filters
	// of opts, newest first. The display status filter is not applied here.
	List(ctx context.Context, opts models.ListQueriesOptions) ([]models.QueryListItem, error)
	// UpdateStatus sets the raw status of a query. sqlErrorMessage replaces
	// the stored message; pass "" to clear it.
	UpdateStatus(ctx context.Context, id string, status querystatus.RawStatus, sqlErrorMessage string) error
	// Count returns the number of stored queries.
	Count(ctx context.Context) (int64, error)
	// ScanStatuses calls fn with the status and score of every stored query.
	ScanStatuses(ctx context.Context, fn func(status querystatus.RawStatus, score float64)) error
}

// APIKeyRepository stores API key metadata.
type APIKeyRepository interface {
	// Insert stores a new key.
	Insert(ctx context.Context, key *models.APIKey) error
	// GetByHash retrieves a key by the hash of its secret.
	GetByHash(ctx context.Context, hash string) (*models.APIKey, error)
	// List returns every key, newest first.
	List(ctx context.Context) ([]*models.APIKey, error)
	// Delete removes a key.
	Delete(ctx context.Context, id string) error
	// Touch records a use of the key.
	Touch(ctx context.Context, id string, at time.Time) error
}

package handlers

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/services"
)

// apiKeyHandler implements APIKeyHandler.
type apiKeyHandler struct {
	apiKeyService services.APIKeyService
	allocator     memory.Allocator
	logger        Logger
	metrics       MetricsCollector
}

// NewAPIKeyHandler creates a new API key handler.
func NewAPIKeyHandler(
	apiKeyService services.APIKeyService,
	allocator memory.Allocator,
	logger Logger,
	metrics MetricsCollector,
) APIKeyHandler {
	return &apiKeyHandler{
		apiKeyService: apiKeyService,
		allocator:     allocator,
		logger:        logger,
		metrics:       metrics,
	}
}

// ListAPIKeys streams key metadata. The schema has no secret column.
func (h *apiKeyHandler) ListAPIKeys(ctx context.Context) (*arrow.Schema, <-chan flight.StreamChunk, error) {
	timer := h.metrics.StartTimer("handler_list_api_keys")
	defer timer.Stop()

	keys, err := h.apiKeyService.List(ctx)
	if err != nil {
		return nil, nil, err
	}

	rec := models.APIKeysToRecord(h.allocator, keys)
	return rec.Schema(), singleChunk(rec), nil
}

// Generate creates a key and returns its secret.
func (h *apiKeyHandler) Generate(ctx context.Context, name string) (*models.GeneratedAPIKey, error) {
	timer := h.metrics.StartTimer("handler_generate_api_key")
	defer timer.Stop()

	key, err := h.apiKeyService.Generate(ctx, name)
	if err != nil {
		h.logger.Warn("API key generation rejected", "error", err)
		return nil, err
	}
	return key, nil
}

// Revoke deletes a key.
func (h *apiKeyHandler) Revoke(ctx context.Context, id string) error {
	return h.apiKeyService.Revoke(ctx, id)
}

package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/infrastructure/metrics"
	"github.com/dataherald/console/pkg/models"
	"github.com/dataherald/console/pkg/repositories"
)

// visiblePrefixChars is how many characters of the random part are kept in
// the displayable key prefix.
const visiblePrefixChars = 4

// APIKeyConfig controls the shape of generated keys.
type APIKeyConfig struct {
	// Prefix is prepended to every key, e.g. "dh-".
	Prefix string `json:"prefix" yaml:"prefix"`
	// RandomBytes is the number of random bytes encoded into a key.
	RandomBytes int `json:"random_bytes" yaml:"random_bytes"`
}

// DefaultAPIKeyConfig returns the default key shape.
func DefaultAPIKeyConfig() APIKeyConfig {
	return APIKeyConfig{
		Prefix:      "dh-",
		RandomBytes: 32,
	}
}

// apiKeyService implements APIKeyService.
type apiKeyService struct {
	repo    repositories.APIKeyRepository
	cfg     APIKeyConfig
	logger  Logger
	metrics MetricsCollector
	random  io.Reader
	now     func() time.Time
}

// NewAPIKeyService creates a new API key service.
func NewAPIKeyService(
	repo repositories.APIKeyRepository,
	cfg APIKeyConfig,
	logger Logger,
	metrics MetricsCollector,
) APIKeyService {
	if cfg.RandomBytes <= 0 {
		cfg.RandomBytes = DefaultAPIKeyConfig().RandomBytes
	}
	return &apiKeyService{
		repo:    repo,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		random:  rand.Reader,
		now:     time.Now,
	}
}

// Generate creates a key named name and returns its secret. The secret is
// returned only here; the repository keeps its hash. Any failure after the
// name is accepted is reported as ErrKeyGenerationFailed.
func (s *apiKeyService) Generate(ctx context.Context, name string) (*models.GeneratedAPIKey, error) {
	timer := s.metrics.StartTimer("api_key_generate")
	defer timer.Stop()

	name, err := models.ValidateKeyName(name)
	if err != nil {
		return nil, err
	}

	secret, err := s.newSecret()
	if err != nil {
		return nil, s.generationFailed("read random bytes", err)
	}

	key := &models.APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyPrefix: secret[:len(s.cfg.Prefix)+visiblePrefixChars],
		KeyHash:   HashAPIKey(secret),
		CreatedAt: s.now().UTC().Truncate(time.Microsecond),
	}
	if err := s.repo.Insert(ctx, key); err != nil {
		return nil, s.generationFailed("store key", err)
	}

	s.metrics.IncrementCounter(metrics.APIKeysGenerated)
	s.logger.Info("API key generated", "key_id", key.ID, "name", key.Name, "key_prefix", key.KeyPrefix)

	return &models.GeneratedAPIKey{
		APIKey:    secret,
		ID:        key.ID,
		Name:      key.Name,
		CreatedAt: key.CreatedAt,
	}, nil
}

func (s *apiKeyService) newSecret() (string, error) {
	buf := make([]byte, s.cfg.RandomBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", err
	}
	return s.cfg.Prefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

func (s *apiKeyService) generationFailed(step string, err error) error {
	s.metrics.IncrementCounter(metrics.APIKeyGenerationErrors)
	s.logger.Error("API key generation failed", "step", step, "error", err)
	return errors.ErrKeyGenerationFailed.WithCause(err)
}

// Authenticate resolves a presented secret to its key and records the use.
func (s *apiKeyService) Authenticate(ctx context.Context, secret string) (*models.APIKey, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.ErrInvalidCredentials
	}

	key, err := s.repo.GetByHash(ctx, HashAPIKey(secret))
	if err != nil {
		if errors.IsNotFound(err) {
			return nil, errors.ErrInvalidCredentials
		}
		return nil, err
	}

	at := s.now().UTC().Truncate(time.Microsecond)
	if err := s.repo.Touch(ctx, key.ID, at); err != nil {
		s.logger.Warn("Failed to record API key use", "key_id", key.ID, "error", err)
	} else {
		key.LastUsedAt = &at
	}
	return key, nil
}

// List returns key metadata. Secrets are never listed.
func (s *apiKeyService) List(ctx context.Context) ([]*models.APIKey, error) {
	timer := s.metrics.StartTimer("api_key_list")
	defer timer.Stop()

	keys, err := s.repo.List(ctx)
	if err != nil {
		s.logger.Error("Failed to list API keys", "error", err)
		return nil, err
	}
	if keys == nil {
		keys = []*models.APIKey{}
	}
	return keys, nil
}

// Revoke deletes a key so that it no longer authenticates.
func (s *apiKeyService) Revoke(ctx context.Context, id string) error {
	if id == "" {
		return errors.New(errors.CodeInvalidRequest, "api key id is required")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}

	s.metrics.IncrementCounter(metrics.APIKeysRevoked)
	s.logger.Info("API key revoked", "key_id", id)
	return nil
}

// HashAPIKey returns the hex SHA-256 digest a key is stored under.
func HashAPIKey(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

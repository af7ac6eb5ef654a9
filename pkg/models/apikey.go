package models

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/dataherald/console/pkg/errors"
)

// Key name bounds, inclusive.
const (
	MinKeyNameLength = 3
	MaxKeyNameLength = 50
)

// Messages shown when a key name is rejected.
const (
	NameTooShortMessage = "The name is required and must have more than 3 characters"
	NameTooLongMessage  = "The name must have less than 50 characters"
)

// APIKey is the stored metadata of an API key. Only a hash of the secret is
// kept.
type APIKey struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	KeyPrefix  string     `json:"key_prefix"`
	KeyHash    string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// GeneratedAPIKey is returned exactly once, when a key is created. APIKey
// holds the plaintext secret.
type GeneratedAPIKey struct {
	APIKey    string    `json:"api_key"`
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// GenerateAPIKeyRequest is the body of a key generation request.
type GenerateAPIKeyRequest struct {
	Name string `json:"name"`
}

// ValidateKeyName trims name and checks its length. The returned name is the
// one to store.
func ValidateKeyName(name string) (string, error) {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	if n < MinKeyNameLength {
		return "", errors.New(errors.CodeInvalidRequest, NameTooShortMessage).WithDetail("field", "name")
	}
	if n > MaxKeyNameLength {
		return "", errors.New(errors.CodeInvalidRequest, NameTooLongMessage).WithDetail("field", "name")
	}
	return name, nil
}

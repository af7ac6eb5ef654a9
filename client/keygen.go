package client

import (
	"context"
	"sync"

	"github.com/atotto/clipboard"

	"github.com/dataherald/console/pkg/errors"
	"github.com/dataherald/console/pkg/models"
)

// Messages shown around key generation.
const (
	GeneratedTitle       = "Secret API key generated!"
	GeneratedDescription = "Your secret key was generated successfully."
	FailedTitle          = "Oops! Something went wrong."
	FailedDescription    = "There was a problem generating your secret key."
	TryAgain             = "Try again"
	CopiedTitle          = "API Key copied!"
	CopyFailedTitle      = "Could not copy API Key"
	SaveKeyWarning       = "Please save this secret key somewhere safe and accessible. For security reasons, " +
		"you won't be able to view it again through your Dataherald account. " +
		"If you lose this secret key, you'll need to generate a new one."
)

// KeyRequester creates API keys. *Client implements it.
type KeyRequester interface {
	GenerateAPIKey(ctx context.Context, name string) (*models.GeneratedAPIKey, error)
}

// ClipboardWriter places text on a clipboard.
type ClipboardWriter interface {
	WriteAll(text string) error
}

// SystemClipboard writes to the operating system clipboard.
type SystemClipboard struct{}

// WriteAll implements ClipboardWriter.
func (SystemClipboard) WriteAll(text string) error {
	return clipboard.WriteAll(text)
}

// KeyGenerator drives one key generation: a name is submitted, the request
// may fail and be retried with the same name, and a generated key is shown
// once and may be copied. At most one request is outstanding at a time.
type KeyGenerator struct {
	requester   KeyRequester
	onGenerated func(*models.GeneratedAPIKey)

	mu         sync.Mutex
	generating bool
	failedName string
	failed     bool
	key        *models.GeneratedAPIKey
}

// NewKeyGenerator returns a generator that submits through r. onGenerated,
// if not nil, is called after each successful generation, e.g. to refresh a
// key list.
func NewKeyGenerator(r KeyRequester, onGenerated func(*models.GeneratedAPIKey)) *KeyGenerator {
	return &KeyGenerator{requester: r, onGenerated: onGenerated}
}

// Submit validates name and requests a key for it. Invalid names are
// rejected without a request. A request failure is reported as
// ErrKeyGenerationFailed, after which Retry resubmits the same name.
func (g *KeyGenerator) Submit(ctx context.Context, name string) (*models.GeneratedAPIKey, error) {
	if _, err := models.ValidateKeyName(name); err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.generating {
		g.mu.Unlock()
		return nil, errors.ErrGenerationInProgress
	}
	g.generating = true
	g.mu.Unlock()

	key, err := g.requester.GenerateAPIKey(ctx, name)

	g.mu.Lock()
	g.generating = false
	if err != nil {
		g.failed = true
		g.failedName = name
		g.mu.Unlock()
		return nil, errors.ErrKeyGenerationFailed.WithCause(err)
	}
	g.failed = false
	g.failedName = ""
	g.key = key
	g.mu.Unlock()

	if g.onGenerated != nil {
		g.onGenerated(key)
	}
	return key, nil
}

// Retry resubmits the name of the last failed submission.
func (g *KeyGenerator) Retry(ctx context.Context) (*models.GeneratedAPIKey, error) {
	g.mu.Lock()
	failed, name := g.failed, g.failedName
	g.mu.Unlock()

	if !failed {
		return nil, errors.New(errors.CodeInvalidRequest, "no failed submission to retry")
	}
	return g.Submit(ctx, name)
}

// Generating reports whether a request is outstanding.
func (g *KeyGenerator) Generating() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.generating
}

// Failed reports whether the last submission failed and can be retried.
func (g *KeyGenerator) Failed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.failed
}

// Key returns the generated key, if any.
func (g *KeyGenerator) Key() (*models.GeneratedAPIKey, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.key, g.key != nil
}

// Copy writes the generated key to w.
func (g *KeyGenerator) Copy(w ClipboardWriter) error {
	key, ok := g.Key()
	if !ok {
		return errors.ErrAPIKeyNotFound
	}
	if err := w.WriteAll(key.APIKey); err != nil {
		return errors.Wrap(err, errors.CodeInternal, CopyFailedTitle)
	}
	return nil
}

// Reset forgets the generated key and any failed submission. It is refused
// while a request is outstanding.
func (g *KeyGenerator) Reset() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.generating {
		return errors.ErrGenerationInProgress
	}
	g.key = nil
	g.failed = false
	g.failedName = ""
	return nil
}

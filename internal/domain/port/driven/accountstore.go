package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
)

// AccountStore defines the driven port for encrypted account persistence.
// Secrets cross this boundary as plaintext; the adapter encrypts them before
// write and authenticates them on read.
type AccountStore interface {
	// Put encrypts secret and inserts the account. When replace is true an
	// existing account of the same name is fully replaced; otherwise
	// ErrDuplicateName is returned. An empty secret stores an uncaptured record.
	Put(ctx context.Context, name string, kind model.Kind, secret string, replace bool) (*model.Account, error)

	// Get returns the account metadata or ErrNotFound.
	Get(ctx context.Context, name string) (*model.Account, error)

	// List returns all accounts ordered by creation time. Secrets are never included.
	List(ctx context.Context) ([]model.Account, error)

	// UpdateSecret replaces the ciphertext and expiry together in a single
	// statement and clears the needs-login flag.
	UpdateSecret(ctx context.Context, name, secret string, expiresAt time.Time) (*model.Account, error)

	// MarkNeedsLogin flags the account as requiring a fresh capture. Tokens are kept.
	MarkNeedsLogin(ctx context.Context, name string) error

	// TouchLastUsed records that the account was just launched.
	TouchLastUsed(ctx context.Context, name string) error

	// Delete permanently removes the account or returns ErrNotFound.
	Delete(ctx context.Context, name string) error

	// Decrypt returns the plaintext secret. ErrDecryptionFailed is returned if
	// the ciphertext does not authenticate.
	Decrypt(ctx context.Context, name string) (string, error)

	// Ping verifies the underlying database is reachable.
	Ping(ctx context.Context) error
}

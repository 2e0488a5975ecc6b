package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
)

// CredentialFile is the external tool's own credential file, used as the
// capture source and the sync target.
type CredentialFile interface {
	// Read returns the current session. Errors wrap ErrSourceFileMissing or
	// ErrSourceFileMalformed.
	Read(ctx context.Context) (*model.ExternalCredentials, error)

	// Sync atomically rewrites the session entry with next when the file
	// currently belongs to the account identified by previous, or when the file
	// does not exist. It reports whether the file was written. Errors wrap
	// ErrSyncFailed.
	Sync(ctx context.Context, previous, next model.OAuthTokens, expiresAt time.Time) (bool, error)

	// Path returns the location of the file.
	Path() string
}

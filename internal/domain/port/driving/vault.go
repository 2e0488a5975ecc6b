// Package driving defines the ports through which the CLI and HTTP adapters
// reach the vault.
package driving

import (
	"context"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
)

// AccountVault is the set of vault operations exposed to driving adapters.
type AccountVault interface {
	// Add creates an account. secret is the API key for KindAPIKey and must be
	// empty for KindOAuth, which starts uncaptured.
	Add(ctx context.Context, name string, kind model.Kind, secret string) (*model.AccountSummary, error)

	// Capture imports the external tool's current session into the named
	// oauth account, creating the account if needed.
	Capture(ctx context.Context, name string) (*model.AccountSummary, error)

	// Refresh exchanges the stored refresh token for a new token pair.
	Refresh(ctx context.Context, name string) (*model.AccountSummary, error)

	// PrepareLaunchEnv returns the environment for launching the external tool.
	// It may mutate the vault: an expired oauth account is refreshed first.
	PrepareLaunchEnv(ctx context.Context, name string) (model.LaunchEnv, error)

	List(ctx context.Context) ([]model.AccountSummary, error)
	Status(ctx context.Context, name string) (*model.AccountSummary, error)

	// Export returns every account with decrypted secrets.
	Export(ctx context.Context) ([]model.ExportRecord, error)

	// Import adds records whose names are not already taken and returns how
	// many were added.
	Import(ctx context.Context, records []model.ExportRecord) (int, error)

	Delete(ctx context.Context, name string) error
}

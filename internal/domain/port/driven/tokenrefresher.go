package driven

import (
	"context"

	"github.com/ericfisherdev/claude-accounts/internal/domain/model"
)

// TokenRefresher exchanges a single-use refresh token for a new token pair.
// It returns an error wrapping ErrRefreshRejected when the endpoint refuses the
// token and ErrNetwork when the endpoint cannot be reached in time. It never
// retries on its own.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*model.TokenGrant, error)
}

// Package refreshtokens declares the repository contract for refresh tokens
// issued at login.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
)

type Repository interface {
	// Create stores token for userID, valid until expires.
	Create(ctx context.Context, userID int64, token string, expires time.Time) error

	// Find returns common.ErrorNotFound when the token is absent.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)

	// Delete is a no-op for an unknown token.
	Delete(ctx context.Context, token string) error

	// DeleteExpired drops tokens that expired before now and reports how many.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

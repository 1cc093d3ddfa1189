// Package users declares and implements persistent storage for accounts.
package users

import (
	"context"

	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
)

type Repository interface {
	// Create inserts the user and fills in ID and CreatedAt. A taken
	// username yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByUsername(ctx context.Context, userName string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash []byte) error
	// SetSecretKey stores value under provider, replacing any previous one.
	SetSecretKey(ctx context.Context, id int64, provider, value string) error
}

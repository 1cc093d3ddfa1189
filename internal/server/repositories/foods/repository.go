// Package foods stores food items. Every read and delete is scoped to the
// owning user inside the statement itself, so a foreign item is
// indistinguishable from a missing one.
package foods

import (
	"context"

	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
)

type Repository interface {
	// Create inserts item and fills in ID and CreatedAt.
	Create(ctx context.Context, item *models.FoodItem) (*models.FoodItem, error)
	// List returns the matching items of q.UserID in insertion order.
	List(ctx context.Context, q models.FoodQuery) ([]*models.FoodItem, error)
	// Delete removes one item and returns it, or common.ErrorNotFound.
	Delete(ctx context.Context, userID, id int64) (*models.FoodItem, error)
	// DeleteByName removes every item of userID with exactly that name.
	DeleteByName(ctx context.Context, userID int64, name string) ([]*models.FoodItem, error)
}

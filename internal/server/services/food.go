package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/common"
	"github.com/dmitrijs2005/freshkeeper/internal/logging"
	"github.com/dmitrijs2005/freshkeeper/internal/server/imagestore"
	"github.com/dmitrijs2005/freshkeeper/internal/server/inventory"
	"github.com/dmitrijs2005/freshkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/freshkeeper/internal/server/models"
	"github.com/dmitrijs2005/freshkeeper/internal/server/recognizer"
	"github.com/dmitrijs2005/freshkeeper/internal/server/repositories/repomanager"
)

// KeySource looks up a user's stored provider key. *UserService is one.
type KeySource interface {
	SecretKey(ctx context.Context, userID int64, provider string) (string, error)
}

// NewFoodInput carries the raw form values of a new item. Dates and shelf
// life stay strings until Add validates them.
type NewFoodInput struct {
	UserID         int64
	Name           string
	ProductionDate string
	ShelfLife      string
	Label          string
	// Image is optional; ImageName is only used for logging.
	Image     []byte
	ImageName string
}

type FoodServiceOptions struct {
	// Images may be nil, which disables photo storage.
	Images     imagestore.Store
	Recognizer recognizer.Recognizer
	Keys       KeySource
	// Provider selects the slot of User.SecretKeys used for recognition.
	Provider   string
	DefaultKey string
	MaxWidth   int
	Location   *time.Location
}

type FoodService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	opts        FoodServiceOptions
	logger      logging.Logger
	now         func() time.Time
}

func NewFoodService(db *sql.DB, m repomanager.RepositoryManager, opts FoodServiceOptions, logger logging.Logger) *FoodService {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	return &FoodService{
		db:          db,
		repomanager: m,
		opts:        opts,
		logger:      logger.With("module", "food_service"),
		now:         time.Now,
	}
}

func (s *FoodService) today() inventory.Date {
	return inventory.Today(s.now(), s.opts.Location)
}

// Add validates in, stores the optional photo and persists the item. The
// returned item carries its id, expiration date and countdown.
func (s *FoodService) Add(ctx context.Context, in NewFoodInput) (*models.FoodItem, error) {
	name := strings.TrimSpace(in.Name)
	var missing []string
	if name == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(in.ProductionDate) == "" {
		missing = append(missing, "productionDate")
	}
	if strings.TrimSpace(in.ShelfLife) == "" {
		missing = append(missing, "shelfLife")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: missing %s", common.ErrorValidation, strings.Join(missing, ", "))
	}

	production, err := inventory.ParseDate(strings.TrimSpace(in.ProductionDate))
	if err != nil {
		return nil, err
	}
	shelfLife, err := inventory.ParseShelfLife(strings.TrimSpace(in.ShelfLife))
	if err != nil {
		return nil, err
	}
	expiration, err := inventory.ComputeExpiration(production, shelfLife)
	if err != nil {
		return nil, err
	}

	item := &models.FoodItem{
		UserID:         in.UserID,
		Name:           name,
		Label:          strings.TrimSpace(in.Label),
		ProductionDate: production,
		ShelfLifeDays:  shelfLife,
		ExpirationDate: expiration,
	}

	if len(in.Image) > 0 {
		key, err := s.saveImage(ctx, in.UserID, in.Image)
		if err != nil {
			return nil, err
		}
		item.ImagePath = key
	}

	created, err := s.repomanager.Foods(s.db).Create(ctx, item)
	if err != nil {
		if item.ImagePath != "" {
			s.deleteImage(ctx, item.ImagePath)
		}
		if errors.Is(err, common.ErrorNotFound) {
			return nil, fmt.Errorf("user %d: %w", in.UserID, common.ErrorNotFound)
		}
		return nil, fmt.Errorf("error creating food item: %w", err)
	}

	created.Derive(s.today())
	s.resolveImage(ctx, created)
	metrics.RecordFoodsAdded(1)
	s.logger.Info(ctx, "food item added", "user_id", in.UserID, "item_id", created.ID,
		"expiration", created.ExpirationDate.String(), "image", in.ImageName)
	return created, nil
}

// List returns all items of userID, soonest to expire first.
func (s *FoodService) List(ctx context.Context, userID int64) ([]*models.FoodItem, error) {
	return s.list(ctx, models.FoodQuery{UserID: userID})
}

// ListExpired returns the items whose expiration date is before today.
func (s *FoodService) ListExpired(ctx context.Context, userID int64) ([]*models.FoodItem, error) {
	return s.list(ctx, models.FoodQuery{UserID: userID, ExpiredBefore: s.today()})
}

// Search matches query case-insensitively against item names. An empty
// query lists everything.
func (s *FoodService) Search(ctx context.Context, userID int64, query string) ([]*models.FoodItem, error) {
	return s.list(ctx, models.FoodQuery{UserID: userID, NameContains: strings.TrimSpace(query)})
}

func (s *FoodService) list(ctx context.Context, q models.FoodQuery) ([]*models.FoodItem, error) {
	items, err := s.repomanager.Foods(s.db).List(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("error listing food items: %w", err)
	}

	today := s.today()
	for _, it := range items {
		it.Derive(today)
		s.resolveImage(ctx, it)
	}
	inventory.SortByDaysLeft(items, models.Expiration)
	return items, nil
}

// Delete removes item id of userID. A foreign item is common.ErrorNotFound
// and stays untouched.
func (s *FoodService) Delete(ctx context.Context, userID, id int64) error {
	item, err := s.repomanager.Foods(s.db).Delete(ctx, userID, id)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.logger.Warn(ctx, "food item not found", "user_id", userID, "item_id", id)
			return common.ErrorNotFound
		}
		return fmt.Errorf("error deleting food item: %w", err)
	}

	if item.ImagePath != "" {
		s.deleteImage(ctx, item.ImagePath)
	}
	metrics.RecordFoodsDeleted(1)
	s.logger.Info(ctx, "food item deleted", "user_id", userID, "item_id", id)
	return nil
}

// DeleteByName removes every item of userID called name and reports how
// many went away.
func (s *FoodService) DeleteByName(ctx context.Context, userID int64, name string) (int, error) {
	if strings.TrimSpace(name) == "" {
		return 0, fmt.Errorf("%w: name is required", common.ErrorValidation)
	}
	items, err := s.repomanager.Foods(s.db).DeleteByName(ctx, userID, name)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return 0, common.ErrorNotFound
		}
		return 0, fmt.Errorf("error deleting food items: %w", err)
	}

	for _, it := range items {
		if it.ImagePath != "" {
			s.deleteImage(ctx, it.ImagePath)
		}
	}
	metrics.RecordFoodsDeleted(len(items))
	s.logger.Info(ctx, "food items deleted by name", "user_id", userID, "name", name, "count", len(items))
	return len(items), nil
}

// Recognize asks the recognition provider about a package photo. The user's
// own key is preferred; without one (or without a user) the server default
// is used. Provider failures come back as an all-null Recognition.
func (s *FoodService) Recognize(ctx context.Context, userID *int64, image []byte, filename string) (models.Recognition, error) {
	if len(image) == 0 {
		return models.Recognition{}, fmt.Errorf("%w: image is required", common.ErrorValidation)
	}
	if s.opts.Recognizer == nil {
		return models.Recognition{}, nil
	}

	key := s.opts.DefaultKey
	if userID != nil && s.opts.Keys != nil {
		userKey, err := s.opts.Keys.SecretKey(ctx, *userID, s.opts.Provider)
		switch {
		case err == nil:
			key = userKey
		case errors.Is(err, common.ErrorNotFound):
		default:
			s.logger.Warn(ctx, "user key lookup failed, using default", "user_id", *userID, "error", err)
		}
	}

	return s.opts.Recognizer.Recognize(ctx, image, filename, key), nil
}

func (s *FoodService) saveImage(ctx context.Context, userID int64, data []byte) (string, error) {
	if s.opts.Images == nil {
		s.logger.Debug(ctx, "image storage disabled, dropping photo", "user_id", userID)
		return "", nil
	}
	normalized, err := imagestore.Normalize(data, s.opts.MaxWidth)
	if err != nil {
		return "", err
	}
	key, err := s.opts.Images.Save(ctx, userID, normalized)
	if err != nil {
		return "", fmt.Errorf("error storing image: %w", err)
	}
	return key, nil
}

func (s *FoodService) deleteImage(ctx context.Context, key string) {
	if s.opts.Images == nil {
		return
	}
	if err := s.opts.Images.Delete(ctx, key); err != nil {
		s.logger.Warn(ctx, "image delete failed", "key", key, "error", err)
	}
}

func (s *FoodService) resolveImage(ctx context.Context, item *models.FoodItem) {
	if item.ImagePath == "" || s.opts.Images == nil {
		return
	}
	url, err := s.opts.Images.URL(ctx, item.ImagePath)
	if err != nil {
		s.logger.Warn(ctx, "image url failed", "key", item.ImagePath, "error", err)
		return
	}
	item.ImageURL = url
}

package models

import (
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/server/inventory"
)

// FoodItem is one tracked product. ExpirationDate is always
// ProductionDate + ShelfLifeDays. DaysLeft and Status depend on the current
// date and are filled in by Derive on every read; they are never stored.
type FoodItem struct {
	ID             int64
	UserID         int64
	Name           string
	Label          string
	ImagePath      string
	// ImageURL is resolved from ImagePath on read; empty without a photo.
	ImageURL       string
	ProductionDate inventory.Date
	ShelfLifeDays  int
	ExpirationDate inventory.Date
	CreatedAt      time.Time

	DaysLeft int
	Status   inventory.Status
}

// Derive recomputes the countdown fields relative to today.
func (f *FoodItem) Derive(today inventory.Date) {
	f.DaysLeft = inventory.DaysLeft(f.ExpirationDate, today)
	f.Status = inventory.Classify(f.ExpirationDate, today)
}

// Expiration is an accessor for the inventory sort helpers.
func Expiration(f *FoodItem) inventory.Date {
	return f.ExpirationDate
}

// FoodQuery narrows a listing of one user's items.
type FoodQuery struct {
	UserID int64
	// NameContains matches case-insensitively anywhere in the name.
	NameContains string
	// ExpiredBefore keeps items whose expiration is strictly before it.
	ExpiredBefore inventory.Date
}

// Recognition is a best-effort guess extracted from a package photo. Every
// field is nil when the provider could not tell.
type Recognition struct {
	Name           *string `json:"name"`
	ProductionDate *string `json:"productionDate"`
	ShelfLife      *int    `json:"shelfLife"`
}

// Unknown reports whether nothing was recognized.
func (r Recognition) Unknown() bool {
	return r.Name == nil && r.ProductionDate == nil && r.ShelfLife == nil
}

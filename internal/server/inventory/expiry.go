package inventory

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/common"
)

// Status is the derived state of an item relative to a given day.
type Status string

const (
	StatusActive  Status = "active"
	StatusExpired Status = "expired"
)

// MaxShelfLifeDays is the span from 0001-01-01 to 9999-12-31. Longer shelf
// lives cannot produce a representable expiration date.
const MaxShelfLifeDays = 3_652_058

// maxYear is the last year a Date can be written as YYYY-MM-DD.
const maxYear = 9999

// ParseShelfLife parses a shelf life given in days. Surrounding blanks are
// tolerated; signs other than a leading '+', fractions and negatives are not.
func ParseShelfLife(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: shelf life %q is not an integer", common.ErrorValidation, s)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: shelf life must not be negative", common.ErrorValidation)
	}
	if n > MaxShelfLifeDays {
		return 0, fmt.Errorf("%w: shelf life must not exceed %d days", common.ErrorValidation, MaxShelfLifeDays)
	}
	return n, nil
}

// ComputeExpiration returns production + shelfLifeDays.
func ComputeExpiration(production Date, shelfLifeDays int) (Date, error) {
	if production.IsZero() {
		return Date{}, fmt.Errorf("%w: production date is required", common.ErrorValidation)
	}
	if shelfLifeDays < 0 {
		return Date{}, fmt.Errorf("%w: shelf life must not be negative", common.ErrorValidation)
	}
	if shelfLifeDays > MaxShelfLifeDays {
		return Date{}, fmt.Errorf("%w: shelf life must not exceed %d days", common.ErrorValidation, MaxShelfLifeDays)
	}
	expiration := production.AddDays(shelfLifeDays)
	if expiration.t.Year() > maxYear {
		return Date{}, fmt.Errorf("%w: expiration date falls after year %d", common.ErrorValidation, maxYear)
	}
	return expiration, nil
}

// DaysLeft is expiration - today in whole days: negative once expired, zero
// on the last day, positive before that.
func DaysLeft(expiration, today Date) int {
	return expiration.Sub(today)
}

// Classify reports StatusExpired iff expiration is strictly before today.
// An item expiring today is still active.
func Classify(expiration, today Date) Status {
	if expiration.Before(today) {
		return StatusExpired
	}
	return StatusActive
}

// Today returns the calendar date of now in loc (now's own location when
// loc is nil).
func Today(now time.Time, loc *time.Location) Date {
	if loc != nil {
		now = now.In(loc)
	}
	return DateOf(now)
}

// SortByDaysLeft orders items soonest-to-expire first. The sort is stable,
// so items with equal expiration keep their input order.
func SortByDaysLeft[T any](items []T, expiration func(T) Date) {
	slices.SortStableFunc(items, func(a, b T) int {
		return expiration(a).t.Compare(expiration(b).t)
	})
}

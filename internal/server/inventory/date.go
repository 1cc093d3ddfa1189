// Package inventory holds the pure expiry logic of the food inventory:
// calendar dates, expiration computation, days-left countdowns and the
// active/expired classification. Nothing here reads the wall clock; callers
// pass "today" explicitly.
package inventory

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmitrijs2005/freshkeeper/internal/common"
)

const secondsPerDay = 24 * 60 * 60

// Date is a calendar date without time of day or zone. Internally it is
// midnight UTC, so differences are always whole days.
type Date struct {
	t time.Time
}

// NewDate returns the date y-m-d, normalizing overflow the way time.Date does.
func NewDate(y int, m time.Month, d int) Date {
	return Date{t: time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, m, d)
}

// ParseDate accepts exactly YYYY-MM-DD. Anything else, including impossible
// dates such as 2023-02-30, is a validation error.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(common.DateLayout, s)
	if err != nil {
		return Date{}, fmt.Errorf("%w: invalid date %q, expected YYYY-MM-DD", common.ErrorValidation, s)
	}
	return DateOf(t), nil
}

func (d Date) IsZero() bool { return d.t.IsZero() }

// Time returns midnight UTC of d.
func (d Date) Time() time.Time { return d.t }

func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.t.Format(common.DateLayout)
}

// AddDays moves d by n calendar days; month and year rollover follow the
// Gregorian calendar.
func (d Date) AddDays(n int) Date {
	return Date{t: d.t.AddDate(0, 0, n)}
}

// Sub returns d - o in whole days. It works on Unix seconds because
// time.Duration overflows after about 292 years.
func (d Date) Sub(o Date) int {
	return int((d.t.Unix() - o.t.Unix()) / secondsPerDay)
}

func (d Date) Before(o Date) bool { return d.t.Before(o.t) }
func (d Date) After(o Date) bool  { return d.t.After(o.t) }
func (d Date) Equal(o Date) bool  { return d.t.Equal(o.t) }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("%w: date must be a string", common.ErrorValidation)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Scan implements sql.Scanner for DATE columns.
func (d *Date) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Date{}
		return nil
	case time.Time:
		*d = DateOf(v)
		return nil
	case string:
		return d.scanString(v)
	case []byte:
		return d.scanString(string(v))
	}
	return fmt.Errorf("cannot scan %T into inventory.Date", src)
}

func (d *Date) scanString(s string) error {
	if len(s) > len(common.DateLayout) {
		s = s[:len(common.DateLayout)]
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value implements driver.Valuer; dates are stored as YYYY-MM-DD.
func (d Date) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

package core

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a calendar day with no time zone attached.
type Day struct {
	Year  int
	Month time.Month
	Day   int
}

// DayOf returns the calendar day of t in t's location.
func DayOf(t time.Time) Day {
	y, m, d := t.Date()
	return Day{Year: y, Month: m, Day: d}
}

// DayIn returns the calendar day of t as observed in loc.
func DayIn(t time.Time, loc *time.Location) Day {
	if loc == nil {
		loc = time.UTC
	}
	return DayOf(t.In(loc))
}

// Zone loads an IANA zone by name. Empty or unknown names give UTC.
func Zone(name string) *time.Location {
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ParseDay parses a YYYY-MM-DD string.
func ParseDay(s string) (Day, error) {
	t, err := time.Parse(dayLayout, s)
	if err != nil {
		return Day{}, fmt.Errorf("%w: day %q", ErrInvalidInput, s)
	}
	return DayOf(t), nil
}

// IsZero reports whether d is unset.
func (d Day) IsZero() bool {
	return d.Year == 0 && d.Month == 0 && d.Day == 0
}

func (d Day) String() string {
	if d.IsZero() {
		return ""
	}
	return d.midnight().Format(dayLayout)
}

func (d Day) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

// AddDays returns the day n days after d.
func (d Day) AddDays(n int) Day {
	return DayOf(d.midnight().AddDate(0, 0, n))
}

// Sub returns the number of days from o to d.
func (d Day) Sub(o Day) int {
	return int(d.midnight().Sub(o.midnight()).Hours() / 24)
}

// Before reports whether d is earlier than o.
func (d Day) Before(o Day) bool {
	return d.Sub(o) < 0
}

// Weekday returns the day of the week.
func (d Day) Weekday() time.Weekday {
	return d.midnight().Weekday()
}

func (d Day) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Day) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = Day{}
		return nil
	}
	parsed, err := ParseDay(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Value stores the day as TEXT.
func (d Day) Value() (driver.Value, error) {
	if d.IsZero() {
		return nil, nil
	}
	return d.String(), nil
}

// Scan reads a day stored as TEXT.
func (d *Day) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = Day{}
		return nil
	case string:
		if v == "" {
			*d = Day{}
			return nil
		}
		parsed, err := ParseDay(v)
		if err != nil {
			return err
		}
		*d = parsed
		return nil
	case []byte:
		return d.Scan(string(v))
	case time.Time:
		*d = DayOf(v)
		return nil
	default:
		return fmt.Errorf("cannot scan %T into Day", src)
	}
}

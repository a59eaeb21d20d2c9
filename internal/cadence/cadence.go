// Package cadence parses and evaluates five-field recurrence expressions
// (minute hour day-of-month month day-of-week) in a named time zone.
package cadence

import (
	"fmt"
	"math/bits"
	"strconv"
	"strings"
	"time"

	"github.com/quantumlife/habits/internal/core"
)

// tzPrefixes introduce an inline zone, as in "CRON_TZ=Europe/Paris 0 7 * * *".
var tzPrefixes = []string{"CRON_TZ=", "TZ="}

// searchDays bounds Next. Eight years covers leap-day-only expressions.
const searchDays = 366 * 8

type bounds struct {
	name     string
	min, max int
	names    map[string]int
}

var (
	minuteBounds = bounds{name: "minute", min: 0, max: 59}
	hourBounds   = bounds{name: "hour", min: 0, max: 23}
	domBounds    = bounds{name: "day-of-month", min: 1, max: 31}
	monthBounds  = bounds{name: "month", min: 1, max: 12, names: map[string]int{
		"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
		"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
	}}
	// 7 is accepted as an alias for Sunday and folded to 0.
	dowBounds = bounds{name: "day-of-week", min: 0, max: 7, names: map[string]int{
		"sun": 0, "mon": 1, "tue": 2, "wed": 3, "thu": 4, "fri": 5, "sat": 6,
	}}
)

// Field is one position of an expression: either a wildcard or a set of
// in-range integers.
type Field struct {
	any  bool
	bits uint64
}

// Wildcard returns a field that matches every value.
func Wildcard() Field {
	return Field{any: true}
}

// Values returns a field matching exactly the given values.
func Values(vs ...int) Field {
	var f Field
	for _, v := range vs {
		f.bits |= 1 << uint(v)
	}
	return f
}

// IsWildcard reports whether the field matches everything.
func (f Field) IsWildcard() bool { return f.any }

// Contains reports whether v is matched.
func (f Field) Contains(v int) bool {
	if f.any {
		return true
	}
	if v < 0 || v > 63 {
		return false
	}
	return f.bits&(1<<uint(v)) != 0
}

// list returns the matched values in ascending order within b.
func (f Field) list(b bounds) []int {
	out := make([]int, 0, bits.OnesCount64(f.bits))
	for v := b.min; v <= b.max; v++ {
		if f.Contains(v) {
			out = append(out, v)
		}
	}
	return out
}

func (f Field) format(b bounds) string {
	if f.any {
		return "*"
	}
	vals := f.list(b)
	if step, ok := stepOf(vals, b); ok {
		return "*/" + strconv.Itoa(step)
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// stepOf detects a minute or hour set that equals min, min+n, min+2n ...
// up to max.
func stepOf(vals []int, b bounds) (int, bool) {
	if b.name != minuteBounds.name && b.name != hourBounds.name {
		return 0, false
	}
	if len(vals) < 2 || vals[0] != b.min {
		return 0, false
	}
	step := vals[1] - vals[0]
	if step < 2 {
		return 0, false
	}
	for i := 1; i < len(vals); i++ {
		if vals[i]-vals[i-1] != step {
			return 0, false
		}
	}
	if vals[len(vals)-1]+step <= b.max {
		return 0, false
	}
	return step, true
}

// Expression is a parsed cadence.
type Expression struct {
	Minute     Field
	Hour       Field
	DayOfMonth Field
	Month      Field
	DayOfWeek  Field

	loc *time.Location
}

// Parse parses a cadence. The zone defaults to UTC unless the text carries a
// CRON_TZ= prefix.
func Parse(text string) (Expression, error) {
	return ParseIn(text, time.UTC)
}

// ParseIn parses a cadence evaluated in loc. An inline CRON_TZ= prefix wins.
func ParseIn(text string, loc *time.Location) (Expression, error) {
	text = strings.TrimSpace(text)
	if loc == nil {
		loc = time.UTC
	}
	for _, p := range tzPrefixes {
		if !strings.HasPrefix(text, p) {
			continue
		}
		rest := strings.TrimPrefix(text, p)
		i := strings.IndexAny(rest, " \t")
		if i < 0 {
			return Expression{}, fmt.Errorf("%w: missing fields after %s", core.ErrInvalidCadence, p)
		}
		zone, err := time.LoadLocation(rest[:i])
		if err != nil {
			return Expression{}, fmt.Errorf("%w: unknown zone %q", core.ErrInvalidCadence, rest[:i])
		}
		loc = zone
		text = strings.TrimSpace(rest[i:])
		break
	}

	fields := strings.Fields(text)
	if len(fields) != 5 {
		return Expression{}, fmt.Errorf("%w: expected 5 fields, got %d in %q", core.ErrInvalidCadence, len(fields), text)
	}

	var (
		e   = Expression{loc: loc}
		err error
	)
	if e.Minute, err = parseField(fields[0], minuteBounds); err != nil {
		return Expression{}, err
	}
	if e.Hour, err = parseField(fields[1], hourBounds); err != nil {
		return Expression{}, err
	}
	if e.DayOfMonth, err = parseField(fields[2], domBounds); err != nil {
		return Expression{}, err
	}
	if e.Month, err = parseField(fields[3], monthBounds); err != nil {
		return Expression{}, err
	}
	if e.DayOfWeek, err = parseField(fields[4], dowBounds); err != nil {
		return Expression{}, err
	}
	if !e.DayOfWeek.any && e.DayOfWeek.Contains(7) {
		e.DayOfWeek.bits &^= 1 << 7
		e.DayOfWeek.bits |= 1
	}
	return e, nil
}

// MustParse is Parse for literals known to be valid.
func MustParse(text string) Expression {
	e, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return e
}

// Validate reports whether text is a well-formed cadence.
func Validate(text string) error {
	_, err := Parse(text)
	return err
}

func parseField(s string, b bounds) (Field, error) {
	if s == "*" || s == "?" {
		return Wildcard(), nil
	}
	var f Field
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			return Field{}, fmt.Errorf("%w: empty %s list entry in %q", core.ErrInvalidCadence, b.name, s)
		}
		lo, hi, step := b.min, b.max, 1
		rng := part
		if i := strings.IndexByte(part, '/'); i >= 0 {
			n, err := strconv.Atoi(part[i+1:])
			if err != nil || n <= 0 {
				return Field{}, fmt.Errorf("%w: bad %s step in %q", core.ErrInvalidCadence, b.name, part)
			}
			step = n
			rng = part[:i]
		}
		switch {
		case rng == "*":
			if b.name == dowBounds.name {
				hi = 6
			}
		case strings.Contains(rng, "-"):
			ends := strings.SplitN(rng, "-", 2)
			var err error
			if lo, err = parseValue(ends[0], b); err != nil {
				return Field{}, err
			}
			if hi, err = parseValue(ends[1], b); err != nil {
				return Field{}, err
			}
			if lo > hi {
				return Field{}, fmt.Errorf("%w: %s range %q is reversed", core.ErrInvalidCadence, b.name, rng)
			}
		default:
			v, err := parseValue(rng, b)
			if err != nil {
				return Field{}, err
			}
			lo = v
			if step == 1 {
				hi = v
			}
		}
		for v := lo; v <= hi; v += step {
			f.bits |= 1 << uint(v)
		}
	}
	return f, nil
}

func parseValue(s string, b bounds) (int, error) {
	if n, ok := b.names[strings.ToLower(s)]; ok {
		return n, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %s value %q is not a number", core.ErrInvalidCadence, b.name, s)
	}
	if v < b.min || v > b.max {
		return 0, fmt.Errorf("%w: %s value %d out of range [%d,%d]", core.ErrInvalidCadence, b.name, v, b.min, b.max)
	}
	return v, nil
}

// Location returns the zone the expression is evaluated in.
func (e Expression) Location() *time.Location {
	if e.loc == nil {
		return time.UTC
	}
	return e.loc
}

// In returns a copy of e evaluated in loc.
func (e Expression) In(loc *time.Location) Expression {
	e.loc = loc
	return e
}

// String renders the five fields. The zone is not included; see Spec.
func (e Expression) String() string {
	return strings.Join([]string{
		e.Minute.format(minuteBounds),
		e.Hour.format(hourBounds),
		e.DayOfMonth.format(domBounds),
		e.Month.format(monthBounds),
		e.DayOfWeek.format(dowBounds),
	}, " ")
}

// Spec renders the expression with a CRON_TZ= prefix when the zone is not UTC.
func (e Expression) Spec() string {
	loc := e.Location()
	if loc == time.UTC || loc.String() == "UTC" {
		return e.String()
	}
	return "CRON_TZ=" + loc.String() + " " + e.String()
}

// Equal reports whether two expressions match the same wall-clock fields in
// the same zone.
func (e Expression) Equal(o Expression) bool {
	return e.Minute == o.Minute && e.Hour == o.Hour && e.DayOfMonth == o.DayOfMonth &&
		e.Month == o.Month && e.DayOfWeek == o.DayOfWeek &&
		e.Location().String() == o.Location().String()
}

// matchesDay applies the usual rule: when both day fields are restricted a
// day matches if either does.
func (e Expression) matchesDay(y int, m time.Month, d int) bool {
	if !e.Month.Contains(int(m)) {
		return false
	}
	wd := int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Weekday())
	switch {
	case e.DayOfMonth.any && e.DayOfWeek.any:
		return true
	case e.DayOfMonth.any:
		return e.DayOfWeek.Contains(wd)
	case e.DayOfWeek.any:
		return e.DayOfMonth.Contains(d)
	default:
		return e.DayOfMonth.Contains(d) || e.DayOfWeek.Contains(wd)
	}
}

// Next returns the first occurrence strictly after t, or the zero time when
// the expression never fires (for example "0 0 31 2 *").
//
// Wall-clock times are resolved in the expression's zone:
//   - a time skipped by a forward transition is dropped when the hour field is
//     a wildcard, and otherwise fires shifted forward by the length of the gap
//   - a time repeated by a backward transition fires once, at its first
//     instant, unless the hour field is a wildcard, in which case both
//     instants fire
func (e Expression) Next(t time.Time) time.Time {
	loc := e.Location()
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
	hours := e.Hour.list(hourBounds)
	minutes := e.Minute.list(minuteBounds)

	for i := 0; i < searchDays; i++ {
		day := start.AddDate(0, 0, i)
		y, m, d := day.Date()
		if !e.matchesDay(y, m, d) {
			continue
		}
		var best time.Time
		for _, h := range hours {
			for _, mi := range minutes {
				for _, inst := range e.instants(y, m, d, h, mi, loc) {
					if inst.After(t) && (best.IsZero() || inst.Before(best)) {
						best = inst
					}
				}
			}
		}
		if !best.IsZero() {
			return best
		}
	}
	return time.Time{}
}

// transitionShifts are the offset changes tried when resolving ambiguous
// wall times.
var transitionShifts = []time.Duration{30 * time.Minute, time.Hour, 2 * time.Hour}

func (e Expression) instants(y int, m time.Month, d, h, mi int, loc *time.Location) []time.Time {
	c := time.Date(y, m, d, h, mi, 0, 0, loc)
	if !sameWall(c.In(loc), y, m, d, h, mi) {
		if e.Hour.any {
			return nil
		}
		// Interpret the wall time with the offset in force before the gap.
		_, off := c.Add(-3 * time.Hour).Zone()
		naive := time.Date(y, m, d, h, mi, 0, 0, time.UTC)
		return []time.Time{naive.Add(-time.Duration(off) * time.Second).In(loc)}
	}

	first, second := c, time.Time{}
	for _, s := range transitionShifts {
		if earlier := c.Add(-s); sameWall(earlier.In(loc), y, m, d, h, mi) {
			first, second = earlier, c
			break
		}
		if later := c.Add(s); sameWall(later.In(loc), y, m, d, h, mi) {
			second = later
			break
		}
	}
	if second.IsZero() || !e.Hour.any {
		return []time.Time{first}
	}
	return []time.Time{first, second}
}

func sameWall(t time.Time, y int, m time.Month, d, h, mi int) bool {
	ty, tm, td := t.Date()
	return ty == y && tm == m && td == d && t.Hour() == h && t.Minute() == mi
}

// Between returns every occurrence in (from, to], capped at limit entries.
func (e Expression) Between(from, to time.Time, limit int) []time.Time {
	var out []time.Time
	for t := e.Next(from); !t.IsZero() && !t.After(to); t = e.Next(t) {
		out = append(out, t)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

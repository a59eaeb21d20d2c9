// Package parser turns free-text habit descriptions into habit drafts.
//
// Parsing is a fixed, ordered list of independent rules. Each rule looks at
// the same text and returns an optional fragment; fragments are merged in
// rule order so earlier rules take precedence.
package parser

import (
	"fmt"
	"sort"
	"strings"

	"github.com/quantumlife/habits/internal/cadence"
	"github.com/quantumlife/habits/internal/core"
)

// DurationBucket maps durations up to MaxMinutes onto a reward.
type DurationBucket struct {
	MaxMinutes int `json:"max_minutes" yaml:"max_minutes"`
	Reward     int `json:"reward" yaml:"reward"`
}

// Config controls parsing. Tables are copied at construction.
type Config struct {
	MaxNameLength    int                      `json:"max_name_length" yaml:"max_name_length"`
	DefaultHour      int                      `json:"default_hour" yaml:"default_hour"`
	DefaultReward    int                      `json:"default_reward" yaml:"default_reward"`
	DurationBuckets  []DurationBucket         `json:"duration_buckets" yaml:"duration_buckets"`
	CategoryKeywords map[string]core.Category `json:"category_keywords" yaml:"category_keywords"`
	CountKeywords    []string                 `json:"count_keywords" yaml:"count_keywords"`
}

// DefaultConfig returns the standard keyword tables and reward curve.
func DefaultConfig() Config {
	return Config{
		MaxNameLength: 50,
		DefaultHour:   9,
		DefaultReward: 10,
		DurationBuckets: []DurationBucket{
			{MaxMinutes: 5, Reward: 5},
			{MaxMinutes: 10, Reward: 10},
			{MaxMinutes: 15, Reward: 12},
			{MaxMinutes: 30, Reward: 15},
			{MaxMinutes: 45, Reward: 20},
			{MaxMinutes: 60, Reward: 25},
			{MaxMinutes: 120, Reward: 35},
			{MaxMinutes: 240, Reward: 50},
		},
		CategoryKeywords: defaultCategoryKeywords(),
		CountKeywords: []string{
			"reps", "rep", "times", "count", "pushups", "pushup", "push-ups",
			"situps", "squats", "laps", "pages", "glasses", "steps",
		},
	}
}

func defaultCategoryKeywords() map[string]core.Category {
	table := map[core.Category][]string{
		core.CategoryFitness: {
			"exercise", "workout", "run", "running", "jog", "jogging", "gym",
			"pushups", "pushup", "push-ups", "squats", "yoga", "walk", "walking",
			"swim", "swimming", "cycling", "bike", "stretch", "stretching", "cardio", "lift",
		},
		core.CategoryWellness: {
			"meditation", "meditate", "mindfulness", "sleep", "water", "hydrate",
			"gratitude", "journal", "journaling", "breathe", "breathing", "relax", "vitamins",
		},
		core.CategoryLearning: {
			"read", "reading", "study", "studying", "learn", "learning", "course",
			"book", "books", "language", "code", "coding", "review", "practice",
		},
		core.CategoryProductivity: {
			"plan", "planning", "inbox", "email", "todo", "organize", "focus", "tidy",
		},
		core.CategorySocial: {
			"call", "friend", "friends", "family", "visit", "text",
		},
		core.CategoryCreative: {
			"write", "writing", "draw", "drawing", "paint", "painting", "music",
			"guitar", "piano", "sing", "sketch",
		},
		core.CategoryFinance: {
			"budget", "save", "savings", "expenses", "invest", "finances",
		},
	}
	out := make(map[string]core.Category)
	for c, words := range table {
		for _, w := range words {
			out[w] = c
		}
	}
	return out
}

// Parser converts free text into drafts.
type Parser struct {
	cfg        Config
	categories map[string]core.Category
	countWords map[string]bool
	rules      []Rule
}

// New creates a parser. Zero config values take their defaults.
func New(cfg Config) *Parser {
	def := DefaultConfig()
	if cfg.MaxNameLength <= 0 {
		cfg.MaxNameLength = def.MaxNameLength
	}
	if cfg.DefaultHour < 0 || cfg.DefaultHour > 23 {
		cfg.DefaultHour = def.DefaultHour
	}
	if cfg.DefaultReward <= 0 {
		cfg.DefaultReward = def.DefaultReward
	}
	if len(cfg.DurationBuckets) == 0 {
		cfg.DurationBuckets = def.DurationBuckets
	}
	if cfg.CategoryKeywords == nil {
		cfg.CategoryKeywords = def.CategoryKeywords
	}
	if cfg.CountKeywords == nil {
		cfg.CountKeywords = def.CountKeywords
	}

	buckets := append([]DurationBucket(nil), cfg.DurationBuckets...)
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].MaxMinutes < buckets[j].MaxMinutes })
	cfg.DurationBuckets = buckets

	p := &Parser{
		cfg:        cfg,
		categories: make(map[string]core.Category, len(cfg.CategoryKeywords)),
		countWords: make(map[string]bool, len(cfg.CountKeywords)),
	}
	for k, v := range cfg.CategoryKeywords {
		p.categories[strings.ToLower(k)] = v
	}
	for _, w := range cfg.CountKeywords {
		p.countWords[strings.ToLower(w)] = true
	}
	p.rules = []Rule{
		{Name: "xp", Extract: xpRule},
		{Name: "interval", Extract: intervalRule},
		{Name: "duration", Extract: durationRule},
		{Name: "time", Extract: timeRule},
		{Name: "weekday", Extract: weekdayRule},
		{Name: "frequency", Extract: frequencyRule},
		{Name: "category", Extract: p.categoryRule},
		{Name: "count", Extract: p.countRule},
		{Name: "description", Extract: descriptionRule},
		{Name: "name", Extract: p.nameRule},
	}
	return p
}

// Rules returns the rule names in precedence order.
func (p *Parser) Rules() []string {
	names := make([]string, len(p.rules))
	for i, r := range p.rules {
		names[i] = r.Name
	}
	return names
}

// Parse turns text into a draft. Text with no usable name fails with a
// *core.ParseError; everything else falls back to defaults.
func (p *Parser) Parse(text string) (*core.HabitDraft, error) {
	st := newState(text)
	frag := p.extract(st)
	if frag.Name == "" {
		return nil, &core.ParseError{Reason: core.ReasonEmptyName, Input: text}
	}

	expr, scale, warning := p.schedule(frag)
	if err := cadence.Validate(expr); err != nil {
		return nil, fmt.Errorf("building cadence for %q: %w", text, err)
	}

	category := frag.Category
	if category == "" {
		category = core.CategoryGeneral
	}

	draft := &core.HabitDraft{
		Name:        frag.Name,
		Description: frag.Description,
		BaseReward:  p.reward(frag),
		Category:    category,
		Scale:       scale,
		Cadence:     expr,
		TracksCount: frag.TracksCount,
	}
	if warning != "" {
		draft.Warnings = append(draft.Warnings, warning)
	}
	return draft, nil
}

// ParseSchedule reads only the schedule part of a phrase such as
// "weekly on friday at 6pm". A literal five-field cadence is accepted as is.
// An interval that Parse would round fails with ErrInvalidCadence instead.
func (p *Parser) ParseSchedule(text string) (string, core.Scale, error) {
	text = strings.TrimSpace(text)
	if e, err := cadence.Parse(text); err == nil {
		return e.Spec(), scaleOf(e), nil
	}
	st := newState(text)
	var frag Fragment
	for _, r := range p.rules {
		switch r.Name {
		case "interval", "time", "weekday", "frequency":
			frag.merge(r.Extract(st))
		}
	}
	if frag.IntervalMinutes == nil && frag.Hour == nil && frag.Weekday == nil && frag.Frequency == "" {
		return "", "", fmt.Errorf("%w: no schedule found in %q", core.ErrInvalidCadence, text)
	}
	expr, scale, warning := p.schedule(frag)
	if warning != "" {
		return "", "", fmt.Errorf("%w: %s", core.ErrInvalidCadence, warning)
	}
	if err := cadence.Validate(expr); err != nil {
		return "", "", err
	}
	return expr, scale, nil
}

func (p *Parser) extract(st *State) Fragment {
	var frag Fragment
	for _, r := range p.rules {
		frag.merge(r.Extract(st))
	}
	return frag
}

// schedule builds cadence text. An interval beats a weekday, which beats the
// frequency keyword; the default is daily at the default hour. The warning
// is set when an interval had to be rounded to fit a cadence.
func (p *Parser) schedule(f Fragment) (string, core.Scale, string) {
	hour, minute := p.cfg.DefaultHour, 0
	if f.Hour != nil {
		hour = *f.Hour
		if f.Minute != nil {
			minute = *f.Minute
		}
	}

	var warning string
	if f.IntervalMinutes != nil {
		expr, used := intervalCadence(*f.IntervalMinutes)
		if used != *f.IntervalMinutes {
			warning = fmt.Sprintf("every %s does not divide the day evenly; using every %s",
				describeInterval(*f.IntervalMinutes), describeInterval(used))
		}
		if expr != "" {
			return expr, core.ScaleDaily, warning
		}
	}

	switch {
	case f.Weekday != nil:
		return fmt.Sprintf("%d %d * * %d", minute, hour, *f.Weekday), core.ScaleWeekly, warning
	case f.Frequency == core.ScaleWeekly:
		return fmt.Sprintf("%d %d * * 0", minute, hour), core.ScaleWeekly, warning
	case f.Frequency == core.ScaleMonthly:
		return fmt.Sprintf("%d %d 1 * *", minute, hour), core.ScaleMonthly, warning
	default:
		return fmt.Sprintf("%d %d * * *", minute, hour), core.ScaleDaily, warning
	}
}

// Interval steps, in minutes, that repeat identically every hour or day.
var evenIntervals = []int{1, 2, 3, 4, 5, 6, 10, 12, 15, 20, 30, 60, 120, 180, 240, 360, 480, 720, 1440}

// intervalCadence returns the cadence for the nearest even interval and the
// interval it used. Ties go to the shorter interval. A day or more yields
// no expression; the caller schedules it daily.
func intervalCadence(minutes int) (string, int) {
	used := evenIntervals[len(evenIntervals)-1]
	if minutes < used {
		for i, n := range evenIntervals {
			if n >= minutes {
				used = n
				if i > 0 && minutes-evenIntervals[i-1] <= n-minutes {
					used = evenIntervals[i-1]
				}
				break
			}
		}
	}
	switch {
	case used == 1:
		return "* * * * *", used
	case used < 60:
		return fmt.Sprintf("*/%d * * * *", used), used
	case used == 60:
		return "0 * * * *", used
	case used < 1440:
		return fmt.Sprintf("0 */%d * * *", used/60), used
	default:
		return "", used
	}
}

func describeInterval(minutes int) string {
	switch {
	case minutes == 60:
		return "hour"
	case minutes%60 == 0:
		return fmt.Sprintf("%d hours", minutes/60)
	case minutes == 1:
		return "minute"
	default:
		return fmt.Sprintf("%d minutes", minutes)
	}
}

// reward resolves the base reward: explicit XP, then the duration curve,
// then the default.
func (p *Parser) reward(f Fragment) int {
	if f.XP != nil {
		return *f.XP
	}
	if f.DurationMinutes != nil {
		return p.DurationReward(*f.DurationMinutes)
	}
	return p.cfg.DefaultReward
}

// DurationReward maps minutes onto the bucket curve, capped at the last bucket.
func (p *Parser) DurationReward(minutes int) int {
	buckets := p.cfg.DurationBuckets
	for _, b := range buckets {
		if minutes <= b.MaxMinutes {
			return b.Reward
		}
	}
	return buckets[len(buckets)-1].Reward
}

func scaleOf(e cadence.Expression) core.Scale {
	switch {
	case !e.DayOfMonth.IsWildcard() && !e.Month.IsWildcard():
		if e.Month.Contains(1) && e.Month.Contains(4) && e.Month.Contains(7) && e.Month.Contains(10) {
			return core.ScaleQuarterly
		}
		return core.ScaleYearly
	case !e.DayOfMonth.IsWildcard():
		return core.ScaleMonthly
	case !e.DayOfWeek.IsWildcard():
		if countDays(e) == 1 {
			return core.ScaleWeekly
		}
		return core.ScaleDaily
	default:
		return core.ScaleDaily
	}
}

func countDays(e cadence.Expression) int {
	n := 0
	for d := 0; d < 7; d++ {
		if e.DayOfWeek.Contains(d) {
			n++
		}
	}
	return n
}

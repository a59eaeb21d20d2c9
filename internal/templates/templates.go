// Package templates turns a scale plus optional overrides into a habit
// draft with a cadence and a scaled reward.
package templates

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/quantumlife/habits/internal/cadence"
	"github.com/quantumlife/habits/internal/core"
)

// Config controls template defaults.
type Config struct {
	BaseReward  int                    `json:"base_reward" yaml:"base_reward"`
	Hour        int                    `json:"hour" yaml:"hour"`
	Minute      int                    `json:"minute" yaml:"minute"`
	Weekday     int                    `json:"weekday" yaml:"weekday"`
	DayOfMonth  int                    `json:"day_of_month" yaml:"day_of_month"`
	Month       int                    `json:"month" yaml:"month"`
	Multipliers map[core.Scale]float64 `json:"multipliers" yaml:"multipliers"`
}

// DefaultConfig returns the standard template defaults.
func DefaultConfig() Config {
	return Config{
		BaseReward: 15,
		Hour:       9,
		Minute:     0,
		Weekday:    0,
		DayOfMonth: 1,
		Month:      1,
		Multipliers: map[core.Scale]float64{
			core.ScaleDaily:     1.0,
			core.ScaleWeekly:    2.0,
			core.ScaleMonthly:   3.3,
			core.ScaleQuarterly: 5.3,
			core.ScaleYearly:    6.7,
		},
	}
}

// Overrides adjusts a template. Nil fields keep the configured default.
type Overrides struct {
	Hour       *int `json:"hour,omitempty"`
	Minute     *int `json:"minute,omitempty"`
	Weekday    *int `json:"weekday,omitempty"`
	DayOfMonth *int `json:"day_of_month,omitempty"`
	Month      *int `json:"month,omitempty"`
	BaseReward *int `json:"base_reward,omitempty"`
}

// Template describes one scale for listings.
type Template struct {
	Scale       core.Scale `json:"scale"`
	Cadence     string     `json:"cadence"`
	BaseReward  int        `json:"base_reward"`
	Multiplier  float64    `json:"multiplier"`
	Description string     `json:"description"`
}

// Resolver builds drafts from templates.
type Resolver struct {
	cfg Config
}

// NewResolver creates a resolver, filling missing multipliers with defaults.
func NewResolver(cfg Config) *Resolver {
	def := DefaultConfig()
	if cfg.BaseReward <= 0 {
		cfg.BaseReward = def.BaseReward
	}
	mult := make(map[core.Scale]float64, len(def.Multipliers))
	for s, m := range def.Multipliers {
		mult[s] = m
	}
	for s, m := range cfg.Multipliers {
		if m > 0 {
			mult[s] = m
		}
	}
	cfg.Multipliers = mult
	return &Resolver{cfg: cfg}
}

// Multiplier returns the reward multiplier for a scale, or 1.
func (r *Resolver) Multiplier(s core.Scale) float64 {
	if m, ok := r.cfg.Multipliers[s]; ok {
		return m
	}
	return 1
}

// Resolve produces a draft for the scale. Unknown scales fail with
// ErrUnknownScale; out-of-range overrides fail with ErrInvalidOverride.
func (r *Resolver) Resolve(scale core.Scale, name, description string, ov Overrides) (*core.HabitDraft, error) {
	scale, err := core.ParseScale(string(scale))
	if err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, &core.ParseError{Reason: core.ReasonEmptyName, Input: name}
	}

	minute, err := pick(ov.Minute, r.cfg.Minute, 0, 59, "minute")
	if err != nil {
		return nil, err
	}
	hour, err := pick(ov.Hour, r.cfg.Hour, 0, 23, "hour")
	if err != nil {
		return nil, err
	}
	weekday, err := pick(ov.Weekday, r.cfg.Weekday, 0, 6, "weekday")
	if err != nil {
		return nil, err
	}
	dom, err := pick(ov.DayOfMonth, r.cfg.DayOfMonth, 1, 31, "day_of_month")
	if err != nil {
		return nil, err
	}
	month, err := pick(ov.Month, r.cfg.Month, 1, 12, "month")
	if err != nil {
		return nil, err
	}
	base := r.cfg.BaseReward
	if ov.BaseReward != nil {
		if *ov.BaseReward <= 0 {
			return nil, fmt.Errorf("%w: base_reward %d must be positive", core.ErrInvalidOverride, *ov.BaseReward)
		}
		base = *ov.BaseReward
	}

	var expr string
	switch scale {
	case core.ScaleDaily:
		expr = fmt.Sprintf("%d %d * * *", minute, hour)
	case core.ScaleWeekly:
		expr = fmt.Sprintf("%d %d * * %d", minute, hour, weekday)
	case core.ScaleMonthly:
		expr = fmt.Sprintf("%d %d %d * *", minute, hour, dom)
	case core.ScaleQuarterly:
		// April has 30 days; a later day would skip the second quarter.
		if dom > 30 {
			return nil, fmt.Errorf("%w: day_of_month %d does not occur in every quarter's first month", core.ErrInvalidOverride, dom)
		}
		expr = fmt.Sprintf("%d %d %d 1,4,7,10 *", minute, hour, dom)
	case core.ScaleYearly:
		if last := maxDay(month); dom > last {
			return nil, fmt.Errorf("%w: day_of_month %d does not occur in %s", core.ErrInvalidOverride, dom, time.Month(month))
		}
		expr = fmt.Sprintf("%d %d %d %d *", minute, hour, dom, month)
	}
	if err := cadence.Validate(expr); err != nil {
		return nil, err
	}

	return &core.HabitDraft{
		Name:        name,
		Description: strings.TrimSpace(description),
		BaseReward:  ScaleReward(base, r.Multiplier(scale)),
		Category:    core.CategoryGeneral,
		Scale:       scale,
		Cadence:     expr,
	}, nil
}

// maxDay is the longest a month gets, counting February 29.
func maxDay(month int) int {
	switch time.Month(month) {
	case time.February:
		return 29
	case time.April, time.June, time.September, time.November:
		return 30
	}
	return 31
}

// Templates lists every scale with its default cadence and reward.
func (r *Resolver) Templates() []Template {
	out := make([]Template, 0, len(core.Scales()))
	for _, s := range core.Scales() {
		d, err := r.Resolve(s, string(s), "", Overrides{})
		if err != nil {
			continue
		}
		out = append(out, Template{
			Scale:       s,
			Cadence:     d.Cadence,
			BaseReward:  d.BaseReward,
			Multiplier:  r.Multiplier(s),
			Description: describe(s),
		})
	}
	return out
}

func describe(s core.Scale) string {
	switch s {
	case core.ScaleDaily:
		return "every day"
	case core.ScaleWeekly:
		return "once a week"
	case core.ScaleMonthly:
		return "once a month"
	case core.ScaleQuarterly:
		return "first month of each quarter"
	default:
		return "once a year"
	}
}

// ScaleReward applies a multiplier and rounds half away from zero. The
// product is rounded to three decimals first so 15*3.3 lands on 49.5.
func ScaleReward(base int, multiplier float64) int {
	v := math.Round(float64(base)*multiplier*1000) / 1000
	return int(math.Round(v))
}

func pick(v *int, def, lo, hi int, field string) (int, error) {
	if v == nil {
		return def, nil
	}
	if *v < lo || *v > hi {
		return 0, fmt.Errorf("%w: %s %d outside [%d,%d]", core.ErrInvalidOverride, field, *v, lo, hi)
	}
	return *v, nil
}

// Package progression turns habit completions into streaks, XP, gold,
// levels and items.
package progression

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/logging"
	"github.com/quantumlife/habits/internal/rewards"
)

// Store is the persistence the engine needs. Apply must write the whole
// outcome or nothing, and must report a (user, habit, day) collision as
// core.ErrDuplicateCompletion. Apply adds the event's XP and gold to the
// stored user totals and writes the resulting totals back into
// outcome.Progress, so completions of different habits by one user do not
// overwrite each other.
type Store interface {
	GetHabit(ctx context.Context, id core.HabitID) (*core.HabitDefinition, error)
	GetCompletion(ctx context.Context, user core.UserID, habit core.HabitID, day core.Day) (*core.CompletionEvent, error)
	GetStreak(ctx context.Context, user core.UserID, habit core.HabitID) (*core.StreakState, error)
	GetProgress(ctx context.Context, user core.UserID) (*core.UserProgress, error)
	Apply(ctx context.Context, outcome *core.CompletionOutcome) error
	AmendCompletion(ctx context.Context, id string, note string, count *int) error
}

// Milestone is a streak tier paying a one-off bonus when first reached.
type Milestone struct {
	Days    int    `json:"days" yaml:"days"`
	BonusXP int    `json:"bonus_xp" yaml:"bonus_xp"`
	Gold    int    `json:"gold,omitempty" yaml:"gold,omitempty"`
	Item    string `json:"item,omitempty" yaml:"item,omitempty"`
}

// Config holds the progression curve.
type Config struct {
	// GraceDays is how many skipped days a streak survives.
	GraceDays    int                    `json:"grace_days" yaml:"grace_days"`
	StreakFactor float64                `json:"streak_factor" yaml:"streak_factor"`
	StreakCap    float64                `json:"streak_cap" yaml:"streak_cap"`
	Milestones   []Milestone            `json:"milestones" yaml:"milestones"`
	Multipliers  map[core.Scale]float64 `json:"multipliers" yaml:"multipliers"`
}

// DefaultConfig returns the standard curve.
func DefaultConfig() Config {
	return Config{
		GraceDays:    1,
		StreakFactor: 0.05,
		StreakCap:    0.5,
		Milestones: []Milestone{
			{Days: 3, BonusXP: 10},
			{Days: 7, BonusXP: 25, Item: "Week Warrior Badge"},
			{Days: 14, BonusXP: 50},
			{Days: 30, BonusXP: 100, Gold: 100},
			{Days: 60, BonusXP: 150},
			{Days: 100, BonusXP: 250, Item: "Centurion Medal"},
			{Days: 365, BonusXP: 500, Item: "Annual Achievement Trophy"},
		},
		Multipliers: map[core.Scale]float64{
			core.ScaleDaily:     1.0,
			core.ScaleWeekly:    2.0,
			core.ScaleMonthly:   3.3,
			core.ScaleQuarterly: 5.3,
			core.ScaleYearly:    6.7,
		},
	}
}

// Validate checks the curve for values the engine cannot use.
func (c Config) Validate() error {
	if c.GraceDays < 0 {
		return fmt.Errorf("%w: grace_days %d is negative", core.ErrInvalidInput, c.GraceDays)
	}
	if c.StreakFactor < 0 || c.StreakCap < 0 {
		return fmt.Errorf("%w: streak factor and cap must not be negative", core.ErrInvalidInput)
	}
	seen := make(map[int]bool)
	for _, m := range c.Milestones {
		if m.Days < 1 {
			return fmt.Errorf("%w: milestone days %d must be positive", core.ErrInvalidInput, m.Days)
		}
		if seen[m.Days] {
			return fmt.Errorf("%w: duplicate milestone at %d days", core.ErrInvalidInput, m.Days)
		}
		seen[m.Days] = true
	}
	return nil
}

// Engine applies completions. It is safe for concurrent use; completions for
// the same (user, habit) run one at a time.
type Engine struct {
	store  Store
	roller *rewards.Roller
	cfg    Config
	logger *logging.Logger
	tracer trace.Tracer
	now    func() time.Time
	locks  keyedMutex
}

// NewEngine creates an engine.
func NewEngine(store Store, roller *rewards.Roller, cfg Config, logger *logging.Logger) *Engine {
	ms := append([]Milestone(nil), cfg.Milestones...)
	sort.Slice(ms, func(i, j int) bool { return ms[i].Days < ms[j].Days })
	cfg.Milestones = ms
	if roller == nil {
		roller = rewards.NewRoller(rewards.DefaultConfig(), nil)
	}
	return &Engine{
		store:  store,
		roller: roller,
		cfg:    cfg,
		logger: logging.OrDefault(logger).WithField("component", "progression"),
		tracer: otel.Tracer("github.com/quantumlife/habits/internal/progression"),
		now:    time.Now,
	}
}

// SetClock replaces the clock used for default days and timestamps.
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Complete records a completion and everything it earns.
func (e *Engine) Complete(ctx context.Context, req core.CompletionRequest) (result *core.CompletionResult, err error) {
	ctx, span := e.tracer.Start(ctx, "progression.Complete", trace.WithAttributes(
		attribute.String("habit.id", string(req.HabitID)),
		attribute.String("user.id", string(req.UserID)),
		attribute.String("completion.source", string(req.Source)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if req.UserID == "" || req.HabitID == "" {
		return nil, fmt.Errorf("%w: user and habit are required", core.ErrMissingRequired)
	}

	habit, err := e.store.GetHabit(ctx, req.HabitID)
	if err != nil {
		return nil, err
	}
	if !habit.Active {
		return nil, fmt.Errorf("%w: %s", core.ErrHabitInactive, habit.Name)
	}

	at := req.At
	if at.IsZero() {
		at = e.now()
	}
	loc := habitLocation(habit)
	day := req.Day
	if day.IsZero() {
		day = core.DayIn(at, loc)
	}
	if today := core.DayIn(e.now(), loc); today.Before(day) {
		return nil, fmt.Errorf("%w: %s is after today (%s)", core.ErrInvalidInput, day, today)
	}
	source := req.Source
	if source == "" {
		source = core.SourceCommand
	}

	unlock := e.locks.Lock(string(req.UserID) + "\x00" + string(req.HabitID))
	defer unlock()

	existing, err := e.store.GetCompletion(ctx, req.UserID, req.HabitID, day)
	if err != nil {
		return nil, err
	}

	count := req.Count
	if count == nil && habit.TracksCount {
		count = ExtractCount(req.Note)
	}

	if existing != nil {
		if !req.Amend {
			return nil, &core.DuplicateError{Existing: existing}
		}
		return e.amend(ctx, existing, req.Note, count)
	}

	prevStreak, err := e.store.GetStreak(ctx, req.UserID, req.HabitID)
	if err != nil {
		return nil, err
	}
	if prevStreak == nil {
		prevStreak = &core.StreakState{UserID: req.UserID, HabitID: req.HabitID}
	}
	progress, err := e.store.GetProgress(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	if progress == nil {
		progress = &core.UserProgress{UserID: req.UserID, Level: 1}
	}
	if req.DisplayName != "" {
		progress.DisplayName = req.DisplayName
	}

	streak, milestone := e.Advance(*prevStreak, day)

	baseXP := e.BaseXP(habit, streak.Current)
	roll := e.roller.Roll(baseXP)

	res := &core.CompletionResult{
		BaseXP:        baseXP,
		BonusXP:       roll.BonusXP,
		Roll:          roll.Roll,
		Tier:          roll.Tier,
		Streak:        streak.Current,
		LongestStreak: streak.Longest,
	}
	gold := roll.Gold
	if milestone != nil {
		res.MilestoneXP = milestone.BonusXP
		res.Milestone = &core.MilestoneHit{
			Days:    milestone.Days,
			BonusXP: milestone.BonusXP,
			Gold:    milestone.Gold,
			Item:    milestone.Item,
		}
		gold += milestone.Gold
	}
	res.XPAwarded = res.BaseXP + res.MilestoneXP + res.BonusXP
	res.GoldAwarded = gold

	progress.TotalXP += res.XPAwarded
	progress.Gold += res.GoldAwarded
	progress.Level = LevelForXP(progress.TotalXP)
	progress.UpdatedAt = at

	event := core.CompletionEvent{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		HabitID:     req.HabitID,
		Day:         day,
		CompletedAt: at,
		Note:        req.Note,
		Count:       count,
		XPAwarded:   res.XPAwarded,
		GoldAwarded: res.GoldAwarded,
		Roll:        roll.Roll,
		Source:      source,
	}
	res.Event = event

	outcome := &core.CompletionOutcome{
		Event:    event,
		Streak:   streak,
		Progress: *progress,
	}
	outcome.Rewards, outcome.Items = e.ledger(habit, event, roll, milestone)
	for _, item := range outcome.Items {
		res.Items = append(res.Items, item.Name)
	}

	if err := e.store.Apply(ctx, outcome); err != nil {
		if errors.Is(err, core.ErrDuplicateCompletion) {
			return nil, &core.DuplicateError{}
		}
		return nil, err
	}
	res.TotalXP = outcome.Progress.TotalXP
	res.Gold = outcome.Progress.Gold
	res.Level = LevelForXP(res.TotalXP)
	oldLevel := LevelForXP(res.TotalXP - res.XPAwarded)
	res.LeveledUp = res.Level > oldLevel

	e.logger.WithFields(map[string]interface{}{
		"user":   req.UserID,
		"habit":  habit.Name,
		"day":    day,
		"streak": streak.Current,
		"xp":     res.XPAwarded,
		"gold":   res.GoldAwarded,
		"roll":   roll.Roll,
	}).Info("Completion recorded")
	if res.LeveledUp {
		e.logger.WithField("user", req.UserID).Info("Level up: %d -> %d", oldLevel, res.Level)
	}
	span.SetAttributes(
		attribute.Int("completion.xp", res.XPAwarded),
		attribute.Int("completion.streak", res.Streak),
	)
	return res, nil
}

func (e *Engine) amend(ctx context.Context, existing *core.CompletionEvent, note string, count *int) (*core.CompletionResult, error) {
	if count == nil {
		count = existing.Count
	}
	if err := e.store.AmendCompletion(ctx, existing.ID, note, count); err != nil {
		return nil, err
	}
	updated := *existing
	updated.Note = note
	updated.Count = count
	e.logger.WithFields(map[string]interface{}{
		"user":  existing.UserID,
		"habit": existing.HabitID,
		"day":   existing.Day,
	}).Info("Completion amended")
	return &core.CompletionResult{Event: updated, Amended: true}, nil
}

// Advance computes the streak after a completion on day and the milestone
// it newly reaches, if any.
//
// A completion the day after the last one extends the streak. A gap of
// skipped days extends it while the grace budget covers the gap, spending
// that budget; a consecutive completion refills it. Larger gaps restart the
// streak at 1. A completion for a day before the last one leaves the streak
// unchanged.
func (e *Engine) Advance(prev core.StreakState, day core.Day) (core.StreakState, *Milestone) {
	next := prev
	switch {
	case prev.LastDay.IsZero() || prev.Current == 0:
		next.Current = 1
		next.GraceRemaining = e.cfg.GraceDays
		next.LastMilestone = 0
	case !prev.LastDay.Before(day):
		return prev, nil
	default:
		skipped := day.Sub(prev.LastDay) - 1
		switch {
		case skipped == 0:
			next.Current++
			next.GraceRemaining = e.cfg.GraceDays
		case skipped <= prev.GraceRemaining:
			next.Current++
			next.GraceRemaining -= skipped
		default:
			next.Current = 1
			next.GraceRemaining = e.cfg.GraceDays
			next.LastMilestone = 0
		}
	}
	next.LastDay = day
	if next.Current > next.Longest {
		next.Longest = next.Current
	}

	var hit *Milestone
	for i := range e.cfg.Milestones {
		m := e.cfg.Milestones[i]
		if m.Days <= next.Current && m.Days > next.LastMilestone {
			hit = &m
		}
	}
	if hit != nil {
		next.LastMilestone = hit.Days
	}
	return next, hit
}

// BaseXP is baseReward × scale multiplier × (1 + min(streak × factor, cap)),
// rounded.
func (e *Engine) BaseXP(habit *core.HabitDefinition, streak int) int {
	mult, ok := e.cfg.Multipliers[habit.Scale]
	if !ok || mult <= 0 {
		mult = 1
	}
	bonus := math.Min(float64(streak)*e.cfg.StreakFactor, e.cfg.StreakCap)
	return int(math.Round(float64(habit.BaseReward) * mult * (1 + bonus)))
}

// ledger builds the reward history lines and inventory grants.
func (e *Engine) ledger(habit *core.HabitDefinition, ev core.CompletionEvent, roll rewards.Result, m *Milestone) ([]core.RewardRecord, []core.InventoryItem) {
	rec := func(kind core.RewardKind, label string, value int) core.RewardRecord {
		return core.RewardRecord{
			UserID:       ev.UserID,
			CompletionID: ev.ID,
			Kind:         kind,
			Label:        label,
			Value:        value,
			Roll:         roll.Roll,
			AwardedAt:    ev.CompletedAt,
		}
	}
	item := func(name string) core.InventoryItem {
		return core.InventoryItem{UserID: ev.UserID, Name: name, Quantity: 1, AcquiredAt: ev.CompletedAt}
	}

	records := []core.RewardRecord{
		rec(core.RewardXP, habit.Name, ev.XPAwarded),
		rec(core.RewardGold, habit.Name, roll.Gold),
	}
	var items []core.InventoryItem
	if roll.Tier != "" {
		records = append(records, rec(core.RewardBonus, roll.Tier, roll.BonusXP))
	}
	if roll.Item != "" {
		records = append(records, rec(core.RewardItem, roll.Item, 1))
		items = append(items, item(roll.Item))
	}
	if m != nil {
		records = append(records, rec(core.RewardMilestone, fmt.Sprintf("%d-day streak", m.Days), m.BonusXP))
		if m.Gold > 0 {
			records = append(records, rec(core.RewardGold, fmt.Sprintf("%d-day streak", m.Days), m.Gold))
		}
		if m.Item != "" {
			records = append(records, rec(core.RewardItem, m.Item, 1))
			items = append(items, item(m.Item))
		}
	}
	return records, items
}

func habitLocation(h *core.HabitDefinition) *time.Location {
	return core.Zone(h.Timezone)
}

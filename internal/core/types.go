// Package core defines the fundamental types for the habit engine.
// Every other package speaks in these types.
package core

import (
	"fmt"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// IDENTIFIERS
// -----------------------------------------------------------------------------

// HabitID is a type-safe identifier for habit definitions
type HabitID string

// UserID is the chat-platform identifier of a participant
type UserID string

// -----------------------------------------------------------------------------
// CATEGORY - Fixed set of habit categories
// -----------------------------------------------------------------------------

// Category groups habits for display and stats
type Category string

const (
	CategoryGeneral      Category = "general"
	CategoryFitness      Category = "fitness"
	CategoryWellness     Category = "wellness"
	CategoryLearning     Category = "learning"
	CategoryProductivity Category = "productivity"
	CategorySocial       Category = "social"
	CategoryCreative     Category = "creative"
	CategoryFinance      Category = "finance"
)

// Categories returns every known category in display order.
func Categories() []Category {
	return []Category{
		CategoryGeneral,
		CategoryFitness,
		CategoryWellness,
		CategoryLearning,
		CategoryProductivity,
		CategorySocial,
		CategoryCreative,
		CategoryFinance,
	}
}

// ParseCategory maps a name onto a known category, falling back to general.
func ParseCategory(s string) Category {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, c := range Categories() {
		if string(c) == s {
			return c
		}
	}
	return CategoryGeneral
}

// -----------------------------------------------------------------------------
// SCALE - How often a habit recurs
// -----------------------------------------------------------------------------

// Scale is the recurrence scale a habit belongs to
type Scale string

const (
	ScaleDaily     Scale = "daily"
	ScaleWeekly    Scale = "weekly"
	ScaleMonthly   Scale = "monthly"
	ScaleQuarterly Scale = "quarterly"
	ScaleYearly    Scale = "yearly"
)

// Scales returns every scale from shortest to longest period.
func Scales() []Scale {
	return []Scale{ScaleDaily, ScaleWeekly, ScaleMonthly, ScaleQuarterly, ScaleYearly}
}

// ParseScale resolves a scale name. Unknown names return ErrUnknownScale.
func ParseScale(s string) (Scale, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, sc := range Scales() {
		if string(sc) == s {
			return sc, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownScale, s)
}

// -----------------------------------------------------------------------------
// HABIT - A recurring behavior a user wants to reinforce
// -----------------------------------------------------------------------------

// HabitDefinition is a persisted, schedulable habit.
type HabitDefinition struct {
	ID          HabitID  `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	BaseReward  int      `json:"base_reward"`
	Category    Category `json:"category"`
	Scale       Scale    `json:"scale"`

	// Cadence is a five-field expression, minute hour day-of-month month day-of-week
	Cadence  string `json:"cadence"`
	Timezone string `json:"timezone"`

	// Channel is where reminders are posted; empty means the default channel
	Channel     string `json:"channel,omitempty"`
	TracksCount bool   `json:"tracks_count"`
	Active      bool   `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NameKey is the case-insensitive identity used for uniqueness among active habits.
func NameKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}

// HabitDraft is the result of parsing free text, before it is persisted.
type HabitDraft struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	BaseReward  int      `json:"base_reward"`
	Category    Category `json:"category"`
	Scale       Scale    `json:"scale"`
	Cadence     string   `json:"cadence"`
	TracksCount bool     `json:"tracks_count"`
	// Warnings notes where the text could only be approximated.
	Warnings    []string `json:"warnings,omitempty"`
}

// -----------------------------------------------------------------------------
// COMPLETION - A user marking a habit done for a day
// -----------------------------------------------------------------------------

// CompletionSource records how a completion arrived
type CompletionSource string

const (
	SourceCommand  CompletionSource = "command"
	SourceReaction CompletionSource = "reaction"
	SourceAPI      CompletionSource = "api"
)

// CompletionRequest is the input to the progression engine.
type CompletionRequest struct {
	UserID      UserID           `json:"user_id"`
	DisplayName string           `json:"display_name,omitempty"`
	HabitID     HabitID          `json:"habit_id"`
	Day         Day              `json:"day"`
	At          time.Time        `json:"at"`
	Note        string           `json:"note,omitempty"`
	Count       *int             `json:"count,omitempty"`
	Source      CompletionSource `json:"source"`

	// Amend updates the note and count of an existing completion instead
	// of failing with ErrDuplicateCompletion.
	Amend bool `json:"amend,omitempty"`
}

// CompletionEvent is one recorded completion. At most one exists per
// (user, habit, day).
type CompletionEvent struct {
	ID          string           `json:"id"`
	UserID      UserID           `json:"user_id"`
	HabitID     HabitID          `json:"habit_id"`
	Day         Day              `json:"day"`
	CompletedAt time.Time        `json:"completed_at"`
	Note        string           `json:"note,omitempty"`
	Count       *int             `json:"count,omitempty"`
	XPAwarded   int              `json:"xp_awarded"`
	GoldAwarded int              `json:"gold_awarded"`
	Roll        int              `json:"roll"`
	Source      CompletionSource `json:"source"`
}

// StreakState tracks consecutive completions of one habit by one user.
type StreakState struct {
	UserID         UserID  `json:"user_id"`
	HabitID        HabitID `json:"habit_id"`
	Current        int     `json:"current"`
	Longest        int     `json:"longest"`
	LastDay        Day     `json:"last_day"`
	GraceRemaining int     `json:"grace_remaining"`

	// LastMilestone is the highest tier paid out in the current run
	LastMilestone int `json:"last_milestone"`
}

// CurrentOn returns the run as it stands on today. A run whose missed days
// since LastDay exceed the remaining grace is already broken and reads as 0.
func (s StreakState) CurrentOn(today Day) int {
	if s.LastDay.IsZero() {
		return 0
	}
	if missed := today.Sub(s.LastDay) - 1; missed > s.GraceRemaining {
		return 0
	}
	return s.Current
}

// UserProgress is a user's accumulated totals.
type UserProgress struct {
	UserID      UserID    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	TotalXP     int       `json:"total_xp"`
	Gold        int       `json:"gold"`
	Level       int       `json:"level"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// MilestoneHit describes a streak tier reached by a completion.
type MilestoneHit struct {
	Days    int    `json:"days"`
	BonusXP int    `json:"bonus_xp"`
	Gold    int    `json:"gold,omitempty"`
	Item    string `json:"item,omitempty"`
}

// CompletionResult is everything a completion produced.
type CompletionResult struct {
	Event         CompletionEvent `json:"event"`
	BaseXP        int             `json:"base_xp"`
	MilestoneXP   int             `json:"milestone_xp"`
	BonusXP       int             `json:"bonus_xp"`
	XPAwarded     int             `json:"xp_awarded"`
	GoldAwarded   int             `json:"gold_awarded"`
	Roll          int             `json:"roll"`
	Tier          string          `json:"tier,omitempty"`
	Streak        int             `json:"streak"`
	LongestStreak int             `json:"longest_streak"`
	TotalXP       int             `json:"total_xp"`
	Gold          int             `json:"gold"`
	Level         int             `json:"level"`
	LeveledUp     bool            `json:"leveled_up"`
	Milestone     *MilestoneHit   `json:"milestone,omitempty"`
	Items         []string        `json:"items,omitempty"`
	Amended       bool            `json:"amended,omitempty"`
}

// -----------------------------------------------------------------------------
// REWARDS - Audit trail and inventory
// -----------------------------------------------------------------------------

// RewardKind classifies reward records
type RewardKind string

const (
	RewardXP        RewardKind = "xp"
	RewardGold      RewardKind = "gold"
	RewardBonus     RewardKind = "bonus"
	RewardMilestone RewardKind = "milestone"
	RewardItem      RewardKind = "item"
)

// RewardRecord is one line in a user's reward history.
type RewardRecord struct {
	ID           int64      `json:"id"`
	UserID       UserID     `json:"user_id"`
	CompletionID string     `json:"completion_id"`
	Kind         RewardKind `json:"kind"`
	Label        string     `json:"label"`
	Value        int        `json:"value"`
	Roll         int        `json:"roll"`
	AwardedAt    time.Time  `json:"awarded_at"`
}

// InventoryItem is an item a user holds. Unique per (user, name).
type InventoryItem struct {
	UserID     UserID    `json:"user_id"`
	Name       string    `json:"name"`
	Quantity   int       `json:"quantity"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// CompletionOutcome is written atomically by a progression store.
type CompletionOutcome struct {
	Event    CompletionEvent `json:"event"`
	Streak   StreakState     `json:"streak"`
	Progress UserProgress    `json:"progress"`
	Rewards  []RewardRecord  `json:"rewards"`
	Items    []InventoryItem `json:"items"`
}

// -----------------------------------------------------------------------------
// DELIVERY - Reminders posted to a channel and reactions to them
// -----------------------------------------------------------------------------

// DeliveryStatus is the state of a posted reminder
type DeliveryStatus string

const (
	DeliveryPending   DeliveryStatus = "pending"
	DeliveryDelivered DeliveryStatus = "delivered"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is a reminder message posted to a channel.
type Delivery struct {
	ID       string         `json:"id"`
	HabitID  HabitID        `json:"habit_id,omitempty"`
	Channel  string         `json:"channel"`
	Title    string         `json:"title"`
	Body     string         `json:"body"`
	Status   DeliveryStatus `json:"status"`
	Error    string         `json:"error,omitempty"`
	PostedAt time.Time      `json:"posted_at"`
}

// Reaction is a user reacting to a delivery.
type Reaction struct {
	DeliveryID  string    `json:"delivery_id"`
	UserID      UserID    `json:"user_id"`
	DisplayName string    `json:"display_name,omitempty"`
	Emoji       string    `json:"emoji"`
	At          time.Time `json:"at"`
}

// -----------------------------------------------------------------------------
// READ MODELS
// -----------------------------------------------------------------------------

// HabitStats summarizes completions of one habit.
type HabitStats struct {
	HabitID       HabitID `json:"habit_id"`
	Completions   int     `json:"completions"`
	Participants  int     `json:"participants"`
	PerUser       float64 `json:"average_per_user"`
	TotalXP       int     `json:"total_xp"`
	TotalCount    int     `json:"total_count"`
	BestStreak    int     `json:"best_streak"`
	LastCompleted *Day    `json:"last_completed,omitempty"`
}

// StreakView joins a streak with its habit name for display.
type StreakView struct {
	StreakState
	HabitName string `json:"habit_name"`
}

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	Rank int `json:"rank"`
	UserProgress
}

// DayStatus is one habit on a user's daily checklist.
type DayStatus struct {
	Habit      HabitDefinition  `json:"habit"`
	Done       bool             `json:"done"`
	Completion *CompletionEvent `json:"completion,omitempty"`
}

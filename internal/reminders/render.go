package reminders

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/quantumlife/habits/internal/core"
)

// Localizer is the minimal message-printer contract the renderer needs.
type Localizer interface {
	Sprintf(key message.Reference, args ...any) string
}

// DefaultLocalizer prints English copy with grouped numbers.
func DefaultLocalizer() Localizer {
	return message.NewPrinter(language.English)
}

// Output is rendered message copy
type Output struct {
	Title string
	Body  string
}

var titleCaser = cases.Title(language.English)

// DisplayName title-cases a habit name for messages.
func DisplayName(name string) string {
	return titleCaser.String(strings.TrimSpace(name))
}

// RenderReminder renders the message posted when a habit's trigger fires.
func RenderReminder(loc Localizer, h *core.HabitDefinition, emoji string) Output {
	lines := []string{loc.Sprintf(keyReminderBody, DisplayName(h.Name))}
	if h.Description != "" {
		lines = append(lines, h.Description)
	}
	lines = append(lines,
		loc.Sprintf(keyReminderReward, h.BaseReward),
		loc.Sprintf(keyReminderHowTo, emoji),
	)
	return Output{
		Title: loc.Sprintf(keyReminderTitle),
		Body:  strings.Join(lines, "\n"),
	}
}

// RenderCompletion renders the announcement for a recorded completion.
func RenderCompletion(loc Localizer, habitName, who string, res *core.CompletionResult) Output {
	lines := []string{
		loc.Sprintf(keyCompletionBody, who, res.XPAwarded, res.GoldAwarded, res.Roll),
		loc.Sprintf(keyCompletionStreak, res.Streak, res.LongestStreak),
	}
	if res.Tier != "" {
		lines = append(lines, loc.Sprintf(keyCompletionBonus, res.Tier, res.BonusXP))
	}
	if res.Milestone != nil {
		lines = append(lines, loc.Sprintf(keyMilestone, res.Milestone.Days, res.Milestone.BonusXP))
	}
	for _, item := range res.Items {
		lines = append(lines, loc.Sprintf(keyItem, item))
	}
	if res.LeveledUp {
		lines = append(lines, loc.Sprintf(keyLevelUp, res.Level, res.TotalXP))
	}
	return Output{
		Title: loc.Sprintf(keyCompletionTitle, DisplayName(habitName)),
		Body:  strings.Join(lines, "\n"),
	}
}

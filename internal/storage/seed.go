package storage

import (
	"context"
	"errors"

	"github.com/quantumlife/habits/internal/core"
)

// DefaultHabits are created on first start so a new community has
// reminders from day one.
func DefaultHabits() []core.HabitDefinition {
	return []core.HabitDefinition{
		{Name: "Morning Meditation", Description: "Start your day with mindfulness", BaseReward: 15, Category: core.CategoryWellness, Cadence: "0 7 * * *"},
		{Name: "Daily Exercise", Description: "Physical activity for health", BaseReward: 20, Category: core.CategoryFitness, Cadence: "0 18 * * *"},
		{Name: "Read for Learning", Description: "Expand your knowledge", BaseReward: 12, Category: core.CategoryLearning, Cadence: "0 20 * * *"},
		{Name: "Drink Water", Description: "Stay hydrated throughout the day", BaseReward: 5, Category: core.CategoryWellness, Cadence: "0 */2 * * *"},
		{Name: "Sleep Early", Description: "Good sleep hygiene", BaseReward: 10, Category: core.CategoryWellness, Cadence: "0 22 * * *"},
		{Name: "Gratitude Journal", Description: "Write 3 things you're grateful for", BaseReward: 8, Category: core.CategoryWellness, Cadence: "0 21 * * *"},
		{Name: "Code Review", Description: "Review and improve coding skills", BaseReward: 15, Category: core.CategoryLearning, Cadence: "0 9 * * 1,2,3,4,5"},
	}
}

// SeedDefaults creates any default habit missing by name. It returns the
// habits it created; existing ones are left untouched.
func SeedDefaults(ctx context.Context, habits *HabitStore, timezone, channel string) ([]*core.HabitDefinition, error) {
	var created []*core.HabitDefinition
	for _, def := range DefaultHabits() {
		_, err := habits.GetByName(ctx, def.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, core.ErrHabitNotFound) {
			return created, err
		}

		h := def
		h.Scale = core.ScaleDaily
		h.Timezone = timezone
		h.Channel = channel
		if err := habits.Create(ctx, &h); err != nil {
			if errors.Is(err, core.ErrHabitExists) {
				continue
			}
			return created, err
		}
		created = append(created, &h)
		habits.db.logger.WithField("habit", h.Name).Info("Seeded default habit")
	}
	return created, nil
}

package testutil

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"testing"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/storage"
)

// RandomID generates a random ID for testing.
func RandomID() string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

// DefaultHabitFixture returns a daily wellness habit at 07:00 UTC.
func DefaultHabitFixture() core.HabitDefinition {
	return core.HabitDefinition{
		Name:        "meditation " + RandomID()[:4],
		Description: "breathe",
		BaseReward:  15,
		Category:    core.CategoryWellness,
		Scale:       core.ScaleDaily,
		Cadence:     "0 7 * * *",
		Timezone:    "UTC",
		Channel:     "general",
	}
}

// HabitBuilder builds habit fixtures with a fluent interface.
type HabitBuilder struct {
	habit core.HabitDefinition
}

// NewHabitBuilder creates a new habit fixture builder.
func NewHabitBuilder() *HabitBuilder {
	return &HabitBuilder{habit: DefaultHabitFixture()}
}

// WithName sets the name.
func (b *HabitBuilder) WithName(name string) *HabitBuilder {
	b.habit.Name = name
	return b
}

// WithReward sets the base reward.
func (b *HabitBuilder) WithReward(xp int) *HabitBuilder {
	b.habit.BaseReward = xp
	return b
}

// WithCadence sets the cadence and scale.
func (b *HabitBuilder) WithCadence(expr string, scale core.Scale) *HabitBuilder {
	b.habit.Cadence = expr
	b.habit.Scale = scale
	return b
}

// WithTimezone sets the habit's zone.
func (b *HabitBuilder) WithTimezone(tz string) *HabitBuilder {
	b.habit.Timezone = tz
	return b
}

// WithChannel sets the reminder channel.
func (b *HabitBuilder) WithChannel(channel string) *HabitBuilder {
	b.habit.Channel = channel
	return b
}

// CountTracked marks the habit as tracking counts.
func (b *HabitBuilder) CountTracked() *HabitBuilder {
	b.habit.TracksCount = true
	return b
}

// Build returns the built fixture.
func (b *HabitBuilder) Build() core.HabitDefinition {
	return b.habit
}

// Create stores the fixture in db and returns it with its ID set.
func (b *HabitBuilder) Create(t *testing.T, db *storage.DB) *core.HabitDefinition {
	t.Helper()
	h := b.Build()
	if err := storage.NewHabitStore(db).Create(context.Background(), &h); err != nil {
		t.Fatalf("create habit fixture %q: %v", h.Name, err)
	}
	return &h
}

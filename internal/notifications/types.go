// Package notifications posts reminder messages to channels and routes
// reactions back to the habit engine.
package notifications

import (
	"context"
	"time"

	"github.com/quantumlife/habits/internal/core"
)

// NotificationType represents the kind of notification
type NotificationType string

const (
	NotifyReminder   NotificationType = "reminder"
	NotifyCompletion NotificationType = "completion"
	NotifyLevelUp    NotificationType = "level_up"
	NotifyMilestone  NotificationType = "milestone"
	NotifySystem     NotificationType = "system"
)

// Notification is a message posted to a channel. Its ID is the delivery ID
// that reactions refer to.
type Notification struct {
	ID        string           `json:"id"`
	Type      NotificationType `json:"type"`
	Channel   string           `json:"channel"`
	Title     string           `json:"title"`
	Body      string           `json:"body,omitempty"`
	HabitID   core.HabitID     `json:"habit_id,omitempty"`
	Data      map[string]any   `json:"data,omitempty"`
	CreatedAt time.Time        `json:"created_at"`
}

// PostRequest for posting a new message
type PostRequest struct {
	Type    NotificationType `json:"type"`
	Channel string           `json:"channel,omitempty"`
	Title   string           `json:"title"`
	Body    string           `json:"body,omitempty"`
	HabitID core.HabitID     `json:"habit_id,omitempty"`
	Data    map[string]any   `json:"data,omitempty"`
}

// ReactionHandler is called for each new reaction on a known delivery
type ReactionHandler func(ctx context.Context, delivery core.Delivery, reaction core.Reaction)

// WebSocketMessage for real-time delivery
type WebSocketMessage struct {
	Type    string       `json:"type"`
	Payload Notification `json:"payload"`
}

// Package reminders connects fired triggers to posted messages and reactions
// on those messages to completions.
package reminders

import (
	"context"
	"errors"
	"fmt"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/logging"
	"github.com/quantumlife/habits/internal/notifications"
	"github.com/quantumlife/habits/internal/scheduler"
)

// CompleteEmoji is the reaction that marks a reminded habit done.
const CompleteEmoji = "✅"

// HabitSource looks up habit definitions
type HabitSource interface {
	Get(ctx context.Context, id core.HabitID) (*core.HabitDefinition, error)
}

// Completer records completions
type Completer interface {
	Complete(ctx context.Context, req core.CompletionRequest) (*core.CompletionResult, error)
}

// Poster posts messages to a channel
type Poster interface {
	Post(ctx context.Context, req notifications.PostRequest) (string, error)
}

// Service renders and posts reminders and turns reactions into completions
type Service struct {
	habits    HabitSource
	completer Completer
	poster    Poster
	loc       Localizer
	announce  bool
	logger    *logging.Logger
}

// Option configures a Service
type Option func(*Service)

// WithLocalizer replaces the English message printer
func WithLocalizer(loc Localizer) Option {
	return func(s *Service) { s.loc = loc }
}

// WithAnnouncements posts a message for every completion made by reaction
func WithAnnouncements(on bool) Option {
	return func(s *Service) { s.announce = on }
}

// NewService creates a reminder service
func NewService(habits HabitSource, completer Completer, poster Poster, logger *logging.Logger, opts ...Option) *Service {
	s := &Service{
		habits:    habits,
		completer: completer,
		poster:    poster,
		loc:       DefaultLocalizer(),
		announce:  true,
		logger:    logging.OrDefault(logger).WithField("component", "reminders"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fire posts the reminder for a due trigger. It is a scheduler.FireFunc.
// Inactive habits are skipped.
func (s *Service) Fire(ctx context.Context, t scheduler.Trigger) error {
	h, err := s.habits.Get(ctx, t.HabitID)
	if err != nil {
		return fmt.Errorf("load habit %s: %w", t.HabitID, err)
	}
	if !h.Active {
		s.logger.WithField("habit", h.Name).Debug("Skipping reminder for inactive habit")
		return nil
	}

	channel := t.Channel
	if channel == "" {
		channel = h.Channel
	}
	out := RenderReminder(s.loc, h, CompleteEmoji)
	id, err := s.poster.Post(ctx, notifications.PostRequest{
		Type:    notifications.NotifyReminder,
		Channel: channel,
		Title:   out.Title,
		Body:    out.Body,
		HabitID: h.ID,
		Data: map[string]any{
			"cadence":   t.Cadence,
			"scheduled": t.Next,
		},
	})
	if err != nil {
		return err
	}
	s.logger.WithFields(map[string]interface{}{
		"habit":    h.Name,
		"delivery": id,
	}).Info("Reminder posted")
	return nil
}

// HandleReaction completes the delivery's habit for the reacting user when
// the reaction is CompleteEmoji. It is a notifications.ReactionHandler.
func (s *Service) HandleReaction(ctx context.Context, d core.Delivery, r core.Reaction) {
	if r.Emoji != CompleteEmoji || d.HabitID == "" {
		return
	}
	log := s.logger.WithFields(map[string]interface{}{
		"user":     r.UserID,
		"habit":    d.HabitID,
		"delivery": d.ID,
	})

	res, err := s.completer.Complete(ctx, core.CompletionRequest{
		UserID:      r.UserID,
		DisplayName: r.DisplayName,
		HabitID:     d.HabitID,
		At:          r.At,
		Note:        "Completed via reminder reaction",
		Source:      core.SourceReaction,
	})
	switch {
	case errors.Is(err, core.ErrDuplicateCompletion):
		log.Debug("Already completed today")
		return
	case errors.Is(err, core.ErrHabitInactive), errors.Is(err, core.ErrHabitNotFound):
		log.Debug("Reaction on retired habit ignored")
		return
	case err != nil:
		log.WithError(err).Error("Failed to record reaction completion")
		return
	}
	log.WithField("xp", res.XPAwarded).Info("Completion recorded from reaction")

	if !s.announce {
		return
	}
	who := r.DisplayName
	if who == "" {
		who = string(r.UserID)
	}
	name := string(d.HabitID)
	if h, err := s.habits.Get(ctx, d.HabitID); err == nil {
		name = h.Name
	}
	s.Announce(ctx, d.Channel, name, who, res)
}

// Announce posts a completion summary to channel
func (s *Service) Announce(ctx context.Context, channel, habitName, who string, res *core.CompletionResult) {
	out := RenderCompletion(s.loc, habitName, who, res)
	typ := notifications.NotifyCompletion
	switch {
	case res.Milestone != nil:
		typ = notifications.NotifyMilestone
	case res.LeveledUp:
		typ = notifications.NotifyLevelUp
	}
	_, err := s.poster.Post(ctx, notifications.PostRequest{
		Type:    typ,
		Channel: channel,
		Title:   out.Title,
		Body:    out.Body,
		Data: map[string]any{
			"user_id": res.Event.UserID,
			"xp":      res.XPAwarded,
			"streak":  res.Streak,
		},
	})
	if err != nil {
		s.logger.WithError(err).Warn("Failed to announce completion")
	}
}

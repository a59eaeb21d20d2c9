// Package habits manages habit definitions: creating them from text or a
// scale template, rescheduling, retiring, and keeping the scheduler in step
// with what is stored.
package habits

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/logging"
	"github.com/quantumlife/habits/internal/parser"
	"github.com/quantumlife/habits/internal/storage"
	"github.com/quantumlife/habits/internal/templates"
)

// Scheduler is the part of the scheduler the service drives
type Scheduler interface {
	Activate(habitID core.HabitID, expr string, channel string) error
	Deactivate(habitID core.HabitID)
}

// Config holds defaults for new habits
type Config struct {
	Timezone       string
	DefaultChannel string
}

// Service coordinates habit storage and scheduling
type Service struct {
	parser   *parser.Parser
	resolver *templates.Resolver
	habits   *storage.HabitStore
	progress *storage.ProgressStore
	sched    Scheduler
	cfg      Config
	logger   *logging.Logger
}

// NewService creates a habit service. sched may be nil for tools that only
// edit definitions.
func NewService(p *parser.Parser, r *templates.Resolver, db *storage.DB, sched Scheduler, cfg Config, logger *logging.Logger) *Service {
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	return &Service{
		parser:   p,
		resolver: r,
		habits:   storage.NewHabitStore(db),
		progress: storage.NewProgressStore(db),
		sched:    sched,
		cfg:      cfg,
		logger:   logging.OrDefault(logger).WithField("component", "habits"),
	}
}

// CreateOptions adjusts where a new habit lives
type CreateOptions struct {
	Channel  string `json:"channel,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// TemplateRequest creates a habit from a scale template
type TemplateRequest struct {
	Scale       core.Scale          `json:"scale"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Category    core.Category       `json:"category,omitempty"`
	Overrides   templates.Overrides `json:"overrides"`
	CreateOptions
}

// Preview parses text without storing anything
func (s *Service) Preview(text string) (*core.HabitDraft, error) {
	return s.parser.Parse(text)
}

// CreateFromText parses a free-form description and stores and schedules it
func (s *Service) CreateFromText(ctx context.Context, text string, opts CreateOptions) (*core.HabitDefinition, error) {
	draft, err := s.parser.Parse(text)
	if err != nil {
		return nil, err
	}
	return s.create(ctx, draft, opts)
}

// CreateFromTemplate resolves a scale template and stores and schedules it
func (s *Service) CreateFromTemplate(ctx context.Context, req TemplateRequest) (*core.HabitDefinition, error) {
	draft, err := s.resolver.Resolve(req.Scale, req.Name, req.Description, req.Overrides)
	if err != nil {
		return nil, err
	}
	if req.Category != "" {
		draft.Category = core.ParseCategory(string(req.Category))
	}
	return s.create(ctx, draft, req.CreateOptions)
}

func (s *Service) create(ctx context.Context, d *core.HabitDraft, opts CreateOptions) (*core.HabitDefinition, error) {
	h := &core.HabitDefinition{
		Name:        d.Name,
		Description: d.Description,
		BaseReward:  d.BaseReward,
		Category:    d.Category,
		Scale:       d.Scale,
		Cadence:     d.Cadence,
		Timezone:    s.cfg.Timezone,
		Channel:     s.cfg.DefaultChannel,
		TracksCount: d.TracksCount,
	}
	if opts.Channel != "" {
		h.Channel = opts.Channel
	}
	if opts.Timezone != "" {
		h.Timezone = opts.Timezone
	}
	if err := s.habits.Create(ctx, h); err != nil {
		return nil, err
	}
	for _, w := range d.Warnings {
		s.logger.WithField("habit", h.Name).Warn("%s", w)
	}

	if err := s.activate(h); err != nil {
		// Keep storage and the trigger set consistent.
		if derr := s.habits.Deactivate(ctx, h.ID); derr != nil {
			s.logger.WithError(derr).WithField("habit", h.ID).Warn("Failed to retire unschedulable habit")
		}
		return nil, err
	}

	s.logger.WithFields(map[string]interface{}{
		"habit":   h.Name,
		"cadence": h.Cadence,
		"reward":  h.BaseReward,
	}).Info("Habit created")
	return h, nil
}

// Get returns a habit by ID
func (s *Service) Get(ctx context.Context, id core.HabitID) (*core.HabitDefinition, error) {
	return s.habits.Get(ctx, id)
}

// Find resolves a reference typed by a user: an ID, or else an active
// habit's name.
func (s *Service) Find(ctx context.Context, ref string) (*core.HabitDefinition, error) {
	h, err := s.habits.Get(ctx, core.HabitID(ref))
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, core.ErrHabitNotFound) {
		return nil, err
	}
	return s.habits.GetByName(ctx, ref)
}

// List returns habits, optionally only active ones
func (s *Service) List(ctx context.Context, activeOnly bool) ([]*core.HabitDefinition, error) {
	return s.habits.List(ctx, activeOnly)
}

// Stats summarizes completions of a habit
func (s *Service) Stats(ctx context.Context, id core.HabitID) (*core.HabitStats, error) {
	return s.progress.HabitStats(ctx, id)
}

// Templates lists the scale templates
func (s *Service) Templates() []templates.Template {
	return s.resolver.Templates()
}

// Reschedule replaces an active habit's cadence with one parsed from a
// schedule phrase and re-arms its trigger.
func (s *Service) Reschedule(ctx context.Context, id core.HabitID, phrase string) (*core.HabitDefinition, error) {
	h, err := s.habits.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !h.Active {
		return nil, fmt.Errorf("%w: %s", core.ErrHabitInactive, h.Name)
	}
	expr, scale, err := s.parser.ParseSchedule(phrase)
	if err != nil {
		return nil, err
	}
	if err := s.habits.UpdateSchedule(ctx, id, expr, scale); err != nil {
		return nil, err
	}
	h.Cadence, h.Scale = expr, scale
	if err := s.activate(h); err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{
		"habit":   h.Name,
		"cadence": expr,
	}).Info("Habit rescheduled")
	return h, nil
}

// SetChannel moves an active habit's reminders to another channel and
// re-arms its trigger there.
func (s *Service) SetChannel(ctx context.Context, id core.HabitID, channel string) (*core.HabitDefinition, error) {
	channel = strings.TrimSpace(channel)
	if channel == "" {
		return nil, fmt.Errorf("%w: channel", core.ErrMissingRequired)
	}
	h, err := s.habits.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !h.Active {
		return nil, fmt.Errorf("%w: %s", core.ErrHabitInactive, h.Name)
	}
	if err := s.habits.SetChannel(ctx, id, channel); err != nil {
		return nil, err
	}
	h.Channel = channel
	if err := s.activate(h); err != nil {
		return nil, err
	}
	s.logger.WithFields(map[string]interface{}{
		"habit":   h.Name,
		"channel": channel,
	}).Info("Habit channel changed")
	return h, nil
}

// Deactivate retires a habit. History is kept and reminders stop.
func (s *Service) Deactivate(ctx context.Context, id core.HabitID) error {
	if err := s.habits.Deactivate(ctx, id); err != nil {
		return err
	}
	if s.sched != nil {
		s.sched.Deactivate(id)
	}
	s.logger.WithField("habit", id).Info("Habit deactivated")
	return nil
}

// Restore re-arms a trigger for every active habit. Habits whose cadence no
// longer parses are logged and skipped.
func (s *Service) Restore(ctx context.Context) (int, error) {
	active, err := s.habits.List(ctx, true)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, h := range active {
		if err := s.activate(h); err != nil {
			s.logger.WithError(err).WithField("habit", h.Name).Warn("Skipping habit with bad cadence")
			continue
		}
		n++
	}
	s.logger.WithField("triggers", n).Info("Triggers restored")
	return n, nil
}

// Seed creates the default habits that are missing and schedules them.
func (s *Service) Seed(ctx context.Context) ([]*core.HabitDefinition, error) {
	created, err := storage.SeedDefaults(ctx, s.habits, s.cfg.Timezone, s.cfg.DefaultChannel)
	if err != nil {
		return created, err
	}
	for _, h := range created {
		if err := s.activate(h); err != nil {
			s.logger.WithError(err).WithField("habit", h.Name).Warn("Seeded habit not scheduled")
		}
	}
	return created, nil
}

func (s *Service) activate(h *core.HabitDefinition) error {
	if s.sched == nil {
		return nil
	}
	return s.sched.Activate(h.ID, zoned(h.Cadence, h.Timezone, s.cfg.Timezone), h.Channel)
}

// zoned prefixes a cadence with its habit's zone when that differs from the
// scheduler's base zone and the expression does not already name one.
func zoned(expr, tz, base string) string {
	expr = strings.TrimSpace(expr)
	if tz == "" || tz == base || strings.HasPrefix(expr, "CRON_TZ=") || strings.HasPrefix(expr, "TZ=") {
		return expr
	}
	return "CRON_TZ=" + tz + " " + expr
}

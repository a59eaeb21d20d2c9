// Package scheduler fires habit reminders at their cadence.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantumlife/habits/internal/cadence"
	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/logging"
)

// Trigger is an active habit reminder. Triggers live only in memory and are
// rebuilt from the active habits at start.
type Trigger struct {
	HabitID    core.HabitID `json:"habit_id"`
	Cadence    string       `json:"cadence"`
	Channel    string       `json:"channel,omitempty"`
	Next       time.Time    `json:"next"`
	LastFired  *time.Time   `json:"last_fired,omitempty"`
	FireCount  int64        `json:"fire_count"`
	ErrorCount int64        `json:"error_count"`
	LastError  string       `json:"last_error,omitempty"`

	expr       cadence.Expression
	generation uint64
}

// FireFunc is called once per due trigger. An error is logged and counted;
// the trigger stays scheduled.
type FireFunc func(ctx context.Context, t Trigger) error

// Config configures the scheduler
type Config struct {
	Timezone string `json:"timezone" yaml:"timezone"` // Zone for cadences without CRON_TZ=

	// FireTimeout bounds a single FireFunc call
	FireTimeout time.Duration `json:"fire_timeout" yaml:"fire_timeout"`
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Timezone:    "UTC",
		FireTimeout: 30 * time.Second,
	}
}

// Scheduler keeps one trigger per active habit and fires them from a single
// goroutine.
type Scheduler struct {
	mu       sync.Mutex
	triggers map[core.HabitID]*Trigger
	fire     FireFunc
	timezone *time.Location
	timeout  time.Duration
	now      func() time.Time
	gen      uint64

	wake    chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	totalFires  int64
	totalErrors int64

	logger *logging.Logger
	tracer trace.Tracer
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg Config, fire FireFunc, logger *logging.Logger) *Scheduler {
	logger = logging.OrDefault(logger).WithField("component", "scheduler")

	tz, err := time.LoadLocation(cfg.Timezone)
	if err != nil || cfg.Timezone == "" {
		if cfg.Timezone != "" {
			logger.WithError(err).Warn("Unknown timezone %q, using UTC", cfg.Timezone)
		}
		tz = time.UTC
	}
	if cfg.FireTimeout <= 0 {
		cfg.FireTimeout = DefaultConfig().FireTimeout
	}
	if fire == nil {
		fire = func(context.Context, Trigger) error { return nil }
	}

	return &Scheduler{
		triggers: make(map[core.HabitID]*Trigger),
		fire:     fire,
		timezone: tz,
		timeout:  cfg.FireTimeout,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
		logger:   logger,
		tracer:   otel.Tracer("github.com/quantumlife/habits/internal/scheduler"),
	}
}

// SetClock replaces the clock. Call before Start.
func (s *Scheduler) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Location returns the default zone for cadences
func (s *Scheduler) Location() *time.Location {
	return s.timezone
}

// Activate adds or replaces the trigger for a habit. The next occurrence is
// computed from the current time.
func (s *Scheduler) Activate(habitID core.HabitID, expr string, channel string) error {
	if habitID == "" {
		return fmt.Errorf("%w: habit ID", core.ErrMissingRequired)
	}
	parsed, err := cadence.ParseIn(expr, s.timezone)
	if err != nil {
		return err
	}

	s.mu.Lock()
	now := s.now()
	s.gen++
	t := &Trigger{
		HabitID:    habitID,
		Cadence:    parsed.Spec(),
		Channel:    channel,
		Next:       parsed.Next(now),
		expr:       parsed,
		generation: s.gen,
	}
	if old, ok := s.triggers[habitID]; ok {
		t.FireCount = old.FireCount
		t.ErrorCount = old.ErrorCount
		t.LastFired = old.LastFired
	}
	s.triggers[habitID] = t
	s.mu.Unlock()

	if t.Next.IsZero() {
		s.logger.WithField("habit", habitID).Warn("Cadence %q never fires", t.Cadence)
	} else {
		s.logger.WithFields(map[string]interface{}{
			"habit":   habitID,
			"cadence": t.Cadence,
			"next":    t.Next.Format(time.RFC3339),
		}).Debug("Trigger activated")
	}
	s.poke()
	return nil
}

// Deactivate removes a habit's trigger. Removing an unknown habit is a no-op.
func (s *Scheduler) Deactivate(habitID core.HabitID) {
	s.mu.Lock()
	_, ok := s.triggers[habitID]
	delete(s.triggers, habitID)
	s.mu.Unlock()

	if ok {
		s.logger.WithField("habit", habitID).Debug("Trigger deactivated")
		s.poke()
	}
}

// Tick fires every trigger due at now, earliest first, and moves each one to
// its first occurrence strictly after now. Missed occurrences are not
// replayed. It returns how many triggers fired.
func (s *Scheduler) Tick(ctx context.Context, now time.Time) int {
	s.mu.Lock()
	var due []Trigger
	for _, t := range s.triggers {
		if !t.Next.IsZero() && !t.Next.After(now) {
			due = append(due, *t)
		}
	}
	s.mu.Unlock()

	sort.Slice(due, func(i, j int) bool {
		if !due[i].Next.Equal(due[j].Next) {
			return due[i].Next.Before(due[j].Next)
		}
		return due[i].HabitID < due[j].HabitID
	})

	fired := 0
	for _, snap := range due {
		if ctx.Err() != nil {
			break
		}
		if !s.claim(snap, now) {
			continue
		}
		fired++
		s.execute(ctx, snap, now)
	}
	return fired
}

// claim advances a due trigger unless it was replaced or removed after the
// snapshot was taken.
func (s *Scheduler) claim(snap Trigger, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.triggers[snap.HabitID]
	if !ok || cur.generation != snap.generation || cur.Next.After(now) {
		return false
	}
	fired := now
	cur.LastFired = &fired
	cur.FireCount++
	cur.Next = cur.expr.Next(now)
	s.totalFires++
	return true
}

func (s *Scheduler) execute(ctx context.Context, t Trigger, now time.Time) {
	ctx, span := s.tracer.Start(ctx, "scheduler.Fire", trace.WithAttributes(
		attribute.String("habit.id", string(t.HabitID)),
		attribute.String("trigger.cadence", t.Cadence),
		attribute.String("trigger.scheduled", t.Next.Format(time.RFC3339)),
	))
	defer span.End()

	fireCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	err := s.fire(fireCtx, t)

	s.mu.Lock()
	if cur, ok := s.triggers[t.HabitID]; ok && cur.generation == t.generation {
		if err != nil {
			cur.ErrorCount++
			cur.LastError = err.Error()
		} else {
			cur.LastError = ""
		}
	}
	if err != nil {
		s.totalErrors++
	}
	s.mu.Unlock()

	log := s.logger.WithFields(map[string]interface{}{
		"habit":     t.HabitID,
		"scheduled": t.Next.Format(time.RFC3339),
		"late":      now.Sub(t.Next).Round(time.Millisecond).String(),
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.WithError(err).Error("Reminder failed")
		return
	}
	log.Debug("Reminder fired")
}

// Start runs the timer loop in its own goroutine until Stop or ctx ends.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("scheduler already started")
	}
	s.started = true

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.run(loopCtx, s.done)

	s.logger.WithField("triggers", len(s.triggers)).Info("Scheduler started")
	return nil
}

// Stop stops the timer loop and waits for an in-flight fire to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	cancel, done := s.cancel, s.done
	s.started = false
	s.mu.Unlock()

	cancel()
	<-done
	s.logger.Info("Scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		next, ok := s.earliest()

		var timer *time.Timer
		var fireC <-chan time.Time
		if ok {
			wait := next.Sub(s.clock())
			if wait < 0 {
				wait = 0
			}
			timer = time.NewTimer(wait)
			fireC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-fireC:
			s.Tick(ctx, s.clock())
		}
	}
}

func (s *Scheduler) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

func (s *Scheduler) earliest() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var first time.Time
	for _, t := range s.triggers {
		if t.Next.IsZero() {
			continue
		}
		if first.IsZero() || t.Next.Before(first) {
			first = t.Next
		}
	}
	return first, !first.IsZero()
}

// poke wakes the timer loop so it recomputes the earliest trigger.
func (s *Scheduler) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Trigger returns a copy of a habit's trigger
func (s *Scheduler) Trigger(habitID core.HabitID) (Trigger, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[habitID]
	if !ok {
		return Trigger{}, false
	}
	return *t, true
}

// Triggers returns a snapshot of all triggers, soonest first
func (s *Scheduler) Triggers() []Trigger {
	s.mu.Lock()
	out := make([]Trigger, 0, len(s.triggers))
	for _, t := range s.triggers {
		out = append(out, *t)
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Next, out[j].Next
		switch {
		case a.IsZero() != b.IsZero():
			return !a.IsZero()
		case !a.Equal(b):
			return a.Before(b)
		}
		return out[i].HabitID < out[j].HabitID
	})
	return out
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Stats{
		Started:     s.started,
		Triggers:    len(s.triggers),
		TotalFires:  s.totalFires,
		TotalErrors: s.totalErrors,
		Timezone:    s.timezone.String(),
	}
	for _, t := range s.triggers {
		if t.Next.IsZero() {
			continue
		}
		if stats.NextFire == nil || t.Next.Before(*stats.NextFire) {
			next := t.Next
			stats.NextFire = &next
		}
	}
	return stats
}

// Stats contains scheduler statistics
type Stats struct {
	Started     bool       `json:"started"`
	Triggers    int        `json:"triggers"`
	TotalFires  int64      `json:"total_fires"`
	TotalErrors int64      `json:"total_errors"`
	Timezone    string     `json:"timezone"`
	NextFire    *time.Time `json:"next_fire,omitempty"`
}

package testutil

import (
	"errors"
	"sync"
	"time"

	"github.com/quantumlife/habits/internal/notifications"
)

// FakeClock is a settable clock safe for concurrent use.
type FakeClock struct {
	mu sync.Mutex
	t  time.Time
}

// NewFakeClock returns a clock stopped at t.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{t: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

// Set moves the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// FixedSource replays draws for a reward roller. Values are draws in [1,100];
// IntN returns draw-1. After the last value the sequence repeats.
type FixedSource struct {
	mu    sync.Mutex
	draws []int
	next  int
}

// NewFixedSource returns a source replaying draws.
func NewFixedSource(draws ...int) *FixedSource {
	if len(draws) == 0 {
		draws = []int{50}
	}
	return &FixedSource{draws: draws}
}

// IntN implements rewards.Source.
func (s *FixedSource) IntN(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.draws[s.next%len(s.draws)] - 1
	s.next++
	if v < 0 {
		v = 0
	}
	if v >= n {
		v = n - 1
	}
	return v
}

// ErrSubscriberDown is returned by a failing RecordingSubscriber.
var ErrSubscriberDown = errors.New("subscriber down")

// RecordingSubscriber records every notification it is sent.
type RecordingSubscriber struct {
	SubscriberID string
	Fail         bool

	mu   sync.Mutex
	sent []notifications.Notification
}

// NewRecordingSubscriber creates a subscriber with the given ID.
func NewRecordingSubscriber(id string) *RecordingSubscriber {
	return &RecordingSubscriber{SubscriberID: id}
}

// ID implements notifications.Subscriber.
func (s *RecordingSubscriber) ID() string {
	return s.SubscriberID
}

// Send implements notifications.Subscriber.
func (s *RecordingSubscriber) Send(n notifications.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail {
		return ErrSubscriberDown
	}
	s.sent = append(s.sent, n)
	return nil
}

// Sent returns a copy of the recorded notifications.
func (s *RecordingSubscriber) Sent() []notifications.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notifications.Notification(nil), s.sent...)
}

// Last returns the most recent notification, if any.
func (s *RecordingSubscriber) Last() (notifications.Notification, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.sent) == 0 {
		return notifications.Notification{}, false
	}
	return s.sent[len(s.sent)-1], true
}

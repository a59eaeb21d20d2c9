package notifications

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/logging"
)

// Subscriber receives notifications in real-time
type Subscriber interface {
	Send(notification Notification) error
	ID() string
}

// Deliveries persists posted messages and reactions to them.
type Deliveries interface {
	Create(ctx context.Context, d *core.Delivery) error
	UpdateStatus(ctx context.Context, id string, status core.DeliveryStatus, errText string) error
	Get(ctx context.Context, id string) (*core.Delivery, error)
	Recent(ctx context.Context, limit int) ([]*core.Delivery, error)
	RecordReaction(ctx context.Context, r core.Reaction) (bool, error)
}

// Service posts notifications to subscribers and dispatches reactions
type Service struct {
	deliveries     Deliveries
	defaultChannel string
	subscribers    map[string]Subscriber
	handlers       []ReactionHandler
	mu             sync.RWMutex
	logger         *logging.Logger
	now            func() time.Time
}

// NewService creates a new notification service
func NewService(deliveries Deliveries, defaultChannel string, logger *logging.Logger) *Service {
	if defaultChannel == "" {
		defaultChannel = "general"
	}
	return &Service{
		deliveries:     deliveries,
		defaultChannel: defaultChannel,
		subscribers:    make(map[string]Subscriber),
		logger:         logging.OrDefault(logger).WithField("component", "notifications"),
		now:            time.Now,
	}
}

// DefaultChannel is where messages without a channel are posted
func (s *Service) DefaultChannel() string {
	return s.defaultChannel
}

// Subscribe adds a subscriber for real-time notifications
func (s *Service) Subscribe(sub Subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[sub.ID()] = sub
}

// Unsubscribe removes a subscriber
func (s *Service) Unsubscribe(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subscribers, id)
}

// Subscribers returns the IDs of connected subscribers
func (s *Service) Subscribers() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.subscribers))
	for id := range s.subscribers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnReactionAdded registers a handler for reactions on posted deliveries
func (s *Service) OnReactionAdded(h ReactionHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Post records a delivery and sends it to every subscriber. It returns the
// delivery ID. When subscribers exist and none accepted the message, the
// delivery is marked failed and the error wraps core.ErrDelivery.
func (s *Service) Post(ctx context.Context, req PostRequest) (string, error) {
	if strings.TrimSpace(req.Title) == "" && strings.TrimSpace(req.Body) == "" {
		return "", fmt.Errorf("%w: empty message", core.ErrDelivery)
	}
	if req.Type == "" {
		req.Type = NotifySystem
	}
	if req.Channel == "" {
		req.Channel = s.defaultChannel
	}

	d := &core.Delivery{
		HabitID:  req.HabitID,
		Channel:  req.Channel,
		Title:    req.Title,
		Body:     req.Body,
		Status:   core.DeliveryPending,
		PostedAt: s.now().UTC(),
	}
	if err := s.deliveries.Create(ctx, d); err != nil {
		return "", fmt.Errorf("%w: record delivery: %w", core.ErrDelivery, err)
	}

	n := Notification{
		ID:        d.ID,
		Type:      req.Type,
		Channel:   d.Channel,
		Title:     d.Title,
		Body:      d.Body,
		HabitID:   d.HabitID,
		Data:      req.Data,
		CreatedAt: d.PostedAt,
	}

	sendErr := s.broadcast(n)
	status, errText := core.DeliveryDelivered, ""
	if sendErr != nil {
		status, errText = core.DeliveryFailed, sendErr.Error()
	}
	if err := s.deliveries.UpdateStatus(ctx, d.ID, status, errText); err != nil {
		s.logger.WithError(err).WithField("delivery", d.ID).Warn("Failed to record delivery status")
	}

	log := s.logger.WithFields(map[string]interface{}{
		"delivery": d.ID,
		"channel":  d.Channel,
		"type":     req.Type,
	})
	if sendErr != nil {
		log.WithError(sendErr).Warn("Delivery failed")
		return d.ID, fmt.Errorf("%w: %w", core.ErrDelivery, sendErr)
	}
	log.Debug("Delivered")
	return d.ID, nil
}

// broadcast sends n to every subscriber. It fails only when there were
// subscribers and all of them failed.
func (s *Service) broadcast(n Notification) error {
	s.mu.RLock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, sub := range s.subscribers {
		subs = append(subs, sub)
	}
	s.mu.RUnlock()

	if len(subs) == 0 {
		return nil
	}
	var errs []error
	for _, sub := range subs {
		if err := sub.Send(n); err != nil {
			errs = append(errs, fmt.Errorf("subscriber %s: %w", sub.ID(), err))
		}
	}
	if len(errs) == len(subs) {
		return errors.Join(errs...)
	}
	for _, err := range errs {
		s.logger.WithError(err).Debug("Subscriber send failed")
	}
	return nil
}

// HandleReaction records a reaction and passes it to the registered handlers.
// Reactions to unknown deliveries and repeated reactions are ignored.
func (s *Service) HandleReaction(ctx context.Context, r core.Reaction) error {
	if r.DeliveryID == "" || r.UserID == "" || r.Emoji == "" {
		return fmt.Errorf("%w: reaction needs delivery, user and emoji", core.ErrMissingRequired)
	}
	if r.At.IsZero() {
		r.At = s.now()
	}

	d, err := s.deliveries.Get(ctx, r.DeliveryID)
	if errors.Is(err, core.ErrDeliveryNotFound) {
		s.logger.WithField("delivery", r.DeliveryID).Debug("Reaction on unknown delivery ignored")
		return nil
	}
	if err != nil {
		return err
	}

	added, err := s.deliveries.RecordReaction(ctx, r)
	if err != nil {
		return err
	}
	if !added {
		return nil
	}

	s.mu.RLock()
	handlers := append([]ReactionHandler(nil), s.handlers...)
	s.mu.RUnlock()
	for _, h := range handlers {
		h(ctx, *d, r)
	}
	return nil
}

// Recent returns the latest deliveries
func (s *Service) Recent(ctx context.Context, limit int) ([]*core.Delivery, error) {
	return s.deliveries.Recent(ctx, limit)
}

// SendSystemNotification posts a system message to the default channel
func (s *Service) SendSystemNotification(ctx context.Context, title, body string) (string, error) {
	return s.Post(ctx, PostRequest{
		Type:  NotifySystem,
		Title: title,
		Body:  body,
	})
}

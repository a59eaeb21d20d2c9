package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/habits/internal/core"
)

// DeliveryStore records posted reminders and the reactions to them
type DeliveryStore struct {
	db *DB
}

// NewDeliveryStore creates a new delivery store
func NewDeliveryStore(db *DB) *DeliveryStore {
	return &DeliveryStore{db: db}
}

const deliveryColumns = `id, habit_id, channel, title, body, status, error, posted_at`

func scanDelivery(row rowScanner) (*core.Delivery, error) {
	d := &core.Delivery{}
	var habit, errText sql.NullString
	err := row.Scan(&d.ID, &habit, &d.Channel, &d.Title, &d.Body, &d.Status, &errText, &d.PostedAt)
	if err != nil {
		return nil, err
	}
	d.HabitID = core.HabitID(habit.String)
	d.Error = errText.String
	return d, nil
}

// Create stores a pending delivery, assigning an ID when empty
func (s *DeliveryStore) Create(ctx context.Context, d *core.Delivery) error {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Status == "" {
		d.Status = core.DeliveryPending
	}
	if d.PostedAt.IsZero() {
		d.PostedAt = time.Now()
	}
	d.PostedAt = d.PostedAt.UTC()

	var habit sql.NullString
	if d.HabitID != "" {
		habit = sql.NullString{String: string(d.HabitID), Valid: true}
	}
	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO deliveries (id, habit_id, channel, title, body, status, error, posted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, d.ID, habit, d.Channel, d.Title, d.Body, d.Status, d.Error, d.PostedAt)
	return persistence("create delivery", err)
}

// UpdateStatus records the outcome of a delivery attempt
func (s *DeliveryStore) UpdateStatus(ctx context.Context, id string, status core.DeliveryStatus, errText string) error {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE deliveries SET status = ?, error = ? WHERE id = ?`, status, errText, id)
	if err != nil {
		return persistence("update delivery", err)
	}
	return affected(res, fmt.Errorf("%w: %s", core.ErrDeliveryNotFound, id))
}

// Get returns a delivery by ID
func (s *DeliveryStore) Get(ctx context.Context, id string) (*core.Delivery, error) {
	d, err := scanDelivery(s.db.conn.QueryRowContext(ctx,
		`SELECT `+deliveryColumns+` FROM deliveries WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", core.ErrDeliveryNotFound, id)
	}
	if err != nil {
		return nil, persistence("get delivery", err)
	}
	return d, nil
}

// Recent returns the latest deliveries, newest first
func (s *DeliveryStore) Recent(ctx context.Context, limit int) ([]*core.Delivery, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT `+deliveryColumns+` FROM deliveries
		ORDER BY posted_at DESC LIMIT ?
	`, limitOrDefault(limit, 20))
	if err != nil {
		return nil, persistence("recent deliveries", err)
	}
	defer rows.Close()

	var out []*core.Delivery
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, persistence("scan delivery", err)
		}
		out = append(out, d)
	}
	return out, persistence("recent deliveries", rows.Err())
}

// RecordReaction stores a reaction once. It reports false when the same
// user already reacted to the delivery with the same emoji.
func (s *DeliveryStore) RecordReaction(ctx context.Context, r core.Reaction) (bool, error) {
	at := r.At
	if at.IsZero() {
		at = time.Now()
	}
	res, err := s.db.conn.ExecContext(ctx, `
		INSERT OR IGNORE INTO reactions (delivery_id, user_id, emoji, reacted_at)
		VALUES (?, ?, ?, ?)
	`, r.DeliveryID, r.UserID, r.Emoji, at.UTC())
	if err != nil {
		return false, persistence("record reaction", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, persistence("record reaction", err)
	}
	return n > 0, nil
}

package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/quantumlife/habits/internal/core"
)

// HabitStore handles habit definition persistence
type HabitStore struct {
	db  *DB
	now func() time.Time
}

// NewHabitStore creates a new habit store
func NewHabitStore(db *DB) *HabitStore {
	return &HabitStore{db: db, now: time.Now}
}

const habitColumns = `
	id, name, description, base_reward, category, scale, cadence,
	timezone, channel, tracks_count, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanHabit(row rowScanner) (*core.HabitDefinition, error) {
	h := &core.HabitDefinition{}
	var description, channel sql.NullString
	err := row.Scan(
		&h.ID, &h.Name, &description, &h.BaseReward, &h.Category, &h.Scale, &h.Cadence,
		&h.Timezone, &channel, &h.TracksCount, &h.Active, &h.CreatedAt, &h.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	h.Description = description.String
	h.Channel = channel.String
	return h, nil
}

// Create persists a new habit. The ID is generated when empty. A second
// active habit with the same name fails with core.ErrHabitExists.
func (s *HabitStore) Create(ctx context.Context, h *core.HabitDefinition) error {
	if h.Name == "" {
		return fmt.Errorf("%w: habit name", core.ErrMissingRequired)
	}
	if h.ID == "" {
		h.ID = core.HabitID(uuid.New().String())
	}
	if h.Timezone == "" {
		h.Timezone = "UTC"
	}
	now := s.now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now
	h.Active = true

	_, err := s.db.conn.ExecContext(ctx, `
		INSERT INTO habits (id, name, name_key, description, base_reward, category, scale,
		                    cadence, timezone, channel, tracks_count, is_active,
		                    created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		h.ID, h.Name, core.NameKey(h.Name), h.Description, h.BaseReward, h.Category, h.Scale,
		h.Cadence, h.Timezone, h.Channel, h.TracksCount, h.Active,
		h.CreatedAt, h.UpdatedAt,
	)
	if isUniqueConstraintError(err) {
		return fmt.Errorf("%w: %q", core.ErrHabitExists, h.Name)
	}
	return persistence("create habit", err)
}

// Get returns a habit by ID, active or not
func (s *HabitStore) Get(ctx context.Context, id core.HabitID) (*core.HabitDefinition, error) {
	h, err := scanHabit(s.db.conn.QueryRowContext(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", core.ErrHabitNotFound, id)
	}
	if err != nil {
		return nil, persistence("get habit", err)
	}
	return h, nil
}

// GetByName returns the active habit with the given name, case-insensitively.
func (s *HabitStore) GetByName(ctx context.Context, name string) (*core.HabitDefinition, error) {
	h, err := scanHabit(s.db.conn.QueryRowContext(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE name_key = ? AND is_active = 1`,
		core.NameKey(name)))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %q", core.ErrHabitNotFound, name)
	}
	if err != nil {
		return nil, persistence("get habit by name", err)
	}
	return h, nil
}

// List returns habits ordered by creation time
func (s *HabitStore) List(ctx context.Context, activeOnly bool) ([]*core.HabitDefinition, error) {
	query := `SELECT ` + habitColumns + ` FROM habits`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY created_at ASC, name ASC`

	rows, err := s.db.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, persistence("list habits", err)
	}
	defer rows.Close()

	var habits []*core.HabitDefinition
	for rows.Next() {
		h, err := scanHabit(rows)
		if err != nil {
			return nil, persistence("scan habit", err)
		}
		habits = append(habits, h)
	}
	return habits, persistence("list habits", rows.Err())
}

// UpdateSchedule replaces a habit's cadence and scale
func (s *HabitStore) UpdateSchedule(ctx context.Context, id core.HabitID, cadence string, scale core.Scale) error {
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE habits SET cadence = ?, scale = ?, updated_at = ? WHERE id = ?
	`, cadence, scale, s.now().UTC(), id)
	if err != nil {
		return persistence("update schedule", err)
	}
	return affected(res, fmt.Errorf("%w: %s", core.ErrHabitNotFound, id))
}

// SetChannel changes where a habit's reminders are posted
func (s *HabitStore) SetChannel(ctx context.Context, id core.HabitID, channel string) error {
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE habits SET channel = ?, updated_at = ? WHERE id = ?
	`, channel, s.now().UTC(), id)
	if err != nil {
		return persistence("set channel", err)
	}
	return affected(res, fmt.Errorf("%w: %s", core.ErrHabitNotFound, id))
}

// Deactivate marks a habit inactive. Its history is kept and its name becomes
// available again.
func (s *HabitStore) Deactivate(ctx context.Context, id core.HabitID) error {
	res, err := s.db.conn.ExecContext(ctx, `
		UPDATE habits SET is_active = 0, updated_at = ? WHERE id = ?
	`, s.now().UTC(), id)
	if err != nil {
		return persistence("deactivate habit", err)
	}
	return affected(res, fmt.Errorf("%w: %s", core.ErrHabitNotFound, id))
}

// Count returns the number of active habits
func (s *HabitStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM habits WHERE is_active = 1`).Scan(&n)
	return n, persistence("count habits", err)
}

func affected(res sql.Result, missing error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return persistence("rows affected", err)
	}
	if n == 0 {
		return missing
	}
	return nil
}

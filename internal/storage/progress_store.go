package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/progression"
)

// ProgressStore persists completions, streaks, user totals, reward history
// and inventory. It implements progression.Store.
type ProgressStore struct {
	db     *DB
	habits *HabitStore
	now    func() time.Time
}

// NewProgressStore creates a new progress store
func NewProgressStore(db *DB) *ProgressStore {
	return &ProgressStore{db: db, habits: NewHabitStore(db), now: time.Now}
}

// SetClock replaces the clock streak views use to decide which runs are
// still alive.
func (s *ProgressStore) SetClock(now func() time.Time) {
	s.now = now
}

var _ progression.Store = (*ProgressStore)(nil)

const completionColumns = `
	id, user_id, habit_id, day, completed_at, note, count,
	xp_awarded, gold_awarded, roll, source`

func scanCompletion(row rowScanner) (*core.CompletionEvent, error) {
	ev := &core.CompletionEvent{}
	var note sql.NullString
	var count sql.NullInt64
	err := row.Scan(
		&ev.ID, &ev.UserID, &ev.HabitID, &ev.Day, &ev.CompletedAt, &note, &count,
		&ev.XPAwarded, &ev.GoldAwarded, &ev.Roll, &ev.Source,
	)
	if err != nil {
		return nil, err
	}
	ev.Note = note.String
	if count.Valid {
		n := int(count.Int64)
		ev.Count = &n
	}
	return ev, nil
}

func nullCount(count *int) sql.NullInt64 {
	if count == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*count), Valid: true}
}

// GetHabit returns a habit by ID
func (s *ProgressStore) GetHabit(ctx context.Context, id core.HabitID) (*core.HabitDefinition, error) {
	return s.habits.Get(ctx, id)
}

// GetCompletion returns the completion for (user, habit, day), or nil if
// there is none.
func (s *ProgressStore) GetCompletion(ctx context.Context, user core.UserID, habit core.HabitID, day core.Day) (*core.CompletionEvent, error) {
	ev, err := scanCompletion(s.db.conn.QueryRowContext(ctx, `
		SELECT `+completionColumns+` FROM completions
		WHERE user_id = ? AND habit_id = ? AND day = ?
	`, user, habit, day))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("get completion", err)
	}
	return ev, nil
}

// GetStreak returns the streak for (user, habit), or nil if none was recorded.
func (s *ProgressStore) GetStreak(ctx context.Context, user core.UserID, habit core.HabitID) (*core.StreakState, error) {
	st := &core.StreakState{}
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT user_id, habit_id, current, longest, last_day, grace_remaining, last_milestone
		FROM streaks WHERE user_id = ? AND habit_id = ?
	`, user, habit).Scan(
		&st.UserID, &st.HabitID, &st.Current, &st.Longest, &st.LastDay,
		&st.GraceRemaining, &st.LastMilestone,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("get streak", err)
	}
	return st, nil
}

// GetProgress returns a user's totals, or nil for an unknown user.
func (s *ProgressStore) GetProgress(ctx context.Context, user core.UserID) (*core.UserProgress, error) {
	p, err := scanProgress(s.db.conn.QueryRowContext(ctx, `
		SELECT user_id, display_name, total_xp, gold, level, updated_at
		FROM users WHERE user_id = ?
	`, user))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, persistence("get progress", err)
	}
	return p, nil
}

func scanProgress(row rowScanner) (*core.UserProgress, error) {
	p := &core.UserProgress{}
	var name sql.NullString
	if err := row.Scan(&p.UserID, &name, &p.TotalXP, &p.Gold, &p.Level, &p.UpdatedAt); err != nil {
		return nil, err
	}
	p.DisplayName = name.String
	return p, nil
}

// Apply writes a completion outcome in one transaction.
func (s *ProgressStore) Apply(ctx context.Context, o *core.CompletionOutcome) error {
	return s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
		ev := o.Event
		at := ev.CompletedAt.UTC()

		var xp, gold int
		err := tx.QueryRowContext(ctx,
			`SELECT total_xp, gold FROM users WHERE user_id = ?`, ev.UserID).Scan(&xp, &gold)
		if err != nil && err != sql.ErrNoRows {
			return persistence("read user totals", err)
		}
		p := o.Progress
		p.TotalXP = xp + ev.XPAwarded
		p.Gold = gold + ev.GoldAwarded
		p.Level = progression.LevelForXP(p.TotalXP)
		p.UpdatedAt = at

		_, err = tx.ExecContext(ctx, `
			INSERT INTO users (user_id, display_name, total_xp, gold, level, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id) DO UPDATE SET
			    display_name = COALESCE(NULLIF(excluded.display_name, ''), users.display_name),
			    total_xp = excluded.total_xp,
			    gold = excluded.gold,
			    level = excluded.level,
			    updated_at = excluded.updated_at
		`, p.UserID, p.DisplayName, p.TotalXP, p.Gold, p.Level, at, at)
		if err != nil {
			return persistence("upsert user", err)
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO completions (id, user_id, habit_id, day, completed_at, note, count,
			                         xp_awarded, gold_awarded, roll, source)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			ev.ID, ev.UserID, ev.HabitID, ev.Day, at, ev.Note, nullCount(ev.Count),
			ev.XPAwarded, ev.GoldAwarded, ev.Roll, ev.Source,
		)
		if isUniqueConstraintError(err) {
			return fmt.Errorf("%w: %s %s %s", core.ErrDuplicateCompletion, ev.UserID, ev.HabitID, ev.Day)
		}
		if err != nil {
			return persistence("insert completion", err)
		}

		st := o.Streak
		_, err = tx.ExecContext(ctx, `
			INSERT INTO streaks (user_id, habit_id, current, longest, last_day,
			                     grace_remaining, last_milestone, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(user_id, habit_id) DO UPDATE SET
			    current = excluded.current,
			    longest = excluded.longest,
			    last_day = excluded.last_day,
			    grace_remaining = excluded.grace_remaining,
			    last_milestone = excluded.last_milestone,
			    updated_at = excluded.updated_at
		`, st.UserID, st.HabitID, st.Current, st.Longest, st.LastDay,
			st.GraceRemaining, st.LastMilestone, at)
		if err != nil {
			return persistence("upsert streak", err)
		}

		for _, r := range o.Rewards {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO rewards (user_id, completion_id, kind, label, value, roll, awarded_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, r.UserID, r.CompletionID, r.Kind, r.Label, r.Value, r.Roll, r.AwardedAt.UTC())
			if err != nil {
				return persistence("insert reward", err)
			}
		}

		for _, it := range o.Items {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO inventory (user_id, item_name, quantity, acquired_at)
				VALUES (?, ?, ?, ?)
				ON CONFLICT(user_id, item_name) DO UPDATE SET
				    quantity = inventory.quantity + excluded.quantity
			`, it.UserID, it.Name, it.Quantity, it.AcquiredAt.UTC())
			if err != nil {
				return persistence("grant item", err)
			}
		}

		o.Progress = p
		return nil
	})
}

// AmendCompletion replaces the note and count of an existing completion
func (s *ProgressStore) AmendCompletion(ctx context.Context, id string, note string, count *int) error {
	res, err := s.db.conn.ExecContext(ctx,
		`UPDATE completions SET note = ?, count = ? WHERE id = ?`, note, nullCount(count), id)
	if err != nil {
		return persistence("amend completion", err)
	}
	return affected(res, fmt.Errorf("%w: completion %s", core.ErrRecordNotFound, id))
}

// ListCompletions returns a user's most recent completions. An empty habit
// lists all habits.
func (s *ProgressStore) ListCompletions(ctx context.Context, user core.UserID, habit core.HabitID, limit int) ([]*core.CompletionEvent, error) {
	query := `SELECT ` + completionColumns + ` FROM completions WHERE user_id = ?`
	args := []any{user}
	if habit != "" {
		query += ` AND habit_id = ?`
		args = append(args, habit)
	}
	query += ` ORDER BY day DESC, completed_at DESC LIMIT ?`
	args = append(args, limitOrDefault(limit, 50))

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence("list completions", err)
	}
	defer rows.Close()

	var events []*core.CompletionEvent
	for rows.Next() {
		ev, err := scanCompletion(rows)
		if err != nil {
			return nil, persistence("scan completion", err)
		}
		events = append(events, ev)
	}
	return events, persistence("list completions", rows.Err())
}

// Streaks returns every live streak a user holds, longest current run first.
func (s *ProgressStore) Streaks(ctx context.Context, user core.UserID) ([]core.StreakView, error) {
	return s.streakViews(ctx, `WHERE s.user_id = ? AND s.current > 0`, []any{user}, 0)
}

// StreakLeaderboard returns the longest live streaks across all users on
// active habits.
func (s *ProgressStore) StreakLeaderboard(ctx context.Context, limit int) ([]core.StreakView, error) {
	return s.streakViews(ctx, `WHERE s.current > 0 AND h.is_active = 1`, nil, limitOrDefault(limit, 10))
}

// streakViews reports Current as of today in each habit's zone. Runs that
// lapsed without a completion to reset them are dropped.
func (s *ProgressStore) streakViews(ctx context.Context, where string, args []any, limit int) ([]core.StreakView, error) {
	query := `
		SELECT s.user_id, s.habit_id, s.current, s.longest, s.last_day,
		       s.grace_remaining, s.last_milestone, h.name, h.timezone
		FROM streaks s JOIN habits h ON h.id = s.habit_id
		` + where

	rows, err := s.db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, persistence("list streaks", err)
	}
	defer rows.Close()

	now := s.now()
	var views []core.StreakView
	for rows.Next() {
		var (
			v  core.StreakView
			tz string
		)
		err := rows.Scan(
			&v.UserID, &v.HabitID, &v.Current, &v.Longest, &v.LastDay,
			&v.GraceRemaining, &v.LastMilestone, &v.HabitName, &tz,
		)
		if err != nil {
			return nil, persistence("scan streak", err)
		}
		v.Current = v.CurrentOn(core.DayIn(now, core.Zone(tz)))
		if v.Current == 0 {
			continue
		}
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("list streaks", err)
	}

	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if a.Current != b.Current {
			return a.Current > b.Current
		}
		if a.Longest != b.Longest {
			return a.Longest > b.Longest
		}
		return a.HabitName < b.HabitName
	})
	if limit > 0 && len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

// LeaderboardOrder selects the ranking column.
type LeaderboardOrder string

const (
	ByXP    LeaderboardOrder = "xp"
	ByGold  LeaderboardOrder = "gold"
	ByLevel LeaderboardOrder = "level"
)

// Leaderboard ranks users. Ties share a rank.
func (s *ProgressStore) Leaderboard(ctx context.Context, by LeaderboardOrder, limit int) ([]core.LeaderboardEntry, error) {
	var order string
	switch by {
	case ByGold:
		order = "gold DESC, total_xp DESC"
	case ByLevel:
		order = "level DESC, total_xp DESC"
	case ByXP, "":
		order = "total_xp DESC, gold DESC"
	default:
		return nil, fmt.Errorf("%w: leaderboard order %q", core.ErrInvalidInput, by)
	}

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT user_id, display_name, total_xp, gold, level, updated_at
		FROM users ORDER BY `+order+`, user_id ASC LIMIT ?
	`, limitOrDefault(limit, 10))
	if err != nil {
		return nil, persistence("leaderboard", err)
	}
	defer rows.Close()

	var entries []core.LeaderboardEntry
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, persistence("scan leaderboard", err)
		}
		rank := len(entries) + 1
		if n := len(entries); n > 0 && rankKey(entries[n-1].UserProgress, by) == rankKey(*p, by) {
			rank = entries[n-1].Rank
		}
		entries = append(entries, core.LeaderboardEntry{Rank: rank, UserProgress: *p})
	}
	return entries, persistence("leaderboard", rows.Err())
}

func rankKey(p core.UserProgress, by LeaderboardOrder) int {
	switch by {
	case ByGold:
		return p.Gold
	case ByLevel:
		return p.Level
	default:
		return p.TotalXP
	}
}

// HabitStats summarizes a habit's completions
func (s *ProgressStore) HabitStats(ctx context.Context, habit core.HabitID) (*core.HabitStats, error) {
	if _, err := s.habits.Get(ctx, habit); err != nil {
		return nil, err
	}

	stats := &core.HabitStats{HabitID: habit}
	var last sql.NullString
	err := s.db.conn.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT user_id), COALESCE(SUM(xp_awarded), 0),
		       COALESCE(SUM(count), 0), MAX(day)
		FROM completions WHERE habit_id = ?
	`, habit).Scan(&stats.Completions, &stats.Participants, &stats.TotalXP, &stats.TotalCount, &last)
	if err != nil {
		return nil, persistence("habit stats", err)
	}
	if last.Valid {
		d, err := core.ParseDay(last.String)
		if err == nil {
			stats.LastCompleted = &d
		}
	}
	if stats.Participants > 0 {
		stats.PerUser = float64(stats.Completions) / float64(stats.Participants)
	}

	err = s.db.conn.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(longest), 0) FROM streaks WHERE habit_id = ?`, habit).Scan(&stats.BestStreak)
	if err != nil {
		return nil, persistence("habit stats", err)
	}
	return stats, nil
}

// DayProgress lists every active habit with whether the user completed it on day.
func (s *ProgressStore) DayProgress(ctx context.Context, user core.UserID, day core.Day) ([]core.DayStatus, error) {
	habits, err := s.habits.List(ctx, true)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT `+completionColumns+` FROM completions WHERE user_id = ? AND day = ?
	`, user, day)
	if err != nil {
		return nil, persistence("day progress", err)
	}
	defer rows.Close()

	done := make(map[core.HabitID]*core.CompletionEvent)
	for rows.Next() {
		ev, err := scanCompletion(rows)
		if err != nil {
			return nil, persistence("scan completion", err)
		}
		done[ev.HabitID] = ev
	}
	if err := rows.Err(); err != nil {
		return nil, persistence("day progress", err)
	}

	statuses := make([]core.DayStatus, 0, len(habits))
	for _, h := range habits {
		ev := done[h.ID]
		statuses = append(statuses, core.DayStatus{Habit: *h, Done: ev != nil, Completion: ev})
	}
	return statuses, nil
}

// RewardHistory returns a user's most recent reward lines
func (s *ProgressStore) RewardHistory(ctx context.Context, user core.UserID, limit int) ([]core.RewardRecord, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT id, user_id, COALESCE(completion_id, ''), kind, label, value, roll, awarded_at
		FROM rewards WHERE user_id = ?
		ORDER BY awarded_at DESC, id DESC LIMIT ?
	`, user, limitOrDefault(limit, 20))
	if err != nil {
		return nil, persistence("reward history", err)
	}
	defer rows.Close()

	var records []core.RewardRecord
	for rows.Next() {
		var r core.RewardRecord
		err := rows.Scan(&r.ID, &r.UserID, &r.CompletionID, &r.Kind, &r.Label, &r.Value, &r.Roll, &r.AwardedAt)
		if err != nil {
			return nil, persistence("scan reward", err)
		}
		records = append(records, r)
	}
	return records, persistence("reward history", rows.Err())
}

// Inventory returns the items a user holds, by name
func (s *ProgressStore) Inventory(ctx context.Context, user core.UserID) ([]core.InventoryItem, error) {
	rows, err := s.db.conn.QueryContext(ctx, `
		SELECT user_id, item_name, quantity, acquired_at
		FROM inventory WHERE user_id = ? ORDER BY item_name ASC
	`, user)
	if err != nil {
		return nil, persistence("inventory", err)
	}
	defer rows.Close()

	var items []core.InventoryItem
	for rows.Next() {
		var it core.InventoryItem
		if err := rows.Scan(&it.UserID, &it.Name, &it.Quantity, &it.AcquiredAt); err != nil {
			return nil, persistence("scan item", err)
		}
		items = append(items, it)
	}
	return items, persistence("inventory", rows.Err())
}

// UseItem spends one of a user's items and returns how many are left. The
// row is removed when the last one is used.
func (s *ProgressStore) UseItem(ctx context.Context, user core.UserID, name string) (int, error) {
	var left int
	err := s.db.TransactionContext(ctx, func(tx *sql.Tx) error {
		var qty int
		err := tx.QueryRowContext(ctx,
			`SELECT quantity FROM inventory WHERE user_id = ? AND item_name = ?`, user, name).Scan(&qty)
		if err == sql.ErrNoRows || (err == nil && qty <= 0) {
			return fmt.Errorf("%w: %s holds no %q", core.ErrRecordNotFound, user, name)
		}
		if err != nil {
			return persistence("read item", err)
		}

		left = qty - 1
		if left == 0 {
			_, err = tx.ExecContext(ctx,
				`DELETE FROM inventory WHERE user_id = ? AND item_name = ?`, user, name)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE inventory SET quantity = ? WHERE user_id = ? AND item_name = ?`, left, user, name)
		}
		return persistence("use item", err)
	})
	if err != nil {
		return 0, err
	}
	return left, nil
}

// UserCount returns how many users have completed anything
func (s *ProgressStore) UserCount(ctx context.Context) (int, error) {
	var n int
	err := s.db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&n)
	return n, persistence("count users", err)
}

func limitOrDefault(limit, def int) int {
	if limit <= 0 {
		return def
	}
	return limit
}

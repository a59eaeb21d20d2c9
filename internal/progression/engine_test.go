package progression

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/rewards"
)

// memStore is an in-memory Store with the same uniqueness rule as SQLite.
type memStore struct {
	mu          sync.Mutex
	habits      map[core.HabitID]*core.HabitDefinition
	completions map[string]*core.CompletionEvent
	streaks     map[string]core.StreakState
	progress    map[core.UserID]core.UserProgress
	rewards     []core.RewardRecord
	items       map[string]int
	applyErr    error
	applies     int
}

func newMemStore(habits ...*core.HabitDefinition) *memStore {
	s := &memStore{
		habits:      make(map[core.HabitID]*core.HabitDefinition),
		completions: make(map[string]*core.CompletionEvent),
		streaks:     make(map[string]core.StreakState),
		progress:    make(map[core.UserID]core.UserProgress),
		items:       make(map[string]int),
	}
	for _, h := range habits {
		s.habits[h.ID] = h
	}
	return s
}

func completionKey(u core.UserID, h core.HabitID, d core.Day) string {
	return fmt.Sprintf("%s|%s|%s", u, h, d)
}

func (s *memStore) GetHabit(_ context.Context, id core.HabitID) (*core.HabitDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.habits[id]
	if !ok {
		return nil, core.ErrHabitNotFound
	}
	cp := *h
	return &cp, nil
}

func (s *memStore) GetCompletion(_ context.Context, u core.UserID, h core.HabitID, d core.Day) (*core.CompletionEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.completions[completionKey(u, h, d)]
	if !ok {
		return nil, nil
	}
	cp := *ev
	return &cp, nil
}

func (s *memStore) GetStreak(_ context.Context, u core.UserID, h core.HabitID) (*core.StreakState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streaks[string(u)+"|"+string(h)]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *memStore) GetProgress(_ context.Context, u core.UserID) (*core.UserProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.progress[u]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (s *memStore) Apply(_ context.Context, o *core.CompletionOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applyErr != nil {
		return s.applyErr
	}
	key := completionKey(o.Event.UserID, o.Event.HabitID, o.Event.Day)
	if _, ok := s.completions[key]; ok {
		return core.ErrDuplicateCompletion
	}
	ev := o.Event
	s.completions[key] = &ev
	s.streaks[string(o.Streak.UserID)+"|"+string(o.Streak.HabitID)] = o.Streak
	p := o.Progress
	prev := s.progress[p.UserID]
	p.TotalXP = prev.TotalXP + o.Event.XPAwarded
	p.Gold = prev.Gold + o.Event.GoldAwarded
	p.Level = LevelForXP(p.TotalXP)
	s.progress[p.UserID] = p
	o.Progress = p
	s.rewards = append(s.rewards, o.Rewards...)
	for _, it := range o.Items {
		s.items[string(it.UserID)+"|"+it.Name] += it.Quantity
	}
	s.applies++
	return nil
}

func (s *memStore) AmendCompletion(_ context.Context, id string, note string, count *int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ev := range s.completions {
		if ev.ID == id {
			ev.Note = note
			ev.Count = count
			return nil
		}
	}
	return core.ErrRecordNotFound
}

// lowRolls always draws 1 so no bonus tier applies.
type lowRolls struct{}

func (lowRolls) IntN(int) int { return 0 }

func testHabit() *core.HabitDefinition {
	return &core.HabitDefinition{
		ID:         "meditation",
		Name:       "meditation",
		BaseReward: 15,
		Category:   core.CategoryWellness,
		Scale:      core.ScaleDaily,
		Cadence:    "0 7 * * *",
		Timezone:   "UTC",
		Active:     true,
	}
}

func newTestEngine(store Store) *Engine {
	return NewEngine(store, rewards.NewRoller(rewards.DefaultConfig(), lowRolls{}), DefaultConfig(), nil)
}

func day(s string) core.Day {
	d, err := core.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func complete(t *testing.T, e *Engine, d string) *core.CompletionResult {
	t.Helper()
	res, err := e.Complete(context.Background(), core.CompletionRequest{
		UserID:  "alice",
		HabitID: "meditation",
		Day:     day(d),
		Source:  core.SourceCommand,
	})
	if err != nil {
		t.Fatalf("Complete(%s) error = %v", d, err)
	}
	return res
}

func TestCompleteEndToEndMilestone(t *testing.T) {
	store := newMemStore(testHabit())
	e := newTestEngine(store)

	first := complete(t, e, "2025-03-01")
	if first.Streak != 1 {
		t.Errorf("first streak = %d, want 1", first.Streak)
	}
	if first.Milestone != nil {
		t.Errorf("first completion milestone = %+v, want none", first.Milestone)
	}

	second := complete(t, e, "2025-03-02")
	if second.Milestone != nil {
		t.Errorf("second completion milestone = %+v, want none", second.Milestone)
	}

	third := complete(t, e, "2025-03-03")
	if third.Streak != 3 {
		t.Errorf("third streak = %d, want 3", third.Streak)
	}
	if third.Milestone == nil || third.Milestone.Days != 3 {
		t.Fatalf("third milestone = %+v, want 3-day", third.Milestone)
	}
	if third.MilestoneXP != 10 {
		t.Errorf("MilestoneXP = %d, want 10", third.MilestoneXP)
	}

	fourth := complete(t, e, "2025-03-04")
	if fourth.Milestone != nil {
		t.Errorf("fourth completion repeated milestone %+v", fourth.Milestone)
	}

	milestones := 0
	for _, r := range store.rewards {
		if r.Kind == core.RewardMilestone {
			milestones++
		}
	}
	if milestones != 1 {
		t.Errorf("milestone records = %d, want 1", milestones)
	}
}

func TestCompleteDuplicate(t *testing.T) {
	store := newMemStore(testHabit())
	e := newTestEngine(store)

	first := complete(t, e, "2025-03-01")

	_, err := e.Complete(context.Background(), core.CompletionRequest{
		UserID: "alice", HabitID: "meditation", Day: day("2025-03-01"),
	})
	if !errors.Is(err, core.ErrDuplicateCompletion) {
		t.Fatalf("second Complete error = %v, want ErrDuplicateCompletion", err)
	}
	var dup *core.DuplicateError
	if !errors.As(err, &dup) || dup.Existing == nil || dup.Existing.ID != first.Event.ID {
		t.Errorf("duplicate error does not carry the existing event: %v", err)
	}

	if store.applies != 1 {
		t.Errorf("applies = %d, want 1", store.applies)
	}
	if p := store.progress["alice"]; p.TotalXP != first.XPAwarded {
		t.Errorf("TotalXP = %d, want %d (single award)", p.TotalXP, first.XPAwarded)
	}
}

func TestCompleteAmend(t *testing.T) {
	habit := testHabit()
	habit.TracksCount = true
	store := newMemStore(habit)
	e := newTestEngine(store)

	first := complete(t, e, "2025-03-01")

	res, err := e.Complete(context.Background(), core.CompletionRequest{
		UserID: "alice", HabitID: "meditation", Day: day("2025-03-01"),
		Note: "did 25 breaths", Amend: true,
	})
	if err != nil {
		t.Fatalf("amend error = %v", err)
	}
	if !res.Amended {
		t.Error("Amended = false")
	}
	if res.Event.Count == nil || *res.Event.Count != 25 {
		t.Errorf("Count = %v, want 25", res.Event.Count)
	}

	ev, _ := store.GetCompletion(context.Background(), "alice", "meditation", day("2025-03-01"))
	if ev.Note != "did 25 breaths" {
		t.Errorf("stored note = %q", ev.Note)
	}
	if p := store.progress["alice"]; p.TotalXP != first.XPAwarded {
		t.Errorf("amend changed XP: %d, want %d", p.TotalXP, first.XPAwarded)
	}
}

func TestCompleteAmendKeepsCount(t *testing.T) {
	habit := testHabit()
	habit.TracksCount = true
	store := newMemStore(habit)
	e := newTestEngine(store)
	ctx := context.Background()

	if _, err := e.Complete(ctx, core.CompletionRequest{
		UserID: "alice", HabitID: "meditation", Day: day("2025-03-01"), Note: "did 40 breaths",
	}); err != nil {
		t.Fatalf("Complete error = %v", err)
	}

	res, err := e.Complete(ctx, core.CompletionRequest{
		UserID: "alice", HabitID: "meditation", Day: day("2025-03-01"),
		Note: "felt calm afterwards", Amend: true,
	})
	if err != nil {
		t.Fatalf("amend error = %v", err)
	}
	if res.Event.Count == nil || *res.Event.Count != 40 {
		t.Errorf("amended Count = %v, want 40", res.Event.Count)
	}
	ev, _ := store.GetCompletion(ctx, "alice", "meditation", day("2025-03-01"))
	if ev.Count == nil || *ev.Count != 40 {
		t.Errorf("stored Count = %v, want 40", ev.Count)
	}
	if ev.Note != "felt calm afterwards" {
		t.Errorf("stored note = %q", ev.Note)
	}
}

func TestCompleteRejectsFutureDay(t *testing.T) {
	store := newMemStore(testHabit())
	e := newTestEngine(store)
	clock := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	e.SetClock(func() time.Time { return clock })

	_, err := e.Complete(context.Background(), core.CompletionRequest{
		UserID: "alice", HabitID: "meditation", Day: day("2030-01-01"),
	})
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("future Complete error = %v, want ErrInvalidInput", err)
	}
	if store.applies != 0 {
		t.Errorf("applies = %d, want 0", store.applies)
	}

	for i, d := range []string{"2025-03-01", "2025-03-02", "2025-03-03", "2025-03-04"} {
		clock = time.Date(2025, 3, 1+i, 12, 0, 0, 0, time.UTC)
		res := complete(t, e, d)
		if res.Streak != i+1 {
			t.Errorf("%s streak = %d, want %d", d, res.Streak, i+1)
		}
		if d == "2025-03-03" && (res.Milestone == nil || res.Milestone.Days != 3) {
			t.Errorf("%s milestone = %+v, want 3-day", d, res.Milestone)
		}
	}
}

func TestStreakMonotonicity(t *testing.T) {
	store := newMemStore(testHabit())
	e := newTestEngine(store)

	start := day("2025-01-01")
	longest := 0
	for i := 0; i < 40; i++ {
		res := complete(t, e, start.AddDays(i).String())
		if res.Streak != i+1 {
			t.Fatalf("day %d streak = %d, want %d", i, res.Streak, i+1)
		}
		if res.LongestStreak < longest {
			t.Fatalf("longest decreased: %d -> %d", longest, res.LongestStreak)
		}
		longest = res.LongestStreak
	}
}

func TestGraceRecovery(t *testing.T) {
	tests := []struct {
		name       string
		grace      int
		days       []string
		wantStreak int
	}{
		{"one skipped day within grace", 1, []string{"2025-01-01", "2025-01-02", "2025-01-04"}, 3},
		{"two skipped days beyond grace", 1, []string{"2025-01-01", "2025-01-02", "2025-01-05"}, 1},
		{"no grace resets on any gap", 0, []string{"2025-01-01", "2025-01-03"}, 1},
		{"grace spent twice in a row resets", 1, []string{"2025-01-01", "2025-01-03", "2025-01-05"}, 1},
		{"grace refills after consecutive day", 1, []string{"2025-01-01", "2025-01-03", "2025-01-04", "2025-01-06"}, 4},
		{"wider grace covers longer gap", 2, []string{"2025-01-01", "2025-01-04"}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.GraceDays = tt.grace
			e := NewEngine(newMemStore(testHabit()), rewards.NewRoller(rewards.DefaultConfig(), lowRolls{}), cfg, nil)

			var last *core.CompletionResult
			for _, d := range tt.days {
				last = complete(t, e, d)
			}
			if last.Streak != tt.wantStreak {
				t.Errorf("streak = %d, want %d", last.Streak, tt.wantStreak)
			}
		})
	}
}

func TestMilestoneRepaysAfterReset(t *testing.T) {
	e := newTestEngine(newMemStore(testHabit()))

	for _, d := range []string{"2025-01-01", "2025-01-02", "2025-01-03"} {
		complete(t, e, d)
	}
	// Gap of four days breaks the streak.
	var hits int
	for _, d := range []string{"2025-01-08", "2025-01-09", "2025-01-10"} {
		if res := complete(t, e, d); res.Milestone != nil {
			hits++
		}
	}
	if hits != 1 {
		t.Errorf("milestones after reset = %d, want 1", hits)
	}
}

func TestAdvanceBackfillLeavesStreak(t *testing.T) {
	e := newTestEngine(newMemStore())
	prev := core.StreakState{Current: 5, Longest: 5, LastDay: day("2025-01-10"), GraceRemaining: 1, LastMilestone: 3}

	next, hit := e.Advance(prev, day("2025-01-07"))
	if next != prev {
		t.Errorf("Advance for earlier day = %+v, want unchanged %+v", next, prev)
	}
	if hit != nil {
		t.Errorf("milestone = %+v, want none", hit)
	}
}

func TestWeekMilestoneGrantsItem(t *testing.T) {
	store := newMemStore(testHabit())
	e := newTestEngine(store)

	start := day("2025-02-01")
	var seventh *core.CompletionResult
	for i := 0; i < 7; i++ {
		seventh = complete(t, e, start.AddDays(i).String())
	}
	if seventh.Milestone == nil || seventh.Milestone.Item != "Week Warrior Badge" {
		t.Fatalf("7th milestone = %+v", seventh.Milestone)
	}
	if store.items["alice|Week Warrior Badge"] != 1 {
		t.Errorf("inventory = %v", store.items)
	}
}

func TestBaseXP(t *testing.T) {
	e := newTestEngine(newMemStore())

	tests := []struct {
		name   string
		scale  core.Scale
		base   int
		streak int
		want   int
	}{
		{"daily first day", core.ScaleDaily, 20, 1, 21},
		{"daily five days", core.ScaleDaily, 20, 5, 25},
		{"capped", core.ScaleDaily, 20, 100, 30},
		{"weekly doubles", core.ScaleWeekly, 10, 1, 21},
		{"unknown scale uses 1", core.Scale("odd"), 10, 0, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &core.HabitDefinition{BaseReward: tt.base, Scale: tt.scale}
			if got := e.BaseXP(h, tt.streak); got != tt.want {
				t.Errorf("BaseXP = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestCompleteTotalsAndLevel(t *testing.T) {
	store := newMemStore(testHabit())
	e := newTestEngine(store)

	var total, gold int
	start := day("2025-05-01")
	for i := 0; i < 10; i++ {
		res := complete(t, e, start.AddDays(i).String())
		total += res.XPAwarded
		gold += res.GoldAwarded
		if res.TotalXP != total {
			t.Fatalf("TotalXP = %d, want %d", res.TotalXP, total)
		}
		if res.Level != LevelForXP(total) {
			t.Fatalf("Level = %d, want %d", res.Level, LevelForXP(total))
		}
		if res.GoldAwarded < res.BaseXP || res.GoldAwarded > 2*res.BaseXP+100 {
			t.Fatalf("GoldAwarded = %d outside expected range for base %d", res.GoldAwarded, res.BaseXP)
		}
	}
	p := store.progress["alice"]
	if p.TotalXP != total || p.Gold != gold {
		t.Errorf("stored progress = %+v, want xp=%d gold=%d", p, total, gold)
	}
}

func TestCompleteLevelUpFlag(t *testing.T) {
	store := newMemStore(testHabit())
	store.progress["alice"] = core.UserProgress{UserID: "alice", TotalXP: 95, Level: 1}
	e := newTestEngine(store)

	res := complete(t, e, "2025-01-01")
	if !res.LeveledUp || res.Level != 2 {
		t.Errorf("LeveledUp = %v Level = %d, want true 2", res.LeveledUp, res.Level)
	}
}

func TestCompletePersistenceFailureIsRetryable(t *testing.T) {
	store := newMemStore(testHabit())
	store.applyErr = fmt.Errorf("%w: database is locked", core.ErrPersistence)
	e := newTestEngine(store)

	_, err := e.Complete(context.Background(), core.CompletionRequest{UserID: "alice", HabitID: "meditation", Day: day("2025-01-01")})
	if !core.IsRetryable(err) {
		t.Fatalf("error = %v, want retryable", err)
	}
	if len(store.completions) != 0 || len(store.progress) != 0 {
		t.Error("failed completion left partial state")
	}

	store.applyErr = nil
	if _, err := e.Complete(context.Background(), core.CompletionRequest{UserID: "alice", HabitID: "meditation", Day: day("2025-01-01")}); err != nil {
		t.Errorf("retry error = %v", err)
	}
}

func TestCompleteRejects(t *testing.T) {
	inactive := testHabit()
	inactive.ID = "old"
	inactive.Active = false
	e := newTestEngine(newMemStore(testHabit(), inactive))

	tests := []struct {
		name string
		req  core.CompletionRequest
		want error
	}{
		{"missing user", core.CompletionRequest{HabitID: "meditation"}, core.ErrMissingRequired},
		{"unknown habit", core.CompletionRequest{UserID: "alice", HabitID: "nope"}, core.ErrHabitNotFound},
		{"inactive habit", core.CompletionRequest{UserID: "alice", HabitID: "old"}, core.ErrHabitInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Complete(context.Background(), tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCompleteDefaultsDayToHabitZone(t *testing.T) {
	habit := testHabit()
	habit.Timezone = "Asia/Tokyo"
	if _, err := time.LoadLocation(habit.Timezone); err != nil {
		t.Skip("tzdata unavailable")
	}
	e := newTestEngine(newMemStore(habit))
	// 20:00 UTC on Jan 1 is already Jan 2 in Tokyo.
	e.SetClock(func() time.Time { return time.Date(2025, 1, 1, 20, 0, 0, 0, time.UTC) })

	res, err := e.Complete(context.Background(), core.CompletionRequest{UserID: "alice", HabitID: "meditation"})
	if err != nil {
		t.Fatalf("Complete error = %v", err)
	}
	if got := res.Event.Day.String(); got != "2025-01-02" {
		t.Errorf("Day = %s, want 2025-01-02", got)
	}
}

func TestConcurrentSameDayCompletions(t *testing.T) {
	store := newMemStore(testHabit())
	e := newTestEngine(store)

	const n = 20
	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ok    int
		dupes int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			src := core.SourceCommand
			if i%2 == 0 {
				src = core.SourceReaction
			}
			_, err := e.Complete(context.Background(), core.CompletionRequest{
				UserID: "alice", HabitID: "meditation", Day: day("2025-06-01"), Source: src,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, core.ErrDuplicateCompletion):
				dupes++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if ok != 1 || dupes != n-1 {
		t.Errorf("ok = %d dupes = %d, want 1 and %d", ok, dupes, n-1)
	}
	if e.locks.size() != 0 {
		t.Errorf("lock table size = %d after completion, want 0", e.locks.size())
	}
}

func TestConfigValidate(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
	cfg := DefaultConfig()
	cfg.Milestones = append(cfg.Milestones, Milestone{Days: 3})
	if err := cfg.Validate(); !errors.Is(err, core.ErrInvalidInput) {
		t.Errorf("Validate duplicate milestone = %v", err)
	}
}

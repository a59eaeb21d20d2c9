package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/habits"
	"github.com/quantumlife/habits/internal/notifications"
	"github.com/quantumlife/habits/internal/parser"
	"github.com/quantumlife/habits/internal/progression"
	"github.com/quantumlife/habits/internal/rewards"
	"github.com/quantumlife/habits/internal/scheduler"
	"github.com/quantumlife/habits/internal/storage"
	"github.com/quantumlife/habits/internal/templates"
)

type testEnv struct {
	srv      *Server
	db       *storage.DB
	notifier *notifications.Service
	sched    *scheduler.Scheduler
}

// testServer creates a test server with in-memory database
func testServer(t *testing.T) *testEnv {
	t.Helper()

	db, err := storage.Open(storage.Config{InMemory: true})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	sched := scheduler.NewScheduler(scheduler.DefaultConfig(), func(context.Context, scheduler.Trigger) error { return nil }, nil)
	notifier := notifications.NewService(storage.NewDeliveryStore(db), "general", nil)
	svc := habits.NewService(parser.New(parser.DefaultConfig()), templates.NewResolver(templates.DefaultConfig()),
		db, sched, habits.Config{Timezone: "UTC", DefaultChannel: "general"}, nil)
	engine := progression.NewEngine(storage.NewProgressStore(db), rewards.NewSeeded(rewards.DefaultConfig(), 1),
		progression.DefaultConfig(), nil)

	srv := New(Config{
		Port:      0,
		DB:        db,
		Habits:    svc,
		Engine:    engine,
		Notifier:  notifier,
		Scheduler: sched,
	})
	t.Cleanup(srv.wsHub.Stop)

	return &testEnv{srv: srv, db: db, notifier: notifier, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", rr.Body.String(), err)
	}
	return v
}

func (e *testEnv) createHabit(t *testing.T, text string) core.HabitDefinition {
	t.Helper()
	rr := e.do(t, "POST", "/api/v1/habits", map[string]string{"text": text})
	if rr.Code != http.StatusCreated {
		t.Fatalf("create habit: status %d: %s", rr.Code, rr.Body.String())
	}
	return decode[core.HabitDefinition](t, rr)
}

// --- Health ---

func TestAPI_Health(t *testing.T) {
	e := testServer(t)
	e.createHabit(t, "walk daily")
	e.createHabit(t, "read daily")
	if rr := e.do(t, "POST", "/api/v1/completions", map[string]string{"user_id": "alice", "habit": "walk"}); rr.Code != http.StatusCreated {
		t.Fatalf("complete: status %d", rr.Code)
	}

	rr := e.do(t, "GET", "/health", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rr.Code)
	}
	health := decode[struct {
		Status string `json:"status"`
		Habits int    `json:"habits"`
		Users  int    `json:"users"`
	}](t, rr)
	if health.Status != "ok" || health.Habits != 2 || health.Users != 1 {
		t.Errorf("health = %+v, want ok with 2 habits and 1 user", health)
	}
}

// --- Habit Tests ---

func TestAPI_ParseHabit(t *testing.T) {
	e := testServer(t)

	rr := e.do(t, "POST", "/api/v1/habits/parse", map[string]string{
		"text": "add habit meditation 20 minutes daily at 7am for mindfulness",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	draft := decode[core.HabitDraft](t, rr)
	if draft.Name != "meditation" || draft.Cadence != "0 7 * * *" || draft.Category != core.CategoryWellness {
		t.Errorf("draft = %+v", draft)
	}

	rr = e.do(t, "POST", "/api/v1/habits/parse", map[string]string{"text": "add habit"})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("empty name: expected status 400, got %d", rr.Code)
	}
}

func TestAPI_CreateAndGetHabit(t *testing.T) {
	e := testServer(t)

	h := e.createHabit(t, "read 30 minutes daily at 9pm")
	if h.ID == "" || !h.Active {
		t.Fatalf("habit = %+v", h)
	}
	if _, ok := e.sched.Trigger(h.ID); !ok {
		t.Error("trigger not activated")
	}

	for _, ref := range []string{string(h.ID), "read"} {
		rr := e.do(t, "GET", "/api/v1/habits/"+ref, nil)
		if rr.Code != http.StatusOK {
			t.Errorf("GET %s: status %d", ref, rr.Code)
		}
	}

	rr := e.do(t, "GET", "/api/v1/habits", nil)
	list := decode[struct {
		Count int `json:"count"`
	}](t, rr)
	if list.Count != 1 {
		t.Errorf("count = %d, want 1", list.Count)
	}

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"duplicate", "POST", "/api/v1/habits", map[string]string{"text": "Read daily"}, http.StatusConflict},
		{"invalid json", "POST", "/api/v1/habits", "invalid", http.StatusBadRequest},
		{"empty text", "POST", "/api/v1/habits", map[string]string{"text": " "}, http.StatusBadRequest},
		{"unknown habit", "GET", "/api/v1/habits/nope", nil, http.StatusNotFound},
		{"unknown scale", "POST", "/api/v1/habits/template", map[string]string{"scale": "hourly", "name": "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, tt.method, tt.path, tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestAPI_CreateFromTemplate(t *testing.T) {
	e := testServer(t)

	rr := e.do(t, "POST", "/api/v1/habits/template", map[string]interface{}{
		"scale":     "monthly",
		"name":      "budget review",
		"overrides": map[string]int{"day_of_month": 15},
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	h := decode[core.HabitDefinition](t, rr)
	if h.Cadence != "0 9 15 * *" {
		t.Errorf("Cadence = %q, want 0 9 15 * *", h.Cadence)
	}

	rr = e.do(t, "GET", "/api/v1/templates", nil)
	tpls := decode[[]templates.Template](t, rr)
	if len(tpls) != 5 {
		t.Errorf("templates = %d, want 5", len(tpls))
	}
}

func TestAPI_RescheduleAndDeactivate(t *testing.T) {
	e := testServer(t)
	h := e.createHabit(t, "stretch daily at 8am")

	rr := e.do(t, "PUT", "/api/v1/habits/"+string(h.ID)+"/schedule", map[string]string{"schedule": "weekly on monday at 6pm"})
	if rr.Code != http.StatusOK {
		t.Fatalf("reschedule: status %d: %s", rr.Code, rr.Body.String())
	}
	got := decode[core.HabitDefinition](t, rr)
	if got.Cadence != "0 18 * * 1" || got.Scale != core.ScaleWeekly {
		t.Errorf("rescheduled = %s %s", got.Cadence, got.Scale)
	}

	rr = e.do(t, "DELETE", "/api/v1/habits/"+string(h.ID), nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("deactivate: status %d", rr.Code)
	}
	if _, ok := e.sched.Trigger(h.ID); ok {
		t.Error("trigger still scheduled")
	}

	rr = e.do(t, "PUT", "/api/v1/habits/"+string(h.ID)+"/schedule", map[string]string{"schedule": "daily"})
	if rr.Code != http.StatusConflict {
		t.Errorf("reschedule inactive: status %d, want 409", rr.Code)
	}
}

// --- Completion Tests ---

func TestAPI_CompleteAndProgress(t *testing.T) {
	e := testServer(t)
	h := e.createHabit(t, "meditation 20 minutes daily at 7am")

	body := map[string]interface{}{"user_id": "alice", "display_name": "Alice", "habit": "meditation"}
	rr := e.do(t, "POST", "/api/v1/completions", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("complete: status %d: %s", rr.Code, rr.Body.String())
	}
	res := decode[core.CompletionResult](t, rr)
	if res.Streak != 1 || res.XPAwarded <= 0 {
		t.Errorf("result = %+v", res)
	}
	if res.Event.Source != core.SourceAPI {
		t.Errorf("Source = %v, want api", res.Event.Source)
	}

	rr = e.do(t, "POST", "/api/v1/completions", body)
	if rr.Code != http.StatusConflict {
		t.Errorf("duplicate: status %d, want 409", rr.Code)
	}

	body["amend"] = true
	body["note"] = "felt great"
	rr = e.do(t, "POST", "/api/v1/completions", body)
	if rr.Code != http.StatusOK {
		t.Errorf("amend: status %d, want 200: %s", rr.Code, rr.Body.String())
	}

	rr = e.do(t, "GET", "/api/v1/users/alice/progress", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("progress: status %d", rr.Code)
	}
	p := decode[progressResponse](t, rr)
	if p.TotalXP != res.TotalXP || p.Level != progression.LevelForXP(p.TotalXP) {
		t.Errorf("progress = %+v, want total %d", p, res.TotalXP)
	}
	if p.XPToNextLevel != progression.XPToNextLevel(p.TotalXP) {
		t.Errorf("XPToNextLevel = %d", p.XPToNextLevel)
	}

	rr = e.do(t, "GET", "/api/v1/users/alice/streaks", nil)
	streaks := decode[struct {
		Streaks []core.StreakView `json:"streaks"`
	}](t, rr)
	if len(streaks.Streaks) != 1 || streaks.Streaks[0].HabitName != h.Name {
		t.Errorf("streaks = %+v", streaks.Streaks)
	}

	rr = e.do(t, "GET", "/api/v1/users/alice/today?day="+res.Event.Day.String(), nil)
	today := decode[struct {
		Done  int `json:"done"`
		Total int `json:"total"`
	}](t, rr)
	if today.Done != 1 || today.Total != 1 {
		t.Errorf("today = %+v, want 1/1", today)
	}

	rr = e.do(t, "GET", "/api/v1/users/alice/rewards", nil)
	rewardsResp := decode[struct {
		Count int `json:"count"`
	}](t, rr)
	if rewardsResp.Count == 0 {
		t.Error("expected reward history")
	}

	rr = e.do(t, "GET", "/api/v1/users/alice/inventory", nil)
	if rr.Code != http.StatusOK {
		t.Errorf("inventory: status %d", rr.Code)
	}

	rr = e.do(t, "GET", "/api/v1/habits/"+string(h.ID)+"/stats", nil)
	stats := decode[struct {
		Stats core.HabitStats `json:"stats"`
	}](t, rr)
	if stats.Stats.Completions != 1 {
		t.Errorf("stats completions = %d, want 1", stats.Stats.Completions)
	}
}

func TestAPI_CompleteErrors(t *testing.T) {
	e := testServer(t)
	e.createHabit(t, "walk daily")

	tests := []struct {
		name string
		body interface{}
		want int
	}{
		{"missing user", map[string]string{"habit": "walk"}, http.StatusBadRequest},
		{"missing habit", map[string]string{"user_id": "bob"}, http.StatusBadRequest},
		{"unknown habit", map[string]string{"user_id": "bob", "habit": "swim"}, http.StatusNotFound},
		{"bad day", `{"user_id":"bob","habit":"walk","day":"yesterday"}`, http.StatusBadRequest},
		{"future day", `{"user_id":"bob","habit":"walk","day":"2999-01-01"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, "POST", "/api/v1/completions", tt.body)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	rr := e.do(t, "GET", "/api/v1/users/nobody/progress", nil)
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown user: status %d, want 404", rr.Code)
	}
}

func TestAPI_UserCompletions(t *testing.T) {
	e := testServer(t)
	e.createHabit(t, "walk daily")
	e.createHabit(t, "read daily")
	for _, habit := range []string{"walk", "read"} {
		if rr := e.do(t, "POST", "/api/v1/completions", map[string]string{"user_id": "alice", "habit": habit}); rr.Code != http.StatusCreated {
			t.Fatalf("complete %s: status %d", habit, rr.Code)
		}
	}

	tests := []struct {
		name      string
		query     string
		wantCode  int
		wantCount int
	}{
		{"all habits", "", http.StatusOK, 2},
		{"one habit by name", "?habit=walk", http.StatusOK, 1},
		{"limit", "?limit=1", http.StatusOK, 1},
		{"unknown habit", "?habit=swim", http.StatusNotFound, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, "GET", "/api/v1/users/alice/completions"+tt.query, nil)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d: %s", rr.Code, tt.wantCode, rr.Body.String())
			}
			if tt.wantCode != http.StatusOK {
				return
			}
			list := decode[struct {
				Completions []core.CompletionEvent `json:"completions"`
				Count       int                    `json:"count"`
			}](t, rr)
			if list.Count != tt.wantCount || len(list.Completions) != tt.wantCount {
				t.Errorf("completions = %d, want %d", list.Count, tt.wantCount)
			}
		})
	}

	rr := e.do(t, "GET", "/api/v1/users/nobody/completions", nil)
	if list := decode[struct {
		Count int `json:"count"`
	}](t, rr); rr.Code != http.StatusOK || list.Count != 0 {
		t.Errorf("unknown user: status %d count %d, want 200 and 0", rr.Code, list.Count)
	}
}

func TestAPI_UseItem(t *testing.T) {
	e := testServer(t)
	h := e.createHabit(t, "walk daily")

	now := time.Now()
	today := core.DayIn(now, time.UTC)
	err := storage.NewProgressStore(e.db).Apply(context.Background(), &core.CompletionOutcome{
		Event: core.CompletionEvent{
			ID: "c1", UserID: "alice", HabitID: h.ID, Day: today, CompletedAt: now, Source: core.SourceAPI,
		},
		Streak:   core.StreakState{UserID: "alice", HabitID: h.ID, Current: 1, Longest: 1, LastDay: today},
		Progress: core.UserProgress{UserID: "alice"},
		Items:    []core.InventoryItem{{UserID: "alice", Name: "Lucky Charm", Quantity: 2, AcquiredAt: now}},
	})
	if err != nil {
		t.Fatalf("seed inventory: %v", err)
	}

	const path = "/api/v1/users/alice/inventory/Lucky%20Charm/use"
	for _, want := range []int{1, 0} {
		rr := e.do(t, "POST", path, nil)
		if rr.Code != http.StatusOK {
			t.Fatalf("use: status %d: %s", rr.Code, rr.Body.String())
		}
		got := decode[struct {
			Item      string `json:"item"`
			Remaining int    `json:"remaining"`
		}](t, rr)
		if got.Item != "Lucky Charm" || got.Remaining != want {
			t.Errorf("use = %+v, want Lucky Charm with %d left", got, want)
		}
	}

	if rr := e.do(t, "POST", path, nil); rr.Code != http.StatusNotFound {
		t.Errorf("use with none left: status %d, want 404", rr.Code)
	}

	rr := e.do(t, "GET", "/api/v1/users/alice/inventory", nil)
	if inv := decode[struct {
		Count int `json:"count"`
	}](t, rr); inv.Count != 0 {
		t.Errorf("inventory count = %d, want 0", inv.Count)
	}
}

func TestAPI_SetChannel(t *testing.T) {
	e := testServer(t)
	h := e.createHabit(t, "stretch daily at 8am")

	rr := e.do(t, "PUT", "/api/v1/habits/stretch/channel", map[string]string{"channel": "fitness"})
	if rr.Code != http.StatusOK {
		t.Fatalf("set channel: status %d: %s", rr.Code, rr.Body.String())
	}
	if got := decode[core.HabitDefinition](t, rr); got.Channel != "fitness" {
		t.Errorf("Channel = %q, want fitness", got.Channel)
	}
	if tr, ok := e.sched.Trigger(h.ID); !ok || tr.Channel != "fitness" {
		t.Errorf("trigger = %+v, %v; want channel fitness", tr, ok)
	}

	tests := []struct {
		name string
		path string
		body map[string]string
		want int
	}{
		{"empty channel", "/api/v1/habits/stretch/channel", map[string]string{"channel": " "}, http.StatusBadRequest},
		{"unknown habit", "/api/v1/habits/swim/channel", map[string]string{"channel": "fitness"}, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rr := e.do(t, "PUT", tt.path, tt.body); rr.Code != tt.want {
				t.Errorf("status = %d, want %d", rr.Code, tt.want)
			}
		})
	}
}

func TestAPI_Leaderboard(t *testing.T) {
	e := testServer(t)
	e.createHabit(t, "journal daily")
	for _, user := range []string{"alice", "bob"} {
		rr := e.do(t, "POST", "/api/v1/completions", map[string]string{"user_id": user, "habit": "journal"})
		if rr.Code != http.StatusCreated {
			t.Fatalf("complete %s: %d", user, rr.Code)
		}
	}

	for _, by := range []string{"", "xp", "gold", "level"} {
		rr := e.do(t, "GET", "/api/v1/leaderboard?by="+by, nil)
		board := decode[struct {
			Entries []core.LeaderboardEntry `json:"entries"`
		}](t, rr)
		if len(board.Entries) != 2 {
			t.Errorf("by=%q: entries = %d, want 2", by, len(board.Entries))
		}
		if len(board.Entries) > 0 && board.Entries[0].Rank != 1 {
			t.Errorf("by=%q: first rank = %d", by, board.Entries[0].Rank)
		}
	}

	rr := e.do(t, "GET", "/api/v1/leaderboard?by=streak", nil)
	streaks := decode[struct {
		Streaks []core.StreakView `json:"streaks"`
	}](t, rr)
	if len(streaks.Streaks) != 2 {
		t.Errorf("streak board = %d, want 2", len(streaks.Streaks))
	}

	rr = e.do(t, "GET", "/api/v1/leaderboard?by=charisma", nil)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("unknown order: status %d, want 400", rr.Code)
	}
}

// --- Notification Tests ---

func TestAPI_Reactions(t *testing.T) {
	e := testServer(t)
	go e.srv.wsHub.Run()

	got := make(chan core.Reaction, 1)
	e.notifier.OnReactionAdded(func(_ context.Context, _ core.Delivery, r core.Reaction) {
		got <- r
	})

	rr := e.do(t, "POST", "/api/v1/notifications", map[string]string{"title": "hello"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("post: status %d: %s", rr.Code, rr.Body.String())
	}
	id := decode[map[string]string](t, rr)["id"]

	rr = e.do(t, "POST", "/api/v1/deliveries/"+id+"/reactions", map[string]string{"user_id": "alice", "emoji": "✅"})
	if rr.Code != http.StatusAccepted {
		t.Fatalf("reaction: status %d: %s", rr.Code, rr.Body.String())
	}
	select {
	case r := <-got:
		if r.DeliveryID != id || r.UserID != "alice" {
			t.Errorf("reaction = %+v", r)
		}
	case <-time.After(time.Second):
		t.Fatal("reaction handler not called")
	}

	rr = e.do(t, "POST", "/api/v1/reactions", map[string]string{"delivery_id": "unknown", "user_id": "alice", "emoji": "✅"})
	if rr.Code != http.StatusAccepted {
		t.Errorf("unknown delivery: status %d, want 202", rr.Code)
	}
	rr = e.do(t, "POST", "/api/v1/reactions", map[string]string{"delivery_id": id})
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing fields: status %d, want 400", rr.Code)
	}

	rr = e.do(t, "GET", "/api/v1/deliveries", nil)
	list := decode[struct {
		Count int `json:"count"`
	}](t, rr)
	if list.Count != 1 {
		t.Errorf("deliveries = %d, want 1", list.Count)
	}
}

func TestAPI_WebSocket(t *testing.T) {
	e := testServer(t)
	go e.srv.wsHub.Run()

	ts := httptest.NewServer(e.srv.Handler())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for e.srv.wsHub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	id, err := e.notifier.Post(context.Background(), notifications.PostRequest{
		Type:  notifications.NotifyReminder,
		Title: "🌱 Habit Reminder",
		Body:  "Time for Stretch!",
	})
	if err != nil {
		t.Fatalf("Post() error = %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg notifications.WebSocketMessage
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "reminder" || msg.Payload.ID != id {
		t.Errorf("message = %+v", msg)
	}

	got := make(chan core.Reaction, 1)
	e.notifier.OnReactionAdded(func(_ context.Context, _ core.Delivery, r core.Reaction) {
		got <- r
	})
	err = conn.WriteJSON(map[string]interface{}{
		"type":     "reaction",
		"reaction": map[string]string{"delivery_id": id, "user_id": "bob", "emoji": "✅"},
	})
	if err != nil {
		t.Fatal(err)
	}
	select {
	case r := <-got:
		if r.UserID != "bob" {
			t.Errorf("reaction user = %v", r.UserID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("websocket reaction not dispatched")
	}
}

func TestWebSocketHub_SendWithoutClients(t *testing.T) {
	hub := NewWebSocketHub(nil, nil)
	go hub.Run()
	defer hub.Stop()

	// Should not block or fail with no clients
	for i := 0; i < 3; i++ {
		if err := hub.Send(notifications.Notification{ID: fmt.Sprint(i), Type: notifications.NotifySystem}); err != nil {
			t.Errorf("Send() error = %v", err)
		}
	}
	if hub.ID() != "websocket" {
		t.Errorf("ID() = %q", hub.ID())
	}
}

// --- Scheduler Tests ---

func TestAPI_SchedulerStats(t *testing.T) {
	e := testServer(t)
	e.createHabit(t, "floss daily at 10pm")

	rr := e.do(t, "GET", "/api/v1/scheduler/stats", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	stats := decode[scheduler.Stats](t, rr)
	if stats.Triggers != 1 {
		t.Errorf("Triggers = %d, want 1", stats.Triggers)
	}

	rr = e.do(t, "GET", "/api/v1/scheduler/triggers", nil)
	list := decode[struct {
		Count int `json:"count"`
	}](t, rr)
	if list.Count != 1 {
		t.Errorf("trigger count = %d, want 1", list.Count)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&core.ParseError{Reason: core.ReasonEmptyName}, http.StatusBadRequest},
		{core.ErrInvalidOverride, http.StatusBadRequest},
		{fmt.Errorf("wrap: %w", core.ErrHabitNotFound), http.StatusNotFound},
		{&core.DuplicateError{}, http.StatusConflict},
		{core.ErrHabitExists, http.StatusConflict},
		{core.ErrDelivery, http.StatusBadGateway},
		{core.ErrPersistence, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/progression"
	"github.com/quantumlife/habits/internal/storage"
)

type completionRequest struct {
	UserID      core.UserID `json:"user_id"`
	DisplayName string      `json:"display_name,omitempty"`

	// Habit is an ID or the name of an active habit
	Habit  string    `json:"habit"`
	Day    core.Day  `json:"day"`
	Note   string    `json:"note,omitempty"`
	Count  *int      `json:"count,omitempty"`
	Amend  bool      `json:"amend,omitempty"`
	At     time.Time `json:"at"`
	Silent bool      `json:"silent,omitempty"`
}

type progressResponse struct {
	core.UserProgress
	XPToNextLevel int `json:"xp_to_next_level"`
	NextLevelAt   int `json:"next_level_at"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	var req completionRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	if req.UserID == "" || strings.TrimSpace(req.Habit) == "" {
		respondError(w, http.StatusBadRequest, "user_id and habit required")
		return
	}

	h, err := s.habits.Find(r.Context(), req.Habit)
	if err != nil {
		respondErr(w, err)
		return
	}
	res, err := s.engine.Complete(r.Context(), core.CompletionRequest{
		UserID:      req.UserID,
		DisplayName: req.DisplayName,
		HabitID:     h.ID,
		Day:         req.Day,
		At:          req.At,
		Note:        req.Note,
		Count:       req.Count,
		Source:      core.SourceAPI,
		Amend:       req.Amend,
	})
	if err != nil {
		respondErr(w, err)
		return
	}

	if s.announcer != nil && !req.Silent && !res.Amended {
		who := req.DisplayName
		if who == "" {
			who = string(req.UserID)
		}
		s.announcer.Announce(r.Context(), h.Channel, h.Name, who, res)
	}

	status := http.StatusCreated
	if res.Amended {
		status = http.StatusOK
	}
	respondJSON(w, status, res)
}

func (s *Server) handleUserProgress(w http.ResponseWriter, r *http.Request) {
	user := core.UserID(chi.URLParam(r, "userID"))
	p, err := s.progress.GetProgress(r.Context(), user)
	if err != nil {
		respondErr(w, err)
		return
	}
	if p == nil {
		respondError(w, http.StatusNotFound, core.ErrUserNotFound.Error())
		return
	}
	respondJSON(w, http.StatusOK, progressResponse{
		UserProgress:  *p,
		XPToNextLevel: progression.XPToNextLevel(p.TotalXP),
		NextLevelAt:   progression.XPForLevel(p.Level + 1),
	})
}

func (s *Server) handleUserStreaks(w http.ResponseWriter, r *http.Request) {
	streaks, err := s.progress.Streaks(r.Context(), core.UserID(chi.URLParam(r, "userID")))
	if err != nil {
		respondErr(w, err)
		return
	}
	if streaks == nil {
		streaks = []core.StreakView{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"streaks": streaks,
		"count":   len(streaks),
	})
}

// handleUserToday lists every active habit with whether the user finished it
// on ?day=YYYY-MM-DD, default today in the server's zone.
func (s *Server) handleUserToday(w http.ResponseWriter, r *http.Request) {
	day := core.DayIn(time.Now(), s.timezone)
	if d := r.URL.Query().Get("day"); d != "" {
		parsed, err := core.ParseDay(d)
		if err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		day = parsed
	}

	statuses, err := s.progress.DayProgress(r.Context(), core.UserID(chi.URLParam(r, "userID")), day)
	if err != nil {
		respondErr(w, err)
		return
	}
	done := 0
	for _, st := range statuses {
		if st.Done {
			done++
		}
	}
	if statuses == nil {
		statuses = []core.DayStatus{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"day":    day,
		"habits": statuses,
		"done":   done,
		"total":  len(statuses),
	})
}

func (s *Server) handleUserRewards(w http.ResponseWriter, r *http.Request) {
	records, err := s.progress.RewardHistory(r.Context(), core.UserID(chi.URLParam(r, "userID")), queryLimit(r, 20))
	if err != nil {
		respondErr(w, err)
		return
	}
	if records == nil {
		records = []core.RewardRecord{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rewards": records,
		"count":   len(records),
	})
}

func (s *Server) handleUserInventory(w http.ResponseWriter, r *http.Request) {
	items, err := s.progress.Inventory(r.Context(), core.UserID(chi.URLParam(r, "userID")))
	if err != nil {
		respondErr(w, err)
		return
	}
	if items == nil {
		items = []core.InventoryItem{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// handleUserCompletions lists a user's completions, newest first. ?habit
// narrows it to one habit by ID or name.
func (s *Server) handleUserCompletions(w http.ResponseWriter, r *http.Request) {
	var habitID core.HabitID
	if q := r.URL.Query().Get("habit"); q != "" {
		h, err := s.habits.Find(r.Context(), q)
		if err != nil {
			respondErr(w, err)
			return
		}
		habitID = h.ID
	}
	events, err := s.progress.ListCompletions(r.Context(), core.UserID(chi.URLParam(r, "userID")), habitID, queryLimit(r, 50))
	if err != nil {
		respondErr(w, err)
		return
	}
	if events == nil {
		events = []*core.CompletionEvent{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"completions": events,
		"count":       len(events),
	})
}

func (s *Server) handleUseItem(w http.ResponseWriter, r *http.Request) {
	user := core.UserID(chi.URLParam(r, "userID"))
	item := chi.URLParam(r, "item")
	left, err := s.progress.UseItem(r.Context(), user, item)
	if err != nil {
		respondErr(w, err)
		return
	}
	s.logger.WithFields(map[string]interface{}{
		"user": user,
		"item": item,
		"left": left,
	}).Info("Item used")
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"item":      item,
		"remaining": left,
	})
}

// handleLeaderboard ranks users by ?by=xp|gold|level|streak.
func (s *Server) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	by := r.URL.Query().Get("by")
	limit := queryLimit(r, 10)

	if by == "streak" {
		views, err := s.progress.StreakLeaderboard(r.Context(), limit)
		if err != nil {
			respondErr(w, err)
			return
		}
		if views == nil {
			views = []core.StreakView{}
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"by": by, "streaks": views})
		return
	}

	if by == "" {
		by = string(storage.ByXP)
	}
	entries, err := s.progress.Leaderboard(r.Context(), storage.LeaderboardOrder(by), limit)
	if err != nil {
		respondErr(w, err)
		return
	}
	if entries == nil {
		entries = []core.LeaderboardEntry{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"by": by, "entries": entries})
}

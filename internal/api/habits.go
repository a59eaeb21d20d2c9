package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/habits"
)

type parseRequest struct {
	Text string `json:"text"`
}

type createHabitRequest struct {
	Text string `json:"text"`
	habits.CreateOptions
}

type scheduleRequest struct {
	Schedule string `json:"schedule"`
}

func (s *Server) handleParseHabit(w http.ResponseWriter, r *http.Request) {
	var req parseRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	draft, err := s.habits.Preview(req.Text)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, draft)
}

func (s *Server) handleCreateHabit(w http.ResponseWriter, r *http.Request) {
	var req createHabitRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		respondError(w, http.StatusBadRequest, "text required")
		return
	}
	h, err := s.habits.CreateFromText(r.Context(), req.Text, req.CreateOptions)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, h)
}

func (s *Server) handleCreateFromTemplate(w http.ResponseWriter, r *http.Request) {
	var req habits.TemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		respondError(w, http.StatusBadRequest, "name required")
		return
	}
	h, err := s.habits.CreateFromTemplate(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, h)
}

func (s *Server) handleListHabits(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("all") != "true"
	list, err := s.habits.List(r.Context(), activeOnly)
	if err != nil {
		respondErr(w, err)
		return
	}
	if list == nil {
		list = []*core.HabitDefinition{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"habits": list,
		"count":  len(list),
	})
}

func (s *Server) handleGetHabit(w http.ResponseWriter, r *http.Request) {
	h, err := s.habits.Find(r.Context(), chi.URLParam(r, "habitID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h)
}

func (s *Server) handleHabitStats(w http.ResponseWriter, r *http.Request) {
	h, err := s.habits.Find(r.Context(), chi.URLParam(r, "habitID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	stats, err := s.habits.Stats(r.Context(), h.ID)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"habit": h,
		"stats": stats,
	})
}

func (s *Server) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	if strings.TrimSpace(req.Schedule) == "" {
		respondError(w, http.StatusBadRequest, "schedule required")
		return
	}
	h, err := s.habits.Reschedule(r.Context(), core.HabitID(chi.URLParam(r, "habitID")), req.Schedule)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h)
}

type channelRequest struct {
	Channel string `json:"channel"`
}

func (s *Server) handleSetChannel(w http.ResponseWriter, r *http.Request) {
	var req channelRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}
	h, err := s.habits.Find(r.Context(), chi.URLParam(r, "habitID"))
	if err != nil {
		respondErr(w, err)
		return
	}
	h, err = s.habits.SetChannel(r.Context(), h.ID, req.Channel)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, h)
}

func (s *Server) handleDeactivateHabit(w http.ResponseWriter, r *http.Request) {
	if err := s.habits.Deactivate(r.Context(), core.HabitID(chi.URLParam(r, "habitID"))); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "habit deactivated"})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.habits.Templates())
}

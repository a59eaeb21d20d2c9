package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/quantumlife/habits/internal/core"
	"github.com/quantumlife/habits/internal/notifications"
)

// NotificationsAPI handles delivery and reaction endpoints
type NotificationsAPI struct {
	service *notifications.Service
}

// NewNotificationsAPI creates a new notifications API
func NewNotificationsAPI(service *notifications.Service) *NotificationsAPI {
	return &NotificationsAPI{service: service}
}

// handleGetDeliveries returns the most recent posted messages
func (api *NotificationsAPI) handleGetDeliveries(w http.ResponseWriter, r *http.Request) {
	list, err := api.service.Recent(r.Context(), queryLimit(r, 50))
	if err != nil {
		respondErr(w, err)
		return
	}
	if list == nil {
		list = []*core.Delivery{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"deliveries": list,
		"count":      len(list),
	})
}

// handleCreateNotification posts a message (for testing/admin)
func (api *NotificationsAPI) handleCreateNotification(w http.ResponseWriter, r *http.Request) {
	var req notifications.PostRequest
	if err := decodeJSON(r, &req); err != nil {
		respondErr(w, err)
		return
	}

	if req.Title == "" {
		respondError(w, http.StatusBadRequest, "title required")
		return
	}
	if req.Type == "" {
		req.Type = notifications.NotifySystem
	}

	id, err := api.service.Post(r.Context(), req)
	if err != nil {
		respondErr(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, map[string]string{"id": id})
}

// handleAddReaction records a reaction from a chat transport. Reactions on
// unknown deliveries are accepted and ignored.
func (api *NotificationsAPI) handleAddReaction(w http.ResponseWriter, r *http.Request) {
	var reaction core.Reaction
	if err := decodeJSON(r, &reaction); err != nil {
		respondErr(w, err)
		return
	}
	if id := chi.URLParam(r, "id"); id != "" {
		reaction.DeliveryID = id
	}

	if err := api.service.HandleReaction(r.Context(), reaction); err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"message": "reaction accepted"})
}

// handleGetSubscribers lists connected subscriber IDs
func (api *NotificationsAPI) handleGetSubscribers(w http.ResponseWriter, r *http.Request) {
	subs := api.service.Subscribers()
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"subscribers": subs,
		"count":       len(subs),
	})
}

// RegisterRoutes registers notification routes
func (api *NotificationsAPI) RegisterRoutes(r chi.Router) {
	r.Get("/deliveries", api.handleGetDeliveries)
	r.Post("/notifications", api.handleCreateNotification)
	r.Get("/notifications/subscribers", api.handleGetSubscribers)
	r.Post("/reactions", api.handleAddReaction)
	r.Post("/deliveries/{id}/reactions", api.handleAddReaction)
}

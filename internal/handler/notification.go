package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/notification"
)

type NotificationHandler struct {
	store *notification.Store
}

func NewNotificationHandler(store *notification.Store) *NotificationHandler {
	return &NotificationHandler{store: store}
}

func (h *NotificationHandler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	list, err := h.store.List(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "ListNotifications", err)
		return
	}
	unread := 0
	for _, n := range list {
		if !n.IsRead {
			unread++
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"notifications": list, "unread": unread})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if err := h.store.MarkRead(r.Context(), chi.URLParam(r, "id"), userID); err != nil {
		writeServiceError(w, "MarkNotificationRead", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	n, err := h.store.MarkAllRead(r.Context(), userID)
	if err != nil {
		writeServiceError(w, "MarkAllNotificationsRead", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

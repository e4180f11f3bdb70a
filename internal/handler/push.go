package handler

import (
	"net/http"
	"strings"

	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/push"
)

// PushHandler обрабатывает подписку браузера на пуш-уведомления об упоминаниях.
type PushHandler struct {
	svc *push.Service
}

// NewPushHandler создаёт обработчик push.
func NewPushHandler(svc *push.Service) *PushHandler {
	return &PushHandler{svc: svc}
}

// SubscribeRequest: тело от фронта (subscription из PushManager.getSubscription()).
type SubscribeRequest struct {
	Subscription push.Subscription `json:"subscription"`
}

// Subscribe сохраняет подписку для текущего пользователя.
func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req SubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := h.svc.Subscribe(r.Context(), userID, req.Subscription); err != nil {
		writeServiceError(w, "PushSubscribe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UnsubscribeRequest: тело для отписки по endpoint.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint"`
}

// Unsubscribe удаляет подписку.
func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req UnsubscribeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Endpoint) == "" {
		writeError(w, http.StatusBadRequest, "endpoint required")
		return
	}
	if err := h.svc.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		writeServiceError(w, "PushUnsubscribe", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/teamchat/internal/chat"
	"github.com/teamchat/internal/middleware"
	"github.com/teamchat/internal/readstate"
)

const maxUnreadTeams = 50

type ReadHandler struct {
	chat    *chat.Service
	tracker *readstate.Tracker
}

func NewReadHandler(chatSvc *chat.Service, tracker *readstate.Tracker) *ReadHandler {
	return &ReadHandler{chat: chatSvc, tracker: tracker}
}

// MarkRead переносит позицию чтения пользователя в команде на серверное «сейчас».
func (h *ReadHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	teamID := chi.URLParam(r, "teamId")
	userID := middleware.GetUserID(r.Context())

	if err := h.chat.Authorize(r.Context(), teamID, userID); err != nil {
		writeServiceError(w, "MarkRead", err)
		return
	}
	pos, err := h.tracker.MarkRead(r.Context(), userID, teamID)
	if err != nil {
		writeServiceError(w, "MarkRead", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// GetUnread делает разовый подсчёт непрочитанного по ?teams=a,b. Живая карта идёт через /ws.
func (h *ReadHandler) GetUnread(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	teams := splitList(r.URL.Query().Get("teams"))
	if len(teams) == 0 {
		writeError(w, http.StatusBadRequest, "teams required")
		return
	}
	if len(teams) > maxUnreadTeams {
		writeError(w, http.StatusBadRequest, "too many teams")
		return
	}

	counts := make(map[string]int, len(teams))
	for _, teamID := range teams {
		messages, err := h.chat.History(r.Context(), teamID, userID)
		if err != nil {
			writeServiceError(w, "GetUnread", err)
			return
		}
		n, err := h.tracker.ComputeUnread(r.Context(), userID, teamID, messages)
		if err != nil {
			writeServiceError(w, "GetUnread", err)
			return
		}
		counts[teamID] = n
	}
	writeJSON(w, http.StatusOK, counts)
}

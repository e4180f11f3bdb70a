package handler

import (
	"net/http"

	"github.com/teamchat/internal/directory"
	"github.com/teamchat/internal/middleware"
)

type TeamHandler struct {
	teams directory.TeamLister
}

func NewTeamHandler(teams directory.TeamLister) *TeamHandler {
	return &TeamHandler{teams: teams}
}

// GetMyTeams: команды текущего пользователя (для subscribe_unread).
func (h *TeamHandler) GetMyTeams(w http.ResponseWriter, r *http.Request) {
	teams, err := h.teams.GetUserTeams(r.Context(), middleware.GetUserID(r.Context()))
	if err != nil {
		writeServiceError(w, "GetMyTeams", err)
		return
	}
	writeJSON(w, http.StatusOK, teams)
}

// Package directory describes the team directory collaborator: who is an active member of a team.
package directory

import (
	"context"
	"errors"

	"github.com/teamchat/internal/model"
)

var ErrTeamNotFound = errors.New("team not found")

// Directory is read-only. Results are point-in-time snapshots; callers that authorize
// must query at call time instead of trusting a cached roster.
type Directory interface {
	GetActiveMembers(ctx context.Context, teamID string) ([]model.RosterEntry, error)
	GetTeam(ctx context.Context, teamID string) (model.Team, error)
}

// TeamLister lists the teams a user actively belongs to.
type TeamLister interface {
	GetUserTeams(ctx context.Context, userID string) ([]model.Team, error)
}

// IsActiveMember checks membership against a fresh roster read.
func IsActiveMember(ctx context.Context, d Directory, teamID, userID string) (model.RosterEntry, bool, error) {
	roster, err := d.GetActiveMembers(ctx, teamID)
	if err != nil {
		return model.RosterEntry{}, false, err
	}
	e, ok := model.FindMember(model.ActiveOnly(roster), userID)
	return e, ok, nil
}

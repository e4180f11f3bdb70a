package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/teamchat/internal/model"
)

type DirectoryMock struct {
	mock.Mock
}

func (m *DirectoryMock) GetActiveMembers(ctx context.Context, teamID string) ([]model.RosterEntry, error) {
	args := m.Called(ctx, teamID)
	var roster []model.RosterEntry
	if val := args.Get(0); val != nil {
		roster = val.([]model.RosterEntry)
	}
	return roster, args.Error(1)
}

func (m *DirectoryMock) GetTeam(ctx context.Context, teamID string) (model.Team, error) {
	args := m.Called(ctx, teamID)
	var team model.Team
	if val := args.Get(0); val != nil {
		team = val.(model.Team)
	}
	return team, args.Error(1)
}

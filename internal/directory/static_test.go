package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/internal/model"
)

const sample = `
teams:
  - id: core
    name: Core Team
    members:
      - {user_id: u1, user_name: Alice Smith, user_email: alice@example.com, is_active: true}
      - {user_id: u2, user_name: Bob, user_email: bob@example.com, is_active: false}
  - id: ops
    name: Ops
    members:
      - {user_id: u2, user_name: Bob, user_email: bob@example.com, is_active: true}
`

type recordingWriter struct {
	teams   []string
	members []string
}

func (w *recordingWriter) CreateTeam(ctx context.Context, t model.Team) error {
	w.teams = append(w.teams, t.ID)
	return nil
}

func (w *recordingWriter) UpsertMember(ctx context.Context, teamID string, e model.RosterEntry) error {
	w.members = append(w.members, teamID+"/"+e.UserID)
	return nil
}

func TestStaticFileRoster(t *testing.T) {
	s, err := ParseStatic([]byte(sample))
	require.NoError(t, err)
	ctx := context.Background()

	roster, err := s.GetActiveMembers(ctx, "core")
	require.NoError(t, err)
	require.Len(t, roster, 1)
	assert.Equal(t, "u1", roster[0].UserID)

	team, err := s.GetTeam(ctx, "ops")
	require.NoError(t, err)
	assert.Equal(t, "Ops", team.Name)

	_, err = s.GetTeam(ctx, "nope")
	assert.ErrorIs(t, err, ErrTeamNotFound)
	_, err = s.GetActiveMembers(ctx, "nope")
	assert.ErrorIs(t, err, ErrTeamNotFound)

	assert.Equal(t, []string{"ops"}, s.TeamsOf("u2"))
	mine, err := s.GetUserTeams(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, []model.Team{{ID: "core", Name: "Core Team"}}, mine)
	assert.Equal(t, []model.Team{{ID: "core", Name: "Core Team"}, {ID: "ops", Name: "Ops"}}, s.Teams())
}

func TestIsActiveMember(t *testing.T) {
	s, err := ParseStatic([]byte(sample))
	require.NoError(t, err)

	e, ok, err := IsActiveMember(context.Background(), s, "core", "u1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Alice Smith", e.UserName)

	_, ok, err = IsActiveMember(context.Background(), s, "core", "u2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSeedCopiesInactiveMembers(t *testing.T) {
	s, err := ParseStatic([]byte(sample))
	require.NoError(t, err)
	w := &recordingWriter{}

	require.NoError(t, s.Seed(context.Background(), w))
	assert.Equal(t, []string{"core", "ops"}, w.teams)
	assert.Equal(t, []string{"core/u1", "core/u2", "ops/u2"}, w.members)
}

func TestParseStaticRejectsTeamWithoutID(t *testing.T) {
	_, err := ParseStatic([]byte("teams:\n  - name: x\n"))
	assert.Error(t, err)
}

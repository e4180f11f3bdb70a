package directory

import (
	"context"
	"fmt"
	"os"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/teamchat/internal/model"
)

// StaticFile is a team directory loaded from YAML; used in -dev and by the desk client
// when no directory database is reachable.
//
//	teams:
//	  - id: core
//	    name: Core Team
//	    members:
//	      - {user_id: u1, user_name: Alice Smith, user_email: alice@example.com, is_active: true}
type StaticFile struct {
	mu    sync.RWMutex
	teams map[string]staticTeam
	order []string
}

type staticTeam struct {
	model.Team `yaml:",inline"`
	Members    []model.RosterEntry `yaml:"members"`
}

type staticFile struct {
	Teams []staticTeam `yaml:"teams"`
}

// LoadStaticFile reads and parses a YAML directory file.
func LoadStaticFile(path string) (*StaticFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("directory: read %s: %w", path, err)
	}
	return ParseStatic(data)
}

// ParseStatic parses YAML directory content.
func ParseStatic(data []byte) (*StaticFile, error) {
	var f staticFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("directory: parse: %w", err)
	}
	s := &StaticFile{teams: make(map[string]staticTeam, len(f.Teams))}
	for _, t := range f.Teams {
		if t.ID == "" {
			return nil, fmt.Errorf("directory: team without id")
		}
		s.teams[t.ID] = t
		s.order = append(s.order, t.ID)
	}
	return s, nil
}

func (s *StaticFile) GetActiveMembers(ctx context.Context, teamID string) ([]model.RosterEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[teamID]
	if !ok {
		return nil, ErrTeamNotFound
	}
	return model.ActiveOnly(t.Members), nil
}

func (s *StaticFile) GetTeam(ctx context.Context, teamID string) (model.Team, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.teams[teamID]
	if !ok {
		return model.Team{}, ErrTeamNotFound
	}
	return t.Team, nil
}

// TeamsOf lists team ids where userID is an active member, in file order.
func (s *StaticFile) TeamsOf(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for _, id := range s.order {
		if _, ok := model.FindMember(model.ActiveOnly(s.teams[id].Members), userID); ok {
			out = append(out, id)
		}
	}
	return out
}

// Teams lists teams in file order.
func (s *StaticFile) Teams() []model.Team {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Team, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.teams[id].Team)
	}
	return out
}

// Writer is a directory that accepts teams and members (repository.TeamRepository).
type Writer interface {
	CreateTeam(ctx context.Context, t model.Team) error
	UpsertMember(ctx context.Context, teamID string, e model.RosterEntry) error
}

// Seed copies every team and member, inactive ones included, into dst.
func (s *StaticFile) Seed(ctx context.Context, dst Writer) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		t := s.teams[id]
		if err := dst.CreateTeam(ctx, t.Team); err != nil {
			return fmt.Errorf("directory: seed team %s: %w", id, err)
		}
		for _, m := range t.Members {
			if err := dst.UpsertMember(ctx, id, m); err != nil {
				return fmt.Errorf("directory: seed member %s/%s: %w", id, m.UserID, err)
			}
		}
	}
	return nil
}

// GetUserTeams lists teams where userID is an active member, in file order.
func (s *StaticFile) GetUserTeams(ctx context.Context, userID string) ([]model.Team, error) {
	ids := s.TeamsOf(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Team, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.teams[id].Team)
	}
	return out, nil
}

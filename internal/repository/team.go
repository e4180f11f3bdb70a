package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/teamchat/internal/directory"
	"github.com/teamchat/internal/logger"
	"github.com/teamchat/internal/model"
)

// TeamRepository — каталог команд в Postgres. Реализует directory.Directory.
type TeamRepository struct {
	pool *pgxpool.Pool
}

func NewTeamRepository(pool *pgxpool.Pool) *TeamRepository {
	return &TeamRepository{pool: pool}
}

var _ directory.Directory = (*TeamRepository)(nil)

func (r *TeamRepository) GetTeam(ctx context.Context, teamID string) (model.Team, error) {
	defer logger.DeferLogDuration("team.GetTeam", time.Now())()
	var t model.Team
	err := r.pool.QueryRow(ctx,
		`SELECT id, name FROM teams WHERE id = $1`, teamID,
	).Scan(&t.ID, &t.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Team{}, directory.ErrTeamNotFound
	}
	if err != nil {
		return model.Team{}, fmt.Errorf("teamRepo.GetTeam: %w", err)
	}
	return t, nil
}

// GetActiveMembers возвращает активных участников в порядке вступления (этот порядок
// решает неоднозначные упоминания). Отключённые пользователи (disabled_at) не активны.
func (r *TeamRepository) GetActiveMembers(ctx context.Context, teamID string) ([]model.RosterEntry, error) {
	defer logger.DeferLogDuration("team.GetActiveMembers", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT u.id, u.username, u.email
		 FROM team_members tm
		 JOIN users u ON u.id = tm.user_id
		 WHERE tm.team_id = $1 AND tm.is_active AND u.disabled_at IS NULL
		 ORDER BY tm.joined_at, u.id`, teamID,
	)
	if err != nil {
		return nil, fmt.Errorf("teamRepo.GetActiveMembers query: %w", err)
	}
	defer rows.Close()

	roster := make([]model.RosterEntry, 0, 8)
	for rows.Next() {
		e := model.RosterEntry{IsActive: true}
		if err := rows.Scan(&e.UserID, &e.UserName, &e.UserEmail); err != nil {
			return nil, fmt.Errorf("teamRepo.GetActiveMembers scan: %w", err)
		}
		roster = append(roster, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("teamRepo.GetActiveMembers rows: %w", err)
	}
	return roster, nil
}

// GetUserTeams возвращает команды, где пользователь — активный участник.
func (r *TeamRepository) GetUserTeams(ctx context.Context, userID string) ([]model.Team, error) {
	defer logger.DeferLogDuration("team.GetUserTeams", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT t.id, t.name
		 FROM teams t
		 JOIN team_members tm ON tm.team_id = t.id
		 WHERE tm.user_id = $1 AND tm.is_active
		 ORDER BY t.created_at`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("teamRepo.GetUserTeams query: %w", err)
	}
	defer rows.Close()

	teams := make([]model.Team, 0, 8)
	for rows.Next() {
		var t model.Team
		if err := rows.Scan(&t.ID, &t.Name); err != nil {
			return nil, fmt.Errorf("teamRepo.GetUserTeams scan: %w", err)
		}
		teams = append(teams, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("teamRepo.GetUserTeams rows: %w", err)
	}
	return teams, nil
}

func (r *TeamRepository) CreateTeam(ctx context.Context, t model.Team) error {
	defer logger.DeferLogDuration("team.CreateTeam", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO teams (id, name, created_at) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`,
		t.ID, t.Name, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("teamRepo.CreateTeam: %w", err)
	}
	return nil
}

// UpsertMember добавляет пользователя (и его профиль) в команду либо обновляет флаг активности.
func (r *TeamRepository) UpsertMember(ctx context.Context, teamID string, e model.RosterEntry) error {
	defer logger.DeferLogDuration("team.UpsertMember", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("teamRepo.UpsertMember begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO users (id, username, email) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET username = EXCLUDED.username, email = EXCLUDED.email`,
		e.UserID, e.UserName, e.UserEmail,
	); err != nil {
		return fmt.Errorf("teamRepo.UpsertMember user: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO team_members (team_id, user_id, is_active, joined_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (team_id, user_id) DO UPDATE SET is_active = EXCLUDED.is_active`,
		teamID, e.UserID, e.IsActive, time.Now().UTC(),
	); err != nil {
		return fmt.Errorf("teamRepo.UpsertMember member: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("teamRepo.UpsertMember commit: %w", err)
	}
	return nil
}

package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/jmoiron/sqlx"

	"teamlink/internal/models"
)

var ErrTeamNotFound = errors.New("team not found")

// TeamRepository is the read-mostly roster cache. The roster service owns
// team lifecycle; SaveTeam only refreshes the local copy.
type TeamRepository interface {
	GetTeam(ctx context.Context, id string) (models.Team, error)
	SaveTeam(ctx context.Context, team models.Team) error
}

// TeamRepo stores teams with the member list as JSON through explicit
// encode/decode, mirroring the conversation snapshot handling.
type TeamRepo struct {
	db *sqlx.DB
}

// NewTeamRepo constructs TeamRepo.
func NewTeamRepo(db *sqlx.DB) *TeamRepo {
	return &TeamRepo{db: db}
}

func encodeMembers(members []models.Member) ([]byte, error) {
	if members == nil {
		members = []models.Member{}
	}
	return json.Marshal(members)
}

func decodeMembers(raw []byte) ([]models.Member, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var members []models.Member
	if err := json.Unmarshal(raw, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// GetTeam retrieves one cached team with its members.
func (r *TeamRepo) GetTeam(ctx context.Context, id string) (models.Team, error) {
	var team models.Team
	var membersRaw []byte
	err := r.db.QueryRowxContext(ctx, `SELECT id, name, members, updated_at FROM teams WHERE id=$1`, id).
		Scan(&team.ID, &team.Name, &membersRaw, &team.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Team{}, ErrTeamNotFound
	}
	if err != nil {
		return models.Team{}, err
	}
	team.Members, err = decodeMembers(membersRaw)
	return team, err
}

// SaveTeam refreshes the cached roster.
func (r *TeamRepo) SaveTeam(ctx context.Context, team models.Team) error {
	membersRaw, err := encodeMembers(team.Members)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO teams (id, name, members, updated_at)
        VALUES ($1, $2, $3, NOW())
        ON CONFLICT (id) DO UPDATE SET name=EXCLUDED.name, members=EXCLUDED.members, updated_at=NOW()`,
		team.ID, team.Name, membersRaw)
	return err
}

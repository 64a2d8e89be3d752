package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/leaguechat/pkg/models"
)

// RoleAdmin is the league_members role allowed to delete any message
const RoleAdmin = "admin"

// ListLeagueMemberProfiles returns the profiles of the league's members
// ordered by username. Members are looked up first and their profiles
// fetched in a second query; a league with no members yields an empty list.
func (s *PostgresStore) ListLeagueMemberProfiles(ctx context.Context, leagueID string) ([]models.MemberProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM league_members WHERE league_id = $1`, leagueID)
	if err != nil {
		return nil, classify("list league members", err)
	}

	var userIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, classify("scan league member", err)
		}
		userIDs = append(userIDs, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, classify("iterate league members", err)
	}
	rows.Close()

	profiles := make([]models.MemberProfile, 0, len(userIDs))
	if len(userIDs) == 0 {
		return profiles, nil
	}

	query := `
	SELECT id, username, avatar_url
	FROM profiles
	WHERE id = ANY($1::uuid[])
	ORDER BY username
	`
	prow, err := s.db.QueryContext(ctx, query, pq.Array(userIDs))
	if err != nil {
		return nil, classify("list member profiles", err)
	}
	defer prow.Close()

	for prow.Next() {
		var (
			p      models.MemberProfile
			avatar sql.NullString
		)
		if err := prow.Scan(&p.ID, &p.Username, &avatar); err != nil {
			return nil, classify("scan member profile", err)
		}
		p.AvatarURL = nullStringPtr(avatar)
		profiles = append(profiles, p)
	}
	if err := prow.Err(); err != nil {
		return nil, classify("iterate member profiles", err)
	}
	return profiles, nil
}

// LeagueRole returns the user's role in the league, or "" when the user is
// not a member.
func (s *PostgresStore) LeagueRole(ctx context.Context, leagueID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM league_members WHERE league_id = $1 AND user_id = $2`,
		leagueID, userID,
	).Scan(&role)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify("get league role", err)
	}
	return role, nil
}

// IsLeagueMember reports whether userID belongs to the league
func (s *PostgresStore) IsLeagueMember(ctx context.Context, leagueID, userID string) (bool, error) {
	role, err := s.LeagueRole(ctx, leagueID, userID)
	return role != "", err
}

// IsLeagueAdmin reports whether userID administers the league
func (s *PostgresStore) IsLeagueAdmin(ctx context.Context, leagueID, userID string) (bool, error) {
	role, err := s.LeagueRole(ctx, leagueID, userID)
	return role == RoleAdmin, err
}

// UpsertProfile creates or updates a profile. Used by seeding and tests.
func (s *PostgresStore) UpsertProfile(ctx context.Context, p models.Profile) error {
	query := `
	INSERT INTO profiles (id, username, avatar_url, bio, favorite_team, rank_points)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		username = EXCLUDED.username,
		avatar_url = EXCLUDED.avatar_url,
		bio = EXCLUDED.bio,
		favorite_team = EXCLUDED.favorite_team,
		rank_points = EXCLUDED.rank_points
	`
	_, err := s.db.ExecContext(ctx, query, p.ID, p.Username, p.AvatarURL, p.Bio, p.FavoriteTeam, p.RankPoints)
	return classify("upsert profile", err)
}

// AddLeagueMember adds userID to the league with role, updating the role if already a member
func (s *PostgresStore) AddLeagueMember(ctx context.Context, leagueID, userID, role string) error {
	query := `
	INSERT INTO league_members (league_id, user_id, role)
	VALUES ($1, $2, $3)
	ON CONFLICT (league_id, user_id) DO UPDATE SET role = EXCLUDED.role
	`
	_, err := s.db.ExecContext(ctx, query, leagueID, userID, role)
	return classify("add league member", err)
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/leaguechat/internal/chat"
	"github.com/leaguechat/pkg/models"
)

const messageColumns = `
	m.id, m.league_id, m.user_id, m.content, m.message_type, m.created_at, m.updated_at,
	m.reply_to, m.photo_url, m.photo_caption,
	p.id, p.username, p.avatar_url, p.bio, p.favorite_team, p.rank_points`

// profileScan receives a LEFT JOINed profile. A NULL id means the relation
// did not resolve and the profile is Absent.
type profileScan struct {
	id           sql.NullString
	username     sql.NullString
	avatarURL    sql.NullString
	bio          sql.NullString
	favoriteTeam sql.NullString
	rankPoints   sql.NullInt64
}

func (p *profileScan) dest() []interface{} {
	return []interface{}{&p.id, &p.username, &p.avatarURL, &p.bio, &p.favoriteTeam, &p.rankPoints}
}

func (p *profileScan) ref() models.ProfileRef {
	if !p.id.Valid {
		return models.Absent()
	}
	return models.Present(models.Profile{
		ID:           p.id.String,
		Username:     p.username.String,
		AvatarURL:    nullStringPtr(p.avatarURL),
		Bio:          nullStringPtr(p.bio),
		FavoriteTeam: nullStringPtr(p.favoriteTeam),
		RankPoints:   int(p.rankPoints.Int64),
	})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMessage(row rowScanner) (*models.ChatMessage, error) {
	var (
		msg                             models.ChatMessage
		kind                            string
		replyTo, photoURL, photoCaption sql.NullString
		author                          profileScan
	)

	dest := []interface{}{
		&msg.ID, &msg.LeagueID, &msg.UserID, &msg.Content, &kind, &msg.CreatedAt, &msg.UpdatedAt,
		&replyTo, &photoURL, &photoCaption,
	}
	if err := row.Scan(append(dest, author.dest()...)...); err != nil {
		return nil, err
	}

	msg.Kind = models.MessageKind(kind)
	msg.ReplyTo = nullStringPtr(replyTo)
	msg.PhotoURL = nullStringPtr(photoURL)
	msg.PhotoCaption = nullStringPtr(photoCaption)
	msg.Author = author.ref()
	msg.Mentions = []models.Mention{}
	msg.Reactions = []models.Reaction{}
	return &msg, nil
}

// InsertMessage stores one message and returns the row with its server-assigned id and timestamps
func (s *PostgresStore) InsertMessage(ctx context.Context, nm models.NewMessage) (*models.ChatMessage, error) {
	// A reply target outside the league makes the SELECT produce no row
	query := `
	INSERT INTO messages (league_id, user_id, content, message_type, reply_to, photo_url, photo_caption)
	SELECT $1::uuid, $2::uuid, $3::text, $4::text, $5::uuid, $6::text, $7::text
	WHERE $5::uuid IS NULL
	   OR EXISTS (SELECT 1 FROM messages r WHERE r.id = $5::uuid AND r.league_id = $1::uuid)
	RETURNING id, league_id, user_id, content, message_type, created_at, updated_at,
	          reply_to, photo_url, photo_caption
	`

	var (
		msg                             models.ChatMessage
		kind                            string
		replyTo, photoURL, photoCaption sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query,
		nm.LeagueID, nm.UserID, nm.Content, string(nm.Kind), nm.ReplyTo, nm.PhotoURL, nm.PhotoCaption,
	).Scan(
		&msg.ID, &msg.LeagueID, &msg.UserID, &msg.Content, &kind, &msg.CreatedAt, &msg.UpdatedAt,
		&replyTo, &photoURL, &photoCaption,
	)
	if errors.Is(err, sql.ErrNoRows) {
		if nm.ReplyTo != nil {
			return nil, fmt.Errorf("insert message: %w", chat.ErrReplyOutsideLeague)
		}
		return nil, fmt.Errorf("insert message: %w: no row returned", chat.ErrTransport)
	}
	if err != nil {
		return nil, classify("insert message", err)
	}

	msg.Kind = models.MessageKind(kind)
	msg.ReplyTo = nullStringPtr(replyTo)
	msg.PhotoURL = nullStringPtr(photoURL)
	msg.PhotoCaption = nullStringPtr(photoCaption)
	msg.Author = models.Absent()
	msg.Mentions = []models.Mention{}
	msg.Reactions = []models.Reaction{}

	return &msg, nil
}

// ListMessages returns up to limit of the league's newest messages, newest
// first, with author and mention profiles. Reactions are not loaded here.
func (s *PostgresStore) ListMessages(ctx context.Context, leagueID string, limit int) ([]*models.ChatMessage, error) {
	query := `
	SELECT` + messageColumns + `
	FROM messages m
	LEFT JOIN profiles p ON p.id = m.user_id
	WHERE m.league_id = $1
	ORDER BY m.created_at DESC, m.id DESC
	LIMIT $2
	`

	rows, err := s.db.QueryContext(ctx, query, leagueID, normalizeLimit(limit))
	if err != nil {
		return nil, classify("list messages", err)
	}
	defer rows.Close()

	// Initialize as empty slice so JSON encodes to [] rather than null
	messages := make([]*models.ChatMessage, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, classify("scan message", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, classify("iterate messages", err)
	}

	if err := s.attachMentions(ctx, messages); err != nil {
		return nil, err
	}

	return messages, nil
}

// GetMessage loads one fully hydrated message. It returns nil, nil when the
// message does not exist. A failed mention lookup leaves Mentions empty.
func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (*models.ChatMessage, error) {
	query := `
	SELECT` + messageColumns + `
	FROM messages m
	LEFT JOIN profiles p ON p.id = m.user_id
	WHERE m.id = $1
	`

	msg, err := scanMessage(s.db.QueryRowContext(ctx, query, messageID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("get message", err)
	}

	if err := s.attachMentions(ctx, []*models.ChatMessage{msg}); err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("Mentions unavailable, delivering message without them")
	}

	return msg, nil
}

func (s *PostgresStore) attachMentions(ctx context.Context, messages []*models.ChatMessage) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]string, len(messages))
	byID := make(map[string]*models.ChatMessage, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
		byID[m.ID] = m
	}

	query := `
	SELECT mn.id, mn.message_id, mn.mentioned_user_id, mn.created_at,
	       p.id, p.username, p.avatar_url, p.bio, p.favorite_team, p.rank_points
	FROM mentions mn
	LEFT JOIN profiles p ON p.id = mn.mentioned_user_id
	WHERE mn.message_id = ANY($1::uuid[])
	ORDER BY mn.created_at ASC, mn.id ASC
	`

	rows, err := s.db.QueryContext(ctx, query, pq.Array(ids))
	if err != nil {
		return classify("list mentions", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			mention models.Mention
			profile profileScan
		)
		dest := []interface{}{&mention.ID, &mention.MessageID, &mention.UserID, &mention.CreatedAt}
		if err := rows.Scan(append(dest, profile.dest()...)...); err != nil {
			return classify("scan mention", err)
		}
		mention.Profile = profile.ref()
		if msg, ok := byID[mention.MessageID]; ok {
			msg.Mentions = append(msg.Mentions, mention)
		}
	}
	if err := rows.Err(); err != nil {
		return classify("iterate mentions", err)
	}
	return nil
}

// InsertMentions records that a message mentions the given users in a
// single statement. An empty list is a no-op.
func (s *PostgresStore) InsertMentions(ctx context.Context, messageID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}

	query := `
	INSERT INTO mentions (message_id, mentioned_user_id)
	SELECT $1, unnest($2::uuid[])
	`
	if _, err := s.db.ExecContext(ctx, query, messageID, pq.Array(userIDs)); err != nil {
		return classify("insert mentions", err)
	}
	return nil
}

// DeleteMessage deletes the message only when authorID wrote it. A delete
// that matches nothing succeeds. The deleted row's photo url is returned.
func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID, authorID string) (string, error) {
	query := `DELETE FROM messages WHERE id = $1 AND user_id = $2 RETURNING photo_url`
	return s.deleteReturningPhoto(ctx, "delete message", query, messageID, authorID)
}

// AdminDeleteMessage deletes the message regardless of author, but only
// inside leagueID. Callers are responsible for checking the actor administers
// that league.
func (s *PostgresStore) AdminDeleteMessage(ctx context.Context, leagueID, messageID string) (string, error) {
	query := `DELETE FROM messages WHERE id = $1 AND league_id = $2 RETURNING photo_url`
	return s.deleteReturningPhoto(ctx, "admin delete message", query, messageID, leagueID)
}

// MessageLeague returns the league a message was posted in
func (s *PostgresStore) MessageLeague(ctx context.Context, messageID string) (string, error) {
	var leagueID string
	err := s.db.QueryRowContext(ctx, `SELECT league_id FROM messages WHERE id = $1`, messageID).Scan(&leagueID)
	if err != nil {
		return "", classify("message league", err)
	}
	return leagueID, nil
}

func (s *PostgresStore) deleteReturningPhoto(ctx context.Context, op, query string, args ...interface{}) (string, error) {
	var photoURL sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&photoURL)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", classify(op, err)
	}
	return photoURL.String, nil
}

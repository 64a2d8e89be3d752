package store

import (
	"context"

	"github.com/leaguechat/pkg/models"
)

// AddReaction records userID reacting to a message with emoji. Adding the
// same triple twice fails with chat.ErrConflict.
func (s *PostgresStore) AddReaction(ctx context.Context, messageID, emoji, userID string) (*models.Reaction, error) {
	query := `
	INSERT INTO reactions (message_id, user_id, emoji)
	VALUES ($1, $2, $3)
	RETURNING id, message_id, user_id, emoji, created_at
	`

	var r models.Reaction
	err := s.db.QueryRowContext(ctx, query, messageID, userID, emoji).Scan(
		&r.ID, &r.MessageID, &r.UserID, &r.Emoji, &r.CreatedAt,
	)
	if err != nil {
		return nil, classify("add reaction", err)
	}
	return &r, nil
}

// RemoveReaction deletes the exact (message, user, emoji) triple. Removing a
// reaction that does not exist succeeds.
func (s *PostgresStore) RemoveReaction(ctx context.Context, messageID, emoji, userID string) error {
	query := `DELETE FROM reactions WHERE message_id = $1 AND user_id = $2 AND emoji = $3`
	if _, err := s.db.ExecContext(ctx, query, messageID, userID, emoji); err != nil {
		return classify("remove reaction", err)
	}
	return nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/zerolog/log"

	"github.com/leaguechat/internal/realtime"
)

// schemaStatements are applied in order and are safe to re-run
var schemaStatements = []string{
	`CREATE EXTENSION IF NOT EXISTS pgcrypto`,

	`CREATE TABLE IF NOT EXISTS profiles (
		id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		username      TEXT NOT NULL UNIQUE,
		avatar_url    TEXT,
		bio           TEXT,
		favorite_team TEXT,
		rank_points   INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS league_members (
		league_id  UUID NOT NULL,
		user_id    UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		role       TEXT NOT NULL DEFAULT 'member' CHECK (role IN ('member', 'admin')),
		joined_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (league_id, user_id)
	)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id            UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		league_id     UUID NOT NULL,
		user_id       UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		content       TEXT NOT NULL DEFAULT '',
		message_type  TEXT NOT NULL CHECK (message_type IN ('text', 'photo')),
		reply_to      UUID REFERENCES messages(id) ON DELETE SET NULL,
		photo_url     TEXT,
		photo_caption TEXT,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT messages_photo_kind CHECK (
			(message_type = 'photo' AND photo_url IS NOT NULL)
			OR (message_type = 'text' AND photo_url IS NULL AND photo_caption IS NULL)
		)
	)`,

	`CREATE INDEX IF NOT EXISTS messages_league_created_idx
		ON messages (league_id, created_at DESC, id DESC)`,

	`CREATE TABLE IF NOT EXISTS mentions (
		id                UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		message_id        UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		mentioned_user_id UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE INDEX IF NOT EXISTS mentions_message_idx ON mentions (message_id)`,

	`CREATE TABLE IF NOT EXISTS reactions (
		id         UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		message_id UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
		user_id    UUID NOT NULL REFERENCES profiles(id) ON DELETE CASCADE,
		emoji      TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		CONSTRAINT reactions_unique_triple UNIQUE (message_id, user_id, emoji)
	)`,

	`CREATE OR REPLACE FUNCTION notify_chat_message() RETURNS trigger AS $$
	BEGIN
		PERFORM pg_notify('` + realtime.ChannelPrefix + `' || NEW.league_id::text, NEW.id::text);
		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql`,

	`DROP TRIGGER IF EXISTS messages_notify ON messages`,

	`CREATE TRIGGER messages_notify
		AFTER INSERT ON messages
		FOR EACH ROW EXECUTE FUNCTION notify_chat_message()`,
}

// Migrate applies the chat schema
func Migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin migration: %w", err)
	}
	defer tx.Rollback()

	for i, stmt := range schemaStatements {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema statement %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	log.Info().Int("statements", len(schemaStatements)).Msg("Chat schema applied")
	return nil
}

// MigrateRiver applies River's own tables used by the job queue
func MigrateRiver(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("failed to create river migrator: %w", err)
	}

	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("failed to migrate river schema: %w", err)
	}

	log.Info().Int("versions", len(res.Versions)).Msg("River schema applied")
	return nil
}

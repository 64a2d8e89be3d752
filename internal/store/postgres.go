// Package store is the Postgres-backed message store adapter.
//
// Authorization lives in the SQL itself: deletes carry the author predicate
// and never fail when it does not match, so a rejected delete and a repeated
// delete both look like success to the caller.
package store

import (
	"database/sql"
)

const (
	// DefaultHistoryLimit is used when a caller passes a non-positive limit
	DefaultHistoryLimit = 50
	// MaxHistoryLimit caps a single history page
	MaxHistoryLimit = 200
)

// PostgresStore implements chat.Store on a database/sql handle using lib/pq
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		return MaxHistoryLimit
	}
	return limit
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

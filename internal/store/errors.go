package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/leaguechat/internal/chat"
)

// Postgres error codes the adapter distinguishes
const (
	codeUniqueViolation       = "23505"
	codeForeignKeyViolation   = "23503"
	codeCheckViolation        = "23514"
	codeNotNullViolation      = "23502"
	codeInsufficientPrivilege = "42501"
	codeInvalidTextRepr       = "22P02"
)

// classify wraps err with the chat error taxonomy sentinel it belongs to
func classify(op string, err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, chat.ErrNotFound)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case codeUniqueViolation:
			return fmt.Errorf("%s: %w: %s", op, chat.ErrConflict, pqErr.Message)
		case codeForeignKeyViolation:
			return fmt.Errorf("%s: %w: %s", op, chat.ErrNotFound, pqErr.Message)
		case codeInsufficientPrivilege:
			return fmt.Errorf("%s: %w: %s", op, chat.ErrUnauthorized, pqErr.Message)
		case codeCheckViolation, codeNotNullViolation, codeInvalidTextRepr:
			return fmt.Errorf("%s: %w: %s", op, chat.ErrValidation, pqErr.Message)
		}
	}

	return fmt.Errorf("%s: %w: %w", op, chat.ErrTransport, err)
}

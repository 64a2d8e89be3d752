package chat

import (
	"errors"
)

// Error taxonomy shared by the store adapter and the chat service. Store
// errors wrap one of these sentinels so callers can branch with errors.Is.
var (
	// ErrUnauthorized means the caller lacks permission per the store's policy
	ErrUnauthorized = errors.New("unauthorized")
	// ErrNotFound means the target row is absent
	ErrNotFound = errors.New("not found")
	// ErrConflict means a uniqueness constraint was violated
	ErrConflict = errors.New("conflict")
	// ErrTransport covers network and serialization failures
	ErrTransport = errors.New("transport error")
	// ErrValidation covers client-side checks on input
	ErrValidation = errors.New("validation error")
)

// Photo, reaction and reply validation failures. All of them also match ErrValidation.
var (
	ErrPayloadTooLarge      = &validationError{msg: "photo exceeds the maximum upload size"}
	ErrUnsupportedMediaType = &validationError{msg: "photo must be a JPEG, PNG, GIF or WebP image"}
	ErrPhotoDimensions      = &validationError{msg: "photo dimensions are too large"}
	ErrInvalidReaction      = &validationError{msg: "reaction must be a single emoji"}
	ErrReplyOutsideLeague   = &validationError{msg: "reply must reference a message in the same league"}
)

type validationError struct {
	msg string
}

func (e *validationError) Error() string { return e.msg }

// Is makes every validationError match ErrValidation
func (e *validationError) Is(target error) bool {
	return target == ErrValidation
}

// Invalid builds an ad-hoc validation error
func Invalid(msg string) error {
	return &validationError{msg: msg}
}

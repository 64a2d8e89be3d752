package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// MessageKind distinguishes plain text messages from photo messages
type MessageKind string

const (
	MessageKindText  MessageKind = "text"
	MessageKindPhoto MessageKind = "photo"
)

// Valid reports whether the kind is one of the known message kinds
func (k MessageKind) Valid() bool {
	return k == MessageKindText || k == MessageKindPhoto
}

// Profile is the public part of a user's profile, hydrated next to messages for display
type Profile struct {
	ID           string  `json:"id" db:"id"`
	Username     string  `json:"username" db:"username"`
	AvatarURL    *string `json:"avatar_url,omitempty" db:"avatar_url"`
	Bio          *string `json:"bio,omitempty" db:"bio"`
	FavoriteTeam *string `json:"favorite_team,omitempty" db:"favorite_team"`
	RankPoints   int     `json:"rank_points" db:"rank_points"`
}

// MemberProfile is the slim profile view used to resolve mentions in a league
type MemberProfile struct {
	ID        string  `json:"id"`
	Username  string  `json:"username"`
	AvatarURL *string `json:"avatar_url,omitempty"`
}

// ProfileRef is the result of hydrating a profile relation. A relation that
// could not be loaded is Absent rather than an error.
type ProfileRef struct {
	profile *Profile
}

// Present wraps a loaded profile
func Present(p Profile) ProfileRef {
	return ProfileRef{profile: &p}
}

// Absent is the empty profile relation
func Absent() ProfileRef {
	return ProfileRef{}
}

// Get returns the profile and whether it was present
func (r ProfileRef) Get() (Profile, bool) {
	if r.profile == nil {
		return Profile{}, false
	}
	return *r.profile, true
}

// IsPresent reports whether the relation was loaded
func (r ProfileRef) IsPresent() bool {
	return r.profile != nil
}

// MarshalJSON encodes an absent relation as null
func (r ProfileRef) MarshalJSON() ([]byte, error) {
	if r.profile == nil {
		return []byte("null"), nil
	}
	return json.Marshal(*r.profile)
}

// UnmarshalJSON decodes null as an absent relation
func (r *ProfileRef) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		r.profile = nil
		return nil
	}
	var p Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	r.profile = &p
	return nil
}

// ChatMessage is a single message posted in a league's chat
type ChatMessage struct {
	ID           string      `json:"id" db:"id"`
	LeagueID     string      `json:"league_id" db:"league_id"`
	UserID       string      `json:"user_id" db:"user_id"`
	Content      string      `json:"content" db:"content"`
	Kind         MessageKind `json:"message_type" db:"message_type"`
	CreatedAt    time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at" db:"updated_at"`
	ReplyTo      *string     `json:"reply_to,omitempty" db:"reply_to"`
	PhotoURL     *string     `json:"photo_url,omitempty" db:"photo_url"`
	PhotoCaption *string     `json:"photo_caption,omitempty" db:"photo_caption"`

	// Hydrated relations
	Author    ProfileRef `json:"profile"`
	Mentions  []Mention  `json:"mentions"`
	Reactions []Reaction `json:"reactions"`
}

// Validate checks the kind/photo invariant of a message
func (m *ChatMessage) Validate() error {
	switch m.Kind {
	case MessageKindPhoto:
		if m.PhotoURL == nil || *m.PhotoURL == "" {
			return fmt.Errorf("photo message requires a photo url")
		}
	case MessageKindText:
		if m.PhotoURL != nil || m.PhotoCaption != nil {
			return fmt.Errorf("text message cannot carry photo fields")
		}
	default:
		return fmt.Errorf("unknown message type %q", m.Kind)
	}
	return nil
}

// NewMessage carries the fields needed to persist a message
type NewMessage struct {
	LeagueID     string
	UserID       string
	Content      string
	Kind         MessageKind
	ReplyTo      *string
	PhotoURL     *string
	PhotoCaption *string
}

// Mention links a message to a user it tags with @username
type Mention struct {
	ID        string     `json:"id" db:"id"`
	MessageID string     `json:"message_id" db:"message_id"`
	UserID    string     `json:"mentioned_user_id" db:"mentioned_user_id"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	Profile   ProfileRef `json:"profile"`
}

// Reaction is a single emoji reaction. At most one per (message, user, emoji).
type Reaction struct {
	ID        string    `json:"id" db:"id"`
	MessageID string    `json:"message_id" db:"message_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	Emoji     string    `json:"emoji" db:"emoji"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

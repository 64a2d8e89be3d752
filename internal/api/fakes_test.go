package api

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leaguechat/internal/chat"
	"github.com/leaguechat/pkg/models"
)

// fakeStore is a minimal in-memory chat.Store and Memberships
type fakeStore struct {
	mu        sync.Mutex
	profiles  map[string]models.Profile
	roles     map[string]map[string]string // league -> user -> role
	messages  []*models.ChatMessage
	reactions map[string]bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		profiles:  make(map[string]models.Profile),
		roles:     make(map[string]map[string]string),
		reactions: make(map[string]bool),
	}
}

func (f *fakeStore) join(leagueID, username, role string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := uuid.NewString()
	f.profiles[id] = models.Profile{ID: id, Username: username}
	if f.roles[leagueID] == nil {
		f.roles[leagueID] = make(map[string]string)
	}
	f.roles[leagueID][id] = role
	return id
}

func (f *fakeStore) InsertMessage(ctx context.Context, nm models.NewMessage) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	msg := &models.ChatMessage{
		ID: uuid.NewString(), LeagueID: nm.LeagueID, UserID: nm.UserID, Content: nm.Content, Kind: nm.Kind,
		CreatedAt: now, UpdatedAt: now, ReplyTo: nm.ReplyTo, PhotoURL: nm.PhotoURL, PhotoCaption: nm.PhotoCaption,
		Mentions: []models.Mention{}, Reactions: []models.Reaction{},
	}
	if p, ok := f.profiles[nm.UserID]; ok {
		msg.Author = models.Present(p)
	}
	f.messages = append(f.messages, msg)
	return msg, nil
}

func (f *fakeStore) ListMessages(ctx context.Context, leagueID string, limit int) ([]*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*models.ChatMessage{}
	for i := len(f.messages) - 1; i >= 0; i-- {
		if f.messages[i].LeagueID == leagueID {
			out = append(out, f.messages[i])
		}
	}
	return out, nil
}

func (f *fakeStore) GetMessage(ctx context.Context, id string) (*models.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == id {
			return m, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) InsertMentions(ctx context.Context, messageID string, userIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID != messageID {
			continue
		}
		for _, uid := range userIDs {
			m.Mentions = append(m.Mentions, models.Mention{
				ID: uuid.NewString(), MessageID: messageID, UserID: uid, Profile: models.Present(f.profiles[uid]),
			})
		}
	}
	return nil
}

func (f *fakeStore) AddReaction(ctx context.Context, messageID, emoji, userID string) (*models.Reaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := messageID + "|" + userID + "|" + emoji
	if f.reactions[key] {
		return nil, fmt.Errorf("add reaction: %w", chat.ErrConflict)
	}
	f.reactions[key] = true
	return &models.Reaction{ID: uuid.NewString(), MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: time.Now()}, nil
}

func (f *fakeStore) RemoveReaction(ctx context.Context, messageID, emoji, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.reactions, messageID+"|"+userID+"|"+emoji)
	return nil
}

func (f *fakeStore) deleteWhere(match func(*models.ChatMessage) bool) string {
	for i, m := range f.messages {
		if match(m) {
			f.messages = append(f.messages[:i], f.messages[i+1:]...)
			if m.PhotoURL != nil {
				return *m.PhotoURL
			}
			return ""
		}
	}
	return ""
}

func (f *fakeStore) DeleteMessage(ctx context.Context, messageID, authorID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteWhere(func(m *models.ChatMessage) bool { return m.ID == messageID && m.UserID == authorID }), nil
}

func (f *fakeStore) AdminDeleteMessage(ctx context.Context, leagueID, messageID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.deleteWhere(func(m *models.ChatMessage) bool { return m.ID == messageID && m.LeagueID == leagueID }), nil
}

func (f *fakeStore) MessageLeague(ctx context.Context, messageID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range f.messages {
		if m.ID == messageID {
			return m.LeagueID, nil
		}
	}
	return "", fmt.Errorf("message league: %w", chat.ErrNotFound)
}

func (f *fakeStore) ListLeagueMemberProfiles(ctx context.Context, leagueID string) ([]models.MemberProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.MemberProfile{}
	for id := range f.roles[leagueID] {
		p := f.profiles[id]
		out = append(out, models.MemberProfile{ID: p.ID, Username: p.Username})
	}
	return out, nil
}

func (f *fakeStore) IsLeagueMember(ctx context.Context, leagueID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.roles[leagueID][userID]
	return ok, nil
}

func (f *fakeStore) IsLeagueAdmin(ctx context.Context, leagueID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.roles[leagueID][userID] == "admin", nil
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeBlobs struct{}

func (fakeBlobs) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	return "/media/" + key, nil
}

// feedSubscriber hands each subscription's callback to the test
type feedSubscriber struct {
	feeds chan func(*models.ChatMessage)
}

type feedSubscription struct{}

func (feedSubscription) Close() error { return nil }

func (s *feedSubscriber) Subscribe(ctx context.Context, leagueID string, onMessage func(*models.ChatMessage)) (chat.Subscription, error) {
	s.feeds <- onMessage
	return feedSubscription{}, nil
}

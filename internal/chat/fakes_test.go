package chat

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leaguechat/pkg/models"
)

// memStore mimics the Postgres store and its access rules in memory
type memStore struct {
	mu        sync.Mutex
	now       time.Time
	profiles  map[string]models.Profile
	members   map[string][]string
	messages  map[string]*models.ChatMessage
	mentions  map[string][]models.Mention
	reactions map[string]models.Reaction

	mentionErr error
	membersErr error
}

func newMemStore() *memStore {
	return &memStore{
		now:       time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		profiles:  make(map[string]models.Profile),
		members:   make(map[string][]string),
		messages:  make(map[string]*models.ChatMessage),
		mentions:  make(map[string][]models.Mention),
		reactions: make(map[string]models.Reaction),
	}
}

func (m *memStore) addMember(leagueID, username string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := uuid.NewString()
	m.profiles[id] = models.Profile{ID: id, Username: username}
	m.members[leagueID] = append(m.members[leagueID], id)
	return id
}

func reactionKey(messageID, userID, emoji string) string {
	return messageID + "|" + userID + "|" + emoji
}

func (m *memStore) hydrate(msg *models.ChatMessage) *models.ChatMessage {
	out := *msg
	if p, ok := m.profiles[msg.UserID]; ok {
		out.Author = models.Present(p)
	}
	out.Mentions = []models.Mention{}
	for _, mn := range m.mentions[msg.ID] {
		if p, ok := m.profiles[mn.UserID]; ok {
			mn.Profile = models.Present(p)
		}
		out.Mentions = append(out.Mentions, mn)
	}
	out.Reactions = []models.Reaction{}
	return &out
}

func (m *memStore) InsertMessage(ctx context.Context, nm models.NewMessage) (*models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(time.Second)
	msg := &models.ChatMessage{
		ID:           uuid.NewString(),
		LeagueID:     nm.LeagueID,
		UserID:       nm.UserID,
		Content:      nm.Content,
		Kind:         nm.Kind,
		CreatedAt:    m.now,
		UpdatedAt:    m.now,
		ReplyTo:      nm.ReplyTo,
		PhotoURL:     nm.PhotoURL,
		PhotoCaption: nm.PhotoCaption,
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	m.messages[msg.ID] = msg
	return m.hydrate(msg), nil
}

func (m *memStore) ListMessages(ctx context.Context, leagueID string, limit int) ([]*models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.ChatMessage
	for _, msg := range m.messages {
		if msg.LeagueID == leagueID {
			out = append(out, m.hydrate(msg))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *memStore) GetMessage(ctx context.Context, messageID string) (*models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok {
		return nil, nil
	}
	return m.hydrate(msg), nil
}

func (m *memStore) InsertMentions(ctx context.Context, messageID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	if m.mentionErr != nil {
		return m.mentionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range userIDs {
		if _, ok := m.profiles[id]; !ok {
			return ErrNotFound
		}
		m.mentions[messageID] = append(m.mentions[messageID], models.Mention{
			ID:        uuid.NewString(),
			MessageID: messageID,
			UserID:    id,
			CreatedAt: m.now,
		})
	}
	return nil
}

func (m *memStore) AddReaction(ctx context.Context, messageID, emoji, userID string) (*models.Reaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.messages[messageID]; !ok {
		return nil, ErrNotFound
	}
	key := reactionKey(messageID, userID, emoji)
	if _, ok := m.reactions[key]; ok {
		return nil, fmt.Errorf("add reaction: %w", ErrConflict)
	}
	r := models.Reaction{ID: uuid.NewString(), MessageID: messageID, UserID: userID, Emoji: emoji, CreatedAt: m.now}
	m.reactions[key] = r
	return &r, nil
}

func (m *memStore) RemoveReaction(ctx context.Context, messageID, emoji, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reactions, reactionKey(messageID, userID, emoji))
	return nil
}

func (m *memStore) deleteLocked(id string) string {
	msg := m.messages[id]
	delete(m.messages, id)
	delete(m.mentions, id)
	for k, r := range m.reactions {
		if r.MessageID == id {
			delete(m.reactions, k)
		}
	}
	if msg.PhotoURL != nil {
		return *msg.PhotoURL
	}
	return ""
}

func (m *memStore) DeleteMessage(ctx context.Context, messageID, authorID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.UserID != authorID {
		return "", nil
	}
	return m.deleteLocked(messageID), nil
}

func (m *memStore) AdminDeleteMessage(ctx context.Context, leagueID, messageID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg, ok := m.messages[messageID]
	if !ok || msg.LeagueID != leagueID {
		return "", nil
	}
	return m.deleteLocked(messageID), nil
}

func (m *memStore) ListLeagueMemberProfiles(ctx context.Context, leagueID string) ([]models.MemberProfile, error) {
	if m.membersErr != nil {
		return nil, m.membersErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []models.MemberProfile{}
	for _, id := range m.members[leagueID] {
		p := m.profiles[id]
		out = append(out, models.MemberProfile{ID: p.ID, Username: p.Username, AvatarURL: p.AvatarURL})
	}
	return out, nil
}

type memBlobs struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error

	// transient failures returned before uploads start succeeding
	transient int
	calls     int
}

func newMemBlobs() *memBlobs {
	return &memBlobs{objects: make(map[string][]byte), types: make(map[string]string)}
}

func (b *memBlobs) Upload(ctx context.Context, key, contentType string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if b.err != nil {
		return "", b.err
	}
	if b.transient > 0 {
		b.transient--
		return "", errors.New("connection reset by peer")
	}
	b.objects[key] = data
	b.types[key] = contentType
	return "https://media.test/" + key, nil
}

type recordingCleanup struct {
	mu   sync.Mutex
	urls []string
}

func (c *recordingCleanup) SchedulePhotoCleanup(ctx context.Context, photoURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.urls = append(c.urls, photoURL)
	return nil
}

type stubSubscription struct{ closed bool }

func (s *stubSubscription) Close() error {
	s.closed = true
	return nil
}

type stubSubscriber struct {
	leagueID string
	handler  func(*models.ChatMessage)
	sub      *stubSubscription
}

func (s *stubSubscriber) Subscribe(ctx context.Context, leagueID string, onMessage func(*models.ChatMessage)) (Subscription, error) {
	if leagueID == "" {
		return nil, errors.New("league required")
	}
	s.leagueID = leagueID
	s.handler = onMessage
	s.sub = &stubSubscription{}
	return s.sub, nil
}

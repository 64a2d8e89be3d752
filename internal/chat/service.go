// Package chat implements the league chat pipeline: sending text and photo
// messages, loading history, reactions, deletes and live subscriptions.
//
// The Service holds only its collaborators. Persistence, blob storage and the
// realtime feed are reached through the interfaces below so each can be
// backed by Postgres, disk or an in-memory fake.
package chat

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/leaguechat/internal/imageopt"
	"github.com/leaguechat/internal/retry"
	"github.com/leaguechat/pkg/models"
)

// Store is the message store adapter
type Store interface {
	InsertMessage(ctx context.Context, msg models.NewMessage) (*models.ChatMessage, error)
	ListMessages(ctx context.Context, leagueID string, limit int) ([]*models.ChatMessage, error)
	GetMessage(ctx context.Context, messageID string) (*models.ChatMessage, error)
	InsertMentions(ctx context.Context, messageID string, userIDs []string) error
	AddReaction(ctx context.Context, messageID, emoji, userID string) (*models.Reaction, error)
	RemoveReaction(ctx context.Context, messageID, emoji, userID string) error
	// DeleteMessage and AdminDeleteMessage return the photo url of the
	// deleted row, or "" when nothing with a photo was deleted.
	DeleteMessage(ctx context.Context, messageID, authorID string) (string, error)
	AdminDeleteMessage(ctx context.Context, leagueID, messageID string) (string, error)
	ListLeagueMemberProfiles(ctx context.Context, leagueID string) ([]models.MemberProfile, error)
}

// BlobStore uploads photos and returns their public url
type BlobStore interface {
	Upload(ctx context.Context, key, contentType string, data []byte) (string, error)
}

// CleanupScheduler removes the blob behind a deleted photo message
type CleanupScheduler interface {
	SchedulePhotoCleanup(ctx context.Context, photoURL string) error
}

// Subscription is a live feed handle. Close stops further deliveries.
type Subscription interface {
	Close() error
}

// Subscriber opens live feeds of newly inserted league messages
type Subscriber interface {
	Subscribe(ctx context.Context, leagueID string, onMessage func(*models.ChatMessage)) (Subscription, error)
}

// Options tunes a Service
type Options struct {
	// MaxPhotoBytes caps photo uploads; 0 means DefaultMaxPhotoBytes
	MaxPhotoBytes int
	// Cleanup is optional. Without it deleted photos stay in blob storage.
	Cleanup CleanupScheduler
}

// Service is the chat orchestrator
type Service struct {
	store      Store
	blobs      BlobStore
	subscriber Subscriber
	opts       Options
}

// NewService creates a chat service
func NewService(store Store, blobs BlobStore, subscriber Subscriber, opts Options) *Service {
	return &Service{
		store:      store,
		blobs:      blobs,
		subscriber: subscriber,
		opts:       opts,
	}
}

// SendRequest describes a message to send
type SendRequest struct {
	AuthorID string
	LeagueID string
	Content  string
	Kind     models.MessageKind
	ReplyTo  *string

	// Photo messages only
	Photo        *imageopt.File
	PhotoCaption *string
	Viewport     imageopt.Viewport
}

// SendResult is the outcome of Send. The message is persisted even when
// MentionErr is set.
type SendResult struct {
	Message          *models.ChatMessage
	MentionedUserIDs []string
	MentionErr       error
}

// Send persists a message, uploading its photo first when it has one, and
// then records mentions of league members as a follow-up step.
func (s *Service) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	if err := s.validateSend(req); err != nil {
		return nil, err
	}
	if req.ReplyTo != nil {
		if err := s.checkReplyTarget(ctx, req.LeagueID, *req.ReplyTo); err != nil {
			return nil, err
		}
	}

	newMsg := models.NewMessage{
		LeagueID: req.LeagueID,
		UserID:   req.AuthorID,
		Content:  req.Content,
		Kind:     req.Kind,
		ReplyTo:  req.ReplyTo,
	}

	if req.Kind == models.MessageKindPhoto {
		url, err := s.uploadPhoto(ctx, req)
		if err != nil {
			return nil, err
		}
		newMsg.PhotoURL = &url
		newMsg.PhotoCaption = req.PhotoCaption
	}

	msg, err := s.store.InsertMessage(ctx, newMsg)
	if err != nil {
		return nil, fmt.Errorf("failed to insert message: %w", err)
	}

	result := &SendResult{Message: msg}
	result.MentionedUserIDs, result.MentionErr = s.recordMentions(ctx, msg)
	if result.MentionErr != nil {
		log.Warn().
			Err(result.MentionErr).
			Str("message_id", msg.ID).
			Str("league_id", msg.LeagueID).
			Msg("Message sent but mentions were not recorded")
	}

	return result, nil
}

func (s *Service) validateSend(req SendRequest) error {
	if req.AuthorID == "" {
		return Invalid("author is required")
	}
	if req.LeagueID == "" {
		return Invalid("league is required")
	}

	switch req.Kind {
	case models.MessageKindText:
		if strings.TrimSpace(req.Content) == "" {
			return Invalid("message content is required")
		}
		if req.Photo != nil || req.PhotoCaption != nil {
			return Invalid("text messages cannot carry a photo")
		}
	case models.MessageKindPhoto:
		if req.Photo == nil {
			return Invalid("photo messages require a photo")
		}
		if err := ValidatePhoto(*req.Photo, s.opts.MaxPhotoBytes); err != nil {
			return err
		}
	default:
		return Invalid(fmt.Sprintf("unknown message type %q", req.Kind))
	}
	return nil
}

// checkReplyTarget makes sure a reply points at a message of the same league
func (s *Service) checkReplyTarget(ctx context.Context, leagueID, replyTo string) error {
	parent, err := s.store.GetMessage(ctx, replyTo)
	if err != nil {
		return fmt.Errorf("failed to load reply target: %w", err)
	}
	if parent == nil || parent.LeagueID != leagueID {
		return ErrReplyOutsideLeague
	}
	return nil
}

func (s *Service) uploadPhoto(ctx context.Context, req SendRequest) (string, error) {
	optimized := imageopt.Optimize(*req.Photo, req.Viewport)

	ext := path.Ext(optimized.Name)
	if ext == "" {
		ext = ".jpg"
	}
	key := path.Join("chat-photos", req.LeagueID, uuid.NewString()+strings.ToLower(ext))

	var url string
	result := retry.RetryWithBackoff(ctx, retry.UploadRetryConfig(), "photo upload", func() error {
		var err error
		url, err = s.blobs.Upload(ctx, key, optimized.ContentType, optimized.Data)
		return err
	})
	if !result.Success {
		return "", fmt.Errorf("failed to upload photo: %w: %w", ErrTransport, result.LastError)
	}
	return url, nil
}

func (s *Service) recordMentions(ctx context.Context, msg *models.ChatMessage) ([]string, error) {
	tokens := ExtractMentionTokens(msg.Content)
	if len(tokens) == 0 {
		return nil, nil
	}

	members, err := s.store.ListLeagueMemberProfiles(ctx, msg.LeagueID)
	if err != nil {
		return nil, fmt.Errorf("failed to load league members: %w", err)
	}

	ids := ResolveMentions(tokens, members)
	if len(ids) == 0 {
		return nil, nil
	}

	if err := s.store.InsertMentions(ctx, msg.ID, ids); err != nil {
		return nil, fmt.Errorf("failed to insert mentions: %w", err)
	}
	return ids, nil
}

// History returns up to limit of the league's most recent messages, newest first
func (s *Service) History(ctx context.Context, leagueID string, limit int) ([]*models.ChatMessage, error) {
	return s.store.ListMessages(ctx, leagueID, limit)
}

// Live delivers every message inserted into the league until the returned
// subscription is closed. Deliveries are unordered and may repeat messages
// the caller already got from Send.
func (s *Service) Live(ctx context.Context, leagueID string, onMessage func(*models.ChatMessage)) (Subscription, error) {
	return s.subscriber.Subscribe(ctx, leagueID, onMessage)
}

// React adds an emoji reaction by userID
func (s *Service) React(ctx context.Context, messageID, emoji, userID string) (*models.Reaction, error) {
	if err := ValidateReaction(emoji); err != nil {
		return nil, err
	}
	return s.store.AddReaction(ctx, messageID, emoji, userID)
}

// Unreact removes an emoji reaction by userID. Removing a missing reaction is not an error.
func (s *Service) Unreact(ctx context.Context, messageID, emoji, userID string) error {
	return s.store.RemoveReaction(ctx, messageID, emoji, userID)
}

// Remove deletes a message owned by authorID
func (s *Service) Remove(ctx context.Context, messageID, authorID string) error {
	photoURL, err := s.store.DeleteMessage(ctx, messageID, authorID)
	if err != nil {
		return err
	}
	s.cleanupPhoto(ctx, messageID, photoURL)
	return nil
}

// AdminRemove deletes any message of the league. Callers must have checked
// the actor administers leagueID. Messages of other leagues are left alone.
func (s *Service) AdminRemove(ctx context.Context, leagueID, messageID string) error {
	photoURL, err := s.store.AdminDeleteMessage(ctx, leagueID, messageID)
	if err != nil {
		return err
	}
	s.cleanupPhoto(ctx, messageID, photoURL)
	return nil
}

func (s *Service) cleanupPhoto(ctx context.Context, messageID, photoURL string) {
	if photoURL == "" || s.opts.Cleanup == nil {
		return
	}
	if err := s.opts.Cleanup.SchedulePhotoCleanup(ctx, photoURL); err != nil {
		log.Warn().Err(err).Str("message_id", messageID).Msg("Failed to schedule photo cleanup")
	}
}

// Members lists the profiles of the league's members
func (s *Service) Members(ctx context.Context, leagueID string) ([]models.MemberProfile, error) {
	return s.store.ListLeagueMemberProfiles(ctx, leagueID)
}

// RenderContent returns the message content with its resolved mentions in
// bold. Stored content is never modified.
func RenderContent(msg *models.ChatMessage) string {
	var profiles []models.MemberProfile
	for _, m := range msg.Mentions {
		if p, ok := m.Profile.Get(); ok {
			profiles = append(profiles, models.MemberProfile{ID: p.ID, Username: p.Username, AvatarURL: p.AvatarURL})
		}
	}
	return RenderMentionMarkup(msg.Content, profiles)
}

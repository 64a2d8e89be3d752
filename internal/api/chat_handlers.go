package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"

	"github.com/leaguechat/internal/api/auth"
	"github.com/leaguechat/internal/chat"
	"github.com/leaguechat/internal/imageopt"
	"github.com/leaguechat/pkg/models"
)

type sendTextRequest struct {
	Content string  `json:"content"`
	ReplyTo *string `json:"reply_to,omitempty"`
}

type sendResponse struct {
	Message          *models.ChatMessage `json:"message"`
	MentionedUserIDs []string            `json:"mentioned_user_ids"`
	MentionError     string              `json:"mention_error,omitempty"`
}

type reactionRequest struct {
	Emoji string `json:"emoji"`
}

func principal(c echo.Context) (*auth.Principal, error) {
	p, ok := auth.PrincipalFromContext(c)
	if !ok {
		return nil, echo.NewHTTPError(http.StatusUnauthorized, "authorization required")
	}
	return p, nil
}

func leagueParam(c echo.Context) (string, error) {
	league := c.Param("league")
	if _, err := uuid.Parse(league); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid league id")
	}
	return league, nil
}

// requireMember returns the caller and league after checking membership.
// Global admins may read any league.
func (s *Server) requireMember(c echo.Context) (*auth.Principal, string, error) {
	p, err := principal(c)
	if err != nil {
		return nil, "", err
	}
	league, err := leagueParam(c)
	if err != nil {
		return nil, "", err
	}
	if err := s.checkMember(c, p, league); err != nil {
		return nil, "", err
	}
	return p, league, nil
}

// requireMessageMember is requireMember for routes addressed by message id:
// the league is the one the message was posted in.
func (s *Server) requireMessageMember(c echo.Context) (*auth.Principal, string, error) {
	p, err := principal(c)
	if err != nil {
		return nil, "", err
	}
	messageID := c.Param("id")
	if _, err := uuid.Parse(messageID); err != nil {
		return nil, "", echo.NewHTTPError(http.StatusBadRequest, "invalid message id")
	}

	league, err := s.members.MessageLeague(c.Request().Context(), messageID)
	if err != nil {
		return nil, "", httpError(err)
	}
	if err := s.checkMember(c, p, league); err != nil {
		return nil, "", err
	}
	return p, messageID, nil
}

func (s *Server) checkMember(c echo.Context, p *auth.Principal, league string) error {
	if p.IsAdmin() {
		return nil
	}
	ok, err := s.members.IsLeagueMember(c.Request().Context(), league, p.UserID)
	if err != nil {
		return httpError(err)
	}
	if !ok {
		return echo.NewHTTPError(http.StatusForbidden, "not a member of this league")
	}
	return nil
}

func (s *Server) listMessages(c echo.Context) error {
	_, league, err := s.requireMember(c)
	if err != nil {
		return err
	}

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
	}

	messages, err := s.chat.History(c.Request().Context(), league, limit)
	if err != nil {
		return httpError(err)
	}

	if c.QueryParam("render") == "markup" {
		rendered := make([]*models.ChatMessage, len(messages))
		for i, m := range messages {
			cp := *m
			cp.Content = chat.RenderContent(m)
			rendered[i] = &cp
		}
		messages = rendered
	}

	return c.JSON(http.StatusOK, messages)
}

func (s *Server) postMessage(c echo.Context) error {
	p, league, err := s.requireMember(c)
	if err != nil {
		return err
	}
	if !s.sends.Allow(p.UserID) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "slow down")
	}

	req := chat.SendRequest{AuthorID: p.UserID, LeagueID: league}

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		if err := s.readPhotoForm(c, &req); err != nil {
			return err
		}
	} else {
		var body sendTextRequest
		if err := c.Bind(&body); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		req.Kind = models.MessageKindText
		req.Content = body.Content
		req.ReplyTo = body.ReplyTo
	}

	result, err := s.chat.Send(c.Request().Context(), req)
	if err != nil {
		return httpError(err)
	}

	resp := sendResponse{Message: result.Message, MentionedUserIDs: result.MentionedUserIDs}
	if resp.MentionedUserIDs == nil {
		resp.MentionedUserIDs = []string{}
	}
	if result.MentionErr != nil {
		resp.MentionError = "mentions could not be recorded"
	}
	return c.JSON(http.StatusCreated, resp)
}

func (s *Server) readPhotoForm(c echo.Context, req *chat.SendRequest) error {
	r := c.Request()
	// Leave headroom for the other form fields
	r.Body = http.MaxBytesReader(c.Response(), r.Body, int64(s.opts.MaxPhotoBytes)+64*1024)

	fh, err := c.FormFile("photo")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large") {
			return httpError(chat.ErrPayloadTooLarge)
		}
		return echo.NewHTTPError(http.StatusBadRequest, "photo is required")
	}

	file, err := readUpload(fh, s.opts.MaxPhotoBytes)
	if err != nil {
		return httpError(err)
	}

	req.Kind = models.MessageKindPhoto
	req.Photo = &file
	req.Viewport = imageopt.ParseViewport(c.FormValue("viewport"))
	if caption := strings.TrimSpace(c.FormValue("caption")); caption != "" {
		req.PhotoCaption = &caption
	}
	if reply := strings.TrimSpace(c.FormValue("reply_to")); reply != "" {
		req.ReplyTo = &reply
	}
	return nil
}

func readUpload(fh *multipart.FileHeader, maxBytes int) (imageopt.File, error) {
	if fh.Size > int64(maxBytes) {
		return imageopt.File{}, chat.ErrPayloadTooLarge
	}

	f, err := fh.Open()
	if err != nil {
		return imageopt.File{}, chat.Invalid("photo could not be read")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, int64(maxBytes)+1))
	if err != nil {
		return imageopt.File{}, chat.Invalid("photo could not be read")
	}

	return imageopt.File{
		Name:        fh.Filename,
		ContentType: fh.Header.Get(echo.HeaderContentType),
		Data:        data,
	}, nil
}

func (s *Server) streamMessages(c echo.Context) error {
	_, league, err := s.requireMember(c)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	deliveries := make(chan *models.ChatMessage, 32)

	sub, err := s.chat.Live(ctx, league, func(m *models.ChatMessage) {
		select {
		case deliveries <- m:
		default:
			log.Warn().Str("league_id", league).Str("message_id", m.ID).Msg("Stream client too slow, dropping message")
		}
	})
	if err != nil {
		return httpError(err)
	}
	defer sub.Close()

	w := c.Response()
	w.Header().Set(echo.HeaderContentType, "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	w.Flush()

	heartbeat := time.NewTicker(s.opts.StreamHeartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-heartbeat.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return nil
			}
			w.Flush()
		case m := <-deliveries:
			data, err := json.Marshal(m)
			if err != nil {
				log.Error().Err(err).Str("message_id", m.ID).Msg("Failed to encode stream message")
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: message\ndata: %s\n\n", m.ID, data); err != nil {
				return nil
			}
			w.Flush()
		}
	}
}

func (s *Server) listMembers(c echo.Context) error {
	_, league, err := s.requireMember(c)
	if err != nil {
		return err
	}

	members, err := s.chat.Members(c.Request().Context(), league)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, members)
}

func (s *Server) deleteMessage(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}

	if err := s.chat.Remove(c.Request().Context(), c.Param("id"), p.UserID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) adminDeleteMessage(c echo.Context) error {
	p, err := principal(c)
	if err != nil {
		return err
	}
	league, err := leagueParam(c)
	if err != nil {
		return err
	}

	if !p.IsAdmin() {
		ok, err := s.members.IsLeagueAdmin(c.Request().Context(), league, p.UserID)
		if err != nil {
			return httpError(err)
		}
		if !ok {
			return echo.NewHTTPError(http.StatusForbidden, "league admin required")
		}
	}

	if err := s.chat.AdminRemove(c.Request().Context(), league, c.Param("id")); err != nil {
		return httpError(err)
	}

	log.Info().
		Str("league_id", league).
		Str("message_id", c.Param("id")).
		Str("admin_id", p.UserID).
		Msg("Message removed by admin")
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) addReaction(c echo.Context) error {
	p, messageID, err := s.requireMessageMember(c)
	if err != nil {
		return err
	}

	var body reactionRequest
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	reaction, err := s.chat.React(c.Request().Context(), messageID, body.Emoji, p.UserID)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, reaction)
}

func (s *Server) removeReaction(c echo.Context) error {
	p, messageID, err := s.requireMessageMember(c)
	if err != nil {
		return err
	}

	emoji, err := url.PathUnescape(c.Param("emoji"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid emoji")
	}

	if err := s.chat.Unreact(c.Request().Context(), messageID, emoji, p.UserID); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

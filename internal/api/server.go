package api

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog/log"

	"github.com/leaguechat/internal/api/auth"
	"github.com/leaguechat/internal/chat"
)

// Memberships answers league access questions for the HTTP layer
type Memberships interface {
	IsLeagueMember(ctx context.Context, leagueID, userID string) (bool, error)
	IsLeagueAdmin(ctx context.Context, leagueID, userID string) (bool, error)
	// MessageLeague returns the league of a message, or an error wrapping
	// chat.ErrNotFound when there is no such message
	MessageLeague(ctx context.Context, messageID string) (string, error)
}

// Options configures the server
type Options struct {
	Port int
	// MediaRoot is served under MediaPrefix when both are set
	MediaRoot     string
	MediaPrefix   string
	SendRate      float64
	SendBurst     int
	MaxPhotoBytes int
	// StreamHeartbeat is the SSE keepalive interval
	StreamHeartbeat time.Duration
}

// Server represents the API server
type Server struct {
	echo    *echo.Echo
	opts    Options
	chat    *chat.Service
	members Memberships
	tokens  *auth.TokenService
	sends   *sendLimiter
}

// NewServer creates a new API server
func NewServer(svc *chat.Service, members Memberships, tokens *auth.TokenService, opts Options) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	if opts.MaxPhotoBytes <= 0 {
		opts.MaxPhotoBytes = chat.DefaultMaxPhotoBytes
	}
	if opts.StreamHeartbeat <= 0 {
		opts.StreamHeartbeat = 25 * time.Second
	}

	server := &Server{
		echo:    e,
		opts:    opts,
		chat:    svc,
		members: members,
		tokens:  tokens,
		sends:   newSendLimiter(opts.SendRate, opts.SendBurst),
	}

	server.setupRoutes()

	return server
}

// ServeHTTP lets the server be driven directly by httptest
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.echo.ServeHTTP(w, r)
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status": "healthy",
		})
	})

	if s.opts.MediaRoot != "" && s.opts.MediaPrefix != "" {
		s.echo.Static(s.opts.MediaPrefix, s.opts.MediaRoot)
	}

	v1 := s.echo.Group("/api/v1", auth.RequireAuth(s.tokens))

	v1.GET("/leagues/:league/messages", s.listMessages)
	v1.POST("/leagues/:league/messages", s.postMessage)
	v1.GET("/leagues/:league/stream", s.streamMessages)
	v1.GET("/leagues/:league/members", s.listMembers)
	v1.DELETE("/leagues/:league/messages/:id/admin", s.adminDeleteMessage)

	v1.DELETE("/messages/:id", s.deleteMessage)
	v1.POST("/messages/:id/reactions", s.addReaction)
	v1.DELETE("/messages/:id/reactions/:emoji", s.removeReaction)
}

// Start serves until ctx is done or an interrupt arrives, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Int("port", s.opts.Port).Msg("API server listening")
		if err := s.echo.Start(fmt.Sprintf(":%d", s.opts.Port)); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.echo.Shutdown(shutdownCtx)
}

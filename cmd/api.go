package cmd

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/leaguechat/internal/api"
	"github.com/leaguechat/internal/api/auth"
	"github.com/leaguechat/internal/blob"
	"github.com/leaguechat/internal/chat"
	"github.com/leaguechat/internal/database"
	"github.com/leaguechat/internal/jobqueue"
	"github.com/leaguechat/internal/realtime"
	"github.com/leaguechat/internal/store"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the leaguechat API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides server.port)",
			},
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "Apply migrations before serving",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	if port := c.Int("port"); port > 0 {
		cfg.Server.Port = port
	}

	ctx := c.Context
	dbOpts := database.Options{URL: cfg.Database.URL, MaxOpenConns: cfg.Database.MaxOpenConns}

	db, err := database.NewDB(ctx, dbOpts)
	if err != nil {
		return err
	}
	defer db.Close()

	if c.Bool("migrate") {
		if err := database.Migrate(ctx, db); err != nil {
			return err
		}
	}

	blobs, err := blob.NewDiskStore(cfg.Storage.Root, cfg.Storage.BaseURL)
	if err != nil {
		return err
	}

	pgStore := store.NewPostgresStore(db)

	dbURL, err := database.ResolveURL(cfg.Database.URL)
	if err != nil {
		return err
	}
	listener := realtime.NewListener(realtime.NewPQSource(dbURL, realtime.Options{
		MinReconnect: cfg.Realtime.MinReconnect,
		MaxReconnect: cfg.Realtime.MaxReconnect,
	}), pgStore)
	defer listener.Close()

	svcOpts := chat.Options{MaxPhotoBytes: cfg.Storage.MaxPhotoBytes}

	if cfg.Jobs.Enabled {
		pool, err := database.NewPool(ctx, dbOpts)
		if err != nil {
			return err
		}
		defer pool.Close()

		if c.Bool("migrate") {
			if err := database.MigrateRiver(ctx, pool); err != nil {
				return err
			}
		}

		queue, err := jobqueue.NewJobQueue(pool, blobs, (&jobqueue.QueueConfig{
			MaxWorkers:  cfg.Jobs.MaxWorkers,
			MaxAttempts: cfg.Jobs.MaxAttempts,
			JobTimeout:  cfg.Jobs.JobTimeout,
		}).Normalize())
		if err != nil {
			return err
		}
		if err := queue.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := queue.Stop(stopCtx); err != nil {
				log.Warn().Err(err).Msg("Job queue did not stop cleanly")
			}
		}()
		svcOpts.Cleanup = queue
	} else {
		log.Info().Msg("Background jobs disabled, deleted photos will stay in storage")
	}

	svc := chat.NewService(pgStore, blobs, listener, svcOpts)
	tokens := auth.NewTokenService(cfg.Auth.JWTSecret, 0)

	server := api.NewServer(svc, pgStore, tokens, api.Options{
		Port:          cfg.Server.Port,
		MediaRoot:     blobs.Root(),
		MediaPrefix:   mediaPrefix(cfg.Storage.BaseURL),
		SendRate:      cfg.Server.SendRate,
		SendBurst:     cfg.Server.SendBurst,
		MaxPhotoBytes: cfg.Storage.MaxPhotoBytes,
	})

	log.Info().
		Int("port", cfg.Server.Port).
		Str("public_url", cfg.Server.PublicURL).
		Bool("jobs", cfg.Jobs.Enabled).
		Msg("Starting leaguechat API server")

	return server.Start(ctx)
}

// mediaPrefix returns the path part of the blob base url. Only path-style
// base urls are served locally; an absolute url means media lives elsewhere.
func mediaPrefix(baseURL string) string {
	u, err := url.Parse(baseURL)
	if err != nil || u.IsAbs() {
		return ""
	}
	return u.Path
}

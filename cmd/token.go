package cmd

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/urfave/cli/v2"

	"github.com/leaguechat/internal/api/auth"
)

// TokenCommand issues an access token, for local development and smoke tests
func TokenCommand() *cli.Command {
	return &cli.Command{
		Name:      "token",
		Usage:     "Issue an access token for a user id",
		ArgsUsage: "USER_ID",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "role",
				Usage: "Global role claim (\"admin\" moderates every league)",
			},
			&cli.DurationFlag{
				Name:  "ttl",
				Usage: "Token lifetime",
				Value: 24 * time.Hour,
			},
		},
		Action: func(c *cli.Context) error {
			userID := c.Args().First()
			if _, err := uuid.Parse(userID); err != nil {
				return cli.Exit("USER_ID must be a uuid", 1)
			}

			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			token, err := auth.NewTokenService(cfg.Auth.JWTSecret, c.Duration("ttl")).Issue(userID, c.String("role"))
			if err != nil {
				return err
			}
			fmt.Println(token)
			return nil
		},
	}
}

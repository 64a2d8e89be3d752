package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/leaguechat/internal/database"
)

// MigrateCommand applies the chat schema and River's job tables
func MigrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply database migrations",
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}

			opts := database.Options{URL: cfg.Database.URL, MaxOpenConns: cfg.Database.MaxOpenConns}

			db, err := database.NewDB(c.Context, opts)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := database.Migrate(c.Context, db); err != nil {
				return err
			}

			pool, err := database.NewPool(c.Context, opts)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := database.MigrateRiver(c.Context, pool); err != nil {
				return err
			}

			fmt.Println("Migrations applied")
			return nil
		},
	}
}

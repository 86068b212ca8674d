// cmd/seeder/main.go
package main

import (
	"context"
	"os"

	"github.com/unclebandit/campaign-dispatch/internal/config"
	"github.com/unclebandit/campaign-dispatch/internal/db"
	"github.com/unclebandit/campaign-dispatch/internal/logging"
)

var log = logging.New("seeder")

// Applies the schema, then each seed file named on the command line (or the bundled ones).
func main() {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		log.WithError(err).Fatal("failed to load configuration")
	}
	if cfg.Database.Driver != "postgres" {
		log.Fatalf("seeding needs DB_DRIVER=postgres, got %q", cfg.Database.Driver)
	}

	conn, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		log.WithError(err).Fatal("failed to connect")
	}
	defer conn.Close()

	if err := db.EnsureSchema(ctx, conn); err != nil {
		log.WithError(err).Fatal("failed to apply schema")
	}
	log.Info("schema applied")

	seedFiles := os.Args[1:]
	if len(seedFiles) == 0 {
		seedFiles = []string{
			"seed/users.sql",
			"seed/campaigns.sql",
		}
	}

	for _, file := range seedFiles {
		content, err := os.ReadFile(file)
		if err != nil {
			log.WithError(err).Fatalf("failed to read %s", file)
		}
		if _, err := conn.ExecContext(ctx, string(content)); err != nil {
			log.WithError(err).Fatalf("failed to execute %s", file)
		}
		log.Infof("seeded: %s", file)
	}

	log.Info("database seeding completed successfully")
}

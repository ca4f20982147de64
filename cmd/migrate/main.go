package main

import (
	"flag"
	"log/slog"
	"os"

	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
	"github.com/brightlane/auctionhouse/internal/infrastructure/migrate"
)

func main() {
	var (
		action    = flag.String("action", "up", "Migration action: up, down, status, force")
		steps     = flag.Int("steps", 0, "Number of migrations to run (0 = all, for up/down)")
		toVersion = flag.Int("version", -1, "Target version (for force action)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	switch *action {
	case "up":
		if *steps > 0 {
			err = migrate.Steps(migrate.DefaultDir, cfg.Database.URL, *steps)
		} else {
			err = migrate.Up(migrate.DefaultDir, cfg.Database.URL)
		}
	case "down":
		if *steps > 0 {
			err = migrate.Steps(migrate.DefaultDir, cfg.Database.URL, -*steps)
		} else {
			err = migrate.Down(migrate.DefaultDir, cfg.Database.URL)
		}
	case "status":
		var version uint
		var dirty, ok bool
		version, dirty, ok, err = migrate.Status(migrate.DefaultDir, cfg.Database.URL)
		if err == nil {
			if !ok {
				slog.Info("no migrations applied yet")
			} else {
				slog.Info("migration status", "version", version, "dirty", dirty)
			}
		}
	case "force":
		if *toVersion < 0 {
			slog.Error("version is required for force action")
			os.Exit(1)
		}
		err = migrate.Force(migrate.DefaultDir, cfg.Database.URL, *toVersion)
	default:
		slog.Error("unknown action", "action", *action)
		os.Exit(1)
	}

	if err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}
	slog.Info("migrate: done", "action", *action)
}

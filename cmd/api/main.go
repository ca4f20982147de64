package main

import (
	"context"
	"flag"
	"log"

	"github.com/brightlane/auctionhouse/internal/api/rest"
	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
	"github.com/brightlane/auctionhouse/internal/infrastructure/migrate"
	"github.com/brightlane/auctionhouse/internal/infrastructure/telemetry"
)

func main() {
	// Parse flags
	var (
		configPath   = flag.String("config", "", "Path to configuration file")
		runMigration = flag.Bool("migrate", false, "Run database migrations")
	)
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize telemetry
	ctx := context.Background()
	telConfig := &telemetry.Config{
		ServiceName:    "auctionhouse-api",
		ServiceVersion: cfg.Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
		Enabled:        cfg.Telemetry.Enabled,
		SamplingRate:   cfg.Telemetry.SamplingRate,
		ExportTimeout:  cfg.Telemetry.ExportTimeout,
		BatchTimeout:   cfg.Telemetry.BatchTimeout,
	}
	
	provider, err := telemetry.InitializeOpenTelemetry(ctx, telConfig)
	if err != nil {
		log.Fatalf("Failed to initialize telemetry: %v", err)
	}
	defer func() {
		if err := provider.Shutdown(ctx); err != nil {
			log.Printf("Failed to shutdown telemetry: %v", err)
		}
	}()

	// Run migrations if requested
	if *runMigration {
		if err := runMigrations(cfg); err != nil {
			log.Fatalf("Failed to run migrations: %v", err)
		}
		log.Println("Migrations completed successfully")
		return
	}

	// Create and start server
	server, err := rest.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create server: %v", err)
	}

	// Start server
	if err := server.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

// runMigrations applies every pending migration. cmd/migrate carries
// the full operator CLI (down/status/force); this flag only ever needs
// the same "up" path a fresh deployment runs at startup.
func runMigrations(cfg *config.Config) error {
	return migrate.Up(migrate.DefaultDir, cfg.Database.URL)
}
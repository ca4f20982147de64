package main

import (
	"context"
	"flag"
	"log"

	"github.com/brightlane/auctionhouse/internal/api/gateway"
	"github.com/brightlane/auctionhouse/internal/infrastructure/config"
	"github.com/brightlane/auctionhouse/internal/infrastructure/telemetry"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	ctx := context.Background()
	telConfig := &telemetry.Config{
		ServiceName:    "auctionhouse-gateway",
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

	server, err := gateway.NewServer(cfg)
	if err != nil {
		log.Fatalf("Failed to create gateway: %v", err)
	}

	if err := server.Start(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}

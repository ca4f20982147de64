package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Version     string `koanf:"version"`
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Server    ServerConfig    `koanf:"server"`
	Database  DatabaseConfig  `koanf:"database"`
	Redis     RedisConfig     `koanf:"redis"`
	Queue     QueueConfig     `koanf:"queue"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Security  SecurityConfig  `koanf:"security"`
	CORS      CORSConfig      `koanf:"cors"`
	Auction   AuctionConfig   `koanf:"auction"`
	Admission AdmissionConfig `koanf:"admission"`
	Gateway   GatewayConfig   `koanf:"gateway"`
}

type ServerConfig struct {
	Port            int           `koanf:"port"`
	Address         string        `koanf:"address"` // Full address like :8080
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	// Computed fields
	ReadTimeoutSeconds  int `koanf:"-"`
	WriteTimeoutSeconds int `koanf:"-"`
	IdleTimeoutSeconds  int `koanf:"-"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MaxIdleConns    int           `koanf:"max_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
}

type RedisConfig struct {
	URL          string        `koanf:"url"`
	Address      string        `koanf:"address"` // Alternative to URL
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	PoolSize     int           `koanf:"pool_size"`
	MinIdleConns int           `koanf:"min_idle_conns"`
	MaxRetries   int           `koanf:"max_retries"`
	DialTimeout  time.Duration `koanf:"dial_timeout"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
}

// QueueConfig configures the persistent work-queue transport (franz-go
// against Kafka, standing in for the spec's AMQP-flavored topology —
// see SPEC_FULL.md §11.1).
type QueueConfig struct {
	Enabled            bool          `koanf:"enabled"`
	Brokers            []string      `koanf:"brokers"`
	GroupID            string        `koanf:"group_id"`
	TopicPrefix        string        `koanf:"topic_prefix"`
	MessageTTL         time.Duration `koanf:"message_ttl"`
	MaxConcurrentFetch int           `koanf:"max_concurrent_fetch"`
}

type TelemetryConfig struct {
	Enabled       bool          `koanf:"enabled"`
	OTLPEndpoint  string        `koanf:"otlp_endpoint"`
	SamplingRate  float64       `koanf:"sampling_rate"`
	ExportTimeout time.Duration `koanf:"export_timeout"`
	BatchTimeout  time.Duration `koanf:"batch_timeout"`
}

type SecurityConfig struct {
	JWTSecret              string          `koanf:"jwt_secret"`
	TokenExpiry            time.Duration   `koanf:"token_expiry"`
	RefreshTokenExpiry     time.Duration   `koanf:"refresh_token_expiry"`
	TokenExpiryMinutes     int             `koanf:"-"` // Computed field
	RefreshTokenExpiryDays int             `koanf:"-"` // Computed field
	RateLimit              RateLimitConfig `koanf:"rate_limit"`
}

type RateLimitConfig struct {
	RequestsPerSecond int `koanf:"requests_per_second"`
	Burst             int `koanf:"burst"` // Alternative name
	BurstSize         int `koanf:"burst_size"`
}

type CORSConfig struct {
	AllowedOrigins []string `koanf:"allowed_origins"`
	AllowedMethods []string `koanf:"allowed_methods"`
	AllowedHeaders []string `koanf:"allowed_headers"`
	MaxAge         int      `koanf:"max_age"`
}

// AuctionConfig holds the Bid Processor's and lifecycle collaborator's
// tunables.
type AuctionConfig struct {
	BidIncrementCents      int64         `koanf:"bid_increment_cents"`
	Currency               string        `koanf:"currency"`
	LockTTL                time.Duration `koanf:"lock_ttl"`
	LifecycleSweepInterval time.Duration `koanf:"lifecycle_sweep_interval"`
}

// AdmissionConfig holds the Admission Controller's connection caps.
type AdmissionConfig struct {
	MaxConnectionsPerAddress  int           `koanf:"max_connections_per_address"`
	MaxConnectionsPerIdentity int           `koanf:"max_connections_per_identity"`
	TrackingWindow            time.Duration `koanf:"tracking_window"`
	BlockDuration             time.Duration `koanf:"block_duration"`
	MaxBidsPerIdentityPerMin  int           `koanf:"max_bids_per_identity_per_minute"`
}

// GatewayConfig holds the WebSocket Gateway's listen address and
// socket timeouts. It runs as its own process, alongside the HTTP
// fallback server, sharing the same store/cache/queue configuration.
type GatewayConfig struct {
	Address        string        `koanf:"address"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	PongTimeout    time.Duration `koanf:"pong_timeout"`
	PingPeriod     time.Duration `koanf:"ping_period"`
	MaxMessageSize int64         `koanf:"max_message_size"`
	RoomIdleTTL    time.Duration `koanf:"room_idle_ttl"`
}

// Load loads configuration from various sources
func Load(configPath ...string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults
	defaults := &Config{
		Version:     "dev",
		Environment: "development",
		LogLevel:    "info",
		Server: ServerConfig{
			Port:            8080,
			Address:         ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			URL:          "redis://localhost:6379",
			Address:      "localhost:6379",
			DB:           0,
			PoolSize:     10,
			MinIdleConns: 2,
			MaxRetries:   3,
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
		},
		Queue: QueueConfig{
			Enabled:            true,
			Brokers:            []string{"localhost:9092"},
			GroupID:            "auctionhouse",
			TopicPrefix:        "auctionhouse",
			MessageTTL:         5 * time.Minute,
			MaxConcurrentFetch: 4,
		},
		Telemetry: TelemetryConfig{
			Enabled:       true,
			OTLPEndpoint:  "http://localhost:4317",
			SamplingRate:  0.1,
			ExportTimeout: 10 * time.Second,
			BatchTimeout:  5 * time.Second,
		},
		Security: SecurityConfig{
			JWTSecret:          "change-me-in-production",
			TokenExpiry:        24 * time.Hour,
			RefreshTokenExpiry: 7 * 24 * time.Hour,
			RateLimit: RateLimitConfig{
				RequestsPerSecond: 100,
				Burst:             200,
				BurstSize:         200,
			},
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"http://localhost:3000", "http://localhost:8080"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "Authorization", "X-Request-ID"},
			MaxAge:         86400,
		},
		Auction: AuctionConfig{
			BidIncrementCents:      100,
			Currency:               "USD",
			LockTTL:                10 * time.Second,
			LifecycleSweepInterval: 5 * time.Second,
		},
		Admission: AdmissionConfig{
			MaxConnectionsPerAddress:  5,
			MaxConnectionsPerIdentity: 3,
			TrackingWindow:            60 * time.Second,
			BlockDuration:             300 * time.Second,
			MaxBidsPerIdentityPerMin:  30,
		},
		Gateway: GatewayConfig{
			Address:        ":8081",
			WriteTimeout:   10 * time.Second,
			PongTimeout:    60 * time.Second,
			PingPeriod:     54 * time.Second,
			MaxMessageSize: 32 * 1024,
			RoomIdleTTL:    2 * time.Minute,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Load from config file if exists
	cfgPath := "configs/config.yaml"
	if len(configPath) > 0 && configPath[0] != "" {
		cfgPath = configPath[0]
	}
	if err := k.Load(file.Provider(cfgPath), yaml.Parser()); err != nil {
		// Config file is optional, only log if it's not a "file not found" error
	}

	// Override with environment variables
	if err := k.Load(env.Provider("AH_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "AH_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Post-process configuration
	cfg.postProcess()

	return &cfg, nil
}

// postProcess computes derived fields after loading
func (c *Config) postProcess() {
	// Compute server address if not set
	if c.Server.Address == "" {
		c.Server.Address = fmt.Sprintf(":%d", c.Server.Port)
	}

	// Compute timeout seconds
	c.Server.ReadTimeoutSeconds = int(c.Server.ReadTimeout.Seconds())
	c.Server.WriteTimeoutSeconds = int(c.Server.WriteTimeout.Seconds())
	c.Server.IdleTimeoutSeconds = int(c.Server.IdleTimeout.Seconds())

	// Compute Redis address from URL if needed
	if c.Redis.Address == "" && c.Redis.URL != "" {
		// Extract host:port from redis://host:port format
		if strings.HasPrefix(c.Redis.URL, "redis://") {
			c.Redis.Address = strings.TrimPrefix(c.Redis.URL, "redis://")
		} else {
			c.Redis.Address = c.Redis.URL
		}
	}

	// Compute token expiry in different units
	c.Security.TokenExpiryMinutes = int(c.Security.TokenExpiry.Minutes())
	c.Security.RefreshTokenExpiryDays = int(c.Security.RefreshTokenExpiry.Hours() / 24)

	// Ensure RateLimit.Burst is set
	if c.Security.RateLimit.Burst == 0 && c.Security.RateLimit.BurstSize > 0 {
		c.Security.RateLimit.Burst = c.Security.RateLimit.BurstSize
	}
}

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
	Environment string `koanf:"environment"`
	LogLevel    string `koanf:"log_level"`

	Ops      OpsConfig      `koanf:"ops"`
	Database DatabaseConfig `koanf:"database"`
	Redis    RedisConfig    `koanf:"redis"`
	Auction  AuctionConfig  `koanf:"auction"`
}

// OpsConfig configures the operational HTTP surface (status, debug
// snapshots, admin endpoints, metrics).
type OpsConfig struct {
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
}

type DatabaseConfig struct {
	URL             string        `koanf:"url"`
	MaxOpenConns    int           `koanf:"max_open_conns"`
	MinIdleConns    int           `koanf:"min_idle_conns"`
	ConnMaxLifetime time.Duration `koanf:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `koanf:"connect_timeout"`

	// SQLitePath locates the embedded fallback database.
	SQLitePath string `koanf:"sqlite_path"`

	// Cool-off policy for automatic primary (re-)establishment.
	MaxConnectAttempts int           `koanf:"max_connect_attempts"`
	CoolOffWindow      time.Duration `koanf:"cool_off_window"`
}

// RedisConfig is optional; when URL is empty the cooldown store stays
// in process memory.
type RedisConfig struct {
	URL string `koanf:"url"`
}

type AuctionConfig struct {
	Cooldown            time.Duration `koanf:"cooldown"`
	InactivityThreshold time.Duration `koanf:"inactivity_threshold"`
	CountdownSeconds    int           `koanf:"countdown_seconds"`
	PollInterval        time.Duration `koanf:"poll_interval"`
	PromoInterval       time.Duration `koanf:"promo_interval"`

	MinBid              int64 `koanf:"min_bid"`
	MaxBid              int64 `koanf:"max_bid"`
	DefaultStartBid     int64 `koanf:"default_start_bid"`
	DefaultMinIncrement int64 `koanf:"default_min_increment"`
	CommissionPercent   int   `koanf:"commission_percent"`

	DefaultDuration time.Duration `koanf:"default_duration"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")

	defaults := &Config{
		Environment: "development",
		LogLevel:    "info",
		Ops: OpsConfig{
			Port:            8090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:       10,
			MinIdleConns:       1,
			ConnMaxLifetime:    5 * time.Minute,
			ConnectTimeout:     10 * time.Second,
			SQLitePath:         "local_db.sqlite",
			MaxConnectAttempts: 3,
			CoolOffWindow:      5 * time.Minute,
		},
		Auction: AuctionConfig{
			Cooldown:            2 * time.Second,
			InactivityThreshold: 30 * time.Second,
			CountdownSeconds:    3,
			PollInterval:        2 * time.Second,
			PromoInterval:       45 * time.Second,
			MinBid:              1_000,
			MaxBid:              1_000_000_000_000,
			DefaultStartBid:     250_000,
			DefaultMinIncrement: 50_000,
			CommissionPercent:   20,
			DefaultDuration:     5 * time.Minute,
		},
	}

	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("loading defaults: %w", err)
	}

	// Config file is optional.
	if path == "" {
		path = "configs/config.yaml"
	}
	_ = k.Load(file.Provider(path), yaml.Parser())

	// Environment variables override everything: AUCTION_DATABASE_URL,
	// AUCTION_AUCTION_COOLDOWN, etc.
	if err := k.Load(env.Provider("AUCTION_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(
			strings.TrimPrefix(s, "AUCTION_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

// Package config loads the runtime configuration of dcbd from the
// environment and maps it onto component options.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/projection"
)

type StoreKind string

const (
	StoreMemory   StoreKind = "memory"
	StoreSQLite   StoreKind = "sqlite"
	StorePostgres StoreKind = "postgres"
)

type Config struct {
	SafeWindow                    time.Duration `env:"DCB_SAFE_WINDOW"                      envDefault:"5s"`
	DynamicSafeWindow             bool          `env:"DCB_DYNAMIC_SAFE_WINDOW"`
	MaxExtraSafeWindow            time.Duration `env:"DCB_MAX_EXTRA_SAFE_WINDOW"            envDefault:"30s"`
	LagEmaAlpha                   float64       `env:"DCB_LAG_EMA_ALPHA"                    envDefault:"0.3"`
	LagDecayPerSecond             float64       `env:"DCB_LAG_DECAY_PER_SECOND"             envDefault:"1000"`
	SnapshotOffloadThresholdBytes int           `env:"DCB_SNAPSHOT_OFFLOAD_THRESHOLD_BYTES" envDefault:"1000000"`
	MaxSnapshotSizeBytes          int           `env:"DCB_MAX_SNAPSHOT_SIZE_BYTES"`
	LateEventHorizon              time.Duration `env:"DCB_LATE_EVENT_HORIZON"               envDefault:"10m"`
	SnapshotInterval              time.Duration `env:"DCB_SNAPSHOT_INTERVAL"                envDefault:"1m"`
	ReservationTTL                time.Duration `env:"DCB_RESERVATION_TTL"                  envDefault:"30s"`
	HostShards                    int           `env:"DCB_HOST_SHARDS"                      envDefault:"16"`

	Store        StoreKind `env:"DCB_STORE"         envDefault:"memory"`
	SQLitePath   string    `env:"DCB_SQLITE_PATH"   envDefault:"dcb.db"`
	PostgresURL  string    `env:"DCB_POSTGRES_URL"`
	NatsURL      string    `env:"NATS_URL"`
	KafkaBrokers []string  `env:"DCB_KAFKA_BROKERS" envSeparator:","`
	KafkaTopic   string    `env:"DCB_KAFKA_TOPIC"   envDefault:"dcb-events"`
	HTTPAddr     string    `env:"DCB_HTTP_ADDR"     envDefault:":8080"`
	MetricsAddr  string    `env:"DCB_METRICS_ADDR"  envDefault:":9090"`
	LogLevel     string    `env:"DCB_LOG_LEVEL"     envDefault:"info"`
}

// Load parses the environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if err := c.ProjectionOptions().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.ReservationTTL <= 0 {
		errs = append(errs, fmt.Errorf("reservation ttl must be positive, got %s", c.ReservationTTL))
	}
	if c.HostShards <= 0 {
		errs = append(errs, fmt.Errorf("host shards must be positive, got %d", c.HostShards))
	}
	if c.SnapshotInterval < 0 {
		errs = append(errs, fmt.Errorf("negative snapshot interval %s", c.SnapshotInterval))
	}
	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Store {
	case StoreMemory:
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("DCB_SQLITE_PATH is required for the sqlite store"))
		}
	case StorePostgres:
		if c.PostgresURL == "" {
			errs = append(errs, errors.New("DCB_POSTGRES_URL is required for the postgres store"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown store %q", c.Store))
	}
	if err := errors.Join(errs...); err != nil {
		return dcb.NewError(dcb.KindValidation, "config", err)
	}
	return nil
}

func (c Config) ProjectionOptions() projection.Options {
	return projection.Options{
		SafeWindow:                    c.SafeWindow,
		EnableDynamicSafeWindow:       c.DynamicSafeWindow,
		MaxExtraSafeWindow:            c.MaxExtraSafeWindow,
		LagEmaAlpha:                   c.LagEmaAlpha,
		LagDecayPerSecond:             c.LagDecayPerSecond,
		SnapshotOffloadThresholdBytes: c.SnapshotOffloadThresholdBytes,
		MaxSnapshotSizeBytes:          c.MaxSnapshotSizeBytes,
		LateEventHorizon:              c.LateEventHorizon,
	}
}

// SlogLevel parses LogLevel ("debug", "info", "warn", "error").
func (c Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return 0, fmt.Errorf("log level: %w", err)
	}
	return level, nil
}

func (c Config) HostOptions() []dcb.HostOption {
	return []dcb.HostOption{
		dcb.WithHostShards(c.HostShards),
		dcb.WithTagConsistentOptions(dcb.WithReservationTTL(c.ReservationTTL)),
	}
}

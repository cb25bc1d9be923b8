package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/projection"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	require.Equal(t, StoreMemory, cfg.Store)
	require.Equal(t, 30*time.Second, cfg.ReservationTTL)
	require.Equal(t, projection.DefaultOptions(), cfg.ProjectionOptions())
	require.Len(t, cfg.HostOptions(), 2)

	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, level)
}

func TestLoad_Env(t *testing.T) {
	t.Setenv("DCB_SAFE_WINDOW", "2s")
	t.Setenv("DCB_DYNAMIC_SAFE_WINDOW", "true")
	t.Setenv("DCB_LAG_EMA_ALPHA", "1")
	t.Setenv("DCB_LATE_EVENT_HORIZON", "90s")
	t.Setenv("DCB_STORE", "sqlite")
	t.Setenv("DCB_SQLITE_PATH", "/tmp/x.db")
	t.Setenv("DCB_KAFKA_BROKERS", "a:9092,b:9092")
	t.Setenv("DCB_LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	opts := cfg.ProjectionOptions()
	require.Equal(t, 2*time.Second, opts.SafeWindow)
	require.True(t, opts.EnableDynamicSafeWindow)
	require.Equal(t, 1.0, opts.LagEmaAlpha)
	require.Equal(t, 90*time.Second, opts.LateEventHorizon)
	require.Equal(t, StoreSQLite, cfg.Store)
	require.Equal(t, []string{"a:9092", "b:9092"}, cfg.KafkaBrokers)
	level, err := cfg.SlogLevel()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, level)
}

func TestLoad_ParseError(t *testing.T) {
	t.Setenv("DCB_SAFE_WINDOW", "soon")
	_, err := Load()
	require.ErrorContains(t, err, "parse env")
}

func TestValidate(t *testing.T) {
	base, err := Load()
	require.NoError(t, err)

	for name, mutate := range map[string]func(*Config){
		"alpha":       func(c *Config) { c.LagEmaAlpha = 1.5 },
		"window":      func(c *Config) { c.SafeWindow = -time.Second },
		"horizon":     func(c *Config) { c.LateEventHorizon = -time.Second },
		"store":       func(c *Config) { c.Store = "mongo" },
		"postgres":    func(c *Config) { c.Store = StorePostgres },
		"reservation": func(c *Config) { c.ReservationTTL = 0 },
		"shards":      func(c *Config) { c.HostShards = 0 },
		"log level":   func(c *Config) { c.LogLevel = "loud" },
	} {
		t.Run(name, func(t *testing.T) {
			cfg := base
			mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), dcb.ErrValidation)
		})
	}
}

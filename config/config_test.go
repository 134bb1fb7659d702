package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bonkcomputer/points-engine/internal/application/command"
	"github.com/bonkcomputer/points-engine/internal/domain/points"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("APP_ENV", "development")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, 2*time.Second, cfg.Store.LockTimeout)
	assert.Equal(t, 5*time.Second, cfg.Engine.AwardTimeout)
	assert.Equal(t, "0.0.0.0:8080", cfg.HTTP.Addr())
	assert.False(t, cfg.Redis.Enabled)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/points")
	t.Setenv("ADMIN_API_KEYS", " k1, ,k2 ")
	t.Setenv("REDIS_ENABLED", "true")
	t.Setenv("EVENTS_REDIS_FANOUT", "true")
	t.Setenv("SCHEDULER_RECONCILE_INTERVAL", "30m")
	t.Setenv("HTTP_PORT", "9000")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
	assert.Equal(t, []string{"k1", "k2"}, cfg.HTTP.AdminAPIKeys)
	assert.True(t, cfg.Redis.EventsFanout)
	assert.Equal(t, 30*time.Minute, cfg.Scheduler.ReconcileInterval)
	assert.Equal(t, 9000, cfg.HTTP.Port)
	assert.True(t, cfg.IsProduction())
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Setenv("APP_ENV", "production")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("DB_HOST", "")
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("ADMIN_API_KEYS", "")
	t.Setenv("EVENTS_REDIS_FANOUT", "true")
	t.Setenv("REDIS_ENABLED", "false")
	t.Setenv("DB_LOCK_TIMEOUT", "10s")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "DATABASE_URL is required")
	assert.Contains(t, msg, "ADMIN_API_KEYS is required")
	assert.Contains(t, msg, "EVENTS_REDIS_FANOUT requires REDIS_ENABLED")
	assert.Contains(t, msg, "DB_LOCK_TIMEOUT must be shorter")
}

func TestLoadFile(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HTTP_HOST", "127.0.0.1")
	for _, key := range []string{"HTTP_PORT", "LOG_LEVEL"} {
		t.Setenv(key, "")
		require.NoError(t, os.Unsetenv(key))
	}

	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("HTTP_PORT=9100\nLOG_LEVEL=debug\nHTTP_HOST=10.0.0.1\n"), 0o600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9100", cfg.HTTP.Addr())
	assert.Equal(t, "debug", cfg.Observability.LogLevel)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.env"))
	assert.NoError(t, err)
}

func TestLoad_MalformedValuesFallBack(t *testing.T) {
	t.Setenv("APP_ENV", "development")
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("HTTP_PORT", "eighty")
	t.Setenv("AWARD_TIMEOUT", "soon")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.HTTP.Port)
	assert.Equal(t, 5*time.Second, cfg.Engine.AwardTimeout)
}

func TestParseRules_Overrides(t *testing.T) {
	doc := []byte(`
rules:
  TRADE_COMPLETED: {base: 30, daily_limit: 200}
  STREAK_BONUS: {base: 40, daily_limit: 1}
streak:
  tiers:
    - {min_streak: 3, multiplier: 1.5}
recognition:
  trade_volume: "250000.50"
  achievements: 8
referee_bonus: 300
`)
	rf, err := ParseRules(doc)
	require.NoError(t, err)

	cfg, err := rf.Apply(command.DefaultEngineConfig())
	require.NoError(t, err)

	trade, _ := cfg.Rules.Lookup(points.ActionTradeCompleted)
	assert.Equal(t, points.Rule{Base: 30, DailyLimit: 200}, trade)
	login, _ := cfg.Rules.Lookup(points.ActionDailyLogin)
	assert.Equal(t, int64(10), login.Base)

	assert.Equal(t, int64(40), cfg.Streak.BaseBonus)
	assert.Equal(t, int64(20), cfg.Streak.BonusFor(3))
	assert.True(t, cfg.Recognition.TradeVolume.Equal(decimal.RequireFromString("250000.50")))
	assert.Equal(t, 8, cfg.Recognition.Achievements)
	assert.Equal(t, int64(1000), cfg.Recognition.Points)
	assert.Equal(t, int64(300), cfg.RefereeBonus)
}

func TestParseRules_Rejects(t *testing.T) {
	_, err := ParseRules([]byte("rulez: {}"))
	assert.Error(t, err)

	rf, err := ParseRules([]byte("rules:\n  MINING: {base: 1}\n"))
	require.NoError(t, err)
	_, err = rf.Apply(command.DefaultEngineConfig())
	assert.ErrorContains(t, err, "unknown action kind")

	rf, err = ParseRules([]byte("recognition:\n  trade_volume: lots\n"))
	require.NoError(t, err)
	_, err = rf.Apply(command.DefaultEngineConfig())
	assert.ErrorContains(t, err, "trade_volume")
}

func TestLoadRules(t *testing.T) {
	base := command.DefaultEngineConfig()

	cfg, err := LoadRules("", base)
	require.NoError(t, err)
	assert.Equal(t, base.RefereeBonus, cfg.RefereeBonus)

	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("referee_bonus: 125\n"), 0o600))
	cfg, err = LoadRules(path, base)
	require.NoError(t, err)
	assert.Equal(t, int64(125), cfg.RefereeBonus)

	_, err = LoadRules(filepath.Join(t.TempDir(), "missing.yaml"), base)
	assert.Error(t, err)
}

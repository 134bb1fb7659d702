package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Store drivers.
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Config is the process configuration, read from the environment and an
// optional dotenv file (see LoadFile).
type Config struct {
	App           AppConfig
	Store         StoreConfig
	Engine        EngineConfig
	Redis         RedisConfig
	HTTP          HTTPConfig
	Scheduler     SchedulerConfig
	Observability ObservabilityConfig
}

type AppConfig struct {
	Name            string
	Environment     Environment
	Debug           bool
	Version         string
	ShutdownTimeout time.Duration
}

// StoreConfig selects and configures the ledger store.
type StoreConfig struct {
	// Driver is "postgres" or "memory".
	Driver string

	// DatabaseURL is a pgx connection string; DB_HOST and friends are
	// assembled into one when it is unset.
	DatabaseURL string

	MaxConns        int32
	MinConns        int32
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// LockTimeout bounds the wait for user row locks.
	LockTimeout time.Duration

	// MigrateOnStart applies pending migrations when the server boots.
	MigrateOnStart bool
}

// EngineConfig holds award pipeline settings that come from the environment.
// Point rules and thresholds come from RulesFile.
type EngineConfig struct {
	// AwardTimeout bounds one operation, lock wait included.
	AwardTimeout time.Duration

	// RulesFile is an optional YAML file overriding the stock rules.
	RulesFile string

	// SeedCatalog upserts the stock achievement catalog on start.
	SeedCatalog bool
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Enabled bool

	// URL (redis://...) overrides Host, Port, Password and DB.
	URL string

	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// KeyPrefix namespaces every key.
	KeyPrefix string

	// EventsFanout publishes domain events to other instances over pub/sub.
	EventsFanout bool
	EventChannel string
}

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// AdminAPIKeys guard the admin routes (adjust, reconcile, seed).
	AdminAPIKeys []string
}

// Addr returns host:port.
func (c HTTPConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// SchedulerConfig drives cmd/worker.
type SchedulerConfig struct {
	Enabled              bool
	ReconcileInterval    time.Duration
	RankRebuildInterval  time.Duration
	ReconcilePageSize    int
	ReconcileConcurrency int
	JobTimeout           time.Duration
}

type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string
}

// Load reads the configuration and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		App:           loadApp(),
		Store:         loadStore(),
		Engine:        loadEngine(),
		Redis:         loadRedis(),
		HTTP:          loadHTTP(),
		Scheduler:     loadScheduler(),
		Observability: ObservabilityConfig{LogLevel: env("LOG_LEVEL", "info"), LogFormat: env("LOG_FORMAT", "json")},
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// LoadFile applies a dotenv file, then calls Load. Variables already set in
// the environment win over the file, and a missing file is not an error.
func LoadFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}
	return Load()
}

func loadApp() AppConfig {
	e := Environment(env("APP_ENV", string(EnvDevelopment)))
	return AppConfig{
		Name:            env("APP_NAME", "points-engine"),
		Environment:     e,
		Debug:           e == EnvDevelopment || envBool("APP_DEBUG", false),
		Version:         env("APP_VERSION", "0.1.0"),
		ShutdownTimeout: envDuration("APP_SHUTDOWN_TIMEOUT", 15*time.Second),
	}
}

// databaseURL prefers DATABASE_URL and falls back to the DB_* parts. It
// returns "" when neither a URL nor a host and user are set.
func databaseURL() string {
	if u := env("DATABASE_URL", ""); u != "" {
		return u
	}
	host, user := env("DB_HOST", ""), env("DB_USER", "")
	if host == "" || user == "" {
		return ""
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		user, env("DB_PASSWORD", ""), host, env("DB_PORT", "5432"),
		env("DB_NAME", "points"), env("DB_SSLMODE", "disable"))
}

func loadStore() StoreConfig {
	url := databaseURL()
	driver := StoreDriverPostgres
	if url == "" {
		driver = StoreDriverMemory
	}
	return StoreConfig{
		Driver:          strings.ToLower(env("STORE_DRIVER", driver)),
		DatabaseURL:     url,
		MaxConns:        int32(envInt("DB_MAX_CONNS", 20)),
		MinConns:        int32(envInt("DB_MIN_CONNS", 2)),
		ConnMaxLifetime: envDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		ConnMaxIdleTime: envDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		LockTimeout:     envDuration("DB_LOCK_TIMEOUT", 2*time.Second),
		MigrateOnStart:  envBool("DB_MIGRATE_ON_START", true),
	}
}

func loadEngine() EngineConfig {
	return EngineConfig{
		AwardTimeout: envDuration("AWARD_TIMEOUT", 5*time.Second),
		RulesFile:    env("RULES_FILE", ""),
		SeedCatalog:  envBool("SEED_CATALOG", true),
	}
}

func loadRedis() RedisConfig {
	return RedisConfig{
		Enabled:      envBool("REDIS_ENABLED", false),
		URL:          env("REDIS_URL", ""),
		Host:         env("REDIS_HOST", "localhost"),
		Port:         envInt("REDIS_PORT", 6379),
		Password:     env("REDIS_PASSWORD", ""),
		DB:           envInt("REDIS_DB", 0),
		PoolSize:     envInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: envInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  envDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  envDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: envDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		KeyPrefix:    env("REDIS_KEY_PREFIX", "points:"),
		EventsFanout: envBool("EVENTS_REDIS_FANOUT", false),
		EventChannel: env("EVENTS_REDIS_CHANNEL", "points-engine:events"),
	}
}

func loadHTTP() HTTPConfig {
	return HTTPConfig{
		Host:         env("HTTP_HOST", "0.0.0.0"),
		Port:         envInt("HTTP_PORT", 8080),
		ReadTimeout:  envDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		WriteTimeout: envDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:  envDuration("HTTP_IDLE_TIMEOUT", time.Minute),
		AdminAPIKeys: envList("ADMIN_API_KEYS"),
	}
}

func loadScheduler() SchedulerConfig {
	return SchedulerConfig{
		Enabled:              envBool("SCHEDULER_ENABLED", true),
		ReconcileInterval:    envDuration("SCHEDULER_RECONCILE_INTERVAL", time.Hour),
		RankRebuildInterval:  envDuration("SCHEDULER_RANK_REBUILD_INTERVAL", 15*time.Minute),
		ReconcilePageSize:    envInt("SCHEDULER_RECONCILE_PAGE_SIZE", 200),
		ReconcileConcurrency: envInt("SCHEDULER_RECONCILE_CONCURRENCY", 4),
		JobTimeout:           envDuration("SCHEDULER_JOB_TIMEOUT", 10*time.Minute),
	}
}

// Validate reports every problem at once, one per line.
func (c *Config) Validate() error {
	var errs []error
	fail := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	switch c.Store.Driver {
	case StoreDriverPostgres:
		if c.Store.DatabaseURL == "" {
			fail("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case StoreDriverMemory:
		if c.IsProduction() {
			fail("STORE_DRIVER=memory is not allowed in production")
		}
	default:
		fail("STORE_DRIVER must be postgres or memory, got %q", c.Store.Driver)
	}

	switch {
	case c.Store.LockTimeout <= 0:
		fail("DB_LOCK_TIMEOUT must be positive")
	case c.Engine.AwardTimeout <= 0:
		fail("AWARD_TIMEOUT must be positive")
	case c.Store.LockTimeout >= c.Engine.AwardTimeout:
		fail("DB_LOCK_TIMEOUT must be shorter than AWARD_TIMEOUT")
	}

	if c.Redis.EventsFanout && !c.Redis.Enabled {
		fail("EVENTS_REDIS_FANOUT requires REDIS_ENABLED")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		fail("HTTP_PORT must be 1-65535, got %d", c.HTTP.Port)
	}
	if c.IsProduction() && len(c.HTTP.AdminAPIKeys) == 0 {
		fail("ADMIN_API_KEYS is required in production")
	}
	if c.Scheduler.Enabled {
		if c.Scheduler.ReconcileInterval < time.Second {
			fail("SCHEDULER_RECONCILE_INTERVAL must be at least 1s")
		}
		if c.Scheduler.RankRebuildInterval < time.Second {
			fail("SCHEDULER_RANK_REBUILD_INTERVAL must be at least 1s")
		}
	}
	return errors.Join(errs...)
}

func (c *Config) IsDevelopment() bool { return c.App.Environment == EnvDevelopment }
func (c *Config) IsProduction() bool  { return c.App.Environment == EnvProduction }

// lookup parses the trimmed value of key. Unset, blank and malformed values
// all yield def.
func lookup[T any](key string, def T, parse func(string) (T, error)) T {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := parse(raw)
	if err != nil {
		return def
	}
	return v
}

func env(key, def string) string {
	return lookup(key, def, func(s string) (string, error) { return s, nil })
}

func envBool(key string, def bool) bool { return lookup(key, def, strconv.ParseBool) }

func envInt(key string, def int) int { return lookup(key, def, strconv.Atoi) }

func envDuration(key string, def time.Duration) time.Duration {
	return lookup(key, def, time.ParseDuration)
}

// envList splits a comma separated value, dropping empty items.
func envList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"

	"github.com/skillmarket/points/internal/app/ledger"
	"github.com/skillmarket/points/internal/app/limits"
	"github.com/skillmarket/points/internal/app/sweeper"
	"github.com/skillmarket/points/internal/infra/postgres"
)

// Config is the pointsd configuration, loaded from config.toml.
// Durations and amounts are strings so the file stays human-editable.
type Config struct {
	API      APIConfig      `toml:"api"`
	Database DatabaseConfig `toml:"database"`
	Ledger   LedgerConfig   `toml:"ledger"`
	Limits   LimitsConfig   `toml:"limits"`
	Sweeper  SweeperConfig  `toml:"sweeper"`
	Redis    RedisConfig    `toml:"redis"`
	Kafka    KafkaConfig    `toml:"kafka"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

type APIConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	ReadTimeout     string `toml:"read_timeout"`
	WriteTimeout    string `toml:"write_timeout"`
	ShutdownTimeout string `toml:"shutdown_timeout"`
}

// Addr returns host:port.
func (c APIConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type DatabaseConfig struct {
	Driver   string `toml:"driver"` // sqlite or postgres
	Path     string `toml:"path"`   // sqlite data directory
	URL      string `toml:"url"`    // postgres connection string
	MaxConns int    `toml:"max_conns"`
}

type LedgerConfig struct {
	RegistrationBonus string `toml:"registration_bonus"`
	BonusTTL          string `toml:"bonus_ttl"`
}

type LimitsConfig struct {
	ContactViewPrice string `toml:"contact_view_price"`
	RequestPrice     string `toml:"request_price"`
}

type SweeperConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
	LockKey  string `toml:"lock_key"`
	LockTTL  string `toml:"lock_ttl"`
	Timeout  string `toml:"timeout"`
}

type RedisConfig struct {
	Enabled  bool   `toml:"enabled"`
	Addr     string `toml:"addr"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

type KafkaConfig struct {
	Enabled bool     `toml:"enabled"`
	Brokers []string `toml:"brokers"`
	Topic   string   `toml:"topic"`
	Async   bool     `toml:"async"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// DefaultConfig returns a config that runs on an embedded SQLite store
// with no redis or kafka.
func DefaultConfig() Config {
	sw := sweeper.DefaultConfig()
	return Config{
		API: APIConfig{
			Host:            "127.0.0.1",
			Port:            8080,
			ReadTimeout:     "15s",
			WriteTimeout:    "30s",
			ShutdownTimeout: "10s",
		},
		Database: DatabaseConfig{
			Driver:   "sqlite",
			Path:     defaultDataDir(),
			MaxConns: int(postgres.DefaultPoolConfig().MaxConns),
		},
		Ledger: LedgerConfig{
			RegistrationBonus: ledger.DefaultRegistrationBonus.String(),
			BonusTTL:          ledger.DefaultBonusTTL.String(),
		},
		Limits: LimitsConfig{
			ContactViewPrice: limits.DefaultContactViewPrice.String(),
			RequestPrice:     limits.DefaultRequestPrice.String(),
		},
		Sweeper: SweeperConfig{
			Enabled:  sw.Enabled,
			Schedule: sw.Schedule,
			LockKey:  sw.LockKey,
			LockTTL:  sw.LockTTL.String(),
			Timeout:  sw.Timeout.String(),
		},
		Redis: RedisConfig{
			Addr: "127.0.0.1:6379",
		},
		Kafka: KafkaConfig{
			Topic: "points.ledger",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".points"
	}
	return filepath.Join(home, ".points")
}

// LoadConfig reads .env (if present), then the TOML file at path (if
// non-empty and present), then POINTS_* environment overrides.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("load config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.API.Host = getEnv("POINTS_API_HOST", c.API.Host)
	c.API.Port = getEnvInt("POINTS_API_PORT", c.API.Port)
	c.Database.Driver = getEnv("POINTS_DB_DRIVER", c.Database.Driver)
	c.Database.Path = getEnv("POINTS_DB_PATH", c.Database.Path)
	c.Database.URL = getEnv("POINTS_DATABASE_URL", c.Database.URL)
	c.Ledger.RegistrationBonus = getEnv("POINTS_REGISTRATION_BONUS", c.Ledger.RegistrationBonus)
	c.Ledger.BonusTTL = getEnv("POINTS_BONUS_TTL", c.Ledger.BonusTTL)
	c.Sweeper.Schedule = getEnv("POINTS_SWEEPER_SCHEDULE", c.Sweeper.Schedule)
	if v := os.Getenv("POINTS_REDIS_ADDR"); v != "" {
		c.Redis.Enabled = true
		c.Redis.Addr = v
	}
	c.Redis.Password = getEnv("POINTS_REDIS_PASSWORD", c.Redis.Password)
	if v := os.Getenv("POINTS_KAFKA_BROKERS"); v != "" {
		c.Kafka.Enabled = true
		c.Kafka.Brokers = strings.Split(v, ",")
	}
	c.Kafka.Topic = getEnv("POINTS_KAFKA_TOPIC", c.Kafka.Topic)
	c.Log.Level = getEnv("POINTS_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("POINTS_LOG_FORMAT", c.Log.Format)
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return errors.New("database.path is required for sqlite")
		}
	case "postgres":
		if c.Database.URL == "" {
			return errors.New("database.url is required for postgres")
		}
	default:
		return fmt.Errorf("unknown database.driver %q", c.Database.Driver)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("api.port %d out of range", c.API.Port)
	}
	for name, v := range map[string]string{
		"ledger.registration_bonus": c.Ledger.RegistrationBonus,
		"limits.contact_view_price": c.Limits.ContactViewPrice,
		"limits.request_price":      c.Limits.RequestPrice,
	} {
		d, err := decimal.NewFromString(v)
		if err != nil || !d.IsPositive() {
			return fmt.Errorf("%s must be a positive number, got %q", name, v)
		}
	}
	if _, err := time.ParseDuration(c.Ledger.BonusTTL); err != nil {
		return fmt.Errorf("ledger.bonus_ttl: %w", err)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return errors.New("kafka.enabled needs brokers and topic")
	}
	return nil
}

// SweeperSettings converts the [sweeper] section.
func (c *Config) SweeperSettings() sweeper.Config {
	def := sweeper.DefaultConfig()
	return sweeper.Config{
		Enabled:  c.Sweeper.Enabled,
		Schedule: c.Sweeper.Schedule,
		LockKey:  c.Sweeper.LockKey,
		LockTTL:  parseDuration(c.Sweeper.LockTTL, def.LockTTL),
		Timeout:  parseDuration(c.Sweeper.Timeout, def.Timeout),
	}
}

// parseDuration parses s, returning fallback when s is empty or invalid.
func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

// parseAmount parses a decimal string, returning fallback when s is empty
// or invalid.
func parseAmount(s string, fallback decimal.Decimal) decimal.Decimal {
	if s == "" {
		return fallback
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return d
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

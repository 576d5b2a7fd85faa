/*
config.go - Process configuration

SOURCES (later wins):
  1. Defaults
  2. YAML file (optional). The legacy layout with top-level "token" and
     "db" keys is accepted.
  3. .env in the working directory (optional), loaded into the environment
     without overriding variables that are already set
  4. Environment variables

ENVIRONMENT:
  BOT_TOKEN, DB_DRIVER, DATABASE_URL, REDIS_ADDR, REDIS_PASSWORD, REDIS_DB,
  AMQP_URL, HTTP_ADDR, API_ADDR, API_TOKEN, TELEGRAM_MODE, WEBHOOK_SECRET, LOG_LEVEL,
  LOG_FORMAT, WORKERS
*/
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"

	ModePolling = "polling"
	ModeWebhook = "webhook"
)

type Config struct {
	Telegram TelegramConfig `yaml:"telegram"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	AMQP     AMQPConfig     `yaml:"amqp"`
	HTTP     HTTPConfig     `yaml:"http"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`

	// Legacy keys.
	Token string `yaml:"token"`
	DB    string `yaml:"db"`
}

type TelegramConfig struct {
	Token         string `yaml:"token"`
	Mode          string `yaml:"mode"`
	WebhookSecret string `yaml:"webhook_secret"`
	Workers       int    `yaml:"workers"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	URL    string `yaml:"url"`
}

// RedisConfig is optional. Empty Addr keeps prompt tracking in memory.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AMQPConfig is optional. Empty URL disables event publishing.
type AMQPConfig struct {
	URL string `yaml:"url"`
}

// HTTPConfig is the public listener: health and, in webhook mode, the
// Telegram webhook.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// APIConfig is the read-only ledger API. Empty Addr disables it. When Token
// is set every /api request needs "Authorization: Bearer <token>".
type APIConfig struct {
	Addr  string `yaml:"addr"`
	Token string `yaml:"token"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Telegram: TelegramConfig{Mode: ModePolling, Workers: 8},
		Database: DatabaseConfig{Driver: DriverSQLite, URL: "debts.db"},
		HTTP:     HTTPConfig{Addr: ":8080"},
		Log:      LogConfig{Level: "info", Format: "console"},
	}
}

// Load builds the configuration. path may be empty.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if cfg.Telegram.Token == "" {
		cfg.Telegram.Token = cfg.Token
	}
	if cfg.DB != "" && cfg.Database.URL == Default().Database.URL {
		cfg.Database.URL = cfg.DB
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	setString(&c.Telegram.Token, "BOT_TOKEN")
	setString(&c.Telegram.Mode, "TELEGRAM_MODE")
	setString(&c.Telegram.WebhookSecret, "WEBHOOK_SECRET")
	setString(&c.Database.Driver, "DB_DRIVER")
	setString(&c.Database.URL, "DATABASE_URL")
	setString(&c.Redis.Addr, "REDIS_ADDR")
	setString(&c.Redis.Password, "REDIS_PASSWORD")
	setString(&c.AMQP.URL, "AMQP_URL")
	setString(&c.HTTP.Addr, "HTTP_ADDR")
	setString(&c.API.Addr, "API_ADDR")
	setString(&c.API.Token, "API_TOKEN")
	setString(&c.Log.Level, "LOG_LEVEL")
	setString(&c.Log.Format, "LOG_FORMAT")

	if err := setInt(&c.Redis.DB, "REDIS_DB"); err != nil {
		return err
	}
	return setInt(&c.Telegram.Workers, "WORKERS")
}

// Validate reports every problem at once.
func (c Config) Validate() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("telegram token is required (BOT_TOKEN)"))
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Database.URL == "" {
			errs = append(errs, fmt.Errorf("database url is required for driver %q", c.Database.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown database driver %q", c.Database.Driver))
	}
	switch c.Telegram.Mode {
	case ModePolling:
	case ModeWebhook:
		if c.Telegram.WebhookSecret == "" {
			errs = append(errs, errors.New("webhook mode requires a webhook secret (WEBHOOK_SECRET)"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown telegram mode %q", c.Telegram.Mode))
	}
	if c.Telegram.Mode == ModeWebhook && c.API.Addr != "" && c.API.Addr == c.HTTP.Addr && c.API.Token == "" {
		errs = append(errs, errors.New("the read api shares the public webhook listener; set API_TOKEN or a separate API_ADDR"))
	}
	if c.Telegram.Workers < 1 {
		errs = append(errs, errors.New("workers must be at least 1"))
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) error {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

// Package config loads process configuration from config.yaml, a .env
// file and PTGUARD_ environment variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const EnvPrefix = "PTGUARD"

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Tracker      TrackerConfig      `mapstructure:"tracker"`
	Scheduler    SchedulerConfig    `mapstructure:"scheduler"`
	Log          LogConfig          `mapstructure:"log"`
	SessionStore SessionStoreConfig `mapstructure:"session_store"`
	Notify       NotifyConfig       `mapstructure:"notify"`
}

type ServerConfig struct {
	Addr     string `mapstructure:"addr"`
	APIToken string `mapstructure:"api_token"`
}

type DatabaseConfig struct {
	// Driver is sqlite, postgres or memory.
	Driver   string         `mapstructure:"driver"`
	Path     string         `mapstructure:"path"`
	Postgres PostgresConfig `mapstructure:"postgres"`
}

type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

type TrackerConfig struct {
	UserAgent           string        `mapstructure:"user_agent"`
	Timeout             time.Duration `mapstructure:"timeout"`
	RequestDelay        time.Duration `mapstructure:"request_delay"`
	TimeZone            string        `mapstructure:"time_zone"`
	UnregisteredMarkers []string      `mapstructure:"unregistered_markers"`
}

type SchedulerConfig struct {
	GraceOffset  time.Duration `mapstructure:"grace_offset"`
	MisfireGrace time.Duration `mapstructure:"misfire_grace"`
	Workers      int           `mapstructure:"workers"`
	ExpiryLead   time.Duration `mapstructure:"expiry_lead"`
	// EventDebounce gathers download client events before reconciling.
	EventDebounce time.Duration `mapstructure:"event_debounce"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

type SessionStoreConfig struct {
	// Driver is memory or redis.
	Driver   string        `mapstructure:"driver"`
	TTL      time.Duration `mapstructure:"ttl"`
	MaxItems int           `mapstructure:"max_items"`
	Redis    RedisConfig   `mapstructure:"redis"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

type TelegramConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	BotToken     string `mapstructure:"bot_token"`
	ChatID       int64  `mapstructure:"chat_id"`
	WarningsOnly bool   `mapstructure:"warnings_only"`
}

var (
	ErrDriver        = errors.New("unknown database driver")
	ErrSessionDriver = errors.New("unknown session store driver")
	ErrTelegram      = errors.New("telegram enabled without bot token or chat id")
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.addr", ":9090")
	v.SetDefault("server.api_token", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "ptguard.db")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.name", "ptguard")
	v.SetDefault("database.postgres.user", "ptguard")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.sslmode", "disable")

	v.SetDefault("tracker.user_agent", "")
	v.SetDefault("tracker.timeout", 30*time.Second)
	v.SetDefault("tracker.request_delay", 2*time.Second)
	v.SetDefault("tracker.time_zone", "Asia/Shanghai")
	v.SetDefault("tracker.unregistered_markers", []string{"unregistered", "not registered", "torrent not exists"})

	v.SetDefault("scheduler.grace_offset", 10*time.Second)
	v.SetDefault("scheduler.misfire_grace", 5*time.Minute)
	v.SetDefault("scheduler.workers", 4)
	v.SetDefault("scheduler.expiry_lead", time.Minute)
	v.SetDefault("scheduler.event_debounce", 2*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 50)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)

	v.SetDefault("session_store.driver", "memory")
	v.SetDefault("session_store.ttl", 10*time.Minute)
	v.SetDefault("session_store.max_items", 64)
	v.SetDefault("session_store.redis.addr", "localhost:6379")
	v.SetDefault("session_store.redis.password", "")
	v.SetDefault("session_store.redis.db", 0)

	v.SetDefault("notify.telegram.enabled", false)
	v.SetDefault("notify.telegram.bot_token", "")
	v.SetDefault("notify.telegram.chat_id", 0)
	v.SetDefault("notify.telegram.warnings_only", true)
}

// Load reads the configuration. file, when set, replaces the search of
// ".", "./config" and "/etc/ptguard" for config.yaml. A missing config
// file or .env file is not an error.
func Load(file string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	v := viper.New()
	setDefaults(v)
	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ptguard")
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the enumerated settings.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("%w: %q", ErrDriver, c.Database.Driver)
	}
	switch c.SessionStore.Driver {
	case "memory", "redis":
	default:
		return fmt.Errorf("%w: %q", ErrSessionDriver, c.SessionStore.Driver)
	}
	if t := c.Notify.Telegram; t.Enabled && (t.BotToken == "" || t.ChatID == 0) {
		return ErrTelegram
	}
	return nil
}

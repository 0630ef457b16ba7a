package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	DefaultConfigPath        = "config.toml"
	DefaultHTTPAddr          = ":8080"
	DefaultJWTExpiresIn      = "24h"
	DefaultPGHost            = "127.0.0.1"
	DefaultPGPort            = 5432
	DefaultPGUser            = "postgres"
	DefaultPGDatabase        = "courier"
	DefaultPGSSLMode         = "disable"
	DefaultStorageDriver     = "postgres"
	DefaultAccountsSource    = "database"
	DefaultAccountsFile      = "accounts.yaml"
	DefaultDynamoTable       = "courier-threads"
	DefaultAssistantBaseURL  = "https://api.openai.com/v1"
	DefaultAssistantModel    = "gpt-3.5-turbo"
	DefaultInstructions      = "Generate a response based on the conversation context."
	DefaultPollInterval      = "1s"
	DefaultMaxPollDuration   = "2m"
	DefaultRetryMax          = 3
	DefaultRetryBackoff      = "1s"
	DefaultOutboundTimeout   = "10s"
	DefaultDedupeTTL         = "10m"
	DefaultDedupeSize        = 10000
	DefaultTelegramSchedule  = "@every 5m"
	DefaultInstagramGraphURL = "https://graph.instagram.com"
)

type Config struct {
	Log       LogConfig       `toml:"log"`
	Server    ServerConfig    `toml:"server"`
	Auth      AuthConfig      `toml:"auth"`
	Postgres  PostgresConfig  `toml:"postgres"`
	Storage   StorageConfig   `toml:"storage"`
	Accounts  AccountsConfig  `toml:"accounts"`
	AWS       AWSConfig       `toml:"aws"`
	Assistant AssistantConfig `toml:"assistant"`
	Dispatch  DispatchConfig  `toml:"dispatch"`
	Outbound  OutboundConfig  `toml:"outbound"`
	Webhook   WebhookConfig   `toml:"webhook"`
	Channels  ChannelsConfig  `toml:"channels"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type AuthConfig struct {
	JWTSecret    string `toml:"jwt_secret"`
	JWTExpiresIn string `toml:"jwt_expires_in"`
}

type PostgresConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

// DSN renders a postgres connection string with the given scheme ("postgres" or "pgx5").
func (c PostgresConfig) DSN(scheme string) string {
	if scheme == "" {
		scheme = "postgres"
	}
	userinfo := c.User
	if c.Password != "" {
		userinfo += ":" + c.Password
	}
	return fmt.Sprintf("%s://%s@%s:%d/%s?sslmode=%s", scheme, userinfo, c.Host, c.Port, c.Database, c.SSLMode)
}

// StorageConfig selects the thread store backend: postgres, sqlite, mysql, dynamodb or memory.
type StorageConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
}

// AccountsConfig selects where owner accounts and their assistant assignments come from.
type AccountsConfig struct {
	Source string `toml:"source"`
	File   string `toml:"file"`
}

type AWSConfig struct {
	Region      string `toml:"region"`
	DynamoTable string `toml:"dynamodb_table"`
	Endpoint    string `toml:"endpoint"`
}

type AssistantConfig struct {
	BaseURL         string `toml:"base_url"`
	APIKey          string `toml:"api_key"`
	Model           string `toml:"model"`
	Instructions    string `toml:"instructions"`
	PollInterval    string `toml:"poll_interval"`
	MaxPollDuration string `toml:"max_poll_duration"`
}

type DispatchConfig struct {
	MaxActiveWorkers int `toml:"max_active_workers"`
}

type OutboundConfig struct {
	RetryMax     int    `toml:"retry_max"`
	RetryBackoff string `toml:"retry_backoff"`
	Timeout      string `toml:"timeout"`
}

type WebhookConfig struct {
	DedupeTTL  string `toml:"dedupe_ttl"`
	DedupeSize int    `toml:"dedupe_size"`
}

type ChannelsConfig struct {
	Instagram InstagramConfig `toml:"instagram"`
	WhatsApp  WhatsAppConfig  `toml:"whatsapp"`
	Telegram  TelegramConfig  `toml:"telegram"`
}

type InstagramConfig struct {
	GraphURL    string `toml:"graph_url"`
	VerifyToken string `toml:"verify_token"`
}

// WhatsAppConfig holds Green API webhook settings. When WebhookToken is set, webhook calls
// must carry it as a bearer token.
type WhatsAppConfig struct {
	WebhookToken string `toml:"webhook_token"`
}

type TelegramConfig struct {
	RefreshSchedule string `toml:"refresh_schedule"`
}

func Load(path string) (Config, error) {
	cfg := Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Server: ServerConfig{
			Addr: DefaultHTTPAddr,
		},
		Auth: AuthConfig{
			JWTExpiresIn: DefaultJWTExpiresIn,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
		Storage: StorageConfig{
			Driver: DefaultStorageDriver,
		},
		Accounts: AccountsConfig{
			Source: DefaultAccountsSource,
			File:   DefaultAccountsFile,
		},
		AWS: AWSConfig{
			DynamoTable: DefaultDynamoTable,
		},
		Assistant: AssistantConfig{
			BaseURL:         DefaultAssistantBaseURL,
			Model:           DefaultAssistantModel,
			Instructions:    DefaultInstructions,
			PollInterval:    DefaultPollInterval,
			MaxPollDuration: DefaultMaxPollDuration,
		},
		Outbound: OutboundConfig{
			RetryMax:     DefaultRetryMax,
			RetryBackoff: DefaultRetryBackoff,
			Timeout:      DefaultOutboundTimeout,
		},
		Webhook: WebhookConfig{
			DedupeTTL:  DefaultDedupeTTL,
			DedupeSize: DefaultDedupeSize,
		},
		Channels: ChannelsConfig{
			Instagram: InstagramConfig{GraphURL: DefaultInstagramGraphURL},
			Telegram:  TelegramConfig{RefreshSchedule: DefaultTelegramSchedule},
		},
	}

	if path == "" {
		path = DefaultConfigPath
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Validate checks enum fields and duration strings.
func (c Config) Validate() error {
	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "postgres", "sqlite", "mysql", "dynamodb", "memory":
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch strings.ToLower(strings.TrimSpace(c.Accounts.Source)) {
	case "database":
		switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
		case "dynamodb", "memory":
			return fmt.Errorf("accounts.source \"database\" needs a sql storage.driver, got %q", c.Storage.Driver)
		}
	case "file":
	default:
		return fmt.Errorf("accounts.source %q is not supported", c.Accounts.Source)
	}
	if c.Dispatch.MaxActiveWorkers < 0 {
		return fmt.Errorf("dispatch.max_active_workers must not be negative")
	}
	durations := map[string]string{
		"assistant.poll_interval":     c.Assistant.PollInterval,
		"assistant.max_poll_duration": c.Assistant.MaxPollDuration,
		"outbound.retry_backoff":      c.Outbound.RetryBackoff,
		"outbound.timeout":            c.Outbound.Timeout,
		"webhook.dedupe_ttl":          c.Webhook.DedupeTTL,
		"auth.jwt_expires_in":         c.Auth.JWTExpiresIn,
	}
	for name, raw := range durations {
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if _, err := time.ParseDuration(raw); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}

// Duration parses raw, returning fallback when raw is blank or invalid.
func Duration(raw string, fallback time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// HTTPConfig holds the API listener settings.
type HTTPConfig struct {
	Port int `mapstructure:"port" yaml:"port"`
}

// DatabaseConfig points at the SQLite database file.
type DatabaseConfig struct {
	// Path is the database file; ":memory:" gives a throwaway store.
	Path string `mapstructure:"path" yaml:"path"`
}

// MailboxConfig describes the remote mailbox the service ingests from.
type MailboxConfig struct {
	// Provider selects the mailbox backend: "gmail" (REST API) or "imap".
	Provider string `mapstructure:"provider" yaml:"provider"`

	// CredentialsPath is the OAuth client descriptor file
	// (an "installed" or "web" JSON blob from the provider console).
	CredentialsPath string `mapstructure:"credentials_path" yaml:"credentials_path"`

	// TokenPath is where the OAuth token is persisted when TokenBackend
	// is "file".
	TokenPath string `mapstructure:"token_path" yaml:"token_path"`

	// TokenBackend is "file" or "keyring".
	TokenBackend string `mapstructure:"token_backend" yaml:"token_backend"`

	// Query is the provider search query used by a sync run.
	Query string `mapstructure:"query" yaml:"query"`

	MaxResults int `mapstructure:"max_results" yaml:"max_results"`

	// Address is the mailbox login, required by the IMAP backend.
	Address string `mapstructure:"address" yaml:"address"`

	IMAPHost string `mapstructure:"imap_host" yaml:"imap_host"`
	IMAPPort int    `mapstructure:"imap_port" yaml:"imap_port"`
	SMTPHost string `mapstructure:"smtp_host" yaml:"smtp_host"`
	SMTPPort int    `mapstructure:"smtp_port" yaml:"smtp_port"`
}

// SyncConfig controls the background poller.
type SyncConfig struct {
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	UseAI    bool          `mapstructure:"use_ai" yaml:"use_ai"`
}

// AIConfig holds settings for the remote classifier.
type AIConfig struct {
	APIKey            string        `mapstructure:"api_key" yaml:"api_key"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	Model             string        `mapstructure:"model" yaml:"model"`
	MaxTokens         int           `mapstructure:"max_tokens" yaml:"max_tokens"`
	Timeout           time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RequestsPerMinute int           `mapstructure:"requests_per_minute" yaml:"requests_per_minute"`
}

// Enabled reports whether an API key is configured.
func (c AIConfig) Enabled() bool {
	return c.APIKey != ""
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	// Env is "development" or "production"; it selects the log format.
	Env string `mapstructure:"env" yaml:"env"`

	HTTP     HTTPConfig     `mapstructure:"http" yaml:"http"`
	Database DatabaseConfig `mapstructure:"database" yaml:"database"`
	Mailbox  MailboxConfig  `mapstructure:"mailbox" yaml:"mailbox"`
	Sync     SyncConfig     `mapstructure:"sync" yaml:"sync"`
	AI       AIConfig       `mapstructure:"ai" yaml:"ai"`
}

func (c *AppConfig) IsProduction() bool {
	return c.Env == "production"
}

func (c *AppConfig) IsDevelopment() bool {
	return c.Env == "development"
}

// DefaultSyncQuery selects unread mail plus everything in the inbox from
// the last week.
const DefaultSyncQuery = "is:unread OR (in:inbox newer_than:7d)"

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/mondzorg-inbox/config.yaml.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "config.yaml")
	}
	return filepath.Join(home, ".config", "mondzorg-inbox", "config.yaml")
}

var configDefaults = map[string]any{
	"env":                      "development",
	"http.port":                4000,
	"database.path":            "inbox.db",
	"mailbox.provider":         "gmail",
	"mailbox.credentials_path": "credentials.json",
	"mailbox.token_path":       "token.json",
	"mailbox.token_backend":    "file",
	"mailbox.query":            DefaultSyncQuery,
	"mailbox.max_results":      100,
	"mailbox.address":          "",
	"mailbox.imap_host":        "imap.gmail.com",
	"mailbox.imap_port":        993,
	"mailbox.smtp_host":        "smtp.gmail.com",
	"mailbox.smtp_port":        587,
	"sync.interval":            5 * time.Minute,
	"sync.use_ai":              true,
	"ai.api_key":               "",
	"ai.base_url":              "https://generativelanguage.googleapis.com/v1beta/openai/",
	"ai.model":                 "gemini-2.0-flash",
	"ai.max_tokens":            1024,
	"ai.timeout":               20 * time.Second,
	"ai.requests_per_minute":   60,
}

func newViper() *viper.Viper {
	v := viper.New()
	for key, value := range configDefaults {
		v.SetDefault(key, value)
	}

	// Every key can be overridden from the environment, e.g. INBOX_HTTP_PORT.
	v.SetEnvPrefix("INBOX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("ai.api_key", "INBOX_AI_API_KEY", "GEMINI_API_KEY")
	_ = v.BindEnv("http.port", "INBOX_HTTP_PORT", "PORT")

	return v
}

// LoadConfig reads configuration from the given YAML file path using Viper,
// layered under environment overrides. A .env file in the working directory
// is loaded first when present. If the YAML file does not exist, defaults
// and environment values are used.
func LoadConfig(path string) (*AppConfig, error) {
	_ = godotenv.Load()

	v := newViper()
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Mailbox.MaxResults <= 0 {
		cfg.Mailbox.MaxResults = 100
	}
	if cfg.Sync.Interval <= 0 {
		cfg.Sync.Interval = 5 * time.Minute
	}
	if cfg.Mailbox.Query == "" {
		cfg.Mailbox.Query = DefaultSyncQuery
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed. The AI key is never written.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("env", cfg.Env)
	v.Set("http", cfg.HTTP)
	v.Set("database", cfg.Database)
	v.Set("mailbox", cfg.Mailbox)
	v.Set("sync", map[string]any{
		"interval": cfg.Sync.Interval.String(),
		"use_ai":   cfg.Sync.UseAI,
	})
	v.Set("ai", map[string]any{
		"base_url":            cfg.AI.BaseURL,
		"model":               cfg.AI.Model,
		"max_tokens":          cfg.AI.MaxTokens,
		"timeout":             cfg.AI.Timeout.String(),
		"requests_per_minute": cfg.AI.RequestsPerMinute,
	})

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}

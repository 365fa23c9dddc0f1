package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	DBDriver    string
	SQLitePath  string
	DatabaseURL string

	JWTSecret          string
	AccessTokenMinutes int

	UploadDir   string
	CORSOrigins []string
	Debug       bool
	LogLevel    string

	RecallWindow        time.Duration
	RecallMode          string
	HistoryDefaultLimit int
	HistoryMaxLimit     int
	PollMaxBatch        int
	PollInterval        time.Duration
}

// ConfigFileEnv names an optional YAML file. Environment variables always
// win over values from the file.
const ConfigFileEnv = "CHAT_CONFIG"

func defaults(v *viper.Viper) {
	v.SetDefault("APP_NAME", "pollchat")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("HTTP_HOST", "0.0.0.0")
	v.SetDefault("HTTP_PORT", 8000)

	v.SetDefault("DB_DRIVER", "sqlite")
	v.SetDefault("SQLITE_PATH", "pollchat.db")
	v.SetDefault("POSTGRES_HOST", "localhost")
	v.SetDefault("POSTGRES_PORT", "5432")
	v.SetDefault("POSTGRES_USER", "postgres")
	v.SetDefault("POSTGRES_PASSWORD", "postgres")
	v.SetDefault("POSTGRES_DB", "pollchat")

	v.SetDefault("JWT_SECRET", "")
	v.SetDefault("ACCESS_TOKEN_EXPIRE_MINUTES", 60*24)

	v.SetDefault("UPLOAD_DIR", "uploads")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000,http://localhost:5173")
	v.SetDefault("DEBUG", true)
	v.SetDefault("LOG_LEVEL", "info")

	v.SetDefault("RECALL_WINDOW", 2*time.Minute)
	v.SetDefault("RECALL_MODE", "coarse")
	v.SetDefault("HISTORY_DEFAULT_LIMIT", 50)
	v.SetDefault("HISTORY_MAX_LIMIT", 200)
	v.SetDefault("POLL_MAX_BATCH", 200)
	v.SetDefault("POLL_INTERVAL", 3*time.Second)
}

func Load() (*Config, error) {
	v := viper.New()
	defaults(v)
	v.AutomaticEnv()

	if path := os.Getenv(ConfigFileEnv); path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
	}

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(v.GetString("POSTGRES_USER"), v.GetString("POSTGRES_PASSWORD")),
		Host:     fmt.Sprintf("%s:%s", v.GetString("POSTGRES_HOST"), v.GetString("POSTGRES_PORT")),
		Path:     v.GetString("POSTGRES_DB"),
		RawQuery: "sslmode=disable",
	}

	cfg := &Config{
		AppName: v.GetString("APP_NAME"),
		Env:     v.GetString("APP_ENV"),
		Host:    v.GetString("HTTP_HOST"),
		Port:    v.GetInt("HTTP_PORT"),

		DBDriver:    strings.ToLower(v.GetString("DB_DRIVER")),
		SQLitePath:  v.GetString("SQLITE_PATH"),
		DatabaseURL: u.String(),

		JWTSecret:          v.GetString("JWT_SECRET"),
		AccessTokenMinutes: v.GetInt("ACCESS_TOKEN_EXPIRE_MINUTES"),

		UploadDir:   v.GetString("UPLOAD_DIR"),
		CORSOrigins: splitList(v.GetString("CORS_ORIGINS")),
		Debug:       v.GetBool("DEBUG"),
		LogLevel:    v.GetString("LOG_LEVEL"),

		RecallWindow:        v.GetDuration("RECALL_WINDOW"),
		RecallMode:          strings.ToLower(v.GetString("RECALL_MODE")),
		HistoryDefaultLimit: v.GetInt("HISTORY_DEFAULT_LIMIT"),
		HistoryMaxLimit:     v.GetInt("HISTORY_MAX_LIMIT"),
		PollMaxBatch:        v.GetInt("POLL_MAX_BATCH"),
		PollInterval:        v.GetDuration("POLL_INTERVAL"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver)
	}
	switch c.RecallMode {
	case "coarse", "exact":
	default:
		return fmt.Errorf("RECALL_MODE must be coarse or exact, got %q", c.RecallMode)
	}
	if c.RecallWindow <= 0 {
		return fmt.Errorf("RECALL_WINDOW must be positive")
	}
	if c.HistoryMaxLimit <= 0 || c.HistoryDefaultLimit <= 0 || c.HistoryDefaultLimit > c.HistoryMaxLimit {
		return fmt.Errorf("HISTORY_DEFAULT_LIMIT must be between 1 and HISTORY_MAX_LIMIT")
	}
	if c.PollMaxBatch <= 0 {
		return fmt.Errorf("POLL_MAX_BATCH must be positive")
	}
	return nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func (c *Config) AccessTokenTTL() time.Duration {
	return time.Duration(c.AccessTokenMinutes) * time.Minute
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

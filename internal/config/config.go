package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "STORYSPARK"
	defaultHTTPAddress         = "0.0.0.0:5000"
	defaultDatabasePath        = "storyspark.db"
	defaultLogLevel            = "info"
	defaultTokenTTLMinutes     = 24 * 60
	defaultShareTTLHours       = 24
	defaultGenAIModel          = "gemini-2.5-flash"
	defaultGenAITimeoutSeconds = 60
	defaultAllowedOrigins      = "*"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress    string
	DatabasePath   string
	LogLevel       string
	SigningSecret  string
	TokenTTL       time.Duration
	RedisURL       string
	ShareTTL       time.Duration
	GenAIAPIKey    string
	GenAIModel     string
	GenAITimeout   time.Duration
	AllowedOrigins []string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("redis.url", "")
	configViper.SetDefault("share.ttl_hours", defaultShareTTLHours)
	configViper.SetDefault("genai.model", defaultGenAIModel)
	configViper.SetDefault("genai.timeout_seconds", defaultGenAITimeoutSeconds)
	configViper.SetDefault("cors.allowed_origins", defaultAllowedOrigins)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:    configViper.GetString("http.address"),
		DatabasePath:   configViper.GetString("database.path"),
		LogLevel:       configViper.GetString("log.level"),
		SigningSecret:  configViper.GetString("auth.signing_secret"),
		TokenTTL:       time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		RedisURL:       strings.TrimSpace(configViper.GetString("redis.url")),
		ShareTTL:       time.Duration(configViper.GetInt("share.ttl_hours")) * time.Hour,
		GenAIAPIKey:    configViper.GetString("genai.api_key"),
		GenAIModel:     strings.TrimSpace(configViper.GetString("genai.model")),
		GenAITimeout:   time.Duration(configViper.GetInt("genai.timeout_seconds")) * time.Second,
		AllowedOrigins: splitList(configViper.GetString("cors.allowed_origins")),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.GenAIAPIKey) == "" {
		return fmt.Errorf("genai.api_key is required")
	}
	if c.GenAIModel == "" {
		return fmt.Errorf("genai.model is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.ShareTTL <= 0 {
		return fmt.Errorf("share.ttl_hours must be positive")
	}
	if c.GenAITimeout <= 0 {
		return fmt.Errorf("genai.timeout_seconds must be positive")
	}
	if len(c.AllowedOrigins) == 0 {
		return fmt.Errorf("cors.allowed_origins is required")
	}
	return nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}

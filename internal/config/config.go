package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                   = "USERDIR"
	defaultHTTPAddress          = "0.0.0.0:8080"
	defaultDatabasePath         = "userdir.db"
	defaultLogLevel             = "info"
	defaultTokenTTLMinutes      = 60
	defaultDirectoryBaseURL     = "https://reqres.in/api"
	defaultDirectoryTimeout     = 10
	defaultDirectoryConcurrency = 5
	defaultPlaceholderPassword  = "password123"
	defaultPartialPolicy        = "fallback"
)

// AppConfig captures runtime configuration for the API server and the sync job.
type AppConfig struct {
	HTTPAddress          string
	DatabasePath         string
	LogLevel             string
	SigningSecret        string
	TokenTTL             time.Duration
	DirectoryBaseURL     string
	DirectoryAPIKey      string
	DirectoryTimeout     time.Duration
	DirectoryConcurrency int
	PlaceholderPassword  string
	PartialFailurePolicy string
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
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("directory.base_url", defaultDirectoryBaseURL)
	configViper.SetDefault("directory.api_key", "")
	configViper.SetDefault("directory.timeout_seconds", defaultDirectoryTimeout)
	configViper.SetDefault("directory.max_concurrency", defaultDirectoryConcurrency)
	configViper.SetDefault("sync.placeholder_password", defaultPlaceholderPassword)
	configViper.SetDefault("sync.partial_failure_policy", defaultPartialPolicy)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:          configViper.GetString("http.address"),
		DatabasePath:         configViper.GetString("database.path"),
		LogLevel:             configViper.GetString("log.level"),
		SigningSecret:        configViper.GetString("auth.signing_secret"),
		TokenTTL:             time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		DirectoryBaseURL:     strings.TrimRight(strings.TrimSpace(configViper.GetString("directory.base_url")), "/"),
		DirectoryAPIKey:      strings.TrimSpace(configViper.GetString("directory.api_key")),
		DirectoryTimeout:     time.Duration(configViper.GetInt("directory.timeout_seconds")) * time.Second,
		DirectoryConcurrency: configViper.GetInt("directory.max_concurrency"),
		PlaceholderPassword:  configViper.GetString("sync.placeholder_password"),
		PartialFailurePolicy: strings.ToLower(strings.TrimSpace(configViper.GetString("sync.partial_failure_policy"))),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

// RequireAuth reports whether the settings needed to issue or validate
// bearer tokens are present. Commands that never touch tokens skip it.
func (c AppConfig) RequireAuth() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl_minutes must be positive")
	}
	return nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.DirectoryBaseURL == "" {
		return fmt.Errorf("directory.base_url is required")
	}
	if c.DirectoryTimeout <= 0 {
		return fmt.Errorf("directory.timeout_seconds must be positive")
	}
	if c.DirectoryConcurrency <= 0 {
		return fmt.Errorf("directory.max_concurrency must be positive")
	}
	if c.PlaceholderPassword == "" {
		return fmt.Errorf("sync.placeholder_password is required")
	}
	switch c.PartialFailurePolicy {
	case "fallback", "import-partial":
	default:
		return fmt.Errorf("sync.partial_failure_policy must be one of fallback, import-partial; got %q", c.PartialFailurePolicy)
	}
	return nil
}

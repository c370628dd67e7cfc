package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix               = "CRYPTOFOLIO"
	defaultHTTPAddress      = "0.0.0.0:8080"
	defaultDatabasePath     = "cryptofolio.db"
	defaultLogLevel         = "info"
	defaultTokenTTLMinutes  = 30
	defaultRefreshTTLHours  = 720
	defaultSchemaVersion    = "1.0.0"
	defaultTieBreak         = "remote"
	defaultCoinGeckoBaseURL = "https://api.coingecko.com/api/v3"
	defaultCacheTTLMinutes  = 5
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress       string
	DatabasePath      string
	LogLevel          string
	AuthSigningSecret string
	TokenTTL          time.Duration
	RefreshTokenTTL   time.Duration
	SyncSchemaVersion string
	SyncTieBreak      string
	RedisAddr         string
	RedisPassword     string
	CoinGeckoBaseURL  string
	CoinGeckoAPIKey   string
	PriceCacheTTL     time.Duration
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
	configViper.SetDefault("token.refresh_ttl_hours", defaultRefreshTTLHours)
	configViper.SetDefault("sync.schema_version", defaultSchemaVersion)
	configViper.SetDefault("sync.tie_break", defaultTieBreak)
	configViper.SetDefault("coingecko.base_url", defaultCoinGeckoBaseURL)
	configViper.SetDefault("cache.price_ttl_minutes", defaultCacheTTLMinutes)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:       configViper.GetString("http.address"),
		DatabasePath:      configViper.GetString("database.path"),
		LogLevel:          configViper.GetString("log.level"),
		AuthSigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:          time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		RefreshTokenTTL:   time.Duration(configViper.GetInt("token.refresh_ttl_hours")) * time.Hour,
		SyncSchemaVersion: configViper.GetString("sync.schema_version"),
		SyncTieBreak:      configViper.GetString("sync.tie_break"),
		RedisAddr:         configViper.GetString("redis.addr"),
		RedisPassword:     configViper.GetString("redis.password"),
		CoinGeckoBaseURL:  configViper.GetString("coingecko.base_url"),
		CoinGeckoAPIKey:   configViper.GetString("coingecko.api_key"),
		PriceCacheTTL:     time.Duration(configViper.GetInt("cache.price_ttl_minutes")) * time.Minute,
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	switch c.SyncTieBreak {
	case "remote", "local":
	default:
		return fmt.Errorf("sync.tie_break must be remote or local, got %q", c.SyncTieBreak)
	}
	return nil
}

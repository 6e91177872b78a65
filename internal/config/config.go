package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix             = "COLLABROOM"
	defaultHTTPAddress    = "0.0.0.0:8080"
	defaultDatabasePath   = "collabroom.db"
	defaultLogLevel       = "info"
	defaultTokenTTLDays   = 30
	defaultStorageBucket  = "collabroom-uploads"
	defaultUploadMaxBytes = 10 << 20
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress      string
	DatabasePath     string
	LogLevel         string
	AuthSigningKey   string
	TokenTTL         time.Duration
	UploadMaxBytes   int64
	StorageEndpoint  string
	StorageAccessKey string
	StorageSecretKey string
	StorageBucket    string
	StorageUseSSL    bool
	StoragePublicURL string
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
	configViper.SetDefault("auth.token_ttl_days", defaultTokenTTLDays)
	configViper.SetDefault("upload.max_bytes", defaultUploadMaxBytes)
	configViper.SetDefault("storage.endpoint", "localhost:9000")
	configViper.SetDefault("storage.bucket", defaultStorageBucket)
	configViper.SetDefault("storage.use_ssl", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:      configViper.GetString("http.address"),
		DatabasePath:     configViper.GetString("database.path"),
		LogLevel:         configViper.GetString("log.level"),
		AuthSigningKey:   configViper.GetString("auth.signing_secret"),
		TokenTTL:         time.Duration(configViper.GetInt("auth.token_ttl_days")) * 24 * time.Hour,
		UploadMaxBytes:   configViper.GetInt64("upload.max_bytes"),
		StorageEndpoint:  configViper.GetString("storage.endpoint"),
		StorageAccessKey: configViper.GetString("storage.access_key"),
		StorageSecretKey: configViper.GetString("storage.secret_key"),
		StorageBucket:    configViper.GetString("storage.bucket"),
		StorageUseSSL:    configViper.GetBool("storage.use_ssl"),
		StoragePublicURL: configViper.GetString("storage.public_url"),
	}

	if cfg.StoragePublicURL == "" {
		scheme := "http"
		if cfg.StorageUseSSL {
			scheme = "https"
		}
		cfg.StoragePublicURL = fmt.Sprintf("%s://%s", scheme, cfg.StorageEndpoint)
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.AuthSigningKey) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.StorageBucket) == "" {
		return fmt.Errorf("storage.bucket is required")
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("upload.max_bytes must be positive")
	}
	return nil
}

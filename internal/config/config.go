// Package config loads server configuration from environment variables
// and an optional yaml file.
package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

type Config struct {
	ServerAddr     string        `mapstructure:"server_addr" validate:"required"`
	AllowedOrigins []string      `mapstructure:"allowed_origins"`
	TypingTTL      time.Duration `mapstructure:"typing_ttl" validate:"gte=0"`
	// SigningSecret is the base64-encoded HMAC key for identity tokens.
	// Empty disables token verification and the server falls back to
	// trusting the client-supplied identity hint.
	SigningSecret string `mapstructure:"signing_secret"`

	SigningKey []byte `mapstructure:"-"`
}

// Load reads configuration with the MT_REALTIME env prefix, optionally
// merged over a yaml file at path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault("server_addr", "localhost:8000")
	v.SetDefault("typing_ttl", 7*time.Second)
	v.SetDefault("allowed_origins", []string{})
	// No default value, but the key must be known to viper or AutomaticEnv
	// never surfaces MT_REALTIME_SIGNING_SECRET to Unmarshal.
	v.SetDefault("signing_secret", "")

	v.SetEnvPrefix("MT_REALTIME")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if cfg.SigningSecret != "" {
		key, err := base64.StdEncoding.DecodeString(cfg.SigningSecret)
		if err != nil {
			return nil, fmt.Errorf("decode signing secret: %w", err)
		}
		cfg.SigningKey = key
	}

	return &cfg, nil
}

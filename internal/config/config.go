package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds server configuration values.
type Config struct {
	Addr              string        `mapstructure:"addr" yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" yaml:"read_header_timeout" validate:"gt=0"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gt=0"`
	LogLevel          string        `mapstructure:"log_level" yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`

	DatabasePath string        `mapstructure:"database_path" yaml:"database_path" validate:"required"`
	StoreTimeout time.Duration `mapstructure:"store_timeout" yaml:"store_timeout" validate:"gt=0"`

	JWTSecret   string        `mapstructure:"jwt_secret" yaml:"jwt_secret" validate:"required,min=8"`
	JWTIssuer   string        `mapstructure:"jwt_issuer" yaml:"jwt_issuer"`
	JWTAudience string        `mapstructure:"jwt_audience" yaml:"jwt_audience"`
	JWTTTL      time.Duration `mapstructure:"jwt_ttl" yaml:"jwt_ttl" validate:"gt=0"`

	CORSOrigin        string `mapstructure:"cors_origin" yaml:"cors_origin"`
	UploadDir         string `mapstructure:"upload_dir" yaml:"upload_dir" validate:"required"`
	MaxUploadBytes    int64  `mapstructure:"max_upload_bytes" yaml:"max_upload_bytes" validate:"gt=0"`
	MaxMessageBytes   int64  `mapstructure:"max_message_bytes" yaml:"max_message_bytes" validate:"gt=0"`
	MaxSendsPerMinute int    `mapstructure:"max_sends_per_minute" yaml:"max_sends_per_minute" validate:"gte=0"`
}

// Default returns configuration with reasonable starter defaults.
func Default() Config {
	return Config{
		Addr:              ":8080",
		ReadHeaderTimeout: 5 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		LogLevel:          "info",
		DatabasePath:      "dmchat.db",
		StoreTimeout:      5 * time.Second,
		JWTSecret:         "change-me-in-production",
		JWTIssuer:         "dmchat",
		JWTAudience:       "dmchat",
		JWTTTL:            30 * 24 * time.Hour,
		CORSOrigin:        "http://localhost:5173",
		UploadDir:         "uploads",
		MaxUploadBytes:    5 << 20,
		MaxMessageBytes:   1 << 20,
		MaxSendsPerMinute: 120,
	}
}

// Validate checks field constraints declared in struct tags.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

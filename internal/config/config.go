package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config stores all configuration for the application.
// The values are read by viper from a .env file or environment variables.
type Config struct {
	ServerPort  string `mapstructure:"SERVER_PORT"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	RabbitMQURL string `mapstructure:"RABBITMQ_URL"`
	RedisURL    string `mapstructure:"REDIS_URL"`

	JWTSecret       string        `mapstructure:"JWT_SECRET"`
	AccessTokenTTL  time.Duration `mapstructure:"ACCESS_TOKEN_TTL"`
	RefreshTokenTTL time.Duration `mapstructure:"REFRESH_TOKEN_TTL"`

	LoginAttemptsLimit int           `mapstructure:"LOGIN_ATTEMPTS_LIMIT"`
	LockoutDuration    time.Duration `mapstructure:"LOCKOUT_DURATION"`
	OTPTTL             time.Duration `mapstructure:"OTP_TTL"`

	LoginRateLimit  int           `mapstructure:"LOGIN_RATE_LIMIT"`
	LoginRateWindow time.Duration `mapstructure:"LOGIN_RATE_WINDOW"`

	CookieSecure       bool   `mapstructure:"COOKIE_SECURE"`
	CORSAllowedOrigins string `mapstructure:"CORS_ALLOWED_ORIGINS"`

	BankName string `mapstructure:"BANK_NAME"`
	SiteName string `mapstructure:"SITE_NAME"`
}

// LoadConfig reads configuration from a .env file or environment variables.
func LoadConfig() (Config, error) {
	viper.AddConfigPath(".")
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Bind env vars explicitly so AutomaticEnv picks them up without a file.
	for _, key := range []string{
		"SERVER_PORT", "DATABASE_URL", "RABBITMQ_URL", "REDIS_URL",
		"JWT_SECRET", "ACCESS_TOKEN_TTL", "REFRESH_TOKEN_TTL",
		"LOGIN_ATTEMPTS_LIMIT", "LOCKOUT_DURATION", "OTP_TTL",
		"LOGIN_RATE_LIMIT", "LOGIN_RATE_WINDOW",
		"COOKIE_SECURE", "CORS_ALLOWED_ORIGINS",
		"BANK_NAME", "SITE_NAME",
	} {
		_ = viper.BindEnv(key)
	}

	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("ACCESS_TOKEN_TTL", "15m")
	viper.SetDefault("REFRESH_TOKEN_TTL", "168h")
	viper.SetDefault("LOGIN_ATTEMPTS_LIMIT", 3)
	viper.SetDefault("LOCKOUT_DURATION", "30m")
	viper.SetDefault("OTP_TTL", "10m")
	viper.SetDefault("LOGIN_RATE_LIMIT", 10)
	viper.SetDefault("LOGIN_RATE_WINDOW", "5m")
	viper.SetDefault("COOKIE_SECURE", true)
	viper.SetDefault("BANK_NAME", "NexBank")
	viper.SetDefault("SITE_NAME", "NexBank")

	// Read the config file if it exists; env-only deployments are fine.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}

	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET must be set")
	}
	return cfg, nil
}

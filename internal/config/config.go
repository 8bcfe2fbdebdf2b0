// Package config handles configuration loading for the auth service.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	BackendHtpasswd = "htpasswd"
	BackendRedis    = "redis"

	minJWTSecretLength = 32
)

// Config holds all configuration for the auth service.
type Config struct {
	Port        string `yaml:"port"`
	Environment string `yaml:"environment"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`

	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	Backend      string `yaml:"backend"`
	HtpasswdPath string `yaml:"htpasswd_path"`
	// MaxUsers caps registrations. Zero means unlimited, negative disables
	// registration.
	MaxUsers   int  `yaml:"max_users"`
	BcryptCost int  `yaml:"bcrypt_cost"`
	TFAEnabled bool `yaml:"tfa_enabled"`

	RedisHost      string `yaml:"redis_host"`
	RedisPort      string `yaml:"redis_port"`
	RedisPassword  string `yaml:"redis_password"`
	RedisKeyPrefix string `yaml:"redis_key_prefix"`

	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Port:            "8084",
		Environment:     "development",
		LogLevel:        "info",
		LogFormat:       "text",
		TokenTTL:        7 * 24 * time.Hour,
		Backend:         BackendHtpasswd,
		HtpasswdPath:    "./htpasswd",
		BcryptCost:      10,
		RedisHost:       "localhost",
		RedisPort:       "6379",
		RedisKeyPrefix:  "registry",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Load layers the YAML file at path (skipped when empty) and then the
// environment over the defaults, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)
	c.JWTSecret = getEnv("JWT_SECRET", c.JWTSecret)
	c.TokenTTL = parseDuration(getEnv("TOKEN_TTL", ""), c.TokenTTL)
	c.Backend = getEnv("CREDENTIAL_BACKEND", c.Backend)
	c.HtpasswdPath = getEnv("HTPASSWD_PATH", c.HtpasswdPath)
	c.MaxUsers = getEnvInt("MAX_USERS", c.MaxUsers)
	c.BcryptCost = getEnvInt("BCRYPT_COST", c.BcryptCost)
	c.TFAEnabled = getEnvBool("TFA_ENABLED", c.TFAEnabled)
	c.RedisHost = getEnv("REDIS_HOST", c.RedisHost)
	c.RedisPort = getEnv("REDIS_PORT", c.RedisPort)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisKeyPrefix = getEnv("REDIS_KEY_PREFIX", c.RedisKeyPrefix)
	c.ReadTimeout = parseDuration(getEnv("SERVER_READ_TIMEOUT", ""), c.ReadTimeout)
	c.WriteTimeout = parseDuration(getEnv("SERVER_WRITE_TIMEOUT", ""), c.WriteTimeout)
	c.ShutdownTimeout = parseDuration(getEnv("SHUTDOWN_TIMEOUT", ""), c.ShutdownTimeout)
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port == "" {
		errs = append(errs, errors.New("port is required"))
	}
	if len(c.JWTSecret) < minJWTSecretLength {
		errs = append(errs, fmt.Errorf("jwt secret must be at least %d bytes", minJWTSecretLength))
	}
	if c.TokenTTL <= 0 {
		errs = append(errs, errors.New("token ttl must be positive"))
	}
	switch c.Backend {
	case BackendHtpasswd:
		if c.HtpasswdPath == "" {
			errs = append(errs, errors.New("htpasswd path is required for the htpasswd backend"))
		}
	case BackendRedis:
		if c.RedisHost == "" || c.RedisPort == "" {
			errs = append(errs, errors.New("redis host and port are required for the redis backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown credential backend %q", c.Backend))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("bcrypt cost %d out of range 4..31", c.BcryptCost))
	}
	if c.ReadTimeout <= 0 || c.WriteTimeout <= 0 {
		errs = append(errs, errors.New("server timeouts must be positive"))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

func getEnv(key, defaultValue string) string {
	if value, ok := os.LookupEnv(key); ok && value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, err := strconv.Atoi(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	value, err := strconv.ParseBool(getEnv(key, ""))
	if err != nil {
		return defaultValue
	}
	return value
}

func parseDuration(value string, defaultValue time.Duration) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

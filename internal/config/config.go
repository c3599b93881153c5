package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName             string
	AppEnv              string
	AppPort             string
	DatabaseURL         string
	RedisURL            string
	JWTSecret           string
	StorageRoot         string
	DockerHost          string
	SandboxImage        string
	MaxConcurrentRuns   int
	StatsCacheTTL       time.Duration
	MemoGenTimeout      time.Duration
	ShutdownGracePeriod time.Duration
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("FITCHFORK")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "FitchFork API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("sandbox.image", "universal-runner")
	v.SetDefault("max_concurrent_runs", 8)
	v.SetDefault("stats.cache_ttl", "2m")
	v.SetDefault("memo_gen_timeout", "5m")
	v.SetDefault("shutdown_grace_period", "5s")

	ttl, err := time.ParseDuration(v.GetString("stats.cache_ttl"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid stats cache ttl: %w", err)
	}

	memoTimeout, err := time.ParseDuration(v.GetString("memo_gen_timeout"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid memo generation timeout: %w", err)
	}

	grace, err := time.ParseDuration(v.GetString("shutdown_grace_period"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid shutdown grace period: %w", err)
	}

	cfg := Config{
		AppName:             v.GetString("app.name"),
		AppEnv:              v.GetString("app.env"),
		AppPort:             v.GetString("app.port"),
		DatabaseURL:         v.GetString("database.url"),
		RedisURL:            v.GetString("redis.url"),
		JWTSecret:           v.GetString("jwt.secret"),
		StorageRoot:         v.GetString("assignment_storage_root"),
		DockerHost:          v.GetString("docker_host"),
		SandboxImage:        v.GetString("sandbox.image"),
		MaxConcurrentRuns:   v.GetInt("max_concurrent_runs"),
		StatsCacheTTL:       ttl,
		MemoGenTimeout:      memoTimeout,
		ShutdownGracePeriod: grace,
	}

	if cfg.StorageRoot == "" {
		return Config{}, fmt.Errorf("assignment storage root must be provided")
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 8
	}

	return cfg, nil
}

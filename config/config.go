package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Port           string        `toml:"port"`
	Environment    string        `toml:"environment"`
	LogLevel       string        `toml:"log_level"`
	InstanceID     string        `toml:"instance_id"`
	AllowedOrigins []string      `toml:"allowed_origins"`
	SendTimeout    time.Duration `toml:"send_timeout"`
	SendBuffer     int           `toml:"send_buffer"`
	Redis          RedisConfig   `toml:"redis"`
	ICE            ICEConfig     `toml:"ice"`
}

type RedisConfig struct {
	Host     string `toml:"host"`
	Port     string `toml:"port"`
	Password string `toml:"password"`
	DB       int    `toml:"db"`
}

// Enabled reports whether a Redis directory should be used.
func (r RedisConfig) Enabled() bool {
	return r.Host != ""
}

type ICEConfig struct {
	Mode             string   `toml:"mode"`
	STUNURLs         []string `toml:"stun_urls"`
	TURNURLs         []string `toml:"turn_urls"`
	TURNUsername     string   `toml:"turn_username"`
	TURNPassword     string   `toml:"turn_password"`
	CredentialURL    string   `toml:"credential_url"`
	CredentialSecret string   `toml:"credential_secret"`
}

// Load reads configuration from an optional TOML file (CONFIG_FILE) and then
// applies environment variables on top of it.
func Load() (*Config, error) {
	cfg := &Config{
		Port:           "3001",
		Environment:    "development",
		LogLevel:       "info",
		AllowedOrigins: []string{"*"},
		SendTimeout:    2 * time.Second,
		SendBuffer:     256,
		Redis: RedisConfig{
			Port: "6379",
		},
		ICE: ICEConfig{
			Mode: "stun-turn",
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", path, err)
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.Environment = getEnv("ENVIRONMENT", cfg.Environment)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.InstanceID = getEnv("INSTANCE_ID", cfg.InstanceID)

	// Parse allowed origins (comma-separated)
	if originsStr := os.Getenv("ALLOWED_ORIGINS"); originsStr != "" {
		cfg.AllowedOrigins = splitAndClean(originsStr)
	}

	if v := os.Getenv("SEND_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("SEND_TIMEOUT: %w", err)
		}
		cfg.SendTimeout = d
	}
	if v := os.Getenv("SEND_BUFFER"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("SEND_BUFFER: %w", err)
		}
		cfg.SendBuffer = n
	}

	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnv("REDIS_PORT", cfg.Redis.Port)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	if v := os.Getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("REDIS_DB: %w", err)
		}
		cfg.Redis.DB = db
	}

	cfg.ICE.Mode = getEnv("ICE_MODE", cfg.ICE.Mode)
	if v := os.Getenv("STUN_URLS"); v != "" {
		cfg.ICE.STUNURLs = splitAndClean(v)
	}
	if v := os.Getenv("TURN_URLS"); v != "" {
		cfg.ICE.TURNURLs = splitAndClean(v)
	}
	cfg.ICE.TURNUsername = getEnv("TURN_USERNAME", cfg.ICE.TURNUsername)
	cfg.ICE.TURNPassword = getEnv("TURN_PASSWORD", cfg.ICE.TURNPassword)
	cfg.ICE.CredentialURL = getEnv("ICE_CREDENTIAL_URL", cfg.ICE.CredentialURL)
	cfg.ICE.CredentialSecret = getEnv("ICE_CREDENTIAL_SECRET", cfg.ICE.CredentialSecret)

	if cfg.SendTimeout <= 0 {
		return nil, fmt.Errorf("send timeout must be positive, got %s", cfg.SendTimeout)
	}
	if cfg.SendBuffer <= 0 {
		return nil, fmt.Errorf("send buffer must be positive, got %d", cfg.SendBuffer)
	}
	return cfg, nil
}

// IsProduction reports whether the service runs in production mode.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitAndClean(csv string) []string {
	var out []string
	for _, p := range strings.Split(csv, ",") {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

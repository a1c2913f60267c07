package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file. Environment variables
// override anything set here.
type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Auth struct {
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`
	NATS struct {
		URL string `yaml:"url"`
	} `yaml:"nats"`
	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`
	Gateway struct {
		CacheTTLSeconds int `yaml:"cache_ttl_seconds"`
	} `yaml:"gateway"`
	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func loadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			// Config file is optional; env vars carry everything.
			return &config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return &config, nil
}

func (c *Config) port() string {
	return getEnv("PORT", nonEmpty(c.Server.Port, "8080"))
}

func (c *Config) jwtSecret() string {
	return getEnv("JWT_SECRET", nonEmpty(c.Auth.JWTSecret, "dev-secret"))
}

func (c *Config) natsURL() string {
	return getEnv("NATS_URL", nonEmpty(c.NATS.URL, "nats://localhost:4222"))
}

func (c *Config) redisAddr() string {
	return getEnv("REDIS_ADDR", c.Redis.Addr)
}

func (c *Config) cacheTTL() time.Duration {
	secs := getEnvAsInt("GATEWAY_CACHE_TTL_SECONDS", c.Gateway.CacheTTLSeconds)
	if secs <= 0 {
		secs = 5
	}
	return time.Duration(secs) * time.Second
}

// databaseDSN builds the Postgres connection URL shared by the pgx pool and
// the pq listener connection.
func (c *Config) databaseDSN() string {
	host := getEnv("DB_HOST", nonEmpty(c.Database.Host, "localhost"))
	port := getEnvAsInt("DB_PORT", positiveOr(c.Database.Port, 5432))
	user := getEnv("DB_USER", nonEmpty(c.Database.User, "postgres"))
	password := getEnv("DB_PASSWORD", nonEmpty(c.Database.Password, "postgres"))
	name := getEnv("DB_NAME", nonEmpty(c.Database.Name, "bidwire"))
	sslMode := getEnv("DB_SSLMODE", nonEmpty(c.Database.SSLMode, "disable"))

	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		user, password, host, port, name, sslMode)
}

func nonEmpty(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}

func positiveOr(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

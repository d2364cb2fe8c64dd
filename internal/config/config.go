// Package config loads server settings from the environment, an optional
// .env file and an optional YAML file named by CONFIG_FILE.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// Storage backends.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

type Config struct {
	Env      string
	LogLevel string
	Port     string

	// Store selects where tickets, rooms and messages live.
	Store       string
	DatabaseDSN string
	// RedisAddr enables Redis pub/sub signals and Redis typing flags when set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	TelegramToken string

	TxMaxAttempts int
	Limits        Limits
	Policy        Policy
}

// Limits are per-session token buckets.
type Limits struct {
	SendPerSecond float64 `yaml:"send_per_second"`
	SendBurst     int     `yaml:"send_burst"`
	JoinPerSecond float64 `yaml:"join_per_second"`
	JoinBurst     int     `yaml:"join_burst"`
}

// Policy extends the content gate.
type Policy struct {
	ExtraKeywords []string `yaml:"extra_keywords"`
}

// fileConfig is the shape of the optional YAML file.
type fileConfig struct {
	Limits        *Limits `yaml:"limits"`
	Policy        Policy  `yaml:"policy"`
	TxMaxAttempts int     `yaml:"tx_max_attempts"`
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getenvInt(key string, def int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return def
	}
	return v
}

// Defaults returns the settings used when nothing is configured.
func Defaults() Config {
	return Config{
		Env:           "dev",
		LogLevel:      "info",
		Port:          "8080",
		Store:         StoreMemory,
		DatabaseDSN:   "host=localhost user=user password=password dbname=whispermatch port=5432 sslmode=disable",
		TxMaxAttempts: 5,
		Limits: Limits{
			SendPerSecond: 2,
			SendBurst:     5,
			JoinPerSecond: 0.5,
			JoinBurst:     3,
		},
	}
}

// Load reads .env (if present), then the environment, then CONFIG_FILE.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("no .env file loaded, using environment only")
	}
	return FromEnv()
}

// FromEnv builds the config from the process environment and CONFIG_FILE.
func FromEnv() (Config, error) {
	d := Defaults()
	cfg := Config{
		Env:           getenv("APP_ENV", d.Env),
		LogLevel:      getenv("LOG_LEVEL", d.LogLevel),
		Port:          getenv("APP_PORT", d.Port),
		Store:         getenv("STORE", d.Store),
		DatabaseDSN:   getenv("DATABASE_DSN", d.DatabaseDSN),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),
		TelegramToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		TxMaxAttempts: getenvInt("TX_MAX_ATTEMPTS", d.TxMaxAttempts),
		Limits:        d.Limits,
	}
	if cfg.Store != StoreMemory && cfg.Store != StorePostgres {
		return Config{}, fmt.Errorf("unknown STORE %q", cfg.Store)
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// ApplyFile overlays the YAML file at path onto cfg.
func (cfg *Config) ApplyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	if fc.Limits != nil {
		cfg.Limits = *fc.Limits
	}
	if fc.TxMaxAttempts > 0 {
		cfg.TxMaxAttempts = fc.TxMaxAttempts
	}
	cfg.Policy.ExtraKeywords = append(cfg.Policy.ExtraKeywords, fc.Policy.ExtraKeywords...)
	return nil
}

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 10 * time.Second

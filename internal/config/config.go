package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	API    APIConfig    `yaml:"api"`
	Market MarketConfig `yaml:"market"`
	Store  StoreConfig  `yaml:"store"`
	Worker WorkerConfig `yaml:"worker"`
	Log    LogConfig    `yaml:"log"`
}

type APIConfig struct {
	Addr         string        `yaml:"addr"`
	SaveTimeout  time.Duration `yaml:"save_timeout"`
	SessionLimit int           `yaml:"session_limit"`
}

type MarketConfig struct {
	CatalogPath string `yaml:"catalog"`
	Seed        int64  `yaml:"seed"` // 0 seeds from entropy
	Volatility  string `yaml:"volatility"`
	HistoryMax  int    `yaml:"history_max"`
	CacheSize   int    `yaml:"cache_size"`
}

// StoreConfig selects the save backend. DSN forms: "file:<dir>",
// "sqlite:<path>" and "postgres://...".
type StoreConfig struct {
	DSN string `yaml:"dsn"`
}

type WorkerConfig struct {
	Schedule  string `yaml:"schedule"`
	SessionID string `yaml:"session_id"`
	RunOnce   bool   `yaml:"run_once"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

type CLIConfig struct {
	APIBaseURL string
}

// Load reads an optional YAML file, then .env, then the process environment.
// Environment values win over the file.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if strings.TrimSpace(path) != "" {
		raw, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("config.Load: read %q: %w", path, err)
		}
		if err == nil {
			if err := yaml.Unmarshal(raw, &cfg); err != nil {
				return cfg, fmt.Errorf("config.Load: parse YAML: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)
	return cfg, nil
}

func LoadCLIFromEnv() CLIConfig {
	_ = godotenv.Load()
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("BZR_API_BASE_URL", "http://localhost:8080"), "/"),
	}
}

func applyEnvOverrides(cfg *Config) {
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		if !strings.HasPrefix(port, ":") {
			port = ":" + port
		}
		cfg.API.Addr = port
	} else {
		cfg.API.Addr = envDefault("BAZAAR_API_ADDR", cfg.API.Addr)
	}
	cfg.API.SaveTimeout = envDurationDefault("BAZAAR_SAVE_TIMEOUT", cfg.API.SaveTimeout)

	cfg.Market.CatalogPath = envDefault("BAZAAR_CATALOG", cfg.Market.CatalogPath)
	cfg.Market.Seed = int64(envIntDefault("BAZAAR_MARKET_SEED", int(cfg.Market.Seed)))
	cfg.Market.Volatility = envVolatilityDefault(cfg.Market.Volatility)
	cfg.Market.HistoryMax = envIntDefault("BAZAAR_HISTORY_MAX", cfg.Market.HistoryMax)
	cfg.Market.CacheSize = envIntDefault("BAZAAR_CACHE_SIZE", cfg.Market.CacheSize)

	if dsn := strings.TrimSpace(os.Getenv("DATABASE_URL")); dsn != "" {
		cfg.Store.DSN = dsn
	}
	cfg.Store.DSN = envDefault("BAZAAR_STORE_DSN", cfg.Store.DSN)

	cfg.Worker.Schedule = envDefault("BAZAAR_WORKER_SCHEDULE", cfg.Worker.Schedule)
	cfg.Worker.SessionID = envDefault("BAZAAR_WORKER_SESSION", cfg.Worker.SessionID)
	cfg.Worker.RunOnce = envBoolDefault("BAZAAR_WORKER_RUN_ONCE", cfg.Worker.RunOnce)

	cfg.Log.Level = envDefault("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.Format = envDefault("LOG_FORMAT", cfg.Log.Format)
}

func setDefaults(cfg *Config) {
	if cfg.API.Addr == "" {
		cfg.API.Addr = ":8080"
	}
	if cfg.API.SaveTimeout <= 0 {
		cfg.API.SaveTimeout = 10 * time.Second
	}
	if cfg.API.SessionLimit <= 0 {
		cfg.API.SessionLimit = 64
	}
	if cfg.Market.Volatility == "" {
		cfg.Market.Volatility = "normal"
	}
	if cfg.Market.HistoryMax <= 0 {
		cfg.Market.HistoryMax = 20
	}
	if cfg.Market.CacheSize <= 0 {
		cfg.Market.CacheSize = 1000
	}
	if cfg.Store.DSN == "" {
		cfg.Store.DSN = "sqlite:bazaar.db"
	}
	if cfg.Worker.Schedule == "" {
		cfg.Worker.Schedule = "@every 1m"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// NewLogger builds the process logger from the log section.
func (c LogConfig) NewLogger(w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(c.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envDurationDefault(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

func envIntDefault(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envVolatilityDefault(fallback string) string {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("VOLATILITY")))
	if v == "" {
		v = strings.ToLower(strings.TrimSpace(os.Getenv("BAZAAR_MARKET_VOLATILITY")))
	}
	if v == "" {
		v = strings.ToLower(strings.TrimSpace(fallback))
	}
	switch v {
	case "calm", "normal", "wild":
		return v
	default:
		return "normal"
	}
}

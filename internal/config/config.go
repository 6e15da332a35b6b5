package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Port           int           `yaml:"port"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type ProviderConfig struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	CallTimeout time.Duration `yaml:"call_timeout"` // per-attempt deadline
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
}

type DispatcherConfig struct {
	Workers int `yaml:"workers"`
}

type BlobConfig struct {
	BasePath    string `yaml:"base_path"`
	BaseURL     string `yaml:"base_url"` // public prefix for direct links
	FetchRemote bool   `yaml:"fetch_remote"`
}

type AuthConfig struct {
	HMACSecret string        `yaml:"hmac_secret"`
	TokenTTL   time.Duration `yaml:"token_ttl"`
	AdminIDs   []string      `yaml:"admin_ids"` // principals bootstrapped as admin
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Provider   ProviderConfig   `yaml:"provider"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Blob       BlobConfig       `yaml:"blob"`
	Auth       AuthConfig       `yaml:"auth"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 15 * time.Second
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = time.Hour
	}
	if cfg.Provider.CallTimeout <= 0 {
		cfg.Provider.CallTimeout = 60 * time.Second
	}
	if cfg.Provider.MaxAttempts <= 0 {
		cfg.Provider.MaxAttempts = 3
	}
	if cfg.Provider.BackoffBase <= 0 {
		cfg.Provider.BackoffBase = 2 * time.Second
	}
	if cfg.Dispatcher.Workers <= 0 {
		cfg.Dispatcher.Workers = 8
	}
	if cfg.Blob.BasePath == "" {
		cfg.Blob.BasePath = "./data/blobs"
	}
	if cfg.Auth.TokenTTL <= 0 {
		cfg.Auth.TokenTTL = 30 * time.Minute
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Auth.HMACSecret == "" {
		return nil, errors.New("auth.hmac_secret is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

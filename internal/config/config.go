// Package config loads the daemon configuration from YAML with environment
// overrides layered on top. Missing files fall back to defaults so the
// daemon always starts.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Trust     TrustConfig     `yaml:"trust"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	PublicHost    string `yaml:"publicHost"`
	SecureContext *bool  `yaml:"secureContext"`
}

type StorageConfig struct {
	DataDir     string `yaml:"dataDir"`
	StoreSecret string `yaml:"storeSecret"`
}

type TrustConfig struct {
	StorePath string `yaml:"storePath"`
}

type RateLimitConfig struct {
	RPS     float64       `yaml:"rps"`
	Burst   int           `yaml:"burst"`
	IdleTTL time.Duration `yaml:"idleTTL"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:          "127.0.0.1:8970",
			SecureContext: boolPtr(true),
		},
		Storage: StorageConfig{
			DataDir: "data",
		},
		RateLimit: RateLimitConfig{
			RPS:     5,
			Burst:   10,
			IdleTTL: 10 * time.Minute,
		},
	}
}

// LoadFromPath reads the first readable candidate config, merges it over the
// defaults and applies environment overrides. An explicit path takes
// precedence over the conventional locations.
func LoadFromPath(configPath string) Config {
	cfg := Default()

	candidates := make([]string, 0, 2)
	if configPath != "" {
		candidates = append(candidates, configPath)
	} else {
		candidates = append(candidates,
			"go-backend/configs/config.yaml",
			"configs/config.yaml",
		)
	}

	for _, path := range candidates {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}

		var parsed Config
		if err := yaml.Unmarshal(data, &parsed); err != nil {
			continue
		}

		merged := cfg
		Merge(&merged, parsed)
		ApplyEnvOverrides(&merged)
		return merged
	}

	ApplyEnvOverrides(&cfg)
	return cfg
}

func Merge(dst *Config, src Config) {
	if src.Server.Addr != "" {
		dst.Server.Addr = src.Server.Addr
	}
	if src.Server.PublicHost != "" {
		dst.Server.PublicHost = src.Server.PublicHost
	}
	if src.Server.SecureContext != nil {
		dst.Server.SecureContext = src.Server.SecureContext
	}
	if src.Storage.DataDir != "" {
		dst.Storage.DataDir = src.Storage.DataDir
	}
	if src.Storage.StoreSecret != "" {
		dst.Storage.StoreSecret = src.Storage.StoreSecret
	}
	if src.Trust.StorePath != "" {
		dst.Trust.StorePath = src.Trust.StorePath
	}
	if src.RateLimit.RPS != 0 {
		dst.RateLimit.RPS = src.RateLimit.RPS
	}
	if src.RateLimit.Burst != 0 {
		dst.RateLimit.Burst = src.RateLimit.Burst
	}
	if src.RateLimit.IdleTTL != 0 {
		dst.RateLimit.IdleTTL = src.RateLimit.IdleTTL
	}
}

func ApplyEnvOverrides(cfg *Config) {
	if addr := strings.TrimSpace(os.Getenv("LATCHKEY_ADDR")); addr != "" {
		cfg.Server.Addr = addr
	}
	if host := strings.TrimSpace(os.Getenv("LATCHKEY_PUBLIC_HOST")); host != "" {
		cfg.Server.PublicHost = host
	}
	if raw := strings.TrimSpace(os.Getenv("LATCHKEY_SECURE_CONTEXT")); raw != "" {
		if v, err := strconv.ParseBool(raw); err == nil {
			cfg.Server.SecureContext = boolPtr(v)
		}
	}
	if dir := strings.TrimSpace(os.Getenv("LATCHKEY_DATA_DIR")); dir != "" {
		cfg.Storage.DataDir = dir
	}
	if secret := strings.TrimSpace(os.Getenv("LATCHKEY_STORE_SECRET")); secret != "" {
		cfg.Storage.StoreSecret = secret
	}
}

// SecureContext resolves the tri-state flag; unset means secure.
func (c Config) SecureContext() bool {
	if c.Server.SecureContext == nil {
		return true
	}
	return *c.Server.SecureContext
}

func boolPtr(v bool) *bool { return &v }

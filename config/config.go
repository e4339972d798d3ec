package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the chat control plane.
type Config struct {
	General    GeneralConfig    `mapstructure:"general"`
	Server     ServerConfig     `mapstructure:"server"`
	Gateway    GatewayConfig    `mapstructure:"gateway"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	Session    SessionConfig    `mapstructure:"session"`
	Ingest     IngestConfig     `mapstructure:"ingest"`
	Telemetry  TelemetryConfig  `mapstructure:"telemetry"`
}

// GeneralConfig contains general application settings.
type GeneralConfig struct {
	Debug          bool          `mapstructure:"debug"`
	LogLevel       string        `mapstructure:"log_level"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Address string `mapstructure:"address"`
}

// GatewayConfig describes the upstream chat-completion gateway and the
// static model catalog served through it.
type GatewayConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	MaxRetries        int           `mapstructure:"max_retries"`
	InitialRetryDelay time.Duration `mapstructure:"initial_retry_delay"`
	Timeout           time.Duration `mapstructure:"timeout"`
	Models            []ModelConfig `mapstructure:"models"`
}

// ModelConfig is one entry of the static model catalog.
type ModelConfig struct {
	Name        string  `mapstructure:"name"`
	ModelName   string  `mapstructure:"model_name"` // identifier sent to the gateway
	APIKey      string  `mapstructure:"api_key"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

func (m ModelConfig) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("gateway.models[].name required")
	}
	if strings.TrimSpace(m.ModelName) == "" {
		return fmt.Errorf("gateway.models[%s].model_name required", m.Name)
	}
	if m.MaxTokens <= 0 {
		return fmt.Errorf("gateway.models[%s].max_tokens must be > 0", m.Name)
	}
	if m.Temperature < 0 || m.Temperature > 1 {
		return fmt.Errorf("gateway.models[%s].temperature must be in [0,1]", m.Name)
	}
	return nil
}

func (g GatewayConfig) Validate() error {
	if strings.TrimSpace(g.BaseURL) == "" {
		return fmt.Errorf("gateway.base_url required")
	}
	if len(g.Models) == 0 {
		return fmt.Errorf("gateway.models must list at least one model")
	}
	seen := make(map[string]struct{}, len(g.Models))
	for _, m := range g.Models {
		if err := m.Validate(); err != nil {
			return err
		}
		if _, ok := seen[m.Name]; ok {
			return fmt.Errorf("gateway.models[%s] duplicated", m.Name)
		}
		seen[m.Name] = struct{}{}
	}
	return nil
}

// Model returns the catalog entry for name.
func (g GatewayConfig) Model(name string) (ModelConfig, bool) {
	for _, m := range g.Models {
		if m.Name == name {
			return m, true
		}
	}
	return ModelConfig{}, false
}

// Normalize applies defaults for unset gateway values.
func (g GatewayConfig) Normalize() GatewayConfig {
	if g.MaxRetries <= 0 {
		g.MaxRetries = 5
	}
	if g.InitialRetryDelay <= 0 {
		g.InitialRetryDelay = time.Second
	}
	if g.Timeout <= 0 {
		g.Timeout = 60 * time.Second
	}
	return g
}

// ModerationConfig points at the moderation collaborator.
type ModerationConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func (m ModerationConfig) Normalize() ModerationConfig {
	if m.Timeout <= 0 {
		m.Timeout = 10 * time.Second
	}
	return m
}

// SessionConfig controls chat session lifetime and the optional redis
// transcript mirror.
type SessionConfig struct {
	TTL   time.Duration `mapstructure:"ttl"`
	Redis RedisConfig   `mapstructure:"redis"`
}

func (s SessionConfig) Normalize() SessionConfig {
	if s.TTL <= 0 {
		s.TTL = 2 * time.Hour
	}
	return s
}

// RedisConfig contains redis connection settings.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Validate() error {
	if !r.Enabled {
		return nil
	}
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("session.redis.host required when redis is enabled")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("session.redis.port required when redis is enabled")
	}
	return nil
}

// IngestConfig controls document splitting.
type IngestConfig struct {
	ChunkSize    int   `mapstructure:"chunk_size"`
	ChunkOverlap int   `mapstructure:"chunk_overlap"`
	MaxFileBytes int64 `mapstructure:"max_file_bytes"`
}

func (i IngestConfig) Normalize() IngestConfig {
	if i.ChunkSize <= 0 {
		i.ChunkSize = 1000
	}
	if i.ChunkOverlap < 0 || i.ChunkOverlap >= i.ChunkSize {
		i.ChunkOverlap = 200
	}
	if i.MaxFileBytes <= 0 {
		i.MaxFileBytes = 10 << 20
	}
	return i
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PeriodicLogs bool `mapstructure:"periodic_logs"`
}

// LoadConfig loads config from file. Environment variables prefixed
// MODELFLEET_ override file values (dots replaced with underscores).
func LoadConfig(path string) (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("json")
	viper.SetDefault("server.address", ":8080")
	viper.SetDefault("gateway.max_retries", 5)
	viper.SetDefault("gateway.initial_retry_delay", "1s")
	viper.SetDefault("session.ttl", "2h")
	viper.SetDefault("ingest.chunk_size", 1000)
	viper.SetDefault("ingest.chunk_overlap", 200)

	if path == "" {
		viper.AddConfigPath("./config")
		viper.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		viper.AddConfigPath(exeDir)
		viper.AddConfigPath(filepath.Join(exeDir, ".."))
	} else {
		viper.SetConfigFile(path)
	}

	viper.SetEnvPrefix("MODELFLEET")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	cfg.Gateway = cfg.Gateway.Normalize()
	cfg.Moderation = cfg.Moderation.Normalize()
	cfg.Session = cfg.Session.Normalize()
	cfg.Ingest = cfg.Ingest.Normalize()

	if err := cfg.Gateway.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Session.Redis.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Package config loads process configuration for the nim-recall server from
// an optional YAML file, a .env file and environment variables, in that
// order of increasing precedence.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
	_ "time/tzdata" // Asia/Kolkata on hosts without zoneinfo

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/nim-recall/core"
	"github.com/becomeliminal/nim-recall/memory"
)

// Index backends.
const (
	IndexFlat    = "flat"
	IndexChromem = "chromem"
)

// Config is the full process configuration.
type Config struct {
	// HTTPAddr serves the REST and websocket API.
	// Default: ":8080"
	HTTPAddr string `yaml:"http_addr"`

	// GRPCAddr serves the gRPC health service. Empty disables it.
	// Default: ":9090"
	GRPCAddr string `yaml:"grpc_addr"`

	// SnapshotPath is the durable memory artifact. Empty keeps memory
	// in-process only.
	// Default: "data/memory.snap"
	SnapshotPath string `yaml:"snapshot_path"`

	// Index is "flat" (one global slot array) or "chromem" (one
	// collection per user).
	// Default: "flat"
	Index string `yaml:"index"`

	// AllowedOrigins restricts websocket upgrades.
	AllowedOrigins []string `yaml:"allowed_origins,omitempty"`

	Embedder  EmbedderConfig  `yaml:"embedder"`
	Generator GeneratorConfig `yaml:"generator"`
	Memory    MemoryConfig    `yaml:"memory"`
}

// EmbedderConfig selects the embedding model.
type EmbedderConfig struct {
	ModelPath         string `yaml:"model_path,omitempty"`
	TokenizerPath     string `yaml:"tokenizer_path,omitempty"`
	SharedLibraryPath string `yaml:"shared_library_path,omitempty"`

	// CacheEntries sizes the embedding cache. 0 disables caching.
	// Default: 10000
	CacheEntries int64 `yaml:"cache_entries"`
}

// GeneratorConfig configures model-written session prompts. Without an
// API key, prompts come from templates only.
type GeneratorConfig struct {
	APIKey      string  `yaml:"-"`
	Model       string  `yaml:"model,omitempty"`
	Timeout     string  `yaml:"timeout,omitempty"` // Go duration, e.g. "10s"
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
}

// MemoryConfig tunes the memory service.
type MemoryConfig struct {
	TimeZone     string `yaml:"timezone,omitempty"`
	DefaultTopK  int    `yaml:"default_top_k,omitempty"`
	PromptWindow int    `yaml:"prompt_window,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		HTTPAddr:     ":8080",
		GRPCAddr:     ":9090",
		SnapshotPath: "data/memory.snap",
		Index:        IndexFlat,
		Embedder: EmbedderConfig{
			CacheEntries: 10000,
		},
		Generator: GeneratorConfig{
			Timeout:     "10s",
			MaxTokens:   128,
			Temperature: 0.7,
		},
		Memory: MemoryConfig{
			TimeZone:    "Asia/Kolkata",
			DefaultTopK: 3,
		},
	}
}

// Load builds the configuration. path may be empty; a named file must
// exist. A .env file in the working directory is loaded if present.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	_ = godotenv.Load() // .env is optional

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if port := os.Getenv("PORT"); port != "" {
		c.HTTPAddr = ":" + port
	}
	setString(&c.HTTPAddr, "NIM_RECALL_HTTP_ADDR")
	setString(&c.GRPCAddr, "NIM_RECALL_GRPC_ADDR")
	setString(&c.SnapshotPath, "NIM_RECALL_SNAPSHOT_PATH")
	setString(&c.Index, "NIM_RECALL_INDEX")
	setString(&c.Embedder.ModelPath, "ONNX_MODEL_PATH")
	setString(&c.Embedder.TokenizerPath, "ONNX_TOKENIZER_PATH")
	setString(&c.Embedder.SharedLibraryPath, "ONNX_LIBRARY_PATH")
	setString(&c.Generator.APIKey, "ANTHROPIC_API_KEY")
	setString(&c.Generator.Model, "NIM_RECALL_MODEL")
	setString(&c.Memory.TimeZone, "NIM_RECALL_TIMEZONE")

	if v := os.Getenv("NIM_RECALL_CACHE_ENTRIES"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("NIM_RECALL_CACHE_ENTRIES: %w", err)
		}
		c.Embedder.CacheEntries = n
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// Validate checks values that would otherwise fail late at startup.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return fmt.Errorf("http_addr is required")
	}
	switch c.Index {
	case IndexFlat, IndexChromem:
	default:
		return fmt.Errorf("unknown index %q (want %q or %q)", c.Index, IndexFlat, IndexChromem)
	}
	if _, err := c.GenerateTimeout(); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Memory.TimeZone); err != nil {
		return fmt.Errorf("timezone %q: %w", c.Memory.TimeZone, err)
	}
	if c.Embedder.CacheEntries < 0 {
		return fmt.Errorf("cache_entries must not be negative")
	}
	return nil
}

// GenerateTimeout parses Generator.Timeout.
func (c *Config) GenerateTimeout() (time.Duration, error) {
	if c.Generator.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Generator.Timeout)
	if err != nil {
		return 0, fmt.Errorf("generator timeout %q: %w", c.Generator.Timeout, err)
	}
	return d, nil
}

// MemoryService returns the memory.Config described by c.
func (c *Config) MemoryService() (*memory.Config, error) {
	loc, err := time.LoadLocation(c.Memory.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Memory.TimeZone, err)
	}
	timeout, err := c.GenerateTimeout()
	if err != nil {
		return nil, err
	}
	return &memory.Config{
		Dimensions:          core.Dimensions,
		Location:            loc,
		DefaultTopK:         c.Memory.DefaultTopK,
		PromptWindow:        c.Memory.PromptWindow,
		GenerateTimeout:     timeout,
		GenerateMaxTokens:   c.Generator.MaxTokens,
		GenerateTemperature: c.Generator.Temperature,
	}, nil
}

// Package config loads taskweave configuration from a YAML file with
// environment overrides. A .env file in the working directory is loaded
// first so local development does not need exported variables.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full service configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Redis     RedisConfig     `yaml:"redis"`
	AI        AIConfig        `yaml:"ai"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Jobs      JobsConfig      `yaml:"jobs"`
	Interview InterviewConfig `yaml:"interview"`
	Batch     BatchConfig     `yaml:"batch"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Addr string `yaml:"addr"` // default ":8080"
}

// StorageConfig configures the SQLite database
type StorageConfig struct {
	Path string `yaml:"path"` // default ".taskweave/taskweave.db"
}

// RedisConfig configures the exact/template cache backend
type RedisConfig struct {
	Addr     string `yaml:"addr"` // default "localhost:6379"
	Password string `yaml:"password,omitempty"`
	DB       int    `yaml:"db"`
}

// AIConfig configures the orchestrator
type AIConfig struct {
	// APIKey is usually left empty and taken from ANTHROPIC_API_KEY
	APIKey        string `yaml:"api_key,omitempty"`
	MaxRetries    int    `yaml:"max_retries"`    // default 3
	MaxConcurrent int    `yaml:"max_concurrent"` // default 3
	TimeoutSecs   int    `yaml:"timeout_secs"`   // default 60
}

// EmbeddingConfig configures the embedding backend. An empty BaseURL
// selects the in-process hash embedder.
type EmbeddingConfig struct {
	BaseURL string `yaml:"base_url,omitempty"` // e.g. "http://localhost:11434"
	Model   string `yaml:"model"`              // default "nomic-embed-text"
	Dims    int    `yaml:"dims"`               // hash embedder only
}

// CacheConfig configures the response cache tiers
type CacheConfig struct {
	Enabled           bool    `yaml:"enabled"`
	ExactTTL          string  `yaml:"exact_ttl"`          // default "168h"
	SemanticTTL       string  `yaml:"semantic_ttl"`       // default "24h"
	TemplateTTL       string  `yaml:"template_ttl"`       // default "720h"
	SemanticThreshold float64 `yaml:"semantic_threshold"` // default 0.95
}

// JobsConfig configures the job manager
type JobsConfig struct {
	TimeoutSecs int `yaml:"timeout_secs"` // wall-clock budget per job, default 600
}

// InterviewConfig configures the interview engine
type InterviewConfig struct {
	MaxQuestions int `yaml:"max_questions"` // default 20
}

// BatchConfig configures batch execution
type BatchConfig struct {
	Parallelism int `yaml:"parallelism"` // default 4
}

// JanitorConfig configures background maintenance
type JanitorConfig struct {
	Enabled         bool   `yaml:"enabled"`
	StaleJobsSpec   string `yaml:"stale_jobs_spec"`   // default "*/5 * * * *"
	CachePurgeSpec  string `yaml:"cache_purge_spec"`  // default "13 * * * *"
	VacuumSpec      string `yaml:"vacuum_spec"`       // default "0 4 * * *"
	StaleJobMinutes int    `yaml:"stale_job_minutes"` // default 15
}

// LoggingConfig configures the logger
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error; default "info"
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Addr: ":8080"},
		Storage: StorageConfig{Path: ".taskweave/taskweave.db"},
		Redis:   RedisConfig{Addr: "localhost:6379"},
		AI:      AIConfig{MaxRetries: 3, MaxConcurrent: 3, TimeoutSecs: 60},
		Embedding: EmbeddingConfig{
			Model: "nomic-embed-text",
		},
		Cache: CacheConfig{
			Enabled:           true,
			ExactTTL:          "168h",
			SemanticTTL:       "24h",
			TemplateTTL:       "720h",
			SemanticThreshold: 0.95,
		},
		Jobs:      JobsConfig{TimeoutSecs: 600},
		Interview: InterviewConfig{MaxQuestions: 20},
		Batch:     BatchConfig{Parallelism: 4},
		Janitor: JanitorConfig{
			Enabled:         true,
			StaleJobsSpec:   "*/5 * * * *",
			CachePurgeSpec:  "13 * * * *",
			VacuumSpec:      "0 4 * * *",
			StaleJobMinutes: 15,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads the YAML file at path, layered over defaults, then applies
// environment overrides. A missing file is not an error; a malformed one is.
func Load(path string) (*Config, error) {
	// Ignore a missing .env; it is a development convenience
	_ = godotenv.Load()

	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// fall through to env overrides
		case err != nil:
			return nil, fmt.Errorf("reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML: %w", err)
			}
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("TASKWEAVE_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("TASKWEAVE_DB_PATH"); v != "" {
		cfg.Storage.Path = v
	}
	if v := os.Getenv("TASKWEAVE_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("TASKWEAVE_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("TASKWEAVE_EMBEDDING_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("TASKWEAVE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" && cfg.AI.APIKey == "" {
		cfg.AI.APIKey = v
	}
}

// Validate checks the configuration for nonsense values
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.AI.MaxRetries < 0 {
		return fmt.Errorf("ai.max_retries must not be negative")
	}
	if c.AI.MaxConcurrent <= 0 {
		return fmt.Errorf("ai.max_concurrent must be positive")
	}
	if c.Cache.SemanticThreshold <= 0 || c.Cache.SemanticThreshold > 1 {
		return fmt.Errorf("cache.semantic_threshold must be in (0, 1]")
	}
	for _, ttl := range []struct{ name, value string }{
		{"cache.exact_ttl", c.Cache.ExactTTL},
		{"cache.semantic_ttl", c.Cache.SemanticTTL},
		{"cache.template_ttl", c.Cache.TemplateTTL},
	} {
		if _, err := time.ParseDuration(ttl.value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", ttl.name, ttl.value, err)
		}
	}
	if c.Jobs.TimeoutSecs <= 0 {
		return fmt.Errorf("jobs.timeout_secs must be positive")
	}
	if c.Interview.MaxQuestions <= 0 {
		return fmt.Errorf("interview.max_questions must be positive")
	}
	if c.Batch.Parallelism <= 0 {
		return fmt.Errorf("batch.parallelism must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown logging.level %q", c.Logging.Level)
	}
	return nil
}

// JobTimeout returns the per-job wall-clock budget
func (c *Config) JobTimeout() time.Duration {
	return time.Duration(c.Jobs.TimeoutSecs) * time.Second
}

// CacheTTLs returns the parsed cache tier TTLs. Call after Validate.
func (c *Config) CacheTTLs() (exact, semantic, template time.Duration) {
	exact, _ = time.ParseDuration(c.Cache.ExactTTL)
	semantic, _ = time.ParseDuration(c.Cache.SemanticTTL)
	template, _ = time.ParseDuration(c.Cache.TemplateTTL)
	return exact, semantic, template
}

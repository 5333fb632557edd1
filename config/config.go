// Package config loads the kbase service configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/poiesic/kbase/ai"
	"github.com/poiesic/kbase/vectorstore/qdrant"
	"gopkg.in/yaml.v3"
)

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr              string  `yaml:"addr"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
	MaxUploadBytes    int64   `yaml:"max_upload_bytes"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant qdrant.Config `yaml:"qdrant"`
}

// RedisConfig configures the shared hot set. An empty Addr disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// IngestionConfig configures sessions, parsing and chunking.
type IngestionConfig struct {
	PreviewEnabled   bool            `yaml:"preview_enabled"`
	PreviewOverrides map[string]bool `yaml:"preview_overrides,omitempty"`
	PreviewTTL       time.Duration   `yaml:"preview_ttl"`
	MaxFileSize      int64           `yaml:"max_file_size"`
	AllowedTypes     []string        `yaml:"allowed_types,omitempty"`
	ChunkSize        int             `yaml:"chunk_size"`
	ChunkOverlap     int             `yaml:"chunk_overlap"`
	TokenModel       string          `yaml:"token_model"`
	MinChunkChars    int             `yaml:"min_chunk_chars"`
	EmbedWorkers     int             `yaml:"embed_workers"`
}

// DeletionConfig configures the deletion queue workers.
type DeletionConfig struct {
	BatchSize        int           `yaml:"batch_size"`
	Workers          int           `yaml:"workers"`
	PollInterval     time.Duration `yaml:"poll_interval"`
	BatchesPerSecond float64       `yaml:"batches_per_second"`
	MaxRetries       int           `yaml:"max_retries"`
	RetryDelay       time.Duration `yaml:"retry_delay"`
}

// SweepConfig sets how often each maintenance sweep runs.
type SweepConfig struct {
	ExpireSessions  time.Duration `yaml:"expire_sessions"`
	PurgeAudit      time.Duration `yaml:"purge_audit"`
	PruneAccessLog  time.Duration `yaml:"prune_access_log"`
	ResumeDeletions time.Duration `yaml:"resume_deletions"`
}

// Config is the root service configuration.
type Config struct {
	// DataDir holds the badger database. Empty runs in memory.
	DataDir   string `yaml:"data_dir"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	HTTP        HTTPConfig        `yaml:"http"`
	AI          ai.Config         `yaml:"ai"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Redis       RedisConfig       `yaml:"redis"`
	Ingestion   IngestionConfig   `yaml:"ingestion"`
	Deletion    DeletionConfig    `yaml:"deletion"`
	Sweeps      SweepConfig       `yaml:"sweeps"`

	AuditRetention     time.Duration `yaml:"audit_retention"`
	ChunkKeysCacheSize int           `yaml:"chunk_keys_cache_size"`
	SearchMaxLimit     int           `yaml:"search_max_limit"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		LogLevel:  "info",
		LogFormat: "text",
		HTTP: HTTPConfig{
			Addr:              ":8080",
			RequestsPerSecond: 20,
			Burst:             40,
			MaxUploadBytes:    50 << 20,
		},
		AI:          *ai.DefaultConfig(),
		VectorStore: VectorStoreConfig{Type: "memory"},
		Redis:       RedisConfig{Prefix: "kbase:hot:"},
		Ingestion: IngestionConfig{
			PreviewEnabled: true,
			PreviewTTL:     24 * time.Hour,
			MaxFileSize:    50 << 20,
			ChunkSize:      512,
			ChunkOverlap:   64,
			TokenModel:     "gpt-3.5-turbo",
			MinChunkChars:  20,
		},
		Deletion: DeletionConfig{
			BatchSize:    100,
			PollInterval: 5 * time.Second,
			MaxRetries:   3,
			RetryDelay:   200 * time.Millisecond,
		},
		Sweeps: SweepConfig{
			ExpireSessions:  5 * time.Minute,
			PurgeAudit:      time.Hour,
			PruneAccessLog:  time.Hour,
			ResumeDeletions: time.Minute,
		},
		AuditRetention:     30 * 24 * time.Hour,
		ChunkKeysCacheSize: 1000,
		SearchMaxLimit:     100,
	}
}

// Load reads a config from path over the defaults. A missing file yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyDefaults(cfg)
	return cfg, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadEnvFiles loads .env style files into the process environment.
// Missing files are ignored; variables already set win.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// ApplyEnv overrides fields from KBASE_* variables read through getenv.
func ApplyEnv(cfg *Config, getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}
	str("KBASE_DATA_DIR", &cfg.DataDir)
	str("KBASE_LOG_LEVEL", &cfg.LogLevel)
	str("KBASE_LOG_FORMAT", &cfg.LogFormat)
	str("KBASE_HTTP_ADDR", &cfg.HTTP.Addr)
	str("KBASE_EMBEDDING_HOST", &cfg.AI.EmbeddingHost)
	str("KBASE_EMBEDDING_MODEL", &cfg.AI.EmbeddingModel)
	str("OPENAI_API_KEY", &cfg.AI.APIKey)
	str("KBASE_EMBEDDING_API_KEY", &cfg.AI.APIKey)
	str("KBASE_VECTOR_STORE", &cfg.VectorStore.Type)
	str("KBASE_QDRANT_HOST", &cfg.VectorStore.Qdrant.Host)
	str("KBASE_QDRANT_API_KEY", &cfg.VectorStore.Qdrant.APIKey)
	str("KBASE_REDIS_ADDR", &cfg.Redis.Addr)
	str("KBASE_REDIS_PASSWORD", &cfg.Redis.Password)

	if v := getenv("KBASE_QDRANT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("KBASE_QDRANT_PORT: %w", err)
		}
		cfg.VectorStore.Qdrant.Port = port
	}
	if v := getenv("KBASE_PREVIEW_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("KBASE_PREVIEW_ENABLED: %w", err)
		}
		cfg.Ingestion.PreviewEnabled = enabled
	}
	return nil
}

// Validate checks the configuration for values the components would reject.
func (c *Config) Validate() error {
	var errs []error
	if _, err := ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log_format must be text or json, got %q", c.LogFormat))
	}
	switch c.VectorStore.Type {
	case "memory":
	case "qdrant":
		if c.VectorStore.Qdrant.Host == "" || c.VectorStore.Qdrant.Collection == "" {
			errs = append(errs, errors.New("vector_store.qdrant needs host and collection"))
		}
		if err := c.AI.Validate(); err != nil {
			errs = append(errs, err)
		}
	default:
		errs = append(errs, fmt.Errorf("vector_store.type must be memory or qdrant, got %q", c.VectorStore.Type))
	}
	if c.Ingestion.ChunkOverlap >= c.Ingestion.ChunkSize {
		errs = append(errs, fmt.Errorf("ingestion.chunk_overlap (%d) must be below chunk_size (%d)",
			c.Ingestion.ChunkOverlap, c.Ingestion.ChunkSize))
	}
	if c.Deletion.BatchSize < 1 || c.Deletion.BatchSize > 1000 {
		errs = append(errs, fmt.Errorf("deletion.batch_size must be in [1, 1000], got %d", c.Deletion.BatchSize))
	}
	if c.Ingestion.PreviewTTL <= 0 {
		errs = append(errs, errors.New("ingestion.preview_ttl must be positive"))
	}
	return errors.Join(errs...)
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(name))); err != nil {
		return 0, fmt.Errorf("unknown log level %q", name)
	}
	return level, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Ingestion.PreviewTTL == 0 {
		cfg.Ingestion.PreviewTTL = def.Ingestion.PreviewTTL
	}
	if cfg.Ingestion.ChunkSize == 0 {
		cfg.Ingestion.ChunkSize = def.Ingestion.ChunkSize
	}
	if cfg.Deletion.BatchSize == 0 {
		cfg.Deletion.BatchSize = def.Deletion.BatchSize
	}
	if cfg.Deletion.PollInterval == 0 {
		cfg.Deletion.PollInterval = def.Deletion.PollInterval
	}
	if cfg.Deletion.MaxRetries == 0 {
		cfg.Deletion.MaxRetries = def.Deletion.MaxRetries
	}
	if cfg.AuditRetention == 0 {
		cfg.AuditRetention = def.AuditRetention
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant.Port == 0 {
			cfg.VectorStore.Qdrant.Port = 6334
		}
		if cfg.VectorStore.Qdrant.Collection == "" {
			cfg.VectorStore.Qdrant.Collection = "kbase"
		}
	}
	cfg.AI.Normalize()
}

package config

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/poiesic/tenantrag/ai"
	"github.com/poiesic/tenantrag/chunker"
	"github.com/poiesic/tenantrag/core"
	"github.com/poiesic/tenantrag/embedding"
	"github.com/poiesic/tenantrag/index"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "TENANTRAG_"

// Config is the complete engine configuration.
type Config struct {
	Storage   StorageConfig   `koanf:"storage"`
	AI        AIConfig        `koanf:"ai"`
	Embedding EmbeddingConfig `koanf:"embedding"`
	Chunking  ChunkingConfig  `koanf:"chunking"`
	Ingestion IngestionConfig `koanf:"ingestion"`
	Index     IndexConfig     `koanf:"index"`
	Tasks     TasksConfig     `koanf:"tasks"`
	Query     QueryConfig     `koanf:"query"`
	Log       LogConfig       `koanf:"log"`
}

// StorageConfig selects the badger database location.
type StorageConfig struct {
	Path     string `koanf:"path"`
	InMemory bool   `koanf:"in_memory"`
}

// AIConfig addresses the embedding and answer generation services.
type AIConfig struct {
	EmbeddingHost   string  `koanf:"embedding_host"`
	GenerationHost  string  `koanf:"generation_host"`
	EmbeddingModel  string  `koanf:"embedding_model"`
	GenerationModel string  `koanf:"generation_model"`
	Token           string  `koanf:"token"`
	Temperature     float64 `koanf:"temperature"`
	MaxTokens       int     `koanf:"max_tokens"`
}

// EmbeddingConfig tunes the embedding gateway.
type EmbeddingConfig struct {
	Timeout   time.Duration `koanf:"timeout"`
	RateLimit float64       `koanf:"rate_limit"` // Calls per second, 0 for unlimited
	Burst     int           `koanf:"burst"`
	MaxBatch  int           `koanf:"max_batch"`
	Dimension int           `koanf:"dimension"` // 0 takes it from the first vector
}

// ChunkingConfig sets chunk size and overlap.
type ChunkingConfig struct {
	Size    int    `koanf:"size"`
	Overlap int    `koanf:"overlap"`
	Unit    string `koanf:"unit"` // "runes" or "tokens"
}

// IngestionConfig tunes the ingestion pipeline.
type IngestionConfig struct {
	BatchSize        int `koanf:"batch_size"`
	EmbedConcurrency int `koanf:"embed_concurrency"`
}

// IndexConfig tunes the vector index manager.
type IndexConfig struct {
	Metric          string  `koanf:"metric"`
	CompactionRatio float64 `koanf:"compaction_ratio"`
	MaxMemory       int64   `koanf:"max_memory"` // Bytes of tenant indexes kept in memory
}

// TasksConfig tunes the task orchestrator.
type TasksConfig struct {
	Workers       int           `koanf:"workers"`
	MaxQueueDepth int           `koanf:"max_queue_depth"`
	MaxAttempts   int           `koanf:"max_attempts"`
	BaseDelay     time.Duration `koanf:"base_delay"`
	MaxDelay      time.Duration `koanf:"max_delay"`
	Timeout       time.Duration `koanf:"timeout"`
}

// QueryConfig tunes the query engine.
type QueryConfig struct {
	TopK              int           `koanf:"top_k"`
	CandidateFactor   int           `koanf:"candidate_factor"`
	FreshnessWeight   float64       `koanf:"freshness_weight"`
	GenerationTimeout time.Duration `koanf:"generation_timeout"`
	FallbackAnswer    bool          `koanf:"fallback_answer"`
}

// LogConfig sets the log level: debug, info, warn or error.
type LogConfig struct {
	Level string `koanf:"level"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	aiDefaults := ai.DefaultConfig()
	return &Config{
		Storage: StorageConfig{Path: "tenantrag.db"},
		AI: AIConfig{
			EmbeddingHost:   aiDefaults.EmbeddingHost,
			GenerationHost:  aiDefaults.GenerationHost,
			EmbeddingModel:  aiDefaults.EmbeddingModel,
			GenerationModel: aiDefaults.GenerationModel,
			Token:           aiDefaults.Token,
			Temperature:     aiDefaults.Temperature,
		},
		Embedding: EmbeddingConfig{
			Timeout:  embedding.DefaultTimeout,
			MaxBatch: embedding.DefaultMaxBatch,
		},
		Chunking: ChunkingConfig{
			Size:    chunker.DefaultSize,
			Overlap: chunker.DefaultOverlap,
			Unit:    "runes",
		},
		Ingestion: IngestionConfig{
			BatchSize:        32,
			EmbedConcurrency: 4,
		},
		Index: IndexConfig{
			Metric:          "cosine",
			CompactionRatio: index.DefaultCompactionRatio,
			MaxMemory:       index.DefaultMaxMemory,
		},
		Tasks: TasksConfig{
			Workers:       4,
			MaxQueueDepth: 1000,
			MaxAttempts:   3,
			BaseDelay:     time.Second,
			MaxDelay:      30 * time.Second,
			Timeout:       10 * time.Minute,
		},
		Query: QueryConfig{
			TopK:              5,
			CandidateFactor:   2,
			FreshnessWeight:   0.1,
			GenerationTimeout: 60 * time.Second,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load reads configuration from the YAML file at path, if it exists, then
// overlays environment variables. An empty path skips the file.
//
// Environment variables map to keys by splitting on the first underscore
// after the prefix:
//
//	TENANTRAG_AI_EMBEDDING_MODEL -> ai.embedding_model
//	TENANTRAG_TASKS_MAX_QUEUE_DEPTH -> tasks.max_queue_depth
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("reading config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("accessing config %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

// Validate checks that the configuration contains usable values.
func (c *Config) Validate() error {
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("%w: storage.path is required", core.ErrConfig)
	}
	if err := c.ToAI().Validate(); err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfig, err)
	}
	if c.Embedding.Timeout <= 0 {
		return fmt.Errorf("%w: embedding.timeout must be positive", core.ErrConfig)
	}
	if c.Embedding.RateLimit < 0 || c.Embedding.Burst < 0 || c.Embedding.MaxBatch < 1 || c.Embedding.Dimension < 0 {
		return fmt.Errorf("%w: invalid embedding limits", core.ErrConfig)
	}
	if c.Chunking.Size < 1 || c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("%w: chunking requires size > overlap >= 0, got size %d overlap %d",
			core.ErrConfig, c.Chunking.Size, c.Chunking.Overlap)
	}
	if _, err := c.ChunkUnit(); err != nil {
		return err
	}
	if c.Ingestion.BatchSize < 1 || c.Ingestion.EmbedConcurrency < 1 {
		return fmt.Errorf("%w: ingestion batch_size and embed_concurrency must be positive", core.ErrConfig)
	}
	if _, err := index.ParseMetric(c.Index.Metric); err != nil {
		return fmt.Errorf("%w: %w", core.ErrConfig, err)
	}
	if c.Index.CompactionRatio <= 0 || c.Index.CompactionRatio > 1 || c.Index.MaxMemory < 1 {
		return fmt.Errorf("%w: invalid index limits", core.ErrConfig)
	}
	t := c.Tasks
	if t.Workers < 1 || t.MaxQueueDepth < 1 || t.MaxAttempts < 1 {
		return fmt.Errorf("%w: tasks workers, max_queue_depth and max_attempts must be positive", core.ErrConfig)
	}
	if t.BaseDelay < 0 || t.MaxDelay < 0 || t.Timeout <= 0 {
		return fmt.Errorf("%w: invalid task timings", core.ErrConfig)
	}
	q := c.Query
	if q.TopK < 1 || q.CandidateFactor < 1 || q.GenerationTimeout <= 0 {
		return fmt.Errorf("%w: invalid query settings", core.ErrConfig)
	}
	if math.IsNaN(q.FreshnessWeight) || math.IsInf(q.FreshnessWeight, 0) {
		return fmt.Errorf("%w: query.freshness_weight must be finite", core.ErrConfig)
	}
	if _, err := c.LogLevel(); err != nil {
		return err
	}
	return nil
}

// ToAI returns the AI service settings as an ai.Config.
func (c *Config) ToAI() *ai.Config {
	return ai.NewConfig(
		ai.WithEmbeddingHost(c.AI.EmbeddingHost),
		ai.WithGenerationHost(c.AI.GenerationHost),
		ai.WithEmbeddingModel(c.AI.EmbeddingModel),
		ai.WithGenerationModel(c.AI.GenerationModel),
		ai.WithToken(c.AI.Token),
		ai.WithTemperature(c.AI.Temperature),
		ai.WithMaxTokens(c.AI.MaxTokens),
	)
}

// ChunkUnit parses Chunking.Unit.
func (c *Config) ChunkUnit() (chunker.Unit, error) {
	switch strings.ToLower(c.Chunking.Unit) {
	case "", "runes":
		return chunker.UnitRunes, nil
	case "tokens":
		return chunker.UnitTokens, nil
	default:
		return 0, fmt.Errorf("%w: unknown chunking.unit %q", core.ErrConfig, c.Chunking.Unit)
	}
}

// LogLevel parses Log.Level.
func (c *Config) LogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Log.Level)); err != nil {
		return 0, fmt.Errorf("%w: log.level: %w", core.ErrConfig, err)
	}
	return level, nil
}

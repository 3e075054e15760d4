// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Kafka, Redis, MinIO, Indexer, Search, etc.).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Redis     RedisConfig     `yaml:"redis"`
	Minio     MinioConfig     `yaml:"minio"`
	Indexer   IndexerConfig   `yaml:"indexer"`
	Search    SearchConfig    `yaml:"search"`
	RateLimit RateLimitConfig `yaml:"rateLimit"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// PostgresConfig holds connection parameters for the primary store, which is
// only read when the index is rebuilt.
type PostgresConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	EvaluationEvents string `yaml:"evaluationEvents"`
	AnalyticsEvents  string `yaml:"analyticsEvents"`
}

// RedisConfig holds Redis connection and caching parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// MinioConfig describes the S3-compatible bucket used either as the index
// directory itself or as a backup target.
type MinioConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"accessKey"`
	SecretKey string `yaml:"secretKey"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	UseSSL    bool   `yaml:"useSSL"`
}

// Storage backends understood by IndexerConfig.Storage.
const (
	StorageFS     = "fs"
	StorageMemory = "memory"
	StorageMinio  = "minio"
)

// Stored-field codecs understood by IndexerConfig.StoredFieldsCodec.
const (
	CodecNone = "none"
	CodecZstd = "zstd"
	CodecLZ4  = "lz4"
)

// IndexerConfig controls where the index lives, how stored fields are
// encoded, and the segment merge policy.
type IndexerConfig struct {
	DataDir                string        `yaml:"dataDir"`
	Storage                string        `yaml:"storage"`
	StoredFieldsCodec      string        `yaml:"storedFieldsCodec"`
	MaxSegmentsBeforeMerge int           `yaml:"maxSegmentsBeforeMerge"`
	MergeInterval          time.Duration `yaml:"mergeInterval"`
	StopWords              []string      `yaml:"stopWords"`
	DisableStopWords       bool          `yaml:"disableStopWords"`
	RebuildOnStartup       bool          `yaml:"rebuildOnStartup"`
}

// SearchConfig controls query execution limits.
type SearchConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxResults   int `yaml:"maxResults"`
	MaxKeywords  int `yaml:"maxKeywords"`
}

// RateLimitConfig bounds the request rate accepted by the HTTP API.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig controls span logging.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sampleRate"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with defaults suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "restaurants",
			User:            "restaurants",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "evaluation-index",
			Topics: KafkaTopics{
				EvaluationEvents: "evaluation-events",
				AnalyticsEvents:  "search-analytics",
			},
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 60 * time.Second,
		},
		Minio: MinioConfig{
			Endpoint: "localhost:9000",
			Bucket:   "evaluation-index",
		},
		Indexer: IndexerConfig{
			DataDir:                "evaluation-index",
			Storage:                StorageFS,
			StoredFieldsCodec:      CodecZstd,
			MaxSegmentsBeforeMerge: 10,
			MergeInterval:          0,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxResults:   100,
			MaxKeywords:  32,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 200,
			Burst:             400,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Tracing: TracingConfig{
			SampleRate: 1,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate rejects settings the index cannot run with.
func (c *Config) Validate() error {
	switch c.Indexer.Storage {
	case StorageFS, StorageMemory, StorageMinio:
	default:
		return fmt.Errorf("indexer.storage: unknown backend %q", c.Indexer.Storage)
	}
	switch c.Indexer.StoredFieldsCodec {
	case CodecNone, CodecZstd, CodecLZ4:
	default:
		return fmt.Errorf("indexer.storedFieldsCodec: unknown codec %q", c.Indexer.StoredFieldsCodec)
	}
	if c.Indexer.Storage == StorageFS && strings.TrimSpace(c.Indexer.DataDir) == "" {
		return fmt.Errorf("indexer.dataDir is required for the fs backend")
	}
	if c.Indexer.Storage == StorageMinio && c.Minio.Bucket == "" {
		return fmt.Errorf("minio.bucket is required for the minio backend")
	}
	if c.Indexer.MaxSegmentsBeforeMerge < 1 {
		return fmt.Errorf("indexer.maxSegmentsBeforeMerge must be positive, got %d", c.Indexer.MaxSegmentsBeforeMerge)
	}
	if c.Search.DefaultLimit < 1 {
		return fmt.Errorf("search.defaultLimit must be positive, got %d", c.Search.DefaultLimit)
	}
	if c.Search.MaxResults < c.Search.DefaultLimit {
		return fmt.Errorf("search.maxResults (%d) must be >= search.defaultLimit (%d)", c.Search.MaxResults, c.Search.DefaultLimit)
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rateLimit.requestsPerSecond must be positive when enabled")
	}
	return nil
}

// applyEnvOverrides reads EVIDX_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EVIDX_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("EVIDX_POSTGRES_HOST"); v != "" {
		cfg.Postgres.Host = v
	}
	if v := os.Getenv("EVIDX_POSTGRES_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Postgres.Port = port
		}
	}
	if v := os.Getenv("EVIDX_POSTGRES_DATABASE"); v != "" {
		cfg.Postgres.Database = v
	}
	if v := os.Getenv("EVIDX_POSTGRES_USER"); v != "" {
		cfg.Postgres.User = v
	}
	if v := os.Getenv("EVIDX_POSTGRES_PASSWORD"); v != "" {
		cfg.Postgres.Password = v
	}
	if v := os.Getenv("EVIDX_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	if v := os.Getenv("EVIDX_REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := os.Getenv("EVIDX_REDIS_PASSWORD"); v != "" {
		cfg.Redis.Password = v
	}
	if v := os.Getenv("EVIDX_MINIO_ENDPOINT"); v != "" {
		cfg.Minio.Endpoint = v
	}
	if v := os.Getenv("EVIDX_MINIO_ACCESS_KEY"); v != "" {
		cfg.Minio.AccessKey = v
	}
	if v := os.Getenv("EVIDX_MINIO_SECRET_KEY"); v != "" {
		cfg.Minio.SecretKey = v
	}
	if v := os.Getenv("EVIDX_INDEX_DIR"); v != "" {
		cfg.Indexer.DataDir = v
	}
	if v := os.Getenv("EVIDX_INDEX_STORAGE"); v != "" {
		cfg.Indexer.Storage = v
	}
	if v := os.Getenv("EVIDX_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("EVIDX_LOGGING_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

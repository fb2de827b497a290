package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"techfolks/internal/common/cache"
	"techfolks/internal/common/db"
	"techfolks/internal/common/mq"
	"techfolks/internal/common/storage"
	"techfolks/internal/judge/executor"
	"techfolks/internal/judge/service"
	"techfolks/pkg/utils/logger"
)

const (
	defaultShutdownTimeout = 30 * time.Second

	defaultHTTPAddr     = "0.0.0.0:8087"
	defaultReadTimeout  = 5 * time.Second
	defaultWriteTimeout = 15 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// ServerConfig holds the worker's HTTP surface settings (health probe
// and status passthrough).
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// ConsumerConfig controls the judge job subscription.
type ConsumerConfig struct {
	Topic           string        `yaml:"topic"`
	Group           string        `yaml:"group"`
	Concurrency     int           `yaml:"concurrency"`
	MaxAttempts     int           `yaml:"maxAttempts"`
	RetryDelay      time.Duration `yaml:"retryDelay"`
	DeadLetterTopic string        `yaml:"deadLetterTopic"`
}

// JudgeConfig holds judging behavior settings.
type JudgeConfig struct {
	// Backend selects the execution backend: "http" or "mock".
	Backend              string                     `yaml:"backend"`
	HTTPBackend          executor.HTTPBackendConfig `yaml:"httpBackend"`
	Scoring              service.ScorePolicy        `yaml:"scoring"`
	DefaultTimeLimitMs   int64                      `yaml:"defaultTimeLimitMs"`
	DefaultMemoryLimitKb int64                      `yaml:"defaultMemoryLimitKb"`
	SourceBucket         string                     `yaml:"sourceBucket"`
}

// AppConfig holds judge-worker configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Consumer ConsumerConfig      `yaml:"consumer"`
	Judge    JudgeConfig         `yaml:"judge"`
}

func loadAppConfig(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config file failed: %w", err)
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}
	if cfg.Redis.Addr == "" {
		return nil, fmt.Errorf("redis.addr is required")
	}
	if len(cfg.Kafka.Brokers) == 0 {
		return nil, fmt.Errorf("kafka.brokers is required")
	}

	if cfg.Consumer.Topic == "" {
		cfg.Consumer.Topic = "judge.jobs"
	}
	if cfg.Consumer.Group == "" {
		cfg.Consumer.Group = "judge-workers"
	}
	if cfg.Consumer.Concurrency == 0 {
		cfg.Consumer.Concurrency = 4
	}
	if cfg.Consumer.DeadLetterTopic == "" {
		cfg.Consumer.DeadLetterTopic = cfg.Consumer.Topic + ".dead"
	}

	switch cfg.Judge.Backend {
	case "", "http":
		cfg.Judge.Backend = "http"
		if cfg.Judge.HTTPBackend.BaseURL == "" {
			return nil, fmt.Errorf("judge.httpBackend.baseUrl is required")
		}
	case "mock":
	default:
		return nil, fmt.Errorf("unknown judge backend %q", cfg.Judge.Backend)
	}
	if cfg.Judge.SourceBucket == "" {
		cfg.Judge.SourceBucket = cfg.MinIO.Bucket
	}
	return &cfg, nil
}

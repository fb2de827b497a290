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
	"techfolks/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8086"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 15 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
	JWTSecret    string        `yaml:"jwtSecret"`
}

// SubmitConfig holds submission handling settings.
type SubmitConfig struct {
	JudgeTopic         string   `yaml:"judgeTopic"`
	SourceBucket       string   `yaml:"sourceBucket"`
	MaxSourceBytes     int      `yaml:"maxSourceBytes"`
	Languages          []string `yaml:"languages"`
	RateLimitPerMinute int      `yaml:"rateLimitPerMinute"`
}

// AppConfig holds submit-service configuration.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Database db.MySQLConfig      `yaml:"database"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Kafka    mq.KafkaConfig      `yaml:"kafka"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Submit   SubmitConfig        `yaml:"submit"`
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
	if cfg.Server.JWTSecret == "" {
		return nil, fmt.Errorf("server.jwtSecret is required")
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

	if cfg.Submit.JudgeTopic == "" {
		cfg.Submit.JudgeTopic = "judge.jobs"
	}
	if cfg.Submit.SourceBucket == "" {
		cfg.Submit.SourceBucket = cfg.MinIO.Bucket
	}
	return &cfg, nil
}

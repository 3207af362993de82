package config

import (
	yamlenv "github.com/ifuryst/go-yaml-env"

	"github.com/loungehq/curator/pkg/logger"
)

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Logger     logger.Config    `yaml:"logger"`
	BrightData BrightDataConfig `yaml:"brightdata"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Queue      QueueConfig      `yaml:"queue"`
	Digest     DigestConfig     `yaml:"digest"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	Host     string `yaml:"host"`
	Mode     string `yaml:"mode"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`
	TimeZone string `yaml:"timezone"`
}

// RedisConfig enables cross-instance job dedup when Enabled is set.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type BrightDataConfig struct {
	APIToken  string `yaml:"api_token"`
	BaseURL   string `yaml:"base_url"`
	DatasetID string `yaml:"dataset_id"`
	Timeout   string `yaml:"timeout"`
}

type ClassifierConfig struct {
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	Timeout     string  `yaml:"timeout"`
}

type SchedulerConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ReconcileInterval string `yaml:"reconcile_interval"`
	ScoringInterval   string `yaml:"scoring_interval"`
	RecoveryInterval  string `yaml:"recovery_interval"`
	AnalysisInterval  string `yaml:"analysis_interval"`
	AnalysisWindow    string `yaml:"analysis_window"`
	DigestInterval    string `yaml:"digest_interval"`
}

type QueueConfig struct {
	Workers    int    `yaml:"workers"`
	BufferSize int    `yaml:"buffer_size"`
	JobTimeout string `yaml:"job_timeout"`
	MaxRetries int    `yaml:"max_retries"`
	RetryDelay string `yaml:"retry_delay"`
}

type DigestConfig struct {
	WindowHours int `yaml:"window_hours"`
	MaxItems    int `yaml:"max_items"`
}

func LoadConfig(configPath string) (*Config, error) {
	cfg, err := yamlenv.LoadConfig[Config](configPath)
	if err != nil {
		return nil, err
	}

	// Set default values
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5380
	}
	if cfg.Server.Mode == "" {
		cfg.Server.Mode = "debug"
	}
	if cfg.Database.Host == "" {
		cfg.Database.Host = "localhost"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.SSLMode == "" {
		cfg.Database.SSLMode = "disable"
	}
	if cfg.Database.TimeZone == "" {
		cfg.Database.TimeZone = "UTC"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.BrightData.BaseURL == "" {
		cfg.BrightData.BaseURL = "https://api.brightdata.com"
	}
	if cfg.BrightData.Timeout == "" {
		cfg.BrightData.Timeout = "30s"
	}
	if cfg.Classifier.BaseURL == "" {
		cfg.Classifier.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Classifier.Model == "" {
		cfg.Classifier.Model = "gpt-4o-mini"
	}
	if cfg.Classifier.Timeout == "" {
		cfg.Classifier.Timeout = "60s"
	}
	if cfg.Scheduler.ReconcileInterval == "" {
		cfg.Scheduler.ReconcileInterval = "2m"
	}
	if cfg.Scheduler.ScoringInterval == "" {
		cfg.Scheduler.ScoringInterval = "5m"
	}
	if cfg.Scheduler.RecoveryInterval == "" {
		cfg.Scheduler.RecoveryInterval = "1h"
	}
	if cfg.Scheduler.AnalysisInterval == "" {
		cfg.Scheduler.AnalysisInterval = "168h"
	}
	if cfg.Scheduler.AnalysisWindow == "" {
		cfg.Scheduler.AnalysisWindow = "168h"
	}
	if cfg.Scheduler.DigestInterval == "" {
		cfg.Scheduler.DigestInterval = "24h"
	}
	if cfg.Queue.Workers == 0 {
		cfg.Queue.Workers = 10
	}
	if cfg.Queue.BufferSize == 0 {
		cfg.Queue.BufferSize = 100
	}
	if cfg.Queue.JobTimeout == "" {
		cfg.Queue.JobTimeout = "5m"
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 3
	}
	if cfg.Queue.RetryDelay == "" {
		cfg.Queue.RetryDelay = "30s"
	}
	if cfg.Digest.WindowHours == 0 {
		cfg.Digest.WindowHours = 24
	}
	if cfg.Digest.MaxItems == 0 {
		cfg.Digest.MaxItems = 10
	}

	return cfg, nil
}

package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type AdminConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	URL string `yaml:"url"`
}

type RedisConfig struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	Namespace string `yaml:"namespace"` // key prefix shared with workers
}

// SchedulerConfig carries the admission/dispatch/retry knobs. The retry and
// tie-break defaults follow observed worker behaviour rather than a verified
// contract, so both stay configurable.
type SchedulerConfig struct {
	MaxConcurrentTasks  int           `yaml:"max_num_concurrent_tasks"` // <=0 unlimited
	MaxWorkersTrain     int           `yaml:"max_workers_train"`        // -1 = all available
	MaxWorkersInference int           `yaml:"max_workers_inference"`    // -1 = all available
	InferenceBatchCap   int           `yaml:"inference_batch_cap"`      // max work items per worker
	TaskTimeout         time.Duration `yaml:"task_timeout"`
	TaskRetryLimit      int           `yaml:"task_retry_limit"`
	PreferRecentWorkers *bool         `yaml:"prefer_recent_workers"`
	SweepInterval       time.Duration `yaml:"sweep_interval"`
	HeartbeatExpiry     time.Duration `yaml:"heartbeat_expiry"`
}

type Config struct {
	Log       LogConfig       `yaml:"log"`
	Admin     AdminConfig     `yaml:"admin"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Scheduler SchedulerConfig `yaml:"scheduler"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	applyDefaults(&cfg)

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if cfg.Admin.APIKey == "" && !dev {
		return nil, errors.New("admin.api_key is required outside dev mode")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Admin.Port == 0 {
		cfg.Admin.Port = 8080
	}
	if cfg.Redis.Namespace == "" {
		cfg.Redis.Namespace = "mlctl"
	}
	s := &cfg.Scheduler
	if s.MaxWorkersTrain == 0 {
		s.MaxWorkersTrain = -1
	}
	if s.MaxWorkersInference == 0 {
		s.MaxWorkersInference = -1
	}
	if s.InferenceBatchCap <= 0 {
		s.InferenceBatchCap = 64
	}
	if s.TaskTimeout <= 0 {
		s.TaskTimeout = 5 * time.Minute
	}
	if s.TaskRetryLimit < 0 {
		s.TaskRetryLimit = 0
	} else if s.TaskRetryLimit == 0 {
		s.TaskRetryLimit = 1
	}
	if s.PreferRecentWorkers == nil {
		t := true
		s.PreferRecentWorkers = &t
	}
	if s.SweepInterval <= 0 {
		s.SweepInterval = 15 * time.Second
	}
	if s.HeartbeatExpiry <= 0 {
		s.HeartbeatExpiry = 45 * time.Second
	}
}

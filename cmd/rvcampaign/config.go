package main

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"rvcampaign/internal/campaign/dut"
	"rvcampaign/internal/campaign/pipeline"
	"rvcampaign/internal/common/cache"
	"rvcampaign/internal/common/db"
	"rvcampaign/internal/common/mq"
	"rvcampaign/internal/common/storage"
	"rvcampaign/internal/generator/aapg"
	appErr "rvcampaign/pkg/errors"
	"rvcampaign/pkg/utils/logger"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigPath      = "rvcampaign.yaml"
	defaultHTTPAddr        = "0.0.0.0:8090"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 10 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultStatusTTL       = 7 * 24 * time.Hour
	defaultStatusTimeout   = 3 * time.Second
	defaultEventTopic      = "rvcampaign.campaign.finished"
	defaultArchivePrefix   = "campaigns"
)

// CampaignConfig holds run settings.
type CampaignConfig struct {
	WorkDir     string        `yaml:"workDir"`
	Jobs        int           `yaml:"jobs"`
	Filter      string        `yaml:"filter"`
	Timeout     time.Duration `yaml:"timeout"`
	SpaceSaver  bool          `yaml:"spaceSaver"`
	Driver      string        `yaml:"driver"` // exec or make
	Debug       bool          `yaml:"debug"`
	TestList    []string      `yaml:"testList"`
	TestReports bool          `yaml:"testReports"`
	MetricsAddr string        `yaml:"metricsAddr"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// StatusConfig holds status persistence and event settings.
type StatusConfig struct {
	TTL     time.Duration `yaml:"ttl"`
	Timeout time.Duration `yaml:"timeout"`
	Topic   string        `yaml:"topic"`
}

// ArchiveConfig holds coverage bundle settings.
type ArchiveConfig struct {
	Prefix string `yaml:"prefix"`
}

// MergeConfig holds distributed merge lock settings.
type MergeConfig struct {
	LockTTL  time.Duration `yaml:"lockTTL"`
	LockWait time.Duration `yaml:"lockWait"`
}

// AppConfig holds the rvcampaign config.
type AppConfig struct {
	Logger    logger.Config       `yaml:"logger"`
	Campaign  CampaignConfig      `yaml:"campaign"`
	Backend   dut.Config          `yaml:"backend"`
	Toolchain pipeline.Toolchain  `yaml:"toolchain"`
	Generator aapg.Config         `yaml:"generator"`
	Merge     MergeConfig         `yaml:"merge"`
	Redis     cache.RedisConfig   `yaml:"redis"`
	MinIO     storage.MinIOConfig `yaml:"minio"`
	Kafka     mq.KafkaConfig      `yaml:"kafka"`
	Database  db.MySQLConfig      `yaml:"database"`
	Status    StatusConfig        `yaml:"status"`
	Archive   ArchiveConfig       `yaml:"archive"`
	Server    ServerConfig        `yaml:"server"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return appErr.ConfigError(appErr.ConfigInvalid, "parse config file %s: %v", path, err)
	}
	return nil
}

// loadAppConfig reads path and applies defaults. A missing file is only
// accepted for the default path.
func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) || path != defaultConfigPath {
			if appErr.IsConfiguration(err) {
				return nil, err
			}
			return nil, appErr.ConfigError(appErr.ConfigInvalid, "read config file %s: %v", path, err)
		}
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *AppConfig) {
	if cfg.Logger.Level == "" {
		cfg.Logger.Level = "info"
	}
	if cfg.Logger.Format == "" {
		cfg.Logger.Format = "console"
	}
	if cfg.Campaign.WorkDir == "" {
		cfg.Campaign.WorkDir = "."
	}
	if cfg.Campaign.Jobs <= 0 {
		cfg.Campaign.Jobs = 1
	}
	if cfg.Campaign.Driver == "" {
		cfg.Campaign.Driver = "exec"
	}
	if cfg.Backend.Kind == "" {
		cfg.Backend.Kind = dut.KindVerilator
	}
	applyRedisDefaults(&cfg.Redis)
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
	if cfg.Status.TTL == 0 {
		cfg.Status.TTL = defaultStatusTTL
	}
	if cfg.Status.Timeout == 0 {
		cfg.Status.Timeout = defaultStatusTimeout
	}
	if cfg.Status.Topic == "" {
		cfg.Status.Topic = defaultEventTopic
	}
	if cfg.Kafka.Topic == "" {
		cfg.Kafka.Topic = cfg.Status.Topic
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = defaultArchivePrefix
	}
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
}

// backendConfig returns the backend section bound to the campaign work dir.
func (c *AppConfig) backendConfig() (dut.Config, error) {
	workDir, err := filepath.Abs(c.Campaign.WorkDir)
	if err != nil {
		return dut.Config{}, appErr.ConfigError(appErr.ConfigInvalid, "resolve work dir %s: %v", c.Campaign.WorkDir, err)
	}
	cfg := c.Backend
	cfg.WorkDir = workDir
	cfg.Debug = c.Campaign.Debug
	return cfg, nil
}

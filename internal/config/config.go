package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// ServerConfig holds server configuration
type ServerConfig struct {
	NodeID          string        `yaml:"node_id"`
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Config represents the complete configuration for the ledger node
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Storage     StorageConfig     `yaml:"storage"`
	Chain       ChainConfig       `yaml:"chain"`
	Replication ReplicationConfig `yaml:"replication"`
	Disk        DiskConfig        `yaml:"disk"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// StorageConfig holds storage configuration
type StorageConfig struct {
	DataDir         string        `yaml:"data_dir"`
	DBFile          string        `yaml:"db_file"`
	OpenTimeout     time.Duration `yaml:"open_timeout"`
	InitialMmapSize int           `yaml:"initial_mmap_size"`
	NoSync          bool          `yaml:"no_sync"`
	MaxDiskUsage    float64       `yaml:"max_disk_usage"`
}

// DBPath returns the full path of the engine file
func (s StorageConfig) DBPath() string {
	if filepath.IsAbs(s.DBFile) {
		return s.DBFile
	}
	return filepath.Join(s.DataDir, s.DBFile)
}

// ChainConfig holds source chain sequencing configuration
type ChainConfig struct {
	// MaxCommitRetries is the number of extra attempts after a head-moved
	// conflict. Zero disables retrying.
	MaxCommitRetries     int `yaml:"max_commit_retries"`
	MaxHeaderAddressSize int `yaml:"max_header_address_size"`
}

// ReplicationConfig holds configuration for publishing committed items
type ReplicationConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Interval     time.Duration `yaml:"interval"`
	BatchSize    int           `yaml:"batch_size"`
	Workers      int           `yaml:"workers"`
	QueueSize    int           `yaml:"queue_size"`
	PublishRate  float64       `yaml:"publish_rate"`
	PublishBurst int           `yaml:"publish_burst"`
}

// DiskConfig holds disk space guard thresholds, in percent
type DiskConfig struct {
	CheckInterval           time.Duration `yaml:"check_interval"`
	WarningThreshold        float64       `yaml:"warning_threshold"`
	ThrottleThreshold       float64       `yaml:"throttle_threshold"`
	CircuitBreakerThreshold float64       `yaml:"circuit_breaker_threshold"`
}

// MetricsConfig holds metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig loads configuration from a file
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML configuration, applies defaults and validates it
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default values for unspecified configuration
func setDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9090
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 10 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30 * time.Second
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "/var/lib/pairdb-ledger"
	}
	if cfg.Storage.DBFile == "" {
		cfg.Storage.DBFile = "ledger.db"
	}
	if cfg.Storage.OpenTimeout == 0 {
		cfg.Storage.OpenTimeout = 5 * time.Second
	}
	if cfg.Storage.InitialMmapSize == 0 {
		cfg.Storage.InitialMmapSize = 64 << 20 // 64MB
	}
	if cfg.Storage.MaxDiskUsage == 0 {
		cfg.Storage.MaxDiskUsage = 0.9
	}

	if cfg.Chain.MaxCommitRetries == 0 {
		cfg.Chain.MaxCommitRetries = 3
	}
	if cfg.Chain.MaxHeaderAddressSize == 0 {
		cfg.Chain.MaxHeaderAddressSize = 256
	}

	if cfg.Replication.Interval == 0 {
		cfg.Replication.Interval = 5 * time.Second
	}
	if cfg.Replication.BatchSize == 0 {
		cfg.Replication.BatchSize = 100
	}
	if cfg.Replication.Workers == 0 {
		cfg.Replication.Workers = 1
	}
	if cfg.Replication.QueueSize == 0 {
		cfg.Replication.QueueSize = 16
	}
	if cfg.Replication.PublishRate == 0 {
		cfg.Replication.PublishRate = 1000
	}
	if cfg.Replication.PublishBurst == 0 {
		cfg.Replication.PublishBurst = 100
	}

	if cfg.Disk.CheckInterval == 0 {
		cfg.Disk.CheckInterval = 10 * time.Second
	}
	if cfg.Disk.WarningThreshold == 0 {
		cfg.Disk.WarningThreshold = 80.0
	}
	if cfg.Disk.ThrottleThreshold == 0 {
		cfg.Disk.ThrottleThreshold = 90.0
	}
	if cfg.Disk.CircuitBreakerThreshold == 0 {
		cfg.Disk.CircuitBreakerThreshold = cfg.Storage.MaxDiskUsage * 100
		if cfg.Disk.CircuitBreakerThreshold < cfg.Disk.ThrottleThreshold {
			cfg.Disk.CircuitBreakerThreshold = 95.0
		}
	}

	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.NodeID == "" {
		return fmt.Errorf("server.node_id is required")
	}
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535")
	}
	if c.Storage.MaxDiskUsage < 0 || c.Storage.MaxDiskUsage > 1 {
		return fmt.Errorf("storage.max_disk_usage must be between 0 and 1")
	}
	if c.Storage.InitialMmapSize < 0 {
		return fmt.Errorf("storage.initial_mmap_size must not be negative")
	}
	if c.Chain.MaxCommitRetries < 0 {
		return fmt.Errorf("chain.max_commit_retries must not be negative")
	}
	if c.Chain.MaxHeaderAddressSize < 1 {
		return fmt.Errorf("chain.max_header_address_size must be positive")
	}
	if c.Replication.BatchSize < 1 || c.Replication.Workers < 1 || c.Replication.QueueSize < 1 {
		return fmt.Errorf("replication.batch_size, workers and queue_size must be positive")
	}
	if c.Replication.PublishRate < 0 || c.Replication.PublishBurst < 1 {
		return fmt.Errorf("replication.publish_rate must not be negative and publish_burst must be positive")
	}
	if !(c.Disk.WarningThreshold <= c.Disk.ThrottleThreshold && c.Disk.ThrottleThreshold <= c.Disk.CircuitBreakerThreshold) {
		return fmt.Errorf("disk thresholds must satisfy warning <= throttle <= circuit_breaker")
	}
	if c.Disk.CircuitBreakerThreshold > 100 {
		return fmt.Errorf("disk.circuit_breaker_threshold must not exceed 100")
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return fmt.Errorf("logging.format must be json or console")
	}
	return nil
}

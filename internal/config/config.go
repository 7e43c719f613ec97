package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"
)

var (
	instance *Config
	once     sync.Once
)

// Config represents the complete origin server configuration
// Aggregates all component configurations for centralized management
// Supports file-based configuration with defaults for every tunable
type Config struct {
	Server  ServerConfig  `yaml:"server" json:"server"`
	Workers WorkerConfig  `yaml:"workers" json:"workers"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Stats   StatsConfig   `yaml:"stats" json:"stats"`
	Tracing TracingConfig `yaml:"tracing" json:"tracing"`
}

// ServerConfig defines the public listening endpoint and reactor tunables
// The reactor is a single epoll loop, so these limits bound the whole process
type ServerConfig struct {
	Port          int    `yaml:"port" json:"port" default:"80"`
	ListenBacklog int    `yaml:"listenBacklog" json:"listenBacklog" default:"10000"`
	MaxEvents     int    `yaml:"maxEvents" json:"maxEvents" default:"10000"`
	MaxFDLimit    uint64 `yaml:"maxFDLimit" json:"maxFDLimit" default:"100000"`
	ReadChunk     int    `yaml:"readChunk" json:"readChunk" default:"8192"`
	StaticDir     string `yaml:"staticDir" json:"staticDir" default:"./static"`
	AdminPort     int    `yaml:"adminPort" json:"adminPort" default:"0"`
}

// WorkerConfig defines the dynamic-content agent pool
// Agents share one loopback endpoint through SO_REUSEPORT so the kernel
// round-robins internal dispatch connections across them
type WorkerConfig struct {
	Count  int    `yaml:"count" json:"count" default:"4"`
	Port   int    `yaml:"port" json:"port" default:"9898"`
	CGIDir string `yaml:"cgiDir" json:"cgiDir" default:"./cgi-bin"`
}

// CacheConfig defines the loaded-module cache behavior
// Capacity is the aggregate byte size of the backing module files,
// not an entry count
type CacheConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled" default:"true"`
	CapacityBytes    int64         `yaml:"capacityBytes" json:"capacityBytes" default:"10485760"`
	RevalidatePeriod time.Duration `yaml:"revalidatePeriod" json:"revalidatePeriod" default:"60s"`
}

// StatsConfig controls the periodic request/reply rate reporter
type StatsConfig struct {
	Enabled  bool          `yaml:"enabled" json:"enabled" default:"true"`
	Interval time.Duration `yaml:"interval" json:"interval" default:"5s"`
}

// TracingConfig defines OpenTelemetry tracing configuration
// Controls distributed tracing and observability
type TracingConfig struct {
	Enabled        bool    `yaml:"enabled" json:"enabled" default:"false"`
	ServiceName    string  `yaml:"serviceName" json:"serviceName" default:"dynamo"`
	ServiceVersion string  `yaml:"serviceVersion" json:"serviceVersion" default:"1.0.0"`
	Environment    string  `yaml:"environment" json:"environment" default:"development"`
	JaegerEndpoint string  `yaml:"jaegerEndpoint" json:"jaegerEndpoint"`
	OTLPEndpoint   string  `yaml:"otlpEndpoint" json:"otlpEndpoint"`
	SamplingRatio  float64 `yaml:"samplingRatio" json:"samplingRatio" default:"0.1"`
}

// DefaultConfig returns configuration with sensible defaults
// Provides baseline configuration for development and testing
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          80,
			ListenBacklog: 10000,
			MaxEvents:     10000,
			MaxFDLimit:    100000,
			ReadChunk:     8192,
			StaticDir:     "./static",
			AdminPort:     0,
		},
		Workers: WorkerConfig{
			Count:  4,
			Port:   9898,
			CGIDir: "./cgi-bin",
		},
		Cache: CacheConfig{
			Enabled:          true,
			CapacityBytes:    10 << 20,
			RevalidatePeriod: 60 * time.Second,
		},
		Stats: StatsConfig{
			Enabled:  true,
			Interval: 5 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:        false,
			ServiceName:    "dynamo",
			ServiceVersion: "1.0.0",
			Environment:    "development",
			SamplingRatio:  0.1,
		},
	}
}

// GetInstance returns the singleton config instance
// Uses sync.Once to ensure thread-safe lazy initialisation
// Time Complexity: O(1) - returns cached instance after first call
// Space Complexity: O(1) - stores single configuration instance
func GetInstance() *Config {
	once.Do(func() {
		instance = DefaultConfig()
	})
	return instance
}

// LoadConfig loads configuration from file and installs it as the singleton
// unless GetInstance or LoadConfig has already initialised it, in which case
// the loaded values are discarded. A missing file is not an error: the server normally runs on defaults
// plus the single positional port argument
func LoadConfig(path string) error {
	cfg, err := loadFromFile(path)
	if err != nil {
		return err
	}

	once.Do(func() {
		instance = cfg
	})
	return nil
}

// loadFromFile reads a YAML configuration file over the defaults
// Fields absent from the file keep their default values
// Time Complexity: O(n) where n is config file size
// Space Complexity: O(n) for parsing configuration
func loadFromFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Package config provides hierarchical configuration management.
// Priority: defaults < system < user < project < env < flags
package config

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	bxerrors "github.com/logflow/bxes/pkg/errors"
	"github.com/logflow/bxes/pkg/export"
	"github.com/logflow/bxes/pkg/storage/s3"
	"github.com/logflow/bxes/pkg/stream"
	"github.com/logflow/bxes/pkg/telemetry"
	"github.com/logflow/bxes/pkg/transport/redisstream"
)

// Layout names accepted in Codec.Layout.
const (
	LayoutSingle = "single"
	LayoutMulti  = "multi"
)

// Config holds all bxes configuration.
type Config struct {
	Codec     CodecConfig     `yaml:"codec"`
	Export    ExportConfig    `yaml:"export"`
	Redis     RedisConfig     `yaml:"redis"`
	S3        S3Config        `yaml:"s3"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Watch     WatchConfig     `yaml:"watch"`
}

// CodecConfig controls encoding defaults.
type CodecConfig struct {
	Version   uint32 `yaml:"version"`
	Layout    string `yaml:"layout"`    // single | multi
	Streaming bool   `yaml:"streaming"` // encode through the incremental writers
	Scope     string `yaml:"scope"`     // record | stream
	Workers   int    `yaml:"workers"`   // 0 = GOMAXPROCS
}

// ExportConfig controls Parquet export.
type ExportConfig struct {
	Compression    string `yaml:"compression"` // snappy | zstd | gzip | lz4 | none
	BatchSize      int    `yaml:"batch_size"`
	ExpandVariants bool   `yaml:"expand_variants"`
}

// RedisConfig for the record transport.
type RedisConfig struct {
	Address  string        `yaml:"address"`
	Password string        `yaml:"password"`
	Database int           `yaml:"database"`
	Stream   string        `yaml:"stream"`
	Group    string        `yaml:"group"`
	Consumer string        `yaml:"consumer"`
	MaxLen   int64         `yaml:"max_len"`
	Block    time.Duration `yaml:"block"`
}

// S3Config for archive storage.
type S3Config struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	UsePathStyle bool   `yaml:"use_path_style"`
	Prefix       string `yaml:"prefix"`
}

// TelemetryConfig for OTLP trace export.
type TelemetryConfig struct {
	Endpoint      string  `yaml:"endpoint"`
	Insecure      bool    `yaml:"insecure"`
	SamplingRatio float64 `yaml:"sampling_ratio"`
}

// WatchConfig for the directory watcher.
type WatchConfig struct {
	Output   string        `yaml:"output"`
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Codec: CodecConfig{
			Version: 1,
			Layout:  LayoutSingle,
			Scope:   stream.ScopeRecord.String(),
		},
		Export: ExportConfig{
			Compression: export.CompressionSnappy.String(),
			BatchSize:   export.DefaultConfig().BatchSize,
		},
		Redis: RedisConfig{
			Address:  "localhost:6379",
			Stream:   "bxes",
			Group:    "bxes",
			Consumer: "bxes-1",
			Block:    5 * time.Second,
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Telemetry: TelemetryConfig{
			Insecure:      true,
			SamplingRatio: 1.0,
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// Validate checks values that have a closed set of options.
func (c *Config) Validate() error {
	switch c.Codec.Layout {
	case LayoutSingle, LayoutMulti:
	default:
		return bxerrors.New(bxerrors.CodeConfigInvalid, "codec.layout must be single or multi").
			WithContext("value", c.Codec.Layout)
	}
	if _, err := stream.ParsePoolScope(c.Codec.Scope); err != nil {
		return bxerrors.Wrap(err, bxerrors.CodeConfigInvalid, "invalid codec.scope")
	}
	if c.Scope() == stream.ScopeStream && c.Redis.MaxLen > 0 {
		return bxerrors.New(bxerrors.CodeConfigInvalid, "redis.max_len must be 0 with codec.scope stream").
			WithContext("value", c.Redis.MaxLen)
	}
	if c.Codec.Workers < 0 {
		return bxerrors.New(bxerrors.CodeConfigInvalid, "codec.workers must not be negative")
	}
	if c.Export.BatchSize < 0 {
		return bxerrors.New(bxerrors.CodeConfigInvalid, "export.batch_size must not be negative")
	}
	if c.Telemetry.SamplingRatio < 0 || c.Telemetry.SamplingRatio > 1 {
		return bxerrors.New(bxerrors.CodeConfigInvalid, "telemetry.sampling_ratio must be within [0, 1]")
	}
	return nil
}

// Scope returns the configured pool scope.
func (c *Config) Scope() stream.PoolScope {
	s, _ := stream.ParsePoolScope(c.Codec.Scope)
	return s
}

// ExportOptions converts the export section.
func (c *Config) ExportOptions() export.Config {
	return export.Config{
		BatchSize:      c.Export.BatchSize,
		Compression:    export.ParseCompression(c.Export.Compression),
		ExpandVariants: c.Export.ExpandVariants,
	}
}

// RedisOptions converts the redis section.
func (c *Config) RedisOptions() redisstream.Config {
	cfg := redisstream.DefaultConfig(c.Redis.Address, c.Redis.Stream)
	cfg.Password = c.Redis.Password
	cfg.Database = c.Redis.Database
	cfg.Group = c.Redis.Group
	cfg.Consumer = c.Redis.Consumer
	cfg.MaxLen = c.Redis.MaxLen
	if c.Redis.Block > 0 {
		cfg.Block = c.Redis.Block
	}
	return cfg
}

// S3Options converts the s3 section.
func (c *Config) S3Options() s3.Config {
	cfg := s3.DefaultConfig(c.S3.Bucket, c.S3.Region)
	cfg.Endpoint = c.S3.Endpoint
	cfg.UsePathStyle = c.S3.UsePathStyle
	return cfg
}

// TelemetryOptions converts the telemetry section.
func (c *Config) TelemetryOptions() telemetry.Config {
	cfg := telemetry.DefaultConfig()
	cfg.Endpoint = c.Telemetry.Endpoint
	cfg.Insecure = c.Telemetry.Insecure
	cfg.SamplingRatio = c.Telemetry.SamplingRatio
	return cfg
}

// Manager handles configuration loading and merging.
type Manager struct {
	mu     sync.RWMutex
	config *Config
	search []string
	paths  []string // Paths that were loaded
}

// NewManager creates a manager reading the given files in order. With no
// paths the system, user and project locations are searched.
func NewManager(paths ...string) *Manager {
	if len(paths) == 0 {
		paths = DefaultPaths()
	}
	return &Manager{config: Default(), search: paths}
}

// DefaultPaths returns config file paths in priority order.
func DefaultPaths() []string {
	var paths []string

	if runtime.GOOS != "windows" {
		paths = append(paths, "/etc/bxes/config.yaml")
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".bxes", "config.yaml"))
	}
	if cwd, err := os.Getwd(); err == nil {
		paths = append(paths, filepath.Join(cwd, ".bxes.yaml"))
	}
	return paths
}

// Load loads configuration from all sources in priority order.
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = Default()
	m.paths = nil

	for _, path := range m.search {
		if err := m.loadFile(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		m.paths = append(m.paths, path)
	}

	if err := m.loadEnv(); err != nil {
		return err
	}
	return m.config.Validate()
}

// loadFile decodes a single file over the current configuration, so only
// the keys present in the file override earlier values.
func (m *Manager) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(m.config); err != nil && !errors.Is(err, io.EOF) {
		return bxerrors.Wrapf(err, bxerrors.CodeConfigInvalid, "failed to parse %s", path)
	}
	return nil
}

// loadEnv applies BXES_* environment variables.
func (m *Manager) loadEnv() error {
	c := m.config

	str := map[string]*string{
		"BXES_LAYOUT":             &c.Codec.Layout,
		"BXES_SCOPE":              &c.Codec.Scope,
		"BXES_COMPRESSION":        &c.Export.Compression,
		"BXES_REDIS_ADDRESS":      &c.Redis.Address,
		"BXES_REDIS_PASSWORD":     &c.Redis.Password,
		"BXES_REDIS_STREAM":       &c.Redis.Stream,
		"BXES_REDIS_GROUP":        &c.Redis.Group,
		"BXES_REDIS_CONSUMER":     &c.Redis.Consumer,
		"BXES_S3_BUCKET":          &c.S3.Bucket,
		"BXES_S3_REGION":          &c.S3.Region,
		"BXES_S3_ENDPOINT":        &c.S3.Endpoint,
		"BXES_S3_PREFIX":          &c.S3.Prefix,
		"BXES_TELEMETRY_ENDPOINT": &c.Telemetry.Endpoint,
	}
	for name, dst := range str {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("BXES_VERSION"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			return bxerrors.Wrap(err, bxerrors.CodeConfigInvalid, "invalid BXES_VERSION")
		}
		c.Codec.Version = uint32(n)
	}
	if v := os.Getenv("BXES_WORKERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return bxerrors.Wrap(err, bxerrors.CodeConfigInvalid, "invalid BXES_WORKERS")
		}
		c.Codec.Workers = n
	}
	if v := os.Getenv("BXES_REDIS_DB"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return bxerrors.Wrap(err, bxerrors.CodeConfigInvalid, "invalid BXES_REDIS_DB")
		}
		c.Redis.Database = n
	}
	return nil
}

// Get returns the current configuration.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config
}

// GetPaths returns the paths that were loaded.
func (m *Manager) GetPaths() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.paths
}

// Save writes the current config to path.
func (m *Manager) Save(path string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return bxerrors.Wrapf(err, bxerrors.CodeWriteFailed, "failed to create %s", filepath.Dir(path))
	}

	data, err := yaml.Marshal(m.config)
	if err != nil {
		return bxerrors.Wrap(err, bxerrors.CodeConfigInvalid, "failed to encode config")
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return bxerrors.Wrapf(err, bxerrors.CodeWriteFailed, "failed to write %s", path)
	}
	return nil
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/KevoDB/blockq/pkg/common/log"
	"github.com/KevoDB/blockq/pkg/disk"
)

const (
	DefaultConfigFileName = "blockq.json"
	CurrentConfigVersion  = 1
)

var (
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrConfigNotFound = errors.New("configuration not found")
)

type Config struct {
	Version int `json:"version"`

	// Disk configuration. An empty DataDir selects the in-memory disk.
	DataDir   string `json:"data_dir"`
	Checksums bool   `json:"checksums"`

	// Buffer pool and sort configuration
	PoolCapacity int `json:"pool_capacity"`
	RunBlocks    int `json:"run_blocks"`
	MaxFanIn     int `json:"max_fan_in"`

	// Entries kept in the decoded index cache; 0 disables it
	IndexCacheEntries int64 `json:"index_cache_entries"`

	SnapshotCodec string `json:"snapshot_codec"`
	LogLevel      string `json:"log_level"`

	mu sync.RWMutex
}

// NewDefaultConfig creates a Config with recommended default values
func NewDefaultConfig(dataDir string) *Config {
	return &Config{
		Version: CurrentConfigVersion,

		DataDir:   dataDir,
		Checksums: true,

		// 8 runs, the head cache block and the output block
		PoolCapacity: 10,
		RunBlocks:    6,
		MaxFanIn:     8,

		IndexCacheEntries: 0,

		SnapshotCodec: "zstd",
		LogLevel:      "info",
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Version <= 0 {
		return fmt.Errorf("%w: invalid version %d", ErrInvalidConfig, c.Version)
	}

	if c.RunBlocks <= 0 {
		return fmt.Errorf("%w: run blocks must be positive", ErrInvalidConfig)
	}

	if c.MaxFanIn <= 0 || c.MaxFanIn > 8 {
		return fmt.Errorf("%w: max fan-in must be between 1 and 8", ErrInvalidConfig)
	}

	if c.PoolCapacity < c.RunBlocks {
		return fmt.Errorf("%w: pool capacity %d cannot hold a run of %d blocks",
			ErrInvalidConfig, c.PoolCapacity, c.RunBlocks)
	}

	if c.PoolCapacity < c.MaxFanIn+2 {
		return fmt.Errorf("%w: pool capacity %d cannot drive a %d-way merge",
			ErrInvalidConfig, c.PoolCapacity, c.MaxFanIn)
	}

	if c.IndexCacheEntries < 0 {
		return fmt.Errorf("%w: index cache entries must not be negative", ErrInvalidConfig)
	}

	if _, err := disk.ParseCodec(c.SnapshotCodec); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}

// LoadConfig loads a configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := NewDefaultConfig("")
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadConfigFromDir loads DefaultConfigFileName from a data directory
func LoadConfigFromDir(dataDir string) (*Config, error) {
	return LoadConfig(filepath.Join(dataDir, DefaultConfigFileName))
}

// Save writes the configuration to path through a temporary file
func (c *Config) Save(path string) error {
	if err := c.Validate(); err != nil {
		return err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempPath := path + ".tmp"

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("failed to rename config: %w", err)
	}

	return nil
}

// Update applies the given function to modify the configuration
func (c *Config) Update(fn func(*Config)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

package config

import (
	"encoding/json"
	"log"
	"os"
	"slices"

	"github.com/xelth-com/clipsync/internal/apperr"
)

// SyncConfig holds synchronization configuration
type SyncConfig struct {
	Enabled            bool     `json:"enabled"`
	AutoSync           bool     `json:"auto_sync"`
	SyncTypes          []string `json:"sync_types"`
	ExcludeDevices     []string `json:"exclude_devices"`
	ImageCompression   bool     `json:"image_compression"`
	MaxImageSize       int      `json:"max_image_size"` // MB
	SyncOnWifi         bool     `json:"sync_on_wifi"`
	CompressionQuality int      `json:"compression_quality"`
}

// DefaultSyncConfig returns the documented defaults. Storage falls back to
// this when nothing has been persisted yet.
func DefaultSyncConfig() *SyncConfig {
	return &SyncConfig{
		Enabled:            true,
		AutoSync:           true,
		SyncTypes:          []string{"text", "image", "files"},
		ExcludeDevices:     []string{},
		ImageCompression:   true,
		MaxImageSize:       5,
		SyncOnWifi:         false,
		CompressionQuality: 80,
	}
}

// LoadSyncConfig loads the initial sync configuration from SYNC_CONFIG_PATH
// or from defaults with environment overrides
func LoadSyncConfig() *SyncConfig {
	if configPath := os.Getenv("SYNC_CONFIG_PATH"); configPath != "" {
		cfg, err := loadSyncConfigFromFile(configPath)
		if err == nil {
			return cfg
		}
		log.Printf("⚠️ Ignoring sync config %s: %v", configPath, err)
	}

	cfg := DefaultSyncConfig()
	cfg.Enabled = getBoolEnv("SYNC_ENABLED", cfg.Enabled)
	cfg.AutoSync = getBoolEnv("SYNC_AUTO", cfg.AutoSync)
	cfg.SyncOnWifi = getBoolEnv("SYNC_ON_WIFI", cfg.SyncOnWifi)
	return cfg
}

func loadSyncConfigFromFile(path string) (*SyncConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultSyncConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *SyncConfig) Validate() error {
	if c.CompressionQuality < 0 || c.CompressionQuality > 100 {
		return apperr.New(apperr.KindInvalidConfiguration, "compression_quality must be between 0 and 100, got %d", c.CompressionQuality)
	}
	if c.MaxImageSize <= 0 {
		return apperr.New(apperr.KindInvalidConfiguration, "max_image_size must be positive, got %d", c.MaxImageSize)
	}
	for _, t := range c.SyncTypes {
		if t == "" {
			return apperr.New(apperr.KindInvalidConfiguration, "sync_types contains an empty entry")
		}
	}
	return nil
}

// AllowsType reports whether items of dataType may be synced.
func (c *SyncConfig) AllowsType(dataType string) bool {
	return slices.Contains(c.SyncTypes, dataType)
}

// ExcludesDevice reports whether deviceID is on the exclusion list.
func (c *SyncConfig) ExcludesDevice(deviceID string) bool {
	return deviceID != "" && slices.Contains(c.ExcludeDevices, deviceID)
}

// Clone returns a deep copy.
func (c *SyncConfig) Clone() *SyncConfig {
	out := *c
	out.SyncTypes = slices.Clone(c.SyncTypes)
	out.ExcludeDevices = slices.Clone(c.ExcludeDevices)
	if out.ExcludeDevices == nil {
		out.ExcludeDevices = []string{}
	}
	return &out
}
